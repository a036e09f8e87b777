package clinic

func mustTimestamp(s string) Timestamp {
	ts, ok := ParseTimestamp(s)
	if !ok {
		panic("clinic: bad seed timestamp " + s)
	}
	return ts
}

// DemoSeed is the data a fresh store starts with. p1 is the patient linked to
// the demo patient account.
func DemoSeed() Snapshot {
	return Snapshot{
		Patients: []Patient{
			{
				ID:         "p1",
				Name:       "John Doe",
				DOB:        "1990-05-10",
				Contact:    "1234567890",
				HealthInfo: "No allergies",
			},
			{
				ID:         "p2",
				Name:       "Jane Smith",
				DOB:        "1985-11-22",
				Contact:    "9876543210",
				HealthInfo: "Allergic to penicillin",
			},
		},
		Incidents: []Incident{
			{
				ID:              "i1",
				PatientID:       "p1",
				Title:           "Toothache",
				Description:     "Upper molar pain",
				Comments:        "Sensitive to cold",
				AppointmentDate: mustTimestamp("2025-07-01T10:00:00"),
				Treatment:       "Filling",
				Cost:            80,
				Status:          StatusCompleted,
				Files:           []FileRef{},
			},
			{
				ID:              "i2",
				PatientID:       "p1",
				Title:           "Routine Cleaning",
				Description:     "Six-month check-up and scaling",
				AppointmentDate: mustTimestamp("2025-09-15T09:30:00"),
				Status:          StatusPending,
				Files:           []FileRef{},
			},
			{
				ID:              "i3",
				PatientID:       "p2",
				Title:           "Root Canal",
				Description:     "Lower left premolar",
				Comments:        "Follow-up after X-ray",
				AppointmentDate: mustTimestamp("2025-08-20T14:00:00"),
				Treatment:       "Root canal therapy, first sitting",
				Cost:            250,
				Status:          StatusPending,
				Files:           []FileRef{},
			},
		},
	}
}
