package clinic

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Kind names an entity collection.
type Kind string

const (
	KindPatient  Kind = "patient"
	KindIncident Kind = "incident"
)

// Status of an incident.
type Status string

const (
	StatusPending   Status = "Pending"
	StatusCompleted Status = "Completed"
)

// Toggled returns the opposite status. Anything that is not Completed counts
// as Pending.
func (s Status) Toggled() Status {
	if s == StatusCompleted {
		return StatusPending
	}
	return StatusCompleted
}

// UnknownPatientName is shown for incidents whose patient no longer exists.
const UnknownPatientName = "Unknown"

// Patient is a clinic patient record.
type Patient struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	DOB        string `json:"dob"`
	Contact    string `json:"contact"`
	HealthInfo string `json:"healthInfo"`
}

// FileRef points at an attachment. The store never looks inside it.
type FileRef struct {
	Name string `json:"name"`
	Type string `json:"type"`
	URL  string `json:"url"`
}

// Incident is an appointment / treatment record.
type Incident struct {
	ID              string    `json:"id"`
	PatientID       string    `json:"patientId"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	Comments        string    `json:"comments"`
	AppointmentDate Timestamp `json:"appointmentDate"`
	Treatment       string    `json:"treatment"`
	Cost            Cost      `json:"cost"`
	Status          Status    `json:"status"`
	Files           []FileRef `json:"files"`
}

// Snapshot is the persisted appData document.
type Snapshot struct {
	Patients  []Patient  `json:"patients"`
	Incidents []Incident `json:"incidents"`
}

func (s Snapshot) clone() Snapshot {
	out := Snapshot{
		Patients:  make([]Patient, len(s.Patients)),
		Incidents: make([]Incident, len(s.Incidents)),
	}
	copy(out.Patients, s.Patients)
	for i, inc := range s.Incidents {
		out.Incidents[i] = inc.clone()
	}
	return out
}

func (i Incident) clone() Incident {
	if i.Files != nil {
		files := make([]FileRef, len(i.Files))
		copy(files, i.Files)
		i.Files = files
	}
	return i
}

// Cost is a non-negative amount. Missing, negative or unparsable values decode
// to zero; numeric strings are accepted because form inputs submit them.
type Cost float64

func normalizeCost(f float64) Cost {
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0
	}
	return Cost(f)
}

// UnmarshalJSON accepts numbers and numeric strings. Anything else decodes
// to zero.
func (c *Cost) UnmarshalJSON(data []byte) error {
	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		*c = normalizeCost(f)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, perr := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if perr != nil {
			*c = 0
			return nil
		}
		*c = normalizeCost(parsed)
		return nil
	}
	*c = 0
	return nil
}

// Timestamp is an appointment time. It decodes RFC 3339 as well as the
// datetime-local and date-only forms browsers submit; anything else decodes to
// the zero time.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTimestamp parses s with the accepted layouts. ok is false when no
// layout matched.
func ParseTimestamp(s string) (Timestamp, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Timestamp{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return Timestamp{t}, true
		}
	}
	return Timestamp{}, false
}

// NewTimestamp wraps t.
func NewTimestamp(t time.Time) Timestamp { return Timestamp{t} }

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte(`""`), nil
	}
	return json.Marshal(t.Format(time.RFC3339))
}

// UnmarshalJSON never fails. Values ParseTimestamp rejects decode to zero.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		*t = Timestamp{}
		return nil
	}
	*t, _ = ParseTimestamp(s)
	return nil
}
