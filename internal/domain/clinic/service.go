package clinic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/entnt/dental-connect/internal/domain/session"
)

var (
	// ErrValidation marks input rejected before anything is persisted.
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
)

// fallbackPatientID is used for new incidents when no patient exists.
const fallbackPatientID = "p1"

type Service struct {
	store *Store
	now   func() time.Time
}

// NewService validates and queries on top of store.
func NewService(store *Store) *Service {
	return &Service{store: store, now: time.Now}
}

func validationError(fields ...string) error {
	return fmt.Errorf("%w: %s required", ErrValidation, strings.Join(fields, ", "))
}

func missing(pairs ...string) []string {
	var out []string
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			out = append(out, pairs[i])
		}
	}
	return out
}

// -- Patients --

func validatePatient(p Patient) error {
	if m := missing("name", p.Name, "dob", p.DOB, "contact", p.Contact); len(m) > 0 {
		return validationError(m...)
	}
	return nil
}

// CreatePatient validates p and stores it under a fresh id.
func (s *Service) CreatePatient(ctx context.Context, p Patient) (Patient, error) {
	if err := validatePatient(p); err != nil {
		return Patient{}, err
	}
	p.ID = ""
	return s.store.UpsertPatient(ctx, p)
}

// UpdatePatient replaces patient id. Unknown ids report ErrNotFound.
func (s *Service) UpdatePatient(ctx context.Context, id string, p Patient) (Patient, error) {
	if _, ok := s.store.Patient(id); !ok {
		return Patient{}, fmt.Errorf("patient %s: %w", id, ErrNotFound)
	}
	if err := validatePatient(p); err != nil {
		return Patient{}, err
	}
	p.ID = id
	return s.store.UpsertPatient(ctx, p)
}

// GetPatient returns patient id or ErrNotFound.
func (s *Service) GetPatient(id string) (Patient, error) {
	p, ok := s.store.Patient(id)
	if !ok {
		return Patient{}, fmt.Errorf("patient %s: %w", id, ErrNotFound)
	}
	return p, nil
}

// DeletePatient removes patient id and leaves its incidents in place.
func (s *Service) DeletePatient(ctx context.Context, id string) error {
	return s.store.DeletePatient(ctx, id)
}

// SearchPatients matches query against the name, ignoring case, or as a
// substring of the contact number.
func (s *Service) SearchPatients(query string) []Patient {
	all := s.store.Patients()
	q := strings.TrimSpace(query)
	if q == "" {
		return all
	}
	lower := strings.ToLower(q)
	out := make([]Patient, 0, len(all))
	for _, p := range all {
		if strings.Contains(strings.ToLower(p.Name), lower) || strings.Contains(p.Contact, q) {
			out = append(out, p)
		}
	}
	return out
}

// -- Incidents --

func validateIncident(inc Incident) error {
	m := missing("title", inc.Title, "description", inc.Description)
	if inc.AppointmentDate.IsZero() {
		m = append(m, "appointmentDate")
	}
	if len(m) > 0 {
		return validationError(m...)
	}
	return nil
}

// CreateIncident stores a new incident. An empty patientId is assigned to
// the first patient on record.
func (s *Service) CreateIncident(ctx context.Context, inc Incident) (IncidentView, error) {
	if err := validateIncident(inc); err != nil {
		return IncidentView{}, err
	}
	inc.ID = ""
	if inc.PatientID == "" {
		inc.PatientID = s.defaultPatientID()
	}
	stored, err := s.store.UpsertIncident(ctx, inc)
	if err != nil {
		return IncidentView{}, err
	}
	return s.view(stored), nil
}

// UpdateIncident replaces the editable fields of incident id. Attachments
// and the patient are kept when inc leaves them empty.
func (s *Service) UpdateIncident(ctx context.Context, id string, inc Incident) (IncidentView, error) {
	if err := validateIncident(inc); err != nil {
		return IncidentView{}, err
	}
	updated, found, err := s.store.UpdateIncident(ctx, id, func(cur *Incident) {
		next := inc
		next.ID = id
		if next.Files == nil {
			next.Files = cur.Files
		}
		if next.PatientID == "" {
			next.PatientID = cur.PatientID
		}
		*cur = next
	})
	if err != nil {
		return IncidentView{}, err
	}
	if !found {
		return IncidentView{}, fmt.Errorf("incident %s: %w", id, ErrNotFound)
	}
	return s.view(updated), nil
}

// GetIncident returns incident id with its patient name.
func (s *Service) GetIncident(id string) (IncidentView, error) {
	inc, ok := s.store.Incident(id)
	if !ok {
		return IncidentView{}, fmt.Errorf("incident %s: %w", id, ErrNotFound)
	}
	return s.view(inc), nil
}

// DeleteIncident removes incident id.
func (s *Service) DeleteIncident(ctx context.Context, id string) error {
	return s.store.DeleteIncident(ctx, id)
}

// SearchIncidents matches query against the title, ignoring case.
func (s *Service) SearchIncidents(query string) []IncidentView {
	return s.views(filterByTitle(s.store.Incidents(), query))
}

// ToggleStatus flips an incident between Pending and Completed.
func (s *Service) ToggleStatus(ctx context.Context, id string) (IncidentView, error) {
	updated, found, err := s.store.UpdateIncident(ctx, id, func(cur *Incident) {
		cur.Status = cur.Status.Toggled()
	})
	if err != nil {
		return IncidentView{}, err
	}
	if !found {
		return IncidentView{}, fmt.Errorf("incident %s: %w", id, ErrNotFound)
	}
	return s.view(updated), nil
}

// AttachFile appends ref to the files of incident id.
func (s *Service) AttachFile(ctx context.Context, id string, ref FileRef) (IncidentView, error) {
	updated, found, err := s.store.UpdateIncident(ctx, id, func(cur *Incident) {
		cur.Files = append(cur.Files, ref)
	})
	if err != nil {
		return IncidentView{}, err
	}
	if !found {
		return IncidentView{}, fmt.Errorf("incident %s: %w", id, ErrNotFound)
	}
	return s.view(updated), nil
}

// Booking is an appointment request from the public booking form.
type Booking struct {
	Service   string `json:"service"`
	Datetime  string `json:"datetime"`
	PatientID string `json:"patientId"`
}

// Book turns a booking into a pending, free incident titled after the
// requested service. A signed-in patient always books for themselves.
func (s *Service) Book(ctx context.Context, id session.Identity, b Booking) (IncidentView, error) {
	m := missing("service", b.Service, "datetime", b.Datetime)
	if len(m) > 0 {
		return IncidentView{}, validationError(m...)
	}
	when, ok := ParseTimestamp(b.Datetime)
	if !ok {
		return IncidentView{}, fmt.Errorf("%w: datetime %q is not a valid date", ErrValidation, b.Datetime)
	}
	patientID := b.PatientID
	if p, isPatient := id.(session.Patient); isPatient {
		patientID = p.PatientID
	}
	stored, err := s.store.UpsertIncident(ctx, Incident{
		PatientID:       patientID,
		Title:           strings.TrimSpace(b.Service),
		AppointmentDate: when,
		Status:          StatusPending,
		Cost:            0,
	})
	if err != nil {
		return IncidentView{}, err
	}
	return s.view(stored), nil
}

func (s *Service) defaultPatientID() string {
	patients := s.store.Patients()
	if len(patients) > 0 && patients[0].ID != "" {
		return patients[0].ID
	}
	return fallbackPatientID
}

// -- Views --

// IncidentView is an incident with its patient's name resolved.
type IncidentView struct {
	Incident
	PatientName string `json:"patientName"`
}

func (s *Service) view(inc Incident) IncidentView {
	return newViewer(s.store.Patients()).view(inc)
}

func (s *Service) views(incs []Incident) []IncidentView {
	return s.viewsOf(s.store.Patients(), incs)
}

type viewer map[string]string

func newViewer(patients []Patient) viewer {
	names := make(viewer, len(patients))
	for _, p := range patients {
		names[p.ID] = p.Name
	}
	return names
}

func (v viewer) view(inc Incident) IncidentView {
	name, ok := v[inc.PatientID]
	if !ok {
		name = UnknownPatientName
	}
	return IncidentView{Incident: inc, PatientName: name}
}

func filterByTitle(incs []Incident, query string) []Incident {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return incs
	}
	out := make([]Incident, 0, len(incs))
	for _, inc := range incs {
		if strings.Contains(strings.ToLower(inc.Title), q) {
			out = append(out, inc)
		}
	}
	return out
}
