package clinic

import (
	"strings"
	"time"
)

// upcomingLimit caps the upcoming list of the admin dashboard.
const upcomingLimit = 10

// MonthRevenue is one bar of the revenue chart.
type MonthRevenue struct {
	Month   string `json:"month"`
	Revenue Cost   `json:"revenue"`
}

type AdminDashboard struct {
	Upcoming       []IncidentView `json:"upcoming"`
	CompletedCount int            `json:"completedCount"`
	PendingCount   int            `json:"pendingCount"`
	PatientCount   int            `json:"patientCount"`
	TotalRevenue   Cost           `json:"totalRevenue"`
	RevenueByMonth []MonthRevenue `json:"revenueByMonth"`
}

// AdminDashboard summarises every incident. search narrows the upcoming and
// completed figures by title. Pending and revenue always cover the whole
// clinic.
func (s *Service) AdminDashboard(search string) AdminDashboard {
	snap := s.store.Snapshot()
	now := s.now()
	filtered := filterByTitle(snap.Incidents, search)

	var upcoming []Incident
	d := AdminDashboard{PatientCount: len(snap.Patients)}
	for _, inc := range filtered {
		if inc.AppointmentDate.After(now) && len(upcoming) < upcomingLimit {
			upcoming = append(upcoming, inc)
		}
		if inc.Status == StatusCompleted {
			d.CompletedCount++
		}
	}
	for _, inc := range snap.Incidents {
		if inc.Status != StatusCompleted {
			d.PendingCount++
		}
	}
	d.Upcoming = s.viewsOf(snap.Patients, upcoming)
	d.TotalRevenue = totalCost(snap.Incidents)
	d.RevenueByMonth = RevenueByMonth(snap.Incidents)
	return d
}

type PatientDashboard struct {
	Patient    *Patient       `json:"patient"`
	Upcoming   []IncidentView `json:"upcoming"`
	Completed  []IncidentView `json:"completed"`
	TotalSpent Cost           `json:"totalSpent"`
	TodayCount int            `json:"todayCount"`
}

// PatientDashboard covers the incidents of one patient. Patient is nil when
// the record no longer exists.
func (s *Service) PatientDashboard(patientID, search string) PatientDashboard {
	snap := s.store.Snapshot()
	now := s.now()
	own := filterByTitle(ofPatient(snap.Incidents, patientID), search)

	var d PatientDashboard
	for _, p := range snap.Patients {
		if p.ID == patientID {
			d.Patient = &p
			break
		}
	}
	var upcoming, completed []Incident
	for _, inc := range own {
		if inc.AppointmentDate.After(now) {
			upcoming = append(upcoming, inc)
		}
		if inc.Status == StatusCompleted {
			completed = append(completed, inc)
		}
		if !inc.AppointmentDate.IsZero() && sameDayAs(inc.AppointmentDate.Time, now) {
			d.TodayCount++
		}
	}
	d.Upcoming = s.viewsOf(snap.Patients, upcoming)
	d.Completed = s.viewsOf(snap.Patients, completed)
	d.TotalSpent = totalCost(own)
	return d
}

func sameDayAs(t, now time.Time) bool {
	y1, m1, d1 := t.In(now.Location()).Date()
	y2, m2, d2 := now.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

type History struct {
	Treatments []IncidentView `json:"treatments"`
	TotalSpent Cost           `json:"totalSpent"`
}

// History lists the treatments of patientID, or of every patient when
// patientID is empty.
func (s *Service) History(patientID string) History {
	snap := s.store.Snapshot()
	incs := snap.Incidents
	if patientID != "" {
		incs = ofPatient(incs, patientID)
	}
	return History{
		Treatments: s.viewsOf(snap.Patients, incs),
		TotalSpent: totalCost(incs),
	}
}

// RevenueByMonth sums cost per abbreviated month name in the order months
// are first seen. Incidents without a date are skipped.
func RevenueByMonth(incs []Incident) []MonthRevenue {
	out := []MonthRevenue{}
	index := map[string]int{}
	for _, inc := range incs {
		if inc.AppointmentDate.IsZero() {
			continue
		}
		month := inc.AppointmentDate.Format("Jan")
		if i, ok := index[month]; ok {
			out[i].Revenue += inc.Cost
			continue
		}
		index[month] = len(out)
		out = append(out, MonthRevenue{Month: month, Revenue: inc.Cost})
	}
	return out
}

// -- Calendar --

// CalendarEvent is an incident placed on the calendar. Incidents without a
// usable date are placed at the time of the query.
type CalendarEvent struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Start       time.Time `json:"start"`
	Status      Status    `json:"status"`
	Cost        Cost      `json:"cost"`
	PatientName string    `json:"patientName"`
}

type CalendarSummary struct {
	ThisMonth int             `json:"thisMonth"`
	Today     int             `json:"today"`
	Upcoming  int             `json:"upcoming"`
	Events    []CalendarEvent `json:"events"`
}

// CalendarEvents returns the events whose title or status contains search.
func (s *Service) CalendarEvents(search string) []CalendarEvent {
	snap := s.store.Snapshot()
	now := s.now()
	v := newViewer(snap.Patients)
	q := strings.ToLower(strings.TrimSpace(search))

	events := []CalendarEvent{}
	for _, inc := range snap.Incidents {
		if q != "" &&
			!strings.Contains(strings.ToLower(inc.Title), q) &&
			!strings.Contains(strings.ToLower(string(inc.Status)), q) {
			continue
		}
		start := inc.AppointmentDate.Time
		if start.IsZero() {
			start = now
		}
		events = append(events, CalendarEvent{
			ID:          inc.ID,
			Title:       inc.Title,
			Start:       start,
			Status:      inc.Status,
			Cost:        inc.Cost,
			PatientName: v.view(inc).PatientName,
		})
	}
	return events
}

// Calendar counts events of today, of the rest of this month and of the
// whole future.
func (s *Service) Calendar(search string) CalendarSummary {
	now := s.now()
	events := s.CalendarEvents(search)
	sum := CalendarSummary{Events: events}
	for _, e := range events {
		upcoming := !e.Start.Before(now)
		if upcoming {
			sum.Upcoming++
		}
		if upcoming && sameMonth(e.Start, now) {
			sum.ThisMonth++
		}
		if sameDay(e.Start, now) {
			sum.Today++
		}
	}
	return sum
}

// CalendarDay returns the events falling on the calendar day of day.
func (s *Service) CalendarDay(day time.Time, search string) []CalendarEvent {
	out := []CalendarEvent{}
	for _, e := range s.CalendarEvents(search) {
		if sameDay(e.Start, day) {
			out = append(out, e)
		}
	}
	return out
}

func sameDay(a, b time.Time) bool {
	a, b = a.In(time.Local), b.In(time.Local)
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}

func sameMonth(a, b time.Time) bool {
	a, b = a.In(time.Local), b.In(time.Local)
	return a.Year() == b.Year() && a.Month() == b.Month()
}

func ofPatient(incs []Incident, patientID string) []Incident {
	out := make([]Incident, 0, len(incs))
	for _, inc := range incs {
		if inc.PatientID == patientID {
			out = append(out, inc)
		}
	}
	return out
}

func totalCost(incs []Incident) Cost {
	var sum Cost
	for _, inc := range incs {
		sum += inc.Cost
	}
	return sum
}

func (s *Service) viewsOf(patients []Patient, incs []Incident) []IncidentView {
	v := newViewer(patients)
	out := make([]IncidentView, len(incs))
	for i, inc := range incs {
		out[i] = v.view(inc)
	}
	return out
}
