// Package notify derives per-identity notifications from incidents, tracks
// which of them have been acknowledged and raises alerts when new unread
// notifications appear.
package notify

import (
	"github.com/entnt/dental-connect/internal/domain/clinic"
	"github.com/entnt/dental-connect/internal/domain/session"
)

// maxNotifications is how many of the most recently added incidents are
// considered.
const maxNotifications = 5

// Notification is derived from an incident and never stored.
type Notification struct {
	ID      string           `json:"id"`
	Message string           `json:"message"`
	Time    clinic.Timestamp `json:"time"`
}

// Compute selects the incidents relevant to id, keeps the last five in store
// order and returns them newest first. Admins see every incident that is not
// completed; patients see all of their own.
func Compute(id session.Identity, incidents []clinic.Incident) []Notification {
	var selected []clinic.Incident
	var message func(clinic.Incident) string

	switch who := id.(type) {
	case session.Admin:
		for _, inc := range incidents {
			if inc.Status != clinic.StatusCompleted {
				selected = append(selected, inc)
			}
		}
		message = func(inc clinic.Incident) string {
			return "Pending treatment for " + inc.PatientID
		}
	case session.Patient:
		for _, inc := range incidents {
			if inc.PatientID == who.PatientID {
				selected = append(selected, inc)
			}
		}
		message = func(inc clinic.Incident) string {
			if inc.Status == clinic.StatusCompleted {
				return "Treatment completed: " + inc.Title
			}
			return "Upcoming appointment: " + inc.Title
		}
	default:
		return []Notification{}
	}

	if len(selected) > maxNotifications {
		selected = selected[len(selected)-maxNotifications:]
	}
	out := make([]Notification, 0, len(selected))
	for i := len(selected) - 1; i >= 0; i-- {
		inc := selected[i]
		out = append(out, Notification{ID: inc.ID, Message: message(inc), Time: inc.AppointmentDate})
	}
	return out
}
