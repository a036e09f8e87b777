// Package access decides whether an identity may see a protected view and
// where to send it when it may not.
package access

import (
	"fmt"

	"github.com/entnt/dental-connect/internal/domain/session"
)

// Requirement is the role a view demands.
type Requirement int

const (
	AnyRole Requirement = iota
	AdminOnly
	PatientOnly
)

func (r Requirement) String() string {
	switch r {
	case AnyRole:
		return "any"
	case AdminOnly:
		return "admin"
	case PatientOnly:
		return "patient"
	default:
		return fmt.Sprintf("Requirement(%d)", int(r))
	}
}

const (
	LoginPath   = "/login"
	HomePath    = "/"
	DefaultPath = "/dashboard"
)

// Decision is the outcome of Authorize. Redirect is empty when Allowed.
type Decision struct {
	Allowed  bool   `json:"allowed"`
	Redirect string `json:"redirect,omitempty"`
}

func allow() Decision { return Decision{Allowed: true} }
func redirect(to string) Decision { return Decision{Redirect: to} }
// Unauthenticated reports whether the caller was sent to the login page.
func (d Decision) Unauthenticated() bool { return !d.Allowed && d.Redirect == LoginPath }

// Authorize applies req to id. A nil id is sent to the login page; a role
// mismatch is sent home.
func Authorize(id session.Identity, req Requirement) Decision {
	if id == nil {
		return redirect(LoginPath)
	}
	switch id.(type) {
	case session.Admin:
		if req == PatientOnly {
			return redirect(HomePath)
		}
	case session.Patient:
		if req == AdminOnly {
			return redirect(HomePath)
		}
	default:
		return redirect(LoginPath)
	}
	return allow()
}
