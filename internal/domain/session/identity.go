package session

import (
	"encoding/json"
	"fmt"
)

// Role is the wire name of an identity variant.
type Role string

const (
	RoleAdmin   Role = "admin"
	RolePatient Role = "patient"
)

// Identity is the authenticated user context. It is either Admin or Patient;
// callers switch on the concrete type.
type Identity interface {
	Email() string
	Role() Role
	identity()
}

// Admin is a clinic staff identity.
type Admin struct {
	Address string
}

func (a Admin) Email() string { return a.Address }
func (Admin) Role() Role { return RoleAdmin }
func (Admin) identity() {}

// Patient is a patient identity linked to a patient record.
type Patient struct {
	Address   string
	PatientID string
}

func (p Patient) Email() string { return p.Address }
func (Patient) Role() Role { return RolePatient }
func (Patient) identity() {}

// Record is the persisted form of an Identity.
type Record struct {
	Email     string `json:"email"`
	Role      Role   `json:"role"`
	PatientID string `json:"patientId,omitempty"`
}

// ToRecord flattens id for storage.
func ToRecord(id Identity) Record {
	switch v := id.(type) {
	case Admin:
		return Record{Email: v.Address, Role: RoleAdmin}
	case Patient:
		return Record{Email: v.Address, Role: RolePatient, PatientID: v.PatientID}
	default:
		panic(fmt.Sprintf("session: unknown identity %T", id))
	}
}

// Identity converts the record back into its variant.
func (r Record) Identity() (Identity, error) {
	if r.Email == "" {
		return nil, fmt.Errorf("identity record has no email")
	}
	switch r.Role {
	case RoleAdmin:
		return Admin{Address: r.Email}, nil
	case RolePatient:
		if r.PatientID == "" {
			return nil, fmt.Errorf("patient identity %s has no patientId", r.Email)
		}
		return Patient{Address: r.Email, PatientID: r.PatientID}, nil
	default:
		return nil, fmt.Errorf("unknown role %q", r.Role)
	}
}

// DecodeIdentity parses a persisted identity document.
func DecodeIdentity(raw []byte) (Identity, error) {
	var r Record
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode identity: %w", err)
	}
	return r.Identity()
}

// EncodeIdentity serializes id for storage.
func EncodeIdentity(id Identity) ([]byte, error) {
	return json.Marshal(ToRecord(id))
}
