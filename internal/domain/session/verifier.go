package session

import (
	"context"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// CredentialVerifier checks an email/password pair and returns the identity
// it belongs to.
type CredentialVerifier interface {
	Verify(ctx context.Context, email, password string) (Identity, bool)
}

// Account is one entry of a StaticVerifier table.
type Account struct {
	Identity Identity
	Password string
}

// DemoAccounts are the two built-in accounts.
func DemoAccounts() []Account {
	return []Account{
		{Identity: Admin{Address: "admin@entnt.in"}, Password: "admin123"},
		{Identity: Patient{Address: "john@entnt.in", PatientID: "p1"}, Password: "john123"},
	}
}

type staticEntry struct {
	identity Identity
	hash     []byte
}

// StaticVerifier matches credentials against a fixed table. Emails compare
// exactly and case-sensitively; passwords are kept only as bcrypt hashes.
type StaticVerifier struct {
	entries map[string]staticEntry
}

// NewStaticVerifier hashes the account passwords with the given bcrypt cost.
func NewStaticVerifier(accounts []Account, cost int) (*StaticVerifier, error) {
	v := &StaticVerifier{entries: make(map[string]staticEntry, len(accounts))}
	for _, a := range accounts {
		email := a.Identity.Email()
		if _, dup := v.entries[email]; dup {
			return nil, fmt.Errorf("duplicate account %s", email)
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(a.Password), cost)
		if err != nil {
			return nil, fmt.Errorf("hash password for %s: %w", email, err)
		}
		v.entries[email] = staticEntry{identity: a.Identity, hash: hash}
	}
	return v, nil
}

// Verify compares password against the bcrypt hash stored for email.
func (v *StaticVerifier) Verify(_ context.Context, email, password string) (Identity, bool) {
	e, ok := v.entries[email]
	if !ok {
		return nil, false
	}
	if bcrypt.CompareHashAndPassword(e.hash, []byte(password)) != nil {
		return nil, false
	}
	return e.identity, true
}
