package session

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/entnt/dental-connect/internal/platform/kv"
)

// Manager hands out one Provider per session id. Each session keeps its
// keys under its own namespace of the shared blob.
type Manager struct {
	mu        sync.Mutex
	blob      kv.Blob
	verifier  CredentialVerifier
	logger    zerolog.Logger
	providers map[string]*Provider
}

// NewManager returns a manager whose sessions live in blob and log in
// against verifier.
func NewManager(blob kv.Blob, verifier CredentialVerifier, logger zerolog.Logger) *Manager {
	return &Manager{
		blob:      blob,
		verifier:  verifier,
		logger:    logger.With().Str("component", "session").Logger(),
		providers: make(map[string]*Provider),
	}
}

// NewID returns a fresh random session id.
func (m *Manager) NewID() string {
	return uuid.NewString()
}

// Blob returns the namespaced blob of session sid.
func (m *Manager) Blob(sid string) kv.Blob {
	return kv.Namespace(m.blob, "session:"+sid+":")
}

// Open returns the provider of session sid, restoring it from the blob on
// first use.
func (m *Manager) Open(ctx context.Context, sid string) *Provider {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.providers[sid]; ok {
		return p
	}
	p := NewProvider(ctx, m.Blob(sid), m.verifier, m.logger.With().Str("session", sid).Logger())
	m.providers[sid] = p
	return p
}

// Forget drops the cached provider of sid. Its persisted keys are untouched.
func (m *Manager) Forget(sid string) {
	m.mu.Lock()
	delete(m.providers, sid)
	m.mu.Unlock()
}

// Start opens a new session logged in as the identity matching the
// credentials. Nothing is registered or persisted when they do not match.
func (m *Manager) Start(ctx context.Context, email, password string) (Handle, bool, error) {
	id, ok := m.verifier.Verify(ctx, email, password)
	if !ok {
		m.logger.Info().Str("email", email).Msg("login rejected")
		return Handle{}, false, nil
	}
	sid := m.NewID()
	p := &Provider{
		blob:     m.Blob(sid),
		verifier: m.verifier,
		logger:   m.logger.With().Str("session", sid).Logger(),
	}
	if err := p.adopt(ctx, id); err != nil {
		return Handle{}, false, err
	}

	m.mu.Lock()
	m.providers[sid] = p
	m.mu.Unlock()
	return Handle{ID: sid, Provider: p}, true, nil
}

// Len returns the number of cached providers.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.providers)
}
