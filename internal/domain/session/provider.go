package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/entnt/dental-connect/internal/platform/kv"
)

// ErrStorage wraps failures to write or remove the persisted identity.
var ErrStorage = errors.New("session storage failure")

// Provider holds at most one active identity and mirrors it to the blob
// under the user key.
type Provider struct {
	mu       sync.RWMutex
	blob     kv.Blob
	verifier CredentialVerifier
	logger   zerolog.Logger
	current  Identity
}

// NewProvider restores the identity persisted in blob, if any. A missing or
// unreadable value leaves the provider unauthenticated.
func NewProvider(ctx context.Context, blob kv.Blob, verifier CredentialVerifier, logger zerolog.Logger) *Provider {
	p := &Provider{
		blob:     blob,
		verifier: verifier,
		logger:   logger,
	}
	raw, err := blob.Get(ctx, kv.KeyUser)
	switch {
	case errors.Is(err, kv.ErrNotFound):
		return p
	case err != nil:
		p.logger.Warn().Err(err).Msg("could not read stored identity")
		return p
	}
	id, err := DecodeIdentity(raw)
	if err != nil {
		p.logger.Warn().Err(err).Msg("stored identity is corrupt, ignoring")
		return p
	}
	p.current = id
	return p
}

// Login replaces the active identity when the credentials match. A mismatch
// returns false and keeps whatever identity was active.
func (p *Provider) Login(ctx context.Context, email, password string) (bool, error) {
	id, ok := p.verifier.Verify(ctx, email, password)
	if !ok {
		p.logger.Info().Str("email", email).Msg("login rejected")
		return false, nil
	}
	if err := p.adopt(ctx, id); err != nil {
		return false, err
	}
	return true, nil
}

// adopt persists id and makes it the active identity.
func (p *Provider) adopt(ctx context.Context, id Identity) error {
	raw, err := EncodeIdentity(id)
	if err != nil {
		return fmt.Errorf("encode identity: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.blob.Put(ctx, kv.KeyUser, raw); err != nil {
		return fmt.Errorf("%w: persist identity: %v", ErrStorage, err)
	}
	p.current = id
	p.logger.Info().Str("email", id.Email()).Str("role", string(id.Role())).Msg("logged in")
	return nil
}

// Logout clears the active identity and removes it from the blob.
func (p *Provider) Logout(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.blob.Delete(ctx, kv.KeyUser); err != nil {
		return fmt.Errorf("%w: remove identity: %v", ErrStorage, err)
	}
	if p.current != nil {
		p.logger.Info().Str("email", p.current.Email()).Msg("logged out")
	}
	p.current = nil
	return nil
}

// Current returns the active identity or nil.
func (p *Provider) Current() Identity {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}
