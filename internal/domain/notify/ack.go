package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/entnt/dental-connect/internal/domain/session"
	"github.com/entnt/dental-connect/internal/platform/kv"
)

// ErrStorage wraps failures to read or write the acknowledged set.
var ErrStorage = errors.New("notification storage failure")

// AckScope decides who shares an acknowledged set.
type AckScope string

const (
	// ScopeGlobal keeps one set for every identity.
	ScopeGlobal AckScope = "global"
	// ScopeIdentity keeps one set per email address.
	ScopeIdentity AckScope = "identity"
)

// Valid reports whether s is a known scope.
func (s AckScope) Valid() bool { return s == ScopeGlobal || s == ScopeIdentity }

// AckStore persists acknowledged notification ids as a JSON array.
type AckStore struct {
	mu     sync.Mutex
	blob   kv.Blob
	scope  AckScope
	logger zerolog.Logger
}

// NewAckStore keeps acknowledged ids in blob, keyed according to scope.
func NewAckStore(blob kv.Blob, scope AckScope, logger zerolog.Logger) *AckStore {
	if !scope.Valid() {
		scope = ScopeGlobal
	}
	return &AckStore{blob: blob, scope: scope, logger: logger}
}

func (s *AckStore) key(id session.Identity) string {
	if s.scope == ScopeIdentity && id != nil {
		return kv.KeyReadNotificationIDs + ":" + id.Email()
	}
	return kv.KeyReadNotificationIDs
}

// Seen returns the acknowledged ids visible to id in acknowledgement order.
func (s *AckStore) Seen(ctx context.Context, id session.Identity) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx, s.key(id))
}

func (s *AckStore) load(ctx context.Context, key string) ([]string, error) {
	raw, err := s.blob.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrStorage, key, err)
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("acknowledged set is corrupt, starting empty")
		return []string{}, nil
	}
	return ids, nil
}

// Add unions ids into the set of id, keeping first-seen order.
func (s *AckStore) Add(ctx context.Context, id session.Identity, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := s.key(id)
	current, err := s.load(ctx, key)
	if err != nil {
		return err
	}
	merged := union(current, ids)
	if len(merged) == len(current) {
		return nil
	}
	raw, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("encode acknowledged set: %w", err)
	}
	if err := s.blob.Put(ctx, key, raw); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrStorage, key, err)
	}
	return nil
}

func union(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, id := range list {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}
