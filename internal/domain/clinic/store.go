package clinic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/entnt/dental-connect/internal/platform/kv"
)

// ErrStorage wraps every failure to write the snapshot to the blob.
var ErrStorage = errors.New("storage failure")

// ChangeListener is called after a successful mutation with the incidents as
// they now stand.
type ChangeListener func(ctx context.Context, incidents []Incident)

// Store holds patients and incidents in memory and writes the whole snapshot
// to the blob on every mutation. A mutation becomes visible only once the
// write succeeded.
type Store struct {
	mu        sync.RWMutex
	blob      kv.Blob
	logger    zerolog.Logger
	state     Snapshot
	newID     func(prefix string) string
	listeners []ChangeListener
	onWrite   func(kind Kind)
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithIDGenerator replaces the default identifier source.
func WithIDGenerator(fn func(prefix string) string) StoreOption {
	return func(s *Store) { s.newID = fn }
}

// WithWriteObserver calls fn with the entity kind after every persisted
// mutation.
func WithWriteObserver(fn func(kind Kind)) StoreOption {
	return func(s *Store) { s.onWrite = fn }
}

// WithSeed sets the data used when the blob has no usable snapshot.
func WithSeed(seed Snapshot) StoreOption {
	return func(s *Store) { s.state = seed.clone() }
}

// OpenStore loads appData from blob. When the key is absent or cannot be
// decoded the seed is used and persisted.
func OpenStore(ctx context.Context, blob kv.Blob, logger zerolog.Logger, opts ...StoreOption) (*Store, error) {
	s := &Store{
		blob:   blob,
		logger: logger.With().Str("component", "entity-store").Logger(),
		state:  DemoSeed(),
		newID:  timeOrderedID,
	}
	for _, opt := range opts {
		opt(s)
	}

	raw, err := blob.Get(ctx, kv.KeyAppData)
	switch {
	case err == nil:
		var snap Snapshot
		jerr := json.Unmarshal(raw, &snap)
		if jerr == nil {
			s.state = normalizeSnapshot(snap)
			s.logger.Info().
				Int("patients", len(s.state.Patients)).
				Int("incidents", len(s.state.Incidents)).
				Msg("restored app data")
			return s, nil
		}
		s.logger.Warn().Err(jerr).Msg("stored app data is corrupt, falling back to seed")
	case errors.Is(err, kv.ErrNotFound):
		s.logger.Info().Msg("no stored app data, seeding")
	default:
		return nil, fmt.Errorf("%w: load app data: %v", ErrStorage, err)
	}

	if err := s.persist(ctx, s.state); err != nil {
		return nil, err
	}
	return s, nil
}

// OnChange registers fn to run after every successful mutation.
func (s *Store) OnChange(fn ChangeListener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.clone()
}

// Patients returns every patient in insertion order.
func (s *Store) Patients() []Patient {
	return s.Snapshot().Patients
}

// Incidents returns every incident in insertion order.
func (s *Store) Incidents() []Incident {
	return s.Snapshot().Incidents
}

// Patient returns the patient with id.
func (s *Store) Patient(id string) (Patient, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.state.Patients {
		if p.ID == id {
			return p, true
		}
	}
	return Patient{}, false
}

// Incident returns the incident with id.
func (s *Store) Incident(id string) (Incident, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, inc := range s.state.Incidents {
		if inc.ID == id {
			return inc.clone(), true
		}
	}
	return Incident{}, false
}

// UpsertPatient replaces the patient carrying a known id in place, or appends
// p under a freshly generated id.
func (s *Store) UpsertPatient(ctx context.Context, p Patient) (Patient, error) {
	var stored Patient
	err := s.mutate(ctx, KindPatient, func(next *Snapshot) {
		next.Patients, stored = upsert(next.Patients, p,
			func(x Patient) string { return x.ID },
			func(x Patient, id string) Patient { x.ID = id; return x },
			s.freshID("p", next))
	})
	return stored, err
}

// UpsertIncident replaces the incident carrying a known id in place, or
// appends inc under a freshly generated id.
func (s *Store) UpsertIncident(ctx context.Context, inc Incident) (Incident, error) {
	inc = normalizeIncident(inc)
	var stored Incident
	err := s.mutate(ctx, KindIncident, func(next *Snapshot) {
		next.Incidents, stored = upsert(next.Incidents, inc,
			func(x Incident) string { return x.ID },
			func(x Incident, id string) Incident { x.ID = id; return x },
			s.freshID("i", next))
	})
	return stored.clone(), err
}

// UpdateIncident applies fn to the stored incident with id as one mutation.
// found is false when no incident has that id; nothing is written then.
func (s *Store) UpdateIncident(ctx context.Context, id string, fn func(*Incident)) (inc Incident, found bool, err error) {
	err = s.mutate(ctx, KindIncident, func(next *Snapshot) {
		for i := range next.Incidents {
			if next.Incidents[i].ID == id {
				fn(&next.Incidents[i])
				next.Incidents[i] = normalizeIncident(next.Incidents[i])
				inc, found = next.Incidents[i].clone(), true
				return
			}
		}
	})
	if !found {
		return Incident{}, false, err
	}
	return inc, true, err
}

// DeletePatient removes the patient with id. Unknown ids are a no-op and the
// patient's incidents are left untouched.
func (s *Store) DeletePatient(ctx context.Context, id string) error {
	return s.mutate(ctx, KindPatient, func(next *Snapshot) {
		next.Patients = remove(next.Patients, func(p Patient) bool { return p.ID == id })
	})
}

// DeleteIncident removes the incident with id. Unknown ids are a no-op.
func (s *Store) DeleteIncident(ctx context.Context, id string) error {
	return s.mutate(ctx, KindIncident, func(next *Snapshot) {
		next.Incidents = remove(next.Incidents, func(i Incident) bool { return i.ID == id })
	})
}

// Replace swaps the whole state, used by the seed command.
func (s *Store) Replace(ctx context.Context, snap Snapshot) error {
	return s.mutate(ctx, "", func(next *Snapshot) {
		*next = normalizeSnapshot(snap.clone())
	})
}

func (s *Store) mutate(ctx context.Context, kind Kind, fn func(next *Snapshot)) error {
	s.mu.Lock()
	next := s.state.clone()
	fn(&next)
	if err := s.persist(ctx, next); err != nil {
		s.mu.Unlock()
		s.logger.Error().Err(err).Str("kind", string(kind)).Msg("mutation rolled back")
		return err
	}
	s.state = next
	listeners := make([]ChangeListener, len(s.listeners))
	copy(listeners, s.listeners)
	incidents := next.clone().Incidents
	s.mu.Unlock()

	if s.onWrite != nil {
		s.onWrite(kind)
	}
	for _, l := range listeners {
		l(ctx, incidents)
	}
	return nil
}

func (s *Store) persist(ctx context.Context, snap Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("%w: encode app data: %v", ErrStorage, err)
	}
	if err := s.blob.Put(ctx, kv.KeyAppData, raw); err != nil {
		return fmt.Errorf("%w: write app data: %v", ErrStorage, err)
	}
	return nil
}

// freshID returns a generator that never hands out an id already used in snap.
func (s *Store) freshID(prefix string, snap *Snapshot) func() string {
	return func() string {
		for {
			id := s.newID(prefix)
			if !idInUse(snap, id) {
				return id
			}
		}
	}
}

func idInUse(snap *Snapshot, id string) bool {
	for _, p := range snap.Patients {
		if p.ID == id {
			return true
		}
	}
	for _, i := range snap.Incidents {
		if i.ID == id {
			return true
		}
	}
	return false
}

func timeOrderedID(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return prefix + "-" + id.String()
}

func upsert[T any](items []T, item T, idOf func(T) string, withID func(T, string) T, fresh func() string) ([]T, T) {
	if id := idOf(item); id != "" {
		for i := range items {
			if idOf(items[i]) == id {
				items[i] = item
				return items, item
			}
		}
	}
	item = withID(item, fresh())
	return append(items, item), item
}

func remove[T any](items []T, match func(T) bool) []T {
	out := items[:0]
	for _, it := range items {
		if !match(it) {
			out = append(out, it)
		}
	}
	return out
}

func normalizeIncident(inc Incident) Incident {
	if inc.Status != StatusCompleted {
		inc.Status = StatusPending
	}
	inc.Cost = normalizeCost(float64(inc.Cost))
	if inc.Files == nil {
		inc.Files = []FileRef{}
	}
	return inc
}

func normalizeSnapshot(snap Snapshot) Snapshot {
	if snap.Patients == nil {
		snap.Patients = []Patient{}
	}
	if snap.Incidents == nil {
		snap.Incidents = []Incident{}
	}
	for i := range snap.Incidents {
		snap.Incidents[i] = normalizeIncident(snap.Incidents[i])
	}
	return snap
}
