package notify

import (
	"context"

	"github.com/entnt/dental-connect/internal/domain/clinic"
	"github.com/entnt/dental-connect/internal/domain/session"
)

// Engine combines computed notifications with the acknowledged set.
type Engine struct {
	acks *AckStore
}

// NewEngine derives unread notifications against acks.
func NewEngine(acks *AckStore) *Engine {
	return &Engine{acks: acks}
}

// Entry is a notification with its read flag.
type Entry struct {
	Notification
	Read bool `json:"read"`
}

// List returns every computed notification of id, flagged read or unread.
func (e *Engine) List(ctx context.Context, id session.Identity, incidents []clinic.Incident) ([]Entry, error) {
	seen, err := e.seenSet(ctx, id)
	if err != nil {
		return nil, err
	}
	all := Compute(id, incidents)
	out := make([]Entry, len(all))
	for i, n := range all {
		_, read := seen[n.ID]
		out[i] = Entry{Notification: n, Read: read}
	}
	return out, nil
}

// Unread returns the computed notifications that have not been acknowledged.
func (e *Engine) Unread(ctx context.Context, id session.Identity, incidents []clinic.Incident) ([]Notification, error) {
	seen, err := e.seenSet(ctx, id)
	if err != nil {
		return nil, err
	}
	out := []Notification{}
	for _, n := range Compute(id, incidents) {
		if _, read := seen[n.ID]; !read {
			out = append(out, n)
		}
	}
	return out, nil
}

// UnreadCount returns len(Unread(...)).
func (e *Engine) UnreadCount(ctx context.Context, id session.Identity, incidents []clinic.Incident) (int, error) {
	unread, err := e.Unread(ctx, id, incidents)
	return len(unread), err
}

// MarkSeen acknowledges every notification in ns.
func (e *Engine) MarkSeen(ctx context.Context, id session.Identity, ns []Notification) error {
	ids := make([]string, len(ns))
	for i, n := range ns {
		ids[i] = n.ID
	}
	return e.acks.Add(ctx, id, ids)
}

func (e *Engine) seenSet(ctx context.Context, id session.Identity) (map[string]struct{}, error) {
	ids, err := e.acks.Seen(ctx, id)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}
