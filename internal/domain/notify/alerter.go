package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/entnt/dental-connect/internal/domain/clinic"
	"github.com/entnt/dental-connect/internal/domain/session"
)

// Alert announces that new unread notifications appeared for an identity.
type Alert struct {
	Email   string       `json:"email"`
	Role    session.Role `json:"role"`
	Count   int          `json:"count"`
	NewIDs  []string     `json:"newIds"`
	Message string       `json:"message"`
	At      time.Time    `json:"at"`
}

// AlertMessage renders the toast text for n unread notifications.
func AlertMessage(n int) string {
	if n == 1 {
		return "1 new notification"
	}
	return fmt.Sprintf("%d new notifications", n)
}

// Sink delivers alerts somewhere.
type Sink interface {
	Send(ctx context.Context, a Alert) error
}

// Alerter remembers the last unread set of each watched identity and emits
// one alert per recomputation that adds ids to it. Leaving the same items
// unread never re-alerts.
type Alerter struct {
	mu       sync.Mutex
	engine   *Engine
	sink     Sink
	logger   zerolog.Logger
	now      func() time.Time
	watched  map[string]session.Identity
	sessions map[string]map[string]struct{} // email -> watching session ids
	prev     map[string]map[string]struct{}
}

// NewAlerter returns an alerter that computes unread sets with engine and
// delivers alerts to sink.
func NewAlerter(engine *Engine, sink Sink, logger zerolog.Logger) *Alerter {
	return &Alerter{
		engine:   engine,
		sink:     sink,
		logger:   logger.With().Str("component", "alerter").Logger(),
		now:      time.Now,
		watched:  make(map[string]session.Identity),
		sessions: make(map[string]map[string]struct{}),
		prev:     make(map[string]map[string]struct{}),
	}
}

// Watch starts tracking id on behalf of session sid and evaluates it
// against incidents. Watching again from the same session is a no-op apart
// from the evaluation.
func (a *Alerter) Watch(ctx context.Context, sid string, id session.Identity, incidents []clinic.Incident) {
	if id == nil {
		return
	}
	a.mu.Lock()
	a.watched[id.Email()] = id
	if a.sessions[id.Email()] == nil {
		a.sessions[id.Email()] = make(map[string]struct{})
	}
	a.sessions[id.Email()][sid] = struct{}{}
	a.mu.Unlock()
	a.Evaluate(ctx, id, incidents)
}

// Unwatch drops the watch of session sid on email. Once no session watches
// email it is no longer tracked and its last unread set is forgotten.
func (a *Alerter) Unwatch(sid, email string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.sessions[email], sid)
	if len(a.sessions[email]) > 0 {
		return
	}
	delete(a.sessions, email)
	delete(a.watched, email)
	delete(a.prev, email)
}

// Watching reports whether email is tracked.
func (a *Alerter) Watching(email string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.watched[email]
	return ok
}

// IncidentsChanged re-evaluates every watched identity. It has the shape of
// a store change listener.
func (a *Alerter) IncidentsChanged(ctx context.Context, incidents []clinic.Incident) {
	a.mu.Lock()
	ids := make([]session.Identity, 0, len(a.watched))
	for _, id := range a.watched {
		ids = append(ids, id)
	}
	a.mu.Unlock()

	for _, id := range ids {
		a.Evaluate(ctx, id, incidents)
	}
}

// Evaluate recomputes the unread set of id and sends an alert when it
// contains an id the previous set did not. The returned bool reports
// whether an alert was raised.
func (a *Alerter) Evaluate(ctx context.Context, id session.Identity, incidents []clinic.Incident) (Alert, bool) {
	unread, err := a.engine.Unread(ctx, id, incidents)
	if err != nil {
		a.logger.Error().Err(err).Str("email", id.Email()).Msg("could not compute unread notifications")
		return Alert{}, false
	}

	current := make(map[string]struct{}, len(unread))
	for _, n := range unread {
		current[n.ID] = struct{}{}
	}

	a.mu.Lock()
	previous := a.prev[id.Email()]
	a.prev[id.Email()] = current
	a.mu.Unlock()

	var added []string
	for _, n := range unread {
		if _, had := previous[n.ID]; !had {
			added = append(added, n.ID)
		}
	}
	if len(added) == 0 {
		return Alert{}, false
	}

	alert := Alert{
		Email:   id.Email(),
		Role:    id.Role(),
		Count:   len(unread),
		NewIDs:  added,
		Message: AlertMessage(len(unread)),
		At:      a.now(),
	}
	if err := a.sink.Send(ctx, alert); err != nil {
		a.logger.Warn().Err(err).Str("email", alert.Email).Msg("alert delivery failed")
	}
	return alert, true
}
