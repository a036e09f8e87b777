package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/entnt/dental-connect/internal/platform/webhook"
	"github.com/entnt/dental-connect/internal/platform/websocket"
)

// EventAlert is the websocket event type of an alert.
const EventAlert = "notification.alert"

// Topic is the websocket topic alerts for email are published on.
func Topic(email string) string {
	return "notifications:" + email
}

// LogSink writes alerts to the log.
type LogSink struct {
	Logger zerolog.Logger
}

func (s LogSink) Send(_ context.Context, a Alert) error {
	s.Logger.Info().
		Str("email", a.Email).
		Int("unread", a.Count).
		Strs("new_ids", a.NewIDs).
		Msg(a.Message)
	return nil
}

// HubSink pushes alerts to the websocket clients of the identity.
type HubSink struct {
	Publisher websocket.EventPublisher
}

// Send publishes a on the topic of its identity.
func (s HubSink) Send(ctx context.Context, a Alert) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	return s.Publisher.Publish(ctx, websocket.Event{
		Type:      EventAlert,
		Topic:     Topic(a.Email),
		Timestamp: a.At,
		Data:      data,
	})
}

// WebhookSink posts alerts as signed webhook events.
type WebhookSink struct {
	Deliverer *webhook.Deliverer
}

// Send posts a as a notification.alert event.
func (s WebhookSink) Send(ctx context.Context, a Alert) error {
	_, err := s.Deliverer.Deliver(ctx, EventAlert, a)
	return err
}

// MultiSink sends every alert to all sinks and joins their errors.
type MultiSink []Sink

func (m MultiSink) Send(ctx context.Context, a Alert) error {
	var errs []error
	for _, s := range m {
		if err := s.Send(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
