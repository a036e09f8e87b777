// Package webhook delivers signed JSON events to an HTTP endpoint.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	SignatureHeader = "X-Webhook-Signature"
	EventIDHeader   = "X-Webhook-Event-ID"
	TimestampHeader = "X-Webhook-Timestamp"
)

// Event is the envelope posted to the endpoint.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// Attempt describes one delivery.
type Attempt struct {
	EventID      string
	StatusCode   int
	ResponseBody string
	Duration     time.Duration
}

// SignPayload returns the hex HMAC-SHA256 of payload under secret.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature is the HMAC of payload. The
// "sha256=" prefix of the header form is accepted.
func VerifySignature(payload []byte, secret, signature string) bool {
	signature = strings.TrimPrefix(signature, "sha256=")
	return hmac.Equal([]byte(SignPayload(payload, secret)), []byte(signature))
}

type Option func(*Deliverer)

// WithHTTPClient overrides the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Deliverer) { d.client = c }
}

// Deliverer posts events to one endpoint. Failed deliveries are reported,
// not retried.
type Deliverer struct {
	url    string
	secret string
	client *http.Client
	now    func() time.Time
}

// NewDeliverer validates rawURL and returns a deliverer signing with secret.
func NewDeliverer(rawURL, secret string, opts ...Option) (*Deliverer, error) {
	if err := validateURL(rawURL); err != nil {
		return nil, err
	}
	d := &Deliverer{
		url:    rawURL,
		secret: secret,
		client: &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

func validateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("webhook url is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid webhook url: %w", err)
	}
	if s := strings.ToLower(u.Scheme); s != "http" && s != "https" {
		return fmt.Errorf("webhook url scheme must be http or https, got %q", u.Scheme)
	}
	return nil
}

// Deliver wraps data in an Event of eventType and posts it. A non-2xx
// response is an error.
func (d *Deliverer) Deliver(ctx context.Context, eventType string, data any) (*Attempt, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode webhook data: %w", err)
	}
	event := Event{ID: uuid.NewString(), Type: eventType, Timestamp: d.now().UTC(), Data: raw}
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode webhook event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, "sha256="+SignPayload(payload, d.secret))
	req.Header.Set(EventIDHeader, event.ID)
	req.Header.Set(TimestampHeader, event.Timestamp.Format(time.RFC3339))

	attempt := &Attempt{EventID: event.ID}
	start := time.Now()
	resp, err := d.client.Do(req)
	attempt.Duration = time.Since(start)
	if err != nil {
		return attempt, fmt.Errorf("deliver webhook: %w", err)
	}
	defer resp.Body.Close()

	attempt.StatusCode = resp.StatusCode
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	attempt.ResponseBody = string(body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return attempt, fmt.Errorf("deliver webhook: non-2xx response %d", resp.StatusCode)
	}
	return attempt, nil
}
