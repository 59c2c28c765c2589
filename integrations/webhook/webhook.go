package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"levelbot/core"
)

const (
	HeaderEventID   = "X-Levelbot-Event-Id"
	HeaderEventType = "X-Levelbot-Event-Type"
	HeaderSignature = "X-Levelbot-Signature"
)

// Sink posts leveling events to configured HTTP endpoints.
// It is synchronous; register it on an async event bus to keep awards fast.
type Sink struct {
	client    *http.Client
	endpoints []string
	types     map[core.EventType]bool
	secret    []byte
	retries   int
	backoff   time.Duration
	log       *slog.Logger
}

// Option configures a Sink.
type Option func(*Sink)

// WithClient overrides the HTTP client (defaults to 2s timeout).
func WithClient(c *http.Client) Option {
	return func(s *Sink) {
		if c != nil {
			s.client = c
		}
	}
}

// WithEventTypes limits delivery to the given event types.
func WithEventTypes(types ...core.EventType) Option {
	return func(s *Sink) {
		for _, t := range types {
			s.types[t] = true
		}
	}
}

// WithSecret signs each body with HMAC-SHA256 in HeaderSignature.
func WithSecret(secret string) Option {
	return func(s *Sink) { s.secret = []byte(secret) }
}

// WithRetries sets how many times a failed delivery is retried.
func WithRetries(n int, backoff time.Duration) Option {
	return func(s *Sink) {
		if n >= 0 {
			s.retries = n
		}
		s.backoff = backoff
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Sink) {
		if l != nil {
			s.log = l
		}
	}
}

// New creates a webhook sink.
func New(endpoints []string, opts ...Option) *Sink {
	s := &Sink{
		client:  &http.Client{Timeout: 2 * time.Second},
		types:   map[core.EventType]bool{},
		retries: 1,
		backoff: 200 * time.Millisecond,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.endpoints = append([]string{}, endpoints...)
	return s
}

// Handle matches the engine handler signature; delivery failures are logged.
func (s *Sink) Handle(ctx context.Context, e core.Event) {
	if err := s.Deliver(ctx, e); err != nil {
		s.log.Warn("webhook delivery failed", "event", e.Type, "event_id", e.ID, "error", err)
	}
}

// Deliver posts the event JSON to all endpoints and joins per-endpoint errors.
// Receivers deduplicate retries by HeaderEventID.
func (s *Sink) Deliver(ctx context.Context, e core.Event) error {
	if len(s.endpoints) == 0 || (len(s.types) > 0 && !s.types[e.Type]) {
		return nil
	}
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	var errs []error
	for _, ep := range s.endpoints {
		if err := s.post(ctx, ep, e, body); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ep, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Sink) post(ctx context.Context, endpoint string, e core.Event, body []byte) error {
	var last error
	for attempt := 0; attempt <= s.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.backoff):
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(HeaderEventID, e.ID)
		req.Header.Set(HeaderEventType, string(e.Type))
		if len(s.secret) > 0 {
			req.Header.Set(HeaderSignature, Sign(s.secret, body))
		}
		resp, err := s.client.Do(req)
		if err != nil {
			last = err
			continue
		}
		_ = resp.Body.Close()
		if resp.StatusCode < 300 {
			return nil
		}
		last = fmt.Errorf("status %d", resp.StatusCode)
		if resp.StatusCode < 500 {
			return last
		}
	}
	return last
}

// Sign returns the hex HMAC-SHA256 of body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
