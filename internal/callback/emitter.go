// Package callback delivers signals to the platform callback URL.
package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-logr/logr"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/stacklok/trello-extractor/internal/event"
)

const (
	// DefaultMaxRetries is the number of retries after the first attempt
	DefaultMaxRetries = 3

	// DefaultTimeout bounds a single POST
	DefaultTimeout = 15 * time.Second

	maxErrorBody = 512
)

// Emitter POSTs signals, retrying transport errors and 5xx/429 replies
// with exponential backoff
type Emitter struct {
	client     *http.Client
	maxRetries int
	backoff    func() backoff.BackOff
}

// Option configures an Emitter
type Option func(*Emitter)

// WithHTTPClient replaces the HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(e *Emitter) {
		e.client = c
	}
}

// WithMaxRetries sets how often a failed POST is retried
func WithMaxRetries(n int) Option {
	return func(e *Emitter) {
		if n >= 0 {
			e.maxRetries = n
		}
	}
}

// WithBackOff replaces the retry schedule, mostly for tests
func WithBackOff(newBackOff func() backoff.BackOff) Option {
	return func(e *Emitter) {
		e.backoff = newBackOff
	}
}

// NewEmitter creates an Emitter
func NewEmitter(opts ...Option) *Emitter {
	e := &Emitter{
		client: &http.Client{
			Timeout:   DefaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		maxRetries: DefaultMaxRetries,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 10 * time.Second
			return b
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Emit POSTs s to callbackURL authenticated with token
func (e *Emitter) Emit(ctx context.Context, callbackURL, token string, s event.Signal) error {
	logger := logr.FromContextOrDiscard(ctx).WithValues("signal", s.EventType)

	if callbackURL == "" {
		return fmt.Errorf("callback URL is missing")
	}

	body, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode signal: %w", err)
	}

	attempt := 0
	post := func() (struct{}, error) {
		attempt++
		return struct{}{}, e.post(ctx, callbackURL, token, body)
	}

	_, err = backoff.Retry(ctx, post,
		backoff.WithBackOff(e.backoff()),
		backoff.WithMaxTries(uint(e.maxRetries)+1),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Info("Signal delivery failed, retrying", "attempt", attempt, "retryIn", next, "error", err.Error())
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to deliver %s after %d attempts: %w", s.EventType, attempt, err)
	}

	logger.V(1).Info("Signal delivered", "attempts", attempt)
	return nil
}

func (e *Emitter) post(ctx context.Context, callbackURL, token string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackURL, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("failed to build callback request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", token)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	statusErr := fmt.Errorf("callback returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		if seconds, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && seconds > 0 {
			return backoff.RetryAfter(seconds)
		}
		return statusErr
	case resp.StatusCode >= 500:
		return statusErr
	default:
		return backoff.Permanent(statusErr)
	}
}
