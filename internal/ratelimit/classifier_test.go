package ratelimit

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/stacklok/trello-extractor/internal/trello"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	classifier := Classifier{Now: func() time.Time { return now }}

	tests := []struct {
		name      string
		err       error
		wantKind  Kind
		wantDelay time.Duration
		wantMsg   string
	}{
		{
			name:      "429 with seconds",
			err:       &trello.APIError{StatusCode: http.StatusTooManyRequests, RetryAfter: "30", Endpoint: "fetching cards"},
			wantKind:  Throttled,
			wantDelay: 30 * time.Second,
			wantMsg:   "Retry after 30 seconds",
		},
		{
			name:      "429 with HTTP date",
			err:       &trello.APIError{StatusCode: http.StatusTooManyRequests, RetryAfter: now.Add(90 * time.Second).Format(http.TimeFormat)},
			wantKind:  Throttled,
			wantDelay: 90 * time.Second,
		},
		{
			name:      "429 with date in the past",
			err:       &trello.APIError{StatusCode: http.StatusTooManyRequests, RetryAfter: now.Add(-time.Minute).Format(http.TimeFormat)},
			wantKind:  Throttled,
			wantDelay: 0,
		},
		{
			name:      "429 without header",
			err:       &trello.APIError{StatusCode: http.StatusTooManyRequests},
			wantKind:  Throttled,
			wantDelay: DefaultRetryDelay,
		},
		{
			name:      "429 with garbage header",
			err:       &trello.APIError{StatusCode: http.StatusTooManyRequests, RetryAfter: "soon"},
			wantKind:  Throttled,
			wantDelay: DefaultRetryDelay,
		},
		{
			name:      "429 with huge seconds",
			err:       &trello.APIError{StatusCode: http.StatusTooManyRequests, RetryAfter: "99999999999"},
			wantKind:  Throttled,
			wantDelay: time.Duration(maxRetryAfterSeconds) * time.Second,
		},
		{
			name:      "429 with seconds beyond int64",
			err:       &trello.APIError{StatusCode: http.StatusTooManyRequests, RetryAfter: "99999999999999999999999"},
			wantKind:  Throttled,
			wantDelay: time.Duration(maxRetryAfterSeconds) * time.Second,
		},
		{
			name:      "429 with negative seconds",
			err:       &trello.APIError{StatusCode: http.StatusTooManyRequests, RetryAfter: "-3"},
			wantKind:  Throttled,
			wantDelay: DefaultRetryDelay,
		},
		{
			name:      "wrapped 429",
			err:       fmt.Errorf("page failed: %w", &trello.APIError{StatusCode: http.StatusTooManyRequests, RetryAfter: "2"}),
			wantKind:  Throttled,
			wantDelay: 2 * time.Second,
		},
		{
			name:     "401",
			err:      &trello.APIError{StatusCode: http.StatusUnauthorized, Endpoint: "fetching boards"},
			wantKind: Fatal,
			wantMsg:  "Authentication failed",
		},
		{
			name:     "403",
			err:      &trello.APIError{StatusCode: http.StatusForbidden},
			wantKind: Fatal,
			wantMsg:  "Access forbidden",
		},
		{
			name:     "404",
			err:      &trello.APIError{StatusCode: http.StatusNotFound},
			wantKind: Fatal,
			wantMsg:  "not found",
		},
		{
			name:      "503",
			err:       &trello.APIError{StatusCode: http.StatusServiceUnavailable},
			wantKind:  Transient,
			wantDelay: DefaultRetryDelay,
			wantMsg:   "server error",
		},
		{
			name:      "network failure",
			err:       fmt.Errorf("request: %w", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}),
			wantKind:  Transient,
			wantDelay: DefaultRetryDelay,
		},
		{
			name:     "plain error",
			err:      errors.New("decode failure"),
			wantKind: Fatal,
			wantMsg:  "decode failure",
		},
		{
			name:     "nil",
			err:      nil,
			wantKind: Fatal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := classifier.Classify(tt.err)
			assert.Equal(t, tt.wantKind, got.Kind)
			assert.Equal(t, tt.wantDelay, got.RetryDelay)
			assert.GreaterOrEqual(t, got.RetryDelay, time.Duration(0))
			if tt.wantMsg != "" {
				assert.Contains(t, got.Message, tt.wantMsg)
			}
			assert.NotEmpty(t, got.Message)
		})
	}
}

func TestSeconds(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, Seconds(0))
	assert.Equal(t, 0, Seconds(-time.Second))
	assert.Equal(t, 1, Seconds(time.Millisecond))
	assert.Equal(t, 5, Seconds(5*time.Second))
	assert.Equal(t, 6, Seconds(5*time.Second+time.Millisecond))
}

func TestKindString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "throttled", Throttled.String())
	assert.Equal(t, "transient", Transient.String())
	assert.Equal(t, "fatal", Fatal.String())
}
