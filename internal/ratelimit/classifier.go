// Package ratelimit classifies upstream failures into throttling, transient and fatal outcomes.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/stacklok/trello-extractor/internal/trello"
)

// DefaultRetryDelay is used when a throttled response carries no usable Retry-After
const DefaultRetryDelay = 5 * time.Second

// Kind is the outcome class of an upstream failure
type Kind int

const (
	// Fatal failures stop the invocation with an error signal
	Fatal Kind = iota

	// Throttled failures are retried by a later invocation after RetryDelay
	Throttled

	// Transient failures (network, 5xx) are retried by a later invocation
	Transient
)

func (k Kind) String() string {
	switch k {
	case Throttled:
		return "throttled"
	case Transient:
		return "transient"
	default:
		return "fatal"
	}
}

// Classification is the result of Classify
type Classification struct {
	Kind Kind

	// RetryDelay is set for Throttled and Transient
	RetryDelay time.Duration

	// Message is a human readable description
	Message string
}

// Classifier turns errors into Classifications. Now is used to evaluate
// HTTP-date Retry-After values and defaults to time.Now.
type Classifier struct {
	Now func() time.Time
}

// Classify classifies err with the default classifier
func Classify(err error) Classification {
	return Classifier{}.Classify(err)
}

// Classify inspects err and reports how the caller should react
func (c Classifier) Classify(err error) Classification {
	if err == nil {
		return Classification{Kind: Fatal, Message: "unknown error"}
	}

	if apiErr, ok := trello.AsAPIError(err); ok {
		return c.classifyStatus(apiErr)
	}

	if errors.Is(err, context.Canceled) {
		return Classification{Kind: Fatal, Message: err.Error()}
	}

	if isNetworkError(err) {
		return Classification{
			Kind:       Transient,
			RetryDelay: DefaultRetryDelay,
			Message:    fmt.Sprintf("network error: %v", err),
		}
	}

	return Classification{Kind: Fatal, Message: err.Error()}
}

func (c Classifier) classifyStatus(apiErr *trello.APIError) Classification {
	switch {
	case apiErr.StatusCode == http.StatusTooManyRequests:
		delay := c.parseRetryAfter(apiErr.RetryAfter)
		return Classification{
			Kind:       Throttled,
			RetryDelay: delay,
			Message:    fmt.Sprintf("Rate limit exceeded while %s. Retry after %d seconds", apiErr.Endpoint, secondsCeil(delay)),
		}
	case apiErr.StatusCode == http.StatusUnauthorized:
		return Classification{
			Kind:    Fatal,
			Message: fmt.Sprintf("Authentication failed while %s. Invalid API key or token", apiErr.Endpoint),
		}
	case apiErr.StatusCode == http.StatusForbidden:
		return Classification{
			Kind:    Fatal,
			Message: fmt.Sprintf("Access forbidden while %s. Insufficient permissions", apiErr.Endpoint),
		}
	case apiErr.StatusCode == http.StatusNotFound:
		return Classification{
			Kind:    Fatal,
			Message: fmt.Sprintf("Resource not found while %s", apiErr.Endpoint),
		}
	case apiErr.StatusCode >= 500:
		return Classification{
			Kind:       Transient,
			RetryDelay: DefaultRetryDelay,
			Message:    fmt.Sprintf("Trello server error while %s (HTTP %d)", apiErr.Endpoint, apiErr.StatusCode),
		}
	default:
		return Classification{Kind: Fatal, Message: apiErr.Error()}
	}
}

// maxRetryAfterSeconds is the largest delay-seconds value a time.Duration can hold
const maxRetryAfterSeconds = math.MaxInt64 / int64(time.Second)

// parseRetryAfter accepts delay-seconds or an HTTP-date
func (c Classifier) parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return DefaultRetryDelay
	}

	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil || errors.Is(err, strconv.ErrRange) {
		if seconds < 0 {
			return DefaultRetryDelay
		}
		return time.Duration(min(seconds, maxRetryAfterSeconds)) * time.Second
	}

	if at, err := http.ParseTime(value); err == nil {
		now := time.Now
		if c.Now != nil {
			now = c.Now
		}
		delay := at.Sub(now())
		if delay < 0 {
			return 0
		}
		return delay
	}

	return DefaultRetryDelay
}

// isNetworkError reports transport-level failures. Callers check their own
// context before classifying, so an expired invocation deadline never gets here.
func isNetworkError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr)
}

// Seconds rounds a delay up to whole seconds, the unit of delay signals
func Seconds(d time.Duration) int {
	return secondsCeil(d)
}

func secondsCeil(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	s := int(d / time.Second)
	if d%time.Second != 0 {
		s++
	}
	return s
}
