package extraction

import (
	"fmt"
	"time"

	"github.com/stacklok/trello-extractor/internal/ledger"
	"github.com/stacklok/trello-extractor/internal/ratelimit"
)

// Kind is the failure class of an extraction Error
type Kind string

const (
	// KindThrottled means upstream asked to slow down
	KindThrottled Kind = "throttled"

	// KindTransient covers network failures and upstream 5xx replies
	KindTransient Kind = "transient"

	// KindFatal failures are not retried
	KindFatal Kind = "fatal"

	// KindLedgerWrite means progress could not be persisted
	KindLedgerWrite Kind = "ledger_write"

	// KindArtifactWrite means extracted items could not be stored
	KindArtifactWrite Kind = "artifact_write"
)

// Error is a structured extraction failure
type Error struct {
	Err     error
	Message string
	Kind    Kind

	// RetryDelay is set for throttled and transient failures
	RetryDelay time.Duration
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether a later invocation may succeed without intervention
func (e *Error) Retryable() bool {
	return e.Kind == KindThrottled || e.Kind == KindTransient
}

func upstreamError(err error, c ratelimit.Classification) *Error {
	kind := KindFatal
	switch c.Kind {
	case ratelimit.Throttled:
		kind = KindThrottled
	case ratelimit.Transient:
		kind = KindTransient
	}
	return &Error{
		Err:        err,
		Message:    c.Message,
		Kind:       kind,
		RetryDelay: c.RetryDelay,
	}
}

func persistError(err error, what string) *Error {
	kind := KindArtifactWrite
	if ledger.IsWriteError(err) {
		kind = KindLedgerWrite
	}
	return &Error{
		Err:     err,
		Message: fmt.Sprintf("Failed to persist %s: %v", what, err),
		Kind:    kind,
	}
}

func fatalError(format string, args ...any) *Error {
	err := fmt.Errorf(format, args...)
	return &Error{
		Err:     err,
		Message: err.Error(),
		Kind:    KindFatal,
	}
}
