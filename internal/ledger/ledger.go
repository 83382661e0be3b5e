// Package ledger tracks durable extraction progress across worker invocations.
//
// A Ledger holds the State of one sync run. Every Write is persisted through
// the configured Store before it returns, so a worker terminated at any point
// resumes from the last successful Write.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// WriteError is returned by Write when the state could not be persisted.
// The in-memory state is unchanged when it is returned.
type WriteError struct {
	Key string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("ledger write for '%s' failed: %v", e.Key, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// IsWriteError reports whether err wraps a WriteError
func IsWriteError(err error) bool {
	var we *WriteError
	return errors.As(err, &we)
}

// Ledger is the progress record of a single run key
type Ledger struct {
	store Store
	key   string

	mu    sync.Mutex
	state State
}

// Open loads the ledger for key from store
func Open(ctx context.Context, store Store, key string) (*Ledger, error) {
	if key == "" {
		return nil, fmt.Errorf("ledger key is required")
	}

	state, err := store.Load(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	if state == nil {
		state = &State{}
	}

	return &Ledger{
		store: store,
		key:   key,
		state: state.Clone(),
	}, nil
}

// Key returns the run key the ledger is stored under
func (l *Ledger) Key() string {
	return l.key
}

// Read returns a copy of the current state
func (l *Ledger) Read() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.Clone()
}

// Write merges u into the current state and persists the result.
// Entries not named by u keep their previous values.
func (l *Ledger) Write(ctx context.Context, u Update) (State, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if u.IsEmpty() {
		return l.state.Clone(), nil
	}

	next := l.state.Apply(u)
	if err := l.store.Save(ctx, l.key, &next); err != nil {
		return l.state.Clone(), &WriteError{Key: l.key, Err: err}
	}

	l.state = next
	return next.Clone(), nil
}
