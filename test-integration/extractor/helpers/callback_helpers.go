package helpers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/stacklok/trello-extractor/internal/event"
)

// CallbackRecorder is a platform callback endpoint that keeps every signal
type CallbackRecorder struct {
	server *httptest.Server

	mu      sync.Mutex
	signals []event.Signal
	tokens  []string
}

// NewCallbackRecorder starts a recording callback endpoint
func NewCallbackRecorder() *CallbackRecorder {
	c := &CallbackRecorder{}
	c.server = httptest.NewServer(http.HandlerFunc(c.serve))
	return c
}

// URL is the callback URL to put in events
func (c *CallbackRecorder) URL() string {
	return c.server.URL + "/callback"
}

// Close stops the server
func (c *CallbackRecorder) Close() {
	c.server.Close()
}

// Signals returns a copy of the received signals
func (c *CallbackRecorder) Signals() []event.Signal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]event.Signal(nil), c.signals...)
}

// Tokens returns the Authorization headers of the received signals
func (c *CallbackRecorder) Tokens() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.tokens...)
}

// Last returns the most recent signal, or nil when none arrived
func (c *CallbackRecorder) Last() *event.Signal {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.signals) == 0 {
		return nil
	}
	s := c.signals[len(c.signals)-1]
	return &s
}

func (c *CallbackRecorder) serve(w http.ResponseWriter, r *http.Request) {
	var s event.Signal
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	c.mu.Lock()
	c.signals = append(c.signals, s)
	c.tokens = append(c.tokens, r.Header.Get("Authorization"))
	c.mu.Unlock()
	w.WriteHeader(http.StatusAccepted)
}
