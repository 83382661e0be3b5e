package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/trello-extractor/internal/event"
	"github.com/stacklok/trello-extractor/internal/trello"
)

const syncUnitsEvent = `{
  "context": {"secrets": {"service_account_token": "sa-token"}},
  "payload": {
    "connection_data": {"key": "key=api-key&token=api-token", "org_id": "org-1", "org_name": "Acme"},
    "event_context": {
      "callback_url": %q,
      "external_sync_unit_id": "board-1",
      "sync_unit_id": "unit-1",
      "mode": "INITIAL"
    },
    "event_type": "EXTRACTION_EXTERNAL_SYNC_UNITS_START"
  }
}`

// callbackRecorder captures every signal POSTed to it
type callbackRecorder struct {
	mu      sync.Mutex
	signals []event.Signal
	auth    []string
}

func (c *callbackRecorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var s event.Signal
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	c.mu.Lock()
	c.signals = append(c.signals, s)
	c.auth = append(c.auth, r.Header.Get("Authorization"))
	c.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func newFakeTrello(t *testing.T) *httptest.Server {
	t.Helper()

	r := chi.NewRouter()
	r.Get("/organizations/{org}/boards", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "api-key", r.URL.Query().Get("key"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]trello.Board{{ID: "board-1", Name: "Roadmap"}})
	})
	r.Get("/boards/{board}/cards", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, "[]")
	})

	server := httptest.NewServer(r)
	t.Cleanup(server.Close)
	return server
}

func TestExtractorAppHandlesEventsOverHTTP(t *testing.T) {
	t.Parallel()

	trelloServer := newFakeTrello(t)
	recorder := &callbackRecorder{}
	callbackServer := httptest.NewServer(recorder)
	t.Cleanup(callbackServer.Close)

	cfg := createTestAppConfig(t)
	cfg.Trello.BaseURL = trelloServer.URL

	app, err := NewExtractorApp(context.Background(), WithConfig(cfg))
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	body := fmt.Sprintf(syncUnitsEvent, callbackServer.URL)
	req := httptest.NewRequest(http.MethodPost, "/v1/events", strings.NewReader(body))
	rec := httptest.NewRecorder()
	app.GetHTTPServer().Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), string(event.SignalSyncUnitsDone))

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	require.Len(t, recorder.signals, 1)
	got := recorder.signals[0]
	assert.Equal(t, event.SignalSyncUnitsDone, got.EventType)
	require.Len(t, got.EventData.ExternalSyncUnits, 1)
	assert.Equal(t, "board-1", got.EventData.ExternalSyncUnits[0].ID)
	assert.Equal(t, 0, got.EventData.ExternalSyncUnits[0].ItemCount)
	assert.Equal(t, "sa-token", recorder.auth[0])
}

func TestExtractorAppHandleDirect(t *testing.T) {
	t.Parallel()

	trelloServer := newFakeTrello(t)
	recorder := &callbackRecorder{}
	callbackServer := httptest.NewServer(recorder)
	t.Cleanup(callbackServer.Close)

	cfg := createTestAppConfig(t)
	cfg.Trello.BaseURL = trelloServer.URL

	app, err := NewExtractorApp(context.Background(), WithConfig(cfg))
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	ev, err := event.Decode([]byte(fmt.Sprintf(syncUnitsEvent, callbackServer.URL)))
	require.NoError(t, err)

	signal, err := app.Handle(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, event.SignalSyncUnitsDone, signal.EventType)
}

func TestExtractorAppStartStop(t *testing.T) {
	t.Parallel()

	// Reserve a free port
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	require.NoError(t, listener.Close())

	app, err := NewExtractorApp(context.Background(),
		WithConfig(createTestAppConfig(t)),
		WithAddress(addr),
	)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Start()
	}()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/health")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, app.Stop(5*time.Second))
	require.NoError(t, <-errCh)
}
