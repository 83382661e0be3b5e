package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/stacklok/trello-extractor/internal/artifacts"
	"github.com/stacklok/trello-extractor/internal/event"
	"github.com/stacklok/trello-extractor/internal/extraction"
	"github.com/stacklok/trello-extractor/internal/ledger"
	"github.com/stacklok/trello-extractor/internal/telemetry"
	"github.com/stacklok/trello-extractor/internal/trello"
)

const eventTemplate = `{
  "context": {"secrets": {"service_account_token": "sa-token"}},
  "payload": {
    "connection_data": {"key": %q, "org_id": "org-1", "org_name": "Acme"},
    "event_context": {
      "callback_url": "https://callback.example.com/signals",
      "external_sync_unit_id": "board-1",
      "sync_unit_id": "unit-1",
      "mode": %q
    },
    "event_type": %q
  }
}`

func decode(t *testing.T, eventType event.Type, mode event.Mode, key string) event.Event {
	t.Helper()
	ev, err := event.Decode([]byte(fmt.Sprintf(eventTemplate, key, mode, eventType)))
	require.NoError(t, err)
	return ev
}

// fakeTrello serves one organization with one board
type fakeTrello struct {
	mu sync.Mutex

	boards    []trello.Board
	members   []trello.Member
	cards     []trello.Card
	files     map[string]string
	cardsErr  error
	boardsErr error

	// blockCards waits for the context to expire before answering card listings
	blockCards bool
}

func newFakeTrello(n int) *fakeTrello {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	f := &fakeTrello{
		boards:  []trello.Board{{ID: "board-1", Name: "Roadmap"}},
		members: []trello.Member{{ID: "m1", FullName: "Ada", Username: "ada"}},
		files:   map[string]string{},
	}
	for i := range n {
		created := now.Add(-time.Duration(i) * time.Minute)
		f.cards = append(f.cards, trello.Card{
			ID:               fmt.Sprintf("%08x%016x", created.Unix(), n-i),
			Name:             fmt.Sprintf("card %d", i),
			DateLastActivity: created.Format(time.RFC3339),
		})
	}
	return f
}

func (f *fakeTrello) ListBoards(ctx context.Context, _ string) ([]trello.Board, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.boards, f.boardsErr
}

func (f *fakeTrello) ListOrganizationMembers(ctx context.Context, _ string) ([]trello.Member, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.members, nil
}

func (f *fakeTrello) ListBoardCards(ctx context.Context, _ string, limit int, before string) ([]trello.Card, error) {
	if f.blockCards {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cardsErr != nil {
		return nil, f.cardsErr
	}

	var page []trello.Card
	for _, c := range f.cards {
		if before != "" && c.ID >= before {
			continue
		}
		page = append(page, c)
		if len(page) == limit {
			break
		}
	}
	return page, nil
}

func (f *fakeTrello) GetMember(ctx context.Context, memberID string) (*trello.Member, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, m := range f.members {
		if m.ID == memberID {
			m.Email = m.Username + "@example.com"
			return &m, nil
		}
	}
	return nil, &trello.APIError{StatusCode: http.StatusNotFound, Endpoint: "fetching member details"}
}

func (*fakeTrello) ListBoardLabels(_ context.Context, _ string) ([]trello.Label, error) {
	return []trello.Label{{ID: "l1", Name: "Bug", Color: "red"}}, nil
}

func (*fakeTrello) ListBoardLists(_ context.Context, _ string) ([]trello.List, error) {
	return []trello.List{{ID: "list-1", Name: "To Do"}}, nil
}

func (*fakeTrello) ListCardComments(_ context.Context, _ string) ([]trello.Action, error) {
	return nil, nil
}

func (*fakeTrello) ListCardCreateActions(_ context.Context, _ string) ([]trello.Action, error) {
	return []trello.Action{{ID: "a1", Type: "createCard", IDMemberCreator: "m1"}}, nil
}

func (f *fakeTrello) DownloadAttachment(_ context.Context, rawURL string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, ok := f.files[rawURL]
	if !ok {
		return nil, &trello.APIError{StatusCode: http.StatusNotFound, Endpoint: "downloading attachment"}
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

// recordingEmitter keeps every signal it is asked to deliver
type recordingEmitter struct {
	mu      sync.Mutex
	signals []event.Signal
	urls    []string
	tokens  []string
	err     error
}

func (e *recordingEmitter) Emit(ctx context.Context, callbackURL, token string, s event.Signal) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	e.signals = append(e.signals, s)
	e.urls = append(e.urls, callbackURL)
	e.tokens = append(e.tokens, token)
	return e.err
}

type testWorker struct {
	worker  *Worker
	fake    *fakeTrello
	emitter *recordingEmitter
	creds   []trello.Credentials
}

func newTestWorker(t *testing.T, fake *fakeTrello, opts ...Option) *testWorker {
	t.Helper()

	tw := &testWorker{fake: fake, emitter: &recordingEmitter{}}
	factory := func(creds trello.Credentials) TrelloClient {
		tw.creds = append(tw.creds, creds)
		return fake
	}
	tw.worker = New(
		factory,
		ledger.NewFileStore(t.TempDir()),
		artifacts.NewStore(t.TempDir(), 0),
		tw.emitter,
		opts...,
	)
	return tw
}

const validKey = "key=api-key&token=api-token"

func TestHandleDataStart(t *testing.T) {
	t.Parallel()

	tw := newTestWorker(t, newFakeTrello(150))
	signal, err := tw.worker.Handle(context.Background(), decode(t, event.TypeDataStart, event.ModeInitial, validKey))
	require.NoError(t, err)

	assert.Equal(t, event.SignalDataDone, signal.EventType)
	assert.Equal(t, 150, artifacts.Count(signal.EventData.Artifacts, artifacts.ItemTypeCards))
	assert.Equal(t, 1, artifacts.Count(signal.EventData.Artifacts, artifacts.ItemTypeUsers))
	assert.Equal(t, 1, artifacts.Count(signal.EventData.Artifacts, artifacts.ItemTypeLabels))
	assert.Nil(t, signal.EventData.Error)

	require.Len(t, tw.emitter.signals, 1)
	assert.Equal(t, "https://callback.example.com/signals", tw.emitter.urls[0])
	assert.Equal(t, "sa-token", tw.emitter.tokens[0])
	assert.Equal(t, "board-1", tw.emitter.signals[0].EventContext.ExternalSyncUnitID)
	assert.Equal(t, []trello.Credentials{{APIKey: "api-key", Token: "api-token"}}, tw.creds)
}

func TestHandleDataThrottled(t *testing.T) {
	t.Parallel()

	fake := newFakeTrello(10)
	fake.cardsErr = &trello.APIError{StatusCode: http.StatusTooManyRequests, RetryAfter: "42", Endpoint: "fetching cards"}

	tw := newTestWorker(t, fake)
	signal, err := tw.worker.Handle(context.Background(), decode(t, event.TypeDataContinue, event.ModeInitial, validKey))
	require.NoError(t, err)

	assert.Equal(t, event.SignalDataDelay, signal.EventType)
	require.NotNil(t, signal.EventData.Delay)
	assert.Equal(t, 42, *signal.EventData.Delay)
	assert.Empty(t, signal.EventData.Artifacts)
}

func TestHandleDataFatal(t *testing.T) {
	t.Parallel()

	fake := newFakeTrello(10)
	fake.cardsErr = &trello.APIError{StatusCode: http.StatusUnauthorized, Endpoint: "fetching cards", Message: "invalid token"}

	tw := newTestWorker(t, fake)
	signal, err := tw.worker.Handle(context.Background(), decode(t, event.TypeDataStart, event.ModeInitial, validKey))
	require.NoError(t, err)

	assert.Equal(t, event.SignalDataError, signal.EventType)
	require.NotNil(t, signal.EventData.Error)
	assert.NotEmpty(t, signal.EventData.Error.Message)
	assert.Empty(t, signal.EventData.Artifacts)
}

func TestHandleInvalidConnectionKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		eventType event.Type
		want      event.SignalType
	}{
		{name: "sync_units", eventType: event.TypeSyncUnitsStart, want: event.SignalSyncUnitsError},
		{name: "data", eventType: event.TypeDataStart, want: event.SignalDataError},
		{name: "attachments", eventType: event.TypeAttachmentsStart, want: event.SignalAttachmentsError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tw := newTestWorker(t, newFakeTrello(1))
			signal, err := tw.worker.Handle(context.Background(), decode(t, tt.eventType, event.ModeInitial, "key=only-key"))
			require.NoError(t, err)

			assert.Equal(t, tt.want, signal.EventType)
			require.NotNil(t, signal.EventData.Error)
			assert.Contains(t, signal.EventData.Error.Message, "token is missing")
			assert.Empty(t, tw.creds)
		})
	}
}

func TestHandleSyncUnits(t *testing.T) {
	t.Parallel()

	fake := newFakeTrello(30)
	tw := newTestWorker(t, fake)
	signal, err := tw.worker.Handle(context.Background(), decode(t, event.TypeSyncUnitsStart, "", validKey))
	require.NoError(t, err)

	assert.Equal(t, event.SignalSyncUnitsDone, signal.EventType)
	assert.Equal(t, []event.ExternalSyncUnit{
		{ID: "board-1", Name: "Roadmap", ItemCount: 30, ItemType: "tasks"},
	}, signal.EventData.ExternalSyncUnits)
}

func TestHandleSyncUnitsFailure(t *testing.T) {
	t.Parallel()

	fake := newFakeTrello(0)
	fake.boardsErr = errors.New("connection reset")
	tw := newTestWorker(t, fake)

	signal, err := tw.worker.Handle(context.Background(), decode(t, event.TypeSyncUnitsStart, "", validKey))
	require.NoError(t, err)
	assert.Equal(t, event.SignalSyncUnitsError, signal.EventType)
	require.NotNil(t, signal.EventData.Error)
	assert.Contains(t, signal.EventData.Error.Message, "connection reset")
}

func TestHandleMetadata(t *testing.T) {
	t.Parallel()

	tw := newTestWorker(t, newFakeTrello(0))
	ev := decode(t, event.TypeMetadataStart, event.ModeInitial, validKey)

	first, err := tw.worker.Handle(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, event.SignalMetadataDone, first.EventType)
	assert.Equal(t, 1, artifacts.Count(first.EventData.Artifacts, artifacts.ItemTypeExternalDomainMetadata))

	second, err := tw.worker.Handle(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, 1, artifacts.Count(second.EventData.Artifacts, artifacts.ItemTypeExternalDomainMetadata))
}

func TestHandleAttachmentsAfterData(t *testing.T) {
	t.Parallel()

	fake := newFakeTrello(3)
	fake.cards[0].Attachments = []trello.Attachment{
		{ID: "att-1", Name: "a.txt", URL: "https://files.example.com/a.txt"},
		{ID: "att-2", Name: "gone.txt", URL: "https://files.example.com/gone.txt"},
	}
	fake.files["https://files.example.com/a.txt"] = "hello"

	tw := newTestWorker(t, fake)
	ctx := context.Background()

	data, err := tw.worker.Handle(ctx, decode(t, event.TypeDataStart, event.ModeInitial, validKey))
	require.NoError(t, err)
	require.Equal(t, event.SignalDataDone, data.EventType)
	assert.Equal(t, 2, artifacts.Count(data.EventData.Artifacts, artifacts.ItemTypeAttachments))

	att, err := tw.worker.Handle(ctx, decode(t, event.TypeAttachmentsStart, event.ModeInitial, validKey))
	require.NoError(t, err)
	assert.Equal(t, event.SignalAttachmentsDone, att.EventType)

	again, err := tw.worker.Handle(ctx, decode(t, event.TypeAttachmentsContinue, event.ModeInitial, validKey))
	require.NoError(t, err)
	assert.Equal(t, event.SignalAttachmentsDone, again.EventType)
}

func TestHandleAttachmentsBeforeData(t *testing.T) {
	t.Parallel()

	tw := newTestWorker(t, newFakeTrello(3))
	signal, err := tw.worker.Handle(context.Background(), decode(t, event.TypeAttachmentsStart, event.ModeInitial, validKey))
	require.NoError(t, err)
	assert.Equal(t, event.SignalAttachmentsError, signal.EventType)
	require.NotNil(t, signal.EventData.Error)
}

func TestHandleTimeout(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		eventType   event.Type
		want        event.SignalType
		wantMessage string
	}{
		{name: "data", eventType: event.TypeDataStart, want: event.SignalDataProgress},
		{name: "data_continue", eventType: event.TypeDataContinue, want: event.SignalDataProgress},
		{name: "sync_units", eventType: event.TypeSyncUnitsStart, want: event.SignalSyncUnitsError, wantMessage: TimeoutMessage},
		{name: "metadata", eventType: event.TypeMetadataStart, want: event.SignalMetadataError, wantMessage: TimeoutMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tw := newTestWorker(t, newFakeTrello(10))
			ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
			defer cancel()

			signal, err := tw.worker.Handle(ctx, decode(t, tt.eventType, event.ModeInitial, validKey))
			require.NoError(t, err)
			assert.Equal(t, tt.want, signal.EventType)
			if tt.wantMessage != "" {
				require.NotNil(t, signal.EventData.Error)
				assert.Equal(t, tt.wantMessage, signal.EventData.Error.Message)
			}
			require.Len(t, tw.emitter.signals, 1)
		})
	}
}

func TestHandleDeadlineDuringPagination(t *testing.T) {
	t.Parallel()

	fake := newFakeTrello(10)
	fake.blockCards = true

	tw := newTestWorker(t, fake, WithTimeout(50*time.Millisecond))
	signal, err := tw.worker.Handle(context.Background(), decode(t, event.TypeDataStart, event.ModeInitial, validKey))
	require.NoError(t, err)
	assert.Equal(t, event.SignalDataProgress, signal.EventType)
	assert.Nil(t, signal.EventData.Error)
}

func TestHandleEmitFailure(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	wm, err := telemetry.NewWorkerMetrics(provider)
	require.NoError(t, err)

	tw := newTestWorker(t, newFakeTrello(1), WithMetrics(wm, nil))
	tw.emitter.err = errors.New("callback unavailable")

	signal, err := tw.worker.Handle(context.Background(), decode(t, event.TypeSyncUnitsStart, "", validKey))
	require.Error(t, err)
	assert.Equal(t, event.SignalSyncUnitsDone, signal.EventType)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	found := false
	for _, m := range rm.ScopeMetrics[0].Metrics {
		if m.Name != "trello_extractor_signals_emitted_total" {
			continue
		}
		sum, ok := m.Data.(metricdata.Sum[int64])
		require.True(t, ok)
		require.Len(t, sum.DataPoints, 1)
		assert.Equal(t, int64(1), sum.DataPoints[0].Value)
		found = true
	}
	assert.True(t, found)
}

func TestSignalForDelay(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   time.Duration
		want int
	}{
		{in: 0, want: 0},
		{in: 300 * time.Millisecond, want: 1},
		{in: 5 * time.Second, want: 5},
		{in: 5*time.Second + time.Millisecond, want: 6},
		{in: time.Minute, want: 60},
	}
	for _, tt := range tests {
		signal, data := signalFor(dataSignals, extraction.Outcome{Signal: extraction.SignalDelay, Delay: tt.in})
		assert.Equal(t, event.SignalDataDelay, signal)
		require.NotNil(t, data.Delay)
		assert.Equal(t, tt.want, *data.Delay, tt.in.String())
	}
}
