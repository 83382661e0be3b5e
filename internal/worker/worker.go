// Package worker handles one platform event per invocation: it runs the
// requested phase under the invocation deadline and reports the result to
// the callback URL as exactly one signal.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/trello-extractor/internal/artifacts"
	"github.com/stacklok/trello-extractor/internal/event"
	"github.com/stacklok/trello-extractor/internal/extraction"
	"github.com/stacklok/trello-extractor/internal/ledger"
	"github.com/stacklok/trello-extractor/internal/otel"
	"github.com/stacklok/trello-extractor/internal/syncunits"
	"github.com/stacklok/trello-extractor/internal/telemetry"
	"github.com/stacklok/trello-extractor/internal/trello"
)

const (
	// DefaultTimeout is the invocation deadline
	DefaultTimeout = 10 * time.Minute

	// DefaultEmitTimeout bounds the delivery of the final signal
	DefaultEmitTimeout = 30 * time.Second

	// TracerName is the tracer used for event handling spans
	TracerName = "github.com/stacklok/trello-extractor/worker"

	// TimeoutMessage is reported by phases that cannot resume after a timeout
	TimeoutMessage = "Lambda timeout"
)

// TrelloClient is the upstream API used by every phase
type TrelloClient interface {
	extraction.Client
	syncunits.BoardClient
}

// ClientFactory creates an upstream client for one set of credentials
type ClientFactory func(creds trello.Credentials) TrelloClient

// Emitter delivers signals to the platform
type Emitter interface {
	Emit(ctx context.Context, callbackURL, token string, s event.Signal) error
}

// Worker handles platform events
type Worker struct {
	newClient ClientFactory
	ledgers   ledger.Store
	store     *artifacts.Store
	emitter   Emitter

	timeout     time.Duration
	emitTimeout time.Duration

	metrics           *telemetry.WorkerMetrics
	extractionMetrics *telemetry.ExtractionMetrics
	tracer            trace.Tracer
	orchestratorOpts  []extraction.Option
}

// Option configures a Worker
type Option func(*Worker)

// WithTimeout sets the invocation deadline
func WithTimeout(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.timeout = d
		}
	}
}

// WithEmitTimeout bounds the delivery of the final signal
func WithEmitTimeout(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.emitTimeout = d
		}
	}
}

// WithMetrics records worker and extraction metrics
func WithMetrics(wm *telemetry.WorkerMetrics, em *telemetry.ExtractionMetrics) Option {
	return func(w *Worker) {
		w.metrics = wm
		w.extractionMetrics = em
	}
}

// WithTracer records a span per event
func WithTracer(t trace.Tracer) Option {
	return func(w *Worker) {
		w.tracer = t
	}
}

// WithOrchestratorOptions passes options to every orchestrator the worker creates
func WithOrchestratorOptions(opts ...extraction.Option) Option {
	return func(w *Worker) {
		w.orchestratorOpts = append(w.orchestratorOpts, opts...)
	}
}

// New creates a Worker
func New(newClient ClientFactory, ledgers ledger.Store, store *artifacts.Store, emitter Emitter, opts ...Option) *Worker {
	w := &Worker{
		newClient:   newClient,
		ledgers:     ledgers,
		store:       store,
		emitter:     emitter,
		timeout:     DefaultTimeout,
		emitTimeout: DefaultEmitTimeout,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Handle runs the phase requested by ev and emits its signal. The returned
// signal is the one sent, or attempted, to the callback URL. An error is
// returned only when the signal could not be delivered.
func (w *Worker) Handle(ctx context.Context, ev event.Event) (event.Signal, error) {
	started := time.Now()
	env := ev.Envelope()
	ec := env.Payload.EventContext

	ctx, span := otel.StartSpan(ctx, w.tracer, "worker.handle",
		trace.WithAttributes(
			otel.AttrEventType.String(string(ev.Type())),
			otel.AttrBoardID.String(ec.ExternalSyncUnitID),
		),
	)
	defer span.End()

	logger := slog.Default().With("eventType", string(ev.Type()), "syncUnit", ec.ExternalSyncUnitID)
	ctx = logr.NewContext(ctx, logr.FromSlogHandler(logger.Handler()))
	logger.InfoContext(ctx, "Handling event", "requestId", ec.RequestID)

	runCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	var (
		signalType event.SignalType
		data       event.SignalData
	)
	switch e := ev.(type) {
	case *event.SyncUnitsStart:
		signalType, data = w.handleSyncUnits(runCtx, e)
	case *event.MetadataStart:
		signalType, data = w.handleMetadata(runCtx, e)
	case *event.DataExtraction:
		signalType, data = w.handleData(runCtx, e)
	case *event.AttachmentsExtraction:
		signalType, data = w.handleAttachments(runCtx, e)
	default:
		return event.Signal{}, fmt.Errorf("%w: %s", event.ErrUnrecognizedEvent, ev.Type())
	}

	signal := event.NewSignal(env, signalType, data)
	span.SetAttributes(otel.AttrSignal.String(string(signalType)))

	// The signal must go out even when the invocation deadline has passed.
	emitCtx, cancelEmit := context.WithTimeout(context.WithoutCancel(ctx), w.emitTimeout)
	defer cancelEmit()

	err := w.emitter.Emit(emitCtx, ec.CallbackURL, env.Context.Secrets.ServiceAccountToken, signal)
	w.metrics.RecordSignal(ctx, string(signalType), err == nil)
	w.metrics.RecordEvent(ctx, string(ev.Type()), time.Since(started))
	if err != nil {
		otel.RecordError(span, err)
		logger.ErrorContext(ctx, "Failed to emit signal", "signal", string(signalType), "error", err)
		return signal, fmt.Errorf("failed to emit %s: %w", signalType, err)
	}

	logger.InfoContext(ctx, "Signal emitted", "signal", string(signalType), "duration", time.Since(started))
	return signal, nil
}
