package worker

import (
	"context"
	"errors"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/stacklok/trello-extractor/internal/event"
	"github.com/stacklok/trello-extractor/internal/extraction"
	"github.com/stacklok/trello-extractor/internal/ledger"
	"github.com/stacklok/trello-extractor/internal/metadata"
	"github.com/stacklok/trello-extractor/internal/ratelimit"
	"github.com/stacklok/trello-extractor/internal/syncunits"
	"github.com/stacklok/trello-extractor/internal/trello"
)

// phaseSignals are the signals one phase can end with
type phaseSignals struct {
	done     event.SignalType
	progress event.SignalType
	delay    event.SignalType
	failed   event.SignalType
}

var (
	dataSignals = phaseSignals{
		done:     event.SignalDataDone,
		progress: event.SignalDataProgress,
		delay:    event.SignalDataDelay,
		failed:   event.SignalDataError,
	}
	attachmentSignals = phaseSignals{
		done:     event.SignalAttachmentsDone,
		progress: event.SignalAttachmentsProgress,
		delay:    event.SignalAttachmentsDelay,
		failed:   event.SignalAttachmentsError,
	}
)

func (w *Worker) handleSyncUnits(ctx context.Context, e *event.SyncUnitsStart) (event.SignalType, event.SignalData) {
	logger := logr.FromContextOrDiscard(ctx)
	conn := e.Envelope().Payload.ConnectionData

	creds, err := trello.ParseConnectionKey(conn.Key)
	if err != nil {
		return event.SignalSyncUnitsError, errorData(err.Error())
	}

	units, err := syncunits.NewDiscoverer(w.newClient(creds)).Discover(ctx, conn.OrgID)
	if err != nil {
		if timedOut(ctx) {
			return event.SignalSyncUnitsError, errorData(TimeoutMessage)
		}
		logger.Error(err, "External sync units extraction failed")
		return event.SignalSyncUnitsError, errorData(err.Error())
	}

	logger.Info("External sync units extracted", "count", len(units))
	return event.SignalSyncUnitsDone, event.SignalData{ExternalSyncUnits: units}
}

func (w *Worker) handleMetadata(ctx context.Context, e *event.MetadataStart) (event.SignalType, event.SignalData) {
	logger := logr.FromContextOrDiscard(ctx)

	rc, err := event.RunContextOf(e.Envelope())
	if err != nil {
		return event.SignalMetadataError, errorData(err.Error())
	}

	// Every metadata invocation writes into a fresh run so a retried event
	// never reports the same artifact twice.
	run, err := w.store.Run(rc.RunKey, "metadata-"+uuid.Must(uuid.NewV7()).String())
	if err != nil {
		return event.SignalMetadataError, errorData(err.Error())
	}

	written, err := metadata.Extract(ctx, run)
	if err != nil {
		if timedOut(ctx) {
			return event.SignalMetadataError, errorData(TimeoutMessage)
		}
		logger.Error(err, "Metadata extraction failed")
		return event.SignalMetadataError, errorData(err.Error())
	}
	return event.SignalMetadataDone, event.SignalData{Artifacts: written}
}

func (w *Worker) handleData(ctx context.Context, e *event.DataExtraction) (event.SignalType, event.SignalData) {
	o, rc, failure := w.orchestrator(ctx, e.Envelope())
	if failure != nil {
		return event.SignalDataError, *failure
	}
	return signalFor(dataSignals, o.RunData(ctx, rc, !e.Continue))
}

func (w *Worker) handleAttachments(ctx context.Context, e *event.AttachmentsExtraction) (event.SignalType, event.SignalData) {
	o, rc, failure := w.orchestrator(ctx, e.Envelope())
	if failure != nil {
		return event.SignalAttachmentsError, *failure
	}
	return signalFor(attachmentSignals, o.RunAttachments(ctx, rc))
}

// orchestrator opens the ledger of the event's run. A non-nil SignalData is
// the error to report instead.
func (w *Worker) orchestrator(
	ctx context.Context, env *event.Envelope,
) (*extraction.Orchestrator, event.RunContext, *event.SignalData) {
	fail := func(message string) (*extraction.Orchestrator, event.RunContext, *event.SignalData) {
		data := errorData(message)
		return nil, event.RunContext{}, &data
	}

	rc, err := event.RunContextOf(env)
	if err != nil {
		return fail(err.Error())
	}
	creds, err := trello.ParseConnectionKey(env.Payload.ConnectionData.Key)
	if err != nil {
		return fail(err.Error())
	}

	l, err := ledger.Open(ctx, w.ledgers, rc.RunKey)
	if err != nil {
		logr.FromContextOrDiscard(ctx).Error(err, "Failed to open ledger", "runKey", rc.RunKey)
		return fail(err.Error())
	}

	opts := append([]extraction.Option{
		extraction.WithMetrics(w.extractionMetrics),
		extraction.WithTracer(w.tracer),
	}, w.orchestratorOpts...)
	return extraction.New(w.newClient(creds), l, w.store, opts...), rc, nil
}

func signalFor(phase phaseSignals, out extraction.Outcome) (event.SignalType, event.SignalData) {
	switch out.Signal {
	case extraction.SignalDone:
		return phase.done, event.SignalData{Artifacts: out.Artifacts}
	case extraction.SignalDelay:
		seconds := ratelimit.Seconds(out.Delay)
		return phase.delay, event.SignalData{Delay: &seconds}
	case extraction.SignalError:
		message := "unknown extraction failure"
		if out.Err != nil {
			message = out.Err.Message
		}
		return phase.failed, errorData(message)
	default:
		return phase.progress, event.SignalData{}
	}
}

func errorData(message string) event.SignalData {
	return event.SignalData{Error: &event.SignalError{Message: message}}
}

func timedOut(ctx context.Context) bool {
	return errors.Is(ctx.Err(), context.DeadlineExceeded)
}
