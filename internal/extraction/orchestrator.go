// Package extraction drives the resumable extraction of a Trello board.
//
// The Orchestrator reads the run ledger, advances exactly one phase at a time
// (users, labels, then card pages, or attachments) and persists progress after every
// unit of work, so an invocation cut short by its deadline resumes where the
// previous one stopped. Each call ends in exactly one Outcome, which the
// caller turns into a platform signal.
package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/trello-extractor/internal/artifacts"
	"github.com/stacklok/trello-extractor/internal/attachments"
	"github.com/stacklok/trello-extractor/internal/event"
	"github.com/stacklok/trello-extractor/internal/ledger"
	"github.com/stacklok/trello-extractor/internal/normalize"
	"github.com/stacklok/trello-extractor/internal/otel"
	"github.com/stacklok/trello-extractor/internal/ratelimit"
	"github.com/stacklok/trello-extractor/internal/telemetry"
	"github.com/stacklok/trello-extractor/internal/trello"
)

// DefaultPageSize is the number of cards requested per page
const DefaultPageSize = 100

const (
	usersPartKey  = "users"
	labelsPartKey = "labels"
	firstPageKey  = "start"
)

// Client is the subset of the Trello API the orchestrator uses
type Client interface {
	CardLister
	attachments.Downloader
	ListOrganizationMembers(ctx context.Context, orgID string) ([]trello.Member, error)
	GetMember(ctx context.Context, memberID string) (*trello.Member, error)
	ListBoardLabels(ctx context.Context, boardID string) ([]trello.Label, error)
	ListBoardLists(ctx context.Context, boardID string) ([]trello.List, error)
	ListCardComments(ctx context.Context, cardID string) ([]trello.Action, error)
	ListCardCreateActions(ctx context.Context, cardID string) ([]trello.Action, error)
}

// Signal is the terminal state of one orchestrator call
type Signal string

const (
	// SignalDone means every phase required by the call finished
	SignalDone Signal = "done"

	// SignalProgress means work remains and the platform should invoke again
	SignalProgress Signal = "progress"

	// SignalDelay means upstream or the sink asked to pause for Outcome.Delay
	SignalDelay Signal = "delay"

	// SignalError means the phase failed and will not be retried
	SignalError Signal = "error"
)

// Outcome is the result of RunData or RunAttachments
type Outcome struct {
	Signal Signal

	// Delay is set when Signal is SignalDelay
	Delay time.Duration

	// Err is set for SignalError, and for SignalDelay when upstream caused the pause
	Err *Error

	// Artifacts is the run manifest, set only for a done data phase
	Artifacts []artifacts.Artifact

	// Streamed and FailedAttachments describe an attachments call
	Streamed          int
	FailedAttachments []*attachments.StreamError
}

// DataPhaseDone reports whether the data phase of the run recorded in state
// finished. In incremental mode cards never complete durably, so an exhausted
// pagination counts as done for the current run.
func DataPhaseDone(state ledger.State, mode event.Mode) bool {
	if !state.Users.Completed || !state.Labels.Completed {
		return false
	}
	return state.Cards.Completed || (mode == event.ModeIncremental && state.Cards.Exhausted)
}

// Orchestrator runs the data and attachments phases of one run key
type Orchestrator struct {
	client     Client
	fetcher    *Fetcher
	ledger     *ledger.Ledger
	store      *artifacts.Store
	classifier ratelimit.Classifier
	metrics    *telemetry.ExtractionMetrics
	tracer     trace.Tracer

	pageSize         int
	attachmentBudget int64
	now              func() time.Time
	newRunID         func() string
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithPageSize sets the number of cards requested per page
func WithPageSize(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.pageSize = n
		}
	}
}

// WithMetrics records extraction metrics; nil disables them
func WithMetrics(m *telemetry.ExtractionMetrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithTracer records spans for every page; nil disables tracing
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) {
		o.tracer = t
	}
}

// WithAttachmentBudget caps the attachment bytes one call may write
func WithAttachmentBudget(maxBytes int64) Option {
	return func(o *Orchestrator) {
		o.attachmentBudget = maxBytes
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// WithRunIDGenerator replaces the uuid v7 run id generator
func WithRunIDGenerator(gen func() string) Option {
	return func(o *Orchestrator) {
		o.newRunID = gen
	}
}

// New creates an Orchestrator for the run whose progress l holds
func New(client Client, l *ledger.Ledger, store *artifacts.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		client:   client,
		fetcher:  NewFetcher(client),
		ledger:   l,
		store:    store,
		pageSize: DefaultPageSize,
		now:      time.Now,
		newRunID: func() string { return uuid.Must(uuid.NewV7()).String() },
	}
	for _, opt := range opts {
		opt(o)
	}
	o.classifier = ratelimit.Classifier{Now: o.now}
	return o
}

// RunData extracts users and then card pages until the data phase is done,
// the context expires, or a failure occurs. start is true for the event that
// opens the data phase.
func (o *Orchestrator) RunData(ctx context.Context, rc event.RunContext, start bool) Outcome {
	ctx, span := otel.StartSpan(ctx, o.tracer, "extraction.data",
		trace.WithAttributes(
			otel.AttrBoardID.String(rc.BoardID),
			otel.AttrRunKey.String(rc.RunKey),
			otel.AttrMode.String(string(rc.Mode)),
		),
	)
	defer span.End()

	ctx = logr.NewContext(ctx, logr.FromContextOrDiscard(ctx).WithValues("board", rc.BoardID, "runKey", rc.RunKey))
	out := o.runData(ctx, rc, start)

	span.SetAttributes(otel.AttrSignal.String(string(out.Signal)))
	if out.Err != nil {
		otel.RecordError(span, out.Err)
	}
	return out
}

func (o *Orchestrator) runData(ctx context.Context, rc event.RunContext, start bool) Outcome {
	logger := logr.FromContextOrDiscard(ctx)

	state, perr := o.prepareRun(ctx, rc, start)
	if perr != nil {
		return errorOutcome(perr)
	}

	run, err := o.store.Run(rc.RunKey, state.Run.ID)
	if err != nil {
		return errorOutcome(persistError(err, "artifacts"))
	}

	if !state.Users.Completed {
		if ctx.Err() != nil {
			return Outcome{Signal: SignalProgress}
		}
		next, e := o.extractUsers(ctx, rc, run, state)
		if e != nil {
			return o.failure(ctx, e)
		}
		state = next
	}

	if !state.Labels.Completed {
		if ctx.Err() != nil {
			return Outcome{Signal: SignalProgress}
		}
		next, e := o.extractLabels(ctx, rc, run, state)
		if e != nil {
			return o.failure(ctx, e)
		}
		state = next
	}

	var lists map[string]string
	if !DataPhaseDone(state, rc.Mode) {
		if ctx.Err() != nil {
			return Outcome{Signal: SignalProgress}
		}
		var e *Error
		if lists, e = o.listNames(ctx, rc); e != nil {
			return o.failure(ctx, e)
		}
	}

	for !DataPhaseDone(state, rc.Mode) {
		if ctx.Err() != nil {
			logger.Info("Invocation deadline reached, reporting progress", "cursor", deref(state.Cards.Cursor))
			return Outcome{Signal: SignalProgress}
		}
		next, e := o.extractCardsPage(ctx, rc, run, state, lists)
		if e != nil {
			return o.failure(ctx, e)
		}
		state = next
	}

	return o.finishData(ctx, run, state)
}

// prepareRun opens a new run when none is in flight, the previous one
// finished, or the sync mode changed. A start event for an incremental run
// in flight reopens its cards entry so at least one page is scanned again,
// keeping the cursor and watermark the run already recorded.
func (o *Orchestrator) prepareRun(ctx context.Context, rc event.RunContext, start bool) (ledger.State, *Error) {
	logger := logr.FromContextOrDiscard(ctx)
	state := o.ledger.Read()
	persistCtx := context.WithoutCancel(ctx)

	var update ledger.Update
	switch {
	case state.Run.ID == "" || state.Run.Mode != string(rc.Mode) || (start && dataRunFinished(state)):
		startedAt := o.now().UTC()
		cards := ledger.CardsState{}
		if rc.Mode == event.ModeIncremental {
			cards.ModifiedSince = watermark(rc, state)
		}
		update = ledger.Update{
			Users:       &ledger.UsersState{},
			Labels:      &ledger.LabelsState{},
			Cards:       &cards,
			Attachments: &ledger.AttachmentsState{},
			Run:         &ledger.Run{ID: o.newRunID(), Mode: string(rc.Mode), StartedAt: &startedAt},
		}
		logger.Info("Starting extraction run",
			"runId", update.Run.ID,
			"mode", rc.Mode,
			"modifiedSince", cards.ModifiedSince,
		)
	case start && rc.Mode == event.ModeIncremental:
		cards := state.Cards
		cards.Completed = false
		cards.Exhausted = false
		if cards.ModifiedSince == nil {
			cards.ModifiedSince = watermark(rc, state)
		}
		update = ledger.Update{Cards: &cards}
		logger.Info("Reopening incremental run", "runId", state.Run.ID, "cursor", deref(cards.Cursor))
	default:
		return state, nil
	}

	next, err := o.ledger.Write(persistCtx, update)
	if err != nil {
		return state, persistError(err, "ledger")
	}
	return next, nil
}

func (o *Orchestrator) extractUsers(
	ctx context.Context, rc event.RunContext, run *artifacts.Run, state ledger.State,
) (ledger.State, *Error) {
	logger := logr.FromContextOrDiscard(ctx)
	if rc.OrgID == "" {
		return state, fatalError("organization id is missing from the connection data")
	}

	ctx, span := otel.StartSpan(ctx, o.tracer, "extraction.users",
		trace.WithAttributes(otel.AttrEntity.String(string(ledger.EntityUsers))))
	defer span.End()

	started := o.now()
	members, err := o.client.ListOrganizationMembers(ctx, rc.OrgID)
	if err != nil {
		o.metrics.RecordPage(ctx, string(ledger.EntityUsers), o.now().Sub(started), false)
		e := upstreamError(err, o.classifier.Classify(err))
		otel.RecordError(span, e)
		return state, e
	}

	items := make([]any, 0, len(members))
	for _, m := range members {
		email, e := o.memberEmail(ctx, m.ID)
		if e != nil {
			o.metrics.RecordPage(ctx, string(ledger.EntityUsers), o.now().Sub(started), false)
			otel.RecordError(span, e)
			return state, e
		}
		m.Email = email
		items = append(items, normalize.User(m))
	}

	persistCtx := context.WithoutCancel(ctx)
	if err := run.WritePart(persistCtx, artifacts.ItemTypeUsers, usersPartKey, items); err != nil {
		return state, persistError(err, "users")
	}
	next, err := o.ledger.Write(persistCtx, ledger.Update{Users: &ledger.UsersState{Completed: true}})
	if err != nil {
		return state, persistError(err, "ledger")
	}

	o.metrics.RecordItems(ctx, artifacts.ItemTypeUsers, len(items))
	o.metrics.RecordPage(ctx, string(ledger.EntityUsers), o.now().Sub(started), true)
	span.SetAttributes(otel.AttrResultCount.Int(len(items)))
	logger.Info("Extracted users", "count", len(items))
	return next, nil
}

// memberEmail looks up the email of one member. Members whose details cannot
// be read keep an empty email; throttled and transient failures abort the phase.
func (o *Orchestrator) memberEmail(ctx context.Context, memberID string) (string, *Error) {
	member, err := o.client.GetMember(ctx, memberID)
	if err != nil {
		e := upstreamError(err, o.classifier.Classify(err))
		if e.Retryable() || ctx.Err() != nil {
			return "", e
		}
		logr.FromContextOrDiscard(ctx).V(1).Info("Member details unavailable", "member", memberID, "reason", e.Message)
		return "", nil
	}
	return member.Email, nil
}

func (o *Orchestrator) extractLabels(
	ctx context.Context, rc event.RunContext, run *artifacts.Run, state ledger.State,
) (ledger.State, *Error) {
	ctx, span := otel.StartSpan(ctx, o.tracer, "extraction.labels",
		trace.WithAttributes(otel.AttrEntity.String(string(ledger.EntityLabels))))
	defer span.End()

	started := o.now()
	labels, err := o.client.ListBoardLabels(ctx, rc.BoardID)
	if err != nil {
		o.metrics.RecordPage(ctx, string(ledger.EntityLabels), o.now().Sub(started), false)
		e := upstreamError(err, o.classifier.Classify(err))
		otel.RecordError(span, e)
		return state, e
	}

	items := make([]any, 0, len(labels))
	for _, l := range labels {
		items = append(items, normalize.Label(l))
	}

	persistCtx := context.WithoutCancel(ctx)
	if err := run.WritePart(persistCtx, artifacts.ItemTypeLabels, labelsPartKey, items); err != nil {
		return state, persistError(err, "labels")
	}
	next, err := o.ledger.Write(persistCtx, ledger.Update{Labels: &ledger.LabelsState{Completed: true}})
	if err != nil {
		return state, persistError(err, "ledger")
	}

	o.metrics.RecordItems(ctx, artifacts.ItemTypeLabels, len(items))
	o.metrics.RecordPage(ctx, string(ledger.EntityLabels), o.now().Sub(started), true)
	span.SetAttributes(otel.AttrResultCount.Int(len(items)))
	logr.FromContextOrDiscard(ctx).Info("Extracted labels", "count", len(items))
	return next, nil
}

// listNames maps the id of every board list to its name
func (o *Orchestrator) listNames(ctx context.Context, rc event.RunContext) (map[string]string, *Error) {
	lists, err := o.client.ListBoardLists(ctx, rc.BoardID)
	if err != nil {
		return nil, upstreamError(err, o.classifier.Classify(err))
	}
	names := make(map[string]string, len(lists))
	for _, l := range lists {
		names[l.ID] = l.Name
	}
	return names, nil
}

// cardCreator returns the member that created the card, empty when the
// creation action is no longer visible
func (o *Orchestrator) cardCreator(ctx context.Context, cardID string) (string, error) {
	actions, err := o.client.ListCardCreateActions(ctx, cardID)
	if err != nil || len(actions) == 0 {
		return "", err
	}
	return actions[0].IDMemberCreator, nil
}

// extractCardsPage fetches the page after the ledger cursor, stores its cards,
// comments and attachment descriptors, and then advances the cursor. On any
// failure the ledger is left as it was so the same page is requested again.
func (o *Orchestrator) extractCardsPage(
	ctx context.Context, rc event.RunContext, run *artifacts.Run, state ledger.State, lists map[string]string,
) (ledger.State, *Error) {
	logger := logr.FromContextOrDiscard(ctx)
	cursor := state.Cards.Cursor

	ctx, span := otel.StartSpan(ctx, o.tracer, "extraction.cards.page",
		trace.WithAttributes(
			otel.AttrEntity.String(string(ledger.EntityCards)),
			otel.AttrPageSize.Int(o.pageSize),
			otel.AttrHasCursor.Bool(cursor != nil),
		),
	)
	defer span.End()

	started := o.now()
	fail := func(e *Error) (ledger.State, *Error) {
		o.metrics.RecordPage(ctx, string(ledger.EntityCards), o.now().Sub(started), false)
		otel.RecordError(span, e)
		return state, e
	}

	page, err := o.fetcher.Fetch(ctx, rc.BoardID, o.pageSize, cursor)
	if err != nil {
		return fail(upstreamError(err, o.classifier.Classify(err)))
	}
	if cursor != nil && page.NextCursor != nil && *page.NextCursor == *cursor {
		return fail(fatalError("pagination did not advance past card %s", *cursor))
	}

	kept := FilterModifiedSince(page.Cards, state.Cards.ModifiedSince)

	cards := make([]any, 0, len(kept))
	comments := []any{}
	descriptors := []any{}
	for _, c := range kept {
		actions, err := o.client.ListCardComments(ctx, c.ID)
		if err != nil {
			return fail(upstreamError(err, o.classifier.Classify(err)))
		}
		creator, err := o.cardCreator(ctx, c.ID)
		if err != nil {
			return fail(upstreamError(err, o.classifier.Classify(err)))
		}
		cards = append(cards, normalize.Card(c, creator, lists[c.IDList]))
		for _, a := range actions {
			comments = append(comments, normalize.Comment(a, rc.BoardID))
		}
		for _, a := range c.Attachments {
			descriptors = append(descriptors, normalize.CardAttachment(a, c.ID))
		}
	}

	// parts are keyed by the cursor the page was requested with, so a page
	// fetched again after an interruption replaces its earlier copy
	partKey := firstPageKey
	if cursor != nil {
		partKey = *cursor
	}
	persistCtx := context.WithoutCancel(ctx)
	parts := []struct {
		itemType string
		items    []any
	}{
		{artifacts.ItemTypeCards, cards},
		{artifacts.ItemTypeComments, comments},
		{artifacts.ItemTypeAttachments, descriptors},
	}
	for _, p := range parts {
		if err := run.WritePart(persistCtx, p.itemType, partKey, p.items); err != nil {
			return fail(persistError(err, p.itemType))
		}
	}

	next := ledger.CardsState{ModifiedSince: state.Cards.ModifiedSince}
	if page.Done {
		next.Exhausted = true
		next.Completed = rc.Mode == event.ModeInitial
	} else {
		next.Cursor = page.NextCursor
	}
	written, err := o.ledger.Write(persistCtx, ledger.Update{Cards: &next})
	if err != nil {
		return fail(persistError(err, "ledger"))
	}

	for _, p := range parts {
		o.metrics.RecordItems(ctx, p.itemType, len(p.items))
	}
	o.metrics.RecordPage(ctx, string(ledger.EntityCards), o.now().Sub(started), true)
	span.SetAttributes(otel.AttrResultCount.Int(len(kept)))
	logger.V(1).Info("Extracted card page",
		"cursor", deref(cursor),
		"fetched", len(page.Cards),
		"kept", len(kept),
		"comments", len(comments),
		"done", page.Done,
	)
	return written, nil
}

func (o *Orchestrator) finishData(ctx context.Context, run *artifacts.Run, state ledger.State) Outcome {
	logger := logr.FromContextOrDiscard(ctx)
	persistCtx := context.WithoutCancel(ctx)

	manifest, err := run.Compact(persistCtx)
	if err != nil {
		return errorOutcome(persistError(err, "artifacts"))
	}

	if !sameTime(state.LastSuccessfulSyncStarted, state.Run.StartedAt) {
		if _, err := o.ledger.Write(persistCtx, ledger.Update{LastSuccessfulSyncStarted: state.Run.StartedAt}); err != nil {
			return errorOutcome(persistError(err, "ledger"))
		}
	}

	logger.Info("Data extraction done",
		"runId", state.Run.ID,
		"users", artifacts.Count(manifest, artifacts.ItemTypeUsers),
		"labels", artifacts.Count(manifest, artifacts.ItemTypeLabels),
		"cards", artifacts.Count(manifest, artifacts.ItemTypeCards),
		"comments", artifacts.Count(manifest, artifacts.ItemTypeComments),
		"attachments", artifacts.Count(manifest, artifacts.ItemTypeAttachments),
	)
	return Outcome{Signal: SignalDone, Artifacts: manifest}
}

// RunAttachments streams the attachments recorded by the finished data phase,
// resuming after the last one the ledger marks as handled.
func (o *Orchestrator) RunAttachments(ctx context.Context, rc event.RunContext) Outcome {
	ctx, span := otel.StartSpan(ctx, o.tracer, "extraction.attachments",
		trace.WithAttributes(
			otel.AttrBoardID.String(rc.BoardID),
			otel.AttrRunKey.String(rc.RunKey),
			otel.AttrEntity.String(string(ledger.EntityAttachments)),
		),
	)
	defer span.End()

	ctx = logr.NewContext(ctx, logr.FromContextOrDiscard(ctx).WithValues("board", rc.BoardID, "runKey", rc.RunKey))
	out := o.runAttachments(ctx, rc)

	span.SetAttributes(otel.AttrSignal.String(string(out.Signal)))
	if out.Err != nil {
		otel.RecordError(span, out.Err)
	}
	return out
}

func (o *Orchestrator) runAttachments(ctx context.Context, rc event.RunContext) Outcome {
	logger := logr.FromContextOrDiscard(ctx)
	state := o.ledger.Read()

	if state.Run.ID == "" || !DataPhaseDone(state, event.Mode(state.Run.Mode)) {
		return errorOutcome(fatalError("attachments requested before data extraction finished"))
	}
	if state.Attachments.Completed {
		return Outcome{Signal: SignalDone}
	}

	run, err := o.store.Run(rc.RunKey, state.Run.ID)
	if err != nil {
		return errorOutcome(persistError(err, "artifacts"))
	}

	descriptors, err := readDescriptors(ctx, run)
	if err != nil {
		if ctx.Err() != nil {
			return Outcome{Signal: SignalProgress}
		}
		return errorOutcome(fatalError("failed to read attachment descriptors: %v", err))
	}

	startAt := 0
	if state.Attachments.LastProcessed != nil {
		startAt = *state.Attachments.LastProcessed + 1
	}

	sink := artifacts.NewAttachmentSink(run, o.attachmentBudget)
	checkpoint := func(ctx context.Context, index int) error {
		_, err := o.ledger.Write(context.WithoutCancel(ctx), ledger.Update{
			Attachments: &ledger.AttachmentsState{LastProcessed: &index},
		})
		return err
	}

	result := attachments.NewRelay(o.client).Stream(ctx, descriptors, startAt, sink, checkpoint)
	o.metrics.RecordAttachmentBytes(ctx, sink.Written())
	o.metrics.RecordItems(ctx, artifacts.ItemTypeAttachments, result.Streamed)

	out := Outcome{Streamed: result.Streamed, FailedAttachments: result.Failed}
	switch result.State {
	case attachments.StateDone:
		done := ledger.AttachmentsState{Completed: true}
		if n := len(descriptors); n > 0 {
			last := n - 1
			done.LastProcessed = &last
		}
		if _, err := o.ledger.Write(context.WithoutCancel(ctx), ledger.Update{Attachments: &done}); err != nil {
			return errorOutcome(persistError(err, "ledger"))
		}
		logger.Info("Attachments extraction done",
			"total", len(descriptors),
			"streamed", result.Streamed,
			"failed", len(result.Failed),
		)
		out.Signal = SignalDone
	case attachments.StateDelayed:
		out.Signal = SignalDelay
		out.Delay = result.Delay
	case attachments.StateErrored:
		out.Signal = SignalError
		out.Err = persistError(result.Err, "attachment")
	default:
		out.Signal = SignalProgress
	}
	return out
}

func readDescriptors(ctx context.Context, run *artifacts.Run) ([]attachments.Descriptor, error) {
	var out []attachments.Descriptor
	err := run.ReadItems(ctx, artifacts.ItemTypeAttachments, func(raw json.RawMessage) error {
		var d attachments.Descriptor
		if err := json.Unmarshal(raw, &d); err != nil {
			return fmt.Errorf("invalid attachment descriptor: %w", err)
		}
		out = append(out, d)
		return nil
	})
	return out, err
}

// failure maps an extraction error to an outcome. Upstream errors raised
// because the invocation deadline fired are reported as progress.
func (o *Orchestrator) failure(ctx context.Context, e *Error) Outcome {
	logger := logr.FromContextOrDiscard(ctx)

	persistFailure := e.Kind == KindLedgerWrite || e.Kind == KindArtifactWrite
	if !persistFailure && ctx.Err() != nil {
		logger.Info("Invocation deadline reached during upstream call, reporting progress")
		return Outcome{Signal: SignalProgress}
	}

	if e.Retryable() {
		logger.Info("Upstream asked to back off", "kind", e.Kind, "delay", e.RetryDelay, "reason", e.Message)
		return Outcome{Signal: SignalDelay, Delay: e.RetryDelay, Err: e}
	}

	logger.Error(e.Err, "Extraction failed", "kind", e.Kind)
	return errorOutcome(e)
}

func errorOutcome(e *Error) Outcome {
	return Outcome{Signal: SignalError, Err: e}
}

// watermark picks the incremental lower bound: the event value, then the
// start of the last successful run, then whatever the ledger already holds
func watermark(rc event.RunContext, state ledger.State) *time.Time {
	switch {
	case rc.ModifiedSince != nil:
		return rc.ModifiedSince
	case state.LastSuccessfulSyncStarted != nil:
		return state.LastSuccessfulSyncStarted
	default:
		return state.Cards.ModifiedSince
	}
}

// dataRunFinished reports whether the data phase of the recorded run was
// already reported done
func dataRunFinished(state ledger.State) bool {
	return state.Run.StartedAt != nil && sameTime(state.LastSuccessfulSyncStarted, state.Run.StartedAt)
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
