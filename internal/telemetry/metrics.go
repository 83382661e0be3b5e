package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// ExtractionMetricsMeterName is the meter used by the extraction pipeline
	ExtractionMetricsMeterName = "github.com/stacklok/trello-extractor/extraction"

	// WorkerMetricsMeterName is the meter used by the event worker
	WorkerMetricsMeterName = "github.com/stacklok/trello-extractor/worker"
)

// ExtractionMetrics holds the instruments recorded while pulling data from Trello.
// A nil *ExtractionMetrics is valid and records nothing.
type ExtractionMetrics struct {
	itemsExtracted  metric.Int64Counter
	pageDuration    metric.Float64Histogram
	attachmentBytes metric.Int64Counter
}

// NewExtractionMetrics creates the extraction instruments.
// If provider is nil, it returns nil (no-op metrics).
func NewExtractionMetrics(provider metric.MeterProvider) (*ExtractionMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(ExtractionMetricsMeterName)

	itemsExtracted, err := meter.Int64Counter(
		"trello_extractor_items_extracted_total",
		metric.WithDescription("Number of normalized items written to artifacts"),
		metric.WithUnit("{item}"),
	)
	if err != nil {
		return nil, err
	}

	pageDuration, err := meter.Float64Histogram(
		"trello_extractor_page_duration_seconds",
		metric.WithDescription("Time spent fetching, filtering and persisting one page"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60),
	)
	if err != nil {
		return nil, err
	}

	attachmentBytes, err := meter.Int64Counter(
		"trello_extractor_attachment_bytes_total",
		metric.WithDescription("Attachment bytes streamed to the sink"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	return &ExtractionMetrics{
		itemsExtracted:  itemsExtracted,
		pageDuration:    pageDuration,
		attachmentBytes: attachmentBytes,
	}, nil
}

// RecordItems adds n extracted items of the given item type
func (m *ExtractionMetrics) RecordItems(ctx context.Context, itemType string, n int) {
	if m == nil || m.itemsExtracted == nil || n <= 0 {
		return
	}
	m.itemsExtracted.Add(ctx, int64(n), metric.WithAttributes(attribute.String("item_type", itemType)))
}

// RecordPage records how long a page of the given entity took
func (m *ExtractionMetrics) RecordPage(ctx context.Context, entity string, duration time.Duration, success bool) {
	if m == nil || m.pageDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("entity", entity),
		attribute.Bool("success", success),
	}
	m.pageDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordAttachmentBytes adds streamed attachment bytes
func (m *ExtractionMetrics) RecordAttachmentBytes(ctx context.Context, n int64) {
	if m == nil || m.attachmentBytes == nil || n <= 0 {
		return
	}
	m.attachmentBytes.Add(ctx, n)
}

// WorkerMetrics holds the instruments recorded per handled event
type WorkerMetrics struct {
	signalsEmitted metric.Int64Counter
	eventDuration  metric.Float64Histogram
}

// NewWorkerMetrics creates the worker instruments.
// If provider is nil, it returns nil (no-op metrics).
func NewWorkerMetrics(provider metric.MeterProvider) (*WorkerMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(WorkerMetricsMeterName)

	signalsEmitted, err := meter.Int64Counter(
		"trello_extractor_signals_emitted_total",
		metric.WithDescription("Signals delivered to the callback URL"),
		metric.WithUnit("{signal}"),
	)
	if err != nil {
		return nil, err
	}

	eventDuration, err := meter.Float64Histogram(
		"trello_extractor_event_duration_seconds",
		metric.WithDescription("Duration of a single event invocation in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600, 900),
	)
	if err != nil {
		return nil, err
	}

	return &WorkerMetrics{
		signalsEmitted: signalsEmitted,
		eventDuration:  eventDuration,
	}, nil
}

// RecordSignal counts an emitted signal; delivered is false when every
// callback attempt failed
func (m *WorkerMetrics) RecordSignal(ctx context.Context, signal string, delivered bool) {
	if m == nil || m.signalsEmitted == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("signal", signal),
		attribute.Bool("delivered", delivered),
	}
	m.signalsEmitted.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordEvent records the wall time spent on one event
func (m *WorkerMetrics) RecordEvent(ctx context.Context, eventType string, duration time.Duration) {
	if m == nil || m.eventDuration == nil {
		return
	}
	m.eventDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("event_type", eventType)))
}
