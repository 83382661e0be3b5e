package otel

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func newTestTracer(t *testing.T) (*tracetest.InMemoryExporter, trace.Tracer) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return exporter, tp.Tracer("test")
}

func TestStartSpanNilTracer(t *testing.T) {
	t.Parallel()

	ctx, span := StartSpan(context.Background(), nil, "extraction.cards.page")
	require.NotNil(t, ctx)
	require.NotNil(t, span)
	assert.False(t, span.SpanContext().IsValid())
	assert.NotPanics(t, func() { span.End() })
}

func TestStartSpanRecordsAttributes(t *testing.T) {
	t.Parallel()

	exporter, tracer := newTestTracer(t)
	_, span := StartSpan(context.Background(), tracer, "extraction.cards.page",
		trace.WithAttributes(
			AttrBoardID.String("board-1"),
			AttrPageSize.Int(100),
		),
	)
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "extraction.cards.page", spans[0].Name)

	attrs := map[string]any{}
	for _, attr := range spans[0].Attributes {
		attrs[string(attr.Key)] = attr.Value.AsInterface()
	}
	assert.Equal(t, "board-1", attrs["trello.board.id"])
	assert.Equal(t, int64(100), attrs["pagination.limit"])
}

func TestRecordError(t *testing.T) {
	t.Parallel()

	assert.NotPanics(t, func() { RecordError(nil, errors.New("boom")) })

	exporter, tracer := newTestTracer(t)

	_, clean := tracer.Start(context.Background(), "clean")
	RecordError(clean, nil)
	clean.End()

	_, failed := tracer.Start(context.Background(), "failed")
	RecordError(failed, errors.New("GET /boards/x/cards?token=secret: 500"))
	failed.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)

	assert.Equal(t, codes.Unset, spans[0].Status.Code)
	assert.Empty(t, spans[0].Events)

	assert.Equal(t, codes.Error, spans[1].Status.Code)
	assert.Equal(t, "operation failed", spans[1].Status.Description)
	require.NotEmpty(t, spans[1].Events)
	assert.Equal(t, "exception", spans[1].Events[0].Name)
}
