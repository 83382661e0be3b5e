// Package otel holds span helpers and the attribute keys shared by the
// extraction pipeline's traces.
package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys used on extraction spans
const (
	AttrEventType   = attribute.Key("extraction.event_type")
	AttrMode        = attribute.Key("extraction.mode")
	AttrRunKey      = attribute.Key("extraction.run_key")
	AttrEntity      = attribute.Key("extraction.entity")
	AttrSignal      = attribute.Key("extraction.signal")
	AttrBoardID     = attribute.Key("trello.board.id")
	AttrPageSize    = attribute.Key("pagination.limit")
	AttrHasCursor   = attribute.Key("pagination.has_cursor")
	AttrResultCount = attribute.Key("result.count")
)

// StartSpan starts a span on tracer, or returns the span already in ctx when
// tracer is nil so callers never need to check whether tracing is on.
func StartSpan(
	ctx context.Context,
	tracer trace.Tracer,
	name string,
	opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, name, opts...)
}

// RecordError records err on span and marks the span failed.
// The status description stays generic; Trello tokens can appear in upstream
// error text, which is kept only in the span event.
func RecordError(span trace.Span, err error) {
	if err != nil && span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "operation failed")
	}
}
