package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName names the tracer and meter used across rowstream.
const InstrumentationName = "github.com/kbukum/rowstream"

const (
	SpanStreamSession = "stream.session"
	SpanHTTPRequest   = "http.request"
)

const (
	AttrSession      = "stream.session"
	AttrOutcome      = "stream.outcome"
	AttrRows         = "stream.rows"
	AttrHandle       = "cursor.handle"
	AttrRequestID    = "request.id"
	AttrErrorMessage = "error.message"
)

// StartSpan starts a span on the rowstream tracer.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer(InstrumentationName).Start(ctx, name, opts...)
}

// EndSpan sets attrs, records err as the span status when non-nil and ends
// the span.
func EndSpan(span trace.Span, err error, attrs ...attribute.KeyValue) {
	span.SetAttributes(attrs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
