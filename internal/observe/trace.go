package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span names for command handling. A dispatch span covers parsing and
// execution of one transcript; the execute span nested in it covers the page
// work alone.
const (
	SpanDispatch = "session.dispatch"
	SpanExecute  = "action.execute"
)

// Attribute keys set on command spans.
const (
	AttrIntent  = attribute.Key("voicenav.intent")
	AttrOutcome = attribute.Key("voicenav.outcome")
	AttrSuccess = attribute.Key("voicenav.success")
)

// Tracer returns voicenav's tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(meterName)
}

// StartSpan starts a span on [Tracer]. The caller must end it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StartCommandSpan starts span name for an intent of the given kind.
// Finish it with [EndCommandSpan].
func StartCommandSpan(ctx context.Context, name, intent string) (context.Context, trace.Span) {
	return StartSpan(ctx, name, trace.WithAttributes(AttrIntent.String(intent)))
}

// EndCommandSpan records a command outcome on span and ends it. A failed
// command marks the span as an error described by reason; cause, when
// non-nil, is attached as an exception event.
func EndCommandSpan(span trace.Span, reason string, success bool, cause error) {
	span.SetAttributes(AttrOutcome.String(reason), AttrSuccess.Bool(success))
	if cause != nil {
		span.RecordError(cause)
	}
	if !success {
		span.SetStatus(codes.Error, reason)
	}
	span.End()
}

// CorrelationID returns the trace ID of the span in ctx, or "" without one.
// It is echoed to clients as X-Correlation-ID.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger with trace_id and span_id attached when
// ctx carries a span.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
