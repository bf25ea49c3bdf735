package observe

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// recordSpans installs an in-memory tracer provider as the global one for
// the duration of the test. Tests using it must not run in parallel.
func recordSpans(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

func spanAttrs(s tracetest.SpanStub) map[attribute.Key]attribute.Value {
	out := make(map[attribute.Key]attribute.Value, len(s.Attributes))
	for _, kv := range s.Attributes {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestCommandSpan(t *testing.T) {
	tests := []struct {
		name       string
		intent     string
		reason     string
		success    bool
		cause      error
		wantStatus codes.Code
		wantEvents int
	}{
		{name: "success", intent: "scroll_down", reason: "ok", success: true, wantStatus: codes.Unset},
		{name: "not found", intent: "click", reason: "not_found", wantStatus: codes.Error},
		{name: "page error", intent: "submit_form", reason: "page_error", cause: errors.New("detached"), wantStatus: codes.Error, wantEvents: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exp := recordSpans(t)

			ctx, span := StartCommandSpan(context.Background(), SpanExecute, tt.intent)
			if CorrelationID(ctx) == "" {
				t.Error("command span carries no trace id")
			}
			EndCommandSpan(span, tt.reason, tt.success, tt.cause)

			spans := exp.GetSpans()
			if len(spans) != 1 {
				t.Fatalf("recorded %d spans, want 1", len(spans))
			}
			s := spans[0]
			if s.Name != SpanExecute {
				t.Errorf("name = %q, want %q", s.Name, SpanExecute)
			}
			attrs := spanAttrs(s)
			if got := attrs[AttrIntent].AsString(); got != tt.intent {
				t.Errorf("intent = %q, want %q", got, tt.intent)
			}
			if got := attrs[AttrOutcome].AsString(); got != tt.reason {
				t.Errorf("outcome = %q, want %q", got, tt.reason)
			}
			if got := attrs[AttrSuccess].AsBool(); got != tt.success {
				t.Errorf("success = %v, want %v", got, tt.success)
			}
			if s.Status.Code != tt.wantStatus {
				t.Errorf("status = %v, want %v", s.Status.Code, tt.wantStatus)
			}
			if tt.wantStatus == codes.Error && s.Status.Description != tt.reason {
				t.Errorf("status description = %q, want %q", s.Status.Description, tt.reason)
			}
			if len(s.Events) != tt.wantEvents {
				t.Errorf("events = %d, want %d", len(s.Events), tt.wantEvents)
			}
		})
	}
}

func TestCommandSpan_NestsUnderDispatch(t *testing.T) {
	exp := recordSpans(t)

	ctx, dispatch := StartCommandSpan(context.Background(), SpanDispatch, "click")
	_, execute := StartCommandSpan(ctx, SpanExecute, "click")
	EndCommandSpan(execute, "ok", true, nil)
	EndCommandSpan(dispatch, "ok", true, nil)

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("recorded %d spans, want 2", len(spans))
	}
	child, parent := spans[0], spans[1]
	if child.Parent.SpanID() != parent.SpanContext.SpanID() {
		t.Error("execute span is not a child of the dispatch span")
	}
	if child.SpanContext.TraceID() != parent.SpanContext.TraceID() {
		t.Error("execute span left the dispatch trace")
	}
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	Logger(context.Background()).Info("session: plain")
	if strings.Contains(buf.String(), "trace_id") {
		t.Errorf("log without span has trace_id: %s", buf.String())
	}

	buf.Reset()
	recordSpans(t)
	ctx, span := StartCommandSpan(context.Background(), SpanDispatch, "scroll_up")
	defer span.End()
	Logger(ctx).Info("session: traced")

	out := buf.String()
	if !strings.Contains(out, "trace_id="+CorrelationID(ctx)) {
		t.Errorf("log missing trace_id of the span: %s", out)
	}
	if !strings.Contains(out, "span_id=") {
		t.Errorf("log missing span_id: %s", out)
	}
}
