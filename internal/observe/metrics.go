// Package observe provides voicenav's observability primitives:
// OpenTelemetry metrics and tracing, context-aware logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and scraped
// through the Prometheus exporter installed by [InitProvider]. Tests should
// build their own [Metrics] with [NewMetrics] over a manual reader instead
// of using [DefaultMetrics].
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope of all voicenav metrics.
const meterName = "github.com/MrWong99/voicenav"

// Metrics holds the application's metric instruments. The zero value is not
// usable; a nil *Metrics is, and records nothing.
type Metrics struct {
	// CommandDuration is the time from transcript to finished action.
	CommandDuration metric.Float64Histogram

	// STTDuration is the time from starting a recognition run to its result
	// or failure. Attribute: provider.
	STTDuration metric.Float64Histogram

	// Commands counts dispatched transcripts. Attributes: intent, outcome.
	Commands metric.Int64Counter

	// STTErrors counts recognition failures. Attribute: kind.
	STTErrors metric.Int64Counter

	// BroadcastFailures counts tab notifications that could not be
	// delivered.
	BroadcastFailures metric.Int64Counter

	// ToolCalls counts MCP tool invocations. Attributes: tool, status.
	ToolCalls metric.Int64Counter

	// ActiveSessions is the number of listening controllers attached to a
	// tab.
	ActiveSessions metric.Int64UpDownCounter

	// BreakerState is the circuit breaker state per backend: 0 closed,
	// 1 open, 2 half-open. Attribute: name.
	BreakerState metric.Int64Gauge

	// HTTPRequestDuration tracks request latency. Attributes: method, path.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds, covering DOM actions
// in milliseconds up to multi-second recognition runs.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20,
}

// NewMetrics creates all instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.CommandDuration, err = m.Float64Histogram("voicenav.command.duration",
		metric.WithDescription("Time from transcript to completed page action."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.STTDuration, err = m.Float64Histogram("voicenav.stt.duration",
		metric.WithDescription("Duration of speech recognition runs by provider."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Commands, err = m.Int64Counter("voicenav.commands.total",
		metric.WithDescription("Dispatched voice commands by intent and outcome."),
	); err != nil {
		return nil, err
	}
	if met.STTErrors, err = m.Int64Counter("voicenav.stt.errors",
		metric.WithDescription("Speech recognition failures by error kind."),
	); err != nil {
		return nil, err
	}
	if met.BroadcastFailures, err = m.Int64Counter("voicenav.broadcast.failures",
		metric.WithDescription("Tab state notifications that could not be delivered."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("voicenav.mcp.tool_calls",
		metric.WithDescription("MCP tool invocations by tool and status."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("voicenav.sessions.active",
		metric.WithDescription("Listening sessions attached to a connected tab."),
	); err != nil {
		return nil, err
	}
	if met.BreakerState, err = m.Int64Gauge("voicenav.circuit_breaker.state",
		metric.WithDescription("Circuit breaker state per backend (0 closed, 1 open, 2 half-open)."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("voicenav.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] built on
// [otel.GetMeterProvider]. It panics if instrument creation fails.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordCommand counts one dispatched command and its latency.
func (m *Metrics) RecordCommand(ctx context.Context, intent, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Commands.Add(ctx, 1, metric.WithAttributes(Attr("intent", intent), Attr("outcome", outcome)))
	m.CommandDuration.Record(ctx, d.Seconds(), metric.WithAttributes(Attr("intent", intent)))
}

// RecordRecognition records one recognition run. An empty kind means the
// run produced a result.
func (m *Metrics) RecordRecognition(ctx context.Context, provider, kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.STTDuration.Record(ctx, d.Seconds(), metric.WithAttributes(Attr("provider", provider)))
	if kind != "" {
		m.STTErrors.Add(ctx, 1, metric.WithAttributes(Attr("kind", kind)))
	}
}

// RecordToolCall counts one MCP tool invocation.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	if m == nil {
		return
	}
	m.ToolCalls.Add(ctx, 1, metric.WithAttributes(Attr("tool", tool), Attr("status", status)))
}

// RecordBroadcastFailure counts one undeliverable tab notification.
func (m *Metrics) RecordBroadcastFailure(ctx context.Context) {
	if m == nil {
		return
	}
	m.BroadcastFailures.Add(ctx, 1)
}

// RecordBreakerState stores the numeric state of the named breaker.
func (m *Metrics) RecordBreakerState(ctx context.Context, name string, state int) {
	if m == nil {
		return
	}
	m.BreakerState.Record(ctx, int64(state), metric.WithAttributes(Attr("name", name)))
}

// SessionStarted and SessionEnded maintain the active session gauge.
func (m *Metrics) SessionStarted(ctx context.Context) {
	if m != nil {
		m.ActiveSessions.Add(ctx, 1)
	}
}

func (m *Metrics) SessionEnded(ctx context.Context) {
	if m != nil {
		m.ActiveSessions.Add(ctx, -1)
	}
}
