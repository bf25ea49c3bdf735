package observe

import (
	"context"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumWhere returns the value of the int64 sum data point carrying key=value.
func sumWhere(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is %T, not a sum", name, met.Data)
	}
	for _, dp := range sum.DataPoints {
		if key == "" {
			return dp.Value
		}
		if v, ok := dp.Attributes.Value(Attr(key, "").Key); ok && v.AsString() == value {
			return dp.Value
		}
	}
	t.Fatalf("metric %q has no point with %s=%s", name, key, value)
	return 0
}

func histCount(t *testing.T, rm metricdata.ResourceMetrics, name string) uint64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("metric %q is %T, not a histogram", name, met.Data)
	}
	var n uint64
	for _, dp := range hist.DataPoints {
		n += dp.Count
	}
	return n
}

func TestRecordCommand(t *testing.T) {
	t.Parallel()
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordCommand(ctx, "click", "ok", 12*time.Millisecond)
	m.RecordCommand(ctx, "click", "not_found", 8*time.Millisecond)
	m.RecordCommand(ctx, "scroll_down", "ok", time.Millisecond)

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "voicenav.commands.total", "outcome", "not_found"); got != 1 {
		t.Errorf("not_found commands = %d, want 1", got)
	}
	if got := histCount(t, rm, "voicenav.command.duration"); got != 3 {
		t.Errorf("duration samples = %d, want 3", got)
	}
}

func TestRecordRecognition(t *testing.T) {
	t.Parallel()
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordRecognition(ctx, "deepgram", "", 900*time.Millisecond)
	m.RecordRecognition(ctx, "deepgram", "no-speech", 8*time.Second)
	m.RecordRecognition(ctx, "deepgram", "no-speech", 8*time.Second)

	rm := collect(t, reader)
	if got := histCount(t, rm, "voicenav.stt.duration"); got != 3 {
		t.Errorf("stt samples = %d, want 3", got)
	}
	if got := sumWhere(t, rm, "voicenav.stt.errors", "kind", "no-speech"); got != 2 {
		t.Errorf("no-speech errors = %d, want 2", got)
	}
}

func TestCountersAndGauges(t *testing.T) {
	t.Parallel()
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordToolCall(ctx, "run_command", "ok")
	m.RecordBroadcastFailure(ctx)
	m.RecordBroadcastFailure(ctx)
	m.SessionStarted(ctx)
	m.SessionStarted(ctx)
	m.SessionEnded(ctx)
	m.RecordBreakerState(ctx, "deepgram", 1)
	m.RecordBreakerState(ctx, "deepgram", 2)

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "voicenav.mcp.tool_calls", "tool", "run_command"); got != 1 {
		t.Errorf("tool calls = %d", got)
	}
	if got := sumWhere(t, rm, "voicenav.broadcast.failures", "", ""); got != 2 {
		t.Errorf("broadcast failures = %d", got)
	}
	if got := sumWhere(t, rm, "voicenav.sessions.active", "", ""); got != 1 {
		t.Errorf("active sessions = %d", got)
	}

	met := findMetric(rm, "voicenav.circuit_breaker.state")
	if met == nil {
		t.Fatal("breaker gauge not found")
	}
	g, ok := met.Data.(metricdata.Gauge[int64])
	if !ok || len(g.DataPoints) != 1 || g.DataPoints[0].Value != 2 {
		t.Errorf("breaker gauge = %+v", met.Data)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	t.Parallel()
	var m *Metrics
	ctx := context.Background()
	m.RecordCommand(ctx, "click", "ok", time.Millisecond)
	m.RecordRecognition(ctx, "x", "network", time.Second)
	m.RecordToolCall(ctx, "get_state", "ok")
	m.RecordBroadcastFailure(ctx)
	m.RecordBreakerState(ctx, "x", 0)
	m.SessionStarted(ctx)
	m.SessionEnded(ctx)
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different pointers")
	}
}
