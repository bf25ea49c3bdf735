package observe

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// instrumented wraps h in the middleware over fresh metrics and spans.
func instrumented(t *testing.T, h http.HandlerFunc) (http.Handler, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	exp := recordSpans(t)
	return Middleware(m)(h), reader, exp
}

func requestDurations(t *testing.T, reader *sdkmetric.ManualReader) []metricdata.HistogramDataPoint[float64] {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "voicenav.http.request.duration")
	if met == nil {
		return nil
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("request duration is %T, want histogram", met.Data)
	}
	return hist.DataPoints
}

func TestMiddleware_Requests(t *testing.T) {
	tests := []struct {
		name        string
		method      string
		path        string
		traceparent string
		status      int
		wantTrace   string
	}{
		{name: "state", method: http.MethodGet, path: "/v1/state", status: http.StatusOK},
		{name: "rate limited command", method: http.MethodPost, path: "/v1/tabs/t1/requests", status: http.StatusTooManyRequests},
		{
			name:        "continues caller trace",
			method:      http.MethodGet,
			path:        "/v1/history",
			traceparent: "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01",
			status:      http.StatusOK,
			wantTrace:   "4bf92f3577b34da6a3ce929d0e0e4736",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			h, reader, exp := instrumented(t, func(w http.ResponseWriter, r *http.Request) {
				seen = CorrelationID(r.Context())
				w.WriteHeader(tt.status)
			})

			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.traceparent != "" {
				req.Header.Set("traceparent", tt.traceparent)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			if len(seen) != 32 {
				t.Errorf("handler correlation id = %q, want 32 hex chars", seen)
			}
			if tt.wantTrace != "" && seen != tt.wantTrace {
				t.Errorf("correlation id = %q, want caller trace %q", seen, tt.wantTrace)
			}
			if got := rec.Header().Get("X-Correlation-ID"); got != seen {
				t.Errorf("X-Correlation-ID = %q, want %q", got, seen)
			}

			spans := exp.GetSpans()
			if len(spans) != 1 {
				t.Fatalf("recorded %d spans, want 1", len(spans))
			}
			if want := "HTTP " + tt.method + " " + tt.path; spans[0].Name != want {
				t.Errorf("span = %q, want %q", spans[0].Name, want)
			}
			var code int64
			for _, a := range spans[0].Attributes {
				if a.Key == "http.response.status_code" {
					code = a.Value.AsInt64()
				}
			}
			if code != int64(tt.status) {
				t.Errorf("span status code = %d, want %d", code, tt.status)
			}

			points := requestDurations(t, reader)
			if len(points) != 1 || points[0].Count != 1 {
				t.Fatalf("duration points = %+v, want one sample", points)
			}
			attrs := points[0].Attributes
			if v, _ := attrs.Value("method"); v.AsString() != tt.method {
				t.Errorf("method attribute = %q, want %q", v.AsString(), tt.method)
			}
			if v, _ := attrs.Value("path"); v.AsString() != tt.path {
				t.Errorf("path attribute = %q, want %q", v.AsString(), tt.path)
			}
		})
	}
}

func TestMiddleware_Flushes(t *testing.T) {
	release := make(chan struct{})
	h, _, _ := instrumented(t, func(w http.ResponseWriter, r *http.Request) {
		f, ok := w.(http.Flusher)
		if !ok {
			t.Error("handler does not see an http.Flusher")
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "event: ready\n\n")
		f.Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	srv := httptest.NewServer(h)
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/mcp", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	if err != nil {
		t.Fatalf("reading flushed event while the handler is still open: %v", err)
	}
	if line != "event: ready\n" {
		t.Errorf("first line = %q, want the flushed event", line)
	}
}

func TestMiddleware_AllowsWebSocketUpgrade(t *testing.T) {
	done := make(chan struct{})
	h, reader, _ := instrumented(t, func(w http.ResponseWriter, r *http.Request) {
		defer close(done)
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("Accept behind middleware: %v", err)
			return
		}
		defer c.CloseNow()
		_ = c.Write(r.Context(), websocket.MessageText, []byte(`{"type":"hello"}`))
		// Block until the client closes the socket.
		_, _, _ = c.Read(r.Context())
	})
	srv := httptest.NewServer(h)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/ws", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.CloseNow()
	_, data, err := c.Read(ctx)
	if err != nil || string(data) != `{"type":"hello"}` {
		t.Fatalf("Read = %q, %v", data, err)
	}
	_ = c.Close(websocket.StatusNormalClosure, "")
	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("handler did not return after the socket closed")
	}

	// Upgraded connections are long-lived and stay out of the histogram.
	if points := requestDurations(t, reader); len(points) > 0 {
		t.Errorf("upgrade recorded in histogram: %+v", points)
	}
}
