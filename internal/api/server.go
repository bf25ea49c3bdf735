// Package api exposes tabs to clients over HTTP and WebSocket.
//
// A page client connects to GET /v1/ws?url=<page>. The server opens the page,
// starts a tab runtime for it and registers the tab with the presence
// coordinator. Text frames carry [ClientMessage] and [ServerMessage] JSON.
// Binary frames carry 16-bit little-endian microphone PCM.
//
// The plain HTTP routes serve the global state, the open tabs, the command
// history, and a request endpoint equivalent to a "request" frame.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/MrWong99/voicenav/internal/health"
	"github.com/MrWong99/voicenav/internal/history"
	"github.com/MrWong99/voicenav/internal/observe"
	"github.com/MrWong99/voicenav/internal/presence"
	"github.com/MrWong99/voicenav/internal/tab"
)

// ErrRateLimited is reported when a tab sends commands too fast.
var ErrRateLimited = errors.New("rate limited")

const maxRequestBytes = 64 << 10

// Tabs opens and closes tab runtimes. [*app.TabManager] implements it.
type Tabs interface {
	Open(ctx context.Context, url string) (*tab.Tab, error)
	Close(ctx context.Context, id string) error
	List(ctx context.Context) []tab.Info
}

// Coordinator answers presence requests. [*presence.Coordinator]
// implements it.
type Coordinator interface {
	Handle(ctx context.Context, tabID string, req presence.Request) presence.Response
	Activate(ctx context.Context, tabID string) error
	State() presence.GlobalState
}

var _ Coordinator = (*presence.Coordinator)(nil)

// History lists recent commands. [*history.Ring] implements it.
type History interface {
	List(limit int) []history.Entry
}

var _ History = (*history.Ring)(nil)

// Option configures a [Server].
type Option func(*Server)

// WithRateLimit limits commands per tab. A non-positive rate disables the
// limit.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(s *Server) { s.limits = newLimiters(perSecond, burst) }
}

// WithHistory serves GET /v1/history.
func WithHistory(h History) Option {
	return func(s *Server) { s.history = h }
}

// WithHealth mounts the liveness and readiness probes.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetrics records request metrics and serves metricsHandler on
// /metrics when it is non-nil.
func WithMetrics(m *observe.Metrics, metricsHandler http.Handler) Option {
	return func(s *Server) {
		s.metrics = m
		s.metricsHandler = metricsHandler
	}
}

// WithMount serves h under pattern, for example the MCP endpoint.
func WithMount(pattern string, h http.Handler) Option {
	return func(s *Server) { s.mounts = append(s.mounts, mount{pattern, h}) }
}

// WithOriginPatterns allows cross-origin WebSocket clients matching the
// given host patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.origins = patterns }
}

type mount struct {
	pattern string
	handler http.Handler
}

// Server routes HTTP and WebSocket traffic to tabs and the coordinator.
type Server struct {
	tabs  Tabs
	coord Coordinator

	history        History
	health         *health.Handler
	metrics        *observe.Metrics
	metricsHandler http.Handler
	mounts         []mount
	origins        []string
	limits         *limiters
}

// New creates a Server.
func New(tabs Tabs, coord Coordinator, opts ...Option) *Server {
	s := &Server{tabs: tabs, coord: coord, limits: newLimiters(0, 1)}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SetRateLimit changes the per-tab command limit at runtime.
func (s *Server) SetRateLimit(perSecond float64, burst int) {
	s.limits.update(perSecond, burst)
}

// Handler returns the routed handler wrapped in request telemetry.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/ws", s.serveWS)
	mux.HandleFunc("GET /v1/state", s.getState)
	mux.HandleFunc("GET /v1/tabs", s.listTabs)
	mux.HandleFunc("POST /v1/tabs/{id}/requests", s.postRequest)
	if s.history != nil {
		mux.HandleFunc("GET /v1/history", s.getHistory)
	}
	if s.health != nil {
		s.health.Register(mux)
	}
	if s.metricsHandler != nil {
		mux.Handle("GET /metrics", s.metricsHandler)
	}
	for _, m := range s.mounts {
		mux.Handle(m.pattern, m.handler)
	}
	return observe.Middleware(s.metrics)(mux)
}

// request answers a presence request on behalf of tabID, applying the
// command rate limit.
func (s *Server) request(ctx context.Context, tabID string, req presence.Request) presence.Response {
	if req.Action == presence.ActionCommand && !s.limits.allow(tabID) {
		slog.Debug("api: command rate limited", "tab", tabID)
		return presence.Response{Error: ErrRateLimited.Error()}
	}
	return s.coord.Handle(ctx, tabID, req)
}

func (s *Server) getState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.coord.State())
}

func (s *Server) listTabs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.tabs.List(r.Context()))
}

func (s *Server) postRequest(w http.ResponseWriter, r *http.Request) {
	var req presence.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	resp := s.request(r.Context(), r.PathValue("id"), req)
	status := http.StatusOK
	if resp.Error == ErrRateLimited.Error() {
		status = http.StatusTooManyRequests
	}
	writeJSON(w, status, resp)
}

func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	entries := s.history.List(limit)
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("api: write response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
