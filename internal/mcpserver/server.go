// Package mcpserver exposes the navigator to MCP clients, so an agent can
// drive a page with the same commands a user speaks.
//
// Tools:
//   - run_command: run a spoken-style command on a tab
//   - get_state: read the global listening state
//   - start_listening and stop_listening
//   - command_history: list recent commands, newest first
package mcpserver

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/voicenav/internal/history"
	"github.com/MrWong99/voicenav/internal/observe"
	"github.com/MrWong99/voicenav/internal/presence"
)

const errNoTab = "no tab connected"

// Coordinator answers presence requests. [*presence.Coordinator]
// implements it.
type Coordinator interface {
	Handle(ctx context.Context, tabID string, req presence.Request) presence.Response
	State() presence.GlobalState
}

// History lists recent commands. [*history.Ring] implements it.
type History interface {
	List(limit int) []history.Entry
}

// Option configures a [Server].
type Option func(*Server)

// WithMetrics counts tool calls.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithVersion sets the version reported to clients.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// Server owns the MCP server and its tools.
type Server struct {
	coord   Coordinator
	history History
	metrics *observe.Metrics
	version string
	mcp     *mcp.Server
}

// New creates a Server. hist may be nil, in which case command_history
// always returns an empty list.
func New(coord Coordinator, hist History, opts ...Option) *Server {
	s := &Server{coord: coord, history: hist, version: "dev"}
	for _, o := range opts {
		o(s)
	}
	s.mcp = mcp.NewServer(&mcp.Implementation{Name: "voicenav", Version: s.version}, nil)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "run_command",
		Description: `Run a navigation command such as "scroll down", "click sign in" or "go to example.com" on a page.`,
	}, s.runCommand)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_state",
		Description: "Return the global listening state shared by all pages.",
	}, s.getState)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "start_listening",
		Description: "Start voice listening on a page.",
	}, s.startListening)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "stop_listening",
		Description: "Stop voice listening everywhere.",
	}, s.stopListening)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "command_history",
		Description: "List recently executed commands, newest first.",
	}, s.commandHistory)
	return s
}

// MCP returns the underlying server, for connecting custom transports.
func (s *Server) MCP() *mcp.Server { return s.mcp }
