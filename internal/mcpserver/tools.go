package mcpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/voicenav/internal/presence"
)

type tabArgs struct {
	TabID string `json:"tab_id,omitempty" jsonschema:"tab to act on; defaults to the focused tab"`
}

type runCommandArgs struct {
	Command string `json:"command" jsonschema:"the command text, as a user would say it"`
	TabID   string `json:"tab_id,omitempty" jsonschema:"tab to act on; defaults to the focused tab"`
}

type commandResult struct {
	Success bool   `json:"success"`
	Intent  string `json:"intent,omitempty"`
	Message string `json:"message,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Error   string `json:"error,omitempty"`
}

type ackResult struct {
	Success bool   `json:"success"`
	TabID   string `json:"tab_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

type stateResult struct {
	State presence.GlobalState `json:"state"`
}

type historyArgs struct {
	Limit int `json:"limit,omitempty" jsonschema:"maximum number of entries; 0 returns all"`
}

type historyEntry struct {
	ID         string  `json:"id"`
	Command    string  `json:"command"`
	Confidence float64 `json:"confidence"`
	Timestamp  string  `json:"timestamp" jsonschema:"RFC 3339 time the command ran"`
	Intent     string  `json:"intent"`
	Success    bool    `json:"success"`
	Message    string  `json:"message"`
}

type historyResult struct {
	Entries []historyEntry `json:"entries"`
}

func (s *Server) record(ctx context.Context, tool string, ok bool) {
	status := "ok"
	if !ok {
		status = "failed"
	}
	s.metrics.RecordToolCall(ctx, tool, status)
}

// tabFor resolves an explicit tab or the focused one.
func (s *Server) tabFor(id string) string {
	if id != "" {
		return id
	}
	return s.coord.State().CurrentTabID
}

func (s *Server) runCommand(ctx context.Context, _ *mcp.CallToolRequest, in runCommandArgs) (*mcp.CallToolResult, commandResult, error) {
	if in.Command == "" {
		s.record(ctx, "run_command", false)
		return nil, commandResult{Error: "command is required"}, nil
	}
	resp := s.coord.Handle(ctx, s.tabFor(in.TabID), presence.Request{Action: presence.ActionCommand, Command: in.Command})
	out := commandResult{Success: resp.Success, Error: resp.Error}
	if r := resp.Result; r != nil {
		out.Intent, out.Message, out.Reason = r.Intent, r.Message, r.Reason
	}
	s.record(ctx, "run_command", resp.Success)
	return nil, out, nil
}

func (s *Server) getState(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, stateResult, error) {
	s.record(ctx, "get_state", true)
	return nil, stateResult{State: s.coord.State()}, nil
}

func (s *Server) startListening(ctx context.Context, _ *mcp.CallToolRequest, in tabArgs) (*mcp.CallToolResult, ackResult, error) {
	id := s.tabFor(in.TabID)
	if id == "" {
		s.record(ctx, "start_listening", false)
		return nil, ackResult{Error: errNoTab}, nil
	}
	resp := s.coord.Handle(ctx, id, presence.Request{Action: presence.ActionStartListening})
	s.record(ctx, "start_listening", resp.Success)
	return nil, ackResult{Success: resp.Success, TabID: id, Error: resp.Error}, nil
}

func (s *Server) stopListening(ctx context.Context, _ *mcp.CallToolRequest, in tabArgs) (*mcp.CallToolResult, ackResult, error) {
	id := s.tabFor(in.TabID)
	resp := s.coord.Handle(ctx, id, presence.Request{Action: presence.ActionStopListening})
	s.record(ctx, "stop_listening", resp.Success)
	return nil, ackResult{Success: resp.Success, TabID: id, Error: resp.Error}, nil
}

func (s *Server) commandHistory(ctx context.Context, _ *mcp.CallToolRequest, in historyArgs) (*mcp.CallToolResult, historyResult, error) {
	out := historyResult{Entries: []historyEntry{}}
	if s.history != nil {
		for _, e := range s.history.List(max(in.Limit, 0)) {
			out.Entries = append(out.Entries, historyEntry{
				ID:         e.ID,
				Command:    e.Command,
				Confidence: e.Confidence,
				Timestamp:  e.Timestamp.Format(time.RFC3339Nano),
				Intent:     e.Intent,
				Success:    e.Success,
				Message:    e.Message,
			})
		}
	}
	s.record(ctx, "command_history", true)
	return nil, out, nil
}

// Handler serves the tools over the streamable HTTP transport.
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s.mcp }, nil)
}
