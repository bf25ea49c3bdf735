// Package presence keeps the process-wide listening state that spans tabs
// and navigations.
//
// One [Coordinator] owns the global state. Tabs talk to it with
// request/response messages ([Request], [Response]) and receive pushed
// [Push] messages. The coordinator persists the state in a [prefs.Store] so a
// restart or reload can restore it.
package presence

import (
	"context"
	"errors"

	"github.com/MrWong99/voicenav/internal/prefs"
	"github.com/MrWong99/voicenav/internal/session"
)

// ErrUnknownAction is reported for requests with an unsupported action.
var ErrUnknownAction = errors.New("presence: unknown action")

// Request actions.
const (
	ActionStartListening      = "startListening"
	ActionStopListening       = "stopListening"
	ActionCommand             = "command"
	ActionGetGlobalState      = "getGlobalState"
	ActionUpdateGlobalState   = "updateGlobalState"
	ActionToggleFloatingPopup = "toggleFloatingPopup"
)

// Push actions.
const (
	PushGlobalStateChanged  = "globalStateChanged"
	PushInitializeWithState = "initializeWithState"
	PushStopListening       = "stopListening"
	PushStatus              = "status"
)

// GlobalState is the state shared by all tabs.
type GlobalState struct {
	IsListening          bool           `json:"isListening"`
	ContinuousListening  bool           `json:"continuousListening"`
	FloatingPopupEnabled bool           `json:"floatingPopupEnabled"`
	PopupPosition        prefs.Position `json:"popupPosition"`
	IsMinimized          bool           `json:"isMinimized"`
	CurrentTabID         string         `json:"currentTabId,omitempty"`
	ListeningTabID       string         `json:"listeningTabId,omitempty"`
}

func stateFromPrefs(p prefs.Preferences) GlobalState {
	return GlobalState{
		IsListening:          p.IsListening,
		ContinuousListening:  p.ContinuousListening,
		FloatingPopupEnabled: p.FloatingPopupEnabled,
		PopupPosition:        p.PopupPosition,
		IsMinimized:          p.IsMinimized,
	}
}

func (s GlobalState) applyTo(p *prefs.Preferences) {
	p.IsListening = s.IsListening
	p.ContinuousListening = s.ContinuousListening
	p.FloatingPopupEnabled = s.FloatingPopupEnabled
	p.PopupPosition = s.PopupPosition
	p.IsMinimized = s.IsMinimized
}

// StatePatch is a partial update of [GlobalState]. Nil fields are left
// unchanged.
type StatePatch struct {
	IsListening          *bool           `json:"isListening,omitempty"`
	ContinuousListening  *bool           `json:"continuousListening,omitempty"`
	FloatingPopupEnabled *bool           `json:"floatingPopupEnabled,omitempty"`
	PopupPosition        *prefs.Position `json:"popupPosition,omitempty"`
	IsMinimized          *bool           `json:"isMinimized,omitempty"`
}

func (p StatePatch) apply(s *GlobalState) {
	if p.IsListening != nil {
		s.IsListening = *p.IsListening
	}
	if p.ContinuousListening != nil {
		s.ContinuousListening = *p.ContinuousListening
	}
	if p.FloatingPopupEnabled != nil {
		s.FloatingPopupEnabled = *p.FloatingPopupEnabled
	}
	if p.PopupPosition != nil {
		s.PopupPosition = *p.PopupPosition
	}
	if p.IsMinimized != nil {
		s.IsMinimized = *p.IsMinimized
	}
}

// Request is a message from a tab to the coordinator.
type Request struct {
	Action  string      `json:"action" validate:"required"`
	State   *StatePatch `json:"state,omitempty"`
	Command string      `json:"command,omitempty" validate:"required_if=Action command,max=500"`
}

// CommandResult describes a command executed on behalf of a request.
type CommandResult struct {
	Intent  string `json:"intent"`
	Success bool   `json:"success"`
	Message string `json:"message"`
	Reason  string `json:"reason"`
	EntryID string `json:"entryId,omitempty"`
}

func resultOf(d session.Dispatch) *CommandResult {
	return &CommandResult{
		Intent:  d.Intent.Kind.String(),
		Success: d.Outcome.Success,
		Message: d.Outcome.Status(),
		Reason:  string(d.Outcome.Reason),
		EntryID: d.Entry.ID,
	}
}

// Response answers a [Request].
type Response struct {
	Success bool           `json:"success"`
	Error   string         `json:"error,omitempty"`
	State   *GlobalState   `json:"state,omitempty"`
	Result  *CommandResult `json:"result,omitempty"`
}

func failure(err error) Response {
	if errors.Is(err, ErrUnknownAction) {
		return Response{Error: "Unknown action"}
	}
	return Response{Error: err.Error()}
}

// Status is a feedback line shown by a tab's widget.
type Status struct {
	Text string `json:"text"`
	Tone string `json:"tone"`
}

// Push is a message from the coordinator or a tab runtime to a tab client.
type Push struct {
	Action string       `json:"action"`
	State  *GlobalState `json:"state,omitempty"`
	Status *Status      `json:"status,omitempty"`
	Reason string       `json:"reason,omitempty"`
}

// Tab is a connected page the coordinator can act on.
type Tab interface {
	ID() string

	// Notify delivers a push message. It must not block.
	Notify(p Push) error

	StartListening(ctx context.Context) error
	StopListening(ctx context.Context) error

	// Suspend stops listening without changing the remembered state, as
	// when the tab loses focus.
	Suspend(ctx context.Context, reason string) error

	// Initialize applies the global state after a tab switch or a
	// navigation.
	Initialize(ctx context.Context, s GlobalState) error

	Command(ctx context.Context, text string) (session.Dispatch, error)
}
