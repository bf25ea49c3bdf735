package api

import (
	"errors"

	"github.com/go-playground/validator/v10"

	"github.com/MrWong99/voicenav/internal/presence"
	"github.com/MrWong99/voicenav/pkg/audio"
)

// Client message types.
const (
	TypeRequest     = "request"
	TypeVisibility  = "visibility"
	TypeUnload      = "unload"
	TypeActivate    = "activate"
	TypeMicError    = "micError"
	TypeAudioFormat = "audioFormat"
)

// Server message types.
const (
	TypeHello    = "hello"
	TypeResponse = "response"
	TypePush     = "push"
	TypeError    = "error"
)

// MicNotAllowed is the micError code for a denied microphone permission.
const MicNotAllowed = "not-allowed"

// ClientMessage is a text frame sent by a tab client. Binary frames carry
// microphone PCM in the announced [AudioFormat].
type ClientMessage struct {
	// ID correlates the reply. Zero asks for no reply.
	ID int64 `json:"id,omitempty"`

	Type    string            `json:"type" validate:"required,oneof=request visibility unload activate micError audioFormat"`
	Request *presence.Request `json:"request,omitempty" validate:"required_if=Type request"`
	Visible *bool             `json:"visible,omitempty" validate:"required_if=Type visibility"`
	Error   string            `json:"error,omitempty" validate:"max=200"`
	Format  *AudioFormat      `json:"format,omitempty" validate:"required_if=Type audioFormat"`
}

// AudioFormat describes the PCM a client captures.
type AudioFormat struct {
	SampleRate int `json:"sampleRate" validate:"min=8000,max=192000"`
	Channels   int `json:"channels" validate:"min=1,max=8"`
}

// defaultCapture is assumed until a client announces its format.
var defaultCapture = AudioFormat{SampleRate: 48000, Channels: 1}

// ServerMessage is a text frame sent to a tab client.
type ServerMessage struct {
	Type     string                `json:"type"`
	ID       int64                 `json:"id,omitempty"`
	TabID    string                `json:"tabId,omitempty"`
	State    *presence.GlobalState `json:"state,omitempty"`
	Response *presence.Response    `json:"response,omitempty"`
	Push     *presence.Push        `json:"push,omitempty"`
	Error    string                `json:"error,omitempty"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// micFault maps a client capture error to the pipe fault a recognizer
// understands.
func micFault(code string) error {
	if code == MicNotAllowed {
		return audio.ErrPermissionDenied
	}
	if code == "" {
		code = "microphone failure"
	}
	return errors.New("api: " + code)
}
