// Package recognizer defines the speech capability a listening session
// drives, and implements it on top of a streaming [stt.Provider].
//
// A recognition run is single-shot: after [Recognizer.Start] the recognizer
// emits Started, then at most one Result or Error, then End. End is always
// the last event of a run and the only point where the consumer should
// decide whether to start again.
package recognizer

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrUnavailable is returned by Start when no speech backend is
	// configured at all.
	ErrUnavailable = errors.New("recognizer: speech capability unavailable")

	// ErrBusy is returned by Start while a run is still in progress.
	ErrBusy = errors.New("recognizer: already running")
)

// EventType discriminates [Event].
type EventType int

const (
	EventStarted EventType = iota
	EventResult
	EventError
	EventEnd
)

func (t EventType) String() string {
	switch t {
	case EventStarted:
		return "started"
	case EventResult:
		return "result"
	case EventError:
		return "error"
	case EventEnd:
		return "end"
	}
	return fmt.Sprintf("EventType(%d)", int(t))
}

// ErrorKind classifies recognition failures.
type ErrorKind string

const (
	ErrNoSpeech     ErrorKind = "no-speech"
	ErrAudioCapture ErrorKind = "audio-capture"
	ErrNotAllowed   ErrorKind = "not-allowed"
	ErrNetwork      ErrorKind = "network"
	ErrOther        ErrorKind = "other"
)

// Event is one notification from a recognition run.
type Event struct {
	Type EventType

	// Text and Confidence are set for EventResult. Text is the final
	// transcript as recognized, not normalized.
	Text       string
	Confidence float64

	// Kind and Cause are set for EventError.
	Kind  ErrorKind
	Cause error
}

// Recognizer is a speech capability owned by exactly one consumer.
type Recognizer interface {
	// Start begins a run. Events for the run arrive on Events.
	Start(ctx context.Context) error

	// Stop ends the current run early. Audio captured so far may still
	// produce a Result before End. Stop without a run is a no-op.
	Stop()

	// Events delivers notifications for every run. The channel is never
	// closed.
	Events() <-chan Event
}
