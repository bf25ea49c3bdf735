// Package stt defines the Provider interface for speech-to-text backends.
//
// A provider turns a stream of raw PCM frames into final transcripts. The
// central abstraction is SessionHandle: once opened, a session accepts audio
// chunks and emits one [Transcript] per committed utterance on Finals. Batch
// engines (whisper, OpenAI) segment the stream themselves; streaming engines
// (Deepgram) forward audio as it arrives.
//
// Interim hypotheses are never exposed. Implementations must be safe for
// concurrent use.
package stt

import (
	"context"
	"errors"
)

var (
	// ErrClosed is returned by SendAudio after the session has been closed.
	ErrClosed = errors.New("stt: session closed")

	// ErrTransport marks failures talking to a remote backend (connection
	// refused, non-2xx status, broken websocket). Callers use it to tell
	// network trouble apart from other recognition errors.
	ErrTransport = errors.New("stt: transport failure")
)

// StreamConfig describes the audio format and recognition hints for a new
// session. Zero values select the provider's defaults.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. The browser capture path
	// delivers 16000.
	SampleRate int

	// Channels is the number of interleaved channels. 1 = mono.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g. "en-US").
	Language string

	// Keywords are vocabulary hints, typically the command verbs and the
	// labels visible on the current page.
	Keywords []KeywordBoost
}

// SessionHandle is one open transcription session.
//
// Callers must call Close when done. After Close returns, Finals is closed.
type SessionHandle interface {
	// SendAudio delivers a chunk of 16-bit little-endian PCM. Calling it after
	// Close returns [ErrClosed].
	SendAudio(chunk []byte) error

	// Finals emits one transcript per committed utterance. It is closed when
	// the session ends.
	Finals() <-chan Transcript

	// Err returns the error that last made the backend fail, or nil. It is
	// meaningful once Finals has been closed or after an utterance produced
	// no transcript.
	Err() error

	// Close flushes pending audio, releases resources and closes Finals.
	// Calling Close more than once is safe.
	Close() error
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// StartStream opens a new session. The returned handle is ready to accept
	// audio immediately.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
