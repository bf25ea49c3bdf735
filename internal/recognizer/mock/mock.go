// Package mock provides a scripted [recognizer.Recognizer] for tests.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voicenav/internal/recognizer"
)

// Recognizer is a mock implementation of recognizer.Recognizer. Tests drive
// runs by calling Say, Fail or End after Start.
type Recognizer struct {
	mu      sync.Mutex
	events  chan recognizer.Event
	running bool
	starts  int
	stops   int

	// StartErr, if non-nil, is returned by Start.
	StartErr error
}

var _ recognizer.Recognizer = (*Recognizer)(nil)

// New returns a Recognizer with a buffered event channel.
func New() *Recognizer {
	return &Recognizer{events: make(chan recognizer.Event, 64)}
}

// Start emits Started unless StartErr is set or a run is active.
func (r *Recognizer) Start(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts++
	if r.StartErr != nil {
		return r.StartErr
	}
	if r.running {
		return recognizer.ErrBusy
	}
	r.running = true
	r.events <- recognizer.Event{Type: recognizer.EventStarted}
	return nil
}

// SetStartErr changes StartErr while the recognizer is in use.
func (r *Recognizer) SetStartErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.StartErr = err
}

// Stop ends the active run with End, like a capability that was aborted.
func (r *Recognizer) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stops++
	r.endLocked()
}

// Events implements recognizer.Recognizer.
func (r *Recognizer) Events() <-chan recognizer.Event { return r.events }

// Say completes the active run with a result.
func (r *Recognizer) Say(text string, confidence float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events <- recognizer.Event{Type: recognizer.EventResult, Text: text, Confidence: confidence}
	r.endLocked()
}

// Fail completes the active run with an error.
func (r *Recognizer) Fail(kind recognizer.ErrorKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events <- recognizer.Event{Type: recognizer.EventError, Kind: kind}
	r.endLocked()
}

// End completes the active run without a result.
func (r *Recognizer) End() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endLocked()
}

func (r *Recognizer) endLocked() {
	if r.running {
		r.running = false
		r.events <- recognizer.Event{Type: recognizer.EventEnd}
	}
}

// Running reports whether a run is active.
func (r *Recognizer) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Starts returns how often Start was called.
func (r *Recognizer) Starts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts
}

// Stops returns how often Stop was called.
func (r *Recognizer) Stops() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stops
}
