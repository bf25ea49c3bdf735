// Package mock provides test doubles for the stt package interfaces.
//
// Use Provider to check which StreamConfig sessions were opened with. Use
// Session to push transcripts into a consumer and inspect the audio it sent:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	h, _ := p.StartStream(ctx, cfg)
//	sess.Emit(stt.Transcript{Text: "scroll down"})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voicenav/pkg/provider/stt"
)

// StartStreamCall records a single invocation of Provider.StartStream.
type StartStreamCall struct {
	Ctx context.Context
	Cfg stt.StreamConfig
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is returned by StartStream. If nil, a fresh Session is created
	// per call and appended to Sessions.
	Session *Session

	// StartStreamErr, if non-nil, is returned as the error from StartStream.
	StartStreamErr error

	StartStreamCalls []StartStreamCall
	Sessions         []*Session
}

var _ stt.Provider = (*Provider)(nil)

// StartStream records the call and returns Session or a new one.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Ctx: ctx, Cfg: cfg})
	if p.StartStreamErr != nil {
		return nil, p.StartStreamErr
	}
	s := p.Session
	if s == nil {
		s = NewSession()
	}
	p.Sessions = append(p.Sessions, s)
	return s, nil
}

// Calls returns the number of StartStream calls. Thread-safe.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.StartStreamCalls)
}

// Last returns the most recently opened session, or nil.
func (p *Provider) Last() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Sessions) == 0 {
		return nil
	}
	return p.Sessions[len(p.Sessions)-1]
}

// Session is a mock implementation of stt.SessionHandle.
type Session struct {
	mu     sync.Mutex
	finals chan stt.Transcript
	closed bool
	audio  [][]byte

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// FailWith, if non-nil, is reported by Err.
	FailWith error

	CloseCalls int
}

var _ stt.SessionHandle = (*Session)(nil)

// NewSession returns a Session with a buffered Finals channel.
func NewSession() *Session {
	return &Session{finals: make(chan stt.Transcript, 16)}
}

// Emit delivers t on Finals. It is a no-op after Close.
func (s *Session) Emit(t stt.Transcript) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.finals <- t
	}
}

// End closes Finals as if the backend ended the stream, reporting err.
func (s *Session) End(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FailWith = err
	if !s.closed {
		s.closed = true
		close(s.finals)
	}
}

// SendAudio records a copy of chunk.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return stt.ErrClosed
	}
	s.audio = append(s.audio, append([]byte(nil), chunk...))
	return s.SendAudioErr
}

// Finals implements stt.SessionHandle.
func (s *Session) Finals() <-chan stt.Transcript { return s.finals }

// Err returns FailWith.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.FailWith
}

// Close closes Finals. Repeated calls are counted and return nil.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCalls++
	if !s.closed {
		s.closed = true
		close(s.finals)
	}
	return nil
}

// AudioChunks returns how many chunks were sent.
func (s *Session) AudioChunks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.audio)
}

// Closed reports whether Close or End was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
