// Package batch turns a one-shot transcription engine into a streaming
// [stt.Provider].
//
// Engines such as whisper.cpp or the OpenAI transcription endpoint accept a
// complete recording and return its text. A batch session buffers incoming
// PCM, uses an energy-based silence detector to find the end of each
// utterance, and hands the utterance to the engine. Every non-empty result
// is emitted on Finals.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voicenav/pkg/audio"
	"github.com/MrWong99/voicenav/pkg/provider/stt"
)

// Segmentation defaults.
const (
	DefaultRMSThreshold     = 300.0
	DefaultSilenceThreshold = 500 * time.Millisecond
	DefaultMaxUtterance     = 10 * time.Second

	// flushTimeout bounds the transcription of audio still buffered at close.
	flushTimeout = 30 * time.Second
)

// Utterance is one segmented stretch of speech.
type Utterance struct {
	PCM        []byte
	SampleRate int
	Channels   int
	Language   string
	Keywords   []stt.KeywordBoost
}

// Duration is the playback length of the utterance.
func (u Utterance) Duration() time.Duration {
	return audio.PCMDuration(len(u.PCM), u.SampleRate, u.Channels)
}

// WAV returns the utterance as a WAVE file.
func (u Utterance) WAV() []byte {
	return audio.EncodeWAV(u.PCM, u.SampleRate, u.Channels)
}

// Transcriber is a one-shot engine.
type Transcriber interface {
	Transcribe(ctx context.Context, u Utterance) (stt.Transcript, error)
}

// TranscriberFunc adapts a function to [Transcriber].
type TranscriberFunc func(ctx context.Context, u Utterance) (stt.Transcript, error)

// Transcribe calls f.
func (f TranscriberFunc) Transcribe(ctx context.Context, u Utterance) (stt.Transcript, error) {
	return f(ctx, u)
}

// Option configures a [Provider].
type Option func(*Provider)

// WithSilenceThreshold sets how much trailing silence ends an utterance.
func WithSilenceThreshold(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.silence = d
		}
	}
}

// WithMaxUtterance forces a flush once this much audio is buffered.
func WithMaxUtterance(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.maxUtterance = d
		}
	}
}

// WithRMSThreshold sets the energy below which a chunk counts as silence.
func WithRMSThreshold(rms float64) Option {
	return func(p *Provider) {
		if rms > 0 {
			p.rmsThreshold = rms
		}
	}
}

// WithDefaults sets the language and format used when a StreamConfig leaves
// them empty.
func WithDefaults(language string, format audio.Format) Option {
	return func(p *Provider) {
		if language != "" {
			p.language = language
		}
		if format.SampleRate > 0 {
			p.format.SampleRate = format.SampleRate
		}
		if format.Channels > 0 {
			p.format.Channels = format.Channels
		}
	}
}

// Provider implements [stt.Provider] on top of a [Transcriber].
type Provider struct {
	name         string
	engine       Transcriber
	language     string
	format       audio.Format
	silence      time.Duration
	maxUtterance time.Duration
	rmsThreshold float64
}

var _ stt.Provider = (*Provider)(nil)

// New returns a Provider. name prefixes log messages and errors.
func New(name string, engine Transcriber, opts ...Option) *Provider {
	p := &Provider{
		name:         name,
		engine:       engine,
		language:     "en",
		format:       audio.RecognitionFormat,
		silence:      DefaultSilenceThreshold,
		maxUtterance: DefaultMaxUtterance,
		rmsThreshold: DefaultRMSThreshold,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// StartStream implements [stt.Provider]. No backend call is made until the
// first utterance completes.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: start stream: %w", p.name, err)
	}
	base := Utterance{
		SampleRate: cfg.SampleRate,
		Channels:   cfg.Channels,
		Language:   cfg.Language,
		Keywords:   cfg.Keywords,
	}
	if base.SampleRate <= 0 {
		base.SampleRate = p.format.SampleRate
	}
	if base.Channels <= 0 {
		base.Channels = p.format.Channels
	}
	if base.Language == "" {
		base.Language = p.language
	}

	s := &session{
		name:   p.name,
		engine: p.engine,
		base:   base,
		seg:    newSegmenter(base.SampleRate, base.Channels, p.rmsThreshold, p.silence, p.maxUtterance),
		audio:  make(chan []byte, 256),
		finals: make(chan stt.Transcript, 16),
		done:   make(chan struct{}),
	}
	s.wg.Add(1)
	go s.loop(ctx)
	return s, nil
}

type session struct {
	name   string
	engine Transcriber
	base   Utterance
	seg    *segmenter

	audio  chan []byte
	finals chan stt.Transcript

	errMu sync.Mutex
	err   error

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return stt.ErrClosed
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return stt.ErrClosed
	}
}

func (s *session) Finals() <-chan stt.Transcript { return s.finals }

func (s *session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
	return nil
}

// loop owns the segmenter; all buffering happens on this goroutine.
func (s *session) loop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.finals)

	// final segments whatever is still queued and transcribes the remainder
	// with a fresh context, since ctx may already be cancelled.
	final := func() {
		fc, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()
	drain:
		for {
			select {
			case chunk := <-s.audio:
				if pcm := s.seg.push(chunk); pcm != nil {
					s.transcribe(fc, pcm)
				}
			default:
				break drain
			}
		}
		s.transcribe(fc, s.seg.flush())
	}

	for {
		select {
		case <-ctx.Done():
			final()
			return
		case <-s.done:
			final()
			return
		case chunk := <-s.audio:
			if pcm := s.seg.push(chunk); pcm != nil {
				s.transcribe(ctx, pcm)
			}
		}
	}
}

func (s *session) transcribe(ctx context.Context, pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	u := s.base
	u.PCM = pcm
	t, err := s.engine.Transcribe(ctx, u)
	if err != nil {
		slog.Warn(s.name+": transcription failed", "duration", u.Duration(), "err", err)
		s.errMu.Lock()
		s.err = err
		s.errMu.Unlock()
		return
	}
	if t.Text == "" {
		return
	}
	if t.Duration == 0 {
		t.Duration = u.Duration()
	}
	select {
	case s.finals <- t:
	default:
		slog.Warn(s.name+": dropping transcript, consumer too slow", "text", t.Text)
	}
}
