package recognizer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voicenav/pkg/audio"
	"github.com/MrWong99/voicenav/pkg/provider/stt"
)

// Run limits.
const (
	// DefaultNoSpeechTimeout ends a run that hears nothing but silence.
	DefaultNoSpeechTimeout = 8 * time.Second

	// DefaultMaxDuration caps a run that keeps hearing sound without a
	// result.
	DefaultMaxDuration = 15 * time.Second

	// DefaultSpeechRMS is the frame energy that counts as speech and resets
	// the no-speech timer.
	DefaultSpeechRMS = 300.0
)

// Source is where a recognizer reads audio from. [*audio.Pipe] implements it.
type Source interface {
	Frames() <-chan audio.Frame
	Faults() <-chan error
	Done() <-chan struct{}
	Discard() int
}

var _ Source = (*audio.Pipe)(nil)

// Option configures an [STT] recognizer.
type Option func(*STT)

// WithLanguage sets the BCP-47 recognition language.
func WithLanguage(lang string) Option {
	return func(r *STT) { r.language = lang }
}

// WithKeywords biases recognition towards command vocabulary.
func WithKeywords(kws []stt.KeywordBoost) Option {
	return func(r *STT) { r.keywords = kws }
}

// WithNoSpeechTimeout overrides [DefaultNoSpeechTimeout].
func WithNoSpeechTimeout(d time.Duration) Option {
	return func(r *STT) {
		if d > 0 {
			r.noSpeech = d
		}
	}
}

// WithMaxDuration overrides [DefaultMaxDuration].
func WithMaxDuration(d time.Duration) Option {
	return func(r *STT) {
		if d > 0 {
			r.maxDuration = d
		}
	}
}

// WithObserver registers a callback invoked once per completed run with the
// time from start to result or failure and the error kind (empty on success).
func WithObserver(fn func(d time.Duration, kind ErrorKind)) Option {
	return func(r *STT) { r.observe = fn }
}

// STT implements [Recognizer] by streaming audio from a [Source] into an
// [stt.Provider] and reporting the first final transcript.
type STT struct {
	provider    stt.Provider
	src         Source
	language    string
	keywords    []stt.KeywordBoost
	noSpeech    time.Duration
	maxDuration time.Duration
	observe     func(time.Duration, ErrorKind)

	events chan Event

	mu      sync.Mutex
	running bool
	stop    chan struct{}
}

var _ Recognizer = (*STT)(nil)

// NewSTT returns a recognizer reading from src. A nil provider yields a
// recognizer whose Start always fails with [ErrUnavailable].
func NewSTT(provider stt.Provider, src Source, opts ...Option) *STT {
	r := &STT{
		provider:    provider,
		src:         src,
		language:    "en-US",
		noSpeech:    DefaultNoSpeechTimeout,
		maxDuration: DefaultMaxDuration,
		events:      make(chan Event, 8),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Events implements [Recognizer].
func (r *STT) Events() <-chan Event { return r.events }

// Start implements [Recognizer]. The stream is opened on the run goroutine;
// a failure to open it is reported as an Error event followed by End.
func (r *STT) Start(ctx context.Context) error {
	if r.provider == nil || r.src == nil {
		return ErrUnavailable
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return ErrBusy
	}
	r.running = true
	r.stop = make(chan struct{})
	go r.run(ctx, r.stop)
	return nil
}

// Stop implements [Recognizer].
func (r *STT) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running && r.stop != nil {
		close(r.stop)
		r.stop = nil
	}
}

func (r *STT) emit(ctx context.Context, ev Event) {
	select {
	case r.events <- ev:
	case <-ctx.Done():
		// Nobody is listening anymore; drop everything but End so the
		// consumer is never left waiting if it comes back.
		if ev.Type == EventEnd {
			select {
			case r.events <- ev:
			default:
			}
		}
	}
}

func (r *STT) run(ctx context.Context, stop <-chan struct{}) {
	began := time.Now()
	var kind ErrorKind
	defer func() {
		r.mu.Lock()
		r.running = false
		r.stop = nil
		r.mu.Unlock()
		if r.observe != nil {
			r.observe(time.Since(began), kind)
		}
		r.emit(ctx, Event{Type: EventEnd})
	}()
	fail := func(k ErrorKind, cause error) {
		kind = k
		slog.Debug("recognizer: run failed", "kind", string(k), "err", cause)
		r.emit(ctx, Event{Type: EventError, Kind: k, Cause: cause})
	}

	if n := r.src.Discard(); n > 0 {
		slog.Debug("recognizer: discarded stale audio", "frames", n)
	}
	sess, err := r.provider.StartStream(ctx, stt.StreamConfig{
		SampleRate: audio.RecognitionFormat.SampleRate,
		Channels:   audio.RecognitionFormat.Channels,
		Language:   r.language,
		Keywords:   r.keywords,
	})
	if err != nil {
		fail(Classify(err), err)
		return
	}
	r.emit(ctx, Event{Type: EventStarted})

	quiet := time.NewTimer(r.noSpeech)
	defer quiet.Stop()
	limit := time.NewTimer(r.maxDuration)
	defer limit.Stop()

	// finish closes the session and waits for whatever it still flushes.
	finish := func() {
		_ = sess.Close()
		for tr := range sess.Finals() {
			if tr.Text != "" {
				r.emit(ctx, Event{Type: EventResult, Text: tr.Text, Confidence: tr.Confidence})
				return
			}
		}
		if err := sess.Err(); err != nil {
			fail(Classify(err), err)
			return
		}
		kind = ErrNoSpeech
	}

	for {
		select {
		case <-ctx.Done():
			_ = sess.Close()
			kind = ErrOther
			return

		case <-stop:
			finish()
			return

		case <-limit.C:
			finish()
			return

		case <-quiet.C:
			_ = sess.Close()
			fail(ErrNoSpeech, nil)
			return

		case <-r.src.Done():
			_ = sess.Close()
			fail(ErrAudioCapture, errors.New("recognizer: audio source closed"))
			return

		case fault := <-r.src.Faults():
			_ = sess.Close()
			if errors.Is(fault, audio.ErrPermissionDenied) {
				fail(ErrNotAllowed, fault)
			} else {
				fail(ErrAudioCapture, fault)
			}
			return

		case f := <-r.src.Frames():
			if audio.RMS(f.Data) >= DefaultSpeechRMS {
				if !quiet.Stop() {
					select {
					case <-quiet.C:
					default:
					}
				}
				quiet.Reset(r.noSpeech)
			}
			if err := sess.SendAudio(f.Data); err != nil {
				_ = sess.Close()
				fail(Classify(err), err)
				return
			}

		case tr, ok := <-sess.Finals():
			if !ok {
				_ = sess.Close()
				if err := sess.Err(); err != nil {
					fail(Classify(err), err)
				} else {
					fail(ErrNoSpeech, nil)
				}
				return
			}
			if tr.Text == "" {
				continue
			}
			_ = sess.Close()
			r.emit(ctx, Event{Type: EventResult, Text: tr.Text, Confidence: tr.Confidence})
			return
		}
	}
}

// Classify maps a provider error to an [ErrorKind].
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, audio.ErrPermissionDenied):
		return ErrNotAllowed
	case errors.Is(err, stt.ErrTransport), errors.Is(err, context.DeadlineExceeded):
		return ErrNetwork
	default:
		return ErrOther
	}
}
