// Package tab runs one connected page: its document, the action executor,
// the speech recognizer fed from the client's microphone, and the listening
// controller. A [Tab] implements [presence.Tab].
package tab

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voicenav/internal/action"
	"github.com/MrWong99/voicenav/internal/command"
	"github.com/MrWong99/voicenav/internal/observe"
	"github.com/MrWong99/voicenav/internal/presence"
	"github.com/MrWong99/voicenav/internal/recognizer"
	"github.com/MrWong99/voicenav/internal/session"
	"github.com/MrWong99/voicenav/pkg/audio"
	"github.com/MrWong99/voicenav/pkg/page"
	"github.com/MrWong99/voicenav/pkg/provider/stt"
)

var (
	// ErrOutboxFull is returned by Notify when the client is not draining
	// its messages.
	ErrOutboxFull = errors.New("tab: outbox full")

	// ErrClosed is returned by Notify after Close.
	ErrClosed = errors.New("tab: closed")
)

const (
	defaultOutbox = 64
	workQueue     = 32
)

// Reporter receives a tab's own state changes. [*presence.Coordinator]
// implements it.
type Reporter interface {
	ReportListening(ctx context.Context, tabID string, listening, continuous bool) error
	Navigated(ctx context.Context, tabID string) error
}

var _ Reporter = (*presence.Coordinator)(nil)

// Config assembles a tab.
type Config struct {
	// ID identifies the tab; a random UUID is used when empty.
	ID string

	Document page.Document

	// Recognizer overrides the STT recognizer built from STT.
	Recognizer recognizer.Recognizer

	// STT feeds the default recognizer. Nil makes speech unavailable.
	STT             stt.Provider
	Language        string
	Keywords        []stt.KeywordBoost
	NoSpeechTimeout time.Duration
	MaxDuration     time.Duration
	OnRecognition   func(time.Duration, recognizer.ErrorKind)

	ScrollDelta      int
	HighlightTimeout time.Duration
	Suggestions      bool

	SettleDelay  time.Duration
	ResumeDelay  time.Duration
	StatusRevert time.Duration

	History  session.Appender
	Metrics  *observe.Metrics
	Reporter Reporter

	// OutboxSize bounds queued push messages. Default 64.
	OutboxSize int
}

// Info describes an open tab.
type Info struct {
	ID       string    `json:"id"`
	URL      string    `json:"url"`
	OpenedAt time.Time `json:"openedAt"`
}

// Tab is a live page session.
type Tab struct {
	id       string
	doc      page.Document
	exec     *action.Executor
	pipe     *audio.Pipe
	ctrl     *session.Controller
	reporter Reporter

	outbox chan presence.Push
	work   chan func(context.Context)

	closeOnce sync.Once
	closed    chan struct{}
}

var _ presence.Tab = (*Tab)(nil)

// New builds a tab. Call Run to start it.
func New(cfg Config) *Tab {
	id := cfg.ID
	if id == "" {
		id = uuid.NewString()
	}
	size := cfg.OutboxSize
	if size <= 0 {
		size = defaultOutbox
	}
	t := &Tab{
		id:       id,
		doc:      cfg.Document,
		pipe:     audio.NewPipe(audio.DefaultPipeFrames),
		reporter: cfg.Reporter,
		outbox:   make(chan presence.Push, size),
		work:     make(chan func(context.Context), workQueue),
		closed:   make(chan struct{}),
	}
	t.exec = action.NewExecutor(cfg.Document,
		action.WithScrollDelta(cfg.ScrollDelta),
		action.WithHighlightTimeout(cfg.HighlightTimeout),
		action.WithSuggestions(cfg.Suggestions),
	)

	rec := cfg.Recognizer
	if rec == nil {
		opts := []recognizer.Option{
			recognizer.WithKeywords(cfg.Keywords),
			recognizer.WithNoSpeechTimeout(cfg.NoSpeechTimeout),
			recognizer.WithMaxDuration(cfg.MaxDuration),
			recognizer.WithObserver(cfg.OnRecognition),
		}
		if cfg.Language != "" {
			opts = append(opts, recognizer.WithLanguage(cfg.Language))
		}
		var src recognizer.Source
		if cfg.STT != nil {
			src = t.pipe
		}
		rec = recognizer.NewSTT(cfg.STT, src, opts...)
	}

	disp := session.NewDispatcher(t,
		session.WithHistory(cfg.History),
		session.WithMetrics(cfg.Metrics),
	)
	t.ctrl = session.NewController(rec, disp,
		session.WithFeedback(session.NewRevertingFeedback(session.FeedbackFunc(t.showStatus), cfg.StatusRevert)),
		session.WithStateListener(t.onState),
		session.WithSettleDelay(cfg.SettleDelay),
		session.WithResumeDelay(cfg.ResumeDelay),
		session.WithSessionMetrics(cfg.Metrics),
	)
	return t
}

// Run drives the controller until ctx is cancelled.
func (t *Tab) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return t.ctrl.Run(gctx) })
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case fn := <-t.work:
				fn(gctx)
			}
		}
	})
	return g.Wait()
}

// Close releases the microphone pipe and the document. It is safe to call
// concurrently; only the first call closes anything.
func (t *Tab) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		t.pipe.Close()
		if c, ok := t.doc.(io.Closer); ok {
			err = c.Close()
		}
	})
	return err
}

// ID implements [presence.Tab].
func (t *Tab) ID() string { return t.id }

// Document returns the page the tab acts on.
func (t *Tab) Document() page.Document { return t.doc }

// Outbox delivers push messages for the client.
func (t *Tab) Outbox() <-chan presence.Push { return t.outbox }

// Snapshot returns the controller state.
func (t *Tab) Snapshot() session.Snapshot { return t.ctrl.Snapshot() }

// Notify implements [presence.Tab].
func (t *Tab) Notify(p presence.Push) error {
	select {
	case <-t.closed:
		return ErrClosed
	default:
	}
	select {
	case t.outbox <- p:
		return nil
	default:
		return ErrOutboxFull
	}
}

// StartListening implements [presence.Tab].
func (t *Tab) StartListening(ctx context.Context) error { return t.ctrl.Start(ctx) }

// StopListening implements [presence.Tab].
func (t *Tab) StopListening(ctx context.Context) error { return t.ctrl.Stop(ctx) }

// Toggle flips listening like the widget button.
func (t *Tab) Toggle(ctx context.Context) error { return t.ctrl.Toggle(ctx) }

// Suspend implements [presence.Tab]. The tab is treated as hidden.
func (t *Tab) Suspend(ctx context.Context, reason string) error {
	slog.Debug("tab: suspending", "tab", t.id, "reason", reason)
	return t.ctrl.SetVisible(ctx, false)
}

// Initialize implements [presence.Tab]. A listening global state resumes
// in continuous mode.
func (t *Tab) Initialize(ctx context.Context, s presence.GlobalState) error {
	if err := t.ctrl.Restore(ctx, s.IsListening, s.IsListening || s.ContinuousListening); err != nil {
		return err
	}
	return t.Notify(presence.Push{Action: presence.PushInitializeWithState, State: &s})
}

// Command implements [presence.Tab].
func (t *Tab) Command(ctx context.Context, text string) (session.Dispatch, error) {
	return t.ctrl.Submit(ctx, text)
}

// SetVisible reports the page's visibility.
func (t *Tab) SetVisible(ctx context.Context, visible bool) error {
	return t.ctrl.SetVisible(ctx, visible)
}

// Unload reports that the page is going away.
func (t *Tab) Unload(ctx context.Context) error { return t.ctrl.Unload(ctx) }

// WriteAudio queues microphone audio. It reports false when the frame was
// dropped.
func (t *Tab) WriteAudio(f audio.Frame) bool { return t.pipe.Write(f) }

// MicrophoneError reports a capture failure from the client.
func (t *Tab) MicrophoneError(err error) { t.pipe.Fail(err) }

// Execute runs an intent on the document. It implements
// [session.Executor] so the tab can notice navigations.
func (t *Tab) Execute(ctx context.Context, in command.Intent) action.Outcome {
	before, _ := t.doc.URL(ctx)
	out := t.exec.Execute(ctx, in)
	if !out.Success {
		return out
	}
	after, _ := t.doc.URL(ctx)
	reload := in.Kind == command.KindPageAction && in.Action == command.PageRefresh
	if (after != before && !strings.HasPrefix(after, "mailto:")) || reload {
		t.enqueue(t.navigated)
	}
	return out
}

// navigated runs after the document changed location: the old page is
// unloaded and the coordinator re-initialises the tab.
func (t *Tab) navigated(ctx context.Context) {
	t.exec.Highlighter().Clear(ctx)
	if err := t.ctrl.Unload(ctx); err != nil {
		slog.Debug("tab: unload failed", "tab", t.id, "err", err)
	}
	if t.reporter == nil {
		return
	}
	if err := t.reporter.Navigated(ctx, t.id); err != nil {
		slog.Warn("tab: navigation report failed", "tab", t.id, "err", err)
	}
}

func (t *Tab) onState(s session.Snapshot) {
	if t.reporter == nil {
		return
	}
	listening, continuous := s.Listening(), s.Continuous
	t.enqueue(func(ctx context.Context) {
		if err := t.reporter.ReportListening(ctx, t.id, listening, continuous); err != nil {
			slog.Warn("tab: state report failed", "tab", t.id, "err", err)
		}
	})
}

func (t *Tab) showStatus(text string, tone session.Tone) {
	if err := t.Notify(presence.Push{
		Action: presence.PushStatus,
		Status: &presence.Status{Text: text, Tone: string(tone)},
	}); err != nil {
		slog.Debug("tab: status dropped", "tab", t.id, "err", err)
	}
}

// enqueue runs fn on the tab's worker. It never blocks the caller, which is
// usually the controller loop.
func (t *Tab) enqueue(fn func(context.Context)) {
	select {
	case t.work <- fn:
	default:
		slog.Warn("tab: work queue full, dropping task", "tab", t.id)
	}
}
