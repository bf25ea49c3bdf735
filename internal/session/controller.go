package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voicenav/internal/command"
	"github.com/MrWong99/voicenav/internal/observe"
	"github.com/MrWong99/voicenav/internal/recognizer"
)

var (
	// ErrCapabilityUnavailable is returned by [Controller.Start] when no
	// speech recognizer is available. The controller does not retry.
	ErrCapabilityUnavailable = errors.New("session: speech capability unavailable")

	// ErrStopped is returned by requests made after Run returned.
	ErrStopped = errors.New("session: controller stopped")
)

// Default delays.
const (
	// DefaultSettleDelay separates two recognition runs in continuous mode
	// and delays a restore after navigation.
	DefaultSettleDelay = time.Second

	// DefaultResumeDelay delays restarting when a hidden page becomes
	// visible again.
	DefaultResumeDelay = 500 * time.Millisecond
)

// State is the listening state of a [Controller].
type State int

const (
	StateIdle State = iota
	StateListening
	StateAwaitingRestart
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateAwaitingRestart:
		return "awaiting_restart"
	case StateStopping:
		return "stopping"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Snapshot is a consistent view of a controller's state.
type Snapshot struct {
	State         State
	Continuous    bool
	StopRequested bool
	Visible       bool
}

// Listening reports whether a session is active, including the pause
// between two runs in continuous mode.
func (s Snapshot) Listening() bool {
	return s.State == StateListening || s.State == StateAwaitingRestart
}

// ControllerOption configures a [Controller].
type ControllerOption func(*Controller)

// WithSettleDelay overrides [DefaultSettleDelay].
func WithSettleDelay(d time.Duration) ControllerOption {
	return func(c *Controller) {
		if d > 0 {
			c.settle = d
		}
	}
}

// WithResumeDelay overrides [DefaultResumeDelay].
func WithResumeDelay(d time.Duration) ControllerOption {
	return func(c *Controller) {
		if d > 0 {
			c.resume = d
		}
	}
}

// WithFeedback sets the status surface.
func WithFeedback(f Feedback) ControllerOption {
	return func(c *Controller) { c.feedback = f }
}

// WithStateListener registers fn to be called from the event loop whenever
// the persisted part of the state (listening, continuous) changes because
// of a user or voice decision. Suspending for a hidden page or an unload
// does not notify, so the stored state survives for a later restore. fn must
// not call back into the controller.
func WithStateListener(fn func(Snapshot)) ControllerOption {
	return func(c *Controller) { c.listener = fn }
}

// WithSessionMetrics counts the controller as an active session while Run
// is executing.
func WithSessionMetrics(m *observe.Metrics) ControllerOption {
	return func(c *Controller) { c.metrics = m }
}

type requestKind int

const (
	reqStart requestKind = iota
	reqStop
	reqToggle
	reqVisible
	reqUnload
	reqRestore
	reqSubmit
)

type request struct {
	kind       requestKind
	visible    bool
	listening  bool
	continuous bool
	text       string
	reply      chan reply
}

type reply struct {
	dispatch Dispatch
	err      error
}

type timerPurpose int

const (
	timerRestart timerPurpose = iota + 1
	timerResume
)

// Controller owns one recognizer and runs the listening state machine on a
// single goroutine ([Controller.Run]). All other methods send a request to
// that goroutine and wait for it to be handled.
//
// A recognition run that yields a command is fully dispatched before the
// next run starts: restarts are only decided on the run's End event.
type Controller struct {
	rec      recognizer.Recognizer
	disp     *Dispatcher
	feedback Feedback
	listener func(Snapshot)
	metrics  *observe.Metrics
	settle   time.Duration
	resume   time.Duration

	reqs chan request
	done chan struct{}
	once sync.Once

	snapMu sync.RWMutex
	snap   Snapshot

	// Loop-owned state.
	ctx             context.Context
	state           State
	continuous      bool
	stopRequested   bool
	suspended       bool
	visible         bool
	runErr          recognizer.ErrorKind
	unavailableSeen bool
	notified        [2]bool
	timer           *time.Timer
	timerC          <-chan time.Time
	timerFor        timerPurpose
}

// NewController returns a controller driving rec and sending results to
// disp. Call Run to start it.
func NewController(rec recognizer.Recognizer, disp *Dispatcher, opts ...ControllerOption) *Controller {
	c := &Controller{
		rec:      rec,
		disp:     disp,
		feedback: nopFeedback{},
		settle:   DefaultSettleDelay,
		resume:   DefaultResumeDelay,
		reqs:     make(chan request),
		done:     make(chan struct{}),
		visible:  true,
	}
	for _, o := range opts {
		o(c)
	}
	c.snap = c.snapshot()
	return c
}

// Run handles requests and recognizer events until ctx is cancelled. A
// running recognition is stopped on return. Run must be called once.
func (c *Controller) Run(ctx context.Context) error {
	c.ctx = ctx
	c.metrics.SessionStarted(ctx)
	defer func() {
		c.disarm()
		if c.state == StateListening {
			c.rec.Stop()
		}
		c.metrics.SessionEnded(context.WithoutCancel(ctx))
		c.once.Do(func() { close(c.done) })
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-c.reqs:
			c.handle(req)
		case ev := <-c.rec.Events():
			c.onEvent(ev)
		case <-c.timerC:
			c.onTimer()
		}
		c.publish()
	}
}

// Start begins listening if the controller is idle. It returns
// [ErrCapabilityUnavailable] when the recognizer cannot run at all.
func (c *Controller) Start(ctx context.Context) error {
	_, err := c.call(ctx, request{kind: reqStart})
	return err
}

// Stop ends listening and leaves continuous mode.
func (c *Controller) Stop(ctx context.Context) error {
	_, err := c.call(ctx, request{kind: reqStop})
	return err
}

// Toggle stops an active session and starts an inactive one, like the
// widget's start/stop button.
func (c *Controller) Toggle(ctx context.Context) error {
	_, err := c.call(ctx, request{kind: reqToggle})
	return err
}

// SetVisible reports page visibility. Hiding the page suspends listening
// and remembers continuous mode; showing it again resumes after the resume
// delay.
func (c *Controller) SetVisible(ctx context.Context, visible bool) error {
	_, err := c.call(ctx, request{kind: reqVisible, visible: visible})
	return err
}

// Unload suspends listening because the page is going away. The stored
// state is left untouched for the next page.
func (c *Controller) Unload(ctx context.Context) error {
	_, err := c.call(ctx, request{kind: reqUnload})
	return err
}

// Restore applies persisted state after a page load and marks the page
// visible. When both flags are set, listening starts after the settle delay.
func (c *Controller) Restore(ctx context.Context, listening, continuous bool) error {
	_, err := c.call(ctx, request{kind: reqRestore, listening: listening, continuous: continuous})
	return err
}

// Submit dispatches a typed command as if it had been spoken. Start and stop
// phrases act on the session.
func (c *Controller) Submit(ctx context.Context, text string) (Dispatch, error) {
	return c.call(ctx, request{kind: reqSubmit, text: text})
}

// Snapshot returns the state as of the last handled event.
func (c *Controller) Snapshot() Snapshot {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return c.snap
}

// Done is closed when Run has returned.
func (c *Controller) Done() <-chan struct{} { return c.done }

func (c *Controller) call(ctx context.Context, req request) (Dispatch, error) {
	req.reply = make(chan reply, 1)
	select {
	case c.reqs <- req:
	case <-c.done:
		return Dispatch{}, ErrStopped
	case <-ctx.Done():
		return Dispatch{}, ctx.Err()
	}
	select {
	case r := <-req.reply:
		return r.dispatch, r.err
	case <-c.done:
		return Dispatch{}, ErrStopped
	case <-ctx.Done():
		return Dispatch{}, ctx.Err()
	}
}

func (c *Controller) handle(req request) {
	var r reply
	switch req.kind {
	case reqStart:
		r.err = c.userStart()
	case reqStop:
		c.userStop()
	case reqToggle:
		if c.state != StateIdle || c.continuous {
			c.userStop()
		} else {
			r.err = c.userStart()
		}
	case reqVisible:
		c.visible = req.visible
		if !req.visible {
			c.suspend()
		} else if c.state == StateIdle && c.continuous {
			c.arm(c.resume, timerResume)
		}
	case reqUnload:
		c.visible = false
		c.suspend()
	case reqRestore:
		c.visible = true
		if req.continuous {
			c.continuous = true
			c.notified = [2]bool{req.listening, true}
			if req.listening && c.state == StateIdle {
				c.arm(c.settle, timerResume)
			}
		}
	case reqSubmit:
		r.dispatch = c.dispatch(req.text, 1)
	}
	c.publish()
	req.reply <- r
}

// userStart starts a run on an explicit request.
func (c *Controller) userStart() error {
	switch c.state {
	case StateListening, StateStopping:
		return nil
	case StateAwaitingRestart:
		c.disarm()
		c.state = StateIdle
	}
	c.stopRequested = false
	return c.begin()
}

// userStop ends the session and leaves continuous mode.
func (c *Controller) userStop() {
	c.continuous = false
	switch c.state {
	case StateListening:
		c.stopRequested = true
		c.state = StateStopping
		c.rec.Stop()
	case StateStopping:
		c.stopRequested = true
	default:
		c.disarm()
		c.state = StateIdle
		c.stopRequested = false
		c.suspended = false
		c.feedback.Show(StatusStopped, ToneStopped)
	}
}

// suspend stops listening without leaving continuous mode.
func (c *Controller) suspend() {
	c.disarm()
	switch c.state {
	case StateListening:
		c.suspended = true
		c.state = StateStopping
		c.rec.Stop()
	case StateAwaitingRestart:
		c.state = StateIdle
	}
}

func (c *Controller) begin() error {
	err := c.rec.Start(c.ctx)
	switch {
	case err == nil:
		c.state = StateListening
		c.runErr = ""
		return nil
	case errors.Is(err, recognizer.ErrUnavailable):
		c.state = StateIdle
		c.continuous = false
		if !c.unavailableSeen {
			c.unavailableSeen = true
			slog.Warn("session: speech recognition unavailable")
			c.feedback.Show(StatusUnavailable, ToneError)
		}
		return ErrCapabilityUnavailable
	case errors.Is(err, recognizer.ErrBusy):
		// A previous run has not delivered End yet; it will.
		slog.Debug("session: recognizer busy")
		c.state = StateListening
		return nil
	default:
		slog.Error("session: failed to start recognition", "err", err)
		c.state = StateIdle
		c.feedback.Show(StatusStartFailed, ToneError)
		return fmt.Errorf("session: start: %w", err)
	}
}

func (c *Controller) onEvent(ev recognizer.Event) {
	switch ev.Type {
	case recognizer.EventStarted:
		if c.state == StateListening {
			c.feedback.Show(StatusListening, ToneListening)
		}
	case recognizer.EventResult:
		c.dispatch(ev.Text, ev.Confidence)
		if !c.stopRequested && !c.suspended && !c.continuous {
			c.continuous = true
			slog.Info("session: continuous mode enabled")
		}
	case recognizer.EventError:
		c.runErr = ev.Kind
		slog.Warn("session: recognition error", "kind", string(ev.Kind), "err", ev.Cause)
		c.feedback.Show(ErrorMessage(ev.Kind), ToneError)
	case recognizer.EventEnd:
		c.onEnd()
	}
}

// onEnd is the only place a restart is decided.
func (c *Controller) onEnd() {
	fatal := c.runErr == recognizer.ErrNotAllowed || c.runErr == recognizer.ErrAudioCapture
	hadErr := c.runErr != ""
	c.runErr = ""

	switch {
	case c.stopRequested:
		c.state = StateIdle
		c.stopRequested = false
		c.suspended = false
		c.continuous = false
		c.feedback.Show(StatusStopped, ToneStopped)
	case c.suspended:
		c.state = StateIdle
		c.suspended = false
		if c.visible && c.continuous {
			c.arm(c.resume, timerResume)
		}
	case c.state != StateListening:
		// Stale End for a run we already gave up on.
	case c.continuous && !fatal:
		c.state = StateAwaitingRestart
		c.arm(c.settle, timerRestart)
		if !hadErr {
			c.feedback.Show(StatusRestarting, ToneListening)
		}
	default:
		c.state = StateIdle
		c.continuous = false
		if !hadErr {
			c.feedback.Show(StatusStopped, ToneStopped)
		}
	}
}

func (c *Controller) onTimer() {
	purpose := c.timerFor
	c.timerC, c.timerFor = nil, 0
	switch purpose {
	case timerRestart:
		if c.state == StateAwaitingRestart && c.continuous {
			c.state = StateIdle
			c.restart()
		}
	case timerResume:
		if c.state == StateIdle && c.continuous && c.visible {
			c.restart()
		}
	}
}

// restart begins the next run of continuous mode. When the recognizer
// refuses, continuous mode ends so the idle state is published.
func (c *Controller) restart() {
	if err := c.begin(); err != nil {
		c.continuous = false
	}
}

// dispatch runs one transcript and applies listening control intents.
func (c *Controller) dispatch(text string, confidence float64) Dispatch {
	d := c.disp.Dispatch(c.ctx, text, confidence)
	switch d.Intent.Kind {
	case command.KindStopListening:
		c.userStop()
		if c.state == StateStopping {
			c.feedback.Show(StatusStopping, ToneInfo)
		}
	case command.KindStartListening:
		if c.state == StateIdle && !c.continuous {
			if err := c.begin(); err != nil {
				d.Outcome.Success = false
				d.Outcome.Message = StatusStartFailed
			}
		}
	default:
		tone := ToneSuccess
		if !d.Outcome.Success {
			tone = ToneError
		}
		c.feedback.Show(d.Outcome.Status(), tone)
	}
	return d
}

func (c *Controller) arm(d time.Duration, purpose timerPurpose) {
	c.disarm()
	c.timer = time.NewTimer(d)
	c.timerC = c.timer.C
	c.timerFor = purpose
}

func (c *Controller) disarm() {
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer, c.timerC, c.timerFor = nil, nil, 0
}

func (c *Controller) snapshot() Snapshot {
	return Snapshot{
		State:         c.state,
		Continuous:    c.continuous,
		StopRequested: c.stopRequested,
		Visible:       c.visible,
	}
}

// publish refreshes the snapshot and notifies the listener when the
// persisted flags changed outside a suspension.
func (c *Controller) publish() {
	s := c.snapshot()
	c.snapMu.Lock()
	c.snap = s
	c.snapMu.Unlock()

	if c.suspended || (c.state == StateIdle && c.continuous) {
		return
	}
	flags := [2]bool{s.Listening(), s.Continuous}
	if flags == c.notified {
		return
	}
	c.notified = flags
	if c.listener != nil {
		c.listener(s)
	}
}
