package session

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voicenav/internal/action"
	"github.com/MrWong99/voicenav/internal/command"
	"github.com/MrWong99/voicenav/internal/recognizer"
	"github.com/MrWong99/voicenav/internal/recognizer/mock"
)

type fakeExecutor struct {
	mu      sync.Mutex
	intents []command.Intent
	outcome action.Outcome
}

func (e *fakeExecutor) Execute(_ context.Context, in command.Intent) action.Outcome {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.intents = append(e.intents, in)
	if e.outcome.Message == "" {
		return action.Outcome{Success: true, Message: action.MsgScrolledDown, Reason: action.ReasonOK}
	}
	return e.outcome
}

func (e *fakeExecutor) kinds() []command.Kind {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []command.Kind
	for _, in := range e.intents {
		out = append(out, in.Kind)
	}
	return out
}

type recorder struct {
	mu     sync.Mutex
	shown  []string
	states []Snapshot
}

func (r *recorder) Show(text string, _ Tone) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shown = append(r.shown, text)
}

func (r *recorder) onState(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *recorder) saw(text string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Contains(r.shown, text)
}

func (r *recorder) count(text string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.shown {
		if s == text {
			n++
		}
	}
	return n
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.shown)
}

func (r *recorder) notifications() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.states)
}

type harness struct {
	ctrl *Controller
	rec  *mock.Recognizer
	exec *fakeExecutor
	out  *recorder
}

func newHarness(t *testing.T, opts ...ControllerOption) *harness {
	t.Helper()
	h := &harness{rec: mock.New(), exec: &fakeExecutor{}, out: &recorder{}}
	opts = append([]ControllerOption{
		WithFeedback(h.out),
		WithStateListener(h.out.onState),
		WithSettleDelay(10 * time.Millisecond),
		WithResumeDelay(10 * time.Millisecond),
	}, opts...)
	h.ctrl = NewController(h.rec, NewDispatcher(h.exec), opts...)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = h.ctrl.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-h.ctrl.Done()
	})
	return h
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func (h *harness) waitState(t *testing.T, want State) {
	t.Helper()
	waitFor(t, "state "+want.String(), func() bool { return h.ctrl.Snapshot().State == want })
}

// waitRun blocks until the n-th recognition run is active.
func (h *harness) waitRun(t *testing.T, n int) {
	t.Helper()
	waitFor(t, "recognition run", func() bool { return h.rec.Starts() == n && h.rec.Running() })
	h.waitState(t, StateListening)
}

func TestController_ContinuousAfterFirstCommand(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)

	if err := h.ctrl.Start(ctx); err != nil {
		t.Fatal(err)
	}
	h.waitRun(t, 1)
	if h.ctrl.Snapshot().Continuous {
		t.Fatal("continuous before any command")
	}

	h.rec.Say("Scroll Down", 0.9)
	h.waitRun(t, 2)
	if !h.ctrl.Snapshot().Continuous {
		t.Error("continuous mode not enabled after first command")
	}
	if got := h.exec.kinds(); !slices.Equal(got, []command.Kind{command.KindScrollDown}) {
		t.Errorf("executed = %v", got)
	}
	if !h.out.saw(StatusListening) || !h.out.saw(action.MsgScrolledDown) {
		t.Errorf("shown = %v", h.out.all())
	}

	h.rec.Say("scroll up", 0.8)
	h.waitRun(t, 3)

	states := h.out.notifications()
	if len(states) != 2 {
		t.Fatalf("notifications = %+v, want 2", states)
	}
	if !states[0].Listening() || states[0].Continuous {
		t.Errorf("first notification = %+v", states[0])
	}
	if !states[1].Continuous {
		t.Errorf("second notification = %+v", states[1])
	}
}

func TestController_StopPhrase(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)

	_ = h.ctrl.Start(ctx)
	h.waitRun(t, 1)
	h.rec.Say("scroll down", 1)
	h.waitRun(t, 2)

	h.rec.Say("please stop listening now", 1)
	h.waitState(t, StateIdle)

	s := h.ctrl.Snapshot()
	if s.Continuous || s.StopRequested {
		t.Errorf("snapshot after stop = %+v", s)
	}
	if got := h.exec.kinds(); len(got) != 1 {
		t.Errorf("stop phrase reached the executor: %v", got)
	}
	if !h.out.saw(StatusStopped) {
		t.Errorf("shown = %v", h.out.all())
	}

	time.Sleep(50 * time.Millisecond)
	if n := h.rec.Starts(); n != 2 {
		t.Errorf("restarted after stop phrase: starts = %d", n)
	}
	last := h.out.notifications()
	if l := last[len(last)-1]; l.Listening() || l.Continuous {
		t.Errorf("last notification = %+v", l)
	}
}

func TestController_RunWithoutCommandEndsIdle(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	_ = h.ctrl.Start(context.Background())
	h.waitRun(t, 1)
	h.rec.End()
	h.waitState(t, StateIdle)

	time.Sleep(30 * time.Millisecond)
	if n := h.rec.Starts(); n != 1 {
		t.Errorf("starts = %d, want 1", n)
	}
	if !h.out.saw(StatusStopped) {
		t.Errorf("shown = %v", h.out.all())
	}
}

func TestController_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		kind        recognizer.ErrorKind
		wantRestart bool
	}{
		{"no speech restarts", recognizer.ErrNoSpeech, true},
		{"network restarts", recognizer.ErrNetwork, true},
		{"permission denied stops", recognizer.ErrNotAllowed, false},
		{"no microphone stops", recognizer.ErrAudioCapture, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			_ = h.ctrl.Start(context.Background())
			h.waitRun(t, 1)
			h.rec.Say("scroll down", 1)
			h.waitRun(t, 2)

			h.rec.Fail(tt.kind)
			if tt.wantRestart {
				h.waitRun(t, 3)
			} else {
				h.waitState(t, StateIdle)
				if h.ctrl.Snapshot().Continuous {
					t.Error("continuous mode kept after fatal error")
				}
			}
			if !h.out.saw(ErrorMessage(tt.kind)) {
				t.Errorf("shown = %v", h.out.all())
			}
		})
	}
}

func TestController_UserStopCancelsRestart(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, WithSettleDelay(time.Hour))

	_ = h.ctrl.Start(ctx)
	h.waitRun(t, 1)
	h.rec.Say("scroll up", 1)
	h.waitState(t, StateAwaitingRestart)

	if err := h.ctrl.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	if s := h.ctrl.Snapshot(); s.State != StateIdle || s.Continuous {
		t.Errorf("snapshot = %+v", s)
	}
	if n := h.rec.Starts(); n != 1 {
		t.Errorf("starts = %d", n)
	}
}

func TestController_UserStopWhileListening(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)

	_ = h.ctrl.Toggle(ctx)
	h.waitRun(t, 1)
	_ = h.ctrl.Toggle(ctx)
	h.waitState(t, StateIdle)

	if h.rec.Stops() != 1 {
		t.Errorf("stops = %d", h.rec.Stops())
	}
	if !h.out.saw(StatusStopped) {
		t.Errorf("shown = %v", h.out.all())
	}
}

func TestController_HiddenPageResumes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)

	if err := h.ctrl.Restore(ctx, true, true); err != nil {
		t.Fatal(err)
	}
	h.waitRun(t, 1)

	_ = h.ctrl.SetVisible(ctx, false)
	h.waitState(t, StateIdle)
	if s := h.ctrl.Snapshot(); !s.Continuous || s.Visible {
		t.Errorf("snapshot while hidden = %+v", s)
	}
	time.Sleep(30 * time.Millisecond)
	if h.rec.Starts() != 1 {
		t.Fatalf("restarted while hidden")
	}

	_ = h.ctrl.SetVisible(ctx, true)
	h.waitRun(t, 2)

	if n := h.out.notifications(); len(n) != 0 {
		t.Errorf("hide/resume notified the listener: %+v", n)
	}
}

func TestController_UnloadKeepsStoredState(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)

	_ = h.ctrl.Start(ctx)
	h.waitRun(t, 1)
	h.rec.Say("scroll down", 1)
	h.waitRun(t, 2)
	before := len(h.out.notifications())

	_ = h.ctrl.Unload(ctx)
	h.waitState(t, StateIdle)
	time.Sleep(30 * time.Millisecond)

	if h.rec.Starts() != 2 {
		t.Errorf("restarted after unload")
	}
	if after := len(h.out.notifications()); after != before {
		t.Errorf("unload notified the listener")
	}
}

func TestController_RestoreWithoutListening(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	_ = h.ctrl.Restore(context.Background(), false, true)
	time.Sleep(30 * time.Millisecond)
	if h.rec.Starts() != 0 {
		t.Error("restore started listening")
	}
	if !h.ctrl.Snapshot().Continuous {
		t.Error("continuous flag not restored")
	}
}

func TestController_Unavailable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)
	h.rec.StartErr = recognizer.ErrUnavailable

	for range 2 {
		if err := h.ctrl.Start(ctx); !errors.Is(err, ErrCapabilityUnavailable) {
			t.Fatalf("Start: err = %v", err)
		}
	}
	if n := h.out.count(StatusUnavailable); n != 1 {
		t.Errorf("unavailable shown %d times", n)
	}
	if s := h.ctrl.Snapshot(); s.State != StateIdle {
		t.Errorf("state = %v", s.State)
	}
}

func TestController_Submit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)

	d, err := h.ctrl.Submit(ctx, "click login")
	if err != nil {
		t.Fatal(err)
	}
	if d.Intent.Kind != command.KindClick || d.Intent.Target != "login" {
		t.Errorf("intent = %+v", d.Intent)
	}
	if s := h.ctrl.Snapshot(); s.State != StateIdle || s.Continuous {
		t.Errorf("typed command changed the session: %+v", s)
	}

	if _, err := h.ctrl.Submit(ctx, "start listening"); err != nil {
		t.Fatal(err)
	}
	h.waitRun(t, 1)
}

func TestController_StoppedController(t *testing.T) {
	t.Parallel()
	c := NewController(mock.New(), NewDispatcher(&fakeExecutor{}))
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = c.Run(ctx) }()
	cancel()
	<-c.Done()

	if err := c.Start(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("Start after Run: err = %v", err)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()
	tests := map[State]string{
		StateIdle:            "idle",
		StateListening:       "listening",
		StateAwaitingRestart: "awaiting_restart",
		StateStopping:        "stopping",
		State(9):             "State(9)",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int(s), got, want)
		}
	}
}

func TestController_FailedRestartEndsContinuous(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	h.waitRun(t, 1)
	h.rec.Say("scroll down", 1)
	h.waitRun(t, 2)

	h.rec.SetStartErr(errors.New("microphone is gone"))
	h.rec.End()

	waitFor(t, "failed restart", func() bool { return h.rec.Starts() == 3 })
	h.waitState(t, StateIdle)
	if h.ctrl.Snapshot().Continuous {
		t.Error("continuous mode kept after the restart failed")
	}
	waitFor(t, "idle notification", func() bool {
		states := h.out.notifications()
		last := states[len(states)-1]
		return !last.Listening() && !last.Continuous
	})
	if !h.out.saw(StatusStartFailed) {
		t.Errorf("shown = %v", h.out.all())
	}
}
