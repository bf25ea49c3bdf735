package presence

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voicenav/internal/action"
	"github.com/MrWong99/voicenav/internal/command"
	"github.com/MrWong99/voicenav/internal/prefs"
	"github.com/MrWong99/voicenav/internal/session"
)

type fakeTab struct {
	id string

	mu          sync.Mutex
	pushes      []Push
	starts      int
	stops       int
	suspends    []string
	inits       []GlobalState
	commands    []string
	notifyErr   error
	startErr    error
	commandResp session.Dispatch
}

func newTab(id string) *fakeTab { return &fakeTab{id: id} }

func (t *fakeTab) ID() string { return t.id }

func (t *fakeTab) Notify(p Push) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.notifyErr != nil {
		return t.notifyErr
	}
	t.pushes = append(t.pushes, p)
	return nil
}

func (t *fakeTab) StartListening(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.starts++
	return t.startErr
}

func (t *fakeTab) StopListening(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stops++
	return nil
}

func (t *fakeTab) Suspend(_ context.Context, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.suspends = append(t.suspends, reason)
	return nil
}

func (t *fakeTab) Initialize(_ context.Context, s GlobalState) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inits = append(t.inits, s)
	return nil
}

func (t *fakeTab) Command(_ context.Context, text string) (session.Dispatch, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.commands = append(t.commands, text)
	return t.commandResp, nil
}

func (t *fakeTab) pushActions() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for _, p := range t.pushes {
		out = append(out, p.Action)
	}
	return out
}

func (t *fakeTab) initCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inits)
}

func start(t *testing.T, store prefs.Store) *Coordinator {
	t.Helper()
	c := New(store, WithDelays(10*time.Millisecond, 20*time.Millisecond))
	if err := c.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = c.Run(ctx) }()
	t.Cleanup(cancel)
	return c
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func ptr[T any](v T) *T { return &v }

func TestCoordinator_UnknownAction(t *testing.T) {
	t.Parallel()
	c := start(t, prefs.NewMemory())
	resp := c.Handle(context.Background(), "", Request{Action: "launchRockets"})
	if resp.Success || resp.Error != "Unknown action" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestCoordinator_LoadsPersistedState(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := prefs.NewMemory()
	_ = store.Set(ctx, prefs.Preferences{IsListening: true, PopupPosition: prefs.Position{X: 3, Y: 4}})

	c := start(t, store)
	resp := c.Handle(ctx, "", Request{Action: ActionGetGlobalState})
	if !resp.Success || resp.State == nil {
		t.Fatalf("resp = %+v", resp)
	}
	if !resp.State.IsListening || resp.State.PopupPosition != (prefs.Position{X: 3, Y: 4}) || resp.State.FloatingPopupEnabled {
		t.Errorf("state = %+v", resp.State)
	}
}

func TestCoordinator_UpdateGlobalStatePersists(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := prefs.NewMemory()
	c := start(t, store)

	resp := c.Handle(ctx, "a", Request{Action: ActionUpdateGlobalState, State: &StatePatch{
		PopupPosition: &prefs.Position{X: 100, Y: 50},
		IsMinimized:   ptr(true),
	}})
	if !resp.Success {
		t.Fatalf("resp = %+v", resp)
	}
	p, err := store.Get(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if p.PopupPosition != (prefs.Position{X: 100, Y: 50}) || !p.IsMinimized || !p.FloatingPopupEnabled {
		t.Errorf("stored = %+v", p)
	}
}

func TestCoordinator_StartStopBroadcast(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := prefs.NewMemory()
	c := start(t, store)
	a, b, broken := newTab("a"), newTab("b"), newTab("c")
	broken.notifyErr = errors.New("gone")
	for _, tab := range []*fakeTab{a, b, broken} {
		if err := c.Register(ctx, tab); err != nil {
			t.Fatal(err)
		}
	}

	if resp := c.Handle(ctx, "b", Request{Action: ActionStartListening}); !resp.Success {
		t.Fatalf("start: %+v", resp)
	}
	if b.starts != 1 || a.starts != 0 {
		t.Errorf("starts a=%d b=%d", a.starts, b.starts)
	}
	s := c.State()
	if !s.IsListening || s.ListeningTabID != "b" {
		t.Errorf("state = %+v", s)
	}
	for _, tab := range []*fakeTab{a, b} {
		if got := tab.pushActions(); !slices.Equal(got, []string{PushGlobalStateChanged, PushGlobalStateChanged}) {
			t.Errorf("tab %s pushes = %v", tab.id, got)
		}
	}

	if resp := c.Handle(ctx, "a", Request{Action: ActionStopListening}); !resp.Success {
		t.Fatalf("stop: %+v", resp)
	}
	if b.stops != 1 || a.stops != 1 {
		t.Errorf("stops a=%d b=%d", a.stops, b.stops)
	}
	p, _ := store.Get(ctx)
	if p.IsListening || p.ContinuousListening {
		t.Errorf("stored = %+v", p)
	}
	if s := c.State(); s.IsListening || s.ListeningTabID != "" {
		t.Errorf("state = %+v", s)
	}
}

func TestCoordinator_StartFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := start(t, prefs.NewMemory())
	a := newTab("a")
	a.startErr = session.ErrCapabilityUnavailable
	_ = c.Register(ctx, a)

	resp := c.Handle(ctx, "a", Request{Action: ActionStartListening})
	if resp.Success || resp.Error == "" {
		t.Errorf("resp = %+v", resp)
	}
	if c.State().IsListening {
		t.Error("listening after failed start")
	}
}

func TestCoordinator_TogglePopup(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := prefs.NewMemory()
	c := start(t, store)

	c.Handle(ctx, "", Request{Action: ActionToggleFloatingPopup})
	if p, _ := store.Get(ctx); p.FloatingPopupEnabled {
		t.Error("popup still enabled after toggle")
	}
	c.Handle(ctx, "", Request{Action: ActionToggleFloatingPopup})
	if p, _ := store.Get(ctx); !p.FloatingPopupEnabled {
		t.Error("popup disabled after second toggle")
	}
}

func TestCoordinator_Command(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := start(t, prefs.NewMemory())

	if resp := c.Handle(ctx, "x", Request{Action: ActionCommand, Command: "scroll down"}); resp.Success || resp.Error == "" {
		t.Errorf("command without tabs: %+v", resp)
	}

	a := newTab("a")
	a.commandResp = session.Dispatch{
		Intent:  command.Intent{Kind: command.KindScrollDown},
		Outcome: action.Outcome{Success: true, Message: action.MsgScrolledDown, Reason: action.ReasonOK},
	}
	_ = c.Register(ctx, a)

	// An unknown sender falls back to the current tab.
	resp := c.Handle(ctx, "popup", Request{Action: ActionCommand, Command: "scroll down"})
	if !resp.Success || resp.Result == nil || resp.Result.Intent != "scroll_down" || resp.Result.Message != action.MsgScrolledDown {
		t.Errorf("resp = %+v", resp)
	}
	if !slices.Equal(a.commands, []string{"scroll down"}) {
		t.Errorf("commands = %v", a.commands)
	}
}

func TestCoordinator_TabSwitch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := prefs.NewMemory()
	_ = store.Set(ctx, prefs.Preferences{FloatingPopupEnabled: true, IsListening: true, ContinuousListening: true})
	c := start(t, store)

	a, b := newTab("a"), newTab("b")
	_ = c.Register(ctx, a)
	eventually(t, "initial tab initialised", func() bool { return a.initCount() == 1 })
	_ = c.Register(ctx, b)

	if err := c.Activate(ctx, "b"); err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(a.suspends, []string{"tabChange"}) {
		t.Errorf("old tab suspends = %v", a.suspends)
	}
	if got := a.pushActions(); !slices.Contains(got, PushStopListening) {
		t.Errorf("old tab pushes = %v", got)
	}
	eventually(t, "new tab initialised", func() bool { return b.initCount() == 1 })
	eventually(t, "listening tab moved", func() bool { return c.State().ListeningTabID == "b" })

	b.mu.Lock()
	init := b.inits[0]
	b.mu.Unlock()
	if !init.IsListening || !init.ContinuousListening {
		t.Errorf("init state = %+v", init)
	}
}

func TestCoordinator_TabSwitchWhileIdle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := start(t, prefs.NewMemory())
	a, b := newTab("a"), newTab("b")
	_ = c.Register(ctx, a)
	_ = c.Register(ctx, b)
	_ = c.Activate(ctx, "b")

	time.Sleep(40 * time.Millisecond)
	if a.initCount() != 0 || b.initCount() != 0 || len(a.suspends) != 0 {
		t.Errorf("idle tab switch acted: inits a=%d b=%d suspends=%v", a.initCount(), b.initCount(), a.suspends)
	}
}

func TestCoordinator_Navigation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := start(t, prefs.NewMemory())
	a, b := newTab("a"), newTab("b")
	_ = c.Register(ctx, a)
	_ = c.Register(ctx, b)
	_ = c.ReportListening(ctx, "a", true, true)

	_ = c.Navigated(ctx, "b")
	_ = c.Navigated(ctx, "a")
	eventually(t, "navigated tab initialised", func() bool { return a.initCount() == 1 })
	time.Sleep(40 * time.Millisecond)
	if b.initCount() != 0 {
		t.Error("background tab initialised after its navigation")
	}
}

func TestCoordinator_ReportListening(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := prefs.NewMemory()
	c := start(t, store)

	_ = c.ReportListening(ctx, "a", true, false)
	if s := c.State(); !s.IsListening || s.ListeningTabID != "a" {
		t.Fatalf("state = %+v", s)
	}

	// Another tab going idle does not clear a's session.
	_ = c.ReportListening(ctx, "b", false, false)
	if !c.State().IsListening {
		t.Error("foreign stop cleared listening")
	}

	_ = c.ReportListening(ctx, "a", false, false)
	if s := c.State(); s.IsListening || s.ListeningTabID != "" {
		t.Errorf("state = %+v", s)
	}
	if p, _ := store.Get(ctx); p.IsListening {
		t.Error("stop not persisted")
	}
}

func TestCoordinator_Stopped(t *testing.T) {
	t.Parallel()
	c := New(prefs.NewMemory())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { _ = c.Run(ctx); close(done) }()
	cancel()
	<-done

	if err := c.Register(context.Background(), newTab("a")); !errors.Is(err, ErrStopped) {
		t.Errorf("err = %v", err)
	}
	if resp := c.Handle(context.Background(), "a", Request{Action: ActionGetGlobalState}); resp.Success {
		t.Errorf("resp = %+v", resp)
	}
}
