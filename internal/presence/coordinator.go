package presence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/voicenav/internal/observe"
	"github.com/MrWong99/voicenav/internal/prefs"
)

var (
	// ErrStopped is returned by calls made after Run returned.
	ErrStopped = errors.New("presence: coordinator stopped")

	// ErrNoTab is returned when a request needs a tab and none is known.
	ErrNoTab = errors.New("presence: no such tab")
)

// Default re-initialisation delays.
const (
	DefaultTabSwitchDelay  = 500 * time.Millisecond
	DefaultNavigationDelay = time.Second
)

// Option configures a [Coordinator].
type Option func(*Coordinator)

// WithDelays sets how long the coordinator waits before initialising a tab
// after a tab switch and after a navigation. Non-positive values keep the
// defaults.
func WithDelays(tabSwitch, navigation time.Duration) Option {
	return func(c *Coordinator) {
		if tabSwitch > 0 {
			c.tabSwitch = tabSwitch
		}
		if navigation > 0 {
			c.navigation = navigation
		}
	}
}

// WithMetrics counts broadcast failures on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// Coordinator owns the global state. All state changes happen on the Run
// goroutine; the exported methods are request/response calls into it.
type Coordinator struct {
	store      prefs.Store
	metrics    *observe.Metrics
	tabSwitch  time.Duration
	navigation time.Duration

	ops  chan func()
	done chan struct{}

	snapMu sync.RWMutex
	snap   GlobalState

	// Loop-owned.
	ctx     context.Context
	state   GlobalState
	tabs    map[string]Tab
	pending map[string]*time.Timer
}

// New returns a coordinator persisting to store. Call Load, then Run.
func New(store prefs.Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:      store,
		tabSwitch:  DefaultTabSwitchDelay,
		navigation: DefaultNavigationDelay,
		ops:        make(chan func()),
		done:       make(chan struct{}),
		state:      stateFromPrefs(prefs.Defaults()),
		tabs:       make(map[string]Tab),
		pending:    make(map[string]*time.Timer),
	}
	for _, o := range opts {
		o(c)
	}
	c.snap = c.state
	return c
}

// Load reads the persisted state. It must be called before Run.
func (c *Coordinator) Load(ctx context.Context) error {
	p, err := prefs.GetOrDefault(ctx, c.store)
	if err != nil {
		return fmt.Errorf("presence: load state: %w", err)
	}
	c.state = stateFromPrefs(p)
	c.snap = c.state
	slog.Info("presence: state loaded",
		"listening", c.state.IsListening,
		"continuous", c.state.ContinuousListening,
		"popup", c.state.FloatingPopupEnabled,
	)
	return nil
}

// Run processes calls until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	c.ctx = ctx
	defer func() {
		for id, t := range c.pending {
			t.Stop()
			delete(c.pending, id)
		}
		close(c.done)
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case op := <-c.ops:
			op()
			c.snapMu.Lock()
			c.snap = c.state
			c.snapMu.Unlock()
		}
	}
}

// State returns the global state as of the last handled call.
func (c *Coordinator) State() GlobalState {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return c.snap
}

func (c *Coordinator) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	op := func() {
		defer close(finished)
		fn()
	}
	select {
	case c.ops <- op:
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post queues fn without waiting for it.
func (c *Coordinator) post(fn func()) {
	select {
	case c.ops <- fn:
	case <-c.done:
	}
}

// Handle answers one request from tabID.
func (c *Coordinator) Handle(ctx context.Context, tabID string, req Request) Response {
	var resp Response
	if err := c.do(ctx, func() { resp = c.handle(ctx, tabID, req) }); err != nil {
		return failure(err)
	}
	return resp
}

func (c *Coordinator) handle(ctx context.Context, tabID string, req Request) Response {
	switch req.Action {
	case ActionUpdateGlobalState:
		if req.State != nil {
			req.State.apply(&c.state)
		}
		c.persist(ctx)
		return Response{Success: true}

	case ActionGetGlobalState:
		s := c.state
		return Response{Success: true, State: &s}

	case ActionStartListening:
		if t, ok := c.tabs[tabID]; ok {
			if err := t.StartListening(ctx); err != nil {
				return failure(err)
			}
		}
		c.state.IsListening = true
		c.state.ListeningTabID = tabID
		c.persist(ctx)
		c.broadcast(ctx)
		return Response{Success: true}

	case ActionStopListening:
		for _, id := range []string{c.state.ListeningTabID, tabID} {
			if t, ok := c.tabs[id]; ok {
				if err := t.StopListening(ctx); err != nil {
					slog.Warn("presence: stop listening failed", "tab", id, "err", err)
				}
			}
		}
		c.state.IsListening = false
		c.state.ContinuousListening = false
		c.state.ListeningTabID = ""
		c.persist(ctx)
		c.broadcast(ctx)
		return Response{Success: true}

	case ActionToggleFloatingPopup:
		c.state.FloatingPopupEnabled = !c.state.FloatingPopupEnabled
		c.persist(ctx)
		c.broadcast(ctx)
		return Response{Success: true}

	case ActionCommand:
		t, ok := c.tabs[tabID]
		if !ok {
			t, ok = c.tabs[c.state.CurrentTabID]
		}
		if !ok {
			return failure(ErrNoTab)
		}
		d, err := t.Command(ctx, req.Command)
		if err != nil {
			return failure(err)
		}
		return Response{Success: d.Outcome.Success, Result: resultOf(d)}

	default:
		slog.Debug("presence: unknown action", "action", req.Action, "tab", tabID)
		return failure(ErrUnknownAction)
	}
}

// ReportListening records a tab's own listening decision, such as a stop
// phrase or the first command enabling continuous mode. It does not
// broadcast.
func (c *Coordinator) ReportListening(ctx context.Context, tabID string, listening, continuous bool) error {
	return c.do(ctx, func() {
		if !listening && c.state.ListeningTabID != "" && c.state.ListeningTabID != tabID {
			return
		}
		c.state.IsListening = listening
		c.state.ContinuousListening = continuous
		if listening {
			c.state.ListeningTabID = tabID
		} else {
			c.state.ListeningTabID = ""
		}
		c.persist(ctx)
	})
}

// Register adds a connected tab. The first tab becomes the current one.
func (c *Coordinator) Register(ctx context.Context, t Tab) error {
	return c.do(ctx, func() {
		id := t.ID()
		c.tabs[id] = t
		s := c.state
		if err := t.Notify(Push{Action: PushGlobalStateChanged, State: &s}); err != nil {
			slog.Debug("presence: initial push failed", "tab", id, "err", err)
		}
		if c.state.CurrentTabID == "" {
			c.state.CurrentTabID = id
			c.scheduleInit(id, c.tabSwitch)
		}
		slog.Info("presence: tab registered", "tab", id, "tabs", len(c.tabs))
	})
}

// Unregister removes a tab. The global listening flag is kept so the next
// page can resume.
func (c *Coordinator) Unregister(ctx context.Context, tabID string) error {
	return c.do(ctx, func() {
		delete(c.tabs, tabID)
		if t, ok := c.pending[tabID]; ok {
			t.Stop()
			delete(c.pending, tabID)
		}
		if c.state.CurrentTabID == tabID {
			c.state.CurrentTabID = ""
		}
		if c.state.ListeningTabID == tabID {
			c.state.ListeningTabID = ""
		}
		slog.Info("presence: tab unregistered", "tab", tabID, "tabs", len(c.tabs))
	})
}

// Activate handles a tab switch: the previously listening tab is suspended
// and the new tab is initialised after the tab-switch delay.
func (c *Coordinator) Activate(ctx context.Context, tabID string) error {
	return c.do(ctx, func() {
		old := c.state.CurrentTabID
		c.state.CurrentTabID = tabID
		if old == tabID {
			return
		}
		if old != "" && c.state.IsListening && c.state.ListeningTabID == old {
			if t, ok := c.tabs[old]; ok {
				if err := t.Suspend(ctx, "tabChange"); err != nil {
					slog.Warn("presence: could not stop listening on old tab", "tab", old, "err", err)
				}
				_ = t.Notify(Push{Action: PushStopListening, Reason: "tabChange"})
			}
		}
		c.scheduleInit(tabID, c.tabSwitch)
	})
}

// Navigated handles a completed navigation inside tabID. The current tab is
// re-initialised after the navigation delay.
func (c *Coordinator) Navigated(ctx context.Context, tabID string) error {
	return c.do(ctx, func() {
		if tabID == c.state.CurrentTabID {
			c.scheduleInit(tabID, c.navigation)
		}
	})
}

// scheduleInit arms a delayed initializeWithState for tabID, replacing any
// earlier one. Nothing is scheduled unless the widget is enabled and
// listening is on.
func (c *Coordinator) scheduleInit(tabID string, d time.Duration) {
	if !c.state.FloatingPopupEnabled || !c.state.IsListening {
		return
	}
	if t, ok := c.pending[tabID]; ok {
		t.Stop()
	}
	c.pending[tabID] = time.AfterFunc(d, func() {
		c.post(func() { c.initialize(tabID) })
	})
}

func (c *Coordinator) initialize(tabID string) {
	delete(c.pending, tabID)
	t, ok := c.tabs[tabID]
	if !ok || !c.state.FloatingPopupEnabled || !c.state.IsListening {
		return
	}
	s := c.state
	if err := t.Initialize(c.ctx, s); err != nil {
		slog.Warn("presence: could not initialise tab", "tab", tabID, "err", err)
		return
	}
	c.state.ListeningTabID = tabID
}

// broadcast pushes the state to every tab. Failures are counted and
// otherwise ignored.
func (c *Coordinator) broadcast(ctx context.Context) {
	s := c.state
	for _, id := range slices.Sorted(maps.Keys(c.tabs)) {
		if err := c.tabs[id].Notify(Push{Action: PushGlobalStateChanged, State: &s}); err != nil {
			c.metrics.RecordBroadcastFailure(ctx)
			slog.Debug("presence: broadcast failed", "tab", id, "err", err)
		}
	}
}

func (c *Coordinator) persist(ctx context.Context) {
	s := c.state
	if _, err := c.store.Update(ctx, s.applyTo); err != nil {
		slog.Warn("presence: could not save state", "err", err)
	}
}
