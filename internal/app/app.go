// Package app wires the voicenav subsystems into a running server.
//
// New opens the preference store, the command history, the page driver and
// the presence coordinator, and builds the HTTP surface on top of them. Run
// serves until its context ends; Shutdown releases everything in reverse
// order. Reload applies a changed config to the parts that support it.
//
// Tests inject doubles through the With* options. Anything not injected is
// created from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voicenav/internal/api"
	"github.com/MrWong99/voicenav/internal/config"
	"github.com/MrWong99/voicenav/internal/health"
	"github.com/MrWong99/voicenav/internal/history"
	"github.com/MrWong99/voicenav/internal/mcpserver"
	"github.com/MrWong99/voicenav/internal/observe"
	"github.com/MrWong99/voicenav/internal/prefs"
	"github.com/MrWong99/voicenav/internal/presence"
	"github.com/MrWong99/voicenav/internal/recognizer"
	"github.com/MrWong99/voicenav/internal/tab"
	"github.com/MrWong99/voicenav/pkg/page"
	"github.com/MrWong99/voicenav/pkg/page/chromium"
	"github.com/MrWong99/voicenav/pkg/page/dom"
	"github.com/MrWong99/voicenav/pkg/provider/stt"
)

// shutdownGrace bounds how long Run waits for the HTTP server and tabs to
// stop once its context ends.
const shutdownGrace = 10 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	version   string

	metrics        *observe.Metrics
	metricsHandler http.Handler
	level          *slog.LevelVar
	listener       net.Listener

	store     prefs.Store
	persister history.Persister
	hist      *history.Ring
	coord     *presence.Coordinator
	driver    page.Driver
	tabs      *TabManager
	mcp       *mcpserver.Server
	api       *api.Server

	// closers run in reverse order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithPreferences injects a preference store instead of opening the
// configured backend. The app does not close it.
func WithPreferences(s prefs.Store) Option {
	return func(a *App) { a.store = s }
}

// WithHistoryPersister injects where history entries are saved instead of
// the configured backend.
func WithHistoryPersister(p history.Persister) Option {
	return func(a *App) { a.persister = p }
}

// WithDriver injects a page driver instead of creating the configured one.
// The app does not close it.
func WithDriver(d page.Driver) Option {
	return func(a *App) { a.driver = d }
}

// WithMetrics sets the instruments and the handler served on /metrics.
func WithMetrics(m *observe.Metrics, handler http.Handler) Option {
	return func(a *App) {
		a.metrics = m
		a.metricsHandler = handler
	}
}

// WithLevelVar lets Reload change the log level at runtime.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithListener serves on ln instead of listening on server.listen_addr.
func WithListener(ln net.Listener) Option {
	return func(a *App) { a.listener = ln }
}

// WithVersion sets the version reported to MCP clients.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App. A nil providers is treated as "no speech backend".
// On error everything opened so far is released.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		version:   "dev",
	}
	for _, o := range opts {
		o(a)
	}
	for _, c := range providers.Closers {
		a.closers = append(a.closers, c.Close)
	}

	if err := a.init(ctx); err != nil {
		a.runClosers(context.WithoutCancel(ctx))
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	// ── 1. Preferences ───────────────────────────────────────────────────
	if err := a.initPreferences(ctx); err != nil {
		return fmt.Errorf("app: init preferences: %w", err)
	}

	// ── 2. Command history ───────────────────────────────────────────────
	if err := a.initHistory(ctx); err != nil {
		return fmt.Errorf("app: init history: %w", err)
	}

	// ── 3. Presence coordinator ──────────────────────────────────────────
	a.coord = presence.New(a.store,
		presence.WithDelays(a.cfg.Sync.TabSwitchDelay, a.cfg.Sync.NavigationDelay),
		presence.WithMetrics(a.metrics),
	)
	if err := a.coord.Load(ctx); err != nil {
		return fmt.Errorf("app: load global state: %w", err)
	}

	// ── 4. Page driver ───────────────────────────────────────────────────
	if err := a.initDriver(ctx); err != nil {
		return fmt.Errorf("app: init page driver: %w", err)
	}

	// ── 5. Tabs ──────────────────────────────────────────────────────────
	a.tabs = NewTabManager(TabManagerConfig{
		Driver:   a.driver,
		Registry: a.coord,
		Template: a.tabTemplate(a.cfg),
		StartURL: a.cfg.Browser.StartURL,
	})

	// ── 6. HTTP surface ──────────────────────────────────────────────────
	a.initAPI()
	return nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initPreferences(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	p := a.cfg.Preferences
	s, err := prefs.Open(ctx, prefs.Options{
		Backend:       p.Backend,
		Path:          p.Path,
		RedisAddr:     p.RedisAddr,
		RedisPassword: p.RedisPassword,
		RedisDB:       p.RedisDB,
		RedisKey:      p.RedisKey,
		PostgresDSN:   p.PostgresDSN,
	})
	if err != nil {
		return err
	}
	a.store = s
	a.closers = append(a.closers, s.Close)
	slog.Info("app: preferences opened", "backend", p.Backend)
	return nil
}

func (a *App) initHistory(ctx context.Context) error {
	h := a.cfg.History
	if a.persister == nil {
		switch h.Backend {
		case config.HistoryJSONL:
			a.persister = history.NewJSONL(h.Path)
		case config.HistoryPostgres:
			pool, err := pgxpool.New(ctx, h.PostgresDSN)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			a.closers = append(a.closers, func() error { pool.Close(); return nil })
			pg := history.NewPostgres(pool)
			if err := pg.Migrate(ctx); err != nil {
				return err
			}
			a.persister = pg
		}
	}

	var opts []history.Option
	if a.persister != nil {
		opts = append(opts, history.WithPersister(a.persister))
	}
	a.hist = history.NewRing(h.Capacity, opts...)
	if err := a.hist.Load(ctx); err != nil {
		slog.Warn("app: could not restore command history", "err", err)
	}
	return nil
}

func (a *App) initDriver(ctx context.Context) error {
	if a.driver != nil {
		return nil
	}
	b := a.cfg.Browser
	switch b.Driver {
	case config.DriverChromium:
		d, err := chromium.New(ctx, chromium.Config{
			ControlURL:        b.ControlURL,
			Headless:          b.Headless,
			Bin:               b.Bin,
			NavigationTimeout: b.NavigationTimeout,
		})
		if err != nil {
			return err
		}
		a.driver = d
	default:
		a.driver = dom.NewDriver()
	}
	a.closers = append(a.closers, a.driver.Close)
	slog.Info("app: page driver ready", "driver", b.Driver)
	return nil
}

func (a *App) initAPI() {
	checks := []health.Checker{{Name: "preferences", Check: a.store.Ping}}
	checks = append(checks, a.providers.Checks...)

	opts := []api.Option{
		api.WithRateLimit(a.cfg.RateLimit.CommandsPerSecond, a.cfg.RateLimit.Burst),
		api.WithHistory(a.hist),
		api.WithHealth(health.New(checks...)),
		api.WithMetrics(a.metrics, a.metricsHandler),
		api.WithOriginPatterns(a.cfg.Server.AllowedOrigins...),
	}
	if a.cfg.MCP.Enabled {
		a.mcp = mcpserver.New(a.coord, a.hist,
			mcpserver.WithMetrics(a.metrics),
			mcpserver.WithVersion(a.version),
		)
		opts = append(opts, api.WithMount(a.cfg.MCP.Path, a.mcp.Handler()))
		slog.Info("app: mcp endpoint enabled", "path", a.cfg.MCP.Path)
	}
	a.api = api.New(a.tabs, a.coord, opts...)
}

// tabTemplate derives the per-tab settings from cfg.
func (a *App) tabTemplate(cfg *config.Config) tab.Config {
	l := cfg.Listening
	name := a.providers.STTName
	return tab.Config{
		STT:             a.providers.STT,
		Language:        l.Language,
		Keywords:        stt.Keywords(l.Keywords...),
		NoSpeechTimeout: l.NoSpeechTimeout,
		MaxDuration:     l.UtteranceTimeout,
		OnRecognition: func(d time.Duration, kind recognizer.ErrorKind) {
			a.metrics.RecordRecognition(context.Background(), name, string(kind), d)
		},
		ScrollDelta:      l.ScrollDelta,
		HighlightTimeout: l.HighlightTimeout,
		Suggestions:      l.Suggestions == nil || *l.Suggestions,
		SettleDelay:      l.SettleDelay,
		ResumeDelay:      l.ResumeDelay,
		StatusRevert:     l.StatusRevert,
		History:          a.hist,
		Metrics:          a.metrics,
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the coordinator and the HTTP server and blocks until ctx is
// cancelled or serving fails. Open tabs are closed before it returns.
func (a *App) Run(ctx context.Context) error {
	ln := a.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", a.cfg.Server.ListenAddr)
		if err != nil {
			return fmt.Errorf("app: listen: %w", err)
		}
	}

	srv := &http.Server{
		Handler:           a.api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	// The coordinator outlives the server so closing tabs can unregister.
	coordCtx, stopCoord := context.WithCancel(context.WithoutCancel(ctx))
	coordDone := make(chan error, 1)
	go func() { coordDone <- a.coord.Run(coordCtx) }()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			slog.Warn("app: http shutdown", "err", err)
		}
		a.tabs.Shutdown(shutCtx)
		return nil
	})

	slog.Info("app: running", "addr", ln.Addr().String(), "mcp", a.cfg.MCP.Enabled)
	err := g.Wait()
	stopCoord()
	if cerr := <-coordDone; cerr != nil {
		slog.Warn("app: coordinator stopped with error", "err", cerr)
	}
	if err != nil {
		return err
	}
	return ctx.Err()
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// Reload applies the parts of next that can change at runtime: the log
// level, the command rate limit and the listening settings of tabs opened
// afterwards. Everything else is logged as needing a restart.
func (a *App) Reload(prev, next *config.Config) {
	d := config.Diff(prev, next)
	if d.Empty() {
		return
	}
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.SlogLevel())
		slog.Info("app: log level changed", "level", d.NewLogLevel)
	}
	if d.RateLimitChanged {
		a.api.SetRateLimit(d.NewRateLimit.CommandsPerSecond, d.NewRateLimit.Burst)
		slog.Info("app: rate limit changed",
			"commands_per_second", d.NewRateLimit.CommandsPerSecond, "burst", d.NewRateLimit.Burst)
	}
	if d.ListeningChanged {
		a.tabs.SetTemplate(a.tabTemplate(next))
		slog.Info("app: listening settings apply to new tabs")
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("app: config changes take effect after a restart", "sections", d.RestartRequired)
	}
}

// Tabs exposes the tab manager.
func (a *App) Tabs() *TabManager { return a.tabs }

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown closes any remaining tabs and releases all subsystems in order.
// If ctx expires first, the remaining closers are skipped and the context
// error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		slog.Info("app: shutting down", "closers", len(a.closers))
		if a.tabs != nil {
			a.tabs.Shutdown(ctx)
		}
		err = a.runClosers(ctx)
		slog.Info("app: shutdown complete")
	})
	return err
}

func (a *App) runClosers(ctx context.Context) error {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if ctx.Err() != nil {
			slog.Warn("app: shutdown deadline exceeded", "remaining", i+1)
			return ctx.Err()
		}
		if err := a.closers[i](); err != nil {
			slog.Warn("app: closer error", "index", i, "err", err)
		}
	}
	return nil
}
