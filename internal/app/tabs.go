package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/voicenav/internal/presence"
	"github.com/MrWong99/voicenav/internal/tab"
	"github.com/MrWong99/voicenav/pkg/page"
)

// ErrTabNotFound is returned for an unknown tab id.
var ErrTabNotFound = errors.New("app: tab not found")

// Registry is the part of the presence coordinator the tab manager needs.
type Registry interface {
	Register(ctx context.Context, t presence.Tab) error
	Unregister(ctx context.Context, tabID string) error
	tab.Reporter
}

var _ Registry = (*presence.Coordinator)(nil)

// TabManagerConfig holds the dependencies of a [TabManager].
type TabManagerConfig struct {
	Driver   page.Driver
	Registry Registry

	// Template is copied for every tab. ID, Document and Reporter are
	// filled in per tab.
	Template tab.Config

	// StartURL is opened when a client does not name a page.
	StartURL string
}

type liveTab struct {
	tab    *tab.Tab
	info   tab.Info
	cancel context.CancelFunc
	done   chan struct{}
}

// TabManager opens pages, runs a [tab.Tab] for each and keeps them
// registered with the coordinator. All exported methods are safe for
// concurrent use.
type TabManager struct {
	driver   page.Driver
	registry Registry
	template tab.Config
	startURL string

	mu   sync.Mutex
	tabs map[string]*liveTab
}

// NewTabManager creates a TabManager.
func NewTabManager(cfg TabManagerConfig) *TabManager {
	return &TabManager{
		driver:   cfg.Driver,
		registry: cfg.Registry,
		template: cfg.Template,
		startURL: cfg.StartURL,
		tabs:     make(map[string]*liveTab),
	}
}

// Open loads url (or the start URL) and starts a tab on it. The tab keeps
// running after ctx ends; stop it with Close.
func (m *TabManager) Open(ctx context.Context, url string) (*tab.Tab, error) {
	if strings.TrimSpace(url) == "" {
		url = m.startURL
	}
	doc, err := m.driver.Open(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("app: open %q: %w", url, err)
	}

	m.mu.Lock()
	cfg := m.template
	m.mu.Unlock()
	cfg.ID = ""
	cfg.Document = doc
	cfg.Reporter = m.registry
	t := tab.New(cfg)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	lt := &liveTab{
		tab:    t,
		info:   tab.Info{ID: t.ID(), URL: url, OpenedAt: time.Now().UTC()},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(lt.done)
		if err := t.Run(runCtx); err != nil {
			slog.Warn("app: tab stopped with error", "tab", t.ID(), "err", err)
		}
	}()

	if err := m.registry.Register(ctx, t); err != nil {
		m.teardown(lt)
		return nil, fmt.Errorf("app: register tab: %w", err)
	}

	m.mu.Lock()
	m.tabs[t.ID()] = lt
	m.mu.Unlock()

	slog.Info("app: tab opened", "tab", t.ID(), "url", url)
	return t, nil
}

// Close unregisters and stops a tab.
func (m *TabManager) Close(ctx context.Context, id string) error {
	m.mu.Lock()
	lt, ok := m.tabs[id]
	delete(m.tabs, id)
	m.mu.Unlock()
	if !ok {
		return ErrTabNotFound
	}

	if err := m.registry.Unregister(ctx, id); err != nil {
		slog.Debug("app: unregister tab", "tab", id, "err", err)
	}
	m.teardown(lt)
	slog.Info("app: tab closed", "tab", id)
	return nil
}

func (m *TabManager) teardown(lt *liveTab) {
	lt.cancel()
	<-lt.done
	if err := lt.tab.Close(); err != nil {
		slog.Warn("app: close tab", "tab", lt.info.ID, "err", err)
	}
}

// SetTemplate replaces the config used for tabs opened from now on. Open
// tabs keep theirs.
func (m *TabManager) SetTemplate(cfg tab.Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.template = cfg
}

// Get returns an open tab.
func (m *TabManager) Get(id string) (*tab.Tab, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lt, ok := m.tabs[id]
	if !ok {
		return nil, false
	}
	return lt.tab, true
}

// List describes the open tabs, oldest first. URLs are read from the
// documents so navigations are reflected.
func (m *TabManager) List(ctx context.Context) []tab.Info {
	m.mu.Lock()
	live := make([]*liveTab, 0, len(m.tabs))
	for _, lt := range m.tabs {
		live = append(live, lt)
	}
	m.mu.Unlock()

	out := make([]tab.Info, 0, len(live))
	for _, lt := range live {
		info := lt.info
		if u, err := lt.tab.Document().URL(ctx); err == nil {
			info.URL = u
		}
		out = append(out, info)
	}
	slices.SortFunc(out, func(a, b tab.Info) int {
		if c := a.OpenedAt.Compare(b.OpenedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// Shutdown closes every tab.
func (m *TabManager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.tabs))
	for id := range m.tabs {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		_ = m.Close(ctx, id)
	}
}
