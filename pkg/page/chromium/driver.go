// Package chromium implements [page.Driver] on top of a real Chromium
// browser controlled through go-rod. Each [page.Document] is a browser tab.
//
// Element reads come from a snapshot that is collected with a single script
// evaluation per query; mutations are sent to the live node.
package chromium

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/MrWong99/voicenav/pkg/page"
)

var _ page.Driver = (*Driver)(nil)

// Config controls how the browser is reached.
type Config struct {
	// ControlURL is the DevTools websocket URL of an already running browser.
	// When empty a local Chromium is launched.
	ControlURL string

	// Headless launches the local browser without a window. Ignored when
	// ControlURL is set.
	Headless bool

	// Bin overrides the browser binary used for launching.
	Bin string

	// NavigationTimeout bounds page loads. Default: 30s.
	NavigationTimeout time.Duration
}

// Driver owns one browser connection.
type Driver struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
	timeout  time.Duration

	closeOnce sync.Once
	closeErr  error
}

// New connects to (or launches) a browser.
func New(ctx context.Context, cfg Config) (*Driver, error) {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 30 * time.Second
	}

	d := &Driver{timeout: cfg.NavigationTimeout}
	controlURL := cfg.ControlURL
	if controlURL == "" {
		l := launcher.New().Headless(cfg.Headless).Context(ctx)
		if cfg.Bin != "" {
			l = l.Bin(cfg.Bin)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("chromium: launch browser: %w", err)
		}
		d.launcher = l
		controlURL = u
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		if d.launcher != nil {
			d.launcher.Kill()
		}
		return nil, fmt.Errorf("chromium: connect %q: %w", controlURL, err)
	}
	d.browser = browser
	slog.Info("chromium: browser connected", "control_url", controlURL, "launched", d.launcher != nil)
	return d, nil
}

// Open implements [page.Driver].
func (d *Driver) Open(ctx context.Context, url string) (page.Document, error) {
	p, err := d.browser.Context(ctx).Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return nil, fmt.Errorf("chromium: open %q: %w", url, err)
	}
	doc := &Document{page: p, timeout: d.timeout}
	if err := p.Context(ctx).Timeout(d.timeout).WaitLoad(); err != nil {
		slog.Warn("chromium: wait load", "url", url, "err", err)
	}
	return doc, nil
}

// Close implements [page.Driver]. It is safe to call multiple times.
func (d *Driver) Close() error {
	d.closeOnce.Do(func() {
		d.closeErr = d.browser.Close()
		if d.launcher != nil {
			d.launcher.Kill()
		}
	})
	return d.closeErr
}
