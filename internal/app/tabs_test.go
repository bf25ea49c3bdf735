package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/voicenav/internal/app"
	"github.com/MrWong99/voicenav/internal/prefs"
	"github.com/MrWong99/voicenav/internal/presence"
	"github.com/MrWong99/voicenav/internal/tab"
	"github.com/MrWong99/voicenav/pkg/page/dom"
)

const (
	homeURL  = "https://home.example/"
	shopURL  = "https://shop.example/"
	homePage = `<html><body><h1>Home</h1><a href="/shop">Shop</a></body></html>`
	shopPage = `<html><body><h1>Shop</h1><button>Buy</button></body></html>`
)

func testDriver() *dom.Driver {
	return dom.NewDriver(dom.WithPage(homeURL, homePage), dom.WithPage(shopURL, shopPage))
}

func newTestTabManager(t *testing.T) (*app.TabManager, *presence.Coordinator) {
	t.Helper()
	coord := presence.New(prefs.NewMemory(), presence.WithDelays(time.Millisecond, time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = coord.Run(ctx)
	}()

	m := app.NewTabManager(app.TabManagerConfig{
		Driver:   testDriver(),
		Registry: coord,
		Template: tab.Config{SettleDelay: 10 * time.Millisecond},
		StartURL: homeURL,
	})
	t.Cleanup(func() {
		m.Shutdown(context.Background())
		cancel()
		<-done
	})
	return m, coord
}

func TestTabManager_OpenListClose(t *testing.T) {
	t.Parallel()
	m, coord := newTestTabManager(t)
	ctx := context.Background()

	home, err := m.Open(ctx, "")
	if err != nil {
		t.Fatalf("Open(start url): %v", err)
	}
	shop, err := m.Open(ctx, shopURL)
	if err != nil {
		t.Fatalf("Open(shop): %v", err)
	}

	infos := m.List(ctx)
	if len(infos) != 2 {
		t.Fatalf("List() = %d tabs, want 2", len(infos))
	}
	if infos[0].ID != home.ID() || infos[0].URL != homeURL {
		t.Errorf("first tab = %+v, want home", infos[0])
	}
	if infos[1].ID != shop.ID() || infos[1].URL != shopURL {
		t.Errorf("second tab = %+v, want shop", infos[1])
	}
	if got, ok := m.Get(shop.ID()); !ok || got != shop {
		t.Errorf("Get(%q) = %v, %v", shop.ID(), got, ok)
	}
	if cur := coord.State().CurrentTabID; cur != home.ID() {
		t.Errorf("current tab = %q, want the first opened %q", cur, home.ID())
	}

	if err := m.Close(ctx, shop.ID()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, ok := m.Get(shop.ID()); ok {
		t.Error("closed tab is still listed")
	}
	if err := shop.Notify(presence.Push{}); !errors.Is(err, tab.ErrClosed) {
		t.Errorf("Notify on closed tab: err = %v, want ErrClosed", err)
	}
	if len(m.List(ctx)) != 1 {
		t.Errorf("List() after close = %d tabs, want 1", len(m.List(ctx)))
	}
}

func TestTabManager_Errors(t *testing.T) {
	t.Parallel()
	m, _ := newTestTabManager(t)
	ctx := context.Background()

	if err := m.Close(ctx, "missing"); !errors.Is(err, app.ErrTabNotFound) {
		t.Errorf("Close(missing): err = %v, want ErrTabNotFound", err)
	}
	if _, err := m.Open(ctx, "http://127.0.0.1:0/unreachable"); err == nil {
		t.Error("Open(unreachable): expected error")
	}
	if n := len(m.List(ctx)); n != 0 {
		t.Errorf("List() = %d tabs after failed open, want 0", n)
	}
}

func TestTabManager_ListFollowsNavigation(t *testing.T) {
	t.Parallel()
	m, _ := newTestTabManager(t)
	ctx := context.Background()

	tb, err := m.Open(ctx, homeURL)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := tb.Document().Navigate(ctx, shopURL); err != nil {
		t.Fatalf("Navigate: %v", err)
	}
	if got := m.List(ctx)[0].URL; got != shopURL {
		t.Errorf("URL = %q, want %q", got, shopURL)
	}
}
