package chromium

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/MrWong99/voicenav/pkg/page"
)

var _ page.Element = (*Element)(nil)

// Element pairs a live node handle with the snapshot taken when it was
// queried. Value is refreshed locally after SetValue.
type Element struct {
	el *rod.Element

	mu   sync.Mutex
	snap snapshot
}

func (e *Element) h(ctx context.Context) *rod.Element {
	return e.el.Context(ctx)
}

// Ref implements [page.Element].
func (e *Element) Ref() string { return e.snap.Ref }

// Tag implements [page.Element].
func (e *Element) Tag() string { return e.snap.Tag }

// Attr implements [page.Element].
func (e *Element) Attr(name string) (string, bool) {
	v, ok := e.snap.Attrs[strings.ToLower(name)]
	return v, ok
}

// Text implements [page.Element].
func (e *Element) Text() string { return e.snap.Text }

// Value implements [page.Element].
func (e *Element) Value() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snap.Value
}

// Label implements [page.Element].
func (e *Element) Label() string { return e.snap.Label }

// Options implements [page.Element].
func (e *Element) Options() []page.Option {
	out := make([]page.Option, 0, len(e.snap.Options))
	for _, o := range e.snap.Options {
		out = append(out, page.Option{Text: o.Text, Value: o.Value})
	}
	return out
}

// SetValue implements [page.Element].
func (e *Element) SetValue(ctx context.Context, value string) error {
	if _, err := e.h(ctx).Eval(`(v) => { this.value = v; }`, value); err != nil {
		return fmt.Errorf("chromium: set value: %w", err)
	}
	e.mu.Lock()
	e.snap.Value = value
	e.mu.Unlock()
	return nil
}

// Focus implements [page.Element].
func (e *Element) Focus(ctx context.Context) error {
	if err := e.h(ctx).Focus(); err != nil {
		return fmt.Errorf("chromium: focus: %w", err)
	}
	return nil
}

// Click implements [page.Element]. A real mouse click is attempted first;
// elements that cannot receive pointer input (hidden, covered) are clicked
// through the DOM instead.
func (e *Element) Click(ctx context.Context) error {
	h := e.h(ctx)
	if err := h.Click(proto.InputMouseButtonLeft, 1); err == nil {
		return nil
	}
	if _, err := h.Eval(`() => this.click()`); err != nil {
		return fmt.Errorf("chromium: click: %w", err)
	}
	return nil
}

// Submit implements [page.Element].
func (e *Element) Submit(ctx context.Context) error {
	if e.snap.Tag != "form" {
		return fmt.Errorf("chromium: submit <%s>: %w", e.snap.Tag, page.ErrNotSupported)
	}
	if _, err := e.h(ctx).Eval(`() => this.submit()`); err != nil {
		return fmt.Errorf("chromium: submit: %w", err)
	}
	return nil
}

// Dispatch implements [page.Element].
func (e *Element) Dispatch(ctx context.Context, ev page.Event) error {
	if _, err := e.h(ctx).Eval(`(t) => { this.dispatchEvent(new Event(t, { bubbles: true })); }`, string(ev)); err != nil {
		return fmt.Errorf("chromium: dispatch %s: %w", ev, err)
	}
	return nil
}

// AddClass implements [page.Element].
func (e *Element) AddClass(ctx context.Context, class string) error {
	if _, err := e.h(ctx).Eval(`(c) => { this.classList.add(c); }`, class); err != nil {
		return fmt.Errorf("chromium: add class: %w", err)
	}
	return nil
}

// RemoveClass implements [page.Element].
func (e *Element) RemoveClass(ctx context.Context, class string) error {
	if _, err := e.h(ctx).Eval(`(c) => { this.classList.remove(c); }`, class); err != nil {
		return fmt.Errorf("chromium: remove class: %w", err)
	}
	return nil
}
