package chromium

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-rod/rod"

	"github.com/MrWong99/voicenav/pkg/page"
)

var _ page.Document = (*Document)(nil)

// snapshotJS describes the element it is called on. Refs are kept in a
// WeakMap so they stay stable for the node's lifetime without touching the
// markup.
const snapshotJS = `function () {
	const el = this;
	const reg = window.__voicenav || (window.__voicenav = { seq: 0, refs: new WeakMap() });
	let ref = reg.refs.get(el);
	if (!ref) { ref = 'r' + (++reg.seq); reg.refs.set(el, ref); }
	const attrs = {};
	for (const a of el.attributes) attrs[a.name] = a.value;
	let label = '';
	if (el.id) {
		const l = document.querySelector('label[for="' + CSS.escape(el.id) + '"]');
		if (l) label = (l.textContent || '').trim();
	}
	const options = el.tagName === 'SELECT'
		? Array.from(el.options).map(o => ({ text: (o.text || '').trim(), value: o.value }))
		: [];
	const value = (typeof el.value === 'string') ? el.value : '';
	return JSON.stringify({ ref, tag: el.tagName.toLowerCase(), attrs, text: el.textContent || '', value, label, options });
}`

const (
	queryJS  = `(sel) => Array.from(document.querySelectorAll(sel))`
	activeJS = `() => {
	const a = document.activeElement;
	return (a && a !== document.body && a !== document.documentElement) ? a : null;
}`
)

type snapshotOption struct {
	Text  string `json:"text"`
	Value string `json:"value"`
}

type snapshot struct {
	Ref     string            `json:"ref"`
	Tag     string            `json:"tag"`
	Attrs   map[string]string `json:"attrs"`
	Text    string            `json:"text"`
	Value   string            `json:"value"`
	Label   string            `json:"label"`
	Options []snapshotOption  `json:"options"`
}

// Document is one browser tab.
type Document struct {
	page    *rod.Page
	timeout time.Duration
}

func (d *Document) p(ctx context.Context) *rod.Page {
	return d.page.Context(ctx)
}

// describe snapshots the node behind h. The snapshot is taken from the handle
// itself, so it always belongs to that node even if the page mutates.
func describe(h *rod.Element) (*Element, error) {
	res, err := h.Eval(snapshotJS)
	if err != nil {
		return nil, err
	}
	var snap snapshot
	if err := json.Unmarshal([]byte(res.Value.Str()), &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &Element{el: h, snap: snap}, nil
}

// QueryAll implements [page.Document].
func (d *Document) QueryAll(ctx context.Context, selector string) ([]page.Element, error) {
	handles, err := d.p(ctx).ElementsByJS(rod.Eval(queryJS, selector))
	if err != nil {
		return nil, fmt.Errorf("chromium: query %q: %w", selector, err)
	}
	out := make([]page.Element, 0, len(handles))
	for _, h := range handles {
		el, err := describe(h)
		if err != nil {
			return nil, fmt.Errorf("chromium: query %q: %w", selector, err)
		}
		out = append(out, el)
	}
	return out, nil
}

// ActiveElement implements [page.Document]. It returns nil while the body
// has focus.
func (d *Document) ActiveElement(ctx context.Context) (page.Element, error) {
	h, err := d.p(ctx).Sleeper(rod.NotFoundSleeper).ElementByJS(rod.Eval(activeJS))
	var missing *rod.ElementNotFoundError
	if errors.As(err, &missing) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("chromium: active element: %w", err)
	}
	el, err := describe(h)
	if err != nil {
		return nil, fmt.Errorf("chromium: active element: %w", err)
	}
	return el, nil
}

// URL implements [page.Window].
func (d *Document) URL(ctx context.Context) (string, error) {
	info, err := d.p(ctx).Info()
	if err != nil {
		return "", fmt.Errorf("chromium: page info: %w", err)
	}
	return info.URL, nil
}

// Navigate implements [page.Window].
func (d *Document) Navigate(ctx context.Context, url string) error {
	p := d.p(ctx).Timeout(d.timeout)
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("chromium: navigate %q: %w", url, err)
	}
	return d.waitLoad(p)
}

// Reload implements [page.Window].
func (d *Document) Reload(ctx context.Context) error {
	p := d.p(ctx).Timeout(d.timeout)
	if err := p.Reload(); err != nil {
		return fmt.Errorf("chromium: reload: %w", err)
	}
	return d.waitLoad(p)
}

// Back implements [page.Window].
func (d *Document) Back(ctx context.Context) error {
	if err := d.p(ctx).NavigateBack(); err != nil {
		return fmt.Errorf("chromium: back: %w", err)
	}
	return nil
}

// Forward implements [page.Window].
func (d *Document) Forward(ctx context.Context) error {
	if err := d.p(ctx).NavigateForward(); err != nil {
		return fmt.Errorf("chromium: forward: %w", err)
	}
	return nil
}

func (d *Document) waitLoad(p *rod.Page) error {
	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("chromium: wait load: %w", err)
	}
	return nil
}

// Print implements [page.Window].
func (d *Document) Print(ctx context.Context) error {
	if _, err := d.p(ctx).Eval(`() => window.print()`); err != nil {
		return fmt.Errorf("chromium: print: %w", err)
	}
	return nil
}

// ToggleFullscreen implements [page.Window]. Browsers may refuse to enter
// fullscreen without a user gesture; the reported state reflects the outcome.
func (d *Document) ToggleFullscreen(ctx context.Context) (bool, error) {
	res, err := d.p(ctx).Eval(`async () => {
		try {
			if (document.fullscreenElement) { await document.exitFullscreen(); }
			else { await document.documentElement.requestFullscreen(); }
		} catch (e) {}
		return !!document.fullscreenElement;
	}`)
	if err != nil {
		return false, fmt.Errorf("chromium: toggle fullscreen: %w", err)
	}
	return res.Value.Bool(), nil
}

// ScrollBy implements [page.Window].
func (d *Document) ScrollBy(ctx context.Context, dy int) error {
	if _, err := d.p(ctx).Eval(`(dy) => window.scrollBy({ top: dy, behavior: 'smooth' })`, dy); err != nil {
		return fmt.Errorf("chromium: scroll by: %w", err)
	}
	return nil
}

// ScrollTo implements [page.Window].
func (d *Document) ScrollTo(ctx context.Context, y int) error {
	if _, err := d.p(ctx).Eval(`(y) => window.scrollTo({ top: y, behavior: 'smooth' })`, y); err != nil {
		return fmt.Errorf("chromium: scroll to: %w", err)
	}
	return nil
}

// ScrollY implements [page.Window].
func (d *Document) ScrollY(ctx context.Context) (int, error) {
	res, err := d.p(ctx).Eval(`() => Math.round(window.scrollY)`)
	if err != nil {
		return 0, fmt.Errorf("chromium: scroll position: %w", err)
	}
	return res.Value.Int(), nil
}

// ScrollHeight implements [page.Window].
func (d *Document) ScrollHeight(ctx context.Context) (int, error) {
	res, err := d.p(ctx).Eval(`() => document.body ? document.body.scrollHeight : 0`)
	if err != nil {
		return 0, fmt.Errorf("chromium: scroll height: %w", err)
	}
	return res.Value.Int(), nil
}

// Close closes the tab.
func (d *Document) Close() error {
	return d.page.Close()
}
