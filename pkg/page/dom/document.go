// Package dom implements [page.Document] over an in-memory HTML tree parsed
// with golang.org/x/net/html. CSS selectors are evaluated with cascadia.
//
// A Document keeps a journal of every mutation (clicks, focus changes, value
// writes, synthetic events, submissions) so callers can observe what a
// command did without a browser. Window state such as scroll position,
// history and fullscreen is simulated.
package dom

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/MrWong99/voicenav/pkg/page"
)

// Default simulated window geometry in CSS pixels.
const (
	DefaultScrollHeight   = 3000
	DefaultViewportHeight = 800
)

// Compile-time interface assertion.
var _ page.Document = (*Document)(nil)

// Loader fetches the HTML for url. It is used when the document navigates.
type Loader func(ctx context.Context, url string) (io.ReadCloser, error)

// Record is one journal entry.
type Record struct {
	// Kind is one of "click", "focus", "set", "input", "change", "submit",
	// "navigate", "reload", "back", "forward", "print", "fullscreen".
	Kind string

	// Ref and Tag identify the element involved, empty for window records.
	Ref string
	Tag string

	// Detail carries the value written, the URL navigated to, and so on.
	Detail string
}

// Option configures a [Document].
type Option func(*Document)

// WithURL sets the document's initial location.
func WithURL(u string) Option {
	return func(d *Document) { d.url = u }
}

// WithScrollHeight sets the simulated total document height.
func WithScrollHeight(h int) Option {
	return func(d *Document) { d.scrollHeight = h }
}

// WithViewportHeight sets the simulated viewport height.
func WithViewportHeight(h int) Option {
	return func(d *Document) { d.viewport = h }
}

// WithLoader makes navigation fetch and parse the target page. Without a
// loader the tree is kept and only the location changes.
func WithLoader(l Loader) Option {
	return func(d *Document) { d.loader = l }
}

// Document is an in-memory page. All methods are safe for concurrent use.
type Document struct {
	mu sync.Mutex

	root     *html.Node
	elements map[*html.Node]*Element
	seq      int
	active   *Element

	url     string
	history []string
	pos     int

	scrollY      int
	scrollHeight int
	viewport     int
	fullscreen   bool

	loader    Loader
	selectors map[string]cascadia.Selector
	journal   []Record
}

// Parse reads HTML from r and returns a new Document.
func Parse(r io.Reader, opts ...Option) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("dom: parse: %w", err)
	}
	d := &Document{
		url:          "about:blank",
		scrollHeight: DefaultScrollHeight,
		viewport:     DefaultViewportHeight,
		selectors:    make(map[string]cascadia.Selector),
	}
	for _, o := range opts {
		o(d)
	}
	d.setRoot(root)
	d.history = []string{d.url}
	return d, nil
}

// ParseString is a convenience wrapper around [Parse].
func ParseString(s string, opts ...Option) (*Document, error) {
	return Parse(strings.NewReader(s), opts...)
}

// setRoot replaces the tree. The caller holds d.mu or owns d exclusively.
func (d *Document) setRoot(root *html.Node) {
	d.root = root
	d.elements = make(map[*html.Node]*Element)
	d.active = nil
	d.scrollY = 0
}

// QueryAll implements [page.Document].
func (d *Document) QueryAll(_ context.Context, selector string) ([]page.Element, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	sel, ok := d.selectors[selector]
	if !ok {
		var err error
		sel, err = cascadia.Compile(selector)
		if err != nil {
			return nil, fmt.Errorf("dom: compile selector %q: %w", selector, err)
		}
		d.selectors[selector] = sel
	}

	nodes := sel.MatchAll(d.root)
	out := make([]page.Element, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, d.wrap(n))
	}
	return out, nil
}

// ActiveElement implements [page.Document].
func (d *Document) ActiveElement(_ context.Context) (page.Element, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active == nil {
		return nil, nil
	}
	return d.active, nil
}

// wrap returns the cached Element for n. The caller holds d.mu.
func (d *Document) wrap(n *html.Node) *Element {
	if el, ok := d.elements[n]; ok {
		return el
	}
	d.seq++
	el := &Element{doc: d, node: n, ref: fmt.Sprintf("e%d", d.seq)}
	el.initValue()
	d.elements[n] = el
	return el
}

// record appends to the journal. The caller holds d.mu.
func (d *Document) record(r Record) {
	d.journal = append(d.journal, r)
}

// Journal returns a copy of all recorded mutations in order.
func (d *Document) Journal() []Record {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Record, len(d.journal))
	copy(out, d.journal)
	return out
}

// JournalOf returns the recorded mutations of the given kind.
func (d *Document) JournalOf(kind string) []Record {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []Record
	for _, r := range d.journal {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

// Fullscreen reports the simulated fullscreen state.
func (d *Document) Fullscreen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fullscreen
}

// URL implements [page.Window].
func (d *Document) URL(_ context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.url, nil
}

// Navigate implements [page.Window]. Relative URLs are resolved against the
// current location.
func (d *Document) Navigate(ctx context.Context, target string) error {
	d.mu.Lock()
	resolved := d.resolve(target)
	d.record(Record{Kind: "navigate", Detail: resolved})
	d.history = append(d.history[:d.pos+1], resolved)
	d.pos = len(d.history) - 1
	d.mu.Unlock()
	return d.load(ctx, resolved)
}

// Reload implements [page.Window].
func (d *Document) Reload(ctx context.Context) error {
	d.mu.Lock()
	d.record(Record{Kind: "reload", Detail: d.url})
	current := d.url
	d.mu.Unlock()
	return d.load(ctx, current)
}

// Back implements [page.Window]. At the start of history it is a no-op.
func (d *Document) Back(ctx context.Context) error {
	return d.step(ctx, -1, "back")
}

// Forward implements [page.Window]. At the end of history it is a no-op.
func (d *Document) Forward(ctx context.Context) error {
	return d.step(ctx, 1, "forward")
}

func (d *Document) step(ctx context.Context, delta int, kind string) error {
	d.mu.Lock()
	next := d.pos + delta
	if next < 0 || next >= len(d.history) {
		d.record(Record{Kind: kind})
		d.mu.Unlock()
		return nil
	}
	d.pos = next
	target := d.history[next]
	d.record(Record{Kind: kind, Detail: target})
	d.mu.Unlock()
	return d.load(ctx, target)
}

// load sets the location and, when a loader is configured and the URL is
// fetchable, replaces the tree.
func (d *Document) load(ctx context.Context, target string) error {
	d.mu.Lock()
	d.url = target
	loader := d.loader
	d.mu.Unlock()

	if loader == nil || !fetchable(target) {
		return nil
	}
	rc, err := loader(ctx, target)
	if err != nil {
		return fmt.Errorf("dom: load %q: %w", target, err)
	}
	defer rc.Close()
	root, err := html.Parse(rc)
	if err != nil {
		return fmt.Errorf("dom: parse %q: %w", target, err)
	}

	d.mu.Lock()
	d.setRoot(root)
	d.mu.Unlock()
	return nil
}

// resolve makes target absolute relative to the current URL. The caller
// holds d.mu.
func (d *Document) resolve(target string) string {
	base, err := url.Parse(d.url)
	if err != nil {
		return target
	}
	ref, err := url.Parse(target)
	if err != nil {
		return target
	}
	return base.ResolveReference(ref).String()
}

func fetchable(u string) bool {
	return strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")
}

// Print implements [page.Window].
func (d *Document) Print(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(Record{Kind: "print"})
	return nil
}

// ToggleFullscreen implements [page.Window].
func (d *Document) ToggleFullscreen(_ context.Context) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fullscreen = !d.fullscreen
	d.record(Record{Kind: "fullscreen", Detail: fmt.Sprint(d.fullscreen)})
	return d.fullscreen, nil
}

// ScrollBy implements [page.Window]. The position is clamped to the
// scrollable range.
func (d *Document) ScrollBy(_ context.Context, dy int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scrollY = d.clampScroll(d.scrollY + dy)
	return nil
}

// ScrollTo implements [page.Window].
func (d *Document) ScrollTo(_ context.Context, y int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scrollY = d.clampScroll(y)
	return nil
}

// ScrollY implements [page.Window].
func (d *Document) ScrollY(_ context.Context) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.scrollY, nil
}

// ScrollHeight implements [page.Window].
func (d *Document) ScrollHeight(_ context.Context) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.scrollHeight, nil
}

func (d *Document) clampScroll(y int) int {
	maxY := max(d.scrollHeight-d.viewport, 0)
	return min(max(y, 0), maxY)
}
