package dom

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/net/html"

	"github.com/MrWong99/voicenav/pkg/page"
)

var _ page.Element = (*Element)(nil)

// Element is a node of a [Document]. The zero value is not usable.
type Element struct {
	doc  *Document
	node *html.Node
	ref  string

	// value is the live form value; selected indexes into options for
	// <select> elements (-1 when nothing is selected).
	value    string
	selected int
}

// initValue seeds the live value from the markup. The caller holds doc.mu.
func (e *Element) initValue() {
	switch e.node.Data {
	case "input", "button":
		e.value, _ = attr(e.node, "value")
	case "textarea":
		e.value = textContent(e.node)
	case "select":
		e.selected = -1
		opts := optionNodes(e.node)
		for i, o := range opts {
			if _, ok := attr(o, "selected"); ok {
				e.selected = i
				break
			}
		}
		if e.selected < 0 && len(opts) > 0 {
			e.selected = 0
		}
	}
}

// Ref implements [page.Element].
func (e *Element) Ref() string { return e.ref }

// Tag implements [page.Element].
func (e *Element) Tag() string { return e.node.Data }

// Attr implements [page.Element].
func (e *Element) Attr(name string) (string, bool) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	return attr(e.node, name)
}

// Text implements [page.Element].
func (e *Element) Text() string {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	return textContent(e.node)
}

// Value implements [page.Element].
func (e *Element) Value() string {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	return e.valueLocked()
}

func (e *Element) valueLocked() string {
	if e.node.Data != "select" {
		return e.value
	}
	opts := optionNodes(e.node)
	if e.selected < 0 || e.selected >= len(opts) {
		return ""
	}
	return optionValue(opts[e.selected])
}

// Label implements [page.Element].
func (e *Element) Label() string {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()

	id, ok := attr(e.node, "id")
	if !ok || id == "" {
		return ""
	}
	var found string
	walk(e.doc.root, func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.Data == "label" {
			if f, _ := attr(n, "for"); f == id {
				found = strings.TrimSpace(textContent(n))
				return false
			}
		}
		return true
	})
	return found
}

// Options implements [page.Element].
func (e *Element) Options() []page.Option {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	if e.node.Data != "select" {
		return nil
	}
	nodes := optionNodes(e.node)
	out := make([]page.Option, 0, len(nodes))
	for _, o := range nodes {
		out = append(out, page.Option{
			Text:  strings.TrimSpace(textContent(o)),
			Value: optionValue(o),
		})
	}
	return out
}

// SetValue implements [page.Element]. Setting a <select> to a value that no
// option carries clears the selection, as browsers do.
func (e *Element) SetValue(_ context.Context, value string) error {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()

	if e.node.Data == "select" {
		e.selected = slices.IndexFunc(optionNodes(e.node), func(o *html.Node) bool {
			return optionValue(o) == value
		})
	} else {
		e.value = value
	}
	e.doc.record(Record{Kind: "set", Ref: e.ref, Tag: e.node.Data, Detail: value})
	return nil
}

// Focus implements [page.Element].
func (e *Element) Focus(_ context.Context) error {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	e.doc.active = e
	e.doc.record(Record{Kind: "focus", Ref: e.ref, Tag: e.node.Data})
	return nil
}

// Click implements [page.Element]. Links navigate and submit controls submit
// their enclosing form.
func (e *Element) Click(ctx context.Context) error {
	e.doc.mu.Lock()
	e.doc.record(Record{Kind: "click", Ref: e.ref, Tag: e.node.Data})

	var (
		href string
		form *Element
	)
	if e.node.Data == "a" {
		href, _ = attr(e.node, "href")
	}
	if isSubmitControl(e.node) {
		if f := enclosing(e.node, "form"); f != nil {
			form = e.doc.wrap(f)
		}
	}
	e.doc.mu.Unlock()

	switch {
	case href != "":
		return e.doc.Navigate(ctx, href)
	case form != nil:
		return form.Submit(ctx)
	}
	return nil
}

// Submit implements [page.Element].
func (e *Element) Submit(_ context.Context) error {
	if e.node.Data != "form" {
		return fmt.Errorf("dom: submit <%s>: %w", e.node.Data, page.ErrNotSupported)
	}
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	e.doc.record(Record{Kind: "submit", Ref: e.ref, Tag: "form"})
	return nil
}

// Dispatch implements [page.Element].
func (e *Element) Dispatch(_ context.Context, ev page.Event) error {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	e.doc.record(Record{Kind: string(ev), Ref: e.ref, Tag: e.node.Data})
	return nil
}

// AddClass implements [page.Element].
func (e *Element) AddClass(_ context.Context, class string) error {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	classes := strings.Fields(attrOr(e.node, "class"))
	if !slices.Contains(classes, class) {
		classes = append(classes, class)
	}
	setAttr(e.node, "class", strings.Join(classes, " "))
	return nil
}

// RemoveClass implements [page.Element].
func (e *Element) RemoveClass(_ context.Context, class string) error {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	classes := slices.DeleteFunc(strings.Fields(attrOr(e.node, "class")), func(c string) bool {
		return c == class
	})
	setAttr(e.node, "class", strings.Join(classes, " "))
	return nil
}

// HasClass reports whether the element currently carries class.
func (e *Element) HasClass(class string) bool {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	return slices.Contains(strings.Fields(attrOr(e.node, "class")), class)
}

// --- tree helpers ---

func attr(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, name) {
			return a.Val, true
		}
	}
	return "", false
}

func attrOr(n *html.Node, name string) string {
	v, _ := attr(n, name)
	return v
}

func setAttr(n *html.Node, name, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == name {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: name, Val: val})
}

func textContent(n *html.Node) string {
	var b strings.Builder
	walk(n, func(c *html.Node) bool {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
		return true
	})
	return b.String()
}

// walk visits n and its descendants in document order until fn returns
// false.
func walk(n *html.Node, fn func(*html.Node) bool) bool {
	if !fn(n) {
		return false
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !walk(c, fn) {
			return false
		}
	}
	return true
}

func optionNodes(sel *html.Node) []*html.Node {
	var out []*html.Node
	walk(sel, func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.Data == "option" {
			out = append(out, n)
		}
		return true
	})
	return out
}

func optionValue(o *html.Node) string {
	if v, ok := attr(o, "value"); ok {
		return v
	}
	return strings.TrimSpace(textContent(o))
}

func enclosing(n *html.Node, tag string) *html.Node {
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && p.Data == tag {
			return p
		}
	}
	return nil
}

func isSubmitControl(n *html.Node) bool {
	typ := strings.ToLower(attrOr(n, "type"))
	switch n.Data {
	case "button":
		return typ == "" || typ == "submit"
	case "input":
		return typ == "submit" || typ == "image"
	}
	return false
}
