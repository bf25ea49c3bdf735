// Package page defines the view of a live web page that voice commands act
// upon. It is deliberately small: element enumeration by CSS selector, a
// handful of mutations (value, focus, click, submit, classes, synthetic
// events) and window-level operations (scroll, history, print, fullscreen).
//
// Two implementations ship with voicenav:
//
//   - [github.com/MrWong99/voicenav/pkg/page/dom] parses HTML into an
//     in-memory tree. It backs tests and the "dom" browser driver.
//   - [github.com/MrWong99/voicenav/pkg/page/chromium] drives a real Chromium tab
//     over the DevTools protocol.
//
// Element accessors (Tag, Attr, Text, Value, Label, Options) read from a
// snapshot taken when the element was queried and never block. Mutations take
// a context because they may cross a process boundary.
package page

import (
	"context"
	"errors"
)

// ErrNotSupported is returned by drivers for operations they cannot perform,
// e.g. printing from a document that has no window.
var ErrNotSupported = errors.New("page: operation not supported")

// Event names a synthetic DOM event dispatched after a programmatic mutation.
type Event string

const (
	// EventInput mirrors the DOM "input" event.
	EventInput Event = "input"

	// EventChange mirrors the DOM "change" event.
	EventChange Event = "change"
)

// Option is one entry of a <select> element.
type Option struct {
	Text  string
	Value string
}

// Element is a single DOM element.
type Element interface {
	// Ref returns an identifier that is stable for the lifetime of the
	// underlying node within its document. Two Element values refer to the
	// same node iff their refs are equal.
	Ref() string

	// Tag returns the lower-case tag name.
	Tag() string

	// Attr returns the attribute value and whether it is present.
	Attr(name string) (string, bool)

	// Text returns the element's text content.
	Text() string

	// Value returns the current form value ("" for non-form elements).
	Value() string

	// Label returns the text of a <label for=...> that references this
	// element's id, or "" if none exists.
	Label() string

	// Options returns the options of a <select> element in document order.
	Options() []Option

	SetValue(ctx context.Context, value string) error
	Focus(ctx context.Context) error
	Click(ctx context.Context) error

	// Submit submits the element when it is a <form>.
	Submit(ctx context.Context) error

	// Dispatch fires a bubbling synthetic event on the element.
	Dispatch(ctx context.Context, ev Event) error

	AddClass(ctx context.Context, class string) error
	RemoveClass(ctx context.Context, class string) error
}

// Window groups the document-level operations that are not tied to a single
// element.
type Window interface {
	URL(ctx context.Context) (string, error)
	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	Back(ctx context.Context) error
	Forward(ctx context.Context) error
	Print(ctx context.Context) error

	// ToggleFullscreen enters fullscreen when not in it and leaves it
	// otherwise. It reports the resulting state.
	ToggleFullscreen(ctx context.Context) (bool, error)

	ScrollBy(ctx context.Context, dy int) error
	ScrollTo(ctx context.Context, y int) error
	ScrollY(ctx context.Context) (int, error)
	ScrollHeight(ctx context.Context) (int, error)
}

// Document is a loaded page.
type Document interface {
	Window

	// QueryAll returns every element matching the CSS selector in document
	// order. An empty result is not an error.
	QueryAll(ctx context.Context, selector string) ([]Element, error)

	// ActiveElement returns the focused element, or nil when focus rests on
	// the document body.
	ActiveElement(ctx context.Context) (Element, error)
}

// Driver opens documents.
type Driver interface {
	// Open loads url into a new document.
	Open(ctx context.Context, url string) (Document, error)

	// Close releases the driver's resources. Documents opened through it
	// must not be used afterwards.
	Close() error
}

// Same reports whether a and b refer to the same node. Nil elements are never
// the same as anything.
func Same(a, b Element) bool {
	if a == nil || b == nil {
		return false
	}
	return a.Ref() == b.Ref()
}
