// Package command turns a spoken transcript into an [Intent].
//
// Classification is first-match-wins over an ordered rule table. The order is
// load-bearing: "stop listening" must win over everything else, and "click"
// must be tried before the navigation keywords so that "click open account"
// clicks rather than navigates.
package command

import "strings"

// Kind identifies what a transcript asks for.
type Kind int

const (
	KindUnknown Kind = iota
	KindScrollUp
	KindScrollDown
	KindScrollToTop
	KindScrollToBottom
	KindClick
	KindTypeInto
	KindSelectFrom
	KindNavigateTo
	KindSubmitForm
	KindClearField
	KindFocusField
	KindPageAction
	KindFieldNav
	KindStartListening
	KindStopListening
)

var kindNames = [...]string{
	KindUnknown:        "unknown",
	KindScrollUp:       "scroll_up",
	KindScrollDown:     "scroll_down",
	KindScrollToTop:    "scroll_to_top",
	KindScrollToBottom: "scroll_to_bottom",
	KindClick:          "click",
	KindTypeInto:       "type_into",
	KindSelectFrom:     "select_from",
	KindNavigateTo:     "navigate_to",
	KindSubmitForm:     "submit_form",
	KindClearField:     "clear_field",
	KindFocusField:     "focus_field",
	KindPageAction:     "page_action",
	KindFieldNav:       "field_nav",
	KindStartListening: "start_listening",
	KindStopListening:  "stop_listening",
}

// String returns the snake_case name used in metrics and history.
func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// PageAction is a window-level operation.
type PageAction int

const (
	PageRefresh PageAction = iota
	PageBack
	PageForward
	PagePrint
	PageFullscreen
)

// String implements [fmt.Stringer].
func (a PageAction) String() string {
	switch a {
	case PageRefresh:
		return "refresh"
	case PageBack:
		return "back"
	case PageForward:
		return "forward"
	case PagePrint:
		return "print"
	case PageFullscreen:
		return "fullscreen"
	}
	return "unknown"
}

// Direction is the field navigation direction.
type Direction int

const (
	Next Direction = iota
	Previous
)

// String implements [fmt.Stringer].
func (d Direction) String() string {
	if d == Previous {
		return "previous"
	}
	return "next"
}

// Reasons attached to [KindUnknown] intents.
const (
	ReasonBadFormat         = "bad format"
	ReasonUnrecognized      = "unrecognized command"
	ReasonUnsupportedForm   = "unsupported form action"
	ReasonUnsupportedScroll = "unsupported scroll direction"
)

// Intent is a classified command with its arguments. Only the fields
// relevant to Kind are set.
type Intent struct {
	Kind Kind

	// Target is the identifier for Click, FocusField and ClearField. An
	// empty ClearField target means the focused field.
	Target string

	// Text and Field are the TypeInto arguments.
	Text  string
	Field string

	// Option and Dropdown are the SelectFrom arguments.
	Option   string
	Dropdown string

	// Destination is the NavigateTo argument: a URL, an e-mail address or
	// link text.
	Destination string

	Action    PageAction
	Direction Direction

	// Reason explains a KindUnknown intent.
	Reason string
}

// Control reports whether the intent steers the listening session rather
// than the page.
func (i Intent) Control() bool {
	return i.Kind == KindStartListening || i.Kind == KindStopListening
}

// Normalize lower-cases and trims a transcript.
func Normalize(transcript string) string {
	return strings.ToLower(strings.TrimSpace(transcript))
}
