// Package action carries out parsed commands against a page.
//
// [Executor.Execute] never returns an error: every failure a user can cause
// (nothing found, bad phrasing, ambiguous form) is an [Outcome] with
// Success=false, and page access failures are logged and reported the same
// way. A failed command never affects the next one.
package action

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/voicenav/internal/command"
	"github.com/MrWong99/voicenav/internal/locator"
	"github.com/MrWong99/voicenav/internal/observe"
	"github.com/MrWong99/voicenav/pkg/page"
)

// DefaultScrollDelta is the distance of one scroll step in CSS pixels.
const DefaultScrollDelta = 300

// Reason is a machine-readable outcome code.
type Reason string

const (
	ReasonOK               Reason = "ok"
	ReasonNotFound         Reason = "not_found"
	ReasonBadFormat        Reason = "bad_format"
	ReasonOptionNotFound   Reason = "option_not_found"
	ReasonDropdownNotFound Reason = "dropdown_not_found"
	ReasonAmbiguous        Reason = "ambiguous"
	ReasonNoForm           Reason = "no_form"
	ReasonUnrecognized     Reason = "unrecognized"
	ReasonPageError        Reason = "page_error"
)

// Status messages shown on the feedback surface.
const (
	MsgScrolledDown    = "↓ Scrolled"
	MsgScrolledUp      = "↑ Scrolled"
	MsgTop             = "⬆️ Top"
	MsgBottom          = "⬇️ Bottom"
	MsgClicked         = "✅ Clicked"
	MsgNotFound        = "❌ Not found"
	MsgInvalidFormat   = "❌ Invalid format"
	MsgTyped           = "✅ Typed"
	MsgFieldNotFound   = "❌ Field not found"
	MsgSelected        = "✅ Selected"
	MsgOptionNotFound  = "❌ Option not found"
	MsgDropdownMissing = "❌ Dropdown not found"
	MsgNavigating      = "🌐 Navigating"
	MsgEmail           = "📧 Email"
	MsgOpening         = "🔗 Opening"
	MsgLinkNotFound    = "❌ Link not found"
	MsgFormSubmitted   = "✅ Form submitted"
	MsgMultipleForms   = "❌ Multiple forms found"
	MsgNoForm          = "❌ No form found"
	MsgCleared         = "✅ Cleared"
	MsgFocused         = "✅ Focused"
	MsgElementNotFound = "❌ Element not found"
	MsgRefreshing      = "🔄 Refreshing"
	MsgGoingBack       = "⬅️ Going back"
	MsgGoingForward    = "➡️ Going forward"
	MsgPrinting        = "🖨️ Printing"
	MsgFullscreen      = "⛶ Fullscreen"
	MsgNextField       = "⭾ Next field"
	MsgPreviousField   = "⭾ Previous field"
	MsgUnknown         = "❓ Unknown"
	MsgError           = "❌ Error"
)

// Outcome is the result of executing one intent.
type Outcome struct {
	Success bool
	Message string
	Reason  Reason

	// Hint is a "did you mean" suggestion offered after a miss.
	Hint string
}

// Status is the text for the feedback surface: the message plus any hint.
func (o Outcome) Status() string {
	if o.Hint == "" {
		return o.Message
	}
	return fmt.Sprintf("%s · did you mean %q?", o.Message, o.Hint)
}

func ok(msg string) Outcome { return Outcome{Success: true, Message: msg, Reason: ReasonOK} }

func fail(msg string, r Reason) Outcome { return Outcome{Message: msg, Reason: r} }

// Option configures an [Executor].
type Option func(*Executor)

// WithScrollDelta sets the scroll step. Non-positive values are ignored.
func WithScrollDelta(px int) Option {
	return func(e *Executor) {
		if px > 0 {
			e.scrollDelta = px
		}
	}
}

// WithHighlightTimeout sets how long marks persist.
func WithHighlightTimeout(d time.Duration) Option {
	return func(e *Executor) { e.marks = NewHighlighter(d) }
}

// WithSuggestions enables "did you mean" hints on click and link misses.
func WithSuggestions(enabled bool) Option {
	return func(e *Executor) { e.suggest = enabled }
}

// Executor runs intents against one document. Execute calls must not
// overlap; the session controller serializes them.
type Executor struct {
	doc         page.Document
	loc         *locator.Locator
	marks       *Highlighter
	scrollDelta int
	suggest     bool
}

// NewExecutor returns an Executor for doc.
func NewExecutor(doc page.Document, opts ...Option) *Executor {
	e := &Executor{
		doc:         doc,
		loc:         locator.New(doc),
		marks:       NewHighlighter(DefaultHighlightTimeout),
		scrollDelta: DefaultScrollDelta,
		suggest:     true,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Highlighter exposes the executor's mark state.
func (e *Executor) Highlighter() *Highlighter { return e.marks }

// Execute performs in and reports what happened. The existing mark is
// always cleared first.
func (e *Executor) Execute(ctx context.Context, in command.Intent) Outcome {
	ctx, span := observe.StartCommandSpan(ctx, observe.SpanExecute, in.Kind.String())
	e.marks.Clear(ctx)

	out, err := e.execute(ctx, in)
	if err != nil {
		slog.Warn("action: page operation failed", "kind", in.Kind.String(), "err", err)
		out = fail(MsgError, ReasonPageError)
	}
	observe.EndCommandSpan(span, string(out.Reason), out.Success, err)
	return out
}

func (e *Executor) execute(ctx context.Context, in command.Intent) (Outcome, error) {
	switch in.Kind {
	case command.KindScrollDown:
		return ok(MsgScrolledDown), e.doc.ScrollBy(ctx, e.scrollDelta)
	case command.KindScrollUp:
		return ok(MsgScrolledUp), e.doc.ScrollBy(ctx, -e.scrollDelta)
	case command.KindScrollToTop:
		return ok(MsgTop), e.doc.ScrollTo(ctx, 0)
	case command.KindScrollToBottom:
		h, err := e.doc.ScrollHeight(ctx)
		if err != nil {
			return Outcome{}, err
		}
		return ok(MsgBottom), e.doc.ScrollTo(ctx, h)
	case command.KindClick:
		return e.click(ctx, in.Target)
	case command.KindTypeInto:
		return e.typeInto(ctx, in.Text, in.Field)
	case command.KindSelectFrom:
		return e.selectFrom(ctx, in.Option, in.Dropdown)
	case command.KindNavigateTo:
		return e.navigate(ctx, in.Destination)
	case command.KindSubmitForm:
		return e.submit(ctx)
	case command.KindClearField:
		return e.clear(ctx, in.Target)
	case command.KindFocusField:
		return e.focus(ctx, in.Target)
	case command.KindPageAction:
		return e.pageAction(ctx, in.Action)
	case command.KindFieldNav:
		return e.fieldNav(ctx, in.Direction)
	case command.KindStartListening, command.KindStopListening:
		// Session control is handled by the listening controller.
		return Outcome{Success: true, Reason: ReasonOK}, nil
	}
	if in.Reason == command.ReasonBadFormat {
		return fail(MsgInvalidFormat, ReasonBadFormat), nil
	}
	return fail(MsgUnknown, ReasonUnrecognized), nil
}

func (e *Executor) click(ctx context.Context, target string) (Outcome, error) {
	m, found, err := e.loc.Locate(ctx, locator.Actionable, target)
	if err != nil {
		return Outcome{}, err
	}
	if !found {
		out := fail(MsgNotFound, ReasonNotFound)
		out.Hint = e.hint(func() (string, bool, error) {
			return e.loc.Suggest(ctx, locator.Actionable, target)
		})
		return out, nil
	}
	el := m.Element()
	if err := e.marks.Mark(ctx, el, MarkSuccess); err != nil {
		return Outcome{}, err
	}
	if err := el.Click(ctx); err != nil {
		return Outcome{}, err
	}
	return ok(MsgClicked), nil
}

// fill focuses el, writes value and fires input then change exactly once.
func fill(ctx context.Context, el page.Element, value string) error {
	if err := el.Focus(ctx); err != nil {
		return err
	}
	if err := el.SetValue(ctx, value); err != nil {
		return err
	}
	if err := el.Dispatch(ctx, page.EventInput); err != nil {
		return err
	}
	return el.Dispatch(ctx, page.EventChange)
}

func (e *Executor) typeInto(ctx context.Context, text, field string) (Outcome, error) {
	m, found, err := e.loc.Locate(ctx, locator.Field, field)
	if err != nil {
		return Outcome{}, err
	}
	if !found {
		return fail(MsgFieldNotFound, ReasonNotFound), nil
	}
	el := m.Element()
	if err := e.marks.Mark(ctx, el, MarkSuccess); err != nil {
		return Outcome{}, err
	}
	if err := fill(ctx, el, text); err != nil {
		return Outcome{}, err
	}
	return ok(MsgTyped), nil
}

func (e *Executor) selectFrom(ctx context.Context, option, dropdown string) (Outcome, error) {
	m, found, err := e.loc.Locate(ctx, locator.Chooser, dropdown)
	if err != nil {
		return Outcome{}, err
	}
	if !found {
		return fail(MsgDropdownMissing, ReasonDropdownNotFound), nil
	}
	chooser, _ := m.Candidate.(locator.ChooserCandidate)
	opt, found := locator.FindOption(chooser, option)
	if !found {
		return fail(MsgOptionNotFound, ReasonOptionNotFound), nil
	}
	el := m.Element()
	if err := e.marks.Mark(ctx, el, MarkSuccess); err != nil {
		return Outcome{}, err
	}
	if err := el.SetValue(ctx, opt.Value); err != nil {
		return Outcome{}, err
	}
	if err := el.Dispatch(ctx, page.EventChange); err != nil {
		return Outcome{}, err
	}
	return ok(MsgSelected), nil
}

func (e *Executor) navigate(ctx context.Context, dest string) (Outcome, error) {
	switch command.ClassifyDestination(dest) {
	case command.DestURL:
		return ok(MsgNavigating), e.doc.Navigate(ctx, command.AbsoluteURL(dest))
	case command.DestEmail:
		return ok(MsgEmail), e.doc.Navigate(ctx, "mailto:"+dest)
	}

	m, found, err := e.loc.LocateLink(ctx, dest)
	if err != nil {
		return Outcome{}, err
	}
	if !found {
		out := fail(MsgLinkNotFound, ReasonNotFound)
		out.Hint = e.hint(func() (string, bool, error) {
			return e.loc.SuggestLink(ctx, dest)
		})
		return out, nil
	}
	el := m.Element()
	if err := e.marks.Mark(ctx, el, MarkSuccess); err != nil {
		return Outcome{}, err
	}
	return ok(MsgOpening), el.Click(ctx)
}

const submitControlSelector = `input[type="submit"], button[type="submit"]`

// submit submits the only form on the page. With several forms it clicks the
// submit control only when there is exactly one.
func (e *Executor) submit(ctx context.Context) (Outcome, error) {
	forms, err := e.doc.QueryAll(ctx, "form")
	if err != nil {
		return Outcome{}, err
	}
	switch {
	case len(forms) == 0:
		return fail(MsgNoForm, ReasonNoForm), nil
	case len(forms) == 1:
		return ok(MsgFormSubmitted), forms[0].Submit(ctx)
	}

	controls, err := e.doc.QueryAll(ctx, submitControlSelector)
	if err != nil {
		return Outcome{}, err
	}
	if len(controls) != 1 {
		return fail(MsgMultipleForms, ReasonAmbiguous), nil
	}
	if err := e.marks.Mark(ctx, controls[0], MarkSuccess); err != nil {
		return Outcome{}, err
	}
	return ok(MsgFormSubmitted), controls[0].Click(ctx)
}

func (e *Executor) clear(ctx context.Context, target string) (Outcome, error) {
	var el page.Element
	if target == "" {
		active, err := e.doc.ActiveElement(ctx)
		if err != nil {
			return Outcome{}, err
		}
		if active == nil || !isTextEntry(active) {
			return fail(MsgFieldNotFound, ReasonNotFound), nil
		}
		el = active
	} else {
		m, found, err := e.loc.Locate(ctx, locator.Field, target)
		if err != nil {
			return Outcome{}, err
		}
		if !found {
			return fail(MsgFieldNotFound, ReasonNotFound), nil
		}
		el = m.Element()
	}

	if err := e.marks.Mark(ctx, el, MarkSuccess); err != nil {
		return Outcome{}, err
	}
	if err := fill(ctx, el, ""); err != nil {
		return Outcome{}, err
	}
	return ok(MsgCleared), nil
}

// isTextEntry reports whether el would be enumerated in the Field role.
func isTextEntry(el page.Element) bool {
	switch el.Tag() {
	case "textarea":
		return true
	case "input":
		t, has := el.Attr("type")
		if !has {
			return true
		}
		switch t {
		case "text", "email", "password", "search", "url", "tel", "number":
			return true
		}
	}
	return false
}

func (e *Executor) focus(ctx context.Context, target string) (Outcome, error) {
	m, found, err := e.loc.Locate(ctx, locator.Field, target)
	if err != nil {
		return Outcome{}, err
	}
	if !found {
		return fail(MsgElementNotFound, ReasonNotFound), nil
	}
	el := m.Element()
	if err := e.marks.Mark(ctx, el, MarkHighlight); err != nil {
		return Outcome{}, err
	}
	return ok(MsgFocused), el.Focus(ctx)
}

func (e *Executor) pageAction(ctx context.Context, a command.PageAction) (Outcome, error) {
	switch a {
	case command.PageRefresh:
		return ok(MsgRefreshing), e.doc.Reload(ctx)
	case command.PageBack:
		return ok(MsgGoingBack), e.doc.Back(ctx)
	case command.PageForward:
		return ok(MsgGoingForward), e.doc.Forward(ctx)
	case command.PagePrint:
		return ok(MsgPrinting), e.doc.Print(ctx)
	case command.PageFullscreen:
		_, err := e.doc.ToggleFullscreen(ctx)
		return ok(MsgFullscreen), err
	}
	return fail(MsgUnknown, ReasonUnrecognized), nil
}

func (e *Executor) fieldNav(ctx context.Context, dir command.Direction) (Outcome, error) {
	els, err := e.loc.Focusables(ctx)
	if err != nil {
		return Outcome{}, err
	}
	if len(els) == 0 {
		return fail(MsgElementNotFound, ReasonNotFound), nil
	}
	active, err := e.doc.ActiveElement(ctx)
	if err != nil {
		return Outcome{}, err
	}

	idx := -1
	for i, el := range els {
		if page.Same(el, active) {
			idx = i
			break
		}
	}
	var next int
	msg := MsgNextField
	if dir == command.Previous {
		msg = MsgPreviousField
		if idx < 0 {
			next = len(els) - 1
		} else {
			next = (idx - 1 + len(els)) % len(els)
		}
	} else {
		next = (idx + 1) % len(els)
	}

	el := els[next]
	if err := e.marks.Mark(ctx, el, MarkHighlight); err != nil {
		return Outcome{}, err
	}
	return ok(msg), el.Focus(ctx)
}

func (e *Executor) hint(suggest func() (string, bool, error)) string {
	if !e.suggest {
		return ""
	}
	s, found, err := suggest()
	if err != nil {
		slog.Debug("action: suggestion failed", "err", err)
		return ""
	}
	if !found {
		return ""
	}
	return s
}
