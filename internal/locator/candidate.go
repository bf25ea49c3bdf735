package locator

import (
	"strings"

	"github.com/MrWong99/voicenav/pkg/page"
)

// Role is the part an element plays for a command.
type Role int

const (
	// Actionable elements are clicked.
	Actionable Role = iota

	// Field elements receive typed text.
	Field

	// Chooser elements are <select> dropdowns.
	Chooser
)

// String returns the role name used in logs.
func (r Role) String() string {
	switch r {
	case Actionable:
		return "actionable"
	case Field:
		return "field"
	case Chooser:
		return "chooser"
	default:
		return "unknown"
	}
}

// Selector returns the fixed CSS selector set enumerated for the role.
func (r Role) Selector() string {
	switch r {
	case Actionable:
		return `button, a, input[type="button"], input[type="submit"], [role="button"], .btn, .button, [onclick]`
	case Field:
		return `input[type="text"], input[type="email"], input[type="password"], input[type="search"], ` +
			`input[type="url"], input[type="tel"], input[type="number"], textarea, input:not([type])`
	case Chooser:
		return `select`
	default:
		return ""
	}
}

// linkSelector enumerates navigable links.
const linkSelector = `a[href]`

// Candidate is a view over an element in one role. Sources lists the
// searchable text sources of that role in a fixed order; empty sources are
// omitted.
type Candidate interface {
	Role() Role
	Element() page.Element
	Sources() []string
}

// base carries the attribute sources every role shares.
type base struct {
	el page.Element
}

func (b base) Element() page.Element { return b.el }

func (b base) Name() string      { return attrValue(b.el, "name") }
func (b base) ID() string        { return attrValue(b.el, "id") }
func (b base) AriaLabel() string { return attrValue(b.el, "aria-label") }
func (b base) LabelText() string { return strings.TrimSpace(b.el.Label()) }

// ActionableCandidate is something that can be clicked.
type ActionableCandidate struct{ base }

// Role implements [Candidate].
func (ActionableCandidate) Role() Role { return Actionable }

// VisibleText returns the first non-empty of text content, value, alt and
// title.
func (a ActionableCandidate) VisibleText() string {
	return VisibleText(a.el)
}

// Sources implements [Candidate].
func (a ActionableCandidate) Sources() []string {
	return nonEmpty(a.VisibleText(), a.Name(), a.ID(), a.AriaLabel(), a.LabelText())
}

// FieldCandidate is a text-entry control.
type FieldCandidate struct{ base }

// Role implements [Candidate].
func (FieldCandidate) Role() Role { return Field }

// Placeholder returns the placeholder attribute.
func (f FieldCandidate) Placeholder() string { return attrValue(f.el, "placeholder") }

// Sources implements [Candidate].
func (f FieldCandidate) Sources() []string {
	return nonEmpty(f.Placeholder(), f.Name(), f.ID(), f.AriaLabel(), f.LabelText())
}

// ChooserCandidate is a dropdown.
type ChooserCandidate struct{ base }

// Role implements [Candidate].
func (ChooserCandidate) Role() Role { return Chooser }

// Options returns the dropdown's options in document order.
func (c ChooserCandidate) Options() []page.Option { return c.el.Options() }

// Sources implements [Candidate]. Option texts are not identifiers of the
// dropdown itself and are searched separately by [FindOption].
func (c ChooserCandidate) Sources() []string {
	return nonEmpty(c.Name(), c.ID(), c.AriaLabel(), c.LabelText())
}

// Wrap returns the candidate view of el in role r.
func Wrap(r Role, el page.Element) Candidate {
	b := base{el: el}
	switch r {
	case Field:
		return FieldCandidate{b}
	case Chooser:
		return ChooserCandidate{b}
	default:
		return ActionableCandidate{b}
	}
}

// VisibleText returns what a user would read on el: its text content, or
// failing that its value, alt or title attribute.
func VisibleText(el page.Element) string {
	if t := collapse(el.Text()); t != "" {
		return t
	}
	if v := strings.TrimSpace(el.Value()); v != "" {
		return v
	}
	if v := attrValue(el, "alt"); v != "" {
		return v
	}
	return attrValue(el, "title")
}

func attrValue(el page.Element, name string) string {
	v, _ := el.Attr(name)
	return strings.TrimSpace(v)
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func nonEmpty(vals ...string) []string {
	out := vals[:0]
	for _, v := range vals {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
