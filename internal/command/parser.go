package command

import (
	"log/slog"
	"regexp"
	"strings"
)

var (
	typeRe     = regexp.MustCompile(`type\s+["']?([^"']+?)["']?\s+(?:into|in)\s+(.+)`)
	selectRe   = regexp.MustCompile(`select\s+["']?([^"']+?)["']?\s+from\s+(.+)`)
	linkRe     = regexp.MustCompile(`(?:click|open)\s+link\s+(.+)`)
	navigateRe = regexp.MustCompile(`(?:go to|open|navigate to|visit|navigate)\s+(.+)`)
	clearRe    = regexp.MustCompile(`clear\s+(?:field\s+)?(.+)`)
)

// otpKeywords mark a field whose typed text must not contain whitespace.
var otpKeywords = []string{"otp", "code", "verification", "pin", "token", "auth"}

// Rule is one entry of the classification table.
type Rule struct {
	// Name is a label for logging.
	Name string

	// Match reports whether the rule claims the normalized transcript.
	Match func(t string) bool

	// Build produces the intent for a claimed transcript. It may return a
	// KindUnknown intent when the arguments cannot be extracted; later
	// rules are not consulted.
	Build func(t string) Intent
}

// Parser classifies transcripts. It is stateless and safe for concurrent
// use.
type Parser struct {
	rules []Rule
}

// NewParser returns a Parser with the built-in rule table.
func NewParser() *Parser {
	return &Parser{rules: defaultRules()}
}

// Parse normalizes transcript and returns the intent of the first matching
// rule, or an unrecognized intent.
func (p *Parser) Parse(transcript string) Intent {
	t := Normalize(transcript)
	if t == "" {
		return unknown(ReasonUnrecognized)
	}
	for _, r := range p.rules {
		if !r.Match(t) {
			continue
		}
		in := r.Build(t)
		slog.Debug("command: parsed", "rule", r.Name, "text", t, "kind", in.Kind.String())
		return in
	}
	return unknown(ReasonUnrecognized)
}

// Parse classifies transcript with the built-in rules.
func Parse(transcript string) Intent {
	return defaultParser.Parse(transcript)
}

var defaultParser = NewParser()

func contains(subs ...string) func(string) bool {
	return func(t string) bool {
		for _, s := range subs {
			if strings.Contains(t, s) {
				return true
			}
		}
		return false
	}
}

func prefix(p string) func(string) bool {
	return func(t string) bool { return strings.HasPrefix(t, p) }
}

func unknown(reason string) Intent {
	return Intent{Kind: KindUnknown, Reason: reason}
}

func defaultRules() []Rule {
	return []Rule{
		{
			Name:  "stop-listening",
			Match: contains("stop listening"),
			Build: func(string) Intent { return Intent{Kind: KindStopListening} },
		},
		{
			Name:  "start-listening",
			Match: contains("start listening"),
			Build: func(string) Intent { return Intent{Kind: KindStartListening} },
		},
		{
			Name:  "scroll",
			Match: contains("scroll"),
			Build: buildScroll,
		},
		{
			Name:  "click",
			Match: prefix("click "),
			Build: func(t string) Intent {
				return Intent{Kind: KindClick, Target: strings.TrimSpace(strings.TrimPrefix(t, "click "))}
			},
		},
		{
			Name:  "type",
			Match: prefix("type "),
			Build: buildType,
		},
		{
			Name:  "select",
			Match: prefix("select "),
			Build: buildSelect,
		},
		{
			Name:  "navigate",
			Match: contains("go to", "open", "navigate"),
			Build: buildNavigate,
		},
		{
			Name:  "form",
			Match: contains("form"),
			Build: buildForm,
		},
		{
			Name:  "submit",
			Match: contains("submit"),
			Build: func(string) Intent { return Intent{Kind: KindSubmitForm} },
		},
		{
			Name:  "clear",
			Match: contains("clear"),
			Build: buildClear,
		},
		{
			Name:  "focus",
			Match: contains("focus"),
			Build: buildFocus,
		},
		{
			Name:  "page-action",
			Match: contains("refresh", "back", "forward", "print", "fullscreen"),
			Build: buildPageAction,
		},
		{
			Name:  "field-nav",
			Match: contains("tab", "next field", "previous field"),
			Build: func(t string) Intent {
				if strings.Contains(t, "previous field") {
					return Intent{Kind: KindFieldNav, Direction: Previous}
				}
				return Intent{Kind: KindFieldNav, Direction: Next}
			},
		},
	}
}

func buildScroll(t string) Intent {
	// Direction wins over destination: "scroll down to bottom" is one step.
	switch {
	case strings.Contains(t, "down"):
		return Intent{Kind: KindScrollDown}
	case strings.Contains(t, "up"):
		return Intent{Kind: KindScrollUp}
	case strings.Contains(t, "to top"):
		return Intent{Kind: KindScrollToTop}
	case strings.Contains(t, "to bottom"):
		return Intent{Kind: KindScrollToBottom}
	}
	return unknown(ReasonUnsupportedScroll)
}

func buildType(t string) Intent {
	m := typeRe.FindStringSubmatch(t)
	if m == nil {
		return unknown(ReasonBadFormat)
	}
	text := unquote(m[1])
	field := unquote(m[2])
	if isOTPField(field) {
		text = strings.Join(strings.Fields(text), "")
	}
	return Intent{Kind: KindTypeInto, Text: text, Field: field}
}

func buildSelect(t string) Intent {
	m := selectRe.FindStringSubmatch(t)
	if m == nil {
		return unknown(ReasonBadFormat)
	}
	return Intent{Kind: KindSelectFrom, Option: unquote(m[1]), Dropdown: unquote(m[2])}
}

func buildNavigate(t string) Intent {
	for _, re := range []*regexp.Regexp{linkRe, navigateRe} {
		if m := re.FindStringSubmatch(t); m != nil {
			if dest := unquote(m[1]); dest != "" {
				return Intent{Kind: KindNavigateTo, Destination: dest}
			}
		}
	}
	return unknown(ReasonBadFormat)
}

func buildForm(t string) Intent {
	switch {
	case strings.Contains(t, "submit"):
		return Intent{Kind: KindSubmitForm}
	case strings.Contains(t, "next field"), strings.Contains(t, "tab"):
		return Intent{Kind: KindFieldNav, Direction: Next}
	case strings.Contains(t, "previous field"):
		return Intent{Kind: KindFieldNav, Direction: Previous}
	}
	return unknown(ReasonUnsupportedForm)
}

func buildClear(t string) Intent {
	m := clearRe.FindStringSubmatch(t)
	if m == nil {
		return Intent{Kind: KindClearField}
	}
	return Intent{Kind: KindClearField, Target: unquote(m[1])}
}

func buildFocus(t string) Intent {
	_, after, ok := strings.Cut(t, "focus ")
	if !ok {
		return Intent{Kind: KindFocusField}
	}
	return Intent{Kind: KindFocusField, Target: unquote(after)}
}

func buildPageAction(t string) Intent {
	order := []struct {
		word   string
		action PageAction
	}{
		{"refresh", PageRefresh},
		{"back", PageBack},
		{"forward", PageForward},
		{"print", PagePrint},
		{"fullscreen", PageFullscreen},
	}
	for _, o := range order {
		if strings.Contains(t, o.word) {
			return Intent{Kind: KindPageAction, Action: o.action}
		}
	}
	return unknown(ReasonUnrecognized)
}

func isOTPField(field string) bool {
	f := strings.ToLower(field)
	for _, k := range otpKeywords {
		if strings.Contains(f, k) {
			return true
		}
	}
	return false
}

func unquote(s string) string {
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(s), `"'`))
}
