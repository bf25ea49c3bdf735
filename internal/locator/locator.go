// Package locator finds the page element a spoken identifier refers to.
//
// Lookups are case-insensitive substring matches over a fixed, role-specific
// set of text sources (see [Candidate]). The first candidate in document
// order wins, except for links, which are scored (see [Locator.LocateLink]).
// Failing to find anything is a normal outcome reported through the boolean
// result; errors are reserved for page access failures.
package locator

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/MrWong99/voicenav/pkg/page"
)

// Link scores. A link must score above minLinkScore to be chosen.
const (
	ScoreExactText   = 100
	ScoreTextContain = 80
	ScoreHrefContain = 60
	ScoreTitle       = 40
	ScoreFuzzyWord   = 30

	minLinkScore = 25
)

// Match is the result of a successful lookup.
type Match struct {
	Candidate Candidate
	Score     int
}

// Element is shorthand for m.Candidate.Element().
func (m Match) Element() page.Element { return m.Candidate.Element() }

// Locator searches one document.
type Locator struct {
	doc page.Document
}

// New returns a Locator over doc.
func New(doc page.Document) *Locator {
	return &Locator{doc: doc}
}

// Candidates enumerates every element of role r in document order.
func (l *Locator) Candidates(ctx context.Context, r Role) ([]Candidate, error) {
	els, err := l.doc.QueryAll(ctx, r.Selector())
	if err != nil {
		return nil, fmt.Errorf("locator: enumerate %s: %w", r, err)
	}
	out := make([]Candidate, 0, len(els))
	for _, el := range els {
		out = append(out, Wrap(r, el))
	}
	return out, nil
}

// Locate returns the first candidate of role r with a source containing
// identifier. An empty identifier never matches.
func (l *Locator) Locate(ctx context.Context, r Role, identifier string) (Match, bool, error) {
	needle := strings.ToLower(strings.TrimSpace(identifier))
	if needle == "" {
		return Match{}, false, nil
	}
	cands, err := l.Candidates(ctx, r)
	if err != nil {
		return Match{}, false, err
	}
	for _, c := range cands {
		for _, src := range c.Sources() {
			if strings.Contains(strings.ToLower(src), needle) {
				return Match{Candidate: c, Score: 1}, true, nil
			}
		}
	}
	return Match{}, false, nil
}

// LocateLink scores every link against text and returns the best one. Ties
// keep the earlier link; a best score of 25 or less is a miss.
func (l *Locator) LocateLink(ctx context.Context, text string) (Match, bool, error) {
	search := strings.ToLower(strings.TrimSpace(text))
	if search == "" {
		return Match{}, false, nil
	}
	els, err := l.doc.QueryAll(ctx, linkSelector)
	if err != nil {
		return Match{}, false, fmt.Errorf("locator: enumerate links: %w", err)
	}

	var best Match
	for _, el := range els {
		if s := ScoreLink(el, search); s > best.Score {
			best = Match{Candidate: Wrap(Actionable, el), Score: s}
		}
	}
	if best.Score <= minLinkScore {
		return Match{}, false, nil
	}
	return best, true, nil
}

// ScoreLink rates how well link el matches the lower-case search text.
func ScoreLink(el page.Element, search string) int {
	content := strings.ToLower(VisibleText(el))
	href := strings.ToLower(attrValue(el, "href"))
	title := strings.ToLower(attrValue(el, "title"))

	switch {
	case content == search:
		return ScoreExactText
	case strings.Contains(content, search):
		return ScoreTextContain
	case strings.Contains(href, search):
		return ScoreHrefContain
	case title != "" && strings.Contains(title, search):
		return ScoreTitle
	case wordOverlap(content, search):
		return ScoreFuzzyWord
	}
	return 0
}

// wordOverlap reports whether some search word of three or more characters
// and some text word contain one another.
func wordOverlap(text, search string) bool {
	words := strings.Fields(text)
	for _, sw := range strings.Fields(search) {
		if len(sw) <= 2 {
			continue
		}
		for _, w := range words {
			if strings.Contains(w, sw) || strings.Contains(sw, w) {
				return true
			}
		}
	}
	return false
}

// FindOption returns the first option of c whose text or value contains
// text, case-insensitively.
func FindOption(c ChooserCandidate, text string) (page.Option, bool) {
	needle := strings.ToLower(strings.TrimSpace(text))
	if needle == "" {
		return page.Option{}, false
	}
	for _, o := range c.Options() {
		if strings.Contains(strings.ToLower(o.Text), needle) ||
			strings.Contains(strings.ToLower(o.Value), needle) {
			return o, true
		}
	}
	return page.Option{}, false
}

// focusSelector enumerates keyboard-focusable elements.
const focusSelector = `input, textarea, select, button, [tabindex]`

// Focusables returns the elements reachable by field navigation in document
// order: inputs, textareas, selects, buttons and elements with a positive
// tabindex. Hidden and disabled controls are skipped.
func (l *Locator) Focusables(ctx context.Context) ([]page.Element, error) {
	els, err := l.doc.QueryAll(ctx, focusSelector)
	if err != nil {
		return nil, fmt.Errorf("locator: enumerate focusables: %w", err)
	}
	out := make([]page.Element, 0, len(els))
	for _, el := range els {
		if focusable(el) {
			out = append(out, el)
		}
	}
	return out, nil
}

func focusable(el page.Element) bool {
	if _, disabled := el.Attr("disabled"); disabled {
		return false
	}
	switch el.Tag() {
	case "input":
		t, _ := el.Attr("type")
		return !strings.EqualFold(t, "hidden")
	case "textarea", "select", "button":
		return true
	}
	ti, ok := el.Attr("tabindex")
	if !ok {
		return false
	}
	n, err := strconv.Atoi(strings.TrimSpace(ti))
	return err == nil && n > 0
}
