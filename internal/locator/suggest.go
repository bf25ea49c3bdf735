package locator

import (
	"context"
	"strings"

	"github.com/antzucaro/matchr"
)

// Suggestion thresholds. A phrase that sounds like a choice (shared Double
// Metaphone code) needs less string similarity than one that does not.
const (
	soundsLikeThreshold = 0.70
	looksLikeThreshold  = 0.85
)

// Suggest returns the visible text of the role-r element that the spoken
// identifier most plausibly meant, for "did you mean" hints after a miss.
// It never selects an element for action.
func (l *Locator) Suggest(ctx context.Context, r Role, spoken string) (string, bool, error) {
	cands, err := l.Candidates(ctx, r)
	if err != nil {
		return "", false, err
	}
	choices := make([]string, 0, len(cands))
	for _, c := range cands {
		var label string
		if a, ok := c.(ActionableCandidate); ok {
			label = a.VisibleText()
		} else if srcs := c.Sources(); len(srcs) > 0 {
			label = srcs[0]
		}
		if label != "" && len(label) <= 60 {
			choices = append(choices, label)
		}
	}
	s, ok := ClosestPhrase(spoken, choices)
	return s, ok, nil
}

// SuggestLink is [Locator.Suggest] over link texts.
func (l *Locator) SuggestLink(ctx context.Context, spoken string) (string, bool, error) {
	els, err := l.doc.QueryAll(ctx, linkSelector)
	if err != nil {
		return "", false, err
	}
	choices := make([]string, 0, len(els))
	for _, el := range els {
		if t := VisibleText(el); t != "" && len(t) <= 60 {
			choices = append(choices, t)
		}
	}
	s, ok := ClosestPhrase(spoken, choices)
	return s, ok, nil
}

// ClosestPhrase picks the choice closest to spoken. Choices that share a
// phonetic code with spoken always outrank those that do not.
func ClosestPhrase(spoken string, choices []string) (string, bool) {
	spoken = strings.ToLower(strings.TrimSpace(spoken))
	if spoken == "" {
		return "", false
	}
	words := strings.Fields(spoken)
	spokenCodes := metaphones(words)

	var (
		best      string
		bestScore float64
		bestSound bool
	)
	for _, choice := range choices {
		lower := strings.ToLower(choice)
		cw := strings.Fields(lower)
		if len(cw) == 0 {
			continue
		}
		sound := shareCode(spokenCodes, metaphones(cw))
		score := similarity(words, cw, spoken, lower)

		switch {
		case sound && score >= soundsLikeThreshold:
			if !bestSound || score > bestScore {
				best, bestScore, bestSound = choice, score, true
			}
		case !sound && !bestSound && score >= looksLikeThreshold && score > bestScore:
			best, bestScore = choice, score
		}
	}
	return best, best != ""
}

func metaphones(words []string) map[string]bool {
	codes := make(map[string]bool, 2*len(words))
	for _, w := range words {
		p, s := matchr.DoubleMetaphone(w)
		if p != "" {
			codes[p] = true
		}
		if s != "" {
			codes[s] = true
		}
	}
	return codes
}

func shareCode(a, b map[string]bool) bool {
	for c := range a {
		if b[c] {
			return true
		}
	}
	return false
}

// similarity is the best Jaro-Winkler score of the whole phrases, the
// phrases with spaces removed, and any word pair.
func similarity(aw, bw []string, a, b string) float64 {
	score := matchr.JaroWinkler(a, b, false)
	if s := matchr.JaroWinkler(strings.Join(aw, ""), strings.Join(bw, ""), false); s > score {
		score = s
	}
	for _, x := range aw {
		for _, y := range bw {
			if s := matchr.JaroWinkler(x, y, false); s > score {
				score = s
			}
		}
	}
	return score
}
