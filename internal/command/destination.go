package command

import (
	"regexp"
	"strings"
)

// DestinationKind classifies a NavigateTo destination.
type DestinationKind int

const (
	DestLinkText DestinationKind = iota
	DestURL
	DestEmail
)

var tldRe = regexp.MustCompile(`\.(com|org|net|edu|gov|mil|int|co|io|ly|me|tv|info|biz|name|mobi|tel|travel|museum|aero|coop|jobs|post|pro|xxx)$`)

// ClassifyDestination decides how a destination is reached. Addresses with
// an "@" and no scheme are e-mail addresses; anything that looks like a host
// or URL is a URL; the rest is link text.
func ClassifyDestination(dest string) DestinationKind {
	d := strings.ToLower(strings.TrimSpace(dest))
	hasScheme := strings.HasPrefix(d, "http://") || strings.HasPrefix(d, "https://")

	if strings.Contains(d, "@") && !hasScheme && !strings.ContainsAny(d, " /") {
		return DestEmail
	}
	switch {
	case hasScheme, strings.HasPrefix(d, "www."), tldRe.MatchString(d):
		return DestURL
	case strings.Contains(d, ".") && !strings.Contains(d, " ") && len(d) > 3:
		return DestURL
	}
	return DestLinkText
}

// AbsoluteURL prefixes dest with https:// unless it already carries an HTTP
// scheme.
func AbsoluteURL(dest string) string {
	d := strings.TrimSpace(dest)
	lower := strings.ToLower(d)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return d
	}
	return "https://" + d
}
