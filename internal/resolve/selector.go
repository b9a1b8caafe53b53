package resolve

import (
	"regexp"
	"strings"
)

// textPseudoRe matches the non-standard text pseudo-selectors the backend is
// allowed to emit: base:has-text('X') and base:contains('X'), single or
// double quoted.
var textPseudoRe = regexp.MustCompile(`^(.*?):(?:has-text|contains)\(\s*(?:'([^']*)'|"([^"]*)")\s*\)\s*$`)

// SplitTextSelector extracts the text literal from a selector embedding
// :has-text('X') or :contains('X'). It returns the base selector preceding
// the pseudo, the literal, and whether a pseudo was present. A base of ""
// means "any element".
func SplitTextSelector(selector string) (base, text string, ok bool) {
	m := textPseudoRe.FindStringSubmatch(strings.TrimSpace(selector))
	if m == nil {
		return selector, "", false
	}
	text = m[2]
	if text == "" {
		text = m[3]
	}
	base = strings.TrimSpace(m[1])
	if base == "" {
		base = "*"
	}
	return base, text, true
}

// quotedRe captures the first quoted substring of a message, used as a
// text-scan search string when the selector embeds no literal.
var quotedRe = regexp.MustCompile(`['"“”‘’]([^'"“”‘’]{2,})['"“”‘’]`)

// QuotedFragment returns the first quoted substring inside message, or "".
func QuotedFragment(message string) string {
	m := quotedRe.FindStringSubmatch(message)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}
