// Package extract turns free-text onboarding messages into structured member
// and room candidates using deterministic pattern rules over the fixed
// vocabulary. Extraction is a pure function of its inputs: the same message
// always yields the same candidates, which is what makes the fallback path
// testable without a live assistant.
package extract

import (
	"strings"
	"unicode"
)

// Member is one extracted family-member candidate.
type Member struct {
	Name string
	Role string
}

// DefaultRole is assigned when a clause carries a name but no usable role.
const DefaultRole = "Family Member"

// TitleCase normalizes casing word by word, preserving apostrophes and
// capitalizing after hyphens ("anne-marie" becomes "Anne-Marie").
func TitleCase(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	upper := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r == ' ' || r == '-':
			upper = true
			b.WriteRune(r)
		case upper && unicode.IsLetter(r):
			b.WriteRune(unicode.ToUpper(r))
			upper = false
		default:
			b.WriteRune(r)
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				upper = false
			}
		}
	}
	return b.String()
}

// CleanFamilyName applies the conservative family-name heuristic: strip
// wrapping quotes, collapse whitespace, title-case; reject anything that
// looks like a question, spans lines, or runs past six words.
func CleanFamilyName(raw string) (string, bool) {
	if strings.ContainsAny(raw, "?\n") {
		return "", false
	}
	cleaned := strings.Trim(strings.TrimSpace(raw), "\"'“”‘’")
	cleaned = strings.TrimRight(cleaned, ".!,;:")
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	if cleaned == "" || len(strings.Fields(cleaned)) > 6 {
		return "", false
	}
	return TitleCase(cleaned), true
}

// trimToken strips sentence punctuation from a token's edges while keeping
// apostrophes and hyphens, which carry meaning in names and roles.
func trimToken(t string) string {
	return strings.Trim(t, ",.!?;:\"()[]{}“”")
}

func lowerSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[strings.ToLower(v)] = true
	}
	return set
}
