package extract

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/hearth-home/hearth/onboarding/vocab"
)

var (
	possessiveRe = regexp.MustCompile(`(?i)\b(?:my|our)\b`)
	sentenceRe   = regexp.MustCompile(`[.!?;]+`)
	// Separators between names sharing one role: "Jake and Ben", "Jake, Ben".
	nameSeparators = map[string]bool{"and": true, "or": true, "&": true, ",": true}
)

// Members extracts family-member candidates from one free-text message.
// It scans clauses introduced by a possessive marker ("my", "our"), derives
// a role phrase and one or more names per clause, and dedupes across the
// whole message by lowercased name.
func Members(text string) []Member {
	var out []Member
	seen := make(map[string]bool)
	for _, clause := range possessiveClauses(text) {
		for _, m := range parseClause(clause) {
			key := strings.ToLower(m.Name)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, m)
		}
	}
	return out
}

// possessiveClauses returns the text after each possessive marker, cut at
// the next marker, sentence punctuation, or end of input.
func possessiveClauses(text string) []string {
	var clauses []string
	for _, sentence := range sentenceRe.Split(text, -1) {
		locs := possessiveRe.FindAllStringIndex(sentence, -1)
		for i, loc := range locs {
			end := len(sentence)
			if i+1 < len(locs) {
				end = locs[i+1][0]
			}
			if clause := strings.TrimSpace(sentence[loc[1]:end]); clause != "" {
				clauses = append(clauses, clause)
			}
		}
	}
	return clauses
}

func parseClause(clause string) []Member {
	tokens := tokenizeClause(clause)

	// Leading counts carry no slot information: "two sons Jake and Ben".
	for len(tokens) > 0 {
		t := strings.ToLower(tokens[0])
		if _, ok := vocab.NumberWordValue(t); ok {
			tokens = tokens[1:]
			continue
		}
		if _, err := strconv.Atoi(t); err == nil {
			tokens = tokens[1:]
			continue
		}
		break
	}

	// A role with no name (or vice versa) is not a member candidate.
	if len(tokens) < 2 {
		return nil
	}

	rolePhrase, rest := consumeRolePhrase(tokens)
	names := splitNames(rest)
	if len(names) == 0 {
		return nil
	}

	role := resolveRole(rolePhrase)
	members := make([]Member, 0, len(names))
	for _, raw := range names {
		name := cleanName(raw)
		if name == "" {
			continue
		}
		members = append(members, Member{Name: name, Role: role})
	}
	return members
}

func tokenizeClause(clause string) []string {
	padded := strings.NewReplacer(",", " , ", "&", " & ", "=", " = ").Replace(clause)
	fields := strings.Fields(padded)
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if f == "," || f == "&" || f == "=" {
			tokens = append(tokens, f)
			continue
		}
		if t := trimToken(f); t != "" {
			tokens = append(tokens, t)
		}
	}
	return tokens
}

// consumeRolePhrase builds the role phrase left to right: the first token is
// always role; later tokens are absorbed while they are filler descriptors,
// base role keywords, or hyphenated compounds. A name leader or a connector
// ends the phrase.
func consumeRolePhrase(tokens []string) (role []string, rest []string) {
	role = []string{strings.ToLower(tokens[0])}
	i := 1
	for i < len(tokens) {
		t := strings.ToLower(tokens[i])
		switch {
		case vocab.NameLeaders[t]:
			i++
			return role, tokens[i:]
		case vocab.FillerAdjectives[t] || vocab.BaseRoleKeywords[t] || strings.Contains(t, "-"):
			role = append(role, t)
			i++
		default:
			// Connector or first name token: the role phrase is complete.
			return role, tokens[i:]
		}
	}
	return role, nil
}

// splitNames strips leading connector noise and splits the remaining tokens
// into names on "and"/","/"&", allowing several names to share one role.
func splitNames(tokens []string) []string {
	for len(tokens) > 0 {
		t := strings.ToLower(tokens[0])
		if vocab.Connectors[t] || vocab.Stopwords[t] || vocab.NameLeaders[t] || t == "," {
			tokens = tokens[1:]
			continue
		}
		break
	}

	var names []string
	var current []string
	flush := func() {
		if len(current) > 0 {
			names = append(names, strings.Join(current, " "))
			current = nil
		}
	}
	for _, tok := range tokens {
		t := strings.ToLower(tok)
		if nameSeparators[t] {
			flush()
			continue
		}
		// A stopword, leader, connector, or role keyword ends the name
		// region, as does a lowercase word following a capitalized name:
		// "Carol lives with us" keeps only Carol.
		if vocab.Stopwords[t] || vocab.NameLeaders[t] || vocab.Connectors[t] || vocab.BaseRoleKeywords[t] {
			break
		}
		if len(current) > 0 && startsUpper(current[0]) && !startsUpper(tok) {
			break
		}
		current = append(current, tok)
	}
	flush()
	return names
}

func startsUpper(s string) bool {
	for _, r := range s {
		return unicode.IsUpper(r)
	}
	return false
}

// resolveRole maps the collected role phrase through the synonym table. An
// unknown phrase is retried with filler adjectives removed, then title-cased
// as-is, defaulting to "Family Member" when nothing survives.
func resolveRole(phrase []string) string {
	joined := strings.Join(phrase, " ")
	if role, ok := vocab.RoleSynonym(joined); ok {
		return role
	}

	kept := make([]string, 0, len(phrase))
	for _, w := range phrase {
		if vocab.FillerAdjectives[w] {
			continue
		}
		kept = append(kept, w)
	}
	stripped := strings.Join(kept, " ")
	if role, ok := vocab.RoleSynonym(stripped); ok {
		return role
	}
	if titled := TitleCase(stripped); titled != "" {
		return titled
	}
	return DefaultRole
}

// cleanName strips a trailing possessive and title-cases, discarding tokens
// that are really role words a failed parse left behind.
func cleanName(raw string) string {
	name := strings.TrimSpace(raw)
	lower := strings.ToLower(name)
	for _, suffix := range []string{"'s", "’s"} {
		if strings.HasSuffix(lower, suffix) {
			name = name[:len(name)-len(suffix)]
			lower = strings.ToLower(name)
			break
		}
	}
	if len(lower) < 2 || vocab.BaseRoleKeywords[lower] || vocab.Stopwords[lower] {
		return ""
	}
	if _, ok := vocab.NumberWordValue(lower); ok {
		return ""
	}
	if _, err := strconv.Atoi(lower); err == nil {
		return ""
	}
	return TitleCase(name)
}
