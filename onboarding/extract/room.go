package extract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/hearth-home/hearth/onboarding/vocab"
)

var (
	fragmentSplitRe = regexp.MustCompile(`(?i)\s*[,;]\s*|[ \t]*\r?\n\s*|\s+and\s+|\s+&\s+`)
	bulletRe        = regexp.MustCompile(`^\s*(?:[-*\x{2022}]|\d+[.)])\s*`)
	leadingWordRe   = regexp.MustCompile(`(?i)^(?:the|a|an|my|our)\s+`)

	// Matched against vocab-normalized text, so possessive forms ("kids'
	// rooms", "kid's room") collapse into the same shape.
	kidsRoomRe = regexp.MustCompile(`\b(?:(\d+|[a-z]+)\s+)?(?:kids?|childrens?)\s*(?:bed)?rooms?\b`)
	ownRoomRe  = regexp.MustCompile(`\beach\s+(?:of\s+the\s+)?(?:kids?|child(?:ren)?)\s+(?:has|have|gets?)\s+(?:their|his|her|its|a|an)?\s*(?:own\s+)?rooms?\b`)
)

// Leading filler patterns, applied in order to each fragment. Discourse
// markers first, then the common "we have" style lead-ins.
var leadingFillerRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(?:(?:well|so|um|uh|hmm|oh|ok|okay|sure|yeah|yes|right|then|also)(?:[,!. ]+|$))+`),
	regexp.MustCompile(`(?i)^(?:my|our|the)\s+(?:house|home|place|apartment)\s+(?:also\s+)?(?:has|have|includes|got)\s+`),
	regexp.MustCompile(`(?i)^we(?:'?ve)?\s+(?:also\s+)?(?:got|have|keep|added|use)\s+`),
	regexp.MustCompile(`(?i)^i\s+(?:also\s+)?(?:have|think\s+we\s+have|guess)\s+`),
	regexp.MustCompile(`(?i)^there\s+(?:is|are)\s+(?:also\s+)?`),
	regexp.MustCompile(`(?i)^it\s+(?:also\s+)?has\s+`),
	regexp.MustCompile(`(?i)^don'?t\s+forget\s+(?:about\s+)?`),
	regexp.MustCompile(`(?i)^(?:plus|and|also)\s+`),
}

type aggregateMatcher struct {
	re    *regexp.Regexp
	rooms []string
}

var aggregateMatchers []aggregateMatcher

func init() {
	for _, agg := range vocab.RoomAggregates {
		pattern := `(?i)\b` + strings.ReplaceAll(regexp.QuoteMeta(agg.Phrase), `\ `, `\s+`) + `\b`
		aggregateMatchers = append(aggregateMatchers, aggregateMatcher{
			re:    regexp.MustCompile(pattern),
			rooms: agg.Rooms,
		})
	}
}

// Rooms extracts room candidates from one free-text message. The current
// member list feeds per-child room generation and existing rooms feed
// case-insensitive dedup, so re-running extraction over its own output never
// yields duplicates.
func Rooms(text string, members []Member, existing []string) []string {
	// Only a pure done phrase short-circuits the whole message; fragments
	// that merely carry a done indicator are dropped individually below, so
	// "just the garage, that's it" still yields the garage.
	if vocab.IsRoomsDoneExact(text) {
		return nil
	}

	cleaned := stripWrapping(text)
	if idx := strings.LastIndex(cleaned, ":"); idx >= 0 {
		cleaned = strings.TrimSpace(cleaned[idx+1:])
	}
	cleaned = expandAggregates(cleaned)
	if cleaned == "" {
		return nil
	}

	have := lowerSet(existing)
	var out []string
	add := func(room string) {
		if room == "" {
			return
		}
		key := strings.ToLower(room)
		if have[key] {
			return
		}
		have[key] = true
		out = append(out, room)
	}

	for _, frag := range fragmentSplitRe.Split(cleaned, -1) {
		for _, room := range normalizeFragment(frag, members, have) {
			add(room)
		}
	}
	if len(out) == 0 {
		// Single-room replies with connective filler can defeat splitting;
		// retry on the whole cleaned message.
		for _, room := range normalizeFragment(cleaned, members, have) {
			add(room)
		}
	}
	return out
}

func expandAggregates(text string) string {
	for _, m := range aggregateMatchers {
		text = m.re.ReplaceAllString(text, strings.Join(m.rooms, ", "))
	}
	return text
}

func stripWrapping(text string) string {
	s := strings.Trim(strings.TrimSpace(text), "\"'“”‘’")
	s = strings.TrimRight(s, ".!?,;")
	return strings.TrimSpace(s)
}

// normalizeFragment turns one fragment into zero or more room names.
func normalizeFragment(frag string, members []Member, have map[string]bool) []string {
	s := bulletRe.ReplaceAllString(strings.TrimSpace(frag), "")
	s = strings.TrimRight(s, ":")
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if vocab.IsRoomsDone(s) {
		return nil
	}

	if m := kidsRoomRe.FindStringSubmatch(vocab.Normalize(s)); m != nil {
		return childRooms(parseCount(m[1]), members, have)
	}

	for _, re := range leadingFillerRes {
		s = re.ReplaceAllString(s, "")
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	if ownRoomRe.MatchString(vocab.Normalize(s)) {
		return childRooms(0, members, have)
	}
	for _, m := range aggregateMatchers {
		if m.re.MatchString(s) {
			return append([]string(nil), m.rooms...)
		}
	}

	s = leadingWordRe.ReplaceAllString(s, "")
	s = normalizeBedBath(s)
	titled := TitleCase(s)
	if titled == "" {
		return nil
	}
	if canonical, ok := vocab.CanonicalRoom(titled); ok {
		return []string{canonical}
	}
	if isStructuralOnly(titled) {
		return nil
	}
	if _, err := strconv.Atoi(titled); err == nil {
		return nil
	}
	return []string{titled}
}

func parseCount(w string) int {
	if w == "" {
		return 0
	}
	if n, err := strconv.Atoi(w); err == nil {
		return n
	}
	if n, ok := vocab.NumberWordValue(w); ok {
		return n
	}
	return 0
}

// childRooms generates one room per child member, capped by an explicit
// count. Without any known children a single literal "Kids Rooms" stands in.
func childRooms(count int, members []Member, have map[string]bool) []string {
	var kids []string
	for _, m := range members {
		if vocab.ChildRoles[m.Role] {
			kids = append(kids, m.Name)
		}
	}
	if len(kids) == 0 {
		return []string{"Kids Rooms"}
	}

	n := len(kids)
	if count > 0 && count < n {
		n = count
	}
	var rooms []string
	for _, name := range kids[:n] {
		room := name + "'s Room"
		if have[strings.ToLower(room)] {
			continue
		}
		rooms = append(rooms, room)
	}
	return rooms
}

// normalizeBedBath expands the bare trailing shorthand: "guest bed" becomes
// "guest bedroom", "main bath" becomes "main bathroom".
func normalizeBedBath(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return s
	}
	switch strings.ToLower(fields[len(fields)-1]) {
	case "bed":
		fields[len(fields)-1] = "bedroom"
	case "bath":
		fields[len(fields)-1] = "bathroom"
	}
	return strings.Join(fields, " ")
}

func isStructuralOnly(s string) bool {
	fields := strings.Fields(strings.ToLower(s))
	if len(fields) == 0 {
		return true
	}
	for _, f := range fields {
		if !vocab.StructuralRoomWords[f] {
			return false
		}
	}
	return true
}
