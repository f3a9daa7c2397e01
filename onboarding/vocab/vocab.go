// Package vocab holds the fixed vocabulary the onboarding dialogue is built
// on: role synonyms, descriptor and number words, connector sets, done/reset
// phrase lists, and the canonical room catalog with its aliases. All tables
// are immutable after package initialization; matching helpers normalize
// input the same way so results are deterministic.
package vocab

import (
	"sort"
	"strings"
)

// RoleSynonyms maps spoken role words to canonical member roles.
var RoleSynonyms = map[string]string{
	"mom": "Mom", "mother": "Mom", "mommy": "Mom", "mum": "Mom", "mama": "Mom",
	"dad": "Dad", "father": "Dad", "daddy": "Dad", "papa": "Dad",
	"wife": "Wife", "husband": "Husband", "spouse": "Spouse",
	"partner": "Partner", "fiance": "Partner", "fiancee": "Partner",
	"son": "Son", "sons": "Son", "boy": "Son", "boys": "Son",
	"daughter": "Daughter", "daughters": "Daughter", "girl": "Daughter", "girls": "Daughter",
	"kid": "Child", "kids": "Child", "child": "Child", "children": "Child",
	"baby": "Baby", "newborn": "Baby", "toddler": "Toddler",
	"brother": "Brother", "sister": "Sister",
	"grandma": "Grandma", "grandmother": "Grandma", "granny": "Grandma", "nana": "Grandma",
	"grandpa": "Grandpa", "grandfather": "Grandpa", "gramps": "Grandpa",
	"aunt": "Aunt", "auntie": "Aunt", "uncle": "Uncle", "cousin": "Cousin",
	"niece": "Niece", "nephew": "Nephew",
	"mother-in-law": "Mother-in-law", "father-in-law": "Father-in-law",
	"roommate": "Roommate", "housemate": "Roommate", "flatmate": "Roommate",
	"dog": "Dog", "puppy": "Dog", "cat": "Cat", "kitten": "Cat", "pet": "Pet",
}

// ChildRoles are the canonical roles that count as children when generating
// per-child rooms.
var ChildRoles = map[string]bool{
	"Son": true, "Daughter": true, "Child": true, "Baby": true, "Toddler": true,
}

// FillerAdjectives are descriptors absorbed into a role phrase and stripped
// again when the phrase has no synonym entry.
var FillerAdjectives = map[string]bool{
	"little": true, "big": true, "older": true, "oldest": true, "younger": true,
	"youngest": true, "elder": true, "eldest": true, "twin": true, "middle": true,
	"first": true, "second": true, "third": true, "other": true, "new": true,
	"sweet": true, "dear": true, "darling": true, "lovely": true, "beloved": true,
	"adorable": true, "beautiful": true, "handsome": true, "wonderful": true,
}

// BaseRoleKeywords extend a role phrase ("baby boy") and guard against a
// parse that mistook a role word for a name. Plurals included so "kids"
// cannot survive as a member name.
var BaseRoleKeywords = map[string]bool{
	"son": true, "daughter": true, "wife": true, "husband": true, "spouse": true,
	"partner": true, "mom": true, "dad": true, "mother": true, "father": true,
	"kid": true, "child": true, "boy": true, "girl": true, "baby": true,
	"toddler": true, "brother": true, "sister": true, "grandma": true,
	"grandpa": true, "aunt": true, "uncle": true, "cousin": true,
	"roommate": true, "dog": true, "cat": true, "pet": true,
	"sons": true, "daughters": true, "kids": true, "children": true,
	"boys": true, "girls": true, "babies": true, "pets": true,
	"dogs": true, "cats": true,
}

// NumberWords maps spelled-out counts to values. Used to drop leading counts
// in member clauses and to honor explicit counts in room requests.
var NumberWords = map[string]int{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5, "six": 6,
	"seven": 7, "eight": 8, "nine": 9, "ten": 10, "eleven": 11, "twelve": 12,
	"couple": 2, "few": 3,
}

// Connectors join list items inside a clause.
var Connectors = map[string]bool{
	"and": true, "or": true, "&": true, "also": true, "too": true,
	"plus": true, "with": true,
}

// Stopwords are skipped when scanning for name tokens. Pronouns are included
// so "my wife and I" never yields a member named I.
var Stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "of": true, "is": true, "are": true,
	"my": true, "our": true, "their": true, "his": true, "her": true,
	"who": true, "that": true,
	"i": true, "me": true, "we": true, "us": true, "he": true, "she": true,
	"they": true, "them": true, "you": true, "it": true,
	"everyone": true, "everybody": true,
}

// NameLeaders introduce the name portion of a member clause.
var NameLeaders = map[string]bool{
	"named": true, "called": true, "is": true, "=": true, "as": true,
}

// StructuralRoomWords are residues that never form a room name on their own.
var StructuralRoomWords = map[string]bool{
	"room": true, "rooms": true, "kids": true, "kid": true, "house": true,
	"home": true, "place": true, "space": true, "area": true, "floor": true,
	"upstairs": true, "downstairs": true,
}

// memberDonePhrases end the member step when matched exactly.
var memberDonePhrases = []string{
	"done", "no", "nope", "nah", "that's all", "that is all", "that's it",
	"that's everyone", "that is everyone", "no one else", "nobody else",
	"no more", "all done", "we're done", "that's all of us",
	"that's the whole family", "i think that's everyone",
}

// memberDoneIndicators end the member step when contained as whole words.
var memberDoneIndicators = []string{
	"that's all", "that is all", "that's it", "that's everyone",
	"that is everyone", "no one else", "nobody else", "we're done",
	"the whole family", "all of us",
}

// roomDonePhrases end the room step when matched exactly.
var roomDonePhrases = []string{
	"done", "no", "nope", "nah", "that's all", "that is all", "that's it",
	"that's everything", "nothing else", "no more", "no more rooms",
	"all done", "we're done", "that's every room", "i think that's it",
}

// roomDoneIndicators end the room step when contained as whole words.
var roomDoneIndicators = []string{
	"that's all", "that is all", "that's it", "that's everything",
	"nothing else", "no more rooms", "all the rooms", "every room",
}

// Reset confirmation vocabulary.
var resetYesPhrases = []string{
	"yes", "y", "yeah", "yep", "yup", "sure", "ok", "okay", "confirm",
	"proceed", "go ahead", "do it", "please do", "affirmative",
	"sounds good", "let's do it",
}

var resetNoPhrases = []string{
	"no", "n", "nope", "nah", "cancel", "stop", "abort", "nevermind",
	"never mind", "forget it", "don't", "keep it", "leave it",
}

// resetCommandPhrases trigger the reset flow directly, without a pending
// confirmation. Multiword entries match as contained whole words, single
// words must match the whole message.
var resetCommandPhrases = []string{
	"start over", "start again", "begin again", "start from scratch",
	"start fresh", "reset onboarding", "restart onboarding",
	"wipe everything", "clear everything", "reset", "restart",
}

// Aggregate is a fixed multi-room phrase expanded before fragment splitting.
type Aggregate struct {
	Phrase string
	Rooms  []string
}

// RoomAggregates, longest phrase first.
var RoomAggregates = []Aggregate{
	{Phrase: "master bedroom and bathroom", Rooms: []string{"Master Bedroom", "Master Bathroom"}},
	{Phrase: "master bed and bath", Rooms: []string{"Master Bedroom", "Master Bathroom"}},
	{Phrase: "guest bed and bath", Rooms: []string{"Guest Bedroom", "Guest Bathroom"}},
	{Phrase: "bed and bath", Rooms: []string{"Bedroom", "Bathroom"}},
}

// CanonicalRooms is the known room catalog. Novel user-defined rooms are
// allowed; these are the names extraction canonicalizes toward.
var CanonicalRooms = []string{
	"Living Room", "Family Room", "Kitchen", "Dining Room",
	"Master Bedroom", "Master Bathroom", "Guest Bedroom", "Guest Bathroom",
	"Bedroom", "Bathroom", "Powder Room", "Office", "Den", "Library",
	"Playroom", "Nursery", "Laundry Room", "Mudroom", "Pantry",
	"Garage", "Basement", "Attic", "Workout Room", "Game Room",
	"Media Room", "Sunroom", "Hallway", "Closet", "Workshop",
	"Porch", "Patio", "Balcony", "Backyard", "Garden",
}

// RoomAliases maps spoken variants to catalog names.
var RoomAliases = map[string]string{
	"primary bedroom": "Master Bedroom", "primary bathroom": "Master Bathroom",
	"primary suite": "Master Bedroom", "master suite": "Master Bedroom",
	"master bed": "Master Bedroom", "master bath": "Master Bathroom",
	"main bedroom": "Master Bedroom", "main bathroom": "Master Bathroom",
	"ensuite": "Master Bathroom", "en suite": "Master Bathroom",
	"guest bed": "Guest Bedroom", "guest bath": "Guest Bathroom",
	"spare bedroom": "Guest Bedroom", "spare room": "Guest Bedroom",
	"gym": "Workout Room", "home gym": "Workout Room",
	"exercise room": "Workout Room", "fitness room": "Workout Room",
	"tv room": "Media Room", "theater": "Media Room", "theater room": "Media Room",
	"home theater": "Media Room", "movie room": "Media Room",
	"home office": "Office", "study": "Office",
	"washroom": "Bathroom", "restroom": "Bathroom", "toilet": "Bathroom",
	"half bath": "Powder Room", "half bathroom": "Powder Room",
	"lounge": "Living Room", "sitting room": "Living Room",
	"front room": "Living Room", "living area": "Living Room",
	"great room": "Family Room", "rec room": "Game Room",
	"recreation room": "Game Room", "games room": "Game Room",
	"utility room": "Laundry Room", "laundry": "Laundry Room",
	"play room": "Playroom", "baby room": "Nursery", "babys room": "Nursery",
	"foyer": "Hallway", "entryway": "Hallway",
	"cellar": "Basement", "carport": "Garage",
	"yard": "Backyard", "back yard": "Backyard",
	"dining area": "Dining Room", "kitchenette": "Kitchen",
}

// roomMatch is one entry of the greedy longest-first matching list.
type roomMatch struct {
	needle    string // normalized, lowercased
	canonical string
}

var sortedRoomMatches []roomMatch

var (
	memberDoneSet map[string]bool
	roomDoneSet   map[string]bool
	resetYesSet   map[string]bool
	resetNoSet    map[string]bool
)

func init() {
	// Build the combined canonical+alias matching list, longest needle first
	// so "guest bedroom" is never shadowed by "bedroom".
	for _, name := range CanonicalRooms {
		sortedRoomMatches = append(sortedRoomMatches, roomMatch{needle: Normalize(name), canonical: name})
	}
	for alias, canonical := range RoomAliases {
		sortedRoomMatches = append(sortedRoomMatches, roomMatch{needle: Normalize(alias), canonical: canonical})
	}
	sort.SliceStable(sortedRoomMatches, func(i, j int) bool {
		return len(sortedRoomMatches[i].needle) > len(sortedRoomMatches[j].needle)
	})

	memberDoneSet = normalizeSet(memberDonePhrases)
	roomDoneSet = normalizeSet(roomDonePhrases)
	resetYesSet = normalizeSet(resetYesPhrases)
	resetNoSet = normalizeSet(resetNoPhrases)
}

func normalizeSet(phrases []string) map[string]bool {
	set := make(map[string]bool, len(phrases))
	for _, p := range phrases {
		set[Normalize(p)] = true
	}
	return set
}

// Normalize lowercases a message, folds smart quotes, turns punctuation into
// spaces (dropping apostrophes entirely) and collapses whitespace, so phrase
// comparison is insensitive to casing and punctuation.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch {
		case r == '’' || r == '‘' || r == '\'':
			// drop apostrophes: "that's" and "thats" compare equal
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r > 127:
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// containsPhrase reports whether phrase occurs in msg on word boundaries.
// Both arguments must already be normalized.
func containsPhrase(msg, phrase string) bool {
	return strings.Contains(" "+msg+" ", " "+phrase+" ")
}

// IsMembersDone reports whether the message closes the member step.
func IsMembersDone(msg string) bool {
	n := Normalize(msg)
	if n == "" {
		return false
	}
	if memberDoneSet[n] {
		return true
	}
	for _, ind := range memberDoneIndicators {
		if containsPhrase(n, Normalize(ind)) {
			return true
		}
	}
	return false
}

// IsRoomsDone reports whether the message closes the room step.
func IsRoomsDone(msg string) bool {
	n := Normalize(msg)
	if n == "" {
		return false
	}
	if roomDoneSet[n] {
		return true
	}
	for _, ind := range roomDoneIndicators {
		if containsPhrase(n, Normalize(ind)) {
			return true
		}
	}
	return false
}

// IsRoomsDoneExact reports whether the whole message is a done phrase on
// its own. Messages that merely contain a done indicator alongside other
// content ("just the garage, that's it") do not match.
func IsRoomsDoneExact(msg string) bool {
	return roomDoneSet[Normalize(msg)]
}

// ResetAnswer classifies a reply to the reset confirmation question.
type ResetAnswer int

const (
	ResetUnknown ResetAnswer = iota
	ResetYes
	ResetNo
)

// MatchResetAnswer classifies a confirmation reply. Anything outside the
// yes/no vocabulary is ResetUnknown and must not reset the conversation.
func MatchResetAnswer(msg string) ResetAnswer {
	n := Normalize(msg)
	switch {
	case resetYesSet[n]:
		return ResetYes
	case resetNoSet[n]:
		return ResetNo
	default:
		return ResetUnknown
	}
}

// IsResetCommand reports whether the message is an explicit reset request.
func IsResetCommand(msg string) bool {
	n := Normalize(msg)
	if n == "" {
		return false
	}
	for _, cmd := range resetCommandPhrases {
		c := Normalize(cmd)
		if n == c {
			return true
		}
		if strings.Contains(c, " ") && containsPhrase(n, c) {
			return true
		}
	}
	return false
}

// CanonicalRoom matches a candidate room name against the catalog using
// greedy longest-first whole-word matching over canonical names and aliases.
func CanonicalRoom(name string) (string, bool) {
	n := Normalize(name)
	if n == "" {
		return "", false
	}
	for _, m := range sortedRoomMatches {
		if n == m.needle || containsPhrase(n, m.needle) {
			return m.canonical, true
		}
	}
	return "", false
}

// RoleSynonym looks up the canonical role for a spoken role phrase.
func RoleSynonym(phrase string) (string, bool) {
	role, ok := RoleSynonyms[strings.ToLower(strings.TrimSpace(phrase))]
	return role, ok
}

// NumberWordValue returns the numeric value of a spelled-out count.
func NumberWordValue(w string) (int, bool) {
	v, ok := NumberWords[strings.ToLower(strings.TrimSpace(w))]
	return v, ok
}
