package onboarding

import (
	"fmt"

	"github.com/hearth-home/hearth/onboarding/extract"
	"github.com/hearth-home/hearth/onboarding/vocab"
)

// FallbackResult is a deterministic, network-free assistant turn: a reply,
// any slots extracted from the raw message, and a suggested next step.
type FallbackResult struct {
	Reply         string
	FamilyName    string
	Members       []Member
	Rooms         []string
	SuggestedStep Step
}

// Fallback synthesizes the reply the assistant should have given. It is a
// pure function of the snapshot and the raw user message, performs no I/O,
// and doubles as the oracle the engine tests compare streaming results
// against.
func Fallback(state ConversationState, raw string) FallbackResult {
	switch state.Step {
	case StepGreeting:
		return fallbackGreeting(state, raw)
	case StepMembers:
		return fallbackMembers(state, raw)
	case StepRooms:
		return fallbackRooms(state, raw)
	case StepCommitted:
		return FallbackResult{
			Reply:         "Everything is saved. You can explore your home whenever you're ready!",
			SuggestedStep: StepCommitted,
		}
	default:
		return FallbackResult{Reply: "Onboarding is complete. Enjoy Hearth!"}
	}
}

func fallbackGreeting(state ConversationState, raw string) FallbackResult {
	if state.FamilyName == "" {
		if name, ok := extract.CleanFamilyName(raw); ok {
			return FallbackResult{
				Reply:         fmt.Sprintf("%s, love it! Now, who lives with you? Tell me about your family members.", name),
				FamilyName:    name,
				SuggestedStep: StepMembers,
			}
		}
		return FallbackResult{
			Reply:         "Let's start with a name for your household. What should I call your family?",
			SuggestedStep: StepGreeting,
		}
	}
	return FallbackResult{
		Reply:         "Who lives with you? Tell me about your family members.",
		SuggestedStep: StepMembers,
	}
}

func fallbackMembers(state ConversationState, raw string) FallbackResult {
	if vocab.IsMembersDone(raw) {
		if len(state.Members) > 0 {
			return FallbackResult{
				Reply:         "Perfect, the family is all set. Now, what rooms does your home have?",
				SuggestedStep: StepRooms,
			}
		}
		return FallbackResult{
			Reply:         "I need at least one family member before we move on. Who lives with you?",
			SuggestedStep: StepMembers,
		}
	}

	if found := extract.Members(raw); len(found) > 0 {
		members := membersFromExtract(found)
		return FallbackResult{
			Reply:         fmt.Sprintf("Got it: %s. Anyone else, or is that everyone?", joinMemberNames(members)),
			Members:       members,
			SuggestedStep: StepMembers,
		}
	}

	if n := len(state.Members); n > 0 {
		return FallbackResult{
			Reply: fmt.Sprintf("So far I have %s. Who else lives with you? Say \"that's everyone\" when the list is complete.",
				state.Members[n-1].Name),
			SuggestedStep: StepMembers,
		}
	}
	return FallbackResult{
		Reply:         "Tell me about the first person, for example \"my wife Sarah\".",
		SuggestedStep: StepMembers,
	}
}

func fallbackRooms(state ConversationState, raw string) FallbackResult {
	// Extraction runs before the done check so "just the garage, that's it"
	// records the garage and closes the step in one turn.
	if found := extract.Rooms(raw, extractMembers(state.Members), state.Rooms); len(found) > 0 {
		if vocab.IsRoomsDone(raw) {
			return FallbackResult{
				Reply:         fmt.Sprintf("Added %s. That's your home mapped out, saving everything now.", joinList(found)),
				Rooms:         found,
				SuggestedStep: StepCommitted,
			}
		}
		return FallbackResult{
			Reply:         fmt.Sprintf("Added %s. Any more rooms, or is that everything?", joinList(found)),
			Rooms:         found,
			SuggestedStep: StepRooms,
		}
	}

	if vocab.IsRoomsDone(raw) {
		return FallbackResult{
			Reply:         "Great, that's your home mapped out! Saving everything now.",
			SuggestedStep: StepCommitted,
		}
	}

	if n := len(state.Rooms); n > 0 {
		return FallbackResult{
			Reply: fmt.Sprintf("I have %s so far. What other rooms are there? Say \"that's everything\" when you're done.",
				state.Rooms[n-1]),
			SuggestedStep: StepRooms,
		}
	}
	return FallbackResult{
		Reply:         "What rooms does your home have? Kitchen, bedrooms, anything you like.",
		SuggestedStep: StepRooms,
	}
}

func membersFromExtract(in []extract.Member) []Member {
	out := make([]Member, 0, len(in))
	for _, m := range in {
		out = append(out, Member{Name: m.Name, Role: m.Role})
	}
	return out
}

func extractMembers(in []Member) []extract.Member {
	out := make([]extract.Member, 0, len(in))
	for _, m := range in {
		out = append(out, extract.Member{Name: m.Name, Role: m.Role})
	}
	return out
}

func joinMemberNames(members []Member) string {
	names := make([]string, 0, len(members))
	for _, m := range members {
		names = append(names, fmt.Sprintf("%s (%s)", m.Name, m.Role))
	}
	return joinList(names)
}

func joinList(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	case 2:
		return items[0] + " and " + items[1]
	default:
		out := ""
		for i, item := range items {
			switch i {
			case 0:
				out = item
			case len(items) - 1:
				out += ", and " + item
			default:
				out += ", " + item
			}
		}
		return out
	}
}
