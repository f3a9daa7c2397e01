package onboarding

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFallbackGreeting(t *testing.T) {
	t.Run("usable name advances", func(t *testing.T) {
		fb := Fallback(ConversationState{Step: StepGreeting}, "the smiths")
		assert.Equal(t, "The Smiths", fb.FamilyName)
		assert.Equal(t, StepMembers, fb.SuggestedStep)
		assert.Contains(t, fb.Reply, "The Smiths")
	})

	t.Run("question re-asks", func(t *testing.T) {
		fb := Fallback(ConversationState{Step: StepGreeting}, "what do you mean?")
		assert.Empty(t, fb.FamilyName)
		assert.Equal(t, StepGreeting, fb.SuggestedStep)
	})

	t.Run("name already set moves on", func(t *testing.T) {
		fb := Fallback(ConversationState{Step: StepGreeting, FamilyName: "Smith"}, "anything")
		assert.Empty(t, fb.FamilyName)
		assert.Equal(t, StepMembers, fb.SuggestedStep)
	})
}

func TestFallbackMembers(t *testing.T) {
	base := ConversationState{Step: StepMembers, FamilyName: "Smith"}

	t.Run("extracts and stays", func(t *testing.T) {
		fb := Fallback(base, "I have my wife Sarah and my son Jake")
		assert.Equal(t, []Member{
			{Name: "Sarah", Role: "Wife"},
			{Name: "Jake", Role: "Son"},
		}, fb.Members)
		assert.Equal(t, StepMembers, fb.SuggestedStep)
		assert.Equal(t, "Got it: Sarah (Wife) and Jake (Son). Anyone else, or is that everyone?", fb.Reply)
	})

	t.Run("done with members advances", func(t *testing.T) {
		st := base
		st.Members = []Member{{Name: "Sarah", Role: "Wife"}}
		fb := Fallback(st, "that's everyone")
		assert.Equal(t, StepRooms, fb.SuggestedStep)
		assert.Empty(t, fb.Members)
	})

	t.Run("done without members re-prompts", func(t *testing.T) {
		fb := Fallback(base, "that's everyone")
		assert.Equal(t, StepMembers, fb.SuggestedStep)
	})

	t.Run("nothing extracted references the last member", func(t *testing.T) {
		st := base
		st.Members = []Member{{Name: "Sarah", Role: "Wife"}, {Name: "Jake", Role: "Son"}}
		fb := Fallback(st, "hmm let me think")
		assert.Contains(t, fb.Reply, "Jake")
		assert.Equal(t, StepMembers, fb.SuggestedStep)
	})

	t.Run("nothing extracted and nothing captured gives an example", func(t *testing.T) {
		fb := Fallback(base, "hmm")
		assert.Contains(t, fb.Reply, "my wife Sarah")
	})
}

func TestFallbackRooms(t *testing.T) {
	base := ConversationState{
		Step:       StepRooms,
		FamilyName: "Smith",
		Members:    []Member{{Name: "Sarah", Role: "Wife"}},
	}

	t.Run("extracts and stays", func(t *testing.T) {
		fb := Fallback(base, "we have a kitchen and a guest bathroom")
		assert.Equal(t, []string{"Kitchen", "Guest Bathroom"}, fb.Rooms)
		assert.Equal(t, StepRooms, fb.SuggestedStep)
		assert.Equal(t, "Added Kitchen and Guest Bathroom. Any more rooms, or is that everything?", fb.Reply)
	})

	t.Run("done suggests commit", func(t *testing.T) {
		fb := Fallback(base, "that's everything")
		assert.Equal(t, StepCommitted, fb.SuggestedStep)
		assert.Empty(t, fb.Rooms)
	})

	t.Run("room plus closing phrase records and commits", func(t *testing.T) {
		fb := Fallback(base, "just the garage, that's it")
		assert.Equal(t, []string{"Garage"}, fb.Rooms)
		assert.Equal(t, StepCommitted, fb.SuggestedStep)
		assert.Contains(t, fb.Reply, "Garage")
	})

	t.Run("existing rooms are not re-added", func(t *testing.T) {
		st := base
		st.Rooms = []string{"Kitchen"}
		fb := Fallback(st, "the kitchen")
		assert.Empty(t, fb.Rooms)
		assert.Contains(t, fb.Reply, "Kitchen")
	})
}

func TestFallbackAfterCommit(t *testing.T) {
	fb := Fallback(ConversationState{Step: StepCommitted}, "hello?")
	assert.Equal(t, StepCommitted, fb.SuggestedStep)
	assert.NotEmpty(t, fb.Reply)

	fb = Fallback(ConversationState{Step: StepCompleted}, "hello?")
	assert.NotEmpty(t, fb.Reply)
	assert.Empty(t, fb.SuggestedStep)
}

func TestJoinList(t *testing.T) {
	assert.Equal(t, "", joinList(nil))
	assert.Equal(t, "Kitchen", joinList([]string{"Kitchen"}))
	assert.Equal(t, "Kitchen and Office", joinList([]string{"Kitchen", "Office"}))
	assert.Equal(t, "Kitchen, Office, and Pantry", joinList([]string{"Kitchen", "Office", "Pantry"}))
}
