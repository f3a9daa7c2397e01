package onboarding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlotStatus(t *testing.T) {
	tests := []struct {
		name   string
		state  ConversationState
		want   SlotStatus
		filled bool
	}{
		{
			name:  "all empty",
			state: ConversationState{},
			want:  SlotStatus{},
		},
		{
			name:  "family only",
			state: ConversationState{FamilyName: "Smith"},
			want:  SlotStatus{FamilyName: true},
		},
		{
			name: "family and members",
			state: ConversationState{
				FamilyName: "Smith",
				Members:    []Member{{Name: "Sarah", Role: "Wife"}},
			},
			want: SlotStatus{FamilyName: true, Members: true},
		},
		{
			name: "everything",
			state: ConversationState{
				FamilyName: "Smith",
				Members:    []Member{{Name: "Sarah", Role: "Wife"}},
				Rooms:      []string{"Kitchen"},
			},
			want:   SlotStatus{FamilyName: true, Members: true, Rooms: true},
			filled: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.state.SlotStatus()
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.filled, got.Filled())
		})
	}
}

func TestParseStep(t *testing.T) {
	for _, valid := range []string{"greeting", "members", "rooms", "committed", "completed"} {
		step, ok := ParseStep(valid)
		assert.True(t, ok, valid)
		assert.Equal(t, Step(valid), step)
	}
	step, ok := ParseStep(" Members ")
	assert.True(t, ok)
	assert.Equal(t, StepMembers, step)

	for _, invalid := range []string{"", "unknown", "commit"} {
		_, ok := ParseStep(invalid)
		assert.False(t, ok, invalid)
	}
}

func TestStepOrder(t *testing.T) {
	order := []Step{StepGreeting, StepMembers, StepRooms, StepCommitted, StepCompleted}
	for i := 1; i < len(order); i++ {
		assert.Less(t, order[i-1].rank(), order[i].rank())
	}
	assert.Equal(t, -1, Step("bogus").rank())
}

func TestConversationSeedsGreeting(t *testing.T) {
	c := newConversation("c1", "", "u1")
	require.Len(t, c.messages, 1)
	assert.Equal(t, SenderAssistant, c.messages[0].Sender)
	assert.Equal(t, greetingText, c.messages[0].Text)
	assert.Equal(t, StepGreeting, c.step)
	assert.True(t, c.hydrated)
	assert.NotEmpty(t, c.messages[0].ID)
}

func TestSetFamilyNameOnlyWhenEmpty(t *testing.T) {
	c := newConversation("c1", "", "u1")
	assert.True(t, c.setFamilyName("the smiths"))
	assert.Equal(t, "The Smiths", c.familyName)

	assert.False(t, c.setFamilyName("The Parkers"))
	assert.Equal(t, "The Smiths", c.familyName)

	assert.False(t, c.setFamilyName("   "))
}

func TestMergeMembersDedup(t *testing.T) {
	c := newConversation("c1", "", "u1")

	added := c.mergeMembers([]Member{
		{Name: "sarah", Role: "wife"},
		{Name: "jake", Role: "sons"},
	})
	assert.True(t, added)
	assert.Equal(t, []Member{
		{Name: "Sarah", Role: "Wife"},
		{Name: "Jake", Role: "Son"},
	}, c.members)

	// Same people in different casing never duplicate.
	added = c.mergeMembers([]Member{
		{Name: "SARAH", Role: "Wife"},
		{Name: "Jake", Role: "son"},
	})
	assert.False(t, added)
	assert.Len(t, c.members, 2)

	// A distinct person sharing an email with an existing one is dropped.
	c.mergeMembers([]Member{{Name: "Emma", Role: "Daughter", Email: "Kid@Example.com"}})
	added = c.mergeMembers([]Member{{Name: "Ben", Role: "Son", Email: "kid@example.com"}})
	assert.False(t, added)
	assert.Len(t, c.members, 3)

	// Empty names and a role without a name are ignored.
	added = c.mergeMembers([]Member{{Name: "  ", Role: "Uncle"}})
	assert.False(t, added)
}

func TestMergeMembersAssignsDefaultRole(t *testing.T) {
	c := newConversation("c1", "", "u1")
	c.mergeMembers([]Member{{Name: "dana"}})
	require.Len(t, c.members, 1)
	assert.Equal(t, Member{Name: "Dana", Role: "Family Member"}, c.members[0])
}

func TestMergeRoomsCanonicalizes(t *testing.T) {
	c := newConversation("c1", "", "u1")

	added := c.mergeRooms([]string{"kitchen", "main bathroom"})
	assert.True(t, added)
	assert.Equal(t, []string{"Kitchen", "Master Bathroom"}, c.rooms)

	added = c.mergeRooms([]string{"KITCHEN", "Master bathroom", ""})
	assert.False(t, added)
	assert.Len(t, c.rooms, 2)

	added = c.mergeRooms([]string{"She Shed"})
	assert.True(t, added)
	assert.Equal(t, []string{"Kitchen", "Master Bathroom", "She Shed"}, c.rooms)
}

func TestSlotDerivedStep(t *testing.T) {
	c := newConversation("c1", "", "u1")
	assert.Equal(t, StepGreeting, c.slotDerivedStep())

	c.setFamilyName("Smith")
	assert.Equal(t, StepMembers, c.slotDerivedStep())

	c.mergeMembers([]Member{{Name: "Sarah", Role: "Wife"}})
	assert.Equal(t, StepRooms, c.slotDerivedStep())

	c.mergeRooms([]string{"Kitchen"})
	assert.Equal(t, StepCommitted, c.slotDerivedStep())
}

func TestResetInPlace(t *testing.T) {
	c := newConversation("c1", "fam-1", "u1")
	c.setFamilyName("Smith")
	c.mergeMembers([]Member{{Name: "Sarah", Role: "Wife"}})
	c.mergeRooms([]string{"Kitchen"})
	c.step = StepRooms
	c.awaitingReset = true
	c.lastError = "boom"

	c.resetInPlace(false)

	assert.Equal(t, StepGreeting, c.step)
	assert.Empty(t, c.familyID)
	assert.Empty(t, c.familyName)
	assert.Empty(t, c.members)
	assert.Empty(t, c.rooms)
	assert.False(t, c.awaitingReset)
	assert.Empty(t, c.lastError)
	assert.True(t, c.hydrated)
	require.Len(t, c.messages, 1)
	assert.Equal(t, greetingText, c.messages[0].Text)
}

func TestResetInPlaceKeepsFamilyWhenAsked(t *testing.T) {
	c := newConversation("c1", "fam-1", "u1")
	c.resetInPlace(true)
	assert.Equal(t, "fam-1", c.familyID)
}

func TestSnapshotIsDetached(t *testing.T) {
	c := newConversation("c1", "fam-1", "u1")
	c.setFamilyName("Smith")
	c.mergeMembers([]Member{{Name: "Sarah", Role: "Wife"}})
	c.mergeRooms([]string{"Kitchen"})

	snap := c.snapshot("partial text")
	assert.Equal(t, "partial text", snap.StreamingText)

	snap.Members[0].Name = "Changed"
	snap.Rooms[0] = "Changed"
	snap.Messages[0].Text = "Changed"

	assert.Equal(t, "Sarah", c.members[0].Name)
	assert.Equal(t, "Kitchen", c.rooms[0])
	assert.Equal(t, greetingText, c.messages[0].Text)
}
