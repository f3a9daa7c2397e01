// Package onboarding implements the guided-onboarding dialogue engine: a
// slot-filling conversation that captures a family name, its members, and
// the household rooms through free-text chat. A streaming assistant drives
// the happy path; a deterministic fallback keeps the conversation alive
// when the assistant stalls, errors, or answers with nothing usable.
package onboarding

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hearth-home/hearth/onboarding/extract"
	"github.com/hearth-home/hearth/onboarding/vocab"
)

// Step is the conversation's current stage. Steps only move forward except
// through an explicit reset, which returns to StepGreeting.
type Step string

const (
	StepGreeting  Step = "greeting"
	StepMembers   Step = "members"
	StepRooms     Step = "rooms"
	StepCommitted Step = "committed"
	StepCompleted Step = "completed"
)

var stepRank = map[Step]int{
	StepGreeting:  0,
	StepMembers:   1,
	StepRooms:     2,
	StepCommitted: 3,
	StepCompleted: 4,
}

// ParseStep maps a wire value to a known step.
func ParseStep(s string) (Step, bool) {
	step := Step(strings.ToLower(strings.TrimSpace(s)))
	_, ok := stepRank[step]
	return step, ok
}

func (s Step) rank() int {
	r, ok := stepRank[s]
	if !ok {
		return -1
	}
	return r
}

// Member is one captured family member.
type Member struct {
	Name  string `json:"name"`
	Role  string `json:"role"`
	Email string `json:"email,omitempty"`
}

// Sender marks which side of the conversation a message belongs to.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// Message is one entry of the append-only conversation log.
type Message struct {
	ID        string    `json:"id"`
	Sender    Sender    `json:"sender"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// SlotStatus is the derived fill state of the three slots. It is computed
// from the slot values on demand and never stored.
type SlotStatus struct {
	FamilyName bool `json:"family_name"`
	Members    bool `json:"members"`
	Rooms      bool `json:"rooms"`
}

// Filled reports whether every slot is filled, the precondition for commit.
func (s SlotStatus) Filled() bool {
	return s.FamilyName && s.Members && s.Rooms
}

// ConversationState is a read-only snapshot of one conversation.
type ConversationState struct {
	ConversationID string    `json:"conversation_id"`
	FamilyID       string    `json:"family_id,omitempty"`
	UserID         string    `json:"user_id"`
	Step           Step      `json:"step"`
	FamilyName     string    `json:"family_name,omitempty"`
	Members        []Member  `json:"members"`
	Rooms          []string  `json:"rooms"`
	Messages       []Message `json:"messages"`
	StreamingText  string    `json:"streaming_text,omitempty"`
	AwaitingReset  bool      `json:"awaiting_reset"`
	Hydrated       bool      `json:"hydrated"`
	LastError      string    `json:"last_error,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// SlotStatus derives the fill state from the snapshot's slot values.
func (s ConversationState) SlotStatus() SlotStatus {
	return SlotStatus{
		FamilyName: s.FamilyName != "",
		Members:    len(s.Members) > 0,
		Rooms:      len(s.Rooms) > 0,
	}
}

const greetingText = "Hi, I'm Hearth! Let's set up your home together. What should I call your family?"

// conversation is the engine-private mutable state. All access goes through
// the owning Engine's mutex.
type conversation struct {
	id            string
	familyID      string
	userID        string
	step          Step
	familyName    string
	members       []Member
	rooms         []string
	messages      []Message
	awaitingReset bool
	hydrated      bool
	lastError     string
	updatedAt     time.Time
}

func newConversation(id, familyID, userID string) *conversation {
	c := &conversation{
		id:        id,
		familyID:  familyID,
		userID:    userID,
		step:      StepGreeting,
		hydrated:  true,
		updatedAt: time.Now(),
	}
	c.appendMessage(SenderAssistant, greetingText)
	return c
}

// resetInPlace clears every slot and re-seeds the greeting. The hydrated
// marker survives so callers can tell a reset state from a never-loaded one.
func (c *conversation) resetInPlace(keepFamily bool) {
	if !keepFamily {
		c.familyID = ""
	}
	c.step = StepGreeting
	c.familyName = ""
	c.members = nil
	c.rooms = nil
	c.messages = nil
	c.awaitingReset = false
	c.lastError = ""
	c.touch()
	c.appendMessage(SenderAssistant, greetingText)
}

func (c *conversation) touch() {
	c.updatedAt = time.Now()
}

func (c *conversation) slotStatus() SlotStatus {
	return SlotStatus{
		FamilyName: c.familyName != "",
		Members:    len(c.members) > 0,
		Rooms:      len(c.rooms) > 0,
	}
}

// slotDerivedStep computes the next step purely from which slots are filled.
func (c *conversation) slotDerivedStep() Step {
	switch {
	case c.familyName == "":
		return StepGreeting
	case len(c.members) == 0:
		return StepMembers
	case len(c.rooms) == 0:
		return StepRooms
	default:
		return StepCommitted
	}
}

func (c *conversation) appendMessage(sender Sender, text string) Message {
	m := Message{
		ID:        uuid.NewString(),
		Sender:    sender,
		Text:      text,
		CreatedAt: time.Now(),
	}
	c.messages = append(c.messages, m)
	c.touch()
	return m
}

// setFamilyName fills the family-name slot only when it is still empty.
func (c *conversation) setFamilyName(name string) bool {
	name = strings.TrimSpace(name)
	if c.familyName != "" || name == "" {
		return false
	}
	c.familyName = extract.TitleCase(name)
	c.touch()
	return true
}

// mergeMembers unions new members in, unique by lowercased (name, role) and
// separately by lowercased email when present. Existing entries always win.
func (c *conversation) mergeMembers(in []Member) bool {
	if len(in) == 0 {
		return false
	}
	keys := make(map[string]bool, len(c.members))
	emails := make(map[string]bool, len(c.members))
	for _, m := range c.members {
		keys[memberKey(m)] = true
		if m.Email != "" {
			emails[strings.ToLower(m.Email)] = true
		}
	}

	changed := false
	for _, m := range in {
		m = normalizeMember(m)
		if m.Name == "" {
			continue
		}
		key := memberKey(m)
		if keys[key] {
			continue
		}
		if m.Email != "" && emails[strings.ToLower(m.Email)] {
			continue
		}
		keys[key] = true
		if m.Email != "" {
			emails[strings.ToLower(m.Email)] = true
		}
		c.members = append(c.members, m)
		changed = true
	}
	if changed {
		c.touch()
	}
	return changed
}

// mergeRooms unions new rooms in, case-insensitively unique, canonicalized
// the same way extraction canonicalizes.
func (c *conversation) mergeRooms(in []string) bool {
	if len(in) == 0 {
		return false
	}
	have := make(map[string]bool, len(c.rooms))
	for _, r := range c.rooms {
		have[strings.ToLower(r)] = true
	}

	changed := false
	for _, r := range in {
		room := normalizeRoom(r)
		if room == "" {
			continue
		}
		key := strings.ToLower(room)
		if have[key] {
			continue
		}
		have[key] = true
		c.rooms = append(c.rooms, room)
		changed = true
	}
	if changed {
		c.touch()
	}
	return changed
}

func (c *conversation) snapshot(streaming string) ConversationState {
	return ConversationState{
		ConversationID: c.id,
		FamilyID:       c.familyID,
		UserID:         c.userID,
		Step:           c.step,
		FamilyName:     c.familyName,
		Members:        append([]Member(nil), c.members...),
		Rooms:          append([]string(nil), c.rooms...),
		Messages:       append([]Message(nil), c.messages...),
		StreamingText:  streaming,
		AwaitingReset:  c.awaitingReset,
		Hydrated:       c.hydrated,
		LastError:      c.lastError,
		UpdatedAt:      c.updatedAt,
	}
}

func memberKey(m Member) string {
	return strings.ToLower(m.Name) + "\x00" + strings.ToLower(m.Role)
}

func normalizeMember(m Member) Member {
	m.Name = extract.TitleCase(strings.TrimSpace(m.Name))
	role := strings.TrimSpace(m.Role)
	if role == "" {
		m.Role = extract.DefaultRole
	} else if canonical, ok := vocab.RoleSynonym(strings.ToLower(role)); ok {
		m.Role = canonical
	} else {
		m.Role = extract.TitleCase(role)
	}
	m.Email = strings.ToLower(strings.TrimSpace(m.Email))
	return m
}

func normalizeRoom(r string) string {
	titled := extract.TitleCase(strings.TrimSpace(r))
	if titled == "" {
		return ""
	}
	if canonical, ok := vocab.CanonicalRoom(titled); ok {
		return canonical
	}
	return titled
}
