package onboarding

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/hearth-home/hearth/onboarding/backend"
	"github.com/hearth-home/hearth/onboarding/extract"
	"github.com/hearth-home/hearth/onboarding/metrics"
)

// ValidationError rejects a commit whose normalized slots are incomplete.
// Field names the offending slot; Message is safe to show the user.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// CommitOverride replaces conversation slots for one commit call. Zero-value
// fields keep whatever the conversation has captured.
type CommitOverride struct {
	FamilyName string
	Members    []Member
	Rooms      []string
}

// CommitOutcome is the result of a successful commit.
type CommitOutcome struct {
	FamilyName string
	Members    []Member
	Rooms      []string
	Message    string
	State      ConversationState
}

// Commit validates and persists the onboarding triple, reconciles the
// authoritative room list from the response, and advances to committed.
// Validation failures return a *ValidationError and make no network call.
func (e *Engine) Commit(ctx context.Context, override *CommitOverride) (*CommitOutcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.commitLocked(ctx, override)
}

func (e *Engine) commitLocked(ctx context.Context, override *CommitOverride) (*CommitOutcome, error) {
	name := e.conv.familyName
	members := e.conv.members
	rooms := e.conv.rooms
	if override != nil {
		if strings.TrimSpace(override.FamilyName) != "" {
			name = override.FamilyName
		}
		if len(override.Members) > 0 {
			members = override.Members
		}
		if len(override.Rooms) > 0 {
			rooms = override.Rooms
		}
	}

	cleanName, ok := extract.CleanFamilyName(name)
	if !ok {
		return nil, e.rejectCommitLocked("family_name", "I still need your family name before I can save.")
	}
	cleanMembers := sanitizeCommitMembers(members)
	if len(cleanMembers) == 0 {
		return nil, e.rejectCommitLocked("members", "Add at least one family member before finishing.")
	}
	cleanRooms := sanitizeCommitRooms(rooms)
	if len(cleanRooms) == 0 {
		return nil, e.rejectCommitLocked("rooms", "Add at least one room before finishing.")
	}

	if e.conv.familyID == "" {
		id, err := e.resolve(ctx, cleanName)
		if err != nil {
			e.rec.RecordCommit(metrics.CommitBackend)
			e.conv.lastError = "I couldn't save your home just now. Let's try again in a moment."
			return nil, errors.Wrap(err, "resolve family")
		}
		e.conv.familyID = id
	}

	resp, err := e.backend.Commit(ctx, backend.CommitRequest{
		FamilyID:   e.conv.familyID,
		UserID:     e.conv.userID,
		FamilyName: cleanName,
		Members:    toCommitMembers(cleanMembers),
		Rooms:      cleanRooms,
	})
	if err != nil {
		e.rec.RecordCommit(metrics.CommitBackend)
		e.conv.lastError = "I couldn't save your home just now. Let's try again in a moment."
		return nil, errors.Wrap(err, "commit onboarding")
	}

	finalRooms := cleanRooms
	message := ""
	if resp != nil {
		if len(resp.Rooms) > 0 {
			finalRooms = sanitizeCommitRooms(resp.Rooms)
		}
		message = resp.Message
	}

	e.conv.familyName = cleanName
	e.conv.members = cleanMembers
	e.conv.rooms = finalRooms
	e.conv.step = StepCommitted
	e.conv.touch()
	e.rec.RecordCommit(metrics.CommitSuccess)

	return &CommitOutcome{
		FamilyName: cleanName,
		Members:    append([]Member(nil), cleanMembers...),
		Rooms:      append([]string(nil), finalRooms...),
		Message:    message,
		State:      e.conv.snapshot(""),
	}, nil
}

func (e *Engine) rejectCommitLocked(field, msg string) *ValidationError {
	e.rec.RecordCommit(metrics.CommitValidation)
	e.conv.lastError = msg
	return &ValidationError{Field: field, Message: msg}
}

// sanitizeCommitMembers title-cases names and roles, lower-cases emails,
// dedupes by (name, role), and drops later entries reusing an email.
func sanitizeCommitMembers(in []Member) []Member {
	out := make([]Member, 0, len(in))
	keys := make(map[string]bool, len(in))
	emails := make(map[string]bool, len(in))
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
		out = append(out, m)
	}
	return out
}

// sanitizeCommitRooms title-cases and dedupes case-insensitively, keeping
// first occurrence order.
func sanitizeCommitRooms(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, r := range in {
		room := normalizeRoom(r)
		if room == "" || seen[strings.ToLower(room)] {
			continue
		}
		seen[strings.ToLower(room)] = true
		out = append(out, room)
	}
	return out
}

func toCommitMembers(in []Member) []backend.CommitMember {
	out := make([]backend.CommitMember, 0, len(in))
	for _, m := range in {
		out = append(out, backend.CommitMember{Name: m.Name, Role: m.Role, Email: m.Email})
	}
	return out
}
