package stub

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/hearth-home/hearth/onboarding"
	"github.com/hearth-home/hearth/onboarding/backend"
	"github.com/hearth-home/hearth/onboarding/sse"
	"github.com/hearth-home/hearth/store"
)

// handleAssistant streams one assistant turn. Scripted mode synthesizes the
// reply from the same rules the engine's fallback uses and streams it as
// token records; with an LLM configured only the prose comes from the model,
// the state and done records stay deterministic so the engine's step
// resolution never depends on model output.
func (s *Service) handleAssistant(c echo.Context) error {
	var req backend.StreamRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Message: "malformed request body"})
	}
	if req.UserID == "" {
		return c.JSON(http.StatusBadRequest, errorBody{Message: "userId is required"})
	}
	if strings.TrimSpace(req.Message) == "" {
		return c.JSON(http.StatusBadRequest, errorBody{Message: "message is required"})
	}
	ctx := c.Request().Context()

	familyName, members, rooms := s.hydrateSlots(ctx, req.UserID)
	state := onboarding.ConversationState{
		FamilyID:   req.FamilyID,
		UserID:     req.UserID,
		Step:       s.stepFor(ctx, req.UserID, familyName, members, rooms),
		FamilyName: familyName,
		Members:    members,
		Rooms:      rooms,
	}
	fb := onboarding.Fallback(state, req.Message)

	mergedName := familyName
	if mergedName == "" {
		mergedName = fb.FamilyName
	}
	mergedMembers := mergeMemberLists(members, fb.Members)
	mergedRooms := mergeRoomLists(rooms, fb.Rooms)

	header := c.Response().Header()
	header.Set(echo.HeaderContentType, "text/event-stream")
	header.Set(echo.HeaderCacheControl, "no-cache")
	header.Set(echo.HeaderConnection, "keep-alive")
	c.Response().WriteHeader(http.StatusOK)

	w := sse.NewWriter(c.Response())
	_ = w.WriteComment("hearth dev assistant")

	streamed := false
	if s.llm != nil {
		err := s.llm.streamReply(ctx, req, state, func(delta string) error {
			streamed = true
			return w.WriteEvent(sse.EventToken, sse.TokenPayload{Content: delta})
		})
		switch {
		case err == nil:
			streamed = true
		case streamed:
			// Tokens already went out; the engine salvages what it got.
			s.log.Warn("llm stream interrupted", "error", err)
			_ = w.WriteEvent(sse.EventError, sse.ErrorPayload{Message: "assistant stream interrupted"})
			return nil
		default:
			s.log.Warn("llm unavailable, using scripted reply", "error", err)
		}
	}
	if !streamed {
		for _, chunk := range chunkReply(fb.Reply) {
			if err := w.WriteEvent(sse.EventToken, sse.TokenPayload{Content: chunk}); err != nil {
				// Client went away mid-stream, nothing left to say.
				return nil
			}
		}
	}

	s.persistSlots(ctx, req.FamilyID, req.UserID, mergedName, mergedMembers, mergedRooms)

	_ = w.WriteEvent(sse.EventState, sse.StatePayload{
		FamilyName: mergedName,
		Members:    memberPayloads(mergedMembers),
		Rooms:      mergedRooms,
		NextStep:   string(fb.SuggestedStep),
	})
	_ = w.WriteEvent(sse.EventDone, sse.DonePayload{NextStep: string(fb.SuggestedStep)})
	return nil
}

// stepFor derives the step this turn should be answered at. Slots alone
// never put a conversation past rooms: only an explicit done phrase moves a
// turn toward committed, which the fallback rules decide. A recorded commit
// pins the conversation there until reset clears it.
func (s *Service) stepFor(ctx context.Context, userID, familyName string, members []onboarding.Member, rooms []string) onboarding.Step {
	if s.hasCommit(ctx, userID) {
		return onboarding.StepCommitted
	}
	switch {
	case familyName == "":
		return onboarding.StepGreeting
	case len(members) == 0:
		return onboarding.StepMembers
	default:
		return onboarding.StepRooms
	}
}

func (s *Service) hasCommit(ctx context.Context, userID string) bool {
	limit := 1
	records, err := s.store.ListCommitRecords(ctx, &store.FindCommitRecord{UserID: &userID, Limit: &limit})
	if err != nil {
		s.log.Warn("failed to check commit history", "user", userID, "error", err)
		return false
	}
	return len(records) > 0
}

// chunkReply splits a reply into a few-word chunks whose concatenation is
// exactly the original text.
func chunkReply(reply string) []string {
	if reply == "" {
		return nil
	}
	pieces := strings.SplitAfter(reply, " ")
	chunks := make([]string, 0, (len(pieces)+2)/3)
	for i := 0; i < len(pieces); i += 3 {
		end := i + 3
		if end > len(pieces) {
			end = len(pieces)
		}
		chunks = append(chunks, strings.Join(pieces[i:end], ""))
	}
	return chunks
}

func memberPayloads(members []onboarding.Member) []sse.MemberPayload {
	out := make([]sse.MemberPayload, 0, len(members))
	for _, m := range members {
		out = append(out, sse.MemberPayload{Name: m.Name, Role: m.Role, Email: m.Email})
	}
	return out
}
