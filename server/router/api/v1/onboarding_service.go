package v1

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/hearth-home/hearth/onboarding"
	"github.com/hearth-home/hearth/onboarding/sse"
)

type sendMessageRequest struct {
	Message string `json:"message"`
}

// turnDonePayload is the final record of one service stream.
type turnDonePayload struct {
	Reply     string                       `json:"reply"`
	Step      string                       `json:"step"`
	Source    string                       `json:"source"`
	Committed bool                         `json:"committed"`
	State     onboarding.ConversationState `json:"state"`
}

// SendMessage runs one conversation turn and streams it back as SSE. Token
// records carry the accumulated reply text so renderers replace rather than
// append; the final done record carries the finalized turn. A turn overtaken
// by a newer message ends with an error record instead.
func (s *APIV1Service) SendMessage(c echo.Context) error {
	id := requestIdentity(c)

	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if strings.TrimSpace(req.Message) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message must not be empty")
	}

	if !s.limiters.allow(id.UserID) {
		return echo.NewHTTPError(http.StatusTooManyRequests, "message rate limit exceeded")
	}
	if !s.streamSemaphore.TryAcquire(1) {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "assistant is at capacity, try again shortly")
	}
	defer s.streamSemaphore.Release(1)

	eng := s.Manager.GetOrCreate(id.FamilyID, id.UserID)

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set(echo.HeaderConnection, "keep-alive")
	resp.WriteHeader(http.StatusOK)

	w := sse.NewWriter(resp)

	// Callbacks fire from the engine's stream goroutine while this handler
	// is blocked inside SendUserMessage, and never after it returns.
	listener := &onboarding.Listener{
		OnToken: func(delta, total string) {
			_ = w.WriteEvent(sse.EventToken, sse.TokenPayload{Content: total})
		},
		OnAssistant: func(content string) {
			_ = w.WriteEvent(sse.EventAssistant, sse.AssistantPayload{Content: content})
		},
		OnState: func(st sse.StatePayload) {
			_ = w.WriteEvent(sse.EventState, st)
		},
	}

	res, err := eng.SendUserMessage(c.Request().Context(), req.Message, listener)
	if err != nil {
		if errors.Is(err, onboarding.ErrSuperseded) {
			_ = w.WriteEvent(sse.EventError, sse.ErrorPayload{Message: "turn superseded by a newer message"})
			return nil
		}
		_ = w.WriteEvent(sse.EventError, sse.ErrorPayload{Message: err.Error()})
		return nil
	}

	_ = w.WriteEvent(sse.EventDone, turnDonePayload{
		Reply:     res.Reply,
		Step:      string(res.Step),
		Source:    string(res.Source),
		Committed: res.Committed,
		State:     res.State,
	})
	return nil
}

// GetState returns the caller's conversation snapshot, starting the
// conversation at the greeting when none exists yet.
func (s *APIV1Service) GetState(c echo.Context) error {
	id := requestIdentity(c)
	eng := s.Manager.GetOrCreate(id.FamilyID, id.UserID)
	return c.JSON(http.StatusOK, eng.Snapshot())
}

type commitRequest struct {
	FamilyName string              `json:"family_name"`
	Members    []onboarding.Member `json:"members"`
	Rooms      []string            `json:"rooms"`
}

type commitResponse struct {
	FamilyName string                       `json:"family_name"`
	Members    []onboarding.Member          `json:"members"`
	Rooms      []string                     `json:"rooms"`
	Message    string                       `json:"message,omitempty"`
	State      onboarding.ConversationState `json:"state"`
}

// CommitOnboarding persists the onboarding triple, optionally overridden by
// the request body. Incomplete slots come back as 422 with the field's
// user-facing message.
func (s *APIV1Service) CommitOnboarding(c echo.Context) error {
	id := requestIdentity(c)

	var req commitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}

	var override *onboarding.CommitOverride
	if req.FamilyName != "" || len(req.Members) > 0 || len(req.Rooms) > 0 {
		override = &onboarding.CommitOverride{
			FamilyName: req.FamilyName,
			Members:    req.Members,
			Rooms:      req.Rooms,
		}
	}

	eng := s.Manager.GetOrCreate(id.FamilyID, id.UserID)
	out, err := eng.Commit(c.Request().Context(), override)
	if err != nil {
		var verr *onboarding.ValidationError
		if errors.As(err, &verr) {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, verr.Message)
		}
		return echo.NewHTTPError(http.StatusBadGateway, "saving your home failed upstream")
	}

	return c.JSON(http.StatusOK, commitResponse{
		FamilyName: out.FamilyName,
		Members:    out.Members,
		Rooms:      out.Rooms,
		Message:    out.Message,
		State:      out.State,
	})
}

type resetRequest struct {
	// RequestConfirmation opens the in-chat confirmation sub-dialogue
	// instead of resetting immediately.
	RequestConfirmation bool `json:"requestConfirmation"`

	SkipServer bool `json:"skipServer"`
	KeepFamily bool `json:"keepFamily"`
}

type resetResponse struct {
	State   onboarding.ConversationState `json:"state"`
	Warning string                       `json:"warning,omitempty"`
}

// ResetOnboarding wipes the caller's conversation, or opens the confirmation
// sub-dialogue when asked to. A failed server-side wipe still clears local
// state and is reported as a warning.
func (s *APIV1Service) ResetOnboarding(c echo.Context) error {
	id := requestIdentity(c)

	req := resetRequest{}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}

	eng := s.Manager.GetOrCreate(id.FamilyID, id.UserID)
	if req.RequestConfirmation {
		return c.JSON(http.StatusOK, resetResponse{State: eng.RequestReset()})
	}

	st, err := eng.Reset(c.Request().Context(), onboarding.ResetOptions{
		SkipServer: req.SkipServer,
		KeepFamily: req.KeepFamily,
	})
	resp := resetResponse{State: st}
	if err != nil {
		resp.Warning = "server-side reset failed, local conversation was cleared"
	}
	return c.JSON(http.StatusOK, resp)
}
