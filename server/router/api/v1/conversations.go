package v1

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/hearth-home/hearth/onboarding"
)

type conversationsResponse struct {
	Conversations []onboarding.ConversationState `json:"conversations"`
	Total         int                            `json:"total"`
}

// ListConversations snapshots every active conversation in the registry,
// newest activity first. An optional CEL filter narrows the listing, e.g.
// `step == 'members' && memberCount > 0`.
func (s *APIV1Service) ListConversations(c echo.Context) error {
	states := s.Manager.States()

	if filter := strings.TrimSpace(c.QueryParam("filter")); filter != "" {
		filtered, err := filterConversations(states, filter)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid filter: %v", err))
		}
		states = filtered
	}

	sort.Slice(states, func(i, j int) bool {
		if !states[i].UpdatedAt.Equal(states[j].UpdatedAt) {
			return states[i].UpdatedAt.After(states[j].UpdatedAt)
		}
		return states[i].ConversationID < states[j].ConversationID
	})

	return c.JSON(http.StatusOK, conversationsResponse{Conversations: states, Total: len(states)})
}

// filterConversations keeps the snapshots the CEL expression accepts.
func filterConversations(states []onboarding.ConversationState, filterStr string) ([]onboarding.ConversationState, error) {
	env, err := cel.NewEnv(
		cel.Variable("step", cel.StringType),
		cel.Variable("familyName", cel.StringType),
		cel.Variable("memberCount", cel.IntType),
		cel.Variable("roomCount", cel.IntType),
		cel.Variable("hydrated", cel.BoolType),
		cel.Variable("awaitingReset", cel.BoolType),
		cel.Variable("committed", cel.BoolType),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create filter environment")
	}
	ast, issues := env.Compile(filterStr)
	if issues != nil && issues.Err() != nil {
		return nil, errors.Wrap(issues.Err(), "compile filter")
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, errors.Wrap(err, "build filter program")
	}

	out := make([]onboarding.ConversationState, 0, len(states))
	for _, st := range states {
		val, _, err := prg.Eval(map[string]any{
			"step":          string(st.Step),
			"familyName":    st.FamilyName,
			"memberCount":   len(st.Members),
			"roomCount":     len(st.Rooms),
			"hydrated":      st.Hydrated,
			"awaitingReset": st.AwaitingReset,
			"committed":     st.Step == onboarding.StepCommitted || st.Step == onboarding.StepCompleted,
		})
		if err != nil {
			return nil, errors.Wrap(err, "evaluate filter")
		}
		keep, ok := val.Value().(bool)
		if !ok {
			return nil, errors.New("filter must evaluate to a boolean")
		}
		if keep {
			out = append(out, st)
		}
	}
	return out, nil
}
