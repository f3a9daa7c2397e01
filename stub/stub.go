// Package stub is the in-process dev backend. It serves the five
// collaborator endpoints the engine depends on so a Hearth instance runs
// standalone: the streaming assistant, the onboarding memory store, family
// resolution, commit, and reset. Replies are deterministic unless an
// OpenAI-compatible key is configured.
package stub

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/lithammer/shortuuid/v4"

	"github.com/hearth-home/hearth/internal/profile"
	"github.com/hearth-home/hearth/onboarding"
	"github.com/hearth-home/hearth/onboarding/backend"
	"github.com/hearth-home/hearth/onboarding/extract"
	"github.com/hearth-home/hearth/onboarding/vocab"
	"github.com/hearth-home/hearth/store"
)

// Service implements the dev backend endpoints on top of the store.
type Service struct {
	profile *profile.Profile
	store   *store.Store
	log     *slog.Logger
	llm     *llmClient
}

func NewService(p *profile.Profile, st *store.Store, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	s := &Service{profile: p, store: st, log: log}
	if p.IsStubLLMEnabled() {
		s.llm = newLLMClient(p)
		log.Info("stub assistant using llm completions", "model", p.StubLLMModel)
	}
	return s
}

// RegisterRoutes mounts the collaborator endpoints on the given group,
// matching the paths the backend client calls.
func (s *Service) RegisterRoutes(g *echo.Group) {
	g.POST("/onboarding/assistant", s.handleAssistant)
	g.PUT("/memory", s.handleMemoryUpsert)
	g.POST("/onboarding/commit", s.handleCommit)
	g.POST("/onboarding/reset", s.handleReset)
	g.POST("/families", s.handleResolveFamily)
}

type errorBody struct {
	Message string `json:"message"`
}

func (s *Service) handleResolveFamily(c echo.Context) error {
	var req backend.ResolveFamilyRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Message: "malformed request body"})
	}
	name := strings.TrimSpace(req.FamilyName)
	if name == "" {
		return c.JSON(http.StatusBadRequest, errorBody{Message: "familyName is required"})
	}

	family, err := s.store.UpsertFamily(c.Request().Context(), &store.UpsertFamily{
		ID:   "fam_" + shortuuid.New(),
		Name: name,
	})
	if err != nil {
		s.log.Error("failed to resolve family", "name", name, "error", err)
		return c.JSON(http.StatusInternalServerError, errorBody{Message: "failed to resolve family"})
	}
	return c.JSON(http.StatusOK, backend.ResolveFamilyResponse{ID: family.ID})
}

func (s *Service) handleMemoryUpsert(c echo.Context) error {
	var req backend.MemoryUpsert
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Message: "malformed request body"})
	}
	if req.UserID == "" || req.Namespace == "" || req.Key == "" {
		return c.JSON(http.StatusBadRequest, errorBody{Message: "userId, namespace and key are required"})
	}

	_, err := s.store.UpsertMemoryEntry(c.Request().Context(), &store.UpsertMemoryEntry{
		FamilyID:  req.FamilyID,
		UserID:    req.UserID,
		Namespace: req.Namespace,
		Key:       req.Key,
		Value:     req.Value,
	})
	if err != nil {
		s.log.Error("failed to upsert memory entry", "key", req.Key, "error", err)
		return c.JSON(http.StatusInternalServerError, errorBody{Message: "failed to store memory entry"})
	}
	return c.JSON(http.StatusOK, map[string]any{})
}

func (s *Service) handleCommit(c echo.Context) error {
	var req backend.CommitRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Message: "malformed request body"})
	}
	ctx := c.Request().Context()

	name := strings.TrimSpace(req.FamilyName)
	if name == "" {
		return c.JSON(http.StatusBadRequest, errorBody{Message: "family_name is required"})
	}
	if len(req.Members) == 0 {
		return c.JSON(http.StatusBadRequest, errorBody{Message: "at least one member is required"})
	}
	if len(req.Rooms) == 0 {
		return c.JSON(http.StatusBadRequest, errorBody{Message: "at least one room is required"})
	}

	familyID := req.FamilyID
	if familyID == "" {
		family, err := s.store.UpsertFamily(ctx, &store.UpsertFamily{ID: "fam_" + shortuuid.New(), Name: name})
		if err != nil {
			s.log.Error("failed to bind family on commit", "name", name, "error", err)
			return c.JSON(http.StatusInternalServerError, errorBody{Message: "failed to bind family"})
		}
		familyID = family.ID
	}

	// The server's room list is authoritative: canonical casing, no dupes.
	rooms := canonicalRooms(req.Rooms)

	membersJSON, err := json.Marshal(req.Members)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorBody{Message: "failed to encode members"})
	}
	roomsJSON, err := json.Marshal(rooms)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorBody{Message: "failed to encode rooms"})
	}

	if _, err := s.store.CreateCommitRecord(ctx, &store.CommitRecord{
		FamilyID:   familyID,
		UserID:     req.UserID,
		FamilyName: name,
		Members:    string(membersJSON),
		Rooms:      string(roomsJSON),
	}); err != nil {
		s.log.Error("failed to persist commit", "family", familyID, "error", err)
		return c.JSON(http.StatusInternalServerError, errorBody{Message: "failed to persist commit"})
	}

	// Memory reflects the committed values from here on.
	s.persistSlots(ctx, familyID, req.UserID, name, membersFromWire(req.Members), rooms)

	return c.JSON(http.StatusOK, backend.CommitResponse{
		Rooms:   rooms,
		Message: "Home saved. Welcome, " + name + "!",
	})
}

func (s *Service) handleReset(c echo.Context) error {
	var req backend.ResetRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Message: "malformed request body"})
	}
	if req.UserID == "" {
		return c.JSON(http.StatusBadRequest, errorBody{Message: "userId is required"})
	}

	ctx := c.Request().Context()
	namespace := backend.MemoryNamespace
	del := &store.DeleteMemoryEntry{UserID: &req.UserID, Namespace: &namespace}
	if req.FamilyID != "" {
		del.FamilyID = &req.FamilyID
	}
	if err := s.store.DeleteMemoryEntries(ctx, del); err != nil {
		s.log.Error("failed to reset memory", "user", req.UserID, "error", err)
		return c.JSON(http.StatusInternalServerError, errorBody{Message: "failed to reset onboarding state"})
	}
	// A cleared setup is no longer committed.
	if err := s.store.DeleteCommitRecords(ctx, &store.DeleteCommitRecord{UserID: &req.UserID}); err != nil {
		s.log.Error("failed to clear commit history", "user", req.UserID, "error", err)
		return c.JSON(http.StatusInternalServerError, errorBody{Message: "failed to reset onboarding state"})
	}
	return c.JSON(http.StatusOK, map[string]any{})
}

// hydrateSlots reads the user's onboarding memory back into slot values.
// Rows are matched by user only: the engine may upsert before and after the
// family binds, and the newest write per key wins across that transition.
func (s *Service) hydrateSlots(ctx context.Context, userID string) (string, []onboarding.Member, []string) {
	namespace := backend.MemoryNamespace
	entries, err := s.store.ListMemoryEntries(ctx, &store.FindMemoryEntry{
		UserID:    &userID,
		Namespace: &namespace,
	})
	if err != nil {
		s.log.Warn("failed to hydrate onboarding memory", "user", userID, "error", err)
		return "", nil, nil
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].UpdatedTs < entries[j].UpdatedTs })

	var familyName string
	var members []onboarding.Member
	var rooms []string
	for _, entry := range entries {
		switch entry.Key {
		case backend.KeyFamilyName:
			var v string
			if err := json.Unmarshal([]byte(entry.Value), &v); err == nil && v != "" {
				familyName = v
			}
		case backend.KeyMemberCandidates:
			var v []onboarding.Member
			if err := json.Unmarshal([]byte(entry.Value), &v); err == nil && len(v) > 0 {
				members = v
			}
		case backend.KeyRoomCandidates:
			var v []string
			if err := json.Unmarshal([]byte(entry.Value), &v); err == nil && len(v) > 0 {
				rooms = v
			}
		}
	}
	return familyName, members, rooms
}

// persistSlots writes non-empty slot values back to memory. Failures are
// logged and swallowed; the engine owns the canonical state.
func (s *Service) persistSlots(ctx context.Context, familyID, userID, familyName string, members []onboarding.Member, rooms []string) {
	put := func(key string, value any) {
		data, err := json.Marshal(value)
		if err != nil {
			return
		}
		if _, err := s.store.UpsertMemoryEntry(ctx, &store.UpsertMemoryEntry{
			FamilyID:  familyID,
			UserID:    userID,
			Namespace: backend.MemoryNamespace,
			Key:       key,
			Value:     string(data),
		}); err != nil {
			s.log.Warn("failed to persist slot", "key", key, "error", err)
		}
	}
	if familyName != "" {
		put(backend.KeyFamilyName, familyName)
	}
	if len(members) > 0 {
		put(backend.KeyMemberCandidates, members)
	}
	if len(rooms) > 0 {
		put(backend.KeyRoomCandidates, rooms)
	}
}

func canonicalRooms(rooms []string) []string {
	seen := make(map[string]bool, len(rooms))
	out := make([]string, 0, len(rooms))
	for _, room := range rooms {
		room = strings.TrimSpace(room)
		if room == "" {
			continue
		}
		if canon, ok := vocab.CanonicalRoom(room); ok {
			room = canon
		} else {
			room = extract.TitleCase(room)
		}
		key := strings.ToLower(room)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, room)
	}
	return out
}

func mergeMemberLists(have, add []onboarding.Member) []onboarding.Member {
	seen := make(map[string]bool, len(have))
	for _, m := range have {
		seen[memberDedupeKey(m)] = true
	}
	out := have
	for _, m := range add {
		if m.Name == "" {
			continue
		}
		key := memberDedupeKey(m)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, m)
	}
	return out
}

func memberDedupeKey(m onboarding.Member) string {
	return strings.ToLower(strings.TrimSpace(m.Name)) + "|" + strings.ToLower(strings.TrimSpace(m.Role))
}

func mergeRoomLists(have, add []string) []string {
	seen := make(map[string]bool, len(have))
	for _, r := range have {
		seen[strings.ToLower(r)] = true
	}
	out := have
	for _, r := range add {
		if r == "" {
			continue
		}
		key := strings.ToLower(r)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, r)
	}
	return out
}

func membersFromWire(in []backend.CommitMember) []onboarding.Member {
	out := make([]onboarding.Member, 0, len(in))
	for _, m := range in {
		out = append(out, onboarding.Member{Name: m.Name, Role: m.Role, Email: m.Email})
	}
	return out
}
