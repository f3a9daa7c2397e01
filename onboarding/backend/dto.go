// Package backend is the HTTP client for the onboarding collaborators: the
// streaming assistant, the key-value memory store, and the commit/reset and
// family-resolution endpoints.
package backend

// Memory namespace and slot keys used for onboarding upserts.
const (
	MemoryNamespace     = "onboarding"
	KeyFamilyName       = "family_name"
	KeyMemberCandidates = "member_candidates"
	KeyRoomCandidates   = "room_candidates"
)

// HistoryEntry is one prior message sent along with an assistant request.
type HistoryEntry struct {
	Sender string `json:"sender"`
	Text   string `json:"text"`
}

// StreamRequest asks the assistant for a streamed onboarding reply.
type StreamRequest struct {
	Message  string         `json:"message"`
	FamilyID string         `json:"familyId"`
	UserID   string         `json:"userId"`
	History  []HistoryEntry `json:"history"`
}

// MemoryUpsert stores one slot value. Value carries the JSON-encoded slot,
// stringified so the memory store stays schema-free.
type MemoryUpsert struct {
	FamilyID  string `json:"familyId"`
	UserID    string `json:"userId"`
	Namespace string `json:"namespace"`
	Key       string `json:"key"`
	Value     string `json:"value"`
}

// CommitMember is the wire shape of one member in a commit call.
type CommitMember struct {
	Name  string `json:"name"`
	Role  string `json:"role"`
	Email string `json:"email,omitempty"`
}

// CommitRequest persists the finished onboarding triple.
type CommitRequest struct {
	FamilyID   string         `json:"familyId"`
	UserID     string         `json:"userId"`
	FamilyName string         `json:"family_name"`
	Members    []CommitMember `json:"members"`
	Rooms      []string       `json:"rooms"`
}

// CommitResponse may carry the authoritative room list and a message.
type CommitResponse struct {
	Rooms   []string `json:"rooms,omitempty"`
	Message string   `json:"message,omitempty"`
}

// ResetRequest clears server-side onboarding state.
type ResetRequest struct {
	UserID   string `json:"userId"`
	FamilyID string `json:"familyId,omitempty"`
}

// ResolveFamilyRequest lazily creates a family record for a name.
type ResolveFamilyRequest struct {
	FamilyName string `json:"familyName"`
}

// ResolveFamilyResponse returns the bound family id.
type ResolveFamilyResponse struct {
	ID string `json:"id"`
}
