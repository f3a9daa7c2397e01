package v1

import (
	"encoding/json"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListConversationsWithFilter(t *testing.T) {
	e, _ := newTestEnv(t, nil)

	// user-a progresses to the members step, user-b only opens the page.
	rec := doRequest(e, http.MethodPost, "/api/v1/onboarding/messages",
		`{"message":"the smiths"}`, devIdentity("user-a"))
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doRequest(e, http.MethodGet, "/api/v1/onboarding/state", "", devIdentity("user-b"))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(e, http.MethodGet, "/api/v1/onboarding/conversations", "", devIdentity("admin"))
	require.Equal(t, http.StatusOK, rec.Code)
	var all conversationsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	assert.Equal(t, 2, all.Total)

	query := "/api/v1/onboarding/conversations?filter=" + url.QueryEscape("step == 'members' && memberCount == 0")
	rec = doRequest(e, http.MethodGet, query, "", devIdentity("admin"))
	require.Equal(t, http.StatusOK, rec.Code)
	var filtered conversationsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &filtered))
	require.Equal(t, 1, filtered.Total)
	assert.Equal(t, "The Smiths", filtered.Conversations[0].FamilyName)
	assert.Equal(t, "user-a", filtered.Conversations[0].UserID)
}

func TestListConversationsRejectsBadFilter(t *testing.T) {
	e, _ := newTestEnv(t, nil)

	rec := doRequest(e, http.MethodGet,
		"/api/v1/onboarding/conversations?filter="+url.QueryEscape("step == (("),
		"", devIdentity("admin"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(e, http.MethodGet,
		"/api/v1/onboarding/conversations?filter="+url.QueryEscape("memberCount"),
		"", devIdentity("admin"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "boolean")
}

func TestListConversationsNewestFirst(t *testing.T) {
	e, _ := newTestEnv(t, nil)

	rec := doRequest(e, http.MethodGet, "/api/v1/onboarding/state", "", devIdentity("user-old"))
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doRequest(e, http.MethodPost, "/api/v1/onboarding/messages",
		`{"message":"the parks"}`, devIdentity("user-new"))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(e, http.MethodGet, "/api/v1/onboarding/conversations", "", devIdentity("admin"))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp conversationsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 2, resp.Total)
	assert.Equal(t, "user-new", resp.Conversations[0].UserID, "most recent activity sorts first")
}
