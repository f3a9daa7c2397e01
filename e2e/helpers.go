//go:build e2e_manual
// +build e2e_manual

// Package e2e drives a running hearth server end to end over its public
// API. The tests only build with the e2e_manual tag and only run when
// ENABLE_MANUAL_E2E=true, so CI can never trip over them. Start the server
// first, e.g.:
//
//	hearth --mode dev --with-stub
//	ENABLE_MANUAL_E2E=true go test -tags e2e_manual ./e2e/
package e2e

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hearth-home/hearth/onboarding"
)

// RequireManualE2E guards every manual test: skipped in short mode, fatal
// in CI, and off unless explicitly enabled.
func RequireManualE2E(t *testing.T) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping manual e2e test in short mode")
	}
	if os.Getenv("CI") != "" {
		t.Fatal("manual e2e test must not run in CI")
	}
	if os.Getenv("ENABLE_MANUAL_E2E") != "true" {
		t.Skip("skipping manual e2e test: set ENABLE_MANUAL_E2E=true to run")
	}
}

func baseURL() string {
	if v := os.Getenv("HEARTH_E2E_BASE_URL"); v != "" {
		return strings.TrimRight(v, "/")
	}
	return "http://127.0.0.1:8787"
}

// client drives the onboarding API as one user.
type client struct {
	t      *testing.T
	base   string
	userID string
	http   *http.Client
}

func newClient(t *testing.T, userID string) *client {
	t.Helper()
	return &client{
		t:      t,
		base:   baseURL(),
		userID: userID,
		http:   &http.Client{Timeout: 90 * time.Second},
	}
}

func (c *client) do(method, path string, body any) *http.Response {
	c.t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(c.t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, c.base+path, reader)
	require.NoError(c.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-User-ID", c.userID)

	resp, err := c.http.Do(req)
	require.NoError(c.t, err, "%s %s", method, path)
	return resp
}

// turnResult mirrors the done record of one streamed turn.
type turnResult struct {
	Reply     string                       `json:"reply"`
	Step      string                       `json:"step"`
	Source    string                       `json:"source"`
	Committed bool                         `json:"committed"`
	State     onboarding.ConversationState `json:"state"`
}

// sendMessage posts one turn and reads the event stream through the done
// record.
func (c *client) sendMessage(message string) turnResult {
	c.t.Helper()

	resp := c.do(http.MethodPost, "/api/v1/onboarding/messages", map[string]string{"message": message})
	defer resp.Body.Close()
	require.Equal(c.t, http.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)

	var (
		result turnResult
		done   bool
	)
	for _, record := range strings.Split(string(raw), "\n\n") {
		record = strings.TrimSpace(record)
		if record == "" || strings.HasPrefix(record, ":") {
			continue
		}
		var event, data string
		for _, line := range strings.Split(record, "\n") {
			if after, ok := strings.CutPrefix(line, "event: "); ok {
				event = after
			}
			if after, ok := strings.CutPrefix(line, "data: "); ok {
				data = after
			}
		}
		switch event {
		case "error":
			c.t.Fatalf("turn for %q failed: %s", message, data)
		case "done":
			require.NoError(c.t, json.Unmarshal([]byte(data), &result))
			done = true
		}
	}
	require.True(c.t, done, "stream for %q ended without a done record", message)
	return result
}

func (c *client) getState() onboarding.ConversationState {
	c.t.Helper()

	resp := c.do(http.MethodGet, "/api/v1/onboarding/state", nil)
	defer resp.Body.Close()
	require.Equal(c.t, http.StatusOK, resp.StatusCode)

	var state onboarding.ConversationState
	require.NoError(c.t, json.NewDecoder(resp.Body).Decode(&state))
	return state
}

func (c *client) reset() {
	c.t.Helper()

	resp := c.do(http.MethodPost, "/api/v1/onboarding/reset", map[string]bool{"skipServer": false})
	defer resp.Body.Close()
	require.Equal(c.t, http.StatusOK, resp.StatusCode)
}
