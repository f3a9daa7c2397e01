//go:build e2e_manual
// +build e2e_manual

package e2e

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestOnboardingFunnel walks a fresh user from greeting to committed
// against the live server. Step transitions stay deterministic even when
// the server runs with a real model, so only the captured state is
// asserted, never the prose.
func TestOnboardingFunnel(t *testing.T) {
	RequireManualE2E(t)

	c := newClient(t, fmt.Sprintf("e2e-%d", time.Now().UnixNano()))
	t.Cleanup(c.reset)

	state := c.getState()
	require.Equal(t, "greeting", string(state.Step))
	require.NotEmpty(t, state.Messages, "a fresh conversation opens with the greeting")

	turns := []struct {
		message string
		step    string
	}{
		{"the parkers", "members"},
		{"my wife Sarah and my son Jake", "members"},
		{"that's everyone", "rooms"},
		{"we have a kitchen and a guest bathroom", "rooms"},
		{"that's everything", "committed"},
	}
	var last turnResult
	for _, turn := range turns {
		last = c.sendMessage(turn.message)
		require.Equalf(t, turn.step, last.Step, "message %q got reply %q", turn.message, last.Reply)
		require.NotEmpty(t, last.Reply)
	}
	require.True(t, last.Committed)

	state = c.getState()
	assert.Equal(t, "The Parkers", state.FamilyName)
	assert.Len(t, state.Members, 2)
	assert.Equal(t, []string{"Kitchen", "Guest Bathroom"}, state.Rooms)
	require.NotEmpty(t, state.FamilyID, "commit resolves a family id")
}

// TestResetClearsEverything confirms a reset wipes the slots server-side
// too: after the wipe the same user starts from the greeting again.
func TestResetClearsEverything(t *testing.T) {
	RequireManualE2E(t)

	c := newClient(t, fmt.Sprintf("e2e-reset-%d", time.Now().UnixNano()))

	res := c.sendMessage("the gardeners")
	require.Equal(t, "members", res.Step)

	c.reset()

	state := c.getState()
	assert.Equal(t, "greeting", string(state.Step))
	assert.Empty(t, state.FamilyName)
	assert.Empty(t, state.Members)
	assert.Empty(t, state.Rooms)
}
