package profile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	p := &Profile{}
	p.FromEnv()

	assert.Equal(t, 900, p.FallbackGraceMS)
	assert.Equal(t, 10, p.HistoryWindow)
	assert.Equal(t, 30, p.RateLimitPerMinute)
	assert.Equal(t, int64(64), p.MaxConcurrentStreams)
	assert.False(t, p.StubEnabled)
	assert.Equal(t, 900*time.Millisecond, p.FallbackGrace())
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("HEARTH_BACKEND_BASE_URL", "https://api.example.com")
	t.Setenv("HEARTH_FALLBACK_GRACE_MS", "250")
	t.Setenv("HEARTH_STUB_ENABLED", "true")
	t.Setenv("HEARTH_STUB_LLM_API_KEY", "sk-test")

	p := &Profile{}
	p.FromEnv()

	assert.Equal(t, "https://api.example.com", p.BackendBaseURL)
	assert.Equal(t, 250, p.FallbackGraceMS)
	assert.True(t, p.StubEnabled)
	assert.True(t, p.IsStubLLMEnabled())
}

func TestValidate(t *testing.T) {
	t.Run("unknown mode falls back to demo", func(t *testing.T) {
		p := &Profile{Mode: "staging", BackendBaseURL: "https://api.example.com"}
		require.NoError(t, p.Validate())
		assert.Equal(t, "demo", p.Mode)
	})

	t.Run("no backend in dev enables stub", func(t *testing.T) {
		p := &Profile{Mode: "dev", Data: t.TempDir()}
		require.NoError(t, p.Validate())
		assert.True(t, p.StubEnabled)
		assert.Equal(t, "sqlite", p.Driver)
		assert.Contains(t, p.DSN, "hearth_dev.db")
	})

	t.Run("no backend in prod is an error", func(t *testing.T) {
		p := &Profile{Mode: "prod"}
		require.Error(t, p.Validate())
	})

	t.Run("negative grace delay rejected", func(t *testing.T) {
		p := &Profile{Mode: "dev", BackendBaseURL: "https://api.example.com", FallbackGraceMS: -1}
		require.Error(t, p.Validate())
	})

	t.Run("postgres requires dsn", func(t *testing.T) {
		p := &Profile{Mode: "dev", StubEnabled: true, Driver: "postgres", Data: t.TempDir()}
		require.Error(t, p.Validate())
	})

	t.Run("history window defaulted", func(t *testing.T) {
		p := &Profile{Mode: "dev", BackendBaseURL: "https://api.example.com", HistoryWindow: 0}
		require.NoError(t, p.Validate())
		assert.Equal(t, 10, p.HistoryWindow)
	})
}

func TestIsDev(t *testing.T) {
	assert.True(t, (&Profile{Mode: "dev"}).IsDev())
	assert.True(t, (&Profile{Mode: "demo"}).IsDev())
	assert.False(t, (&Profile{Mode: "prod"}).IsDev())
}
