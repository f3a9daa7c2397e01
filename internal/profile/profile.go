package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Profile is configuration to start the onboarding service.
type Profile struct {
	// Household backend collaborators (assistant stream, memory, commit,
	// reset, family resolution) all live behind one base URL.
	BackendBaseURL string // e.g. https://api.hearth.example.com
	BackendToken   string // service token attached to collaborator calls

	// Dialogue tuning
	FallbackGraceMS int // wait before synthesizing a fallback reply (ms)
	HistoryWindow   int // trailing messages sent to the assistant as history
	StreamTimeout   int // assistant stream timeout in seconds

	// Identity / limits
	JWTSecret            string // bearer-token verification; header identity when empty
	RateLimitPerMinute   int    // user messages per minute
	RateLimitBurst       int
	MaxConcurrentStreams int64 // service-wide cap on live assistant streams

	// Built-in development backend
	StubEnabled    bool
	StubLLMAPIKey  string // optional OpenAI-compatible key for stub replies
	StubLLMBaseURL string
	StubLLMModel   string

	// Chat channels
	TelegramToken         string
	TelegramWebhookSecret string
	ChatCredentialKey     string // passphrase for chat credential encryption at rest

	// Server
	Mode        string
	Addr        string
	Port        int
	Data        string
	Driver      string
	DSN         string
	Version     string
	InstanceURL string
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// FallbackGrace returns the configured fallback grace delay.
func (p *Profile) FallbackGrace() time.Duration {
	return time.Duration(p.FallbackGraceMS) * time.Millisecond
}

// IsStubLLMEnabled returns true if the stub assistant may call an LLM.
func (p *Profile) IsStubLLMEnabled() bool {
	return p.StubLLMAPIKey != ""
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultInt returns environment variable value as int or default value.
func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables.
func (p *Profile) FromEnv() {
	p.BackendBaseURL = getEnvOrDefault("HEARTH_BACKEND_BASE_URL", "")
	p.BackendToken = getEnvOrDefault("HEARTH_BACKEND_TOKEN", "")

	p.FallbackGraceMS = getEnvOrDefaultInt("HEARTH_FALLBACK_GRACE_MS", 900)
	p.HistoryWindow = getEnvOrDefaultInt("HEARTH_HISTORY_WINDOW", 10)
	p.StreamTimeout = getEnvOrDefaultInt("HEARTH_STREAM_TIMEOUT_SECONDS", 60)

	p.JWTSecret = getEnvOrDefault("HEARTH_JWT_SECRET", "")
	p.RateLimitPerMinute = getEnvOrDefaultInt("HEARTH_RATE_LIMIT_PER_MINUTE", 30)
	p.RateLimitBurst = getEnvOrDefaultInt("HEARTH_RATE_LIMIT_BURST", 10)
	p.MaxConcurrentStreams = int64(getEnvOrDefaultInt("HEARTH_MAX_CONCURRENT_STREAMS", 64))

	p.StubEnabled = getEnvOrDefault("HEARTH_STUB_ENABLED", "false") == "true"
	p.StubLLMAPIKey = getEnvOrDefault("HEARTH_STUB_LLM_API_KEY", "")
	p.StubLLMBaseURL = getEnvOrDefault("HEARTH_STUB_LLM_BASE_URL", "https://api.openai.com/v1")
	p.StubLLMModel = getEnvOrDefault("HEARTH_STUB_LLM_MODEL", "gpt-4o-mini")

	p.TelegramToken = getEnvOrDefault("HEARTH_TELEGRAM_TOKEN", "")
	p.TelegramWebhookSecret = getEnvOrDefault("HEARTH_TELEGRAM_WEBHOOK_SECRET", "")
	p.ChatCredentialKey = getEnvOrDefault("HEARTH_CHAT_CREDENTIAL_KEY", "")
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	// Without a backend the service can only run against its own stub.
	if p.BackendBaseURL == "" && !p.StubEnabled {
		if p.Mode == "prod" {
			return errors.New("backend base URL is required in prod mode (set HEARTH_BACKEND_BASE_URL or enable the stub)")
		}
		slog.Warn("no backend configured, enabling built-in stub backend")
		p.StubEnabled = true
	}

	if p.FallbackGraceMS < 0 {
		return errors.Errorf("fallback grace delay must be non-negative, got %d", p.FallbackGraceMS)
	}
	if p.HistoryWindow <= 0 {
		p.HistoryWindow = 10
	}

	// The stub backend needs somewhere to keep its directory data.
	if p.StubEnabled {
		if p.Mode == "prod" && p.Data == "" {
			if runtime.GOOS == "windows" {
				p.Data = filepath.Join(os.Getenv("ProgramData"), "hearth")
				if _, err := os.Stat(p.Data); os.IsNotExist(err) {
					if err := os.MkdirAll(p.Data, 0770); err != nil {
						slog.Error("failed to create data directory", slog.String("data", p.Data), slog.String("error", err.Error()))
						return err
					}
				}
			} else {
				p.Data = "/var/opt/hearth"
			}
		}

		dataDir, err := checkDataDir(p.Data)
		if err != nil {
			slog.Error("failed to check data dir", slog.String("data", p.Data), slog.String("error", err.Error()))
			return err
		}
		p.Data = dataDir

		if p.Driver == "" {
			p.Driver = "sqlite"
		}
		if p.Driver == "sqlite" && p.DSN == "" {
			dbFile := fmt.Sprintf("hearth_%s.db", p.Mode)
			p.DSN = filepath.Join(dataDir, dbFile)
		}
		if p.Driver == "postgres" && p.DSN == "" {
			return errors.New("postgres driver requires an explicit DSN")
		}
	}

	return nil
}
