package v1

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearth-home/hearth/internal/profile"
	"github.com/hearth-home/hearth/onboarding"
	"github.com/hearth-home/hearth/plugin/chatapps"
	"github.com/hearth-home/hearth/plugin/chatapps/channels/telegram"
	chatstore "github.com/hearth-home/hearth/plugin/chatapps/store"
)

// fakeBotAPI stands in for the Telegram Bot API and records what the
// channel delivers.
type fakeBotAPI struct {
	mu     sync.Mutex
	calls  []botAPICall
	nextID int
}

type botAPICall struct {
	method string
	params url.Values
}

func (f *fakeBotAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	method := path.Base(r.URL.Path)

	f.mu.Lock()
	f.calls = append(f.calls, botAPICall{method: method, params: r.PostForm})
	f.nextID++
	id := f.nextID
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch method {
	case "getMe":
		fmt.Fprint(w, `{"ok":true,"result":{"id":42,"is_bot":true,"first_name":"Hearth","username":"hearth_test_bot"}}`)
	case "sendMessage", "editMessageText":
		fmt.Fprintf(w, `{"ok":true,"result":{"message_id":%d,"date":1,"chat":{"id":1},"text":"ok"}}`, id)
	default:
		fmt.Fprint(w, `{"ok":true,"result":true}`)
	}
}

// lastDeliveredText returns the text the chat would currently show.
func (f *fakeBotAPI) lastDeliveredText() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	text := ""
	for _, call := range f.calls {
		if call.method == "sendMessage" || call.method == "editMessageText" {
			text = call.params.Get("text")
		}
	}
	return text
}

func newChatBot(t *testing.T, secret string) (*telegram.Channel, *fakeBotAPI) {
	t.Helper()

	fake := &fakeBotAPI{}
	ts := httptest.NewServer(fake)
	t.Cleanup(ts.Close)

	ch, err := telegram.New(telegram.Config{
		BotToken:      "123456:test-token",
		WebhookSecret: secret,
		APIEndpoint:   ts.URL + "/bot%s/%s",
		DraftInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	return ch, fake
}

func telegramUpdate(updateID int, userID int64, text string) string {
	return fmt.Sprintf(
		`{"update_id":%d,"message":{"message_id":1,"from":{"id":%d,"is_bot":false,"username":"ann"},"chat":{"id":%d,"type":"private"},"date":1700000000,"text":%q}}`,
		updateID, userID, userID, text,
	)
}

func TestWebhookTurnStreamsReplyToChat(t *testing.T) {
	e, svc := newTestEnv(t, nil)
	bot, fake := newChatBot(t, "")
	svc.ChatApps.RegisterChannel(bot)

	rec := doRequest(e, http.MethodPost, "/webhooks/telegram", telegramUpdate(1, 777, "the smiths"), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	want := "The Smiths, love it! Now, who lives with you? Tell me about your family members."
	require.Eventually(t, func() bool {
		return fake.lastDeliveredText() == want
	}, 5*time.Second, 20*time.Millisecond)

	eng, ok := svc.Manager.Get("", "telegram:777")
	require.True(t, ok, "unknown senders get a derived identity")
	state := eng.Snapshot()
	assert.Equal(t, "The Smiths", state.FamilyName)
	assert.Equal(t, onboarding.StepMembers, state.Step)

	// Second turn continues the same conversation.
	rec = doRequest(e, http.MethodPost, "/webhooks/telegram", telegramUpdate(2, 777, "my wife Sarah and my son Jake"), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Eventually(t, func() bool {
		return len(eng.Snapshot().Members) == 2
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, onboarding.StepMembers, eng.Snapshot().Step)
}

func TestWebhookUnsupportedMessageGetsHint(t *testing.T) {
	e, svc := newTestEnv(t, nil)
	bot, fake := newChatBot(t, "")
	svc.ChatApps.RegisterChannel(bot)

	payload := `{"update_id":3,"message":{"message_id":5,"from":{"id":778},"chat":{"id":778},"voice":{"file_id":"v1","file_unique_id":"u1","duration":2}}}`
	rec := doRequest(e, http.MethodPost, "/webhooks/telegram", payload, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Eventually(t, func() bool {
		return fake.lastDeliveredText() == unsupportedMessageReply
	}, 5*time.Second, 20*time.Millisecond)
}

func TestWebhookStartCommandRepeatsPrompt(t *testing.T) {
	e, svc := newTestEnv(t, nil)
	bot, fake := newChatBot(t, "")
	svc.ChatApps.RegisterChannel(bot)

	rec := doRequest(e, http.MethodPost, "/webhooks/telegram", telegramUpdate(4, 779, "/start"), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Eventually(t, func() bool {
		return fake.lastDeliveredText() == "Hi, I'm Hearth! Let's set up your home together. What should I call your family?"
	}, 5*time.Second, 20*time.Millisecond)

	// The command itself is not treated as an answer.
	eng, ok := svc.Manager.Get("", "telegram:779")
	require.True(t, ok)
	assert.Empty(t, eng.Snapshot().FamilyName)
}

func TestWebhookResetCommandOpensConfirmation(t *testing.T) {
	e, svc := newTestEnv(t, nil)
	bot, fake := newChatBot(t, "")
	svc.ChatApps.RegisterChannel(bot)

	rec := doRequest(e, http.MethodPost, "/webhooks/telegram", telegramUpdate(5, 780, "the smiths"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	// Wait for the first turn's delivery to settle before resetting.
	require.Eventually(t, func() bool {
		return strings.Contains(fake.lastDeliveredText(), "who lives with you?")
	}, 5*time.Second, 20*time.Millisecond)

	rec = doRequest(e, http.MethodPost, "/webhooks/telegram", telegramUpdate(6, 780, "/reset"), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Eventually(t, func() bool {
		return strings.Contains(fake.lastDeliveredText(), "Do you want to start over?")
	}, 5*time.Second, 20*time.Millisecond)

	eng, ok := svc.Manager.Get("", "telegram:780")
	require.True(t, ok)
	assert.True(t, eng.Snapshot().AwaitingReset)
	assert.Equal(t, "The Smiths", eng.Snapshot().FamilyName, "the confirmation alone clears nothing")
}

func TestWebhookEnforcesSecret(t *testing.T) {
	e, svc := newTestEnv(t, nil)
	bot, _ := newChatBot(t, "hook-secret")
	svc.ChatApps.RegisterChannel(bot)

	update := telegramUpdate(7, 781, "hello")

	rec := doRequest(e, http.MethodPost, "/webhooks/telegram", update, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(e, http.MethodPost, "/webhooks/telegram", update, map[string]string{
		"X-Telegram-Bot-Api-Secret-Token": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(e, http.MethodPost, "/webhooks/telegram", update, map[string]string{
		"X-Telegram-Bot-Api-Secret-Token": "hook-secret",
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhookUnknownPlatform(t *testing.T) {
	e, _ := newTestEnv(t, nil)

	rec := doRequest(e, http.MethodPost, "/webhooks/discord", `{}`, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Valid platform, but no channel came up.
	rec = doRequest(e, http.MethodPost, "/webhooks/telegram", telegramUpdate(8, 782, "hi"), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebhookAcksUnusablePayload(t *testing.T) {
	e, svc := newTestEnv(t, nil)
	bot, _ := newChatBot(t, "")
	svc.ChatApps.RegisterChannel(bot)

	// Platforms redeliver on non-2xx, so garbage is acknowledged and dropped.
	rec := doRequest(e, http.MethodPost, "/webhooks/telegram", "not json", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, svc.Manager.Len())
}

func TestCredentialLifecycle(t *testing.T) {
	e, svc := newTestEnv(t, func(p *profile.Profile) { p.ChatCredentialKey = "master-key" })
	headers := map[string]string{headerUserID: "user-1", headerFamilyID: "fam-1"}

	body := `{"platform":"telegram","platformUserId":"777","platformChatId":"888","botToken":"123456:raw-secret"}`
	rec := doRequest(e, http.MethodPost, "/api/v1/chatapps/credentials", body, headers)
	require.Equal(t, http.StatusOK, rec.Code)

	var created credentialPayload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Positive(t, created.ID)
	assert.Equal(t, "user-1", created.UserID)
	assert.Equal(t, "fam-1", created.FamilyID)
	assert.True(t, created.HasBotToken)
	assert.True(t, created.Enabled)
	assert.NotContains(t, rec.Body.String(), "raw-secret", "the bot token never leaves the server")

	// At rest the token is sealed; the configured key recovers it.
	stored, err := svc.ChatApps.creds.GetByPlatformUser(context.Background(), chatapps.PlatformTelegram, "777")
	require.NoError(t, err)
	require.NotEqual(t, "123456:raw-secret", stored.BotToken)
	plain, err := chatstore.DecryptToken(stored.BotToken, "master-key")
	require.NoError(t, err)
	assert.Equal(t, "123456:raw-secret", plain)

	rec = doRequest(e, http.MethodGet, "/api/v1/chatapps/credentials", "", headers)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed listCredentialsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Equal(t, 1, listed.Total)
	assert.Equal(t, created.ID, listed.Credentials[0].ID)

	rec = doRequest(e, http.MethodGet, "/api/v1/chatapps/credentials", "", devIdentity("someone-else"))
	require.Equal(t, http.StatusOK, rec.Code)
	var others listCredentialsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &others))
	assert.Zero(t, others.Total)

	credPath := fmt.Sprintf("/api/v1/chatapps/credentials/%d", created.ID)

	rec = doRequest(e, http.MethodPatch, credPath, `{"enabled":false}`, headers)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(e, http.MethodDelete, credPath, "", headers)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = doRequest(e, http.MethodDelete, credPath, "", headers)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(e, http.MethodGet, "/api/v1/chatapps/credentials", "", headers)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Zero(t, listed.Total)
}

func TestCredentialRequestValidation(t *testing.T) {
	e, _ := newTestEnv(t, func(p *profile.Profile) { p.ChatCredentialKey = "master-key" })
	headers := devIdentity("user-1")

	rec := doRequest(e, http.MethodPost, "/api/v1/chatapps/credentials", `{"platform":"discord","platformUserId":"1"}`, headers)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(e, http.MethodPost, "/api/v1/chatapps/credentials", `{"platform":"telegram"}`, headers)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(e, http.MethodPatch, "/api/v1/chatapps/credentials/abc", `{"enabled":true}`, headers)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(e, http.MethodPatch, "/api/v1/chatapps/credentials/1", `{}`, headers)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(e, http.MethodPatch, "/api/v1/chatapps/credentials/424242", `{"enabled":true}`, headers)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCredentialRequiresConfiguredKey(t *testing.T) {
	e, _ := newTestEnv(t, nil)
	headers := devIdentity("user-1")

	rec := doRequest(e, http.MethodPost, "/api/v1/chatapps/credentials",
		`{"platform":"telegram","platformUserId":"777","botToken":"123456:raw"}`, headers)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	// A binding without a token needs no key at all.
	rec = doRequest(e, http.MethodPost, "/api/v1/chatapps/credentials",
		`{"platform":"telegram","platformUserId":"777"}`, headers)
	require.Equal(t, http.StatusOK, rec.Code)
	var created credentialPayload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.False(t, created.HasBotToken)
}

func TestCredentialMapsWebhookIdentity(t *testing.T) {
	e, svc := newTestEnv(t, func(p *profile.Profile) { p.ChatCredentialKey = "master-key" })
	bot, fake := newChatBot(t, "")
	svc.ChatApps.RegisterChannel(bot)

	headers := map[string]string{headerUserID: "user-9", headerFamilyID: "fam-9"}
	rec := doRequest(e, http.MethodPost, "/api/v1/chatapps/credentials",
		`{"platform":"telegram","platformUserId":"777"}`, headers)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(e, http.MethodPost, "/webhooks/telegram", telegramUpdate(9, 777, "the smiths"), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Eventually(t, func() bool {
		eng, ok := svc.Manager.Get("fam-9", "user-9")
		return ok && eng.Snapshot().FamilyName == "The Smiths"
	}, 5*time.Second, 20*time.Millisecond)

	_, derived := svc.Manager.Get("", "telegram:777")
	assert.False(t, derived, "mapped senders must not get a derived identity")

	require.Eventually(t, func() bool {
		return fake.lastDeliveredText() != ""
	}, 5*time.Second, 20*time.Millisecond)
}
