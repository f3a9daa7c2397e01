package telegram

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearth-home/hearth/plugin/chatapps"
	"github.com/hearth-home/hearth/plugin/chatapps/channels"
)

type botCall struct {
	method string
	params url.Values
}

// fakeBotAPI records every Bot API call and answers with canned
// responses, standing in for a self-hosted Bot API server.
type fakeBotAPI struct {
	mu     sync.Mutex
	calls  []botCall
	nextID int
}

func (f *fakeBotAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	method := path.Base(r.URL.Path)

	f.mu.Lock()
	f.calls = append(f.calls, botCall{method: method, params: r.PostForm})
	f.nextID++
	id := f.nextID
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch method {
	case "getMe":
		fmt.Fprint(w, `{"ok":true,"result":{"id":42,"is_bot":true,"first_name":"Hearth","username":"hearth_unit_bot"}}`)
	case "sendMessage", "editMessageText":
		fmt.Fprintf(w, `{"ok":true,"result":{"message_id":%d,"date":1,"chat":{"id":1},"text":"ok"}}`, id)
	default:
		fmt.Fprint(w, `{"ok":true,"result":true}`)
	}
}

func (f *fakeBotAPI) byMethod(method string) []botCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []botCall
	for _, call := range f.calls {
		if call.method == method {
			out = append(out, call)
		}
	}
	return out
}

// lastDeliveredText returns the text of the most recent send or edit, i.e.
// what the chat ends up showing.
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

func newTestChannel(t *testing.T, mutate func(*Config)) (*Channel, *fakeBotAPI) {
	t.Helper()

	fake := &fakeBotAPI{}
	ts := httptest.NewServer(fake)
	t.Cleanup(ts.Close)

	cfg := Config{
		BotToken:      "123456:unit-test-token",
		APIEndpoint:   ts.URL + "/bot%s/%s",
		DraftInterval: 20 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	ch, err := New(cfg)
	require.NoError(t, err)
	return ch, fake
}

func TestNewAuthenticatesAgainstBotAPI(t *testing.T) {
	ch, fake := newTestChannel(t, nil)
	assert.Equal(t, chatapps.PlatformTelegram, ch.Name())
	assert.Equal(t, "hearth_unit_bot", ch.BotUsername())
	assert.Len(t, fake.byMethod("getMe"), 1)
}

func TestNewFailsWhenBotAPIUnreachable(t *testing.T) {
	_, err := New(Config{BotToken: "123456:x", APIEndpoint: "http://127.0.0.1:1/bot%s/%s"})
	require.Error(t, err)
}

func TestValidateWebhookSecret(t *testing.T) {
	ctx := context.Background()

	open, _ := newTestChannel(t, nil)
	assert.NoError(t, open.ValidateWebhook(ctx, nil, nil))

	secured, _ := newTestChannel(t, func(c *Config) { c.WebhookSecret = "hook-secret" })
	assert.NoError(t, secured.ValidateWebhook(ctx, map[string]string{
		"X-Telegram-Bot-Api-Secret-Token": "hook-secret",
	}, nil))
	assert.ErrorIs(t, secured.ValidateWebhook(ctx, nil, nil), channels.ErrInvalidSignature)
	assert.ErrorIs(t, secured.ValidateWebhook(ctx, map[string]string{
		"X-Telegram-Bot-Api-Secret-Token": "wrong",
	}, nil), channels.ErrInvalidSignature)
}

func TestParseMessage(t *testing.T) {
	ch, _ := newTestChannel(t, nil)
	ctx := context.Background()

	t.Run("text", func(t *testing.T) {
		payload := `{"update_id":7,"message":{"message_id":1,"from":{"id":777,"is_bot":false,"username":"ann","language_code":"en"},"chat":{"id":555,"type":"private"},"date":1700000000,"text":"  we are the smiths  "}}`
		msg, err := ch.ParseMessage(ctx, []byte(payload))
		require.NoError(t, err)
		assert.Equal(t, chatapps.PlatformTelegram, msg.Platform)
		assert.Equal(t, "777", msg.PlatformUserID)
		assert.Equal(t, "555", msg.PlatformChatID)
		assert.Equal(t, chatapps.MessageTypeText, msg.Type)
		assert.Equal(t, "we are the smiths", msg.Content)
		assert.Equal(t, "7", msg.Metadata["update_id"])
		assert.Equal(t, "ann", msg.Metadata["username"])
		assert.Equal(t, "en", msg.Metadata["language_code"])
	})

	t.Run("edited message", func(t *testing.T) {
		payload := `{"update_id":8,"edited_message":{"message_id":1,"from":{"id":777},"chat":{"id":555},"text":"the smyths actually"}}`
		msg, err := ch.ParseMessage(ctx, []byte(payload))
		require.NoError(t, err)
		assert.Equal(t, chatapps.MessageTypeText, msg.Type)
		assert.Equal(t, "the smyths actually", msg.Content)
	})

	t.Run("photo caption counts as text", func(t *testing.T) {
		payload := `{"update_id":9,"message":{"message_id":2,"from":{"id":777},"chat":{"id":555},"photo":[{"file_id":"f1","file_unique_id":"u1","width":1,"height":1}],"caption":"our kitchen"}}`
		msg, err := ch.ParseMessage(ctx, []byte(payload))
		require.NoError(t, err)
		assert.Equal(t, chatapps.MessageTypeText, msg.Type)
		assert.Equal(t, "our kitchen", msg.Content)
	})

	t.Run("voice without caption is unsupported", func(t *testing.T) {
		payload := `{"update_id":10,"message":{"message_id":3,"from":{"id":777},"chat":{"id":555},"voice":{"file_id":"v1","file_unique_id":"u2","duration":2}}}`
		msg, err := ch.ParseMessage(ctx, []byte(payload))
		require.NoError(t, err)
		assert.Equal(t, chatapps.MessageTypeUnsupported, msg.Type)
		assert.Empty(t, msg.Content)
	})

	t.Run("rejects garbage", func(t *testing.T) {
		_, err := ch.ParseMessage(ctx, []byte("not json"))
		assert.ErrorIs(t, err, channels.ErrInvalidPayload)
	})

	t.Run("rejects update without message", func(t *testing.T) {
		_, err := ch.ParseMessage(ctx, []byte(`{"update_id":11}`))
		assert.ErrorIs(t, err, channels.ErrInvalidPayload)
	})

	t.Run("rejects message without sender", func(t *testing.T) {
		_, err := ch.ParseMessage(ctx, []byte(`{"update_id":12,"message":{"message_id":4,"chat":{"id":555},"text":"hi"}}`))
		assert.ErrorIs(t, err, channels.ErrInvalidPayload)
	})
}

func TestSendMessageFlattensMarkdown(t *testing.T) {
	ch, fake := newTestChannel(t, nil)

	err := ch.SendMessage(context.Background(), &chatapps.OutgoingMessage{
		PlatformChatID: "555",
		Content:        "**All set!** Your home is saved.",
	})
	require.NoError(t, err)

	sends := fake.byMethod("sendMessage")
	require.Len(t, sends, 1)
	assert.Equal(t, "All set! Your home is saved.", sends[0].params.Get("text"))
	assert.Equal(t, "555", sends[0].params.Get("chat_id"))
	assert.Empty(t, sends[0].params.Get("parse_mode"))
}

func TestSendMessageHonorsParseMode(t *testing.T) {
	ch, fake := newTestChannel(t, nil)

	err := ch.SendMessage(context.Background(), &chatapps.OutgoingMessage{
		PlatformChatID: "555",
		Content:        "*kept as is*",
		ParseMode:      "MarkdownV2",
	})
	require.NoError(t, err)

	sends := fake.byMethod("sendMessage")
	require.Len(t, sends, 1)
	assert.Equal(t, "*kept as is*", sends[0].params.Get("text"))
	assert.Equal(t, "MarkdownV2", sends[0].params.Get("parse_mode"))
}

func TestSendMessageSplitsLongText(t *testing.T) {
	ch, fake := newTestChannel(t, nil)

	content := strings.TrimSpace(strings.Repeat("word ", 1200))
	err := ch.SendMessage(context.Background(), &chatapps.OutgoingMessage{
		PlatformChatID: "555",
		Content:        content,
	})
	require.NoError(t, err)

	sends := fake.byMethod("sendMessage")
	require.Len(t, sends, 2)
	var pieces []string
	for _, call := range sends {
		text := call.params.Get("text")
		assert.LessOrEqual(t, len(text), 4096)
		pieces = append(pieces, text)
	}
	assert.Equal(t, content, strings.Join(pieces, " "))
}

func TestSendMessageRejectsBadChatID(t *testing.T) {
	ch, _ := newTestChannel(t, nil)
	err := ch.SendMessage(context.Background(), &chatapps.OutgoingMessage{PlatformChatID: "not-a-number", Content: "hi"})
	require.Error(t, err)
}

func TestSendChunkedMessageGrowsDraft(t *testing.T) {
	ch, fake := newTestChannel(t, nil)

	chunks := make(chan string)
	done := make(chan error, 1)
	go func() {
		done <- ch.SendChunkedMessage(context.Background(), "555", chunks)
	}()

	chunks <- "Getting your home "
	require.Eventually(t, func() bool {
		return len(fake.byMethod("sendMessage")) == 1
	}, 2*time.Second, 5*time.Millisecond, "first flush should send the draft message")

	chunks <- "ready now."
	close(chunks)
	require.NoError(t, <-done)

	assert.Len(t, fake.byMethod("sendMessage"), 1, "later flushes edit instead of sending")
	assert.NotEmpty(t, fake.byMethod("editMessageText"))
	assert.Equal(t, "Getting your home ready now.", fake.lastDeliveredText())
}

func TestSendChunkedMessageSingleBurst(t *testing.T) {
	ch, fake := newTestChannel(t, func(c *Config) { c.DraftInterval = time.Hour })

	chunks := make(chan string, 2)
	chunks <- "**All set!**"
	chunks <- " Your home is saved."
	close(chunks)
	require.NoError(t, ch.SendChunkedMessage(context.Background(), "555", chunks))

	assert.Len(t, fake.byMethod("sendMessage"), 1)
	assert.Empty(t, fake.byMethod("editMessageText"))
	assert.Equal(t, "All set! Your home is saved.", fake.lastDeliveredText())
}

func TestSendChunkedMessageEmptyStream(t *testing.T) {
	ch, fake := newTestChannel(t, nil)

	chunks := make(chan string)
	close(chunks)
	require.NoError(t, ch.SendChunkedMessage(context.Background(), "555", chunks))
	assert.Empty(t, fake.byMethod("sendMessage"))
	assert.Empty(t, fake.byMethod("editMessageText"))
}

func TestSendChunkedMessageStopsOnContextCancel(t *testing.T) {
	ch, _ := newTestChannel(t, func(c *Config) { c.DraftInterval = time.Hour })

	ctx, cancel := context.WithCancel(context.Background())
	chunks := make(chan string)
	done := make(chan error, 1)
	go func() {
		done <- ch.SendChunkedMessage(ctx, "555", chunks)
	}()

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestSendChunkedMessageRejectsBadChatID(t *testing.T) {
	ch, _ := newTestChannel(t, nil)
	chunks := make(chan string)
	require.Error(t, ch.SendChunkedMessage(context.Background(), "nope", chunks))
}

func TestRegisterWebhookSendsSecret(t *testing.T) {
	ch, fake := newTestChannel(t, func(c *Config) { c.WebhookSecret = "hook-secret" })

	require.NoError(t, ch.RegisterWebhook("https://hearth.example/webhooks/telegram", true))

	calls := fake.byMethod("setWebhook")
	require.Len(t, calls, 1)
	assert.Equal(t, "https://hearth.example/webhooks/telegram", calls[0].params.Get("url"))
	assert.Equal(t, "hook-secret", calls[0].params.Get("secret_token"))
	assert.Equal(t, "true", calls[0].params.Get("drop_pending_updates"))
}

func TestRegisterWebhookWithoutSecret(t *testing.T) {
	ch, fake := newTestChannel(t, nil)

	require.NoError(t, ch.RegisterWebhook("https://hearth.example/webhooks/telegram", false))

	calls := fake.byMethod("setWebhook")
	require.Len(t, calls, 1)
	_, hasSecret := calls[0].params["secret_token"]
	assert.False(t, hasSecret)
	_, hasDrop := calls[0].params["drop_pending_updates"]
	assert.False(t, hasDrop)
}

func TestRegisterWebhookRejectsBadURL(t *testing.T) {
	ch, _ := newTestChannel(t, nil)
	require.Error(t, ch.RegisterWebhook("http://bad url/hook", false))
}

func TestDeleteWebhook(t *testing.T) {
	ch, fake := newTestChannel(t, nil)
	require.NoError(t, ch.DeleteWebhook())
	calls := fake.byMethod("deleteWebhook")
	require.Len(t, calls, 1)
	assert.Equal(t, "true", calls[0].params.Get("drop_pending_updates"))
}

func TestSplitMessage(t *testing.T) {
	assert.Nil(t, splitMessage("   ", 10))
	assert.Equal(t, []string{"short"}, splitMessage("short", 10))
	assert.Equal(t, []string{"aaa", "bbb"}, splitMessage("aaa\nbbb", 5))
	assert.Equal(t, []string{"one two", "three four"}, splitMessage("one two\nthree four", 12))
	assert.Equal(t, []string{"alpha beta", "gamma"}, splitMessage("alpha beta gamma", 12))
}

func TestSplitMessageKeepsRunesIntact(t *testing.T) {
	long := strings.Repeat("é", 300)
	pieces := splitMessage(long, 101)
	require.NotEmpty(t, pieces)
	for _, piece := range pieces {
		assert.True(t, utf8.ValidString(piece))
		assert.LessOrEqual(t, len(piece), 101)
	}
	assert.Equal(t, long, strings.Join(pieces, ""))
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "héllo", truncateRunes("héllo", 10))
	assert.Equal(t, "hé", truncateRunes("héllo", 3))
	assert.Equal(t, "h", truncateRunes("héllo", 2), "never cuts inside a rune")
}
