//go:build e2e_manual
// +build e2e_manual

package e2e

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hearth-home/hearth/plugin/chatapps"
	"github.com/hearth-home/hearth/plugin/chatapps/channels/telegram"
)

// TestTelegramLiveDelivery pushes messages through a real bot so draft
// streaming can be watched in an actual chat. Needs a bot token and a chat
// the bot can write to; the result is verified by eye.
func TestTelegramLiveDelivery(t *testing.T) {
	RequireManualE2E(t)

	token := os.Getenv("HEARTH_E2E_TELEGRAM_TOKEN")
	chatID := os.Getenv("HEARTH_E2E_TELEGRAM_CHAT_ID")
	if token == "" || chatID == "" {
		t.Skip("set HEARTH_E2E_TELEGRAM_TOKEN and HEARTH_E2E_TELEGRAM_CHAT_ID to run")
	}

	ch, err := telegram.New(telegram.Config{BotToken: token, DraftInterval: time.Second})
	require.NoError(t, err)
	t.Logf("sending as @%s", ch.BotUsername())

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	err = ch.SendMessage(ctx, &chatapps.OutgoingMessage{
		PlatformChatID: chatID,
		Content:        "**Hearth delivery check.** This line had markdown; it should read as plain text.",
	})
	require.NoError(t, err)

	chunks := make(chan string, 8)
	go func() {
		defer close(chunks)
		for _, piece := range []string{
			"Streaming check: ",
			"this message ",
			"should grow ",
			"in place, ",
			"edited about once a second.",
		} {
			chunks <- piece
			time.Sleep(700 * time.Millisecond)
		}
	}()
	require.NoError(t, ch.SendChunkedMessage(ctx, chatID, chunks))
}
