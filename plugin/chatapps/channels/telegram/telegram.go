// Package telegram implements the Telegram bot channel.
package telegram

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"

	"github.com/hearth-home/hearth/plugin/chatapps"
	"github.com/hearth-home/hearth/plugin/chatapps/channels"
)

const (
	// messageLimit is Telegram's per-message length cap. Byte length is
	// used as a conservative stand-in for the character count.
	messageLimit = 4096

	// secretTokenHeader is echoed by Telegram on webhook deliveries when a
	// secret token was set during webhook registration.
	secretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

	defaultDraftInterval = time.Second
)

// Config holds configuration for the Telegram channel.
type Config struct {
	BotToken string

	// WebhookSecret, when set, must match the secret token header on every
	// webhook delivery.
	WebhookSecret string

	// APIEndpoint overrides the Bot API endpoint for self-hosted Bot API
	// servers. Uses the tgbotapi.APIEndpoint format.
	APIEndpoint string

	// DraftInterval throttles draft edits while a reply streams in.
	// Telegram rate-limits message edits per chat.
	DraftInterval time.Duration
}

// Channel implements channels.ChatChannel for the Telegram Bot API.
type Channel struct {
	bot *tgbotapi.BotAPI
	cfg Config
}

// New authenticates against the Bot API and returns the channel.
func New(cfg Config) (*Channel, error) {
	var (
		bot *tgbotapi.BotAPI
		err error
	)
	if cfg.APIEndpoint != "" {
		bot, err = tgbotapi.NewBotAPIWithAPIEndpoint(cfg.BotToken, cfg.APIEndpoint)
	} else {
		bot, err = tgbotapi.NewBotAPI(cfg.BotToken)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to reach the Telegram bot API")
	}
	if cfg.DraftInterval <= 0 {
		cfg.DraftInterval = defaultDraftInterval
	}

	return &Channel{bot: bot, cfg: cfg}, nil
}

// Name returns the platform name.
func (c *Channel) Name() chatapps.Platform {
	return chatapps.PlatformTelegram
}

// BotUsername returns the authenticated bot's username.
func (c *Channel) BotUsername() string {
	return c.bot.Self.UserName
}

// ValidateWebhook checks the secret token header against the configured
// webhook secret. Without a configured secret every delivery is accepted,
// matching Telegram's default webhook mode.
func (c *Channel) ValidateWebhook(ctx context.Context, headers map[string]string, body []byte) error {
	if c.cfg.WebhookSecret == "" {
		return nil
	}
	got := headers[secretTokenHeader]
	if subtle.ConstantTimeCompare([]byte(got), []byte(c.cfg.WebhookSecret)) != 1 {
		return channels.ErrInvalidSignature
	}
	return nil
}

// ParseMessage parses a webhook update into an IncomingMessage. Photo or
// voice updates that carry a text caption count as text; everything else
// without text is reported as unsupported so the caller can answer with a
// hint.
func (c *Channel) ParseMessage(ctx context.Context, payload []byte) (*chatapps.IncomingMessage, error) {
	var update tgbotapi.Update
	if err := json.Unmarshal(payload, &update); err != nil {
		slog.Warn("telegram: failed to parse webhook payload", "error", err)
		return nil, channels.ErrInvalidPayload
	}

	var tgMsg *tgbotapi.Message
	switch {
	case update.Message != nil:
		tgMsg = update.Message
	case update.EditedMessage != nil:
		tgMsg = update.EditedMessage
	default:
		return nil, channels.ErrInvalidPayload
	}
	if tgMsg.From == nil || tgMsg.Chat == nil {
		return nil, channels.ErrInvalidPayload
	}

	content := strings.TrimSpace(tgMsg.Text)
	if content == "" {
		content = strings.TrimSpace(tgMsg.Caption)
	}

	msg := &chatapps.IncomingMessage{
		Platform:       chatapps.PlatformTelegram,
		PlatformUserID: strconv.FormatInt(tgMsg.From.ID, 10),
		PlatformChatID: strconv.FormatInt(tgMsg.Chat.ID, 10),
		Type:           chatapps.MessageTypeText,
		Content:        content,
		Timestamp:      time.Now(),
		Metadata: map[string]string{
			"update_id":     strconv.Itoa(update.UpdateID),
			"username":      tgMsg.From.UserName,
			"language_code": tgMsg.From.LanguageCode,
		},
	}
	if content == "" {
		msg.Type = chatapps.MessageTypeUnsupported
	}

	return msg, nil
}

// SendMessage delivers a single message, split when it exceeds the
// platform cap. Without an explicit parse mode the content is flattened to
// plain text first.
func (c *Channel) SendMessage(ctx context.Context, msg *chatapps.OutgoingMessage) error {
	chatID, err := strconv.ParseInt(msg.PlatformChatID, 10, 64)
	if err != nil {
		return errors.Wrapf(err, "invalid chat id %q", msg.PlatformChatID)
	}

	content := msg.Content
	if msg.ParseMode == "" {
		content = chatapps.PlainText(content)
	}
	for _, piece := range splitMessage(content, messageLimit) {
		tgMsg := tgbotapi.NewMessage(chatID, piece)
		tgMsg.ParseMode = msg.ParseMode
		if _, err := c.bot.Send(tgMsg); err != nil {
			return errors.Wrap(err, "failed to send telegram message")
		}
	}
	return nil
}

// SendChunkedMessage streams a reply into the chat. The first flush sends
// a draft message and later flushes edit it in place; when the chunk
// channel closes the accumulated reply is flattened and finalized, with
// any overflow sent as follow-up messages. Draft edit failures only skip
// that flush.
func (c *Channel) SendChunkedMessage(ctx context.Context, chatID string, chunks <-chan string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return errors.Wrapf(err, "invalid chat id %q", chatID)
	}

	ticker := time.NewTicker(c.cfg.DraftInterval)
	defer ticker.Stop()

	var (
		buf       strings.Builder
		messageID int
		lastDraft string
	)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk, ok := <-chunks:
			if !ok {
				return c.finishDraft(id, messageID, lastDraft, buf.String())
			}
			buf.WriteString(chunk)
		case <-ticker.C:
			draft := draftPreview(buf.String())
			if draft == "" || draft == lastDraft {
				continue
			}
			sentID, err := c.pushDraft(id, messageID, draft)
			if err != nil {
				slog.Warn("telegram: draft update failed", "chat_id", chatID, "error", err)
				continue
			}
			messageID = sentID
			lastDraft = draft
		}
	}
}

// Close closes the Telegram channel.
func (c *Channel) Close() error {
	return nil
}

// RegisterWebhook points the bot's webhook at the given public URL. The
// configured webhook secret rides along so Telegram echoes it back on
// every delivery.
func (c *Channel) RegisterWebhook(webhookURL string, dropPending bool) error {
	if _, err := url.Parse(webhookURL); err != nil {
		return errors.Wrapf(err, "invalid webhook url %q", webhookURL)
	}
	params := tgbotapi.Params{"url": webhookURL}
	if c.cfg.WebhookSecret != "" {
		params["secret_token"] = c.cfg.WebhookSecret
	}
	if dropPending {
		params["drop_pending_updates"] = "true"
	}
	_, err := c.bot.MakeRequest("setWebhook", params)
	return errors.Wrap(err, "failed to set telegram webhook")
}

// DeleteWebhook removes the bot's webhook registration.
func (c *Channel) DeleteWebhook() error {
	_, err := c.bot.Request(tgbotapi.DeleteWebhookConfig{DropPendingUpdates: true})
	return errors.Wrap(err, "failed to delete telegram webhook")
}

func (c *Channel) pushDraft(chatID int64, messageID int, draft string) (int, error) {
	if messageID == 0 {
		sent, err := c.bot.Send(tgbotapi.NewMessage(chatID, draft))
		if err != nil {
			return 0, err
		}
		return sent.MessageID, nil
	}
	if _, err := c.bot.Send(tgbotapi.NewEditMessageText(chatID, messageID, draft)); err != nil {
		return 0, err
	}
	return messageID, nil
}

func (c *Channel) finishDraft(chatID int64, messageID int, lastDraft, accumulated string) error {
	final := chatapps.PlainText(accumulated)
	if final == "" {
		return nil
	}
	pieces := splitMessage(final, messageLimit)

	if messageID == 0 {
		return c.sendPieces(chatID, pieces)
	}
	if pieces[0] != lastDraft {
		if _, err := c.bot.Send(tgbotapi.NewEditMessageText(chatID, messageID, pieces[0])); err != nil {
			return errors.Wrap(err, "failed to finalize telegram draft")
		}
	}
	return c.sendPieces(chatID, pieces[1:])
}

func (c *Channel) sendPieces(chatID int64, pieces []string) error {
	for _, piece := range pieces {
		if _, err := c.bot.Send(tgbotapi.NewMessage(chatID, piece)); err != nil {
			return errors.Wrap(err, "failed to send telegram message")
		}
	}
	return nil
}

func draftPreview(s string) string {
	return truncateRunes(strings.TrimSpace(s), messageLimit)
}

// splitMessage splits text into pieces within the platform length cap,
// preferring newline then space boundaries.
func splitMessage(s string, limit int) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var pieces []string
	for len(s) > limit {
		cut := strings.LastIndex(s[:limit], "\n")
		if cut < limit/2 {
			if sp := strings.LastIndex(s[:limit], " "); sp >= limit/2 {
				cut = sp
			} else {
				cut = len(truncateRunes(s, limit))
			}
		}
		if piece := strings.TrimSpace(s[:cut]); piece != "" {
			pieces = append(pieces, piece)
		}
		s = strings.TrimSpace(s[cut:])
	}
	return append(pieces, s)
}

func truncateRunes(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// Ensure Channel implements ChatChannel.
var _ channels.ChatChannel = (*Channel)(nil)
