package v1

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/hearth-home/hearth/internal/profile"
	"github.com/hearth-home/hearth/onboarding"
	"github.com/hearth-home/hearth/plugin/chatapps"
	"github.com/hearth-home/hearth/plugin/chatapps/channels"
	"github.com/hearth-home/hearth/plugin/chatapps/channels/telegram"
	chatstore "github.com/hearth-home/hearth/plugin/chatapps/store"
)

const maxWebhookBody = 1 << 20

const (
	unsupportedMessageReply = "I can only read text messages for now. Tell me in words!"
	turnFailedReply         = "Something went wrong on my end. Give it another try in a moment?"
)

// ChatAppsService runs the onboarding dialogue over external chat
// platforms: it terminates platform webhooks, maps senders onto household
// identities and streams replies back through the channel router.
type ChatAppsService struct {
	Profile *profile.Profile
	Manager *onboarding.Manager

	router *channels.ChannelRouter
	creds  *chatstore.CredentialStore
	logger *slog.Logger
}

func NewChatAppsService(instanceProfile *profile.Profile, manager *onboarding.Manager, db *sql.DB, logger *slog.Logger) *ChatAppsService {
	return &ChatAppsService{
		Profile: instanceProfile,
		Manager: manager,
		router:  channels.NewChannelRouter(),
		creds:   chatstore.NewCredentialStore(db),
		logger:  logger,
	}
}

// RegisterChannel puts a channel in rotation for its platform.
func (s *ChatAppsService) RegisterChannel(ch channels.ChatChannel) {
	s.router.Register(ch)
}

// Initialize registers the profile-configured bot and brings stored
// credentials online. A channel that fails to come up is logged and
// skipped so one bad token cannot hold up startup.
func (s *ChatAppsService) Initialize(ctx context.Context) {
	if s.Profile.TelegramToken != "" {
		ch, err := telegram.New(telegram.Config{
			BotToken:      s.Profile.TelegramToken,
			WebhookSecret: s.Profile.TelegramWebhookSecret,
		})
		if err != nil {
			s.logger.Warn("telegram channel unavailable", "error", err)
		} else {
			s.RegisterChannel(ch)
			s.logger.Info("telegram channel registered", "bot", ch.BotUsername())
			if s.Profile.InstanceURL != "" {
				hookURL := strings.TrimRight(s.Profile.InstanceURL, "/") + "/webhooks/telegram"
				if err := ch.RegisterWebhook(hookURL, false); err != nil {
					s.logger.Warn("telegram webhook registration failed", "url", hookURL, "error", err)
				}
			}
		}
	}
	s.loadStoredChannels(ctx)
}

// Close shuts down all registered channels.
func (s *ChatAppsService) Close() error {
	return s.router.Close()
}

func (s *ChatAppsService) loadStoredChannels(ctx context.Context) {
	if s.Profile.ChatCredentialKey == "" {
		return
	}
	creds, err := s.creds.ListEnabled(ctx)
	if err != nil {
		s.logger.Warn("failed to load chat credentials", "error", err)
		return
	}
	for _, cred := range creds {
		// The profile-configured bot owns its platform slot; stored bots
		// only fill platforms that are still vacant.
		if cred.BotToken == "" || s.router.GetChannel(cred.Platform) != nil {
			continue
		}
		ch, err := s.channelForCredential(cred)
		if err != nil {
			s.logger.Warn("failed to bring up stored channel",
				"platform", cred.Platform,
				"user_id", cred.UserID,
				"error", err,
			)
			continue
		}
		s.RegisterChannel(ch)
		s.logger.Info("stored chat channel registered", "platform", cred.Platform, "user_id", cred.UserID)
	}
}

func (s *ChatAppsService) channelForCredential(cred *chatapps.Credential) (channels.ChatChannel, error) {
	token, err := chatstore.DecryptToken(cred.BotToken, s.Profile.ChatCredentialKey)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decrypt bot token")
	}
	switch cred.Platform {
	case chatapps.PlatformTelegram:
		return telegram.New(telegram.Config{
			BotToken:      token,
			WebhookSecret: s.Profile.TelegramWebhookSecret,
		})
	default:
		return nil, errors.Errorf("unsupported platform: %s", cred.Platform)
	}
}

// HandleWebhook ingests a platform webhook delivery. The update is
// acknowledged right away and the dialogue turn runs in the background.
// Platforms redeliver on non-2xx, so unusable payloads are acknowledged
// too; only missing channels and bad signatures push back.
func (s *ChatAppsService) HandleWebhook(c echo.Context) error {
	platform := chatapps.Platform(c.Param("platform"))
	if !platform.IsValid() {
		return echo.NewHTTPError(http.StatusNotFound, "unknown platform")
	}

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read request body")
	}

	headers := make(map[string]string, len(c.Request().Header))
	for name, values := range c.Request().Header {
		if len(values) > 0 {
			headers[name] = values[0]
		}
	}

	msg, err := s.router.HandleWebhook(c.Request().Context(), platform, headers, body)
	if err != nil {
		switch {
		case errors.Is(err, channels.ErrNoChannelForPlatform):
			return echo.NewHTTPError(http.StatusNotFound, "no channel registered for platform")
		case errors.Is(err, channels.ErrInvalidSignature):
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid webhook signature")
		default:
			s.logger.Warn("webhook payload dropped", "platform", platform, "error", err)
			return c.NoContent(http.StatusOK)
		}
	}

	go s.runTurn(msg)
	return c.NoContent(http.StatusOK)
}

// runTurn drives one dialogue turn for a chat message and streams the
// reply back to the platform as a growing draft.
func (s *ChatAppsService) runTurn(msg *chatapps.IncomingMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), s.turnBudget())
	defer cancel()

	familyID, userID := s.resolveIdentity(ctx, msg)
	eng := s.Manager.GetOrCreate(familyID, userID)

	content := strings.TrimSpace(msg.Content)
	switch {
	case msg.Type != chatapps.MessageTypeText:
		s.sendReply(ctx, msg, unsupportedMessageReply)
		return
	case content == "/start" || strings.HasPrefix(content, "/start "):
		// Fresh chat: repeat the current prompt instead of parsing the
		// command as an answer.
		s.sendReply(ctx, msg, lastAssistantText(eng.Snapshot()))
		return
	case content == "/reset":
		s.sendReply(ctx, msg, lastAssistantText(eng.RequestReset()))
		return
	}

	chunks := make(chan string, 64)
	delivered := make(chan error, 1)
	go func() {
		delivered <- s.router.SendChunkedResponse(ctx, msg.Platform, msg.PlatformChatID, chunks)
	}()

	var streamed string
	listener := &onboarding.Listener{
		OnToken: func(delta, total string) {
			chunks <- delta
			streamed = total
		},
	}

	result, err := eng.SendUserMessage(ctx, content, listener)
	if err != nil {
		close(chunks)
		<-delivered
		if errors.Is(err, onboarding.ErrSuperseded) {
			return
		}
		s.logger.Error("chat turn failed", "platform", msg.Platform, "user_id", userID, "error", err)
		s.sendReply(ctx, msg, turnFailedReply)
		return
	}

	// The engine guarantees the final reply extends what was streamed,
	// except when the fallback produced a reply of its own.
	switch {
	case result.Reply == streamed:
	case streamed == "":
		chunks <- result.Reply
	case strings.HasPrefix(result.Reply, streamed):
		chunks <- strings.TrimPrefix(result.Reply, streamed)
	default:
		close(chunks)
		if err := <-delivered; err != nil {
			s.logger.Warn("chat draft delivery failed", "platform", msg.Platform, "error", err)
		}
		s.sendReply(ctx, msg, result.Reply)
		return
	}

	close(chunks)
	if err := <-delivered; err != nil {
		s.logger.Warn("chat reply delivery failed", "platform", msg.Platform, "chat_id", msg.PlatformChatID, "error", err)
	}
}

// resolveIdentity maps the platform sender onto a household identity. A
// stored credential wins; unknown senders get a derived identity so they
// can start onboarding without registering first.
func (s *ChatAppsService) resolveIdentity(ctx context.Context, msg *chatapps.IncomingMessage) (string, string) {
	cred, err := s.creds.GetByPlatformUser(ctx, msg.Platform, msg.PlatformUserID)
	if err == nil {
		return cred.FamilyID, cred.UserID
	}
	if !errors.Is(err, sql.ErrNoRows) {
		s.logger.Warn("credential lookup failed", "platform", msg.Platform, "error", err)
	}
	return "", string(msg.Platform) + ":" + msg.PlatformUserID
}

func (s *ChatAppsService) sendReply(ctx context.Context, msg *chatapps.IncomingMessage, text string) {
	if text == "" {
		return
	}
	err := s.router.SendResponse(ctx, msg.Platform, &chatapps.OutgoingMessage{
		PlatformChatID: msg.PlatformChatID,
		Content:        text,
	})
	if err != nil {
		s.logger.Warn("chat reply delivery failed", "platform", msg.Platform, "chat_id", msg.PlatformChatID, "error", err)
	}
}

func (s *ChatAppsService) turnBudget() time.Duration {
	streamTimeout := time.Duration(s.Profile.StreamTimeout) * time.Second
	if streamTimeout <= 0 {
		streamTimeout = time.Minute
	}
	return streamTimeout + 30*time.Second
}

func lastAssistantText(st onboarding.ConversationState) string {
	for i := len(st.Messages) - 1; i >= 0; i-- {
		if st.Messages[i].Sender == onboarding.SenderAssistant {
			return st.Messages[i].Text
		}
	}
	return ""
}
