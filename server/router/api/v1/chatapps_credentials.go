package v1

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/hearth-home/hearth/plugin/chatapps"
	chatstore "github.com/hearth-home/hearth/plugin/chatapps/store"
)

type registerCredentialRequest struct {
	Platform       string `json:"platform"`
	PlatformUserID string `json:"platformUserId"`
	PlatformChatID string `json:"platformChatId"`
	BotToken       string `json:"botToken"`
}

// credentialPayload is the wire shape of a credential. The bot token never
// leaves the server, not even encrypted.
type credentialPayload struct {
	ID             int64  `json:"id"`
	FamilyID       string `json:"familyId,omitempty"`
	UserID         string `json:"userId"`
	Platform       string `json:"platform"`
	PlatformUserID string `json:"platformUserId"`
	PlatformChatID string `json:"platformChatId,omitempty"`
	HasBotToken    bool   `json:"hasBotToken"`
	Enabled        bool   `json:"enabled"`
	CreatedTs      int64  `json:"createdTs"`
	UpdatedTs      int64  `json:"updatedTs"`
}

func credentialToPayload(cred *chatapps.Credential) credentialPayload {
	return credentialPayload{
		ID:             cred.ID,
		FamilyID:       cred.FamilyID,
		UserID:         cred.UserID,
		Platform:       string(cred.Platform),
		PlatformUserID: cred.PlatformUserID,
		PlatformChatID: cred.PlatformChatID,
		HasBotToken:    cred.BotToken != "",
		Enabled:        cred.Enabled,
		CreatedTs:      cred.CreatedTs,
		UpdatedTs:      cred.UpdatedTs,
	}
}

// RegisterCredential binds a chat platform account to the caller's
// identity, optionally with the family's own bot token. The token is
// encrypted before it is stored.
func (s *ChatAppsService) RegisterCredential(c echo.Context) error {
	id := requestIdentity(c)

	var req registerCredentialRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	platform := chatapps.Platform(req.Platform)
	if !platform.IsValid() {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid platform")
	}
	if req.PlatformUserID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "platformUserId is required")
	}

	var encryptedToken string
	if req.BotToken != "" {
		if s.Profile.ChatCredentialKey == "" {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "chat credential storage is not configured")
		}
		var err error
		encryptedToken, err = chatstore.EncryptToken(req.BotToken, s.Profile.ChatCredentialKey)
		if err != nil {
			s.logger.Error("failed to encrypt bot token", "error", err)
			return echo.NewHTTPError(http.StatusInternalServerError, "failed to secure bot token")
		}
	}

	cred, err := s.creds.UpsertCredential(c.Request().Context(), &chatstore.UpsertCredentialRequest{
		FamilyID:       id.FamilyID,
		UserID:         id.UserID,
		Platform:       platform,
		PlatformUserID: req.PlatformUserID,
		PlatformChatID: req.PlatformChatID,
		BotToken:       encryptedToken,
	})
	if err != nil {
		s.logger.Error("failed to store chat credential", "user_id", id.UserID, "platform", platform, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to store credential")
	}

	return c.JSON(http.StatusOK, credentialToPayload(cred))
}

type listCredentialsResponse struct {
	Credentials []credentialPayload `json:"credentials"`
	Total       int                 `json:"total"`
}

// ListCredentials returns the caller's chat platform bindings.
func (s *ChatAppsService) ListCredentials(c echo.Context) error {
	id := requestIdentity(c)

	creds, err := s.creds.ListForUser(c.Request().Context(), id.UserID)
	if err != nil {
		s.logger.Error("failed to list chat credentials", "user_id", id.UserID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list credentials")
	}

	payloads := make([]credentialPayload, 0, len(creds))
	for _, cred := range creds {
		payloads = append(payloads, credentialToPayload(cred))
	}
	return c.JSON(http.StatusOK, listCredentialsResponse{Credentials: payloads, Total: len(payloads)})
}

type setCredentialEnabledRequest struct {
	Enabled *bool `json:"enabled"`
}

// SetCredentialEnabled flips one of the caller's bindings on or off.
func (s *ChatAppsService) SetCredentialEnabled(c echo.Context) error {
	id := requestIdentity(c)

	credID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid credential id")
	}

	var req setCredentialEnabledRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Enabled == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "enabled is required")
	}

	if err := s.creds.SetEnabled(c.Request().Context(), credID, id.UserID, *req.Enabled); err != nil {
		if errors.Is(err, chatstore.ErrCredentialNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "credential not found")
		}
		s.logger.Error("failed to update chat credential", "id", credID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to update credential")
	}
	return c.NoContent(http.StatusNoContent)
}

// DeleteCredential removes one of the caller's bindings.
func (s *ChatAppsService) DeleteCredential(c echo.Context) error {
	id := requestIdentity(c)

	credID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid credential id")
	}

	if err := s.creds.Delete(c.Request().Context(), credID, id.UserID); err != nil {
		if errors.Is(err, chatstore.ErrCredentialNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "credential not found")
		}
		s.logger.Error("failed to delete chat credential", "id", credID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to delete credential")
	}
	return c.NoContent(http.StatusNoContent)
}
