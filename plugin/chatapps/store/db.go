package store

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/hearth-home/hearth/plugin/chatapps"
)

// Validation limits for credential fields.
const (
	MaxPlatformUserID = 255
	MaxBotToken       = 4096 // encrypted and base64-encoded, so larger than the raw token
)

// ErrCredentialNotFound is returned when an update or delete matched no row.
var ErrCredentialNotFound = errors.New("credential not found")

const credentialColumns = "id, family_id, user_id, platform, platform_user_id, platform_chat_id, bot_token, enabled, created_ts, updated_ts"

// CredentialStore manages chat platform credentials in the database.
//
// Queries use $N placeholders in ascending order, which bind positionally
// on both the postgres and sqlite drivers.
type CredentialStore struct {
	db *sql.DB
}

// NewCredentialStore creates a credential store over the given database.
func NewCredentialStore(db *sql.DB) *CredentialStore {
	return &CredentialStore{db: db}
}

// UpsertCredentialRequest binds a platform account to a household identity.
// BotToken must already be encrypted.
type UpsertCredentialRequest struct {
	FamilyID       string
	UserID         string
	Platform       chatapps.Platform
	PlatformUserID string
	PlatformChatID string
	BotToken       string
}

func validateUpsertCredentialRequest(req *UpsertCredentialRequest) error {
	if !req.Platform.IsValid() {
		return errors.Errorf("invalid platform: %s", req.Platform)
	}
	if req.UserID == "" {
		return errors.New("user_id is required")
	}
	if req.PlatformUserID == "" {
		return errors.New("platform_user_id is required")
	}
	if len(req.PlatformUserID) > MaxPlatformUserID {
		return errors.Errorf("platform_user_id too long: max %d characters", MaxPlatformUserID)
	}
	if len(req.BotToken) > MaxBotToken {
		return errors.Errorf("bot_token too long: max %d characters", MaxBotToken)
	}
	return nil
}

// UpsertCredential creates the binding for (platform, platform user), or
// replaces an existing one and re-enables it.
func (s *CredentialStore) UpsertCredential(ctx context.Context, req *UpsertCredentialRequest) (*chatapps.Credential, error) {
	if err := validateUpsertCredentialRequest(req); err != nil {
		return nil, errors.Wrap(err, "validation failed")
	}

	query := `
		INSERT INTO chat_credential
			(family_id, user_id, platform, platform_user_id, platform_chat_id, bot_token, enabled, created_ts, updated_ts)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE, $7, $8)
		ON CONFLICT (platform, platform_user_id) DO UPDATE SET
			family_id = excluded.family_id,
			user_id = excluded.user_id,
			platform_chat_id = excluded.platform_chat_id,
			bot_token = excluded.bot_token,
			enabled = TRUE,
			updated_ts = excluded.updated_ts
		RETURNING ` + credentialColumns

	now := time.Now().Unix()
	cred, err := scanCredential(s.db.QueryRowContext(ctx, query,
		req.FamilyID,
		req.UserID,
		string(req.Platform),
		req.PlatformUserID,
		req.PlatformChatID,
		req.BotToken,
		now,
		now,
	))
	if err != nil {
		return nil, errors.Wrap(err, "failed to upsert credential")
	}

	slog.Info("chat credential stored",
		"id", cred.ID,
		"user_id", cred.UserID,
		"platform", cred.Platform,
	)
	return cred, nil
}

// GetByPlatformUser returns the enabled credential for a platform account.
// Used during webhook handling to map the sender onto a household identity.
func (s *CredentialStore) GetByPlatformUser(ctx context.Context, platform chatapps.Platform, platformUserID string) (*chatapps.Credential, error) {
	query := `
		SELECT ` + credentialColumns + `
		FROM chat_credential
		WHERE platform = $1 AND platform_user_id = $2 AND enabled = TRUE
	`
	cred, err := scanCredential(s.db.QueryRowContext(ctx, query, string(platform), platformUserID))
	if err != nil {
		return nil, errors.Wrap(err, "failed to get credential")
	}
	return cred, nil
}

// ListForUser lists all credentials owned by a user, newest first.
func (s *CredentialStore) ListForUser(ctx context.Context, userID string) ([]*chatapps.Credential, error) {
	query := `
		SELECT ` + credentialColumns + `
		FROM chat_credential
		WHERE user_id = $1
		ORDER BY created_ts DESC, id DESC
	`
	return s.queryCredentials(ctx, query, userID)
}

// ListEnabled lists all enabled credentials across all users. Used at
// startup to bring up the stored chat channels.
func (s *CredentialStore) ListEnabled(ctx context.Context) ([]*chatapps.Credential, error) {
	query := `
		SELECT ` + credentialColumns + `
		FROM chat_credential
		WHERE enabled = TRUE
		ORDER BY platform, user_id
	`
	return s.queryCredentials(ctx, query)
}

// SetEnabled flips a credential owned by the user on or off.
func (s *CredentialStore) SetEnabled(ctx context.Context, id int64, userID string, enabled bool) error {
	query := `
		UPDATE chat_credential
		SET enabled = $1, updated_ts = $2
		WHERE id = $3 AND user_id = $4
	`
	result, err := s.db.ExecContext(ctx, query, enabled, time.Now().Unix(), id, userID)
	if err != nil {
		return errors.Wrap(err, "failed to set enabled")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrCredentialNotFound
	}
	return nil
}

// Delete removes a credential owned by the user.
func (s *CredentialStore) Delete(ctx context.Context, id int64, userID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM chat_credential WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return errors.Wrap(err, "failed to delete credential")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrCredentialNotFound
	}

	slog.Info("chat credential deleted", "id", id, "user_id", userID)
	return nil
}

func (s *CredentialStore) queryCredentials(ctx context.Context, query string, args ...any) ([]*chatapps.Credential, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list credentials")
	}
	defer rows.Close()

	var credentials []*chatapps.Credential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan credential")
		}
		credentials = append(credentials, cred)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate rows")
	}
	return credentials, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCredential(row rowScanner) (*chatapps.Credential, error) {
	var cred chatapps.Credential
	err := row.Scan(
		&cred.ID,
		&cred.FamilyID,
		&cred.UserID,
		&cred.Platform,
		&cred.PlatformUserID,
		&cred.PlatformChatID,
		&cred.BotToken,
		&cred.Enabled,
		&cred.CreatedTs,
		&cred.UpdatedTs,
	)
	if err != nil {
		return nil, err
	}
	return &cred, nil
}
