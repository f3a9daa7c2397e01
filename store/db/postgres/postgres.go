// Package postgres implements the store driver for shared deployments where
// several dev backend instances point at one database.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	// Import the Postgres driver.
	_ "github.com/lib/pq"

	"github.com/hearth-home/hearth/internal/profile"
	"github.com/hearth-home/hearth/store"
)

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens a connection pool for the postgres DSN in the profile.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile.DSN == "" {
		return nil, fmt.Errorf("dsn required")
	}

	pgDB, err := sql.Open("postgres", profile.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	driver := DB{db: pgDB, profile: profile}

	return &driver, nil
}

func (db *DB) GetDB() *sql.DB {
	return db.db
}

func (db *DB) Close() error {
	return db.db.Close()
}

func (db *DB) IsInitialized(ctx context.Context) (bool, error) {
	var exists bool
	query := `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = current_schema() AND table_name = 'family'
		)
	`
	if err := db.db.QueryRowContext(ctx, query).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check if database is initialized: %w", err)
	}
	return exists, nil
}

const latestSchema = `
CREATE TABLE system_info (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE family (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	name_lower TEXT NOT NULL UNIQUE,
	created_ts BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT,
	updated_ts BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT
);

CREATE TABLE memory_entry (
	id BIGSERIAL PRIMARY KEY,
	family_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	namespace TEXT NOT NULL,
	key TEXT NOT NULL,
	value TEXT NOT NULL,
	created_ts BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT,
	updated_ts BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT,
	UNIQUE (family_id, user_id, namespace, key)
);

CREATE INDEX idx_memory_entry_family_user ON memory_entry (family_id, user_id);

CREATE TABLE onboarding_commit (
	id BIGSERIAL PRIMARY KEY,
	family_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	family_name TEXT NOT NULL,
	members TEXT NOT NULL,
	rooms TEXT NOT NULL,
	created_ts BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT
);

CREATE INDEX idx_onboarding_commit_family ON onboarding_commit (family_id);

CREATE TABLE chat_credential (
	id BIGSERIAL PRIMARY KEY,
	family_id TEXT NOT NULL DEFAULT '',
	user_id TEXT NOT NULL,
	platform TEXT NOT NULL,
	platform_user_id TEXT NOT NULL,
	platform_chat_id TEXT NOT NULL DEFAULT '',
	bot_token TEXT NOT NULL DEFAULT '',
	enabled BOOLEAN NOT NULL DEFAULT TRUE,
	created_ts BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT,
	updated_ts BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT,
	UNIQUE (platform, platform_user_id)
);

CREATE INDEX idx_chat_credential_user ON chat_credential (user_id);
`

func (db *DB) ApplyLatestSchema(ctx context.Context) error {
	if _, err := db.db.ExecContext(ctx, latestSchema); err != nil {
		return fmt.Errorf("failed to apply latest schema: %w", err)
	}
	return nil
}

func (db *DB) GetSchemaVersion(ctx context.Context) (string, error) {
	var value string
	err := db.db.QueryRowContext(ctx, "SELECT value FROM system_info WHERE key = 'schema_version'").Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read schema version: %w", err)
	}
	return value, nil
}

func (db *DB) UpsertSchemaVersion(ctx context.Context, version string) error {
	query := `
		INSERT INTO system_info (key, value)
		VALUES ('schema_version', $1)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
	`
	if _, err := db.db.ExecContext(ctx, query, version); err != nil {
		return fmt.Errorf("failed to upsert schema version: %w", err)
	}
	return nil
}
