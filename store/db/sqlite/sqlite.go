// Package sqlite implements the default store driver. It is tuned for the
// single-instance dev backend: one connection, WAL journal, no server.
package sqlite

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	// Import the SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/hearth-home/hearth/internal/profile"
	"github.com/hearth-home/hearth/store"
)

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens the sqlite database named by the profile DSN.
//
// Pragmas ride on the DSN because the modernc driver applies them per
// connection: foreign keys stay off to match SQLite's default, the busy
// timeout absorbs short write contention, and WAL avoids reader/writer
// locking. With WAL a single pooled connection is the fastest configuration
// for a local file, so the pool is pinned to one.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	sqliteDB, err := sql.Open("sqlite", profile.DSN+"?_pragma=foreign_keys(0)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", profile.DSN)
	}

	sqliteDB.SetMaxOpenConns(1)
	sqliteDB.SetMaxIdleConns(1)
	sqliteDB.SetConnMaxLifetime(0)
	sqliteDB.SetConnMaxIdleTime(0)

	driver := DB{db: sqliteDB, profile: profile}

	return &driver, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) IsInitialized(ctx context.Context) (bool, error) {
	var exists bool
	err := d.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM sqlite_master WHERE type='table' AND name='family')").Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "failed to check if database is initialized")
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
	created_ts BIGINT NOT NULL DEFAULT (strftime('%s', 'now')),
	updated_ts BIGINT NOT NULL DEFAULT (strftime('%s', 'now'))
);

CREATE TABLE memory_entry (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	family_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	namespace TEXT NOT NULL,
	key TEXT NOT NULL,
	value TEXT NOT NULL,
	created_ts BIGINT NOT NULL DEFAULT (strftime('%s', 'now')),
	updated_ts BIGINT NOT NULL DEFAULT (strftime('%s', 'now')),
	UNIQUE (family_id, user_id, namespace, key)
);

CREATE INDEX idx_memory_entry_family_user ON memory_entry (family_id, user_id);

CREATE TABLE onboarding_commit (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	family_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	family_name TEXT NOT NULL,
	members TEXT NOT NULL,
	rooms TEXT NOT NULL,
	created_ts BIGINT NOT NULL DEFAULT (strftime('%s', 'now'))
);

CREATE INDEX idx_onboarding_commit_family ON onboarding_commit (family_id);

CREATE TABLE chat_credential (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	family_id TEXT NOT NULL DEFAULT '',
	user_id TEXT NOT NULL,
	platform TEXT NOT NULL,
	platform_user_id TEXT NOT NULL,
	platform_chat_id TEXT NOT NULL DEFAULT '',
	bot_token TEXT NOT NULL DEFAULT '',
	enabled BOOLEAN NOT NULL DEFAULT TRUE,
	created_ts BIGINT NOT NULL DEFAULT (strftime('%s', 'now')),
	updated_ts BIGINT NOT NULL DEFAULT (strftime('%s', 'now')),
	UNIQUE (platform, platform_user_id)
);

CREATE INDEX idx_chat_credential_user ON chat_credential (user_id);
`

func (d *DB) ApplyLatestSchema(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, latestSchema); err != nil {
		return errors.Wrap(err, "failed to apply latest schema")
	}
	return nil
}

func (d *DB) GetSchemaVersion(ctx context.Context) (string, error) {
	var value string
	err := d.db.QueryRowContext(ctx, "SELECT value FROM system_info WHERE key = 'schema_version'").Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, "failed to read schema version")
	}
	return value, nil
}

func (d *DB) UpsertSchemaVersion(ctx context.Context, version string) error {
	stmt := `
		INSERT INTO system_info (key, value)
		VALUES ('schema_version', ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`
	if _, err := d.db.ExecContext(ctx, stmt, version); err != nil {
		return errors.Wrap(err, "failed to upsert schema version")
	}
	return nil
}
