package store

import (
	"context"

	"github.com/pkg/errors"

	"github.com/hearth-home/hearth/internal/version"
)

// Migrate brings the database up to the current schema. A fresh database
// gets the full schema; an existing one is checked against the binary
// version so an old binary never writes into a newer schema.
func (s *Store) Migrate(ctx context.Context) error {
	initialized, err := s.driver.IsInitialized(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to check database state")
	}

	current := version.GetCurrentVersion(s.profile.Mode)
	if !initialized {
		if err := s.driver.ApplyLatestSchema(ctx); err != nil {
			return errors.Wrap(err, "failed to apply latest schema")
		}
		return s.driver.UpsertSchemaVersion(ctx, current)
	}

	stored, err := s.driver.GetSchemaVersion(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to read schema version")
	}
	if stored == "" {
		// Pre-versioning database, stamp it and move on.
		return s.driver.UpsertSchemaVersion(ctx, current)
	}
	if version.IsVersionGreaterThan(stored, current) {
		return errors.Errorf("database schema %s is newer than binary %s, refusing to start", stored, current)
	}
	if version.IsVersionGreaterThan(current, stored) {
		// Incremental migrations slot in here once the schema changes.
		return s.driver.UpsertSchemaVersion(ctx, current)
	}
	return nil
}
