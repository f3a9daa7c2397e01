// Package db selects a store driver from the profile.
package db

import (
	"github.com/pkg/errors"

	"github.com/hearth-home/hearth/internal/profile"
	"github.com/hearth-home/hearth/store"
	"github.com/hearth-home/hearth/store/db/postgres"
	"github.com/hearth-home/hearth/store/db/sqlite"
)

// NewDBDriver creates a new DB driver based on the profile.
func NewDBDriver(profile *profile.Profile) (store.Driver, error) {
	switch profile.Driver {
	case "sqlite":
		return sqlite.NewDB(profile)
	case "postgres":
		return postgres.NewDB(profile)
	default:
		return nil, errors.Errorf("unknown db driver: %s", profile.Driver)
	}
}
