package store

import (
	"context"
	"database/sql"
)

// Driver is an interface for store driver.
// It contains all the methods that the store needs to implement.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	IsInitialized(ctx context.Context) (bool, error)
	ApplyLatestSchema(ctx context.Context) error
	GetSchemaVersion(ctx context.Context) (string, error)
	UpsertSchemaVersion(ctx context.Context, version string) error

	// Family model related methods.
	UpsertFamily(ctx context.Context, upsert *UpsertFamily) (*Family, error)
	ListFamilies(ctx context.Context, find *FindFamily) ([]*Family, error)

	// MemoryEntry model related methods.
	UpsertMemoryEntry(ctx context.Context, upsert *UpsertMemoryEntry) (*MemoryEntry, error)
	ListMemoryEntries(ctx context.Context, find *FindMemoryEntry) ([]*MemoryEntry, error)
	DeleteMemoryEntries(ctx context.Context, del *DeleteMemoryEntry) error

	// CommitRecord model related methods.
	CreateCommitRecord(ctx context.Context, create *CommitRecord) (*CommitRecord, error)
	ListCommitRecords(ctx context.Context, find *FindCommitRecord) ([]*CommitRecord, error)
	DeleteCommitRecords(ctx context.Context, del *DeleteCommitRecord) error
}
