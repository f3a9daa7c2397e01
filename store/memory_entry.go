package store

import "context"

// MemoryEntry is one namespaced key-value fact captured during onboarding.
// Value holds the JSON-stringified slot so the table stays schema-free.
type MemoryEntry struct {
	ID        int64
	FamilyID  string
	UserID    string
	Namespace string
	Key       string
	Value     string
	CreatedTs int64
	UpdatedTs int64
}

// UpsertMemoryEntry inserts or replaces the value for a
// (family, user, namespace, key) tuple.
type UpsertMemoryEntry struct {
	FamilyID  string
	UserID    string
	Namespace string
	Key       string
	Value     string
}

// FindMemoryEntry filters memory lookups.
type FindMemoryEntry struct {
	FamilyID  *string
	UserID    *string
	Namespace *string
	Key       *string
}

// DeleteMemoryEntry removes every entry matching the non-nil filters.
type DeleteMemoryEntry struct {
	FamilyID  *string
	UserID    *string
	Namespace *string
}

func (s *Store) UpsertMemoryEntry(ctx context.Context, upsert *UpsertMemoryEntry) (*MemoryEntry, error) {
	return s.driver.UpsertMemoryEntry(ctx, upsert)
}

func (s *Store) ListMemoryEntries(ctx context.Context, find *FindMemoryEntry) ([]*MemoryEntry, error) {
	return s.driver.ListMemoryEntries(ctx, find)
}

func (s *Store) DeleteMemoryEntries(ctx context.Context, del *DeleteMemoryEntry) error {
	return s.driver.DeleteMemoryEntries(ctx, del)
}
