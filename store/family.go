package store

import "context"

// Family is one household record. IDs are caller-supplied opaque strings so
// the dev backend and a real backend can share the same storage layout.
type Family struct {
	ID        string
	Name      string
	CreatedTs int64
	UpdatedTs int64
}

// UpsertFamily creates a family or returns the existing one when the name is
// already taken (case-insensitive). The stored casing of the first writer
// wins.
type UpsertFamily struct {
	ID   string
	Name string
}

// FindFamily filters family lookups. Name matches case-insensitively.
type FindFamily struct {
	ID    *string
	Name  *string
	Limit *int
}

func (s *Store) UpsertFamily(ctx context.Context, upsert *UpsertFamily) (*Family, error) {
	return s.driver.UpsertFamily(ctx, upsert)
}

func (s *Store) ListFamilies(ctx context.Context, find *FindFamily) ([]*Family, error) {
	return s.driver.ListFamilies(ctx, find)
}

// GetFamily returns the first match or nil when nothing matches.
func (s *Store) GetFamily(ctx context.Context, find *FindFamily) (*Family, error) {
	limit := 1
	find.Limit = &limit
	list, err := s.driver.ListFamilies(ctx, find)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}
