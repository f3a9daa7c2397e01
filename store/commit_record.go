package store

import "context"

// CommitRecord is one persisted onboarding result. Members and Rooms hold
// the JSON-encoded arrays exactly as committed.
type CommitRecord struct {
	ID         int64
	FamilyID   string
	UserID     string
	FamilyName string
	Members    string
	Rooms      string
	CreatedTs  int64
}

// FindCommitRecord filters commit history, newest first.
type FindCommitRecord struct {
	FamilyID *string
	UserID   *string
	Limit    *int
}

// DeleteCommitRecord removes commits matching the non-nil filters.
type DeleteCommitRecord struct {
	FamilyID *string
	UserID   *string
}

func (s *Store) CreateCommitRecord(ctx context.Context, create *CommitRecord) (*CommitRecord, error) {
	return s.driver.CreateCommitRecord(ctx, create)
}

func (s *Store) ListCommitRecords(ctx context.Context, find *FindCommitRecord) ([]*CommitRecord, error) {
	return s.driver.ListCommitRecords(ctx, find)
}

func (s *Store) DeleteCommitRecords(ctx context.Context, del *DeleteCommitRecord) error {
	return s.driver.DeleteCommitRecords(ctx, del)
}
