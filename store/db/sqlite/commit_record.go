package sqlite

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/hearth-home/hearth/store"
)

// CreateCommitRecord appends one onboarding commit.
func (d *DB) CreateCommitRecord(ctx context.Context, create *store.CommitRecord) (*store.CommitRecord, error) {
	stmt := `
		INSERT INTO onboarding_commit (family_id, user_id, family_name, members, rooms)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id, family_id, user_id, family_name, members, rooms, created_ts
	`
	var record store.CommitRecord
	err := d.db.QueryRowContext(ctx, stmt,
		create.FamilyID,
		create.UserID,
		create.FamilyName,
		create.Members,
		create.Rooms,
	).Scan(
		&record.ID,
		&record.FamilyID,
		&record.UserID,
		&record.FamilyName,
		&record.Members,
		&record.Rooms,
		&record.CreatedTs,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create commit record")
	}
	return &record, nil
}

// ListCommitRecords lists commit records, newest first.
func (d *DB) ListCommitRecords(ctx context.Context, find *store.FindCommitRecord) ([]*store.CommitRecord, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.FamilyID != nil {
		where, args = append(where, "family_id = ?"), append(args, *find.FamilyID)
	}
	if find.UserID != nil {
		where, args = append(where, "user_id = ?"), append(args, *find.UserID)
	}

	query := `SELECT id, family_id, user_id, family_name, members, rooms, created_ts
		FROM onboarding_commit
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts DESC, id DESC`

	if find.Limit != nil {
		query += " LIMIT ?"
		args = append(args, *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list commit records")
	}
	defer rows.Close()

	var records []*store.CommitRecord
	for rows.Next() {
		var record store.CommitRecord
		err := rows.Scan(
			&record.ID,
			&record.FamilyID,
			&record.UserID,
			&record.FamilyName,
			&record.Members,
			&record.Rooms,
			&record.CreatedTs,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan commit record")
		}
		records = append(records, &record)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return records, nil
}

// DeleteCommitRecords removes commits matching the filters. At least one
// filter is required.
func (d *DB) DeleteCommitRecords(ctx context.Context, del *store.DeleteCommitRecord) error {
	where, args := []string{}, []any{}

	if del.FamilyID != nil {
		where, args = append(where, "family_id = ?"), append(args, *del.FamilyID)
	}
	if del.UserID != nil {
		where, args = append(where, "user_id = ?"), append(args, *del.UserID)
	}
	if len(where) == 0 {
		return errors.New("delete commit records requires a filter")
	}

	stmt := `DELETE FROM onboarding_commit WHERE ` + strings.Join(where, " AND ")
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return errors.Wrap(err, "failed to delete commit records")
	}
	return nil
}
