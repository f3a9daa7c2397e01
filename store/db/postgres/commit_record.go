package postgres

import (
	"context"
	"fmt"

	"github.com/hearth-home/hearth/store"
)

func (db *DB) CreateCommitRecord(ctx context.Context, create *store.CommitRecord) (*store.CommitRecord, error) {
	query := `
		INSERT INTO onboarding_commit (family_id, user_id, family_name, members, rooms)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, family_id, user_id, family_name, members, rooms, created_ts
	`
	var record store.CommitRecord
	err := db.db.QueryRowContext(ctx, query,
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
		return nil, fmt.Errorf("failed to create commit record: %w", err)
	}
	return &record, nil
}

func (db *DB) ListCommitRecords(ctx context.Context, find *store.FindCommitRecord) ([]*store.CommitRecord, error) {
	query := `
		SELECT id, family_id, user_id, family_name, members, rooms, created_ts
		FROM onboarding_commit
		WHERE 1=1
	`
	var args []interface{}
	argIndex := 1

	if find.FamilyID != nil {
		query += fmt.Sprintf(" AND family_id = $%d", argIndex)
		args = append(args, *find.FamilyID)
		argIndex++
	}
	if find.UserID != nil {
		query += fmt.Sprintf(" AND user_id = $%d", argIndex)
		args = append(args, *find.UserID)
		argIndex++
	}

	query += " ORDER BY created_ts DESC, id DESC"

	if find.Limit != nil {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, *find.Limit)
	}

	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list commit records: %w", err)
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
			return nil, fmt.Errorf("failed to scan commit record: %w", err)
		}
		records = append(records, &record)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return records, nil
}

func (db *DB) DeleteCommitRecords(ctx context.Context, del *store.DeleteCommitRecord) error {
	var conds []string
	var args []interface{}
	argIndex := 1

	if del.FamilyID != nil {
		conds = append(conds, fmt.Sprintf("family_id = $%d", argIndex))
		args = append(args, *del.FamilyID)
		argIndex++
	}
	if del.UserID != nil {
		conds = append(conds, fmt.Sprintf("user_id = $%d", argIndex))
		args = append(args, *del.UserID)
	}
	if len(conds) == 0 {
		return fmt.Errorf("delete commit records requires a filter")
	}

	query := "DELETE FROM onboarding_commit WHERE " + conds[0]
	for _, cond := range conds[1:] {
		query += " AND " + cond
	}
	if _, err := db.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to delete commit records: %w", err)
	}
	return nil
}
