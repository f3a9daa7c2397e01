package postgres

import (
	"context"
	"fmt"

	"github.com/hearth-home/hearth/store"
)

func (db *DB) UpsertMemoryEntry(ctx context.Context, upsert *store.UpsertMemoryEntry) (*store.MemoryEntry, error) {
	query := `
		INSERT INTO memory_entry (family_id, user_id, namespace, key, value)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (family_id, user_id, namespace, key) DO UPDATE SET
			value = EXCLUDED.value,
			updated_ts = EXTRACT(EPOCH FROM NOW())::BIGINT
		RETURNING id, family_id, user_id, namespace, key, value, created_ts, updated_ts
	`
	var entry store.MemoryEntry
	err := db.db.QueryRowContext(ctx, query,
		upsert.FamilyID,
		upsert.UserID,
		upsert.Namespace,
		upsert.Key,
		upsert.Value,
	).Scan(
		&entry.ID,
		&entry.FamilyID,
		&entry.UserID,
		&entry.Namespace,
		&entry.Key,
		&entry.Value,
		&entry.CreatedTs,
		&entry.UpdatedTs,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert memory entry: %w", err)
	}
	return &entry, nil
}

func (db *DB) ListMemoryEntries(ctx context.Context, find *store.FindMemoryEntry) ([]*store.MemoryEntry, error) {
	query := `
		SELECT id, family_id, user_id, namespace, key, value, created_ts, updated_ts
		FROM memory_entry
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
	if find.Namespace != nil {
		query += fmt.Sprintf(" AND namespace = $%d", argIndex)
		args = append(args, *find.Namespace)
		argIndex++
	}
	if find.Key != nil {
		query += fmt.Sprintf(" AND key = $%d", argIndex)
		args = append(args, *find.Key)
	}

	query += " ORDER BY namespace, key"

	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list memory entries: %w", err)
	}
	defer rows.Close()

	var entries []*store.MemoryEntry
	for rows.Next() {
		var entry store.MemoryEntry
		err := rows.Scan(
			&entry.ID,
			&entry.FamilyID,
			&entry.UserID,
			&entry.Namespace,
			&entry.Key,
			&entry.Value,
			&entry.CreatedTs,
			&entry.UpdatedTs,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan memory entry: %w", err)
		}
		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return entries, nil
}

func (db *DB) DeleteMemoryEntries(ctx context.Context, del *store.DeleteMemoryEntry) error {
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
		argIndex++
	}
	if del.Namespace != nil {
		conds = append(conds, fmt.Sprintf("namespace = $%d", argIndex))
		args = append(args, *del.Namespace)
	}
	if len(conds) == 0 {
		return fmt.Errorf("delete memory entries requires a filter")
	}

	query := "DELETE FROM memory_entry WHERE " + conds[0]
	for _, cond := range conds[1:] {
		query += " AND " + cond
	}
	if _, err := db.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to delete memory entries: %w", err)
	}
	return nil
}
