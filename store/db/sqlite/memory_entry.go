package sqlite

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/hearth-home/hearth/store"
)

// UpsertMemoryEntry inserts or replaces the value for a
// (family, user, namespace, key) tuple.
func (d *DB) UpsertMemoryEntry(ctx context.Context, upsert *store.UpsertMemoryEntry) (*store.MemoryEntry, error) {
	stmt := `
		INSERT INTO memory_entry (family_id, user_id, namespace, key, value)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (family_id, user_id, namespace, key) DO UPDATE SET
			value = excluded.value,
			updated_ts = (strftime('%s', 'now'))
		RETURNING id, family_id, user_id, namespace, key, value, created_ts, updated_ts
	`
	var entry store.MemoryEntry
	err := d.db.QueryRowContext(ctx, stmt,
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
		return nil, errors.Wrap(err, "failed to upsert memory entry")
	}
	return &entry, nil
}

// ListMemoryEntries lists memory entries.
func (d *DB) ListMemoryEntries(ctx context.Context, find *store.FindMemoryEntry) ([]*store.MemoryEntry, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.FamilyID != nil {
		where, args = append(where, "family_id = ?"), append(args, *find.FamilyID)
	}
	if find.UserID != nil {
		where, args = append(where, "user_id = ?"), append(args, *find.UserID)
	}
	if find.Namespace != nil {
		where, args = append(where, "namespace = ?"), append(args, *find.Namespace)
	}
	if find.Key != nil {
		where, args = append(where, "key = ?"), append(args, *find.Key)
	}

	query := `SELECT id, family_id, user_id, namespace, key, value, created_ts, updated_ts
		FROM memory_entry
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY namespace, key`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list memory entries")
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
			return nil, errors.Wrap(err, "failed to scan memory entry")
		}
		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return entries, nil
}

// DeleteMemoryEntries removes entries matching the filters. At least one
// filter is required so a zero-value delete cannot empty the table.
func (d *DB) DeleteMemoryEntries(ctx context.Context, del *store.DeleteMemoryEntry) error {
	where, args := []string{}, []any{}

	if del.FamilyID != nil {
		where, args = append(where, "family_id = ?"), append(args, *del.FamilyID)
	}
	if del.UserID != nil {
		where, args = append(where, "user_id = ?"), append(args, *del.UserID)
	}
	if del.Namespace != nil {
		where, args = append(where, "namespace = ?"), append(args, *del.Namespace)
	}
	if len(where) == 0 {
		return errors.New("delete memory entries requires a filter")
	}

	stmt := `DELETE FROM memory_entry WHERE ` + strings.Join(where, " AND ")
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return errors.Wrap(err, "failed to delete memory entries")
	}
	return nil
}
