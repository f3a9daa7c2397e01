package sqlite

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/hearth-home/hearth/store"
)

// UpsertFamily creates a family, or returns the existing record when the
// name is already taken regardless of casing.
func (d *DB) UpsertFamily(ctx context.Context, upsert *store.UpsertFamily) (*store.Family, error) {
	stmt := `
		INSERT INTO family (id, name, name_lower)
		VALUES (?, ?, ?)
		ON CONFLICT (name_lower) DO UPDATE SET
			updated_ts = (strftime('%s', 'now'))
		RETURNING id, name, created_ts, updated_ts
	`
	var family store.Family
	err := d.db.QueryRowContext(ctx, stmt,
		upsert.ID,
		upsert.Name,
		strings.ToLower(upsert.Name),
	).Scan(
		&family.ID,
		&family.Name,
		&family.CreatedTs,
		&family.UpdatedTs,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to upsert family")
	}
	return &family, nil
}

// ListFamilies lists families. Name filters case-insensitively.
func (d *DB) ListFamilies(ctx context.Context, find *store.FindFamily) ([]*store.Family, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = ?"), append(args, *find.ID)
	}
	if find.Name != nil {
		where, args = append(where, "name_lower = ?"), append(args, strings.ToLower(*find.Name))
	}

	query := `SELECT id, name, created_ts, updated_ts
		FROM family
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts DESC`

	if find.Limit != nil {
		query += " LIMIT ?"
		args = append(args, *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list families")
	}
	defer rows.Close()

	var families []*store.Family
	for rows.Next() {
		var family store.Family
		err := rows.Scan(
			&family.ID,
			&family.Name,
			&family.CreatedTs,
			&family.UpdatedTs,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan family")
		}
		families = append(families, &family)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return families, nil
}
