package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/hearth-home/hearth/store"
)

func (db *DB) UpsertFamily(ctx context.Context, upsert *store.UpsertFamily) (*store.Family, error) {
	query := `
		INSERT INTO family (id, name, name_lower)
		VALUES ($1, $2, $3)
		ON CONFLICT (name_lower) DO UPDATE SET
			updated_ts = EXTRACT(EPOCH FROM NOW())::BIGINT
		RETURNING id, name, created_ts, updated_ts
	`
	var family store.Family
	err := db.db.QueryRowContext(ctx, query,
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
		return nil, fmt.Errorf("failed to upsert family: %w", err)
	}
	return &family, nil
}

func (db *DB) ListFamilies(ctx context.Context, find *store.FindFamily) ([]*store.Family, error) {
	query := `
		SELECT id, name, created_ts, updated_ts
		FROM family
		WHERE 1=1
	`
	var args []interface{}
	argIndex := 1

	if find.ID != nil {
		query += fmt.Sprintf(" AND id = $%d", argIndex)
		args = append(args, *find.ID)
		argIndex++
	}
	if find.Name != nil {
		query += fmt.Sprintf(" AND name_lower = $%d", argIndex)
		args = append(args, strings.ToLower(*find.Name))
		argIndex++
	}

	query += " ORDER BY created_ts DESC"

	if find.Limit != nil {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, *find.Limit)
	}

	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list families: %w", err)
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
			return nil, fmt.Errorf("failed to scan family: %w", err)
		}
		families = append(families, &family)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return families, nil
}
