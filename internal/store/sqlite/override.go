// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SaveNinja Contributors

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/saveninja/saveninja/internal/store"
	snerr "github.com/saveninja/saveninja/pkg/errors"
)

// Compile-time interface check.
var _ store.OverrideStore = (*OverrideStore)(nil)

// OverrideStore implements store.OverrideStore backed by SQLite. Chains
// are stored as JSON arrays; the table is tiny and read-mostly.
type OverrideStore struct {
	db *sql.DB
}

func (s *OverrideStore) SetOverride(ctx context.Context, o *store.RoutingOverride) error {
	if o == nil || o.Category == "" || len(o.Chain) == 0 {
		return snerr.New(snerr.CodeStoreInvalidInput, "override requires a category and a non-empty chain")
	}

	chain, err := json.Marshal(o.Chain)
	if err != nil {
		return snerr.Wrap(err, snerr.CodeStoreInvalidInput, "marshalling override chain")
	}

	const q = `INSERT INTO routing_overrides (category, chain, expires_at, created_at) VALUES (?, ?, ?, ?)
ON CONFLICT(category) DO UPDATE SET chain = excluded.chain, expires_at = excluded.expires_at, created_at = excluded.created_at`

	_, err = s.db.ExecContext(ctx, q,
		o.Category, string(chain), formatTime(o.ExpiresAt), formatTime(o.CreatedAt))
	return snerr.Wrap(err, snerr.CodeStoreDatabaseFailure, "saving override for "+o.Category)
}

func (s *OverrideStore) GetOverride(ctx context.Context, category string) (*store.RoutingOverride, error) {
	const q = `SELECT category, chain, expires_at, created_at FROM routing_overrides WHERE category = ?`

	o, err := scanOverride(s.db.QueryRowContext(ctx, q, category))
	if err == sql.ErrNoRows {
		return nil, snerr.New(snerr.CodeStoreEntityNotFound,
			"no override for category "+category, snerr.FieldCategory(category))
	}
	if err != nil {
		return nil, snerr.Wrap(err, snerr.CodeStoreDatabaseFailure, "reading override for "+category)
	}
	return o, nil
}

func (s *OverrideStore) ClearOverride(ctx context.Context, category string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM routing_overrides WHERE category = ?`, category)
	return snerr.Wrap(err, snerr.CodeStoreDatabaseFailure, "clearing override for "+category)
}

func (s *OverrideStore) ListOverrides(ctx context.Context) ([]*store.RoutingOverride, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT category, chain, expires_at, created_at FROM routing_overrides ORDER BY category`)
	if err != nil {
		return nil, snerr.Wrap(err, snerr.CodeStoreDatabaseFailure, "listing overrides")
	}
	defer rows.Close()

	var out []*store.RoutingOverride
	for rows.Next() {
		o, err := scanOverride(rows)
		if err != nil {
			return nil, snerr.Wrap(err, snerr.CodeStoreDatabaseFailure, "scanning override row")
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOverride(row rowScanner) (*store.RoutingOverride, error) {
	var (
		o                    store.RoutingOverride
		chainJSON            string
		expiresAt, createdAt string
	)
	if err := row.Scan(&o.Category, &chainJSON, &expiresAt, &createdAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(chainJSON), &o.Chain); err != nil {
		return nil, err
	}
	o.ExpiresAt = parseTime(expiresAt)
	o.CreatedAt = parseTime(createdAt)
	return &o, nil
}
