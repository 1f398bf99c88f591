// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SaveNinja Contributors

package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/saveninja/saveninja/internal/store"
	snerr "github.com/saveninja/saveninja/pkg/errors"
)

// Compile-time interface check.
var _ store.BudgetStore = (*BudgetStore)(nil)

// BudgetStore implements store.BudgetStore backed by SQLite. Ledger rows
// are keyed by (provider, UTC day) so the daily reset falls out of the
// key rather than a sweeper.
type BudgetStore struct {
	db *sql.DB
}

func (s *BudgetStore) AddSpend(ctx context.Context, provider string, cents int64, at time.Time) (int64, error) {
	if provider == "" {
		return 0, snerr.New(snerr.CodeStoreInvalidInput, "budget spend requires a provider")
	}
	day := store.BudgetDay(at)

	// The raw delta feeds both arms so refunds apply before clamping.
	const q = `INSERT INTO budget_spend (provider, day, spent_cents) VALUES (?, ?, MAX(0, ?))
ON CONFLICT(provider, day) DO UPDATE SET spent_cents = MAX(0, spent_cents + ?)
RETURNING spent_cents`

	var total int64
	err := s.db.QueryRowContext(ctx, q, provider, day, cents, cents).Scan(&total)
	if err != nil {
		return 0, snerr.Wrap(err, snerr.CodeStoreDatabaseFailure,
			"recording budget spend for "+provider, snerr.FieldProvider(provider))
	}
	return total, nil
}

func (s *BudgetStore) Spent(ctx context.Context, provider string, at time.Time) (int64, error) {
	const q = `SELECT spent_cents FROM budget_spend WHERE provider = ? AND day = ?`

	var total int64
	err := s.db.QueryRowContext(ctx, q, provider, store.BudgetDay(at)).Scan(&total)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, snerr.Wrap(err, snerr.CodeStoreDatabaseFailure,
			"reading budget spend for "+provider, snerr.FieldProvider(provider))
	}
	return total, nil
}

func (s *BudgetStore) States(ctx context.Context, at time.Time) ([]*store.BudgetState, error) {
	const q = `SELECT provider, day, spent_cents FROM budget_spend WHERE day = ? ORDER BY provider`

	rows, err := s.db.QueryContext(ctx, q, store.BudgetDay(at))
	if err != nil {
		return nil, snerr.Wrap(err, snerr.CodeStoreDatabaseFailure, "listing budget states")
	}
	defer rows.Close()

	var out []*store.BudgetState
	for rows.Next() {
		var st store.BudgetState
		if err := rows.Scan(&st.Provider, &st.Day, &st.SpentCents); err != nil {
			return nil, snerr.Wrap(err, snerr.CodeStoreDatabaseFailure, "scanning budget state row")
		}
		out = append(out, &st)
	}
	return out, rows.Err()
}
