// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SaveNinja Contributors

package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/saveninja/saveninja/internal/store"
	snerr "github.com/saveninja/saveninja/pkg/errors"
)

// Compile-time interface check.
var _ store.TelemetryStore = (*TelemetryStore)(nil)

// TelemetryStore implements store.TelemetryStore backed by SQLite.
// Attempt records are append-only; readers aggregate on demand.
type TelemetryStore struct {
	db *sql.DB
}

func (s *TelemetryStore) Append(ctx context.Context, rec *store.AttemptRecord) error {
	if rec == nil || rec.Provider == "" || rec.Category == "" {
		return snerr.New(snerr.CodeStoreInvalidInput, "attempt record requires a provider and a category")
	}
	id := rec.ID
	if id == "" {
		id = uuid.NewString()
	}
	at := rec.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	const q = `INSERT INTO attempts (id, provider, category, outcome, error_kind, latency_ns, bytes, at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, q,
		id, rec.Provider, rec.Category, string(rec.Outcome), rec.ErrorKind,
		rec.Latency.Nanoseconds(), rec.Bytes, formatTime(at))
	return snerr.Wrap(err, snerr.CodeStoreDatabaseFailure, "appending attempt record")
}

func (s *TelemetryStore) Summarize(ctx context.Context, since time.Time) ([]*store.TelemetrySummary, error) {
	const q = `SELECT provider, category,
	COUNT(*),
	SUM(CASE WHEN outcome = 'success' THEN 1 ELSE 0 END),
	COALESCE(SUM(CASE WHEN outcome = 'success' THEN bytes ELSE 0 END), 0)
FROM attempts WHERE at >= ?
GROUP BY provider, category
ORDER BY provider, category`

	rows, err := s.db.QueryContext(ctx, q, formatTime(since))
	if err != nil {
		return nil, snerr.Wrap(err, snerr.CodeStoreDatabaseFailure, "summarizing attempts")
	}
	defer rows.Close()

	var out []*store.TelemetrySummary
	for rows.Next() {
		var sum store.TelemetrySummary
		if err := rows.Scan(&sum.Provider, &sum.Category,
			&sum.Attempts, &sum.Successes, &sum.TotalBytes); err != nil {
			return nil, snerr.Wrap(err, snerr.CodeStoreDatabaseFailure, "scanning attempt summary row")
		}
		if sum.Attempts > 0 {
			sum.SuccessRate = float64(sum.Successes) / float64(sum.Attempts)
		}
		out = append(out, &sum)
	}
	if err := rows.Err(); err != nil {
		return nil, snerr.Wrap(err, snerr.CodeStoreDatabaseFailure, "iterating attempt summary rows")
	}

	if err := s.fillErrorKinds(ctx, out, since); err != nil {
		return nil, err
	}
	for _, sum := range out {
		p95, err := s.p95Millis(ctx, sum.Provider, sum.Category, since)
		if err != nil {
			return nil, err
		}
		sum.P95LatencyMillis = p95
	}
	return out, nil
}

// fillErrorKinds attaches per-kind failure counts to each summary.
func (s *TelemetryStore) fillErrorKinds(ctx context.Context, sums []*store.TelemetrySummary, since time.Time) error {
	if len(sums) == 0 {
		return nil
	}

	const q = `SELECT provider, category, error_kind, COUNT(*)
FROM attempts
WHERE at >= ? AND outcome != 'success' AND error_kind != ''
GROUP BY provider, category, error_kind`

	rows, err := s.db.QueryContext(ctx, q, formatTime(since))
	if err != nil {
		return snerr.Wrap(err, snerr.CodeStoreDatabaseFailure, "aggregating error kinds")
	}
	defer rows.Close()

	index := make(map[store.Key]*store.TelemetrySummary, len(sums))
	for _, sum := range sums {
		index[store.Key{Provider: sum.Provider, Category: sum.Category}] = sum
	}

	for rows.Next() {
		var (
			provider, category, kind string
			count                    int64
		)
		if err := rows.Scan(&provider, &category, &kind, &count); err != nil {
			return snerr.Wrap(err, snerr.CodeStoreDatabaseFailure, "scanning error kind row")
		}
		sum, ok := index[store.Key{Provider: provider, Category: category}]
		if !ok {
			continue
		}
		if sum.ErrorsByKind == nil {
			sum.ErrorsByKind = make(map[string]int64, 4)
		}
		sum.ErrorsByKind[kind] = count
	}
	return rows.Err()
}

// p95Millis computes the nearest-rank 95th percentile latency over
// successful attempts for one provider and category pair.
func (s *TelemetryStore) p95Millis(ctx context.Context, provider, category string, since time.Time) (int64, error) {
	const countQ = `SELECT COUNT(*) FROM attempts
WHERE provider = ? AND category = ? AND outcome = 'success' AND at >= ?`

	var n int64
	if err := s.db.QueryRowContext(ctx, countQ, provider, category, formatTime(since)).Scan(&n); err != nil {
		return 0, snerr.Wrap(err, snerr.CodeStoreDatabaseFailure, "counting attempts for percentile")
	}
	if n == 0 {
		return 0, nil
	}
	rank := (95*n + 99) / 100 // ceil(0.95 * n)

	const q = `SELECT latency_ns FROM attempts
WHERE provider = ? AND category = ? AND outcome = 'success' AND at >= ?
ORDER BY latency_ns LIMIT 1 OFFSET ?`

	var latencyNS int64
	err := s.db.QueryRowContext(ctx, q, provider, category, formatTime(since), rank-1).Scan(&latencyNS)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, snerr.Wrap(err, snerr.CodeStoreDatabaseFailure, "reading percentile latency")
	}
	return latencyNS / int64(time.Millisecond), nil
}
