// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SaveNinja Contributors

package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/saveninja/saveninja/internal/store"
	snerr "github.com/saveninja/saveninja/pkg/errors"
	"github.com/saveninja/saveninja/pkg/health"
)

// Compile-time interface check.
var _ store.HealthStore = (*HealthStore)(nil)

// HealthStore implements store.HealthStore backed by SQLite. Counters
// are event rows pruned to the rolling window on every write, so the
// window contract holds without a background sweeper.
type HealthStore struct {
	db      *sql.DB
	window  time.Duration
	nowFunc func() time.Time
}

// SetNowFunc overrides the time source (for testing).
func (s *HealthStore) SetNowFunc(fn func() time.Time) {
	s.nowFunc = fn
}

// eventKind values stored alongside error kinds in health_events.
const (
	eventSuccess      = "success"
	eventUnclassified = "unclassified"
)

func (s *HealthStore) recordEvent(ctx context.Context, key store.Key, kind string, latency time.Duration, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return snerr.Wrap(err, snerr.CodeStoreDatabaseFailure, "beginning health tx")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`DELETE FROM health_events WHERE provider = ? AND category = ? AND at < ?`,
		key.Provider, key.Category, formatTime(at.Add(-s.window)))
	if err != nil {
		return snerr.Wrap(err, snerr.CodeStoreDatabaseFailure, "pruning health events")
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO health_events (provider, category, kind, latency_ns, at) VALUES (?, ?, ?, ?, ?)`,
		key.Provider, key.Category, kind, int64(latency), formatTime(at))
	if err != nil {
		return snerr.Wrap(err, snerr.CodeStoreDatabaseFailure, "inserting health event")
	}

	switch kind {
	case eventSuccess:
		_, err = tx.ExecContext(ctx,
			`INSERT INTO provider_health (provider, category, last_success_at) VALUES (?, ?, ?)
ON CONFLICT(provider, category) DO UPDATE SET last_success_at = excluded.last_success_at`,
			key.Provider, key.Category, formatTime(at))
	case eventUnclassified:
		// No state-row field to update; the event row is enough.
	default:
		_, err = tx.ExecContext(ctx,
			`INSERT INTO provider_health (provider, category, last_error_at, last_error_kind) VALUES (?, ?, ?, ?)
ON CONFLICT(provider, category) DO UPDATE SET last_error_at = excluded.last_error_at, last_error_kind = excluded.last_error_kind`,
			key.Provider, key.Category, formatTime(at), kind)
	}
	if err != nil {
		return snerr.Wrap(err, snerr.CodeStoreDatabaseFailure, "updating health state")
	}

	return snerr.Wrap(tx.Commit(), snerr.CodeStoreDatabaseFailure, "committing health tx")
}

func (s *HealthStore) IncrementError(ctx context.Context, key store.Key, kind string, at time.Time) (int64, error) {
	if err := s.recordEvent(ctx, key, kind, 0, at); err != nil {
		return 0, err
	}

	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM health_events WHERE provider = ? AND category = ? AND kind = ? AND at >= ?`,
		key.Provider, key.Category, kind, formatTime(at.Add(-s.window))).Scan(&n)
	if err != nil {
		return 0, snerr.Wrap(err, snerr.CodeStoreDatabaseFailure, "counting error events")
	}
	return n, nil
}

func (s *HealthStore) IncrementUnclassified(ctx context.Context, key store.Key, at time.Time) error {
	return s.recordEvent(ctx, key, eventUnclassified, 0, at)
}

func (s *HealthStore) IncrementSuccess(ctx context.Context, key store.Key, latency time.Duration, at time.Time) error {
	return s.recordEvent(ctx, key, eventSuccess, latency, at)
}

func (s *HealthStore) SetCooldown(ctx context.Context, key store.Key, until time.Time) error {
	now := s.nowFunc()

	const q = `INSERT INTO provider_health (provider, category, cooldown_until, cooldown_entered_at, last_cooldown_ns)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(provider, category) DO UPDATE SET
	cooldown_until = excluded.cooldown_until,
	cooldown_entered_at = excluded.cooldown_entered_at,
	last_cooldown_ns = excluded.last_cooldown_ns`

	_, err := s.db.ExecContext(ctx, q,
		key.Provider, key.Category, formatTime(until), formatTime(now), int64(until.Sub(now)))
	return snerr.Wrap(err, snerr.CodeStoreDatabaseFailure, "setting cooldown for "+key.String())
}

func (s *HealthStore) ClearCooldown(ctx context.Context, key store.Key) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE provider_health SET cooldown_until = '' WHERE provider = ? AND category = ?`,
		key.Provider, key.Category)
	return snerr.Wrap(err, snerr.CodeStoreDatabaseFailure, "clearing cooldown for "+key.String())
}

func (s *HealthStore) SetEnabled(ctx context.Context, key store.Key, enabled bool) error {
	const q = `INSERT INTO provider_health (provider, category, enabled) VALUES (?, ?, ?)
ON CONFLICT(provider, category) DO UPDATE SET enabled = excluded.enabled`

	val := 0
	if enabled {
		val = 1
	}
	_, err := s.db.ExecContext(ctx, q, key.Provider, key.Category, val)
	return snerr.Wrap(err, snerr.CodeStoreDatabaseFailure, "setting enabled for "+key.String())
}

func (s *HealthStore) Snapshot(ctx context.Context, key store.Key) (health.Snapshot, error) {
	return s.snapshot(ctx, key, s.nowFunc())
}

func (s *HealthStore) snapshot(ctx context.Context, key store.Key, now time.Time) (health.Snapshot, error) {
	snap := health.Snapshot{
		Provider: key.Provider,
		Category: key.Category,
		Enabled:  true,
	}

	const stateQ = `SELECT enabled, cooldown_until, cooldown_entered_at, last_cooldown_ns,
last_error_at, last_error_kind, last_success_at
FROM provider_health WHERE provider = ? AND category = ?`

	var (
		enabled                                int
		cooldownUntil, enteredAt               string
		lastCooldownNS                         int64
		lastErrorAt, lastErrorKind, lastSuccAt string
	)
	err := s.db.QueryRowContext(ctx, stateQ, key.Provider, key.Category).Scan(
		&enabled, &cooldownUntil, &enteredAt, &lastCooldownNS,
		&lastErrorAt, &lastErrorKind, &lastSuccAt)
	switch {
	case err == sql.ErrNoRows:
		// Pair never written; defaults apply.
	case err != nil:
		return snap, snerr.Wrap(err, snerr.CodeStoreDatabaseFailure, "reading health state for "+key.String())
	default:
		snap.Enabled = enabled != 0
		snap.LastErrorKind = lastErrorKind
		snap.LastCooldown = time.Duration(lastCooldownNS)
		if t := parseTime(cooldownUntil); !t.IsZero() {
			snap.CooldownUntil = &t
		}
		if t := parseTime(enteredAt); !t.IsZero() {
			snap.CooldownEnteredAt = &t
		}
		if t := parseTime(lastErrorAt); !t.IsZero() {
			snap.LastErrorAt = &t
		}
		if t := parseTime(lastSuccAt); !t.IsZero() {
			snap.LastSuccessAt = &t
		}
	}

	const eventsQ = `SELECT kind, COUNT(*), COALESCE(AVG(latency_ns), 0)
FROM health_events WHERE provider = ? AND category = ? AND at >= ? GROUP BY kind`

	rows, err := s.db.QueryContext(ctx, eventsQ, key.Provider, key.Category,
		formatTime(now.Add(-s.window)))
	if err != nil {
		return snap, snerr.Wrap(err, snerr.CodeStoreDatabaseFailure, "aggregating health events for "+key.String())
	}
	defer rows.Close()

	for rows.Next() {
		var (
			kind       string
			count      int64
			avgLatency float64
		)
		if err := rows.Scan(&kind, &count, &avgLatency); err != nil {
			return snap, snerr.Wrap(err, snerr.CodeStoreDatabaseFailure, "scanning health event row")
		}
		switch kind {
		case eventSuccess:
			snap.SuccessCount = count
			snap.AvgLatencyMillis = time.Duration(avgLatency).Milliseconds()
		case eventUnclassified:
			snap.UnclassifiedCount = count
		default:
			snap.ErrorCount += count
			if snap.ErrorsByKind == nil {
				snap.ErrorsByKind = make(map[string]int64, 4)
			}
			snap.ErrorsByKind[kind] = count
		}
	}
	return snap, rows.Err()
}

func (s *HealthStore) SnapshotAll(ctx context.Context) ([]health.Snapshot, error) {
	const keysQ = `SELECT provider, category FROM provider_health
UNION SELECT provider, category FROM health_events
ORDER BY provider, category`

	rows, err := s.db.QueryContext(ctx, keysQ)
	if err != nil {
		return nil, snerr.Wrap(err, snerr.CodeStoreDatabaseFailure, "listing health keys")
	}
	defer rows.Close()

	var keys []store.Key
	for rows.Next() {
		var k store.Key
		if err := rows.Scan(&k.Provider, &k.Category); err != nil {
			return nil, snerr.Wrap(err, snerr.CodeStoreDatabaseFailure, "scanning health key")
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, snerr.Wrap(err, snerr.CodeStoreDatabaseFailure, "iterating health keys")
	}

	now := s.nowFunc()
	out := make([]health.Snapshot, 0, len(keys))
	for _, k := range keys {
		snap, err := s.snapshot(ctx, k, now)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}
