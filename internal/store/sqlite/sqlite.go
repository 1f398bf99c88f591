// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SaveNinja Contributors

package sqlite

import (
	"database/sql"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/saveninja/saveninja/internal/store"
	snerr "github.com/saveninja/saveninja/pkg/errors"
)

func init() {
	store.RegisterBackend("sqlite", func(opts store.Options) (*store.Stores, error) {
		return NewStores(opts)
	})
}

// NewStores opens (or creates) the engine database under opts.DataPath
// and wires all four stores onto the shared connection.
func NewStores(opts store.Options) (*store.Stores, error) {
	dbPath := filepath.Join(opts.DataPath, "engine.db")

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, snerr.Wrapf(err, snerr.CodeStoreDatabaseFailure, "opening sqlite db %s", dbPath)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, snerr.Wrapf(err, snerr.CodeStoreDatabaseFailure, "pinging sqlite db %s", dbPath)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, snerr.Wrapf(err, snerr.CodeStoreDatabaseFailure, "migrating sqlite db %s", dbPath)
	}

	window := opts.RollingWindow
	if window <= 0 {
		window = store.DefaultRollingWindow
	}

	stores := &store.Stores{
		Health:    &HealthStore{db: db, window: window, nowFunc: time.Now},
		Overrides: &OverrideStore{db: db},
		Telemetry: &TelemetryStore{db: db},
		Budget:    &BudgetStore{db: db},
	}
	stores.AddCloser(db.Close)
	return stores, nil
}

func migrate(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS provider_health (
	provider            TEXT NOT NULL,
	category            TEXT NOT NULL,
	enabled             INTEGER NOT NULL DEFAULT 1,
	cooldown_until      TEXT NOT NULL DEFAULT '',
	cooldown_entered_at TEXT NOT NULL DEFAULT '',
	last_cooldown_ns    INTEGER NOT NULL DEFAULT 0,
	last_error_at       TEXT NOT NULL DEFAULT '',
	last_error_kind     TEXT NOT NULL DEFAULT '',
	last_success_at     TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (provider, category)
);

CREATE TABLE IF NOT EXISTS health_events (
	provider   TEXT NOT NULL,
	category   TEXT NOT NULL,
	kind       TEXT NOT NULL,
	latency_ns INTEGER NOT NULL DEFAULT 0,
	at         TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_health_events_key ON health_events(provider, category, at);

CREATE TABLE IF NOT EXISTS routing_overrides (
	category   TEXT PRIMARY KEY,
	chain      TEXT NOT NULL,
	expires_at TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS attempts (
	id         TEXT PRIMARY KEY,
	provider   TEXT NOT NULL,
	category   TEXT NOT NULL,
	outcome    TEXT NOT NULL,
	error_kind TEXT NOT NULL DEFAULT '',
	latency_ns INTEGER NOT NULL DEFAULT 0,
	bytes      INTEGER NOT NULL DEFAULT 0,
	at         TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_attempts_at ON attempts(at);
CREATE INDEX IF NOT EXISTS idx_attempts_key ON attempts(provider, category, at);

CREATE TABLE IF NOT EXISTS budget_spend (
	provider    TEXT NOT NULL,
	day         TEXT NOT NULL,
	spent_cents INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (provider, day)
);
`
	_, err := db.Exec(ddl)
	return err
}

// timeLayout is fixed-width so lexicographic comparison of stored
// strings matches chronological order in SQL range scans.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// formatTime serialises a time.Time to RFC3339 with nanosecond precision.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

// parseTime deserialises a time string stored in the database.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
