// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SaveNinja Contributors

package store

import (
	"context"
	"time"

	"github.com/saveninja/saveninja/pkg/health"
)

// HealthStore tracks per (provider, category) health state. All counter
// mutation is atomic from the caller's perspective; the orchestrator
// never performs a read-modify-write cycle against this store.
//
// Counters are maintained over a trailing rolling window chosen at
// store construction. The externally observable contract is "N failures
// of a given kind within the window", regardless of how an
// implementation buckets or prunes internally.
type HealthStore interface {
	// IncrementError records a classified failure and returns the
	// updated within-window count for that kind, so the caller can apply
	// threshold-based cooldown policy without a second read.
	IncrementError(ctx context.Context, key Key, kind string, at time.Time) (int64, error)

	// IncrementUnclassified bumps the distinct counter for raw errors
	// that matched no known classification pattern.
	IncrementUnclassified(ctx context.Context, key Key, at time.Time) error

	IncrementSuccess(ctx context.Context, key Key, latency time.Duration, at time.Time) error

	SetCooldown(ctx context.Context, key Key, until time.Time) error
	ClearCooldown(ctx context.Context, key Key) error

	// SetEnabled is the operator kill switch; it persists until
	// explicitly changed.
	SetEnabled(ctx context.Context, key Key, enabled bool) error

	// Snapshot returns the current health of a pair. A pair that has
	// never been written returns a zero snapshot with Enabled = true.
	Snapshot(ctx context.Context, key Key) (health.Snapshot, error)

	// SnapshotAll returns snapshots for every pair the store has seen.
	SnapshotAll(ctx context.Context) ([]health.Snapshot, error)
}

// OverrideStore holds operator routing overrides per category.
type OverrideStore interface {
	SetOverride(ctx context.Context, o *RoutingOverride) error

	// GetOverride returns the stored override for a category, expired or
	// not; callers apply expiry. Returns a not-found coded error when no
	// override exists.
	GetOverride(ctx context.Context, category string) (*RoutingOverride, error)

	ClearOverride(ctx context.Context, category string) error
	ListOverrides(ctx context.Context) ([]*RoutingOverride, error)
}

// TelemetryStore is the append-only attempt log. Write-only from the
// engine's perspective; aggregates serve the admin panel.
type TelemetryStore interface {
	Append(ctx context.Context, rec *AttemptRecord) error
	Summarize(ctx context.Context, since time.Time) ([]*TelemetrySummary, error)
}

// BudgetStore is the per-provider daily spend ledger.
type BudgetStore interface {
	// AddSpend atomically adds cents to the provider's ledger for the
	// UTC day containing at, returning the new total. Negative cents
	// refund a reservation that was not dispatched.
	AddSpend(ctx context.Context, provider string, cents int64, at time.Time) (int64, error)

	Spent(ctx context.Context, provider string, at time.Time) (int64, error)
	States(ctx context.Context, at time.Time) ([]*BudgetState, error)
}

// Stores bundles the four logical stores produced by a backend factory.
type Stores struct {
	Health    HealthStore
	Overrides OverrideStore
	Telemetry TelemetryStore
	Budget    BudgetStore

	closers []func() error
}

// AddCloser registers a resource to release on Close (e.g. a shared
// database handle). Backend factories call this during construction.
func (s *Stores) AddCloser(fn func() error) {
	s.closers = append(s.closers, fn)
}

// Close releases backend resources in reverse registration order.
func (s *Stores) Close() error {
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
