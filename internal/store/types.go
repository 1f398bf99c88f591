// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SaveNinja Contributors

package store

import (
	"time"
)

// Key identifies a (provider, category) pair, the unit of health
// tracking, cooldowns, and gate admission.
type Key struct {
	Provider string
	Category string
}

// String renders the key as "provider/category" for logs and storage.
func (k Key) String() string {
	return k.Provider + "/" + k.Category
}

// RoutingOverride is an operator-supplied chain for a category with an
// expiry. The effective chain at request time is the override chain as
// long as now < ExpiresAt, else the compiled-in default.
type RoutingOverride struct {
	Category  string    `json:"category"`
	Chain     []string  `json:"chain"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Expired reports whether the override is past its expiry.
func (o *RoutingOverride) Expired(now time.Time) bool {
	return !now.Before(o.ExpiresAt)
}

// AttemptOutcome is the terminal state of a single provider attempt.
type AttemptOutcome string

const (
	OutcomeSuccess AttemptOutcome = "success"
	OutcomeFailure AttemptOutcome = "failure"
	// OutcomeSkipped covers policy skips that never reached the provider:
	// budget exhaustion and gate saturation.
	OutcomeSkipped AttemptOutcome = "skipped"
)

// AttemptRecord is one append-only telemetry row. Never mutated.
type AttemptRecord struct {
	ID        string         `json:"id"`
	Provider  string         `json:"provider"`
	Category  string         `json:"category"`
	Outcome   AttemptOutcome `json:"outcome"`
	ErrorKind string         `json:"error_kind,omitempty"`
	Latency   time.Duration  `json:"latency_ns"`
	Bytes     int64          `json:"bytes,omitempty"`
	At        time.Time      `json:"at"`
}

// TelemetrySummary aggregates attempts per (provider, category) over a
// requested time range, for the admin dashboard.
type TelemetrySummary struct {
	Provider         string           `json:"provider"`
	Category         string           `json:"category"`
	Attempts         int64            `json:"attempts"`
	Successes        int64            `json:"successes"`
	SuccessRate      float64          `json:"success_rate"`
	P95LatencyMillis int64            `json:"p95_latency_ms"`
	TotalBytes       int64            `json:"total_bytes"`
	ErrorsByKind     map[string]int64 `json:"errors_by_kind,omitempty"`
}

// BudgetState is the spend ledger for a paid provider on one UTC day.
type BudgetState struct {
	Provider   string `json:"provider"`
	Day        string `json:"day"` // YYYY-MM-DD, UTC
	SpentCents int64  `json:"spent_cents"`
}

// BudgetDay formats the UTC ledger day an instant belongs to. Keying
// spend rows by this string gives the fixed UTC-midnight reset boundary.
func BudgetDay(at time.Time) string {
	return at.UTC().Format("2006-01-02")
}
