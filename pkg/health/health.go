// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SaveNinja Contributors

package health

import "time"

// Snapshot exposes the current health state of a (provider, category)
// pair for routing decisions and operator visibility. All fields are
// point-in-time values safe to serialize to JSON.
type Snapshot struct {
	Provider string `json:"provider"`
	Category string `json:"category"`

	Enabled       bool       `json:"enabled"`
	CooldownUntil *time.Time `json:"cooldown_until,omitempty"`

	// Rolling-window counters (trailing window, see store config).
	ErrorCount        int64            `json:"error_count"`
	SuccessCount      int64            `json:"success_count"`
	ErrorsByKind      map[string]int64 `json:"errors_by_kind,omitempty"`
	UnclassifiedCount int64            `json:"unclassified_count"`

	AvgLatencyMillis int64      `json:"avg_latency_ms"`
	LastSuccessAt    *time.Time `json:"last_success_at,omitempty"`
	LastErrorAt      *time.Time `json:"last_error_at,omitempty"`
	LastErrorKind    string     `json:"last_error_kind,omitempty"`

	// CooldownEnteredAt records when the current or most recent cooldown
	// started, used for escalation on rapid re-entry.
	CooldownEnteredAt *time.Time `json:"cooldown_entered_at,omitempty"`
	// LastCooldown is the duration of the most recent cooldown, the base
	// for escalation doubling.
	LastCooldown time.Duration `json:"last_cooldown_ns,omitempty"`
}

// Eligible reports whether the pair may be routed to at the given instant:
// enabled and not inside a cooldown window.
func (s Snapshot) Eligible(now time.Time) bool {
	if !s.Enabled {
		return false
	}
	if s.CooldownUntil != nil && s.CooldownUntil.After(now) {
		return false
	}
	return true
}

// InCooldown reports whether the pair is inside a cooldown window.
func (s Snapshot) InCooldown(now time.Time) bool {
	return s.CooldownUntil != nil && s.CooldownUntil.After(now)
}
