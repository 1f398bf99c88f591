// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SaveNinja Contributors

package engine

import (
	"time"

	"github.com/saveninja/saveninja/internal/store"
	"github.com/saveninja/saveninja/pkg/health"
)

// ResolveInput is the snapshot a resolution works from. The caller
// fetches override and health state once, up front; Resolve itself does
// no I/O so routing decisions are testable without mocks and immune to
// health updates landing mid-walk.
type ResolveInput struct {
	Category string

	// Default is the compiled-in chain for the category.
	Default []string

	// Override is the stored operator override, nil when none exists.
	// Expiry is applied here, not in the store.
	Override *store.RoutingOverride

	// Health maps (provider, category) to its snapshot at resolution
	// time. A missing entry means the pair has never been written and
	// is eligible.
	Health map[store.Key]health.Snapshot

	Now time.Time
}

// Resolve returns the effective ordered provider chain for a category.
//
// The base chain is the override when present, unexpired, and
// non-empty, else the default. Providers that are disabled or in
// cooldown are filtered out. Relative order is preserved: operator and
// default ordering is authoritative, health only removes candidates.
// An empty result is a valid outcome, not an error.
func Resolve(in ResolveInput) []string {
	base := in.Default
	if in.Override != nil && !in.Override.Expired(in.Now) && len(in.Override.Chain) > 0 {
		base = in.Override.Chain
	}

	out := make([]string, 0, len(base))
	for _, name := range base {
		snap, ok := in.Health[store.Key{Provider: name, Category: in.Category}]
		if !ok || snap.Eligible(in.Now) {
			out = append(out, name)
		}
	}
	return out
}
