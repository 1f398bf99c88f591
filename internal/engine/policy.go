// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SaveNinja Contributors

package engine

import (
	"time"

	"github.com/saveninja/saveninja/pkg/health"
)

// CooldownPolicy decides, after a classified failure, whether the
// (provider, category) pair enters cooldown and for how long. Tiers:
// rate limiting cools down immediately and long, stalls cool down only
// once they cluster, fatal and provider-bug failures never cool down
// the pair.
type CooldownPolicy struct {
	// RateLimited is the immediate cooldown for a rate-limit failure.
	RateLimited time.Duration

	// Stall is the cooldown applied once StallThreshold stalls
	// accumulate within the health store's rolling window.
	Stall          time.Duration
	StallThreshold int64

	// EscalationWindow: re-entering cooldown within this span of the
	// previous cooldown's end doubles the previous duration.
	EscalationWindow time.Duration

	// Max caps escalated cooldowns.
	Max time.Duration
}

// DefaultCooldownPolicy returns the production tiers.
func DefaultCooldownPolicy() CooldownPolicy {
	return CooldownPolicy{
		RateLimited:      30 * time.Minute,
		Stall:            10 * time.Minute,
		StallThreshold:   3,
		EscalationWindow: time.Hour,
		Max:              4 * time.Hour,
	}
}

// CooldownFor returns the cooldown duration a failure earns, or zero
// when the pair should stay available. windowCount is the within-window
// count for the failure's kind, as returned by the health store's
// error increment. snap is the pair's health at resolution time and
// supplies the escalation baseline.
func (p CooldownPolicy) CooldownFor(kind ErrorKind, windowCount int64, snap health.Snapshot, now time.Time) time.Duration {
	var base time.Duration
	switch kind {
	case KindRateLimited:
		base = p.RateLimited
	case KindTransientStall:
		if windowCount < p.StallThreshold {
			return 0
		}
		base = p.Stall
	default:
		return 0
	}

	d := base
	if prev := p.previousCooldownEnd(snap); !prev.IsZero() && now.Before(prev.Add(p.EscalationWindow)) {
		if escalated := snap.LastCooldown * 2; escalated > d {
			d = escalated
		}
	}
	if d > p.Max {
		d = p.Max
	}
	return d
}

// previousCooldownEnd derives when the pair's last cooldown elapsed,
// zero when it never cooled down.
func (p CooldownPolicy) previousCooldownEnd(snap health.Snapshot) time.Time {
	if snap.CooldownEnteredAt == nil || snap.LastCooldown <= 0 {
		return time.Time{}
	}
	return snap.CooldownEnteredAt.Add(snap.LastCooldown)
}
