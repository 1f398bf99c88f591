// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SaveNinja Contributors

package engine

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saveninja/saveninja/internal/store"
	"github.com/saveninja/saveninja/pkg/health"
)

func healthMap(category string, snaps ...health.Snapshot) map[store.Key]health.Snapshot {
	m := make(map[store.Key]health.Snapshot, len(snaps))
	for _, s := range snaps {
		m[store.Key{Provider: s.Provider, Category: category}] = s
	}
	return m
}

func TestResolve_DefaultChainPassesThrough(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	got := Resolve(ResolveInput{
		Category: "youtube_full",
		Default:  []string{"ytdlp", "pytubefix", "savenow"},
		Now:      now,
	})
	assert.Equal(t, []string{"ytdlp", "pytubefix", "savenow"}, got)
}

func TestResolve_FiltersDisabledAndCooledDown(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	until := now.Add(10 * time.Minute)

	got := Resolve(ResolveInput{
		Category: "youtube_full",
		Default:  []string{"ytdlp", "pytubefix", "savenow"},
		Health: healthMap("youtube_full",
			health.Snapshot{Provider: "ytdlp", Category: "youtube_full", Enabled: false},
			health.Snapshot{Provider: "pytubefix", Category: "youtube_full", Enabled: true, CooldownUntil: &until},
			health.Snapshot{Provider: "savenow", Category: "youtube_full", Enabled: true},
		),
		Now: now,
	})
	assert.Equal(t, []string{"savenow"}, got)
}

func TestResolve_ExpiredCooldownIsEligible(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)

	got := Resolve(ResolveInput{
		Category: "tiktok_video",
		Default:  []string{"ytdlp"},
		Health: healthMap("tiktok_video",
			health.Snapshot{Provider: "ytdlp", Category: "tiktok_video", Enabled: true, CooldownUntil: &past},
		),
		Now: now,
	})
	assert.Equal(t, []string{"ytdlp"}, got)
}

func TestResolve_OverrideWinsUntilExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	override := &store.RoutingOverride{
		Category:  "youtube_full",
		Chain:     []string{"savenow", "ytdlp"},
		ExpiresAt: now.Add(30 * time.Minute),
		CreatedAt: now,
	}

	in := ResolveInput{
		Category: "youtube_full",
		Default:  []string{"ytdlp", "pytubefix", "savenow"},
		Override: override,
		Now:      now,
	}
	assert.Equal(t, []string{"savenow", "ytdlp"}, Resolve(in))

	// Past expiry the default chain is back in force.
	in.Now = now.Add(31 * time.Minute)
	assert.Equal(t, []string{"ytdlp", "pytubefix", "savenow"}, Resolve(in))
}

func TestResolve_OverrideFilteredByHealth(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	got := Resolve(ResolveInput{
		Category: "youtube_full",
		Default:  []string{"ytdlp", "pytubefix"},
		Override: &store.RoutingOverride{
			Category:  "youtube_full",
			Chain:     []string{"savenow", "ytdlp"},
			ExpiresAt: now.Add(time.Hour),
		},
		Health: healthMap("youtube_full",
			health.Snapshot{Provider: "savenow", Category: "youtube_full", Enabled: false},
		),
		Now: now,
	})
	assert.Equal(t, []string{"ytdlp"}, got)
}

func TestResolve_EmptyResultIsValid(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	got := Resolve(ResolveInput{
		Category: "youtube_full",
		Default:  []string{"ytdlp"},
		Health: healthMap("youtube_full",
			health.Snapshot{Provider: "ytdlp", Category: "youtube_full", Enabled: false},
		),
		Now: now,
	})
	assert.Empty(t, got)
}

// Randomized health states: the resolved chain never contains an
// ineligible provider and never reorders the survivors.
func TestResolve_NeverReturnsIneligible(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	names := []string{"p1", "p2", "p3", "p4", "p5"}
	rng := rand.New(rand.NewSource(42))

	for trial := 0; trial < 200; trial++ {
		snaps := make(map[store.Key]health.Snapshot, len(names))
		eligible := make(map[string]bool, len(names))
		for _, name := range names {
			s := health.Snapshot{Provider: name, Category: "c", Enabled: rng.Intn(2) == 0}
			if rng.Intn(2) == 0 {
				until := now.Add(time.Duration(rng.Intn(120)-60) * time.Minute)
				s.CooldownUntil = &until
			}
			snaps[store.Key{Provider: name, Category: "c"}] = s
			eligible[name] = s.Eligible(now)
		}

		got := Resolve(ResolveInput{Category: "c", Default: names, Health: snaps, Now: now})

		for _, name := range got {
			require.True(t, eligible[name], "trial %d returned ineligible provider %s", trial, name)
		}
		// Order check: got must be the eligible subsequence of names.
		want := make([]string, 0, len(names))
		for _, name := range names {
			if eligible[name] {
				want = append(want, name)
			}
		}
		require.Equal(t, want, got, "trial %d reordered the chain", trial)
	}
}
