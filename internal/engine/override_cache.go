// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SaveNinja Contributors

package engine

import (
	"context"
	"sync"
	"time"

	"github.com/saveninja/saveninja/internal/store"
	snerr "github.com/saveninja/saveninja/pkg/errors"
)

// overrideCache is a read-through cache over the override store.
// Routing overrides are read-mostly and tolerate bounded staleness, so
// resolutions avoid a store round trip per request. Absence is cached
// too; a category with no override is the common case.
type overrideCache struct {
	store   store.OverrideStore
	ttl     time.Duration
	nowFunc func() time.Time

	mu      sync.Mutex
	entries map[string]overrideEntry
}

type overrideEntry struct {
	override *store.RoutingOverride // nil = no override exists
	fetched  time.Time
}

func newOverrideCache(s store.OverrideStore, ttl time.Duration) *overrideCache {
	return &overrideCache{
		store:   s,
		ttl:     ttl,
		nowFunc: time.Now,
		entries: make(map[string]overrideEntry),
	}
}

// get returns the override for a category, nil when none exists. The
// result may lag the store by up to the cache TTL.
func (c *overrideCache) get(ctx context.Context, category string) (*store.RoutingOverride, error) {
	now := c.nowFunc()

	c.mu.Lock()
	if e, ok := c.entries[category]; ok && now.Sub(e.fetched) < c.ttl {
		c.mu.Unlock()
		return e.override, nil
	}
	c.mu.Unlock()

	override, err := c.store.GetOverride(ctx, category)
	if err != nil {
		if !snerr.IsNotFound(err) {
			return nil, err
		}
		override = nil
	}

	c.mu.Lock()
	c.entries[category] = overrideEntry{override: override, fetched: now}
	c.mu.Unlock()
	return override, nil
}

// invalidate drops the cached entry so an operator write is visible on
// the next resolution.
func (c *overrideCache) invalidate(category string) {
	c.mu.Lock()
	delete(c.entries, category)
	c.mu.Unlock()
}
