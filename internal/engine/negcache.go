// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SaveNinja Contributors

package engine

import (
	"sync"
	"time"
)

// DefaultNegativeTTL is how long a fatal failure suppresses retries of
// the same URL against the same provider.
const DefaultNegativeTTL = 2 * time.Minute

// negativeCache short-circuits repeat attempts after a fatal
// classification. Fatal failures are about the content, not the
// provider, so the pair takes no cooldown; the cache just stops callers
// from hammering a URL that was private or deleted seconds ago.
// Keyed by (provider, url); in-memory only, loss on restart is fine.
type negativeCache struct {
	mu      sync.Mutex
	entries map[string]time.Time // key → expiry
	ttl     time.Duration
	nowFunc func() time.Time
}

func newNegativeCache(ttl time.Duration) *negativeCache {
	if ttl <= 0 {
		ttl = DefaultNegativeTTL
	}
	return &negativeCache{
		entries: make(map[string]time.Time),
		ttl:     ttl,
		nowFunc: time.Now,
	}
}

func negKey(providerName, url string) string {
	return providerName + "\x00" + url
}

// mark records a fatal failure for the pair.
func (c *negativeCache) mark(providerName, url string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.nowFunc()
	// Opportunistic sweep keeps the map bounded without a ticker.
	for k, expiry := range c.entries {
		if !expiry.After(now) {
			delete(c.entries, k)
		}
	}
	c.entries[negKey(providerName, url)] = now.Add(c.ttl)
}

// blocked reports whether the pair recently failed fatally.
func (c *negativeCache) blocked(providerName, url string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiry, ok := c.entries[negKey(providerName, url)]
	if !ok {
		return false
	}
	if !expiry.After(c.nowFunc()) {
		delete(c.entries, negKey(providerName, url))
		return false
	}
	return true
}
