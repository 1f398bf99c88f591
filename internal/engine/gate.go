// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SaveNinja Contributors

package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/saveninja/saveninja/internal/store"
	snerr "github.com/saveninja/saveninja/pkg/errors"
)

// DefaultAcquireTimeout bounds how long a caller waits for a slot
// before failing fast to the next candidate.
const DefaultAcquireTimeout = 3 * time.Second

// minReservationTTL is the floor for slot auto-expiry so a crashed
// holder cannot exhaust the gate.
const minReservationTTL = 5 * time.Minute

// Gate bounds concurrent attempts per (provider, category) pair.
// Grants are reservations with a safety TTL longer than any legitimate
// attempt timeout; an expired reservation no longer counts toward the
// ceiling.
type Gate struct {
	mu      sync.Mutex
	pairs   map[store.Key]*gatePair
	nowFunc func() time.Time
}

type gatePair struct {
	mu     sync.Mutex
	grants map[string]time.Time // slot ID → expiry
	wait   chan struct{}        // closed and replaced on every release
}

// Slot is a held gate reservation. Release is idempotent.
type Slot struct {
	gate *Gate
	key  store.Key
	id   string

	once sync.Once
}

// NewGate creates an empty Gate.
func NewGate() *Gate {
	return &Gate{
		pairs:   make(map[store.Key]*gatePair),
		nowFunc: time.Now,
	}
}

// SetNowFunc overrides the time source (for testing).
func (g *Gate) SetNowFunc(fn func() time.Time) {
	g.mu.Lock()
	g.nowFunc = fn
	g.mu.Unlock()
}

func (g *Gate) pair(key store.Key) *gatePair {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.pairs[key]
	if !ok {
		p = &gatePair{
			grants: make(map[string]time.Time),
			wait:   make(chan struct{}),
		}
		g.pairs[key] = p
	}
	return p
}

func (g *Gate) now() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.nowFunc()
}

// Acquire obtains a slot for the pair, waiting at most acquireTimeout
// for capacity. ttl is the reservation safety ceiling; values below the
// floor are raised to it. A denial is a saturation outcome, not a
// provider fault, and carries a gate-saturated code.
func (g *Gate) Acquire(ctx context.Context, key store.Key, ceiling int, acquireTimeout, ttl time.Duration) (*Slot, error) {
	if ceiling <= 0 {
		return nil, snerr.Errorf(snerr.CodeEngineGateClosed,
			"gate ceiling for %s is %d, nothing can be admitted", key.String(), ceiling)
	}
	if ttl < minReservationTTL {
		ttl = minReservationTTL
	}

	p := g.pair(key)
	deadline := time.NewTimer(acquireTimeout)
	defer deadline.Stop()

	for {
		p.mu.Lock()
		now := g.now()
		for id, expiry := range p.grants {
			if !expiry.After(now) {
				delete(p.grants, id)
			}
		}
		if len(p.grants) < ceiling {
			id := uuid.NewString()
			p.grants[id] = now.Add(ttl)
			p.mu.Unlock()
			return &Slot{gate: g, key: key, id: id}, nil
		}
		wait := p.wait
		p.mu.Unlock()

		select {
		case <-wait:
			// A slot was released; retry.
		case <-deadline.C:
			return nil, snerr.Errorf(snerr.CodeEngineGateSaturated,
				"all %d slots for %s are busy", ceiling, key.String())
		case <-ctx.Done():
			return nil, snerr.Wrap(ctx.Err(), snerr.CodeEngineGateSaturated,
				"canceled while waiting for a slot on "+key.String())
		}
	}
}

// Release returns the slot to the gate and wakes all waiters.
func (s *Slot) Release() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		p := s.gate.pair(s.key)
		p.mu.Lock()
		delete(p.grants, s.id)
		close(p.wait)
		p.wait = make(chan struct{})
		p.mu.Unlock()
	})
}

// InFlight reports the live grant count for a pair, for health and
// telemetry surfaces.
func (g *Gate) InFlight(key store.Key) int {
	p := g.pair(key)
	p.mu.Lock()
	defer p.mu.Unlock()

	now := g.now()
	n := 0
	for _, expiry := range p.grants {
		if expiry.After(now) {
			n++
		}
	}
	return n
}
