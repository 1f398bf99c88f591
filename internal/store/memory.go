// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SaveNinja Contributors

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	snerr "github.com/saveninja/saveninja/pkg/errors"
	"github.com/saveninja/saveninja/pkg/health"
)

// NewMemoryStores builds the in-memory backend. Health state is locked
// per (provider, category) pair so unrelated requests never serialize
// on a shared lock.
func NewMemoryStores(window time.Duration) *Stores {
	if window <= 0 {
		window = DefaultRollingWindow
	}
	return &Stores{
		Health:    NewMemoryHealth(window),
		Overrides: newMemOverrides(),
		Telemetry: newMemTelemetry(),
		Budget:    newMemBudget(),
	}
}

// Compile-time interface checks.
var (
	_ HealthStore    = (*MemoryHealth)(nil)
	_ OverrideStore  = (*memOverrides)(nil)
	_ TelemetryStore = (*memTelemetry)(nil)
	_ BudgetStore    = (*memBudget)(nil)
)

// --- HealthStore ---

// MemoryHealth is the in-memory HealthStore. Exported so tests can
// inject a fake clock via SetNowFunc.
type MemoryHealth struct {
	window  time.Duration
	nowFunc func() time.Time

	mu    sync.RWMutex // guards the pair map, not pair state
	pairs map[Key]*pairHealth
}

type healthEvent struct {
	at   time.Time
	kind string
}

type successEvent struct {
	at      time.Time
	latency time.Duration
}

type pairHealth struct {
	mu sync.Mutex

	enabled           bool
	cooldownUntil     time.Time
	cooldownEnteredAt time.Time
	lastCooldown      time.Duration

	errors       []healthEvent
	successes    []successEvent
	unclassified []time.Time

	lastErrorAt   time.Time
	lastErrorKind string
	lastSuccessAt time.Time
}

func NewMemoryHealth(window time.Duration) *MemoryHealth {
	return &MemoryHealth{
		window:  window,
		nowFunc: time.Now,
		pairs:   make(map[Key]*pairHealth),
	}
}

// SetNowFunc overrides the time source (for testing).
func (h *MemoryHealth) SetNowFunc(fn func() time.Time) {
	h.mu.Lock()
	h.nowFunc = fn
	h.mu.Unlock()
}

func (h *MemoryHealth) pair(key Key) *pairHealth {
	h.mu.RLock()
	p, ok := h.pairs[key]
	h.mu.RUnlock()
	if ok {
		return p
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if p, ok = h.pairs[key]; ok {
		return p
	}
	p = &pairHealth{enabled: true}
	h.pairs[key] = p
	return p
}

// pruneLocked drops events older than the rolling window. Caller holds p.mu.
func (p *pairHealth) pruneLocked(cutoff time.Time) {
	i := 0
	for i < len(p.errors) && p.errors[i].at.Before(cutoff) {
		i++
	}
	p.errors = p.errors[i:]

	i = 0
	for i < len(p.successes) && p.successes[i].at.Before(cutoff) {
		i++
	}
	p.successes = p.successes[i:]

	i = 0
	for i < len(p.unclassified) && p.unclassified[i].Before(cutoff) {
		i++
	}
	p.unclassified = p.unclassified[i:]
}

func (h *MemoryHealth) IncrementError(_ context.Context, key Key, kind string, at time.Time) (int64, error) {
	p := h.pair(key)
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pruneLocked(at.Add(-h.window))
	p.errors = append(p.errors, healthEvent{at: at, kind: kind})
	p.lastErrorAt = at
	p.lastErrorKind = kind

	var n int64
	for _, e := range p.errors {
		if e.kind == kind {
			n++
		}
	}
	return n, nil
}

func (h *MemoryHealth) IncrementUnclassified(_ context.Context, key Key, at time.Time) error {
	p := h.pair(key)
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pruneLocked(at.Add(-h.window))
	p.unclassified = append(p.unclassified, at)
	return nil
}

func (h *MemoryHealth) IncrementSuccess(_ context.Context, key Key, latency time.Duration, at time.Time) error {
	p := h.pair(key)
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pruneLocked(at.Add(-h.window))
	p.successes = append(p.successes, successEvent{at: at, latency: latency})
	p.lastSuccessAt = at
	return nil
}

func (h *MemoryHealth) SetCooldown(_ context.Context, key Key, until time.Time) error {
	now := h.now()
	p := h.pair(key)
	p.mu.Lock()
	defer p.mu.Unlock()

	p.cooldownUntil = until
	p.cooldownEnteredAt = now
	p.lastCooldown = until.Sub(now)
	return nil
}

func (h *MemoryHealth) ClearCooldown(_ context.Context, key Key) error {
	p := h.pair(key)
	p.mu.Lock()
	defer p.mu.Unlock()

	p.cooldownUntil = time.Time{}
	return nil
}

func (h *MemoryHealth) SetEnabled(_ context.Context, key Key, enabled bool) error {
	p := h.pair(key)
	p.mu.Lock()
	defer p.mu.Unlock()

	p.enabled = enabled
	return nil
}

func (h *MemoryHealth) Snapshot(_ context.Context, key Key) (health.Snapshot, error) {
	p := h.pair(key)
	now := h.now()

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked(key, now.Add(-h.window)), nil
}

func (h *MemoryHealth) SnapshotAll(_ context.Context) ([]health.Snapshot, error) {
	h.mu.RLock()
	keys := make([]Key, 0, len(h.pairs))
	for k := range h.pairs {
		keys = append(keys, k)
	}
	h.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	now := h.now()
	out := make([]health.Snapshot, 0, len(keys))
	for _, k := range keys {
		p := h.pair(k)
		p.mu.Lock()
		out = append(out, p.snapshotLocked(k, now.Add(-h.window)))
		p.mu.Unlock()
	}
	return out, nil
}

func (h *MemoryHealth) now() time.Time {
	h.mu.RLock()
	fn := h.nowFunc
	h.mu.RUnlock()
	return fn()
}

// snapshotLocked builds a point-in-time view. Caller holds p.mu.
func (p *pairHealth) snapshotLocked(key Key, cutoff time.Time) health.Snapshot {
	p.pruneLocked(cutoff)

	s := health.Snapshot{
		Provider:          key.Provider,
		Category:          key.Category,
		Enabled:           p.enabled,
		ErrorCount:        int64(len(p.errors)),
		SuccessCount:      int64(len(p.successes)),
		UnclassifiedCount: int64(len(p.unclassified)),
		LastErrorKind:     p.lastErrorKind,
		LastCooldown:      p.lastCooldown,
	}

	if len(p.errors) > 0 {
		s.ErrorsByKind = make(map[string]int64, 4)
		for _, e := range p.errors {
			s.ErrorsByKind[e.kind]++
		}
	}
	if len(p.successes) > 0 {
		var total time.Duration
		for _, e := range p.successes {
			total += e.latency
		}
		s.AvgLatencyMillis = (total / time.Duration(len(p.successes))).Milliseconds()
	}
	if !p.cooldownUntil.IsZero() {
		t := p.cooldownUntil
		s.CooldownUntil = &t
	}
	if !p.cooldownEnteredAt.IsZero() {
		t := p.cooldownEnteredAt
		s.CooldownEnteredAt = &t
	}
	if !p.lastErrorAt.IsZero() {
		t := p.lastErrorAt
		s.LastErrorAt = &t
	}
	if !p.lastSuccessAt.IsZero() {
		t := p.lastSuccessAt
		s.LastSuccessAt = &t
	}
	return s
}

// --- OverrideStore ---

type memOverrides struct {
	mu        sync.RWMutex
	overrides map[string]*RoutingOverride
}

func newMemOverrides() *memOverrides {
	return &memOverrides{overrides: make(map[string]*RoutingOverride)}
}

func (s *memOverrides) SetOverride(_ context.Context, o *RoutingOverride) error {
	if o == nil || o.Category == "" || len(o.Chain) == 0 {
		return snerr.New(snerr.CodeStoreInvalidInput, "override requires a category and a non-empty chain")
	}

	cp := *o
	cp.Chain = append([]string(nil), o.Chain...)

	s.mu.Lock()
	s.overrides[o.Category] = &cp
	s.mu.Unlock()
	return nil
}

func (s *memOverrides) GetOverride(_ context.Context, category string) (*RoutingOverride, error) {
	s.mu.RLock()
	o, ok := s.overrides[category]
	s.mu.RUnlock()
	if !ok {
		return nil, snerr.New(snerr.CodeStoreEntityNotFound,
			"no override for category "+category, snerr.FieldCategory(category))
	}

	cp := *o
	cp.Chain = append([]string(nil), o.Chain...)
	return &cp, nil
}

func (s *memOverrides) ClearOverride(_ context.Context, category string) error {
	s.mu.Lock()
	delete(s.overrides, category)
	s.mu.Unlock()
	return nil
}

func (s *memOverrides) ListOverrides(_ context.Context) ([]*RoutingOverride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*RoutingOverride, 0, len(s.overrides))
	for _, o := range s.overrides {
		cp := *o
		cp.Chain = append([]string(nil), o.Chain...)
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out, nil
}

// --- TelemetryStore ---

type memTelemetry struct {
	mu      sync.Mutex
	records []*AttemptRecord
}

func newMemTelemetry() *memTelemetry {
	return &memTelemetry{}
}

func (s *memTelemetry) Append(_ context.Context, rec *AttemptRecord) error {
	if rec == nil || rec.Provider == "" || rec.Category == "" {
		return snerr.New(snerr.CodeStoreInvalidInput, "attempt record requires provider and category")
	}

	cp := *rec
	s.mu.Lock()
	s.records = append(s.records, &cp)
	s.mu.Unlock()
	return nil
}

func (s *memTelemetry) Summarize(_ context.Context, since time.Time) ([]*TelemetrySummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type bucket struct {
		summary   *TelemetrySummary
		latencies []time.Duration
	}
	buckets := make(map[Key]*bucket)

	for _, rec := range s.records {
		if rec.At.Before(since) {
			continue
		}
		k := Key{Provider: rec.Provider, Category: rec.Category}
		b, ok := buckets[k]
		if !ok {
			b = &bucket{summary: &TelemetrySummary{Provider: rec.Provider, Category: rec.Category}}
			buckets[k] = b
		}

		b.summary.Attempts++
		switch rec.Outcome {
		case OutcomeSuccess:
			b.summary.Successes++
			b.summary.TotalBytes += rec.Bytes
			b.latencies = append(b.latencies, rec.Latency)
		default:
			if rec.ErrorKind != "" {
				if b.summary.ErrorsByKind == nil {
					b.summary.ErrorsByKind = make(map[string]int64, 4)
				}
				b.summary.ErrorsByKind[rec.ErrorKind]++
			}
		}
	}

	out := make([]*TelemetrySummary, 0, len(buckets))
	for _, b := range buckets {
		if b.summary.Attempts > 0 {
			b.summary.SuccessRate = float64(b.summary.Successes) / float64(b.summary.Attempts)
		}
		b.summary.P95LatencyMillis = p95Millis(b.latencies)
		out = append(out, b.summary)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Provider != out[j].Provider {
			return out[i].Provider < out[j].Provider
		}
		return out[i].Category < out[j].Category
	})
	return out, nil
}

// p95Millis returns the 95th-percentile latency using the nearest-rank
// method over successful attempts only.
func p95Millis(latencies []time.Duration) int64 {
	if len(latencies) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), latencies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	rank := (95*len(sorted) + 99) / 100 // ceil(0.95 * n)
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1].Milliseconds()
}

// --- BudgetStore ---

type memBudget struct {
	mu    sync.Mutex
	spend map[string]int64 // "provider|day" → cents
}

func newMemBudget() *memBudget {
	return &memBudget{spend: make(map[string]int64)}
}

func budgetKey(provider, day string) string {
	return provider + "|" + day
}

func (s *memBudget) AddSpend(_ context.Context, provider string, cents int64, at time.Time) (int64, error) {
	if provider == "" {
		return 0, snerr.New(snerr.CodeStoreInvalidInput, "budget spend requires a provider")
	}

	k := budgetKey(provider, BudgetDay(at))
	s.mu.Lock()
	defer s.mu.Unlock()

	s.spend[k] += cents
	if s.spend[k] < 0 {
		s.spend[k] = 0
	}
	return s.spend[k], nil
}

func (s *memBudget) Spent(_ context.Context, provider string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spend[budgetKey(provider, BudgetDay(at))], nil
}

func (s *memBudget) States(_ context.Context, at time.Time) ([]*BudgetState, error) {
	day := BudgetDay(at)
	suffix := "|" + day

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*BudgetState
	for k, cents := range s.spend {
		if len(k) > len(suffix) && k[len(k)-len(suffix):] == suffix {
			out = append(out, &BudgetState{
				Provider:   k[:len(k)-len(suffix)],
				Day:        day,
				SpentCents: cents,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out, nil
}
