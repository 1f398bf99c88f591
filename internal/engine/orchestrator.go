// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SaveNinja Contributors

package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/saveninja/saveninja/internal/provider"
	"github.com/saveninja/saveninja/internal/store"
	snerr "github.com/saveninja/saveninja/pkg/errors"
	"github.com/saveninja/saveninja/pkg/health"
)

// DefaultChainBudget is the wall-clock ceiling for one request's whole
// fallback walk.
const DefaultChainBudget = 10 * time.Minute

// DefaultOverrideStaleness bounds how old a cached routing override may
// be when a resolution reads it.
const DefaultOverrideStaleness = 5 * time.Second

// Options tune an Orchestrator. Zero values take the package defaults.
type Options struct {
	ChainBudget       time.Duration
	AcquireTimeout    time.Duration
	NegativeTTL       time.Duration
	OverrideStaleness time.Duration
	Policy            *CooldownPolicy
	Logger            *slog.Logger
}

// Orchestrator walks a resolved provider chain for one request,
// absorbing every per-attempt failure. Callers only ever see the
// terminal outcome: a Result or an exhaustion error whose reason tells
// them what user-facing message to show.
type Orchestrator struct {
	registry  *Registry
	stores    *store.Stores
	gate      *Gate
	policy    CooldownPolicy
	negative  *negativeCache
	overrides *overrideCache

	chainBudget    time.Duration
	acquireTimeout time.Duration

	logger  *slog.Logger
	nowFunc func() time.Time
}

// Result is the terminal success of a chain walk.
type Result struct {
	Media    *provider.MediaResult
	Provider string
	Attempts int
}

// NewOrchestrator wires an orchestrator over a registry and store set.
func NewOrchestrator(reg *Registry, stores *store.Stores, opts Options) *Orchestrator {
	if opts.ChainBudget <= 0 {
		opts.ChainBudget = DefaultChainBudget
	}
	if opts.AcquireTimeout <= 0 {
		opts.AcquireTimeout = DefaultAcquireTimeout
	}
	if opts.OverrideStaleness <= 0 {
		opts.OverrideStaleness = DefaultOverrideStaleness
	}
	policy := DefaultCooldownPolicy()
	if opts.Policy != nil {
		policy = *opts.Policy
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		registry:       reg,
		stores:         stores,
		gate:           NewGate(),
		policy:         policy,
		negative:       newNegativeCache(opts.NegativeTTL),
		overrides:      newOverrideCache(stores.Overrides, opts.OverrideStaleness),
		chainBudget:    opts.ChainBudget,
		acquireTimeout: opts.AcquireTimeout,
		logger:         logger,
		nowFunc:        time.Now,
	}
}

// SetNowFunc overrides the time source (for testing).
func (o *Orchestrator) SetNowFunc(fn func() time.Time) {
	o.nowFunc = fn
	o.gate.SetNowFunc(fn)
	o.negative.nowFunc = fn
	o.overrides.nowFunc = fn
}

// Gate exposes the concurrency gate for admin surfaces.
func (o *Orchestrator) Gate() *Gate {
	return o.gate
}

// InvalidateOverride drops the cached override for a category so an
// operator change is visible on the next resolution.
func (o *Orchestrator) InvalidateOverride(category string) {
	o.overrides.invalidate(category)
}

// ResolveChain returns the effective chain for a category right now,
// for the admin routing view. Uses the same snapshot path as Run.
func (o *Orchestrator) ResolveChain(ctx context.Context, category string) ([]string, error) {
	in, err := o.resolveInput(ctx, category)
	if err != nil {
		return nil, err
	}
	return Resolve(in), nil
}

func (o *Orchestrator) resolveInput(ctx context.Context, category string) (ResolveInput, error) {
	now := o.nowFunc()
	in := ResolveInput{
		Category: category,
		Default:  o.registry.DefaultChain(category),
		Now:      now,
	}

	override, err := o.overrides.get(ctx, category)
	if err != nil {
		// A broken override read must not take routing down; fall back
		// to the default chain.
		o.logger.Warn("override read failed, using default chain",
			"category", category, "error", err)
	} else {
		in.Override = override
	}

	candidates := append([]string(nil), in.Default...)
	if in.Override != nil {
		candidates = append(candidates, in.Override.Chain...)
	}
	in.Health = make(map[store.Key]health.Snapshot, len(candidates))
	for _, name := range candidates {
		key := store.Key{Provider: name, Category: category}
		if _, ok := in.Health[key]; ok {
			continue
		}
		snap, err := o.stores.Health.Snapshot(ctx, key)
		if err != nil {
			return ResolveInput{}, snerr.Wrap(err, snerr.CodeStoreDatabaseFailure,
				"reading health for resolution", snerr.FieldProvider(name), snerr.FieldCategory(category))
		}
		in.Health[key] = snap
	}
	return in, nil
}

// Run executes the chain walk for one request. On exhaustion the
// returned error carries the terminal reason; use ReasonOf to recover
// it for user-facing messaging.
func (o *Orchestrator) Run(ctx context.Context, url, category string, c provider.Constraints) (*Result, error) {
	started := o.nowFunc()
	deadline := started.Add(o.chainBudget)

	in, err := o.resolveInput(ctx, category)
	if err != nil {
		return nil, err
	}
	chain := Resolve(in)
	if len(chain) == 0 {
		o.logger.Info("no eligible provider", "category", category)
		return nil, exhausted(KindNoEligibleProvider, snerr.CodeEngineNoEligibleProvider,
			"no eligible provider for category "+category, category)
	}

	lastKind := KindNoEligibleProvider
	attempts := 0

	for i, name := range chain {
		if err := ctx.Err(); err != nil {
			return nil, snerr.Wrap(err, snerr.CodeEngineChainExhausted,
				"request canceled mid-chain", snerr.FieldCategory(category))
		}
		now := o.nowFunc()
		if !now.Before(deadline) {
			o.logger.Warn("chain time budget exceeded",
				"category", category, "attempts", attempts, "elapsed", now.Sub(started))
			return nil, exhausted(KindChainTimeExceeded, snerr.CodeEngineChainTimeExceeded,
				"chain time budget exceeded for category "+category, category)
		}

		key := store.Key{Provider: name, Category: category}
		desc, err := o.registry.Descriptor(name)
		if err != nil {
			// Stale override chains can name providers that no longer
			// exist. Record the skip so operators see it in telemetry.
			o.logger.Error("chain names unknown provider", "provider", name, "category", category)
			o.recordSkip(ctx, key, KindNoEligibleProvider, now)
			continue
		}

		if o.negative.blocked(name, url) {
			o.logger.Debug("url negative-cached for provider", "provider", name, "url", url)
			lastKind = KindFatal
			continue
		}

		if skip, err := o.reserveBudget(ctx, desc, key, now); err != nil {
			return nil, err
		} else if skip {
			lastKind = KindBudgetExceeded
			continue
		}

		slot, err := o.gate.Acquire(ctx, key, desc.MaxConcurrent, o.acquireTimeout, 2*desc.Timeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil, snerr.Wrap(ctx.Err(), snerr.CodeEngineChainExhausted,
					"request canceled while waiting for a slot", snerr.FieldCategory(category))
			}
			o.recordSkip(ctx, key, KindGateSaturated, now)
			lastKind = KindGateSaturated
			continue
		}

		attempts++
		result, latency, attemptErr := o.attempt(ctx, name, url, desc, c, deadline)
		slot.Release()
		now = o.nowFunc()

		if attemptErr == nil {
			o.settle(ctx, key, result, latency, now)
			o.logger.Info("attempt succeeded",
				"provider", name, "category", category, "position", i,
				"attempts", attempts, "latency", latency, "bytes", result.Bytes)
			return &Result{Media: result, Provider: name, Attempts: attempts}, nil
		}

		if ctx.Err() != nil {
			return nil, snerr.Wrap(ctx.Err(), snerr.CodeEngineChainExhausted,
				"request canceled mid-attempt", snerr.FieldCategory(category))
		}

		lastKind = o.absorb(ctx, key, url, attemptErr, latency, in.Health[key], now)
	}

	o.logger.Warn("chain exhausted",
		"category", category, "attempts", attempts, "last_kind", string(lastKind))
	return nil, exhaustedWithKind(lastKind, category)
}

// attempt invokes one provider under its descriptor timeout, capped by
// the remaining chain budget.
func (o *Orchestrator) attempt(ctx context.Context, name, url string, desc *Descriptor, c provider.Constraints, deadline time.Time) (*provider.MediaResult, time.Duration, error) {
	timeout := desc.Timeout
	if remaining := deadline.Sub(o.nowFunc()); remaining < timeout {
		timeout = remaining
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	p, err := o.registry.Provider(name)
	if err != nil {
		return nil, 0, err
	}

	start := o.nowFunc()
	result, err := p.Attempt(attemptCtx, url, c)
	return result, o.nowFunc().Sub(start), err
}

// reserveBudget applies the pre-flight spend check. Returns skip=true
// when the provider's daily budget has no headroom; the reservation is
// refunded so a skip never consumes budget.
func (o *Orchestrator) reserveBudget(ctx context.Context, desc *Descriptor, key store.Key, now time.Time) (bool, error) {
	if desc.DailyBudgetCents <= 0 {
		return false, nil
	}

	cost := desc.CostPerCallCents
	total, err := o.stores.Budget.AddSpend(ctx, desc.Name, cost, now)
	if err != nil {
		return false, snerr.Wrap(err, snerr.CodeStoreDatabaseFailure,
			"reserving budget", snerr.FieldProvider(desc.Name))
	}

	exceeded := total > desc.DailyBudgetCents
	if cost == 0 {
		exceeded = total >= desc.DailyBudgetCents
	}
	if !exceeded {
		return false, nil
	}

	if cost > 0 {
		if _, err := o.stores.Budget.AddSpend(context.WithoutCancel(ctx), desc.Name, -cost, now); err != nil {
			o.logger.Error("budget refund failed", "provider", desc.Name, "error", err)
		}
	}
	o.logger.Info("provider skipped, daily budget exhausted",
		"provider", desc.Name, "category", key.Category,
		"spent_cents", total-cost, "budget_cents", desc.DailyBudgetCents)
	o.recordSkip(ctx, key, KindBudgetExceeded, now)
	return true, nil
}

// settle records a successful attempt. Accounting survives caller
// cancellation.
func (o *Orchestrator) settle(ctx context.Context, key store.Key, result *provider.MediaResult, latency time.Duration, now time.Time) {
	actx := context.WithoutCancel(ctx)
	if err := o.stores.Telemetry.Append(actx, &store.AttemptRecord{
		Provider: key.Provider,
		Category: key.Category,
		Outcome:  store.OutcomeSuccess,
		Latency:  latency,
		Bytes:    result.Bytes,
		At:       now,
	}); err != nil {
		o.logger.Error("telemetry append failed", "key", key.String(), "error", err)
	}
	if err := o.stores.Health.IncrementSuccess(actx, key, latency, now); err != nil {
		o.logger.Error("health success update failed", "key", key.String(), "error", err)
	}
}

// absorb classifies one failed attempt, folds it into health and
// telemetry, and applies cooldown policy. It returns the classified
// kind; the failure itself never propagates to the caller.
func (o *Orchestrator) absorb(ctx context.Context, key store.Key, url string, attemptErr error, latency time.Duration, snap health.Snapshot, now time.Time) ErrorKind {
	actx := context.WithoutCancel(ctx)

	kind, classified := Classify(attemptErr)
	if !classified {
		if err := o.stores.Health.IncrementUnclassified(actx, key, now); err != nil {
			o.logger.Error("unclassified counter update failed", "key", key.String(), "error", err)
		}
	}

	o.logger.Warn("attempt failed",
		"provider", key.Provider, "category", key.Category,
		"kind", string(kind), "classified", classified,
		"latency", latency, "error", attemptErr)

	if err := o.stores.Telemetry.Append(actx, &store.AttemptRecord{
		Provider:  key.Provider,
		Category:  key.Category,
		Outcome:   store.OutcomeFailure,
		ErrorKind: string(kind),
		Latency:   latency,
		At:        now,
	}); err != nil {
		o.logger.Error("telemetry append failed", "key", key.String(), "error", err)
	}

	count, err := o.stores.Health.IncrementError(actx, key, string(kind), now)
	if err != nil {
		o.logger.Error("health error update failed", "key", key.String(), "error", err)
	}

	if kind == KindFatal {
		o.negative.mark(key.Provider, url)
	}

	if d := o.policy.CooldownFor(kind, count, snap, now); d > 0 {
		if err := o.stores.Health.SetCooldown(actx, key, now.Add(d)); err != nil {
			o.logger.Error("cooldown update failed", "key", key.String(), "error", err)
		} else {
			o.logger.Info("provider cooling down",
				"provider", key.Provider, "category", key.Category,
				"kind", string(kind), "duration", d)
		}
	}
	return kind
}

// recordSkip logs a policy skip that never reached the provider. Skips
// carry no health penalty.
func (o *Orchestrator) recordSkip(ctx context.Context, key store.Key, kind ErrorKind, now time.Time) {
	if err := o.stores.Telemetry.Append(context.WithoutCancel(ctx), &store.AttemptRecord{
		Provider:  key.Provider,
		Category:  key.Category,
		Outcome:   store.OutcomeSkipped,
		ErrorKind: string(kind),
		At:        now,
	}); err != nil {
		o.logger.Error("telemetry append failed", "key", key.String(), "error", err)
	}
}

// reasonField carries the terminal kind on exhaustion errors.
const reasonField = "reason"

func exhausted(kind ErrorKind, code snerr.Code, msg, category string) error {
	return snerr.New(code, msg,
		snerr.FieldCategory(category), snerr.Field(reasonField, string(kind)))
}

func exhaustedWithKind(kind ErrorKind, category string) error {
	code := snerr.CodeEngineChainExhausted
	switch kind {
	case KindNoEligibleProvider:
		code = snerr.CodeEngineNoEligibleProvider
	case KindChainTimeExceeded:
		code = snerr.CodeEngineChainTimeExceeded
	case KindBudgetExceeded:
		code = snerr.CodeEngineBudgetExceeded
	}
	return exhausted(kind, code, "every candidate failed for category "+category, category)
}

// ReasonOf recovers the terminal ErrorKind from an exhaustion error.
// Unknown errors read as transient so callers degrade to a retryable
// user message.
func ReasonOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	if v, ok := snerr.FieldsOf(err)[reasonField].(string); ok && v != "" {
		return ErrorKind(v)
	}
	switch {
	case snerr.HasCode(err, snerr.CodeEngineNoEligibleProvider):
		return KindNoEligibleProvider
	case snerr.HasCode(err, snerr.CodeEngineChainTimeExceeded):
		return KindChainTimeExceeded
	case snerr.HasCode(err, snerr.CodeEngineBudgetExceeded):
		return KindBudgetExceeded
	}
	return KindTransientStall
}
