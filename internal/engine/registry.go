// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SaveNinja Contributors

package engine

import (
	"slices"
	"sync"
	"time"

	"github.com/saveninja/saveninja/internal/provider"
	snerr "github.com/saveninja/saveninja/pkg/errors"
)

// Descriptor is static per-provider configuration. Loaded at process
// start; replaced wholesale on operator reload, never mutated while a
// request chain is in flight.
type Descriptor struct {
	// Name is the unique provider identifier used in chains, health
	// keys, and telemetry.
	Name string

	// Categories the provider can serve.
	Categories []string

	// MaxConcurrent is the gate ceiling per (provider, category).
	MaxConcurrent int

	// Timeout is the hard wall-clock limit for a single attempt.
	Timeout time.Duration

	// DailyBudgetCents caps spend per UTC day. Zero means no budget
	// enforcement for this provider.
	DailyBudgetCents int64

	// CostPerCallCents is ledger spend recorded per dispatched attempt.
	CostPerCallCents int64
}

// Validate checks descriptor fields at registration time.
func (d *Descriptor) Validate() error {
	if d.Name == "" {
		return snerr.New(snerr.CodeConfigValidateInvalidValue, "provider descriptor requires a name")
	}
	if len(d.Categories) == 0 {
		return snerr.Errorf(snerr.CodeConfigValidateInvalidValue,
			"provider %q must serve at least one category", d.Name)
	}
	if d.MaxConcurrent <= 0 {
		return snerr.Errorf(snerr.CodeConfigValidateInvalidValue,
			"provider %q MaxConcurrent must be positive, got %d", d.Name, d.MaxConcurrent)
	}
	if d.Timeout <= 0 {
		return snerr.Errorf(snerr.CodeConfigValidateInvalidValue,
			"provider %q Timeout must be positive, got %s", d.Name, d.Timeout)
	}
	if d.DailyBudgetCents < 0 || d.CostPerCallCents < 0 {
		return snerr.Errorf(snerr.CodeConfigValidateInvalidValue,
			"provider %q budget fields must be non-negative", d.Name)
	}
	return nil
}

// Serves reports whether the descriptor covers a category.
func (d *Descriptor) Serves(category string) bool {
	return slices.Contains(d.Categories, category)
}

// Registry holds registered providers, their descriptors, and the
// compiled-in default chain per category.
type Registry struct {
	mu          sync.RWMutex
	providers   map[string]provider.Provider
	descriptors map[string]*Descriptor
	chains      map[string][]string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		providers:   make(map[string]provider.Provider),
		descriptors: make(map[string]*Descriptor),
		chains:      make(map[string][]string),
	}
}

// Register adds a provider with its descriptor.
func (r *Registry) Register(desc *Descriptor, p provider.Provider) error {
	if err := desc.Validate(); err != nil {
		return err
	}
	if p == nil {
		return snerr.Errorf(snerr.CodeConfigValidateInvalidValue,
			"provider %q registered without an implementation", desc.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[desc.Name] = p
	r.descriptors[desc.Name] = desc
	return nil
}

// SetDefaultChain installs the compiled-in chain for a category. Every
// named provider must already be registered and serve the category.
func (r *Registry) SetDefaultChain(category string, chain []string) error {
	if category == "" || len(chain) == 0 {
		return snerr.New(snerr.CodeConfigValidateInvalidValue,
			"default chain requires a category and at least one provider")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range chain {
		desc, ok := r.descriptors[name]
		if !ok {
			return snerr.Errorf(snerr.CodeProviderNotFound,
				"chain for %q names unregistered provider %q", category, name)
		}
		if !desc.Serves(category) {
			return snerr.Errorf(snerr.CodeConfigValidateInvalidValue,
				"provider %q does not serve category %q", name, category)
		}
	}
	r.chains[category] = slices.Clone(chain)
	return nil
}

// Provider retrieves a registered provider by name.
func (r *Registry) Provider(name string) (provider.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, snerr.Errorf(snerr.CodeProviderNotFound, "provider %q is not registered", name)
	}
	return p, nil
}

// Descriptor retrieves a provider's descriptor by name.
func (r *Registry) Descriptor(name string) (*Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.descriptors[name]
	if !ok {
		return nil, snerr.Errorf(snerr.CodeProviderNotFound, "provider %q is not registered", name)
	}
	return d, nil
}

// DefaultChain returns the compiled-in chain for a category, or nil if
// the category has none.
func (r *Registry) DefaultChain(category string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.chains[category])
}

// Categories lists every category with a default chain, sorted.
func (r *Registry) Categories() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.chains))
	for c := range r.chains {
		out = append(out, c)
	}
	slices.Sort(out)
	return out
}

// Providers lists every registered provider name, sorted.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.descriptors))
	for name := range r.descriptors {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}
