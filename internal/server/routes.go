// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SaveNinja Contributors

package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/saveninja/saveninja/internal/engine"
	"github.com/saveninja/saveninja/internal/store"
	snerr "github.com/saveninja/saveninja/pkg/errors"
	"github.com/saveninja/saveninja/pkg/health"
)

// Services holds the dependencies the admin routes operate on.
type Services struct {
	Registry *engine.Registry
	Engine   *engine.Orchestrator
	Stores   *store.Stores
}

// RegisterServices sets the service dependencies and registers REST routes.
func (s *Server) RegisterServices(svc *Services) {
	s.services = svc
	s.registerRoutes()
}

func (s *Server) registerRoutes() {
	// Routing endpoints
	huma.Register(s.api, huma.Operation{
		OperationID: "list-routing",
		Method:      http.MethodGet,
		Path:        "/api/v1/routing",
		Summary:     "List routing chains per category",
		Tags:        []string{"routing"},
	}, s.handleListRouting)

	huma.Register(s.api, huma.Operation{
		OperationID: "set-routing-override",
		Method:      http.MethodPut,
		Path:        "/api/v1/routing/{category}/override",
		Summary:     "Set a temporary routing override for a category",
		Tags:        []string{"routing"},
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, s.handleSetOverride)

	huma.Register(s.api, huma.Operation{
		OperationID: "clear-routing-override",
		Method:      http.MethodDelete,
		Path:        "/api/v1/routing/{category}/override",
		Summary:     "Clear the routing override for a category",
		Tags:        []string{"routing"},
		Errors:      []int{http.StatusNotFound},
	}, s.handleClearOverride)

	// Provider health endpoints
	huma.Register(s.api, huma.Operation{
		OperationID: "list-provider-health",
		Method:      http.MethodGet,
		Path:        "/api/v1/providers/health",
		Summary:     "Provider health snapshots",
		Tags:        []string{"providers"},
	}, s.handleProviderHealth)

	huma.Register(s.api, huma.Operation{
		OperationID: "enable-provider",
		Method:      http.MethodPost,
		Path:        "/api/v1/providers/{provider}/{category}/enable",
		Summary:     "Enable a provider for a category",
		Tags:        []string{"providers"},
		Errors:      []int{http.StatusNotFound},
	}, s.handleEnableProvider)

	huma.Register(s.api, huma.Operation{
		OperationID: "disable-provider",
		Method:      http.MethodPost,
		Path:        "/api/v1/providers/{provider}/{category}/disable",
		Summary:     "Disable a provider for a category",
		Tags:        []string{"providers"},
		Errors:      []int{http.StatusNotFound},
	}, s.handleDisableProvider)

	huma.Register(s.api, huma.Operation{
		OperationID: "set-provider-cooldown",
		Method:      http.MethodPost,
		Path:        "/api/v1/providers/{provider}/{category}/cooldown",
		Summary:     "Place a provider in manual cooldown",
		Tags:        []string{"providers"},
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, s.handleSetCooldown)

	huma.Register(s.api, huma.Operation{
		OperationID: "clear-provider-cooldown",
		Method:      http.MethodDelete,
		Path:        "/api/v1/providers/{provider}/{category}/cooldown",
		Summary:     "Clear a provider cooldown",
		Tags:        []string{"providers"},
		Errors:      []int{http.StatusNotFound},
	}, s.handleClearCooldown)

	// Telemetry endpoint
	huma.Register(s.api, huma.Operation{
		OperationID: "telemetry-summary",
		Method:      http.MethodGet,
		Path:        "/api/v1/telemetry/summary",
		Summary:     "Aggregated attempt telemetry",
		Tags:        []string{"telemetry"},
	}, s.handleTelemetrySummary)

	// Budget endpoint
	huma.Register(s.api, huma.Operation{
		OperationID: "list-budgets",
		Method:      http.MethodGet,
		Path:        "/api/v1/budgets",
		Summary:     "Daily spend per paid provider",
		Tags:        []string{"budgets"},
	}, s.handleListBudgets)
}

// --- Request/Response types for huma ---

// OverrideView is an operator override as shown by the API.
type OverrideView struct {
	Chain     []string  `json:"chain"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
	Expired   bool      `json:"expired"`
}

// RoutingEntry describes one category's routing state.
type RoutingEntry struct {
	Category       string        `json:"category"`
	DefaultChain   []string      `json:"default_chain"`
	EffectiveChain []string      `json:"effective_chain" doc:"Default or override chain with ineligible providers removed"`
	Override       *OverrideView `json:"override,omitempty"`
}

type listRoutingOutput struct {
	Body struct {
		Routing []RoutingEntry `json:"routing"`
	}
}

type setOverrideInput struct {
	Category string `path:"category"`
	Body     struct {
		Chain      []string `json:"chain" minItems:"1" doc:"Provider names in priority order"`
		TTLMinutes int      `json:"ttl_minutes" minimum:"1" doc:"Override lifetime in minutes"`
	}
}

type setOverrideOutput struct {
	Body struct {
		Status    string    `json:"status" example:"ok"`
		ExpiresAt time.Time `json:"expires_at"`
	}
}

type categoryInput struct {
	Category string `path:"category"`
}

type statusOutput struct {
	Body struct {
		Status string `json:"status" example:"ok"`
	}
}

type providerHealthOutput struct {
	Body struct {
		Providers []health.Snapshot `json:"providers"`
	}
}

type pairInput struct {
	Provider string `path:"provider"`
	Category string `path:"category"`
}

type setCooldownInput struct {
	Provider string `path:"provider"`
	Category string `path:"category"`
	Minutes  int    `query:"minutes" minimum:"1" required:"true" doc:"Cooldown length in minutes"`
}

type telemetrySummaryInput struct {
	Since time.Time `query:"since" doc:"Start of the aggregation range, RFC 3339. Defaults to 24h ago."`
}

type telemetrySummaryOutput struct {
	Body struct {
		Since     time.Time                 `json:"since"`
		Summaries []*store.TelemetrySummary `json:"summaries"`
	}
}

// BudgetEntry is one paid provider's ledger for today.
type BudgetEntry struct {
	Provider   string `json:"provider"`
	Day        string `json:"day"`
	SpentCents int64  `json:"spent_cents"`
	LimitCents int64  `json:"limit_cents"`
}

type listBudgetsOutput struct {
	Body struct {
		Budgets []BudgetEntry `json:"budgets"`
	}
}

// --- Handlers ---

func (s *Server) handleListRouting(ctx context.Context, _ *struct{}) (*listRoutingOutput, error) {
	now := s.nowFunc()
	out := &listRoutingOutput{}
	out.Body.Routing = []RoutingEntry{}

	for _, category := range s.services.Registry.Categories() {
		entry := RoutingEntry{
			Category:     category,
			DefaultChain: s.services.Registry.DefaultChain(category),
		}

		override, err := s.services.Stores.Overrides.GetOverride(ctx, category)
		switch {
		case err == nil:
			entry.Override = &OverrideView{
				Chain:     override.Chain,
				ExpiresAt: override.ExpiresAt,
				CreatedAt: override.CreatedAt,
				Expired:   override.Expired(now),
			}
		case !snerr.IsNotFound(err):
			return nil, huma.Error500InternalServerError("reading override", err)
		}

		effective, err := s.services.Engine.ResolveChain(ctx, category)
		if err != nil {
			return nil, huma.Error500InternalServerError("resolving chain", err)
		}
		entry.EffectiveChain = effective

		out.Body.Routing = append(out.Body.Routing, entry)
	}
	return out, nil
}

func (s *Server) handleSetOverride(ctx context.Context, input *setOverrideInput) (*setOverrideOutput, error) {
	if !slices.Contains(s.services.Registry.Categories(), input.Category) {
		return nil, huma.Error404NotFound(fmt.Sprintf("category %q not found", input.Category))
	}
	for _, name := range input.Body.Chain {
		desc, err := s.services.Registry.Descriptor(name)
		if err != nil {
			return nil, huma.Error400BadRequest(fmt.Sprintf("provider %q is not registered", name))
		}
		if !desc.Serves(input.Category) {
			return nil, huma.Error400BadRequest(
				fmt.Sprintf("provider %q does not serve category %q", name, input.Category))
		}
	}

	now := s.nowFunc()
	override := &store.RoutingOverride{
		Category:  input.Category,
		Chain:     input.Body.Chain,
		ExpiresAt: now.Add(time.Duration(input.Body.TTLMinutes) * time.Minute),
		CreatedAt: now,
	}
	if err := s.services.Stores.Overrides.SetOverride(ctx, override); err != nil {
		return nil, huma.Error500InternalServerError("storing override", err)
	}
	s.services.Engine.InvalidateOverride(input.Category)

	slog.Info("routing override set",
		"category", input.Category,
		"chain", input.Body.Chain,
		"expires_at", override.ExpiresAt,
	)

	out := &setOverrideOutput{}
	out.Body.Status = "ok"
	out.Body.ExpiresAt = override.ExpiresAt
	return out, nil
}

func (s *Server) handleClearOverride(ctx context.Context, input *categoryInput) (*statusOutput, error) {
	if !slices.Contains(s.services.Registry.Categories(), input.Category) {
		return nil, huma.Error404NotFound(fmt.Sprintf("category %q not found", input.Category))
	}

	if err := s.services.Stores.Overrides.ClearOverride(ctx, input.Category); err != nil {
		return nil, huma.Error500InternalServerError("clearing override", err)
	}
	s.services.Engine.InvalidateOverride(input.Category)

	slog.Info("routing override cleared", "category", input.Category)

	out := &statusOutput{}
	out.Body.Status = "ok"
	return out, nil
}

func (s *Server) handleProviderHealth(ctx context.Context, _ *struct{}) (*providerHealthOutput, error) {
	snapshots, err := s.services.Stores.Health.SnapshotAll(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("reading health snapshots", err)
	}
	out := &providerHealthOutput{}
	out.Body.Providers = snapshots
	return out, nil
}

func (s *Server) handleEnableProvider(ctx context.Context, input *pairInput) (*statusOutput, error) {
	return s.setEnabled(ctx, input, true)
}

func (s *Server) handleDisableProvider(ctx context.Context, input *pairInput) (*statusOutput, error) {
	return s.setEnabled(ctx, input, false)
}

func (s *Server) setEnabled(ctx context.Context, input *pairInput, enabled bool) (*statusOutput, error) {
	key, err := s.pairKey(input.Provider, input.Category)
	if err != nil {
		return nil, err
	}

	if err := s.services.Stores.Health.SetEnabled(ctx, key, enabled); err != nil {
		return nil, huma.Error500InternalServerError("updating provider state", err)
	}

	slog.Info("provider toggled",
		"provider", input.Provider,
		"category", input.Category,
		"enabled", enabled,
	)

	out := &statusOutput{}
	out.Body.Status = "ok"
	return out, nil
}

func (s *Server) handleSetCooldown(ctx context.Context, input *setCooldownInput) (*statusOutput, error) {
	key, err := s.pairKey(input.Provider, input.Category)
	if err != nil {
		return nil, err
	}

	until := s.nowFunc().Add(time.Duration(input.Minutes) * time.Minute)
	if err := s.services.Stores.Health.SetCooldown(ctx, key, until); err != nil {
		return nil, huma.Error500InternalServerError("setting cooldown", err)
	}

	slog.Info("manual cooldown set",
		"provider", input.Provider,
		"category", input.Category,
		"until", until,
	)

	out := &statusOutput{}
	out.Body.Status = "ok"
	return out, nil
}

func (s *Server) handleClearCooldown(ctx context.Context, input *pairInput) (*statusOutput, error) {
	key, err := s.pairKey(input.Provider, input.Category)
	if err != nil {
		return nil, err
	}

	if err := s.services.Stores.Health.ClearCooldown(ctx, key); err != nil {
		return nil, huma.Error500InternalServerError("clearing cooldown", err)
	}

	slog.Info("manual cooldown cleared", "provider", input.Provider, "category", input.Category)

	out := &statusOutput{}
	out.Body.Status = "ok"
	return out, nil
}

// pairKey validates that a (provider, category) pair exists in the
// registry and returns its store key.
func (s *Server) pairKey(provider, category string) (store.Key, error) {
	desc, err := s.services.Registry.Descriptor(provider)
	if err != nil {
		return store.Key{}, huma.Error404NotFound(fmt.Sprintf("provider %q not found", provider))
	}
	if !desc.Serves(category) {
		return store.Key{}, huma.Error404NotFound(
			fmt.Sprintf("provider %q does not serve category %q", provider, category))
	}
	return store.Key{Provider: provider, Category: category}, nil
}

func (s *Server) handleTelemetrySummary(ctx context.Context, input *telemetrySummaryInput) (*telemetrySummaryOutput, error) {
	since := input.Since
	if since.IsZero() {
		since = s.nowFunc().Add(-24 * time.Hour)
	}

	summaries, err := s.services.Stores.Telemetry.Summarize(ctx, since)
	if err != nil {
		return nil, huma.Error500InternalServerError("summarizing telemetry", err)
	}

	out := &telemetrySummaryOutput{}
	out.Body.Since = since
	out.Body.Summaries = summaries
	return out, nil
}

func (s *Server) handleListBudgets(ctx context.Context, _ *struct{}) (*listBudgetsOutput, error) {
	now := s.nowFunc()

	states, err := s.services.Stores.Budget.States(ctx, now)
	if err != nil {
		return nil, huma.Error500InternalServerError("reading budget ledger", err)
	}
	spentByProvider := make(map[string]int64, len(states))
	for _, st := range states {
		spentByProvider[st.Provider] = st.SpentCents
	}

	out := &listBudgetsOutput{}
	out.Body.Budgets = []BudgetEntry{}
	day := store.BudgetDay(now)
	for _, name := range s.services.Registry.Providers() {
		desc, err := s.services.Registry.Descriptor(name)
		if err != nil || desc.DailyBudgetCents <= 0 {
			continue
		}
		out.Body.Budgets = append(out.Body.Budgets, BudgetEntry{
			Provider:   name,
			Day:        day,
			SpentCents: spentByProvider[name],
			LimitCents: desc.DailyBudgetCents,
		})
	}
	return out, nil
}
