// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SaveNinja Contributors

package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saveninja/saveninja/internal/engine"
	"github.com/saveninja/saveninja/internal/provider"
	"github.com/saveninja/saveninja/internal/server"
	"github.com/saveninja/saveninja/internal/store"
	"github.com/saveninja/saveninja/pkg/health"
)

var testBase = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// stubProvider satisfies provider.Provider; admin routes never attempt
// downloads so its Attempt always succeeds trivially.
type stubProvider struct{ name string }

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) Attempt(context.Context, string, provider.Constraints) (*provider.MediaResult, error) {
	return &provider.MediaResult{Path: "/tmp/" + p.name + ".mp4"}, nil
}

type fixture struct {
	srv    *server.Server
	stores *store.Stores
	reg    *engine.Registry
	now    time.Time
}

// newTestServices builds a registry with three stub providers over
// memory stores, all pinned to the given clock.
func newTestServices(t *testing.T, nowFunc func() time.Time) *server.Services {
	t.Helper()

	reg := engine.NewRegistry()
	categories := map[string][]string{
		"ytdlp":    {"youtube_full", "tiktok_video"},
		"youtube":  {"youtube_full"},
		"rapidapi": {"tiktok_video"},
	}
	for _, name := range []string{"ytdlp", "youtube", "rapidapi"} {
		desc := &engine.Descriptor{
			Name:          name,
			Categories:    categories[name],
			MaxConcurrent: 4,
			Timeout:       30 * time.Second,
		}
		if name == "rapidapi" {
			desc.DailyBudgetCents = 500
			desc.CostPerCallCents = 1
		}
		require.NoError(t, reg.Register(desc, &stubProvider{name: name}))
	}
	require.NoError(t, reg.SetDefaultChain("youtube_full", []string{"youtube", "ytdlp"}))
	require.NoError(t, reg.SetDefaultChain("tiktok_video", []string{"ytdlp", "rapidapi"}))

	stores := store.NewMemoryStores(time.Hour)
	orch := engine.NewOrchestrator(reg, stores, engine.Options{})
	orch.SetNowFunc(nowFunc)
	if clocked, ok := stores.Health.(interface{ SetNowFunc(func() time.Time) }); ok {
		clocked.SetNowFunc(nowFunc)
	}

	return &server.Services{
		Registry: reg,
		Engine:   orch,
		Stores:   stores,
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{now: testBase}
	nowFunc := func() time.Time { return f.now }

	svc := newTestServices(t, nowFunc)
	f.stores = svc.Stores
	f.reg = svc.Registry

	srv, err := server.New(server.Config{ListenAddr: "127.0.0.1:0"})
	require.NoError(t, err)
	srv.SetNowFunc(nowFunc)
	srv.RegisterServices(svc)
	f.srv = srv
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, req)
	return w
}

func TestRoutes_Health(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/v1/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ok"`)
}

func TestRoutes_ListRouting(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/v1/routing", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Routing []server.RoutingEntry `json:"routing"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Routing, 2)

	// Sorted by category.
	assert.Equal(t, "tiktok_video", resp.Routing[0].Category)
	assert.Equal(t, "youtube_full", resp.Routing[1].Category)
	assert.Equal(t, []string{"youtube", "ytdlp"}, resp.Routing[1].DefaultChain)
	assert.Equal(t, []string{"youtube", "ytdlp"}, resp.Routing[1].EffectiveChain)
	assert.Nil(t, resp.Routing[1].Override)
}

func TestRoutes_OverrideLifecycle(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPut, "/api/v1/routing/youtube_full/override",
		`{"chain":["ytdlp","youtube"],"ttl_minutes":30}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// The override shows up and reorders the effective chain.
	w = f.do(t, http.MethodGet, "/api/v1/routing", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Routing []server.RoutingEntry `json:"routing"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	entry := resp.Routing[1]
	require.NotNil(t, entry.Override)
	assert.Equal(t, []string{"ytdlp", "youtube"}, entry.Override.Chain)
	assert.False(t, entry.Override.Expired)
	assert.Equal(t, testBase.Add(30*time.Minute), entry.Override.ExpiresAt)
	assert.Equal(t, []string{"ytdlp", "youtube"}, entry.EffectiveChain)

	// Clearing restores the default on the next read.
	w = f.do(t, http.MethodDelete, "/api/v1/routing/youtube_full/override", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/routing", "")
	resp.Routing = nil
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Nil(t, resp.Routing[1].Override)
	assert.Equal(t, []string{"youtube", "ytdlp"}, resp.Routing[1].EffectiveChain)
}

func TestRoutes_SetOverride_Validation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name     string
		path     string
		body     string
		wantCode int
	}{
		{
			name:     "unknown category",
			path:     "/api/v1/routing/vimeo_video/override",
			body:     `{"chain":["ytdlp"],"ttl_minutes":10}`,
			wantCode: http.StatusNotFound,
		},
		{
			name:     "unregistered provider",
			path:     "/api/v1/routing/youtube_full/override",
			body:     `{"chain":["curl"],"ttl_minutes":10}`,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "provider outside category",
			path:     "/api/v1/routing/youtube_full/override",
			body:     `{"chain":["rapidapi"],"ttl_minutes":10}`,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "empty chain",
			path:     "/api/v1/routing/youtube_full/override",
			body:     `{"chain":[],"ttl_minutes":10}`,
			wantCode: http.StatusUnprocessableEntity,
		},
		{
			name:     "missing ttl",
			path:     "/api/v1/routing/youtube_full/override",
			body:     `{"chain":["ytdlp"],"ttl_minutes":0}`,
			wantCode: http.StatusUnprocessableEntity,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPut, tt.path, tt.body)
			assert.Equal(t, tt.wantCode, w.Code, w.Body.String())
		})
	}
}

func TestRoutes_ProviderHealthReflectsWrites(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := store.Key{Provider: "ytdlp", Category: "youtube_full"}

	_, err := f.stores.Health.IncrementError(ctx, key, "rate_limited", f.now)
	require.NoError(t, err)

	w := f.do(t, http.MethodGet, "/api/v1/providers/health", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Providers []health.Snapshot `json:"providers"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Providers, 1)
	assert.Equal(t, "ytdlp", resp.Providers[0].Provider)
	assert.Equal(t, int64(1), resp.Providers[0].ErrorCount)
	assert.Equal(t, "rate_limited", resp.Providers[0].LastErrorKind)
}

func TestRoutes_DisableTakesEffectOnNextResolution(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/providers/youtube/youtube_full/disable", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/routing", "")
	var resp struct {
		Routing []server.RoutingEntry `json:"routing"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []string{"ytdlp"}, resp.Routing[1].EffectiveChain)

	w = f.do(t, http.MethodPost, "/api/v1/providers/youtube/youtube_full/enable", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/routing", "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []string{"youtube", "ytdlp"}, resp.Routing[1].EffectiveChain)
}

func TestRoutes_ManualCooldownLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := store.Key{Provider: "ytdlp", Category: "tiktok_video"}

	w := f.do(t, http.MethodPost, "/api/v1/providers/ytdlp/tiktok_video/cooldown?minutes=45", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	snap, err := f.stores.Health.Snapshot(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, snap.CooldownUntil)
	assert.Equal(t, f.now.Add(45*time.Minute), *snap.CooldownUntil)
	assert.True(t, snap.InCooldown(f.now))

	w = f.do(t, http.MethodDelete, "/api/v1/providers/ytdlp/tiktok_video/cooldown", "")
	require.Equal(t, http.StatusOK, w.Code)

	snap, err = f.stores.Health.Snapshot(ctx, key)
	require.NoError(t, err)
	assert.False(t, snap.InCooldown(f.now))
}

func TestRoutes_CooldownValidation(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/providers/ytdlp/tiktok_video/cooldown", "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code, "minutes is required")

	w = f.do(t, http.MethodPost, "/api/v1/providers/ghost/tiktok_video/cooldown?minutes=5", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/providers/youtube/tiktok_video/cooldown?minutes=5", "")
	assert.Equal(t, http.StatusNotFound, w.Code, "youtube does not serve tiktok_video chains")
}

func TestRoutes_TelemetrySummary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, rec := range []*store.AttemptRecord{
		{Provider: "ytdlp", Category: "youtube_full", Outcome: store.OutcomeSuccess, Latency: 2 * time.Second, Bytes: 1024, At: f.now},
		{Provider: "ytdlp", Category: "youtube_full", Outcome: store.OutcomeFailure, ErrorKind: "transient_stall", Latency: 30 * time.Second, At: f.now},
	} {
		require.NoError(t, f.stores.Telemetry.Append(ctx, rec))
	}

	w := f.do(t, http.MethodGet, "/api/v1/telemetry/summary", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Summaries []*store.TelemetrySummary `json:"summaries"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Summaries, 1)
	sum := resp.Summaries[0]
	assert.Equal(t, int64(2), sum.Attempts)
	assert.Equal(t, int64(1), sum.Successes)
	assert.InDelta(t, 0.5, sum.SuccessRate, 0.001)
	assert.Equal(t, int64(1), sum.ErrorsByKind["transient_stall"])

	// A since boundary after the writes excludes them.
	since := f.now.Add(time.Minute).Format(time.RFC3339)
	w = f.do(t, http.MethodGet, "/api/v1/telemetry/summary?since="+since, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Empty(t, resp.Summaries)
}

func TestRoutes_ListBudgets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.stores.Budget.AddSpend(ctx, "rapidapi", 12, f.now)
	require.NoError(t, err)

	w := f.do(t, http.MethodGet, "/api/v1/budgets", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Budgets []server.BudgetEntry `json:"budgets"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Budgets, 1, "only paid providers appear")
	assert.Equal(t, "rapidapi", resp.Budgets[0].Provider)
	assert.Equal(t, "2026-03-01", resp.Budgets[0].Day)
	assert.Equal(t, int64(12), resp.Budgets[0].SpentCents)
	assert.Equal(t, int64(500), resp.Budgets[0].LimitCents)
}
