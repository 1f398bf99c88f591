// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SaveNinja Contributors

package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saveninja/saveninja/internal/config"
	snerr "github.com/saveninja/saveninja/pkg/errors"
)

func wireConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Listen: "127.0.0.1:0",
		},
		Storage: config.StorageConfig{
			Backend: "memory",
		},
		Downloads: config.DownloadsConfig{
			MaxSizeBytes: 50 << 20,
		},
		Providers: map[string]config.ProviderConfig{
			"ytdlp": {
				Categories:    []string{"youtube_full", "tiktok_video"},
				MaxConcurrent: 3,
				Timeout:       60 * time.Second,
			},
			"youtube": {
				Categories:    []string{"youtube_full"},
				MaxConcurrent: 5,
				Timeout:       90 * time.Second,
			},
		},
		Routing: config.RoutingConfig{
			Defaults: map[string][]string{
				"youtube_full": {"youtube", "ytdlp"},
				"tiktok_video": {"ytdlp"},
			},
		},
		Engine: config.EngineConfig{
			ChainBudget:    10 * time.Minute,
			AcquireTimeout: 3 * time.Second,
			Cooldown: config.CooldownConfig{
				RateLimited:      30 * time.Minute,
				Stall:            10 * time.Minute,
				StallThreshold:   3,
				EscalationWindow: time.Hour,
				Max:              4 * time.Hour,
			},
		},
	}
}

func TestWireApp_MemoryBackend(t *testing.T) {
	app, err := WireApp(wireConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })

	require.NotNil(t, app.Server)
	assert.Nil(t, app.Bot, "bot stays off unless telegram.enabled")

	// The wired server answers health and routing reads.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()
	app.Server.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/routing", nil)
	w = httptest.NewRecorder()
	app.Server.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "youtube_full")
}

func TestWireApp_UnknownBackend(t *testing.T) {
	cfg := wireConfig()
	cfg.Storage.Backend = "postgres"

	_, err := WireApp(cfg)
	require.Error(t, err)
	assert.True(t, snerr.HasCode(err, snerr.CodeCLISetupFailure))
}

func TestWireApp_UnknownDefaultChainProvider(t *testing.T) {
	cfg := wireConfig()
	cfg.Routing.Defaults["youtube_full"] = []string{"nope"}

	_, err := WireApp(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "youtube_full")
}

func TestWireApp_UnknownProviderKind(t *testing.T) {
	cfg := wireConfig()
	cfg.Providers["mystery"] = config.ProviderConfig{
		Kind:          "gopher",
		Categories:    []string{"youtube_full"},
		MaxConcurrent: 1,
		Timeout:       time.Second,
	}

	_, err := WireApp(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mystery")
}

func TestResolveSecrets_ResolvesKeyringURIs(t *testing.T) {
	mock := newMockSecretStore()
	require.NoError(t, mock.Store("saveninja", "telegram-bot-token", "123:abc"))
	require.NoError(t, mock.Store("saveninja", "rapidapi-key", "rk-secret"))

	cfg := wireConfig()
	cfg.Telegram.Token = "keyring://saveninja/telegram-bot-token"
	cfg.Providers["rapidapi"] = config.ProviderConfig{
		Categories:    []string{"tiktok_video"},
		MaxConcurrent: 1,
		Timeout:       time.Second,
		APIKey:        "keyring://saveninja/rapidapi-key",
	}

	require.NoError(t, resolveSecrets(cfg, mock))

	assert.Equal(t, "123:abc", cfg.Telegram.Token)
	assert.Equal(t, "rk-secret", cfg.Providers["rapidapi"].APIKey)
	assert.Equal(t, "", cfg.Server.AuthToken, "untouched literal values stay put")
}

func TestResolveSecrets_MissingSecret(t *testing.T) {
	cfg := wireConfig()
	cfg.Telegram.Token = "keyring://saveninja/missing"

	err := resolveSecrets(cfg, newMockSecretStore())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telegram.token")
}
