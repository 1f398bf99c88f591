// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SaveNinja Contributors

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saveninja/saveninja/internal/config"
)

func TestLoad_DefaultValues(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8750", cfg.Server.Listen)
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.False(t, cfg.Telegram.Enabled)
	assert.Equal(t, int64(50<<20), cfg.Downloads.MaxSizeBytes)
	assert.Equal(t, 10*time.Minute, cfg.Engine.ChainBudget)
	assert.Equal(t, 3*time.Second, cfg.Engine.AcquireTimeout)
	assert.Equal(t, 30*time.Minute, cfg.Engine.Cooldown.RateLimited)
	assert.Equal(t, 3, cfg.Engine.Cooldown.StallThreshold)
	assert.Equal(t, 4*time.Hour, cfg.Engine.Cooldown.Max)
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "saveninja.yaml")

	content := `
server:
  listen: "0.0.0.0:9999"
providers:
  ytdlp:
    categories: [youtube_full]
    max_concurrent: 2
    timeout: 90s
    proxy_url: "socks5://127.0.0.1:9050"
routing:
  defaults:
    youtube_full: [ytdlp]
`
	err := os.WriteFile(cfgPath, []byte(content), 0o644)
	require.NoError(t, err)

	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9999", cfg.Server.Listen)
	require.Contains(t, cfg.Providers, "ytdlp")
	assert.Equal(t, 90*time.Second, cfg.Providers["ytdlp"].Timeout)
	assert.Equal(t, "socks5://127.0.0.1:9050", cfg.Providers["ytdlp"].ProxyURL)
	assert.Equal(t, []string{"ytdlp"}, cfg.Routing.Defaults["youtube_full"])
}

func TestLoad_EmbeddedDefaultConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "saveninja.yaml")
	require.NoError(t, os.WriteFile(cfgPath, config.DefaultConfigYAML, 0o600))

	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	assert.Contains(t, cfg.Providers, "ytdlp")
	assert.Contains(t, cfg.Providers, "youtube")
	assert.Equal(t, []string{"youtube", "ytdlp"}, cfg.Routing.Defaults["youtube_full"])
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("SAVENINJA_SERVER_LISTEN", "10.0.0.1:8080")

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:8080", cfg.Server.Listen)
}

func TestLoad_ValidationCalledAtLoadTime(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "saveninja.yaml")

	content := `
storage:
  backend: "postgres"
`
	err := os.WriteFile(cfgPath, []byte(content), 0o644)
	require.NoError(t, err)

	_, err = config.Load(cfgPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.backend")
}

// validConfig returns a minimal config that passes all validation.
func validConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Listen:             "127.0.0.1:8750",
			RateLimitPerMinute: 120,
		},
		Storage: config.StorageConfig{
			Backend:  "sqlite",
			DataPath: "/var/lib/saveninja",
		},
		Telegram: config.TelegramConfig{
			Enabled: true,
			Token:   "keyring://saveninja/telegram-token",
		},
		Providers: map[string]config.ProviderConfig{
			"ytdlp": {
				Categories:    []string{"youtube_full", "tiktok_video"},
				MaxConcurrent: 4,
				Timeout:       3 * time.Minute,
			},
			"rapidapi": {
				Categories:       []string{"tiktok_video"},
				MaxConcurrent:    2,
				Timeout:          time.Minute,
				DailyBudgetCents: 500,
				CostPerCallCents: 1,
				APIKey:           "keyring://saveninja/rapidapi-key",
			},
		},
		Routing: config.RoutingConfig{
			Defaults: map[string][]string{
				"youtube_full": {"ytdlp"},
				"tiktok_video": {"ytdlp", "rapidapi"},
			},
		},
		Engine: config.EngineConfig{
			ChainBudget:       10 * time.Minute,
			AcquireTimeout:    3 * time.Second,
			NegativeTTL:       2 * time.Minute,
			OverrideStaleness: 5 * time.Second,
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

func TestValidate_ValidConfig(t *testing.T) {
	assert.Empty(t, validConfig().Validate())
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Listen = "not-an-address"
	cfg.Storage.Backend = "postgres"
	cfg.Engine.Cooldown.StallThreshold = 0

	errs := cfg.Validate()
	assert.Len(t, errs, 3)
}

func TestValidate_Server(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{
			name:    "empty listen",
			mutate:  func(c *config.Config) { c.Server.Listen = "" },
			wantErr: "server.listen must not be empty",
		},
		{
			name:    "missing port",
			mutate:  func(c *config.Config) { c.Server.Listen = "127.0.0.1" },
			wantErr: "host:port",
		},
		{
			name:    "port out of range",
			mutate:  func(c *config.Config) { c.Server.Listen = "127.0.0.1:70000" },
			wantErr: "between 1 and 65535",
		},
		{
			name:    "negative rate limit",
			mutate:  func(c *config.Config) { c.Server.RateLimitPerMinute = -1 },
			wantErr: "rate_limit_per_minute",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			errs := cfg.Validate()
			require.Len(t, errs, 1)
			assert.Contains(t, errs[0].Error(), tt.wantErr)
		})
	}
}

func TestValidate_SqliteRequiresDataPath(t *testing.T) {
	cfg := validConfig()
	cfg.Storage.DataPath = ""

	errs := cfg.Validate()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "storage.data_path")
}

func TestValidate_MemoryBackendNeedsNoDataPath(t *testing.T) {
	cfg := validConfig()
	cfg.Storage.Backend = "memory"
	cfg.Storage.DataPath = ""

	assert.Empty(t, cfg.Validate())
}

func TestValidate_EnabledBotRequiresToken(t *testing.T) {
	cfg := validConfig()
	cfg.Telegram.Token = ""

	errs := cfg.Validate()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "telegram.token")
}

func TestValidate_DisabledBotNeedsNoToken(t *testing.T) {
	cfg := validConfig()
	cfg.Telegram.Enabled = false
	cfg.Telegram.Token = ""

	assert.Empty(t, cfg.Validate())
}

func TestValidate_Providers(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{
			name: "unknown kind",
			mutate: func(c *config.Config) {
				p := c.Providers["ytdlp"]
				p.Kind = "curl"
				c.Providers["ytdlp"] = p
			},
			wantErr: "kind must be one of",
		},
		{
			name: "unknown name without kind",
			mutate: func(c *config.Config) {
				c.Providers["mystery"] = c.Providers["ytdlp"]
			},
			wantErr: "providers.mystery.kind",
		},
		{
			name: "no categories",
			mutate: func(c *config.Config) {
				p := c.Providers["ytdlp"]
				p.Categories = nil
				c.Providers["ytdlp"] = p
			},
			wantErr: "categories must not be empty",
		},
		{
			name: "zero concurrency",
			mutate: func(c *config.Config) {
				p := c.Providers["ytdlp"]
				p.MaxConcurrent = 0
				c.Providers["ytdlp"] = p
			},
			wantErr: "max_concurrent",
		},
		{
			name: "zero timeout",
			mutate: func(c *config.Config) {
				p := c.Providers["ytdlp"]
				p.Timeout = 0
				c.Providers["ytdlp"] = p
			},
			wantErr: "timeout",
		},
		{
			name: "negative budget",
			mutate: func(c *config.Config) {
				p := c.Providers["rapidapi"]
				p.DailyBudgetCents = -1
				c.Providers["rapidapi"] = p
			},
			wantErr: "daily_budget_cents",
		},
		{
			name: "rapidapi without key",
			mutate: func(c *config.Config) {
				p := c.Providers["rapidapi"]
				p.APIKey = ""
				c.Providers["rapidapi"] = p
			},
			wantErr: "api_key",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			errs := cfg.Validate()
			require.NotEmpty(t, errs)
			assert.Contains(t, errs[0].Error(), tt.wantErr)
		})
	}
}

func TestValidate_Routing(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{
			name: "empty chain",
			mutate: func(c *config.Config) {
				c.Routing.Defaults["youtube_full"] = nil
			},
			wantErr: "at least one provider",
		},
		{
			name: "unknown provider",
			mutate: func(c *config.Config) {
				c.Routing.Defaults["youtube_full"] = []string{"ghost"}
			},
			wantErr: "not configured",
		},
		{
			name: "provider does not serve category",
			mutate: func(c *config.Config) {
				c.Routing.Defaults["youtube_full"] = []string{"rapidapi"}
			},
			wantErr: "does not serve category",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			errs := cfg.Validate()
			require.Len(t, errs, 1)
			assert.Contains(t, errs[0].Error(), tt.wantErr)
		})
	}
}

func TestValidate_EngineDurations(t *testing.T) {
	cfg := validConfig()
	cfg.Engine.ChainBudget = 0
	cfg.Engine.Cooldown.Max = -time.Minute

	errs := cfg.Validate()
	assert.Len(t, errs, 2)
}

func TestAdapterKind_FallsBackToName(t *testing.T) {
	p := config.ProviderConfig{}
	assert.Equal(t, "youtube", p.AdapterKind("youtube"))

	p.Kind = config.KindYtdlp
	assert.Equal(t, "ytdlp", p.AdapterKind("youtube-backup"))
}
