// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SaveNinja Contributors

package config

import (
	"errors"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/saveninja/saveninja/internal/source"
	snerr "github.com/saveninja/saveninja/pkg/errors"
)

// Config is the top-level SaveNinja configuration.
type Config struct {
	Server    ServerConfig              `mapstructure:"server"`
	Storage   StorageConfig             `mapstructure:"storage"`
	Telegram  TelegramConfig            `mapstructure:"telegram"`
	Downloads DownloadsConfig           `mapstructure:"downloads"`
	Providers map[string]ProviderConfig `mapstructure:"providers"`
	Routing   RoutingConfig             `mapstructure:"routing"`
	Engine    EngineConfig              `mapstructure:"engine"`
	Source    SourceConfig              `mapstructure:"source"`
}

// ServerConfig controls the admin API listener.
type ServerConfig struct {
	Listen             string   `mapstructure:"listen"`
	AuthToken          string   `mapstructure:"auth_token"`
	CORSOrigins        []string `mapstructure:"cors_origins"`
	RateLimitPerMinute int      `mapstructure:"rate_limit_per_minute"`
}

// StorageConfig selects the storage backend.
type StorageConfig struct {
	Backend  string `mapstructure:"backend"`
	DataPath string `mapstructure:"data_path"`
}

// TelegramConfig holds the bot credentials. The token may be a
// keyring:// reference resolved after load.
type TelegramConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Token   string `mapstructure:"token"`
}

// DownloadsConfig bounds what a single download may consume.
type DownloadsConfig struct {
	WorkDir      string        `mapstructure:"work_dir"`
	MaxSizeBytes int64         `mapstructure:"max_size_bytes"`
	MaxDuration  time.Duration `mapstructure:"max_duration"`
}

// ProviderConfig describes one download provider: which adapter backs
// it, what it may serve, and its operating limits. Adapter-specific
// fields (binary, proxy_url, api_key, host) are ignored by the other
// kinds.
type ProviderConfig struct {
	Kind             string        `mapstructure:"kind"`
	Categories       []string      `mapstructure:"categories"`
	MaxConcurrent    int           `mapstructure:"max_concurrent"`
	Timeout          time.Duration `mapstructure:"timeout"`
	DailyBudgetCents int64         `mapstructure:"daily_budget_cents"`
	CostPerCallCents int64         `mapstructure:"cost_per_call_cents"`

	Binary   string `mapstructure:"binary"`
	ProxyURL string `mapstructure:"proxy_url"`
	APIKey   string `mapstructure:"api_key"`
	Host     string `mapstructure:"host"`
}

// RoutingConfig maps each source category to its default provider
// chain, in priority order.
type RoutingConfig struct {
	Defaults map[string][]string `mapstructure:"defaults"`
}

// EngineConfig tunes the attempt orchestrator.
type EngineConfig struct {
	ChainBudget       time.Duration  `mapstructure:"chain_budget"`
	AcquireTimeout    time.Duration  `mapstructure:"acquire_timeout"`
	NegativeTTL       time.Duration  `mapstructure:"negative_ttl"`
	OverrideStaleness time.Duration  `mapstructure:"override_staleness"`
	Cooldown          CooldownConfig `mapstructure:"cooldown"`
}

// CooldownConfig sets the cooldown tiers and escalation bounds.
type CooldownConfig struct {
	RateLimited      time.Duration `mapstructure:"rate_limited"`
	Stall            time.Duration `mapstructure:"stall"`
	StallThreshold   int           `mapstructure:"stall_threshold"`
	EscalationWindow time.Duration `mapstructure:"escalation_window"`
	Max              time.Duration `mapstructure:"max"`
}

// SourceConfig carries the platform classification rules. An empty
// platform list falls back to the built-in rules.
type SourceConfig struct {
	Platforms []source.Platform `mapstructure:"platforms"`
}

// Adapter kinds a provider entry may name.
const (
	KindYtdlp    = "ytdlp"
	KindYouTube  = "youtube"
	KindRapidAPI = "rapidapi"
)

// Load reads configuration from the given path (or defaults) with
// environment variable overrides (prefix SAVENINJA_).
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.listen", "127.0.0.1:8750")
	v.SetDefault("server.rate_limit_per_minute", 120)
	v.SetDefault("storage.backend", "sqlite")
	if dataPath, err := DefaultDataPath(); err == nil {
		v.SetDefault("storage.data_path", dataPath)
	}
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("downloads.max_size_bytes", int64(50<<20))
	v.SetDefault("engine.chain_budget", "10m")
	v.SetDefault("engine.acquire_timeout", "3s")
	v.SetDefault("engine.negative_ttl", "2m")
	v.SetDefault("engine.override_staleness", "5s")
	v.SetDefault("engine.cooldown.rate_limited", "30m")
	v.SetDefault("engine.cooldown.stall", "10m")
	v.SetDefault("engine.cooldown.stall_threshold", 3)
	v.SetDefault("engine.cooldown.escalation_window", "1h")
	v.SetDefault("engine.cooldown.max", "4h")

	// Environment
	v.SetEnvPrefix("SAVENINJA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// File
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, snerr.Errorf(snerr.CodeConfigLoadReadFailure, "reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, snerr.Errorf(snerr.CodeConfigParseInvalidFormat, "unmarshalling config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, snerr.Errorf(snerr.CodeConfigValidateInvalidValue, "validating config: %w", errors.Join(errs...))
	}

	return &cfg, nil
}

// Validate checks the configuration for logical errors.
// It returns a slice of all validation errors found, collecting all issues
// rather than stopping at the first one.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateServer()...)
	errs = append(errs, c.validateStorage()...)
	errs = append(errs, c.validateTelegram()...)
	errs = append(errs, c.validateProviders()...)
	errs = append(errs, c.validateRouting()...)
	errs = append(errs, c.validateEngine()...)

	return errs
}

func (c *Config) validateServer() []error {
	var errs []error

	if c.Server.Listen == "" {
		errs = append(errs, snerr.Errorf(snerr.CodeConfigValidateInvalidValue, "config: server.listen must not be empty"))
	} else {
		host, portStr, err := net.SplitHostPort(c.Server.Listen)
		if err != nil {
			errs = append(errs, snerr.Errorf(snerr.CodeConfigValidateInvalidValue,
				"config: server.listen must be a valid host:port address, got %q: %w",
				c.Server.Listen, err,
			))
		} else {
			_ = host // host can be empty (e.g., ":8080"), which is valid
			port, err := strconv.Atoi(portStr)
			if err != nil {
				errs = append(errs, snerr.Errorf(snerr.CodeConfigValidateInvalidValue,
					"config: server.listen port must be a number, got %q",
					portStr,
				))
			} else if port < 1 || port > 65535 {
				errs = append(errs, snerr.Errorf(snerr.CodeConfigValidateInvalidValue,
					"config: server.listen port must be between 1 and 65535, got %d",
					port,
				))
			}
		}
	}

	if c.Server.RateLimitPerMinute < 0 {
		errs = append(errs, snerr.Errorf(snerr.CodeConfigValidateInvalidValue,
			"config: server.rate_limit_per_minute must not be negative, got %d",
			c.Server.RateLimitPerMinute,
		))
	}

	return errs
}

func (c *Config) validateStorage() []error {
	var errs []error

	validBackends := map[string]bool{"memory": true, "sqlite": true}
	if !validBackends[c.Storage.Backend] {
		errs = append(errs, snerr.Errorf(snerr.CodeConfigValidateInvalidValue,
			"config: storage.backend must be one of [memory, sqlite], got %q",
			c.Storage.Backend,
		))
	}

	if c.Storage.Backend == "sqlite" && c.Storage.DataPath == "" {
		errs = append(errs, snerr.Errorf(snerr.CodeConfigValidateInvalidValue,
			"config: storage.data_path must be set for the sqlite backend"))
	}

	return errs
}

func (c *Config) validateTelegram() []error {
	var errs []error

	if c.Telegram.Enabled && c.Telegram.Token == "" {
		errs = append(errs, snerr.Errorf(snerr.CodeConfigValidateInvalidValue,
			"config: telegram.token must be set when the bot is enabled"))
	}

	return errs
}

func (c *Config) validateProviders() []error {
	var errs []error

	validKinds := map[string]bool{KindYtdlp: true, KindYouTube: true, KindRapidAPI: true}
	for name, p := range c.Providers {
		kind := p.AdapterKind(name)
		if !validKinds[kind] {
			errs = append(errs, snerr.Errorf(snerr.CodeConfigValidateInvalidValue,
				"config: providers.%s.kind must be one of [ytdlp, youtube, rapidapi], got %q",
				name, kind,
			))
		}
		if len(p.Categories) == 0 {
			errs = append(errs, snerr.Errorf(snerr.CodeConfigValidateInvalidValue,
				"config: providers.%s.categories must not be empty", name))
		}
		if p.MaxConcurrent <= 0 {
			errs = append(errs, snerr.Errorf(snerr.CodeConfigValidateInvalidValue,
				"config: providers.%s.max_concurrent must be greater than 0, got %d",
				name, p.MaxConcurrent,
			))
		}
		if p.Timeout <= 0 {
			errs = append(errs, snerr.Errorf(snerr.CodeConfigValidateInvalidValue,
				"config: providers.%s.timeout must be greater than 0, got %s",
				name, p.Timeout,
			))
		}
		if p.DailyBudgetCents < 0 {
			errs = append(errs, snerr.Errorf(snerr.CodeConfigValidateInvalidValue,
				"config: providers.%s.daily_budget_cents must not be negative, got %d",
				name, p.DailyBudgetCents,
			))
		}
		if p.CostPerCallCents < 0 {
			errs = append(errs, snerr.Errorf(snerr.CodeConfigValidateInvalidValue,
				"config: providers.%s.cost_per_call_cents must not be negative, got %d",
				name, p.CostPerCallCents,
			))
		}
		if kind == KindRapidAPI && p.APIKey == "" {
			errs = append(errs, snerr.Errorf(snerr.CodeConfigValidateInvalidValue,
				"config: providers.%s.api_key must be set for the rapidapi adapter", name))
		}
	}

	return errs
}

func (c *Config) validateRouting() []error {
	var errs []error

	for category, chain := range c.Routing.Defaults {
		if len(chain) == 0 {
			errs = append(errs, snerr.Errorf(snerr.CodeConfigValidateInvalidValue,
				"config: routing.defaults.%s must name at least one provider", category))
			continue
		}
		for i, name := range chain {
			p, ok := c.Providers[name]
			if !ok {
				errs = append(errs, snerr.Errorf(snerr.CodeConfigValidateInvalidValue,
					"config: routing.defaults.%s[%d] references provider %q which is not configured",
					category, i, name,
				))
				continue
			}
			if !p.servesCategory(category) {
				errs = append(errs, snerr.Errorf(snerr.CodeConfigValidateInvalidValue,
					"config: routing.defaults.%s[%d] provider %q does not serve category %q",
					category, i, name, category,
				))
			}
		}
	}

	return errs
}

func (c *Config) validateEngine() []error {
	var errs []error

	positive := []struct {
		key string
		val time.Duration
	}{
		{"engine.chain_budget", c.Engine.ChainBudget},
		{"engine.acquire_timeout", c.Engine.AcquireTimeout},
		{"engine.negative_ttl", c.Engine.NegativeTTL},
		{"engine.override_staleness", c.Engine.OverrideStaleness},
		{"engine.cooldown.rate_limited", c.Engine.Cooldown.RateLimited},
		{"engine.cooldown.stall", c.Engine.Cooldown.Stall},
		{"engine.cooldown.escalation_window", c.Engine.Cooldown.EscalationWindow},
		{"engine.cooldown.max", c.Engine.Cooldown.Max},
	}
	for _, p := range positive {
		if p.val <= 0 {
			errs = append(errs, snerr.Errorf(snerr.CodeConfigValidateInvalidValue,
				"config: %s must be greater than 0, got %s", p.key, p.val))
		}
	}

	if c.Engine.Cooldown.StallThreshold <= 0 {
		errs = append(errs, snerr.Errorf(snerr.CodeConfigValidateInvalidValue,
			"config: engine.cooldown.stall_threshold must be greater than 0, got %d",
			c.Engine.Cooldown.StallThreshold,
		))
	}

	return errs
}

// AdapterKind resolves the adapter behind a provider entry. An empty
// kind falls back to the entry's own name, so the three stock
// providers need no kind field at all.
func (p ProviderConfig) AdapterKind(name string) string {
	if p.Kind != "" {
		return p.Kind
	}
	return name
}

func (p ProviderConfig) servesCategory(category string) bool {
	for _, c := range p.Categories {
		if c == category {
			return true
		}
	}
	return false
}
