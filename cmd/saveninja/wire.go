// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SaveNinja Contributors

package main

import (
	"log/slog"
	"os"
	"sort"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/saveninja/saveninja/internal/bot"
	"github.com/saveninja/saveninja/internal/config"
	"github.com/saveninja/saveninja/internal/engine"
	"github.com/saveninja/saveninja/internal/media"
	"github.com/saveninja/saveninja/internal/provider"
	"github.com/saveninja/saveninja/internal/secrets"
	"github.com/saveninja/saveninja/internal/server"
	"github.com/saveninja/saveninja/internal/source"
	"github.com/saveninja/saveninja/internal/store"
	_ "github.com/saveninja/saveninja/internal/store/sqlite" // register sqlite backend
	snerr "github.com/saveninja/saveninja/pkg/errors"
)

// App holds all wired subsystems and manages their lifecycle.
type App struct {
	Server *server.Server
	Bot    *bot.Bot
	Stores *store.Stores
}

// WireApp creates all subsystems and wires them together.
func WireApp(cfg *config.Config) (*App, error) {
	if err := resolveSecrets(cfg, secrets.NewKeyringStore()); err != nil {
		return nil, err
	}

	// 1. Stores.
	if cfg.Storage.Backend != "memory" && cfg.Storage.DataPath != "" {
		if err := os.MkdirAll(cfg.Storage.DataPath, 0o755); err != nil {
			return nil, snerr.Errorf(snerr.CodeCLISetupFailure, "creating data directory: %w", err)
		}
	}
	stores, err := store.New(cfg.Storage.Backend, store.Options{DataPath: cfg.Storage.DataPath})
	if err != nil {
		return nil, snerr.Errorf(snerr.CodeCLISetupFailure, "creating stores: %w", err)
	}

	// 2. Provider registry and default chains.
	reg := engine.NewRegistry()
	if err := registerProviders(cfg, reg); err != nil {
		_ = stores.Close()
		return nil, err
	}
	for category, chain := range cfg.Routing.Defaults {
		if err := reg.SetDefaultChain(category, chain); err != nil {
			_ = stores.Close()
			return nil, snerr.Wrapf(err, snerr.CodeCLISetupFailure, "setting default chain for %s", category)
		}
	}

	// 3. Orchestrator.
	orch := engine.NewOrchestrator(reg, stores, engine.Options{
		ChainBudget:       cfg.Engine.ChainBudget,
		AcquireTimeout:    cfg.Engine.AcquireTimeout,
		NegativeTTL:       cfg.Engine.NegativeTTL,
		OverrideStaleness: cfg.Engine.OverrideStaleness,
		Policy: &engine.CooldownPolicy{
			RateLimited:      cfg.Engine.Cooldown.RateLimited,
			Stall:            cfg.Engine.Cooldown.Stall,
			StallThreshold:   int64(cfg.Engine.Cooldown.StallThreshold),
			EscalationWindow: cfg.Engine.Cooldown.EscalationWindow,
			Max:              cfg.Engine.Cooldown.Max,
		},
	})

	// 4. Admin server.
	srv, err := server.New(server.Config{
		ListenAddr:  cfg.Server.Listen,
		AuthToken:   cfg.Server.AuthToken,
		CORSOrigins: cfg.Server.CORSOrigins,
		RateLimit: server.RateLimitConfig{
			RequestsPerMinute: cfg.Server.RateLimitPerMinute,
		},
	})
	if err != nil {
		_ = stores.Close()
		return nil, snerr.Errorf(snerr.CodeCLISetupFailure, "creating server: %w", err)
	}
	srv.RegisterServices(&server.Services{Registry: reg, Engine: orch, Stores: stores})

	app := &App{Server: srv, Stores: stores}

	// 5. Telegram bot, when enabled.
	if cfg.Telegram.Enabled {
		b, err := wireBot(cfg, orch)
		if err != nil {
			_ = stores.Close()
			return nil, err
		}
		app.Bot = b
	} else {
		slog.Info("telegram bot disabled, running admin API only")
	}

	return app, nil
}

// resolveSecrets replaces keyring:// URIs in the loaded config with the
// secret values they point at.
func resolveSecrets(cfg *config.Config, s secrets.Store) error {
	values := map[string]*string{
		"telegram.token":    &cfg.Telegram.Token,
		"server.auth_token": &cfg.Server.AuthToken,
	}

	// Map values are not addressable; resolve through copies and write
	// the results back.
	apiKeys := make(map[string]*string, len(cfg.Providers))
	for name := range cfg.Providers {
		key := cfg.Providers[name].APIKey
		apiKeys[name] = &key
		values["providers."+name+".api_key"] = &key
	}

	if err := secrets.ResolveAll(s, values); err != nil {
		return err
	}

	for name, key := range apiKeys {
		pc := cfg.Providers[name]
		pc.APIKey = *key
		cfg.Providers[name] = pc
	}
	return nil
}

func registerProviders(cfg *config.Config, reg *engine.Registry) error {
	names := make([]string, 0, len(cfg.Providers))
	for name := range cfg.Providers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		pc := cfg.Providers[name]

		var (
			p   provider.Provider
			err error
		)
		switch pc.AdapterKind(name) {
		case config.KindYtdlp:
			p = provider.NewYtdlp(pc.Binary, pc.ProxyURL)
		case config.KindYouTube:
			p = provider.NewYouTube()
		case config.KindRapidAPI:
			p, err = provider.NewRapidAPI(pc.Host, pc.APIKey, nil)
		default:
			err = snerr.Errorf(snerr.CodeConfigValidateInvalidValue,
				"provider %q has unknown kind %q", name, pc.AdapterKind(name))
		}
		if err != nil {
			return snerr.Wrapf(err, snerr.CodeCLISetupFailure, "building provider %s", name)
		}

		if err := reg.Register(&engine.Descriptor{
			Name:             name,
			Categories:       pc.Categories,
			MaxConcurrent:    pc.MaxConcurrent,
			Timeout:          pc.Timeout,
			DailyBudgetCents: pc.DailyBudgetCents,
			CostPerCallCents: pc.CostPerCallCents,
		}, p); err != nil {
			return snerr.Wrapf(err, snerr.CodeCLISetupFailure, "registering provider %s", name)
		}
	}
	return nil
}

func wireBot(cfg *config.Config, orch *engine.Orchestrator) (*bot.Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		return nil, snerr.Errorf(snerr.CodeBotTokenInvalid, "connecting to Telegram: %w", err)
	}

	platforms := cfg.Source.Platforms
	if len(platforms) == 0 {
		platforms = source.DefaultPlatforms()
	}
	expander := source.NewExpander(nil, 5, 10*time.Second)
	classifier, err := source.NewClassifier(platforms, expander)
	if err != nil {
		return nil, err
	}

	return bot.New(api, classifier, orch, media.NewNormalizer("", ""), bot.Config{
		WorkDir:      cfg.Downloads.WorkDir,
		MaxSizeBytes: cfg.Downloads.MaxSizeBytes,
		MaxDuration:  cfg.Downloads.MaxDuration,
	}), nil
}

// Close releases all resources held by the app.
func (a *App) Close() error {
	if a.Stores != nil {
		return a.Stores.Close()
	}
	return nil
}
