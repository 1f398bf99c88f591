// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SaveNinja Contributors

package main

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/saveninja/saveninja/internal/config"
)

func newStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the saveninja gateway",
		Long:  "Load configuration, wire the routing engine, and start the admin API and the Telegram bot.",
		RunE:  runStart,
	}

	cmd.Flags().String("listen", "", "override admin API listen address (host:port)")

	return cmd
}

func runStart(cmd *cobra.Command, _ []string) error {
	cfgPath := resolveConfigPath(cmd)
	if cfgPath != "" {
		config.WarnInsecurePermissions(cfgPath)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		cfg.Server.Listen = listen
	}

	app, err := WireApp(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("starting saveninja",
		"listen", cfg.Server.Listen,
		"storage", cfg.Storage.Backend,
		"bot", cfg.Telegram.Enabled)

	parts := 1
	errCh := make(chan error, 2)
	go func() { errCh <- app.Server.Start(ctx) }()
	if app.Bot != nil {
		parts++
		go func() { errCh <- app.Bot.Run(ctx) }()
	}

	var firstErr error
	for i := 0; i < parts; i++ {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
			stop()
		}
	}
	return firstErr
}
