// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SaveNinja Contributors

package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/saveninja/saveninja/internal/config"
)

// NewRootCmd creates the root saveninja command with all subcommands registered.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "saveninja",
		Short:         "SaveNinja media download routing gateway",
		Long:          "SaveNinja routes media download requests across fetcher providers with health tracking, cooldowns, and budget caps, and delivers the results through a Telegram bot.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			verbose, _ := cmd.Flags().GetBool("verbose")
			setupLogging(verbose)
		},
	}

	root.PersistentFlags().StringP("config", "c", "", "path to config file")
	root.PersistentFlags().BoolP("verbose", "v", false, "enable verbose output")

	root.AddCommand(
		newStartCmd(),
		newStatusCmd(),
		newVersionCmd(),
		newSecretCmd(),
	)

	return root
}

func setupLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// resolveConfigPath picks the config file for this invocation: the
// --config flag, then ./saveninja.yaml, then the per-user config,
// bootstrapping a default when nothing exists yet. An empty return
// means run on built-in defaults.
func resolveConfigPath(cmd *cobra.Command) string {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		return path
	}
	if _, err := os.Stat("saveninja.yaml"); err == nil {
		return "saveninja.yaml"
	}
	if path, err := config.DefaultConfigPath(); err == nil {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return config.BootstrapConfig()
}
