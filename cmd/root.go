// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Thermoquad/shuckctl/pkg/config"
	"github.com/Thermoquad/shuckctl/pkg/logging"
)

var (
	configFile string

	// Loaded in PersistentPreRunE, available to every command
	cfg    *config.Config
	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "shuckctl",
	Short: "Shuck water-quality logger controller",
	Long: `Shuckctl - A CLI tool for talking to Shuck water-quality loggers.

Decodes the logger's framed packet stream, sends configuration and data
requests, and forwards downloaded measurement batches to a collection server.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 115200]
  WebSocket: --url ws://host/path [--username user]

Settings may also come from a config file (--config, or shuckctl.yaml in the
working directory or ~/.config/shuckctl) and SHUCK_ environment variables,
e.g. SHUCK_COLLECTOR_ENDPOINT. Flags take precedence.

For WebSocket authentication, the password is read from the SHUCK_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:           "0.3.0",
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "Config file (yaml, toml or json)")

	// Serial connection flags
	pf.StringP("port", "p", "", "Serial port device")
	pf.IntP("baud", "b", 115200, "Baud rate (serial only)")

	// WebSocket connection flags
	pf.StringP("url", "u", "", "WebSocket URL (ws:// or wss://)")
	pf.String("username", "", "Username for HTTP Basic auth")
	pf.Bool("no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	// Link behaviour
	pf.Int("max-write", 20, "Largest single link write in bytes (ATT MTU - 3)")
	pf.Bool("strict-sync", false, "Consume the byte that breaks a sync match instead of retesting it")

	pf.String("log-level", "info", "Log level (debug, info, warn, error)")
	pf.String("log-file", "", "Also write logs to this rolling file")
}

// flagKeys maps persistent flags onto configuration keys
var flagKeys = map[string]string{
	"port":          "link.port",
	"baud":          "link.baud",
	"url":           "link.url",
	"username":      "link.username",
	"no-ssl-verify": "link.noSSLVerify",
	"max-write":     "link.maxWrite",
	"strict-sync":   "link.strictSync",
	"log-level":     "logging.level",
	"log-file":      "logging.file.filename",
}

func loadConfig(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader()
	for name, key := range flagKeys {
		if err := loader.BindFlag(key, cmd.Flags().Lookup(name)); err != nil {
			return err
		}
	}
	if err := bindCommandFlags(loader, cmd); err != nil {
		return err
	}

	loaded, err := loader.Load(configFile)
	if err != nil {
		return err
	}
	cfg = loaded

	l, err := logging.InitLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger = l
	if used := loader.ConfigFileUsed(); used != "" {
		logger.Debug("config loaded", zap.String("file", used))
	}
	return nil
}

// commandFlagKeys maps flags defined by individual commands onto
// configuration keys
var commandFlagKeys = map[string]string{
	"endpoint":     "collector.endpoint",
	"format":       "collector.format",
	"per-entry":    "collector.perEntry",
	"metrics-addr": "metrics.addr",
}

func bindCommandFlags(loader *config.Loader, cmd *cobra.Command) error {
	for name, key := range commandFlagKeys {
		f := cmd.Flags().Lookup(name)
		if f == nil {
			continue
		}
		if err := loader.BindFlag(key, f); err != nil {
			return err
		}
	}
	return nil
}

// addCollectorFlags registers the flags shared by commands that talk to the
// collection server
func addCollectorFlags(cmd *cobra.Command) {
	cmd.Flags().String("endpoint", "http://localhost:1337/newMeasurement", "Collection server endpoint")
	cmd.Flags().String("format", "json", "Payload encoding (json or cbor)")
	cmd.Flags().Bool("per-entry", false, "Send one request per measurement instead of one per batch")
}

// Execute runs the root command. Interrupt and terminate signals cancel
// the command context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}
