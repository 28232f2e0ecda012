// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugBridge Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/plugbridge/plugbridge/internal/config"
	"github.com/plugbridge/plugbridge/internal/logging"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the plugbridge CLI.
func NewRootCmd() *cobra.Command {
	return newRootCmdWithDeps(nil)
}

func newRootCmdWithDeps(deps *Deps) *cobra.Command {
	deps = deps.withDefaults()

	cmd := &cobra.Command{
		Use:   "plugbridge",
		Short: "PlugBridge - WebAssembly plugin call bridge",
		Long: `PlugBridge loads a WebAssembly plugin into an isolated dispatch worker
and serves typed calls to it over a request/response bridge.`,
		SilenceUsage: true,
	}

	// Global flag for config file path
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: XDG_CONFIG_HOME/plugbridge/config.yaml)")
	addConfigFlags(cmd)

	cmd.AddCommand(newServeCmd(deps))
	cmd.AddCommand(newCallCmd(deps))
	cmd.AddCommand(newStatusCmd(deps))
	cmd.AddCommand(newValidateCmd())
	cmd.AddCommand(newPluginsCmd())

	return cmd
}

// addConfigFlags registers the flags listed in config.FlagKeys. Only flags
// set on the command line override the file and environment.
func addConfigFlags(cmd *cobra.Command) {
	d := config.Default()
	f := cmd.PersistentFlags()

	f.String("log-format", d.Log.Format, "log format (json or text)")
	f.String("log-level", d.Log.Level, "log level (debug, info, warn, error)")
	f.String("manifest", "", "plugin manifest file")
	f.String("source", "", "plugin binary locator (URL or path)")
	f.String("type", d.Plugin.Type, "plugin type (extism or core)")
	f.StringSlice("functions", nil, "functions the plugin is expected to export")
	f.String("mode", d.Bridge.Mode, "call mode (worker or direct)")
	f.Duration("call-timeout", d.Bridge.CallTimeout, "per-call timeout (0 = none)")
	f.Duration("ready-timeout", d.Bridge.ReadyTimeout, "how long to wait for the plugin to load")
	f.Uint64("fetch-retries", d.Fetch.Retries, "retries for transient HTTP fetch failures")
	f.Duration("fetch-timeout", d.Fetch.Timeout, "timeout for a single HTTP fetch")
	f.Int64("max-bytes", d.Fetch.MaxBytes, "maximum fetched body size")
	f.String("addr", d.Serve.Addr, "API listen address")
	f.String("metrics-addr", d.Metrics.Addr, "metrics/health HTTP address (empty = disabled)")
}

// loadConfig loads configuration for cmd and installs the default logger.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(config.LoadOptions{Path: configFile, Flags: cmd.Flags()})
	if err != nil {
		return nil, err
	}
	logging.SetDefault("plugbridge", version, logging.Options{
		Format: cfg.Log.Format,
		Level:  cfg.Log.Level,
	})
	return cfg, nil
}
