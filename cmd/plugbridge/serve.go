// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugBridge Contributors

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/plugbridge/plugbridge/internal/bridge"
	"github.com/plugbridge/plugbridge/internal/config"
	"github.com/plugbridge/plugbridge/internal/observability"
	"github.com/plugbridge/plugbridge/internal/plugin"
	"github.com/plugbridge/plugbridge/internal/worker"
)

// shutdownTimeout bounds graceful shutdown of the servers.
const shutdownTimeout = 5 * time.Second

// newServeCmd creates the serve subcommand.
func newServeCmd(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the plugin API over HTTP",
		Long: `Load the configured plugin and serve calls to it over a JSON HTTP API.
Metrics and health probes are served on a separate address.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServeWithDeps(cmd.Context(), cfg, cmd, deps)
		},
	}
}

// runServeWithDeps starts the API with injectable dependencies.
func runServeWithDeps(ctx context.Context, cfg *config.Config, cmd *cobra.Command, deps *Deps) error {
	deps = deps.withDefaults()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	caller, err := deps.CallerFactory(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := caller.Close(); closeErr != nil {
			slog.Warn("error closing plugin caller", "error", closeErr)
		}
	}()

	slog.Info("starting plugin bridge",
		"mode", cfg.Bridge.Mode,
		"api_addr", cfg.Serve.Addr,
	)
	go logReadiness(ctx, caller)

	// Start observability server if configured
	var obsServer ObservabilityServer
	var metrics *observability.Metrics
	if cfg.Metrics.Addr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Metrics.Addr,
			func() bool { return caller.Status().IsReady },
			observability.WithReadinessDetail(func() string { return caller.Status().Error }),
			observability.WithBuildInfo(version),
		)
		reg := obsServer.Registry()
		bridge.RegisterMetrics(reg)
		plugin.RegisterMetrics(reg)
		worker.RegisterMetrics(reg)
		metrics = obsServer.Metrics()

		obsErrChan, err := obsServer.Start()
		if err != nil {
			return fmt.Errorf("failed to start observability server: %w", err)
		}
		// Monitor observability server errors - cancel context on error
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
		slog.Info("observability server started", "addr", obsServer.Addr())
	}

	apiServer := deps.APIServerFactory(cfg.Serve.Addr, caller, metrics)
	apiErrChan, err := apiServer.Start()
	if err != nil {
		if obsServer != nil {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer shutdownCancel()
			if stopErr := obsServer.Stop(shutdownCtx); stopErr != nil {
				slog.Warn("failed to stop observability server during cleanup", "error", stopErr)
			}
		}
		return fmt.Errorf("failed to start api server: %w", err)
	}
	go monitorServerErrors(ctx, cancel, apiErrChan, "api")

	// Handle signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Printf("Serving plugin API on %s\n", apiServer.Addr())

	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		slog.Info("context cancelled, shutting down")
	}

	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := apiServer.Stop(shutdownCtx); err != nil {
		slog.Warn("error stopping api server", "error", err)
	}
	if obsServer != nil {
		if err := obsServer.Stop(shutdownCtx); err != nil {
			slog.Warn("error stopping observability server", "error", err)
		}
	}

	slog.Info("shutdown complete")
	return nil
}

// logReadiness logs the outcome of plugin loading.
func logReadiness(ctx context.Context, caller bridge.Caller) {
	if err := caller.WaitReady(ctx); err != nil {
		if ctx.Err() == nil {
			slog.Error("plugin failed to load", "error", err)
		}
		return
	}
	slog.Info("plugin ready")
}

// monitorServerErrors monitors a server's error channel and cancels the context on error.
// It exits when either an error is received, the channel is closed, or the context is cancelled.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			// Channel closed, server stopped gracefully
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
