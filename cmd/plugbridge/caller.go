// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugBridge Contributors

package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/plugbridge/plugbridge/internal/bridge"
	"github.com/plugbridge/plugbridge/internal/config"
	"github.com/plugbridge/plugbridge/internal/fetch"
	"github.com/plugbridge/plugbridge/internal/plugin"
	"github.com/plugbridge/plugbridge/internal/worker"
)

// newCaller builds a worker bridge or a direct caller according to
// cfg.Bridge.Mode. Loading starts immediately in the background.
func newCaller(ctx context.Context, cfg *config.Config) (bridge.Caller, error) {
	settings, err := cfg.PluginSettings()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve plugin: %w", err)
	}

	logger := slog.Default()
	src := fetch.New(cfg.FetchOptions())
	newManager := func(context.Context) (*plugin.Manager, error) {
		return plugin.NewManager(settings,
			plugin.WithSource(src),
			plugin.WithLogger(logger),
		)
	}

	if cfg.Bridge.Mode == config.ModeDirect {
		m, err := newManager(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create plugin manager: %w", err)
		}
		return bridge.NewDirect(ctx, m,
			bridge.WithDirectFetchSource(src),
			bridge.WithDirectLogger(logger),
		), nil
	}

	return bridge.New(ctx, newManager,
		bridge.WithCallTimeout(cfg.Bridge.CallTimeout),
		bridge.WithLogger(logger),
		bridge.WithWorkerOptions(worker.WithFetchSource(src)),
	), nil
}

// waitReady waits up to cfg.Bridge.ReadyTimeout for caller to load.
func waitReady(ctx context.Context, cfg *config.Config, caller bridge.Caller) error {
	if cfg.Bridge.ReadyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Bridge.ReadyTimeout)
		defer cancel()
	}
	if err := caller.WaitReady(ctx); err != nil {
		return fmt.Errorf("plugin not ready: %w", err)
	}
	return nil
}
