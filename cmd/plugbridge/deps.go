// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugBridge Contributors

package main

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/plugbridge/plugbridge/internal/api"
	"github.com/plugbridge/plugbridge/internal/bridge"
	"github.com/plugbridge/plugbridge/internal/config"
	"github.com/plugbridge/plugbridge/internal/observability"
)

// CallerFactory builds the plugin caller described by cfg.
type CallerFactory func(ctx context.Context, cfg *config.Config) (bridge.Caller, error)

// Deps contains injectable dependencies for the commands.
// All fields with nil values will use their default implementations.
type Deps struct {
	// CallerFactory creates the plugin caller.
	// Default: newCaller
	CallerFactory CallerFactory

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, readinessChecker observability.ReadinessChecker, opts ...observability.Option) ObservabilityServer

	// APIServerFactory creates the plugin API server.
	// Default: api.NewServer
	APIServerFactory func(addr string, caller bridge.Caller, metrics *observability.Metrics) APIServer

	// HTTPClient queries a running server.
	// Default: a client with a 2 second timeout
	HTTPClient *http.Client
}

func (d *Deps) withDefaults() *Deps {
	out := Deps{}
	if d != nil {
		out = *d
	}
	if out.CallerFactory == nil {
		out.CallerFactory = newCaller
	}
	if out.ObservabilityServerFactory == nil {
		out.ObservabilityServerFactory = func(addr string, readinessChecker observability.ReadinessChecker, opts ...observability.Option) ObservabilityServer {
			return observability.NewServer(addr, readinessChecker, opts...)
		}
	}
	if out.APIServerFactory == nil {
		out.APIServerFactory = func(addr string, caller bridge.Caller, metrics *observability.Metrics) APIServer {
			var opts []api.Option
			if metrics != nil {
				opts = append(opts, api.WithMetrics(metrics))
			}
			return api.NewServer(addr, caller, opts...)
		}
	}
	if out.HTTPClient == nil {
		out.HTTPClient = &http.Client{Timeout: 2 * time.Second}
	}
	return &out
}

// ObservabilityServer interface wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
	Registry() prometheus.Registerer
}

// APIServer interface wraps the methods used from api.Server.
type APIServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}
