// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugBridge Contributors

// Package observability serves Prometheus metrics and health probes for a
// plugin bridge process.
package observability

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/oops"
)

// ReadinessChecker returns whether the plugin is ready to serve calls.
type ReadinessChecker func() bool

// Metrics are the API-facing metrics owned by the server registry.
type Metrics struct {
	APIRequests *prometheus.CounterVec
	BuildInfo   *prometheus.GaugeVec
}

// NewMetrics creates the API metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		APIRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "plugbridge_api_requests_total",
			Help: "Total number of API requests by route and HTTP status",
		}, []string{"route", "code"}),
		BuildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "plugbridge_build_info",
			Help: "Build information; always 1",
		}, []string{"version"}),
	}
	reg.MustRegister(m.APIRequests, m.BuildInfo)
	return m
}

// Option configures a Server.
type Option func(*Server)

// WithReadinessDetail adds detail to the readiness body when not ready,
// usually the plugin load error.
func WithReadinessDetail(detail func() string) Option {
	return func(s *Server) {
		s.detail = detail
	}
}

// WithBuildInfo exports version on plugbridge_build_info.
func WithBuildInfo(version string) Option {
	return func(s *Server) {
		s.version = version
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// Server serves /metrics and the /healthz probes.
type Server struct {
	addr     string
	isReady  ReadinessChecker
	detail   func() string
	version  string
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *Metrics

	listener   net.Listener
	httpServer *http.Server
	running    atomic.Bool
}

// NewServer creates an observability server with its own registry holding
// the Go runtime and process collectors.
// addr: listen address in "host:port" format (e.g., "127.0.0.1:9100").
// A nil readinessChecker reports ready.
func NewServer(addr string, readinessChecker ReadinessChecker, opts ...Option) *Server {
	s := &Server{
		addr:     addr,
		isReady:  readinessChecker,
		registry: prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.metrics = NewMetrics(s.registry)
	if s.version != "" {
		s.metrics.BuildInfo.WithLabelValues(s.version).Set(1)
	}
	return s
}

// Metrics returns the API metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Registry returns the registry served on /metrics.
func (s *Server) Registry() prometheus.Registerer {
	return s.registry
}

// Handler returns the observability routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("GET /healthz/liveness", s.handleLiveness)
	mux.HandleFunc("GET /healthz/readiness", s.handleReadiness)
	return mux
}

// Start begins serving. The returned channel receives a serve error, and is
// closed when the server stops.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Errorf("observability server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.With("addr", s.addr).Wrap(err)
	}
	s.listener = listener

	httpSrv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.logger.Error("observability server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	s.logger.Info("observability server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop gracefully shuts down the server. It is safe to call more than once.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.running.Store(true)
			return oops.With("operation", "shutdown_observability_server").Wrap(err)
		}
	}
	s.logger.Info("observability server stopped")
	return nil
}

// Addr returns the listening address, or "" when not started.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusOK, "ok")
}

func (s *Server) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	if s.isReady == nil || s.isReady() {
		writeText(w, http.StatusOK, "ok")
		return
	}
	body := "not ready"
	if s.detail != nil {
		if d := s.detail(); d != "" {
			body += ": " + d
		}
	}
	writeText(w, http.StatusServiceUnavailable, body)
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	//nolint:errcheck // probe write error is acceptable, client may disconnect
	w.Write([]byte(body + "\n"))
}
