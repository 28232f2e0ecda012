// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugBridge Contributors

// Package api exposes a plugin caller as a JSON-over-HTTP service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/samber/oops"

	"github.com/plugbridge/plugbridge/internal/bridge"
	"github.com/plugbridge/plugbridge/internal/observability"
	"github.com/plugbridge/plugbridge/internal/plugin"
	"github.com/plugbridge/plugbridge/pkg/errutil"
)

// CodeBadRequest marks a request body that could not be decoded.
const CodeBadRequest = "BAD_REQUEST"

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// ResultResponse is returned by successful calls.
type ResultResponse struct {
	Result string `json:"result"`
}

// ErrorResponse is returned by failed calls.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Request bodies.
type (
	GreetRequest struct {
		Name string `json:"name"`
	}
	CalculateRequest struct {
		Operation string  `json:"operation"`
		A         float64 `json:"a"`
		B         float64 `json:"b"`
	}
	ProcessTextRequest struct {
		Text string `json:"text"`
	}
	ScrapeRequest struct {
		URL string `json:"url"`
	}
	AddRequest struct {
		A int32 `json:"a"`
		B int32 `json:"b"`
	}
	CallRequest struct {
		Input string `json:"input"`
	}
)

// Server serves the plugin API over HTTP.
type Server struct {
	addr       string
	caller     bridge.Caller
	metrics    *observability.Metrics
	logger     *slog.Logger
	listener   net.Listener
	httpServer *http.Server
	running    atomic.Bool
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics counts requests on m.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// NewServer creates an API server for caller.
// addr: listen address in "host:port" format.
func NewServer(addr string, caller bridge.Caller, opts ...Option) *Server {
	s := &Server{addr: addr, caller: caller}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/greet", s.handleGreet)
	mux.HandleFunc("POST /api/calculate", s.handleCalculate)
	mux.HandleFunc("POST /api/process-text", s.handleProcessText)
	mux.HandleFunc("POST /api/scrape", s.handleScrape)
	mux.HandleFunc("POST /api/add", s.handleAdd)
	mux.HandleFunc("POST /api/call/{function}", s.handleCall)
	return mux
}

// Start begins serving. The returned channel receives a serve error, and is
// closed when the server stops.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Errorf("api server already running")
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
			s.logger.Error("api server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	s.logger.Info("api server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.running.Store(true)
			return oops.With("operation", "shutdown_api_server").Wrap(err)
		}
	}
	s.logger.Info("api server stopped")
	return nil
}

// Addr returns the listening address, or "" when not running.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.write(w, "status", http.StatusOK, s.caller.Status())
}

func (s *Server) handleGreet(w http.ResponseWriter, r *http.Request) {
	var req GreetRequest
	if !s.decode(w, r, "greet", &req) {
		return
	}
	s.respond(w, r, "greet", func(ctx context.Context) (string, error) {
		return s.caller.Greet(ctx, req.Name)
	})
}

func (s *Server) handleCalculate(w http.ResponseWriter, r *http.Request) {
	var req CalculateRequest
	if !s.decode(w, r, "calculate", &req) {
		return
	}
	s.respond(w, r, "calculate", func(ctx context.Context) (string, error) {
		return s.caller.Calculate(ctx, req.Operation, req.A, req.B)
	})
}

func (s *Server) handleProcessText(w http.ResponseWriter, r *http.Request) {
	var req ProcessTextRequest
	if !s.decode(w, r, "process-text", &req) {
		return
	}
	s.respond(w, r, "process-text", func(ctx context.Context) (string, error) {
		return s.caller.ProcessText(ctx, req.Text)
	})
}

func (s *Server) handleScrape(w http.ResponseWriter, r *http.Request) {
	var req ScrapeRequest
	if !s.decode(w, r, "scrape", &req) {
		return
	}
	if req.URL == "" {
		s.write(w, "scrape", http.StatusBadRequest, ErrorResponse{Error: "url is required", Code: CodeBadRequest})
		return
	}
	s.respond(w, r, "scrape", func(ctx context.Context) (string, error) {
		return s.caller.ScrapeWebsite(ctx, req.URL)
	})
}

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	var req AddRequest
	if !s.decode(w, r, "add", &req) {
		return
	}
	s.respond(w, r, "add", func(ctx context.Context) (string, error) {
		return s.caller.Add(ctx, req.A, req.B)
	})
}

func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	var req CallRequest
	if !s.decode(w, r, "call", &req) {
		return
	}
	function := r.PathValue("function")
	s.respond(w, r, "call", func(ctx context.Context) (string, error) {
		return s.caller.CallFunction(ctx, function, req.Input)
	})
}

// decode reads a JSON body into v; on failure it answers 400 and returns false.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, route string, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.write(w, route, http.StatusBadRequest, ErrorResponse{
			Error: fmt.Sprintf("invalid request body: %v", err),
			Code:  CodeBadRequest,
		})
		return false
	}
	return true
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request, route string, call func(context.Context) (string, error)) {
	result, err := call(r.Context())
	if err != nil {
		status := StatusFor(err)
		if status >= http.StatusInternalServerError {
			errutil.LogError(r.Context(), s.logger, "plugin call failed", err)
		}
		s.write(w, route, status, ErrorResponse{Error: err.Error(), Code: errutil.Code(err)})
		return
	}
	s.write(w, route, http.StatusOK, ResultResponse{Result: result})
}

func (s *Server) write(w http.ResponseWriter, route string, status int, v any) {
	if s.metrics != nil {
		s.metrics.APIRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	}
	if err := writeJSON(w, status, v); err != nil {
		s.logger.Error("failed to write response", "route", route, "error", err)
	}
}

// StatusFor maps a call error to an HTTP status.
func StatusFor(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	switch errutil.Code(err) {
	case bridge.CodeNotReady, bridge.CodeNotInitialized, bridge.CodeBridgeClosed, bridge.CodeWorkerExited:
		return http.StatusServiceUnavailable
	case bridge.CodeCallFailed, plugin.CodeExportNotAllowed:
		return http.StatusUnprocessableEntity
	case bridge.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		return fmt.Errorf("failed to encode JSON response: %w", err)
	}
	return nil
}
