// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugBridge Contributors

package plugin

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/plugbridge/plugbridge/internal/fetch"
	"github.com/plugbridge/plugbridge/internal/wasm"
)

// State is the lifecycle state of a Manager.
type State int

// Manager states.
const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateFailed
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Manager owns one plugin host and its lifecycle.
type Manager struct {
	cfg    *Config
	source fetch.Source
	loader wasm.Loader
	policy *wasm.ExportPolicy
	tracer trace.Tracer
	logger *slog.Logger

	mu      sync.Mutex
	state   State
	host    wasm.Host
	loadErr error

	// callMu serializes guest calls; neither runtime allows overlapping calls.
	callMu sync.Mutex
}

// ManagerOption configures the Manager.
type ManagerOption func(*Manager)

// WithSource sets the byte source used to fetch the plugin binary.
func WithSource(s fetch.Source) ManagerOption {
	return func(m *Manager) {
		m.source = s
	}
}

// WithLoader sets the runtime loader.
func WithLoader(l wasm.Loader) ManagerOption {
	return func(m *Manager) {
		m.loader = l
	}
}

// WithTracer sets the tracer for load and call spans.
func WithTracer(t trace.Tracer) ManagerOption {
	return func(m *Manager) {
		m.tracer = t
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = l
	}
}

// NewManager creates a manager for cfg. No I/O happens until Initialize.
func NewManager(cfg *Config, opts ...ManagerOption) (*Manager, error) {
	if cfg == nil {
		return nil, oops.In("plugin").Errorf("config is required")
	}
	m := &Manager{cfg: cfg}
	for _, opt := range opts {
		opt(m)
	}
	if m.tracer == nil {
		m.tracer = noop.NewTracerProvider().Tracer("plugbridge/plugin")
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.logger = m.logger.With("plugin", cfg.Name())
	if m.source == nil {
		m.source = fetch.New(fetch.Options{})
	}
	if m.loader == nil {
		m.loader = DefaultLoader(cfg, m.tracer)
	}
	if cfg.EnforceExports() {
		policy, err := wasm.NewExportPolicy(cfg.Functions())
		if err != nil {
			return nil, oops.In("plugin").With("functions", cfg.Functions()).Wrap(err)
		}
		m.policy = policy
	}
	return m, nil
}

// DefaultLoader returns the runtime loader for the config's plugin type.
func DefaultLoader(cfg *Config, tracer trace.Tracer) wasm.Loader {
	rt := cfg.Runtime()
	if cfg.Type() == TypeCore {
		return wasm.NewCoreLoader(tracer, wasm.CoreOptions{
			MemoryLimitPages: rt.MemoryMaxPages,
			Timeout:          rt.Timeout,
		})
	}
	return wasm.NewExtismLoader(tracer, wasm.ExtismOptions{
		EnableWasi:     rt.Wasi,
		AllowedHosts:   rt.AllowedHosts,
		Timeout:        rt.Timeout,
		MemoryMaxPages: rt.MemoryMaxPages,
		Config:         rt.GuestConfig,
	})
}

// Config returns the manager's plugin config.
func (m *Manager) Config() *Config {
	return m.cfg
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsInitialized reports whether the manager is ready for calls.
func (m *Manager) IsInitialized() bool {
	return m.State() == StateReady
}

// LoadError returns the error of the last failed Initialize, if any.
func (m *Manager) LoadError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadErr
}

// Initialize fetches the plugin binary and loads it. It may be called again
// after a failure.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateReady:
		m.mu.Unlock()
		return ErrAlreadyInitialized()
	case StateInitializing, StateDestroyed:
		state := m.state
		m.mu.Unlock()
		return ErrNotInitialized(state)
	}
	m.state = StateInitializing
	m.loadErr = nil
	m.mu.Unlock()

	ctx, span := m.tracer.Start(ctx, "Manager.Initialize",
		trace.WithAttributes(
			attribute.String("plugin.name", m.cfg.Name()),
			attribute.String("plugin.type", string(m.cfg.Type())),
			attribute.String("plugin.source", m.cfg.Source()),
		))
	defer span.End()

	host, err := m.load(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateDestroyed {
		if host != nil {
			_ = host.Close(ctx)
		}
		return ErrNotInitialized(StateDestroyed)
	}
	if err != nil {
		loadErr := ErrLoadFailed(m.cfg.Source(), err)
		m.state = StateFailed
		m.loadErr = loadErr
		span.RecordError(loadErr)
		span.SetStatus(codes.Error, "load failed")
		recordLoad(m.cfg.Type(), LoadFailure)
		m.logger.WarnContext(ctx, "plugin load failed", "source", m.cfg.Source(), "error", err)
		return loadErr
	}

	m.host = host
	m.state = StateReady
	recordLoad(m.cfg.Type(), LoadSuccess)

	for _, fn := range m.cfg.Functions() {
		if !host.FunctionExists(fn) {
			m.logger.WarnContext(ctx, "declared function not exported by plugin", "function", fn)
		}
	}
	m.logger.InfoContext(ctx, "loaded plugin", "type", m.cfg.Type(), "source", m.cfg.Source())
	return nil
}

func (m *Manager) load(ctx context.Context) (wasm.Host, error) {
	bytes, err := m.source.Fetch(ctx, m.cfg.Source())
	if err != nil {
		return nil, err
	}
	return m.loader.Load(ctx, m.cfg.Name(), bytes)
}

// CallFunction invokes an export with a string payload and returns its raw output.
func (m *Manager) CallFunction(ctx context.Context, name, input string) (string, error) {
	m.callMu.Lock()
	defer m.callMu.Unlock()

	m.mu.Lock()
	state, host := m.state, m.host
	m.mu.Unlock()
	if state != StateReady {
		return "", ErrNotInitialized(state)
	}
	if m.policy != nil && !m.policy.Allows(name) {
		return "", ErrExportNotAllowed(name)
	}

	ctx, span := m.tracer.Start(ctx, "Manager.CallFunction",
		trace.WithAttributes(
			attribute.String("plugin.name", m.cfg.Name()),
			attribute.String("plugin.function", name),
		))
	defer span.End()

	out, err := host.Call(ctx, name, []byte(input))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "call failed")
		return "", ErrCallFailed(name, err)
	}
	return string(out), nil
}

// Greet calls the greet export.
func (m *Manager) Greet(ctx context.Context, name string) (string, error) {
	return m.callJSON(ctx, "greet", map[string]any{"name": name})
}

// Calculate calls the calculate export.
func (m *Manager) Calculate(ctx context.Context, operation string, a, b float64) (string, error) {
	return m.callJSON(ctx, "calculate", map[string]any{"operation": operation, "a": a, "b": b})
}

// ProcessText calls the process_text export.
func (m *Manager) ProcessText(ctx context.Context, text string) (string, error) {
	return m.callJSON(ctx, "process_text", map[string]any{"text": text})
}

// ScrapeWebsite calls the scrape_website export. html is sent as
// html_content when non-empty.
func (m *Manager) ScrapeWebsite(ctx context.Context, url, html string) (string, error) {
	payload := map[string]any{"url": url}
	if html != "" {
		payload["html_content"] = html
	}
	return m.callJSON(ctx, "scrape_website", payload)
}

// Add calls the numeric add export of a core plugin.
func (m *Manager) Add(ctx context.Context, a, b int32) (string, error) {
	return m.callJSON(ctx, "add", []int32{a, b})
}

func (m *Manager) callJSON(ctx context.Context, function string, payload any) (string, error) {
	input, err := json.Marshal(payload)
	if err != nil {
		return "", oops.In("plugin").With("function", function).Wrapf(err, "encode input")
	}
	return m.CallFunction(ctx, function, string(input))
}

// Destroy releases the host. It is safe to call more than once.
func (m *Manager) Destroy(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateDestroyed {
		m.mu.Unlock()
		return nil
	}
	m.state = StateDestroyed
	host := m.host
	m.host = nil
	m.mu.Unlock()

	if host == nil {
		return nil
	}

	// Wait for an in-flight call before closing the runtime under it.
	m.callMu.Lock()
	defer m.callMu.Unlock()
	if err := host.Close(ctx); err != nil {
		return oops.In("plugin").Wrapf(err, "close host")
	}
	m.logger.DebugContext(ctx, "plugin destroyed")
	return nil
}
