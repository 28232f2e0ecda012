// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugBridge Contributors

package wasm

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	extism "github.com/extism/go-sdk"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrHostClosed is returned when a call reaches a host after Close.
var ErrHostClosed = errors.New("host is closed")

// ExtismOptions configures ExtismLoader.
type ExtismOptions struct {
	// EnableWasi links WASI preview1 into the plugin.
	EnableWasi bool
	// AllowedHosts lists host globs the guest may reach over HTTP.
	AllowedHosts []string
	// Timeout bounds a single call. Zero means no bound beyond ctx.
	Timeout time.Duration
	// MemoryMaxPages caps guest memory. Zero leaves the runtime default.
	MemoryMaxPages uint32
	// Config is exposed to the guest through the Extism config API.
	Config map[string]string
}

// ExtismLoader loads Extism plugins with OpenTelemetry tracing.
type ExtismLoader struct {
	tracer trace.Tracer
	opts   ExtismOptions
}

// Compile-time interface checks.
var (
	_ Loader = (*ExtismLoader)(nil)
	_ Host   = (*extismHost)(nil)
)

// NewExtismLoader creates a loader for Extism plugins.
func NewExtismLoader(tracer trace.Tracer, opts ExtismOptions) *ExtismLoader {
	return &ExtismLoader{tracer: tracer, opts: opts}
}

// Load creates an Extism plugin from a WASM binary.
func (l *ExtismLoader) Load(ctx context.Context, name string, wasmBytes []byte) (Host, error) {
	ctx, span := l.tracer.Start(ctx, "ExtismLoader.Load",
		trace.WithAttributes(attribute.String("plugin.name", name)))
	defer span.End()

	manifest := extism.Manifest{
		Wasm: []extism.Wasm{
			extism.WasmData{Data: wasmBytes, Name: name},
		},
		AllowedHosts: l.opts.AllowedHosts,
		Config:       l.opts.Config,
	}
	if l.opts.Timeout > 0 {
		manifest.Timeout = uint64(l.opts.Timeout.Milliseconds()) //nolint:gosec // positive duration
	}
	if l.opts.MemoryMaxPages > 0 {
		manifest.Memory = &extism.ManifestMemory{MaxPages: l.opts.MemoryMaxPages}
	}

	config := extism.PluginConfig{
		EnableWasi: l.opts.EnableWasi,
	}

	p, err := extism.NewPlugin(ctx, manifest, config, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create plugin")
		return nil, oops.In("wasm").With("plugin", name).Wrapf(err, "failed to create plugin %s", name)
	}

	slog.InfoContext(ctx, "plugin loaded", "name", name, "wasm_size", len(wasmBytes))
	return &extismHost{
		name:   name,
		plugin: p,
		tracer: l.tracer,
	}, nil
}

// extismHost holds one Extism plugin instance.
type extismHost struct {
	mu     sync.Mutex
	name   string
	plugin *extism.Plugin
	tracer trace.Tracer
	closed bool
}

// Call invokes an export. Extism plugins are not safe for concurrent calls,
// so the mutex is held for the duration of the call.
func (h *extismHost) Call(ctx context.Context, function string, input []byte) ([]byte, error) {
	ctx, span := h.tracer.Start(ctx, "ExtismHost.Call",
		trace.WithAttributes(
			attribute.String("plugin.name", h.name),
			attribute.String("plugin.function", function),
			attribute.Int("input.size", len(input)),
		))
	defer span.End()

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		span.RecordError(ErrHostClosed)
		return nil, ErrHostClosed
	}

	if !h.plugin.FunctionExists(function) {
		err := oops.In("wasm").With("plugin", h.name).With("function", function).
			Errorf("function %s not found in %s", function, h.name)
		span.RecordError(err)
		return nil, err
	}

	exit, output, err := h.plugin.CallWithContext(ctx, function, input)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "plugin call failed")
		return nil, oops.In("wasm").
			With("plugin", h.name).
			With("function", function).
			With("exit_code", exit).
			Wrapf(err, "plugin call failed")
	}

	span.SetAttributes(attribute.Int("output.size", len(output)))
	return output, nil
}

// FunctionExists implements Host.
func (h *extismHost) FunctionExists(function string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	return h.plugin.FunctionExists(function)
}

// Close releases the plugin.
func (h *extismHost) Close(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true
	if err := h.plugin.Close(ctx); err != nil {
		slog.WarnContext(ctx, "failed to close plugin", "plugin", h.name, "error", err)
		return oops.In("wasm").With("plugin", h.name).Wrapf(err, "close plugin")
	}
	return nil
}
