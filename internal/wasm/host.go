// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugBridge Contributors

// Package wasm provides the WASM plugin hosts.
//
// Two runtimes are supported. ExtismLoader hosts Extism plugins, whose exports
// take and return bytes. CoreLoader hosts plain modules on wazero and adapts
// their numeric exports to the same bytes-in, bytes-out contract: the input
// is a JSON array of numbers and the output is a JSON array of results.
package wasm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/samber/oops"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Host is a loaded plugin instance.
//
// Hosts are not safe for overlapping calls; callers serialize Call.
type Host interface {
	// Call invokes an exported function with input bytes and returns its output.
	Call(ctx context.Context, function string, input []byte) ([]byte, error)

	// FunctionExists reports whether the plugin exports function.
	FunctionExists(function string) bool

	// Close releases the plugin. Calling Close more than once is a no-op.
	Close(ctx context.Context) error
}

// Loader constructs a Host from a WASM binary.
type Loader interface {
	Load(ctx context.Context, name string, wasm []byte) (Host, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, name string, wasm []byte) (Host, error)

// Load implements Loader.
func (f LoaderFunc) Load(ctx context.Context, name string, wasm []byte) (Host, error) {
	return f(ctx, name, wasm)
}

// DefaultMemoryLimitPages caps guest memory at 64MiB.
const DefaultMemoryLimitPages = 1024

// CoreOptions configures CoreLoader.
type CoreOptions struct {
	// MemoryLimitPages is the maximum number of 64KiB pages. Zero means
	// DefaultMemoryLimitPages.
	MemoryLimitPages uint32
	// Timeout bounds a single call. Zero means no bound beyond ctx.
	Timeout time.Duration
}

// CoreLoader loads plain WebAssembly modules on wazero.
type CoreLoader struct {
	tracer trace.Tracer
	opts   CoreOptions
}

// Compile-time interface checks.
var (
	_ Loader = (*CoreLoader)(nil)
	_ Host   = (*coreHost)(nil)
)

// NewCoreLoader creates a loader for plain modules.
func NewCoreLoader(tracer trace.Tracer, opts CoreOptions) *CoreLoader {
	if opts.MemoryLimitPages == 0 {
		opts.MemoryLimitPages = DefaultMemoryLimitPages
	}
	return &CoreLoader{tracer: tracer, opts: opts}
}

// Load compiles and instantiates a module in its own runtime.
func (l *CoreLoader) Load(ctx context.Context, name string, wasm []byte) (Host, error) {
	ctx, span := l.tracer.Start(ctx, "CoreLoader.Load",
		trace.WithAttributes(attribute.String("plugin.name", name)))
	defer span.End()

	rtCfg := wazero.NewRuntimeConfig().
		WithCloseOnContextDone(true).
		WithMemoryLimitPages(l.opts.MemoryLimitPages)
	rt := wazero.NewRuntimeWithConfig(ctx, rtCfg)

	// AssemblyScript output imports env.abort; a call to it traps the guest.
	_, err := rt.NewHostModuleBuilder("env").
		NewFunctionBuilder().
		WithFunc(func(_ context.Context, _ api.Module, msg, file, line, col uint32) {
			panic(fmt.Sprintf("guest abort at %d:%d", line, col))
		}).
		Export("abort").
		Instantiate(ctx)
	if err != nil {
		_ = rt.Close(ctx)
		span.RecordError(err)
		return nil, oops.In("wasm").With("plugin", name).Wrapf(err, "instantiate env module")
	}

	mod, err := rt.InstantiateWithConfig(ctx, wasm, wazero.NewModuleConfig().WithName(name))
	if err != nil {
		_ = rt.Close(ctx)
		span.RecordError(err)
		slog.ErrorContext(ctx, "failed to instantiate WASM plugin",
			"plugin", name,
			"error", err,
		)
		return nil, oops.In("wasm").With("plugin", name).Wrapf(err, "failed to instantiate %s", name)
	}

	slog.DebugContext(ctx, "loaded core WASM plugin", "plugin", name, "wasm_size", len(wasm))
	return &coreHost{
		name:    name,
		runtime: rt,
		module:  mod,
		timeout: l.opts.Timeout,
	}, nil
}

// coreHost runs one module instance.
type coreHost struct {
	mu      sync.Mutex
	name    string
	runtime wazero.Runtime
	module  api.Module
	timeout time.Duration
	closed  bool
}

// Call decodes input as a JSON array of numbers, calls the export and encodes
// its results as a JSON array.
func (h *coreHost) Call(ctx context.Context, function string, input []byte) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHostClosed
	}

	fn := h.module.ExportedFunction(function)
	if fn == nil {
		return nil, oops.In("wasm").With("plugin", h.name).With("function", function).
			Errorf("function %s not found in %s", function, h.name)
	}

	def := fn.Definition()
	params, err := encodeParams(def.ParamTypes(), input)
	if err != nil {
		return nil, oops.In("wasm").With("plugin", h.name).With("function", function).Wrap(err)
	}

	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	results, err := fn.Call(ctx, params...)
	if err != nil {
		return nil, oops.In("wasm").With("plugin", h.name).With("function", function).Wrapf(err, "call %s", function)
	}

	out, err := json.Marshal(decodeResults(def.ResultTypes(), results))
	if err != nil {
		return nil, oops.In("wasm").With("function", function).Wrapf(err, "encode results")
	}
	return out, nil
}

// FunctionExists implements Host.
func (h *coreHost) FunctionExists(function string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	return h.module.ExportedFunction(function) != nil
}

// Close shuts down the runtime and its module.
func (h *coreHost) Close(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true
	if err := h.runtime.Close(ctx); err != nil {
		return oops.In("wasm").With("plugin", h.name).Wrapf(err, "close runtime")
	}
	return nil
}

func encodeParams(types []api.ValueType, input []byte) ([]uint64, error) {
	var args []json.Number
	if len(bytes.TrimSpace(input)) > 0 {
		dec := json.NewDecoder(bytes.NewReader(input))
		dec.UseNumber()
		if err := dec.Decode(&args); err != nil {
			return nil, fmt.Errorf("input must be a JSON array of numbers: %w", err)
		}
	}
	if len(args) != len(types) {
		return nil, fmt.Errorf("expected %d arguments, got %d", len(types), len(args))
	}

	params := make([]uint64, len(types))
	for i, t := range types {
		v, err := encodeValue(t, args[i])
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		params[i] = v
	}
	return params, nil
}

func encodeValue(t api.ValueType, n json.Number) (uint64, error) {
	switch t {
	case api.ValueTypeI32:
		v, err := n.Int64()
		if err != nil {
			return 0, err
		}
		if v < math.MinInt32 || v > math.MaxUint32 {
			return 0, fmt.Errorf("%s overflows i32", n)
		}
		return api.EncodeI32(int32(v)), nil //nolint:gosec // range checked above, u32 wraps intentionally
	case api.ValueTypeI64:
		v, err := n.Int64()
		if err != nil {
			return 0, err
		}
		return api.EncodeI64(v), nil
	case api.ValueTypeF32:
		v, err := n.Float64()
		if err != nil {
			return 0, err
		}
		return api.EncodeF32(float32(v)), nil
	case api.ValueTypeF64:
		v, err := n.Float64()
		if err != nil {
			return 0, err
		}
		return api.EncodeF64(v), nil
	default:
		return 0, fmt.Errorf("unsupported parameter type %s", api.ValueTypeName(t))
	}
}

func decodeResults(types []api.ValueType, results []uint64) []any {
	out := make([]any, len(results))
	for i, r := range results {
		switch types[i] {
		case api.ValueTypeI32:
			out[i] = api.DecodeI32(r)
		case api.ValueTypeI64:
			out[i] = int64(r) //nolint:gosec // i64 results are two's complement
		case api.ValueTypeF32:
			out[i] = api.DecodeF32(r)
		case api.ValueTypeF64:
			out[i] = api.DecodeF64(r)
		default:
			out[i] = r
		}
	}
	return out
}
