// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugBridge Contributors

package plugin_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plugbridge/plugbridge/internal/fetch"
	"github.com/plugbridge/plugbridge/internal/plugin"
	"github.com/plugbridge/plugbridge/internal/wasm/wasmtest"
	"github.com/plugbridge/plugbridge/pkg/errutil"
)

func newFakeManager(t *testing.T, host *wasmtest.Host, opts ...plugin.ConfigOption) *plugin.Manager {
	t.Helper()
	cfg := plugin.NewConfig("demo.wasm", []string{"greet", "calculate", "process_text", "scrape_website"}, opts...)
	m, err := plugin.NewManager(cfg,
		plugin.WithSource(&wasmtest.Source{Data: []byte("wasm")}),
		plugin.WithLoader(wasmtest.NewLoader(host)),
	)
	require.NoError(t, err)
	return m
}

func readyManager(t *testing.T, host *wasmtest.Host, opts ...plugin.ConfigOption) *plugin.Manager {
	t.Helper()
	m := newFakeManager(t, host, opts...)
	require.NoError(t, m.Initialize(context.Background()))
	t.Cleanup(func() { _ = m.Destroy(context.Background()) })
	return m
}

func TestNewManager_RequiresConfig(t *testing.T) {
	_, err := plugin.NewManager(nil)
	require.Error(t, err)
}

func TestManager_InitializeAndGreet(t *testing.T) {
	m := readyManager(t, wasmtest.NewHost())

	assert.Equal(t, plugin.StateReady, m.State())
	assert.True(t, m.IsInitialized())

	out, err := m.Greet(context.Background(), "Alice")
	require.NoError(t, err)
	assert.Equal(t, "Hello, Alice! Welcome to Extism!", out)
}

func TestManager_Calculate(t *testing.T) {
	m := readyManager(t, wasmtest.NewHost())
	ctx := context.Background()

	tests := []struct {
		op   string
		a, b float64
		want string
	}{
		{op: "add", a: 10, b: 5, want: `{"result":15,"operation":"add","a":10,"b":5}`},
		{op: "subtract", a: 10, b: 5, want: `{"result":5,"operation":"subtract","a":10,"b":5}`},
		{op: "multiply", a: 10, b: 5, want: `{"result":50,"operation":"multiply","a":10,"b":5}`},
		{op: "divide", a: 10, b: 5, want: `{"result":2,"operation":"divide","a":10,"b":5}`},
	}
	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			out, err := m.Calculate(ctx, tt.op, tt.a, tt.b)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, out)
		})
	}
}

func TestManager_DivideByZeroIsCallFault(t *testing.T) {
	m := readyManager(t, wasmtest.NewHost())

	_, err := m.Calculate(context.Background(), "divide", 1, 0)
	errutil.AssertErrorCode(t, err, plugin.CodeCallFailed)
	errutil.AssertErrorContext(t, err, "function", "calculate")
	assert.Contains(t, err.Error(), "Division by zero")
	assert.True(t, m.IsInitialized(), "call faults must not change readiness")
}

func TestManager_ProcessTextAndScrape(t *testing.T) {
	m := readyManager(t, wasmtest.NewHost())
	ctx := context.Background()

	out, err := m.ProcessText(ctx, "abc")
	require.NoError(t, err)
	assert.JSONEq(t, `{"original":"abc","processed":"CBA","length":3}`, out)

	out, err = m.ScrapeWebsite(ctx, "https://example.com", "<html><title> Example </title></html>")
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true,"url":"https://example.com","title":"Example","content_length":37}`, out)

	out, err = m.ScrapeWebsite(ctx, "https://example.com", "")
	require.NoError(t, err)
	assert.Contains(t, out, "No title found")
}

func TestManager_CallsBeforeInitialize(t *testing.T) {
	host := wasmtest.NewHost()
	m := newFakeManager(t, host)

	_, err := m.Greet(context.Background(), "x")
	errutil.AssertErrorCode(t, err, plugin.CodeNotInitialized)
	assert.Empty(t, host.Calls())
}

func TestManager_InitializeTwice(t *testing.T) {
	m := readyManager(t, wasmtest.NewHost())

	err := m.Initialize(context.Background())
	errutil.AssertErrorCode(t, err, plugin.CodeAlreadyInitialized)
	assert.Equal(t, plugin.StateReady, m.State())
}

func TestManager_LoadFailureFromHTTP404(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if fail.Load() {
			http.NotFound(w, nil)
			return
		}
		_, _ = w.Write([]byte("wasm"))
	}))
	t.Cleanup(srv.Close)

	loader := wasmtest.NewLoader(wasmtest.NewHost())
	m, err := plugin.NewManager(plugin.NewConfig(srv.URL+"/plugin.wasm", nil),
		plugin.WithSource(fetch.New(fetch.Options{})),
		plugin.WithLoader(loader),
	)
	require.NoError(t, err)

	before := testutil.ToFloat64(plugin.PluginLoads.WithLabelValues("extism", plugin.LoadFailure))
	err = m.Initialize(context.Background())
	errutil.AssertErrorCode(t, err, plugin.CodeLoadFailed)
	assert.Contains(t, err.Error(), "404")
	assert.Equal(t, plugin.StateFailed, m.State())
	assert.Equal(t, err, m.LoadError())
	assert.Equal(t, 0, loader.Loads())
	assert.InDelta(t, before+1, testutil.ToFloat64(plugin.PluginLoads.WithLabelValues("extism", plugin.LoadFailure)), 0)

	_, err = m.Greet(context.Background(), "x")
	errutil.AssertErrorCode(t, err, plugin.CodeNotInitialized)

	fail.Store(false)
	require.NoError(t, m.Initialize(context.Background()))
	assert.True(t, m.IsInitialized())
	assert.NoError(t, m.LoadError())
	require.NoError(t, m.Destroy(context.Background()))
}

func TestManager_LoaderFailure(t *testing.T) {
	m, err := plugin.NewManager(plugin.NewConfig("p.wasm", nil),
		plugin.WithSource(&wasmtest.Source{Data: []byte("not wasm")}),
		plugin.WithLoader(wasmtest.NewFailingLoader(errors.New("bad magic number"))),
	)
	require.NoError(t, err)

	err = m.Initialize(context.Background())
	errutil.AssertErrorCode(t, err, plugin.CodeLoadFailed)
	errutil.AssertErrorContext(t, err, "source", "p.wasm")
	assert.Contains(t, err.Error(), "bad magic number")
}

func TestManager_DestroyIsIdempotent(t *testing.T) {
	host := wasmtest.NewHost()
	m := newFakeManager(t, host)
	ctx := context.Background()
	require.NoError(t, m.Initialize(ctx))

	require.NoError(t, m.Destroy(ctx))
	require.NoError(t, m.Destroy(ctx))
	assert.Equal(t, 1, host.Closed())
	assert.Equal(t, plugin.StateDestroyed, m.State())

	_, err := m.Greet(ctx, "x")
	errutil.AssertErrorCode(t, err, plugin.CodeNotInitialized)

	err = m.Initialize(ctx)
	errutil.AssertErrorCode(t, err, plugin.CodeNotInitialized)
}

func TestManager_DestroyBeforeInitialize(t *testing.T) {
	m := newFakeManager(t, wasmtest.NewHost())
	require.NoError(t, m.Destroy(context.Background()))
	assert.Equal(t, plugin.StateDestroyed, m.State())
}

func TestManager_EnforcedExports(t *testing.T) {
	host := wasmtest.NewHost()
	cfg := plugin.NewConfig("p.wasm", []string{"greet", "process_*"}, plugin.WithEnforceExports(true))
	m, err := plugin.NewManager(cfg,
		plugin.WithSource(&wasmtest.Source{Data: []byte("wasm")}),
		plugin.WithLoader(wasmtest.NewLoader(host)),
	)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, m.Initialize(ctx))
	t.Cleanup(func() { _ = m.Destroy(ctx) })

	_, err = m.Calculate(ctx, "add", 1, 2)
	errutil.AssertErrorCode(t, err, plugin.CodeExportNotAllowed)

	_, err = m.ProcessText(ctx, "ok")
	require.NoError(t, err)
	assert.Equal(t, []string{"process_text"}, host.Calls())
}

func TestManager_EnforcedExportsOutsideReadyState(t *testing.T) {
	host := wasmtest.NewHost()
	cfg := plugin.NewConfig("p.wasm", []string{"greet"}, plugin.WithEnforceExports(true))
	m, err := plugin.NewManager(cfg,
		plugin.WithSource(&wasmtest.Source{Data: []byte("wasm")}),
		plugin.WithLoader(wasmtest.NewLoader(host)),
	)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = m.Calculate(ctx, "add", 1, 2)
	errutil.AssertErrorCode(t, err, plugin.CodeNotInitialized)

	require.NoError(t, m.Initialize(ctx))
	require.NoError(t, m.Destroy(ctx))
	require.NoError(t, m.Destroy(ctx))

	_, err = m.Calculate(ctx, "add", 1, 2)
	errutil.AssertErrorCode(t, err, plugin.CodeNotInitialized)
	_, err = m.Greet(ctx, "x")
	errutil.AssertErrorCode(t, err, plugin.CodeNotInitialized)
	assert.Empty(t, host.Calls())
}

func TestManager_InformationalExportsAllowAnyCall(t *testing.T) {
	host := wasmtest.NewHost()
	m := readyManager(t, host)

	_, err := m.CallFunction(context.Background(), "add", "[1,2]")
	require.NoError(t, err)
	assert.Equal(t, []string{"add"}, host.Calls())
}

func TestManager_UnknownExport(t *testing.T) {
	m := readyManager(t, wasmtest.NewHost())

	_, err := m.CallFunction(context.Background(), "missing", "")
	errutil.AssertErrorCode(t, err, plugin.CodeCallFailed)
	assert.Contains(t, err.Error(), "unknown function")
}

func TestManager_CallsAreSerialized(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	host := wasmtest.NewHost()
	host.Hook = func(_ context.Context, _ string) error {
		n := inFlight.Add(1)
		for {
			cur := maxInFlight.Load()
			if n <= cur || maxInFlight.CompareAndSwap(cur, n) {
				break
			}
		}
		inFlight.Add(-1)
		return nil
	}
	m := readyManager(t, host)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.Greet(context.Background(), "x")
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInFlight.Load())
	assert.Len(t, host.Calls(), 20)
}

func TestManager_CorePluginAdd(t *testing.T) {
	cfg := plugin.NewConfig("add.wasm", []string{"add"}, plugin.WithName("adder"), plugin.WithType(plugin.TypeCore))
	m, err := plugin.NewManager(cfg, plugin.WithSource(&wasmtest.Source{Data: wasmtest.AddModule}))
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, m.Initialize(ctx))
	t.Cleanup(func() { _ = m.Destroy(ctx) })

	out, err := m.Add(ctx, 2, 3)
	require.NoError(t, err)
	assert.JSONEq(t, "[5]", out)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "uninitialized", plugin.StateUninitialized.String())
	assert.Equal(t, "initializing", plugin.StateInitializing.String())
	assert.Equal(t, "ready", plugin.StateReady.String())
	assert.Equal(t, "failed", plugin.StateFailed.String())
	assert.Equal(t, "destroyed", plugin.StateDestroyed.String())
	assert.Equal(t, "unknown", plugin.State(42).String())
}
