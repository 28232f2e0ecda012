// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugBridge Contributors

package bridge_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/plugbridge/plugbridge/internal/bridge"
	"github.com/plugbridge/plugbridge/internal/fetch"
	"github.com/plugbridge/plugbridge/internal/plugin"
	"github.com/plugbridge/plugbridge/internal/wasm/wasmtest"
	"github.com/plugbridge/plugbridge/pkg/errutil"
)

// gatedSource blocks Fetch until release is closed.
type gatedSource struct {
	release chan struct{}
}

func (g *gatedSource) Fetch(ctx context.Context, _ string) ([]byte, error) {
	select {
	case <-g.release:
		return []byte("wasm"), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func newDirect(t *testing.T, src fetch.Source, host *wasmtest.Host, opts ...bridge.DirectOption) *bridge.Direct {
	t.Helper()
	m, err := plugin.NewManager(plugin.NewConfig("demo.wasm", nil),
		plugin.WithSource(src),
		plugin.WithLoader(wasmtest.NewLoader(host)),
	)
	require.NoError(t, err)
	d := bridge.NewDirect(context.Background(), m, opts...)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestDirect_Lifecycle(t *testing.T) {
	defer goleak.VerifyNone(t)
	gate := &gatedSource{release: make(chan struct{})}
	host := wasmtest.NewHost()
	d := newDirect(t, gate, host)
	ctx := context.Background()

	assert.Equal(t, bridge.Status{IsLoading: true}, d.Status())
	_, err := d.Greet(ctx, "early")
	errutil.AssertErrorCode(t, err, bridge.CodeNotReady)

	close(gate.release)
	require.NoError(t, d.WaitReady(ctx))
	assert.Equal(t, bridge.Status{IsReady: true}, d.Status())

	out, err := d.Greet(ctx, "Alice")
	require.NoError(t, err)
	assert.Equal(t, "Hello, Alice! Welcome to Extism!", out)

	_, err = d.Calculate(ctx, "divide", 1, 0)
	errutil.AssertErrorCode(t, err, bridge.CodeCallFailed)

	out, err = d.ProcessText(ctx, "ab")
	require.NoError(t, err)
	assert.Contains(t, out, `"processed":"BA"`)

	out, err = d.Add(ctx, 40, 2)
	require.NoError(t, err)
	assert.JSONEq(t, "[42]", out)

	out, err = d.CallFunction(ctx, "greet", `{"name":"Raw"}`)
	require.NoError(t, err)
	assert.Equal(t, "Hello, Raw! Welcome to Extism!", out)

	require.NoError(t, d.Close())
	require.NoError(t, d.Close())
	assert.Equal(t, 1, host.Closed())

	_, err = d.Greet(ctx, "late")
	errutil.AssertErrorCode(t, err, bridge.CodeNotInitialized)
	errutil.AssertErrorCode(t, d.WaitReady(ctx), bridge.CodeNotInitialized)
}

func TestDirect_LoadFailure(t *testing.T) {
	d := newDirect(t, &wasmtest.Source{Err: errors.New("fetch demo.wasm: unexpected status 404 Not Found")}, wasmtest.NewHost())

	err := d.WaitReady(context.Background())
	errutil.AssertErrorCode(t, err, bridge.CodeNotReady)

	status := d.Status()
	assert.False(t, status.IsReady)
	assert.False(t, status.IsLoading)
	assert.Contains(t, status.Error, "404")
}

func TestDirect_CloseDuringLoad(t *testing.T) {
	defer goleak.VerifyNone(t)
	d := newDirect(t, &gatedSource{release: make(chan struct{})}, wasmtest.NewHost())
	require.NoError(t, d.Close())
}

func TestDirect_ScrapeWebsite(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("<title>Direct</title>"))
	}))
	t.Cleanup(srv.Close)

	d := newDirect(t, &wasmtest.Source{Data: []byte("wasm")}, wasmtest.NewHost(),
		bridge.WithDirectFetchSource(fetch.New(fetch.Options{})))
	require.NoError(t, d.WaitReady(context.Background()))

	out, err := d.ScrapeWebsite(context.Background(), srv.URL+"/page")
	require.NoError(t, err)
	assert.Contains(t, out, `"title":"Direct"`)

	_, err = d.ScrapeWebsite(context.Background(), srv.URL+"/missing")
	require.Error(t, err)
	assert.Equal(t, "Failed to fetch URL: 404", err.Error())
}
