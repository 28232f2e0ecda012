// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugBridge Contributors

package main

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/plugbridge/plugbridge/internal/bridge"
	"github.com/plugbridge/plugbridge/internal/config"
)

// fakeCaller records calls and answers with a fixed result.
type fakeCaller struct {
	mu       sync.Mutex
	status   bridge.Status
	readyErr error
	result   string
	err      error
	calls    []string
	args     []any
	closed   int
}

func newFakeCaller() *fakeCaller {
	return &fakeCaller{status: bridge.Status{IsReady: true}, result: "ok"}
}

func (f *fakeCaller) record(call string, args ...any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	f.args = append(f.args, args...)
	return f.result, f.err
}

func (f *fakeCaller) Status() bridge.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeCaller) WaitReady(context.Context) error { return f.readyErr }

func (f *fakeCaller) Greet(_ context.Context, name string) (string, error) {
	return f.record("greet", name)
}

func (f *fakeCaller) Calculate(_ context.Context, operation string, a, b float64) (string, error) {
	return f.record("calculate", operation, a, b)
}

func (f *fakeCaller) ProcessText(_ context.Context, text string) (string, error) {
	return f.record("processText", text)
}

func (f *fakeCaller) ScrapeWebsite(_ context.Context, url string) (string, error) {
	return f.record("scrapeWebsite", url)
}

func (f *fakeCaller) Add(_ context.Context, a, b int32) (string, error) {
	return f.record("add", a, b)
}

func (f *fakeCaller) CallFunction(_ context.Context, name, input string) (string, error) {
	return f.record("callFunction", name, input)
}

func (f *fakeCaller) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeCaller) factory() CallerFactory {
	return func(context.Context, *config.Config) (bridge.Caller, error) {
		return f, nil
	}
}

// isolateConfig keeps user config files and environment out of a test.
func isolateConfig(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	configFile = ""
}

// execute runs the root command with args and returns its combined output.
func execute(t *testing.T, deps *Deps, args ...string) (string, error) {
	t.Helper()
	isolateConfig(t)
	cmd := newRootCmdWithDeps(deps)
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}
