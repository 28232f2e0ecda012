// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugBridge Contributors

// Package wasmtest provides in-memory plugin hosts for tests.
package wasmtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/plugbridge/plugbridge/internal/wasm"
)

// Compile-time interface checks.
var (
	_ wasm.Host   = (*Host)(nil)
	_ wasm.Loader = (*Loader)(nil)
)

// Host emulates the demo guest plugin: greet, calculate, process_text,
// scrape_website and add.
type Host struct {
	mu     sync.Mutex
	calls  []string
	closed int

	// PanicOn makes Call panic when invoked for the named function.
	PanicOn string
	// Hook, if set, runs before every call and may block or fail it.
	Hook func(ctx context.Context, function string) error
}

// NewHost creates a fake host.
func NewHost() *Host {
	return &Host{}
}

// Call implements wasm.Host.
func (h *Host) Call(ctx context.Context, function string, input []byte) ([]byte, error) {
	h.mu.Lock()
	if h.closed > 0 {
		h.mu.Unlock()
		return nil, wasm.ErrHostClosed
	}
	h.calls = append(h.calls, function)
	hook := h.Hook
	h.mu.Unlock()

	if function == h.PanicOn {
		panic("guest exploded in " + function)
	}
	if hook != nil {
		if err := hook(ctx, function); err != nil {
			return nil, err
		}
	}

	switch function {
	case "greet":
		return greet(input)
	case "calculate":
		return calculate(input)
	case "process_text":
		return processText(input)
	case "scrape_website":
		return scrapeWebsite(input)
	case "add":
		return add(input)
	default:
		return nil, fmt.Errorf("unknown function: %s", function)
	}
}

// FunctionExists implements wasm.Host.
func (h *Host) FunctionExists(function string) bool {
	switch function {
	case "greet", "calculate", "process_text", "scrape_website", "add":
		return true
	}
	return false
}

// Close implements wasm.Host.
func (h *Host) Close(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed++
	return nil
}

// Calls returns the functions invoked so far, in order.
func (h *Host) Calls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.calls...)
}

// Closed reports how many times Close was called.
func (h *Host) Closed() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// Loader hands out a fixed Host, or fails with Err.
type Loader struct {
	mu    sync.Mutex
	host  wasm.Host
	err   error
	loads int
}

// NewLoader creates a loader that returns host.
func NewLoader(host wasm.Host) *Loader {
	return &Loader{host: host}
}

// NewFailingLoader creates a loader whose loads fail with err.
func NewFailingLoader(err error) *Loader {
	return &Loader{err: err}
}

// Load implements wasm.Loader.
func (l *Loader) Load(_ context.Context, _ string, _ []byte) (wasm.Host, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loads++
	if l.err != nil {
		return nil, l.err
	}
	return l.host, nil
}

// Loads reports how many times Load was called.
func (l *Loader) Loads() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loads
}

// Source serves fixed bytes for every locator, or fails with Err.
type Source struct {
	Data []byte
	Err  error
}

// Fetch implements fetch.Source.
func (s *Source) Fetch(_ context.Context, _ string) ([]byte, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Data, nil
}

func greet(input []byte) ([]byte, error) {
	var in struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, err
	}
	if in.Name == "" {
		in.Name = "World"
	}
	return []byte(fmt.Sprintf("Hello, %s! Welcome to Extism!", in.Name)), nil
}

func calculate(input []byte) ([]byte, error) {
	var in struct {
		Operation string  `json:"operation"`
		A         float64 `json:"a"`
		B         float64 `json:"b"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, err
	}
	if in.Operation == "" {
		in.Operation = "add"
	}

	var result float64
	switch in.Operation {
	case "add":
		result = in.A + in.B
	case "subtract":
		result = in.A - in.B
	case "multiply":
		result = in.A * in.B
	case "divide":
		if in.B == 0 {
			return nil, errors.New("Division by zero") //nolint:staticcheck // guest message verbatim
		}
		result = in.A / in.B
	default:
		return nil, errors.New("Unknown operation") //nolint:staticcheck // guest message verbatim
	}

	return json.Marshal(map[string]any{
		"result":    result,
		"operation": in.Operation,
		"a":         in.A,
		"b":         in.B,
	})
}

func processText(input []byte) ([]byte, error) {
	var in struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, err
	}
	runes := []rune(strings.ToUpper(in.Text))
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	return json.Marshal(map[string]any{
		"original":  in.Text,
		"processed": string(runes),
		"length":    len(in.Text),
	})
}

func scrapeWebsite(input []byte) ([]byte, error) {
	var in struct {
		URL         string `json:"url"`
		HTMLContent string `json:"html_content"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, err
	}
	if in.URL == "" {
		return nil, errors.New("URL is required") //nolint:staticcheck // guest message verbatim
	}

	title := "No title found"
	if start := strings.Index(in.HTMLContent, "<title>"); start >= 0 {
		if end := strings.Index(in.HTMLContent, "</title>"); end > start {
			title = strings.TrimSpace(in.HTMLContent[start+len("<title>") : end])
		}
	}
	return json.Marshal(map[string]any{
		"success":        true,
		"url":            in.URL,
		"title":          title,
		"content_length": len(in.HTMLContent),
	})
}

func add(input []byte) ([]byte, error) {
	var args []int32
	if err := json.Unmarshal(input, &args); err != nil {
		return nil, err
	}
	if len(args) != 2 {
		return nil, fmt.Errorf("expected 2 arguments, got %d", len(args))
	}
	return json.Marshal([]int32{args[0] + args[1]})
}
