// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugBridge Contributors

package bridge

import (
	"context"

	"github.com/plugbridge/plugbridge/internal/protocol"
)

// Caller is the call contract shared by the worker bridge and Direct.
type Caller interface {
	Status() Status
	WaitReady(ctx context.Context) error
	Greet(ctx context.Context, name string) (string, error)
	Calculate(ctx context.Context, operation string, a, b float64) (string, error)
	ProcessText(ctx context.Context, text string) (string, error)
	ScrapeWebsite(ctx context.Context, url string) (string, error)
	Add(ctx context.Context, a, b int32) (string, error)
	CallFunction(ctx context.Context, name, input string) (string, error)
	Close() error
}

// Compile-time interface checks.
var (
	_ Caller = (*Bridge)(nil)
	_ Caller = (*Direct)(nil)
)

// Greet calls the plugin's greet export.
func (b *Bridge) Greet(ctx context.Context, name string) (string, error) {
	return b.Call(ctx, protocol.KindGreet, protocol.GreetArgs{Name: name})
}

// Calculate calls the plugin's calculate export.
func (b *Bridge) Calculate(ctx context.Context, operation string, a, bv float64) (string, error) {
	return b.Call(ctx, protocol.KindCalculate, protocol.CalculateArgs{Operation: operation, A: a, B: bv})
}

// ProcessText calls the plugin's process_text export.
func (b *Bridge) ProcessText(ctx context.Context, text string) (string, error) {
	return b.Call(ctx, protocol.KindProcessText, protocol.ProcessTextArgs{Text: text})
}

// ScrapeWebsite has the worker fetch url and pass the page to the plugin.
func (b *Bridge) ScrapeWebsite(ctx context.Context, url string) (string, error) {
	return b.Call(ctx, protocol.KindScrapeWebsite, protocol.ScrapeWebsiteArgs{URL: url})
}

// Add calls the plugin's numeric add export.
func (b *Bridge) Add(ctx context.Context, a, bv int32) (string, error) {
	return b.Call(ctx, protocol.KindAdd, protocol.AddArgs{A: a, B: bv})
}

// CallFunction calls any export with a raw string payload.
func (b *Bridge) CallFunction(ctx context.Context, name, input string) (string, error) {
	return b.Call(ctx, protocol.KindCallFunction, protocol.CallFunctionArgs{FunctionName: name, Input: input})
}
