// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugBridge Contributors

package bridge

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/plugbridge/plugbridge/internal/fetch"
	"github.com/plugbridge/plugbridge/internal/plugin"
	"github.com/plugbridge/plugbridge/pkg/errutil"
)

// Direct runs a plugin manager in the caller's goroutine.
type Direct struct {
	manager  *plugin.Manager
	source   fetch.Source
	logger   *slog.Logger
	cancel   context.CancelFunc
	initDone chan struct{}

	mu      sync.Mutex
	status  Status
	changed chan struct{}
	closed  bool
}

// DirectOption configures Direct.
type DirectOption func(*Direct)

// WithDirectFetchSource sets the source used to download pages for ScrapeWebsite.
func WithDirectFetchSource(s fetch.Source) DirectOption {
	return func(d *Direct) {
		d.source = s
	}
}

// WithDirectLogger sets the logger.
func WithDirectLogger(l *slog.Logger) DirectOption {
	return func(d *Direct) {
		d.logger = l
	}
}

// NewDirect wraps m and initializes it in the background.
func NewDirect(ctx context.Context, m *plugin.Manager, opts ...DirectOption) *Direct {
	ctx, cancel := context.WithCancel(ctx)
	d := &Direct{
		manager:  m,
		cancel:   cancel,
		initDone: make(chan struct{}),
		status:   Status{IsLoading: true},
		changed:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	d.logger = d.logger.With("component", "direct")
	if d.source == nil {
		d.source = fetch.New(fetch.Options{})
	}

	go d.initialize(ctx)
	return d
}

func (d *Direct) initialize(ctx context.Context) {
	defer close(d.initDone)
	err := d.manager.Initialize(ctx)

	d.mu.Lock()
	defer d.mu.Unlock()
	if err != nil {
		d.status = Status{Error: err.Error()}
	} else {
		d.status = Status{IsReady: true}
	}
	close(d.changed)
	d.changed = make(chan struct{})
}

// Status returns the current readiness snapshot.
func (d *Direct) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

// WaitReady blocks until initialization finishes or ctx ends.
func (d *Direct) WaitReady(ctx context.Context) error {
	d.mu.Lock()
	status, changed, closed := d.status, d.changed, d.closed
	d.mu.Unlock()

	if closed {
		return ErrNotInitialized()
	}
	if status.IsLoading {
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
		status = d.Status()
	}
	if !status.IsReady {
		return ErrNotReady(status)
	}
	return nil
}

func (d *Direct) ready() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrNotInitialized()
	}
	if !d.status.IsReady {
		return ErrNotReady(d.status)
	}
	return nil
}

func (d *Direct) do(ctx context.Context, kind string, fn func(context.Context) (string, error)) (string, error) {
	start := time.Now()
	if err := d.ready(); err != nil {
		recordCall(kind, "direct", callStatus(err), start)
		return "", err
	}
	result, err := fn(ctx)
	recordCall(kind, "direct", callStatus(err), start)
	if err != nil {
		d.logger.DebugContext(ctx, "plugin call failed", "kind", kind, "code", errutil.Code(err), "error", err)
	}
	return result, err
}

// Greet calls the plugin's greet export.
func (d *Direct) Greet(ctx context.Context, name string) (string, error) {
	return d.do(ctx, "greet", func(ctx context.Context) (string, error) {
		return d.manager.Greet(ctx, name)
	})
}

// Calculate calls the plugin's calculate export.
func (d *Direct) Calculate(ctx context.Context, operation string, a, b float64) (string, error) {
	return d.do(ctx, "calculate", func(ctx context.Context) (string, error) {
		return d.manager.Calculate(ctx, operation, a, b)
	})
}

// ProcessText calls the plugin's process_text export.
func (d *Direct) ProcessText(ctx context.Context, text string) (string, error) {
	return d.do(ctx, "processText", func(ctx context.Context) (string, error) {
		return d.manager.ProcessText(ctx, text)
	})
}

// ScrapeWebsite fetches url and passes the page to the plugin.
func (d *Direct) ScrapeWebsite(ctx context.Context, url string) (string, error) {
	return d.do(ctx, "scrapeWebsite", func(ctx context.Context) (string, error) {
		html, err := fetch.Page(ctx, d.source, url)
		if err != nil {
			return "", err
		}
		return d.manager.ScrapeWebsite(ctx, url, html)
	})
}

// Add calls the plugin's numeric add export.
func (d *Direct) Add(ctx context.Context, a, b int32) (string, error) {
	return d.do(ctx, "add", func(ctx context.Context) (string, error) {
		return d.manager.Add(ctx, a, b)
	})
}

// CallFunction calls any export with a raw string payload.
func (d *Direct) CallFunction(ctx context.Context, name, input string) (string, error) {
	return d.do(ctx, "callFunction", func(ctx context.Context) (string, error) {
		return d.manager.CallFunction(ctx, name, input)
	})
}

// Close stops initialization and destroys the manager. It is idempotent.
func (d *Direct) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	d.cancel()
	<-d.initDone
	return d.manager.Destroy(context.Background())
}
