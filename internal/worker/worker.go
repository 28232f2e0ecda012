// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugBridge Contributors

// Package worker runs a plugin manager behind a message port and answers
// requests one at a time.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/samber/oops"

	"github.com/plugbridge/plugbridge/internal/fetch"
	"github.com/plugbridge/plugbridge/internal/logging"
	"github.com/plugbridge/plugbridge/internal/plugin"
	"github.com/plugbridge/plugbridge/internal/protocol"
)

// Factory builds the manager a worker owns. It is called on the first message.
type Factory func(ctx context.Context) (*plugin.Manager, error)

// Worker is a running dispatch worker.
type Worker struct {
	port    Port
	factory Factory
	source  fetch.Source
	logger  *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	// manager is only touched by the run goroutine.
	manager *plugin.Manager
}

// Option configures a Worker.
type Option func(*Worker)

// WithFetchSource sets the source used to download pages for scrapeWebsite.
func WithFetchSource(s fetch.Source) Option {
	return func(w *Worker) {
		w.source = s
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) {
		w.logger = l
	}
}

// Start runs a worker on port until ctx ends, the port closes or Terminate
// is called.
func Start(ctx context.Context, port Port, factory Factory, opts ...Option) *Worker {
	ctx, cancel := context.WithCancel(ctx)
	w := &Worker{
		port:    port,
		factory: factory,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	w.logger = w.logger.With("component", "worker")
	if w.source == nil {
		w.source = fetch.New(fetch.Options{})
	}

	go w.run(ctx)
	return w
}

// Done is closed once the worker has exited.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Terminate stops the worker and waits for it to exit. It is idempotent.
func (w *Worker) Terminate() {
	w.once.Do(w.cancel)
	<-w.done
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)
	defer func() {
		if w.manager != nil {
			if err := w.manager.Destroy(context.WithoutCancel(ctx)); err != nil {
				w.logger.WarnContext(ctx, "destroy plugin", "error", err)
			}
		}
		_ = w.port.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-w.port.Messages():
			if !ok {
				w.logger.DebugContext(ctx, "port closed, worker exiting")
				return
			}
			w.handle(ctx, msg)
		}
	}
}

func (w *Worker) handle(ctx context.Context, raw []byte) {
	req, err := protocol.DecodeRequest(raw)
	if err != nil {
		recordMessage("invalid")
		w.post(ctx, protocol.Error("", err.Error()))
		return
	}
	requestID := req.RequestID()
	ctx = logging.WithRequestID(ctx, requestID)

	defer func() {
		if r := recover(); r != nil {
			w.logger.ErrorContext(ctx, "panic while handling message",
				"type", req.Type,
				"panic", r)
			w.post(ctx, protocol.Error(requestID, fmt.Sprintf("worker panic: %v", r)))
		}
	}()

	if req.Type != protocol.KindInit && !req.Type.IsCall() {
		recordMessage("unknown")
		w.post(ctx, protocol.Error(requestID, fmt.Sprintf("Unknown message type: %s", req.Type)))
		return
	}
	recordMessage(string(req.Type))

	justInitialized, err := w.ensureManager(ctx)
	if err != nil {
		w.post(ctx, protocol.Error(requestID, err.Error()))
		return
	}

	if req.Type == protocol.KindInit {
		w.handleInit(ctx, justInitialized)
		return
	}

	if !w.manager.IsInitialized() {
		w.post(ctx, protocol.Error(requestID, w.notReadyMessage()))
		return
	}

	result, err := w.dispatch(ctx, req)
	if err != nil {
		w.post(ctx, protocol.Error(requestID, err.Error()))
		return
	}
	w.post(ctx, protocol.Result(requestID, result))
}

// ensureManager builds and initializes the manager on first use. It reports
// whether Initialize ran during this call.
func (w *Worker) ensureManager(ctx context.Context) (bool, error) {
	if w.manager == nil {
		m, err := w.factory(ctx)
		if err != nil {
			return false, oops.In("worker").Wrapf(err, "create plugin manager")
		}
		w.manager = m
	}
	if w.manager.State() != plugin.StateUninitialized {
		return false, nil
	}
	if err := w.manager.Initialize(ctx); err != nil {
		w.logger.WarnContext(ctx, "plugin initialization failed", "error", err)
	}
	return true, nil
}

func (w *Worker) handleInit(ctx context.Context, justInitialized bool) {
	if !justInitialized && w.manager.State() == plugin.StateFailed {
		if err := w.manager.Initialize(ctx); err != nil {
			w.logger.WarnContext(ctx, "plugin initialization retry failed", "error", err)
		}
	}
	if w.manager.IsInitialized() {
		w.post(ctx, protocol.Ready())
		return
	}
	w.post(ctx, protocol.Error("", w.notReadyMessage()))
}

func (w *Worker) notReadyMessage() string {
	if err := w.manager.LoadError(); err != nil {
		return err.Error()
	}
	return fmt.Sprintf("plugin not initialized (%s)", w.manager.State())
}

func (w *Worker) dispatch(ctx context.Context, req protocol.Request) (string, error) {
	m := w.manager
	switch req.Type {
	case protocol.KindGreet:
		var args protocol.GreetArgs
		if err := req.DecodeArgs(&args); err != nil {
			return "", err
		}
		return m.Greet(ctx, args.Name)
	case protocol.KindCalculate:
		var args protocol.CalculateArgs
		if err := req.DecodeArgs(&args); err != nil {
			return "", err
		}
		return m.Calculate(ctx, args.Operation, args.A, args.B)
	case protocol.KindProcessText:
		var args protocol.ProcessTextArgs
		if err := req.DecodeArgs(&args); err != nil {
			return "", err
		}
		return m.ProcessText(ctx, args.Text)
	case protocol.KindScrapeWebsite:
		var args protocol.ScrapeWebsiteArgs
		if err := req.DecodeArgs(&args); err != nil {
			return "", err
		}
		return w.scrape(ctx, args.URL)
	case protocol.KindAdd:
		var args protocol.AddArgs
		if err := req.DecodeArgs(&args); err != nil {
			return "", err
		}
		return m.Add(ctx, args.A, args.B)
	case protocol.KindCallFunction:
		var args protocol.CallFunctionArgs
		if err := req.DecodeArgs(&args); err != nil {
			return "", err
		}
		return m.CallFunction(ctx, args.FunctionName, args.Input)
	default:
		return "", oops.Code(protocol.CodeProtocolError).In("worker").Errorf("Unknown message type: %s", req.Type)
	}
}

// scrape downloads the page and hands it to the plugin.
func (w *Worker) scrape(ctx context.Context, pageURL string) (string, error) {
	html, err := fetch.Page(ctx, w.source, pageURL)
	if err != nil {
		return "", err
	}
	return w.manager.ScrapeWebsite(ctx, pageURL, html)
}

func (w *Worker) post(ctx context.Context, resp protocol.Response) {
	b, err := protocol.Encode(resp)
	if err != nil {
		w.logger.ErrorContext(ctx, "encode response", "error", err)
		return
	}
	if err := w.port.Post(ctx, b); err != nil {
		w.logger.DebugContext(ctx, "post response", "type", resp.Type, "error", err)
	}
}
