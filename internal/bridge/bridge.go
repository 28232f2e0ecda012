// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugBridge Contributors

// Package bridge multiplexes concurrent plugin calls over a single dispatch
// worker and correlates the responses by request id.
package bridge

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/plugbridge/plugbridge/internal/protocol"
	"github.com/plugbridge/plugbridge/internal/worker"
	"github.com/plugbridge/plugbridge/pkg/errutil"
)

// DefaultCallTimeout bounds a call when no timeout is configured.
const DefaultCallTimeout = 30 * time.Second

// DefaultBuffer is the per-direction port buffer.
const DefaultBuffer = 64

// Status is a snapshot of plugin readiness.
type Status struct {
	IsReady   bool   `json:"isReady"`
	IsLoading bool   `json:"isLoading"`
	Error     string `json:"error,omitempty"`
}

// Terminator stops a spawned worker and waits for it.
type Terminator interface {
	Terminate()
}

// Spawner starts a worker serving port.
type Spawner func(ctx context.Context, port worker.Port) Terminator

// SpawnWorker returns a Spawner that runs worker.Start with factory.
func SpawnWorker(factory worker.Factory, opts ...worker.Option) Spawner {
	return func(ctx context.Context, port worker.Port) Terminator {
		return worker.Start(ctx, port, factory, opts...)
	}
}

type outcome struct {
	result string
	err    error
}

type pendingCall struct {
	kind protocol.Kind
	done chan outcome
}

// Bridge is the client side of a dispatch worker.
type Bridge struct {
	port        worker.Port
	callTimeout time.Duration
	logger      *slog.Logger
	loopDone    chan struct{}

	mu      sync.Mutex
	status  Status
	changed chan struct{}
	handle  Terminator
	pending map[string]*pendingCall
	closing bool
}

// Option configures a Bridge.
type Option func(*options)

type options struct {
	spawner     Spawner
	callTimeout time.Duration
	buffer      int
	logger      *slog.Logger
	workerOpts  []worker.Option
}

// WithSpawner replaces the default worker spawner.
func WithSpawner(s Spawner) Option {
	return func(o *options) {
		o.spawner = s
	}
}

// WithCallTimeout bounds each call. Zero disables the bound.
func WithCallTimeout(d time.Duration) Option {
	return func(o *options) {
		o.callTimeout = d
	}
}

// WithBuffer sets the per-direction port buffer.
func WithBuffer(n int) Option {
	return func(o *options) {
		o.buffer = n
	}
}

// WithLogger sets the logger for the bridge and its default worker.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithWorkerOptions passes options to the default worker.
func WithWorkerOptions(opts ...worker.Option) Option {
	return func(o *options) {
		o.workerOpts = append(o.workerOpts, opts...)
	}
}

// New starts a worker for factory and sends it init. The returned bridge is
// loading until the worker reports ready or an error.
func New(ctx context.Context, factory worker.Factory, opts ...Option) *Bridge {
	o := options{
		callTimeout: DefaultCallTimeout,
		buffer:      DefaultBuffer,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.spawner == nil {
		o.spawner = SpawnWorker(factory, append([]worker.Option{worker.WithLogger(o.logger)}, o.workerOpts...)...)
	}

	client, server := worker.Pipe(o.buffer)
	b := &Bridge{
		port:        client,
		callTimeout: o.callTimeout,
		logger:      o.logger.With("component", "bridge"),
		loopDone:    make(chan struct{}),
		status:      Status{IsLoading: true},
		changed:     make(chan struct{}),
		pending:     make(map[string]*pendingCall),
	}
	b.handle = o.spawner(ctx, server)

	go b.receive()

	initMsg, err := protocol.Encode(protocol.NewInitRequest())
	if err == nil {
		err = b.port.Post(ctx, initMsg)
	}
	if err != nil {
		b.setStatus(func(s *Status) {
			s.IsLoading = false
			s.Error = err.Error()
		})
	}
	return b
}

// Status returns the current readiness snapshot.
func (b *Bridge) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// WaitReady blocks until the plugin is ready, an error status appears or ctx ends.
func (b *Bridge) WaitReady(ctx context.Context) error {
	for {
		b.mu.Lock()
		status, changed, closed := b.status, b.changed, b.handle == nil
		b.mu.Unlock()

		switch {
		case closed:
			return ErrNotInitialized()
		case status.IsReady:
			return nil
		case !status.IsLoading:
			return ErrNotReady(status)
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// setStatus applies fn and wakes WaitReady callers.
func (b *Bridge) setStatus(fn func(*Status)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(&b.status)
	close(b.changed)
	b.changed = make(chan struct{})
}

// Call sends one request and waits for its response.
func (b *Bridge) Call(ctx context.Context, kind protocol.Kind, args any) (string, error) {
	start := time.Now()
	result, err := b.call(ctx, kind, args)
	recordCall(string(kind), "worker", callStatus(err), start)
	return result, err
}

func (b *Bridge) call(ctx context.Context, kind protocol.Kind, args any) (string, error) {
	b.mu.Lock()
	if b.handle == nil {
		b.mu.Unlock()
		return "", ErrNotInitialized()
	}
	if !b.status.IsReady {
		status := b.status
		b.mu.Unlock()
		return "", ErrNotReady(status)
	}
	id := NewRequestID()
	pc := &pendingCall{kind: kind, done: make(chan outcome, 1)}
	b.pending[id] = pc
	b.mu.Unlock()
	PendingCalls.Inc()

	callCtx := ctx
	var timeout <-chan struct{}
	if b.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, b.callTimeout)
		defer cancel()
		timeout = callCtx.Done()
	}

	req, err := protocol.NewCallRequest(kind, id, args)
	if err == nil {
		var msg []byte
		if msg, err = protocol.Encode(req); err == nil {
			err = b.port.Post(callCtx, msg)
		}
	}
	if err != nil {
		if b.take(id) == nil {
			return settle(<-pc.done)
		}
		if ctx.Err() == nil && callCtx.Err() != nil {
			return "", ErrTimeout(kind, id, b.callTimeout)
		}
		return "", err
	}

	select {
	case out := <-pc.done:
		return settle(out)
	case <-ctx.Done():
		if b.take(id) != nil {
			return "", ctx.Err()
		}
	case <-timeout:
		if b.take(id) != nil {
			if err := ctx.Err(); err != nil {
				return "", err
			}
			return "", ErrTimeout(kind, id, b.callTimeout)
		}
	}
	// Settled concurrently; the outcome is already buffered.
	return settle(<-pc.done)
}

func settle(out outcome) (string, error) {
	return out.result, out.err
}

// take removes and returns the pending call for id, or nil if it is gone.
func (b *Bridge) take(id string) *pendingCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	pc, ok := b.pending[id]
	if !ok {
		return nil
	}
	delete(b.pending, id)
	PendingCalls.Dec()
	return pc
}

// failAll settles every pending call with errFor. Callers hold b.mu.
func (b *Bridge) failAll(errFor func(id string) error) {
	for id, pc := range b.pending {
		pc.done <- outcome{err: errFor(id)}
		delete(b.pending, id)
		PendingCalls.Dec()
	}
}

func (b *Bridge) receive() {
	defer close(b.loopDone)
	for msg := range b.port.Messages() {
		b.dispatch(msg)
	}

	b.mu.Lock()
	closing := b.closing
	if !closing {
		b.failAll(ErrWorkerExited)
	}
	b.mu.Unlock()

	if !closing {
		b.logger.Warn("worker exited")
		b.setStatus(func(s *Status) {
			*s = Status{Error: "worker exited"}
		})
	}
}

func (b *Bridge) dispatch(msg []byte) {
	resp, err := protocol.DecodeResponse(msg)
	if err != nil {
		IgnoredResponses.WithLabelValues("invalid").Inc()
		errutil.LogError(context.Background(), b.logger, "invalid worker message", err)
		return
	}
	if resp.RequestID != "" {
		if _, err := ParseRequestID(resp.RequestID); err != nil {
			IgnoredResponses.WithLabelValues("malformed_id").Inc()
			b.logger.Debug("ignoring response", "request_id", resp.RequestID, "error", err)
			return
		}
	}

	switch resp.Type {
	case protocol.TypeReady:
		b.logger.Debug("plugin ready")
		b.setStatus(func(s *Status) {
			*s = Status{IsReady: true}
		})
	case protocol.TypeResult:
		b.resolve(resp.RequestID, func(*pendingCall) outcome {
			return outcome{result: resp.Result}
		})
	case protocol.TypeError:
		if resp.RequestID == "" {
			b.logger.Warn("worker error", "error", resp.Error)
			b.setStatus(func(s *Status) {
				s.IsLoading = false
				s.Error = resp.Error
			})
			return
		}
		b.resolve(resp.RequestID, func(pc *pendingCall) outcome {
			return outcome{err: ErrCallFailed(pc.kind, resp.RequestID, resp.Error)}
		})
	}
}

func (b *Bridge) resolve(id string, build func(*pendingCall) outcome) {
	pc := b.take(id)
	if pc == nil {
		IgnoredResponses.WithLabelValues("unmatched").Inc()
		b.logger.Debug("ignoring response for unknown request", "request_id", id)
		return
	}
	pc.done <- build(pc)
}

// Close terminates the worker and settles pending calls with BRIDGE_CLOSED.
// It is idempotent.
func (b *Bridge) Close() error {
	b.mu.Lock()
	handle := b.handle
	if handle == nil {
		b.mu.Unlock()
		return nil
	}
	b.handle = nil
	b.closing = true
	b.failAll(ErrBridgeClosed)
	b.mu.Unlock()

	handle.Terminate()
	err := b.port.Close()
	<-b.loopDone

	b.setStatus(func(s *Status) {
		*s = Status{}
	})
	return err
}

func callStatus(err error) string {
	switch {
	case err == nil:
		return StatusSuccess
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return StatusCanceled
	}
	switch errutil.Code(err) {
	case CodeNotReady, CodeNotInitialized:
		return StatusNotReady
	case CodeTimeout:
		return StatusTimeout
	case CodeBridgeClosed, CodeWorkerExited:
		return StatusAborted
	default:
		return StatusError
	}
}
