// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugBridge Contributors

package worker

import (
	"context"
	"errors"
	"sync"
)

// ErrPortClosed is returned by Post after either end of a pipe is closed.
var ErrPortClosed = errors.New("port closed")

// Port is one end of a bidirectional message channel.
type Port interface {
	// Post delivers msg to the other end. It blocks while the peer's buffer
	// is full.
	Post(ctx context.Context, msg []byte) error
	// Messages yields messages from the other end. It is closed once the
	// pipe is closed and buffered messages are drained.
	Messages() <-chan []byte
	// Close closes both ends. It is idempotent.
	Close() error
}

type pipe struct {
	mu     sync.RWMutex
	closed bool
	done   chan struct{}
	once   sync.Once
	ab     chan []byte
	ba     chan []byte
}

type endpoint struct {
	p   *pipe
	in  chan []byte
	out chan []byte
}

// Pipe returns two connected in-memory ports. Each direction buffers up to
// buffer messages.
func Pipe(buffer int) (Port, Port) {
	if buffer < 0 {
		buffer = 0
	}
	p := &pipe{
		done: make(chan struct{}),
		ab:   make(chan []byte, buffer),
		ba:   make(chan []byte, buffer),
	}
	return &endpoint{p: p, in: p.ba, out: p.ab}, &endpoint{p: p, in: p.ab, out: p.ba}
}

func (e *endpoint) Post(ctx context.Context, msg []byte) error {
	e.p.mu.RLock()
	defer e.p.mu.RUnlock()
	if e.p.closed {
		return ErrPortClosed
	}
	select {
	case e.out <- msg:
		return nil
	case <-e.p.done:
		return ErrPortClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *endpoint) Messages() <-chan []byte {
	return e.in
}

func (e *endpoint) Close() error {
	e.p.once.Do(func() {
		// Wake blocked posters before taking the write lock.
		close(e.p.done)
		e.p.mu.Lock()
		e.p.closed = true
		close(e.p.ab)
		close(e.p.ba)
		e.p.mu.Unlock()
	})
	return nil
}
