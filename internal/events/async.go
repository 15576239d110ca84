// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ManuGH/hlsforge/internal/metrics"
)

var (
	// ErrBufferFull is returned when the async buffer cannot take another event.
	ErrBufferFull = errors.New("events: buffer full")
	// ErrClosed is returned by Publish after Close.
	ErrClosed = errors.New("events: publisher closed")
)

// Async decouples callers from a slow sink. Publish only enqueues; a single
// goroutine delivers events in order, each bounded by timeout. Events that
// do not fit the buffer are dropped and counted.
type Async struct {
	next    Publisher
	timeout time.Duration

	mu     sync.RWMutex
	ch     chan Event
	closed bool
	done   chan struct{}
}

func NewAsync(next Publisher, buffer int, timeout time.Duration) *Async {
	if buffer < 1 {
		buffer = 1
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	a := &Async{
		next:    next,
		timeout: timeout,
		ch:      make(chan Event, buffer),
		done:    make(chan struct{}),
	}
	go a.loop()
	return a
}

// Publish never blocks on the sink. ctx is not used for delivery, which
// happens after the caller has moved on.
func (a *Async) Publish(_ context.Context, ev Event) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}
	select {
	case a.ch <- ev:
		return nil
	default:
		metrics.IncEventPublished("async", "dropped")
		return ErrBufferFull
	}
}

// Close delivers what is buffered, then closes the wrapped publisher.
func (a *Async) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.ch)
	a.mu.Unlock()

	<-a.done
	return a.next.Close()
}

func (a *Async) loop() {
	defer close(a.done)
	for ev := range a.ch {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		_ = a.next.Publish(ctx, ev)
		cancel()
	}
}
