// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package pool runs keyed units of work on a fixed number of slots with a
// FIFO waiting line. Waiting units can be withdrawn by key; running units
// cannot.
package pool

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/ManuGH/hlsforge/internal/log"
)

var (
	// ErrShutdown is returned by Enqueue once Shutdown has begun.
	ErrShutdown = errors.New("pool is shut down")
	// ErrQueueFull is returned when the waiting line is at capacity.
	ErrQueueFull = errors.New("pool queue is full")
	// ErrDuplicate is returned when the key is already queued or running.
	ErrDuplicate = errors.New("unit already scheduled")
)

var (
	runningGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hlsforge_pool_running",
		Help: "Units currently occupying a pool slot",
	})
	queuedGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hlsforge_pool_queued",
		Help: "Units waiting for a pool slot",
	})
	panicsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hlsforge_pool_unit_panics_total",
		Help: "Units that panicked and were recovered",
	})
)

// Unit is one piece of work. ctx is cancelled when Shutdown gives up waiting;
// units must return promptly after that.
type Unit func(ctx context.Context)

type entry struct {
	id string
	fn Unit
}

// Pool bounds concurrency to size slots.
type Pool struct {
	size     int
	maxQueue int

	mu      sync.Mutex
	running map[string]struct{}
	queue   *list.List
	index   map[string]*list.Element
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger zerolog.Logger
}

// New creates a pool with size slots. maxQueue <= 0 leaves the waiting line
// unbounded.
func New(size, maxQueue int) (*Pool, error) {
	if size < 1 {
		return nil, fmt.Errorf("pool size must be >= 1, got %d", size)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		size:     size,
		maxQueue: maxQueue,
		running:  make(map[string]struct{}),
		queue:    list.New(),
		index:    make(map[string]*list.Element),
		ctx:      ctx,
		cancel:   cancel,
		logger:   log.WithComponent("pool"),
	}, nil
}

// Size returns the slot count.
func (p *Pool) Size() int { return p.size }

// Enqueue dispatches fn immediately when a slot is free, otherwise appends it
// to the waiting line.
func (p *Pool) Enqueue(id string, fn Unit) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrShutdown
	}
	if _, ok := p.running[id]; ok {
		return ErrDuplicate
	}
	if _, ok := p.index[id]; ok {
		return ErrDuplicate
	}

	if len(p.running) < p.size {
		p.startLocked(entry{id: id, fn: fn})
		return nil
	}
	if p.maxQueue > 0 && p.queue.Len() >= p.maxQueue {
		return ErrQueueFull
	}
	p.index[id] = p.queue.PushBack(entry{id: id, fn: fn})
	p.publishLocked()
	p.logger.Debug().
		Str(log.FieldJobID, id).
		Int("position", p.queue.Len()).
		Msg("unit queued")
	return nil
}

// Cancel withdraws a waiting unit. It returns false if id is running or
// unknown; the unit's function is never called after a true return.
func (p *Pool) Cancel(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	el, ok := p.index[id]
	if !ok {
		return false
	}
	p.queue.Remove(el)
	delete(p.index, id)
	p.publishLocked()
	return true
}

// Running returns the number of occupied slots.
func (p *Pool) Running() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.running)
}

// Queued returns the number of waiting units.
func (p *Pool) Queued() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queue.Len()
}

// IsRunning reports whether id currently occupies a slot.
func (p *Pool) IsRunning(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.running[id]
	return ok
}

// Shutdown stops accepting work and drops every waiting unit, returning their
// ids in queue order. It then waits for running units. If ctx expires first
// the units' context is cancelled and Shutdown waits for them to return.
func (p *Pool) Shutdown(ctx context.Context) ([]string, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, nil
	}
	p.closed = true
	dropped := make([]string, 0, p.queue.Len())
	for el := p.queue.Front(); el != nil; el = el.Next() {
		dropped = append(dropped, el.Value.(entry).id)
	}
	p.queue.Init()
	p.index = make(map[string]*list.Element)
	p.publishLocked()
	inflight := len(p.running)
	p.mu.Unlock()

	p.logger.Info().
		Str(log.FieldEvent, "pool.shutdown").
		Int("dropped", len(dropped)).
		Int("running", inflight).
		Msg("pool shutting down")

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return dropped, nil
	case <-ctx.Done():
		p.logger.Warn().
			Str(log.FieldEvent, "pool.shutdown.forced").
			Msg("shutdown deadline reached, cancelling running units")
		p.cancel()
		<-done
		return dropped, ctx.Err()
	}
}

// startLocked must be called with p.mu held.
func (p *Pool) startLocked(e entry) {
	p.running[e.id] = struct{}{}
	p.publishLocked()
	p.wg.Add(1)
	go p.run(e)
}

func (p *Pool) run(e entry) {
	defer p.wg.Done()
	defer p.release(e.id)
	defer func() {
		if r := recover(); r != nil {
			panicsTotal.Inc()
			p.logger.Error().
				Str(log.FieldEvent, "pool.unit.panic").
				Str(log.FieldJobID, e.id).
				Interface("panic", r).
				Msg("unit panicked")
		}
	}()
	e.fn(p.ctx)
}

// release frees the slot and hands it to the head of the waiting line.
func (p *Pool) release(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.running, id)
	if !p.closed && p.queue.Len() > 0 {
		el := p.queue.Front()
		next := p.queue.Remove(el).(entry)
		delete(p.index, next.id)
		p.startLocked(next)
		return
	}
	p.publishLocked()
}

func (p *Pool) publishLocked() {
	runningGauge.Set(float64(len(p.running)))
	queuedGauge.Set(float64(p.queue.Len()))
}
