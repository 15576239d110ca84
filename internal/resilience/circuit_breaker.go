// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package resilience guards calls to dependencies that may be down.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ManuGH/hlsforge/internal/log"
	"github.com/ManuGH/hlsforge/internal/metrics"
)

// State is the breaker position.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// ErrCircuitOpen is returned without calling the dependency.
var ErrCircuitOpen = errors.New("circuit breaker is open")

const (
	defaultThreshold = 3
	defaultCooldown  = 30 * time.Second
)

// Clock is the time source; tests substitute a manual one.
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// Breaker stops calling a failing dependency for a cooldown period. After
// the cooldown exactly one trial call is let through; its outcome closes or
// re-opens the breaker.
//
// Calls that end because the caller's own context was cancelled are not
// counted against the dependency.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	clock     Clock

	mu            sync.Mutex
	state         State
	failures      int
	openedAt      time.Time
	trialInFlight bool
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(b *Breaker) { b.clock = c }
}

// New returns a closed breaker. Non-positive threshold or cooldown fall
// back to 3 failures and 30s.
func New(name string, threshold int, cooldown time.Duration, opts ...Option) *Breaker {
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	b := &Breaker{
		name:      name,
		threshold: threshold,
		cooldown:  cooldown,
		clock:     wallClock{},
		state:     StateClosed,
	}
	for _, opt := range opts {
		opt(b)
	}
	metrics.SetCircuitBreakerState(name, string(StateClosed))
	return b
}

// Do runs fn if the breaker admits the call.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if !b.admit() {
		return ErrCircuitOpen
	}
	err := fn(ctx)
	switch {
	case err == nil:
		b.onSuccess()
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		b.release()
	default:
		b.onFailure()
	}
	return err
}

// State reports the current position.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) admit() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.clock.Now().Sub(b.openedAt) < b.cooldown {
			return false
		}
		b.moveTo(StateHalfOpen)
	}
	if b.trialInFlight {
		return false
	}
	b.trialInFlight = true
	return true
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.trialInFlight = false
	b.moveTo(StateClosed)
}

func (b *Breaker) onFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.trialInFlight = false

	switch {
	case b.state == StateHalfOpen:
		metrics.RecordCircuitBreakerTrip(b.name, "trial_failed")
		b.moveTo(StateOpen)
	case b.state == StateClosed && b.failures >= b.threshold:
		metrics.RecordCircuitBreakerTrip(b.name, "threshold")
		b.moveTo(StateOpen)
	}
}

// release frees the trial slot without judging the dependency.
func (b *Breaker) release() {
	b.mu.Lock()
	b.trialInFlight = false
	b.mu.Unlock()
}

// moveTo must be called with b.mu held.
func (b *Breaker) moveTo(next State) {
	if b.state == next {
		return
	}
	prev := b.state
	b.state = next
	if next == StateOpen {
		b.openedAt = b.clock.Now()
	}
	metrics.SetCircuitBreakerState(b.name, string(next))
	logger := log.WithComponent("resilience")
	logger.Warn().
		Str(log.FieldEvent, "breaker.transition").
		Str("breaker", b.name).
		Str("from", string(prev)).
		Str("to", string(next)).
		Int("failures", b.failures).
		Msg("circuit breaker changed state")
}
