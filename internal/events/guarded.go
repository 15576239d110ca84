// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package events

import (
	"context"
	"errors"
	"time"

	"github.com/ManuGH/hlsforge/internal/metrics"
	"github.com/ManuGH/hlsforge/internal/resilience"
)

// Guarded wraps a Publisher with a circuit breaker so an unreachable broker
// fails fast instead of stalling every transition for the write timeout.
type Guarded struct {
	next    Publisher
	breaker *resilience.Breaker
}

// NewGuarded opens the breaker after threshold consecutive publish failures
// and tries again after cooldown.
func NewGuarded(next Publisher, threshold int, cooldown time.Duration, opts ...resilience.Option) *Guarded {
	return &Guarded{
		next:    next,
		breaker: resilience.New("events", threshold, cooldown, opts...),
	}
}

func (g *Guarded) Publish(ctx context.Context, ev Event) error {
	err := g.breaker.Do(ctx, func(ctx context.Context) error {
		return g.next.Publish(ctx, ev)
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		metrics.IncEventPublished("kafka", "dropped")
	}
	return err
}

func (g *Guarded) Close() error { return g.next.Close() }

// State reports the breaker state.
func (g *Guarded) State() resilience.State { return g.breaker.State() }
