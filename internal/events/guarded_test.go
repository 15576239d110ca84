// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/hlsforge/internal/resilience"
)

type countingPublisher struct {
	calls  int
	err    error
	closed bool
}

func (c *countingPublisher) Publish(context.Context, Event) error {
	c.calls++
	return c.err
}

func (c *countingPublisher) Close() error {
	c.closed = true
	return nil
}

type stepClock struct{ now time.Time }

func (s *stepClock) Now() time.Time { return s.now }

func TestGuarded_FailsFastWhileOpen(t *testing.T) {
	inner := &countingPublisher{err: errors.New("broker down")}
	clk := &stepClock{now: time.Unix(1000, 0)}
	g := NewGuarded(inner, 2, time.Minute, resilience.WithClock(clk))

	ctx := context.Background()
	require.Error(t, g.Publish(ctx, Event{JobID: "a"}))
	require.Error(t, g.Publish(ctx, Event{JobID: "a"}))
	assert.Equal(t, resilience.StateOpen, g.State())

	err := g.Publish(ctx, Event{JobID: "a"})
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, 2, inner.calls)

	inner.err = nil
	clk.now = clk.now.Add(2 * time.Minute)
	require.NoError(t, g.Publish(ctx, Event{JobID: "a"}))
	assert.Equal(t, resilience.StateClosed, g.State())
	assert.Equal(t, 3, inner.calls)

	require.NoError(t, g.Close())
	assert.True(t, inner.closed)
}
