// Copyright (C) 2025 Bronzelake, Inc.
// See LICENSE for copying information.

// Package sync2 holds concurrency helpers shared by the services.
package sync2

import (
	"context"
	"sync"
	"time"
)

// Cycle runs a function immediately and then once per interval until the
// context is cancelled or the cycle is closed. The interval may be
// changed while running, including from inside the function itself; the
// new interval takes effect for the next wait.
type Cycle struct {
	interval time.Duration

	change chan time.Duration
	stop   chan struct{}

	stopOnce sync.Once
}

// NewCycle creates a cycle with the given interval.
func NewCycle(interval time.Duration) *Cycle {
	return &Cycle{
		interval: interval,
		change:   make(chan time.Duration, 1),
		stop:     make(chan struct{}),
	}
}

// ChangeInterval sets the interval used for subsequent waits. The latest
// value wins when called multiple times within one cycle.
func (cycle *Cycle) ChangeInterval(interval time.Duration) {
	for {
		select {
		case cycle.change <- interval:
			return
		default:
		}
		// drop a stale pending change
		select {
		case <-cycle.change:
		default:
		}
	}
}

// Close stops a running cycle. It is safe to call more than once.
func (cycle *Cycle) Close() {
	cycle.stopOnce.Do(func() { close(cycle.stop) })
}

// Run executes fn immediately and then on every tick. A non-nil error
// from fn stops the cycle and is returned.
func (cycle *Cycle) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := fn(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(cycle.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-cycle.stop:
			return nil
		case interval := <-cycle.change:
			if interval > 0 && interval != cycle.interval {
				cycle.interval = interval
				ticker.Reset(interval)
			}
		case <-ticker.C:
			if err := fn(ctx); err != nil {
				return err
			}
		}
	}
}
