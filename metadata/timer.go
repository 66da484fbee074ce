// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package metadata

import (
	"time"

	"github.com/benbjohnson/clock"
)

// Timer accumulates elapsed time across possibly-interleaved
// start/stop pairs.  A Timer created but never started reports zero
// elapsed time.  Elapsed is monotonically non-decreasing: stopping an
// already-stopped Timer, or calling Elapsed while running, never moves
// time backwards.
type Timer struct {
	clk       clock.Clock
	accrued   time.Duration
	lastStart time.Time
	running   bool
}

func newTimer(clk clock.Clock) *Timer {
	return &Timer{clk: clk}
}

// NewTimer creates a standalone Timer backed by clk (the real clock if
// clk is nil).  Most callers obtain Timers from Metadata.Timer instead.
func NewTimer(clk clock.Clock) *Timer {
	if clk == nil {
		clk = clock.New()
	}
	return newTimer(clk)
}

// Start begins (or resumes) timing.  Starting an already-running Timer
// has no effect.
func (t *Timer) Start() {
	if t.running {
		return
	}
	t.lastStart = t.clk.Now()
	t.running = true
}

// Stop accrues the elapsed time since the last Start and stops timing.
// Stopping a Timer that was never started, or is already stopped, has
// no effect.
func (t *Timer) Stop() {
	if !t.running {
		return
	}
	t.accrued += t.clk.Now().Sub(t.lastStart)
	t.running = false
}

// Elapsed returns the total accrued duration, including the currently
// in-progress interval if the Timer is running.
func (t *Timer) Elapsed() time.Duration {
	if t.running {
		return t.accrued + t.clk.Now().Sub(t.lastStart)
	}
	return t.accrued
}

// Accrue adds d directly to the Timer's accumulated time, without
// requiring a Start/Stop pair. It is how a caller merges a duration
// measured elsewhere (a child process's self-reported timer) into its
// own Metadata tree.
func (t *Timer) Accrue(d time.Duration) {
	t.accrued += d
}

// Run starts the Timer, calls f, stops the Timer, and returns f's
// result.  Useful for timing a single scoped operation.
func Run[T any](t *Timer, f func() (T, error)) (T, error) {
	t.Start()
	defer t.Stop()
	return f()
}
