// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ows

import "time"

// Deadline is a one shot countdown against a Clock.
//
// A Deadline that was never started or was stopped reports as elapsed. Values
// are truncated to whole ticks so there is no guarantee below one tick.
type Deadline struct {
	clock   Clock
	tick    time.Duration
	end     time.Duration
	running bool
}

// NewDeadline returns a stopped Deadline. A tick of 0 disables truncation.
func NewDeadline(c Clock, tick time.Duration) *Deadline {
	return &Deadline{clock: c, tick: tick}
}

// Start arms the deadline to expire after timeout.
func (d *Deadline) Start(timeout time.Duration) {
	d.end = d.clock.Now() + timeout
	d.running = true
}

// Remaining returns the time left. It is negative once the deadline elapsed.
func (d *Deadline) Remaining() time.Duration {
	if !d.running {
		return -d.unit()
	}
	r := d.end - d.clock.Now()
	if d.tick > 0 {
		r = r.Truncate(d.tick)
	}
	return r
}

// Elapsed reports whether the deadline is over.
func (d *Deadline) Elapsed() bool {
	return d.Remaining() < 0
}

// Stop disarms the deadline.
func (d *Deadline) Stop() {
	d.running = false
}

func (d *Deadline) unit() time.Duration {
	if d.tick > 0 {
		return d.tick
	}
	return 1
}
