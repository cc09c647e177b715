// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package debounce filters up to 8 noisy digital inputs with vertical
// counters.
//
// An input is accepted as changed after it differed from the debounced state
// in Count consecutive samples. Sample every 20 to 50ms divided by Count.
//
// More details
//
// http://www.dattalo.com/technical/software/pic/vertcnt.html
package debounce

import (
	"context"
	"sync/atomic"
	"time"

	"periph.io/x/conn/v3/gpio"
)

// Count is the number of consecutive samples required to accept a change.
const Count = 4

// Debouncer holds the vertical counters of 8 inputs.
//
// Sample must be called by a single goroutine. State may be called
// concurrently.
type Debouncer struct {
	state  atomic.Uint32
	ca, cb uint8
}

// New returns a Debouncer whose debounced state starts at initial.
func New(initial byte) *Debouncer {
	d := &Debouncer{}
	d.state.Store(uint32(initial))
	return d
}

// Sample feeds one sample and returns the inputs whose debounced state
// changed.
func (d *Debouncer) Sample(sample byte) byte {
	state := byte(d.state.Load())
	delta := sample ^ state
	// Two bit counters, one per input, reset when the input agrees.
	d.ca ^= d.cb
	d.cb = ^d.cb
	d.ca &= delta
	d.cb &= delta
	changes := delta &^ (d.ca | d.cb)
	d.state.Store(uint32(state ^ changes))
	return changes
}

// State returns the debounced state.
func (d *Debouncer) State() byte {
	return byte(d.state.Load())
}

// Run samples every period until ctx is done. onChange, if not nil, is called
// with the changed inputs after each sample with changes.
func (d *Debouncer) Run(ctx context.Context, period time.Duration, sample func() byte, onChange func(changes byte)) error {
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if c := d.Sample(sample()); c != 0 && onChange != nil {
				onChange(c)
			}
		}
	}
}

// Pins returns a sampler reading pins into bits 0 to len(pins)-1. A high
// level is a 1. At most 8 pins are used.
func Pins(pins ...gpio.PinIn) func() byte {
	if len(pins) > 8 {
		pins = pins[:8]
	}
	return func() byte {
		var b byte
		for i, p := range pins {
			if p.Read() == gpio.High {
				b |= 1 << uint(i)
			}
		}
		return b
	}
}
