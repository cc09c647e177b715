// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ows

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
)

// Line is the open drain bus wire as seen by a slave.
//
// None of the methods can fail: a line that cannot be driven is reported when
// the Line is constructed.
type Line interface {
	// PullLow drives the line low.
	PullLow()
	// Release stops driving the line; it floats high unless another party
	// pulls it low.
	Release()
	// Read samples the line. true means high.
	Read() bool
	// Delay busy waits for d.
	Delay(d time.Duration)
}

// Sleeper is implemented by a Line that can suspend the caller until
// something happens on the bus.
type Sleeper interface {
	// Sleep returns once the line falls or wake fires. It may return early
	// for no reason. It returns false without waiting when the line cannot
	// sleep at all.
	Sleep(wake <-chan struct{}) bool
}

// Clock is a monotonic time source.
type Clock interface {
	Now() time.Duration
}

// SystemClock is a Clock based on the host monotonic clock.
type SystemClock struct {
	start time.Time
}

// NewSystemClock returns a Clock starting at zero now.
func NewSystemClock() *SystemClock {
	return &SystemClock{start: time.Now()}
}

// Now implements Clock.
func (s *SystemClock) Now() time.Duration {
	return time.Since(s.start)
}

// PinLine is a Line on a GPIO pin.
//
// The pin must be wired to the bus directly; the pull-up is provided by the
// master.
type PinLine struct {
	p        gpio.PinIO
	overhead time.Duration
	// SleepPoll bounds a single wait for an edge in Sleep.
	SleepPoll time.Duration
}

// NewPinLine releases p and returns a Line using it.
func NewPinLine(p gpio.PinIO) (*PinLine, error) {
	if p == nil {
		return nil, errNoPin
	}
	if err := p.In(gpio.Float, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("ows: releasing %s: %w", p, err)
	}
	l := &PinLine{p: p, SleepPoll: 100 * time.Millisecond}
	l.overhead = calibrate()
	return l, nil
}

func (l *PinLine) String() string {
	return fmt.Sprintf("PinLine{%s}", l.p)
}

// PullLow implements Line.
func (l *PinLine) PullLow() {
	_ = l.p.Out(gpio.Low)
}

// Release implements Line.
func (l *PinLine) Release() {
	_ = l.p.In(gpio.Float, gpio.NoEdge)
}

// Read implements Line.
func (l *PinLine) Read() bool {
	return l.p.Read() == gpio.High
}

// Delay implements Line.
//
// It spins on the monotonic clock; sleeping is far too coarse for time slots.
func (l *PinLine) Delay(d time.Duration) {
	spin(d - l.overhead)
}

// Sleep implements Sleeper.
//
// It waits for a falling edge. The pin is switched back to no edge detection
// before returning.
func (l *PinLine) Sleep(wake <-chan struct{}) bool {
	if err := l.p.In(gpio.Float, gpio.FallingEdge); err != nil {
		return false
	}
	defer l.Release()
	for {
		select {
		case <-wake:
			return true
		default:
		}
		if l.p.Read() == gpio.Low {
			return true
		}
		if l.p.WaitForEdge(l.SleepPoll) {
			return true
		}
	}
}

// Halt implements conn.Resource.
func (l *PinLine) Halt() error {
	l.Release()
	return nil
}

func spin(d time.Duration) {
	if d <= 0 {
		return
	}
	start := time.Now()
	for time.Since(start) < d {
	}
}

// calibrate measures the fixed cost of a zero length spin.
func calibrate() time.Duration {
	const rounds = 64
	start := time.Now()
	for i := 0; i < rounds; i++ {
		spin(time.Nanosecond)
	}
	return time.Since(start) / rounds
}

var _ Line = &PinLine{}
var _ Sleeper = &PinLine{}
