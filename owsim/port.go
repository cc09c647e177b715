// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package owsim

import (
	"fmt"
	"time"
)

// Port is one party connected to the Bus.
//
// It implements the line and clock used by the slave engine. Once the bus is
// closed all waits return immediately and the line reads high.
type Port struct {
	b     *Bus
	name  string
	ch    chan struct{}
	state state
	wake  time.Duration
	woken bool
	low   bool
}

func (p *Port) String() string {
	return fmt.Sprintf("owsim.Port{%s}", p.name)
}

// Name returns the name given to Attach.
func (p *Port) Name() string {
	return p.name
}

// PullLow drives the line low.
func (p *Port) PullLow() {
	p.b.mu.Lock()
	defer p.b.mu.Unlock()
	if p.b.closed || p.low {
		return
	}
	p.low = true
	p.b.setLocked(p)
}

// Release stops driving the line.
func (p *Port) Release() {
	p.b.mu.Lock()
	defer p.b.mu.Unlock()
	if p.b.closed || !p.low {
		return
	}
	p.low = false
	p.b.setLocked(p)
}

// Level returns the line level without consuming time.
func (p *Port) Level() bool {
	p.b.mu.Lock()
	defer p.b.mu.Unlock()
	return p.b.closed || p.b.high
}

// Read samples the line, then waits for one poll period.
func (p *Port) Read() bool {
	v := p.Level()
	p.Delay(p.b.opts.PollCost)
	return v
}

// Delay waits for d of virtual time.
func (p *Port) Delay(d time.Duration) {
	b := p.b
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	if d < 0 {
		d = 0
	}
	p.wake = b.now + d
	p.state = ready
	b.yieldLocked(p)
}

// Sleep waits until the line falls or wake fires. It always reports true.
func (p *Port) Sleep(wake <-chan struct{}) bool {
	b := p.b
	for {
		select {
		case <-wake:
			return true
		default:
		}
		b.mu.Lock()
		if b.closed || !b.high {
			b.mu.Unlock()
			return true
		}
		p.wake = b.now + b.opts.SleepPoll
		p.state = sleeping
		p.woken = false
		b.yieldLocked(p)
		b.mu.Lock()
		woken := p.woken
		b.mu.Unlock()
		if woken {
			return true
		}
	}
}

// Now returns the virtual time.
func (p *Port) Now() time.Duration {
	return p.b.Now()
}

func (p *Port) exitLocked() {
	p.state = done
	if p.low {
		p.low = false
		p.b.setLocked(p)
	}
}
