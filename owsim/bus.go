// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package owsim

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Edge is a change of the bus level.
type Edge struct {
	At time.Duration
	// Level is the new level, true for high.
	Level bool
	// By is the Port that caused the change.
	By string
}

// Opts configures a Bus.
type Opts struct {
	// PollCost is the virtual time consumed by Port.Read.
	PollCost time.Duration
	// SleepPoll is how often a sleeping Port checks its wake channel.
	SleepPoll time.Duration
	// Trace records every Edge.
	Trace bool
}

// DefaultOpts is the recommended default options.
var DefaultOpts = Opts{
	PollCost:  time.Microsecond,
	SleepPoll: 50 * time.Microsecond,
}

type state uint8

const (
	detached state = iota // not started yet
	ready                 // waiting for its wake up time
	running
	sleeping // waiting for a falling edge or its wake up time
	done
)

// Bus is a simulated line with a pull-up resistor.
//
// A Bus runs once: attach the Ports, start the slaves with Go, then run the
// master with Run.
type Bus struct {
	opts Opts

	mu     sync.Mutex
	now    time.Duration
	ports  []*Port
	high   bool
	closed bool
	trace  []Edge

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New returns a new idle Bus.
func New(opts *Opts) *Bus {
	if opts == nil {
		opts = &DefaultOpts
	}
	b := &Bus{opts: *opts, high: true}
	if b.opts.PollCost <= 0 {
		b.opts.PollCost = DefaultOpts.PollCost
	}
	if b.opts.SleepPoll <= 0 {
		b.opts.SleepPoll = DefaultOpts.SleepPoll
	}
	b.ctx, b.cancel = context.WithCancel(context.Background())
	return b
}

func (b *Bus) String() string {
	return fmt.Sprintf("owsim.Bus{%d ports}", len(b.ports))
}

// Attach adds a Port named name. The Port must be started with Go or Run.
func (b *Bus) Attach(name string) *Port {
	b.mu.Lock()
	defer b.mu.Unlock()
	p := &Port{b: b, name: name, ch: make(chan struct{}, 1)}
	b.ports = append(b.ports, p)
	return p
}

// Go starts fn for p in the background. The context is canceled once the
// foreground Port of Run is done; fn must then return.
func (b *Bus) Go(p *Port, fn func(ctx context.Context)) {
	b.start(p)
	go func() {
		defer b.wg.Done()
		<-p.ch
		fn(b.ctx)
		b.mu.Lock()
		p.exitLocked()
		if b.closed {
			b.mu.Unlock()
			return
		}
		b.yieldLocked(p)
	}()
}

// Run runs fn for p and returns once fn and every background Port are done.
func (b *Bus) Run(p *Port, fn func()) {
	b.start(p)
	go func() {
		defer b.wg.Done()
		<-p.ch
		fn()
		b.mu.Lock()
		p.exitLocked()
		b.shutdownLocked()
		b.mu.Unlock()
	}()
	b.mu.Lock()
	if next := b.pickLocked(); next != nil {
		b.resumeLocked(next)
	}
	b.mu.Unlock()
	b.wg.Wait()
}

// Now returns the virtual time.
func (b *Bus) Now() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.now
}

// Trace returns the recorded edges.
func (b *Bus) Trace() []Edge {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Edge(nil), b.trace...)
}

func (b *Bus) start(p *Port) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p.b != b || p.state != detached {
		panic(fmt.Sprintf("owsim: %s already started", p.name))
	}
	p.state = ready
	p.wake = b.now
	b.wg.Add(1)
}

// pickLocked returns the Port to run next: the earliest wake up time, ties
// going to the Port attached first.
func (b *Bus) pickLocked() *Port {
	var next *Port
	for _, p := range b.ports {
		if p.state != ready && p.state != sleeping {
			continue
		}
		if next == nil || p.wake < next.wake {
			next = p
		}
	}
	return next
}

func (b *Bus) resumeLocked(p *Port) {
	if p.wake > b.now {
		b.now = p.wake
	}
	p.state = running
	p.ch <- struct{}{}
}

// yieldLocked gives control away from p and blocks until p is resumed. It
// unlocks b.mu.
func (b *Bus) yieldLocked(p *Port) {
	next := b.pickLocked()
	if next == nil {
		b.shutdownLocked()
		b.mu.Unlock()
		return
	}
	if next == p {
		if p.wake > b.now {
			b.now = p.wake
		}
		p.state = running
		b.mu.Unlock()
		return
	}
	wait := p.state != done
	b.resumeLocked(next)
	b.mu.Unlock()
	if wait {
		<-p.ch
	}
}

// shutdownLocked closes the bus and lets every blocked Port run freely.
func (b *Bus) shutdownLocked() {
	if b.closed {
		return
	}
	b.closed = true
	b.cancel()
	for _, p := range b.ports {
		if p.state == ready || p.state == sleeping {
			p.state = running
			p.ch <- struct{}{}
		}
	}
}

// setLocked updates the level after a Port changed its output.
func (b *Bus) setLocked(by *Port) {
	high := true
	for _, p := range b.ports {
		if p.low {
			high = false
			break
		}
	}
	if high == b.high {
		return
	}
	b.high = high
	if b.opts.Trace {
		b.trace = append(b.trace, Edge{At: b.now, Level: high, By: by.name})
	}
	if !high {
		for _, p := range b.ports {
			if p.state == sleeping {
				p.state = ready
				p.wake = b.now
				p.woken = true
			}
		}
	}
}
