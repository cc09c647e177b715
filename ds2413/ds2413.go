// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ds2413 emulates a DS2413 dual channel addressable switch on GPIO
// pins.
//
// PIOA and PIOB are open drain outputs driven by PIO ACCESS WRITE. Two more
// inputs, PIOC and PIOD, can be given; they are only reported by the extended
// PIO ACCESS READ 2 command, which can also report debounced levels.
//
// Datasheet
//
// https://www.analog.com/media/en/technical-documentation/data-sheets/DS2413.pdf
package ds2413

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/GermanBionicSystems/owslave/debounce"
	"github.com/GermanBionicSystems/owslave/ows"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
)

// Family is the family code of the DS2413.
const Family = 0x3A

// Function commands.
const (
	cmdPIORead  = 0xF5
	cmdPIOWrite = 0x5A
	cmdPIORead2 = 0xFA
	ack         = 0xAA
)

// Opts contains the extended configuration.
type Opts struct {
	// DebounceMask selects the inputs reported debounced by PIO ACCESS READ
	// 2. Bit 0 is PIOA.
	DebounceMask byte
	// InterruptMask selects the inputs whose debounced changes raise the
	// alarm flag and signal an interrupt to the master.
	InterruptMask byte
}

// Notifier is the part of the engine the debouncer reports to.
type Notifier interface {
	SetFlag(f ows.Flag)
	Wake()
}

// Dev is an emulated DS2413. It implements ows.Handler.
type Dev struct {
	pins []gpio.PinIO
	opts Opts
	deb  *debounce.Debouncer
	read func() byte

	mu      sync.Mutex
	latch   byte
	pending byte
}

// New returns a DS2413 on pins PIOA, PIOB and optionally PIOC and PIOD. The
// outputs start released.
func New(pins []gpio.PinIO, opts *Opts) (*Dev, error) {
	if len(pins) < 2 || len(pins) > 4 {
		return nil, fmt.Errorf("ds2413: need 2 to 4 pins, got %d", len(pins))
	}
	for _, p := range pins {
		if p == nil || p == gpio.INVALID {
			return nil, errors.New("ds2413: invalid pin")
		}
	}
	if opts == nil {
		opts = &Opts{}
	}
	d := &Dev{pins: pins, opts: *opts, latch: 0x03}
	in := make([]gpio.PinIn, len(pins))
	for i, p := range pins {
		in[i] = p
	}
	d.read = debounce.Pins(in...)
	for _, p := range pins {
		if err := p.In(gpio.Float, gpio.NoEdge); err != nil {
			return nil, fmt.Errorf("ds2413: %s: %w", p, err)
		}
	}
	d.deb = debounce.New(d.read())
	return d, nil
}

func (d *Dev) String() string {
	names := make([]string, len(d.pins))
	for i, p := range d.pins {
		names[i] = p.String()
	}
	return "DS2413{" + strings.Join(names, ",") + "}"
}

// Halt implements conn.Resource. It releases both outputs.
func (d *Dev) Halt() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.setLatch(0x03)
}

// Latch returns the output latches, bit 0 for PIOA. A set bit is a released
// output.
func (d *Dev) Latch() byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.latch
}

// ProcessCommands implements ows.Handler.
func (d *Dev) ProcessCommands(c ows.Conn) error {
	cmd, err := c.Recv()
	if err != nil {
		return err
	}
	switch cmd {
	case cmdPIORead:
		for {
			if err := c.Send(d.state()); err != nil {
				return err
			}
		}
	case cmdPIORead2:
		for {
			if err := c.Send(d.state2()); err != nil {
				return err
			}
		}
	case cmdPIOWrite:
		for {
			data, err := c.Recv()
			if err != nil {
				return err
			}
			cfm, err := c.Recv()
			if err != nil {
				return err
			}
			if data != ^cfm {
				return nil
			}
			d.mu.Lock()
			err = d.setLatch(data)
			d.mu.Unlock()
			if err != nil {
				return err
			}
			if err := c.Send(ack); err != nil {
				return err
			}
			if err := c.Send(d.state()); err != nil {
				return err
			}
		}
	default:
		return nil
	}
}

// ProcessInterrupt implements ows.Handler.
//
// Pending debounced changes are signalled to the master with an idle
// interrupt pulse.
func (d *Dev) ProcessInterrupt(c ows.Conn) error {
	d.mu.Lock()
	p := d.pending
	d.pending = 0
	d.mu.Unlock()
	if p != 0 {
		c.SetFlag(ows.FlagIdleInterrupt)
	}
	return nil
}

// Sample runs one debouncer step. Changes of inputs in Opts.InterruptMask
// raise the alarm and wake n.
func (d *Dev) Sample(n Notifier) byte {
	c := d.deb.Sample(d.read())
	d.notify(n, c)
	return c
}

// Watch samples the inputs every period until ctx is done.
func (d *Dev) Watch(ctx context.Context, n Notifier, period time.Duration) error {
	return d.deb.Run(ctx, period, d.read, func(c byte) { d.notify(n, c) })
}

func (d *Dev) notify(n Notifier, changes byte) {
	c := changes & d.opts.InterruptMask
	if c == 0 {
		return
	}
	d.mu.Lock()
	d.pending |= c
	d.mu.Unlock()
	n.SetFlag(ows.FlagAlarm)
	n.Wake()
}

// state is the PIO ACCESS READ answer.
//
//	|  7    6    5    4 |  3    2    1    0  |
//	|<complement of 3-0>|OutB PinB OutA PinA |
func (d *Dev) state() byte {
	d.mu.Lock()
	latch := d.latch
	d.mu.Unlock()
	var s byte
	if d.pins[0].Read() == gpio.High {
		s |= 0x01
	}
	if latch&0x01 != 0 {
		s |= 0x02
	}
	if d.pins[1].Read() == gpio.High {
		s |= 0x04
	}
	if latch&0x02 != 0 {
		s |= 0x08
	}
	return s | ^s<<4
}

// state2 is the PIO ACCESS READ 2 answer.
//
//	|  7    6    5    4 |  3    2    1    0  |
//	|<complement of 3-0>|PinD PinC PinB PinA |
func (d *Dev) state2() byte {
	m := d.opts.DebounceMask
	s := (d.read()&^m | d.deb.State()&m) & 0x0F
	return s | ^s<<4
}

// setLatch drives the outputs. A 0 bit pulls the pin low.
func (d *Dev) setLatch(data byte) error {
	for i := 0; i < 2; i++ {
		var err error
		if data&(1<<uint(i)) == 0 {
			err = d.pins[i].Out(gpio.Low)
		} else {
			err = d.pins[i].In(gpio.Float, gpio.NoEdge)
		}
		if err != nil {
			return fmt.Errorf("ds2413: %s: %w", d.pins[i], err)
		}
	}
	d.latch = data & 0x03
	return nil
}

var _ conn.Resource = &Dev{}
var _ ows.Handler = &Dev{}
var _ Notifier = &ows.Engine{}
