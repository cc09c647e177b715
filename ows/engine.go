// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ows

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/GermanBionicSystems/owslave/eeprom"
)

// Flag is the state shared with device layers that drives conditional search
// and interrupts.
type Flag uint32

const (
	// FlagAlarm makes the device answer CONDITIONAL SEARCH. A successful
	// MATCH ROM clears it.
	FlagAlarm Flag = 1 << iota
	// FlagResetInterrupt stretches the next reset pulse to
	// Timing.InterruptPulse.
	FlagResetInterrupt
	// FlagIdleInterrupt emits a low pulse of Timing.InterruptPulse as soon
	// as the bus is idle.
	FlagIdleInterrupt
)

// Conn is the bus as seen by a selected device.
//
// All transfer methods return a Fault when the master stops following the
// protocol. The device must then return the error as is; no more data can be
// exchanged until the next reset.
type Conn interface {
	RecvBit() (bool, error)
	SendBit(v bool) error
	Recv() (byte, error)
	Send(b byte) error
	RecvData(buf []byte) error
	SendData(buf []byte) error
	SetFlag(f Flag)
	ClearFlag(f Flag)
	Flags() Flag
	ROM() ROM
}

// Handler is a device layer.
type Handler interface {
	// ProcessCommands is called once the device is selected. It returns
	// when the transaction is over.
	ProcessCommands(c Conn) error
	// ProcessInterrupt is called after the engine was woken up while the bus
	// was idle. It must not exchange data.
	ProcessInterrupt(c Conn) error
}

// HandlerFuncs adapts functions to a Handler. nil members do nothing.
type HandlerFuncs struct {
	Commands  func(c Conn) error
	Interrupt func(c Conn) error
}

// ProcessCommands implements Handler.
func (h HandlerFuncs) ProcessCommands(c Conn) error {
	if h.Commands == nil {
		return nil
	}
	return h.Commands(c)
}

// ProcessInterrupt implements Handler.
func (h HandlerFuncs) ProcessInterrupt(c Conn) error {
	if h.Interrupt == nil {
		return nil
	}
	return h.Interrupt(c)
}

// Opts contains the engine configuration.
type Opts struct {
	// Timing defaults to Standard when zero.
	Timing Timing
	// Sleep lets the engine suspend in idle when the Line implements
	// Sleeper.
	Sleep bool
	// VerifyPresence checks the line is back high after the presence pulse.
	VerifyPresence bool
	// WriteROM enables the WRITE ROM command.
	WriteROM bool
	// ConditionalSearch enables the CONDITIONAL SEARCH command.
	ConditionalSearch bool
	// Storage persists a ROM changed by WRITE ROM at StorageOffset.
	Storage       eeprom.Storage
	StorageOffset int64
	// Logger receives faults at debug level once a transaction is over.
	// Defaults to discarding.
	Logger *slog.Logger
}

// DefaultOpts is the recommended default options.
var DefaultOpts = Opts{
	Timing:            Standard,
	ConditionalSearch: true,
}

// Stats counts what the engine has seen. It is only updated by the goroutine
// running the engine.
type Stats struct {
	Resets       uint64
	Selected     uint64
	Searched     uint64
	Interrupts   uint64
	Faults       [OverlongPulse + 1]uint64
	HandlerError uint64
}

// Engine is a software 1-Wire slave.
//
// Except for SetFlag, ClearFlag, Flags and Wake, methods must be called from
// a single goroutine.
type Engine struct {
	line    Line
	sleeper Sleeper
	clock   Clock
	dl      *Deadline
	h       Handler
	log     *slog.Logger

	t                 Timing
	slotPolls         int
	slotLowPolls      int
	verifyPresence    bool
	conditionalSearch bool
	writeROM          bool
	store             eeprom.Storage
	storeOffset       int64

	rom   ROM
	flags atomic.Uint32
	woken atomic.Bool
	// wake ends a Sleep. It is signalled by Wake and by SetFlag.
	wake chan struct{}

	awaitingReset  bool
	selected       bool
	resumeEligible bool
	armed          bool
	credit         time.Duration
	slotStart      time.Duration
	last           Fault
	stats          Stats
}

// New returns an engine impersonating rom on l.
//
// The CRC byte of rom is ignored and recomputed. h may be nil for a device
// with no function commands.
func New(l Line, c Clock, rom ROM, h Handler, opts *Opts) (*Engine, error) {
	if l == nil {
		return nil, errNoLine
	}
	if c == nil {
		return nil, errNoClock
	}
	if opts == nil {
		opts = &DefaultOpts
	}
	t := opts.Timing
	if t == (Timing{}) {
		t = Standard
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if h == nil {
		h = HandlerFuncs{}
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	rom.seal()
	e := &Engine{
		line:              l,
		clock:             c,
		dl:                NewDeadline(c, t.TimerTick),
		h:                 h,
		t:                 t,
		slotPolls:         t.polls(t.SlotTimeout),
		slotLowPolls:      t.polls(t.MaxSlotLow),
		verifyPresence:    opts.VerifyPresence,
		conditionalSearch: opts.ConditionalSearch,
		writeROM:          opts.WriteROM,
		store:             opts.Storage,
		storeOffset:       opts.StorageOffset,
		rom:               rom,
		wake:              make(chan struct{}, 1),
		awaitingReset:     true,
	}
	if opts.Sleep {
		e.sleeper, _ = l.(Sleeper)
	}
	e.log = log.With("rom", rom.String())
	return e, nil
}

// NewFromStorage returns an engine whose serial bytes are read from st at
// offset. Changes made by WRITE ROM are saved at the same place.
func NewFromStorage(l Line, c Clock, family byte, st eeprom.Storage, offset int64, h Handler, opts *Opts) (*Engine, error) {
	if st == nil {
		return nil, errNoStorage
	}
	var serial [6]byte
	if _, err := st.ReadAt(serial[:], offset); err != nil {
		return nil, fmt.Errorf("ows: reading serial: %w", err)
	}
	o := DefaultOpts
	if opts != nil {
		o = *opts
	}
	o.Storage = st
	o.StorageOffset = offset
	return New(l, c, NewROM(family, serial), h, &o)
}

func (e *Engine) String() string {
	return fmt.Sprintf("ows.Engine{%s}", e.rom)
}

// ROM returns the current identity.
func (e *Engine) ROM() ROM {
	return e.rom
}

// SetFlag sets f. It is safe for concurrent use.
//
// FlagIdleInterrupt ends the idle wait so the pulse is sent right away.
func (e *Engine) SetFlag(f Flag) {
	for {
		old := e.flags.Load()
		if e.flags.CompareAndSwap(old, old|uint32(f)) {
			break
		}
	}
	if f&FlagIdleInterrupt != 0 {
		e.kick()
	}
}

// ClearFlag clears f. It is safe for concurrent use.
func (e *Engine) ClearFlag(f Flag) {
	for {
		old := e.flags.Load()
		if e.flags.CompareAndSwap(old, old&^uint32(f)) {
			return
		}
	}
}

// Flags returns the current flags. It is safe for concurrent use.
func (e *Engine) Flags() Flag {
	return Flag(e.flags.Load())
}

// Wake interrupts the idle wait. It is safe for concurrent use.
//
// The engine reports Interrupted and calls Handler.ProcessInterrupt. A wake
// received in the middle of a transaction is handled once the bus is idle.
func (e *Engine) Wake() {
	e.woken.Store(true)
	e.kick()
}

func (e *Engine) kick() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// AwaitingReset reports whether the engine will wait for a fresh reset on
// the next WaitRequest call.
func (e *Engine) AwaitingReset() bool {
	return e.awaitingReset
}

// LastFault returns the fault that ended the last faulty transaction.
func (e *Engine) LastFault() Fault {
	return e.last
}

// Stats returns the counters. Same goroutine restrictions as WaitRequest.
func (e *Engine) Stats() Stats {
	return e.stats
}

// Timing returns the timing in use.
func (e *Engine) Timing() Timing {
	return e.t
}

// WaitRequest runs one bus transaction: it waits for a reset, answers with a
// presence pulse, runs the ROM command and, when selected, the Handler.
//
// Faults are handled internally. Only the context error is returned.
func (e *Engine) WaitRequest(ctx context.Context) error {
	err := e.transaction(ctx)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	e.recover(err)
	return nil
}

// Serve runs transactions until ctx is canceled.
func (e *Engine) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, e.Wake)
	defer stop()
	for {
		if err := e.WaitRequest(ctx); err != nil {
			return err
		}
	}
}

func (e *Engine) transaction(ctx context.Context) error {
	if e.awaitingReset {
		if err := e.waitIdle(ctx); err != nil {
			return err
		}
	}
	e.awaitingReset = true
	if err := e.measureReset(); err != nil {
		return err
	}
	e.stats.Resets++
	e.resumeEligible = e.selected
	e.selected = false
	if err := e.presence(); err != nil {
		return err
	}
	ok, err := e.dispatch()
	if err != nil || !ok {
		return err
	}
	e.stats.Selected++
	return e.h.ProcessCommands(e)
}

// recover classifies the error that ended a transaction.
func (e *Engine) recover(err error) {
	f, ok := AsFault(err)
	if !ok {
		e.stats.HandlerError++
		e.awaitingReset = true
		e.log.Warn("transaction aborted", "err", err)
		return
	}
	e.last = f
	e.stats.Faults[f]++
	switch f.recovery() {
	case remeasure:
		e.awaitingReset = false
		e.log.Debug("fault", "fault", f.String(), "low", e.credit)
	case notify:
		e.awaitingReset = true
		e.log.Debug("fault", "fault", f.String())
		if err := e.h.ProcessInterrupt(e); err != nil {
			e.stats.HandlerError++
			e.log.Warn("interrupt handler", "err", err)
		}
	default:
		e.awaitingReset = true
		e.credit = 0
		e.log.Debug("fault", "fault", f.String())
	}
}

var (
	errNoLine    = errors.New("ows: no line")
	errNoClock   = errors.New("ows: no clock")
	errNoPin     = errors.New("ows: no pin")
	errNoStorage = errors.New("ows: no storage")
)

var _ Conn = &Engine{}
