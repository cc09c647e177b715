// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ows

import "context"

// waitIdle releases the bus and returns once the line falls, which may be
// the start of a reset.
//
// The engine is armed once the line was seen high: only then is a pending
// FlagIdleInterrupt signalled to the master with a low pulse of
// Timing.InterruptPulse, and a Wake reported as Interrupted. Anything else
// ending a Sleep goes back to sleep.
func (e *Engine) waitIdle(ctx context.Context) error {
	e.line.Release()
	e.armed = false
	defer func() { e.armed = false }()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		// Drain before looking at the causes so a later Wake or SetFlag
		// still ends the next Sleep.
		select {
		case <-e.wake:
		default:
		}
		high := e.line.Read()
		if !e.armed {
			// The tail of the last slot or of our own interrupt pulse.
			e.armed = high
			continue
		}
		if !high {
			return nil
		}
		if e.woken.Swap(false) {
			return Interrupted
		}
		if e.Flags()&FlagIdleInterrupt != 0 {
			e.interruptPulse()
			continue
		}
		if e.sleeper != nil && !e.sleeper.Sleep(e.wake) {
			e.log.Debug("line cannot sleep, polling")
			e.sleeper = nil
		}
	}
}

// interruptPulse asks for the attention of the master while the bus is idle.
func (e *Engine) interruptPulse() {
	e.armed = false
	e.line.PullLow()
	e.line.Delay(e.t.InterruptPulse)
	e.line.Release()
	e.ClearFlag(FlagIdleInterrupt)
	e.stats.Interrupts++
}

// measureReset times the low pulse in progress.
//
// credit is the low time already observed before the call.
func (e *Engine) measureReset() error {
	credit := e.credit
	e.credit = 0
	if credit > e.t.ResetMin {
		credit = e.t.ResetMin
	}
	start := e.clock.Now() - credit
	e.dl.Start(e.t.ResetMin - credit)
	defer e.dl.Stop()
	stretched := false
	for !e.line.Read() {
		if !e.dl.Elapsed() {
			continue
		}
		held := e.clock.Now() - start
		if !stretched && Flag(e.flags.Load())&FlagResetInterrupt != 0 {
			e.line.PullLow()
			e.line.Delay(e.t.InterruptPulse - held)
			e.line.Release()
			e.ClearFlag(FlagResetInterrupt)
			e.stats.Interrupts++
			stretched = true
			continue
		}
		if held > e.t.ResetMax {
			return PulseTimeout
		}
	}
	if !stretched && e.dl.Remaining() > 0 {
		return ResetTooShort
	}
	return nil
}

// presence asserts the presence pulse after a valid reset.
func (e *Engine) presence() error {
	e.line.Delay(e.t.PresenceWait)
	e.line.PullLow()
	e.line.Delay(e.t.PresenceLow)
	e.line.Release()
	e.line.Delay(e.t.PresenceRecovery)
	if e.verifyPresence && !e.line.Read() {
		return PresenceCheck
	}
	e.slotStart = e.clock.Now()
	return nil
}
