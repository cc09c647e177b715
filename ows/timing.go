// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ows

import (
	"fmt"
	"time"
)

// Timing holds the slave side protocol windows.
//
// The master owns the bus timing; these values only define what the slave
// accepts and when it samples or drives the line.
type Timing struct {
	// ResetMin is the shortest low pulse accepted as a reset.
	ResetMin time.Duration
	// ResetMax is the longest low pulse accepted as a reset.
	ResetMax time.Duration
	// PresenceWait is the delay between the end of the reset and the
	// presence pulse.
	PresenceWait time.Duration
	// PresenceLow is the width of the presence pulse.
	PresenceLow time.Duration
	// PresenceRecovery is the wait after the presence pulse before looking
	// for the first time slot.
	PresenceRecovery time.Duration
	// SampleDelay is the delay from the start of a slot to the sample of a
	// written bit. It is also how long a 1 is "sent".
	SampleDelay time.Duration
	// Write0Low is how long the line is held low to send a 0.
	Write0Low time.Duration
	// SlotTimeout bounds the wait for the master to start the next slot.
	SlotTimeout time.Duration
	// MaxSlotLow bounds the wait for the previous slot to end. Only enforced
	// when BoundSlotLow is set.
	MaxSlotLow time.Duration
	// BoundSlotLow turns a slot held low past MaxSlotLow into OverlongPulse,
	// so a reset sent in the middle of a transaction is caught. When false
	// the engine waits for the line to rise however long it takes.
	BoundSlotLow bool
	// PollPeriod is the cost of one line sample; it converts timeouts into
	// poll counts.
	PollPeriod time.Duration
	// InterruptPulse is the width of an interrupt signalled to the master.
	InterruptPulse time.Duration
	// TimerTick is the resolution of the deadline timer.
	TimerTick time.Duration
}

// Standard is the regular speed timing.
var Standard = Timing{
	ResetMin:         470 * time.Microsecond,
	ResetMax:         5 * time.Millisecond,
	PresenceWait:     30 * time.Microsecond,
	PresenceLow:      120 * time.Microsecond,
	PresenceRecovery: 270 * time.Microsecond,
	SampleDelay:      30 * time.Microsecond,
	Write0Low:        30 * time.Microsecond,
	SlotTimeout:      120 * time.Microsecond,
	MaxSlotLow:       120 * time.Microsecond,
	BoundSlotLow:     true,
	PollPeriod:       time.Microsecond,
	InterruptPulse:   1920 * time.Microsecond,
	TimerTick:        4 * time.Microsecond,
}

// Overdrive is the high speed timing, roughly an eighth of Standard.
//
// ResetMax is kept at the standard value since a regular reset must still be
// recognized.
var Overdrive = Timing{
	ResetMin:         48 * time.Microsecond,
	ResetMax:         5 * time.Millisecond,
	PresenceWait:     4 * time.Microsecond,
	PresenceLow:      15 * time.Microsecond,
	PresenceRecovery: 20 * time.Microsecond,
	SampleDelay:      4 * time.Microsecond,
	Write0Low:        4 * time.Microsecond,
	SlotTimeout:      16 * time.Microsecond,
	MaxSlotLow:       16 * time.Microsecond,
	BoundSlotLow:     true,
	PollPeriod:       125 * time.Nanosecond,
	InterruptPulse:   240 * time.Microsecond,
	TimerTick:        500 * time.Nanosecond,
}

// Validate checks the relations between the windows.
func (t *Timing) Validate() error {
	switch {
	case t.PollPeriod <= 0:
		return fmt.Errorf("ows: invalid PollPeriod %s", t.PollPeriod)
	case t.ResetMin <= 0 || t.ResetMax <= t.ResetMin:
		return fmt.Errorf("ows: invalid reset window [%s, %s]", t.ResetMin, t.ResetMax)
	case t.SampleDelay <= 0 || t.Write0Low <= 0:
		return fmt.Errorf("ows: invalid slot timing sample=%s write0=%s", t.SampleDelay, t.Write0Low)
	case t.SlotTimeout < t.PollPeriod:
		return fmt.Errorf("ows: SlotTimeout %s shorter than PollPeriod %s", t.SlotTimeout, t.PollPeriod)
	case t.BoundSlotLow && t.MaxSlotLow < t.PollPeriod:
		return fmt.Errorf("ows: MaxSlotLow %s shorter than PollPeriod %s", t.MaxSlotLow, t.PollPeriod)
	case t.PresenceLow <= 0:
		return fmt.Errorf("ows: invalid PresenceLow %s", t.PresenceLow)
	}
	return nil
}

// polls converts a timeout into a poll count of at least 1.
func (t *Timing) polls(d time.Duration) int {
	n := int(d / t.PollPeriod)
	if n < 1 {
		return 1
	}
	return n
}
