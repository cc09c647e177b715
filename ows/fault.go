// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ows

import (
	"errors"

	"periph.io/x/conn/v3/onewire"
)

// Fault is a protocol violation detected while following the master.
//
// Every primitive returns a Fault as its error; it ends the current
// transaction.
type Fault uint8

// Faults.
const (
	NoFault Fault = iota
	// PulseTimeout is a reset pulse longer than Timing.ResetMax.
	PulseTimeout
	// SlotTimeout is a master that did not start the next slot in time.
	SlotTimeout
	// ResetTooShort is a low pulse in idle shorter than Timing.ResetMin.
	ResetTooShort
	// PresenceCheck is a line still low after the presence pulse.
	PresenceCheck
	// Interrupted is an external wake while waiting for a reset.
	Interrupted
	// OverlongPulse is a slot held low longer than Timing.MaxSlotLow; it is
	// treated as the beginning of a reset.
	OverlongPulse
)

const faultName = "no-faultshort-pulse-timeouttime-slot-timeoutreset-too-shortpresence-check-failedexternally-interruptedslot-overlong-pulse"

var faultIndex = [...]uint8{0, 8, 27, 44, 59, 80, 102, 121}

func (f Fault) String() string {
	if int(f) >= len(faultIndex)-1 {
		return "fault(?)"
	}
	return faultName[faultIndex[f]:faultIndex[f+1]]
}

// Error implements error.
func (f Fault) Error() string {
	return "ows: " + f.String()
}

// BusError implements onewire.BusError.
func (f Fault) BusError() bool {
	return true
}

// recovery is what the engine does after a fault.
type recovery uint8

const (
	// rearm abandons the transaction and waits for a fresh reset.
	rearm recovery = iota
	// remeasure treats the ongoing low pulse as a reset.
	remeasure
	// notify calls the interrupt hook, then waits for a reset.
	notify
)

func (f Fault) recovery() recovery {
	switch f {
	case OverlongPulse:
		return remeasure
	case Interrupted:
		return notify
	default:
		return rearm
	}
}

// AsFault returns the Fault wrapped in err, if any.
func AsFault(err error) (Fault, bool) {
	var f Fault
	if errors.As(err, &f) {
		return f, true
	}
	return NoFault, false
}

var _ onewire.BusError = NoFault
