// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package owsim

import (
	"errors"
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/onewire"
)

// MasterTiming is the timing generated by Master.
type MasterTiming struct {
	// ResetLow is the width of the reset pulse.
	ResetLow time.Duration
	// InterruptSample is when the line is first checked after the reset; a
	// low line means a slave is stretching the reset.
	InterruptSample time.Duration
	// InterruptWait is how long to wait for a stretched reset to end.
	InterruptWait time.Duration
	// PresenceSample is when the presence pulse is sampled after the reset.
	PresenceSample time.Duration
	// ResetHigh is the wait after the reset before the first slot.
	ResetHigh time.Duration
	Write1Low time.Duration
	Write0Low time.Duration
	ReadLow   time.Duration
	// ReadSample is when a read slot is sampled, from the start of the slot.
	ReadSample time.Duration
	Slot       time.Duration
	Recovery   time.Duration
}

// Standard is the regular speed master timing.
var Standard = MasterTiming{
	ResetLow:        480 * time.Microsecond,
	InterruptSample: 8 * time.Microsecond,
	InterruptWait:   4096 * time.Microsecond,
	PresenceSample:  70 * time.Microsecond,
	ResetHigh:       480 * time.Microsecond,
	Write1Low:       6 * time.Microsecond,
	Write0Low:       60 * time.Microsecond,
	ReadLow:         6 * time.Microsecond,
	ReadSample:      15 * time.Microsecond,
	Slot:            60 * time.Microsecond,
	Recovery:        5 * time.Microsecond,
}

// Overdrive is the high speed master timing.
var Overdrive = MasterTiming{
	ResetLow:        70 * time.Microsecond,
	InterruptSample: 2 * time.Microsecond,
	InterruptWait:   512 * time.Microsecond,
	PresenceSample:  10 * time.Microsecond,
	ResetHigh:       48 * time.Microsecond,
	Write1Low:       1 * time.Microsecond,
	Write0Low:       8 * time.Microsecond,
	ReadLow:         1 * time.Microsecond,
	ReadSample:      2 * time.Microsecond,
	Slot:            10 * time.Microsecond,
	Recovery:        2 * time.Microsecond,
}

// ResetResult is what a reset found on the bus.
type ResetResult uint8

// Reset results.
const (
	NoPresence ResetResult = iota
	Presence
	// Alarm means a slave stretched the reset to signal an interrupt.
	Alarm
	// Shorted means the line never came back high.
	Shorted
)

func (r ResetResult) String() string {
	switch r {
	case NoPresence:
		return "no presence"
	case Presence:
		return "presence"
	case Alarm:
		return "alarm"
	case Shorted:
		return "shorted"
	default:
		return fmt.Sprintf("ResetResult(%d)", uint8(r))
	}
}

// Master is a bit-banging bus master.
type Master struct {
	p *Port
	t MasterTiming
}

// NewMaster returns a Master on p. opts defaults to Standard.
func NewMaster(p *Port, opts *MasterTiming) *Master {
	if opts == nil {
		opts = &Standard
	}
	return &Master{p: p, t: *opts}
}

func (m *Master) String() string {
	return "owsim.Master{" + m.p.name + "}"
}

// Port returns the Port the master drives.
func (m *Master) Port() *Port {
	return m.p
}

// SetTiming changes the timing, for example to switch to overdrive.
func (m *Master) SetTiming(t MasterTiming) {
	m.t = t
}

// Reset issues a reset pulse and reports whether a presence pulse was seen.
func (m *Master) Reset() bool {
	return m.ResetDetail() == Presence
}

// ResetDetail issues a reset pulse and also detects a stretched reset.
func (m *Master) ResetDetail() ResetResult {
	m.p.PullLow()
	m.p.Delay(m.t.ResetLow)
	m.p.Release()
	m.p.Delay(m.t.InterruptSample)
	if !m.p.Level() {
		m.p.Delay(m.t.InterruptWait)
		if !m.p.Level() {
			return Shorted
		}
		return Alarm
	}
	m.p.Delay(m.t.PresenceSample - m.t.InterruptSample)
	r := NoPresence
	if !m.p.Level() {
		r = Presence
	}
	m.p.Delay(m.t.ResetHigh - m.t.PresenceSample)
	return r
}

// Pulse holds the line low for d then waits for recovery. It is used to
// produce malformed resets and slots.
func (m *Master) Pulse(low, high time.Duration) {
	m.p.PullLow()
	m.p.Delay(low)
	m.p.Release()
	m.p.Delay(high)
}

// Idle waits for d without touching the line.
func (m *Master) Idle(d time.Duration) {
	m.p.Delay(d)
}

// WaitLow waits up to timeout for the line to fall, then measures how long it
// stays low. It returns false if the line never fell.
func (m *Master) WaitLow(timeout time.Duration) (time.Duration, bool) {
	end := m.p.Now() + timeout
	for m.p.Read() {
		if m.p.Now() >= end {
			return 0, false
		}
	}
	start := m.p.Now()
	for !m.p.Read() {
	}
	return m.p.Now() - start, true
}

// WriteBit runs one write slot.
func (m *Master) WriteBit(v bool) {
	low := m.t.Write0Low
	if v {
		low = m.t.Write1Low
	}
	m.p.PullLow()
	m.p.Delay(low)
	m.p.Release()
	m.p.Delay(m.t.Slot - low + m.t.Recovery)
}

// ReadBit runs one read slot.
func (m *Master) ReadBit() bool {
	m.p.PullLow()
	m.p.Delay(m.t.ReadLow)
	m.p.Release()
	m.p.Delay(m.t.ReadSample - m.t.ReadLow)
	v := m.p.Level()
	m.p.Delay(m.t.Slot - m.t.ReadSample + m.t.Recovery)
	return v
}

// WriteByte writes b, LSB first.
func (m *Master) WriteByte(b byte) {
	for i := 0; i < 8; i++ {
		m.WriteBit(b&(1<<uint(i)) != 0)
	}
}

// ReadByte reads a byte, LSB first.
func (m *Master) ReadByte() byte {
	var b byte
	for i := 0; i < 8; i++ {
		if m.ReadBit() {
			b |= 1 << uint(i)
		}
	}
	return b
}

// Write writes all of w.
func (m *Master) Write(w []byte) {
	for _, b := range w {
		m.WriteByte(b)
	}
}

// Read fills r.
func (m *Master) Read(r []byte) {
	for i := range r {
		r[i] = m.ReadByte()
	}
}

// Tx implements onewire.Bus.
//
// It resets the bus, writes w then reads r. power is ignored: the simulated
// bus has no strong pull-up.
func (m *Master) Tx(w, r []byte, power onewire.Pullup) error {
	if !m.Reset() {
		return noDevicesError("owsim: no device present")
	}
	m.Write(w)
	m.Read(r)
	return nil
}

// Q implements onewire.Pins. There is no real pin behind the simulator.
func (m *Master) Q() gpio.PinIO {
	return gpio.INVALID
}

// SearchTriplet implements onewire.BusSearcher.
func (m *Master) SearchTriplet(direction byte) (onewire.TripletResult, error) {
	// Wired AND: a 0 read back means at least one slave sent a 0.
	bit := m.ReadBit()
	comp := m.ReadBit()
	tr := onewire.TripletResult{GotZero: !bit, GotOne: !comp}
	switch {
	case tr.GotZero && tr.GotOne:
		tr.Taken = direction & 1
	case tr.GotOne:
		tr.Taken = 1
	case tr.GotZero:
		tr.Taken = 0
	default:
		tr.Taken = 1
	}
	m.WriteBit(tr.Taken == 1)
	return tr, nil
}

// Search runs a complete ROM search with periph's algorithm.
func (m *Master) Search(alarmOnly bool) ([]onewire.Address, error) {
	return onewire.Search(m, alarmOnly)
}

// SearchAccelerated runs the 64 triplets of one search pass in the encoding
// of a search accelerator. The bus must have been reset and the search
// command sent.
//
// For ROM bit i, bit 2*i+1 of path is the direction taken on a conflict. In
// the result bit 2*i is set on a conflict or when no slave answered and bit
// 2*i+1 is the direction taken.
func (m *Master) SearchAccelerated(path [16]byte) [16]byte {
	var out [16]byte
	for i := 0; i < 64; i++ {
		dir := path[i/4] >> (uint(i%4)*2 + 1) & 1
		tr, _ := m.SearchTriplet(dir)
		var r byte
		if tr.GotZero == tr.GotOne {
			r = 1
		}
		r |= tr.Taken << 1
		out[i/4] |= r << (uint(i%4) * 2)
	}
	return out
}

// DecodeAccelerated splits the output of SearchAccelerated into the ROM found
// and the bit mask of conflicts.
func DecodeAccelerated(out [16]byte) (onewire.Address, uint64) {
	var a onewire.Address
	var conflicts uint64
	for i := 0; i < 64; i++ {
		r := out[i/4] >> (uint(i%4) * 2)
		if r&1 != 0 {
			conflicts |= 1 << uint(i)
		}
		if r&2 != 0 {
			a |= 1 << uint(i)
		}
	}
	return a, conflicts
}

// EncodeAccelerated builds the path for SearchAccelerated that resolves every
// conflict towards the bits of a.
func EncodeAccelerated(a onewire.Address) [16]byte {
	var path [16]byte
	for i := 0; i < 64; i++ {
		if a&(1<<uint(i)) != 0 {
			path[i/4] |= 2 << (uint(i%4) * 2)
		}
	}
	return path
}

type noDevicesError string

func (e noDevicesError) Error() string {
	return string(e)
}

func (e noDevicesError) NoDevices() bool {
	return true
}

// IsNoDevices reports whether err means nothing answered the reset.
func IsNoDevices(err error) bool {
	var nd onewire.NoDevicesError
	return errors.As(err, &nd) && nd.NoDevices()
}

var _ onewire.BusSearcher = &Master{}
var _ onewire.Pins = &Master{}
