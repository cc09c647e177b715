// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ows

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/GermanBionicSystems/owslave/eeprom"
	"github.com/GermanBionicSystems/owslave/owsim"
	"periph.io/x/conn/v3/onewire"
)

const us = time.Microsecond

// Function commands understood by testDevice.
const (
	cmdEcho  = 0x11
	cmdIdent = 0x22
)

// testDevice is a minimal device layer.
type testDevice struct {
	id         byte
	selected   int
	interrupts int
	lastErr    error
	lastValue  byte
}

func (d *testDevice) ProcessCommands(c Conn) error {
	d.selected++
	cmd, err := c.Recv()
	if err != nil {
		d.lastErr = err
		return err
	}
	switch cmd {
	case cmdEcho:
		for {
			v, err := c.Recv()
			if err != nil {
				d.lastErr = err
				return err
			}
			d.lastValue = v
			if err := c.Send(v); err != nil {
				return err
			}
		}
	case cmdIdent:
		return c.Send(d.id)
	}
	return nil
}

func (d *testDevice) ProcessInterrupt(c Conn) error {
	d.interrupts++
	return nil
}

// addDevice attaches an engine to b.
func addDevice(t *testing.T, b *owsim.Bus, rom ROM, h Handler, opts *Opts) *Engine {
	p := b.Attach(rom.String())
	e, err := New(p, p, rom, h, opts)
	if err != nil {
		t.Fatal(err)
	}
	b.Go(p, func(ctx context.Context) {
		if err := e.Serve(ctx); !errors.Is(err, context.Canceled) {
			t.Errorf("Serve: %v", err)
		}
	})
	return e
}

// runMaster runs fn as the bus master and returns once everything stopped.
func runMaster(b *owsim.Bus, timing *owsim.MasterTiming, fn func(m *owsim.Master)) {
	m := owsim.NewMaster(b.Attach("master"), timing)
	b.Run(m.Port(), func() { fn(m) })
}

func rom(family byte, serial ...byte) ROM {
	var s [6]byte
	copy(s[:], serial)
	return NewROM(family, s)
}

func match(m *owsim.Master, r ROM) bool {
	if !m.Reset() {
		return false
	}
	m.WriteByte(cmdMatchROM)
	m.Write(r[:])
	return true
}

func TestEngine_roundTrip(t *testing.T) {
	b := owsim.New(nil)
	d := &testDevice{}
	e := addDevice(t, b, rom(0x3a, 1), d, nil)
	var got [256]byte
	presence := false
	runMaster(b, nil, func(m *owsim.Master) {
		if presence = m.Reset(); !presence {
			return
		}
		m.WriteByte(cmdSkipROM)
		m.WriteByte(cmdEcho)
		for v := 0; v < 256; v++ {
			m.WriteByte(byte(v))
			got[v] = m.ReadByte()
		}
	})
	if !presence {
		t.Fatal("no presence")
	}
	for v := range got {
		if got[v] != byte(v) {
			t.Fatalf("sent %#02x, read back %#02x", v, got[v])
		}
	}
	if d.lastValue != 0xff {
		t.Fatalf("device last received %#02x", d.lastValue)
	}
	if s := e.Stats(); s.Resets != 1 || s.Selected != 1 {
		t.Fatalf("%+v", s)
	}
}

func TestEngine_overdrive(t *testing.T) {
	b := owsim.New(&owsim.Opts{PollCost: 125 * time.Nanosecond})
	opts := DefaultOpts
	opts.Timing = Overdrive
	d := &testDevice{}
	addDevice(t, b, rom(0x3a, 2), d, &opts)
	var got []byte
	runMaster(b, &owsim.Overdrive, func(m *owsim.Master) {
		if !m.Reset() {
			return
		}
		m.WriteByte(cmdSkipROM)
		m.WriteByte(cmdEcho)
		for _, v := range []byte{0x00, 0xff, 0xa5, 0x3c} {
			m.WriteByte(v)
			got = append(got, m.ReadByte())
		}
	})
	if string(got) != string([]byte{0x00, 0xff, 0xa5, 0x3c}) {
		t.Fatalf("%#v", got)
	}
}

func TestEngine_resetClassification(t *testing.T) {
	data := []struct {
		name     string
		low      time.Duration
		presence bool
		fault    Fault
	}{
		{"too short", 460 * us, false, ResetTooShort},
		{"minimum", 480 * us, true, NoFault},
		{"long", 4 * time.Millisecond, true, NoFault},
		{"too long", 6 * time.Millisecond, false, PulseTimeout},
	}
	for _, line := range data {
		t.Run(line.name, func(t *testing.T) {
			b := owsim.New(&owsim.Opts{Trace: true})
			e := addDevice(t, b, rom(0x3a, 3), nil, nil)
			var presence bool
			var release time.Duration
			runMaster(b, nil, func(m *owsim.Master) {
				m.Port().PullLow()
				m.Idle(line.low)
				m.Port().Release()
				release = m.Port().Now()
				m.Idle(70 * us)
				presence = !m.Port().Level()
				m.Idle(410 * us)
			})
			if presence != line.presence {
				t.Fatalf("presence %t", presence)
			}
			if line.fault != NoFault && e.LastFault() != line.fault {
				t.Fatalf("fault %s", e.LastFault())
			}
			if !line.presence {
				return
			}
			// Presence pulse width and placement.
			var fall, rise time.Duration
			for _, edge := range b.Trace() {
				if edge.At > release && edge.By != "master" {
					if !edge.Level && fall == 0 {
						fall = edge.At
					} else if edge.Level && fall != 0 && rise == 0 {
						rise = edge.At
					}
				}
			}
			if wait := fall - release; wait < 15*us || wait > 60*us {
				t.Fatalf("presence started %s after reset", wait)
			}
			if width := rise - fall; width < 60*us || width > 240*us {
				t.Fatalf("presence lasted %s", width)
			}
		})
	}
}

func TestEngine_verifyPresence(t *testing.T) {
	b := owsim.New(nil)
	opts := DefaultOpts
	opts.VerifyPresence = true
	e := addDevice(t, b, rom(0x3a, 4), nil, &opts)
	runMaster(b, nil, func(m *owsim.Master) {
		m.Pulse(480*us, 50*us)
		// Hold the line across the end of the presence recovery.
		m.Pulse(600*us, time.Millisecond)
	})
	if s := e.Stats(); s.Faults[PresenceCheck] != 1 {
		t.Fatalf("%+v", s)
	}
}

func TestEngine_search(t *testing.T) {
	roms := []ROM{
		rom(0x3a, 0xaa, 0xda, 0xbb, 0xcf),
		rom(0x3a, 0xaa, 0xda, 0xbb, 0xce),
		rom(0x3a, 0x2a, 0xda, 0xbb, 0xcf),
		rom(0x28, 0xac, 0x41, 0x0e, 0x07),
		rom(0x20, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff),
	}
	b := owsim.New(nil)
	for _, r := range roms {
		addDevice(t, b, r, nil, nil)
	}
	var found []onewire.Address
	var err error
	runMaster(b, nil, func(m *owsim.Master) {
		found, err = m.Search(false)
	})
	if err != nil {
		t.Fatal(err)
	}
	checkFound(t, roms, found)
}

// TestEngine_searchMasking discovers each device then masks it out of the
// next pass: every device raises its alarm and MATCH ROM clears it.
func TestEngine_searchMasking(t *testing.T) {
	roms := []ROM{
		rom(0x3a, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01),
		rom(0x3a, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00),
		rom(0x3a, 0x80, 0x00, 0x00, 0x00, 0x00, 0x00),
		rom(0x3b, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00),
	}
	b := owsim.New(nil)
	for _, r := range roms {
		e := addDevice(t, b, r, nil, nil)
		e.SetFlag(FlagAlarm)
	}
	var found []onewire.Address
	runMaster(b, nil, func(m *owsim.Master) {
		for range roms {
			if !m.Reset() {
				t.Error("no presence")
				return
			}
			m.WriteByte(cmdCondSearch)
			a, _ := owsim.DecodeAccelerated(m.SearchAccelerated([16]byte{}))
			found = append(found, a)
			r, err := ROMFromAddress(a)
			if err != nil {
				t.Error(err)
				return
			}
			match(m, r)
		}
		// Nobody is left.
		m.Reset()
		m.WriteByte(cmdCondSearch)
		if tr, _ := m.SearchTriplet(0); tr.GotZero || tr.GotOne {
			t.Errorf("unexpected answer %+v", tr)
		}
	})
	checkFound(t, roms, found)
}

func checkFound(t *testing.T, roms []ROM, found []onewire.Address) {
	t.Helper()
	if len(found) != len(roms) {
		t.Fatalf("found %d devices, want %d", len(found), len(roms))
	}
	want := make([]uint64, 0, len(roms))
	for _, r := range roms {
		want = append(want, uint64(r.Address()))
	}
	got := make([]uint64, 0, len(found))
	for _, a := range found {
		got = append(got, uint64(a))
	}
	sort.Slice(want, func(i, j int) bool { return want[i] < want[j] })
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	for i := range want {
		if want[i] != got[i] {
			t.Fatalf("found %#x, want %#x", got, want)
		}
	}
}

func TestEngine_conditionalSearch(t *testing.T) {
	alarmed := rom(0x3a, 1, 2, 3)
	quiet := rom(0x3a, 1, 2, 4)
	b := owsim.New(nil)
	addDevice(t, b, alarmed, nil, nil).SetFlag(FlagAlarm)
	addDevice(t, b, quiet, nil, nil)
	var found []onewire.Address
	var err error
	runMaster(b, nil, func(m *owsim.Master) {
		found, err = m.Search(true)
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 1 || found[0] != alarmed.Address() {
		t.Fatalf("%#x", found)
	}
}

func TestEngine_conditionalSearchDisabled(t *testing.T) {
	b := owsim.New(nil)
	opts := DefaultOpts
	opts.ConditionalSearch = false
	addDevice(t, b, rom(0x3a, 1), nil, &opts).SetFlag(FlagAlarm)
	var err error
	runMaster(b, nil, func(m *owsim.Master) {
		_, err = m.Search(true)
	})
	if err == nil {
		t.Fatal("expected the search to find nothing")
	}
}

func TestEngine_matchROM(t *testing.T) {
	r := rom(0x3a, 0xaa, 0xda, 0xbb, 0xcf)
	b := owsim.New(nil)
	d := &testDevice{id: 0x5a}
	e := addDevice(t, b, r, d, nil)
	e.SetFlag(FlagAlarm)
	var exact byte
	var wrong []int
	runMaster(b, nil, func(m *owsim.Master) {
		for bit := 0; bit < 64; bit++ {
			x := r
			x[bit/8] ^= 1 << uint(bit%8)
			match(m, x)
			m.WriteByte(cmdIdent)
			if m.ReadByte() != 0xff {
				wrong = append(wrong, bit)
			}
		}
		match(m, r)
		m.WriteByte(cmdIdent)
		exact = m.ReadByte()
	})
	if len(wrong) != 0 {
		t.Fatalf("selected with bits %v flipped", wrong)
	}
	if exact != 0x5a || d.selected != 1 {
		t.Fatalf("exact match answered %#x, selected %d times", exact, d.selected)
	}
	if e.Flags()&FlagAlarm != 0 {
		t.Fatal("MATCH ROM must clear the alarm")
	}
}

func TestEngine_resume(t *testing.T) {
	ra := rom(0x3a, 0x0a)
	rb := rom(0x3a, 0x0b)
	b := owsim.New(nil)
	addDevice(t, b, ra, &testDevice{id: 0xa1}, nil)
	addDevice(t, b, rb, &testDevice{id: 0xb2}, nil)
	var got []byte
	resume := func(m *owsim.Master) {
		m.Reset()
		m.WriteByte(cmdResume)
		m.WriteByte(cmdIdent)
		got = append(got, m.ReadByte())
	}
	runMaster(b, nil, func(m *owsim.Master) {
		// Nobody was selected yet.
		resume(m)
		match(m, ra)
		m.WriteByte(cmdIdent)
		got = append(got, m.ReadByte())
		resume(m)
		resume(m)
		match(m, rb)
		m.WriteByte(cmdIdent)
		got = append(got, m.ReadByte())
		resume(m)
		// An empty transaction.
		m.Reset()
		resume(m)
		// SKIP ROM does not make a device eligible.
		m.Reset()
		m.WriteByte(cmdSkipROM)
		resume(m)
	})
	want := []byte{0xff, 0xa1, 0xa1, 0xa1, 0xb2, 0xb2, 0xff, 0xff}
	if string(got) != string(want) {
		t.Fatalf("%#x != %#x", got, want)
	}
}

func TestEngine_resumeAfterSearch(t *testing.T) {
	ra := rom(0x3a, 0x0a)
	rb := rom(0x3a, 0x0b)
	b := owsim.New(nil)
	addDevice(t, b, ra, &testDevice{id: 0xa1}, nil)
	addDevice(t, b, rb, &testDevice{id: 0xb2}, nil)
	var got byte
	runMaster(b, nil, func(m *owsim.Master) {
		m.Reset()
		m.WriteByte(cmdSearchROM)
		m.SearchAccelerated(owsim.EncodeAccelerated(rb.Address()))
		m.Reset()
		m.WriteByte(cmdResume)
		m.WriteByte(cmdIdent)
		got = m.ReadByte()
	})
	if got != 0xb2 {
		t.Fatalf("%#x", got)
	}
}

func TestEngine_readROM(t *testing.T) {
	r := rom(0x3a, 9, 8, 7)
	b := owsim.New(nil)
	addDevice(t, b, r, &testDevice{id: 0x42}, nil)
	var got ROM
	var legacy ROM
	var id byte
	runMaster(b, nil, func(m *owsim.Master) {
		m.Reset()
		m.WriteByte(cmdReadROM)
		m.Read(got[:])
		m.WriteByte(cmdSkipROM)
		m.WriteByte(cmdIdent)
		id = m.ReadByte()
		m.Reset()
		m.WriteByte(cmdReadROMLegacy)
		m.Read(legacy[:])
	})
	if got != r || legacy != r {
		t.Fatalf("%s %s", got, legacy)
	}
	if id != 0x42 {
		t.Fatalf("%#x", id)
	}
}

func TestEngine_unknownROMCommand(t *testing.T) {
	b := owsim.New(nil)
	d := &testDevice{id: 0x42}
	addDevice(t, b, rom(0x3a, 1), d, nil)
	var id byte
	runMaster(b, nil, func(m *owsim.Master) {
		m.Reset()
		m.WriteByte(0x77)
		m.WriteByte(cmdIdent)
		id = m.ReadByte()
	})
	if id != 0xff || d.selected != 0 {
		t.Fatalf("%#x %d", id, d.selected)
	}
}

func TestEngine_faultMidByte(t *testing.T) {
	b := owsim.New(nil)
	d := &testDevice{}
	e := addDevice(t, b, rom(0x3a, 5), d, nil)
	runMaster(b, nil, func(m *owsim.Master) {
		m.Reset()
		m.WriteByte(cmdSkipROM)
		m.WriteByte(cmdEcho)
		for i := 0; i < 4; i++ {
			m.WriteBit(true)
		}
		m.Idle(time.Millisecond)
	})
	if !errors.Is(d.lastErr, SlotTimeout) {
		t.Fatalf("device saw %v", d.lastErr)
	}
	if d.lastValue != 0 {
		t.Fatalf("partial byte %#x delivered", d.lastValue)
	}
	if !e.AwaitingReset() || e.LastFault() != SlotTimeout {
		t.Fatalf("awaiting reset %t, fault %s", e.AwaitingReset(), e.LastFault())
	}
}

func TestEngine_overlongPulseIsReset(t *testing.T) {
	b := owsim.New(nil)
	d := &testDevice{id: 0x42}
	e := addDevice(t, b, rom(0x3a, 6), d, nil)
	var presence bool
	var id byte
	runMaster(b, nil, func(m *owsim.Master) {
		m.Reset()
		m.WriteByte(cmdSkipROM)
		// Interrupt the function command with a reset.
		m.WriteBit(false)
		presence = m.Reset()
		m.WriteByte(cmdSkipROM)
		m.WriteByte(cmdIdent)
		id = m.ReadByte()
	})
	if !presence || id != 0x42 {
		t.Fatalf("presence %t id %#x", presence, id)
	}
	if s := e.Stats(); s.Faults[OverlongPulse] != 1 || s.Resets != 2 {
		t.Fatalf("%+v", s)
	}
}

func TestEngine_unboundedSlotLow(t *testing.T) {
	b := owsim.New(nil)
	opts := DefaultOpts
	opts.Timing.BoundSlotLow = false
	d := &testDevice{}
	e := addDevice(t, b, rom(0x3a, 11), d, &opts)
	var got []byte
	runMaster(b, nil, func(m *owsim.Master) {
		if !m.Reset() {
			return
		}
		m.WriteByte(cmdSkipROM)
		m.WriteByte(cmdEcho)
		for _, v := range []byte{0x00, 0xff, 0x5a} {
			m.WriteByte(v)
			got = append(got, m.ReadByte())
		}
	})
	if string(got) != string([]byte{0x00, 0xff, 0x5a}) {
		t.Fatalf("%#v", got)
	}
	if s := e.Stats(); s.Faults[OverlongPulse] != 0 || s.Selected != 1 {
		t.Fatalf("%+v", s)
	}
}

func TestEngine_writeROM(t *testing.T) {
	st := eeprom.NewMemory(16)
	if _, err := st.WriteAt([]byte{1, 2, 3, 4, 5, 6}, 8); err != nil {
		t.Fatal(err)
	}
	opts := DefaultOpts
	opts.WriteROM = true
	b := owsim.New(nil)
	p := b.Attach("dev")
	e, err := NewFromStorage(p, p, 0x3a, st, 8, nil, &opts)
	if err != nil {
		t.Fatal(err)
	}
	b.Go(p, func(ctx context.Context) { _ = e.Serve(ctx) })
	orig := e.ROM()
	next := rom(0x3a, 0xde, 0xad, 0xbe, 0xef, 0x00, 0x01)
	corrupt := next
	corrupt[7] ^= 1
	other := rom(0x28, 0xde, 0xad, 0xbe, 0xef, 0x00, 0x01)
	var echo [3]ROM
	var found []onewire.Address
	runMaster(b, nil, func(m *owsim.Master) {
		for i, r := range []ROM{corrupt, other, next} {
			m.Reset()
			m.WriteByte(cmdWriteROM)
			m.Write(r[:])
			m.Read(echo[i][:])
		}
		found, _ = m.Search(false)
	})
	if orig != rom(0x3a, 1, 2, 3, 4, 5, 6) {
		t.Fatal(orig)
	}
	if echo[0] != orig || echo[1] != orig || echo[2] != next {
		t.Fatalf("%s", echo)
	}
	if len(found) != 1 || found[0] != next.Address() {
		t.Fatalf("%#x", found)
	}
	var serial [6]byte
	if _, err := st.ReadAt(serial[:], 8); err != nil {
		t.Fatal(err)
	}
	if serial != next.Serial() {
		t.Fatalf("persisted %#x", serial)
	}
}

func TestEngine_writeROMDisabled(t *testing.T) {
	b := owsim.New(nil)
	r := rom(0x3a, 1)
	e := addDevice(t, b, r, nil, nil)
	runMaster(b, nil, func(m *owsim.Master) {
		next := rom(0x3a, 2)
		m.Reset()
		m.WriteByte(cmdWriteROM)
		m.Write(next[:])
		m.Idle(time.Millisecond)
	})
	if e.ROM() != r {
		t.Fatal(e.ROM())
	}
}

func TestEngine_resetInterrupt(t *testing.T) {
	b := owsim.New(nil)
	e := addDevice(t, b, rom(0x3a, 7), nil, nil)
	e.SetFlag(FlagResetInterrupt)
	var first, second owsim.ResetResult
	runMaster(b, nil, func(m *owsim.Master) {
		first = m.ResetDetail()
		second = m.ResetDetail()
	})
	if first != owsim.Alarm || second != owsim.Presence {
		t.Fatalf("%s then %s", first, second)
	}
	if e.Flags()&FlagResetInterrupt != 0 {
		t.Fatal("flag not cleared")
	}
}

func TestEngine_idleInterrupt(t *testing.T) {
	for _, sleep := range []bool{false, true} {
		b := owsim.New(nil)
		opts := DefaultOpts
		opts.Sleep = sleep
		e := addDevice(t, b, rom(0x3a, 8), nil, &opts)
		var width time.Duration
		var ok bool
		runMaster(b, nil, func(m *owsim.Master) {
			m.Idle(100 * us)
			e.SetFlag(FlagIdleInterrupt)
			width, ok = m.WaitLow(time.Millisecond)
		})
		if !ok {
			t.Fatalf("sleep=%t: no interrupt pulse", sleep)
		}
		if d := width - Standard.InterruptPulse; d < -5*us || d > 5*us {
			t.Fatalf("sleep=%t: pulse lasted %s", sleep, width)
		}
		if s := e.Stats(); s.Interrupts != 1 || s.Faults[Interrupted] != 0 {
			t.Fatalf("sleep=%t: %+v", sleep, s)
		}
	}
}

func TestEngine_wake(t *testing.T) {
	for _, sleep := range []bool{false, true} {
		b := owsim.New(nil)
		d := &testDevice{id: 0x42}
		opts := DefaultOpts
		opts.Sleep = sleep
		e := addDevice(t, b, rom(0x3a, 9), d, &opts)
		var id byte
		runMaster(b, nil, func(m *owsim.Master) {
			m.Idle(500 * us)
			e.Wake()
			m.Idle(500 * us)
			// Still answers afterwards.
			m.Reset()
			m.WriteByte(cmdSkipROM)
			m.WriteByte(cmdIdent)
			id = m.ReadByte()
		})
		if d.interrupts != 1 || id != 0x42 {
			t.Fatalf("sleep=%t: %d interrupts, id %#x", sleep, d.interrupts, id)
		}
		if e.Stats().Faults[Interrupted] != 1 {
			t.Fatalf("sleep=%t: %+v", sleep, e.Stats())
		}
	}
}

func TestEngine_handlerError(t *testing.T) {
	b := owsim.New(nil)
	h := HandlerFuncs{Commands: func(c Conn) error { return errors.New("unsupported") }}
	e := addDevice(t, b, rom(0x3a, 10), h, nil)
	var presence bool
	runMaster(b, nil, func(m *owsim.Master) {
		m.Reset()
		m.WriteByte(cmdSkipROM)
		m.Idle(200 * us)
		presence = m.Reset()
	})
	if !presence {
		t.Fatal("engine did not recover")
	}
	if s := e.Stats(); s.HandlerError != 1 {
		t.Fatalf("%+v", s)
	}
}

func TestNew(t *testing.T) {
	b := owsim.New(nil)
	p := b.Attach("p")
	if _, err := New(nil, p, ROM{}, nil, nil); err == nil {
		t.Fatal("expected error")
	}
	if _, err := New(p, nil, ROM{}, nil, nil); err == nil {
		t.Fatal("expected error")
	}
	bad := DefaultOpts
	bad.Timing.PollPeriod = -1
	if _, err := New(p, p, ROM{}, nil, &bad); err == nil {
		t.Fatal("expected error")
	}
	e, err := New(p, p, ROM{0x3a, 1, 2, 3, 4, 5, 6, 0}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !e.ROM().Valid() || e.Timing() != Standard {
		t.Fatal(e)
	}
	if s := e.String(); s != "ows.Engine{"+e.ROM().String()+"}" {
		t.Fatal(s)
	}
	if _, err := NewFromStorage(p, p, 0x3a, nil, 0, nil, nil); err == nil {
		t.Fatal("expected error")
	}
	if _, err := NewFromStorage(p, p, 0x3a, eeprom.NewMemory(4), 0, nil, nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestFlags(t *testing.T) {
	b := owsim.New(nil)
	p := b.Attach("p")
	e, err := New(p, p, ROM{}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	e.SetFlag(FlagAlarm | FlagIdleInterrupt)
	e.ClearFlag(FlagIdleInterrupt)
	if f := e.Flags(); f != FlagAlarm {
		t.Fatalf("%#x", f)
	}
	e.Wake()
	e.Wake()
	if len(e.wake) != 1 || !e.woken.Load() {
		t.Fatal("wake must not block")
	}
	<-e.wake
	e.woken.Store(false)
	e.SetFlag(FlagIdleInterrupt)
	if len(e.wake) != 1 || e.woken.Load() {
		t.Fatal("FlagIdleInterrupt must end the idle wait without a wake")
	}
}

var _ Sleeper = &owsim.Port{}
