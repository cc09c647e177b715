// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ds2450

import (
	"bytes"
	"context"
	"testing"

	"github.com/GermanBionicSystems/owslave/eeprom"
	"github.com/GermanBionicSystems/owslave/ows"
	"github.com/GermanBionicSystems/owslave/owsim"
	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/onewire"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/pin"
)

var rom = ows.NewROM(Family, [6]byte{0x10, 0x20, 0x30, 0x40})

type adc struct {
	pin.BasicPin
	s   analog.Sample
	max analog.Sample
}

func (a *adc) Range() (analog.Sample, analog.Sample) {
	return analog.Sample{}, a.max
}

func (a *adc) Read() (analog.Sample, error) {
	return a.s, nil
}

func volts(name string, v physic.ElectricPotential) *adc {
	return &adc{
		BasicPin: pin.BasicPin{N: name},
		s:        analog.Sample{V: v},
		max:      analog.Sample{V: 5 * physic.Volt, Raw: 1023},
	}
}

func run(t *testing.T, d *Dev, fn func(m *owsim.Master, e *ows.Engine)) {
	b := owsim.New(nil)
	p := b.Attach("ds2450")
	e, err := ows.New(p, p, rom, d, nil)
	if err != nil {
		t.Fatal(err)
	}
	b.Go(p, func(ctx context.Context) { _ = e.Serve(ctx) })
	m := owsim.NewMaster(b.Attach("master"), nil)
	b.Run(m.Port(), func() { fn(m, e) })
}

func tx(m *owsim.Master, w []byte, n int) []byte {
	r := make([]byte, n)
	dev := onewire.Dev{Bus: m, Addr: rom.Address()}
	_ = dev.Tx(w, r)
	return r
}

func TestControl(t *testing.T) {
	c := Control{Resolution: 16, OutputEnable: true, InputRange: true, AlarmFlagHigh: true, PowerOnReset: true}
	b, err := c.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(b, []byte{0x80, 0xa1}) {
		t.Fatalf("%#x", b)
	}
	var got Control
	if err := got.UnmarshalBinary(b); err != nil {
		t.Fatal(err)
	}
	if got != c {
		t.Fatalf("%+v", got)
	}
	if got.FullScale() != 5120*physic.MilliVolt {
		t.Fatal(got.FullScale())
	}
	if err := got.UnmarshalBinary(b[:1]); err == nil {
		t.Fatal("expected error")
	}
	c.Resolution = 0
	if _, err := c.MarshalBinary(); err == nil {
		t.Fatal("expected error")
	}
}

func TestPowerOn(t *testing.T) {
	m := PowerOn()
	b, err := m.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{
		0, 0, 0, 0, 0, 0, 0, 0,
		0x08, 0x8c, 0x08, 0x8c, 0x08, 0x8c, 0x08, 0x8c,
		0x00, 0xff, 0x00, 0xff, 0x00, 0xff, 0x00, 0xff,
		0, 0, 0, 0, 0x40, 0, 0, 0,
	}
	if !bytes.Equal(b, want) {
		t.Fatalf("%#x", b)
	}
	var back Memory
	if err := back.UnmarshalBinary(b); err != nil {
		t.Fatal(err)
	}
	if back != m {
		t.Fatalf("%+v", back)
	}
}

func TestNew(t *testing.T) {
	if _, err := New(make([]analog.PinADC, 5), nil); err == nil {
		t.Fatal("expected error")
	}
	d, err := New([]analog.PinADC{volts("A0", 0), nil, volts("A2", 0)}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if s := d.String(); s != "DS2450{A0,A2}" {
		t.Fatal(s)
	}
	if d.Memory() != PowerOn() {
		t.Fatal("unexpected memory")
	}
}

func TestReadMemory(t *testing.T) {
	d, err := New(nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	var pages, tail []byte
	run(t, d, func(m *owsim.Master, e *ows.Engine) {
		pages = tx(m, []byte{cmdReadMemory, 0x08, 0x00}, 20)
		tail = tx(m, []byte{cmdReadMemory, 0x1e, 0x00}, 6)
	})
	want := []byte{
		0x08, 0x8c, 0x08, 0x8c, 0x08, 0x8c, 0x08, 0x8c, 0x3b, 0x27,
		0x00, 0xff, 0x00, 0xff, 0x00, 0xff, 0x00, 0xff, 0x6b, 0x6b,
	}
	if !bytes.Equal(pages, want) {
		t.Fatalf("%#x", pages)
	}
	if !bytes.Equal(tail, []byte{0, 0, 0x1e, 0x30, 0xff, 0xff}) {
		t.Fatalf("%#x", tail)
	}
}

func TestWriteMemory(t *testing.T) {
	st := eeprom.NewMemory(64)
	d, err := New(nil, &Opts{Storage: st, Offset: 16})
	if err != nil {
		t.Fatal(err)
	}
	var first, second, ro [3]byte
	run(t, d, func(m *owsim.Master, e *ows.Engine) {
		if !m.Reset() {
			t.Error("no presence")
			return
		}
		m.WriteByte(0x55)
		m.Write(rom[:])
		m.Write([]byte{cmdWriteMemory, 0x11, 0x00, 0x50})
		m.Read(first[:])
		m.WriteByte(0x60)
		m.Read(second[:])
		copy(ro[:], tx(m, []byte{cmdWriteMemory, 0x00, 0x00, 0x12}, 3))
	})
	if first != [3]byte{0x41, 0xf5, 0x50} {
		t.Fatalf("%#x", first)
	}
	if second != [3]byte{0xa0, 0x2d, 0x60} {
		t.Fatalf("%#x", second)
	}
	// Page 0 is read-only: the stored byte is echoed.
	if ro != [3]byte{0x91, 0xc1, 0x00} {
		t.Fatalf("%#x", ro)
	}
	mem := d.Memory()
	if mem.Alarm[0] != (Alarm{Low: 0, High: 0x50}) || mem.Alarm[1] != (Alarm{Low: 0x60, High: 0xff}) {
		t.Fatalf("%+v", mem.Alarm)
	}
	// Settings are recalled from storage.
	d2, err := New(nil, &Opts{Storage: st, Offset: 16})
	if err != nil {
		t.Fatal(err)
	}
	if d2.Memory().Alarm != mem.Alarm {
		t.Fatalf("%+v", d2.Memory().Alarm)
	}
}

func TestConvert(t *testing.T) {
	raw := &adc{
		BasicPin: pin.BasicPin{N: "A2"},
		s:        analog.Sample{Raw: 512},
		max:      analog.Sample{Raw: 1023},
	}
	in := []analog.PinADC{volts("A0", 1001*physic.MilliVolt), nil, raw}
	d, err := New(in, nil)
	if err != nil {
		t.Fatal(err)
	}
	var crc, page []byte
	var flags ows.Flag
	run(t, d, func(m *owsim.Master, e *ows.Engine) {
		// All channels, B preset to 0xFFFF.
		crc = tx(m, []byte{cmdConvert, 0x0f, 0x08}, 3)
		flags = e.Flags()
		page = tx(m, []byte{cmdReadMemory, 0x00, 0x00}, 10)
	})
	if !bytes.Equal(crc, []byte{0xc4, 0x3a, 0xff}) {
		t.Fatalf("%#x", crc)
	}
	if flags&ows.FlagAlarm != 0 {
		t.Fatal("unexpected alarm")
	}
	want := []byte{0x00, 0x64, 0xff, 0xff, 0x00, 0x80, 0x00, 0x00, 0x07, 0xef}
	if !bytes.Equal(page, want) {
		t.Fatalf("%#x", page)
	}
}

func TestConvert_resolution(t *testing.T) {
	d, err := New([]analog.PinADC{volts("A0", 1001*physic.MilliVolt)}, nil)
	if err != nil {
		t.Fatal(err)
	}
	d.mu.Lock()
	d.mem[pageSize] = 0
	d.mu.Unlock()
	if d.sample(0x01, 0) {
		t.Fatal("unexpected alarm")
	}
	if r := d.Memory().Readout[0]; r != 0x6419 {
		t.Fatalf("%#x", r)
	}
}

func TestConvert_alarm(t *testing.T) {
	d, err := New([]analog.PinADC{volts("A0", 1001*physic.MilliVolt)}, nil)
	if err != nil {
		t.Fatal(err)
	}
	var crc []byte
	var found []onewire.Address
	run(t, d, func(m *owsim.Master, e *ows.Engine) {
		tx(m, []byte{cmdWriteMemory, 0x11, 0x00, 0x50}, 3)
		if f, _ := m.Search(true); len(f) != 0 {
			t.Errorf("%#x", f)
		}
		crc = tx(m, []byte{cmdConvert, 0x01, 0x00}, 2)
		found, _ = m.Search(true)
	})
	if !bytes.Equal(crc, []byte{0xc1, 0x9c}) {
		t.Fatalf("%#x", crc)
	}
	if len(found) != 1 || found[0] != rom.Address() {
		t.Fatalf("%#x", found)
	}
	c := d.Memory().Control[0]
	if !c.AlarmFlagHigh || c.AlarmFlagLow {
		t.Fatalf("%+v", c)
	}
}
