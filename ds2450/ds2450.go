// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ds2450 emulates a DS2450 quad A/D converter on top of analog input
// pins.
//
// The device exposes four 8 byte memory pages: conversion readout, control
// and status, alarm settings and calibration. Every page read and every
// written byte is protected by a CRC16.
//
// Datasheet
//
// https://www.analog.com/media/en/technical-documentation/data-sheets/DS2450.pdf
package ds2450

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/GermanBionicSystems/owslave/common"
	"github.com/GermanBionicSystems/owslave/eeprom"
	"github.com/GermanBionicSystems/owslave/ows"
	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/physic"
)

// Family is the family code of the DS2450.
const Family = 0x20

// Function commands.
const (
	cmdReadMemory  = 0xAA
	cmdWriteMemory = 0x55
	cmdConvert     = 0x3C
)

const (
	pageSize = 8
	memSize  = 4 * pageSize
	// Pages 1 to 3 are writable and persisted.
	persisted = memSize - pageSize
)

// Control is the per channel control and status register of memory page 1.
//
//	byte 0: |  OE |  OC |  -  |  -  |      RC3..RC0         |
//	byte 1: | POR |  -  | AFH | AFL | AEH | AEL |  -  | IR  |
type Control struct {
	// Resolution is the number of bits of a conversion, 1 to 16.
	Resolution uint8
	// OutputControl is the level of the channel when used as an output.
	OutputControl bool
	// OutputEnable switches the channel to an open drain output.
	OutputEnable bool
	// InputRange selects the 5.12V range instead of 2.56V.
	InputRange      bool
	AlarmEnableLow  bool
	AlarmEnableHigh bool
	AlarmFlagLow    bool
	AlarmFlagHigh   bool
	PowerOnReset    bool
}

// MarshalBinary encodes the two register bytes.
func (c *Control) MarshalBinary() ([]byte, error) {
	if c.Resolution == 0 || c.Resolution > 16 {
		return nil, fmt.Errorf("ds2450: invalid resolution %d", c.Resolution)
	}
	b := []byte{c.Resolution & 0x0F, 0}
	b[0] |= bit(c.OutputControl, 6) | bit(c.OutputEnable, 7)
	b[1] = bit(c.InputRange, 0) | bit(c.AlarmEnableLow, 2) | bit(c.AlarmEnableHigh, 3) |
		bit(c.AlarmFlagLow, 4) | bit(c.AlarmFlagHigh, 5) | bit(c.PowerOnReset, 7)
	return b, nil
}

// UnmarshalBinary decodes the two register bytes.
func (c *Control) UnmarshalBinary(b []byte) error {
	if len(b) != 2 {
		return errors.New("ds2450: control register is 2 bytes")
	}
	c.Resolution = b[0] & 0x0F
	if c.Resolution == 0 {
		c.Resolution = 16
	}
	c.OutputControl = b[0]&0x40 != 0
	c.OutputEnable = b[0]&0x80 != 0
	c.InputRange = b[1]&0x01 != 0
	c.AlarmEnableLow = b[1]&0x04 != 0
	c.AlarmEnableHigh = b[1]&0x08 != 0
	c.AlarmFlagLow = b[1]&0x10 != 0
	c.AlarmFlagHigh = b[1]&0x20 != 0
	c.PowerOnReset = b[1]&0x80 != 0
	return nil
}

// FullScale returns the input voltage matching a readout of 0x10000.
func (c *Control) FullScale() physic.ElectricPotential {
	if c.InputRange {
		return 5120 * physic.MilliVolt
	}
	return 2560 * physic.MilliVolt
}

// Alarm is a channel alarm setting of memory page 2. The most significant
// byte of a conversion is compared against both.
type Alarm struct {
	Low  uint8
	High uint8
}

// Memory is the device memory map.
type Memory struct {
	Readout     [4]uint16
	Control     [4]Control
	Alarm       [4]Alarm
	Calibration [8]byte
}

// PowerOn returns the memory content after power-up.
func PowerOn() Memory {
	var m Memory
	for i := range m.Control {
		m.Control[i] = Control{Resolution: 8, AlarmEnableLow: true, AlarmEnableHigh: true, PowerOnReset: true}
		m.Alarm[i] = Alarm{Low: 0x00, High: 0xFF}
	}
	m.Calibration[4] = 0x40
	return m
}

// MarshalBinary encodes the 32 byte memory map.
func (m *Memory) MarshalBinary() ([]byte, error) {
	b := make([]byte, memSize)
	for i := range m.Readout {
		b[2*i] = byte(m.Readout[i])
		b[2*i+1] = byte(m.Readout[i] >> 8)
		c, err := m.Control[i].MarshalBinary()
		if err != nil {
			return nil, err
		}
		copy(b[pageSize+2*i:], c)
		b[2*pageSize+2*i] = m.Alarm[i].Low
		b[2*pageSize+2*i+1] = m.Alarm[i].High
	}
	copy(b[3*pageSize:], m.Calibration[:])
	return b, nil
}

// UnmarshalBinary decodes the 32 byte memory map.
func (m *Memory) UnmarshalBinary(b []byte) error {
	if len(b) != memSize {
		return fmt.Errorf("ds2450: memory is %d bytes, got %d", memSize, len(b))
	}
	for i := range m.Readout {
		m.Readout[i] = uint16(b[2*i]) | uint16(b[2*i+1])<<8
		if err := m.Control[i].UnmarshalBinary(b[pageSize+2*i : pageSize+2*i+2]); err != nil {
			return err
		}
		m.Alarm[i] = Alarm{Low: b[2*pageSize+2*i], High: b[2*pageSize+2*i+1]}
	}
	copy(m.Calibration[:], b[3*pageSize:])
	return nil
}

// Opts contains the extended configuration.
type Opts struct {
	// Storage keeps memory pages 1 to 3 across restarts. Erased storage is
	// ignored at power-up.
	Storage eeprom.Storage
	Offset  int64
}

// Dev is an emulated DS2450. It implements ows.Handler.
type Dev struct {
	in     [4]analog.PinADC
	store  eeprom.Storage
	offset int64

	mu  sync.Mutex
	mem [memSize]byte
}

// New returns a DS2450 sampling up to four inputs, channel A first. A nil
// input keeps the preset readout on conversion.
func New(in []analog.PinADC, opts *Opts) (*Dev, error) {
	if len(in) > 4 {
		return nil, fmt.Errorf("ds2450: at most 4 inputs, got %d", len(in))
	}
	d := &Dev{}
	copy(d.in[:], in)
	if opts != nil {
		d.store = opts.Storage
		d.offset = opts.Offset
	}
	m := PowerOn()
	raw, err := m.MarshalBinary()
	if err != nil {
		return nil, err
	}
	copy(d.mem[:], raw)
	if d.store != nil {
		var e [persisted]byte
		if _, err := d.store.ReadAt(e[:], d.offset); err != nil {
			return nil, fmt.Errorf("ds2450: %w", err)
		}
		if !erased(e[:]) {
			copy(d.mem[pageSize:], e[:])
		}
	}
	return d, nil
}

func (d *Dev) String() string {
	names := make([]string, 0, 4)
	for _, p := range d.in {
		if p != nil {
			names = append(names, p.String())
		}
	}
	return "DS2450{" + strings.Join(names, ",") + "}"
}

// Halt implements conn.Resource.
func (d *Dev) Halt() error {
	return nil
}

// Memory returns a decoded copy of the memory map.
func (d *Dev) Memory() Memory {
	d.mu.Lock()
	defer d.mu.Unlock()
	var m Memory
	_ = m.UnmarshalBinary(d.mem[:])
	return m
}

// ProcessCommands implements ows.Handler.
func (d *Dev) ProcessCommands(c ows.Conn) error {
	cmd, err := c.Recv()
	if err != nil {
		return err
	}
	switch cmd {
	case cmdReadMemory:
		return d.readMemory(c)
	case cmdWriteMemory:
		return d.writeMemory(c)
	case cmdConvert:
		return d.convert(c)
	default:
		return nil
	}
}

// ProcessInterrupt implements ows.Handler.
func (d *Dev) ProcessInterrupt(c ows.Conn) error {
	return nil
}

// readMemory sends memory from the target address on. Each page end is
// followed by the CRC16 of what was sent since the previous one.
func (d *Dev) readMemory(c ows.Conn) error {
	var ta [2]byte
	if err := c.RecvData(ta[:]); err != nil {
		return err
	}
	var crc common.CRC16
	_, _ = crc.Write([]byte{cmdReadMemory, ta[0], ta[1]})
	for addr := int(ta[0]) | int(ta[1])<<8; ; addr++ {
		if addr >= memSize {
			if err := c.Send(0xFF); err != nil {
				return err
			}
			continue
		}
		d.mu.Lock()
		b := d.mem[addr]
		d.mu.Unlock()
		if err := c.Send(b); err != nil {
			return err
		}
		crc.Update(b)
		if addr%pageSize == pageSize-1 {
			if err := sendCRC(c, crc); err != nil {
				return err
			}
			crc.Reset()
		}
	}
}

// writeMemory stores one byte per round. Each round sends the CRC16 followed
// by the byte as stored. Page 0 is read-only.
func (d *Dev) writeMemory(c ows.Conn) error {
	var ta [2]byte
	if err := c.RecvData(ta[:]); err != nil {
		return err
	}
	var crc common.CRC16
	crc.Update(cmdWriteMemory)
	addr := int(ta[0]) | int(ta[1])<<8
	for {
		crc.Update(byte(addr))
		crc.Update(byte(addr >> 8))
		b, err := c.Recv()
		if err != nil {
			return err
		}
		crc.Update(b)
		if err := sendCRC(c, crc); err != nil {
			return err
		}
		stored, err := d.store1(addr, b)
		if err != nil {
			return err
		}
		if err := c.Send(stored); err != nil {
			return err
		}
		addr++
		crc.Reset()
	}
}

// store1 writes b at addr and returns the resulting memory byte.
func (d *Dev) store1(addr int, b byte) (byte, error) {
	if addr >= memSize {
		return 0xFF, nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if addr < pageSize {
		return d.mem[addr], nil
	}
	d.mem[addr] = b
	if d.store != nil {
		if _, err := d.store.WriteAt(d.mem[pageSize:], d.offset); err != nil {
			return 0, fmt.Errorf("ds2450: %w", err)
		}
	}
	return b, nil
}

// convert runs a conversion on the selected channels.
//
// The master sends the input select mask and the readout control byte, reads
// the CRC16 of the command and then polls with read slots until the
// conversion is done. Conversion is instant here so every poll reads 1.
func (d *Dev) convert(c ows.Conn) error {
	var p [2]byte
	if err := c.RecvData(p[:]); err != nil {
		return err
	}
	var crc common.CRC16
	_, _ = crc.Write([]byte{cmdConvert, p[0], p[1]})
	if err := sendCRC(c, crc); err != nil {
		return err
	}
	if d.sample(p[0], p[1]) {
		c.SetFlag(ows.FlagAlarm)
	}
	for {
		if err := c.Send(0xFF); err != nil {
			return err
		}
	}
}

// sample converts the channels in mask and reports whether an enabled alarm
// tripped.
//
// Readout control bits 2n+1..2n preset channel n before conversion: 01 clears
// it and 10 sets it to 0xFFFF.
func (d *Dev) sample(mask, preset byte) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	var m Memory
	if err := m.UnmarshalBinary(d.mem[:]); err != nil {
		return false
	}
	alarm := false
	for i := range m.Readout {
		if mask&(1<<uint(i)) == 0 {
			continue
		}
		switch (preset >> uint(2*i)) & 0x03 {
		case 0x01:
			m.Readout[i] = 0
		case 0x02:
			m.Readout[i] = 0xFFFF
		}
		ctl := &m.Control[i]
		if d.in[i] != nil {
			if s, err := d.in[i].Read(); err == nil {
				m.Readout[i] = scale(d.in[i], s, ctl.FullScale()) &^ (1<<(16-uint(ctl.Resolution)) - 1)
			}
		}
		msb := uint8(m.Readout[i] >> 8)
		ctl.AlarmFlagLow = msb < m.Alarm[i].Low
		ctl.AlarmFlagHigh = msb > m.Alarm[i].High
		if ctl.AlarmFlagLow && ctl.AlarmEnableLow || ctl.AlarmFlagHigh && ctl.AlarmEnableHigh {
			alarm = true
		}
	}
	raw, err := m.MarshalBinary()
	if err != nil {
		return false
	}
	copy(d.mem[:], raw)
	return alarm
}

// scale maps a sample to a 16 bits readout. Pins that do not report a
// voltage are scaled over their raw range.
func scale(p analog.PinADC, s analog.Sample, full physic.ElectricPotential) uint16 {
	lo, hi := p.Range()
	var v int64
	if hi.V != 0 {
		v = int64(s.V) * 0x10000 / int64(full)
	} else if hi.Raw > lo.Raw {
		v = int64(s.Raw-lo.Raw) * 0x10000 / int64(hi.Raw-lo.Raw)
	}
	if v < 0 {
		return 0
	}
	if v > 0xFFFF {
		return 0xFFFF
	}
	return uint16(v)
}

// sendCRC sends the CRC16 least significant byte first.
func sendCRC(c ows.Conn, crc common.CRC16) error {
	s := crc.Sum()
	return c.SendData([]byte{byte(s), byte(s >> 8)})
}

func bit(v bool, n uint) byte {
	if v {
		return 1 << n
	}
	return 0
}

func erased(b []byte) bool {
	for _, v := range b {
		if v != eeprom.Erased {
			return false
		}
	}
	return true
}

var _ ows.Handler = &Dev{}
