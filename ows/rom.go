// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ows

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"periph.io/x/conn/v3/onewire"
)

// ROM is the 8 byte identity of a device: family code, 6 serial bytes and the
// CRC8 of the first 7 bytes, in bus order.
type ROM [8]byte

// NewROM returns the ROM for a family and serial, with its CRC.
func NewROM(family byte, serial [6]byte) ROM {
	var r ROM
	r[0] = family
	copy(r[1:7], serial[:])
	r.seal()
	return r
}

// ROMFromAddress converts a periph address. The CRC must be valid.
func ROMFromAddress(a onewire.Address) (ROM, error) {
	var r ROM
	for i := range r {
		r[i] = byte(a >> (8 * i))
	}
	if !r.Valid() {
		return ROM{}, fmt.Errorf("ows: %w: %s", errBadCRC, r)
	}
	return r, nil
}

// ParseROM parses a ROM from 16 hex digits in bus order, optionally with
// separators. The CRC byte is checked.
func ParseROM(s string) (ROM, error) {
	s = strings.NewReplacer("-", "", ":", "", ".", "", " ", "").Replace(s)
	b, err := hex.DecodeString(s)
	if err != nil {
		return ROM{}, fmt.Errorf("ows: parsing ROM %q: %w", s, err)
	}
	if len(b) != 8 {
		return ROM{}, fmt.Errorf("ows: ROM %q must be 8 bytes, got %d", s, len(b))
	}
	var r ROM
	copy(r[:], b)
	if !r.Valid() {
		return ROM{}, fmt.Errorf("ows: %w: %s", errBadCRC, r)
	}
	return r, nil
}

// Family returns the family code.
func (r ROM) Family() byte {
	return r[0]
}

// Serial returns the 6 serial bytes.
func (r ROM) Serial() [6]byte {
	var s [6]byte
	copy(s[:], r[1:7])
	return s
}

// Valid reports whether the CRC byte matches.
func (r ROM) Valid() bool {
	return onewire.CheckCRC(r[:])
}

// Address returns the periph representation of the ROM.
func (r ROM) Address() onewire.Address {
	var a onewire.Address
	for i := len(r) - 1; i >= 0; i-- {
		a = a<<8 | onewire.Address(r[i])
	}
	return a
}

// String formats as family.serial.crc in hex.
func (r ROM) String() string {
	return fmt.Sprintf("%02x.%x.%02x", r[0], r[1:7], r[7])
}

func (r *ROM) seal() {
	r[7] = onewire.CalcCRC(r[:7])
}

var errBadCRC = errors.New("invalid ROM CRC")
