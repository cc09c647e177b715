// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package common contains the Dallas/Maxim CRC16 protecting memory pages of
// the device layers.
//
// The CRC8 of ROM codes and scratchpads is onewire.CalcCRC.
package common

// CRC16 is a running Dallas/Maxim 1-Wire CRC16 (polynomial 0xA001 reflected,
// initial value 0).
//
// The zero value is ready to use.
type CRC16 uint16

// Reset sets the running CRC back to its initial value.
func (c *CRC16) Reset() {
	*c = 0
}

// Update folds b into the running CRC.
func (c *CRC16) Update(b byte) {
	crc := uint16(*c)
	for range 8 {
		mix := (byte(crc) ^ b) & 0x01
		crc >>= 1
		if mix != 0 {
			crc ^= 0xA001
		}
		b >>= 1
	}
	*c = CRC16(crc)
}

// Write implements io.Writer so a CRC16 can sit behind an io.MultiWriter.
func (c *CRC16) Write(p []byte) (int, error) {
	for _, b := range p {
		c.Update(b)
	}
	return len(p), nil
}

// Sum returns the current value.
func (c CRC16) Sum() uint16 {
	return uint16(c)
}

// Checksum16 returns the CRC16 of data.
func Checksum16(data []byte) uint16 {
	var c CRC16
	_, _ = c.Write(data)
	return c.Sum()
}
