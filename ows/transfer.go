// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ows

// waitSlot returns at the falling edge that starts the next time slot.
//
// The line must already be released by the caller.
func (e *Engine) waitSlot() error {
	if e.t.BoundSlotLow {
		for n := e.slotLowPolls; !e.line.Read(); {
			if n--; n == 0 {
				e.credit = e.clock.Now() - e.slotStart
				return OverlongPulse
			}
		}
	} else {
		for !e.line.Read() {
		}
	}
	for n := e.slotPolls; e.line.Read(); {
		if n--; n == 0 {
			return SlotTimeout
		}
	}
	e.slotStart = e.clock.Now()
	return nil
}

// RecvBit reads one bit written by the master.
func (e *Engine) RecvBit() (bool, error) {
	e.line.Release()
	if err := e.waitSlot(); err != nil {
		return false, err
	}
	e.line.Delay(e.t.SampleDelay)
	return e.line.Read(), nil
}

// SendBit answers one read slot of the master.
func (e *Engine) SendBit(v bool) error {
	e.line.Release()
	if err := e.waitSlot(); err != nil {
		return err
	}
	if v {
		e.line.Delay(e.t.SampleDelay)
		return nil
	}
	e.line.PullLow()
	e.line.Delay(e.t.Write0Low)
	e.line.Release()
	return nil
}

// Recv reads one byte, LSB first.
func (e *Engine) Recv() (byte, error) {
	var b byte
	for mask := byte(1); mask != 0; mask <<= 1 {
		v, err := e.RecvBit()
		if err != nil {
			return 0, err
		}
		if v {
			b |= mask
		}
	}
	return b, nil
}

// Send writes one byte, LSB first.
func (e *Engine) Send(b byte) error {
	for mask := byte(1); mask != 0; mask <<= 1 {
		if err := e.SendBit(b&mask != 0); err != nil {
			return err
		}
	}
	return nil
}

// RecvData fills buf. On error the content of buf is undefined.
func (e *Engine) RecvData(buf []byte) error {
	for i := range buf {
		b, err := e.Recv()
		if err != nil {
			return err
		}
		buf[i] = b
	}
	return nil
}

// SendData writes buf.
func (e *Engine) SendData(buf []byte) error {
	for _, b := range buf {
		if err := e.Send(b); err != nil {
			return err
		}
	}
	return nil
}

// searchBit runs one search triplet: the bit, its complement, then the
// direction chosen by the master. It returns false when the master went the
// other way and the device must drop out.
func (e *Engine) searchBit(v bool) (bool, error) {
	if err := e.SendBit(v); err != nil {
		return false, err
	}
	if err := e.SendBit(!v); err != nil {
		return false, err
	}
	dir, err := e.RecvBit()
	if err != nil {
		return false, err
	}
	return dir == v, nil
}

// search takes part in a whole ROM search. It reports whether the device
// survived all 64 bits.
func (e *Engine) search() (bool, error) {
	for _, b := range e.rom {
		for mask := byte(1); mask != 0; mask <<= 1 {
			ok, err := e.searchBit(b&mask != 0)
			if err != nil || !ok {
				return false, err
			}
		}
	}
	return true, nil
}
