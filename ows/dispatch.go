// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ows

import "fmt"

// ROM commands.
const (
	cmdSearchROM     = 0xF0
	cmdReadROM       = 0x33
	cmdReadROMLegacy = 0x0F
	cmdMatchROM      = 0x55
	cmdSkipROM       = 0xCC
	cmdWriteROM      = 0xD5
	cmdCondSearch    = 0xEC
	cmdResume        = 0xA5
)

// dispatch receives ROM commands after a presence pulse. It returns true
// when the device is selected and the Handler must take over.
func (e *Engine) dispatch() (bool, error) {
	for {
		cmd, err := e.Recv()
		if err != nil {
			return false, err
		}
		switch cmd {
		case cmdReadROM, cmdReadROMLegacy:
			if err := e.SendData(e.rom[:]); err != nil {
				return false, err
			}
			// Another ROM command follows.
			continue

		case cmdSearchROM:
			return false, e.searchROM()

		case cmdCondSearch:
			if !e.conditionalSearch || e.Flags()&FlagAlarm == 0 {
				return false, nil
			}
			return false, e.searchROM()

		case cmdMatchROM:
			var r ROM
			if err := e.RecvData(r[:]); err != nil {
				return false, err
			}
			if r != e.rom {
				return false, nil
			}
			e.ClearFlag(FlagAlarm)
			e.selected = true
			return true, nil

		case cmdSkipROM:
			return true, nil

		case cmdResume:
			if !e.resumeEligible {
				return false, nil
			}
			e.resumeEligible = false
			e.selected = true
			return true, nil

		case cmdWriteROM:
			if !e.writeROM {
				return false, nil
			}
			return false, e.rewriteROM()

		default:
			return false, nil
		}
	}
}

// searchROM takes part in a search. The device is never selected by a
// search but surviving it makes it eligible for RESUME.
func (e *Engine) searchROM() error {
	ok, err := e.search()
	if err != nil {
		return err
	}
	if ok {
		e.selected = true
		e.stats.Searched++
	}
	return nil
}

// rewriteROM receives a new ROM code. It is adopted when the family matches
// and the CRC is valid. The resulting ROM is echoed back, then persisted.
func (e *Engine) rewriteROM() error {
	var r ROM
	if err := e.RecvData(r[:]); err != nil {
		return err
	}
	changed := r[0] == e.rom[0] && r.Valid() && r != e.rom
	if changed {
		e.rom = r
	}
	if err := e.SendData(e.rom[:]); err != nil {
		return err
	}
	if changed && e.store != nil {
		serial := e.rom.Serial()
		if _, err := e.store.WriteAt(serial[:], e.storeOffset); err != nil {
			return fmt.Errorf("ows: persisting ROM %s: %w", e.rom, err)
		}
	}
	return nil
}
