// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ds18b20

import (
	"errors"
	"fmt"
	"sync"

	"github.com/GermanBionicSystems/owslave/eeprom"
	"github.com/GermanBionicSystems/owslave/ows"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/onewire"
	"periph.io/x/conn/v3/physic"
)

// Family code of the specific device type
type Family byte

func (f Family) String() string {
	switch f {
	case DS18S20:
		return "DS18S20"
	case DS18B20:
		return "DS18B20"
	default:
		return "unknown"
	}
}

const DS18B20 Family = 0x28
const DS18S20 Family = 0x10

// Function commands, datasheet p.11.
const (
	cmdConvert         = 0x44
	cmdReadScratchpad  = 0xBE
	cmdWriteScratchpad = 0x4E
	cmdCopyScratchpad  = 0x48
	cmdRecall          = 0xB8
	cmdReadPower       = 0xB4
)

// powerOn is the temperature register before the first conversion: 85°C.
const powerOn = 0x0550

// Source provides the temperature. physic.SenseEnv implements it.
type Source interface {
	Sense(e *physic.Env) error
}

// Constant is a Source always returning the same temperature.
type Constant physic.Temperature

// Sense implements Source.
func (c Constant) Sense(e *physic.Env) error {
	e.Temperature = physic.Temperature(c)
	return nil
}

// Opts contains the power-up configuration of the thermometer.
type Opts struct {
	// ResolutionBits is 9 to 12.
	ResolutionBits int
	// High and Low are the alarm thresholds in °C.
	High, Low int8
	// Storage keeps High, Low and the resolution across COPY SCRATCHPAD and
	// RECALL E2. When set, the stored values are recalled at power-up unless
	// they were never written.
	Storage eeprom.Storage
	Offset  int64
}

// DefaultOpts is the recommended default options.
var DefaultOpts = Opts{
	ResolutionBits: 12,
	High:           75,
	Low:            -20,
}

// Dev emulates a DS18B20 thermometer. It implements ows.Handler.
//
// Conversions complete instantly.
type Dev struct {
	src    Source
	store  eeprom.Storage
	offset int64

	mu   sync.Mutex
	spad [9]byte
	err  error
}

// New returns a thermometer reading src.
func New(src Source, opts *Opts) (*Dev, error) {
	if src == nil {
		return nil, errors.New("ds18b20: no temperature source")
	}
	if opts == nil {
		opts = &DefaultOpts
	}
	bits := opts.ResolutionBits
	if bits == 0 {
		bits = DefaultOpts.ResolutionBits
	}
	if bits < 9 || bits > 12 {
		return nil, errors.New("ds18b20: invalid resolutionBits")
	}
	d := &Dev{src: src, store: opts.Storage, offset: opts.Offset}
	d.spad = [9]byte{
		powerOn & 0xFF, powerOn >> 8,
		byte(opts.High), byte(opts.Low),
		configByte(bits),
		0xFF, 0x10, 0x10,
	}
	if d.store != nil {
		var e [3]byte
		if _, err := d.store.ReadAt(e[:], d.offset); err != nil {
			return nil, fmt.Errorf("ds18b20: %w", err)
		}
		if e != [3]byte{eeprom.Erased, eeprom.Erased, eeprom.Erased} {
			d.setUser(e)
		}
	}
	d.seal()
	return d, nil
}

func (d *Dev) String() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return fmt.Sprintf("%s{%d bits}", DS18B20, d.resolution())
}

// Halt implements conn.Resource.
func (d *Dev) Halt() error {
	return nil
}

// Scratchpad returns the scratchpad content including its CRC.
func (d *Dev) Scratchpad() [9]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.spad
}

// Err returns the last error of the temperature source.
func (d *Dev) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// ProcessCommands implements ows.Handler.
func (d *Dev) ProcessCommands(c ows.Conn) error {
	cmd, err := c.Recv()
	if err != nil {
		return err
	}
	switch cmd {
	case cmdConvert:
		if d.convert() {
			c.SetFlag(ows.FlagAlarm)
		} else {
			c.ClearFlag(ows.FlagAlarm)
		}
		return nil
	case cmdReadScratchpad:
		spad := d.Scratchpad()
		return c.SendData(spad[:])
	case cmdWriteScratchpad:
		// TH, TL then configuration; each byte is kept as soon as received.
		for i := 2; i < 5; i++ {
			b, err := c.Recv()
			if err != nil {
				return err
			}
			d.mu.Lock()
			if i == 4 {
				b = configByte(int(b>>5&3) + 9)
			}
			d.spad[i] = b
			d.seal()
			d.mu.Unlock()
		}
		return nil
	case cmdCopyScratchpad:
		return d.copy()
	case cmdRecall:
		return d.recall()
	case cmdReadPower:
		// Externally powered.
		return c.SendBit(true)
	default:
		return nil
	}
}

// ProcessInterrupt implements ows.Handler.
func (d *Dev) ProcessInterrupt(c ows.Conn) error {
	return nil
}

// convert samples the source and reports whether the alarm condition holds.
func (d *Dev) convert() bool {
	var e physic.Env
	err := d.src.Sense(&e)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
	if err == nil {
		raw := Encode(e.Temperature, d.resolution())
		d.spad[0] = byte(raw)
		d.spad[1] = byte(uint16(raw) >> 8)
		d.seal()
	}
	// Only the integer part is compared, datasheet p.5.
	t := int8((int16(d.spad[1])<<8 | int16(d.spad[0])) >> 4)
	return t >= int8(d.spad[2]) || t <= int8(d.spad[3])
}

func (d *Dev) copy() error {
	if d.store == nil {
		return nil
	}
	d.mu.Lock()
	var e [3]byte
	copy(e[:], d.spad[2:5])
	d.mu.Unlock()
	if _, err := d.store.WriteAt(e[:], d.offset); err != nil {
		return fmt.Errorf("ds18b20: copy scratchpad: %w", err)
	}
	return nil
}

func (d *Dev) recall() error {
	if d.store == nil {
		return nil
	}
	var e [3]byte
	if _, err := d.store.ReadAt(e[:], d.offset); err != nil {
		return fmt.Errorf("ds18b20: recall: %w", err)
	}
	d.mu.Lock()
	d.setUser(e)
	d.seal()
	d.mu.Unlock()
	return nil
}

func (d *Dev) setUser(e [3]byte) {
	d.spad[2] = e[0]
	d.spad[3] = e[1]
	d.spad[4] = configByte(int(e[2]>>5&3) + 9)
}

func (d *Dev) resolution() int {
	return int(d.spad[4]>>5&3) + 9
}

func (d *Dev) seal() {
	d.spad[8] = onewire.CalcCRC(d.spad[:8])
}

func configByte(bits int) byte {
	return byte((bits-9)<<5) | 0x1f
}

// Encode converts a temperature into the DS18B20 register value at the given
// resolution. Values are clamped to the -55°C..125°C range of the device.
func Encode(t physic.Temperature, resolutionBits int) int16 {
	c := t - physic.ZeroCelsius
	switch {
	case c < -55*physic.Kelvin:
		c = -55 * physic.Kelvin
	case c > 125*physic.Kelvin:
		c = 125 * physic.Kelvin
	}
	// 4 fractional bits, rounded towards negative infinity.
	n := c * 16
	raw := n / physic.Kelvin
	if n%physic.Kelvin < 0 {
		raw--
	}
	v := int16(raw)
	if resolutionBits < 12 {
		v &^= int16(1)<<uint(12-resolutionBits) - 1
	}
	return v
}

// Decode reads the temperature from a scratchpad, handling the special
// calculation for DS18S20.
func Decode(f Family, spad []byte) physic.Temperature {
	// spad[1] is MSB and spad[0] is LSB of the raw temperature value
	rawTemp := int16(spad[1])<<8 | int16(spad[0])

	if f == DS18S20 && spad[7] != 0 {
		// TEMPERATURE = TEMP_READ - 0,25 + (COUNT_PER_C-COUNT_REMAIN)/COUNT_PER_C
		//  TEMP_READ = value from spad[1] (MSB) and spad[0] (LSB) with truncated last bit (0,5°C)
		//  COUNT_PER_C = spad[7]
		//  COUNT_REMAIN = spad[6]
		rawTemp = ((rawTemp & int16(-2)) << 3) + 12 - int16(spad[6])
	}
	// rawTemp has 4 fractional bits, datasheet p.4.
	v := physic.Temperature(rawTemp)
	return v*physic.Kelvin/16 + physic.ZeroCelsius
}

// Read converts then reads the temperature of the device at addr, as a bus
// master would.
func Read(bus onewire.Bus, addr onewire.Address) (physic.Temperature, error) {
	d := onewire.Dev{Bus: bus, Addr: addr}
	if err := d.TxPower([]byte{cmdConvert}, nil); err != nil {
		return 0, err
	}
	spad, err := readScratchpad(&d)
	if err != nil {
		return 0, err
	}
	return Decode(Family(addr&0xFF), spad), nil
}

// busError implements error and onewire.BusError.
type busError string

func (e busError) Error() string  { return string(e) }
func (e busError) BusError() bool { return true }

// readScratchpad reads the 9 bytes of scratchpad and checks the CRC.
// It returns the 8 bytes of scratchpad data (excluding the CRC byte).
func readScratchpad(d *onewire.Dev) ([]byte, error) {
	var spad [9]byte
	if err := d.Tx([]byte{cmdReadScratchpad}, spad[:]); err != nil {
		return nil, err
	}
	if !onewire.CheckCRC(spad[:]) {
		for _, s := range spad {
			if s != 0xff {
				return nil, busError("ds18b20: incorrect scratchpad CRC")
			}
		}
		return nil, busError("ds18b20: device did not respond")
	}
	return spad[:8], nil
}

var _ conn.Resource = &Dev{}
var _ ows.Handler = &Dev{}
