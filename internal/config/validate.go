// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package config

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"

	"github.com/GermanBionicSystems/owslave/ds18b20"
	"github.com/GermanBionicSystems/owslave/ds2413"
	"github.com/GermanBionicSystems/owslave/ds2450"
	"github.com/GermanBionicSystems/owslave/ows"
)

// Device kinds.
const (
	KindDS2413  = "ds2413"
	KindDS2450  = "ds2450"
	KindDS18B20 = "ds18b20"
)

// serialSize is the storage used by the engine for the serial number.
const serialSize = 8

// Validate checks configuration correctness.
// It does not mutate the configuration.
func Validate(cfg *Config) error {
	if _, err := cfg.Bus.Timing(); err != nil {
		return err
	}
	if _, err := cfg.Log.SlogLevel(); err != nil {
		return err
	}
	if f := cfg.Log.Format; f != "console" && f != "json" {
		return fmt.Errorf("log: unknown format %q", f)
	}
	if cfg.Storage.Path != "" && cfg.Storage.Size < serialSize {
		return fmt.Errorf("storage: size %d is too small", cfg.Storage.Size)
	}
	if len(cfg.Devices) == 0 {
		return fmt.Errorf("devices: at least one device is required")
	}

	roms := make(map[string]int)
	for i := range cfg.Devices {
		d := &cfg.Devices[i]
		if err := validateDevice(cfg, d); err != nil {
			return fmt.Errorf("device #%d (%s): %w", i, d.Kind, err)
		}
		if d.Serial == "" {
			continue
		}
		key := d.Kind + "|" + normalizeSerial(d.Serial)
		if prev, exists := roms[key]; exists {
			return fmt.Errorf("device #%d: same ROM as device #%d", i, prev)
		}
		roms[key] = i
	}

	if cfg.Sim.PollCost <= 0 || cfg.Sim.SleepPoll <= 0 {
		return fmt.Errorf("sim: poll_cost and sleep_poll must be positive")
	}
	if cfg.Sim.ScreenWidth < 0 {
		return fmt.Errorf("sim: negative screen_width")
	}
	return nil
}

func validateDevice(cfg *Config, d *DeviceConfig) error {
	if _, err := d.Family(); err != nil {
		return err
	}
	if d.Serial == "" {
		if cfg.Storage.Path == "" {
			return fmt.Errorf("no serial and no storage to read it from")
		}
	} else if _, err := d.SerialBytes(); err != nil {
		return err
	}
	if d.StorageOffset < serialSize && cfg.Storage.Path != "" {
		return fmt.Errorf("storage_offset %d overlaps the serial number", d.StorageOffset)
	}
	switch d.Kind {
	case KindDS2413:
		if len(d.Pins) < 2 || len(d.Pins) > 4 {
			return fmt.Errorf("needs 2 to 4 pins, got %d", len(d.Pins))
		}
		if d.SamplePeriod <= 0 {
			return fmt.Errorf("invalid sample_period %s", d.SamplePeriod)
		}
	case KindDS2450:
		if len(d.Pins) > 4 || len(d.Voltages) > 4 {
			return fmt.Errorf("at most 4 inputs")
		}
	case KindDS18B20:
		if d.ResolutionBits < 9 || d.ResolutionBits > 12 {
			return fmt.Errorf("invalid resolution_bits %d", d.ResolutionBits)
		}
		if d.Temperature < -55 || d.Temperature > 125 {
			return fmt.Errorf("temperature %g out of range", d.Temperature)
		}
	}
	return nil
}

// Timing returns the engine timing of the configured speed.
func (b *BusConfig) Timing() (ows.Timing, error) {
	switch b.Speed {
	case "standard", "":
		return ows.Standard, nil
	case "overdrive":
		return ows.Overdrive, nil
	default:
		return ows.Timing{}, fmt.Errorf("bus: unknown speed %q", b.Speed)
	}
}

// Opts returns the engine options.
func (b *BusConfig) Opts() (ows.Opts, error) {
	t, err := b.Timing()
	if err != nil {
		return ows.Opts{}, err
	}
	return ows.Opts{
		Timing:            t,
		Sleep:             b.Sleep,
		VerifyPresence:    b.VerifyPresence,
		WriteROM:          b.WriteROM,
		ConditionalSearch: b.ConditionalSearch,
	}, nil
}

// SlogLevel returns the configured level.
func (l *LogConfig) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("log: %w", err)
	}
	return lvl, nil
}

// Family returns the family code of the device kind.
func (d *DeviceConfig) Family() (byte, error) {
	switch d.Kind {
	case KindDS2413:
		return ds2413.Family, nil
	case KindDS2450:
		return ds2450.Family, nil
	case KindDS18B20:
		return byte(ds18b20.DS18B20), nil
	default:
		return 0, fmt.Errorf("unknown kind %q", d.Kind)
	}
}

// SerialBytes decodes Serial. Separators are ignored.
func (d *DeviceConfig) SerialBytes() ([6]byte, error) {
	var s [6]byte
	b, err := hex.DecodeString(normalizeSerial(d.Serial))
	if err != nil {
		return s, fmt.Errorf("serial %q: %w", d.Serial, err)
	}
	if len(b) != len(s) {
		return s, fmt.Errorf("serial %q: need 6 bytes, got %d", d.Serial, len(b))
	}
	copy(s[:], b)
	return s, nil
}

// ROM returns the ROM code of a device with a configured serial.
func (d *DeviceConfig) ROM() (ows.ROM, error) {
	f, err := d.Family()
	if err != nil {
		return ows.ROM{}, err
	}
	s, err := d.SerialBytes()
	if err != nil {
		return ows.ROM{}, err
	}
	return ows.NewROM(f, s), nil
}

func normalizeSerial(s string) string {
	return strings.ToLower(strings.NewReplacer(":", "", "-", "", ".", "", " ", "").Replace(s))
}
