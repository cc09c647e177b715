// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package config is the YAML configuration of the owslave and owsim
// binaries.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Bus     BusConfig      `yaml:"bus"`
	Log     LogConfig      `yaml:"log"`
	Storage StorageConfig  `yaml:"storage"`
	Devices []DeviceConfig `yaml:"devices"`
	Sim     SimConfig      `yaml:"sim"`
}

// ---- BUS ----

type BusConfig struct {
	// Pin is the gpioreg name of the data line.
	Pin               string `yaml:"pin"`
	Speed             string `yaml:"speed"` // standard | overdrive
	Sleep             bool   `yaml:"sleep"`
	VerifyPresence    bool   `yaml:"verify_presence"`
	WriteROM          bool   `yaml:"write_rom"`
	ConditionalSearch bool   `yaml:"conditional_search"`
}

// ---- LOG ----

type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // console | json
}

// ---- STORAGE ----

// StorageConfig is the file keeping the serial number at offset 0 and device
// settings after it. An empty path disables persistence.
type StorageConfig struct {
	Path string `yaml:"path"`
	Size int64  `yaml:"size"`
}

// ---- DEVICE ----

type DeviceConfig struct {
	Kind string `yaml:"kind"` // ds2413 | ds2450 | ds18b20
	// Serial is the 6 byte serial number in hex. Empty reads it from storage.
	Serial string   `yaml:"serial"`
	Pins   []string `yaml:"pins"`

	// ds2413
	DebounceMask  uint8         `yaml:"debounce_mask"`
	InterruptMask uint8         `yaml:"interrupt_mask"`
	SamplePeriod  time.Duration `yaml:"sample_period"`

	// ds2450 constant inputs of the simulator, in volts.
	Voltages []float64 `yaml:"voltages"`

	// ds18b20
	Temperature    float64 `yaml:"temperature"`
	ResolutionBits int     `yaml:"resolution_bits"`

	// StorageOffset is where the device keeps its settings.
	StorageOffset int64 `yaml:"storage_offset"`
}

// ---- SIM ----

type SimConfig struct {
	PollCost    time.Duration `yaml:"poll_cost"`
	SleepPoll   time.Duration `yaml:"sleep_poll"`
	Trace       bool          `yaml:"trace"`
	PNG         string        `yaml:"png"`
	ScreenWidth int           `yaml:"screen_width"`
}

// Default returns the values used for keys missing from the file.
func Default() Config {
	return Config{
		Bus: BusConfig{
			Speed:             "standard",
			ConditionalSearch: true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Storage: StorageConfig{
			Size: 64,
		},
		Sim: SimConfig{
			PollCost:    time.Microsecond,
			SleepPoll:   50 * time.Microsecond,
			ScreenWidth: 120,
		},
	}
}

// Load reads the file at path over Default. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML over Default.
func Parse(b []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: %w", err)
	}
	for i := range cfg.Devices {
		applyDeviceDefaults(&cfg.Devices[i])
	}
	return &cfg, nil
}

func applyDeviceDefaults(d *DeviceConfig) {
	if d.SamplePeriod == 0 {
		d.SamplePeriod = 5 * time.Millisecond
	}
	if d.ResolutionBits == 0 {
		d.ResolutionBits = 12
	}
	if d.StorageOffset == 0 {
		d.StorageOffset = 8
	}
}
