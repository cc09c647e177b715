// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/GermanBionicSystems/owslave/ows"
)

const sample = `
bus:
  pin: GPIO4
  speed: overdrive
  sleep: true
log:
  level: debug
  format: json
storage:
  path: /tmp/owslave.bin
devices:
  - kind: ds2413
    serial: "aa:da:bb:cf:00:00"
    pins: [GPIO17, GPIO27]
    interrupt_mask: 0x03
    sample_period: 2ms
  - kind: ds18b20
    temperature: 21.5
sim:
  trace: true
  png: trace.png
`

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "owslave.yaml")
	if err := os.WriteFile(path, []byte(sample), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := Validate(cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Bus.Pin != "GPIO4" || !cfg.Bus.Sleep || !cfg.Bus.ConditionalSearch {
		t.Fatalf("%+v", cfg.Bus)
	}
	o, err := cfg.Bus.Opts()
	if err != nil {
		t.Fatal(err)
	}
	if o.Timing != ows.Overdrive || !o.Sleep {
		t.Fatalf("%+v", o)
	}
	if cfg.Storage.Size != 64 || cfg.Sim.ScreenWidth != 120 || cfg.Sim.PollCost != time.Microsecond {
		t.Fatalf("%+v %+v", cfg.Storage, cfg.Sim)
	}
	d := cfg.Devices[0]
	if d.SamplePeriod != 2*time.Millisecond || d.InterruptMask != 3 || d.StorageOffset != 8 {
		t.Fatalf("%+v", d)
	}
	rom, err := d.ROM()
	if err != nil {
		t.Fatal(err)
	}
	if s := rom.String(); s != "3a.aadabbcf0000.e6" {
		t.Fatal(s)
	}
	if cfg.Devices[1].ResolutionBits != 12 || cfg.Devices[1].Serial != "" {
		t.Fatalf("%+v", cfg.Devices[1])
	}
	if lvl, _ := cfg.Log.SlogLevel(); lvl.String() != "DEBUG" {
		t.Fatal(lvl)
	}
}

func TestLoad_errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error")
	}
	if _, err := Parse([]byte("bus:\n  pinn: GPIO4\n")); err == nil {
		t.Fatal("unknown key accepted")
	}
	if _, err := Parse([]byte("sim:\n  poll_cost: fast\n")); err == nil {
		t.Fatal("bad duration accepted")
	}
}

func TestParse_empty(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Bus.Speed != "standard" || cfg.Log.Format != "console" {
		t.Fatalf("%+v", cfg)
	}
	// No device.
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error")
	}
}
