// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// owsim runs the configured devices and a master on a simulated bus, then
// shows the line activity.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/GermanBionicSystems/owslave/ds18b20"
	"github.com/GermanBionicSystems/owslave/ds2413"
	"github.com/GermanBionicSystems/owslave/ds2450"
	"github.com/GermanBionicSystems/owslave/eeprom"
	"github.com/GermanBionicSystems/owslave/internal/config"
	"github.com/GermanBionicSystems/owslave/internal/device"
	"github.com/GermanBionicSystems/owslave/internal/logging"
	"github.com/GermanBionicSystems/owslave/ows"
	"github.com/GermanBionicSystems/owslave/owsim"
	"github.com/GermanBionicSystems/owslave/screen1d"
	"github.com/GermanBionicSystems/owslave/traceplot"
	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/onewire"
)

// demoConfig is used without -config.
const demoConfig = `
log:
  level: info
devices:
  - kind: ds18b20
    serial: "010203040506"
    temperature: 80.5
  - kind: ds2413
    serial: "aadabbcf0000"
    pins: [PIOA, PIOB]
  - kind: ds2450
    serial: "102030400000"
    voltages: [1.0, 2.5, 0.2, 4.0]
sim:
  trace: true
  screen_width: 100
`

// simPins returns fake pins idling high.
type simPins struct{}

func (simPins) GPIO(name string) (gpio.PinIO, error) {
	return &gpiotest.Pin{N: name, L: gpio.High}, nil
}

func (simPins) ADC(name string) (analog.PinADC, error) {
	return nil, fmt.Errorf("analog input %q: use voltages", name)
}

// result is what the master found.
type result struct {
	Found  []onewire.Address
	Alarms []onewire.Address
}

func mainImpl() error {
	cfgPath := flag.String("config", "", "configuration file; a demo bus is used when empty")
	flag.Parse()

	var cfg *config.Config
	var err error
	if *cfgPath == "" {
		cfg, err = config.Parse([]byte(demoConfig))
	} else {
		cfg, err = config.Load(*cfgPath)
	}
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}
	log, err := logging.New(os.Stderr, &cfg.Log)
	if err != nil {
		return err
	}
	b, _, err := run(cfg, log)
	if err != nil {
		return err
	}
	return show(cfg, b, nil)
}

// run simulates the bus until the master is done.
func run(cfg *config.Config, log *slog.Logger) (*owsim.Bus, *result, error) {
	b := owsim.New(&owsim.Opts{PollCost: cfg.Sim.PollCost, SleepPoll: cfg.Sim.SleepPoll, Trace: cfg.Sim.Trace})
	opts, err := cfg.Bus.Opts()
	if err != nil {
		return nil, nil, err
	}
	var engines []*ows.Engine
	for i := range cfg.Devices {
		c := &cfg.Devices[i]
		st := eeprom.NewMemory(int(cfg.Storage.Size))
		if c.Serial == "" {
			// Give each device its own serial number.
			if _, err := st.WriteAt([]byte{byte(i + 1)}, 0); err != nil {
				return nil, nil, err
			}
		}
		dev, err := device.Build(c, simPins{}, st)
		if err != nil {
			return nil, nil, fmt.Errorf("device #%d: %w", i, err)
		}
		p := b.Attach(fmt.Sprintf("%s#%d", c.Kind, i))
		e, err := dev.Engine(p, p, st, opts, log)
		if err != nil {
			return nil, nil, err
		}
		log.Info("attached", "rom", e.ROM().String(), "device", dev.String())
		engines = append(engines, e)
		b.Go(p, func(ctx context.Context) { _ = e.Serve(ctx) })
	}

	mt := owsim.Standard
	if opts.Timing == ows.Overdrive {
		mt = owsim.Overdrive
	}
	m := owsim.NewMaster(b.Attach("master"), &mt)
	res := &result{}
	b.Run(m.Port(), func() { err = demo(m, log, res) })
	for _, e := range engines {
		s := e.Stats()
		log.Debug("stats", "rom", e.ROM().String(), "resets", s.Resets, "selected", s.Selected, "searched", s.Searched)
	}
	return b, res, err
}

// demo enumerates the bus, talks to every device and looks for alarms.
func demo(m *owsim.Master, log *slog.Logger, res *result) error {
	found, err := m.Search(false)
	if err != nil {
		return err
	}
	res.Found = found
	for _, a := range found {
		rom, err := ows.ROMFromAddress(a)
		if err != nil {
			return err
		}
		switch rom.Family() {
		case byte(ds18b20.DS18B20):
			t, err := ds18b20.Read(m, a)
			if err != nil {
				return err
			}
			log.Info("temperature", "rom", rom.String(), "t", t.String())
		case ds2413.Family:
			// PIO ACCESS READ.
			var r [1]byte
			if err := (&onewire.Dev{Bus: m, Addr: a}).Tx([]byte{0xF5}, r[:]); err != nil {
				return err
			}
			log.Info("pio", "rom", rom.String(), "state", fmt.Sprintf("%#02x", r[0]))
		case ds2450.Family:
			d := onewire.Dev{Bus: m, Addr: a}
			// CONVERT all channels, then READ MEMORY page 0.
			var crc [2]byte
			if err := d.Tx([]byte{0x3C, 0x0F, 0x00}, crc[:]); err != nil {
				return err
			}
			var page [10]byte
			if err := d.Tx([]byte{0xAA, 0x00, 0x00}, page[:]); err != nil {
				return err
			}
			var v [4]uint16
			for i := range v {
				v[i] = uint16(page[2*i]) | uint16(page[2*i+1])<<8
			}
			log.Info("adc", "rom", rom.String(), "readout", fmt.Sprintf("%04x", v))
		}
	}
	// Broadcast CONVERT T so thermometers past their thresholds answer the
	// alarm search. A MATCH ROM clears the alarm.
	if !m.Reset() {
		return errors.New("owsim: no presence")
	}
	m.Write([]byte{0xCC, 0x44})
	m.Idle(time.Millisecond)
	alarms, err := m.Search(true)
	if err != nil && !owsim.IsNoDevices(err) {
		return err
	}
	res.Alarms = alarms
	for _, a := range alarms {
		log.Warn("alarm", "address", fmt.Sprintf("%#016x", uint64(a)))
	}
	return nil
}

// show renders the trace on the terminal and as a PNG.
func show(cfg *config.Config, b *owsim.Bus, w io.Writer) error {
	if !cfg.Sim.Trace {
		return nil
	}
	edges := b.Trace()
	if len(edges) == 0 {
		return errors.New("owsim: empty trace")
	}
	if cfg.Sim.ScreenWidth > 0 {
		d, err := screen1d.New(&screen1d.Opts{X: cfg.Sim.ScreenWidth, W: w})
		if err != nil {
			return err
		}
		// One row per millisecond of bus activity.
		const row = time.Millisecond
		for from := edges[0].At.Truncate(row); from < b.Now(); from += row {
			if err := d.DrawTrace(edges, from, from+row); err != nil {
				return err
			}
			if err := d.Halt(); err != nil {
				return err
			}
		}
	}
	if cfg.Sim.PNG != "" {
		f, err := os.Create(cfg.Sim.PNG)
		if err != nil {
			return err
		}
		bw := bufio.NewWriter(f)
		if err := traceplot.Plot(bw, edges, 0, b.Now(), &traceplot.Opts{Timing: timing(cfg)}); err != nil {
			f.Close()
			return err
		}
		if err := bw.Flush(); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	}
	return nil
}

func timing(cfg *config.Config) ows.Timing {
	t, err := cfg.Bus.Timing()
	if err != nil {
		return ows.Standard
	}
	return t
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "owsim: %s.\n", err)
		os.Exit(1)
	}
}
