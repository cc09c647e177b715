// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// owslave impersonates a 1-Wire device on a GPIO pin.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/GermanBionicSystems/owslave/eeprom"
	"github.com/GermanBionicSystems/owslave/internal/config"
	"github.com/GermanBionicSystems/owslave/internal/device"
	"github.com/GermanBionicSystems/owslave/internal/logging"
	"github.com/GermanBionicSystems/owslave/ows"
	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// hostPins resolves pins through the gpio registry.
type hostPins struct{}

func (hostPins) GPIO(name string) (gpio.PinIO, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("no pin %q", name)
	}
	return p, nil
}

func (hostPins) ADC(name string) (analog.PinADC, error) {
	return nil, fmt.Errorf("analog input %q: not supported on this host, use voltages", name)
}

func mainImpl() error {
	cfgPath := flag.String("config", "owslave.yaml", "configuration file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if len(cfg.Devices) != 1 {
		return fmt.Errorf("config: one device per bus, got %d", len(cfg.Devices))
	}
	log, err := logging.New(os.Stderr, &cfg.Log)
	if err != nil {
		return err
	}

	if _, err := host.Init(); err != nil {
		return err
	}
	pin, err := hostPins{}.GPIO(cfg.Bus.Pin)
	if err != nil {
		return err
	}
	line, err := ows.NewPinLine(pin)
	if err != nil {
		return err
	}
	defer line.Halt()

	var st eeprom.Storage
	if cfg.Storage.Path != "" {
		f, err := eeprom.OpenFile(cfg.Storage.Path, cfg.Storage.Size)
		if err != nil {
			return err
		}
		defer f.Close()
		st = f
	}

	dev, err := device.Build(&cfg.Devices[0], hostPins{}, st)
	if err != nil {
		return err
	}
	opts, err := cfg.Bus.Opts()
	if err != nil {
		return err
	}
	e, err := dev.Engine(line, ows.NewSystemClock(), st, opts, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if dev.Watch != nil {
		go func() {
			if err := dev.Watch(ctx, e); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("watch", "err", err)
			}
		}()
	}
	log.Info("serving", "rom", e.ROM().String(), "device", dev.String(), "pin", line.String())
	err = e.Serve(ctx)
	s := e.Stats()
	log.Info("stopped",
		slog.Uint64("resets", s.Resets),
		slog.Uint64("selected", s.Selected),
		slog.Uint64("searched", s.Searched),
		slog.Uint64("interrupts", s.Interrupts))
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "owslave: %s.\n", err)
		os.Exit(1)
	}
}
