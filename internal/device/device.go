// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package device builds the configured device layers and their engines.
package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/GermanBionicSystems/owslave/ds18b20"
	"github.com/GermanBionicSystems/owslave/ds2413"
	"github.com/GermanBionicSystems/owslave/ds2450"
	"github.com/GermanBionicSystems/owslave/eeprom"
	"github.com/GermanBionicSystems/owslave/internal/config"
	"github.com/GermanBionicSystems/owslave/ows"
	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/pin"
)

// Resolver finds the pins named in the configuration.
type Resolver interface {
	GPIO(name string) (gpio.PinIO, error)
	ADC(name string) (analog.PinADC, error)
}

// Device is a configured device layer.
type Device struct {
	Config  *config.DeviceConfig
	Handler ows.Handler
	// Watch samples the inputs until ctx is done. It is nil for devices
	// without debounced inputs.
	Watch func(ctx context.Context, n ds2413.Notifier) error
}

func (d *Device) String() string {
	return fmt.Sprint(d.Handler)
}

// Build returns the device layer described by c. st may be nil.
func Build(c *config.DeviceConfig, r Resolver, st eeprom.Storage) (*Device, error) {
	d := &Device{Config: c}
	switch c.Kind {
	case config.KindDS2413:
		pins := make([]gpio.PinIO, len(c.Pins))
		for i, n := range c.Pins {
			p, err := r.GPIO(n)
			if err != nil {
				return nil, err
			}
			pins[i] = p
		}
		dev, err := ds2413.New(pins, &ds2413.Opts{DebounceMask: c.DebounceMask, InterruptMask: c.InterruptMask})
		if err != nil {
			return nil, err
		}
		d.Handler = dev
		period := c.SamplePeriod
		d.Watch = func(ctx context.Context, n ds2413.Notifier) error {
			return dev.Watch(ctx, n, period)
		}
	case config.KindDS2450:
		var in []analog.PinADC
		if len(c.Voltages) != 0 {
			for i, v := range c.Voltages {
				in = append(in, NewVoltage(string(rune('A'+i)), physic.ElectricPotential(v*float64(physic.Volt))))
			}
		} else {
			for _, n := range c.Pins {
				p, err := r.ADC(n)
				if err != nil {
					return nil, err
				}
				in = append(in, p)
			}
		}
		dev, err := ds2450.New(in, &ds2450.Opts{Storage: st, Offset: c.StorageOffset})
		if err != nil {
			return nil, err
		}
		d.Handler = dev
	case config.KindDS18B20:
		t := physic.ZeroCelsius + physic.Temperature(c.Temperature*float64(physic.Celsius))
		o := ds18b20.DefaultOpts
		o.ResolutionBits = c.ResolutionBits
		o.Storage = st
		o.Offset = c.StorageOffset
		dev, err := ds18b20.New(ds18b20.Constant(t), &o)
		if err != nil {
			return nil, err
		}
		d.Handler = dev
	default:
		return nil, fmt.Errorf("device: unknown kind %q", c.Kind)
	}
	return d, nil
}

// Engine returns the engine serving d on l. Without a configured serial the
// serial number is read from st at offset 0, which is also where WRITE ROM
// persists it.
func (d *Device) Engine(l ows.Line, c ows.Clock, st eeprom.Storage, opts ows.Opts, log *slog.Logger) (*ows.Engine, error) {
	opts.Logger = log
	if d.Config.Serial == "" {
		f, err := d.Config.Family()
		if err != nil {
			return nil, err
		}
		if st == nil {
			return nil, errors.New("device: no serial and no storage")
		}
		return ows.NewFromStorage(l, c, f, st, 0, d.Handler, &opts)
	}
	rom, err := d.Config.ROM()
	if err != nil {
		return nil, err
	}
	if st != nil {
		opts.Storage = st
		opts.StorageOffset = 0
	}
	return ows.New(l, c, rom, d.Handler, &opts)
}

// Voltage is an analog input stuck at a constant voltage.
type Voltage struct {
	pin.BasicPin
	V physic.ElectricPotential
}

// NewVoltage returns an input named name reading v.
func NewVoltage(name string, v physic.ElectricPotential) *Voltage {
	return &Voltage{BasicPin: pin.BasicPin{N: name}, V: v}
}

// Range implements analog.PinADC.
func (v *Voltage) Range() (analog.Sample, analog.Sample) {
	return analog.Sample{}, analog.Sample{V: 5120 * physic.MilliVolt, Raw: 0xFFFF}
}

// Read implements analog.PinADC.
func (v *Voltage) Read() (analog.Sample, error) {
	return analog.Sample{V: v.V, Raw: int32(int64(v.V) * 0xFFFF / int64(5120*physic.MilliVolt))}, nil
}

var _ analog.PinADC = &Voltage{}
