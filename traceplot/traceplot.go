// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package traceplot decodes a recorded 1-Wire line into pulses and bytes and
// draws it as a PNG timing diagram.
package traceplot

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/GermanBionicSystems/owslave/ows"
	"github.com/GermanBionicSystems/owslave/owsim"
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/goregular"
)

// Kind is the meaning of a low pulse.
type Kind uint8

const (
	// One is a short master pulse: a 1 written or a read slot left alone.
	One Kind = iota
	// Zero is a master slot held low past the sample point.
	Zero
	Reset
	// Presence is a short pulse started by a device.
	Presence
	// Interrupt is a reset length pulse started by a device.
	Interrupt
)

const kindName = "OneZeroResetPresenceInterrupt"

var kindIndex = [...]uint8{0, 3, 7, 12, 20, 29}

func (k Kind) String() string {
	if k >= Kind(len(kindIndex)-1) {
		return fmt.Sprintf("Kind(%d)", k)
	}
	return kindName[kindIndex[k]:kindIndex[k+1]]
}

func (k Kind) label() string {
	switch k {
	case One:
		return "1"
	case Zero:
		return "0"
	case Reset:
		return "R"
	case Presence:
		return "P"
	default:
		return "I"
	}
}

// Pulse is one low period of the line.
type Pulse struct {
	Start time.Duration
	Width time.Duration
	// By is the port that pulled the line low first.
	By   string
	Kind Kind
}

// Byte is eight consecutive slots following a reset.
type Byte struct {
	Start time.Duration
	End   time.Duration
	Value byte
}

// Opts configures decoding and plotting.
type Opts struct {
	// Timing classifies the pulses.
	Timing ows.Timing
	// Master is the name of the master port.
	Master string
	// Width and Height of the image in pixels.
	Width  int
	Height int
}

// DefaultOpts is used when nil is passed.
var DefaultOpts = Opts{
	Timing: ows.Standard,
	Master: "master",
	Width:  1600,
	Height: 140,
}

func (o *Opts) fill() Opts {
	if o == nil {
		return DefaultOpts
	}
	r := *o
	if r.Timing == (ows.Timing{}) {
		r.Timing = DefaultOpts.Timing
	}
	if r.Master == "" {
		r.Master = DefaultOpts.Master
	}
	if r.Width <= 0 {
		r.Width = DefaultOpts.Width
	}
	if r.Height <= 0 {
		r.Height = DefaultOpts.Height
	}
	return r
}

// Decode returns the low pulses of a trace. A pulse still low at the end of
// the trace is dropped.
func Decode(edges []owsim.Edge, opts *Opts) []Pulse {
	o := opts.fill()
	var out []Pulse
	var cur *owsim.Edge
	for i := range edges {
		e := &edges[i]
		if !e.Level {
			if cur == nil {
				cur = e
			}
			continue
		}
		if cur == nil {
			continue
		}
		p := Pulse{Start: cur.At, Width: e.At - cur.At, By: cur.By}
		p.Kind = classify(p, &o)
		out = append(out, p)
		cur = nil
	}
	return out
}

func classify(p Pulse, o *Opts) Kind {
	long := p.Width >= o.Timing.ResetMin
	switch {
	case p.By != o.Master && long:
		return Interrupt
	case p.By != o.Master:
		return Presence
	case long:
		return Reset
	case p.Width > o.Timing.SampleDelay:
		return Zero
	default:
		return One
	}
}

// Bytes groups the slots into bytes, least significant bit first. Partial
// bytes before a reset are dropped.
func Bytes(pulses []Pulse) []Byte {
	var out []Byte
	var cur Byte
	n := 0
	for _, p := range pulses {
		switch p.Kind {
		case Reset, Interrupt:
			n = 0
			continue
		case Presence:
			continue
		}
		if n == 0 {
			cur = Byte{Start: p.Start}
		}
		if p.Kind == One {
			cur.Value |= 1 << uint(n)
		}
		n++
		if n == 8 {
			cur.End = p.Start + p.Width
			out = append(out, cur)
			n = 0
		}
	}
	return out
}

// Plot draws the line between from and to as a PNG into w. Pulses are
// labelled below the waveform and decoded bytes above it.
func Plot(w io.Writer, edges []owsim.Edge, from, to time.Duration, opts *Opts) error {
	if to <= from {
		return errors.New("traceplot: empty window")
	}
	o := opts.fill()
	f, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return err
	}
	width, height := float64(o.Width), float64(o.Height)
	x := func(t time.Duration) float64 {
		return width * float64(t-from) / float64(to-from)
	}
	yHigh, yLow := height*0.3, height*0.7

	dc := gg.NewContext(o.Width, o.Height)
	dc.SetRGB(1, 1, 1)
	dc.Clear()
	dc.SetFontFace(truetype.NewFace(f, &truetype.Options{Size: 10}))

	// Waveform.
	dc.SetRGB(0, 0, 0)
	dc.SetLineWidth(1.5)
	level := true
	for _, e := range edges {
		if e.At <= from {
			level = e.Level
		}
	}
	y := func(l bool) float64 {
		if l {
			return yHigh
		}
		return yLow
	}
	dc.MoveTo(0, y(level))
	for _, e := range edges {
		if e.At <= from || e.At >= to || e.Level == level {
			continue
		}
		dc.LineTo(x(e.At), y(level))
		level = e.Level
		dc.LineTo(x(e.At), y(level))
	}
	dc.LineTo(width, y(level))
	dc.Stroke()

	// Pulse labels.
	for _, p := range Decode(edges, &o) {
		if p.Start < from || p.Start >= to {
			continue
		}
		if p.By == o.Master {
			dc.SetRGB(0, 0, 0.6)
		} else {
			dc.SetRGB(0.7, 0, 0)
		}
		dc.DrawStringAnchored(p.Kind.label(), x(p.Start+p.Width/2), yLow+14, 0.5, 0.5)
	}

	// Bytes.
	dc.SetRGB(0, 0.45, 0)
	for _, b := range Bytes(Decode(edges, &o)) {
		if b.Start < from || b.End > to {
			continue
		}
		x0, x1 := x(b.Start), x(b.End)
		dc.DrawLine(x0, yHigh-12, x1, yHigh-12)
		dc.Stroke()
		dc.DrawStringAnchored(fmt.Sprintf("%02X", b.Value), (x0+x1)/2, yHigh-20, 0.5, 0.5)
	}

	// Time axis.
	dc.SetRGB(0.4, 0.4, 0.4)
	dc.DrawStringAnchored(from.String(), 2, height-8, 0, 0.5)
	dc.DrawStringAnchored(to.String(), width-2, height-8, 1, 0.5)
	return dc.EncodePNG(w)
}
