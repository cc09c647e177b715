// Copyright 2017 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package screen1d implements a 1D display.Drawer that outputs to terminal
// using ANSI color codes.
//
// It is used to look at a simulated 1-Wire line: DrawTrace renders the levels
// of a time window as one row of colored blocks.
package screen1d

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"time"

	"github.com/GermanBionicSystems/owslave/owsim"
	"github.com/maruel/ansi256"
	"github.com/mattn/go-colorable"
	"periph.io/x/conn/v3/display"
)

// Column is the line state during one displayed column.
type Column uint8

const (
	High Column = iota
	Low
	// Toggling is a column containing at least one edge.
	Toggling
)

// Opts represents the options available for this display.
type Opts struct {
	X       int
	Palette *ansi256.Palette
	// W receives the output. It defaults to stdout.
	W io.Writer
	// Colors of High, Low and Toggling columns.
	Colors [3]color.NRGBA

	_ struct{}
}

// DefaultColors is used when Opts.Colors is left zero.
var DefaultColors = [3]color.NRGBA{
	{0x00, 0xC0, 0x00, 0xFF},
	{0xC0, 0x00, 0x00, 0xFF},
	{0xE0, 0xE0, 0x00, 0xFF},
}

// Dev is a 1D strip that outputs to the console.
type Dev struct {
	w       io.Writer
	l       int
	palette ansi256.Palette
	colors  [3]color.NRGBA

	pixels []byte
	buf    bytes.Buffer
}

// New returns a Dev that displays at the console.
func New(opts *Opts) (*Dev, error) {
	if opts.X <= 0 {
		return nil, errors.New("screen1d: invalid width")
	}
	p := opts.Palette
	if p == nil {
		p = ansi256.Default
	}
	w := opts.W
	if w == nil {
		w = colorable.NewColorableStdout()
	}
	d := &Dev{
		w:       w,
		l:       opts.X,
		palette: *p,
		colors:  opts.Colors,
		pixels:  make([]byte, 3*opts.X),
	}
	if d.colors == [3]color.NRGBA{} {
		d.colors = DefaultColors
	}
	return d, nil
}

func (d *Dev) String() string {
	return fmt.Sprintf("Screen1D{%d}", d.l)
}

// Halt implements conn.Resource.
//
// It clears the display so it is not corrupted.
func (d *Dev) Halt() error {
	_, err := d.w.Write([]byte("\n\033[0m"))
	return err
}

// Write accepts a stream of raw RGB pixels and writes it to the console.
func (d *Dev) Write(pixels []byte) (int, error) {
	if len(pixels)%3 != 0 {
		return 0, errors.New("screen1d: invalid RGB stream length")
	}
	copy(d.pixels, pixels)
	return d.refresh()
}

// ColorModel implements display.Drawer.
func (d *Dev) ColorModel() color.Model {
	return color.NRGBAModel
}

// Bounds implements display.Drawer.
func (d *Dev) Bounds() image.Rectangle {
	return image.Rectangle{Max: image.Point{X: d.l, Y: 1}}
}

// Draw implements display.Drawer.
func (d *Dev) Draw(r image.Rectangle, src image.Image, sp image.Point) error {
	r = r.Intersect(d.Bounds())
	srcR := src.Bounds()
	srcR.Min = srcR.Min.Add(sp)
	if dX := r.Dx(); dX < srcR.Dx() {
		srcR.Max.X = srcR.Min.X + dX
	}
	if dY := r.Dy(); dY < srcR.Dy() {
		srcR.Max.Y = srcR.Min.Y + dY
	}
	deltaX3 := 3 * (r.Min.X - srcR.Min.X)
	for sX := srcR.Min.X; sX < srcR.Max.X; sX++ {
		r16, g16, b16, _ := src.At(sX, srcR.Min.Y).RGBA()
		dX3 := 3*sX + deltaX3
		d.pixels[dX3] = byte(r16 >> 8)
		d.pixels[dX3+1] = byte(g16 >> 8)
		d.pixels[dX3+2] = byte(b16 >> 8)
	}
	_, err := d.refresh()
	return err
}

// DrawTrace renders the line between from and to, one column per X pixel.
func (d *Dev) DrawTrace(edges []owsim.Edge, from, to time.Duration) error {
	cols, err := Columns(edges, from, to, d.l)
	if err != nil {
		return err
	}
	img := image.NewNRGBA(d.Bounds())
	for x, c := range cols {
		img.SetNRGBA(x, 0, d.colors[c])
	}
	return d.Draw(d.Bounds(), img, image.Point{})
}

// Columns splits [from, to) into n columns and classifies each one. The line
// is high before the first edge.
func Columns(edges []owsim.Edge, from, to time.Duration, n int) ([]Column, error) {
	if n <= 0 || to <= from {
		return nil, errors.New("screen1d: empty window")
	}
	out := make([]Column, n)
	level := true
	i := 0
	span := to - from
	for x := range out {
		start := from + span*time.Duration(x)/time.Duration(n)
		end := from + span*time.Duration(x+1)/time.Duration(n)
		for ; i < len(edges) && edges[i].At <= start; i++ {
			level = edges[i].Level
		}
		out[x] = state(level)
		for ; i < len(edges) && edges[i].At < end; i++ {
			if edges[i].Level != level {
				out[x] = Toggling
			}
			level = edges[i].Level
		}
	}
	return out, nil
}

func (d *Dev) refresh() (int, error) {
	// This code is designed to minimize the amount of memory allocated per call.
	d.buf.Reset()
	_, _ = d.buf.WriteString("\r\033[0m")
	for i := 0; i < len(d.pixels)/3; i++ {
		c := color.NRGBA{d.pixels[3*i], d.pixels[3*i+1], d.pixels[3*i+2], 255}
		_, _ = io.WriteString(&d.buf, d.palette.Block(c))
	}
	_, _ = d.buf.WriteString("\033[0m ")
	_, err := d.buf.WriteTo(d.w)
	return len(d.pixels), err
}

func state(level bool) Column {
	if level {
		return High
	}
	return Low
}

var _ display.Drawer = &Dev{}
var _ fmt.Stringer = &Dev{}
