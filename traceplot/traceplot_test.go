// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package traceplot

import (
	"bytes"
	"context"
	"image/png"
	"reflect"
	"testing"
	"time"

	"github.com/GermanBionicSystems/owslave/ows"
	"github.com/GermanBionicSystems/owslave/owsim"
)

const us = time.Microsecond

// low appends a low pulse started by by.
func low(edges []owsim.Edge, at, width time.Duration, by string) []owsim.Edge {
	return append(edges,
		owsim.Edge{At: at, Level: false, By: by},
		owsim.Edge{At: at + width, Level: true, By: by})
}

func TestDecode(t *testing.T) {
	var e []owsim.Edge
	e = low(e, 0, 480*us, "master")
	e = low(e, 520*us, 120*us, "dev")
	t0 := 1000 * us
	for i := 0; i < 8; i++ {
		w := 6 * us
		if i%2 == 1 {
			w = 60 * us
		}
		e = low(e, t0+time.Duration(i)*70*us, w, "master")
	}
	e = low(e, 2000*us, 1920*us, "dev")
	// Unfinished pulse.
	e = append(e, owsim.Edge{At: 5000 * us, Level: false, By: "master"})

	p := Decode(e, nil)
	var kinds []Kind
	for _, x := range p {
		kinds = append(kinds, x.Kind)
	}
	want := []Kind{Reset, Presence, One, Zero, One, Zero, One, Zero, One, Zero, Interrupt}
	if !reflect.DeepEqual(kinds, want) {
		t.Fatalf("%v", kinds)
	}
	if p[1].Start != 520*us || p[1].Width != 120*us || p[1].By != "dev" {
		t.Fatalf("%+v", p[1])
	}
	b := Bytes(p)
	if len(b) != 1 || b[0].Value != 0x55 || b[0].Start != t0 || b[0].End != t0+7*70*us+60*us {
		t.Fatalf("%+v", b)
	}
}

func TestKind_String(t *testing.T) {
	if s := Presence.String(); s != "Presence" {
		t.Fatal(s)
	}
	if s := Interrupt.String(); s != "Interrupt" {
		t.Fatal(s)
	}
	if s := Kind(9).String(); s != "Kind(9)" {
		t.Fatal(s)
	}
}

// TestSimulated decodes what a master sends to an engine.
func TestSimulated(t *testing.T) {
	b := owsim.New(&owsim.Opts{Trace: true})
	p := b.Attach("dev")
	var got byte
	h := ows.HandlerFuncs{Commands: func(c ows.Conn) error {
		var err error
		got, err = c.Recv()
		return err
	}}
	e, err := ows.New(p, p, ows.NewROM(0x28, [6]byte{1}), h, nil)
	if err != nil {
		t.Fatal(err)
	}
	b.Go(p, func(ctx context.Context) { _ = e.Serve(ctx) })
	m := owsim.NewMaster(b.Attach("master"), nil)
	b.Run(m.Port(), func() {
		if !m.Reset() {
			t.Error("no presence")
		}
		m.WriteByte(0xCC)
		m.WriteByte(0xA5)
		m.Idle(100 * us)
	})
	if got != 0xA5 {
		t.Fatalf("%#x", got)
	}
	pulses := Decode(b.Trace(), nil)
	if len(pulses) < 2 || pulses[0].Kind != Reset || pulses[1].Kind != Presence {
		t.Fatalf("%+v", pulses)
	}
	bytesSeen := Bytes(pulses)
	if len(bytesSeen) != 2 || bytesSeen[0].Value != 0xCC || bytesSeen[1].Value != 0xA5 {
		t.Fatalf("%+v", bytesSeen)
	}

	var buf bytes.Buffer
	if err := Plot(&buf, b.Trace(), 0, b.Now(), &Opts{Width: 400, Height: 100}); err != nil {
		t.Fatal(err)
	}
	img, err := png.Decode(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if s := img.Bounds().Size(); s.X != 400 || s.Y != 100 {
		t.Fatal(s)
	}
	if err := Plot(&buf, nil, 10, 10, nil); err == nil {
		t.Fatal("expected error")
	}
}
