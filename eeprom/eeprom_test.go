// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package eeprom

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"
)

func TestMemory(t *testing.T) {
	m := NewMemory(16)
	var buf [4]byte
	if _, err := m.ReadAt(buf[:], 0); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf[:], []byte{Erased, Erased, Erased, Erased}) {
		t.Fatalf("not erased: %#v", buf)
	}
	if _, err := m.WriteAt([]byte{1, 2, 3}, 13); err != nil {
		t.Fatal(err)
	}
	if _, err := m.ReadAt(buf[:3], 13); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf[:3], []byte{1, 2, 3}) {
		t.Fatalf("got %#v", buf[:3])
	}
	if _, err := m.WriteAt([]byte{1, 2}, 15); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
	if _, err := m.ReadAt(buf[:], -1); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
	if m.Size() != 16 {
		t.Fatal(m.Size())
	}
}

func TestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ee.bin")
	f, err := OpenFile(path, 32)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteAt([]byte{0xaa, 0xda}, 1); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	f, err = OpenFile(path, 32)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	var buf [4]byte
	if _, err := f.ReadAt(buf[:], 0); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf[:], []byte{Erased, 0xaa, 0xda, Erased}) {
		t.Fatalf("got %#v", buf)
	}
	if _, err := f.ReadAt(buf[:], 30); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
}

func TestOpenFile_badSize(t *testing.T) {
	if _, err := OpenFile(filepath.Join(t.TempDir(), "x"), 0); err == nil {
		t.Fatal("expected error")
	}
}
