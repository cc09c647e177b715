// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package eeprom exposes raw, byte addressed non-volatile storage used to
// persist device identities and configuration blocks.
//
// Only raw reads and writes are provided. Layout decisions (which offset
// holds which block) belong to the caller.
package eeprom

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// Erased is the value of a byte that was never written.
const Erased = 0xFF

// ErrOutOfRange is returned when an access falls outside of the storage.
var ErrOutOfRange = errors.New("eeprom: access out of range")

// Storage is raw persistent byte storage.
type Storage interface {
	io.ReaderAt
	io.WriterAt
	// Size returns the capacity in bytes.
	Size() int64
}

// Memory is a volatile Storage, mainly for tests and simulations.
type Memory struct {
	mu   sync.Mutex
	data []byte
}

// NewMemory returns an erased Memory of size bytes.
func NewMemory(size int) *Memory {
	m := &Memory{data: make([]byte, size)}
	for i := range m.data {
		m.data[i] = Erased
	}
	return m
}

func (m *Memory) String() string {
	return fmt.Sprintf("eeprom.Memory{%d}", len(m.data))
}

// Size implements Storage.
func (m *Memory) Size() int64 {
	return int64(len(m.data))
}

// ReadAt implements io.ReaderAt.
func (m *Memory) ReadAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := check(off, len(p), int64(len(m.data))); err != nil {
		return 0, err
	}
	return copy(p, m.data[off:]), nil
}

// WriteAt implements io.WriterAt.
func (m *Memory) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := check(off, len(p), int64(len(m.data))); err != nil {
		return 0, err
	}
	return copy(m.data[off:], p), nil
}

// File is a Storage backed by a file of fixed size.
type File struct {
	mu   sync.Mutex
	f    *os.File
	size int64
}

// OpenFile opens or creates the file at path. A new or short file is extended
// to size bytes with erased content.
func OpenFile(path string, size int64) (*File, error) {
	if size <= 0 {
		return nil, fmt.Errorf("eeprom: invalid size %d", size)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("eeprom: %w", err)
	}
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("eeprom: %w", err)
	}
	if cur := fi.Size(); cur < size {
		pad := make([]byte, size-cur)
		for i := range pad {
			pad[i] = Erased
		}
		if _, err := f.WriteAt(pad, cur); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("eeprom: extending %s: %w", path, err)
		}
	}
	return &File{f: f, size: size}, nil
}

func (f *File) String() string {
	return fmt.Sprintf("eeprom.File{%s}", f.f.Name())
}

// Size implements Storage.
func (f *File) Size() int64 {
	return f.size
}

// ReadAt implements io.ReaderAt.
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := check(off, len(p), f.size); err != nil {
		return 0, err
	}
	return f.f.ReadAt(p, off)
}

// WriteAt implements io.WriterAt. Data is synced before returning.
func (f *File) WriteAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := check(off, len(p), f.size); err != nil {
		return 0, err
	}
	n, err := f.f.WriteAt(p, off)
	if err != nil {
		return n, err
	}
	return n, f.f.Sync()
}

// Close closes the underlying file.
func (f *File) Close() error {
	return f.f.Close()
}

func check(off int64, n int, size int64) error {
	if off < 0 || off+int64(n) > size {
		return fmt.Errorf("%w: [%d, %d) of %d", ErrOutOfRange, off, off+int64(n), size)
	}
	return nil
}

var _ Storage = &Memory{}
var _ Storage = &File{}
