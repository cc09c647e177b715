// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ows implements the slave side of the 1-Wire protocol in software.
//
// An Engine impersonates a single device with an 8 byte ROM code on an open
// drain line. It answers reset pulses with a presence pulse, takes part in
// ROM searches, honors MATCH, SKIP, RESUME and CONDITIONAL SEARCH, and hands
// the bus over to a Handler once the device is selected.
//
// All timing is done by polling the line and busy waiting. Each primitive
// returns a Fault when the master stops following the protocol; the fault
// aborts the current transaction and the engine goes back to waiting for a
// reset.
//
// Datasheet
//
// https://www.analog.com/en/technical-articles/1wire-communication-through-software.html
//
// https://www.analog.com/media/en/technical-documentation/data-sheets/DS2413.pdf
package ows
