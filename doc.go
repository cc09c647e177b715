// Copyright 2021 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package owslave impersonates 1-Wire slave devices by bit-banging an open
// drain line.
//
// The engine lives in package ows. Device layers (ds2413, ds2450, ds18b20)
// plug into it through ows.Handler. Package owsim runs engines and a master
// on a simulated line in virtual time, which is how everything is tested.
package owslave
