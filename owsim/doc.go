// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package owsim simulates an open drain 1-Wire bus in virtual time.
//
// Each party on the bus is a Port run by its own goroutine. Only one goroutine
// runs at a time: a Port gives control away when it waits, and the scheduler
// resumes the Port with the earliest wake up time. Sampling the line costs
// one poll period so busy loops advance time like they would on hardware.
//
// Master is a bit-banging bus master on a Port. It implements
// onewire.BusSearcher so periph's onewire.Search and drivers can run against
// simulated slaves.
package owsim
