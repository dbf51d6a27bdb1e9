// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts wall-clock time so that every timer in
// Switchboard can be driven deterministically in tests.
//
// Components take a [Clock] in their Config struct. The daemon passes
// [Real]; tests pass a [FakeClock] from [Fake] and move time forward
// with [FakeClock.Advance]:
//
//	fake := clock.Fake(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
//	queue := traffic.New(traffic.Config{Clock: fake, ...})
//	fake.WaitForTimers(1)       // the dispatcher is now waiting on its delay
//	fake.Advance(3 * time.Second)
//
// Advance walks through pending deadlines in order, so a callback
// registered with AfterFunc observes Now() equal to its own deadline
// and timers it arms during the callback fire within the same Advance
// if they fall inside the advanced span.
package clock
