// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds test helpers shared across Switchboard
// packages.
//
// [RequireReceive], [RequireClosed] and [Eventually] are the only
// places in the test suite that wait on the real wall clock; they
// exist to turn a hang into a failure. Everything else in tests is
// driven by clock.FakeClock.
//
// [SocketDir] returns a short directory under /tmp for Unix sockets,
// whose paths are limited to 108 bytes.
package testutil
