// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package traffic is the per-instance command queue: the single
// chokepoint through which every outbound request to an instance's
// transport connection passes.
//
// A [Queue] runs one task at a time on one dispatcher goroutine.
// Pending tasks are ordered by priority ([High] before [Medium] before
// [Low]) and, within a priority, by enqueue order. Before each task the
// dispatcher waits until enough time has passed since the previous
// task completed:
//
//	delay = base + warmupExtra*(1 - age/48h)   while the account is younger than 48h
//	delay = base                                afterwards
//	wait  = delay * uniform[0.8, 1.5]
//
// If that much time has already elapsed the task runs immediately.
//
// Tasks receive the live connection from a [ConnSource] at execution
// time, never at enqueue time. The task's context ends when that
// connection is retired, so a call abandoned by a reconnect fails with
// [ErrTransportChanged] instead of completing against a stale handle.
//
// [Queue.Clear] is the only cancellation primitive: it fails every
// pending task at or below a priority with a [*CancelledError]. Every
// [Future] resolves exactly once, with a value, an error, a
// [*PanicError], or a cancellation.
package traffic
