// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package instance runs one linked account: its transport connection,
// lifecycle state, command queue, background workers, visibility
// scheduler and presence tracker.
//
// Each instance has a single event loop goroutine. It consumes the
// connection's events, the corruption symptoms reported by the
// transport's logger, and commands posted by the public methods
// (reconnect, timers). The loop is the only writer of the instance's
// status:
//
//	disconnected --dial, no credentials--> qr_pending --pair--> connected
//	disconnected --dial, credentials----------------------> connected
//	connected    --close---------------------------------> disconnected
//
// A close with ReasonLoggedOut is terminal: credentials are wiped and
// the instance stays disconnected until it is paired again. Any other
// close schedules a reconnect. A close carrying a corruption symptom
// triggers a hard repair (credentials wiped, fresh pairing), and
// HealthThreshold symptoms inside HealthWindow trigger a soft repair
// (session keys wiped, credential kept, reconnect).
//
// Every network request, foreground or background, goes through the
// instance's traffic.Queue. The instance is the queue's ConnSource;
// replacing the connection cancels whatever task is in flight on the
// old one.
package instance
