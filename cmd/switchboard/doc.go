// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Switchboard is the operator CLI for switchboardd. Each subcommand
// is one request on the daemon's admin socket; the socket path comes
// from --socket, or from the same configuration the daemon reads.
//
//	switchboard create support --owner ops
//	switchboard pair 1 @support:example.org
//	switchboard schedule add 1 night --start 22:00 --end 06:00 --days mon-fri
//	switchboard --json list
package main
