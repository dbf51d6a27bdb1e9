// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Switchboardd is the long-running daemon that owns every messaging
// instance. It opens the SQLite store, restores stored sessions,
// starts one supervisor per instance, and serves the admin socket
// that the switchboard CLI talks to.
//
// Configuration comes from the file named by --config or the
// SWITCHBOARD_CONFIG environment variable; with neither, built-in
// defaults are used with the in-memory transport. SIGINT and SIGTERM
// trigger a graceful shutdown that drains every instance's queue.
package main
