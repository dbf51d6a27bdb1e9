// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool wraps zombiezen.com/go/sqlite's sqlitex.Pool with
// the pragmas Switchboard's store expects and with ordered schema
// migrations.
//
// Every connection is prepared with WAL journaling (external readers
// such as the presentation layer never block the daemon's writes),
// synchronous=NORMAL, a 5 second busy timeout and foreign keys on, so
// deleting an instance row cascades to its conversations, messages and
// schedules.
//
// Migrations are a slice of SQL scripts. Script i brings the schema to
// version i+1; [Pool.Migrate] runs the ones newer than the database's
// PRAGMA user_version inside a single transaction each.
package sqlitepool
