// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package store is switchboard's SQLite persistence: instance rows and
// the per-instance shadow copy of conversation state (conversations,
// messages, contacts), tracked contacts, visibility schedules and
// settings.
//
// Every per-instance table references instances(id) with ON DELETE
// CASCADE, so [Store.DeleteInstance] removes everything an instance
// owns. [Store.WipeInstanceData] clears the shadow data but keeps the
// row.
//
// Writes that mirror network state are idempotent upserts keyed by the
// network's ids: replaying a history page never duplicates a message,
// and a conversation's backfill cursor only ever moves toward older
// messages.
//
// Timestamps are stored as Unix milliseconds; NULL is the zero
// time.Time. Raw message payloads are zstd frames from lib/blob and
// setting values are CBOR.
package store
