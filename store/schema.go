// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

// migrations are applied in order; index i produces schema version
// i+1. Never edit an entry that has shipped: append a new one.
var migrations = []string{
	`
CREATE TABLE instances (
	id           INTEGER PRIMARY KEY,
	name         TEXT    NOT NULL,
	owner        TEXT    NOT NULL DEFAULT '',
	status       TEXT    NOT NULL DEFAULT 'disconnected',
	presence     TEXT    NOT NULL DEFAULT 'unavailable',
	needs_relink INTEGER NOT NULL DEFAULT 0,
	created_at   INTEGER NOT NULL
);

CREATE TABLE conversations (
	instance_id       INTEGER NOT NULL REFERENCES instances(id) ON DELETE CASCADE,
	address           TEXT    NOT NULL,
	name              TEXT    NOT NULL DEFAULT '',
	is_group          INTEGER NOT NULL DEFAULT 0,
	pinned            INTEGER NOT NULL DEFAULT 0,
	archived          INTEGER NOT NULL DEFAULT 0,
	unread_count      INTEGER NOT NULL DEFAULT 0,
	last_activity     INTEGER,
	avatar_url        TEXT    NOT NULL DEFAULT '',
	avatar_fetched_at INTEGER,
	cursor_message_id TEXT,
	cursor_timestamp  INTEGER,
	fully_synced      INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (instance_id, address)
);

CREATE INDEX conversations_backfill
	ON conversations (instance_id, fully_synced, pinned DESC, unread_count DESC, last_activity DESC);

CREATE TABLE messages (
	instance_id  INTEGER NOT NULL REFERENCES instances(id) ON DELETE CASCADE,
	message_id   TEXT    NOT NULL,
	conversation TEXT    NOT NULL,
	sender       TEXT    NOT NULL DEFAULT '',
	sender_name  TEXT    NOT NULL DEFAULT '',
	body         TEXT    NOT NULL DEFAULT '',
	timestamp    INTEGER NOT NULL,
	from_me      INTEGER NOT NULL DEFAULT 0,
	status       TEXT    NOT NULL DEFAULT '',
	raw          BLOB,
	PRIMARY KEY (instance_id, message_id)
);

CREATE INDEX messages_conversation_time
	ON messages (instance_id, conversation, timestamp);

CREATE INDEX messages_sender
	ON messages (instance_id, sender);

CREATE TABLE contacts (
	instance_id   INTEGER NOT NULL REFERENCES instances(id) ON DELETE CASCADE,
	address       TEXT    NOT NULL,
	name          TEXT    NOT NULL DEFAULT '',
	push_name     TEXT    NOT NULL DEFAULT '',
	verified_name TEXT    NOT NULL DEFAULT '',
	PRIMARY KEY (instance_id, address)
);

CREATE TABLE tracked_contacts (
	instance_id    INTEGER NOT NULL REFERENCES instances(id) ON DELETE CASCADE,
	address        TEXT    NOT NULL,
	last_online    INTEGER,
	online_since   INTEGER,
	daily_seconds  INTEGER NOT NULL DEFAULT 0,
	day            TEXT    NOT NULL DEFAULT '',
	last_outbound  INTEGER,
	last_inbound   INTEGER,
	PRIMARY KEY (instance_id, address)
);

CREATE TABLE stealth_schedules (
	id          INTEGER PRIMARY KEY,
	instance_id INTEGER NOT NULL REFERENCES instances(id) ON DELETE CASCADE,
	name        TEXT    NOT NULL DEFAULT '',
	start_time  TEXT    NOT NULL,
	end_time    TEXT    NOT NULL,
	days        TEXT    NOT NULL DEFAULT '',
	mode        TEXT    NOT NULL,
	enabled     INTEGER NOT NULL DEFAULT 1,
	position    INTEGER NOT NULL
);

CREATE INDEX stealth_schedules_order
	ON stealth_schedules (instance_id, position, id);

CREATE TABLE stealth_targets (
	schedule_id INTEGER NOT NULL REFERENCES stealth_schedules(id) ON DELETE CASCADE,
	address     TEXT    NOT NULL,
	PRIMARY KEY (schedule_id, address)
);

CREATE TABLE settings (
	instance_id INTEGER NOT NULL REFERENCES instances(id) ON DELETE CASCADE,
	key         TEXT    NOT NULL,
	value       BLOB    NOT NULL,
	PRIMARY KEY (instance_id, key)
);
`,
	`
ALTER TABLE conversations ADD COLUMN name_attempted_at INTEGER;
`,
}
