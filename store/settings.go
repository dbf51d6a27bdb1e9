// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"

	"zombiezen.com/go/sqlite"

	"github.com/bureau-foundation/switchboard/lib/codec"
)

// Known setting keys.
const (
	// SettingWatchdogDisabled (bool) stops the liveness watchdog from
	// forcing reconnects.
	SettingWatchdogDisabled = "watchdog.disabled"
	// SettingPresenceRevertAfter (codec.DurationSeconds) is how long
	// an "available" presence lasts before reverting.
	SettingPresenceRevertAfter = "presence.revert_after"
)

// SetSetting stores value CBOR-encoded under key.
func (s *Store) SetSetting(ctx context.Context, instanceID int64, key string, value any) error {
	encoded, err := codec.Marshal(value)
	if err != nil {
		return fmt.Errorf("store: encoding setting %s: %w", key, err)
	}
	_, err = s.change(ctx, `INSERT INTO settings (instance_id, key, value) VALUES (?, ?, ?)
		ON CONFLICT (instance_id, key) DO UPDATE SET value = excluded.value`,
		instanceID, key, encoded)
	if err != nil {
		return fmt.Errorf("store: writing setting %s: %w", key, err)
	}
	return nil
}

// SetRawSetting stores an already CBOR-encoded value.
func (s *Store) SetRawSetting(ctx context.Context, instanceID int64, key string, encoded codec.RawMessage) error {
	var decoded any
	if err := codec.Unmarshal(encoded, &decoded); err != nil {
		return fmt.Errorf("store: setting %s is not valid CBOR: %w", key, err)
	}
	_, err := s.change(ctx, `INSERT INTO settings (instance_id, key, value) VALUES (?, ?, ?)
		ON CONFLICT (instance_id, key) DO UPDATE SET value = excluded.value`,
		instanceID, key, []byte(encoded))
	if err != nil {
		return fmt.Errorf("store: writing setting %s: %w", key, err)
	}
	return nil
}

// Setting decodes the value stored under key into target. It reports
// false, leaving target untouched, when the key is unset.
func (s *Store) Setting(ctx context.Context, instanceID int64, key string, target any) (bool, error) {
	var encoded []byte
	err := s.execute(ctx, `SELECT value FROM settings WHERE instance_id = ? AND key = ?`,
		[]any{instanceID, key},
		func(stmt *sqlite.Stmt) error {
			encoded = make([]byte, stmt.ColumnLen(0))
			stmt.ColumnBytes(0, encoded)
			return nil
		})
	if err != nil {
		return false, fmt.Errorf("store: reading setting %s: %w", key, err)
	}
	if encoded == nil {
		return false, nil
	}
	if err := codec.Unmarshal(encoded, target); err != nil {
		return false, fmt.Errorf("store: decoding setting %s: %w", key, err)
	}
	return true, nil
}

// DeleteSetting removes key. Deleting an unset key is not an error.
func (s *Store) DeleteSetting(ctx context.Context, instanceID int64, key string) error {
	if _, err := s.change(ctx, `DELETE FROM settings WHERE instance_id = ? AND key = ?`, instanceID, key); err != nil {
		return fmt.Errorf("store: deleting setting %s: %w", key, err)
	}
	return nil
}
