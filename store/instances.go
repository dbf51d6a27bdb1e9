// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// Instance is one linked account.
type Instance struct {
	ID          int64
	Name        string
	Owner       string
	Status      string
	Presence    string
	NeedsRelink bool
	CreatedAt   time.Time
}

const instanceColumns = `id, name, owner, status, presence, needs_relink, created_at`

func scanInstance(stmt *sqlite.Stmt) Instance {
	return Instance{
		ID:          stmt.ColumnInt64(0),
		Name:        stmt.ColumnText(1),
		Owner:       stmt.ColumnText(2),
		Status:      stmt.ColumnText(3),
		Presence:    stmt.ColumnText(4),
		NeedsRelink: columnBool(stmt, 5),
		CreatedAt:   columnTime(stmt, 6),
	}
}

// CreateInstance inserts a new instance and returns it with its
// assigned id.
func (s *Store) CreateInstance(ctx context.Context, name, owner string, createdAt time.Time) (Instance, error) {
	instance := Instance{
		Name:      name,
		Owner:     owner,
		Status:    "disconnected",
		Presence:  "unavailable",
		CreatedAt: createdAt.Truncate(time.Millisecond).UTC(),
	}
	err := s.pool.With(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn,
			`INSERT INTO instances (name, owner, status, presence, created_at) VALUES (?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{name, owner, instance.Status, instance.Presence, createdAt.UnixMilli()}})
		if err != nil {
			return err
		}
		instance.ID = conn.LastInsertRowID()
		return nil
	})
	if err != nil {
		return Instance{}, fmt.Errorf("store: creating instance: %w", err)
	}
	return instance, nil
}

// Instance returns one instance or ErrNotFound.
func (s *Store) Instance(ctx context.Context, id int64) (Instance, error) {
	var instance Instance
	found := false
	err := s.execute(ctx, `SELECT `+instanceColumns+` FROM instances WHERE id = ?`, []any{id},
		func(stmt *sqlite.Stmt) error {
			instance = scanInstance(stmt)
			found = true
			return nil
		})
	if err != nil {
		return Instance{}, fmt.Errorf("store: reading instance %d: %w", id, err)
	}
	if !found {
		return Instance{}, fmt.Errorf("%w: instance %d", ErrNotFound, id)
	}
	return instance, nil
}

// Instances returns every instance ordered by id.
func (s *Store) Instances(ctx context.Context) ([]Instance, error) {
	var instances []Instance
	err := s.execute(ctx, `SELECT `+instanceColumns+` FROM instances ORDER BY id`, nil,
		func(stmt *sqlite.Stmt) error {
			instances = append(instances, scanInstance(stmt))
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("store: listing instances: %w", err)
	}
	return instances, nil
}

func (s *Store) updateInstance(ctx context.Context, id int64, column string, value any) error {
	changes, err := s.change(ctx, `UPDATE instances SET `+column+` = ? WHERE id = ?`, value, id)
	if err != nil {
		return fmt.Errorf("store: updating %s of instance %d: %w", column, id, err)
	}
	if changes == 0 {
		return fmt.Errorf("%w: instance %d", ErrNotFound, id)
	}
	return nil
}

// SetInstanceStatus records the lifecycle status.
func (s *Store) SetInstanceStatus(ctx context.Context, id int64, status string) error {
	return s.updateInstance(ctx, id, "status", status)
}

// SetInstancePresence records the desired presence.
func (s *Store) SetInstancePresence(ctx context.Context, id int64, presence string) error {
	return s.updateInstance(ctx, id, "presence", presence)
}

// SetNeedsRelink records whether the instance must be paired again.
func (s *Store) SetNeedsRelink(ctx context.Context, id int64, needsRelink bool) error {
	return s.updateInstance(ctx, id, "needs_relink", boolArg(needsRelink))
}

// DeleteInstance removes the instance row and, by cascade, everything
// it owns.
func (s *Store) DeleteInstance(ctx context.Context, id int64) error {
	changes, err := s.change(ctx, `DELETE FROM instances WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: deleting instance %d: %w", id, err)
	}
	if changes == 0 {
		return fmt.Errorf("%w: instance %d", ErrNotFound, id)
	}
	return nil
}

// WipeInstanceData deletes the instance's shadow data (conversations,
// messages, contacts, tracked contacts, schedules, settings) and keeps
// the instance row.
func (s *Store) WipeInstanceData(ctx context.Context, id int64) error {
	tables := []string{"messages", "conversations", "contacts", "tracked_contacts", "stealth_schedules", "settings"}
	err := s.pool.Tx(ctx, func(conn *sqlite.Conn) error {
		for _, table := range tables {
			if err := sqlitex.Execute(conn, `DELETE FROM `+table+` WHERE instance_id = ?`,
				&sqlitex.ExecOptions{Args: []any{id}}); err != nil {
				return fmt.Errorf("%s: %w", table, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: wiping instance %d: %w", id, err)
	}
	return nil
}
