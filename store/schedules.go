// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/switchboard/lib/window"
	"github.com/bureau-foundation/switchboard/transport"
)

// Schedule is a stored visibility schedule. Position orders schedules
// by declaration; the first matching schedule wins.
type Schedule struct {
	ID       int64
	Name     string
	Window   window.Window
	Mode     string
	Enabled  bool
	Position int
	Targets  []transport.Address
}

// AddSchedule appends a schedule after the instance's existing ones
// and returns it with ID and Position assigned.
func (s *Store) AddSchedule(ctx context.Context, instanceID int64, schedule Schedule) (Schedule, error) {
	err := s.pool.Tx(ctx, func(conn *sqlite.Conn) error {
		position := 0
		err := sqlitex.Execute(conn, `SELECT coalesce(max(position), -1) + 1 FROM stealth_schedules WHERE instance_id = ?`,
			&sqlitex.ExecOptions{
				Args: []any{instanceID},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					position = stmt.ColumnInt(0)
					return nil
				},
			})
		if err != nil {
			return err
		}
		schedule.Position = position
		return insertSchedule(conn, instanceID, &schedule)
	})
	if err != nil {
		return Schedule{}, fmt.Errorf("store: adding schedule: %w", err)
	}
	return schedule, nil
}

func insertSchedule(conn *sqlite.Conn, instanceID int64, schedule *Schedule) error {
	err := sqlitex.Execute(conn, `INSERT INTO stealth_schedules
		(instance_id, name, start_time, end_time, days, mode, enabled, position)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{
			instanceID,
			schedule.Name,
			schedule.Window.Start.String(),
			schedule.Window.End.String(),
			schedule.Window.Days.String(),
			schedule.Mode,
			boolArg(schedule.Enabled),
			int64(schedule.Position),
		}})
	if err != nil {
		return err
	}
	schedule.ID = conn.LastInsertRowID()
	for _, target := range schedule.Targets {
		err := sqlitex.Execute(conn,
			`INSERT INTO stealth_targets (schedule_id, address) VALUES (?, ?) ON CONFLICT DO NOTHING`,
			&sqlitex.ExecOptions{Args: []any{schedule.ID, string(target)}})
		if err != nil {
			return fmt.Errorf("target %s: %w", target, err)
		}
	}
	return nil
}

// RemoveSchedule deletes a schedule of the instance or returns
// ErrNotFound.
func (s *Store) RemoveSchedule(ctx context.Context, instanceID, scheduleID int64) error {
	changes, err := s.change(ctx, `DELETE FROM stealth_schedules WHERE instance_id = ? AND id = ?`, instanceID, scheduleID)
	if err != nil {
		return fmt.Errorf("store: removing schedule %d: %w", scheduleID, err)
	}
	if changes == 0 {
		return fmt.Errorf("%w: schedule %d", ErrNotFound, scheduleID)
	}
	return nil
}

// ReplaceSchedules atomically replaces all of the instance's schedules
// with schedules, positioned in slice order.
func (s *Store) ReplaceSchedules(ctx context.Context, instanceID int64, schedules []Schedule) ([]Schedule, error) {
	stored := make([]Schedule, len(schedules))
	copy(stored, schedules)
	err := s.pool.Tx(ctx, func(conn *sqlite.Conn) error {
		if err := sqlitex.Execute(conn, `DELETE FROM stealth_schedules WHERE instance_id = ?`,
			&sqlitex.ExecOptions{Args: []any{instanceID}}); err != nil {
			return err
		}
		for i := range stored {
			stored[i].Position = i
			if err := insertSchedule(conn, instanceID, &stored[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: replacing schedules: %w", err)
	}
	return stored, nil
}

// Schedules lists the instance's schedules in declaration order.
func (s *Store) Schedules(ctx context.Context, instanceID int64) ([]Schedule, error) {
	var schedules []Schedule
	err := s.pool.With(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `SELECT id, name, start_time, end_time, days, mode, enabled, position
			FROM stealth_schedules WHERE instance_id = ? ORDER BY position, id`,
			&sqlitex.ExecOptions{
				Args: []any{instanceID},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					days, err := window.ParseDays(stmt.ColumnText(4))
					if err != nil {
						return fmt.Errorf("schedule %d: %w", stmt.ColumnInt64(0), err)
					}
					w, err := window.Parse(stmt.ColumnText(2), stmt.ColumnText(3), days)
					if err != nil {
						return fmt.Errorf("schedule %d: %w", stmt.ColumnInt64(0), err)
					}
					schedules = append(schedules, Schedule{
						ID:       stmt.ColumnInt64(0),
						Name:     stmt.ColumnText(1),
						Window:   w,
						Mode:     stmt.ColumnText(5),
						Enabled:  columnBool(stmt, 6),
						Position: stmt.ColumnInt(7),
					})
					return nil
				},
			})
		if err != nil {
			return err
		}
		for i := range schedules {
			err := sqlitex.Execute(conn, `SELECT address FROM stealth_targets WHERE schedule_id = ? ORDER BY address`,
				&sqlitex.ExecOptions{
					Args: []any{schedules[i].ID},
					ResultFunc: func(stmt *sqlite.Stmt) error {
						schedules[i].Targets = append(schedules[i].Targets, transport.Address(stmt.ColumnText(0)))
						return nil
					},
				})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: listing schedules: %w", err)
	}
	return schedules, nil
}
