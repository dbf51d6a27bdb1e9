// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/switchboard/transport"
)

// Contact is an address book entry.
type Contact struct {
	Address      transport.Address
	Name         string
	PushName     string
	VerifiedName string
}

// DisplayName returns the best human name known for the contact, or
// "".
func (c Contact) DisplayName() string {
	for _, candidate := range []string{c.Name, c.VerifiedName, c.PushName} {
		if !transport.LooksLikeAddress(candidate) {
			return candidate
		}
	}
	return ""
}

// UpsertContacts merges address book entries. Empty fields never
// overwrite known values.
func (s *Store) UpsertContacts(ctx context.Context, instanceID int64, contacts []transport.Contact) error {
	if len(contacts) == 0 {
		return nil
	}
	err := s.pool.Tx(ctx, func(conn *sqlite.Conn) error {
		for _, contact := range contacts {
			err := sqlitex.Execute(conn, `
				INSERT INTO contacts (instance_id, address, name, push_name) VALUES (?, ?, ?, ?)
				ON CONFLICT (instance_id, address) DO UPDATE SET
					name = CASE WHEN excluded.name != '' THEN excluded.name ELSE name END,
					push_name = CASE WHEN excluded.push_name != '' THEN excluded.push_name ELSE push_name END`,
				&sqlitex.ExecOptions{Args: []any{instanceID, string(contact.Address), contact.Name, contact.PushName}})
			if err != nil {
				return fmt.Errorf("%s: %w", contact.Address, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: upserting contacts: %w", err)
	}
	return nil
}

// SetVerifiedName records a name confirmed by the network.
func (s *Store) SetVerifiedName(ctx context.Context, instanceID int64, address transport.Address, name string) error {
	_, err := s.change(ctx, `
		INSERT INTO contacts (instance_id, address, verified_name) VALUES (?, ?, ?)
		ON CONFLICT (instance_id, address) DO UPDATE SET verified_name = excluded.verified_name`,
		instanceID, string(address), name)
	if err != nil {
		return fmt.Errorf("store: setting verified name of %s: %w", address, err)
	}
	return nil
}

// Contact returns one contact or ErrNotFound.
func (s *Store) Contact(ctx context.Context, instanceID int64, address transport.Address) (Contact, error) {
	var contact Contact
	found := false
	err := s.execute(ctx, `SELECT address, name, push_name, verified_name FROM contacts
		WHERE instance_id = ? AND address = ?`,
		[]any{instanceID, string(address)},
		func(stmt *sqlite.Stmt) error {
			contact = Contact{
				Address:      transport.Address(stmt.ColumnText(0)),
				Name:         stmt.ColumnText(1),
				PushName:     stmt.ColumnText(2),
				VerifiedName: stmt.ColumnText(3),
			}
			found = true
			return nil
		})
	if err != nil {
		return Contact{}, fmt.Errorf("store: reading contact %s: %w", address, err)
	}
	if !found {
		return Contact{}, fmt.Errorf("%w: contact %s", ErrNotFound, address)
	}
	return contact, nil
}

// TrackedContact is the presence history of a watched contact.
type TrackedContact struct {
	Address    transport.Address
	LastOnline time.Time
	// OnlineSince is the start of the open session, zero when none is
	// open.
	OnlineSince  time.Time
	DailySeconds int64
	// Day is the local date ("2006-01-02") DailySeconds belongs to.
	Day          string
	LastOutbound time.Time
	LastInbound  time.Time
}

const trackedColumns = `address, last_online, online_since, daily_seconds, day, last_outbound, last_inbound`

func scanTracked(stmt *sqlite.Stmt) TrackedContact {
	return TrackedContact{
		Address:      transport.Address(stmt.ColumnText(0)),
		LastOnline:   columnTime(stmt, 1),
		OnlineSince:  columnTime(stmt, 2),
		DailySeconds: stmt.ColumnInt64(3),
		Day:          stmt.ColumnText(4),
		LastOutbound: columnTime(stmt, 5),
		LastInbound:  columnTime(stmt, 6),
	}
}

// Track starts watching address. Watching an already tracked contact
// keeps its history.
func (s *Store) Track(ctx context.Context, instanceID int64, address transport.Address) error {
	_, err := s.change(ctx, `INSERT INTO tracked_contacts (instance_id, address) VALUES (?, ?)
		ON CONFLICT (instance_id, address) DO NOTHING`, instanceID, string(address))
	if err != nil {
		return fmt.Errorf("store: tracking %s: %w", address, err)
	}
	return nil
}

// Untrack stops watching address and drops its history.
func (s *Store) Untrack(ctx context.Context, instanceID int64, address transport.Address) error {
	changes, err := s.change(ctx, `DELETE FROM tracked_contacts WHERE instance_id = ? AND address = ?`,
		instanceID, string(address))
	if err != nil {
		return fmt.Errorf("store: untracking %s: %w", address, err)
	}
	if changes == 0 {
		return fmt.Errorf("%w: tracked contact %s", ErrNotFound, address)
	}
	return nil
}

// Tracked lists an instance's tracked contacts ordered by address.
func (s *Store) Tracked(ctx context.Context, instanceID int64) ([]TrackedContact, error) {
	var tracked []TrackedContact
	err := s.execute(ctx, `SELECT `+trackedColumns+` FROM tracked_contacts WHERE instance_id = ? ORDER BY address`,
		[]any{instanceID},
		func(stmt *sqlite.Stmt) error {
			tracked = append(tracked, scanTracked(stmt))
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("store: listing tracked contacts: %w", err)
	}
	return tracked, nil
}

// SaveTracked writes the full presence history of a tracked contact.
// It returns ErrNotFound if the contact is not tracked.
func (s *Store) SaveTracked(ctx context.Context, instanceID int64, contact TrackedContact) error {
	changes, err := s.change(ctx, `UPDATE tracked_contacts SET
			last_online = ?, online_since = ?, daily_seconds = ?, day = ?, last_outbound = ?, last_inbound = ?
		WHERE instance_id = ? AND address = ?`,
		timeArg(contact.LastOnline),
		timeArg(contact.OnlineSince),
		contact.DailySeconds,
		contact.Day,
		timeArg(contact.LastOutbound),
		timeArg(contact.LastInbound),
		instanceID,
		string(contact.Address))
	if err != nil {
		return fmt.Errorf("store: saving tracked contact %s: %w", contact.Address, err)
	}
	if changes == 0 {
		return fmt.Errorf("%w: tracked contact %s", ErrNotFound, contact.Address)
	}
	return nil
}
