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

// Conversation is the shadow state of one chat.
type Conversation struct {
	Address         transport.Address
	Name            string
	IsGroup         bool
	Pinned          bool
	Archived        bool
	UnreadCount     int
	LastActivity    time.Time
	AvatarURL       string
	AvatarFetchedAt time.Time
	// Cursor is the oldest message backfill has reached; zero until
	// the first page lands.
	Cursor      transport.Anchor
	FullySynced bool

	// NameAttemptedAt is when naming repair last failed to find a
	// name; zero when it never has.
	NameAttemptedAt time.Time
}

const conversationColumns = `address, name, is_group, pinned, archived, unread_count, last_activity,
	avatar_url, avatar_fetched_at, cursor_message_id, cursor_timestamp, fully_synced, name_attempted_at`

func scanConversation(stmt *sqlite.Stmt) Conversation {
	return Conversation{
		Address:         transport.Address(stmt.ColumnText(0)),
		Name:            stmt.ColumnText(1),
		IsGroup:         columnBool(stmt, 2),
		Pinned:          columnBool(stmt, 3),
		Archived:        columnBool(stmt, 4),
		UnreadCount:     stmt.ColumnInt(5),
		LastActivity:    columnTime(stmt, 6),
		AvatarURL:       stmt.ColumnText(7),
		AvatarFetchedAt: columnTime(stmt, 8),
		Cursor: transport.Anchor{
			MessageID: stmt.ColumnText(9),
			Timestamp: columnTime(stmt, 10),
		},
		FullySynced:     columnBool(stmt, 11),
		NameAttemptedAt: columnTime(stmt, 12),
	}
}

// Activity is a change to a conversation caused by new messages.
type Activity struct {
	Address transport.Address
	IsGroup bool
	// At advances last_activity; an older value leaves it alone.
	At time.Time
	// Unread is added to the unread count.
	Unread int
}

// TouchConversation creates the conversation if needed and applies
// activity.
func (s *Store) TouchConversation(ctx context.Context, instanceID int64, activity Activity) error {
	_, err := s.change(ctx, `
		INSERT INTO conversations (instance_id, address, is_group, last_activity, unread_count)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (instance_id, address) DO UPDATE SET
			last_activity = CASE
				WHEN excluded.last_activity IS NULL THEN last_activity
				WHEN last_activity IS NULL OR excluded.last_activity > last_activity THEN excluded.last_activity
				ELSE last_activity END,
			unread_count = unread_count + excluded.unread_count`,
		instanceID, string(activity.Address), boolArg(activity.IsGroup), timeArg(activity.At), int64(activity.Unread))
	if err != nil {
		return fmt.Errorf("store: touching conversation %s: %w", activity.Address, err)
	}
	return nil
}

// Conversation returns one conversation or ErrNotFound.
func (s *Store) Conversation(ctx context.Context, instanceID int64, address transport.Address) (Conversation, error) {
	var conversation Conversation
	found := false
	err := s.execute(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE instance_id = ? AND address = ?`,
		[]any{instanceID, string(address)},
		func(stmt *sqlite.Stmt) error {
			conversation = scanConversation(stmt)
			found = true
			return nil
		})
	if err != nil {
		return Conversation{}, fmt.Errorf("store: reading conversation %s: %w", address, err)
	}
	if !found {
		return Conversation{}, fmt.Errorf("%w: conversation %s", ErrNotFound, address)
	}
	return conversation, nil
}

// Conversations lists an instance's conversations, most recently
// active first.
func (s *Store) Conversations(ctx context.Context, instanceID int64) ([]Conversation, error) {
	return s.queryConversations(ctx, `SELECT `+conversationColumns+` FROM conversations
		WHERE instance_id = ? ORDER BY last_activity DESC NULLS LAST, address`, instanceID)
}

func (s *Store) queryConversations(ctx context.Context, query string, args ...any) ([]Conversation, error) {
	var conversations []Conversation
	err := s.execute(ctx, query, args, func(stmt *sqlite.Stmt) error {
		conversations = append(conversations, scanConversation(stmt))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: listing conversations: %w", err)
	}
	return conversations, nil
}

// CountConversations returns how many conversations an instance has.
func (s *Store) CountConversations(ctx context.Context, instanceID int64) (int, error) {
	count := 0
	err := s.execute(ctx, `SELECT count(*) FROM conversations WHERE instance_id = ?`, []any{instanceID},
		func(stmt *sqlite.Stmt) error {
			count = stmt.ColumnInt(0)
			return nil
		})
	if err != nil {
		return 0, fmt.Errorf("store: counting conversations: %w", err)
	}
	return count, nil
}

// NextBackfill returns the conversation backfill should work on next:
// not fully synced, pinned first, then most unread, then most recently
// active. ErrNotFound means every conversation is synced.
func (s *Store) NextBackfill(ctx context.Context, instanceID int64) (Conversation, error) {
	conversations, err := s.queryConversations(ctx, `SELECT `+conversationColumns+` FROM conversations
		WHERE instance_id = ? AND fully_synced = 0
		ORDER BY pinned DESC, unread_count DESC, last_activity DESC NULLS LAST, address
		LIMIT 1`, instanceID)
	if err != nil {
		return Conversation{}, err
	}
	if len(conversations) == 0 {
		return Conversation{}, fmt.Errorf("%w: no conversation awaiting backfill", ErrNotFound)
	}
	return conversations[0], nil
}

// AdvanceCursor moves the backfill cursor to anchor if anchor is older
// than the current cursor, comparing timestamps and then message ids.
// It reports whether the cursor moved.
func (s *Store) AdvanceCursor(ctx context.Context, instanceID int64, address transport.Address, anchor transport.Anchor) (bool, error) {
	changes, err := s.change(ctx, `
		UPDATE conversations SET cursor_message_id = ?1, cursor_timestamp = ?2
		WHERE instance_id = ?3 AND address = ?4
			AND (cursor_timestamp IS NULL OR ?2 < cursor_timestamp
				OR (?2 = cursor_timestamp AND ?1 < cursor_message_id))`,
		anchor.MessageID, anchor.Timestamp.UnixMilli(), instanceID, string(address))
	if err != nil {
		return false, fmt.Errorf("store: advancing cursor of %s: %w", address, err)
	}
	return changes > 0, nil
}

// MarkFullySynced records that no older history exists.
func (s *Store) MarkFullySynced(ctx context.Context, instanceID int64, address transport.Address) error {
	return s.updateConversation(ctx, instanceID, address, `fully_synced = 1`)
}

// SetConversationName records a resolved display name.
func (s *Store) SetConversationName(ctx context.Context, instanceID int64, address transport.Address, name string) error {
	return s.updateConversation(ctx, instanceID, address, `name = ?`, name)
}

// SetAvatar records a profile picture lookup. An empty url records a
// negative result.
func (s *Store) SetAvatar(ctx context.Context, instanceID int64, address transport.Address, url string, fetchedAt time.Time) error {
	return s.updateConversation(ctx, instanceID, address, `avatar_url = ?, avatar_fetched_at = ?`, url, timeArg(fetchedAt))
}

// ApplyChatChange mirrors a chat flag change. ChatDelete removes the
// conversation and its messages.
func (s *Store) ApplyChatChange(ctx context.Context, instanceID int64, address transport.Address, change transport.ChatChange) error {
	switch change {
	case transport.ChatArchive:
		return s.updateConversation(ctx, instanceID, address, `archived = 1`)
	case transport.ChatUnarchive:
		return s.updateConversation(ctx, instanceID, address, `archived = 0`)
	case transport.ChatPin:
		return s.updateConversation(ctx, instanceID, address, `pinned = 1`)
	case transport.ChatUnpin:
		return s.updateConversation(ctx, instanceID, address, `pinned = 0`)
	case transport.ChatMarkRead:
		return s.updateConversation(ctx, instanceID, address, `unread_count = 0`)
	case transport.ChatDelete:
		return s.deleteConversation(ctx, instanceID, address)
	default:
		return fmt.Errorf("store: unknown chat change %q", change)
	}
}

func (s *Store) updateConversation(ctx context.Context, instanceID int64, address transport.Address, set string, args ...any) error {
	args = append(args, instanceID, string(address))
	changes, err := s.change(ctx, `UPDATE conversations SET `+set+` WHERE instance_id = ? AND address = ?`, args...)
	if err != nil {
		return fmt.Errorf("store: updating conversation %s: %w", address, err)
	}
	if changes == 0 {
		return fmt.Errorf("%w: conversation %s", ErrNotFound, address)
	}
	return nil
}

func (s *Store) deleteConversation(ctx context.Context, instanceID int64, address transport.Address) error {
	err := s.pool.Tx(ctx, func(conn *sqlite.Conn) error {
		args := &sqlitex.ExecOptions{Args: []any{instanceID, string(address)}}
		if err := sqlitex.Execute(conn, `DELETE FROM messages WHERE instance_id = ? AND conversation = ?`, args); err != nil {
			return err
		}
		return sqlitex.Execute(conn, `DELETE FROM conversations WHERE instance_id = ? AND address = ?`, args)
	})
	if err != nil {
		return fmt.Errorf("store: deleting conversation %s: %w", address, err)
	}
	return nil
}

// UnnamedConversations returns up to limit conversations whose name is
// empty or looks like a raw address, most recently active first.
// Conversations whose name lookup came up empty at or after
// attemptedSince are skipped, so unresolvable ones do not crowd out
// the rest.
func (s *Store) UnnamedConversations(ctx context.Context, instanceID int64, limit int, attemptedSince time.Time) ([]Conversation, error) {
	candidates, err := s.queryConversations(ctx, `SELECT `+conversationColumns+` FROM conversations
		WHERE instance_id = ? AND (name_attempted_at IS NULL OR name_attempted_at < ?)
		ORDER BY last_activity DESC NULLS LAST, address`, instanceID, attemptedSince.UnixMilli())
	if err != nil {
		return nil, err
	}
	var unnamed []Conversation
	for _, conversation := range candidates {
		if len(unnamed) == limit {
			break
		}
		if transport.LooksLikeAddress(conversation.Name) {
			unnamed = append(unnamed, conversation)
		}
	}
	return unnamed, nil
}

// MarkNameAttempted records that a name lookup for the conversation
// found nothing at the given time.
func (s *Store) MarkNameAttempted(ctx context.Context, instanceID int64, address transport.Address, at time.Time) error {
	return s.updateConversation(ctx, instanceID, address, `name_attempted_at = ?`, timeArg(at))
}
