// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/switchboard/lib/blob"
	"github.com/bureau-foundation/switchboard/transport"
)

// Message is a stored message.
type Message struct {
	transport.Message
	Status transport.ReceiptStatus
}

const messageColumns = `message_id, conversation, sender, sender_name, body, timestamp, from_me, status, raw`

func scanMessage(stmt *sqlite.Stmt) (Message, error) {
	message := Message{
		Message: transport.Message{
			ID:           stmt.ColumnText(0),
			Conversation: transport.Address(stmt.ColumnText(1)),
			Sender:       transport.Address(stmt.ColumnText(2)),
			SenderName:   stmt.ColumnText(3),
			Text:         stmt.ColumnText(4),
			Timestamp:    columnTime(stmt, 5),
			FromMe:       columnBool(stmt, 6),
		},
		Status: transport.ReceiptStatus(stmt.ColumnText(7)),
	}
	if !stmt.ColumnIsNull(8) {
		frame := make([]byte, stmt.ColumnLen(8))
		stmt.ColumnBytes(8, frame)
		raw, err := blob.Unpack(frame)
		if err != nil {
			return Message{}, fmt.Errorf("message %s: %w", message.ID, err)
		}
		message.Raw = raw
	}
	return message, nil
}

// UpsertMessages stores messages, ignoring ones already present, in a
// single transaction. It returns the messages that were new.
func (s *Store) UpsertMessages(ctx context.Context, instanceID int64, messages []transport.Message) ([]transport.Message, error) {
	if len(messages) == 0 {
		return nil, nil
	}
	var inserted []transport.Message
	err := s.pool.Tx(ctx, func(conn *sqlite.Conn) error {
		for _, message := range messages {
			var raw any
			if len(message.Raw) > 0 {
				frame, err := blob.Pack(message.Raw, blob.Zstd)
				if err != nil {
					return fmt.Errorf("compressing %s: %w", message.ID, err)
				}
				raw = frame
			}
			err := sqlitex.Execute(conn, `
				INSERT INTO messages (instance_id, message_id, conversation, sender, sender_name, body, timestamp, from_me, raw)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (instance_id, message_id) DO NOTHING`,
				&sqlitex.ExecOptions{Args: []any{
					instanceID,
					message.ID,
					string(message.Conversation),
					string(message.Sender),
					message.SenderName,
					message.Text,
					message.Timestamp.UnixMilli(),
					boolArg(message.FromMe),
					raw,
				}})
			if err != nil {
				return fmt.Errorf("inserting %s: %w", message.ID, err)
			}
			if conn.Changes() > 0 {
				inserted = append(inserted, message)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: upserting messages: %w", err)
	}
	return inserted, nil
}

// Message returns one message or ErrNotFound.
func (s *Store) Message(ctx context.Context, instanceID int64, messageID string) (Message, error) {
	messages, err := s.queryMessages(ctx, `SELECT `+messageColumns+` FROM messages
		WHERE instance_id = ? AND message_id = ?`, instanceID, messageID)
	if err != nil {
		return Message{}, err
	}
	if len(messages) == 0 {
		return Message{}, fmt.Errorf("%w: message %s", ErrNotFound, messageID)
	}
	return messages[0], nil
}

// Messages returns a conversation's messages, oldest first.
func (s *Store) Messages(ctx context.Context, instanceID int64, conversation transport.Address) ([]Message, error) {
	return s.queryMessages(ctx, `SELECT `+messageColumns+` FROM messages
		WHERE instance_id = ? AND conversation = ? ORDER BY timestamp, message_id`,
		instanceID, string(conversation))
}

// OldestMessage returns the oldest stored message of a conversation or
// ErrNotFound.
func (s *Store) OldestMessage(ctx context.Context, instanceID int64, conversation transport.Address) (Message, error) {
	messages, err := s.queryMessages(ctx, `SELECT `+messageColumns+` FROM messages
		WHERE instance_id = ? AND conversation = ? ORDER BY timestamp, message_id LIMIT 1`,
		instanceID, string(conversation))
	if err != nil {
		return Message{}, err
	}
	if len(messages) == 0 {
		return Message{}, fmt.Errorf("%w: no messages in %s", ErrNotFound, conversation)
	}
	return messages[0], nil
}

func (s *Store) queryMessages(ctx context.Context, query string, args ...any) ([]Message, error) {
	var messages []Message
	err := s.execute(ctx, query, args, func(stmt *sqlite.Stmt) error {
		message, err := scanMessage(stmt)
		if err != nil {
			return err
		}
		messages = append(messages, message)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: reading messages: %w", err)
	}
	return messages, nil
}

// SetMessageStatus records a delivery receipt. Unknown messages are
// ignored; the result reports whether a row changed.
func (s *Store) SetMessageStatus(ctx context.Context, instanceID int64, messageID string, status transport.ReceiptStatus) (bool, error) {
	changes, err := s.change(ctx, `UPDATE messages SET status = ? WHERE instance_id = ? AND message_id = ?`,
		string(status), instanceID, messageID)
	if err != nil {
		return false, fmt.Errorf("store: setting status of %s: %w", messageID, err)
	}
	return changes > 0, nil
}

// KnownSenderName returns the most recent sender name observed for
// sender that is not itself an address, or "".
func (s *Store) KnownSenderName(ctx context.Context, instanceID int64, sender transport.Address) (string, error) {
	var name string
	err := s.execute(ctx, `SELECT sender_name FROM messages
		WHERE instance_id = ? AND sender = ? AND sender_name != ''
		ORDER BY timestamp DESC`,
		[]any{instanceID, string(sender)},
		func(stmt *sqlite.Stmt) error {
			candidate := stmt.ColumnText(0)
			if name == "" && !transport.LooksLikeAddress(candidate) {
				name = candidate
			}
			return nil
		})
	if err != nil {
		return "", fmt.Errorf("store: looking up sender name of %s: %w", sender, err)
	}
	return name, nil
}

// RepairSenderNames replaces sender names of sender's messages that
// are empty or address-like with name. It returns the number of
// messages rewritten.
func (s *Store) RepairSenderNames(ctx context.Context, instanceID int64, sender transport.Address, name string) (int, error) {
	var wrong []string
	err := s.execute(ctx, `SELECT DISTINCT sender_name FROM messages WHERE instance_id = ? AND sender = ?`,
		[]any{instanceID, string(sender)},
		func(stmt *sqlite.Stmt) error {
			if candidate := stmt.ColumnText(0); transport.LooksLikeAddress(candidate) {
				wrong = append(wrong, candidate)
			}
			return nil
		})
	if err != nil {
		return 0, fmt.Errorf("store: reading sender names of %s: %w", sender, err)
	}

	total := 0
	err = s.pool.Tx(ctx, func(conn *sqlite.Conn) error {
		for _, old := range wrong {
			err := sqlitex.Execute(conn,
				`UPDATE messages SET sender_name = ? WHERE instance_id = ? AND sender = ? AND sender_name = ?`,
				&sqlitex.ExecOptions{Args: []any{name, instanceID, string(sender), old}})
			if err != nil {
				return err
			}
			total += conn.Changes()
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("store: repairing sender names of %s: %w", sender, err)
	}
	return total, nil
}
