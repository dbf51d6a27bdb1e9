// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package instance

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bureau-foundation/switchboard/store"
	"github.com/bureau-foundation/switchboard/traffic"
	"github.com/bureau-foundation/switchboard/transport"
)

// Foreground operations run at HIGH priority and return the first
// failure. Local bookkeeping after a successful network call is best
// effort and only logged.

// ErrEmptyMessage is returned by SendText for blank text.
var ErrEmptyMessage = errors.New("instance: empty message")

// SendText sends text to target and records the outbound message. It
// returns the network's message id.
func (i *Instance) SendText(ctx context.Context, target transport.Address, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyMessage
	}
	id, err := traffic.Do(ctx, i.queue, traffic.High, func(ctx context.Context, conn traffic.Conn) (string, error) {
		return conn.Send(ctx, target, transport.Content{Text: text})
	})
	if err != nil {
		return "", fmt.Errorf("instance %d: send to %s: %w", i.record.ID, target, err)
	}

	now := i.clock.Now()
	message := transport.Message{
		ID:           id,
		Conversation: target,
		FromMe:       true,
		Text:         text,
		Timestamp:    now,
	}
	if _, err := i.store.UpsertMessages(ctx, i.record.ID, []transport.Message{message}); err != nil {
		i.logger.Warn("recording sent message failed", "message_id", id, "error", err)
	}
	isGroup := i.dialer.IsGroup(target)
	if err := i.store.TouchConversation(ctx, i.record.ID, store.Activity{Address: target, IsGroup: isGroup, At: now}); err != nil {
		i.logger.Warn("updating conversation failed", "conversation", target, "error", err)
	}
	if !isGroup {
		i.social.NoteOutbound(ctx, target, now)
	}
	return id, nil
}

// CreateGroup creates a group and records it as a conversation.
func (i *Instance) CreateGroup(ctx context.Context, subject string, participants []transport.Address) (transport.GroupInfo, error) {
	info, err := traffic.Do(ctx, i.queue, traffic.High, func(ctx context.Context, conn traffic.Conn) (transport.GroupInfo, error) {
		return conn.GroupCreate(ctx, subject, participants)
	})
	if err != nil {
		return transport.GroupInfo{}, fmt.Errorf("instance %d: create group: %w", i.record.ID, err)
	}
	activity := store.Activity{Address: info.Address, IsGroup: true, At: i.clock.Now()}
	if err := i.store.TouchConversation(ctx, i.record.ID, activity); err != nil {
		i.logger.Warn("recording group failed", "group", info.Address, "error", err)
		return info, nil
	}
	i.rename(ctx, info.Address, info.Subject)
	return info, nil
}

// UpdateGroupSubject renames a group.
func (i *Instance) UpdateGroupSubject(ctx context.Context, group transport.Address, subject string) error {
	err := traffic.Run(ctx, i.queue, traffic.High, func(ctx context.Context, conn traffic.Conn) error {
		return conn.GroupUpdateSubject(ctx, group, subject)
	})
	if err != nil {
		return fmt.Errorf("instance %d: update subject of %s: %w", i.record.ID, group, err)
	}
	i.rename(ctx, group, subject)
	return nil
}

// UpdateGroupDescription sets a group's description.
func (i *Instance) UpdateGroupDescription(ctx context.Context, group transport.Address, description string) error {
	err := traffic.Run(ctx, i.queue, traffic.High, func(ctx context.Context, conn traffic.Conn) error {
		return conn.GroupUpdateDescription(ctx, group, description)
	})
	if err != nil {
		return fmt.Errorf("instance %d: update description of %s: %w", i.record.ID, group, err)
	}
	return nil
}

// UpdateGroupParticipants adds, removes, promotes or demotes members.
func (i *Instance) UpdateGroupParticipants(ctx context.Context, group transport.Address, participants []transport.Address, action transport.ParticipantAction) error {
	if !action.Valid() {
		return fmt.Errorf("instance: unknown participant action %q", action)
	}
	if len(participants) == 0 {
		return nil
	}
	err := traffic.Run(ctx, i.queue, traffic.High, func(ctx context.Context, conn traffic.Conn) error {
		return conn.GroupParticipantsUpdate(ctx, group, participants, action)
	})
	if err != nil {
		return fmt.Errorf("instance %d: %s participants of %s: %w", i.record.ID, action, group, err)
	}
	return nil
}

// SetChatFlags archives, pins, marks read or deletes a chat, then
// mirrors the change locally.
func (i *Instance) SetChatFlags(ctx context.Context, target transport.Address, change transport.ChatChange) error {
	if !change.Valid() {
		return fmt.Errorf("instance: unknown chat change %q", change)
	}
	err := traffic.Run(ctx, i.queue, traffic.High, func(ctx context.Context, conn traffic.Conn) error {
		return conn.SetChatFlags(ctx, target, change)
	})
	if err != nil {
		return fmt.Errorf("instance %d: %s %s: %w", i.record.ID, change, target, err)
	}
	if err := i.store.ApplyChatChange(ctx, i.record.ID, target, change); err != nil && !errors.Is(err, store.ErrNotFound) {
		i.logger.Warn("mirroring chat change failed", "conversation", target, "change", string(change), "error", err)
	}
	return nil
}

// Logout revokes the credential on the network. The connection then
// closes as logged out and the instance needs relinking.
func (i *Instance) Logout(ctx context.Context) error {
	err := traffic.Run(ctx, i.queue, traffic.High, func(ctx context.Context, conn traffic.Conn) error {
		return conn.Logout(ctx)
	})
	if err != nil {
		return fmt.Errorf("instance %d: logout: %w", i.record.ID, err)
	}
	return nil
}

// Pair answers the pending pairing challenge. It bypasses the queue:
// until paired there is no live connection for queued tasks.
func (i *Instance) Pair(ctx context.Context, response transport.PairingResponse) error {
	i.mu.Lock()
	conn, status := i.conn, i.status
	i.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("instance %d: pair: %w", i.record.ID, traffic.ErrNotConnected)
	}
	if status != StatusQRPending {
		return fmt.Errorf("instance %d: pair: %w", i.record.ID, transport.ErrNoChallenge)
	}
	if err := conn.Pair(ctx, response); err != nil {
		return fmt.Errorf("instance %d: pair: %w", i.record.ID, err)
	}
	i.logger.Info("paired", "account", response.Account)
	return nil
}

// ProfilePicture returns the cached or freshly fetched picture URL of
// target; "" means it has none.
func (i *Instance) ProfilePicture(ctx context.Context, target transport.Address) (string, error) {
	url, err := i.pictures.Fetch(ctx, target)
	if err != nil {
		return "", fmt.Errorf("instance %d: profile picture of %s: %w", i.record.ID, target, err)
	}
	return url, nil
}

func (i *Instance) rename(ctx context.Context, address transport.Address, name string) {
	if name == "" {
		return
	}
	i.names.Forget(address)
	if err := i.store.SetConversationName(ctx, i.record.ID, address, name); err != nil && !errors.Is(err, store.ErrNotFound) {
		i.logger.Warn("renaming conversation failed", "conversation", address, "error", err)
	}
}
