// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bureau-foundation/switchboard/lib/clock"
	"github.com/bureau-foundation/switchboard/store"
	"github.com/bureau-foundation/switchboard/traffic"
	"github.com/bureau-foundation/switchboard/transport"
)

// BackfillOutcome is what one backfill step did.
type BackfillOutcome int

const (
	// BackfillNothing: every conversation is fully synced.
	BackfillNothing BackfillOutcome = iota
	// BackfillProgress: older messages were stored.
	BackfillProgress
	// BackfillCompleted: the conversation has no older history.
	BackfillCompleted
	// BackfillFailed: the page request or storing it failed.
	BackfillFailed
)

func (o BackfillOutcome) String() string {
	switch o {
	case BackfillNothing:
		return "nothing"
	case BackfillProgress:
		return "progress"
	case BackfillCompleted:
		return "completed"
	case BackfillFailed:
		return "failed"
	default:
		return fmt.Sprintf("BackfillOutcome(%d)", int(o))
	}
}

func (m *Manager) backfillLoop(ctx context.Context) {
	for {
		outcome, err := m.Backfill(ctx)
		if ctx.Err() != nil {
			return
		}
		var pause time.Duration
		switch outcome {
		case BackfillNothing:
			pause = BackfillIdle
		case BackfillProgress:
			pause = m.cfg.Queue.AdaptiveDelay(BackfillSpacing)
		case BackfillCompleted:
			pause = BackfillTransition
		case BackfillFailed:
			m.cfg.Logger.Warn("history backfill failed", "error", err)
			pause = BackfillErrorBackoff
		}
		if err := clock.SleepContext(ctx, m.cfg.Clock, pause); err != nil {
			return
		}
	}
}

// Backfill fetches one page of older history for the conversation
// most in need of it. Pages are anchored at the conversation's cursor,
// or at its oldest stored message before the first page. Storing is
// idempotent and the cursor only ever moves to older messages.
func (m *Manager) Backfill(ctx context.Context) (BackfillOutcome, error) {
	conversation, err := m.cfg.Store.NextBackfill(ctx, m.cfg.InstanceID)
	if errors.Is(err, store.ErrNotFound) {
		return BackfillNothing, nil
	}
	if err != nil {
		return BackfillFailed, err
	}
	logger := m.cfg.Logger.With("conversation", string(conversation.Address))

	anchor := conversation.Cursor
	if anchor.IsZero() {
		oldest, err := m.cfg.Store.OldestMessage(ctx, m.cfg.InstanceID, conversation.Address)
		switch {
		case err == nil:
			anchor = transport.Anchor{MessageID: oldest.ID, Timestamp: oldest.Timestamp}
		case !errors.Is(err, store.ErrNotFound):
			return BackfillFailed, err
		}
	}

	page, err := traffic.Do(ctx, m.cfg.Queue, traffic.Low, func(ctx context.Context, conn traffic.Conn) ([]transport.Message, error) {
		return conn.FetchHistoryPage(ctx, conversation.Address, PageSize, anchor)
	})
	if err != nil {
		return BackfillFailed, fmt.Errorf("fetching history of %s: %w", conversation.Address, err)
	}

	var oldest *transport.Message
	for i := range page {
		message := &page[i]
		if message.Conversation == "" {
			message.Conversation = conversation.Address
		}
		if !anchor.IsZero() && !olderThan(*message, anchor) {
			continue
		}
		if oldest == nil || olderThan(*message, transport.Anchor{MessageID: oldest.ID, Timestamp: oldest.Timestamp}) {
			oldest = message
		}
	}
	if oldest == nil {
		if err := m.cfg.Store.MarkFullySynced(ctx, m.cfg.InstanceID, conversation.Address); err != nil {
			return BackfillFailed, err
		}
		logger.Info("history backfill complete")
		return BackfillCompleted, nil
	}

	added, err := m.cfg.Store.UpsertMessages(ctx, m.cfg.InstanceID, page)
	if err != nil {
		return BackfillFailed, err
	}
	cursor := transport.Anchor{MessageID: oldest.ID, Timestamp: oldest.Timestamp}
	if _, err := m.cfg.Store.AdvanceCursor(ctx, m.cfg.InstanceID, conversation.Address, cursor); err != nil {
		return BackfillFailed, err
	}
	logger.Debug("history page stored", "received", len(page), "new", len(added), "cursor", cursor.MessageID)
	return BackfillProgress, nil
}

// olderThan orders messages by timestamp, then id.
func olderThan(message transport.Message, anchor transport.Anchor) bool {
	if !message.Timestamp.Equal(anchor.Timestamp) {
		return message.Timestamp.Before(anchor.Timestamp)
	}
	return message.ID < anchor.MessageID
}
