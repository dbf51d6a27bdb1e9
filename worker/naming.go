// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"errors"
	"time"

	"github.com/bureau-foundation/switchboard/lib/clock"
	"github.com/bureau-foundation/switchboard/traffic"
)

func (m *Manager) namingLoop(ctx context.Context) {
	for {
		if err := clock.SleepContext(ctx, m.cfg.Clock, m.namingInterval()); err != nil {
			return
		}
		m.RepairNames(ctx)
	}
}

func (m *Manager) namingInterval() time.Duration {
	spread := NamingMaxInterval - NamingMinInterval
	return NamingMinInterval + time.Duration(m.cfg.Rand()*float64(spread))
}

// RepairNames runs one naming pass: up to NamingBatch conversations
// whose name is missing, numeric or a raw address are resolved again.
// A conversation that still has no name is set aside for
// NamingRetryAfter so the next pass reaches others. It returns how
// many got a name.
func (m *Manager) RepairNames(ctx context.Context) int {
	if m.cfg.Names == nil {
		return 0
	}
	now := m.cfg.Clock.Now()
	conversations, err := m.cfg.Store.UnnamedConversations(ctx, m.cfg.InstanceID, NamingBatch, now.Add(-m.cfg.NamingRetryAfter))
	if err != nil {
		m.cfg.Logger.Warn("listing unnamed conversations failed", "error", err)
		return 0
	}
	repaired := 0
	for _, conversation := range conversations {
		logger := m.cfg.Logger.With("conversation", string(conversation.Address))
		name, err := m.cfg.Names.Resolve(ctx, conversation.Address)
		switch {
		case err != nil && ctx.Err() != nil:
			return repaired
		case err != nil && connectionLost(err):
			logger.Debug("naming repair interrupted", "error", err)
			return repaired
		case err != nil:
			logger.Debug("naming repair failed", "error", err)
		case name != "":
			repaired++
			continue
		}
		if err := m.cfg.Store.MarkNameAttempted(ctx, m.cfg.InstanceID, conversation.Address, now); err != nil {
			logger.Warn("recording naming attempt failed", "error", err)
		}
	}
	return repaired
}

// connectionLost reports whether err says nothing about the address
// itself, only that the connection went away.
func connectionLost(err error) bool {
	return errors.Is(err, traffic.ErrNotConnected) ||
		errors.Is(err, traffic.ErrTransportChanged) ||
		traffic.IsCancelled(err)
}
