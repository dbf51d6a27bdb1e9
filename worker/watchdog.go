// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"

	"github.com/bureau-foundation/switchboard/store"
)

func (m *Manager) watchdogLoop(ctx context.Context) {
	ticker := m.cfg.Clock.NewTicker(WatchdogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if m.CheckLiveness(ctx) {
			go m.cfg.Stalled()
		}
	}
}

// CheckLiveness reports whether the instance looks stalled: connected
// but without a single conversation, which means the initial history
// snapshot never arrived. The watchdog.disabled setting suppresses it.
func (m *Manager) CheckLiveness(ctx context.Context) bool {
	disabled := false
	if _, err := m.cfg.Store.Setting(ctx, m.cfg.InstanceID, store.SettingWatchdogDisabled, &disabled); err != nil {
		m.cfg.Logger.Warn("reading watchdog setting failed", "error", err)
		return false
	}
	if disabled {
		return false
	}
	count, err := m.cfg.Store.CountConversations(ctx, m.cfg.InstanceID)
	if err != nil {
		m.cfg.Logger.Warn("counting conversations failed", "error", err)
		return false
	}
	if count > 0 {
		return false
	}
	m.cfg.Logger.Warn("no conversations after connecting, forcing reconnect")
	return true
}
