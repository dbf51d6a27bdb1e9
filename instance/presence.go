// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package instance

import (
	"context"
	"errors"
	"fmt"

	"github.com/bureau-foundation/switchboard/lib/clock"
	"github.com/bureau-foundation/switchboard/lib/codec"
	"github.com/bureau-foundation/switchboard/store"
	"github.com/bureau-foundation/switchboard/traffic"
	"github.com/bureau-foundation/switchboard/transport"
)

// SetPresence records the desired account presence and, while
// connected, pushes it at HIGH priority. "available" reverts to
// "unavailable" after the presence.revert_after setting
// (DefaultPresenceRevert when unset). While disconnected the desired
// presence is pushed on the next open.
func (i *Instance) SetPresence(ctx context.Context, presence transport.Presence) error {
	if presence != transport.Available && presence != transport.Unavailable {
		return fmt.Errorf("%w: %q", ErrInvalidPresence, presence)
	}
	revertAfter := DefaultPresenceRevert
	if presence == transport.Available {
		var configured codec.DurationSeconds
		found, err := i.store.Setting(ctx, i.record.ID, store.SettingPresenceRevertAfter, &configured)
		if err != nil {
			return fmt.Errorf("instance %d: set presence: %w", i.record.ID, err)
		}
		if found && configured > 0 {
			revertAfter = configured.Duration()
		}
	}

	i.mu.Lock()
	if i.stopped {
		i.mu.Unlock()
		return ErrStopped
	}
	i.presence = presence
	if i.revertTimer != nil {
		i.revertTimer.Stop()
		i.revertTimer = nil
	}
	if presence == transport.Available {
		var timer *clock.Timer
		timer = i.clock.AfterFunc(revertAfter, func() { i.revertPresence(timer) })
		i.revertTimer = timer
	}
	connected := i.status == StatusConnected
	i.mu.Unlock()

	if err := i.store.SetInstancePresence(ctx, i.record.ID, string(presence)); err != nil {
		return fmt.Errorf("instance %d: set presence: %w", i.record.ID, err)
	}
	i.logger.Info("presence set", "presence", string(presence), "connected", connected)
	if !connected {
		return nil
	}
	err := traffic.Run(ctx, i.queue, traffic.High, func(ctx context.Context, conn traffic.Conn) error {
		return conn.SetPresence(ctx, presence)
	})
	if err != nil {
		return fmt.Errorf("instance %d: set presence: %w", i.record.ID, err)
	}
	return nil
}

// Presence returns the desired account presence.
func (i *Instance) Presence() transport.Presence {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.presence
}

func (i *Instance) revertPresence(timer *clock.Timer) {
	i.mu.Lock()
	current := i.revertTimer == timer && !i.stopped
	if current {
		i.revertTimer = nil
	}
	i.mu.Unlock()
	if !current {
		return
	}
	go func() {
		err := i.SetPresence(i.ctx, transport.Unavailable)
		if err != nil && !errors.Is(err, ErrStopped) && !errors.Is(err, context.Canceled) {
			i.logger.Warn("reverting presence failed", "error", err)
		}
	}()
}

// revertPending reports whether an auto-revert is armed.
func (i *Instance) revertPending() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.revertTimer != nil
}

