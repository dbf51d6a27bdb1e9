// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/bureau-foundation/switchboard/instance"
	"github.com/bureau-foundation/switchboard/lib/codec"
	"github.com/bureau-foundation/switchboard/stealth"
	"github.com/bureau-foundation/switchboard/store"
	"github.com/bureau-foundation/switchboard/transport"
)

// ErrUnknownSetting is returned by SetSetting for a key it does not
// know how to parse.
var ErrUnknownSetting = errors.New("engine: unknown setting")

// Reconnect forces instance id to drop and reopen its connection.
func (e *Engine) Reconnect(ctx context.Context, id int64) error {
	running, err := e.Instance(id)
	if err != nil {
		return err
	}
	return running.Reconnect(ctx)
}

// SetPresence sets the desired presence ("available" or
// "unavailable").
func (e *Engine) SetPresence(ctx context.Context, id int64, presence transport.Presence) error {
	running, err := e.Instance(id)
	if err != nil {
		return err
	}
	if presence != transport.Available && presence != transport.Unavailable {
		return fmt.Errorf("%w: %q", instance.ErrInvalidPresence, presence)
	}
	return running.SetPresence(ctx, presence)
}

// Pair answers instance id's pairing challenge.
func (e *Engine) Pair(ctx context.Context, id int64, response transport.PairingResponse) error {
	running, err := e.Instance(id)
	if err != nil {
		return err
	}
	return running.Pair(ctx, response)
}

// SendText sends text to target at HIGH priority and returns the
// network message id.
func (e *Engine) SendText(ctx context.Context, id int64, target, text string) (string, error) {
	running, address, err := e.resolve(id, target)
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", instance.ErrEmptyMessage
	}
	return running.SendText(ctx, address, text)
}

// ProfilePicture returns target's profile picture URL, fetching it
// through the enrichment cache. "" means target has none.
func (e *Engine) ProfilePicture(ctx context.Context, id int64, target string) (string, error) {
	running, address, err := e.resolve(id, target)
	if err != nil {
		return "", err
	}
	return running.ProfilePicture(ctx, address)
}

// AddSchedule validates spec and appends it to instance id's visibility
// schedules.
func (e *Engine) AddSchedule(ctx context.Context, id int64, spec stealth.ScheduleSpec) (store.Schedule, error) {
	running, err := e.Instance(id)
	if err != nil {
		return store.Schedule{}, err
	}
	schedule, err := spec.Schedule(running.Dialer().ParseAddress)
	if err != nil {
		return store.Schedule{}, fmt.Errorf("engine: schedule %q: %w", spec.Name, err)
	}
	added, err := e.cfg.Store.AddSchedule(ctx, id, schedule)
	if err != nil {
		return store.Schedule{}, fmt.Errorf("engine: %w", err)
	}
	running.Stealth().Invalidate()
	return added, nil
}

// RemoveSchedule deletes one of instance id's schedules.
func (e *Engine) RemoveSchedule(ctx context.Context, id, scheduleID int64) error {
	running, err := e.Instance(id)
	if err != nil {
		return err
	}
	if err := e.cfg.Store.RemoveSchedule(ctx, id, scheduleID); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	running.Stealth().Invalidate()
	return nil
}

// ReplaceSchedules installs schedules as instance id's complete list.
// It is the schedule importer's stealth.ImportFunc.
func (e *Engine) ReplaceSchedules(ctx context.Context, id int64, schedules []store.Schedule) error {
	running, err := e.Instance(id)
	if err != nil {
		return err
	}
	if _, err := e.cfg.Store.ReplaceSchedules(ctx, id, schedules); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	running.Stealth().Invalidate()
	e.logger.Info("schedules replaced", "instance", id, "count", len(schedules))
	return nil
}

var _ stealth.ImportFunc = (*Engine)(nil).ReplaceSchedules

// ListSchedules returns instance id's schedules in declaration order.
func (e *Engine) ListSchedules(ctx context.Context, id int64) ([]store.Schedule, error) {
	if _, err := e.Instance(id); err != nil {
		return nil, err
	}
	schedules, err := e.cfg.Store.Schedules(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	return schedules, nil
}

// TrackContact adds address to instance id's watched contacts.
func (e *Engine) TrackContact(ctx context.Context, id int64, address string) error {
	running, parsed, err := e.resolve(id, address)
	if err != nil {
		return err
	}
	return running.Social().Track(ctx, parsed)
}

// UntrackContact stops watching address.
func (e *Engine) UntrackContact(ctx context.Context, id int64, address string) error {
	running, parsed, err := e.resolve(id, address)
	if err != nil {
		return err
	}
	return running.Social().Untrack(ctx, parsed)
}

// ListTracked returns instance id's watched contacts.
func (e *Engine) ListTracked(id int64) ([]store.TrackedContact, error) {
	running, err := e.Instance(id)
	if err != nil {
		return nil, err
	}
	return running.Social().Contacts(), nil
}

// SetSetting parses value for key and stores it. Known keys:
//
//	watchdog.disabled      bool ("true", "false")
//	presence.revert_after  duration ("90s", "5m")
func (e *Engine) SetSetting(ctx context.Context, id int64, key, value string) error {
	if _, err := e.Instance(id); err != nil {
		return err
	}
	var parsed any
	switch key {
	case store.SettingWatchdogDisabled:
		disabled, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("engine: %s: %w", key, err)
		}
		parsed = disabled
	case store.SettingPresenceRevertAfter:
		duration, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("engine: %s: %w", key, err)
		}
		if duration < time.Second {
			return fmt.Errorf("engine: %s must be at least 1s, got %s", key, duration)
		}
		parsed = codec.Seconds(duration)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownSetting, key)
	}
	if err := e.cfg.Store.SetSetting(ctx, id, key, parsed); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	e.logger.Info("setting changed", "instance", id, "key", key, "value", value)
	return nil
}

// resolve looks up the instance and validates address against its
// transport.
func (e *Engine) resolve(id int64, address string) (*instance.Instance, transport.Address, error) {
	running, err := e.Instance(id)
	if err != nil {
		return nil, "", err
	}
	parsed, err := running.Dialer().ParseAddress(address)
	if err != nil {
		return nil, "", err
	}
	return running, parsed, nil
}
