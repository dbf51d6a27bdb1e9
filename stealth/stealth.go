// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package stealth applies an account's visibility (last seen and online
// status) from time-window schedules.
//
// The scheduler is level triggered: every tick resolves which schedule,
// if any, is active now, and only pushes privacy settings to the
// network when that resolution differs from the last one applied.
// Schedules are evaluated in declaration order and the first enabled
// match wins; overlapping windows are allowed and never merged.
package stealth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/switchboard/lib/clock"
	"github.com/bureau-foundation/switchboard/store"
	"github.com/bureau-foundation/switchboard/traffic"
	"github.com/bureau-foundation/switchboard/transport"
)

// DefaultInterval is how often the active schedule is re-evaluated.
const DefaultInterval = time.Minute

// Mode is what a schedule hides while it is active.
type Mode string

const (
	// ModeNone is the resolution when no schedule is active:
	// everything visible.
	ModeNone Mode = ""
	// ModeGlobalNobody hides last seen from everyone.
	ModeGlobalNobody Mode = "GLOBAL_NOBODY"
	// ModeSpecificContacts hides last seen from the schedule's
	// targets.
	ModeSpecificContacts Mode = "SPECIFIC_CONTACTS"
)

// ErrInvalidMode is returned by ParseMode.
var ErrInvalidMode = errors.New("stealth: invalid mode")

// ParseMode accepts the two schedule modes.
func ParseMode(text string) (Mode, error) {
	switch mode := Mode(text); mode {
	case ModeGlobalNobody, ModeSpecificContacts:
		return mode, nil
	}
	return ModeNone, fmt.Errorf("%w: %q", ErrInvalidMode, text)
}

// Resolution is the outcome of evaluating schedules at an instant.
type Resolution struct {
	Mode       Mode
	ScheduleID int64
	Targets    []transport.Address
}

// Key identifies a resolution for change detection. Two different
// schedules with the same mode are different keys, so switching
// between them re-applies the second schedule's targets.
type Key struct {
	Mode       Mode
	ScheduleID int64
}

func (r Resolution) Key() Key { return Key{Mode: r.Mode, ScheduleID: r.ScheduleID} }

// Resolve returns the first enabled schedule whose window contains now,
// or ModeNone. Schedules must be in declaration order. Schedules with
// an unknown mode are skipped.
func Resolve(schedules []store.Schedule, now time.Time) Resolution {
	for _, schedule := range schedules {
		if !schedule.Enabled || !schedule.Window.Contains(now) {
			continue
		}
		mode, err := ParseMode(schedule.Mode)
		if err != nil {
			continue
		}
		return Resolution{Mode: mode, ScheduleID: schedule.ID, Targets: schedule.Targets}
	}
	return Resolution{Mode: ModeNone}
}

// Settings returns the privacy settings that put r into effect, in the
// order they are applied.
func Settings(r Resolution) []transport.PrivacySetting {
	switch r.Mode {
	case ModeGlobalNobody:
		return []transport.PrivacySetting{
			{Field: transport.PrivacyLastSeen, Value: transport.PrivacyNone},
			{Field: transport.PrivacyOnline, Value: transport.PrivacyMatchLastSeen},
		}
	case ModeSpecificContacts:
		return []transport.PrivacySetting{
			{Field: transport.PrivacyLastSeen, Value: transport.PrivacyContactBlacklist, Except: r.Targets},
			{Field: transport.PrivacyOnline, Value: transport.PrivacyMatchLastSeen},
		}
	default:
		return []transport.PrivacySetting{
			{Field: transport.PrivacyLastSeen, Value: transport.PrivacyAll},
			{Field: transport.PrivacyOnline, Value: transport.PrivacyAll},
		}
	}
}

// ScheduleSource lists an instance's schedules in declaration order.
// *store.Store satisfies it.
type ScheduleSource interface {
	Schedules(ctx context.Context, instanceID int64) ([]store.Schedule, error)
}

// Config configures New.
type Config struct {
	InstanceID int64
	Schedules  ScheduleSource
	Queue      *traffic.Queue

	// Location is where schedule times are read. Defaults to
	// time.Local.
	Location *time.Location

	// Interval defaults to DefaultInterval.
	Interval time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// Scheduler runs the tick loop for one instance while armed.
type Scheduler struct {
	instanceID int64
	schedules  ScheduleSource
	queue      *traffic.Queue
	location   *time.Location
	interval   time.Duration
	clock      clock.Clock
	logger     *slog.Logger

	// nudge requests an immediate evaluation.
	nudge chan struct{}

	mu      sync.Mutex
	applied *Key
	// generation counts Invalidate calls; a Tick that raced with one
	// does not record its result.
	generation uint64
	cancel     context.CancelFunc
	done       chan struct{}
}

// New returns a disarmed scheduler.
func New(cfg Config) *Scheduler {
	s := &Scheduler{
		instanceID: cfg.InstanceID,
		schedules:  cfg.Schedules,
		queue:      cfg.Queue,
		location:   cfg.Location,
		interval:   cfg.Interval,
		clock:      cfg.Clock,
		logger:     cfg.Logger,
		nudge:      make(chan struct{}, 1),
	}
	if s.location == nil {
		s.location = time.Local
	}
	if s.interval <= 0 {
		s.interval = DefaultInterval
	}
	if s.clock == nil {
		s.clock = clock.Real()
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	return s
}

// Arm starts the tick loop, evaluating once immediately. The last
// applied resolution is forgotten so a new connection always receives
// the current settings. Arming an armed scheduler is a no-op.
func (s *Scheduler) Arm(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	s.applied = nil
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
}

// Disarm stops the tick loop and waits for an in-progress evaluation
// to return.
func (s *Scheduler) Disarm() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Invalidate forgets the last applied resolution and, when armed,
// re-evaluates now. Call it after editing schedules.
func (s *Scheduler) Invalidate() {
	s.mu.Lock()
	s.applied = nil
	s.generation++
	s.mu.Unlock()
	select {
	case s.nudge <- struct{}{}:
	default:
	}
}

// Applied returns the last successfully applied resolution key.
func (s *Scheduler) Applied() (Key, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.applied == nil {
		return Key{}, false
	}
	return *s.applied, true
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer func() {
		if recovered := recover(); recovered != nil {
			s.logger.Error("stealth scheduler panicked", "panic", recovered)
		}
	}()

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	s.evaluate(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-s.nudge:
		}
		s.evaluate(ctx)
	}
}

func (s *Scheduler) evaluate(ctx context.Context) {
	changed, err := s.Tick(ctx)
	switch {
	case err != nil && ctx.Err() == nil:
		s.logger.Warn("applying visibility schedule failed", "error", err)
	case changed:
		key, _ := s.Applied()
		s.logger.Info("visibility changed", "mode", string(key.Mode), "schedule_id", key.ScheduleID)
	}
}

// Tick evaluates the schedules once and applies the resolution if it
// changed. It reports whether settings were pushed. On failure the
// previous resolution stays recorded, so the next tick retries.
func (s *Scheduler) Tick(ctx context.Context) (bool, error) {
	s.mu.Lock()
	generation := s.generation
	s.mu.Unlock()

	schedules, err := s.schedules.Schedules(ctx, s.instanceID)
	if err != nil {
		return false, fmt.Errorf("stealth: %w", err)
	}
	resolution := Resolve(schedules, s.clock.Now().In(s.location))
	key := resolution.Key()

	s.mu.Lock()
	unchanged := s.applied != nil && *s.applied == key
	s.mu.Unlock()
	if unchanged {
		return false, nil
	}

	for _, setting := range Settings(resolution) {
		err := traffic.Run(ctx, s.queue, traffic.Medium, func(ctx context.Context, conn traffic.Conn) error {
			return conn.SetPrivacySetting(ctx, setting)
		})
		if err != nil {
			return false, fmt.Errorf("stealth: setting %s=%s: %w", setting.Field, setting.Value, err)
		}
	}

	s.mu.Lock()
	if s.generation == generation {
		s.applied = &key
	}
	s.mu.Unlock()
	return true, nil
}
