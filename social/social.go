// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package social turns presence events for a watched set of contacts
// into online sessions with per-day durations, and emits a telemetry
// signal when a session opens or closes or the account messages a
// watched contact.
//
// A contact's session opens on "available" and closes on any later
// non-transient state. Typing indicators (composing, recording,
// paused) never open or close a session. A closed session's duration
// is added to the total of the local day on which it closed; the
// total restarts at zero when the day changes.
package social

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/bureau-foundation/switchboard/lib/clock"
	"github.com/bureau-foundation/switchboard/lib/codec"
	"github.com/bureau-foundation/switchboard/store"
	"github.com/bureau-foundation/switchboard/telemetry"
	"github.com/bureau-foundation/switchboard/transport"
)

const dayLayout = "2006-01-02"

// Store is the persistence the tracker needs; *store.Store satisfies
// it.
type Store interface {
	Tracked(ctx context.Context, instanceID int64) ([]store.TrackedContact, error)
	Track(ctx context.Context, instanceID int64, address transport.Address) error
	Untrack(ctx context.Context, instanceID int64, address transport.Address) error
	SaveTracked(ctx context.Context, instanceID int64, contact store.TrackedContact) error
}

// Config configures New.
type Config struct {
	InstanceID int64
	Store      Store
	Sink       telemetry.Sink

	// Location decides where a day starts. Defaults to time.Local.
	Location *time.Location

	Clock  clock.Clock
	Logger *slog.Logger
}

// Tracker is safe for concurrent use.
type Tracker struct {
	instanceID int64
	store      Store
	sink       telemetry.Sink
	location   *time.Location
	clock      clock.Clock
	logger     *slog.Logger

	mu       sync.Mutex
	contacts map[transport.Address]*store.TrackedContact
}

// New returns a tracker with no contacts loaded; call Load.
func New(cfg Config) *Tracker {
	tracker := &Tracker{
		instanceID: cfg.InstanceID,
		store:      cfg.Store,
		sink:       cfg.Sink,
		location:   cfg.Location,
		clock:      cfg.Clock,
		logger:     cfg.Logger,
		contacts:   make(map[transport.Address]*store.TrackedContact),
	}
	if tracker.sink == nil {
		tracker.sink = telemetry.Discard
	}
	if tracker.location == nil {
		tracker.location = time.Local
	}
	if tracker.clock == nil {
		tracker.clock = clock.Real()
	}
	if tracker.logger == nil {
		tracker.logger = slog.New(slog.DiscardHandler)
	}
	return tracker
}

// Load replaces the in-memory watch list with the stored one. Open
// sessions survive a restart.
func (t *Tracker) Load(ctx context.Context) error {
	tracked, err := t.store.Tracked(ctx, t.instanceID)
	if err != nil {
		return fmt.Errorf("social: loading tracked contacts: %w", err)
	}
	contacts := make(map[transport.Address]*store.TrackedContact, len(tracked))
	for i := range tracked {
		contacts[tracked[i].Address] = &tracked[i]
	}
	t.mu.Lock()
	t.contacts = contacts
	t.mu.Unlock()
	return nil
}

// Track adds address to the watch list.
func (t *Tracker) Track(ctx context.Context, address transport.Address) error {
	if err := t.store.Track(ctx, t.instanceID, address); err != nil {
		return fmt.Errorf("social: %w", err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.contacts[address]; !ok {
		t.contacts[address] = &store.TrackedContact{Address: address}
	}
	return nil
}

// Untrack removes address and its history.
func (t *Tracker) Untrack(ctx context.Context, address transport.Address) error {
	if err := t.store.Untrack(ctx, t.instanceID, address); err != nil {
		return fmt.Errorf("social: %w", err)
	}
	t.mu.Lock()
	delete(t.contacts, address)
	t.mu.Unlock()
	return nil
}

// Watched reports whether address is tracked.
func (t *Tracker) Watched(address transport.Address) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.contacts[address]
	return ok
}

// Contacts returns a copy of every tracked contact, ordered by address.
func (t *Tracker) Contacts() []store.TrackedContact {
	t.mu.Lock()
	defer t.mu.Unlock()
	contacts := make([]store.TrackedContact, 0, len(t.contacts))
	for _, contact := range t.contacts {
		contacts = append(contacts, *contact)
	}
	sort.Slice(contacts, func(i, j int) bool { return contacts[i].Address < contacts[j].Address })
	return contacts
}

// HandlePresence applies a presence update observed now.
func (t *Tracker) HandlePresence(ctx context.Context, address transport.Address, presence transport.Presence) {
	if presence.Transient() {
		return
	}
	now := t.clock.Now()

	t.mu.Lock()
	contact, ok := t.contacts[address]
	if !ok {
		t.mu.Unlock()
		return
	}
	open := !contact.OnlineSince.IsZero()
	var signal telemetry.Signal
	switch {
	case presence == transport.Available && !open:
		contact.OnlineSince = now
		contact.LastOnline = now
		signal = t.signal(telemetry.KindOnline, address, now)
	case presence != transport.Available && open:
		duration := now.Sub(contact.OnlineSince)
		if duration < 0 {
			duration = 0
		}
		today := now.In(t.location).Format(dayLayout)
		if contact.Day != today {
			contact.Day = today
			contact.DailySeconds = 0
		}
		contact.DailySeconds += int64(duration / time.Second)
		contact.OnlineSince = time.Time{}
		contact.LastOnline = now
		signal = t.signal(telemetry.KindOffline, address, now)
		signal.Duration = codec.Seconds(duration)
		signal.DailyTotal = codec.DurationSeconds(contact.DailySeconds)
	default:
		t.mu.Unlock()
		return
	}
	snapshot := *contact
	t.mu.Unlock()

	t.persist(ctx, snapshot)
	t.emit(signal)
}

// NoteOutbound records a message sent to address at at and emits a
// messaged signal when address is watched.
func (t *Tracker) NoteOutbound(ctx context.Context, address transport.Address, at time.Time) {
	t.mu.Lock()
	contact, ok := t.contacts[address]
	if !ok {
		t.mu.Unlock()
		return
	}
	if at.After(contact.LastOutbound) {
		contact.LastOutbound = at
	}
	snapshot := *contact
	t.mu.Unlock()

	t.persist(ctx, snapshot)
	t.emit(t.signal(telemetry.KindMessaged, address, at))
}

// NoteInbound records a message received from address at at.
func (t *Tracker) NoteInbound(ctx context.Context, address transport.Address, at time.Time) {
	t.mu.Lock()
	contact, ok := t.contacts[address]
	if !ok || !at.After(contact.LastInbound) {
		t.mu.Unlock()
		return
	}
	contact.LastInbound = at
	snapshot := *contact
	t.mu.Unlock()

	t.persist(ctx, snapshot)
}

func (t *Tracker) signal(kind telemetry.Kind, address transport.Address, at time.Time) telemetry.Signal {
	return telemetry.Signal{Kind: kind, Instance: t.instanceID, Contact: string(address), At: at}
}

func (t *Tracker) persist(ctx context.Context, contact store.TrackedContact) {
	if err := t.store.SaveTracked(ctx, t.instanceID, contact); err != nil {
		t.logger.Warn("saving tracked contact failed", "contact", string(contact.Address), "error", err)
	}
}

func (t *Tracker) emit(signal telemetry.Signal) {
	if err := t.sink.Emit(signal); err != nil {
		t.logger.Debug("telemetry signal dropped", "kind", string(signal.Kind), "error", err)
	}
}
