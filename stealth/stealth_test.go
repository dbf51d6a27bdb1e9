// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package stealth

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/bureau-foundation/switchboard/lib/clock"
	"github.com/bureau-foundation/switchboard/lib/testutil"
	"github.com/bureau-foundation/switchboard/lib/window"
	"github.com/bureau-foundation/switchboard/store"
	"github.com/bureau-foundation/switchboard/traffic"
	"github.com/bureau-foundation/switchboard/transport"
	"github.com/bureau-foundation/switchboard/transport/memory"
)

// epoch is Monday 2026-03-02 09:00 UTC.
var epoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type connSource struct{ conn transport.Conn }

func (s connSource) Conn() (traffic.Conn, context.Context, bool) {
	return s.conn, context.Background(), true
}

func schedule(t *testing.T, id int64, start, end string, days window.Days, mode Mode, targets ...transport.Address) store.Schedule {
	t.Helper()
	w, err := window.Parse(start, end, days)
	if err != nil {
		t.Fatal(err)
	}
	return store.Schedule{ID: id, Name: start + "-" + end, Window: w, Mode: string(mode), Enabled: true, Targets: targets}
}

func TestResolveFirstDeclaredWins(t *testing.T) {
	schedules := []store.Schedule{
		schedule(t, 1, "08:00", "10:00", 0, ModeSpecificContacts, "alice@s.test"),
		schedule(t, 2, "08:30", "12:00", 0, ModeGlobalNobody),
	}
	tests := []struct {
		name string
		at   time.Time
		want Key
	}{
		{"before both", epoch.Add(-2 * time.Hour), Key{Mode: ModeNone}},
		{"overlap", epoch, Key{Mode: ModeSpecificContacts, ScheduleID: 1}},
		{"second only", epoch.Add(90 * time.Minute), Key{Mode: ModeGlobalNobody, ScheduleID: 2}},
		{"after both", epoch.Add(3 * time.Hour), Key{Mode: ModeNone}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := Resolve(schedules, test.at).Key(); got != test.want {
				t.Errorf("Resolve at %v = %+v, want %+v", test.at, got, test.want)
			}
		})
	}
}

func TestResolveSkipsDisabledAndOtherDays(t *testing.T) {
	disabled := schedule(t, 1, "00:00", "00:00", 0, ModeGlobalNobody)
	disabled.Enabled = false
	weekend := schedule(t, 2, "00:00", "00:00", window.DaysOf(time.Saturday, time.Sunday), ModeGlobalNobody)
	overnight := schedule(t, 3, "22:00", "10:00", window.DaysOf(time.Monday), ModeSpecificContacts)

	got := Resolve([]store.Schedule{disabled, weekend, overnight}, epoch)
	if got.Key() != (Key{Mode: ModeSpecificContacts, ScheduleID: 3}) {
		t.Fatalf("Resolve = %+v, want overnight schedule 3", got.Key())
	}
}

func TestSettings(t *testing.T) {
	targets := []transport.Address{"alice@s.test"}
	open := Settings(Resolution{})
	if open[0].Value != transport.PrivacyAll || open[1].Value != transport.PrivacyAll {
		t.Errorf("no schedule settings = %+v", open)
	}
	nobody := Settings(Resolution{Mode: ModeGlobalNobody})
	if nobody[0].Value != transport.PrivacyNone || nobody[1].Value != transport.PrivacyMatchLastSeen {
		t.Errorf("GLOBAL_NOBODY settings = %+v", nobody)
	}
	specific := Settings(Resolution{Mode: ModeSpecificContacts, Targets: targets})
	if specific[0].Value != transport.PrivacyContactBlacklist || len(specific[0].Except) != 1 ||
		specific[1].Value != transport.PrivacyMatchLastSeen {
		t.Errorf("SPECIFIC_CONTACTS settings = %+v", specific)
	}
}

func TestParseMode(t *testing.T) {
	if _, err := ParseMode("GLOBAL_NOBODY"); err != nil {
		t.Error(err)
	}
	if _, err := ParseMode("everyone"); !errors.Is(err, ErrInvalidMode) {
		t.Errorf("ParseMode(everyone) = %v, want ErrInvalidMode", err)
	}
}

type fixture struct {
	store     *store.Store
	id        int64
	conn      *memory.Conn
	fake      *clock.FakeClock
	scheduler *Scheduler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	s, err := store.Open(ctx, store.Config{Path: filepath.Join(t.TempDir(), "switchboard.db")})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	instance, err := s.CreateInstance(ctx, "work", "ops", epoch)
	if err != nil {
		t.Fatal(err)
	}
	dialed, err := memory.NewDialer().Dial(ctx, transport.DialOptions{Credentials: transport.Credentials("c")})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { dialed.Close() })
	queue := traffic.New(traffic.Config{Conns: connSource{dialed}, BaseDelay: -1, WarmupExtra: -1})
	t.Cleanup(queue.Close)

	fake := clock.Fake(epoch)
	return &fixture{
		store: s,
		id:    instance.ID,
		conn:  dialed.(*memory.Conn),
		fake:  fake,
		scheduler: New(Config{
			InstanceID: instance.ID,
			Schedules:  s,
			Queue:      queue,
			Location:   time.UTC,
			Clock:      fake,
		}),
	}
}

func (f *fixture) add(t *testing.T, start, end string, mode Mode, targets ...transport.Address) store.Schedule {
	t.Helper()
	stored, err := f.store.AddSchedule(context.Background(), f.id, schedule(t, 0, start, end, 0, mode, targets...))
	if err != nil {
		t.Fatal(err)
	}
	return stored
}

func (f *fixture) privacyCalls() []transport.PrivacySetting {
	var settings []transport.PrivacySetting
	for _, call := range f.conn.Calls("SetPrivacySetting") {
		settings = append(settings, call.Args.(transport.PrivacySetting))
	}
	return settings
}

func TestTickAppliesOnlyOnChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	night := f.add(t, "08:00", "10:00", ModeGlobalNobody)

	changed, err := f.scheduler.Tick(ctx)
	if err != nil || !changed {
		t.Fatalf("first Tick = %v, %v; want applied", changed, err)
	}
	if calls := f.privacyCalls(); len(calls) != 2 || calls[0].Value != transport.PrivacyNone {
		t.Fatalf("privacy calls = %+v", calls)
	}
	if key, _ := f.scheduler.Applied(); key != (Key{Mode: ModeGlobalNobody, ScheduleID: night.ID}) {
		t.Fatalf("Applied = %+v", key)
	}

	f.fake.Advance(time.Minute)
	if changed, err := f.scheduler.Tick(ctx); err != nil || changed {
		t.Fatalf("unchanged Tick = %v, %v; want no-op", changed, err)
	}
	if calls := f.privacyCalls(); len(calls) != 2 {
		t.Fatalf("unchanged Tick pushed settings: %d calls", len(calls))
	}

	f.fake.Advance(2 * time.Hour)
	if changed, _ := f.scheduler.Tick(ctx); !changed {
		t.Fatal("leaving the window did not re-apply")
	}
	calls := f.privacyCalls()
	if len(calls) != 4 || calls[2].Value != transport.PrivacyAll {
		t.Fatalf("privacy calls after window = %+v", calls)
	}
}

func TestTickRetriesAfterFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.add(t, "08:00", "10:00", ModeGlobalNobody)

	boom := errors.New("rate limited")
	f.conn.FailNext("SetPrivacySetting", boom)
	if _, err := f.scheduler.Tick(ctx); !errors.Is(err, boom) {
		t.Fatalf("Tick error = %v, want injected failure", err)
	}
	if _, ok := f.scheduler.Applied(); ok {
		t.Fatal("failed apply was recorded")
	}
	if changed, err := f.scheduler.Tick(ctx); err != nil || !changed {
		t.Fatalf("retry Tick = %v, %v", changed, err)
	}
}

func TestInvalidateReapplies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.add(t, "08:00", "10:00", ModeSpecificContacts, "alice@s.test")
	f.scheduler.Tick(ctx)

	f.scheduler.Invalidate()
	if changed, _ := f.scheduler.Tick(ctx); !changed {
		t.Fatal("Tick after Invalidate did not re-apply")
	}
}

func TestArmAppliesImmediatelyAndTicks(t *testing.T) {
	f := newFixture(t)
	f.add(t, "09:30", "10:00", ModeGlobalNobody)

	f.scheduler.Arm(context.Background())
	t.Cleanup(f.scheduler.Disarm)

	testutil.Eventually(t, 5*time.Second, func() bool { return len(f.privacyCalls()) == 2 })
	if calls := f.privacyCalls(); calls[0].Value != transport.PrivacyAll {
		t.Fatalf("immediate apply = %+v, want everything visible", calls)
	}

	f.fake.WaitForTimers(1)
	f.fake.Advance(30 * time.Minute)
	testutil.Eventually(t, 5*time.Second, func() bool { return len(f.privacyCalls()) == 4 })
	if calls := f.privacyCalls(); calls[2].Value != transport.PrivacyNone {
		t.Fatalf("tick apply = %+v, want last seen hidden", calls[2])
	}

	f.scheduler.Disarm()
	if f.fake.PendingCount() != 0 {
		t.Fatalf("Disarm left %d timers", f.fake.PendingCount())
	}
}
