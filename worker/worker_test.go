// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/switchboard/enrich"
	"github.com/bureau-foundation/switchboard/lib/clock"
	"github.com/bureau-foundation/switchboard/lib/testutil"
	"github.com/bureau-foundation/switchboard/store"
	"github.com/bureau-foundation/switchboard/traffic"
	"github.com/bureau-foundation/switchboard/transport"
	"github.com/bureau-foundation/switchboard/transport/memory"
)

var epoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

var bob = memory.User("15550100")

type connSource struct{ conn transport.Conn }

func (s connSource) Conn() (traffic.Conn, context.Context, bool) {
	return s.conn, context.Background(), true
}

type fixture struct {
	store   *store.Store
	id      int64
	conn    *memory.Conn
	fake    *clock.FakeClock
	manager *Manager
	stalled chan struct{}
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
	dialer := memory.NewDialer()
	dialed, err := dialer.Dial(ctx, transport.DialOptions{Credentials: transport.Credentials("c")})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { dialed.Close() })
	queue := traffic.New(traffic.Config{Conns: connSource{dialed}, BaseDelay: -1, WarmupExtra: -1})
	t.Cleanup(queue.Close)

	fake := clock.Fake(epoch)
	f := &fixture{
		store:   s,
		id:      instance.ID,
		conn:    dialed.(*memory.Conn),
		fake:    fake,
		stalled: make(chan struct{}),
	}
	var once sync.Once
	f.manager = New(Config{
		InstanceID: instance.ID,
		Store:      s,
		Queue:      queue,
		Names: enrich.NewNames(enrich.Config{
			InstanceID: instance.ID,
			Store:      s,
			Queue:      queue,
			IsGroup:    dialer.IsGroup,
			Clock:      fake,
		}),
		Stalled: func() { once.Do(func() { close(f.stalled) }) },
		Rand:    func() float64 { return 0 },
		Clock:   fake,
	})
	t.Cleanup(f.manager.Disarm)
	return f
}

func history(conversation transport.Address, count int) []transport.Message {
	messages := make([]transport.Message, count)
	for i := range messages {
		messages[i] = transport.Message{
			ID:           fmt.Sprintf("m%03d", i),
			Conversation: conversation,
			Sender:       conversation,
			Text:         fmt.Sprintf("message %d", i),
			Timestamp:    epoch.Add(time.Duration(i-count) * time.Minute),
		}
	}
	return messages
}

func TestBackfillPaginatesToCompletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	all := history(bob, 120)
	f.conn.SetHistory(bob, all)
	f.store.TouchConversation(ctx, f.id, store.Activity{Address: bob, At: epoch})

	var outcomes []BackfillOutcome
	for i := 0; i < 5; i++ {
		outcome, err := f.manager.Backfill(ctx)
		if err != nil {
			t.Fatalf("Backfill #%d: %v", i, err)
		}
		outcomes = append(outcomes, outcome)
	}
	want := []BackfillOutcome{BackfillProgress, BackfillProgress, BackfillProgress, BackfillCompleted, BackfillNothing}
	for i := range want {
		if outcomes[i] != want[i] {
			t.Fatalf("outcomes = %v, want %v", outcomes, want)
		}
	}

	stored, err := f.store.Messages(ctx, f.id, bob)
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 120 {
		t.Fatalf("stored %d messages, want 120", len(stored))
	}
	conversation, _ := f.store.Conversation(ctx, f.id, bob)
	if !conversation.FullySynced || conversation.Cursor.MessageID != "m000" {
		t.Errorf("conversation = %+v, want fully synced with cursor m000", conversation)
	}
}

func TestBackfillAnchorsAtOldestStoredMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	all := history(bob, 60)
	f.conn.SetHistory(bob, all)
	f.store.TouchConversation(ctx, f.id, store.Activity{Address: bob, At: epoch})
	if _, err := f.store.UpsertMessages(ctx, f.id, all[40:]); err != nil {
		t.Fatal(err)
	}

	if outcome, err := f.manager.Backfill(ctx); err != nil || outcome != BackfillProgress {
		t.Fatalf("Backfill = %v, %v", outcome, err)
	}
	calls := f.conn.Calls("FetchHistoryPage")
	if anchor := calls[0].Args.(transport.Anchor); anchor.MessageID != "m040" {
		t.Fatalf("first page anchored at %q, want m040", anchor.MessageID)
	}
	stored, _ := f.store.Messages(ctx, f.id, bob)
	if len(stored) != 60 {
		t.Fatalf("stored %d messages, want 60", len(stored))
	}
}

func TestBackfillIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	all := history(bob, 30)
	f.conn.SetHistory(bob, all)
	f.store.TouchConversation(ctx, f.id, store.Activity{Address: bob, At: epoch})

	if outcome, err := f.manager.Backfill(ctx); err != nil || outcome != BackfillProgress {
		t.Fatalf("Backfill = %v, %v", outcome, err)
	}

	// The same page arriving again stores nothing and leaves the
	// cursor at the oldest message.
	added, err := f.store.UpsertMessages(ctx, f.id, all)
	if err != nil {
		t.Fatal(err)
	}
	if len(added) != 0 {
		t.Fatalf("re-storing the page added %d messages", len(added))
	}
	newest := transport.Anchor{MessageID: all[29].ID, Timestamp: all[29].Timestamp}
	if moved, _ := f.store.AdvanceCursor(ctx, f.id, bob, newest); moved {
		t.Fatal("cursor moved to a newer message")
	}

	stored, _ := f.store.Messages(ctx, f.id, bob)
	if len(stored) != 30 {
		t.Fatalf("stored %d messages, want 30", len(stored))
	}
	conversation, _ := f.store.Conversation(ctx, f.id, bob)
	if conversation.Cursor.MessageID != "m000" {
		t.Errorf("cursor = %q, want m000", conversation.Cursor.MessageID)
	}
}

func TestBackfillFailureKeepsConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.conn.SetHistory(bob, history(bob, 10))
	f.store.TouchConversation(ctx, f.id, store.Activity{Address: bob, At: epoch})

	boom := errors.New("rate limited")
	f.conn.FailNext("FetchHistoryPage", boom)
	if outcome, err := f.manager.Backfill(ctx); outcome != BackfillFailed || !errors.Is(err, boom) {
		t.Fatalf("Backfill = %v, %v; want failure", outcome, err)
	}
	if outcome, err := f.manager.Backfill(ctx); outcome != BackfillProgress || err != nil {
		t.Fatalf("retry = %v, %v", outcome, err)
	}
	if calls := f.conn.Calls("FetchHistoryPage"); calls[0].Target != bob || calls[1].Target != bob {
		t.Error("retry moved to another conversation")
	}
}

func TestCheckLiveness(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if !f.manager.CheckLiveness(ctx) {
		t.Error("no conversations should look stalled")
	}
	if err := f.store.SetSetting(ctx, f.id, store.SettingWatchdogDisabled, true); err != nil {
		t.Fatal(err)
	}
	if f.manager.CheckLiveness(ctx) {
		t.Error("disabled watchdog reported a stall")
	}
	f.store.SetSetting(ctx, f.id, store.SettingWatchdogDisabled, false)
	f.store.TouchConversation(ctx, f.id, store.Activity{Address: bob, At: epoch})
	if f.manager.CheckLiveness(ctx) {
		t.Error("instance with conversations reported a stall")
	}
}

func TestRepairNames(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	group := memory.Group("book-club")
	f.store.TouchConversation(ctx, f.id, store.Activity{Address: group, IsGroup: true, At: epoch})
	f.store.TouchConversation(ctx, f.id, store.Activity{Address: bob, At: epoch})
	f.conn.SetGroup(transport.GroupInfo{Address: group, Subject: "Book Club"})
	f.conn.SetProfileName(bob, "Robert")

	if repaired := f.manager.RepairNames(ctx); repaired != 2 {
		t.Fatalf("RepairNames = %d, want 2", repaired)
	}
	for address, want := range map[transport.Address]string{group: "Book Club", bob: "Robert"} {
		conversation, _ := f.store.Conversation(ctx, f.id, address)
		if conversation.Name != want {
			t.Errorf("%s name = %q, want %q", address, conversation.Name, want)
		}
	}
	if repaired := f.manager.RepairNames(ctx); repaired != 0 {
		t.Errorf("second RepairNames = %d, want 0", repaired)
	}
}

func TestRepairNamesSetsAsideUnresolvable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < NamingBatch; i++ {
		stranger := memory.User(fmt.Sprintf("1555020%d", i))
		f.store.TouchConversation(ctx, f.id, store.Activity{Address: stranger, At: epoch.Add(time.Hour)})
	}
	carol := memory.User("15550300")
	f.store.TouchConversation(ctx, f.id, store.Activity{Address: carol, At: epoch})
	f.conn.SetProfileName(carol, "Carol")

	if repaired := f.manager.RepairNames(ctx); repaired != 0 {
		t.Fatalf("first RepairNames = %d, want 0 (only strangers fit the batch)", repaired)
	}
	if repaired := f.manager.RepairNames(ctx); repaired != 1 {
		t.Fatalf("second RepairNames = %d, want 1", repaired)
	}
	conversation, err := f.store.Conversation(ctx, f.id, carol)
	if err != nil {
		t.Fatal(err)
	}
	if conversation.Name != "Carol" {
		t.Fatalf("carol name = %q, want Carol", conversation.Name)
	}

	// Strangers become eligible again once the retry period passes.
	f.fake.Advance(enrich.DefaultTTL + time.Minute)
	before := len(f.conn.Calls("ProfileName"))
	f.manager.RepairNames(ctx)
	if asked := len(f.conn.Calls("ProfileName")) - before; asked != NamingBatch {
		t.Fatalf("profile lookups after retry period = %d, want %d", asked, NamingBatch)
	}
}

func TestRepairNamesRestoresCachedName(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.TouchConversation(ctx, f.id, store.Activity{Address: bob, At: epoch})
	f.conn.SetProfileName(bob, "Robert")
	if repaired := f.manager.RepairNames(ctx); repaired != 1 {
		t.Fatalf("RepairNames = %d, want 1", repaired)
	}

	if err := f.store.ApplyChatChange(ctx, f.id, bob, transport.ChatDelete); err != nil {
		t.Fatal(err)
	}
	f.store.TouchConversation(ctx, f.id, store.Activity{Address: bob, At: epoch.Add(time.Minute)})

	if repaired := f.manager.RepairNames(ctx); repaired != 1 {
		t.Fatalf("RepairNames after recreate = %d, want 1", repaired)
	}
	conversation, err := f.store.Conversation(ctx, f.id, bob)
	if err != nil {
		t.Fatal(err)
	}
	if conversation.Name != "Robert" {
		t.Fatalf("name after recreate = %q, want Robert", conversation.Name)
	}
}

func TestWatchdogTriggersStalled(t *testing.T) {
	f := newFixture(t)
	f.manager.Arm(context.Background())
	if !f.manager.Armed() {
		t.Fatal("Armed = false after Arm")
	}

	// naming sleep, backfill idle sleep, watchdog ticker
	f.fake.WaitForTimers(3)
	f.fake.Advance(WatchdogInterval)
	testutil.RequireClosed(t, f.stalled, 5*time.Second, "watchdog did not report the stall")

	f.manager.Disarm()
	if f.manager.Armed() {
		t.Fatal("Armed = true after Disarm")
	}
	testutil.Eventually(t, 5*time.Second, func() bool { return f.fake.PendingCount() == 0 })
}
