// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/bureau-foundation/switchboard/lib/codec"
	"github.com/bureau-foundation/switchboard/lib/window"
	"github.com/bureau-foundation/switchboard/transport"
)

var testEpoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), Config{Path: filepath.Join(t.TempDir(), "switchboard.db")})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createInstance(t *testing.T, s *Store) int64 {
	t.Helper()
	instance, err := s.CreateInstance(context.Background(), "work", "ops", testEpoch)
	if err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}
	return instance.ID
}

func message(id string, conversation transport.Address, offset time.Duration) transport.Message {
	return transport.Message{
		ID:           id,
		Conversation: conversation,
		Sender:       conversation,
		Text:         "text " + id,
		Timestamp:    testEpoch.Add(offset),
	}
}

func TestInstanceLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id := createInstance(t, s)

	instance, err := s.Instance(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if instance.Name != "work" || instance.Owner != "ops" || instance.Status != "disconnected" ||
		instance.Presence != "unavailable" || !instance.CreatedAt.Equal(testEpoch) {
		t.Fatalf("fresh instance = %+v", instance)
	}

	if err := s.SetInstanceStatus(ctx, id, "connected"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetInstancePresence(ctx, id, "available"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetNeedsRelink(ctx, id, true); err != nil {
		t.Fatal(err)
	}
	instance, _ = s.Instance(ctx, id)
	if instance.Status != "connected" || instance.Presence != "available" || !instance.NeedsRelink {
		t.Fatalf("updated instance = %+v", instance)
	}

	if err := s.SetInstanceStatus(ctx, id+100, "connected"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("update of a missing instance = %v, want ErrNotFound", err)
	}

	second := createInstance(t, s)
	instances, err := s.Instances(ctx)
	if err != nil || len(instances) != 2 || instances[0].ID != id || instances[1].ID != second {
		t.Fatalf("Instances = %+v, %v", instances, err)
	}
}

func TestDeleteInstanceCascades(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id := createInstance(t, s)
	bob := transport.Address("bob@s.test")

	s.UpsertMessages(ctx, id, []transport.Message{message("m1", bob, 0)})
	s.TouchConversation(ctx, id, Activity{Address: bob, At: testEpoch})
	s.Track(ctx, id, bob)
	s.SetSetting(ctx, id, SettingWatchdogDisabled, true)

	if err := s.DeleteInstance(ctx, id); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Instance(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Instance after delete = %v, want ErrNotFound", err)
	}
	if _, err := s.Message(ctx, id, "m1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("message survived instance delete: %v", err)
	}
	if tracked, _ := s.Tracked(ctx, id); len(tracked) != 0 {
		t.Fatalf("tracked contacts survived: %v", tracked)
	}
	if err := s.DeleteInstance(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete = %v, want ErrNotFound", err)
	}
}

func TestWipeInstanceDataKeepsRow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id := createInstance(t, s)
	bob := transport.Address("bob@s.test")
	s.UpsertMessages(ctx, id, []transport.Message{message("m1", bob, 0)})
	s.TouchConversation(ctx, id, Activity{Address: bob, At: testEpoch})

	if err := s.WipeInstanceData(ctx, id); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Instance(ctx, id); err != nil {
		t.Fatalf("instance row gone after wipe: %v", err)
	}
	if count, _ := s.CountConversations(ctx, id); count != 0 {
		t.Fatalf("%d conversations after wipe", count)
	}
}

func TestUpsertMessagesIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id := createInstance(t, s)
	bob := transport.Address("bob@s.test")

	raw := bytes.Repeat([]byte(`{"type":"m.room.message"}`), 20)
	first := message("m1", bob, 0)
	first.Raw = raw
	page := []transport.Message{first, message("m2", bob, time.Minute)}

	inserted, err := s.UpsertMessages(ctx, id, page)
	if err != nil || len(inserted) != 2 {
		t.Fatalf("first upsert inserted %d, %v", len(inserted), err)
	}
	page = append(page, message("m3", bob, 2*time.Minute))
	inserted, err = s.UpsertMessages(ctx, id, page)
	if err != nil || len(inserted) != 1 || inserted[0].ID != "m3" {
		t.Fatalf("replayed upsert inserted %v, %v", inserted, err)
	}

	messages, err := s.Messages(ctx, id, bob)
	if err != nil || len(messages) != 3 {
		t.Fatalf("Messages = %d, %v", len(messages), err)
	}
	if !bytes.Equal(messages[0].Raw, raw) {
		t.Fatal("raw payload did not survive compression")
	}
	if !messages[0].Timestamp.Equal(testEpoch) {
		t.Fatalf("timestamp = %v", messages[0].Timestamp)
	}

	oldest, err := s.OldestMessage(ctx, id, bob)
	if err != nil || oldest.ID != "m1" {
		t.Fatalf("OldestMessage = %v, %v", oldest.ID, err)
	}
}

func TestMessageStatus(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id := createInstance(t, s)
	s.UpsertMessages(ctx, id, []transport.Message{message("m1", "bob@s.test", 0)})

	changed, err := s.SetMessageStatus(ctx, id, "m1", transport.ReceiptRead)
	if err != nil || !changed {
		t.Fatalf("SetMessageStatus = %v, %v", changed, err)
	}
	stored, _ := s.Message(ctx, id, "m1")
	if stored.Status != transport.ReceiptRead {
		t.Fatalf("status = %q", stored.Status)
	}
	if changed, _ := s.SetMessageStatus(ctx, id, "missing", transport.ReceiptRead); changed {
		t.Fatal("status set on a missing message")
	}
}

func TestTouchConversation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id := createInstance(t, s)
	group := transport.Address("club@g.test")

	s.TouchConversation(ctx, id, Activity{Address: group, IsGroup: true, At: testEpoch.Add(time.Hour), Unread: 2})
	s.TouchConversation(ctx, id, Activity{Address: group, At: testEpoch, Unread: 1})

	conversation, err := s.Conversation(ctx, id, group)
	if err != nil {
		t.Fatal(err)
	}
	if !conversation.IsGroup || conversation.UnreadCount != 3 || !conversation.LastActivity.Equal(testEpoch.Add(time.Hour)) {
		t.Fatalf("conversation = %+v", conversation)
	}

	if err := s.ApplyChatChange(ctx, id, group, transport.ChatMarkRead); err != nil {
		t.Fatal(err)
	}
	if err := s.ApplyChatChange(ctx, id, group, transport.ChatPin); err != nil {
		t.Fatal(err)
	}
	conversation, _ = s.Conversation(ctx, id, group)
	if conversation.UnreadCount != 0 || !conversation.Pinned {
		t.Fatalf("after mark_read+pin = %+v", conversation)
	}

	if err := s.ApplyChatChange(ctx, id, group, transport.ChatDelete); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Conversation(ctx, id, group); !errors.Is(err, ErrNotFound) {
		t.Fatalf("deleted conversation lookup = %v", err)
	}
}

func TestCursorNeverRegresses(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id := createInstance(t, s)
	bob := transport.Address("bob@s.test")
	s.TouchConversation(ctx, id, Activity{Address: bob, At: testEpoch})

	older := transport.Anchor{MessageID: "m1", Timestamp: testEpoch.Add(-time.Hour)}
	newer := transport.Anchor{MessageID: "m5", Timestamp: testEpoch}

	if moved, err := s.AdvanceCursor(ctx, id, bob, newer); err != nil || !moved {
		t.Fatalf("first AdvanceCursor = %v, %v", moved, err)
	}
	if moved, _ := s.AdvanceCursor(ctx, id, bob, older); !moved {
		t.Fatal("cursor did not move to an older anchor")
	}
	if moved, _ := s.AdvanceCursor(ctx, id, bob, newer); moved {
		t.Fatal("cursor regressed to a newer anchor")
	}
	conversation, _ := s.Conversation(ctx, id, bob)
	if conversation.Cursor.MessageID != "m1" || !conversation.Cursor.Timestamp.Equal(older.Timestamp) {
		t.Fatalf("cursor = %+v, want %+v", conversation.Cursor, older)
	}
}

func TestNextBackfillOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id := createInstance(t, s)

	s.TouchConversation(ctx, id, Activity{Address: "recent@s.test", At: testEpoch.Add(time.Hour)})
	s.TouchConversation(ctx, id, Activity{Address: "unread@s.test", At: testEpoch, Unread: 4})
	s.TouchConversation(ctx, id, Activity{Address: "pinned@s.test", At: testEpoch.Add(-time.Hour)})
	s.ApplyChatChange(ctx, id, "pinned@s.test", transport.ChatPin)

	var order []transport.Address
	for {
		next, err := s.NextBackfill(ctx, id)
		if errors.Is(err, ErrNotFound) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		order = append(order, next.Address)
		if err := s.MarkFullySynced(ctx, id, next.Address); err != nil {
			t.Fatal(err)
		}
	}
	want := []transport.Address{"pinned@s.test", "unread@s.test", "recent@s.test"}
	if fmt.Sprint(order) != fmt.Sprint(want) {
		t.Fatalf("backfill order = %v, want %v", order, want)
	}
}

func TestUnnamedConversationsAndAvatar(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id := createInstance(t, s)
	for i := 0; i < 4; i++ {
		s.TouchConversation(ctx, id, Activity{Address: transport.Address(fmt.Sprintf("u%d@s.test", i)), At: testEpoch.Add(time.Duration(i) * time.Minute)})
	}
	s.SetConversationName(ctx, id, "u3@s.test", "Carol")
	s.SetConversationName(ctx, id, "u2@s.test", "+15550100")

	unnamed, err := s.UnnamedConversations(ctx, id, 2, testEpoch)
	if err != nil {
		t.Fatal(err)
	}
	if len(unnamed) != 2 || unnamed[0].Address != "u2@s.test" || unnamed[1].Address != "u1@s.test" {
		t.Fatalf("UnnamedConversations = %+v", unnamed)
	}

	// A recent empty lookup hides u2 until the attempt ages out.
	if err := s.MarkNameAttempted(ctx, id, "u2@s.test", testEpoch.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	unnamed, err = s.UnnamedConversations(ctx, id, 2, testEpoch)
	if err != nil {
		t.Fatal(err)
	}
	if len(unnamed) != 2 || unnamed[0].Address != "u1@s.test" || unnamed[1].Address != "u0@s.test" {
		t.Fatalf("UnnamedConversations after attempt = %+v", unnamed)
	}
	unnamed, err = s.UnnamedConversations(ctx, id, 1, testEpoch.Add(2*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(unnamed) != 1 || unnamed[0].Address != "u2@s.test" {
		t.Fatalf("UnnamedConversations once the attempt aged out = %+v", unnamed)
	}

	if err := s.SetAvatar(ctx, id, "u3@s.test", "", testEpoch); err != nil {
		t.Fatal(err)
	}
	conversation, _ := s.Conversation(ctx, id, "u3@s.test")
	if conversation.AvatarURL != "" || !conversation.AvatarFetchedAt.Equal(testEpoch) {
		t.Fatalf("negative avatar result not recorded: %+v", conversation)
	}
}

func TestSenderNames(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id := createInstance(t, s)
	bob := transport.Address("bob@s.test")
	group := transport.Address("club@g.test")

	first := message("m1", group, 0)
	first.Sender, first.SenderName = bob, "club@g.test"
	second := message("m2", group, time.Minute)
	second.Sender, second.SenderName = bob, "Bobby"
	s.UpsertMessages(ctx, id, []transport.Message{first, second})

	name, err := s.KnownSenderName(ctx, id, bob)
	if err != nil || name != "Bobby" {
		t.Fatalf("KnownSenderName = %q, %v", name, err)
	}
	repaired, err := s.RepairSenderNames(ctx, id, bob, "Bob")
	if err != nil || repaired != 1 {
		t.Fatalf("RepairSenderNames = %d, %v", repaired, err)
	}
	stored, _ := s.Message(ctx, id, "m1")
	if stored.SenderName != "Bob" {
		t.Fatalf("sender name = %q", stored.SenderName)
	}
}

func TestContactsMerge(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id := createInstance(t, s)
	bob := transport.Address("bob@s.test")

	s.UpsertContacts(ctx, id, []transport.Contact{{Address: bob, Name: "Bob", PushName: "bobby"}})
	s.UpsertContacts(ctx, id, []transport.Contact{{Address: bob, PushName: "b"}})

	contact, err := s.Contact(ctx, id, bob)
	if err != nil {
		t.Fatal(err)
	}
	if contact.Name != "Bob" || contact.PushName != "b" || contact.DisplayName() != "Bob" {
		t.Fatalf("contact = %+v", contact)
	}
	if _, err := s.Contact(ctx, id, "nobody@s.test"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing contact = %v", err)
	}
}

func TestTrackedContacts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id := createInstance(t, s)
	bob := transport.Address("bob@s.test")

	if err := s.Track(ctx, id, bob); err != nil {
		t.Fatal(err)
	}
	saved := TrackedContact{
		Address:      bob,
		LastOnline:   testEpoch,
		OnlineSince:  testEpoch.Add(time.Minute),
		DailySeconds: 90,
		Day:          "2026-03-02",
	}
	if err := s.SaveTracked(ctx, id, saved); err != nil {
		t.Fatal(err)
	}
	if err := s.Track(ctx, id, bob); err != nil {
		t.Fatal(err)
	}
	tracked, err := s.Tracked(ctx, id)
	if err != nil || len(tracked) != 1 {
		t.Fatalf("Tracked = %v, %v", tracked, err)
	}
	got := tracked[0]
	if got.DailySeconds != 90 || !got.OnlineSince.Equal(saved.OnlineSince) || !got.LastInbound.IsZero() {
		t.Fatalf("tracked = %+v", got)
	}

	if err := s.Untrack(ctx, id, bob); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveTracked(ctx, id, saved); !errors.Is(err, ErrNotFound) {
		t.Fatalf("SaveTracked after untrack = %v", err)
	}
}

func TestSchedules(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id := createInstance(t, s)
	night, _ := window.Parse("22:00", "07:00", window.DaysOf(time.Monday, time.Friday))
	work, _ := window.Parse("09:00", "17:00", 0)

	first, err := s.AddSchedule(ctx, id, Schedule{Name: "night", Window: night, Mode: "GLOBAL_NOBODY", Enabled: true})
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.AddSchedule(ctx, id, Schedule{
		Name: "work", Window: work, Mode: "SPECIFIC_CONTACTS", Enabled: true,
		Targets: []transport.Address{"boss@s.test", "hr@s.test"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if first.Position != 0 || second.Position != 1 {
		t.Fatalf("positions = %d, %d", first.Position, second.Position)
	}

	schedules, err := s.Schedules(ctx, id)
	if err != nil || len(schedules) != 2 {
		t.Fatalf("Schedules = %v, %v", schedules, err)
	}
	if schedules[0].Window != night || schedules[0].Name != "night" {
		t.Fatalf("first schedule = %+v", schedules[0])
	}
	if len(schedules[1].Targets) != 2 || schedules[1].Targets[0] != "boss@s.test" {
		t.Fatalf("targets = %v", schedules[1].Targets)
	}

	if err := s.RemoveSchedule(ctx, id, first.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.RemoveSchedule(ctx, id, first.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second remove = %v", err)
	}

	replaced, err := s.ReplaceSchedules(ctx, id, []Schedule{
		{Name: "b", Window: work, Mode: "GLOBAL_NOBODY"},
		{Name: "a", Window: night, Mode: "GLOBAL_NOBODY", Enabled: true},
	})
	if err != nil || len(replaced) != 2 {
		t.Fatalf("ReplaceSchedules = %v, %v", replaced, err)
	}
	schedules, _ = s.Schedules(ctx, id)
	if len(schedules) != 2 || schedules[0].Name != "b" || schedules[1].Name != "a" || schedules[0].Enabled {
		t.Fatalf("replaced schedules = %+v", schedules)
	}
}

func TestSettings(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id := createInstance(t, s)

	var disabled bool
	if found, err := s.Setting(ctx, id, SettingWatchdogDisabled, &disabled); found || err != nil {
		t.Fatalf("unset setting = %v, %v", found, err)
	}
	if err := s.SetSetting(ctx, id, SettingWatchdogDisabled, true); err != nil {
		t.Fatal(err)
	}
	if found, err := s.Setting(ctx, id, SettingWatchdogDisabled, &disabled); !found || err != nil || !disabled {
		t.Fatalf("Setting = %v, %v, %v", found, err, disabled)
	}

	encoded, _ := codec.Marshal(codec.Seconds(90 * time.Second))
	if err := s.SetRawSetting(ctx, id, SettingPresenceRevertAfter, encoded); err != nil {
		t.Fatal(err)
	}
	var revert codec.DurationSeconds
	s.Setting(ctx, id, SettingPresenceRevertAfter, &revert)
	if revert.Duration() != 90*time.Second {
		t.Fatalf("revert = %v", revert.Duration())
	}
	if err := s.SetRawSetting(ctx, id, "broken", codec.RawMessage{0xff}); err == nil {
		t.Fatal("SetRawSetting accepted invalid CBOR")
	}

	if err := s.DeleteSetting(ctx, id, SettingWatchdogDisabled); err != nil {
		t.Fatal(err)
	}
	if found, _ := s.Setting(ctx, id, SettingWatchdogDisabled, &disabled); found {
		t.Fatal("setting survived delete")
	}
}
