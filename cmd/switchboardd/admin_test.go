// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/bureau-foundation/switchboard/authstore"
	"github.com/bureau-foundation/switchboard/engine"
	"github.com/bureau-foundation/switchboard/lib/adminsock"
	"github.com/bureau-foundation/switchboard/lib/clock"
	"github.com/bureau-foundation/switchboard/lib/testutil"
	"github.com/bureau-foundation/switchboard/store"
	"github.com/bureau-foundation/switchboard/transport/memory"
)

const wait = 5 * time.Second

type adminFixture struct {
	dialer *memory.Dialer
	client *adminsock.Client
}

func newAdminFixture(t *testing.T) *adminFixture {
	t.Helper()
	ctx := context.Background()
	db, err := store.Open(ctx, store.Config{Path: filepath.Join(t.TempDir(), "switchboard.db")})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	auth, err := authstore.New(authstore.Config{Root: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	fake := clock.Fake(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	dialer := memory.NewDialer()
	registry := engine.New(engine.Config{
		Store:       db,
		Auth:        auth,
		Dialer:      dialer,
		Location:    time.UTC,
		BaseDelay:   -1,
		WarmupExtra: -1,
		Clock:       fake,
	})
	t.Cleanup(func() { registry.Shutdown(context.Background()) })

	path := filepath.Join(testutil.SocketDir(t), "admin.sock")
	server := adminsock.NewServer(path, nil)
	(&admin{engine: registry, transport: dialer.Name(), clock: fake, startedAt: fake.Now()}).register(server)
	serveCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		server.Serve(serveCtx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	client := adminsock.NewClient(path)
	testutil.Eventually(t, wait, func() bool {
		return client.Call(ctx, "status", nil, nil) == nil
	}, "admin socket never answered")
	return &adminFixture{dialer: dialer, client: client}
}

func (f *adminFixture) call(t *testing.T, action string, fields map[string]any, result any) {
	t.Helper()
	if err := f.client.Call(context.Background(), action, fields, result); err != nil {
		t.Fatalf("%s: %v", action, err)
	}
}

func (f *adminFixture) waitStatus(t *testing.T, id int64, status string) instanceView {
	t.Helper()
	var found instanceView
	testutil.Eventually(t, wait, func() bool {
		var views []instanceView
		if f.client.Call(context.Background(), "list", nil, &views) != nil {
			return false
		}
		for _, view := range views {
			if view.ID == id && view.Status == status {
				found = view
				return true
			}
		}
		return false
	}, "instance %d never reached %s", id, status)
	return found
}

func remoteCode(t *testing.T, err error) string {
	t.Helper()
	var remote *adminsock.RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("error = %v, want *adminsock.RemoteError", err)
	}
	return remote.Code
}

func TestAdminLifecycle(t *testing.T) {
	f := newAdminFixture(t)

	var created instanceView
	f.call(t, "create", map[string]any{"name": "work", "owner": "ops"}, &created)
	if created.ID == 0 || created.Name != "work" {
		t.Fatalf("create = %+v", created)
	}
	pending := f.waitStatus(t, created.ID, "qr_pending")
	if pending.Challenge == "" {
		t.Error("qr_pending instance has no challenge")
	}

	conn := f.dialer.Latest()
	f.call(t, "pair", map[string]any{"instance": created.ID, "account": "work", "secret": "x"}, nil)
	f.waitStatus(t, created.ID, "connected")
	testutil.Eventually(t, wait, func() bool {
		return len(conn.Calls("SetPresence")) == 1 && len(conn.Calls("SetPrivacySetting")) == 2
	}, "startup requests")

	var sent sendResponse
	f.call(t, "send", map[string]any{"instance": created.ID, "to": "15550100", "text": "hello"}, &sent)
	if sent.MessageID == "" {
		t.Error("send returned no message id")
	}
	if calls := conn.Calls("Send"); len(calls) != 1 || calls[0].Target != memory.User("15550100") {
		t.Errorf("Send calls = %+v", calls)
	}

	var status statusResponse
	f.call(t, "status", nil, &status)
	if status.Instances != 1 || status.Connected != 1 || status.Transport != "memory" {
		t.Errorf("status = %+v", status)
	}

	f.call(t, "delete", map[string]any{"instance": created.ID}, nil)
	var views []instanceView
	f.call(t, "list", nil, &views)
	if len(views) != 0 {
		t.Errorf("list after delete = %+v", views)
	}
}

func TestAdminSchedulesAndTracking(t *testing.T) {
	f := newAdminFixture(t)
	var created instanceView
	f.call(t, "create", map[string]any{"name": "home"}, &created)
	id := created.ID

	var schedule scheduleView
	f.call(t, "schedule-add", map[string]any{
		"instance": id, "name": "night", "start": "22:00", "end": "07:00", "mode": "GLOBAL_NOBODY",
	}, &schedule)
	if schedule.ID == 0 || schedule.Start != "22:00" || schedule.End != "07:00" || !schedule.Enabled {
		t.Fatalf("schedule-add = %+v", schedule)
	}
	var schedules []scheduleView
	f.call(t, "schedule-list", map[string]any{"instance": id}, &schedules)
	if len(schedules) != 1 || schedules[0].Name != "night" {
		t.Fatalf("schedule-list = %+v", schedules)
	}
	f.call(t, "schedule-remove", map[string]any{"instance": id, "schedule": schedule.ID}, nil)
	schedules = nil
	f.call(t, "schedule-list", map[string]any{"instance": id}, &schedules)
	if len(schedules) != 0 {
		t.Errorf("schedule-list after remove = %+v", schedules)
	}

	f.call(t, "track", map[string]any{"instance": id, "contact": "15550100"}, nil)
	var tracked []trackedView
	f.call(t, "tracked", map[string]any{"instance": id}, &tracked)
	if len(tracked) != 1 || tracked[0].Contact != string(memory.User("15550100")) || tracked[0].Online {
		t.Fatalf("tracked = %+v", tracked)
	}
	f.call(t, "untrack", map[string]any{"instance": id, "contact": "15550100"}, nil)
	tracked = nil
	f.call(t, "tracked", map[string]any{"instance": id}, &tracked)
	if len(tracked) != 0 {
		t.Errorf("tracked after untrack = %+v", tracked)
	}

	f.call(t, "setting", map[string]any{"instance": id, "key": "presence.revert_after", "value": "30s"}, nil)
}

func TestAdminErrorCodes(t *testing.T) {
	f := newAdminFixture(t)
	var created instanceView
	f.call(t, "create", map[string]any{"name": "codes"}, &created)

	tests := []struct {
		name   string
		action string
		fields map[string]any
		want   string
	}{
		{"unknown instance", "reconnect", map[string]any{"instance": 999}, "unknown_instance"},
		{"bad address", "track", map[string]any{"instance": created.ID, "contact": "bob"}, "invalid_argument"},
		{"bad setting", "setting", map[string]any{"instance": created.ID, "key": "nope", "value": "1"}, "invalid_argument"},
		{"bad presence", "presence", map[string]any{"instance": created.ID, "presence": "composing"}, "invalid_argument"},
		{"empty wipe", "wipe", map[string]any{}, "unknown_instance"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := f.client.Call(context.Background(), test.action, test.fields, nil)
			if code := remoteCode(t, err); code != test.want {
				t.Errorf("code = %q, want %q (%v)", code, test.want, err)
			}
		})
	}
}
