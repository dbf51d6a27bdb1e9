// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package stealth

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/switchboard/lib/clock"
	"github.com/bureau-foundation/switchboard/lib/testutil"
	"github.com/bureau-foundation/switchboard/store"
	"github.com/bureau-foundation/switchboard/transport"
	"github.com/bureau-foundation/switchboard/transport/memory"
)

const scheduleFile = `[
	// weeknights
	{"name": "night", "start": "22:00", "end": "07:00", "days": "mon-fri", "mode": "GLOBAL_NOBODY"},
	/* hide from the boss during lunch */
	{
		"name": "lunch",
		"start": "12:00",
		"end": "13:00",
		"mode": "SPECIFIC_CONTACTS",
		"enabled": false,
		"targets": ["15550100"],
	},
]`

func TestParseSchedules(t *testing.T) {
	schedules, err := ParseSchedules([]byte(scheduleFile), memory.NewDialer().ParseAddress)
	if err != nil {
		t.Fatalf("ParseSchedules: %v", err)
	}
	if len(schedules) != 2 {
		t.Fatalf("got %d schedules, want 2", len(schedules))
	}
	night, lunch := schedules[0], schedules[1]
	if night.Name != "night" || !night.Window.Overnight() || night.Window.Days.String() != "mon,tue,wed,thu,fri" ||
		night.Mode != string(ModeGlobalNobody) || !night.Enabled {
		t.Errorf("night = %+v", night)
	}
	if lunch.Enabled || len(lunch.Targets) != 1 || lunch.Targets[0] != memory.User("15550100") {
		t.Errorf("lunch = %+v", lunch)
	}
}

func TestParseSchedulesRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"not a list":  `{"name": "x"}`,
		"no name":     `[{"start": "01:00", "end": "02:00", "mode": "GLOBAL_NOBODY"}]`,
		"bad mode":    `[{"name": "x", "start": "01:00", "end": "02:00", "mode": "LOUD"}]`,
		"bad time":    `[{"name": "x", "start": "25:00", "end": "02:00", "mode": "GLOBAL_NOBODY"}]`,
		"bad days":    `[{"name": "x", "start": "01:00", "end": "02:00", "days": "someday", "mode": "GLOBAL_NOBODY"}]`,
		"bad address": `[{"name": "x", "start": "01:00", "end": "02:00", "mode": "SPECIFIC_CONTACTS", "targets": ["a@example.org"]}]`,
	}
	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseSchedules([]byte(input), memory.NewDialer().ParseAddress); err == nil {
				t.Fatal("ParseSchedules succeeded")
			}
		})
	}
}

type importRecorder struct {
	mu      sync.Mutex
	imports map[int64][]store.Schedule
}

func (r *importRecorder) apply(ctx context.Context, instanceID int64, schedules []store.Schedule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.imports[instanceID] = schedules
	return nil
}

func (r *importRecorder) get(instanceID int64) ([]store.Schedule, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	schedules, ok := r.imports[instanceID]
	return schedules, ok
}

func TestImporterLoadsAndReloads(t *testing.T) {
	directory := t.TempDir()
	path := filepath.Join(directory, "7.jsonc")
	if err := os.WriteFile(path, []byte(scheduleFile), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(directory, "notes.jsonc"), []byte(`[]`), 0o600); err != nil {
		t.Fatal(err)
	}

	recorder := &importRecorder{imports: make(map[int64][]store.Schedule)}
	fake := clock.Fake(epoch)
	importer, err := NewImporter(ImporterConfig{
		Directory: directory,
		Apply:     recorder.apply,
		ParseAddress: func(text string) (transport.Address, error) {
			return memory.NewDialer().ParseAddress(text)
		},
		Clock: fake,
	})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- importer.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		testutil.RequireReceive(t, done, 5*time.Second, "importer did not stop")
	})

	testutil.Eventually(t, 5*time.Second, func() bool {
		schedules, ok := recorder.get(7)
		return ok && len(schedules) == 2
	}, "initial import")

	replacement := `[{"name": "always", "start": "00:00", "end": "00:00", "mode": "GLOBAL_NOBODY"}]`
	if err := os.WriteFile(path, []byte(replacement), 0o600); err != nil {
		t.Fatal(err)
	}
	testutil.Eventually(t, 5*time.Second, func() bool {
		fake.Advance(defaultDebounce)
		schedules, _ := recorder.get(7)
		return len(schedules) == 1 && schedules[0].Name == "always"
	}, "reload after write")
}

func TestNewImporterValidates(t *testing.T) {
	if _, err := NewImporter(ImporterConfig{Apply: (&importRecorder{}).apply}); err == nil {
		t.Error("NewImporter accepted an empty directory")
	}
	if _, err := NewImporter(ImporterConfig{Directory: t.TempDir()}); err == nil {
		t.Error("NewImporter accepted a nil Apply")
	}
}
