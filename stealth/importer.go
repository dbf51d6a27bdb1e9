// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package stealth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/tidwall/jsonc"

	"github.com/bureau-foundation/switchboard/lib/clock"
	"github.com/bureau-foundation/switchboard/lib/window"
	"github.com/bureau-foundation/switchboard/store"
	"github.com/bureau-foundation/switchboard/transport"
)

// ImportExtension is the suffix of schedule files. The file name
// without it is the instance id: "7.jsonc" holds instance 7's
// schedules.
const ImportExtension = ".jsonc"

const defaultDebounce = 100 * time.Millisecond

// ScheduleSpec is one schedule as written by a user, in an import file
// or an admin request:
//
//	[
//	  // weeknights
//	  {"name": "night", "start": "22:00", "end": "07:00", "days": "mon-fri",
//	   "mode": "GLOBAL_NOBODY"},
//	]
type ScheduleSpec struct {
	Name    string   `json:"name"`
	Start   string   `json:"start"`
	End     string   `json:"end"`
	Days    string   `json:"days,omitempty"`
	Mode    string   `json:"mode"`
	Enabled *bool    `json:"enabled,omitempty"`
	Targets []string `json:"targets,omitempty"`
}

// ParseSchedules decodes a JSONC schedule list. parseAddress validates
// targets; nil accepts them verbatim.
func ParseSchedules(data []byte, parseAddress func(string) (transport.Address, error)) ([]store.Schedule, error) {
	var entries []ScheduleSpec
	if err := json.Unmarshal(jsonc.ToJSON(data), &entries); err != nil {
		return nil, fmt.Errorf("parsing schedules: %w", err)
	}
	schedules := make([]store.Schedule, 0, len(entries))
	for i, entry := range entries {
		schedule, err := entry.Schedule(parseAddress)
		if err != nil {
			return nil, fmt.Errorf("schedule %d (%q): %w", i, entry.Name, err)
		}
		schedules = append(schedules, schedule)
	}
	return schedules, nil
}

// Schedule validates the entry and converts it to a store row.
// parseAddress validates targets; nil accepts them verbatim.
func (entry ScheduleSpec) Schedule(parseAddress func(string) (transport.Address, error)) (store.Schedule, error) {
	if entry.Name == "" {
		return store.Schedule{}, errors.New("name is required")
	}
	mode, err := ParseMode(entry.Mode)
	if err != nil {
		return store.Schedule{}, err
	}
	days, err := window.ParseDays(entry.Days)
	if err != nil {
		return store.Schedule{}, err
	}
	w, err := window.Parse(entry.Start, entry.End, days)
	if err != nil {
		return store.Schedule{}, err
	}
	schedule := store.Schedule{
		Name:    entry.Name,
		Window:  w,
		Mode:    string(mode),
		Enabled: entry.Enabled == nil || *entry.Enabled,
	}
	for _, target := range entry.Targets {
		address := transport.Address(target)
		if parseAddress != nil {
			if address, err = parseAddress(target); err != nil {
				return store.Schedule{}, err
			}
		}
		schedule.Targets = append(schedule.Targets, address)
	}
	return schedule, nil
}

// ImportFunc installs an instance's imported schedules.
type ImportFunc func(ctx context.Context, instanceID int64, schedules []store.Schedule) error

// ImporterConfig configures NewImporter.
type ImporterConfig struct {
	Directory    string
	Apply        ImportFunc
	ParseAddress func(string) (transport.Address, error)

	// Debounce batches bursts of writes to one file. Defaults to
	// 100ms.
	Debounce time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// Importer loads schedule files from a directory on start and again
// whenever one changes.
type Importer struct {
	directory    string
	apply        ImportFunc
	parseAddress func(string) (transport.Address, error)
	debounce     time.Duration
	clock        clock.Clock
	logger       *slog.Logger

	watcher *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]*clock.Timer
}

// NewImporter starts watching cfg.Directory. Files are not loaded
// until Run.
func NewImporter(cfg ImporterConfig) (*Importer, error) {
	if cfg.Directory == "" {
		return nil, errors.New("stealth: import directory is required")
	}
	if cfg.Apply == nil {
		return nil, errors.New("stealth: import Apply func is required")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("stealth: creating watcher: %w", err)
	}
	if err := watcher.Add(cfg.Directory); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("stealth: watching %s: %w", cfg.Directory, err)
	}
	importer := &Importer{
		directory:    cfg.Directory,
		apply:        cfg.Apply,
		parseAddress: cfg.ParseAddress,
		debounce:     cfg.Debounce,
		clock:        cfg.Clock,
		logger:       cfg.Logger,
		watcher:      watcher,
		pending:      make(map[string]*clock.Timer),
	}
	if importer.debounce <= 0 {
		importer.debounce = defaultDebounce
	}
	if importer.clock == nil {
		importer.clock = clock.Real()
	}
	if importer.logger == nil {
		importer.logger = slog.New(slog.DiscardHandler)
	}
	return importer, nil
}

// Run imports every existing file, then re-imports changed files until
// ctx is done. It closes the watcher on return.
func (i *Importer) Run(ctx context.Context) error {
	defer i.stop()

	entries, err := os.ReadDir(i.directory)
	if err != nil {
		return fmt.Errorf("stealth: reading %s: %w", i.directory, err)
	}
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ImportExtension) {
			i.importFile(ctx, filepath.Join(i.directory, entry.Name()))
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-i.watcher.Events:
			if !ok {
				return nil
			}
			if !strings.HasSuffix(event.Name, ImportExtension) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			i.schedule(ctx, event.Name)
		case err, ok := <-i.watcher.Errors:
			if !ok {
				return nil
			}
			i.logger.Warn("schedule import watcher error", "error", err)
		}
	}
}

func (i *Importer) schedule(ctx context.Context, path string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if timer, ok := i.pending[path]; ok {
		timer.Reset(i.debounce)
		return
	}
	i.pending[path] = i.clock.AfterFunc(i.debounce, func() {
		i.mu.Lock()
		delete(i.pending, path)
		i.mu.Unlock()
		if ctx.Err() == nil {
			i.importFile(ctx, path)
		}
	})
}

func (i *Importer) stop() {
	i.watcher.Close()
	i.mu.Lock()
	defer i.mu.Unlock()
	for path, timer := range i.pending {
		timer.Stop()
		delete(i.pending, path)
	}
}

func (i *Importer) importFile(ctx context.Context, path string) {
	logger := i.logger.With("file", path)
	instanceID, err := strconv.ParseInt(strings.TrimSuffix(filepath.Base(path), ImportExtension), 10, 64)
	if err != nil {
		logger.Warn("ignoring schedule file not named after an instance id")
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("reading schedule file failed", "error", err)
		return
	}
	schedules, err := ParseSchedules(data, i.parseAddress)
	if err != nil {
		logger.Warn("invalid schedule file", "error", err)
		return
	}
	if err := i.apply(ctx, instanceID, schedules); err != nil {
		logger.Warn("importing schedules failed", "instance", instanceID, "error", err)
		return
	}
	logger.Info("schedules imported", "instance", instanceID, "count", len(schedules))
}
