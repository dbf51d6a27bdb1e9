// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package worker runs an instance's background loops while it is
// connected: naming repair, deep history backfill and the liveness
// watchdog, plus the enrichment lanes.
//
// Every network request goes through the instance's command queue at
// LOW priority. Failures are logged and retried on the loop's own
// schedule; nothing here surfaces an error to a caller.
package worker

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"runtime/debug"
	"sync"
	"time"

	"github.com/bureau-foundation/switchboard/enrich"
	"github.com/bureau-foundation/switchboard/lib/clock"
	"github.com/bureau-foundation/switchboard/store"
	"github.com/bureau-foundation/switchboard/traffic"
)

const (
	// NamingMinInterval and NamingMaxInterval bound the random pause
	// between naming repair passes.
	NamingMinInterval = 60 * time.Second
	NamingMaxInterval = 120 * time.Second

	// NamingBatch is the most conversations one naming pass repairs.
	NamingBatch = 5

	// PageSize is the number of messages requested per history page.
	PageSize = 50

	// BackfillSpacing is the base pause after a non-empty page.
	BackfillSpacing = 3 * time.Second
	// BackfillTransition is the pause after a conversation completes.
	BackfillTransition = 5 * time.Second
	// BackfillErrorBackoff is the pause after a failed page request.
	BackfillErrorBackoff = 30 * time.Second
	// BackfillIdle is the pause when every conversation is synced.
	BackfillIdle = time.Minute

	// WatchdogInterval is how often the watchdog checks for a stalled
	// sync.
	WatchdogInterval = 10 * time.Minute
)

// Config configures New.
type Config struct {
	InstanceID int64
	Store      *store.Store
	Queue      *traffic.Queue

	Names    *enrich.Names
	Pictures *enrich.ProfilePictures

	// NamingRetryAfter is how long a conversation whose name could not
	// be found waits before naming repair tries it again. Defaults to
	// enrich.DefaultTTL.
	NamingRetryAfter time.Duration

	// Stalled is called when the watchdog finds a connected instance
	// with no conversations. It runs on its own goroutine.
	Stalled func()

	// Rand returns values in [0, 1) for the naming interval. Defaults
	// to math/rand/v2.
	Rand func() float64

	Clock  clock.Clock
	Logger *slog.Logger
}

// Manager starts and stops the loops. Arm and Disarm are safe for
// concurrent use.
type Manager struct {
	cfg Config

	mu      sync.Mutex
	cancel  context.CancelFunc
	running sync.WaitGroup
}

// New returns a disarmed manager.
func New(cfg Config) *Manager {
	if cfg.Rand == nil {
		cfg.Rand = rand.Float64
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Stalled == nil {
		cfg.Stalled = func() {}
	}
	if cfg.NamingRetryAfter <= 0 {
		cfg.NamingRetryAfter = enrich.DefaultTTL
	}
	return &Manager{cfg: cfg}
}

// Arm starts the loops. Arming an armed manager is a no-op.
func (m *Manager) Arm(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)

	m.spawn(ctx, "naming", m.namingLoop)
	m.spawn(ctx, "backfill", m.backfillLoop)
	m.spawn(ctx, "watchdog", m.watchdogLoop)
	if m.cfg.Names != nil {
		m.spawn(ctx, "names", m.cfg.Names.Run)
	}
	if m.cfg.Pictures != nil {
		m.spawn(ctx, "profile_pictures", m.cfg.Pictures.Run)
	}
	m.cfg.Logger.Debug("background workers armed")
}

// Disarm stops the loops and waits for them to return.
func (m *Manager) Disarm() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	m.running.Wait()
	m.cfg.Logger.Debug("background workers disarmed")
}

// Armed reports whether the loops are running.
func (m *Manager) Armed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancel != nil
}

func (m *Manager) spawn(ctx context.Context, name string, loop func(ctx context.Context)) {
	m.running.Add(1)
	go func() {
		defer m.running.Done()
		defer func() {
			if recovered := recover(); recovered != nil {
				m.cfg.Logger.Error("background worker panicked",
					"worker", name,
					"panic", recovered,
					"stack", string(debug.Stack()),
				)
			}
		}()
		loop(ctx)
	}()
}
