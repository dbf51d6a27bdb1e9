// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package engine is the instance registry: the only entry point through
// which the daemon's administrative surface reaches running instances.
//
// Every operation validates its input before touching an instance's
// queue. An unknown instance id fails with ErrUnknownInstance and a
// malformed address with transport.ErrInvalidAddress, both
// synchronously.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/switchboard/authstore"
	"github.com/bureau-foundation/switchboard/instance"
	"github.com/bureau-foundation/switchboard/lib/clock"
	"github.com/bureau-foundation/switchboard/store"
	"github.com/bureau-foundation/switchboard/telemetry"
	"github.com/bureau-foundation/switchboard/transport"
)

var (
	// ErrUnknownInstance is returned for an id with no registered
	// instance.
	ErrUnknownInstance = errors.New("engine: unknown instance")

	// ErrInvalidName is returned by CreateInstance for a blank name.
	ErrInvalidName = errors.New("engine: instance name is required")

	// ErrShutdown is returned by operations after Shutdown.
	ErrShutdown = errors.New("engine: shut down")
)

// Config configures New.
type Config struct {
	Store  *store.Store
	Auth   *authstore.Store
	Dialer transport.Dialer

	Telemetry telemetry.Sink
	Location  *time.Location

	// BaseDelay and WarmupExtra are passed to every instance's queue.
	BaseDelay   time.Duration
	WarmupExtra time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// Engine owns the running instances.
type Engine struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.RWMutex
	instances map[int64]*entry
	closed    bool
}

type entry struct {
	instance *instance.Instance
	auth     *authstore.Instance
}

// New returns an empty registry. Call StartAll to load and start the
// persisted instances.
func New(cfg Config) *Engine {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Telemetry == nil {
		cfg.Telemetry = telemetry.Discard
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Engine{
		cfg:       cfg,
		logger:    cfg.Logger,
		instances: make(map[int64]*entry),
	}
}

// StartAll starts every persisted instance in parallel. An instance
// that fails to start is logged and left out of the registry; the
// returned error joins all such failures.
func (e *Engine) StartAll(ctx context.Context) error {
	records, err := e.cfg.Store.Instances(ctx)
	if err != nil {
		return fmt.Errorf("engine: loading instances: %w", err)
	}

	var (
		group    errgroup.Group
		failures = make([]error, len(records))
	)
	for index, record := range records {
		group.Go(func() error {
			if _, err := e.launch(ctx, record); err != nil {
				e.logger.Error("starting instance failed", "instance", record.ID, "error", err)
				failures[index] = err
			}
			return nil
		})
	}
	group.Wait()

	e.logger.Info("instances started", "count", len(records))
	return errors.Join(failures...)
}

// Shutdown stops every instance in parallel and releases their auth
// locks. It returns early with ctx's error if ctx ends first; the
// stops continue in the background.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	entries := make([]*entry, 0, len(e.instances))
	for _, running := range e.instances {
		entries = append(entries, running)
	}
	clear(e.instances)
	e.mu.Unlock()

	var group errgroup.Group
	for _, running := range entries {
		group.Go(func() error {
			running.instance.Stop()
			return running.auth.Close()
		})
	}
	done := make(chan error, 1)
	go func() { done <- group.Wait() }()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("engine: shutdown: %w", err)
		}
		e.logger.Info("instances stopped", "count", len(entries))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("engine: shutdown: %w", ctx.Err())
	}
}

// launch builds, registers and starts an instance for record.
func (e *Engine) launch(ctx context.Context, record store.Instance) (*instance.Instance, error) {
	auth, err := e.cfg.Auth.Open(record.ID)
	if err != nil {
		return nil, err
	}
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		auth.Close()
		return nil, ErrShutdown
	}
	running := instance.New(instance.Config{
		Record:      record,
		Store:       e.cfg.Store,
		Auth:        auth,
		Dialer:      e.cfg.Dialer,
		Telemetry:   e.cfg.Telemetry,
		Location:    e.cfg.Location,
		BaseDelay:   e.cfg.BaseDelay,
		WarmupExtra: e.cfg.WarmupExtra,
		Clock:       e.cfg.Clock,
		Logger:      e.cfg.Logger,
	})

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		running.Stop()
		auth.Close()
		return nil, ErrShutdown
	}
	e.instances[record.ID] = &entry{instance: running, auth: auth}
	e.mu.Unlock()

	if err := running.Start(ctx); err != nil {
		e.mu.Lock()
		delete(e.instances, record.ID)
		e.mu.Unlock()
		running.Stop()
		auth.Close()
		return nil, fmt.Errorf("engine: starting instance %d: %w", record.ID, err)
	}
	return running, nil
}

// Instance returns the running instance with id.
func (e *Engine) Instance(id int64) (*instance.Instance, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	running, ok := e.instances[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownInstance, id)
	}
	return running.instance, nil
}

// CreateInstance persists a new instance and starts it. Without
// credentials it begins pairing straight away.
func (e *Engine) CreateInstance(ctx context.Context, name, owner string) (instance.Snapshot, error) {
	if name == "" {
		return instance.Snapshot{}, ErrInvalidName
	}
	record, err := e.cfg.Store.CreateInstance(ctx, name, owner, e.cfg.Clock.Now())
	if err != nil {
		return instance.Snapshot{}, fmt.Errorf("engine: %w", err)
	}
	running, err := e.launch(ctx, record)
	if err != nil {
		return instance.Snapshot{}, err
	}
	e.logger.Info("instance created", "instance", record.ID, "name", name, "owner", owner)
	return running.Snapshot(), nil
}

// DeleteInstance stops an instance, wipes its auth material and shadow
// data, and deletes its row.
func (e *Engine) DeleteInstance(ctx context.Context, id int64) error {
	e.mu.Lock()
	running, ok := e.instances[id]
	delete(e.instances, id)
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownInstance, id)
	}

	var errs []error
	if err := running.instance.Wipe(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := running.auth.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := e.cfg.Auth.Remove(id); err != nil {
		errs = append(errs, err)
	}
	if err := e.cfg.Store.DeleteInstance(ctx, id); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("engine: deleting instance %d: %w", id, err)
	}
	e.logger.Warn("instance deleted", "instance", id)
	return nil
}

// ListInstances returns snapshots of every running instance ordered
// by id.
func (e *Engine) ListInstances() []instance.Snapshot {
	e.mu.RLock()
	snapshots := make([]instance.Snapshot, 0, len(e.instances))
	for _, running := range e.instances {
		snapshots = append(snapshots, running.instance.Snapshot())
	}
	e.mu.RUnlock()
	slices.SortFunc(snapshots, func(a, b instance.Snapshot) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return snapshots
}

// Wipe is disaster recovery. It stops every affected instance (all of
// them when ids is empty) before deleting anything, then deletes their
// auth material and shadow data and relaunches them. A relaunched
// instance has no credentials, so it comes back waiting for pairing and
// flagged for relinking.
func (e *Engine) Wipe(ctx context.Context, ids ...int64) error {
	e.mu.RLock()
	var targets []*entry
	if len(ids) == 0 {
		for _, running := range e.instances {
			targets = append(targets, running)
		}
	} else {
		for _, id := range ids {
			running, ok := e.instances[id]
			if !ok {
				e.mu.RUnlock()
				return fmt.Errorf("%w: %d", ErrUnknownInstance, id)
			}
			targets = append(targets, running)
		}
	}
	e.mu.RUnlock()

	var stopping errgroup.Group
	for _, running := range targets {
		stopping.Go(func() error {
			running.instance.Stop()
			return nil
		})
	}
	stopping.Wait()

	var wiping errgroup.Group
	for _, running := range targets {
		wiping.Go(func() error { return running.instance.Wipe(ctx) })
	}
	wipeErr := wiping.Wait()
	if wipeErr == nil {
		e.logger.Warn("instances wiped", "count", len(targets))
	}

	failures := make([]error, len(targets))
	var relaunching errgroup.Group
	for index, running := range targets {
		relaunching.Go(func() error {
			if _, err := e.Restart(ctx, running.instance.ID()); err != nil {
				failures[index] = err
			}
			return nil
		})
	}
	relaunching.Wait()
	if err := errors.Join(append(failures, wipeErr)...); err != nil {
		return fmt.Errorf("engine: wipe: %w", err)
	}
	return nil
}

// Restart replaces a stopped or wiped instance with a fresh one built
// from its persisted row.
func (e *Engine) Restart(ctx context.Context, id int64) (instance.Snapshot, error) {
	e.mu.Lock()
	running, ok := e.instances[id]
	delete(e.instances, id)
	e.mu.Unlock()
	if !ok {
		return instance.Snapshot{}, fmt.Errorf("%w: %d", ErrUnknownInstance, id)
	}
	running.instance.Stop()
	if err := running.auth.Close(); err != nil {
		e.logger.Warn("releasing auth lock failed", "instance", id, "error", err)
	}
	record, err := e.cfg.Store.Instance(ctx, id)
	if err != nil {
		return instance.Snapshot{}, fmt.Errorf("engine: %w", err)
	}
	restarted, err := e.launch(ctx, record)
	if err != nil {
		return instance.Snapshot{}, err
	}
	return restarted.Snapshot(), nil
}
