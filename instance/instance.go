// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package instance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/switchboard/authstore"
	"github.com/bureau-foundation/switchboard/enrich"
	"github.com/bureau-foundation/switchboard/lib/clock"
	"github.com/bureau-foundation/switchboard/social"
	"github.com/bureau-foundation/switchboard/stealth"
	"github.com/bureau-foundation/switchboard/store"
	"github.com/bureau-foundation/switchboard/telemetry"
	"github.com/bureau-foundation/switchboard/traffic"
	"github.com/bureau-foundation/switchboard/transport"
	"github.com/bureau-foundation/switchboard/worker"
)

// Status is an instance's lifecycle state.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusQRPending    Status = "qr_pending"
	StatusConnected    Status = "connected"
)

const (
	// ReconnectDelay is the pause before redialing after an
	// unexpected close. Repeated dial failures double it up to
	// MaxReconnectDelay.
	ReconnectDelay    = 5 * time.Second
	MaxReconnectDelay = 5 * time.Minute

	// ReconnectCooldown is the pause between closing and reopening
	// the connection on an explicit Reconnect.
	ReconnectCooldown = 2 * time.Second

	// DefaultPresenceRevert is how long "available" lasts unless the
	// presence.revert_after setting says otherwise.
	DefaultPresenceRevert = 60 * time.Second
)

var (
	// ErrStopped is returned by operations on a stopped instance.
	ErrStopped = errors.New("instance: stopped")

	// ErrInvalidPresence is returned by SetPresence for anything but
	// available and unavailable.
	ErrInvalidPresence = errors.New("instance: presence must be available or unavailable")
)

// Config configures New.
type Config struct {
	// Record is the persisted row; ID, Name, CreatedAt, Presence and
	// NeedsRelink are read from it.
	Record store.Instance

	Store  *store.Store
	Auth   *authstore.Instance
	Dialer transport.Dialer

	// Telemetry receives presence tracker signals. Defaults to
	// telemetry.Discard.
	Telemetry telemetry.Sink

	// Location is where schedules and daily totals are evaluated.
	// Defaults to time.Local.
	Location *time.Location

	// BaseDelay, WarmupExtra and Rand are passed to the command
	// queue.
	BaseDelay   time.Duration
	WarmupExtra time.Duration
	Rand        func() float64

	Clock  clock.Clock
	Logger *slog.Logger
}

// StatusChange is broadcast to subscribers whenever the status, the
// pairing challenge or the relink flag changes.
type StatusChange struct {
	Instance    int64
	Status      Status
	Challenge   string
	NeedsRelink bool
	At          time.Time
}

// Snapshot is a point-in-time view of an instance.
type Snapshot struct {
	ID          int64
	Name        string
	Owner       string
	Status      Status
	Challenge   string
	Presence    transport.Presence
	NeedsRelink bool
	CreatedAt   time.Time
	Symptoms    int
	Queue       traffic.Stats
}

// Instance is one running account. Methods are safe for concurrent
// use.
type Instance struct {
	record store.Instance
	store  *store.Store
	auth   *authstore.Instance
	dialer transport.Dialer
	clock  clock.Clock
	logger *slog.Logger

	queue    *traffic.Queue
	workers  *worker.Manager
	stealth  *stealth.Scheduler
	social   *social.Tracker
	names    *enrich.Names
	pictures *enrich.ProfilePictures
	health   *Health

	ctx      context.Context
	cancel   context.CancelFunc
	commands chan func()
	symptoms chan transport.Symptom
	done     chan struct{}

	// droppedSymptoms counts symptoms lost to a full buffer.
	droppedSymptoms atomic.Uint64

	// Loop-owned: only the event loop goroutine touches these.
	events         <-chan transport.Event
	reconnectTimer *clock.Timer
	dialAttempts   int

	mu          sync.Mutex
	started     bool
	stopped     bool
	status      Status
	challenge   string
	needsRelink bool
	presence    transport.Presence
	conn        transport.Conn
	generation  context.Context
	retire      context.CancelFunc
	revertTimer *clock.Timer
	subscribers map[chan StatusChange]struct{}
}

var _ traffic.ConnSource = (*Instance)(nil)

// New builds an instance without connecting; call Start.
func New(cfg Config) *Instance {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Telemetry == nil {
		cfg.Telemetry = telemetry.Discard
	}
	logger := cfg.Logger.With("instance", cfg.Record.ID)

	presence := transport.Presence(cfg.Record.Presence)
	if presence != transport.Available {
		presence = transport.Unavailable
	}

	i := &Instance{
		record:      cfg.Record,
		store:       cfg.Store,
		auth:        cfg.Auth,
		dialer:      cfg.Dialer,
		clock:       cfg.Clock,
		logger:      logger,
		health:      NewHealth(0, 0),
		commands:    make(chan func()),
		symptoms:    make(chan transport.Symptom, 64),
		done:        make(chan struct{}),
		status:      StatusDisconnected,
		needsRelink: cfg.Record.NeedsRelink,
		presence:    presence,
		subscribers: make(map[chan StatusChange]struct{}),
	}
	i.ctx, i.cancel = context.WithCancel(context.Background())

	i.queue = traffic.New(traffic.Config{
		Conns:       i,
		CreatedAt:   cfg.Record.CreatedAt,
		BaseDelay:   cfg.BaseDelay,
		WarmupExtra: cfg.WarmupExtra,
		Rand:        cfg.Rand,
		Clock:       cfg.Clock,
		Logger:      logger.With("component", "traffic"),
	})
	enrichConfig := enrich.Config{
		InstanceID: cfg.Record.ID,
		Store:      cfg.Store,
		Queue:      i.queue,
		IsGroup:    cfg.Dialer.IsGroup,
		Clock:      cfg.Clock,
		Logger:     logger.With("component", "enrich"),
	}
	i.names = enrich.NewNames(enrichConfig)
	i.pictures = enrich.NewProfilePictures(enrichConfig)
	i.workers = worker.New(worker.Config{
		InstanceID: cfg.Record.ID,
		Store:      cfg.Store,
		Queue:      i.queue,
		Names:      i.names,
		Pictures:   i.pictures,
		Stalled:    func() { i.requestReconnect("watchdog") },
		Clock:      cfg.Clock,
		Logger:     logger.With("component", "worker"),
	})
	i.stealth = stealth.New(stealth.Config{
		InstanceID: cfg.Record.ID,
		Schedules:  cfg.Store,
		Queue:      i.queue,
		Location:   cfg.Location,
		Clock:      cfg.Clock,
		Logger:     logger.With("component", "stealth"),
	})
	i.social = social.New(social.Config{
		InstanceID: cfg.Record.ID,
		Store:      cfg.Store,
		Sink:       cfg.Telemetry,
		Location:   cfg.Location,
		Clock:      cfg.Clock,
		Logger:     logger.With("component", "social"),
	})
	return i
}

// ID returns the instance id.
func (i *Instance) ID() int64 { return i.record.ID }

// Queue returns the instance's command queue.
func (i *Instance) Queue() *traffic.Queue { return i.queue }

// Stealth returns the visibility scheduler.
func (i *Instance) Stealth() *stealth.Scheduler { return i.stealth }

// Social returns the presence tracker.
func (i *Instance) Social() *social.Tracker { return i.social }

// Pictures returns the profile picture resolver.
func (i *Instance) Pictures() *enrich.ProfilePictures { return i.pictures }

// Names returns the display name resolver.
func (i *Instance) Names() *enrich.Names { return i.names }

// Dialer returns the transport dialer, for address validation.
func (i *Instance) Dialer() transport.Dialer { return i.dialer }

// Conn implements traffic.ConnSource. A connection only counts as live
// once it is open.
func (i *Instance) Conn() (traffic.Conn, context.Context, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.conn == nil || i.status != StatusConnected {
		return nil, nil, false
	}
	return i.conn, i.generation, true
}

// Status returns the current lifecycle state.
func (i *Instance) Status() Status {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.status
}

// Snapshot returns the instance's current state.
func (i *Instance) Snapshot() Snapshot {
	i.mu.Lock()
	snapshot := Snapshot{
		ID:          i.record.ID,
		Name:        i.record.Name,
		Owner:       i.record.Owner,
		Status:      i.status,
		Challenge:   i.challenge,
		Presence:    i.presence,
		NeedsRelink: i.needsRelink,
		CreatedAt:   i.record.CreatedAt,
	}
	i.mu.Unlock()
	snapshot.Symptoms = i.health.Count(i.clock.Now())
	snapshot.Queue = i.queue.Stats()
	return snapshot
}

// DroppedSymptoms returns how many corruption symptoms were discarded
// because the event loop had fallen behind.
func (i *Instance) DroppedSymptoms() uint64 { return i.droppedSymptoms.Load() }

// Subscribe returns a channel of status changes and a function that
// ends the subscription. Changes are dropped for a subscriber that
// falls more than a few behind.
func (i *Instance) Subscribe() (<-chan StatusChange, func()) {
	channel := make(chan StatusChange, 16)
	i.mu.Lock()
	i.subscribers[channel] = struct{}{}
	i.mu.Unlock()
	var once sync.Once
	return channel, func() {
		once.Do(func() {
			i.mu.Lock()
			delete(i.subscribers, channel)
			i.mu.Unlock()
		})
	}
}

// Start launches the event loop and the first dial.
func (i *Instance) Start(ctx context.Context) error {
	if err := i.social.Load(ctx); err != nil {
		return fmt.Errorf("instance %d: %w", i.record.ID, err)
	}

	i.mu.Lock()
	if i.stopped {
		i.mu.Unlock()
		return ErrStopped
	}
	if i.started {
		i.mu.Unlock()
		return nil
	}
	i.started = true
	i.mu.Unlock()

	go i.run()
	return i.post(ctx, i.dial)
}

// Stop shuts the instance down: workers, scheduler, queue and
// connection. The persisted status becomes disconnected. Stop is
// idempotent.
func (i *Instance) Stop() {
	i.mu.Lock()
	if i.stopped {
		i.mu.Unlock()
		<-i.done
		return
	}
	i.stopped = true
	started := i.started
	if i.revertTimer != nil {
		i.revertTimer.Stop()
		i.revertTimer = nil
	}
	i.mu.Unlock()

	i.cancel()
	if started {
		<-i.done
	} else {
		close(i.done)
	}
	i.queue.Close()
	i.logger.Info("instance stopped")
}

// Wipe stops the instance and deletes its auth material and shadow
// data. The store row survives with needs_relink set.
func (i *Instance) Wipe(ctx context.Context) error {
	i.Stop()
	var errs []error
	if err := i.auth.WipeAll(); err != nil {
		errs = append(errs, err)
	}
	if err := i.store.WipeInstanceData(ctx, i.record.ID); err != nil {
		errs = append(errs, err)
	}
	if err := i.store.SetNeedsRelink(ctx, i.record.ID, true); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("instance %d: wipe: %w", i.record.ID, err)
	}
	i.logger.Warn("instance wiped")
	return nil
}

// Reconnect closes the connection, cancels MEDIUM and LOW tasks
// (HIGH tasks survive and run on the new connection), and redials after
// ReconnectCooldown. It returns once the old connection is closed.
func (i *Instance) Reconnect(ctx context.Context) error {
	return i.post(ctx, func() { i.reconnect("requested") })
}

// requestReconnect is Reconnect for internal callers that must not
// block.
func (i *Instance) requestReconnect(reason string) {
	go func() {
		if err := i.post(i.ctx, func() { i.reconnect(reason) }); err != nil && !errors.Is(err, ErrStopped) {
			i.logger.Warn("reconnect request failed", "reason", reason, "error", err)
		}
	}()
}

// post runs fn on the event loop and waits for it to finish.
func (i *Instance) post(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	command := func() {
		defer close(finished)
		fn()
	}
	select {
	case i.commands <- command:
	case <-i.done:
		return ErrStopped
	case <-i.ctx.Done():
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-i.done:
		return ErrStopped
	}
}

// postAsync queues fn for the event loop without waiting. Used from
// timer callbacks.
func (i *Instance) postAsync(fn func()) {
	go func() {
		select {
		case i.commands <- fn:
		case <-i.ctx.Done():
		}
	}()
}

func (i *Instance) broadcastLocked() {
	change := StatusChange{
		Instance:    i.record.ID,
		Status:      i.status,
		Challenge:   i.challenge,
		NeedsRelink: i.needsRelink,
		At:          i.clock.Now(),
	}
	for subscriber := range i.subscribers {
		select {
		case subscriber <- change:
		default:
		}
	}
}
