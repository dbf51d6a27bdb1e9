// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package traffic

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"runtime/debug"
	"sync"
	"time"

	"github.com/bureau-foundation/switchboard/lib/clock"
	"github.com/bureau-foundation/switchboard/transport"
)

// Priority orders tasks; lower values run first.
type Priority int

const (
	High   Priority = 0
	Medium Priority = 1
	Low    Priority = 2
)

func (p Priority) String() string {
	switch p {
	case High:
		return "high"
	case Medium:
		return "medium"
	case Low:
		return "low"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

func (p Priority) valid() bool { return p >= High && p <= Low }

const (
	// DefaultBaseDelay is the minimum spacing between two requests of
	// a mature account.
	DefaultBaseDelay = 1500 * time.Millisecond

	// DefaultWarmupExtra is the additional spacing of a brand-new
	// account, shrinking linearly to zero over WarmupPeriod.
	DefaultWarmupExtra = 4 * time.Second

	// WarmupPeriod is the account age after which only the base delay
	// applies.
	WarmupPeriod = 48 * time.Hour

	jitterLow  = 0.8
	jitterHigh = 1.5
)

// Conn is the connection type tasks receive.
type Conn = transport.Conn

// Task is one unit of work against the live connection. ctx ends when
// the connection is retired, the queue closes, or the submitting
// caller's context ends.
type Task func(ctx context.Context, conn Conn) (any, error)

// ConnSource supplies the live connection.
type ConnSource interface {
	// Conn returns the current connection and a context that is
	// cancelled when that connection is retired. ok is false while
	// no connection is live.
	Conn() (conn Conn, generation context.Context, ok bool)
}

// Config configures New.
type Config struct {
	Conns ConnSource

	// CreatedAt is the account creation time used for warmup.
	CreatedAt time.Time

	// BaseDelay and WarmupExtra default to DefaultBaseDelay and
	// DefaultWarmupExtra. A negative value means zero.
	BaseDelay   time.Duration
	WarmupExtra time.Duration

	// Rand returns a uniform value in [0, 1) used for jitter. Defaults
	// to math/rand/v2.
	Rand func() float64

	Clock  clock.Clock
	Logger *slog.Logger
}

// Stats is a snapshot of queue counters.
type Stats struct {
	Depth     map[Priority]int `json:"depth"`
	Running   bool             `json:"running"`
	Executed  uint64           `json:"executed"`
	Failed    uint64           `json:"failed"`
	Cancelled uint64           `json:"cancelled"`
}

// Queue is a per-instance priority command queue.
type Queue struct {
	conns       ConnSource
	createdAt   time.Time
	baseDelay   time.Duration
	warmupExtra time.Duration
	random      func() float64
	clock       clock.Clock
	logger      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	wake   chan struct{}

	mu             sync.Mutex
	pending        taskHeap
	sequence       uint64
	running        bool
	closed         bool
	lastCompletion time.Time
	executed       uint64
	failed         uint64
	cancelled      uint64
}

// New starts a queue and its dispatcher goroutine.
func New(cfg Config) *Queue {
	if cfg.Conns == nil {
		panic("traffic: Conns is required")
	}
	q := &Queue{
		conns:       cfg.Conns,
		createdAt:   cfg.CreatedAt,
		baseDelay:   orDefault(cfg.BaseDelay, DefaultBaseDelay),
		warmupExtra: orDefault(cfg.WarmupExtra, DefaultWarmupExtra),
		random:      cfg.Rand,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
		done:        make(chan struct{}),
		wake:        make(chan struct{}, 1),
	}
	if q.random == nil {
		q.random = rand.Float64
	}
	if q.clock == nil {
		q.clock = clock.Real()
	}
	if q.logger == nil {
		q.logger = slog.New(slog.DiscardHandler)
	}
	q.ctx, q.cancel = context.WithCancel(context.Background())
	go q.dispatch()
	return q
}

func orDefault(value, fallback time.Duration) time.Duration {
	switch {
	case value == 0:
		return fallback
	case value < 0:
		return 0
	default:
		return value
	}
}

// Enqueue schedules task at priority and returns its future.
func (q *Queue) Enqueue(task Task, priority Priority) *Future {
	return q.Submit(context.Background(), task, priority)
}

// Submit is Enqueue bound to the caller's context: if ctx ends before
// the task starts, the task is skipped and its future fails with
// ctx.Err(); if ctx ends while it runs, the task's context ends too.
func (q *Queue) Submit(ctx context.Context, task Task, priority Priority) *Future {
	future := newFuture(priority)
	if !priority.valid() {
		future.resolve(nil, fmt.Errorf("traffic: invalid priority %d", int(priority)))
		return future
	}

	q.mu.Lock()
	if q.closed {
		q.cancelled++
		q.mu.Unlock()
		future.resolve(nil, &CancelledError{Priority: priority, Reason: "queue closed"})
		return future
	}
	q.sequence++
	heap.Push(&q.pending, &entry{
		task:     task,
		ctx:      ctx,
		priority: priority,
		sequence: q.sequence,
		enqueued: q.clock.Now(),
		future:   future,
	})
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return future
}

// Clear cancels every pending task whose priority is threshold or
// lower (numerically >= threshold) and returns how many it cancelled.
// The running task is not affected.
func (q *Queue) Clear(threshold Priority) int {
	q.mu.Lock()
	var kept taskHeap
	var dropped []*entry
	for _, pending := range q.pending {
		if pending.priority >= threshold {
			dropped = append(dropped, pending)
		} else {
			kept = append(kept, pending)
		}
	}
	heap.Init(&kept)
	q.pending = kept
	q.cancelled += uint64(len(dropped))
	q.mu.Unlock()

	for _, pending := range dropped {
		pending.future.resolve(nil, &CancelledError{Priority: pending.priority, Reason: "cleared"})
	}
	if len(dropped) > 0 {
		q.logger.Debug("queue cleared", "threshold", threshold.String(), "cancelled", len(dropped))
	}
	return len(dropped)
}

// Depth returns the number of pending tasks.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// AdaptiveDelay scales base by the current depth; see AdaptiveDelay.
func (q *Queue) AdaptiveDelay(base time.Duration) time.Duration {
	return AdaptiveDelay(base, q.Depth())
}

// AdaptiveDelay slows background producers down under load: a depth
// above 20 quadruples base, above 10 doubles it.
func AdaptiveDelay(base time.Duration, depth int) time.Duration {
	switch {
	case depth > 20:
		return 4 * base
	case depth > 10:
		return 2 * base
	default:
		return base
	}
}

// Delay returns the pre-jitter spacing for an account of the given
// age.
func (q *Queue) Delay(age time.Duration) time.Duration {
	return WarmupDelay(q.baseDelay, q.warmupExtra, age)
}

// WarmupDelay is base plus the share of warmupExtra that remains at
// age. It is non-increasing in age and equals base from WarmupPeriod
// on.
func WarmupDelay(base, warmupExtra, age time.Duration) time.Duration {
	if age < 0 {
		age = 0
	}
	if age >= WarmupPeriod {
		return base
	}
	remaining := 1 - float64(age)/float64(WarmupPeriod)
	return base + time.Duration(float64(warmupExtra)*remaining)
}

// Jitter scales delay by a factor in [0.8, 1.5] chosen by r in [0, 1).
func Jitter(delay time.Duration, r float64) time.Duration {
	factor := jitterLow + (jitterHigh-jitterLow)*r
	return time.Duration(float64(delay) * factor)
}

// Stats returns a snapshot of the queue's counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	depth := map[Priority]int{High: 0, Medium: 0, Low: 0}
	for _, pending := range q.pending {
		depth[pending.priority]++
	}
	return Stats{
		Depth:     depth,
		Running:   q.running,
		Executed:  q.executed,
		Failed:    q.failed,
		Cancelled: q.cancelled,
	}
}

// Close cancels all pending tasks, ends the running task's context and
// waits for the dispatcher to exit. Later submissions fail with a
// CancelledError.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.closed = true
	q.mu.Unlock()

	q.Clear(High)
	q.cancel()
	<-q.done
}

func (q *Queue) dispatch() {
	defer close(q.done)
	for {
		if !q.awaitWork() {
			return
		}
		if err := clock.SleepContext(q.ctx, q.clock, q.remainingDelay()); err != nil {
			return
		}

		q.mu.Lock()
		if len(q.pending) == 0 {
			// Cleared while we waited.
			q.mu.Unlock()
			continue
		}
		next := heap.Pop(&q.pending).(*entry)
		q.running = true
		q.mu.Unlock()

		value, err := q.run(next)

		q.mu.Lock()
		q.running = false
		q.lastCompletion = q.clock.Now()
		var cancelled *CancelledError
		switch {
		case errors.As(err, &cancelled):
			q.cancelled++
		case err != nil:
			q.failed++
		default:
			q.executed++
		}
		q.mu.Unlock()

		next.future.resolve(value, err)
	}
}

// awaitWork blocks until a task is pending, reporting false once the
// queue is closed.
func (q *Queue) awaitWork() bool {
	for {
		q.mu.Lock()
		waiting := len(q.pending)
		q.mu.Unlock()
		if waiting > 0 {
			return true
		}
		select {
		case <-q.wake:
		case <-q.ctx.Done():
			return false
		}
	}
}

func (q *Queue) remainingDelay() time.Duration {
	q.mu.Lock()
	last := q.lastCompletion
	q.mu.Unlock()
	if last.IsZero() {
		return 0
	}
	now := q.clock.Now()
	delay := Jitter(q.Delay(now.Sub(q.createdAt)), q.random())
	return delay - now.Sub(last)
}

func (q *Queue) run(next *entry) (value any, err error) {
	if err := next.ctx.Err(); err != nil {
		return nil, fmt.Errorf("traffic: %s task abandoned by caller: %w", next.priority, err)
	}
	conn, generation, ok := q.conns.Conn()
	if !ok {
		return nil, ErrNotConnected
	}

	ctx, cancel := context.WithCancel(generation)
	defer cancel()
	stopCaller := context.AfterFunc(next.ctx, cancel)
	defer stopCaller()
	stopQueue := context.AfterFunc(q.ctx, cancel)
	defer stopQueue()

	defer func() {
		if recovered := recover(); recovered != nil {
			q.logger.Error("queued task panicked", "priority", next.priority.String(), "panic", recovered)
			value, err = nil, &PanicError{Value: recovered, Stack: debug.Stack()}
		}
	}()

	q.logger.Debug("running queued task",
		"priority", next.priority.String(),
		"waited", q.clock.Now().Sub(next.enqueued),
	)
	value, err = next.task(ctx, conn)
	switch {
	case err == nil:
	case generation.Err() != nil:
		err = fmt.Errorf("%w: %v", ErrTransportChanged, err)
	case q.ctx.Err() != nil:
		err = &CancelledError{Priority: next.priority, Reason: "queue closed"}
	}
	return value, err
}

type entry struct {
	task     Task
	ctx      context.Context
	priority Priority
	sequence uint64
	enqueued time.Time
	future   *Future
}

// taskHeap orders entries by (priority, sequence). Implements
// container/heap.Interface.
type taskHeap []*entry

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].sequence < h[j].sequence
}
func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *taskHeap) Push(x any)   { *h = append(*h, x.(*entry)) }
func (h *taskHeap) Pop() any {
	old := *h
	last := old[len(old)-1]
	old[len(old)-1] = nil
	*h = old[:len(old)-1]
	return last
}
