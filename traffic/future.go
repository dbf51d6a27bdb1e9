// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package traffic

import (
	"context"
	"fmt"
	"sync"
)

// Future is the completion handle of a queued task.
type Future struct {
	priority Priority
	once     sync.Once
	done     chan struct{}
	value    any
	err      error
}

func newFuture(priority Priority) *Future {
	return &Future{priority: priority, done: make(chan struct{})}
}

func (f *Future) resolve(value any, err error) {
	f.once.Do(func() {
		f.value, f.err = value, err
		close(f.done)
	})
}

// Priority is the priority the task was enqueued at.
func (f *Future) Priority() Priority { return f.priority }

// Done is closed once the task has resolved.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the task resolves or ctx ends. A ctx error leaves
// the task queued.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Do submits fn at priority, waits for it, and returns its typed
// result. ctx bounds both the wait and the task.
func Do[T any](ctx context.Context, q *Queue, priority Priority, fn func(ctx context.Context, conn Conn) (T, error)) (T, error) {
	future := q.Submit(ctx, func(ctx context.Context, conn Conn) (any, error) {
		return fn(ctx, conn)
	}, priority)
	raw, err := future.Wait(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	value, ok := raw.(T)
	if !ok && raw != nil {
		var zero T
		return zero, fmt.Errorf("traffic: task returned %T, want %T", raw, zero)
	}
	return value, nil
}

// Run submits fn at priority and waits for it, for tasks without a
// result.
func Run(ctx context.Context, q *Queue, priority Priority, fn func(ctx context.Context, conn Conn) error) error {
	_, err := Do(ctx, q, priority, func(ctx context.Context, conn Conn) (struct{}, error) {
		return struct{}{}, fn(ctx, conn)
	})
	return err
}
