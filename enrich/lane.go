// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package enrich

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/switchboard/lib/clock"
	"github.com/bureau-foundation/switchboard/traffic"
	"github.com/bureau-foundation/switchboard/transport"
)

// lane is a FIFO of addresses drained one at a time, spaced by the
// queue's adaptive delay. An address is queued at most once.
type lane struct {
	name    string
	resolve func(ctx context.Context, address transport.Address) error
	queue   *traffic.Queue
	spacing time.Duration
	clock   clock.Clock
	logger  *slog.Logger

	wake chan struct{}

	mu      sync.Mutex
	pending []transport.Address
	queued  map[transport.Address]struct{}
}

func newLane(name string, queue *traffic.Queue, spacing time.Duration, c clock.Clock, logger *slog.Logger,
	resolve func(ctx context.Context, address transport.Address) error) *lane {
	return &lane{
		name:    name,
		resolve: resolve,
		queue:   queue,
		spacing: spacing,
		clock:   c,
		logger:  logger.With("lane", name),
		wake:    make(chan struct{}, 1),
		queued:  make(map[transport.Address]struct{}),
	}
}

// push queues address and reports whether it was not already queued.
func (l *lane) push(address transport.Address) bool {
	l.mu.Lock()
	if _, ok := l.queued[address]; ok {
		l.mu.Unlock()
		return false
	}
	l.queued[address] = struct{}{}
	l.pending = append(l.pending, address)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

func (l *lane) pop() (transport.Address, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.pending) == 0 {
		return "", false
	}
	address := l.pending[0]
	l.pending = l.pending[1:]
	delete(l.queued, address)
	return address, true
}

func (l *lane) depth() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// run drains the lane until ctx is done. Items left pending survive to
// the next run.
func (l *lane) run(ctx context.Context) {
	for {
		address, ok := l.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-l.wake:
				continue
			}
		}
		if err := l.resolve(ctx, address); err != nil {
			if ctx.Err() != nil {
				l.push(address)
				return
			}
			l.logger.Debug("enrichment failed", "address", string(address), "error", err)
		}
		if err := clock.SleepContext(ctx, l.clock, l.queue.AdaptiveDelay(l.spacing)); err != nil {
			return
		}
	}
}
