// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/bureau-foundation/switchboard/lib/clock"
	"github.com/bureau-foundation/switchboard/lib/codec"
)

const (
	defaultFlushInterval = 5 * time.Second
	defaultBufferSize    = 1024
	defaultRate          = 20
	defaultBurst         = 50

	dialTimeout = 2 * time.Second

	// drainFlushTimeout bounds the final flush after Run's context
	// ends.
	drainFlushTimeout = 2 * time.Second
)

// SocketConfig configures NewSocketSink. SocketPath, Clock and Logger
// are required.
type SocketConfig struct {
	// SocketPath is the Unix socket of the consumer. Each flush opens
	// one connection and writes the buffered signals as a sequence
	// of CBOR items.
	SocketPath string

	// Rate and Burst bound accepted signals per second. Default 20
	// per second with a burst of 50.
	Rate  float64
	Burst int

	// BufferSize caps unsent signals. Default 1024.
	BufferSize int

	Clock  clock.Clock
	Logger *slog.Logger
}

// SocketSink buffers signals and flushes them to a Unix socket. Emit
// never blocks on I/O.
type SocketSink struct {
	socketPath string
	limiter    *rate.Limiter
	bufferSize int
	clock      clock.Clock
	logger     *slog.Logger

	mu      sync.Mutex
	buffer  []Signal
	dropped uint64

	done chan struct{}
}

// NewSocketSink validates cfg. Call Run to start flushing.
func NewSocketSink(cfg SocketConfig) (*SocketSink, error) {
	if cfg.SocketPath == "" {
		return nil, fmt.Errorf("telemetry: SocketPath is required")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("telemetry: Clock is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("telemetry: Logger is required")
	}
	limit := cfg.Rate
	if limit <= 0 {
		limit = defaultRate
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = defaultBurst
	}
	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &SocketSink{
		socketPath: cfg.SocketPath,
		limiter:    rate.NewLimiter(rate.Limit(limit), burst),
		bufferSize: bufferSize,
		clock:      cfg.Clock,
		logger:     cfg.Logger,
		done:       make(chan struct{}),
	}, nil
}

// Emit stamps signal with an id if it has none and buffers it.
func (s *SocketSink) Emit(signal Signal) error {
	if !s.limiter.AllowN(s.clock.Now(), 1) {
		s.countDrop()
		return ErrRateLimited
	}
	if signal.ID == "" {
		signal.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buffer) >= s.bufferSize {
		s.dropped++
		return ErrBufferFull
	}
	s.buffer = append(s.buffer, signal)
	return nil
}

func (s *SocketSink) countDrop() {
	s.mu.Lock()
	s.dropped++
	s.mu.Unlock()
}

// Dropped returns how many signals were rejected or lost.
func (s *SocketSink) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Run flushes every interval (default 5s) until ctx ends, then makes
// one final bounded flush and closes Done.
func (s *SocketSink) Run(ctx context.Context, interval time.Duration) {
	defer close(s.done)
	if interval <= 0 {
		interval = defaultFlushInterval
	}
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.flush(ctx)
		case <-ctx.Done():
			drainContext, drainCancel := context.WithTimeout(context.Background(), drainFlushTimeout)
			s.flush(drainContext)
			drainCancel()
			return
		}
	}
}

// Done is closed after Run returns.
func (s *SocketSink) Done() <-chan struct{} { return s.done }

// flush swaps the buffer out under the lock and writes it. A failed
// write drops the batch.
func (s *SocketSink) flush(ctx context.Context) {
	s.mu.Lock()
	batch := s.buffer
	s.buffer = nil
	s.mu.Unlock()
	if len(batch) == 0 {
		return
	}

	if err := s.write(ctx, batch); err != nil {
		s.mu.Lock()
		s.dropped += uint64(len(batch))
		s.mu.Unlock()
		s.logger.Warn("telemetry flush failed",
			"socket", s.socketPath,
			"dropped_signals", len(batch),
			"error", err,
		)
	}
}

func (s *SocketSink) write(ctx context.Context, batch []Signal) error {
	dialer := net.Dialer{Timeout: dialTimeout}
	connection, err := dialer.DialContext(ctx, "unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("dialing: %w", err)
	}
	defer connection.Close()
	if deadline, ok := ctx.Deadline(); ok {
		connection.SetWriteDeadline(deadline)
	}

	encoder := codec.NewEncoder(connection)
	for _, signal := range batch {
		if err := encoder.Encode(signal); err != nil {
			return fmt.Errorf("writing signal %s: %w", signal.ID, err)
		}
	}
	return nil
}
