// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package telemetry delivers presence signals to an external consumer.
// Delivery is fire-and-forget: a sink may drop signals, and callers log
// an Emit error at debug level and carry on.
package telemetry

import (
	"errors"
	"log/slog"
	"time"

	"github.com/bureau-foundation/switchboard/lib/codec"
)

// Kind names a signal.
type Kind string

const (
	// KindOnline: a tracked contact opened a presence session.
	KindOnline Kind = "online"
	// KindOffline: a tracked contact's session closed. Duration and
	// DailyTotal are set.
	KindOffline Kind = "offline"
	// KindMessaged: the account sent a message to a tracked contact.
	KindMessaged Kind = "messaged"
)

// Signal is one telemetry record.
type Signal struct {
	ID         string                `cbor:"id"`
	Kind       Kind                  `cbor:"kind"`
	Instance   int64                 `cbor:"instance"`
	Contact    string                `cbor:"contact"`
	At         time.Time             `cbor:"at"`
	Duration   codec.DurationSeconds `cbor:"duration,omitempty"`
	DailyTotal codec.DurationSeconds `cbor:"daily_total,omitempty"`
}

// Sink accepts signals.
type Sink interface {
	Emit(signal Signal) error
}

var (
	// ErrRateLimited is returned when a signal is dropped by the rate
	// limiter.
	ErrRateLimited = errors.New("telemetry: rate limited")

	// ErrBufferFull is returned when a signal is dropped because the
	// unsent buffer is full.
	ErrBufferFull = errors.New("telemetry: buffer full")
)

// Discard drops every signal.
var Discard Sink = discard{}

type discard struct{}

func (discard) Emit(Signal) error { return nil }

// LogSink logs each signal at info level.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Emit(signal Signal) error {
	s.Logger.Info("presence signal",
		"kind", string(signal.Kind),
		"instance", signal.Instance,
		"contact", signal.Contact,
		"at", signal.At,
		"duration", signal.Duration.Duration(),
		"daily_total", signal.DailyTotal.Duration(),
	)
	return nil
}
