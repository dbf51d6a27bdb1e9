// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package traffic

import (
	"errors"
	"fmt"
)

var (
	// ErrCancelled matches every *CancelledError.
	ErrCancelled = errors.New("traffic: task cancelled")

	// ErrNotConnected is returned for a task that reached the head
	// of the queue while no connection was live.
	ErrNotConnected = errors.New("traffic: not connected")

	// ErrTransportChanged is returned for a task whose connection was
	// retired while it ran.
	ErrTransportChanged = errors.New("traffic: transport changed during task")
)

// CancelledError is the result of a task removed by Clear or Close.
type CancelledError struct {
	Priority Priority
	Reason   string
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("traffic: %s task cancelled: %s", e.Priority, e.Reason)
}

func (e *CancelledError) Is(target error) bool { return target == ErrCancelled }

// IsCancelled reports whether err is or wraps a cancellation.
func IsCancelled(err error) bool { return errors.Is(err, ErrCancelled) }

// PanicError carries a panic recovered from a task.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("traffic: task panicked: %v", e.Value)
}
