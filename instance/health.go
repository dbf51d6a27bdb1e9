// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package instance

import (
	"sync"
	"time"
)

const (
	// HealthWindow is how long a corruption symptom counts toward
	// repair.
	HealthWindow = 2 * time.Minute

	// HealthThreshold is the number of symptoms within HealthWindow
	// that triggers a soft repair.
	HealthThreshold = 20
)

// Health counts session corruption symptoms over a sliding window. A
// symptom stops counting once it is HealthWindow old, so isolated
// blips never accumulate into a repair.
type Health struct {
	window    time.Duration
	threshold int

	mu       sync.Mutex
	symptoms []time.Time
}

// NewHealth returns a counter. Zero arguments select HealthWindow and
// HealthThreshold.
func NewHealth(window time.Duration, threshold int) *Health {
	if window <= 0 {
		window = HealthWindow
	}
	if threshold <= 0 {
		threshold = HealthThreshold
	}
	return &Health{window: window, threshold: threshold}
}

// Add records a symptom observed at now. It reports true exactly when
// the count reaches the threshold, and resets the count to zero.
func (h *Health) Add(now time.Time) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.expireLocked(now)
	h.symptoms = append(h.symptoms, now)
	if len(h.symptoms) < h.threshold {
		return false
	}
	h.symptoms = h.symptoms[:0]
	return true
}

// Count returns the number of symptoms still inside the window.
func (h *Health) Count(now time.Time) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.expireLocked(now)
	return len(h.symptoms)
}

// Reset forgets every symptom.
func (h *Health) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.symptoms = h.symptoms[:0]
}

func (h *Health) expireLocked(now time.Time) {
	expired := 0
	for expired < len(h.symptoms) && now.Sub(h.symptoms[expired]) >= h.window {
		expired++
	}
	h.symptoms = append(h.symptoms[:0], h.symptoms[expired:]...)
}
