// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sync"
	"time"
)

// FakeClock is a manually advanced Clock. It is safe for concurrent
// use. AfterFunc callbacks run on the goroutine calling Advance and
// must not call Advance or Sleep themselves.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	pending []*alarm
	changed *sync.Cond
}

// alarm is one registered After, AfterFunc, Sleep or ticker.
type alarm struct {
	at       time.Time
	channel  chan time.Time
	callback func()
	period   time.Duration
	active   bool
}

// Fake returns a FakeClock frozen at start.
func Fake(start time.Time) *FakeClock {
	fake := &FakeClock{now: start}
	fake.changed = sync.NewCond(&fake.mu)
	return fake
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	channel := make(chan time.Time, 1)
	if d <= 0 {
		channel <- c.now
		return channel
	}
	c.addLocked(&alarm{at: c.now.Add(d), channel: channel, active: true})
	return channel
}

func (c *FakeClock) Sleep(d time.Duration) {
	if d > 0 {
		<-c.After(d)
	}
}

func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	if d <= 0 {
		f()
		return &Timer{
			stop:  func() bool { return false },
			reset: func(time.Duration) bool { return false },
		}
	}

	c.mu.Lock()
	entry := &alarm{at: c.now.Add(d), callback: f, active: true}
	c.addLocked(entry)
	c.mu.Unlock()

	return &Timer{
		stop: func() bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			wasActive := entry.active
			c.removeLocked(entry)
			return wasActive
		},
		reset: func(d time.Duration) bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			wasActive := entry.active
			c.removeLocked(entry)
			entry.at = c.now.Add(d)
			entry.active = true
			c.addLocked(entry)
			return wasActive
		},
	}
}

func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: NewTicker called with non-positive period")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	channel := make(chan time.Time, 1)
	entry := &alarm{at: c.now.Add(d), channel: channel, period: d, active: true}
	c.addLocked(entry)

	return &Ticker{
		C: channel,
		stop: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.removeLocked(entry)
		},
		reset: func(d time.Duration) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.removeLocked(entry)
			entry.period = d
			entry.at = c.now.Add(d)
			entry.active = true
			c.addLocked(entry)
		},
	}
}

// Advance moves the clock forward by d, firing every alarm whose
// deadline falls inside the span in deadline order. While an alarm
// fires, Now reports that alarm's deadline.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	for {
		next := c.earliestLocked()
		if next == nil || next.at.After(target) {
			break
		}
		if next.at.After(c.now) {
			c.now = next.at
		}
		if next.period > 0 {
			next.at = next.at.Add(next.period)
		} else {
			c.removeLocked(next)
		}

		fireTime := c.now
		if next.callback != nil {
			c.mu.Unlock()
			next.callback()
			c.mu.Lock()
			continue
		}
		select {
		case next.channel <- fireTime:
		default:
		}
	}
	c.now = target
	c.mu.Unlock()
}

// WaitForTimers blocks until at least n alarms are pending. Tests use
// it to make sure a goroutine has registered its timer before the
// clock is advanced.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.pending) < n {
		c.changed.Wait()
	}
}

// PendingCount returns the number of registered alarms.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *FakeClock) addLocked(entry *alarm) {
	c.pending = append(c.pending, entry)
	c.changed.Broadcast()
}

func (c *FakeClock) removeLocked(entry *alarm) {
	entry.active = false
	for i, candidate := range c.pending {
		if candidate == entry {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return
		}
	}
}

// earliestLocked returns the alarm with the smallest deadline,
// preferring the earliest registered among equal deadlines.
func (c *FakeClock) earliestLocked() *alarm {
	var earliest *alarm
	for _, candidate := range c.pending {
		if earliest == nil || candidate.at.Before(earliest.at) {
			earliest = candidate
		}
	}
	return earliest
}
