// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"context"
	"errors"
	"testing"
	"time"
)

var epoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func TestFakeAfter(t *testing.T) {
	fake := Fake(epoch)
	channel := fake.After(3 * time.Second)

	fake.Advance(2 * time.Second)
	select {
	case <-channel:
		t.Fatal("After fired before its deadline")
	default:
	}

	fake.Advance(time.Second)
	select {
	case fired := <-channel:
		if want := epoch.Add(3 * time.Second); !fired.Equal(want) {
			t.Errorf("fired at %v, want %v", fired, want)
		}
	default:
		t.Fatal("After did not fire at its deadline")
	}
	if fake.PendingCount() != 0 {
		t.Errorf("PendingCount = %d after firing, want 0", fake.PendingCount())
	}
}

func TestFakeAfterNonPositive(t *testing.T) {
	fake := Fake(epoch)
	for _, d := range []time.Duration{0, -time.Second} {
		select {
		case <-fake.After(d):
		default:
			t.Errorf("After(%v) did not deliver immediately", d)
		}
	}
}

func TestFakeAfterFuncSeesDeadline(t *testing.T) {
	fake := Fake(epoch)
	var observed time.Time
	fake.AfterFunc(5*time.Second, func() { observed = fake.Now() })

	fake.Advance(time.Minute)

	if want := epoch.Add(5 * time.Second); !observed.Equal(want) {
		t.Errorf("callback saw Now() = %v, want %v", observed, want)
	}
	if got := fake.Now(); !got.Equal(epoch.Add(time.Minute)) {
		t.Errorf("Now() after Advance = %v", got)
	}
}

func TestFakeAfterFuncStopAndReset(t *testing.T) {
	fake := Fake(epoch)
	calls := 0
	timer := fake.AfterFunc(time.Second, func() { calls++ })

	if !timer.Stop() {
		t.Fatal("Stop on a pending timer returned false")
	}
	if timer.Stop() {
		t.Fatal("second Stop returned true")
	}
	fake.Advance(2 * time.Second)
	if calls != 0 {
		t.Fatalf("stopped timer fired %d times", calls)
	}

	if timer.Reset(time.Second) {
		t.Fatal("Reset of a stopped timer reported it active")
	}
	fake.Advance(time.Second)
	if calls != 1 {
		t.Fatalf("reset timer fired %d times, want 1", calls)
	}
}

func TestFakeChainedCallbacksFireWithinAdvance(t *testing.T) {
	fake := Fake(epoch)
	var order []int
	fake.AfterFunc(time.Second, func() {
		order = append(order, 1)
		fake.AfterFunc(time.Second, func() { order = append(order, 2) })
	})

	fake.Advance(5 * time.Second)

	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("callback order = %v, want [1 2]", order)
	}
}

func TestFakeTicker(t *testing.T) {
	fake := Fake(epoch)
	ticker := fake.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for i := 1; i <= 3; i++ {
		fake.Advance(10 * time.Second)
		select {
		case tick := <-ticker.C:
			if want := epoch.Add(time.Duration(i) * 10 * time.Second); !tick.Equal(want) {
				t.Errorf("tick %d at %v, want %v", i, tick, want)
			}
		default:
			t.Fatalf("tick %d not delivered", i)
		}
	}

	ticker.Stop()
	fake.Advance(time.Minute)
	select {
	case <-ticker.C:
		t.Fatal("stopped ticker delivered a tick")
	default:
	}
}

func TestFakeTickerPanicsOnZeroPeriod(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("NewTicker(0) did not panic")
		}
	}()
	Fake(epoch).NewTicker(0)
}

func TestFakeWaitForTimers(t *testing.T) {
	fake := Fake(epoch)
	done := make(chan struct{})
	go func() {
		fake.Sleep(time.Hour)
		close(done)
	}()

	fake.WaitForTimers(1)
	fake.Advance(time.Hour)

	select {
	case <-done:
	case <-time.After(5 * time.Second): //nolint:realclock test hang prevention
		t.Fatal("Sleep did not return after Advance")
	}
}

func TestSince(t *testing.T) {
	fake := Fake(epoch)
	fake.Advance(90 * time.Second)
	if got := Since(fake, epoch); got != 90*time.Second {
		t.Errorf("Since = %v, want 90s", got)
	}
}

func TestSleepContext(t *testing.T) {
	fake := Fake(epoch)
	result := make(chan error, 1)
	go func() { result <- SleepContext(context.Background(), fake, time.Minute) }()
	fake.WaitForTimers(1)
	fake.Advance(time.Minute)
	if err := <-result; err != nil {
		t.Fatalf("SleepContext = %v, want nil", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() { result <- SleepContext(ctx, fake, time.Minute) }()
	fake.WaitForTimers(1)
	cancel()
	if err := <-result; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled SleepContext = %v", err)
	}
	if fake.PendingCount() != 0 {
		t.Fatalf("cancelled SleepContext left %d alarms", fake.PendingCount())
	}
}
