// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package window

import (
	"testing"
	"time"
)

// monday is 2026-03-02, a Monday.
func at(weekdayOffset, hour, minute int) time.Time {
	return time.Date(2026, 3, 2+weekdayOffset, hour, minute, 0, 0, time.UTC)
}

func mustParse(t *testing.T, start, end string, days Days) Window {
	t.Helper()
	w, err := Parse(start, end, days)
	if err != nil {
		t.Fatalf("Parse(%q, %q): %v", start, end, err)
	}
	return w
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		input   string
		want    ClockTime
		wantErr bool
	}{
		{"00:00", 0, false},
		{"07:30", 7*60 + 30, false},
		{"7:05", 7*60 + 5, false},
		{"23:59", 23*60 + 59, false},
		{"24:00", 0, true},
		{"12:60", 0, true},
		{"12:5", 0, true},
		{"1230", 0, true},
		{"", 0, true},
	}
	for _, test := range tests {
		t.Run(test.input, func(t *testing.T) {
			got, err := ParseClock(test.input)
			if test.wantErr {
				if err == nil {
					t.Fatalf("ParseClock(%q) = %v, want error", test.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseClock(%q): %v", test.input, err)
			}
			if got != test.want {
				t.Errorf("ParseClock(%q) = %v, want %v", test.input, got, test.want)
			}
		})
	}
}

func TestContainsDaytime(t *testing.T) {
	w := mustParse(t, "09:00", "17:00", 0)
	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"before start", at(0, 8, 59), false},
		{"at start", at(0, 9, 0), true},
		{"midday", at(0, 12, 0), true},
		{"last minute", at(0, 16, 59), true},
		{"at end", at(0, 17, 0), false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := w.Contains(test.at); got != test.want {
				t.Errorf("Contains(%v) = %v, want %v", test.at, got, test.want)
			}
		})
	}
}

func TestContainsOvernight(t *testing.T) {
	w := mustParse(t, "22:00", "07:00", 0)
	if !w.Overnight() {
		t.Fatal("22:00-07:00 should be overnight")
	}
	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"evening before", at(0, 21, 59), false},
		{"at start", at(0, 22, 0), true},
		{"midnight", at(1, 0, 0), true},
		{"early morning", at(1, 6, 59), true},
		{"at end", at(1, 7, 0), false},
		{"midday", at(1, 12, 0), false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := w.Contains(test.at); got != test.want {
				t.Errorf("Contains(%v) = %v, want %v", test.at, got, test.want)
			}
		})
	}
}

func TestContainsRespectsDays(t *testing.T) {
	w := mustParse(t, "09:00", "17:00", DaysOf(time.Monday, time.Wednesday))
	if !w.Contains(at(0, 10, 0)) {
		t.Error("Monday 10:00 should be inside")
	}
	if w.Contains(at(1, 10, 0)) {
		t.Error("Tuesday 10:00 should be outside")
	}
	if !w.Contains(at(2, 10, 0)) {
		t.Error("Wednesday 10:00 should be inside")
	}
}

func TestContainsEqualBoundsIsWholeDay(t *testing.T) {
	w := mustParse(t, "00:00", "00:00", 0)
	for hour := 0; hour < 24; hour++ {
		if !w.Contains(at(0, hour, 30)) {
			t.Fatalf("00:00-00:00 does not contain %02d:30", hour)
		}
	}
	if w.Duration() != 24*time.Hour {
		t.Errorf("Duration = %v, want 24h", w.Duration())
	}
}

func TestContainsUsesLocation(t *testing.T) {
	zone := time.FixedZone("UTC+3", 3*60*60)
	w := mustParse(t, "09:00", "10:00", 0)
	instant := time.Date(2026, 3, 2, 6, 30, 0, 0, time.UTC)
	if w.Contains(instant) {
		t.Error("06:30 UTC should be outside 09:00-10:00 when evaluated in UTC")
	}
	if !w.Contains(instant.In(zone)) {
		t.Error("06:30 UTC is 09:30 in UTC+3 and should be inside")
	}
}

func TestDuration(t *testing.T) {
	if got := mustParse(t, "22:00", "07:00", 0).Duration(); got != 9*time.Hour {
		t.Errorf("overnight Duration = %v, want 9h", got)
	}
	if got := mustParse(t, "09:15", "10:00", 0).Duration(); got != 45*time.Minute {
		t.Errorf("Duration = %v, want 45m", got)
	}
}

func TestParseDays(t *testing.T) {
	tests := []struct {
		input   string
		want    []int
		wantErr bool
	}{
		{"", nil, false},
		{"mon", []int{1}, false},
		{"Monday,fri", []int{1, 5}, false},
		{"mon-fri", []int{1, 2, 3, 4, 5}, false},
		{"fri-mon", []int{0, 1, 5, 6}, false},
		{"0,6", []int{0, 6}, false},
		{"1-3", []int{1, 2, 3}, false},
		{"7", nil, true},
		{"funday", nil, true},
	}
	for _, test := range tests {
		t.Run(test.input, func(t *testing.T) {
			days, err := ParseDays(test.input)
			if test.wantErr {
				if err == nil {
					t.Fatalf("ParseDays(%q) = %v, want error", test.input, days)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseDays(%q): %v", test.input, err)
			}
			got := days.Ints()
			if len(got) != len(test.want) {
				t.Fatalf("ParseDays(%q) = %v, want %v", test.input, got, test.want)
			}
			for i := range got {
				if got[i] != test.want[i] {
					t.Fatalf("ParseDays(%q) = %v, want %v", test.input, got, test.want)
				}
			}
		})
	}
}

func TestDaysFromInts(t *testing.T) {
	days, err := DaysFromInts([]int{1, 3})
	if err != nil {
		t.Fatal(err)
	}
	if days != DaysOf(time.Monday, time.Wednesday) {
		t.Errorf("DaysFromInts = %v", days)
	}
	if days.String() != "mon,wed" {
		t.Errorf("String = %q, want mon,wed", days.String())
	}
	if _, err := DaysFromInts([]int{9}); err == nil {
		t.Error("DaysFromInts accepted 9")
	}
}
