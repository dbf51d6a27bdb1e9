// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package window

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// minutesPerDay bounds ClockTime.
const minutesPerDay = 24 * 60

// ClockTime is a wall-clock time of day in minutes after midnight.
type ClockTime int

// ParseClock parses "HH:MM" (24-hour). A single-digit hour is accepted.
func ParseClock(text string) (ClockTime, error) {
	hourText, minuteText, found := strings.Cut(strings.TrimSpace(text), ":")
	if !found {
		return 0, fmt.Errorf("window: time %q is not HH:MM", text)
	}
	hour, err := strconv.Atoi(hourText)
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("window: hour in %q out of range 0-23", text)
	}
	if len(minuteText) != 2 {
		return 0, fmt.Errorf("window: minute in %q must have two digits", text)
	}
	minute, err := strconv.Atoi(minuteText)
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("window: minute in %q out of range 0-59", text)
	}
	return ClockTime(hour*60 + minute), nil
}

// ClockOf returns the time of day of t in t's location.
func ClockOf(t time.Time) ClockTime {
	return ClockTime(t.Hour()*60 + t.Minute())
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// Window is a recurring daily interval.
type Window struct {
	Start ClockTime
	End   ClockTime
	// Days restricts the window to the listed weekdays. The zero value
	// means every day.
	Days Days
}

// Parse builds a Window from "HH:MM" start and end strings.
func Parse(start, end string, days Days) (Window, error) {
	startClock, err := ParseClock(start)
	if err != nil {
		return Window{}, fmt.Errorf("window: start: %w", err)
	}
	endClock, err := ParseClock(end)
	if err != nil {
		return Window{}, fmt.Errorf("window: end: %w", err)
	}
	return Window{Start: startClock, End: endClock, Days: days}, nil
}

// Overnight reports whether the window wraps past midnight.
func (w Window) Overnight() bool { return w.Start > w.End }

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	if !w.Days.Empty() && !w.Days.Has(t.Weekday()) {
		return false
	}
	now := ClockOf(t)
	switch {
	case w.Start == w.End:
		return true
	case w.Overnight():
		return now >= w.Start || now < w.End
	default:
		return now >= w.Start && now < w.End
	}
}

// Duration is the length of one occurrence of the window.
func (w Window) Duration() time.Duration {
	minutes := int(w.End - w.Start)
	if minutes <= 0 {
		minutes += minutesPerDay
	}
	return time.Duration(minutes) * time.Minute
}

func (w Window) String() string {
	if w.Days.Empty() {
		return w.Start.String() + "-" + w.End.String()
	}
	return w.Start.String() + "-" + w.End.String() + " " + w.Days.String()
}
