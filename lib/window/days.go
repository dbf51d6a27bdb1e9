// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package window

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Days is a set of weekdays, one bit per time.Weekday.
type Days uint8

var dayNames = [7]string{"sun", "mon", "tue", "wed", "thu", "fri", "sat"}

// DaysOf builds a set from weekdays.
func DaysOf(weekdays ...time.Weekday) Days {
	var days Days
	for _, weekday := range weekdays {
		days |= 1 << uint(weekday)
	}
	return days
}

// DaysFromInts builds a set from integers 0 (Sunday) through 6.
func DaysFromInts(values []int) (Days, error) {
	var days Days
	for _, value := range values {
		if value < 0 || value > 6 {
			return 0, fmt.Errorf("window: weekday %d out of range 0-6", value)
		}
		days |= 1 << uint(value)
	}
	return days, nil
}

// ParseDays parses a comma-separated list of weekday terms. A term is
// a day ("mon", "3") or an inclusive range ("mon-fri", "1-5"). A range
// whose end precedes its start wraps through Saturday ("fri-mon").
// The empty string is the empty set.
func ParseDays(text string) (Days, error) {
	var days Days
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, nil
	}
	for _, term := range strings.Split(text, ",") {
		term = strings.TrimSpace(term)
		lowText, highText, isRange := strings.Cut(term, "-")
		low, err := parseDay(lowText)
		if err != nil {
			return 0, err
		}
		if !isRange {
			days |= 1 << uint(low)
			continue
		}
		high, err := parseDay(highText)
		if err != nil {
			return 0, err
		}
		for day := low; ; day = (day + 1) % 7 {
			days |= 1 << uint(day)
			if day == high {
				break
			}
		}
	}
	return days, nil
}

func parseDay(text string) (int, error) {
	text = strings.ToLower(strings.TrimSpace(text))
	if number, err := strconv.Atoi(text); err == nil {
		if number < 0 || number > 6 {
			return 0, fmt.Errorf("window: weekday %d out of range 0-6", number)
		}
		return number, nil
	}
	if len(text) >= 3 {
		for index, name := range dayNames {
			if text[:3] == name {
				return index, nil
			}
		}
	}
	return 0, fmt.Errorf("window: unknown weekday %q", text)
}

// Has reports whether weekday is in the set.
func (d Days) Has(weekday time.Weekday) bool { return d&(1<<uint(weekday)) != 0 }

// Empty reports whether the set has no days.
func (d Days) Empty() bool { return d&0x7f == 0 }

// Ints lists the set as integers 0 (Sunday) through 6.
func (d Days) Ints() []int {
	var values []int
	for day := 0; day < 7; day++ {
		if d&(1<<uint(day)) != 0 {
			values = append(values, day)
		}
	}
	return values
}

func (d Days) String() string {
	names := make([]string, 0, 7)
	for _, day := range d.Ints() {
		names = append(names, dayNames[day])
	}
	return strings.Join(names, ",")
}
