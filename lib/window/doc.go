// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package window evaluates recurring daily time windows such as
// "22:30-07:00 on weekdays".
//
// A [Window] is a start and end wall-clock time plus an optional set of
// weekdays. Start is inclusive and end is exclusive. A start later than
// the end wraps past midnight, and equal start and end covers the whole
// day. Membership is evaluated in whatever location the time passed to
// [Window.Contains] carries; the weekday is that of the instant being
// tested, so the early-morning half of an overnight window belongs to
// the following day's weekday.
package window
