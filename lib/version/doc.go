// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports the build version of the Switchboard
// binaries, from -ldflags when set and otherwise from the Go build
// info.
package version
