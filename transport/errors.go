// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import "errors"

var (
	// ErrInvalidAddress marks malformed addresses.
	ErrInvalidAddress = errors.New("transport: invalid address")

	// ErrNotFound is returned for lookups of things the network does
	// not have or will not show (profile pictures, names, groups).
	ErrNotFound = errors.New("transport: not found")

	// ErrClosed is returned by request methods after the connection
	// has ended.
	ErrClosed = errors.New("transport: connection closed")

	// ErrNoChallenge is returned by Pair when no pairing is pending.
	ErrNoChallenge = errors.New("transport: no pairing challenge pending")
)
