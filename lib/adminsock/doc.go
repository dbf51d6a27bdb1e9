// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package adminsock is the daemon's administrative protocol: one CBOR
// request and one CBOR response per Unix socket connection.
//
// A request is a CBOR map with an "action" key plus action-specific
// fields. The response is {ok, error, code, data}: on success data
// holds the handler's CBOR-encoded result; on failure error holds the
// message and code an optional stable classification (for example
// "unknown_instance") that clients can branch on.
//
// The socket is created mode 0600. Access control is the file mode;
// the protocol itself carries no credentials.
package adminsock
