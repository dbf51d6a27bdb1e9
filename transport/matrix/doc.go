// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package matrix implements transport.Dialer over the Matrix
// client-server API.
//
// Pairing is password login: a connection dialed without credentials
// emits EventQR whose challenge names the homeserver, and Pair with a
// user name and password logs in, emits EventCredentials carrying the
// CBOR-encoded access token, and starts syncing. A stored credential
// skips straight to syncing. EventOpen follows the first successful
// /sync.
//
// Addresses are Matrix ids. A user id ("@bob:example.org") names the
// direct conversation with that user, which maps to a room through the
// account's m.direct data (a room is created on first send). A room id
// ("!abc:example.org") names a group.
//
// The session key store holds the sync position and the direct room
// map. Wiping it makes the next connection start with an initial sync,
// which is reported as EventHistory.
//
// A revoked token (M_UNKNOWN_TOKEN) closes the connection with
// ReasonLoggedOut. Other sync failures are retried with backoff and
// close with ReasonConnectionLost after maxSyncRetries consecutive
// failures. End-to-end encrypted events are skipped.
package matrix
