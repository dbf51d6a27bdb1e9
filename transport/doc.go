// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport defines the boundary between Switchboard and a
// messaging network's wire protocol.
//
// A [Dialer] opens one [Conn] per instance. The connection reports
// everything that happens on the network as [Event] values on
// [Conn.Events]: pairing challenges, open and close, message batches,
// presence, receipts, history snapshots, contact lists, rotated
// credentials, and suspected session corruption. The channel is closed
// when the connection ends, whether the network closed it (an
// EventClose precedes the channel close) or the owner called
// [Conn.Close] (no EventClose is sent).
//
// Request methods on Conn are not safe for concurrent use; Switchboard
// only calls them from an instance's command queue, one at a time.
//
// Session corruption arrives two ways. Adapters that can detect it
// emit EventCorruption directly. Adapters built on libraries that only
// log their decryption failures get a logger whose handler is wrapped
// by [NewSymptomHandler], which classifies warning and error records
// with [ClassifyCorruption].
//
// Implementations: transport/matrix (Matrix client-server API) and
// transport/memory (scripted, in-process).
package transport
