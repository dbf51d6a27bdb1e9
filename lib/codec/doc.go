// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec is Switchboard's single CBOR configuration. Settings
// values in the store, telemetry frames and the admin socket protocol
// all encode through it so that equal values produce equal bytes.
package codec
