// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package authstore keeps each instance's auth material on disk: the
// root credential produced by pairing, and the transport's named
// session-state keys.
//
// Layout under the configured root:
//
//	<instance-id>/lock             flock held while the instance runs
//	<instance-id>/credentials      sealed root credential
//	<instance-id>/keys/<hash>.key  sealed, lz4-framed CBOR {name, value}
//
// Key files are named by a BLAKE3 keyed hash of the key name so that
// transport-chosen names never reach the filesystem. Every file is
// written atomically (temp file, fsync, rename, directory fsync) and
// sealed with the configured sealed.Sealer.
//
// Two repair levels exist. [Instance.WipeSession] drops every session
// key but keeps the credential (soft repair). [Instance.WipeAll] drops
// the credential too, forcing a new pairing (hard repair and logout).
package authstore
