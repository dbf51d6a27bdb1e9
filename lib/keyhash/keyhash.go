// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package keyhash derives stable, filesystem-safe names from arbitrary
// strings with domain-separated BLAKE3 keyed hashing. Transport session
// keys have names chosen by the transport ("sync.next_batch",
// "device/ABCD:olm") that may contain path separators; authstore stores
// each under the hex digest of its name instead.
package keyhash

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// Domain is a 32-byte BLAKE3 key separating one use of the hash from
// another.
type Domain [32]byte

// NewDomain pads or truncates label into a Domain.
func NewDomain(label string) Domain {
	var domain Domain
	copy(domain[:], label)
	return domain
}

// SessionKeyDomain names transport session key files.
var SessionKeyDomain = NewDomain("switchboard.authstore.key")

// Sum returns the 32-byte keyed digest of data.
func Sum(domain Domain, data []byte) [32]byte {
	hasher, err := blake3.NewKeyed(domain[:])
	if err != nil {
		panic("keyhash: BLAKE3 keyed hash: " + err.Error())
	}
	hasher.Write(data)
	var digest [32]byte
	copy(digest[:], hasher.Sum(nil))
	return digest
}

// Name returns a 32-character lowercase hex name for text.
func Name(domain Domain, text string) string {
	digest := Sum(domain, []byte(text))
	return hex.EncodeToString(digest[:16])
}
