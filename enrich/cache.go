// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package enrich

import (
	"sync"
	"time"

	"github.com/bureau-foundation/switchboard/transport"
)

// ttlCache remembers a resolved value, including the empty value for
// "the network has none", until ttl has passed.
type ttlCache struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[transport.Address]cacheEntry
}

type cacheEntry struct {
	value string
	at    time.Time
}

func newTTLCache(ttl time.Duration) *ttlCache {
	return &ttlCache{ttl: ttl, entries: make(map[transport.Address]cacheEntry)}
}

func (c *ttlCache) get(address transport.Address, now time.Time) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[address]
	if !ok {
		return "", false
	}
	if now.Sub(entry.at) >= c.ttl {
		delete(c.entries, address)
		return "", false
	}
	return entry.value, true
}

func (c *ttlCache) put(address transport.Address, value string, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[address] = cacheEntry{value: value, at: at}
}

func (c *ttlCache) forget(address transport.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, address)
}
