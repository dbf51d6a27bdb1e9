// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package enrich resolves profile pictures and display names in the
// background.
//
// Lookups run through the instance's command queue at LOW priority.
// Concurrent lookups of one address share a single network request,
// and results (including "none") are cached for a TTL both in memory
// and in the store, so an address is asked about at most once per TTL.
// Requests queued with Request drain one at a time, spaced by the
// queue's adaptive delay so foreground load slows enrichment down.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/bureau-foundation/switchboard/lib/clock"
	"github.com/bureau-foundation/switchboard/store"
	"github.com/bureau-foundation/switchboard/traffic"
	"github.com/bureau-foundation/switchboard/transport"
)

const (
	// DefaultTTL is how long a lookup result stays fresh.
	DefaultTTL = 24 * time.Hour

	// DefaultSpacing is the pause between drained requests before
	// adaptive scaling.
	DefaultSpacing = 2 * time.Second
)

// Config is shared by ProfilePictures and Names.
type Config struct {
	InstanceID int64
	Store      *store.Store
	Queue      *traffic.Queue

	// IsGroup classifies addresses; see transport.Dialer.IsGroup.
	IsGroup func(transport.Address) bool

	TTL     time.Duration
	Spacing time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

func (cfg *Config) setDefaults() {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Spacing <= 0 {
		cfg.Spacing = DefaultSpacing
	}
	if cfg.IsGroup == nil {
		cfg.IsGroup = func(transport.Address) bool { return false }
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
}

// ProfilePictures resolves preview picture URLs.
type ProfilePictures struct {
	cfg    Config
	cache  *ttlCache
	flight singleflight.Group
	lane   *lane
}

// NewProfilePictures returns an idle resolver; start Run to drain
// Request calls.
func NewProfilePictures(cfg Config) *ProfilePictures {
	cfg.setDefaults()
	p := &ProfilePictures{cfg: cfg, cache: newTTLCache(cfg.TTL)}
	p.lane = newLane("profile_pictures", cfg.Queue, cfg.Spacing, cfg.Clock, cfg.Logger, func(ctx context.Context, address transport.Address) error {
		_, err := p.Fetch(ctx, address)
		return err
	})
	return p
}

// Request queues a background lookup of address. Addresses with a
// fresh cached result, or already queued, are skipped. It reports
// whether a lookup was queued.
func (p *ProfilePictures) Request(address transport.Address) bool {
	if _, ok := p.cache.get(address, p.cfg.Clock.Now()); ok {
		return false
	}
	return p.lane.push(address)
}

// Pending returns the number of queued requests.
func (p *ProfilePictures) Pending() int { return p.lane.depth() }

// Run drains requests until ctx is done.
func (p *ProfilePictures) Run(ctx context.Context) { p.lane.run(ctx) }

// Fetch returns the picture URL of address, "" when it has none,
// looking it up on the network only when no fresh result is cached.
func (p *ProfilePictures) Fetch(ctx context.Context, address transport.Address) (string, error) {
	now := p.cfg.Clock.Now()
	if url, ok := p.cache.get(address, now); ok {
		return url, nil
	}
	conversation, err := p.cfg.Store.Conversation(ctx, p.cfg.InstanceID, address)
	switch {
	case err == nil && !conversation.AvatarFetchedAt.IsZero() && now.Sub(conversation.AvatarFetchedAt) < p.cfg.TTL:
		p.cache.put(address, conversation.AvatarURL, conversation.AvatarFetchedAt)
		return conversation.AvatarURL, nil
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return "", fmt.Errorf("enrich: %w", err)
	}

	result, err := shared(ctx, &p.flight, string(address), func() (any, error) {
		url, err := traffic.Do(ctx, p.cfg.Queue, traffic.Low, func(ctx context.Context, conn traffic.Conn) (string, error) {
			return conn.ProfilePictureURL(ctx, address, transport.PicturePreview)
		})
		if errors.Is(err, transport.ErrNotFound) {
			url, err = "", nil
		}
		if err != nil {
			return "", err
		}
		fetchedAt := p.cfg.Clock.Now()
		p.cache.put(address, url, fetchedAt)
		err = p.cfg.Store.SetAvatar(ctx, p.cfg.InstanceID, address, url, fetchedAt)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			p.cfg.Logger.Warn("saving profile picture failed", "address", string(address), "error", err)
		}
		return url, nil
	})
	if err != nil {
		return "", fmt.Errorf("enrich: profile picture of %s: %w", address, err)
	}
	return result.(string), nil
}

// shared runs fn once per key among concurrent callers. Each caller
// stops waiting when its own ctx ends, even if the lookup it joined is
// still running.
func shared(ctx context.Context, group *singleflight.Group, key string, fn func() (any, error)) (any, error) {
	select {
	case result := <-group.DoChan(key, fn):
		return result.Val, result.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Names resolves display names of conversations and contacts.
type Names struct {
	cfg    Config
	cache  *ttlCache
	flight singleflight.Group
	lane   *lane
}

// NewNames returns an idle resolver; start Run to drain Request calls.
func NewNames(cfg Config) *Names {
	cfg.setDefaults()
	n := &Names{cfg: cfg, cache: newTTLCache(cfg.TTL)}
	n.lane = newLane("names", cfg.Queue, cfg.Spacing, cfg.Clock, cfg.Logger, func(ctx context.Context, address transport.Address) error {
		_, err := n.Resolve(ctx, address)
		return err
	})
	return n
}

// Request queues a background resolution of address and reports
// whether it was queued.
func (n *Names) Request(address transport.Address) bool {
	if _, ok := n.cache.get(address, n.cfg.Clock.Now()); ok {
		return false
	}
	return n.lane.push(address)
}

// Pending returns the number of queued requests.
func (n *Names) Pending() int { return n.lane.depth() }

// Run drains requests until ctx is done.
func (n *Names) Run(ctx context.Context) { n.lane.run(ctx) }

// Forget drops the cached result for address, so the next Resolve
// looks again.
func (n *Names) Forget(address transport.Address) { n.cache.forget(address) }

// Resolve returns a display name for address, "" when none is known,
// and records it on the conversation. Groups use the group subject.
// Individuals use, in order, the address book name, a sender name seen
// in message history, and the network profile name; only the last
// costs a network request. Once an individual's name is known, message
// sender names recorded as raw addresses are rewritten.
func (n *Names) Resolve(ctx context.Context, address transport.Address) (string, error) {
	if name, ok := n.cache.get(address, n.cfg.Clock.Now()); ok {
		if name != "" {
			// The conversation may have been recreated without a name
			// since the result was cached.
			n.record(ctx, address, name)
		}
		return name, nil
	}
	result, err := shared(ctx, &n.flight, string(address), func() (any, error) {
		var name string
		var err error
		if n.cfg.IsGroup(address) {
			name, err = n.groupName(ctx, address)
		} else {
			name, err = n.contactName(ctx, address)
		}
		if err != nil {
			return "", err
		}
		n.cache.put(address, name, n.cfg.Clock.Now())
		if name != "" {
			n.record(ctx, address, name)
		}
		return name, nil
	})
	if err != nil {
		return "", fmt.Errorf("enrich: name of %s: %w", address, err)
	}
	return result.(string), nil
}

func (n *Names) groupName(ctx context.Context, group transport.Address) (string, error) {
	info, err := traffic.Do(ctx, n.cfg.Queue, traffic.Low, func(ctx context.Context, conn traffic.Conn) (transport.GroupInfo, error) {
		return conn.GroupMetadata(ctx, group)
	})
	if errors.Is(err, transport.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if transport.LooksLikeAddress(info.Subject) {
		return "", nil
	}
	return info.Subject, nil
}

func (n *Names) contactName(ctx context.Context, address transport.Address) (string, error) {
	contact, err := n.cfg.Store.Contact(ctx, n.cfg.InstanceID, address)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return "", err
	}
	if name := contact.DisplayName(); name != "" {
		return name, nil
	}

	name, err := n.cfg.Store.KnownSenderName(ctx, n.cfg.InstanceID, address)
	if err != nil {
		return "", err
	}
	if name != "" {
		return name, nil
	}

	name, err = traffic.Do(ctx, n.cfg.Queue, traffic.Low, func(ctx context.Context, conn traffic.Conn) (string, error) {
		return conn.ProfileName(ctx, address)
	})
	if errors.Is(err, transport.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if transport.LooksLikeAddress(name) {
		return "", nil
	}
	if err := n.cfg.Store.UpsertContacts(ctx, n.cfg.InstanceID, []transport.Contact{{Address: address, PushName: name}}); err != nil {
		n.cfg.Logger.Warn("saving profile name failed", "address", string(address), "error", err)
	}
	return name, nil
}

func (n *Names) record(ctx context.Context, address transport.Address, name string) {
	logger := n.cfg.Logger.With("address", string(address))
	if err := n.cfg.Store.SetConversationName(ctx, n.cfg.InstanceID, address, name); err != nil && !errors.Is(err, store.ErrNotFound) {
		logger.Warn("saving conversation name failed", "error", err)
	}
	if n.cfg.IsGroup(address) {
		return
	}
	repaired, err := n.cfg.Store.RepairSenderNames(ctx, n.cfg.InstanceID, address, name)
	if err != nil {
		logger.Warn("repairing sender names failed", "error", err)
		return
	}
	if repaired > 0 {
		logger.Info("sender names repaired", "messages", repaired)
	}
}
