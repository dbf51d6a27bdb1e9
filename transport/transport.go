// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"log/slog"
)

// Dialer opens connections for one network.
type Dialer interface {
	// Name identifies the network in logs and configuration
	// ("matrix", "memory").
	Name() string

	// Dial starts a connection. With nil Credentials the connection
	// begins pairing and emits EventQR. Dial returns once the
	// connection is established enough to deliver events; EventOpen
	// follows asynchronously.
	Dial(ctx context.Context, options DialOptions) (Conn, error)

	// ParseAddress validates and normalizes a user-supplied address.
	// Malformed input returns an error wrapping ErrInvalidAddress.
	ParseAddress(text string) (Address, error)

	// IsGroup reports whether address names a multi-party
	// conversation.
	IsGroup(address Address) bool
}

// DialOptions carries per-instance state into Dial.
type DialOptions struct {
	// Credentials is the root credential from a previous pairing, or
	// nil.
	Credentials Credentials

	// Keys persists session-sync state between connections. Soft
	// repair empties it; the credential is stored separately.
	Keys KeyStore

	// Logger is already scoped to the instance and wrapped with
	// NewSymptomHandler.
	Logger *slog.Logger
}

// Credentials is the transport's opaque root credential.
type Credentials []byte

// KeyStore holds named session-state blobs for one instance.
type KeyStore interface {
	// Get returns ok=false when name has no value.
	Get(name string) (value []byte, ok bool, err error)
	Put(name string, value []byte) error
	Delete(name string) error
}

// Conn is one live connection. See the package documentation for the
// event and concurrency contract.
type Conn interface {
	Events() <-chan Event

	// Pair answers the current pairing challenge.
	Pair(ctx context.Context, response PairingResponse) error

	// Send delivers content and returns the network's message id.
	Send(ctx context.Context, target Address, content Content) (string, error)

	// FetchHistoryPage returns up to pageSize messages of conversation
	// strictly older than anchor, in any order. A zero anchor starts
	// from the newest message. An empty result means no older history
	// exists.
	FetchHistoryPage(ctx context.Context, conversation Address, pageSize int, anchor Anchor) ([]Message, error)

	SetChatFlags(ctx context.Context, target Address, change ChatChange) error

	GroupCreate(ctx context.Context, subject string, participants []Address) (GroupInfo, error)
	GroupUpdateSubject(ctx context.Context, group Address, subject string) error
	GroupUpdateDescription(ctx context.Context, group Address, description string) error
	GroupParticipantsUpdate(ctx context.Context, group Address, participants []Address, action ParticipantAction) error
	GroupMetadata(ctx context.Context, group Address) (GroupInfo, error)

	// ProfilePictureURL returns ErrNotFound when target has no
	// picture or hides it.
	ProfilePictureURL(ctx context.Context, target Address, resolution PictureResolution) (string, error)

	// ProfileName returns the self-declared display name of a user.
	ProfileName(ctx context.Context, target Address) (string, error)

	SetPrivacySetting(ctx context.Context, setting PrivacySetting) error
	SetPresence(ctx context.Context, presence Presence) error

	// Logout revokes the credential on the network. The connection
	// then closes with ReasonLoggedOut.
	Logout(ctx context.Context) error

	// Close tears the connection down locally. The credential stays
	// valid.
	Close() error
}

// PairingResponse answers a pairing challenge. What the fields mean is
// transport specific: the Matrix transport treats them as a user name
// and password.
type PairingResponse struct {
	Account string
	Secret  string
}
