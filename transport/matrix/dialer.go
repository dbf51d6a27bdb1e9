// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package matrix

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bureau-foundation/switchboard/lib/clock"
	"github.com/bureau-foundation/switchboard/lib/codec"
	"github.com/bureau-foundation/switchboard/transport"
)

const (
	// DefaultSyncTimeout is the long-poll hold requested from /sync.
	DefaultSyncTimeout = 30 * time.Second

	// DefaultPairingTimeout bounds how long a connection waits for
	// Pair before closing with ReasonPairingExpired.
	DefaultPairingTimeout = 10 * time.Minute
)

// Config configures a Dialer.
type Config struct {
	// Homeserver is the base URL of the client-server API, e.g.
	// "https://matrix.example.org".
	Homeserver string

	// ServerName qualifies bare localparts in ParseAddress ("alice"
	// becomes "@alice:<ServerName>"). Empty disables bare localparts.
	ServerName string

	// DeviceName is the display name given to devices created by Pair.
	DeviceName string

	// SyncTimeout defaults to DefaultSyncTimeout.
	SyncTimeout time.Duration

	// PairingTimeout defaults to DefaultPairingTimeout. Negative
	// waits forever.
	PairingTimeout time.Duration

	// HTTPClient defaults to a client without an overall timeout;
	// requests are bounded by their contexts.
	HTTPClient *http.Client

	Clock clock.Clock
}

// Dialer opens Matrix connections.
type Dialer struct {
	config Config
}

// NewDialer validates config and returns a Dialer.
func NewDialer(config Config) (*Dialer, error) {
	if config.Homeserver == "" {
		return nil, fmt.Errorf("matrix: homeserver is required")
	}
	if _, err := url.Parse(config.Homeserver); err != nil {
		return nil, fmt.Errorf("matrix: invalid homeserver %q: %w", config.Homeserver, err)
	}
	config.Homeserver = strings.TrimRight(config.Homeserver, "/")
	if config.DeviceName == "" {
		config.DeviceName = "switchboard"
	}
	if config.SyncTimeout <= 0 {
		config.SyncTimeout = DefaultSyncTimeout
	}
	if config.PairingTimeout == 0 {
		config.PairingTimeout = DefaultPairingTimeout
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	return &Dialer{config: config}, nil
}

// Name implements transport.Dialer.
func (d *Dialer) Name() string { return "matrix" }

// credentials is the CBOR-encoded root credential handed to the
// authstore after a successful Pair.
type credentials struct {
	Homeserver  string `cbor:"homeserver"`
	UserID      string `cbor:"user_id"`
	DeviceID    string `cbor:"device_id"`
	AccessToken string `cbor:"access_token"`
}

func decodeCredentials(raw transport.Credentials) (credentials, error) {
	var creds credentials
	if err := codec.Unmarshal(raw, &creds); err != nil {
		return creds, fmt.Errorf("decoding credentials: %w", err)
	}
	if creds.AccessToken == "" || creds.UserID == "" {
		return creds, fmt.Errorf("decoding credentials: missing user id or access token")
	}
	return creds, nil
}

// Dial implements transport.Dialer. It makes no requests itself: the
// first sync reports whether the credential still works.
func (d *Dialer) Dial(ctx context.Context, options transport.DialOptions) (transport.Conn, error) {
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	conn := newConn(d, options.Keys, logger)
	if options.Credentials == nil {
		go conn.run(nil)
		return conn, nil
	}
	creds, err := decodeCredentials(options.Credentials)
	if err != nil {
		return nil, fmt.Errorf("matrix: dial: %w", err)
	}
	homeserver := creds.Homeserver
	if homeserver == "" {
		homeserver = d.config.Homeserver
	}
	session := &client{
		baseURL:    homeserver,
		httpClient: d.config.HTTPClient,
		token:      creds.AccessToken,
		userID:     creds.UserID,
		deviceID:   creds.DeviceID,
	}
	conn.setSession(session)
	go conn.run(session)
	return conn, nil
}

// ParseAddress accepts "@user:server" user ids, "!room:server" room
// ids, and bare localparts when ServerName is configured. Room aliases
// must be resolved by the caller.
func (d *Dialer) ParseAddress(text string) (transport.Address, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: empty", transport.ErrInvalidAddress)
	}
	switch text[0] {
	case '@':
		local, server, found := strings.Cut(text[1:], ":")
		if !found || !validLocalpart(local) || server == "" {
			return "", fmt.Errorf("%w: %q is not a user id", transport.ErrInvalidAddress, text)
		}
		return transport.Address(text), nil
	case '!':
		if len(text) < 2 || strings.ContainsAny(text, " \t") {
			return "", fmt.Errorf("%w: %q is not a room id", transport.ErrInvalidAddress, text)
		}
		return transport.Address(text), nil
	case '#':
		return "", fmt.Errorf("%w: room alias %q must be resolved to a room id", transport.ErrInvalidAddress, text)
	}
	if d.config.ServerName == "" || !validLocalpart(strings.ToLower(text)) {
		return "", fmt.Errorf("%w: %q", transport.ErrInvalidAddress, text)
	}
	return transport.Address("@" + strings.ToLower(text) + ":" + d.config.ServerName), nil
}

// IsGroup implements transport.Dialer: rooms are groups, users are
// direct conversations.
func (d *Dialer) IsGroup(address transport.Address) bool {
	return strings.HasPrefix(string(address), "!")
}

func validLocalpart(local string) bool {
	if local == "" {
		return false
	}
	for _, r := range local {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		case strings.ContainsRune("._=-/+", r):
		default:
			return false
		}
	}
	return true
}
