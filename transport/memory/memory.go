// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package memory is an in-process transport for tests and for running
// the daemon without a network (--transport=memory).
//
// A [Dialer] hands out [Conn] values that tests drive directly: Emit
// pushes events to the instance, SetHistory/SetGroup/SetPicture script
// what request methods return, FailNext injects errors, Hold blocks
// request methods to simulate an in-flight network call, and Calls
// records every request made.
//
// Addresses are "local@s.test" for users and "local@g.test" for groups.
// Bare digits are accepted and normalized to a user address.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bureau-foundation/switchboard/transport"
)

const (
	UserServer  = "s.test"
	GroupServer = "g.test"
)

// User returns the user address for local.
func User(local string) transport.Address { return transport.Address(local + "@" + UserServer) }

// Group returns the group address for local.
func Group(local string) transport.Address { return transport.Address(local + "@" + GroupServer) }

// Dialer creates scripted connections.
type Dialer struct {
	// ManualOpen stops Dial from emitting EventOpen for credentialed
	// connections; the test calls Conn.Open instead.
	ManualOpen bool

	mu         sync.Mutex
	conns      []*Conn
	dialErrors []error
	challenges int
	dialed     chan *Conn
}

// NewDialer returns a Dialer whose credentialed connections open
// immediately.
func NewDialer() *Dialer {
	return &Dialer{dialed: make(chan *Conn, 64)}
}

var _ transport.Dialer = (*Dialer)(nil)

func (d *Dialer) Name() string { return "memory" }

// FailNextDial makes the next Dial return err.
func (d *Dialer) FailNextDial(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dialErrors = append(d.dialErrors, err)
}

// Dialed delivers every connection as it is created.
func (d *Dialer) Dialed() <-chan *Conn { return d.dialed }

// Conns returns every connection created so far.
func (d *Dialer) Conns() []*Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Conn(nil), d.conns...)
}

// Latest returns the most recent connection, or nil.
func (d *Dialer) Latest() *Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func (d *Dialer) Dial(ctx context.Context, options transport.DialOptions) (transport.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	if len(d.dialErrors) > 0 {
		err := d.dialErrors[0]
		d.dialErrors = d.dialErrors[1:]
		d.mu.Unlock()
		return nil, err
	}
	conn := newConn(options)
	d.conns = append(d.conns, conn)
	challenge := ""
	if len(options.Credentials) == 0 {
		d.challenges++
		challenge = fmt.Sprintf("memory-pair-%d", d.challenges)
	}
	manual := d.ManualOpen
	d.mu.Unlock()

	if challenge != "" {
		conn.mu.Lock()
		conn.challenge = challenge
		conn.mu.Unlock()
		conn.Emit(transport.Event{Kind: transport.EventQR, Challenge: challenge})
	} else if !manual {
		conn.Open()
	}

	select {
	case d.dialed <- conn:
	default:
	}
	return conn, nil
}

func (d *Dialer) ParseAddress(text string) (transport.Address, error) {
	text = strings.TrimSpace(text)
	if text != "" && strings.Trim(text, "0123456789") == "" {
		return User(text), nil
	}
	local, server, found := strings.Cut(text, "@")
	if !found || local == "" || strings.ContainsAny(local, " \t@") {
		return "", fmt.Errorf("%w: %q", transport.ErrInvalidAddress, text)
	}
	if server != UserServer && server != GroupServer {
		return "", fmt.Errorf("%w: %q has unknown server %q", transport.ErrInvalidAddress, text, server)
	}
	return transport.Address(text), nil
}

func (d *Dialer) IsGroup(address transport.Address) bool {
	return strings.HasSuffix(string(address), "@"+GroupServer)
}

// Call records one request method invocation.
type Call struct {
	Method string
	Target transport.Address
	Args   any
}

// Conn is a scripted connection.
type Conn struct {
	options transport.DialOptions
	events  chan transport.Event

	mu        sync.Mutex
	closed    bool
	challenge string
	calls     []Call
	failures  map[string][]error
	hold      chan struct{}
	nextID    int

	history  map[transport.Address][]transport.Message
	groups   map[transport.Address]transport.GroupInfo
	pictures map[transport.Address]string
	names    map[transport.Address]string
}

var _ transport.Conn = (*Conn)(nil)

func newConn(options transport.DialOptions) *Conn {
	return &Conn{
		options:  options,
		events:   make(chan transport.Event, 256),
		failures: make(map[string][]error),
		history:  make(map[transport.Address][]transport.Message),
		groups:   make(map[transport.Address]transport.GroupInfo),
		pictures: make(map[transport.Address]string),
		names:    make(map[transport.Address]string),
	}
}

// Options returns what Dial was called with.
func (c *Conn) Options() transport.DialOptions { return c.options }

func (c *Conn) Events() <-chan transport.Event { return c.events }

// Emit delivers an event unless the connection is closed.
func (c *Conn) Emit(event transport.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.events <- event
}

// Open emits EventOpen.
func (c *Conn) Open() { c.Emit(transport.Event{Kind: transport.EventOpen}) }

// Disconnect emits EventClose with info and ends the connection.
func (c *Conn) Disconnect(info transport.CloseInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.events <- transport.Event{Kind: transport.EventClose, Close: info}
	c.closed = true
	close(c.events)
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.events)
	}
	if c.hold != nil {
		close(c.hold)
		c.hold = nil
	}
	return nil
}

// Closed reports whether the connection has ended.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// FailNext makes the next call to method return err.
func (c *Conn) FailNext(method string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[method] = append(c.failures[method], err)
}

// Hold makes request methods block until the returned release func is
// called, their context ends, or the connection closes. The call is
// recorded before it blocks.
func (c *Conn) Hold() (release func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	hold := make(chan struct{})
	c.hold = hold
	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			if c.hold == hold {
				close(hold)
				c.hold = nil
			}
			c.mu.Unlock()
		})
	}
}

// Calls returns the recorded calls, optionally filtered by method.
func (c *Conn) Calls(methods ...string) []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(methods) == 0 {
		return append([]Call(nil), c.calls...)
	}
	var matched []Call
	for _, call := range c.calls {
		for _, method := range methods {
			if call.Method == method {
				matched = append(matched, call)
			}
		}
	}
	return matched
}

// SetHistory replaces the stored history of a conversation.
func (c *Conn) SetHistory(conversation transport.Address, messages []transport.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history[conversation] = append([]transport.Message(nil), messages...)
}

// SetGroup scripts GroupMetadata for info.Address.
func (c *Conn) SetGroup(info transport.GroupInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.groups[info.Address] = info
}

// SetPicture scripts ProfilePictureURL.
func (c *Conn) SetPicture(target transport.Address, url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pictures[target] = url
}

// SetProfileName scripts ProfileName.
func (c *Conn) SetProfileName(target transport.Address, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.names[target] = name
}

// begin records the call, waits out any Hold and returns an injected
// failure.
func (c *Conn) begin(ctx context.Context, method string, target transport.Address, args any) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return transport.ErrClosed
	}
	c.calls = append(c.calls, Call{Method: method, Target: target, Args: args})
	hold := c.hold
	c.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return transport.ErrClosed
	}
	if queued := c.failures[method]; len(queued) > 0 {
		c.failures[method] = queued[1:]
		return queued[0]
	}
	return nil
}

func (c *Conn) Pair(ctx context.Context, response transport.PairingResponse) error {
	if err := c.begin(ctx, "Pair", "", response.Account); err != nil {
		return err
	}
	c.mu.Lock()
	pending := c.challenge != ""
	c.challenge = ""
	c.mu.Unlock()
	if !pending {
		return transport.ErrNoChallenge
	}
	c.Emit(transport.Event{Kind: transport.EventCredentials, Credentials: transport.Credentials("memory:" + response.Account)})
	c.Open()
	return nil
}

func (c *Conn) Send(ctx context.Context, target transport.Address, content transport.Content) (string, error) {
	if err := c.begin(ctx, "Send", target, content); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	return fmt.Sprintf("mem-%d", c.nextID), nil
}

func (c *Conn) FetchHistoryPage(ctx context.Context, conversation transport.Address, pageSize int, anchor transport.Anchor) ([]transport.Message, error) {
	if err := c.begin(ctx, "FetchHistoryPage", conversation, anchor); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var older []transport.Message
	for _, message := range c.history[conversation] {
		if anchor.IsZero() || olderThan(message, anchor) {
			older = append(older, message)
		}
	}
	// Newest first, so a short page holds the messages nearest the
	// anchor.
	sort.Slice(older, func(i, j int) bool {
		return olderThan(older[j], transport.Anchor{MessageID: older[i].ID, Timestamp: older[i].Timestamp})
	})
	if len(older) > pageSize {
		older = older[:pageSize]
	}
	return older, nil
}

// olderThan orders by timestamp, then by id for equal timestamps.
func olderThan(message transport.Message, anchor transport.Anchor) bool {
	if !message.Timestamp.Equal(anchor.Timestamp) {
		return message.Timestamp.Before(anchor.Timestamp)
	}
	return message.ID < anchor.MessageID
}

func (c *Conn) SetChatFlags(ctx context.Context, target transport.Address, change transport.ChatChange) error {
	return c.begin(ctx, "SetChatFlags", target, change)
}

func (c *Conn) GroupCreate(ctx context.Context, subject string, participants []transport.Address) (transport.GroupInfo, error) {
	if err := c.begin(ctx, "GroupCreate", "", subject); err != nil {
		return transport.GroupInfo{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	info := transport.GroupInfo{
		Address: Group(fmt.Sprintf("created-%d", c.nextID)),
		Subject: subject,
		Created: time.Unix(0, 0).UTC(),
	}
	for _, participant := range participants {
		info.Participants = append(info.Participants, transport.Participant{Address: participant})
	}
	c.groups[info.Address] = info
	return info, nil
}

func (c *Conn) GroupUpdateSubject(ctx context.Context, group transport.Address, subject string) error {
	return c.begin(ctx, "GroupUpdateSubject", group, subject)
}

func (c *Conn) GroupUpdateDescription(ctx context.Context, group transport.Address, description string) error {
	return c.begin(ctx, "GroupUpdateDescription", group, description)
}

func (c *Conn) GroupParticipantsUpdate(ctx context.Context, group transport.Address, participants []transport.Address, action transport.ParticipantAction) error {
	return c.begin(ctx, "GroupParticipantsUpdate", group, action)
}

func (c *Conn) GroupMetadata(ctx context.Context, group transport.Address) (transport.GroupInfo, error) {
	if err := c.begin(ctx, "GroupMetadata", group, nil); err != nil {
		return transport.GroupInfo{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	info, found := c.groups[group]
	if !found {
		return transport.GroupInfo{}, transport.ErrNotFound
	}
	return info, nil
}

func (c *Conn) ProfilePictureURL(ctx context.Context, target transport.Address, resolution transport.PictureResolution) (string, error) {
	if err := c.begin(ctx, "ProfilePictureURL", target, resolution); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	url, found := c.pictures[target]
	if !found {
		return "", transport.ErrNotFound
	}
	return url, nil
}

func (c *Conn) ProfileName(ctx context.Context, target transport.Address) (string, error) {
	if err := c.begin(ctx, "ProfileName", target, nil); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	name, found := c.names[target]
	if !found {
		return "", transport.ErrNotFound
	}
	return name, nil
}

func (c *Conn) SetPrivacySetting(ctx context.Context, setting transport.PrivacySetting) error {
	return c.begin(ctx, "SetPrivacySetting", "", setting)
}

func (c *Conn) SetPresence(ctx context.Context, presence transport.Presence) error {
	return c.begin(ctx, "SetPresence", "", presence)
}

func (c *Conn) Logout(ctx context.Context) error {
	if err := c.begin(ctx, "Logout", "", nil); err != nil {
		return err
	}
	c.Disconnect(transport.CloseInfo{Reason: transport.ReasonLoggedOut})
	return nil
}
