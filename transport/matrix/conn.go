// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package matrix

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/switchboard/lib/clock"
	"github.com/bureau-foundation/switchboard/lib/codec"
	"github.com/bureau-foundation/switchboard/transport"
)

const (
	// maxSyncRetries is how many consecutive failed syncs are retried
	// before the connection closes with ReasonConnectionLost.
	maxSyncRetries = 5

	// maxHistoryPages bounds the /messages requests one
	// FetchHistoryPage makes while skipping non-message events.
	maxHistoryPages = 8

	keySyncToken = "matrix.next_batch"
	keyDirect    = "matrix.direct"

	syncFilter = `{"room":{"timeline":{"limit":50}}}`
)

var errNotPaired = errors.New("matrix: connection is not paired")

// Conn is one Matrix session. A goroutine started by Dial owns the
// sync loop and the events channel.
type Conn struct {
	dialer *Dialer
	keys   transport.KeyStore
	logger *slog.Logger
	clock  clock.Clock

	events chan transport.Event

	// ctx ends on Close. loopCtx additionally ends on Logout.
	ctx       context.Context
	cancel    context.CancelFunc
	loopCtx   context.Context
	interrupt context.CancelFunc
	paired    chan *client
	done      chan struct{}
	loggedOut atomic.Bool

	mu           sync.Mutex
	session      *client
	directByUser map[transport.Address]string
	directByRoom map[string]transport.Address
	lastEvent    map[string]string
	typing       map[string]map[string]bool
	privacy      map[transport.PrivacyField]transport.PrivacyValue
}

var _ transport.Conn = (*Conn)(nil)

func newConn(dialer *Dialer, keys transport.KeyStore, logger *slog.Logger) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	loopCtx, interrupt := context.WithCancel(ctx)
	return &Conn{
		dialer:       dialer,
		keys:         keys,
		logger:       logger,
		clock:        dialer.config.Clock,
		events:       make(chan transport.Event, 256),
		ctx:          ctx,
		cancel:       cancel,
		loopCtx:      loopCtx,
		interrupt:    interrupt,
		paired:       make(chan *client, 1),
		done:         make(chan struct{}),
		directByUser: make(map[transport.Address]string),
		directByRoom: make(map[string]transport.Address),
		lastEvent:    make(map[string]string),
		typing:       make(map[string]map[string]bool),
		privacy:      make(map[transport.PrivacyField]transport.PrivacyValue),
	}
}

// Events implements transport.Conn.
func (c *Conn) Events() <-chan transport.Event { return c.events }

func (c *Conn) setSession(session *client) {
	c.mu.Lock()
	c.session = session
	c.mu.Unlock()
}

// current returns the authenticated client, or an error when the
// connection is pairing or has ended.
func (c *Conn) current() (*client, error) {
	select {
	case <-c.done:
		return nil, transport.ErrClosed
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil, errNotPaired
	}
	return c.session, nil
}

// emit delivers event unless Close has been called.
func (c *Conn) emit(event transport.Event) bool {
	select {
	case c.events <- event:
		return true
	case <-c.ctx.Done():
		return false
	}
}

// ended handles the loop context ending: Close ends silently, Logout
// reports ReasonLoggedOut.
func (c *Conn) ended() {
	if c.ctx.Err() == nil && c.loggedOut.Load() {
		c.emit(transport.Event{Kind: transport.EventClose, Close: transport.CloseInfo{Reason: transport.ReasonLoggedOut}})
	}
}

func (c *Conn) run(session *client) {
	defer close(c.events)
	defer close(c.done)

	if session == nil {
		challenge := "password-login:" + c.dialer.config.Homeserver
		if !c.emit(transport.Event{Kind: transport.EventQR, Challenge: challenge}) {
			return
		}
		var expired <-chan time.Time
		if c.dialer.config.PairingTimeout > 0 {
			expired = c.clock.After(c.dialer.config.PairingTimeout)
		}
		select {
		case session = <-c.paired:
		case <-expired:
			c.emit(transport.Event{Kind: transport.EventClose, Close: transport.CloseInfo{Reason: transport.ReasonPairingExpired}})
			return
		case <-c.loopCtx.Done():
			c.ended()
			return
		}
	}
	c.loadDirect()
	c.syncLoop(session)
}

func syncBackoff(attempt int) time.Duration {
	delay := time.Second << (attempt - 1)
	if delay > 30*time.Second || delay <= 0 {
		delay = 30 * time.Second
	}
	return delay
}

func (c *Conn) syncLoop(session *client) {
	since := c.loadKey(keySyncToken)
	timeout := c.dialer.config.SyncTimeout.Milliseconds()
	opened := false
	attempts := 0
	for {
		// The first request returns immediately so EventOpen is not
		// held back by the long poll.
		hold := timeout
		if !opened {
			hold = 0
		}
		response, err := session.sync(c.loopCtx, since, hold, syncFilter)
		if err != nil {
			if c.loopCtx.Err() != nil {
				c.ended()
				return
			}
			if IsError(err, CodeUnknownToken) {
				c.emit(transport.Event{Kind: transport.EventClose, Close: transport.CloseInfo{Reason: transport.ReasonLoggedOut, Err: err}})
				return
			}
			attempts++
			if attempts > maxSyncRetries {
				c.emit(transport.Event{Kind: transport.EventClose, Close: transport.CloseInfo{Reason: transport.ReasonConnectionLost, Err: err}})
				return
			}
			c.logger.Warn("matrix sync failed, retrying", "attempt", attempts, "error", err)
			session.httpClient.CloseIdleConnections()
			if clock.SleepContext(c.loopCtx, c.clock, syncBackoff(attempts)) != nil {
				c.ended()
				return
			}
			continue
		}
		attempts = 0

		if !opened {
			opened = true
			if !c.emit(transport.Event{Kind: transport.EventOpen}) {
				return
			}
		}
		if !c.process(c.loopCtx, session, response, since == "") {
			return
		}
		since = response.NextBatch
		if c.keys == nil {
			continue
		}
		if err := c.keys.Put(keySyncToken, []byte(since)); err != nil {
			c.logger.Error("saving sync token failed", "error", err)
		}
	}
}

func (c *Conn) loadKey(name string) string {
	if c.keys == nil {
		return ""
	}
	value, ok, err := c.keys.Get(name)
	if err != nil {
		c.logger.Error("reading session key failed", "key", name, "error", err)
		return ""
	}
	if !ok {
		return ""
	}
	return string(value)
}

func (c *Conn) loadDirect() {
	raw := c.loadKey(keyDirect)
	if raw == "" {
		return
	}
	var direct directContent
	if err := json.Unmarshal([]byte(raw), &direct); err != nil {
		c.logger.Warn("discarding unreadable direct room map", "error", err)
		return
	}
	c.applyDirect(direct)
}

// applyDirect replaces the direct room maps. The first listed room for
// a user is the one messages are sent to.
func (c *Conn) applyDirect(direct directContent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.directByUser)
	clear(c.directByRoom)
	for user, rooms := range direct {
		for index, room := range rooms {
			if index == 0 {
				c.directByUser[transport.Address(user)] = room
			}
			c.directByRoom[room] = transport.Address(user)
		}
	}
}

func (c *Conn) directSnapshot() directContent {
	c.mu.Lock()
	defer c.mu.Unlock()
	direct := make(directContent)
	for room, user := range c.directByRoom {
		direct[string(user)] = append(direct[string(user)], room)
	}
	for user, room := range c.directByUser {
		rooms := direct[string(user)]
		for index, candidate := range rooms {
			if candidate == room {
				rooms[0], rooms[index] = rooms[index], rooms[0]
			}
		}
	}
	return direct
}

func (c *Conn) saveDirect(direct directContent) {
	encoded, err := json.Marshal(direct)
	if err != nil {
		return
	}
	if c.keys != nil {
		if err := c.keys.Put(keyDirect, encoded); err != nil {
			c.logger.Error("saving direct room map failed", "error", err)
		}
	}
}

// addDirect records room as the direct conversation with user, locally
// and in the account's m.direct data.
func (c *Conn) addDirect(ctx context.Context, session *client, user transport.Address, room string) error {
	c.mu.Lock()
	c.directByUser[user] = room
	c.directByRoom[room] = user
	c.mu.Unlock()
	direct := c.directSnapshot()
	c.saveDirect(direct)
	return session.putAccountData(ctx, eventDirect, direct)
}

func (c *Conn) conversation(room string) transport.Address {
	c.mu.Lock()
	defer c.mu.Unlock()
	if user, ok := c.directByRoom[room]; ok {
		return user
	}
	return transport.Address(room)
}

// process turns one sync response into events. It returns false once
// the connection is closing.
func (c *Conn) process(ctx context.Context, session *client, response *syncResponse, initial bool) bool {
	for _, accountEvent := range response.AccountData.Events {
		if accountEvent.Type != eventDirect {
			continue
		}
		var direct directContent
		if err := json.Unmarshal(accountEvent.Content, &direct); err != nil {
			c.logger.Warn("ignoring malformed m.direct", "error", err)
			continue
		}
		c.applyDirect(direct)
		c.saveDirect(direct)
	}

	for room, invited := range response.Rooms.Invite {
		c.acceptInvite(ctx, session, room, invited)
	}

	for _, presenceEvent := range response.Presence.Events {
		if presenceEvent.Type != eventPresence || presenceEvent.Sender == session.userID {
			continue
		}
		var content presenceContent
		if err := json.Unmarshal(presenceEvent.Content, &content); err != nil {
			continue
		}
		presence := transport.Unavailable
		if content.Presence == "online" {
			presence = transport.Available
		}
		if !c.emit(transport.Event{Kind: transport.EventPresence, Contact: transport.Address(presenceEvent.Sender), Presence: presence}) {
			return false
		}
	}

	var messages []transport.Message
	var contacts []transport.Contact
	for room, joined := range response.Rooms.Join {
		names := make(map[string]string)
		for _, stateEvent := range append(joined.State.Events, joined.Timeline.Events...) {
			if stateEvent.Type != eventMember || stateEvent.StateKey == nil {
				continue
			}
			var member memberContent
			if json.Unmarshal(stateEvent.Content, &member) != nil || member.Membership != "join" {
				continue
			}
			names[*stateEvent.StateKey] = member.DisplayName
			if *stateEvent.StateKey != session.userID {
				contacts = append(contacts, transport.Contact{
					Address:  transport.Address(*stateEvent.StateKey),
					PushName: member.DisplayName,
				})
			}
		}

		conversation := c.conversation(room)
		for _, timelineEvent := range joined.Timeline.Events {
			switch timelineEvent.Type {
			case eventMessage:
				message, ok := c.message(conversation, timelineEvent, session.userID, names)
				if ok {
					messages = append(messages, message)
				}
			case eventEncrypted:
				c.logger.Debug("skipping encrypted event", "room", room, "event_id", timelineEvent.EventID)
			}
			if timelineEvent.EventID != "" {
				c.mu.Lock()
				c.lastEvent[room] = timelineEvent.EventID
				c.mu.Unlock()
			}
		}

		for _, ephemeral := range joined.Ephemeral.Events {
			for _, update := range c.ephemeral(room, conversation, session.userID, ephemeral) {
				if !c.emit(update) {
					return false
				}
			}
		}
	}

	if len(contacts) > 0 {
		if !c.emit(transport.Event{Kind: transport.EventContacts, Contacts: contacts}) {
			return false
		}
	}
	if len(messages) > 0 {
		kind := transport.EventMessages
		if initial {
			kind = transport.EventHistory
		}
		if !c.emit(transport.Event{Kind: kind, Messages: messages}) {
			return false
		}
	}
	return true
}

func (c *Conn) message(conversation transport.Address, roomEvent event, self string, names map[string]string) (transport.Message, bool) {
	var content messageContent
	if err := json.Unmarshal(roomEvent.Content, &content); err != nil || content.MsgType == "" {
		// Redacted messages have empty content.
		return transport.Message{}, false
	}
	raw, _ := json.Marshal(roomEvent)
	return transport.Message{
		ID:           roomEvent.EventID,
		Conversation: conversation,
		Sender:       transport.Address(roomEvent.Sender),
		SenderName:   names[roomEvent.Sender],
		FromMe:       roomEvent.Sender == self,
		Text:         content.Body,
		Timestamp:    time.UnixMilli(roomEvent.OriginServerTS).UTC(),
		Raw:          raw,
	}, true
}

// ephemeral converts typing notifications and read receipts. Typing is
// reported as composing, and a user leaving the typing list as paused.
func (c *Conn) ephemeral(room string, conversation transport.Address, self string, ephemeral event) []transport.Event {
	var events []transport.Event
	switch ephemeral.Type {
	case eventTyping:
		var content typingContent
		if json.Unmarshal(ephemeral.Content, &content) != nil {
			return nil
		}
		now := make(map[string]bool, len(content.UserIDs))
		c.mu.Lock()
		previous := c.typing[room]
		for _, user := range content.UserIDs {
			if user == self {
				continue
			}
			now[user] = true
			if !previous[user] {
				events = append(events, transport.Event{Kind: transport.EventPresence, Contact: transport.Address(user), Presence: transport.Composing})
			}
		}
		for user := range previous {
			if !now[user] {
				events = append(events, transport.Event{Kind: transport.EventPresence, Contact: transport.Address(user), Presence: transport.Paused})
			}
		}
		c.typing[room] = now
		c.mu.Unlock()
	case eventReceipt:
		var content receiptContent
		if json.Unmarshal(ephemeral.Content, &content) != nil {
			return nil
		}
		for eventID, receipts := range content {
			for receiptType, users := range receipts {
				if !strings.HasPrefix(receiptType, "m.read") {
					continue
				}
				for user := range users {
					if user == self {
						continue
					}
					events = append(events, transport.Event{
						Kind:         transport.EventReceipt,
						MessageID:    eventID,
						Conversation: conversation,
						Status:       transport.ReceiptRead,
					})
					break
				}
			}
		}
	}
	return events
}

// acceptInvite joins rooms the account is invited to, recording direct
// invitations as the conversation with their sender.
func (c *Conn) acceptInvite(ctx context.Context, session *client, room string, invited invitedRoom) {
	var inviter string
	direct := false
	for _, stateEvent := range invited.InviteState.Events {
		if stateEvent.Type != eventMember || stateEvent.StateKey == nil || *stateEvent.StateKey != session.userID {
			continue
		}
		var member memberContent
		if json.Unmarshal(stateEvent.Content, &member) == nil && member.Membership == "invite" {
			inviter = stateEvent.Sender
			direct = member.IsDirect
		}
	}
	if err := session.joinRoom(ctx, room); err != nil {
		c.logger.Warn("joining invited room failed", "room", room, "error", err)
		return
	}
	if direct && inviter != "" {
		if err := c.addDirect(ctx, session, transport.Address(inviter), room); err != nil {
			c.logger.Warn("recording direct room failed", "room", room, "error", err)
		}
	}
}

// Pair implements transport.Conn: response.Account and response.Secret
// are a user name and password for password login.
func (c *Conn) Pair(ctx context.Context, response transport.PairingResponse) error {
	c.mu.Lock()
	pairing := c.session == nil
	c.mu.Unlock()
	select {
	case <-c.done:
		return transport.ErrClosed
	default:
	}
	if !pairing {
		return transport.ErrNoChallenge
	}
	if response.Account == "" || response.Secret == "" {
		return fmt.Errorf("matrix: pair: account and password are required")
	}

	config := c.dialer.config
	anonymous := &client{baseURL: config.Homeserver, httpClient: config.HTTPClient}
	login, err := anonymous.login(ctx, response.Account, response.Secret, config.DeviceName)
	if err != nil {
		return fmt.Errorf("matrix: pair: %w", err)
	}
	session := &client{
		baseURL:    config.Homeserver,
		httpClient: config.HTTPClient,
		token:      login.AccessToken,
		userID:     login.UserID,
		deviceID:   login.DeviceID,
	}
	encoded, err := codec.Marshal(credentials{
		Homeserver:  config.Homeserver,
		UserID:      login.UserID,
		DeviceID:    login.DeviceID,
		AccessToken: login.AccessToken,
	})
	if err != nil {
		return fmt.Errorf("matrix: pair: encoding credentials: %w", err)
	}
	c.setSession(session)
	c.logger.Info("paired matrix account", "user_id", login.UserID, "device_id", login.DeviceID)
	c.emit(transport.Event{Kind: transport.EventCredentials, Credentials: encoded})
	c.paired <- session
	return nil
}

// room resolves target to a room id. A user address maps to its direct
// room; create makes one when none exists, otherwise the lookup fails
// with transport.ErrNotFound.
func (c *Conn) room(ctx context.Context, session *client, target transport.Address, create bool) (string, error) {
	if c.dialer.IsGroup(target) {
		return string(target), nil
	}
	c.mu.Lock()
	room, ok := c.directByUser[target]
	c.mu.Unlock()
	if ok {
		return room, nil
	}
	if !create {
		return "", fmt.Errorf("%w: no direct room with %s", transport.ErrNotFound, target)
	}
	room, err := session.createRoom(ctx, createRoomRequest{
		Invite:   []string{string(target)},
		Preset:   "trusted_private_chat",
		IsDirect: true,
	})
	if err != nil {
		return "", err
	}
	if err := c.addDirect(ctx, session, target, room); err != nil {
		c.logger.Warn("recording direct room failed", "room", room, "error", err)
	}
	return room, nil
}

// Send implements transport.Conn.
func (c *Conn) Send(ctx context.Context, target transport.Address, content transport.Content) (string, error) {
	session, err := c.current()
	if err != nil {
		return "", err
	}
	room, err := c.room(ctx, session, target, true)
	if err != nil {
		return "", fmt.Errorf("matrix: send: %w", err)
	}
	body := messageContent{MsgType: "m.text", Body: content.Text}
	if content.ReplyTo != "" {
		body.RelatesTo = &relatesTo{InReplyTo: &inReplyTo{EventID: content.ReplyTo}}
	}
	eventID, err := session.sendMessage(ctx, room, uuid.NewString(), body)
	if err != nil {
		return "", fmt.Errorf("matrix: %w", err)
	}
	c.mu.Lock()
	c.lastEvent[room] = eventID
	c.mu.Unlock()
	return eventID, nil
}

// FetchHistoryPage implements transport.Conn. Pages skip state and
// other non-message events, so one call may read several server pages.
func (c *Conn) FetchHistoryPage(ctx context.Context, conversation transport.Address, pageSize int, anchor transport.Anchor) ([]transport.Message, error) {
	session, err := c.current()
	if err != nil {
		return nil, err
	}
	room, err := c.room(ctx, session, conversation, false)
	if errors.Is(err, transport.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	anchorID := anchor.MessageID
	if anchorID == "" && !anchor.Timestamp.IsZero() {
		anchorID, err = session.eventBefore(ctx, room, anchor.Timestamp.UnixMilli()-1)
		if err != nil {
			return nil, fmt.Errorf("matrix: history: %w", notFound(err))
		}
	}
	var from string
	if anchorID != "" {
		from, err = session.eventContext(ctx, room, anchorID)
		if err != nil {
			return nil, fmt.Errorf("matrix: history: %w", notFound(err))
		}
	}

	var messages []transport.Message
	for page := 0; page < maxHistoryPages && len(messages) < pageSize; page++ {
		response, err := session.roomMessages(ctx, room, from, pageSize)
		if err != nil {
			return nil, fmt.Errorf("matrix: history: %w", err)
		}
		for _, roomEvent := range response.Chunk {
			if roomEvent.Type != eventMessage || len(messages) >= pageSize {
				continue
			}
			if message, ok := c.message(conversation, roomEvent, session.userID, nil); ok {
				messages = append(messages, message)
			}
		}
		if len(response.Chunk) == 0 || response.End == "" {
			break
		}
		from = response.End
	}
	return messages, nil
}

// SetChatFlags implements transport.Conn. Pins are the m.favourite
// tag, archiving the m.lowpriority tag, and deleting leaves and forgets
// the room.
func (c *Conn) SetChatFlags(ctx context.Context, target transport.Address, change transport.ChatChange) error {
	session, err := c.current()
	if err != nil {
		return err
	}
	room, err := c.room(ctx, session, target, false)
	if err != nil {
		return fmt.Errorf("matrix: chat flags: %w", err)
	}
	switch change {
	case transport.ChatPin, transport.ChatUnpin:
		err = session.tag(ctx, room, "m.favourite", change == transport.ChatPin)
	case transport.ChatArchive, transport.ChatUnarchive:
		err = session.tag(ctx, room, "m.lowpriority", change == transport.ChatArchive)
	case transport.ChatMarkRead:
		c.mu.Lock()
		last := c.lastEvent[room]
		c.mu.Unlock()
		if last == "" {
			return nil
		}
		err = session.roomAction(ctx, room, "read_markers", map[string]string{"m.fully_read": last, "m.read": last})
	case transport.ChatDelete:
		if err = session.roomAction(ctx, room, "leave", nil); err == nil {
			err = session.roomAction(ctx, room, "forget", nil)
		}
		if err == nil && !c.dialer.IsGroup(target) {
			c.mu.Lock()
			delete(c.directByUser, target)
			delete(c.directByRoom, room)
			c.mu.Unlock()
			c.saveDirect(c.directSnapshot())
		}
	default:
		return fmt.Errorf("matrix: chat flags: unknown change %q", change)
	}
	if err != nil {
		return fmt.Errorf("matrix: chat flags: %w", err)
	}
	return nil
}

// GroupCreate implements transport.Conn.
func (c *Conn) GroupCreate(ctx context.Context, subject string, participants []transport.Address) (transport.GroupInfo, error) {
	session, err := c.current()
	if err != nil {
		return transport.GroupInfo{}, err
	}
	invite := make([]string, len(participants))
	members := []transport.Participant{{Address: transport.Address(session.userID), Admin: true}}
	for index, participant := range participants {
		invite[index] = string(participant)
		members = append(members, transport.Participant{Address: participant})
	}
	room, err := session.createRoom(ctx, createRoomRequest{Name: subject, Invite: invite, Preset: "private_chat"})
	if err != nil {
		return transport.GroupInfo{}, fmt.Errorf("matrix: %w", err)
	}
	return transport.GroupInfo{
		Address:      transport.Address(room),
		Subject:      subject,
		Owner:        transport.Address(session.userID),
		Created:      c.clock.Now(),
		Participants: members,
	}, nil
}

// GroupUpdateSubject implements transport.Conn.
func (c *Conn) GroupUpdateSubject(ctx context.Context, group transport.Address, subject string) error {
	session, err := c.current()
	if err != nil {
		return err
	}
	if err := session.putStateEvent(ctx, string(group), eventName, map[string]string{"name": subject}); err != nil {
		return fmt.Errorf("matrix: %w", err)
	}
	return nil
}

// GroupUpdateDescription implements transport.Conn.
func (c *Conn) GroupUpdateDescription(ctx context.Context, group transport.Address, description string) error {
	session, err := c.current()
	if err != nil {
		return err
	}
	if err := session.putStateEvent(ctx, string(group), eventTopic, map[string]string{"topic": description}); err != nil {
		return fmt.Errorf("matrix: %w", err)
	}
	return nil
}

// adminPowerLevel is the power level promote grants.
const adminPowerLevel = 50

// GroupParticipantsUpdate implements transport.Conn. Promote and
// demote rewrite the room's power levels once for all participants.
func (c *Conn) GroupParticipantsUpdate(ctx context.Context, group transport.Address, participants []transport.Address, action transport.ParticipantAction) error {
	session, err := c.current()
	if err != nil {
		return err
	}
	room := string(group)
	switch action {
	case transport.ParticipantAdd, transport.ParticipantRemove:
		endpoint := "invite"
		if action == transport.ParticipantRemove {
			endpoint = "kick"
		}
		var errs []error
		for _, participant := range participants {
			if err := session.roomAction(ctx, room, endpoint, map[string]string{"user_id": string(participant)}); err != nil {
				errs = append(errs, err)
			}
		}
		if err := errors.Join(errs...); err != nil {
			return fmt.Errorf("matrix: participants: %w", err)
		}
		return nil
	case transport.ParticipantPromote, transport.ParticipantDemote:
		levels := make(powerLevels)
		if err := session.stateEvent(ctx, room, eventPowerLevels, &levels); err != nil {
			return fmt.Errorf("matrix: participants: %w", err)
		}
		users := make(map[string]int)
		if raw, ok := levels["users"]; ok {
			if err := json.Unmarshal(raw, &users); err != nil {
				return fmt.Errorf("matrix: participants: decoding power levels: %w", err)
			}
		}
		for _, participant := range participants {
			if action == transport.ParticipantPromote {
				users[string(participant)] = adminPowerLevel
			} else {
				delete(users, string(participant))
			}
		}
		encoded, err := json.Marshal(users)
		if err != nil {
			return fmt.Errorf("matrix: participants: %w", err)
		}
		levels["users"] = encoded
		if err := session.putStateEvent(ctx, room, eventPowerLevels, levels); err != nil {
			return fmt.Errorf("matrix: participants: %w", err)
		}
		return nil
	}
	return fmt.Errorf("matrix: participants: unknown action %q", action)
}

// GroupMetadata implements transport.Conn from the room's full state.
func (c *Conn) GroupMetadata(ctx context.Context, group transport.Address) (transport.GroupInfo, error) {
	session, err := c.current()
	if err != nil {
		return transport.GroupInfo{}, err
	}
	state, err := session.roomState(ctx, string(group))
	if err != nil {
		return transport.GroupInfo{}, fmt.Errorf("matrix: %w", notFound(err))
	}
	info := transport.GroupInfo{Address: group}
	admins := make(map[string]bool)
	var joined []string
	for _, stateEvent := range state {
		switch stateEvent.Type {
		case eventName:
			var content struct {
				Name string `json:"name"`
			}
			json.Unmarshal(stateEvent.Content, &content)
			info.Subject = content.Name
		case eventTopic:
			var content struct {
				Topic string `json:"topic"`
			}
			json.Unmarshal(stateEvent.Content, &content)
			info.Description = content.Topic
		case eventCreate:
			info.Owner = transport.Address(stateEvent.Sender)
			info.Created = time.UnixMilli(stateEvent.OriginServerTS).UTC()
		case eventMember:
			var member memberContent
			if stateEvent.StateKey != nil && json.Unmarshal(stateEvent.Content, &member) == nil && member.Membership == "join" {
				joined = append(joined, *stateEvent.StateKey)
			}
		case eventPowerLevels:
			var content struct {
				Users map[string]int `json:"users"`
			}
			json.Unmarshal(stateEvent.Content, &content)
			for user, level := range content.Users {
				if level >= adminPowerLevel {
					admins[user] = true
				}
			}
		}
	}
	for _, user := range joined {
		info.Participants = append(info.Participants, transport.Participant{Address: transport.Address(user), Admin: admins[user]})
	}
	return info, nil
}

// ProfilePictureURL implements transport.Conn. mxc:// content URIs are
// rewritten to the homeserver's media download (full) or thumbnail
// (preview) endpoint.
func (c *Conn) ProfilePictureURL(ctx context.Context, target transport.Address, resolution transport.PictureResolution) (string, error) {
	session, err := c.current()
	if err != nil {
		return "", err
	}
	var contentURI string
	if c.dialer.IsGroup(target) {
		var content struct {
			URL string `json:"url"`
		}
		err = session.stateEvent(ctx, string(target), eventAvatar, &content)
		contentURI = content.URL
	} else {
		contentURI, err = session.profileField(ctx, string(target), "avatar_url")
	}
	if err != nil {
		return "", fmt.Errorf("matrix: picture: %w", notFound(err))
	}
	if contentURI == "" {
		return "", fmt.Errorf("matrix: picture of %s: %w", target, transport.ErrNotFound)
	}
	return c.mediaURL(session, contentURI, resolution)
}

func (c *Conn) mediaURL(session *client, contentURI string, resolution transport.PictureResolution) (string, error) {
	serverAndID, ok := strings.CutPrefix(contentURI, "mxc://")
	server, mediaID, found := strings.Cut(serverAndID, "/")
	if !ok || !found || server == "" || mediaID == "" {
		return "", fmt.Errorf("matrix: malformed content uri %q", contentURI)
	}
	path := url.PathEscape(server) + "/" + url.PathEscape(mediaID)
	if resolution == transport.PicturePreview {
		return session.baseURL + "/_matrix/media/v3/thumbnail/" + path + "?width=96&height=96&method=crop", nil
	}
	return session.baseURL + "/_matrix/media/v3/download/" + path, nil
}

// ProfileName implements transport.Conn. For a room it is the room name.
func (c *Conn) ProfileName(ctx context.Context, target transport.Address) (string, error) {
	session, err := c.current()
	if err != nil {
		return "", err
	}
	var name string
	if c.dialer.IsGroup(target) {
		var content struct {
			Name string `json:"name"`
		}
		err = session.stateEvent(ctx, string(target), eventName, &content)
		name = content.Name
	} else {
		name, err = session.profileField(ctx, string(target), "displayname")
	}
	if err != nil {
		return "", fmt.Errorf("matrix: name: %w", notFound(err))
	}
	if name == "" {
		return "", fmt.Errorf("matrix: name of %s: %w", target, transport.ErrNotFound)
	}
	return name, nil
}

// SetPrivacySetting implements transport.Conn by recording the
// preference in account data.
func (c *Conn) SetPrivacySetting(ctx context.Context, setting transport.PrivacySetting) error {
	session, err := c.current()
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.privacy[setting.Field] = setting.Value
	content := make(map[string]string, len(c.privacy))
	for field, value := range c.privacy {
		content[string(field)] = string(value)
	}
	c.mu.Unlock()
	if err := session.putAccountData(ctx, privacyAccountData, content); err != nil {
		return fmt.Errorf("matrix: %w", err)
	}
	return nil
}

// SetPresence implements transport.Conn for account presence;
// typing-style states are not account presence.
func (c *Conn) SetPresence(ctx context.Context, presence transport.Presence) error {
	session, err := c.current()
	if err != nil {
		return err
	}
	var state string
	switch presence {
	case transport.Available:
		state = "online"
	case transport.Unavailable:
		state = "unavailable"
	default:
		return fmt.Errorf("matrix: set presence: %q is not an account presence", presence)
	}
	if err := session.setPresence(ctx, state); err != nil {
		return fmt.Errorf("matrix: %w", err)
	}
	return nil
}

// Logout implements transport.Conn. The access token is revoked and
// the connection closes with ReasonLoggedOut.
func (c *Conn) Logout(ctx context.Context) error {
	session, err := c.current()
	if errors.Is(err, transport.ErrClosed) {
		return err
	}
	if session != nil {
		if err := session.logout(ctx); err != nil && !IsError(err, CodeUnknownToken) {
			return fmt.Errorf("matrix: %w", err)
		}
	}
	c.loggedOut.Store(true)
	c.interrupt()
	return nil
}

// Close implements transport.Conn. It waits for the sync loop to exit.
func (c *Conn) Close() error {
	c.cancel()
	<-c.done
	return nil
}
