// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"strings"
	"time"
	"unicode"
)

// Address identifies a user or conversation on the network. Its syntax
// belongs to the transport; see Dialer.ParseAddress.
type Address string

func (a Address) String() string { return string(a) }

// LooksLikeAddress reports whether a display name is really a raw
// network identifier or phone number that leaked into the name field:
// empty, all digits (optionally with a leading +), or shaped like
// "local@server", "@user:server", "!room:server" or "#alias:server".
func LooksLikeAddress(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return true
	}
	if strings.IndexFunc(name, unicode.IsSpace) >= 0 {
		return false
	}
	digits := strings.TrimPrefix(name, "+")
	if digits != "" && strings.IndexFunc(digits, func(r rune) bool { return r < '0' || r > '9' }) < 0 {
		return true
	}
	switch name[0] {
	case '@', '!', '#':
		return strings.Contains(name, ":")
	}
	local, server, found := strings.Cut(name, "@")
	return found && local != "" && strings.Contains(server, ".")
}

// Presence is a contact's or the account's availability.
type Presence string

const (
	Available   Presence = "available"
	Unavailable Presence = "unavailable"
	Composing   Presence = "composing"
	Recording   Presence = "recording"
	Paused      Presence = "paused"
)

// Transient reports whether p is a typing-style indicator that says
// nothing about whether the contact is still online.
func (p Presence) Transient() bool {
	return p == Composing || p == Recording || p == Paused
}

// Content is an outbound message body.
type Content struct {
	Text string
	// ReplyTo is the network id of a message being replied to.
	ReplyTo string
}

// Message is one message as reported by the network.
type Message struct {
	ID           string
	Conversation Address
	Sender       Address
	SenderName   string
	FromMe       bool
	Text         string
	Timestamp    time.Time
	// Raw is the transport's original encoding of the message, kept
	// for reprocessing.
	Raw []byte
}

// Anchor positions a history request: pages hold messages strictly
// older than the anchored message. The zero Anchor means "from the
// newest message".
type Anchor struct {
	MessageID string
	Timestamp time.Time
}

// IsZero reports whether a is the zero Anchor.
func (a Anchor) IsZero() bool { return a.MessageID == "" && a.Timestamp.IsZero() }

// Contact is an address book entry.
type Contact struct {
	Address  Address
	Name     string
	PushName string
}

// ReceiptStatus is a delivery state reported for an outbound message.
type ReceiptStatus string

const (
	ReceiptServer    ReceiptStatus = "server"
	ReceiptDelivered ReceiptStatus = "delivered"
	ReceiptRead      ReceiptStatus = "read"
	ReceiptPlayed    ReceiptStatus = "played"
)

// ChatChange is a flag change applied to a conversation.
type ChatChange string

const (
	ChatArchive   ChatChange = "archive"
	ChatUnarchive ChatChange = "unarchive"
	ChatPin       ChatChange = "pin"
	ChatUnpin     ChatChange = "unpin"
	ChatDelete    ChatChange = "delete"
	ChatMarkRead  ChatChange = "mark_read"
)

// Valid reports whether c is a known change.
func (c ChatChange) Valid() bool {
	switch c {
	case ChatArchive, ChatUnarchive, ChatPin, ChatUnpin, ChatDelete, ChatMarkRead:
		return true
	}
	return false
}

// ParticipantAction is a group membership change.
type ParticipantAction string

const (
	ParticipantAdd     ParticipantAction = "add"
	ParticipantRemove  ParticipantAction = "remove"
	ParticipantPromote ParticipantAction = "promote"
	ParticipantDemote  ParticipantAction = "demote"
)

// Valid reports whether a is a known action.
func (a ParticipantAction) Valid() bool {
	switch a {
	case ParticipantAdd, ParticipantRemove, ParticipantPromote, ParticipantDemote:
		return true
	}
	return false
}

// GroupInfo is group metadata.
type GroupInfo struct {
	Address      Address
	Subject      string
	Description  string
	Owner        Address
	Created      time.Time
	Participants []Participant
}

// Participant is one group member.
type Participant struct {
	Address Address
	Admin   bool
}

// PictureResolution selects a profile picture size.
type PictureResolution string

const (
	PicturePreview PictureResolution = "preview"
	PictureFull    PictureResolution = "image"
)

// PrivacyField is an account privacy setting.
type PrivacyField string

const (
	PrivacyLastSeen PrivacyField = "last_seen"
	PrivacyOnline   PrivacyField = "online"
)

// PrivacyValue is who may see a privacy field.
type PrivacyValue string

const (
	PrivacyAll              PrivacyValue = "all"
	PrivacyContacts         PrivacyValue = "contacts"
	PrivacyContactBlacklist PrivacyValue = "contact_blacklist"
	PrivacyNone             PrivacyValue = "none"
	// PrivacyMatchLastSeen applies to PrivacyOnline only.
	PrivacyMatchLastSeen PrivacyValue = "match_last_seen"
)

// PrivacySetting is one privacy change. Except lists the contacts
// hidden from when Value is PrivacyContactBlacklist.
type PrivacySetting struct {
	Field  PrivacyField
	Value  PrivacyValue
	Except []Address
}
