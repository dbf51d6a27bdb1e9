// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package matrix

import "encoding/json"

type loginRequest struct {
	Type                     string         `json:"type"`
	Identifier               userIdentifier `json:"identifier"`
	Password                 string         `json:"password"`
	InitialDeviceDisplayName string         `json:"initial_device_display_name,omitempty"`
}

type userIdentifier struct {
	Type string `json:"type"`
	User string `json:"user"`
}

type loginResponse struct {
	UserID      string `json:"user_id"`
	AccessToken string `json:"access_token"`
	DeviceID    string `json:"device_id"`
}

type eventIDResponse struct {
	EventID string `json:"event_id"`
}

// event is a room, presence or account data event. Content stays raw
// until the event type is known.
type event struct {
	EventID        string          `json:"event_id,omitempty"`
	Type           string          `json:"type"`
	Sender         string          `json:"sender,omitempty"`
	OriginServerTS int64           `json:"origin_server_ts,omitempty"`
	Content        json.RawMessage `json:"content"`
	StateKey       *string         `json:"state_key,omitempty"`
}

type eventList struct {
	Events []event `json:"events"`
}

type syncResponse struct {
	NextBatch   string    `json:"next_batch"`
	AccountData eventList `json:"account_data"`
	Presence    eventList `json:"presence"`
	Rooms       struct {
		Join   map[string]joinedRoom  `json:"join"`
		Invite map[string]invitedRoom `json:"invite"`
	} `json:"rooms"`
}

type joinedRoom struct {
	State     eventList `json:"state"`
	Timeline  eventList `json:"timeline"`
	Ephemeral eventList `json:"ephemeral"`
}

type invitedRoom struct {
	InviteState eventList `json:"invite_state"`
}

type messagesResponse struct {
	Start string  `json:"start"`
	End   string  `json:"end"`
	Chunk []event `json:"chunk"`
}

type messageContent struct {
	MsgType   string     `json:"msgtype"`
	Body      string     `json:"body"`
	RelatesTo *relatesTo `json:"m.relates_to,omitempty"`
}

type relatesTo struct {
	InReplyTo *inReplyTo `json:"m.in_reply_to,omitempty"`
}

type inReplyTo struct {
	EventID string `json:"event_id"`
}

type memberContent struct {
	Membership  string `json:"membership"`
	DisplayName string `json:"displayname,omitempty"`
	IsDirect    bool   `json:"is_direct,omitempty"`
}

type presenceContent struct {
	Presence string `json:"presence"`
}

type typingContent struct {
	UserIDs []string `json:"user_ids"`
}

// receiptContent maps event id to receipt type to user id.
type receiptContent map[string]map[string]map[string]json.RawMessage

// directContent is the m.direct account data: user id to room ids.
type directContent map[string][]string

type createRoomRequest struct {
	Name     string   `json:"name,omitempty"`
	Invite   []string `json:"invite,omitempty"`
	Preset   string   `json:"preset,omitempty"`
	IsDirect bool     `json:"is_direct,omitempty"`
}

type powerLevels map[string]json.RawMessage

const (
	eventMessage     = "m.room.message"
	eventEncrypted   = "m.room.encrypted"
	eventMember      = "m.room.member"
	eventName        = "m.room.name"
	eventTopic       = "m.room.topic"
	eventCreate      = "m.room.create"
	eventAvatar      = "m.room.avatar"
	eventPowerLevels = "m.room.power_levels"
	eventPresence    = "m.presence"
	eventTyping      = "m.typing"
	eventReceipt     = "m.receipt"
	eventDirect      = "m.direct"

	// privacyAccountData holds privacy preferences. Matrix has no
	// server-side equivalent, so they are recorded for other clients
	// of the account to honor.
	privacyAccountData = "dev.switchboard.privacy"
)
