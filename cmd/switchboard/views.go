// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import "time"

// These mirror the response shapes switchboardd encodes. Field tags
// are the wire contract; unknown fields are ignored by the decoder.

type statusView struct {
	Version       string  `cbor:"version" json:"version"`
	Transport     string  `cbor:"transport" json:"transport"`
	UptimeSeconds float64 `cbor:"uptime_seconds" json:"uptime_seconds"`
	Instances     int     `cbor:"instances" json:"instances"`
	Connected     int     `cbor:"connected" json:"connected"`
}

type instanceView struct {
	ID          int64     `cbor:"id" json:"id"`
	Name        string    `cbor:"name" json:"name"`
	Owner       string    `cbor:"owner,omitempty" json:"owner,omitempty"`
	Status      string    `cbor:"status" json:"status"`
	Challenge   string    `cbor:"challenge,omitempty" json:"challenge,omitempty"`
	Presence    string    `cbor:"presence" json:"presence"`
	NeedsRelink bool      `cbor:"needs_relink" json:"needs_relink"`
	CreatedAt   time.Time `cbor:"created_at" json:"created_at"`
	Symptoms    int       `cbor:"symptoms" json:"symptoms"`
	Queued      int       `cbor:"queued" json:"queued"`
	Running     bool      `cbor:"running" json:"running"`
	Executed    uint64    `cbor:"executed" json:"executed"`
	Failed      uint64    `cbor:"failed" json:"failed"`
}

type sendView struct {
	MessageID string `cbor:"message_id" json:"message_id"`
}

type avatarView struct {
	URL string `cbor:"url" json:"url"`
}

type scheduleView struct {
	ID       int64    `cbor:"id" json:"id"`
	Name     string   `cbor:"name" json:"name"`
	Start    string   `cbor:"start" json:"start"`
	End      string   `cbor:"end" json:"end"`
	Days     string   `cbor:"days" json:"days"`
	Mode     string   `cbor:"mode" json:"mode"`
	Enabled  bool     `cbor:"enabled" json:"enabled"`
	Position int      `cbor:"position" json:"position"`
	Targets  []string `cbor:"targets,omitempty" json:"targets,omitempty"`
}

type trackedView struct {
	Contact      string    `cbor:"contact" json:"contact"`
	Online       bool      `cbor:"online" json:"online"`
	LastOnline   time.Time `cbor:"last_online,omitempty" json:"last_online"`
	DailySeconds int64     `cbor:"daily_seconds" json:"daily_seconds"`
	Day          string    `cbor:"day,omitempty" json:"day,omitempty"`
	LastOutbound time.Time `cbor:"last_outbound,omitempty" json:"last_outbound"`
	LastInbound  time.Time `cbor:"last_inbound,omitempty" json:"last_inbound"`
}
