// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/bureau-foundation/switchboard/engine"
	"github.com/bureau-foundation/switchboard/instance"
	"github.com/bureau-foundation/switchboard/lib/adminsock"
	"github.com/bureau-foundation/switchboard/lib/clock"
	"github.com/bureau-foundation/switchboard/lib/version"
	"github.com/bureau-foundation/switchboard/stealth"
	"github.com/bureau-foundation/switchboard/store"
	"github.com/bureau-foundation/switchboard/traffic"
	"github.com/bureau-foundation/switchboard/transport"
)

// admin serves the administrative socket actions.
type admin struct {
	engine    *engine.Engine
	transport string
	clock     clock.Clock
	startedAt time.Time
}

func (a *admin) register(server *adminsock.Server) {
	server.Classify = classify

	server.Handle("status", a.handleStatus)
	server.Handle("list", a.handleList)
	server.Handle("create", a.handleCreate)
	server.Handle("delete", a.handleDelete)
	server.Handle("restart", a.handleRestart)
	server.Handle("wipe", a.handleWipe)

	server.Handle("reconnect", a.handleReconnect)
	server.Handle("presence", a.handlePresence)
	server.Handle("pair", a.handlePair)
	server.Handle("send", a.handleSend)
	server.Handle("avatar", a.handleAvatar)

	server.Handle("schedule-add", a.handleScheduleAdd)
	server.Handle("schedule-remove", a.handleScheduleRemove)
	server.Handle("schedule-list", a.handleScheduleList)

	server.Handle("track", a.handleTrack)
	server.Handle("untrack", a.handleUntrack)
	server.Handle("tracked", a.handleTracked)

	server.Handle("setting", a.handleSetting)
}

// classify maps errors to the codes the CLI branches on.
func classify(err error) string {
	switch {
	case errors.Is(err, engine.ErrUnknownInstance):
		return "unknown_instance"
	case errors.Is(err, engine.ErrInvalidName), errors.Is(err, engine.ErrUnknownSetting),
		errors.Is(err, transport.ErrInvalidAddress), errors.Is(err, instance.ErrInvalidPresence),
		errors.Is(err, instance.ErrEmptyMessage):
		return "invalid_argument"
	case errors.Is(err, traffic.ErrNotConnected):
		return "not_connected"
	case errors.Is(err, transport.ErrNoChallenge):
		return "no_challenge"
	case errors.Is(err, store.ErrNotFound), errors.Is(err, transport.ErrNotFound):
		return "not_found"
	case errors.Is(err, engine.ErrShutdown), errors.Is(err, instance.ErrStopped):
		return "shutting_down"
	case traffic.IsCancelled(err):
		return "cancelled"
	}
	return ""
}

type statusResponse struct {
	Version       string  `cbor:"version"`
	Transport     string  `cbor:"transport"`
	UptimeSeconds float64 `cbor:"uptime_seconds"`
	Instances     int     `cbor:"instances"`
	Connected     int     `cbor:"connected"`
}

func (a *admin) handleStatus(ctx context.Context, raw []byte) (any, error) {
	snapshots := a.engine.ListInstances()
	connected := 0
	for _, snapshot := range snapshots {
		if snapshot.Status == instance.StatusConnected {
			connected++
		}
	}
	return statusResponse{
		Version:       version.Info(),
		Transport:     a.transport,
		UptimeSeconds: clock.Since(a.clock, a.startedAt).Seconds(),
		Instances:     len(snapshots),
		Connected:     connected,
	}, nil
}

// instanceView is the wire form of instance.Snapshot.
type instanceView struct {
	ID          int64     `cbor:"id"`
	Name        string    `cbor:"name"`
	Owner       string    `cbor:"owner,omitempty"`
	Status      string    `cbor:"status"`
	Challenge   string    `cbor:"challenge,omitempty"`
	Presence    string    `cbor:"presence"`
	NeedsRelink bool      `cbor:"needs_relink"`
	CreatedAt   time.Time `cbor:"created_at"`
	Symptoms    int       `cbor:"symptoms"`
	Queued      int       `cbor:"queued"`
	Running     bool      `cbor:"running"`
	Executed    uint64    `cbor:"executed"`
	Failed      uint64    `cbor:"failed"`
}

func viewInstance(snapshot instance.Snapshot) instanceView {
	queued := 0
	for _, depth := range snapshot.Queue.Depth {
		queued += depth
	}
	return instanceView{
		ID:          snapshot.ID,
		Name:        snapshot.Name,
		Owner:       snapshot.Owner,
		Status:      string(snapshot.Status),
		Challenge:   snapshot.Challenge,
		Presence:    string(snapshot.Presence),
		NeedsRelink: snapshot.NeedsRelink,
		CreatedAt:   snapshot.CreatedAt,
		Symptoms:    snapshot.Symptoms,
		Queued:      queued,
		Running:     snapshot.Queue.Running,
		Executed:    uint64(snapshot.Queue.Executed),
		Failed:      uint64(snapshot.Queue.Failed),
	}
}

func (a *admin) handleList(ctx context.Context, raw []byte) (any, error) {
	snapshots := a.engine.ListInstances()
	views := make([]instanceView, len(snapshots))
	for index, snapshot := range snapshots {
		views[index] = viewInstance(snapshot)
	}
	return views, nil
}

type createRequest struct {
	Name  string `cbor:"name"`
	Owner string `cbor:"owner"`
}

func (a *admin) handleCreate(ctx context.Context, raw []byte) (any, error) {
	request, err := adminsock.Decode[createRequest](raw)
	if err != nil {
		return nil, err
	}
	snapshot, err := a.engine.CreateInstance(ctx, request.Name, request.Owner)
	if err != nil {
		return nil, err
	}
	return viewInstance(snapshot), nil
}

// instanceRequest is the common shape of single-instance actions.
type instanceRequest struct {
	Instance int64 `cbor:"instance"`
}

func (a *admin) handleDelete(ctx context.Context, raw []byte) (any, error) {
	request, err := adminsock.Decode[instanceRequest](raw)
	if err != nil {
		return nil, err
	}
	return nil, a.engine.DeleteInstance(ctx, request.Instance)
}

func (a *admin) handleRestart(ctx context.Context, raw []byte) (any, error) {
	request, err := adminsock.Decode[instanceRequest](raw)
	if err != nil {
		return nil, err
	}
	snapshot, err := a.engine.Restart(ctx, request.Instance)
	if err != nil {
		return nil, err
	}
	return viewInstance(snapshot), nil
}

type wipeRequest struct {
	Instances []int64 `cbor:"instances"`
}

func (a *admin) handleWipe(ctx context.Context, raw []byte) (any, error) {
	request, err := adminsock.Decode[wipeRequest](raw)
	if err != nil {
		return nil, err
	}
	if len(request.Instances) == 0 {
		return nil, fmt.Errorf("%w: no instances given", engine.ErrUnknownInstance)
	}
	return nil, a.engine.Wipe(ctx, request.Instances...)
}

func (a *admin) handleReconnect(ctx context.Context, raw []byte) (any, error) {
	request, err := adminsock.Decode[instanceRequest](raw)
	if err != nil {
		return nil, err
	}
	return nil, a.engine.Reconnect(ctx, request.Instance)
}

type presenceRequest struct {
	Instance int64  `cbor:"instance"`
	Presence string `cbor:"presence"`
}

func (a *admin) handlePresence(ctx context.Context, raw []byte) (any, error) {
	request, err := adminsock.Decode[presenceRequest](raw)
	if err != nil {
		return nil, err
	}
	return nil, a.engine.SetPresence(ctx, request.Instance, transport.Presence(request.Presence))
}

type pairRequest struct {
	Instance int64  `cbor:"instance"`
	Account  string `cbor:"account"`
	Secret   string `cbor:"secret"`
}

func (a *admin) handlePair(ctx context.Context, raw []byte) (any, error) {
	request, err := adminsock.Decode[pairRequest](raw)
	if err != nil {
		return nil, err
	}
	return nil, a.engine.Pair(ctx, request.Instance, transport.PairingResponse{Account: request.Account, Secret: request.Secret})
}

type sendRequest struct {
	Instance int64  `cbor:"instance"`
	To       string `cbor:"to"`
	Text     string `cbor:"text"`
}

type sendResponse struct {
	MessageID string `cbor:"message_id"`
}

func (a *admin) handleSend(ctx context.Context, raw []byte) (any, error) {
	request, err := adminsock.Decode[sendRequest](raw)
	if err != nil {
		return nil, err
	}
	id, err := a.engine.SendText(ctx, request.Instance, request.To, request.Text)
	if err != nil {
		return nil, err
	}
	return sendResponse{MessageID: id}, nil
}

type contactRequest struct {
	Instance int64  `cbor:"instance"`
	Contact  string `cbor:"contact"`
}

type avatarResponse struct {
	URL string `cbor:"url"`
}

func (a *admin) handleAvatar(ctx context.Context, raw []byte) (any, error) {
	request, err := adminsock.Decode[contactRequest](raw)
	if err != nil {
		return nil, err
	}
	url, err := a.engine.ProfilePicture(ctx, request.Instance, request.Contact)
	if err != nil {
		return nil, err
	}
	return avatarResponse{URL: url}, nil
}

type scheduleRequest struct {
	Instance int64    `cbor:"instance"`
	Name     string   `cbor:"name"`
	Start    string   `cbor:"start"`
	End      string   `cbor:"end"`
	Days     string   `cbor:"days,omitempty"`
	Mode     string   `cbor:"mode"`
	Enabled  *bool    `cbor:"enabled,omitempty"`
	Targets  []string `cbor:"targets,omitempty"`
}

type scheduleView struct {
	ID       int64    `cbor:"id"`
	Name     string   `cbor:"name"`
	Start    string   `cbor:"start"`
	End      string   `cbor:"end"`
	Days     string   `cbor:"days"`
	Mode     string   `cbor:"mode"`
	Enabled  bool     `cbor:"enabled"`
	Position int      `cbor:"position"`
	Targets  []string `cbor:"targets,omitempty"`
}

func viewSchedule(schedule store.Schedule) scheduleView {
	view := scheduleView{
		ID:       schedule.ID,
		Name:     schedule.Name,
		Start:    schedule.Window.Start.String(),
		End:      schedule.Window.End.String(),
		Days:     schedule.Window.Days.String(),
		Mode:     schedule.Mode,
		Enabled:  schedule.Enabled,
		Position: schedule.Position,
	}
	for _, target := range schedule.Targets {
		view.Targets = append(view.Targets, string(target))
	}
	return view
}

func (a *admin) handleScheduleAdd(ctx context.Context, raw []byte) (any, error) {
	request, err := adminsock.Decode[scheduleRequest](raw)
	if err != nil {
		return nil, err
	}
	schedule, err := a.engine.AddSchedule(ctx, request.Instance, stealth.ScheduleSpec{
		Name:    request.Name,
		Start:   request.Start,
		End:     request.End,
		Days:    request.Days,
		Mode:    request.Mode,
		Enabled: request.Enabled,
		Targets: request.Targets,
	})
	if err != nil {
		return nil, err
	}
	return viewSchedule(schedule), nil
}

type scheduleRemoveRequest struct {
	Instance int64 `cbor:"instance"`
	Schedule int64 `cbor:"schedule"`
}

func (a *admin) handleScheduleRemove(ctx context.Context, raw []byte) (any, error) {
	request, err := adminsock.Decode[scheduleRemoveRequest](raw)
	if err != nil {
		return nil, err
	}
	return nil, a.engine.RemoveSchedule(ctx, request.Instance, request.Schedule)
}

func (a *admin) handleScheduleList(ctx context.Context, raw []byte) (any, error) {
	request, err := adminsock.Decode[instanceRequest](raw)
	if err != nil {
		return nil, err
	}
	schedules, err := a.engine.ListSchedules(ctx, request.Instance)
	if err != nil {
		return nil, err
	}
	views := make([]scheduleView, len(schedules))
	for index, schedule := range schedules {
		views[index] = viewSchedule(schedule)
	}
	return views, nil
}

func (a *admin) handleTrack(ctx context.Context, raw []byte) (any, error) {
	request, err := adminsock.Decode[contactRequest](raw)
	if err != nil {
		return nil, err
	}
	return nil, a.engine.TrackContact(ctx, request.Instance, request.Contact)
}

func (a *admin) handleUntrack(ctx context.Context, raw []byte) (any, error) {
	request, err := adminsock.Decode[contactRequest](raw)
	if err != nil {
		return nil, err
	}
	return nil, a.engine.UntrackContact(ctx, request.Instance, request.Contact)
}

type trackedView struct {
	Contact      string    `cbor:"contact"`
	Online       bool      `cbor:"online"`
	LastOnline   time.Time `cbor:"last_online,omitempty"`
	DailySeconds int64     `cbor:"daily_seconds"`
	Day          string    `cbor:"day,omitempty"`
	LastOutbound time.Time `cbor:"last_outbound,omitempty"`
	LastInbound  time.Time `cbor:"last_inbound,omitempty"`
}

func (a *admin) handleTracked(ctx context.Context, raw []byte) (any, error) {
	request, err := adminsock.Decode[instanceRequest](raw)
	if err != nil {
		return nil, err
	}
	contacts, err := a.engine.ListTracked(request.Instance)
	if err != nil {
		return nil, err
	}
	sort.Slice(contacts, func(i, j int) bool { return contacts[i].Address < contacts[j].Address })
	views := make([]trackedView, len(contacts))
	for index, contact := range contacts {
		views[index] = trackedView{
			Contact:      string(contact.Address),
			Online:       !contact.OnlineSince.IsZero(),
			LastOnline:   contact.LastOnline,
			DailySeconds: contact.DailySeconds,
			Day:          contact.Day,
			LastOutbound: contact.LastOutbound,
			LastInbound:  contact.LastInbound,
		}
	}
	return views, nil
}

type settingRequest struct {
	Instance int64  `cbor:"instance"`
	Key      string `cbor:"key"`
	Value    string `cbor:"value"`
}

func (a *admin) handleSetting(ctx context.Context, raw []byte) (any, error) {
	request, err := adminsock.Decode[settingRequest](raw)
	if err != nil {
		return nil, err
	}
	return nil, a.engine.SetSetting(ctx, request.Instance, request.Key, request.Value)
}
