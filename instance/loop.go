// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package instance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/bureau-foundation/switchboard/lib/clock"
	"github.com/bureau-foundation/switchboard/store"
	"github.com/bureau-foundation/switchboard/traffic"
	"github.com/bureau-foundation/switchboard/transport"
)

// run is the event loop. It is the only goroutine that changes the
// connection or the status.
func (i *Instance) run() {
	defer close(i.done)
	defer i.shutdown()
	for {
		select {
		case <-i.ctx.Done():
			return
		case command := <-i.commands:
			i.guard("command", command)
		case symptom := <-i.symptoms:
			i.guard("symptom", func() { i.noteSymptom(symptom) })
		case event, ok := <-i.events:
			if !ok {
				i.guard("close", func() {
					i.handleClose(transport.CloseInfo{Reason: transport.ReasonConnectionLost})
				})
				continue
			}
			i.guard(event.Kind.String(), func() { i.handle(event) })
		}
	}
}

func (i *Instance) guard(what string, fn func()) {
	defer func() {
		if recovered := recover(); recovered != nil {
			i.logger.Error("event loop panicked",
				"handling", what,
				"panic", recovered,
				"stack", string(debug.Stack()),
			)
		}
	}()
	fn()
}

func (i *Instance) handle(event transport.Event) {
	switch event.Kind {
	case transport.EventQR:
		i.mu.Lock()
		i.challenge = event.Challenge
		i.mu.Unlock()
		i.setStatus(StatusQRPending)
	case transport.EventOpen:
		i.handleOpen()
	case transport.EventClose:
		i.handleClose(event.Close)
	case transport.EventMessages:
		i.handleMessages(event.Messages, true)
	case transport.EventHistory:
		i.handleMessages(event.Messages, false)
	case transport.EventPresence:
		i.social.HandlePresence(i.ctx, event.Contact, event.Presence)
	case transport.EventReceipt:
		if _, err := i.store.SetMessageStatus(i.ctx, i.record.ID, event.MessageID, event.Status); err != nil {
			i.logger.Warn("recording receipt failed", "message_id", event.MessageID, "error", err)
		}
	case transport.EventContacts:
		if err := i.store.UpsertContacts(i.ctx, i.record.ID, event.Contacts); err != nil {
			i.logger.Warn("storing contacts failed", "count", len(event.Contacts), "error", err)
		}
	case transport.EventCorruption:
		i.noteSymptom(event.Symptom)
	case transport.EventCredentials:
		if err := i.auth.SaveCredentials(event.Credentials); err != nil {
			i.logger.Error("saving credentials failed", "error", err)
		}
	default:
		i.logger.Debug("ignoring transport event", "kind", event.Kind.String())
	}
}

// dial opens a connection unless one exists. Failures schedule a retry
// with exponential backoff.
func (i *Instance) dial() {
	i.cancelReconnect()
	i.mu.Lock()
	existing := i.conn != nil
	i.mu.Unlock()
	if existing || i.ctx.Err() != nil {
		return
	}

	credentials, err := i.auth.Credentials()
	if err != nil {
		i.logger.Error("reading credentials failed, pairing anew", "error", err)
		credentials = nil
	}

	generation, retire := context.WithCancel(i.ctx)
	handler := transport.NewSymptomHandler(i.logger.Handler(), i.reportSymptom)
	conn, err := i.dialer.Dial(generation, transport.DialOptions{
		Credentials: credentials,
		Keys:        i.auth,
		Logger:      slog.New(handler).With("transport", i.dialer.Name()),
	})
	if err != nil {
		retire()
		i.dialAttempts++
		delay := backoff(i.dialAttempts)
		i.logger.Warn("dial failed",
			"attempt", i.dialAttempts,
			"retry_in", delay,
			"error", err,
		)
		i.scheduleReconnect(delay)
		return
	}

	i.mu.Lock()
	i.conn = conn
	i.generation = generation
	i.retire = retire
	i.mu.Unlock()
	i.events = conn.Events()
	i.logger.Info("dialed",
		"transport", i.dialer.Name(),
		"has_credentials", len(credentials) > 0,
	)
}

// backoff returns ReconnectDelay doubled per failed attempt after the
// first, capped at MaxReconnectDelay.
func backoff(attempt int) time.Duration {
	delay := ReconnectDelay
	for n := 1; n < attempt && delay < MaxReconnectDelay; n++ {
		delay *= 2
	}
	return min(delay, MaxReconnectDelay)
}

func (i *Instance) scheduleReconnect(delay time.Duration) {
	if i.reconnectTimer != nil {
		return
	}
	var timer *clock.Timer
	timer = i.clock.AfterFunc(delay, func() {
		i.postAsync(func() {
			if i.reconnectTimer != timer {
				return
			}
			i.reconnectTimer = nil
			i.dial()
		})
	})
	i.reconnectTimer = timer
}

func (i *Instance) cancelReconnect() {
	if i.reconnectTimer != nil {
		i.reconnectTimer.Stop()
		i.reconnectTimer = nil
	}
}

func (i *Instance) handleOpen() {
	i.dialAttempts = 0
	i.cancelReconnect()

	i.mu.Lock()
	i.challenge = ""
	relinked := i.needsRelink
	i.needsRelink = false
	generation := i.generation
	desired := i.presence
	i.mu.Unlock()

	i.setStatus(StatusConnected)
	if relinked {
		if err := i.store.SetNeedsRelink(i.ctx, i.record.ID, false); err != nil {
			i.logger.Warn("clearing relink flag failed", "error", err)
		}
	}
	if generation == nil {
		return
	}

	if err := i.social.Load(generation); err != nil {
		i.logger.Warn("reloading tracked contacts failed", "error", err)
	}
	i.workers.Arm(generation)
	i.stealth.Arm(generation)
	go i.pushPresence(generation, desired)
}

func (i *Instance) handleClose(info transport.CloseInfo) {
	i.teardown()
	logger := i.logger.With("reason", string(info.Reason))
	if info.Err != nil {
		logger = logger.With("error", info.Err)
	}

	switch {
	case info.Reason == transport.ReasonLoggedOut:
		logger.Warn("logged out, relink required")
		i.cancelReconnect()
		i.health.Reset()
		i.wipeCredentials()
		i.setStatus(StatusDisconnected)
	case info.Corrupt():
		logger.Error("connection closed on corrupt session, hard repair", "symptom", string(info.Symptom))
		i.health.Reset()
		i.wipeCredentials()
		i.setStatus(StatusDisconnected)
		i.scheduleReconnect(ReconnectDelay)
	default:
		logger.Info("connection closed")
		i.setStatus(StatusDisconnected)
		i.scheduleReconnect(ReconnectDelay)
	}
}

// wipeCredentials deletes all auth material and flags the instance for
// relinking.
func (i *Instance) wipeCredentials() {
	if err := i.auth.WipeAll(); err != nil {
		i.logger.Error("wiping auth material failed", "error", err)
	}
	i.mu.Lock()
	i.needsRelink = true
	i.mu.Unlock()
	if err := i.store.SetNeedsRelink(i.ctx, i.record.ID, true); err != nil {
		i.logger.Warn("setting relink flag failed", "error", err)
	}
}

// reconnect tears the connection down, drops MEDIUM and LOW work and
// redials after ReconnectCooldown. HIGH tasks stay queued.
func (i *Instance) reconnect(reason string) {
	dropped := i.queue.Clear(traffic.Medium)
	i.teardown()
	i.logger.Info("reconnecting", "reason", reason, "dropped_tasks", dropped)
	i.setStatus(StatusDisconnected)
	i.cancelReconnect()
	i.scheduleReconnect(ReconnectCooldown)
}

// teardown closes the current connection and then disarms the
// connection-bound components. The connection goes first: retiring its
// generation cancels in-flight requests, which the workers may be
// waiting on.
func (i *Instance) teardown() {
	i.mu.Lock()
	conn, retire := i.conn, i.retire
	i.conn, i.generation, i.retire = nil, nil, nil
	i.mu.Unlock()
	i.events = nil

	if retire != nil {
		retire()
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			i.logger.Debug("closing connection failed", "error", err)
		}
	}

	i.workers.Disarm()
	i.stealth.Disarm()
}

// shutdown runs when the loop exits.
func (i *Instance) shutdown() {
	i.cancelReconnect()
	i.teardown()
	i.mu.Lock()
	changed := i.status != StatusDisconnected
	i.status = StatusDisconnected
	i.challenge = ""
	i.broadcastLocked()
	i.mu.Unlock()
	if changed {
		if err := i.store.SetInstanceStatus(context.Background(), i.record.ID, string(StatusDisconnected)); err != nil {
			i.logger.Warn("persisting status failed", "error", err)
		}
	}
}

func (i *Instance) setStatus(status Status) {
	i.mu.Lock()
	previous := i.status
	i.status = status
	if status != StatusQRPending {
		i.challenge = ""
	}
	i.broadcastLocked()
	i.mu.Unlock()

	if previous != status {
		i.logger.Info("status changed", "from", string(previous), "to", string(status))
	}
	if err := i.store.SetInstanceStatus(i.ctx, i.record.ID, string(status)); err != nil {
		i.logger.Warn("persisting status failed", "status", string(status), "error", err)
	}
}

func (i *Instance) handleMessages(messages []transport.Message, live bool) {
	added, err := i.store.UpsertMessages(i.ctx, i.record.ID, messages)
	if err != nil {
		i.logger.Warn("storing messages failed", "count", len(messages), "error", err)
		return
	}
	for _, message := range added {
		activity := store.Activity{
			Address: message.Conversation,
			IsGroup: i.dialer.IsGroup(message.Conversation),
			At:      message.Timestamp,
		}
		if live && !message.FromMe {
			activity.Unread = 1
		}
		if err := i.store.TouchConversation(i.ctx, i.record.ID, activity); err != nil {
			i.logger.Warn("updating conversation failed", "conversation", message.Conversation, "error", err)
			continue
		}
		if live && !activity.IsGroup {
			if message.FromMe {
				i.social.NoteOutbound(i.ctx, message.Conversation, message.Timestamp)
			} else {
				i.social.NoteInbound(i.ctx, message.Conversation, message.Timestamp)
			}
		}
		i.names.Request(message.Conversation)
		i.pictures.Request(message.Conversation)
	}
}

// reportSymptom is called by the transport's log handler from any
// goroutine and must not block.
func (i *Instance) reportSymptom(symptom transport.Symptom) {
	select {
	case i.symptoms <- symptom:
	default:
		dropped := i.droppedSymptoms.Add(1)
		i.logger.Debug("symptom buffer full, dropping", "symptom", string(symptom), "dropped", dropped)
	}
}

func (i *Instance) noteSymptom(symptom transport.Symptom) {
	now := i.clock.Now()
	i.logger.Debug("corruption symptom", "symptom", string(symptom), "count", i.health.Count(now)+1)
	if !i.health.Add(now) {
		return
	}
	i.logger.Error("corruption threshold reached, soft repair", "symptom", string(symptom))
	i.teardown()
	if err := i.auth.WipeSession(); err != nil {
		i.logger.Error("wiping session keys failed", "error", err)
	}
	i.queue.Clear(traffic.Medium)
	i.setStatus(StatusDisconnected)
	i.cancelReconnect()
	i.scheduleReconnect(ReconnectCooldown)
}

func (i *Instance) pushPresence(ctx context.Context, presence transport.Presence) {
	err := traffic.Run(ctx, i.queue, traffic.High, func(ctx context.Context, conn traffic.Conn) error {
		return conn.SetPresence(ctx, presence)
	})
	switch {
	case err == nil:
		i.logger.Debug("presence pushed", "presence", string(presence))
	case errors.Is(err, context.Canceled), traffic.IsCancelled(err):
	default:
		i.logger.Warn("pushing presence failed", "presence", string(presence), "error", fmt.Errorf("instance: %w", err))
	}
}
