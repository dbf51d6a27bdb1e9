// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import "fmt"

// EventKind discriminates Event.
type EventKind int

const (
	// EventQR carries a pairing challenge in Challenge.
	EventQR EventKind = iota + 1
	// EventOpen means the connection is authenticated and syncing.
	EventOpen
	// EventClose carries Close; the events channel closes after it.
	EventClose
	// EventMessages carries new messages.
	EventMessages
	// EventHistory carries a history snapshot pushed by the network.
	EventHistory
	// EventPresence carries Contact and Presence.
	EventPresence
	// EventReceipt carries MessageID, Conversation and Status.
	EventReceipt
	// EventContacts carries address book entries.
	EventContacts
	// EventCorruption carries Symptom.
	EventCorruption
	// EventCredentials carries a new or rotated root credential.
	EventCredentials
)

func (k EventKind) String() string {
	switch k {
	case EventQR:
		return "qr"
	case EventOpen:
		return "open"
	case EventClose:
		return "close"
	case EventMessages:
		return "messages"
	case EventHistory:
		return "history"
	case EventPresence:
		return "presence"
	case EventReceipt:
		return "receipt"
	case EventContacts:
		return "contacts"
	case EventCorruption:
		return "corruption"
	case EventCredentials:
		return "credentials"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is one thing the network told us. Only the fields named by
// Kind are set.
type Event struct {
	Kind EventKind

	Challenge string

	Close CloseInfo

	Messages []Message
	Contacts []Contact

	Contact  Address
	Presence Presence

	MessageID    string
	Conversation Address
	Status       ReceiptStatus

	Symptom Symptom

	Credentials Credentials
}

// CloseReason says why the network closed a connection.
type CloseReason string

const (
	// ReasonLoggedOut: the credential was revoked. Terminal.
	ReasonLoggedOut       CloseReason = "logged_out"
	ReasonConnectionLost  CloseReason = "connection_lost"
	ReasonReplaced        CloseReason = "connection_replaced"
	ReasonTimedOut        CloseReason = "timed_out"
	ReasonRestartRequired CloseReason = "restart_required"
	ReasonBadSession      CloseReason = "bad_session"
	ReasonPairingExpired  CloseReason = "pairing_expired"
)

// CloseInfo describes an EventClose.
type CloseInfo struct {
	Reason CloseReason
	// Symptom is set when the close was caused by, or accompanied
	// by, a session corruption symptom.
	Symptom Symptom
	// Err is the underlying error, if any.
	Err error
}

// Corrupt reports whether the close carried a corruption symptom.
func (c CloseInfo) Corrupt() bool { return c.Symptom != "" }
