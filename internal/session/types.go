// Package session implements the client-side chat session coordinator:
// one live connection, one merged message stream for the active
// conversation, and an ordered index of direct-message threads.
package session

import "time"

type Kind string

const (
	KindCommunity Kind = "community"
	KindDirect    Kind = "direct"
)

// State tags the delivery status of a locally-originated message. Remote
// messages are always confirmed.
type State string

const (
	StatePending   State = "pending"
	StateConfirmed State = "confirmed"
	StateFailed    State = "failed"
)

// Message is one entry of the visible log. Entries are append-only and
// ordered by arrival as observed by this client, never re-sorted.
type Message struct {
	ID         string
	Kind       Kind
	Body       string
	Sender     string
	SenderName string
	SentAt     time.Time
	State      State

	// ref ties a pending local send to its ack.
	ref string
}

// Conversation is one direct-thread summary, updated in place and moved
// to the front of the index on activity.
type Conversation struct {
	Counterpart    string
	DisplayName    string
	LastPreview    string
	LastActivityAt time.Time
	Unread         int
}

// ContextKind says what the visible log currently shows.
type ContextKind int

const (
	ContextNone ContextKind = iota
	ContextCommunity
	ContextDirect
)
