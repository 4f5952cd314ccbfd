package types

import (
	"time"
)

// RoomType distinguishes group channels from one-to-one conversations.
type RoomType string

const (
	RoomTypeGroup  RoomType = "group"
	RoomTypeDirect RoomType = "direct"
)

// MessageKind classifies message payloads on the wire and in the log.
type MessageKind string

const (
	MessageKindText   MessageKind = "text"
	MessageKindImage  MessageKind = "image"
	MessageKindFile   MessageKind = "file"
	MessageKindSystem MessageKind = "system"
)

// ConnectionStatus describes the socket lifecycle for the active room.
// Any status other than StatusConnected implies there is no usable socket.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusReconnecting ConnectionStatus = "reconnecting"
)

// Room is chat room metadata owned by the room directory collaborator.
// Read-only inside the session core.
type Room struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Type             RoomType `json:"room_type"`
	ParticipantCount int      `json:"participant_count"`
	LastMessage      string   `json:"last_message,omitempty"`
}

// MessageID is a tagged message identity: either a server-assigned
// confirmed id, or a local token for an optimistic entry that has not
// been confirmed yet. Local tokens come from a monotonic counter, never
// from wall-clock time.
type MessageID struct {
	confirmed int64
	local     uint64
}

// ConfirmedID wraps a server-assigned message identifier.
func ConfirmedID(id int64) MessageID {
	return MessageID{confirmed: id}
}

// PendingID wraps a local token for an unconfirmed optimistic message.
func PendingID(token uint64) MessageID {
	return MessageID{local: token}
}

// IsPending reports whether the identity is a local placeholder.
func (id MessageID) IsPending() bool {
	return id.confirmed == 0
}

// Confirmed returns the server-assigned identifier, if any.
func (id MessageID) Confirmed() (int64, bool) {
	if id.confirmed != 0 {
		return id.confirmed, true
	}
	return 0, false
}

// LocalToken returns the local placeholder token, if any.
func (id MessageID) LocalToken() (uint64, bool) {
	if id.confirmed == 0 {
		return id.local, true
	}
	return 0, false
}

// Message is one entry in a room's message log.
type Message struct {
	ID         MessageID
	RoomID     string
	SenderID   string
	SenderName string
	Content    string
	Kind       MessageKind
	CreatedAt  time.Time
	Deleted    bool
}

// Participant is a member of the active room.
type Participant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// TypingEvent is a transient composing signal. Only the most recent
// event per sender is meaningful; it is never stored in the log.
type TypingEvent struct {
	RoomID   string
	SenderID string
	IsTyping bool
	At       time.Time
}

// ReadReceipt is a transient viewed signal, latest per sender wins.
type ReadReceipt struct {
	MessageID int64
	SenderID  string
	At        time.Time
}

// SessionSnapshot is an immutable copy of session state handed to
// observers. Slices and maps are owned by the receiver.
type SessionSnapshot struct {
	Status       ConnectionStatus
	ActiveRoom   *Room
	Rooms        []Room
	Messages     []Message
	Participants []Participant
	Typing       map[string]TypingEvent
	Receipts     map[string]ReadReceipt
	LastError    error
}
