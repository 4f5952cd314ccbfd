package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Frame discriminants shared by both directions of the wire contract.
const (
	FrameChatMessage      = "chat_message"
	FrameConnectionStatus = "connection_status"
	FrameTyping           = "typing"
	FrameReadReceipt      = "read_receipt"
	FrameMessageSent      = "message_sent"
)

// Presence events carried by connection_status frames.
const (
	PresenceJoined = "joined"
	PresenceLeft   = "left"
)

// ChatMessageFrame is the outbound chat message envelope.
type ChatMessageFrame struct {
	Type       string      `json:"type"`
	ChatRoomID string      `json:"chat_room_id"`
	SenderID   string      `json:"sender_id"`
	Content    string      `json:"content"`
	Kind       MessageKind `json:"message_type"`
	Timestamp  time.Time   `json:"timestamp"`
}

// TypingFrame is the outbound composing signal.
type TypingFrame struct {
	Type       string `json:"type"`
	ChatRoomID string `json:"chat_room_id"`
	SenderID   string `json:"sender_id"`
	IsTyping   bool   `json:"is_typing"`
}

// ReadReceiptFrame is the outbound viewed signal.
type ReadReceiptFrame struct {
	Type      string `json:"type"`
	MessageID int64  `json:"message_id"`
	SenderID  string `json:"sender_id"`
}

// InboundFrame is the superset of fields a server frame may carry.
// Which fields are required depends on the Type discriminant; callers
// must run Validate before routing.
type InboundFrame struct {
	Type string `json:"type"`

	// chat_message
	ID         int64       `json:"id,omitempty"`
	ChatRoomID string      `json:"chat_room_id,omitempty"`
	SenderID   string      `json:"sender_id,omitempty"`
	SenderName string      `json:"sender_name,omitempty"`
	Content    string      `json:"content,omitempty"`
	Kind       MessageKind `json:"message_type,omitempty"`
	CreatedAt  time.Time   `json:"created_at,omitempty"`
	Deleted    bool        `json:"is_deleted,omitempty"`

	// connection_status
	Event string `json:"event,omitempty"`

	// typing
	IsTyping bool `json:"is_typing,omitempty"`

	// read_receipt / message_sent
	MessageID int64 `json:"message_id,omitempty"`
}

// DecodeFrame parses a raw inbound payload. A frame without a type
// discriminant is malformed.
func DecodeFrame(raw []byte) (*InboundFrame, error) {
	var frame InboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if frame.Type == "" {
		return nil, fmt.Errorf("%w: missing type discriminant", ErrMalformedFrame)
	}
	return &frame, nil
}

// Validate checks the required fields for the declared frame type.
func (f *InboundFrame) Validate() error {
	switch f.Type {
	case FrameChatMessage:
		if f.ID <= 0 {
			return fmt.Errorf("%w: chat_message requires positive id", ErrMalformedFrame)
		}
		if f.ChatRoomID == "" || f.SenderID == "" {
			return fmt.Errorf("%w: chat_message requires chat_room_id and sender_id", ErrMalformedFrame)
		}
		if !IsValidMessageKind(f.Kind) {
			return fmt.Errorf("%w: chat_message has unknown message_type %q", ErrMalformedFrame, f.Kind)
		}
		if f.CreatedAt.IsZero() {
			return fmt.Errorf("%w: chat_message requires created_at", ErrMalformedFrame)
		}
	case FrameConnectionStatus:
		if f.ChatRoomID == "" || f.SenderID == "" {
			return fmt.Errorf("%w: connection_status requires chat_room_id and sender_id", ErrMalformedFrame)
		}
		if f.Event != PresenceJoined && f.Event != PresenceLeft {
			return fmt.Errorf("%w: connection_status has unknown event %q", ErrMalformedFrame, f.Event)
		}
	case FrameTyping:
		if f.ChatRoomID == "" || f.SenderID == "" {
			return fmt.Errorf("%w: typing requires chat_room_id and sender_id", ErrMalformedFrame)
		}
	case FrameReadReceipt:
		if f.MessageID <= 0 || f.SenderID == "" {
			return fmt.Errorf("%w: read_receipt requires message_id and sender_id", ErrMalformedFrame)
		}
	case FrameMessageSent:
		if f.MessageID <= 0 {
			return fmt.Errorf("%w: message_sent requires message_id", ErrMalformedFrame)
		}
	}
	return nil
}

// Message converts a validated chat_message frame into a log entry.
func (f *InboundFrame) Message() Message {
	return Message{
		ID:         ConfirmedID(f.ID),
		RoomID:     f.ChatRoomID,
		SenderID:   f.SenderID,
		SenderName: f.SenderName,
		Content:    f.Content,
		Kind:       f.Kind,
		CreatedAt:  f.CreatedAt,
		Deleted:    f.Deleted,
	}
}
