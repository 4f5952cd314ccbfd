package interfaces

import (
	"context"

	"chatsession/pkg/types"
)

// RoomDirectory is the REST collaborator for room metadata, history
// and participant management. The session core consumes it, it does
// not implement it; internal/roomapi carries the HTTP implementation.
type RoomDirectory interface {
	// Room fetches metadata for one room.
	Room(ctx context.Context, roomID string) (*types.Room, error)

	// Rooms lists the rooms visible to the current user.
	Rooms(ctx context.Context) ([]types.Room, error)

	// History fetches up to limit most recent messages for a room,
	// ordered by creation time ascending.
	History(ctx context.Context, roomID string, limit int) ([]types.Message, error)

	// Participants lists the current members of a room.
	Participants(ctx context.Context, roomID string) ([]types.Participant, error)

	// Leave removes a user from a room.
	Leave(ctx context.Context, roomID, userID string) error
}

// TokenSource is the auth collaborator. Token may fail with
// types.ErrTokenExpired; the session core surfaces that and never
// retries auth itself.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	UserID() string
}

// SessionListener observes session state changes. Callbacks run
// outside the state lock, in mutation order per mutator.
type SessionListener interface {
	SessionUpdated(snapshot types.SessionSnapshot)
}

// SessionListenerFunc adapts a function to the SessionListener interface.
type SessionListenerFunc func(snapshot types.SessionSnapshot)

func (f SessionListenerFunc) SessionUpdated(snapshot types.SessionSnapshot) {
	f(snapshot)
}

// MessageRecorder persists confirmed messages for offline display.
// Recording failures must not disturb the live session.
type MessageRecorder interface {
	Record(msg types.Message) error
}
