package interfaces

import (
	"context"
)

// Socket is one open full-duplex connection to a single chat room.
// Implementations must serialize writes; ReadMessage is called from a
// single reader goroutine.
type Socket interface {
	// WriteJSON sends a JSON frame to the server (thread-safe).
	WriteJSON(v interface{}) error

	// ReadMessage blocks until the next inbound payload or a terminal
	// error. Closed sockets return a *types.CloseError carrying the
	// close status code.
	ReadMessage() ([]byte, error)

	// Close performs the close handshake with the given status code and
	// releases the underlying connection. Safe to call more than once.
	Close(code int) error

	// RoomID returns the room this socket is scoped to.
	RoomID() string
}

// Dialer opens room-scoped sockets. The bearer token comes from the
// auth collaborator on every dial so refreshed tokens take effect.
type Dialer interface {
	Dial(ctx context.Context, roomID, token string) (Socket, error)
}

// Transmitter sends outbound frames over whatever socket is currently
// open. Components other than the connection manager never hold a
// socket directly.
type Transmitter interface {
	// Transmit writes a frame; returns types.ErrSocketNotOpen when no
	// socket is open.
	Transmit(v interface{}) error

	// Open reports whether a socket is currently open.
	Open() bool

	// OpenRoom returns the room ID of the open socket, or "".
	OpenRoom() string
}

// FrameSink consumes raw inbound payloads in arrival order.
type FrameSink interface {
	HandleFrame(raw []byte)
}
