package types

import (
	"errors"
	"fmt"
)

// Session error taxonomy. These are recorded as the current-error value
// on session state rather than thrown across component boundaries, so
// UI layers can render a banner without unwinding.
var (
	ErrConnectTimeout       = errors.New("connect attempt timed out")
	ErrAbnormalClosure      = errors.New("connection closed abnormally")
	ErrMaxReconnectExceeded = errors.New("reconnect attempts exhausted")
	ErrSendRejected         = errors.New("send rejected: no active room or socket not open")
	ErrMalformedFrame       = errors.New("malformed frame")
	ErrNoActiveRoom         = errors.New("no active room")
	ErrSocketNotOpen        = errors.New("socket not open")
	ErrStaleResult          = errors.New("result arrived after room changed")
	ErrTokenExpired         = errors.New("bearer token expired")
)

// Validation errors.
var (
	ErrInvalidRoomID      = errors.New("room ID must be 1-100 characters, alphanumeric + underscore/hyphen/colon")
	ErrInvalidUserID      = errors.New("user ID must be 1-50 characters, alphanumeric + underscore/hyphen")
	ErrInvalidMessageKind = errors.New("invalid message kind")
	ErrEmptyContent       = errors.New("message content cannot be empty")
	ErrContentTooLarge    = errors.New("message content exceeds 4KB limit")
)

// WebSocket close status codes the session core cares about.
// Everything else counts as abnormal and triggers bounded reconnect.
const (
	CloseNormal    = 1000
	CloseGoingAway = 1001
)

// CloseError reports the close status of a terminated socket without
// leaking the transport library across package boundaries.
type CloseError struct {
	Code int
	Text string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("socket closed: code=%d text=%q", e.Code, e.Text)
}

// IsNormalClosure reports whether err is a close with a normal or
// going-away status code.
func IsNormalClosure(err error) bool {
	var ce *CloseError
	if !errors.As(err, &ce) {
		return false
	}
	return ce.Code == CloseNormal || ce.Code == CloseGoingAway
}
