package types

import (
	"regexp"
)

var (
	userIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	roomIDRegex = regexp.MustCompile(`^[a-zA-Z0-9:_-]+$`)
)

// IsValidUserID checks if a user ID meets format requirements.
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > 50 {
		return false
	}
	return userIDRegex.MatchString(userID)
}

// IsValidRoomID checks if a room ID meets format requirements. Colons
// are allowed so direct rooms can use the dm:<a>:<b> convention.
func IsValidRoomID(roomID string) bool {
	if len(roomID) < 1 || len(roomID) > 100 {
		return false
	}
	return roomIDRegex.MatchString(roomID)
}

// IsValidMessageKind checks if the kind is one of the allowed kinds.
func IsValidMessageKind(kind MessageKind) bool {
	switch kind {
	case MessageKindText, MessageKindImage, MessageKindFile, MessageKindSystem:
		return true
	default:
		return false
	}
}

// ValidateContent checks outbound message content limits.
func ValidateContent(content string) error {
	if content == "" {
		return ErrEmptyContent
	}
	if len(content) > 4096 {
		return ErrContentTooLarge
	}
	return nil
}
