package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"chatsession/pkg/types"
)

// Claims mirrors the token payload issued by the auth service.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// StaticTokenSource hands out a fixed bearer token. The client holds
// no signing key, so the token is parsed unverified purely to catch
// expiry locally: an expired token surfaces types.ErrTokenExpired
// immediately instead of burning a connect attempt. Refresh is the
// auth service's job, not this package's.
type StaticTokenSource struct {
	token  string
	userID string
}

// NewStaticTokenSource creates a source for token. If userID is empty
// it is taken from the token's user_id claim.
func NewStaticTokenSource(token, userID string) (*StaticTokenSource, error) {
	if userID == "" {
		claimed, err := UserIDFromToken(token)
		if err != nil {
			return nil, fmt.Errorf("no user ID given and none in token: %w", err)
		}
		userID = claimed
	}
	if !types.IsValidUserID(userID) {
		return nil, types.ErrInvalidUserID
	}
	return &StaticTokenSource{token: token, userID: userID}, nil
}

// Token implements interfaces.TokenSource.
func (s *StaticTokenSource) Token(ctx context.Context) (string, error) {
	if TokenExpired(s.token, time.Now()) {
		return "", types.ErrTokenExpired
	}
	return s.token, nil
}

// UserID implements interfaces.TokenSource.
func (s *StaticTokenSource) UserID() string {
	return s.userID
}

// TokenExpired reports whether token is a JWT whose exp claim is in
// the past. Opaque non-JWT tokens pass through; the server decides.
func TokenExpired(token string, now time.Time) bool {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return claims.ExpiresAt.Before(now)
}

// UserIDFromToken extracts the user_id claim without verifying the
// signature.
func UserIDFromToken(token string) (string, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}
	if claims.UserID == "" {
		return "", fmt.Errorf("token has no user_id claim")
	}
	return claims.UserID, nil
}
