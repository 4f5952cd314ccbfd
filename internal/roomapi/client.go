package roomapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"chatsession/pkg/interfaces"
	"chatsession/pkg/types"
)

// Client is the HTTP implementation of the room directory contract:
// room metadata, room list, paginated history and participant
// management. The session core only sees interfaces.RoomDirectory.
type Client struct {
	base   string
	http   *http.Client
	tokens interfaces.TokenSource
}

// NewClient creates a directory client for base, e.g.
// "https://api.example.com".
func NewClient(base string, tokens interfaces.TokenSource) *Client {
	return &Client{
		base:   strings.TrimRight(base, "/"),
		http:   &http.Client{Timeout: 10 * time.Second},
		tokens: tokens,
	}
}

// wireMessage is the history payload shape; ids on the wire are plain
// positive integers, converted to confirmed ids on decode.
type wireMessage struct {
	ID         int64             `json:"id"`
	ChatRoomID string            `json:"chat_room_id"`
	SenderID   string            `json:"sender_id"`
	SenderName string            `json:"sender_name"`
	Content    string            `json:"content"`
	Kind       types.MessageKind `json:"message_type"`
	CreatedAt  time.Time         `json:"created_at"`
	Deleted    bool              `json:"is_deleted"`
}

func (w wireMessage) message() types.Message {
	return types.Message{
		ID:         types.ConfirmedID(w.ID),
		RoomID:     w.ChatRoomID,
		SenderID:   w.SenderID,
		SenderName: w.SenderName,
		Content:    w.Content,
		Kind:       w.Kind,
		CreatedAt:  w.CreatedAt,
		Deleted:    w.Deleted,
	}
}

// Room fetches metadata for one room.
func (c *Client) Room(ctx context.Context, roomID string) (*types.Room, error) {
	var room types.Room
	path := "/api/chat/rooms/" + url.PathEscape(roomID)
	if err := c.do(ctx, http.MethodGet, path, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

// Rooms lists the rooms visible to the current user.
func (c *Client) Rooms(ctx context.Context) ([]types.Room, error) {
	var rooms []types.Room
	if err := c.do(ctx, http.MethodGet, "/api/chat/rooms", &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

// History fetches up to limit most recent messages, oldest first.
func (c *Client) History(ctx context.Context, roomID string, limit int) ([]types.Message, error) {
	var wire []wireMessage
	path := "/api/chat/rooms/" + url.PathEscape(roomID) + "/messages?limit=" + strconv.Itoa(limit)
	if err := c.do(ctx, http.MethodGet, path, &wire); err != nil {
		return nil, err
	}
	out := make([]types.Message, 0, len(wire))
	for _, w := range wire {
		out = append(out, w.message())
	}
	return out, nil
}

// Participants lists the current members of a room.
func (c *Client) Participants(ctx context.Context, roomID string) ([]types.Participant, error) {
	var participants []types.Participant
	path := "/api/chat/rooms/" + url.PathEscape(roomID) + "/participants"
	if err := c.do(ctx, http.MethodGet, path, &participants); err != nil {
		return nil, err
	}
	return participants, nil
}

// Leave removes a user from a room.
func (c *Client) Leave(ctx context.Context, roomID, userID string) error {
	path := "/api/chat/rooms/" + url.PathEscape(roomID) + "/participants/" + url.PathEscape(userID)
	return c.do(ctx, http.MethodDelete, path, nil)
}

// do issues an authenticated request and decodes the JSON response
// into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return fmt.Errorf("build request %s %s: %w", method, path, err)
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: %s %s returned 401", types.ErrTokenExpired, method, path)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s failed: status=%d body=%s", method, path, resp.StatusCode, string(body))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}
