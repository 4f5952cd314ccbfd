package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chatsession/pkg/interfaces"
	"chatsession/pkg/types"
)

// WebsocketDialer opens gorilla websocket connections against a
// room-scoped endpoint, authenticating with a bearer header.
type WebsocketDialer struct {
	endpoint     string
	writeTimeout time.Duration
}

// NewWebsocketDialer creates a dialer for endpoint, e.g.
// "ws://chat.example.com". The room path and auth header are appended
// per dial.
func NewWebsocketDialer(endpoint string, writeTimeout time.Duration) *WebsocketDialer {
	return &WebsocketDialer{
		endpoint:     strings.TrimRight(endpoint, "/"),
		writeTimeout: writeTimeout,
	}
}

// Dial opens a socket for one room. The context bounds the handshake;
// the connection manager applies the connect timeout there.
func (d *WebsocketDialer) Dial(ctx context.Context, roomID, token string) (interfaces.Socket, error) {
	addr := fmt.Sprintf("%s/ws/chat/%s", d.endpoint, url.PathEscape(roomID))

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, addr, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: server rejected credentials (%d)", types.ErrTokenExpired, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	return newSocket(conn, roomID, d.writeTimeout), nil
}

// socket wraps a gorilla connection with a single writer goroutine so
// concurrent components can transmit without racing on the conn.
type socket struct {
	conn         *websocket.Conn
	roomID       string
	writeTimeout time.Duration
	writeCh      chan []byte
	ctx          context.Context
	cancel       context.CancelFunc
	closeOnce    sync.Once
	closeErr     error
}

func newSocket(conn *websocket.Conn, roomID string, writeTimeout time.Duration) *socket {
	ctx, cancel := context.WithCancel(context.Background())
	s := &socket{
		conn:         conn,
		roomID:       roomID,
		writeTimeout: writeTimeout,
		writeCh:      make(chan []byte, 64),
		ctx:          ctx,
		cancel:       cancel,
	}
	go s.writeLoop()
	return s
}

func (s *socket) writeLoop() {
	for {
		select {
		case data := <-s.writeCh:
			if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-s.ctx.Done():
			return
		}
	}
}

// WriteJSON marshals v and queues it for the writer goroutine.
func (s *socket) WriteJSON(v interface{}) error {
	select {
	case <-s.ctx.Done():
		return types.ErrSocketNotOpen
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	select {
	case s.writeCh <- data:
		return nil
	case <-time.After(s.writeTimeout):
		return fmt.Errorf("write timeout after %s", s.writeTimeout)
	case <-s.ctx.Done():
		return types.ErrSocketNotOpen
	}
}

// ReadMessage blocks for the next text payload. Terminal errors are
// translated into *types.CloseError so callers can classify the close
// code without importing the transport library.
func (s *socket) ReadMessage() ([]byte, error) {
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			return nil, &types.CloseError{Code: ce.Code, Text: ce.Text}
		}
		select {
		case <-s.ctx.Done():
			// Locally initiated close surfaces as a normal closure.
			return nil, &types.CloseError{Code: types.CloseNormal, Text: "closed locally"}
		default:
		}
		return nil, fmt.Errorf("read: %w", err)
	}
	return data, nil
}

// Close performs the close handshake with the given status code.
func (s *socket) Close(code int) error {
	s.closeOnce.Do(func() {
		deadline := time.Now().Add(time.Second)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, ""), deadline)
		s.cancel()
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

func (s *socket) RoomID() string {
	return s.roomID
}
