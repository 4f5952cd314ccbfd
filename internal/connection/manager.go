package connection

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"chatsession/internal/config"
	"chatsession/internal/state"
	"chatsession/pkg/interfaces"
	"chatsession/pkg/types"
)

// Manager owns the transport socket lifecycle: connect with timeout
// guard, disconnect, and bounded fixed-backoff reconnect scheduling.
// At most one socket is open at any instant; switching rooms closes
// the old socket with a normal-closure code before dialing the new one.
type Manager struct {
	dialer interfaces.Dialer
	tokens interfaces.TokenSource
	state  *state.Session
	cfg    *config.ConnectionConfig
	frames interfaces.FrameSink

	mu             sync.Mutex
	sock           interfaces.Socket
	roomID         string
	attempts       int
	reconnectTimer *time.Timer

	// gen increments whenever the current socket changes, so a read
	// pump belonging to a superseded socket cannot report a closure
	// against its replacement.
	gen uint64
}

// NewManager creates a connection manager. SetFrameSink must be called
// before the first Connect.
func NewManager(dialer interfaces.Dialer, tokens interfaces.TokenSource, st *state.Session, cfg *config.ConnectionConfig) *Manager {
	return &Manager{
		dialer: dialer,
		tokens: tokens,
		state:  st,
		cfg:    cfg,
	}
}

// SetFrameSink wires the consumer of inbound payloads. Called once
// during session assembly, before any socket exists.
func (m *Manager) SetFrameSink(sink interfaces.FrameSink) {
	m.frames = sink
}

// Connect opens a socket for roomID. A call for the room that already
// has an open socket is a no-op. Failures are recorded on session
// state and returned; no automatic retry is triggered from here.
func (m *Manager) Connect(ctx context.Context, roomID string) error {
	return m.connect(ctx, roomID, false)
}

func (m *Manager) connect(ctx context.Context, roomID string, isReconnect bool) error {
	m.mu.Lock()
	if m.sock != nil && m.roomID == roomID {
		m.mu.Unlock()
		return nil
	}
	if m.sock != nil {
		// Room switch: the old room's socket must be closed before the
		// new room's dial begins.
		old := m.sock
		m.sock = nil
		m.gen++
		_ = old.Close(types.CloseNormal)
	}
	m.stopReconnectLocked()
	if m.roomID != roomID {
		m.roomID = roomID
		m.attempts = 0
	}
	attempts := m.attempts
	m.mu.Unlock()

	if isReconnect || attempts > 0 {
		m.state.SetStatus(types.StatusReconnecting)
	} else {
		m.state.SetStatus(types.StatusConnecting)
	}

	token, err := m.tokens.Token(ctx)
	if err != nil {
		// Auth failures are surfaced, never retried here; refresh is
		// the auth collaborator's job.
		m.state.SetStatus(types.StatusDisconnected)
		m.state.SetError(err)
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()

	sock, err := m.dialer.Dial(dialCtx, roomID, token)
	if err != nil {
		if errors.Is(dialCtx.Err(), context.DeadlineExceeded) {
			err = types.ErrConnectTimeout
		}
		if isReconnect && !errors.Is(err, types.ErrTokenExpired) {
			// A failed reconnect dial counts against the attempt budget
			// the same way another abnormal closure would.
			m.state.SetError(err)
			m.scheduleReconnect(roomID)
			return err
		}
		m.state.SetStatus(types.StatusDisconnected)
		m.state.SetError(err)
		return err
	}

	m.mu.Lock()
	if m.roomID != roomID {
		// The user switched rooms while the dial was in flight.
		m.mu.Unlock()
		_ = sock.Close(types.CloseNormal)
		return types.ErrStaleResult
	}
	if m.sock != nil {
		// A concurrent dial for the same room already won, for example
		// the reconnect timer overlapping a user-initiated Reconnect.
		// Exactly one socket may stay open.
		m.mu.Unlock()
		_ = sock.Close(types.CloseNormal)
		return nil
	}
	m.sock = sock
	m.attempts = 0
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	m.state.SetStatus(types.StatusConnected)
	m.state.ClearError()
	log.Printf("Socket open: room=%s", roomID)

	go m.readPump(sock, gen)
	return nil
}

// Disconnect cancels any pending reconnect and closes the socket with
// a normal-closure code. No reconnect is scheduled afterwards.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.stopReconnectLocked()
	sock := m.sock
	m.sock = nil
	m.gen++
	m.roomID = ""
	m.attempts = 0
	m.mu.Unlock()

	if sock != nil {
		_ = sock.Close(types.CloseNormal)
	}
	m.state.SetStatus(types.StatusDisconnected)
}

// Transmit writes a frame over the current socket.
func (m *Manager) Transmit(v interface{}) error {
	m.mu.Lock()
	sock := m.sock
	m.mu.Unlock()
	if sock == nil {
		return types.ErrSocketNotOpen
	}
	return sock.WriteJSON(v)
}

// Open reports whether a socket is currently open.
func (m *Manager) Open() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sock != nil
}

// OpenRoom returns the room of the open socket, or "".
func (m *Manager) OpenRoom() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sock == nil {
		return ""
	}
	return m.roomID
}

// Attempts returns the current reconnect attempt count.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

func (m *Manager) readPump(sock interfaces.Socket, gen uint64) {
	for {
		raw, err := sock.ReadMessage()
		if err != nil {
			m.handleClosed(gen, err)
			return
		}
		if m.frames != nil {
			m.frames.HandleFrame(raw)
		}
	}
}

func (m *Manager) handleClosed(gen uint64, err error) {
	m.mu.Lock()
	if gen != m.gen {
		// A superseded socket's pump; the close was already handled.
		m.mu.Unlock()
		return
	}
	m.sock = nil
	roomID := m.roomID
	m.mu.Unlock()

	if types.IsNormalClosure(err) {
		m.state.SetStatus(types.StatusDisconnected)
		return
	}

	log.Printf("Socket closed abnormally: room=%s err=%v", roomID, err)
	m.state.SetError(types.ErrAbnormalClosure)
	m.scheduleReconnect(roomID)
}

func (m *Manager) scheduleReconnect(roomID string) {
	m.mu.Lock()
	if m.roomID != roomID {
		m.mu.Unlock()
		return
	}
	if m.attempts >= m.cfg.MaxReconnectAttempts {
		m.mu.Unlock()
		log.Printf("Reconnect attempts exhausted: room=%s max=%d", roomID, m.cfg.MaxReconnectAttempts)
		m.state.SetStatus(types.StatusDisconnected)
		m.state.SetError(types.ErrMaxReconnectExceeded)
		return
	}
	m.attempts++
	attempt := m.attempts
	m.stopReconnectLocked()
	// Fixed backoff, not exponential: the interval itself is part of
	// the observable contract.
	m.reconnectTimer = time.AfterFunc(m.cfg.ReconnectBackoff, func() {
		m.reconnect(roomID)
	})
	m.mu.Unlock()

	m.state.SetStatus(types.StatusReconnecting)
	log.Printf("Reconnect scheduled: room=%s attempt=%d backoff=%s", roomID, attempt, m.cfg.ReconnectBackoff)
}

func (m *Manager) reconnect(roomID string) {
	m.mu.Lock()
	if m.roomID != roomID || m.sock != nil {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	if err := m.connect(context.Background(), roomID, true); err != nil {
		log.Printf("Reconnect attempt failed: room=%s err=%v", roomID, err)
	}
}

func (m *Manager) stopReconnectLocked() {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
}
