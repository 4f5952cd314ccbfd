package state

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"chatsession/pkg/interfaces"
	"chatsession/pkg/types"
)

// Session is the single source of truth for one chat session: room
// list, active room, ordered message log, participants, connection
// status and the current error. All mutation is serialized behind one
// mutex; socket pumps and timers funnel into these methods.
//
// Every mutation bumps nothing except what it names, then notifies
// subscribed listeners with an immutable snapshot taken under the lock
// and delivered outside it.
type Session struct {
	id string

	mu           sync.RWMutex
	rooms        []types.Room
	active       *types.Room
	messages     []types.Message
	participants []types.Participant
	typing       map[string]types.TypingEvent
	receipts     map[string]types.ReadReceipt
	status       types.ConnectionStatus
	lastErr      error

	// epoch increments whenever the active room changes. Late-arriving
	// results carry the epoch they started under and are discarded on
	// mismatch.
	epoch uint64

	listeners    map[int]interfaces.SessionListener
	nextListener int
}

// NewSession creates an empty session in the Disconnected state.
func NewSession() *Session {
	return &Session{
		id:        uuid.New().String(),
		typing:    make(map[string]types.TypingEvent),
		receipts:  make(map[string]types.ReadReceipt),
		status:    types.StatusDisconnected,
		listeners: make(map[int]interfaces.SessionListener),
	}
}

// ID returns the session instance identifier, used in log lines.
func (s *Session) ID() string {
	return s.id
}

// Subscribe registers a listener and returns its cancel function.
// The listener immediately receives the current snapshot.
func (s *Session) Subscribe(listener interfaces.SessionListener) func() {
	s.mu.Lock()
	key := s.nextListener
	s.nextListener++
	s.listeners[key] = listener
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	listener.SessionUpdated(snapshot)

	return func() {
		s.mu.Lock()
		delete(s.listeners, key)
		s.mu.Unlock()
	}
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() types.SessionSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() types.SessionSnapshot {
	snapshot := types.SessionSnapshot{
		Status:       s.status,
		Rooms:        append([]types.Room(nil), s.rooms...),
		Messages:     append([]types.Message(nil), s.messages...),
		Participants: append([]types.Participant(nil), s.participants...),
		Typing:       make(map[string]types.TypingEvent, len(s.typing)),
		Receipts:     make(map[string]types.ReadReceipt, len(s.receipts)),
		LastError:    s.lastErr,
	}
	if s.active != nil {
		room := *s.active
		snapshot.ActiveRoom = &room
	}
	for k, v := range s.typing {
		snapshot.Typing[k] = v
	}
	for k, v := range s.receipts {
		snapshot.Receipts[k] = v
	}
	return snapshot
}

// notify delivers the snapshot taken under the lock to all listeners.
// Must be called after unlocking.
func (s *Session) notify(snapshot types.SessionSnapshot, listeners []interfaces.SessionListener) {
	for _, l := range listeners {
		l.SessionUpdated(snapshot)
	}
}

func (s *Session) listenersLocked() []interfaces.SessionListener {
	out := make([]interfaces.SessionListener, 0, len(s.listeners))
	for _, l := range s.listeners {
		out = append(out, l)
	}
	return out
}

// mutate runs fn under the lock and notifies listeners afterwards.
func (s *Session) mutate(fn func()) {
	s.mu.Lock()
	fn()
	snapshot := s.snapshotLocked()
	listeners := s.listenersLocked()
	s.mu.Unlock()
	s.notify(snapshot, listeners)
}

// Status returns the current connection status.
func (s *Session) Status() types.ConnectionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// SetStatus transitions the connection status.
func (s *Session) SetStatus(status types.ConnectionStatus) {
	s.mutate(func() { s.status = status })
}

// LastError returns the current error value, nil when healthy.
func (s *Session) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// SetError records the current error without interrupting control flow.
func (s *Session) SetError(err error) {
	s.mutate(func() { s.lastErr = err })
}

// ClearError resets the current error.
func (s *Session) ClearError() {
	s.mutate(func() { s.lastErr = nil })
}

// SetRooms replaces the room list.
func (s *Session) SetRooms(rooms []types.Room) {
	s.mutate(func() { s.rooms = append([]types.Room(nil), rooms...) })
}

// Epoch returns the current room epoch.
func (s *Session) Epoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch
}

// BeginSelection clears the active room and all room-scoped slices
// ahead of a room switch, bumps the epoch, and returns the new epoch
// for guarding the fetches that follow.
func (s *Session) BeginSelection() uint64 {
	var epoch uint64
	s.mutate(func() {
		s.epoch++
		epoch = s.epoch
		s.active = nil
		s.clearRoomScopedLocked()
	})
	return epoch
}

// ActivateRoom installs the fetched room metadata. Returns false when
// the epoch no longer matches, meaning the user moved on mid-fetch.
func (s *Session) ActivateRoom(epoch uint64, room *types.Room) bool {
	ok := false
	s.mutate(func() {
		if s.epoch != epoch || room == nil {
			return
		}
		r := *room
		s.active = &r
		ok = true
	})
	return ok
}

// Deactivate clears the active room and everything scoped to it.
func (s *Session) Deactivate() {
	s.mutate(func() {
		s.epoch++
		s.active = nil
		s.clearRoomScopedLocked()
	})
}

func (s *Session) clearRoomScopedLocked() {
	s.messages = nil
	s.participants = nil
	s.typing = make(map[string]types.TypingEvent)
	s.receipts = make(map[string]types.ReadReceipt)
}

// ActiveRoom returns a copy of the active room, or nil.
func (s *Session) ActiveRoom() *types.Room {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.active == nil {
		return nil
	}
	room := *s.active
	return &room
}

// AppendMessage inserts a message into the log, keeping the log
// ordered by creation time ascending.
func (s *Session) AppendMessage(msg types.Message) {
	s.mutate(func() { s.insertOrderedLocked(msg) })
}

func (s *Session) insertOrderedLocked(msg types.Message) {
	// Almost every message belongs at the end; sort.Search handles the
	// out-of-order arrivals.
	i := sort.Search(len(s.messages), func(i int) bool {
		return s.messages[i].CreatedAt.After(msg.CreatedAt)
	})
	s.messages = append(s.messages, types.Message{})
	copy(s.messages[i+1:], s.messages[i:])
	s.messages[i] = msg
}

// ContainsConfirmed reports whether a confirmed id is already logged.
// Used to drop duplicate deliveries.
func (s *Session) ContainsConfirmed(id int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.messages {
		if confirmed, ok := m.ID.Confirmed(); ok && confirmed == id {
			return true
		}
	}
	return false
}

// ReplacePending swaps the placeholder carrying the local token for the
// confirmed message, preserving log ordering. Returns false when the
// placeholder is gone, in which case nothing changes.
func (s *Session) ReplacePending(token uint64, confirmed types.Message) bool {
	replaced := false
	s.mutate(func() {
		for i, m := range s.messages {
			local, ok := m.ID.LocalToken()
			if !ok || local != token {
				continue
			}
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			s.insertOrderedLocked(confirmed)
			replaced = true
			return
		}
	})
	return replaced
}

// RemovePending drops a placeholder after a failed transmit.
func (s *Session) RemovePending(token uint64) {
	s.mutate(func() {
		for i, m := range s.messages {
			if local, ok := m.ID.LocalToken(); ok && local == token {
				s.messages = append(s.messages[:i], s.messages[i+1:]...)
				return
			}
		}
	})
}

// MergeHistory installs history results only if the epoch still
// matches and the log is still empty. Socket-delivered messages that
// raced ahead of the history load always win.
func (s *Session) MergeHistory(epoch uint64, msgs []types.Message) bool {
	merged := false
	s.mutate(func() {
		if s.epoch != epoch || len(s.messages) > 0 {
			return
		}
		for _, m := range msgs {
			s.insertOrderedLocked(m)
		}
		merged = true
	})
	return merged
}

// MessageCount returns the current log length.
func (s *Session) MessageCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Messages returns a copy of the log.
func (s *Session) Messages() []types.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.Message(nil), s.messages...)
}

// SetParticipants replaces the participant list, guarded by epoch.
func (s *Session) SetParticipants(epoch uint64, participants []types.Participant) bool {
	ok := false
	s.mutate(func() {
		if s.epoch != epoch {
			return
		}
		s.participants = append([]types.Participant(nil), participants...)
		ok = true
	})
	return ok
}

// AddParticipant records a join announced over the socket.
func (s *Session) AddParticipant(p types.Participant) {
	s.mutate(func() {
		for _, existing := range s.participants {
			if existing.ID == p.ID {
				return
			}
		}
		s.participants = append(s.participants, p)
	})
}

// RemoveParticipant records a leave announced over the socket.
func (s *Session) RemoveParticipant(userID string) {
	s.mutate(func() {
		for i, existing := range s.participants {
			if existing.ID == userID {
				s.participants = append(s.participants[:i], s.participants[i+1:]...)
				return
			}
		}
	})
}

// SetTyping records the latest composing signal per sender.
func (s *Session) SetTyping(ev types.TypingEvent) {
	s.mutate(func() {
		if ev.IsTyping {
			s.typing[ev.SenderID] = ev
		} else {
			delete(s.typing, ev.SenderID)
		}
	})
}

// SetReadReceipt records the latest viewed signal per sender.
func (s *Session) SetReadReceipt(rr types.ReadReceipt) {
	s.mutate(func() { s.receipts[rr.SenderID] = rr })
}
