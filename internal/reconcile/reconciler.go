package reconcile

import (
	"log"
	"sync"
	"time"

	"chatsession/internal/state"
	"chatsession/pkg/interfaces"
	"chatsession/pkg/types"
)

// Reconciler produces optimistic log entries on send and merges them
// with the server-confirmed echoes that arrive later. Placeholders are
// identified by a monotonically increasing local token, never by
// wall-clock derived ids.
type Reconciler struct {
	st     *state.Session
	tx     interfaces.Transmitter
	tokens interfaces.TokenSource
	window time.Duration

	mu        sync.Mutex
	pending   []pendingSend
	nextToken uint64

	now func() time.Time
}

// pendingSend is an in-flight optimistic message. Never persisted.
type pendingSend struct {
	token   uint64
	msg     types.Message
	created time.Time
	acked   bool
}

// New creates a reconciler. window bounds the creation-time delta for
// matching a confirmed echo against a pending send.
func New(st *state.Session, tx interfaces.Transmitter, tokens interfaces.TokenSource, window time.Duration) *Reconciler {
	return &Reconciler{
		st:     st,
		tx:     tx,
		tokens: tokens,
		window: window,
		now:    time.Now,
	}
}

// Send appends an optimistic entry to the log and transmits the frame
// without waiting for the server echo. Returns false when there is no
// active room, the socket is not open, or the content is invalid; the
// rejection is recorded on session state rather than raised.
func (r *Reconciler) Send(content string, kind types.MessageKind) bool {
	room := r.st.ActiveRoom()
	if room == nil || !r.tx.Open() {
		r.st.SetError(types.ErrSendRejected)
		return false
	}
	if err := types.ValidateContent(content); err != nil {
		r.st.SetError(err)
		return false
	}
	if !types.IsValidMessageKind(kind) {
		r.st.SetError(types.ErrInvalidMessageKind)
		return false
	}

	now := r.now()
	r.mu.Lock()
	r.nextToken++
	token := r.nextToken
	msg := types.Message{
		ID:        types.PendingID(token),
		RoomID:    room.ID,
		SenderID:  r.tokens.UserID(),
		Content:   content,
		Kind:      kind,
		CreatedAt: now,
	}
	r.pending = append(r.pending, pendingSend{token: token, msg: msg, created: now})
	r.mu.Unlock()

	r.st.AppendMessage(msg)

	frame := types.ChatMessageFrame{
		Type:       types.FrameChatMessage,
		ChatRoomID: room.ID,
		SenderID:   msg.SenderID,
		Content:    content,
		Kind:       kind,
		Timestamp:  now,
	}
	if err := r.tx.Transmit(frame); err != nil {
		// The socket vanished between the gate check and the write.
		// Roll the optimistic entry back so no orphan placeholder stays.
		r.removePending(token)
		r.st.RemovePending(token)
		r.st.SetError(types.ErrSendRejected)
		log.Printf("Send transmit failed: room=%s err=%v", room.ID, err)
		return false
	}
	return true
}

// Receive merges a confirmed inbound message into the log. Duplicate
// confirmed ids are dropped. A pending send matches on sender id,
// exact content equality and a creation-time delta under the window;
// the first match wins. Two rapid identical sends inside the window
// can therefore be attributed to the wrong placeholder; that ambiguity
// is inherited behavior and deliberately kept.
func (r *Reconciler) Receive(confirmed types.Message) {
	if id, ok := confirmed.ID.Confirmed(); ok && r.st.ContainsConfirmed(id) {
		log.Printf("Dropping duplicate message delivery: id=%d room=%s", id, confirmed.RoomID)
		return
	}

	r.mu.Lock()
	matched := -1
	for i, p := range r.pending {
		if p.msg.SenderID != confirmed.SenderID || p.msg.Content != confirmed.Content {
			continue
		}
		if absDelta(confirmed.CreatedAt, p.created) < r.window {
			matched = i
			break
		}
	}
	var token uint64
	if matched >= 0 {
		token = r.pending[matched].token
		r.pending = append(r.pending[:matched], r.pending[matched+1:]...)
	}
	r.mu.Unlock()

	if matched >= 0 {
		if !r.st.ReplacePending(token, confirmed) {
			// Placeholder already gone (room changed mid-flight).
			r.st.AppendMessage(confirmed)
		}
		return
	}
	r.st.AppendMessage(confirmed)
}

// Ack records a server send-acknowledgement. The echoed chat_message
// does the actual merge; the ack only keeps stuck-send detection from
// flagging sends the server has accepted.
//
// The message_sent frame carries the server-assigned id, which cannot
// be correlated to a local token, so acks are applied oldest-first.
// That assumes the server acknowledges sends in submission order, which
// holds over a single ordered socket; an out-of-order ack would mark
// the wrong pending, and the eventual echo still resolves both.
func (r *Reconciler) Ack(messageID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.pending {
		if !r.pending[i].acked {
			r.pending[i].acked = true
			log.Printf("Send acknowledged: message_id=%d", messageID)
			return
		}
	}
}

// PendingCount returns the number of unresolved optimistic sends.
func (r *Reconciler) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// StuckPending returns the tokens of pending sends older than the
// match window that were never acknowledged. These can no longer be
// matched by an echo and should be surfaced as a send error.
func (r *Reconciler) StuckPending() []uint64 {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	var stuck []uint64
	for _, p := range r.pending {
		if !p.acked && now.Sub(p.created) >= r.window {
			stuck = append(stuck, p.token)
		}
	}
	return stuck
}

// Reset drops all pending sends. Called on room change; the log they
// lived in is cleared at the same time.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	r.pending = nil
	r.mu.Unlock()
}

func (r *Reconciler) removePending(token uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, p := range r.pending {
		if p.token == token {
			r.pending = append(r.pending[:i], r.pending[i+1:]...)
			return
		}
	}
}

func absDelta(a, b time.Time) time.Duration {
	d := a.Sub(b)
	if d < 0 {
		return -d
	}
	return d
}
