package signaling

import (
	"log"
	"sync"
	"time"

	"chatsession/internal/state"
	"chatsession/pkg/interfaces"
	"chatsession/pkg/types"
)

// Emitter sends debounced typing indicators and fire-and-forget read
// receipts. A typing=true transmit arms a timer that emits the
// matching typing=false automatically unless a later call supersedes
// it first.
type Emitter struct {
	st         *state.Session
	tx         interfaces.Transmitter
	tokens     interfaces.TokenSource
	clearAfter time.Duration

	mu         sync.Mutex
	clearTimer *time.Timer
}

// New creates an emitter with the given auto-clear interval.
func New(st *state.Session, tx interfaces.Transmitter, tokens interfaces.TokenSource, clearAfter time.Duration) *Emitter {
	return &Emitter{
		st:         st,
		tx:         tx,
		tokens:     tokens,
		clearAfter: clearAfter,
	}
}

// SendTyping transmits a typing frame. Only valid with an active room
// and an open socket; otherwise types.ErrSendRejected is returned and
// nothing is transmitted. Each call cancels and, for isTyping=true,
// re-arms the auto-clear timer.
func (e *Emitter) SendTyping(isTyping bool) error {
	room := e.st.ActiveRoom()
	if room == nil || !e.tx.Open() {
		return types.ErrSendRejected
	}

	e.mu.Lock()
	e.stopTimerLocked()
	if isTyping {
		roomID := room.ID
		e.clearTimer = time.AfterFunc(e.clearAfter, func() {
			e.autoClear(roomID)
		})
	}
	e.mu.Unlock()

	return e.tx.Transmit(types.TypingFrame{
		Type:       types.FrameTyping,
		ChatRoomID: room.ID,
		SenderID:   e.tokens.UserID(),
		IsTyping:   isTyping,
	})
}

// SendReadReceipt transmits a viewed signal. Fire and forget: no
// retry, no acknowledgement tracking.
func (e *Emitter) SendReadReceipt(messageID int64) error {
	if !e.tx.Open() {
		return types.ErrSendRejected
	}
	return e.tx.Transmit(types.ReadReceiptFrame{
		Type:      types.FrameReadReceipt,
		MessageID: messageID,
		SenderID:  e.tokens.UserID(),
	})
}

// Stop cancels any armed auto-clear timer. Called on room change and
// session teardown.
func (e *Emitter) Stop() {
	e.mu.Lock()
	e.stopTimerLocked()
	e.mu.Unlock()
}

func (e *Emitter) stopTimerLocked() {
	if e.clearTimer != nil {
		e.clearTimer.Stop()
		e.clearTimer = nil
	}
}

// autoClear emits the synthetic typing=false after the interval
// elapses without a superseding call.
func (e *Emitter) autoClear(roomID string) {
	e.mu.Lock()
	e.clearTimer = nil
	e.mu.Unlock()

	active := e.st.ActiveRoom()
	if active == nil || active.ID != roomID || !e.tx.Open() {
		return
	}
	if err := e.tx.Transmit(types.TypingFrame{
		Type:       types.FrameTyping,
		ChatRoomID: roomID,
		SenderID:   e.tokens.UserID(),
		IsTyping:   false,
	}); err != nil {
		log.Printf("Typing auto-clear transmit failed: room=%s err=%v", roomID, err)
	}
}
