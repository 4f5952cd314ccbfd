package session

import (
	"context"
	"fmt"
	"log"
	"sync"

	"chatsession/internal/config"
	"chatsession/internal/connection"
	"chatsession/internal/dispatch"
	"chatsession/internal/reconcile"
	"chatsession/internal/signaling"
	"chatsession/internal/state"
	"chatsession/pkg/interfaces"
	"chatsession/pkg/types"
)

// Phase is the orchestrator's coarse state machine.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseSelecting Phase = "selecting_room"
	PhaseActive    Phase = "active"
)

// Orchestrator is the public control surface of the session core. It
// owns the single session state and the single transport socket; no
// other component opens a competing socket.
type Orchestrator struct {
	cfg    *config.Config
	st     *state.Session
	conn   *connection.Manager
	rec    *reconcile.Reconciler
	sig    *signaling.Emitter
	dir    interfaces.RoomDirectory
	tokens interfaces.TokenSource

	mu    sync.Mutex
	phase Phase
}

// New assembles a session core. Component wiring follows dependency
// order: state, connection manager, reconciler, dispatcher, emitter.
// recorder may be nil when no local message cache is configured.
func New(cfg *config.Config, dir interfaces.RoomDirectory, tokens interfaces.TokenSource,
	dialer interfaces.Dialer, recorder interfaces.MessageRecorder) (*Orchestrator, error) {

	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	st := state.NewSession()
	conn := connection.NewManager(dialer, tokens, st, cfg.Connection)
	rec := reconcile.New(st, conn, tokens, cfg.Reconcile.MatchWindow)
	disp := dispatch.New(st, rec, recorder)
	conn.SetFrameSink(disp)
	sig := signaling.New(st, conn, tokens, cfg.Signaling.TypingAutoClear)

	return &Orchestrator{
		cfg:    cfg,
		st:     st,
		conn:   conn,
		rec:    rec,
		sig:    sig,
		dir:    dir,
		tokens: tokens,
		phase:  PhaseIdle,
	}, nil
}

// State exposes the session state for subscription and inspection.
func (o *Orchestrator) State() *state.Session {
	return o.st
}

// Phase returns the current orchestrator phase.
func (o *Orchestrator) Phase() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

func (o *Orchestrator) setPhase(p Phase) {
	o.mu.Lock()
	o.phase = p
	o.mu.Unlock()
}

// RefreshRooms reloads the room list from the directory collaborator.
func (o *Orchestrator) RefreshRooms(ctx context.Context) error {
	rooms, err := o.dir.Rooms(ctx)
	if err != nil {
		o.st.SetError(err)
		return err
	}
	o.st.SetRooms(rooms)
	return nil
}

// SelectRoom makes roomID the active room: clears room-scoped state,
// fetches metadata, connects the socket, then loads history only if
// the log is still empty so socket-delivered messages are never
// clobbered. Selecting the already-active room is a no-op. A room
// switch while a fetch is in flight discards the stale result via the
// state epoch.
func (o *Orchestrator) SelectRoom(ctx context.Context, roomID string) error {
	if !types.IsValidRoomID(roomID) {
		return types.ErrInvalidRoomID
	}

	o.mu.Lock()
	if o.phase == PhaseActive {
		if active := o.st.ActiveRoom(); active != nil && active.ID == roomID {
			o.mu.Unlock()
			return nil
		}
	}
	o.phase = PhaseSelecting
	o.mu.Unlock()

	o.sig.Stop()
	o.rec.Reset()
	epoch := o.st.BeginSelection()

	room, err := o.dir.Room(ctx, roomID)
	if err != nil {
		// A stale fetch failure must not demote the phase or pollute
		// the error of whatever selection superseded this one.
		if o.st.Epoch() != epoch {
			return types.ErrStaleResult
		}
		o.st.SetError(err)
		o.setPhase(PhaseIdle)
		return fmt.Errorf("fetch room %s: %w", roomID, err)
	}

	if !o.st.ActivateRoom(epoch, room) {
		// Another SelectRoom superseded this one mid-fetch.
		return types.ErrStaleResult
	}

	if err := o.conn.Connect(ctx, roomID); err != nil {
		if o.st.Epoch() != epoch {
			return types.ErrStaleResult
		}
		o.setPhase(PhaseIdle)
		return fmt.Errorf("connect room %s: %w", roomID, err)
	}

	o.setPhase(PhaseActive)

	if participants, err := o.dir.Participants(ctx, roomID); err != nil {
		log.Printf("Participant load failed: room=%s err=%v", roomID, err)
	} else {
		o.st.SetParticipants(epoch, participants)
	}

	history, err := o.dir.History(ctx, roomID, o.cfg.History.PageSize)
	if err != nil {
		// Non-fatal: the room stays usable over the socket.
		log.Printf("History load failed: room=%s err=%v", roomID, err)
		if o.st.Epoch() == epoch {
			o.st.SetError(err)
		}
		return nil
	}
	if !o.st.MergeHistory(epoch, history) {
		log.Printf("History merge skipped: room=%s (log no longer empty or room changed)", roomID)
	}
	return nil
}

// SendMessage appends an optimistic entry and transmits the frame.
// Returns a success flag; rejections are recorded on session state.
func (o *Orchestrator) SendMessage(content string, kind types.MessageKind) bool {
	if o.Phase() != PhaseActive {
		o.st.SetError(types.ErrSendRejected)
		return false
	}
	return o.rec.Send(content, kind)
}

// SendTyping transmits a composing signal, see signaling.Emitter.
func (o *Orchestrator) SendTyping(isTyping bool) error {
	return o.sig.SendTyping(isTyping)
}

// SendReadReceipt transmits a viewed signal, fire and forget.
func (o *Orchestrator) SendReadReceipt(messageID int64) error {
	return o.sig.SendReadReceipt(messageID)
}

// PendingSends returns the number of unresolved optimistic sends,
// useful for surfacing stuck-send banners.
func (o *Orchestrator) PendingSends() int {
	return o.rec.PendingCount()
}

// StuckSends returns tokens of optimistic sends past the match window
// with no acknowledgement.
func (o *Orchestrator) StuckSends() []uint64 {
	return o.rec.StuckPending()
}

// LeaveRoom removes the current user from the active room via the
// directory collaborator, then disconnects and returns to Idle.
func (o *Orchestrator) LeaveRoom(ctx context.Context) error {
	room := o.st.ActiveRoom()
	if room == nil {
		return types.ErrNoActiveRoom
	}

	userID := o.tokens.UserID()
	if !types.IsValidUserID(userID) {
		return types.ErrInvalidUserID
	}

	if err := o.dir.Leave(ctx, room.ID, userID); err != nil {
		o.st.SetError(err)
		return fmt.Errorf("leave room %s: %w", room.ID, err)
	}

	o.teardown()
	log.Printf("Left room: room=%s user=%s", room.ID, userID)
	return nil
}

// Reconnect retries the connection to the active room after a terminal
// reconnect failure. Explicitly user-initiated; the core never retries
// past the attempt budget on its own.
func (o *Orchestrator) Reconnect(ctx context.Context) error {
	room := o.st.ActiveRoom()
	if room == nil {
		return types.ErrNoActiveRoom
	}
	o.st.ClearError()
	return o.conn.Connect(ctx, room.ID)
}

// Close tears the session down: socket closed with a normal-closure
// code, timers cancelled, state back to Idle.
func (o *Orchestrator) Close() {
	o.teardown()
}

func (o *Orchestrator) teardown() {
	o.sig.Stop()
	o.conn.Disconnect()
	o.rec.Reset()
	o.st.Deactivate()
	o.setPhase(PhaseIdle)
}
