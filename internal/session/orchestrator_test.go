package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"chatsession/internal/config"
	"chatsession/pkg/interfaces"
	"chatsession/pkg/types"
)

type fakeSocket struct {
	roomID string
	frames chan []byte
	done   chan struct{}
	once   sync.Once

	mu        sync.Mutex
	written   []interface{}
	closeCode int
}

func newFakeSocket(roomID string) *fakeSocket {
	return &fakeSocket{
		roomID: roomID,
		frames: make(chan []byte, 16),
		done:   make(chan struct{}),
	}
}

func (s *fakeSocket) WriteJSON(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.written = append(s.written, v)
	return nil
}

func (s *fakeSocket) ReadMessage() ([]byte, error) {
	select {
	case raw := <-s.frames:
		return raw, nil
	case <-s.done:
		return nil, &types.CloseError{Code: types.CloseNormal, Text: "closed locally"}
	}
}

func (s *fakeSocket) Close(code int) error {
	s.once.Do(func() {
		s.mu.Lock()
		s.closeCode = code
		s.mu.Unlock()
		close(s.done)
	})
	return nil
}

func (s *fakeSocket) RoomID() string { return s.roomID }

func (s *fakeSocket) deliver(raw string) {
	s.frames <- []byte(raw)
}

func (s *fakeSocket) closedWith() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCode
}

func (s *fakeSocket) writtenFrames() []interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]interface{}(nil), s.written...)
}

type fakeDialer struct {
	mu      sync.Mutex
	dialed  []string
	sockets []*fakeSocket
}

func (d *fakeDialer) Dial(ctx context.Context, roomID, token string) (interfaces.Socket, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dialed = append(d.dialed, roomID)
	s := newFakeSocket(roomID)
	d.sockets = append(d.sockets, s)
	return s, nil
}

func (d *fakeDialer) dialedRooms() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.dialed...)
}

func (d *fakeDialer) lastSocket() *fakeSocket {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.sockets) == 0 {
		return nil
	}
	return d.sockets[len(d.sockets)-1]
}

type fakeTokens struct{}

func (fakeTokens) Token(ctx context.Context) (string, error) { return "test-token", nil }
func (fakeTokens) UserID() string                            { return "u1" }

type fakeDirectory struct {
	mu           sync.Mutex
	rooms        map[string]*types.Room
	history      map[string][]types.Message
	participants map[string][]types.Participant
	leaveCalls   []string
	historyErr   error

	// When set, History signals historyStarted once and then blocks
	// until historyGate closes. Room does the same per roomGate.
	historyStarted chan struct{}
	historyGate    chan struct{}
	roomStarted    chan struct{}
	roomGate       chan struct{}
	gateRoomID     string
}

func newFakeDirectory(roomIDs ...string) *fakeDirectory {
	d := &fakeDirectory{
		rooms:        make(map[string]*types.Room),
		history:      make(map[string][]types.Message),
		participants: make(map[string][]types.Participant),
	}
	for _, id := range roomIDs {
		d.rooms[id] = &types.Room{ID: id, Name: "Room " + id, Type: types.RoomTypeGroup}
	}
	return d
}

func (d *fakeDirectory) Room(ctx context.Context, roomID string) (*types.Room, error) {
	if d.roomGate != nil && roomID == d.gateRoomID {
		d.roomStarted <- struct{}{}
		<-d.roomGate
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	room, ok := d.rooms[roomID]
	if !ok {
		return nil, fmt.Errorf("room %s not found", roomID)
	}
	out := *room
	return &out, nil
}

func (d *fakeDirectory) Rooms(ctx context.Context) ([]types.Room, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []types.Room
	for _, r := range d.rooms {
		out = append(out, *r)
	}
	return out, nil
}

func (d *fakeDirectory) History(ctx context.Context, roomID string, limit int) ([]types.Message, error) {
	if d.historyGate != nil && roomID == d.gateRoomID {
		d.historyStarted <- struct{}{}
		<-d.historyGate
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.historyErr != nil {
		return nil, d.historyErr
	}
	return append([]types.Message(nil), d.history[roomID]...), nil
}

func (d *fakeDirectory) Participants(ctx context.Context, roomID string) ([]types.Participant, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]types.Participant(nil), d.participants[roomID]...), nil
}

func (d *fakeDirectory) Leave(ctx context.Context, roomID, userID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.leaveCalls = append(d.leaveCalls, roomID+":"+userID)
	return nil
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Connection.ConnectTimeout = 200 * time.Millisecond
	cfg.Connection.ReconnectBackoff = 10 * time.Millisecond
	cfg.Connection.MaxReconnectAttempts = 2
	return cfg
}

func newTestOrchestrator(t *testing.T, dir *fakeDirectory) (*Orchestrator, *fakeDialer) {
	t.Helper()
	dialer := &fakeDialer{}
	o, err := New(testConfig(), dir, fakeTokens{}, dialer, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(o.Close)
	return o, dialer
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestSelectEmptyRoom(t *testing.T) {
	dir := newFakeDirectory("general")
	dir.participants["general"] = []types.Participant{{ID: "u1"}, {ID: "u2"}}
	o, dialer := newTestOrchestrator(t, dir)

	if err := o.SelectRoom(context.Background(), "general"); err != nil {
		t.Fatalf("SelectRoom: %v", err)
	}

	if o.Phase() != PhaseActive {
		t.Errorf("expected PhaseActive, got %s", o.Phase())
	}
	snap := o.State().Snapshot()
	if snap.Status != types.StatusConnected {
		t.Errorf("expected connected status, got %s", snap.Status)
	}
	if snap.ActiveRoom == nil || snap.ActiveRoom.ID != "general" {
		t.Errorf("expected active room general, got %+v", snap.ActiveRoom)
	}
	if len(snap.Messages) != 0 {
		t.Errorf("empty room should have an empty log, got %d entries", len(snap.Messages))
	}
	if len(snap.Participants) != 2 {
		t.Errorf("expected 2 participants, got %d", len(snap.Participants))
	}
	if got := dialer.dialedRooms(); len(got) != 1 || got[0] != "general" {
		t.Errorf("expected a single dial to general, got %v", got)
	}
}

func TestSelectRoomLoadsHistory(t *testing.T) {
	dir := newFakeDirectory("general")
	dir.history["general"] = []types.Message{
		{ID: types.ConfirmedID(1), RoomID: "general", SenderID: "u2", Content: "first", Kind: types.MessageKindText, CreatedAt: time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC)},
		{ID: types.ConfirmedID(2), RoomID: "general", SenderID: "u2", Content: "second", Kind: types.MessageKindText, CreatedAt: time.Date(2025, 6, 1, 11, 1, 0, 0, time.UTC)},
	}
	o, _ := newTestOrchestrator(t, dir)

	if err := o.SelectRoom(context.Background(), "general"); err != nil {
		t.Fatalf("SelectRoom: %v", err)
	}

	msgs := o.State().Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(msgs))
	}
	if msgs[0].Content != "first" || msgs[1].Content != "second" {
		t.Errorf("history out of order: %+v", msgs)
	}
}

func TestSelectInvalidRoomID(t *testing.T) {
	o, _ := newTestOrchestrator(t, newFakeDirectory())
	if err := o.SelectRoom(context.Background(), "bad room!"); !errors.Is(err, types.ErrInvalidRoomID) {
		t.Errorf("expected ErrInvalidRoomID, got %v", err)
	}
	if o.Phase() != PhaseIdle {
		t.Errorf("invalid id must not leave Idle, got %s", o.Phase())
	}
}

func TestSelectActiveRoomIsNoOp(t *testing.T) {
	dir := newFakeDirectory("general")
	o, dialer := newTestOrchestrator(t, dir)

	if err := o.SelectRoom(context.Background(), "general"); err != nil {
		t.Fatalf("first SelectRoom: %v", err)
	}
	if err := o.SelectRoom(context.Background(), "general"); err != nil {
		t.Fatalf("repeat SelectRoom: %v", err)
	}

	if got := dialer.dialedRooms(); len(got) != 1 {
		t.Errorf("re-selecting the active room must not redial, got %v", got)
	}
}

func TestSendAndEchoYieldsSingleEntry(t *testing.T) {
	dir := newFakeDirectory("general")
	o, dialer := newTestOrchestrator(t, dir)

	if err := o.SelectRoom(context.Background(), "general"); err != nil {
		t.Fatalf("SelectRoom: %v", err)
	}

	if !o.SendMessage("hello", types.MessageKindText) {
		t.Fatal("SendMessage failed")
	}
	if o.State().MessageCount() != 1 {
		t.Fatal("expected immediate optimistic entry")
	}

	sock := dialer.lastSocket()
	if frames := sock.writtenFrames(); len(frames) != 1 {
		t.Fatalf("expected one transmitted frame, got %d", len(frames))
	}

	echo := fmt.Sprintf(`{"type":"chat_message","id":101,"chat_room_id":"general","sender_id":"u1","content":"hello","message_type":"text","created_at":%q}`,
		time.Now().UTC().Format(time.RFC3339))
	sock.deliver(echo)

	waitFor(t, func() bool {
		msgs := o.State().Messages()
		if len(msgs) != 1 {
			return false
		}
		id, ok := msgs[0].ID.Confirmed()
		return ok && id == 101
	}, "echo never merged into the optimistic entry")

	if o.PendingSends() != 0 {
		t.Errorf("pending send should be resolved, %d remain", o.PendingSends())
	}
}

func TestSendRejectedWhenIdle(t *testing.T) {
	o, _ := newTestOrchestrator(t, newFakeDirectory())
	if o.SendMessage("hello", types.MessageKindText) {
		t.Error("SendMessage must fail before a room is selected")
	}
	if !errors.Is(o.State().LastError(), types.ErrSendRejected) {
		t.Errorf("expected ErrSendRejected recorded, got %v", o.State().LastError())
	}
}

func TestRoomSwitchTearsDownOldRoom(t *testing.T) {
	dir := newFakeDirectory("alpha", "beta")
	o, dialer := newTestOrchestrator(t, dir)

	if err := o.SelectRoom(context.Background(), "alpha"); err != nil {
		t.Fatalf("SelectRoom alpha: %v", err)
	}
	oldSock := dialer.lastSocket()
	oldSock.deliver(`{"type":"chat_message","id":5,"chat_room_id":"alpha","sender_id":"u2","content":"old","message_type":"text","created_at":"2025-06-01T12:00:00Z"}`)
	waitFor(t, func() bool { return o.State().MessageCount() == 1 }, "message never reached the log")

	if err := o.SelectRoom(context.Background(), "beta"); err != nil {
		t.Fatalf("SelectRoom beta: %v", err)
	}

	if o.State().MessageCount() != 0 {
		t.Error("room switch must clear the previous room's log")
	}
	if code := oldSock.closedWith(); code != types.CloseNormal {
		t.Errorf("old socket must be closed with code 1000, got %d", code)
	}
	if got := dialer.dialedRooms(); len(got) != 2 || got[1] != "beta" {
		t.Errorf("expected dials [alpha beta], got %v", got)
	}
	if active := o.State().ActiveRoom(); active == nil || active.ID != "beta" {
		t.Errorf("expected active room beta, got %+v", active)
	}
}

func TestSocketMessageIsNotClobberedByLateHistory(t *testing.T) {
	dir := newFakeDirectory("general")
	dir.history["general"] = []types.Message{
		{ID: types.ConfirmedID(1), RoomID: "general", SenderID: "u2", Content: "stale", Kind: types.MessageKindText, CreatedAt: time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC)},
	}
	dir.gateRoomID = "general"
	dir.historyStarted = make(chan struct{}, 1)
	dir.historyGate = make(chan struct{})
	o, dialer := newTestOrchestrator(t, dir)

	done := make(chan error, 1)
	go func() { done <- o.SelectRoom(context.Background(), "general") }()

	<-dir.historyStarted

	// The socket is already open; a live message lands while the
	// history fetch is still in flight.
	sock := dialer.lastSocket()
	sock.deliver(`{"type":"chat_message","id":9,"chat_room_id":"general","sender_id":"u2","content":"live","message_type":"text","created_at":"2025-06-01T12:00:00Z"}`)
	waitFor(t, func() bool { return o.State().MessageCount() == 1 }, "live message never arrived")

	close(dir.historyGate)
	if err := <-done; err != nil {
		t.Fatalf("SelectRoom: %v", err)
	}

	msgs := o.State().Messages()
	if len(msgs) != 1 {
		t.Fatalf("late history must not merge over a non-empty log, got %d entries", len(msgs))
	}
	if msgs[0].Content != "live" {
		t.Errorf("the socket-delivered message must survive, got %+v", msgs[0])
	}
}

func TestHistoryFailureIsNonFatal(t *testing.T) {
	dir := newFakeDirectory("general")
	dir.historyErr = errors.New("backend down")
	o, _ := newTestOrchestrator(t, dir)

	if err := o.SelectRoom(context.Background(), "general"); err != nil {
		t.Fatalf("history failure must not fail the selection: %v", err)
	}
	if o.Phase() != PhaseActive {
		t.Errorf("room should stay usable, got phase %s", o.Phase())
	}
	if o.State().LastError() == nil {
		t.Error("history failure should be surfaced on session state")
	}
}

func TestStaleSelectionDiscarded(t *testing.T) {
	dir := newFakeDirectory("alpha", "beta")
	dir.gateRoomID = "alpha"
	dir.roomStarted = make(chan struct{}, 1)
	dir.roomGate = make(chan struct{})
	o, dialer := newTestOrchestrator(t, dir)

	done := make(chan error, 1)
	go func() { done <- o.SelectRoom(context.Background(), "alpha") }()
	<-dir.roomStarted

	// A second selection supersedes the first while its room fetch is
	// still in flight.
	if err := o.SelectRoom(context.Background(), "beta"); err != nil {
		t.Fatalf("SelectRoom beta: %v", err)
	}

	close(dir.roomGate)
	if err := <-done; !errors.Is(err, types.ErrStaleResult) {
		t.Errorf("superseded selection must return ErrStaleResult, got %v", err)
	}

	if active := o.State().ActiveRoom(); active == nil || active.ID != "beta" {
		t.Errorf("active room must remain beta, got %+v", active)
	}
	for _, roomID := range dialer.dialedRooms() {
		if roomID == "alpha" {
			t.Error("the stale selection must never dial")
		}
	}
}

func TestStaleSelectionFailureDoesNotDisturbActiveRoom(t *testing.T) {
	// "alpha" does not exist, so its gated fetch fails once released,
	// after "beta" has already become the active room.
	dir := newFakeDirectory("beta")
	dir.gateRoomID = "alpha"
	dir.roomStarted = make(chan struct{}, 1)
	dir.roomGate = make(chan struct{})
	o, _ := newTestOrchestrator(t, dir)

	done := make(chan error, 1)
	go func() { done <- o.SelectRoom(context.Background(), "alpha") }()
	<-dir.roomStarted

	if err := o.SelectRoom(context.Background(), "beta"); err != nil {
		t.Fatalf("SelectRoom beta: %v", err)
	}

	close(dir.roomGate)
	if err := <-done; !errors.Is(err, types.ErrStaleResult) {
		t.Errorf("superseded selection must return ErrStaleResult, got %v", err)
	}

	if o.Phase() != PhaseActive {
		t.Errorf("stale failure must not demote the phase, got %s", o.Phase())
	}
	if err := o.State().LastError(); err != nil {
		t.Errorf("stale failure must not pollute the session error, got %v", err)
	}
	if active := o.State().ActiveRoom(); active == nil || active.ID != "beta" {
		t.Errorf("active room must remain beta, got %+v", active)
	}
	if !o.SendMessage("still here", types.MessageKindText) {
		t.Error("the live connection to beta must keep working")
	}
}

func TestLeaveRoomReturnsToIdle(t *testing.T) {
	dir := newFakeDirectory("general")
	o, dialer := newTestOrchestrator(t, dir)

	if err := o.SelectRoom(context.Background(), "general"); err != nil {
		t.Fatalf("SelectRoom: %v", err)
	}
	sock := dialer.lastSocket()

	if err := o.LeaveRoom(context.Background()); err != nil {
		t.Fatalf("LeaveRoom: %v", err)
	}

	dir.mu.Lock()
	leaves := append([]string(nil), dir.leaveCalls...)
	dir.mu.Unlock()
	if len(leaves) != 1 || leaves[0] != "general:u1" {
		t.Errorf("expected leave call general:u1, got %v", leaves)
	}
	if o.Phase() != PhaseIdle {
		t.Errorf("expected PhaseIdle after leave, got %s", o.Phase())
	}
	if o.State().ActiveRoom() != nil {
		t.Error("active room must be cleared after leave")
	}
	if code := sock.closedWith(); code != types.CloseNormal {
		t.Errorf("socket must be closed with code 1000, got %d", code)
	}
}

func TestLeaveWithoutActiveRoom(t *testing.T) {
	o, _ := newTestOrchestrator(t, newFakeDirectory())
	if err := o.LeaveRoom(context.Background()); !errors.Is(err, types.ErrNoActiveRoom) {
		t.Errorf("expected ErrNoActiveRoom, got %v", err)
	}
}

func TestReconnectRequiresActiveRoom(t *testing.T) {
	o, _ := newTestOrchestrator(t, newFakeDirectory())
	if err := o.Reconnect(context.Background()); !errors.Is(err, types.ErrNoActiveRoom) {
		t.Errorf("expected ErrNoActiveRoom, got %v", err)
	}
}

func TestRefreshRooms(t *testing.T) {
	dir := newFakeDirectory("alpha", "beta")
	o, _ := newTestOrchestrator(t, dir)

	if err := o.RefreshRooms(context.Background()); err != nil {
		t.Fatalf("RefreshRooms: %v", err)
	}
	if got := o.State().Snapshot().Rooms; len(got) != 2 {
		t.Errorf("expected 2 rooms, got %d", len(got))
	}
}

func TestCloseTearsEverythingDown(t *testing.T) {
	dir := newFakeDirectory("general")
	o, dialer := newTestOrchestrator(t, dir)

	if err := o.SelectRoom(context.Background(), "general"); err != nil {
		t.Fatalf("SelectRoom: %v", err)
	}
	if !o.SendMessage("hello", types.MessageKindText) {
		t.Fatal("SendMessage failed")
	}

	o.Close()

	if o.Phase() != PhaseIdle {
		t.Errorf("expected PhaseIdle after Close, got %s", o.Phase())
	}
	if o.PendingSends() != 0 {
		t.Error("Close must drop pending sends")
	}
	if code := dialer.lastSocket().closedWith(); code != types.CloseNormal {
		t.Errorf("socket must be closed with code 1000, got %d", code)
	}
	if o.State().Status() != types.StatusDisconnected {
		t.Errorf("expected disconnected status, got %s", o.State().Status())
	}
}
