package dispatch

import (
	"log"
	"time"

	"chatsession/internal/reconcile"
	"chatsession/internal/state"
	"chatsession/pkg/interfaces"
	"chatsession/pkg/types"
)

// Dispatcher classifies decoded inbound frames by their type
// discriminant and routes them into session state mutations. Dispatch
// is synchronous per frame, in arrival order, with no reordering.
// Malformed frames are dropped without mutating state.
type Dispatcher struct {
	st       *state.Session
	rec      *reconcile.Reconciler
	recorder interfaces.MessageRecorder // optional, may be nil
}

// New creates a dispatcher. recorder may be nil when no local cache is
// configured.
func New(st *state.Session, rec *reconcile.Reconciler, recorder interfaces.MessageRecorder) *Dispatcher {
	return &Dispatcher{
		st:       st,
		rec:      rec,
		recorder: recorder,
	}
}

// HandleFrame implements interfaces.FrameSink.
func (d *Dispatcher) HandleFrame(raw []byte) {
	frame, err := types.DecodeFrame(raw)
	if err != nil {
		log.Printf("Dropping malformed frame: %v", err)
		return
	}
	if err := frame.Validate(); err != nil {
		log.Printf("Dropping malformed frame: %v", err)
		return
	}

	// The socket is room-scoped, but a frame for a room that is no
	// longer active can still race a room switch.
	if frame.ChatRoomID != "" {
		active := d.st.ActiveRoom()
		if active == nil || active.ID != frame.ChatRoomID {
			log.Printf("Dropping frame for inactive room: type=%s room=%s", frame.Type, frame.ChatRoomID)
			return
		}
	}

	switch frame.Type {
	case types.FrameChatMessage:
		msg := frame.Message()
		d.rec.Receive(msg)
		if d.recorder != nil {
			if err := d.recorder.Record(msg); err != nil {
				log.Printf("Message cache record failed: id=%d err=%v", frame.ID, err)
			}
		}

	case types.FrameConnectionStatus:
		switch frame.Event {
		case types.PresenceJoined:
			d.st.AddParticipant(types.Participant{ID: frame.SenderID, Name: frame.SenderName})
		case types.PresenceLeft:
			d.st.RemoveParticipant(frame.SenderID)
		}

	case types.FrameTyping:
		d.st.SetTyping(types.TypingEvent{
			RoomID:   frame.ChatRoomID,
			SenderID: frame.SenderID,
			IsTyping: frame.IsTyping,
			At:       time.Now(),
		})

	case types.FrameReadReceipt:
		d.st.SetReadReceipt(types.ReadReceipt{
			MessageID: frame.MessageID,
			SenderID:  frame.SenderID,
			At:        time.Now(),
		})

	case types.FrameMessageSent:
		d.rec.Ack(frame.MessageID)

	default:
		log.Printf("Ignoring unrecognized frame type: %q", frame.Type)
	}
}
