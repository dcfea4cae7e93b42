package relay

import (
	"errors"
	"time"
)

// Dispatcher fans payloads out to room members. Deliveries happen while the
// room lock is held, which gives per-room ordering across chat messages and
// membership notices.
type Dispatcher struct {
	rooms *Rooms
	conns *Conns
	now   func() time.Time
}

// Relay delivers payload untouched to every member of room, sender
// included. Absent or empty rooms are a no-op.
func (d *Dispatcher) Relay(room string, payload any) {
	r := d.rooms.lockRoom(room)
	if r == nil {
		return
	}
	defer r.mu.Unlock()
	d.deliver(r, payload, "")
}

// Notify sends a system notice to every member of room except excluding.
// An empty excluding reaches everyone.
func (d *Dispatcher) Notify(room, text string, excluding ConnID) {
	r := d.rooms.lockRoom(room)
	if r == nil {
		return
	}
	defer r.mu.Unlock()
	d.deliver(r, d.notice(room, text), excluding)
}

// RoomError reports a failed room operation to the requester only.
func (d *Dispatcher) RoomError(to ConnID, err error) {
	d.conns.send(to, Event{Type: EventRoomError, Data: RoomErrorText(err)})
}

// deliver must be called with r.mu held.
func (d *Dispatcher) deliver(r *room, p any, excluding ConnID) {
	ev := Event{Type: EventChat, Data: p}
	for id := range r.members {
		if id == excluding {
			continue
		}
		d.conns.send(id, ev)
	}
}

func (d *Dispatcher) direct(to ConnID, p ChatPayload) {
	d.conns.send(to, Event{Type: EventChat, Data: p})
}

func (d *Dispatcher) notice(room, text string) ChatPayload {
	return ChatPayload{
		Room:      room,
		UserName:  SystemUserName,
		Message:   text,
		Timestamp: d.now().Format(TimestampLayout),
	}
}

// RoomErrorText maps room errors to the strings clients display.
func RoomErrorText(err error) string {
	switch {
	case errors.Is(err, ErrRoomExists):
		return "Room already exists"
	case errors.Is(err, ErrRoomNotFound):
		return "Room doesn't exist"
	case errors.Is(err, ErrInvalidRoomName):
		return "Invalid room name"
	default:
		return "Room operation failed"
	}
}
