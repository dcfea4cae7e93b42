// Package relay holds the room membership registry and the fan-out logic of
// the chat relay. It knows nothing about sockets: connections are reached
// through the Peer interface, which must never block.
package relay

import (
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

var (
	ErrRoomExists      = errors.New("room already exists")
	ErrRoomNotFound    = errors.New("room not found")
	ErrInvalidRoomName = errors.New("invalid room name")
	// ErrConnectionGone is returned when a room operation races with the
	// removal of its requester. It is never reported to clients.
	ErrConnectionGone = errors.New("connection gone")
)

const (
	defaultMaxRoomNameLength = 100

	// SystemUserName is the author of every server-synthesized notice.
	SystemUserName = "System"
	// TimestampLayout formats notice timestamps as a local time of day.
	TimestampLayout = "3:04:05 PM"
)

// ConnID identifies a live connection. It is assigned on admission and never
// reused.
type ConnID string

type EventType string

const (
	EventChat      EventType = "chat"
	EventRoomError EventType = "roomError"
	EventUserCount EventType = "userCount"
	EventConnected EventType = "connected"
)

// Event is a server → client message.
type Event struct {
	Type EventType
	Data any
}

// ChatPayload is the shape of chat events. The server only builds it for
// system notices, authored by SystemUserName; client payloads are relayed
// as received.
type ChatPayload struct {
	Room      string `json:"room,omitempty"`
	UserName  string `json:"userName"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

type Connected struct {
	ID ConnID `json:"id"`
}

// Peer is the outbound side of a connection. Deliver is called while
// registry locks are held, so it must enqueue and return immediately.
type Peer interface {
	Deliver(ev Event)
}

type Options struct {
	MaxRoomNameLength int
	Now               func() time.Time
	NewID             func() ConnID
}

// Relay wires the four core components together. All of them are safe for
// concurrent use.
type Relay struct {
	Conns      *Conns
	Rooms      *Rooms
	Dispatcher *Dispatcher
	Presence   *Presence
}

func New(logger *slog.Logger, opts Options) *Relay {
	if opts.MaxRoomNameLength <= 0 {
		opts.MaxRoomNameLength = defaultMaxRoomNameLength
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = func() ConnID { return ConnID(uuid.NewString()) }
	}

	r := &Relay{}
	r.Dispatcher = &Dispatcher{now: opts.Now}
	r.Rooms = newRooms(logger, r.Dispatcher, opts.MaxRoomNameLength)
	r.Conns = newConns(logger, r.Rooms, opts.NewID)
	r.Presence = &Presence{conns: r.Conns}
	r.Dispatcher.rooms = r.Rooms
	r.Dispatcher.conns = r.Conns
	r.Conns.presence = r.Presence
	return r
}
