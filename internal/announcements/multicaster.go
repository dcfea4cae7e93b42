package announcements

import (
	"roomcast/internal/relay"
)

type Notifier interface {
	Notify(room, text string, excluding relay.ConnID)
}

type RoomLister interface {
	Names() []string
}

// Multicaster turns announcements into system notices.
type Multicaster struct {
	Notifier Notifier
	Rooms    RoomLister
}

func NewMulticaster(notifier Notifier, rooms RoomLister) *Multicaster {
	return &Multicaster{
		Notifier: notifier,
		Rooms:    rooms,
	}
}

// MulticastRoom notifies every member of a.Room.
func (m *Multicaster) MulticastRoom(a *Announcement) {
	m.Notifier.Notify(a.Room, a.Message, "")
}

// MulticastAll notifies every live room and returns how many were reached.
// Rooms created during the call may be missed.
func (m *Multicaster) MulticastAll(a *Announcement) int {
	names := m.Rooms.Names()
	for _, name := range names {
		m.Notifier.Notify(name, a.Message, "")
	}
	return len(names)
}
