package relay

import (
	"log/slog"
	"sync"
)

// Conns is the connection registry. Admission and removal drive presence
// broadcasts and room reconciliation.
type Conns struct {
	mu       sync.RWMutex
	peers    map[ConnID]Peer
	rooms    *Rooms
	presence *Presence
	newID    func() ConnID
	logger   *slog.Logger
}

func newConns(logger *slog.Logger, rooms *Rooms, newID func() ConnID) *Conns {
	return &Conns{
		peers:  make(map[ConnID]Peer),
		rooms:  rooms,
		newID:  newID,
		logger: logger,
	}
}

// Admit registers p under a fresh ID. The peer receives a connected event
// before any other event, then every connection gets the new count.
func (c *Conns) Admit(p Peer) ConnID {
	id := c.NewID()
	c.AdmitAs(id, p)
	return id
}

// NewID returns an unused connection ID, for callers that need to know it
// before the peer becomes reachable.
func (c *Conns) NewID() ConnID {
	return c.newID()
}

// AdmitAs is Admit with an ID obtained from NewID.
func (c *Conns) AdmitAs(id ConnID, p Peer) {
	c.rooms.attach(id)

	c.mu.Lock()
	c.peers[id] = p
	p.Deliver(Event{Type: EventConnected, Data: Connected{ID: id}})
	c.mu.Unlock()

	c.logger.Debug("connection admitted", "clientID", id)
	c.presence.BroadcastCount()
}

// Remove deregisters id and cleans up its rooms. Unknown or already removed
// IDs are ignored.
func (c *Conns) Remove(id ConnID) {
	c.mu.Lock()
	_, ok := c.peers[id]
	delete(c.peers, id)
	c.mu.Unlock()
	if !ok {
		return
	}

	c.rooms.reconcileOnDisconnect(id)
	c.logger.Debug("connection removed", "clientID", id)
	c.presence.BroadcastCount()
}

func (c *Conns) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.peers)
}

func (c *Conns) peer(id ConnID) Peer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.peers[id]
}

func (c *Conns) send(id ConnID, ev Event) {
	if p := c.peer(id); p != nil {
		p.Deliver(ev)
	}
}
