package relay

// Presence pushes the global online count to every live connection.
type Presence struct {
	conns *Conns
}

// BroadcastCount holds the registry read lock for the whole fan-out, so two
// broadcasts separated by an admit or remove reach each peer in state order.
func (p *Presence) BroadcastCount() {
	p.conns.mu.RLock()
	defer p.conns.mu.RUnlock()

	ev := Event{Type: EventUserCount, Data: len(p.conns.peers)}
	for _, peer := range p.conns.peers {
		peer.Deliver(ev)
	}
}
