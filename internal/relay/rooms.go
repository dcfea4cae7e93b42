package relay

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
)

const (
	createdNotice      = "You have created and joined the room: %s"
	joinedNotice       = "You have joined the room: %s"
	newMemberNotice    = "A new user has joined the room"
	memberLeftNotice   = "A user has left the room"
	disconnectedNotice = "A user has disconnected"
)

type room struct {
	name    string
	mu      sync.Mutex
	members map[ConnID]struct{}
	// deleted is set under mu when the last member goes away. A deleted room
	// is logically absent even while it is still in the registry map.
	deleted bool
}

// Rooms is the room registry. The map lock only guards name lookups; each
// room serializes its own membership changes and the notices they trigger.
type Rooms struct {
	mu    sync.RWMutex
	rooms map[string]*room

	// index is the connection → room names relation. A connection without
	// an entry is not admitted (or already reconciled) and cannot join.
	idxMu sync.Mutex
	index map[ConnID]map[string]struct{}

	dispatcher    *Dispatcher
	maxNameLength int
	logger        *slog.Logger
}

func newRooms(logger *slog.Logger, dispatcher *Dispatcher, maxNameLength int) *Rooms {
	return &Rooms{
		rooms:         make(map[string]*room),
		index:         make(map[ConnID]map[string]struct{}),
		dispatcher:    dispatcher,
		maxNameLength: maxNameLength,
		logger:        logger,
	}
}

// Create makes requester the sole member of a new room.
func (rs *Rooms) Create(name string, requester ConnID) error {
	if err := rs.validateName(name); err != nil {
		return err
	}
	if err := rs.create(name, requester); err != nil {
		return err
	}
	rs.logger.Debug("room created", "room", name, "clientID", requester)
	return nil
}

func (rs *Rooms) create(name string, requester ConnID) error {
	rs.mu.Lock()
	if existing, ok := rs.rooms[name]; ok && existing.alive() {
		rs.mu.Unlock()
		return ErrRoomExists
	}

	r := &room{name: name, members: make(map[ConnID]struct{})}
	r.mu.Lock()
	defer r.mu.Unlock()

	if !rs.track(requester, name) {
		rs.mu.Unlock()
		return ErrConnectionGone
	}
	rs.rooms[name] = r
	rs.mu.Unlock()

	r.members[requester] = struct{}{}
	rs.dispatcher.direct(requester, rs.dispatcher.notice(name, fmt.Sprintf(createdNotice, name)))
	rs.dispatcher.deliver(r, rs.dispatcher.notice(name, newMemberNotice), requester)
	return nil
}

// Join adds requester to an existing room. Joining a room twice is not an
// error: the confirmation is repeated but members are only notified once.
func (rs *Rooms) Join(name string, requester ConnID) error {
	if err := rs.validateName(name); err != nil {
		return err
	}
	added, err := rs.join(name, requester)
	if err != nil {
		return err
	}
	rs.logger.Debug("room joined", "room", name, "clientID", requester, "added", added)
	return nil
}

func (rs *Rooms) join(name string, requester ConnID) (bool, error) {
	r := rs.lockRoom(name)
	if r == nil {
		return false, ErrRoomNotFound
	}
	defer r.mu.Unlock()

	if !rs.track(requester, name) {
		return false, ErrConnectionGone
	}

	rs.dispatcher.direct(requester, rs.dispatcher.notice(name, fmt.Sprintf(joinedNotice, name)))
	if _, ok := r.members[requester]; ok {
		return false, nil
	}
	r.members[requester] = struct{}{}
	rs.dispatcher.deliver(r, rs.dispatcher.notice(name, newMemberNotice), requester)
	return true, nil
}

// Leave removes requester from the room. Absent rooms and non-members are
// ignored.
func (rs *Rooms) Leave(name string, requester ConnID) {
	r := rs.lockRoom(name)
	if r == nil {
		return
	}
	if _, ok := r.members[requester]; !ok {
		r.mu.Unlock()
		return
	}

	rs.untrack(requester, name)
	rs.removeMember(r, requester, memberLeftNotice, requester)
	rs.logger.Debug("room left", "room", name, "clientID", requester)
}

// reconcileOnDisconnect drops id from every room it belonged to. After it
// starts, id can no longer create or join rooms.
func (rs *Rooms) reconcileOnDisconnect(id ConnID) {
	for _, name := range rs.detach(id) {
		r := rs.lockRoom(name)
		if r == nil {
			continue
		}
		if _, ok := r.members[id]; !ok {
			r.mu.Unlock()
			continue
		}
		rs.removeMember(r, id, disconnectedNotice, "")
		rs.logger.Debug("room reconciled", "room", name, "clientID", id)
	}
}

// removeMember must be called with r.mu held and releases it.
func (rs *Rooms) removeMember(r *room, id ConnID, notice string, excluding ConnID) {
	delete(r.members, id)
	if len(r.members) > 0 {
		rs.dispatcher.deliver(r, rs.dispatcher.notice(r.name, notice), excluding)
		r.mu.Unlock()
		return
	}

	r.deleted = true
	r.mu.Unlock()

	rs.mu.Lock()
	if rs.rooms[r.name] == r {
		delete(rs.rooms, r.name)
	}
	rs.mu.Unlock()
	rs.logger.Debug("room deleted", "room", r.name)
}

// MembersOf returns a sorted snapshot of the room's members, empty when the
// room does not exist.
func (rs *Rooms) MembersOf(name string) []ConnID {
	r := rs.lockRoom(name)
	if r == nil {
		return []ConnID{}
	}
	defer r.mu.Unlock()

	members := make([]ConnID, 0, len(r.members))
	for id := range r.members {
		members = append(members, id)
	}
	slices.Sort(members)
	return members
}

// RoomsOf returns the sorted names of the rooms id is a member of.
func (rs *Rooms) RoomsOf(id ConnID) []string {
	rs.idxMu.Lock()
	defer rs.idxMu.Unlock()

	names := make([]string, 0, len(rs.index[id]))
	for name := range rs.index[id] {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Names returns the sorted names of all live rooms.
func (rs *Rooms) Names() []string {
	rs.mu.RLock()
	candidates := make([]*room, 0, len(rs.rooms))
	for _, r := range rs.rooms {
		candidates = append(candidates, r)
	}
	rs.mu.RUnlock()

	names := make([]string, 0, len(candidates))
	for _, r := range candidates {
		if r.alive() {
			names = append(names, r.name)
		}
	}
	slices.Sort(names)
	return names
}

// validateName rejects blank names and names over the length limit. Valid
// names are used as is, without trimming.
func (rs *Rooms) validateName(name string) error {
	if strings.TrimSpace(name) == "" || len(name) > rs.maxNameLength {
		return ErrInvalidRoomName
	}
	return nil
}

// lockRoom returns the live room with r.mu held, or nil.
func (rs *Rooms) lockRoom(name string) *room {
	rs.mu.RLock()
	r := rs.rooms[name]
	rs.mu.RUnlock()
	if r == nil {
		return nil
	}

	r.mu.Lock()
	if r.deleted {
		r.mu.Unlock()
		return nil
	}
	return r
}

func (r *room) alive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.deleted
}

func (rs *Rooms) attach(id ConnID) {
	rs.idxMu.Lock()
	defer rs.idxMu.Unlock()
	rs.index[id] = make(map[string]struct{})
}

// detach removes id from the index and returns the rooms it was in.
func (rs *Rooms) detach(id ConnID) []string {
	rs.idxMu.Lock()
	defer rs.idxMu.Unlock()

	names := make([]string, 0, len(rs.index[id]))
	for name := range rs.index[id] {
		names = append(names, name)
	}
	delete(rs.index, id)
	return names
}

// track records id as a member of name. It reports false once id has been
// detached.
func (rs *Rooms) track(id ConnID, name string) bool {
	rs.idxMu.Lock()
	defer rs.idxMu.Unlock()

	names, ok := rs.index[id]
	if !ok {
		return false
	}
	names[name] = struct{}{}
	return true
}

func (rs *Rooms) untrack(id ConnID, name string) {
	rs.idxMu.Lock()
	defer rs.idxMu.Unlock()

	if names, ok := rs.index[id]; ok {
		delete(names, name)
	}
}
