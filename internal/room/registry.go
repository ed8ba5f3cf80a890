// Package room holds the in-memory room state for jam sessions: the registry
// of rooms and their ordered members, and the per-room listener channels used
// by passive observers.
package room

import (
	"errors"
	"fmt"
	"sync"
)

const (
	// DefaultCapacity is the maximum number of members a room holds.
	DefaultCapacity = 4

	// DefaultInstrument is assigned to every member on join.
	DefaultInstrument = "piano"
)

var (
	ErrRoomNotFound      = errors.New("room not found")
	ErrRoomAlreadyExists = errors.New("room already exists")
	ErrRoomFull          = errors.New("room is full")
	ErrPeerNotFound      = errors.New("peer not found")
	ErrAlreadyInRoom     = errors.New("peer already in a room")
	ErrInvalidRoomID     = errors.New("invalid room id")
)

// Member is a connection seated in a room.
type Member struct {
	PeerID     string `json:"peerId"`
	Instrument string `json:"instrument"`
}

// Summary is one row of the room directory.
type Summary struct {
	RoomName    string   `json:"roomName"`
	NumPeople   int      `json:"numPeople"`
	Instruments []string `json:"instruments"`
}

// Snapshot captures the state produced by a single mutation. Members and
// Directory are taken under the same lock as the mutation itself, so any
// broadcast built from a Snapshot reflects exactly that mutation.
type Snapshot struct {
	RoomID    string
	Members   []Member
	Directory []Summary

	// Removed is set by Leave when the room was reaped after its last member left.
	Removed bool
}

// Options tunes a Registry. Zero values select the defaults.
type Options struct {
	Capacity          int
	DefaultInstrument string

	// ReapEmpty deletes a room as soon as its last member leaves. Rooms are
	// retained forever otherwise.
	ReapEmpty bool
}

type room struct {
	members []Member
}

func (r *room) indexOf(peerID string) int {
	for i, m := range r.members {
		if m.PeerID == peerID {
			return i
		}
	}
	return -1
}

// Registry is the source of truth for room membership. All mutation and all
// directory reads happen under one mutex.
type Registry struct {
	mu       sync.RWMutex
	rooms    map[string]*room
	order    []string
	peerRoom map[string]string

	capacity          int
	defaultInstrument string
	reapEmpty         bool
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts Options) *Registry {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.DefaultInstrument == "" {
		opts.DefaultInstrument = DefaultInstrument
	}
	return &Registry{
		rooms:             make(map[string]*room),
		peerRoom:          make(map[string]string),
		capacity:          opts.Capacity,
		defaultInstrument: opts.DefaultInstrument,
		reapEmpty:         opts.ReapEmpty,
	}
}

// Capacity returns the member limit applied to every room.
func (r *Registry) Capacity() int {
	return r.capacity
}

// Create adds an empty room.
func (r *Registry) Create(roomID string) (Snapshot, error) {
	if roomID == "" {
		return Snapshot{}, ErrInvalidRoomID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rooms[roomID]; ok {
		return Snapshot{}, fmt.Errorf("%w: %q", ErrRoomAlreadyExists, roomID)
	}
	r.rooms[roomID] = &room{}
	r.order = append(r.order, roomID)

	return r.snapshotLocked(roomID), nil
}

// Join appends peerID to the room with the default instrument. A failed join
// leaves the registry untouched.
func (r *Registry) Join(roomID, peerID string) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %q", ErrRoomNotFound, roomID)
	}
	if current, ok := r.peerRoom[peerID]; ok {
		return Snapshot{RoomID: current}, fmt.Errorf("%w: %q", ErrAlreadyInRoom, current)
	}
	if len(rm.members) >= r.capacity {
		return Snapshot{}, fmt.Errorf("%w: %q", ErrRoomFull, roomID)
	}

	rm.members = append(rm.members, Member{PeerID: peerID, Instrument: r.defaultInstrument})
	r.peerRoom[peerID] = roomID

	return r.snapshotLocked(roomID), nil
}

// Leave removes peerID from the room, keeping the relative order of the
// remaining members.
func (r *Registry) Leave(roomID, peerID string) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %q", ErrRoomNotFound, roomID)
	}
	idx := rm.indexOf(peerID)
	if idx < 0 {
		return Snapshot{}, fmt.Errorf("%w: %q in %q", ErrPeerNotFound, peerID, roomID)
	}

	rm.members = append(rm.members[:idx], rm.members[idx+1:]...)
	delete(r.peerRoom, peerID)

	removed := false
	if r.reapEmpty && len(rm.members) == 0 {
		r.deleteRoomLocked(roomID)
		removed = true
	}

	snap := r.snapshotLocked(roomID)
	snap.Removed = removed
	return snap, nil
}

// LeaveCurrent removes peerID from whichever room it is in. ok is false when
// the peer holds no membership.
func (r *Registry) LeaveCurrent(peerID string) (Snapshot, bool) {
	r.mu.RLock()
	roomID, ok := r.peerRoom[peerID]
	r.mu.RUnlock()
	if !ok {
		return Snapshot{}, false
	}

	snap, err := r.Leave(roomID, peerID)
	if err != nil {
		return Snapshot{}, false
	}
	return snap, true
}

// SelectInstrument updates the instrument of a member in place.
func (r *Registry) SelectInstrument(roomID, peerID, instrument string) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %q", ErrRoomNotFound, roomID)
	}
	idx := rm.indexOf(peerID)
	if idx < 0 {
		return Snapshot{}, fmt.Errorf("%w: %q in %q", ErrPeerNotFound, peerID, roomID)
	}
	rm.members[idx].Instrument = instrument

	return r.snapshotLocked(roomID), nil
}

// Members returns a copy of the room's member list.
func (r *Registry) Members(roomID string) ([]Member, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return nil, false
	}
	return copyMembers(rm.members), true
}

// RoomOf reports the room peerID currently belongs to.
func (r *Registry) RoomOf(peerID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	roomID, ok := r.peerRoom[peerID]
	return roomID, ok
}

// Directory summarises every room in creation order.
func (r *Registry) Directory() []Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.directoryLocked()
}

// Len returns the number of rooms.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// Reset drops every room and membership.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.rooms = make(map[string]*room)
	r.peerRoom = make(map[string]string)
	r.order = nil
}

func (r *Registry) deleteRoomLocked(roomID string) {
	delete(r.rooms, roomID)
	for i, id := range r.order {
		if id == roomID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

func (r *Registry) snapshotLocked(roomID string) Snapshot {
	snap := Snapshot{
		RoomID:    roomID,
		Directory: r.directoryLocked(),
	}
	if rm, ok := r.rooms[roomID]; ok {
		snap.Members = copyMembers(rm.members)
	} else {
		snap.Members = []Member{}
	}
	return snap
}

func (r *Registry) directoryLocked() []Summary {
	out := make([]Summary, 0, len(r.order))
	for _, id := range r.order {
		rm := r.rooms[id]
		instruments := make([]string, len(rm.members))
		for i, m := range rm.members {
			instruments[i] = m.Instrument
		}
		out = append(out, Summary{
			RoomName:    id,
			NumPeople:   len(rm.members),
			Instruments: instruments,
		})
	}
	return out
}

func copyMembers(members []Member) []Member {
	out := make([]Member, len(members))
	copy(out, members)
	return out
}
