package sfu

import (
	"sort"
	"sync"
)

// ParticipantID identifies one signaling connection.
type ParticipantID string

// RoomID is the caller supplied room name.
type RoomID string

// Publisher is a participant whose media has been confirmed in a room.
type Publisher struct {
	ID     ParticipantID
	Stream MediaStream
}

// RoomInfo is a read-only view of one room.
type RoomInfo struct {
	ID         RoomID          `json:"id"`
	Publishers []ParticipantID `json:"publishers"`
	Members    []ParticipantID `json:"members"`
}

type room struct {
	publishers []Publisher
	members    map[ParticipantID]struct{}
}

func (r *room) empty() bool {
	return len(r.publishers) == 0 && len(r.members) == 0
}

func (r *room) publisherIndex(p ParticipantID) int {
	for i, pub := range r.publishers {
		if pub.ID == p {
			return i
		}
	}
	return -1
}

// RoomRegistry keeps room membership and the participant to room index.
type RoomRegistry struct {
	mu    sync.RWMutex
	rooms map[RoomID]*room
	index map[ParticipantID]RoomID

	onChange func(rooms int)
}

// NewRoomRegistry creates an empty registry.
func NewRoomRegistry() *RoomRegistry {
	return &RoomRegistry{
		rooms: make(map[RoomID]*room),
		index: make(map[ParticipantID]RoomID),
	}
}

// OnChange sets a callback fired with the room count after rooms are created or deleted.
func (r *RoomRegistry) OnChange(f func(rooms int)) {
	r.mu.Lock()
	r.onChange = f
	r.mu.Unlock()
}

// Join indexes p in rm. It does not make p a publisher.
func (r *RoomRegistry) Join(p ParticipantID, rm RoomID) {
	r.mu.Lock()
	before := len(r.rooms)
	if cur, ok := r.index[p]; ok && cur != rm {
		r.removeLocked(p, cur)
	}
	r.index[p] = rm
	r.getLocked(rm).members[p] = struct{}{}
	notify := r.changed(before)
	r.mu.Unlock()

	notify()
}

// RoomOf returns the room p joined.
func (r *RoomRegistry) RoomOf(p ParticipantID) (RoomID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rm, ok := r.index[p]
	return rm, ok
}

// Others returns the confirmed publishers of rm other than p, in confirmation order.
func (r *RoomRegistry) Others(p ParticipantID, rm RoomID) []ParticipantID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ro, ok := r.rooms[rm]
	if !ok {
		return []ParticipantID{}
	}
	out := make([]ParticipantID, 0, len(ro.publishers))
	for _, pub := range ro.publishers {
		if pub.ID != p {
			out = append(out, pub.ID)
		}
	}
	return out
}

// Members returns every participant of rm except the given one.
func (r *RoomRegistry) Members(rm RoomID, except ParticipantID) []ParticipantID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ro, ok := r.rooms[rm]
	if !ok {
		return nil
	}
	out := make([]ParticipantID, 0, len(ro.members))
	for id := range ro.members {
		if id != except {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Confirm adds p as a publisher of rm. It returns true the first time only,
// and false when p is no longer indexed in rm.
func (r *RoomRegistry) Confirm(p ParticipantID, rm RoomID, stream MediaStream) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.index[p]; !ok || cur != rm {
		return false
	}
	ro := r.getLocked(rm)
	if ro.publisherIndex(p) >= 0 {
		return false
	}
	ro.publishers = append(ro.publishers, Publisher{ID: p, Stream: stream})
	ro.members[p] = struct{}{}
	return true
}

// Restream swaps the stream of a publisher already confirmed in rm, keeping
// its place in the confirmation order. It returns false when p is not one.
func (r *RoomRegistry) Restream(p ParticipantID, rm RoomID, stream MediaStream) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.index[p]; !ok || cur != rm {
		return false
	}
	ro, ok := r.rooms[rm]
	if !ok {
		return false
	}
	i := ro.publisherIndex(p)
	if i < 0 {
		return false
	}
	ro.publishers[i].Stream = stream
	return true
}

// Stream returns the stream of a confirmed publisher.
func (r *RoomRegistry) Stream(rm RoomID, p ParticipantID) (MediaStream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ro, ok := r.rooms[rm]
	if !ok {
		return nil, false
	}
	if i := ro.publisherIndex(p); i >= 0 {
		return ro.publishers[i].Stream, true
	}
	return nil, false
}

// Remove drops p from its room and the index. An emptied room is deleted.
// It returns the room p was in, if any.
func (r *RoomRegistry) Remove(p ParticipantID) (RoomID, bool) {
	r.mu.Lock()
	before := len(r.rooms)
	rm, ok := r.index[p]
	if ok {
		r.removeLocked(p, rm)
	}
	notify := r.changed(before)
	r.mu.Unlock()

	notify()
	return rm, ok
}

// Snapshot lists all rooms sorted by id.
func (r *RoomRegistry) Snapshot() []RoomInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RoomInfo, 0, len(r.rooms))
	for id, ro := range r.rooms {
		info := RoomInfo{ID: id, Publishers: make([]ParticipantID, 0, len(ro.publishers))}
		for _, pub := range ro.publishers {
			info.Publishers = append(info.Publishers, pub.ID)
		}
		for m := range ro.members {
			info.Members = append(info.Members, m)
		}
		sort.Slice(info.Members, func(i, j int) bool { return info.Members[i] < info.Members[j] })
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of live rooms.
func (r *RoomRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

func (r *RoomRegistry) getLocked(rm RoomID) *room {
	ro, ok := r.rooms[rm]
	if !ok {
		ro = &room{members: make(map[ParticipantID]struct{})}
		r.rooms[rm] = ro
	}
	return ro
}

func (r *RoomRegistry) removeLocked(p ParticipantID, rm RoomID) {
	delete(r.index, p)
	ro, ok := r.rooms[rm]
	if !ok {
		return
	}
	if i := ro.publisherIndex(p); i >= 0 {
		ro.publishers = append(ro.publishers[:i], ro.publishers[i+1:]...)
	}
	delete(ro.members, p)
	if ro.empty() {
		delete(r.rooms, rm)
	}
}

// changed returns the callback to run once the lock is released.
func (r *RoomRegistry) changed(before int) func() {
	after := len(r.rooms)
	f := r.onChange
	if f == nil || after == before {
		return func() {}
	}
	return func() { f(after) }
}
