// Package server provides the in-memory room store: member sets, creator
// records, and bounded chat history under the configured room policy.
package server

import (
	"sort"
	"time"
)

// RoomPolicy selects the product semantics for room lifecycle. It is fixed
// per deployment; the two policies are never mixed at runtime.
type RoomPolicy string

const (
	// PolicyImplicit creates rooms explicitly, rejects joins of unknown
	// rooms, caps membership, and deletes rooms as soon as they empty.
	PolicyImplicit RoomPolicy = "implicit"

	// PolicyOwned records a creator, auto-creates rooms on join, imposes no
	// membership cap, and deletes rooms only on the creator's request.
	PolicyOwned RoomPolicy = "owned"
)

// Room holds the state of a single room. Rooms are owned by the RoomStore
// and must only be touched from the hub goroutine.
type Room struct {
	ID        string
	Creator   string
	CreatedAt time.Time

	members map[string]struct{}
	history []ChatMessage
}

// MemberCount returns the number of connections currently in the room.
func (r *Room) MemberCount() int {
	return len(r.members)
}

// Has reports whether the connection is a member of the room.
func (r *Room) Has(connID string) bool {
	_, ok := r.members[connID]
	return ok
}

// Members returns the member identifiers in sorted order.
func (r *Room) Members() []string {
	ids := make([]string, 0, len(r.members))
	for id := range r.members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// History returns a copy of the room's chat history, oldest first.
func (r *Room) History() []ChatMessage {
	out := make([]ChatMessage, len(r.history))
	copy(out, r.history)
	return out
}

// RoomStore maps room identifiers to room state. It performs no locking of
// its own; the hub goroutine serializes every access.
type RoomStore struct {
	policy       RoomPolicy
	capacity     int
	historyLimit int
	rooms        map[string]*Room
}

// NewRoomStore creates an empty store. The capacity cap applies only under
// the implicit policy; historyLimit bounds per-room chat history.
func NewRoomStore(policy RoomPolicy, capacity, historyLimit int) *RoomStore {
	if policy != PolicyOwned {
		policy = PolicyImplicit
	}
	return &RoomStore{
		policy:       policy,
		capacity:     capacity,
		historyLimit: historyLimit,
		rooms:        make(map[string]*Room),
	}
}

// Policy returns the store's fixed room policy.
func (s *RoomStore) Policy() RoomPolicy {
	return s.policy
}

// Create adds a new empty room. Under the owned policy the given creator
// name is recorded for deletion authorization. Fails with ErrRoomExists if
// the identifier is taken.
func (s *RoomStore) Create(id, creator string) (*Room, error) {
	if _, ok := s.rooms[id]; ok {
		return nil, ErrRoomExists
	}

	room := &Room{
		ID:        id,
		CreatedAt: time.Now(),
		members:   make(map[string]struct{}),
	}
	if s.policy == PolicyOwned {
		room.Creator = creator
	}
	s.rooms[id] = room
	return room, nil
}

// Join adds a connection to a room. Under the implicit policy the room must
// already exist and the capacity cap is enforced; under the owned policy a
// missing room is auto-created with the joiner recorded as creator. Joining a
// room the connection is already in succeeds without effect. The second
// return value reports whether the room was created by this call.
func (s *RoomStore) Join(id, connID, joinerName string) (*Room, bool, error) {
	room, ok := s.rooms[id]
	created := false

	if !ok {
		if s.policy == PolicyImplicit {
			return nil, false, ErrRoomNotFound
		}
		room, _ = s.Create(id, joinerName)
		created = true
	}

	// Re-joining a room the connection already occupies is idempotent and
	// must not trip the capacity cap.
	if room.Has(connID) {
		return room, created, nil
	}

	if s.policy == PolicyImplicit && s.capacity > 0 && len(room.members) >= s.capacity {
		return nil, false, ErrRoomFull
	}

	room.members[connID] = struct{}{}
	return room, created, nil
}

// Leave removes a connection from a room. It is idempotent: leaving a room
// the connection is not in reports removed=false and has no side effects.
// Under the implicit policy an emptied room is deleted, reported through the
// second return value.
func (s *RoomStore) Leave(id, connID string) (removed, deleted bool) {
	room, ok := s.rooms[id]
	if !ok {
		return false, false
	}
	if _, ok := room.members[connID]; !ok {
		return false, false
	}

	delete(room.members, connID)
	if s.policy == PolicyImplicit && len(room.members) == 0 {
		delete(s.rooms, id)
		return true, true
	}
	return true, false
}

// Delete removes a room on behalf of a requester. Only valid under the owned
// policy; the requester name must match the recorded creator. On success the
// detached member identifiers are returned and the room, including its
// history, is discarded.
func (s *RoomStore) Delete(id, requester string) ([]string, error) {
	room, ok := s.rooms[id]
	if !ok {
		return nil, ErrRoomNotFound
	}
	if room.Creator == "" || room.Creator != requester {
		return nil, ErrNotCreator
	}

	members := room.Members()
	delete(s.rooms, id)
	return members, nil
}

// Get returns the room with the given identifier, if present.
func (s *RoomStore) Get(id string) (*Room, bool) {
	room, ok := s.rooms[id]
	return room, ok
}

// List returns a snapshot of every room, sorted by identifier.
func (s *RoomStore) List() []RoomSummary {
	out := make([]RoomSummary, 0, len(s.rooms))
	for _, room := range s.rooms {
		out = append(out, RoomSummary{
			ID:        room.ID,
			Members:   len(room.members),
			Creator:   room.Creator,
			CreatedAt: room.CreatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Members returns the member identifiers of a room, or an empty slice if the
// room does not exist. A missing room is not an error for this query.
func (s *RoomStore) Members(id string) []string {
	room, ok := s.rooms[id]
	if !ok {
		return []string{}
	}
	return room.Members()
}

// History returns the chat history of a room, oldest first, or an empty
// slice if the room does not exist.
func (s *RoomStore) History(id string) []ChatMessage {
	room, ok := s.rooms[id]
	if !ok {
		return []ChatMessage{}
	}
	return room.History()
}

// Append records a chat message in the room's history, evicting the oldest
// entry once the history limit is reached. It reports whether the room
// exists.
func (s *RoomStore) Append(id string, msg ChatMessage) bool {
	room, ok := s.rooms[id]
	if !ok {
		return false
	}

	room.history = append(room.history, msg)
	if s.historyLimit > 0 && len(room.history) > s.historyLimit {
		overflow := len(room.history) - s.historyLimit
		room.history = append(room.history[:0], room.history[overflow:]...)
	}
	return true
}
