package realtime

import (
	"sort"
	"sync"
)

// Rooms is the conversation membership index: conversation id to the set of member
// connection ids, plus the reverse index used to purge a connection in one pass.
//
// Lock order is always connection shard, then room shard. Empty rooms are pruned as soon as
// their last member leaves.
type Rooms struct {
	rooms   []*roomShard
	members []*memberShard
}

type roomShard struct {
	mu    sync.RWMutex
	rooms map[string]map[string]struct{}
}

type memberShard struct {
	mu          sync.Mutex
	memberships map[string]map[string]struct{}
}

// NewRooms creates an index with the given shard count.
func NewRooms(shards int) *Rooms {
	if shards < 1 {
		shards = 1
	}

	r := &Rooms{
		rooms:   make([]*roomShard, shards),
		members: make([]*memberShard, shards),
	}
	for i := 0; i < shards; i++ {
		r.rooms[i] = &roomShard{rooms: make(map[string]map[string]struct{})}
		r.members[i] = &memberShard{memberships: make(map[string]map[string]struct{})}
	}
	return r
}

func (r *Rooms) roomShard(conversationID string) *roomShard {
	return r.rooms[shardFor(conversationID, len(r.rooms))]
}

func (r *Rooms) memberShard(connID string) *memberShard {
	return r.members[shardFor(connID, len(r.members))]
}

// Join adds connID to the room, creating the room on first use. Joining twice is a no-op.
func (r *Rooms) Join(conversationID, connID string) {
	ms := r.memberShard(connID)
	ms.mu.Lock()
	defer ms.mu.Unlock()

	joined, ok := ms.memberships[connID]
	if !ok {
		joined = make(map[string]struct{})
		ms.memberships[connID] = joined
	}
	joined[conversationID] = struct{}{}

	rs := r.roomShard(conversationID)
	rs.mu.Lock()
	defer rs.mu.Unlock()

	set, ok := rs.rooms[conversationID]
	if !ok {
		set = make(map[string]struct{})
		rs.rooms[conversationID] = set
	}
	set[connID] = struct{}{}
}

// Leave removes connID from the room. Leaving a room one is not in is a no-op.
// It reports whether a membership was removed.
func (r *Rooms) Leave(conversationID, connID string) bool {
	ms := r.memberShard(connID)
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if joined, ok := ms.memberships[connID]; ok {
		delete(joined, conversationID)
		if len(joined) == 0 {
			delete(ms.memberships, connID)
		}
	}

	return r.removeMember(conversationID, connID)
}

// LeaveAll purges every membership of connID and returns the rooms it was in.
func (r *Rooms) LeaveAll(connID string) []string {
	ms := r.memberShard(connID)
	ms.mu.Lock()
	defer ms.mu.Unlock()

	joined := ms.memberships[connID]
	delete(ms.memberships, connID)

	left := make([]string, 0, len(joined))
	for conversationID := range joined {
		if r.removeMember(conversationID, connID) {
			left = append(left, conversationID)
		}
	}
	sort.Strings(left)
	return left
}

// removeMember drops connID from the room set, pruning the room if it empties.
func (r *Rooms) removeMember(conversationID, connID string) bool {
	rs := r.roomShard(conversationID)
	rs.mu.Lock()
	defer rs.mu.Unlock()

	set, ok := rs.rooms[conversationID]
	if !ok {
		return false
	}
	if _, member := set[connID]; !member {
		return false
	}

	delete(set, connID)
	if len(set) == 0 {
		delete(rs.rooms, conversationID)
	}
	return true
}

// Members returns a snapshot of the connection ids in the room.
func (r *Rooms) Members(conversationID string) []string {
	rs := r.roomShard(conversationID)
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	set := rs.rooms[conversationID]
	members := make([]string, 0, len(set))
	for connID := range set {
		members = append(members, connID)
	}
	return members
}

// Memberships returns the rooms connID is currently in.
func (r *Rooms) Memberships(connID string) []string {
	ms := r.memberShard(connID)
	ms.mu.Lock()
	defer ms.mu.Unlock()

	joined := ms.memberships[connID]
	rooms := make([]string, 0, len(joined))
	for conversationID := range joined {
		rooms = append(rooms, conversationID)
	}
	sort.Strings(rooms)
	return rooms
}

// Len returns the number of non-empty rooms.
func (r *Rooms) Len() int {
	n := 0
	for _, rs := range r.rooms {
		rs.mu.RLock()
		n += len(rs.rooms)
		rs.mu.RUnlock()
	}
	return n
}
