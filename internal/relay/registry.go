package relay

import (
	"sort"
	"sync"
	"time"
)

// Registry is the membership table of the relay: room IDs to the connections
// currently in them. It holds no routing policy.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*room

	// memberships indexes the rooms of each connection so Leave does not scan.
	memberships map[*Client]map[string]struct{}
}

type room struct {
	id        string
	members   []*Client // ordered by join time
	createdAt time.Time
}

// RoomInfo is a point-in-time description of one room.
type RoomInfo struct {
	ID        string    `json:"roomId"`
	Members   []string  `json:"members"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms:       make(map[string]*room),
		memberships: make(map[*Client]map[string]struct{}),
	}
}

// Join adds c to roomID, creating the room if absent, and returns the other
// members in join order. Joining a room twice does not duplicate the member.
func (r *Registry) Join(c *Client, roomID string) []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		rm = &room{id: roomID, createdAt: time.Now()}
		r.rooms[roomID] = rm
	}

	rooms, ok := r.memberships[c]
	if !ok {
		rooms = make(map[string]struct{})
		r.memberships[c] = rooms
	}
	if _, member := rooms[roomID]; !member {
		rooms[roomID] = struct{}{}
		rm.members = append(rm.members, c)
	}

	return othersOf(rm, c)
}

// Leave removes c from every room it belongs to, deleting rooms left empty,
// and returns the IDs of the rooms it was removed from. Calling it for a
// connection without memberships is a no-op.
func (r *Registry) Leave(c *Client) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	rooms, ok := r.memberships[c]
	if !ok {
		return nil
	}
	delete(r.memberships, c)

	left := make([]string, 0, len(rooms))
	for roomID := range rooms {
		r.removeLocked(c, roomID)
		left = append(left, roomID)
	}
	sort.Strings(left)
	return left
}

// LeaveRoom removes c from a single room. It reports whether c was a member.
func (r *Registry) LeaveRoom(c *Client, roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rooms, ok := r.memberships[c]
	if !ok {
		return false
	}
	if _, member := rooms[roomID]; !member {
		return false
	}
	delete(rooms, roomID)
	if len(rooms) == 0 {
		delete(r.memberships, c)
	}
	r.removeLocked(c, roomID)
	return true
}

// removeLocked drops c from the member list of roomID. Callers hold r.mu.
func (r *Registry) removeLocked(c *Client, roomID string) {
	rm, ok := r.rooms[roomID]
	if !ok {
		return
	}
	for i, m := range rm.members {
		if m == c {
			rm.members = append(rm.members[:i:i], rm.members[i+1:]...)
			break
		}
	}
	if len(rm.members) == 0 {
		delete(r.rooms, roomID)
	}
}

// MembersOf returns a copy of the members of roomID in join order.
func (r *Registry) MembersOf(roomID string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]*Client, len(rm.members))
	copy(out, rm.members)
	return out
}

// IsMember reports whether c is currently in roomID.
func (r *Registry) IsMember(c *Client, roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.memberships[c][roomID]
	return ok
}

// RoomsOf returns the rooms c belongs to, sorted.
func (r *Registry) RoomsOf(c *Client) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.memberships[c]))
	for roomID := range r.memberships[c] {
		out = append(out, roomID)
	}
	sort.Strings(out)
	return out
}

// Rooms describes every live room, sorted by ID.
func (r *Registry) Rooms() []RoomInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]RoomInfo, 0, len(r.rooms))
	for _, rm := range r.rooms {
		info := RoomInfo{ID: rm.id, CreatedAt: rm.createdAt}
		for _, m := range rm.members {
			info.Members = append(info.Members, m.ID)
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of live rooms.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

func othersOf(rm *room, c *Client) []*Client {
	out := make([]*Client, 0, len(rm.members))
	for _, m := range rm.members {
		if m != c {
			out = append(out, m)
		}
	}
	return out
}
