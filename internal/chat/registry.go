package chat

import "sync"

// Registry tracks live connections by username. A username maps to every
// connection that joined as it (multi-device); a connection belongs to at
// most one username at a time. Joins run on connection read pumps while
// leaves run on the hub loop, so the maps are lock-guarded.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}
	names map[*Client]string
}

func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]map[*Client]struct{}),
		names: make(map[*Client]string),
	}
}

// Join associates c with username. Joining again under a different username
// moves the connection: last write wins.
func (r *Registry) Join(c *Client, username string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.names[c]; ok {
		if prev == username {
			return
		}
		r.evict(c, prev)
	}

	room, ok := r.rooms[username]
	if !ok {
		room = make(map[*Client]struct{})
		r.rooms[username] = room
	}
	room[c] = struct{}{}
	r.names[c] = username
}

// Leave removes c; the username entry is dropped when its last connection
// leaves. Unknown connections are a no-op.
func (r *Registry) Leave(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	username, ok := r.names[c]
	if !ok {
		return
	}
	r.evict(c, username)
	delete(r.names, c)
}

// evict removes c from username's room. Callers hold mu.
func (r *Registry) evict(c *Client, username string) {
	room := r.rooms[username]
	delete(room, c)
	if len(room) == 0 {
		delete(r.rooms, username)
	}
}

// ConnectionsFor returns a snapshot of username's live connections. Absence
// is a normal state and yields an empty slice, never an error.
func (r *Registry) ConnectionsFor(username string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room := r.rooms[username]
	conns := make([]*Client, 0, len(room))
	for c := range room {
		conns = append(conns, c)
	}
	return conns
}

// All returns a snapshot of every live connection across all usernames.
func (r *Registry) All() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]*Client, 0, len(r.names))
	for c := range r.names {
		conns = append(conns, c)
	}
	return conns
}

// Count reports the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.names)
}
