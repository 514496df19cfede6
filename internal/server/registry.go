// Package server keeps the bounded table of live connections in the Registry.
package server

import (
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
)

// firstSessionID is the first id handed out in a process run.
const firstSessionID SessionID = 10

// Registry is the bounded set of connections eligible for broadcasts, keyed by
// session id. A single mutex covers membership changes and snapshots; it is
// never held across network I/O.
type Registry struct {
	mu       sync.RWMutex
	entries  map[SessionID]*Connection
	pending  int
	capacity int
	nextID   SessionID
}

// SessionInfo is a read-only view of one registered connection.
type SessionInfo struct {
	ID       SessionID
	Name     string
	Addr     string
	TraceID  string
	JoinedAt time.Time
}

// NewRegistry creates an empty Registry holding at most capacity connections.
func NewRegistry(capacity int) *Registry {
	if capacity < 1 {
		capacity = 1
	}
	return &Registry{
		entries:  make(map[SessionID]*Connection, capacity),
		capacity: capacity,
		nextID:   firstSessionID,
	}
}

// Reservation holds one registry slot for a connection that is still
// handshaking. It either becomes an entry through Commit or gives the slot
// back through Release.
type Reservation struct {
	registry *Registry
	settled  bool
}

// Reserve claims a slot without creating an entry. Pending reservations count
// against capacity but not toward Len.
func (r *Registry) Reserve() (*Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.occupiedLocked() >= r.capacity {
		return nil, ErrCapacityExceeded
	}
	r.pending++
	return &Reservation{registry: r}, nil
}

// Commit turns the reservation into a registry entry for conn and returns
// the assigned session id.
func (res *Reservation) Commit(conn *Connection) (SessionID, error) {
	r := res.registry
	r.mu.Lock()
	defer r.mu.Unlock()

	if res.settled {
		return NoSession, ErrReservationSettled
	}
	res.settled = true
	r.pending--
	return r.insertLocked(conn), nil
}

// Release returns an uncommitted slot. Releasing twice, or after Commit,
// does nothing.
func (res *Reservation) Release() {
	r := res.registry
	r.mu.Lock()
	defer r.mu.Unlock()

	if res.settled {
		return
	}
	res.settled = true
	r.pending--
}

// Insert registers conn in one step, failing with ErrCapacityExceeded when
// no slot is free.
func (r *Registry) Insert(conn *Connection) (SessionID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.occupiedLocked() >= r.capacity {
		return NoSession, ErrCapacityExceeded
	}
	return r.insertLocked(conn), nil
}

func (r *Registry) insertLocked(conn *Connection) SessionID {
	id := r.nextID
	r.nextID++
	conn.id = id
	r.entries[id] = conn
	return id
}

func (r *Registry) occupiedLocked() int {
	return len(r.entries) + r.pending
}

// Remove deletes the entry for id. Removing an unknown id is a no-op; the
// result reports whether an entry was deleted.
func (r *Registry) Remove(id SessionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[id]; !ok {
		return false
	}
	delete(r.entries, id)
	return true
}

// Snapshot returns the registered connections other than exclude, ordered by
// session id. The slice is a copy and stays valid after the lock is released.
func (r *Registry) Snapshot(exclude SessionID) []*Connection {
	r.mu.RLock()
	peers := lo.Filter(lo.Values(r.entries), func(c *Connection, _ int) bool {
		return c.id != exclude
	})
	r.mu.RUnlock()

	sort.Slice(peers, func(i, j int) bool { return peers[i].id < peers[j].id })
	return peers
}

// Sessions describes every registered connection, ordered by session id.
func (r *Registry) Sessions() []SessionInfo {
	return lo.Map(r.Snapshot(NoSession), func(c *Connection, _ int) SessionInfo {
		return SessionInfo{
			ID:       c.id,
			Name:     c.name,
			Addr:     c.addr,
			TraceID:  c.traceID,
			JoinedAt: c.joinedAt,
		}
	})
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Pending returns the number of slots held by handshaking connections.
func (r *Registry) Pending() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pending
}

// Capacity returns the fixed upper bound on registered connections.
func (r *Registry) Capacity() int {
	return r.capacity
}
