package chat

import (
	"sort"
	"sync"

	"github.com/samber/lo"
)

// Conn is a live transport channel.
// Send must not block: it queues the event or fails when the connection is closed or congested.
type Conn interface {
	ID() string
	Send(evt Event) error
	Close() error
}

type presenceEntry struct {
	identity Identity
	conn     Conn
	seq      uint64
}

// Registry is the presence registry: a bidirectional index of online users and their connections.
// Every userID -> connID entry has exactly one connID -> entry counterpart.
type Registry struct {
	mu     sync.RWMutex
	byUser map[int]string
	byConn map[string]*presenceEntry
	seq    uint64
}

func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[int]string),
		byConn: make(map[string]*presenceEntry),
	}
}

// Join binds `conn` to `identity`, overwriting any prior connection of that user.
// The replaced connection (if any) is returned; it is no longer joined but is left open.
func (r *Registry) Join(identity Identity, conn Conn) (replaced Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.join(identity, conn)
}

func (r *Registry) join(identity Identity, conn Conn) (replaced Conn) {
	connID := conn.ID()

	// conn re-joining under another identity
	if prev, ok := r.byConn[connID]; ok && prev.identity.ID != identity.ID {
		if r.byUser[prev.identity.ID] == connID {
			delete(r.byUser, prev.identity.ID)
		}
	}

	if oldConnID, ok := r.byUser[identity.ID]; ok && oldConnID != connID {
		replaced = r.byConn[oldConnID].conn
		delete(r.byConn, oldConnID)
	}

	r.seq++
	r.byUser[identity.ID] = connID
	r.byConn[connID] = &presenceEntry{identity: identity, conn: conn, seq: r.seq}
	return replaced
}

// TryJoin binds `conn` to `identity` unless the user is already bound to another connection.
func (r *Registry) TryJoin(identity Identity, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if connID, ok := r.byUser[identity.ID]; ok && connID != conn.ID() {
		return false
	}
	r.join(identity, conn)
	return true
}

func (r *Registry) LookupConnection(userID int) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	connID, ok := r.byUser[userID]
	if !ok {
		return nil, false
	}
	return r.byConn[connID].conn, true
}

func (r *Registry) LookupIdentity(connID string) (Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.byConn[connID]
	if !ok {
		return Identity{}, false
	}
	return entry.identity, true
}

// LookupUser returns the identity of an online user.
func (r *Registry) LookupUser(userID int) (Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	connID, ok := r.byUser[userID]
	if !ok {
		return Identity{}, false
	}
	return r.byConn[connID].identity, true
}

// Remove unbinds `connID`. The user's entry is only deleted while `connID` still owns it.
// It reports the removed identity and whether the user went offline; calling it again is a no-op.
func (r *Registry) Remove(connID string) (Identity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.byConn[connID]
	if !ok {
		return Identity{}, false
	}
	delete(r.byConn, connID)

	if r.byUser[entry.identity.ID] != connID {
		return entry.identity, false
	}
	delete(r.byUser, entry.identity.ID)
	return entry.identity, true
}

// ListOnline returns the online identities in join order.
func (r *Registry) ListOnline() []Identity {
	return lo.Map(r.entries(), func(entry presenceEntry, _ int) Identity {
		return entry.identity
	})
}

// Connections returns the joined connections in join order.
func (r *Registry) Connections() []Conn {
	return lo.Map(r.entries(), func(entry presenceEntry, _ int) Conn {
		return entry.conn
	})
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

// Broadcast sends `evt` to every joined connection but `exceptConnID`.
// Delivery is best-effort: a connection failing to queue the event is skipped.
func (r *Registry) Broadcast(exceptConnID string, evt Event) {
	for _, conn := range r.Connections() {
		if conn.ID() != exceptConnID {
			_ = conn.Send(evt)
		}
	}
}

func (r *Registry) entries() []presenceEntry {
	r.mu.RLock()
	entries := make([]presenceEntry, 0, len(r.byConn))
	for _, entry := range r.byConn {
		entries = append(entries, *entry)
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	return entries
}
