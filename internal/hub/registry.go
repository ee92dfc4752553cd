// Package hub owns the live-connection state: which websocket
// connections belong to which user, and the fan-out paths that deliver
// updates to them. It is joined to the durable layer only by user ids,
// never by object references.
package hub

import (
	"sync"
)

// Conn is the transport surface the hub needs from a live connection.
// Implementations must tolerate WriteJSON being called from multiple
// goroutines.
type Conn interface {
	WriteJSON(v interface{}) error
	Close() error
}

// Registry tracks live connections per user. A user may hold any number
// of simultaneous connections (multi-device). Both directions of the
// mapping live behind one mutex so neither map can hold an entry the
// other lacks.
type Registry struct {
	mu        sync.Mutex
	userConns map[string]map[Conn]struct{}
	connUser  map[Conn]string
}

func NewRegistry() *Registry {
	return &Registry{
		userConns: make(map[string]map[Conn]struct{}),
		connUser:  make(map[Conn]string),
	}
}

// Register adds a connection to the user's set. It must be called
// exactly once per accepted connection, after authentication succeeds
// and before any message is read from it.
func (r *Registry) Register(conn Conn, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.userConns[userID]
	if !ok {
		set = make(map[Conn]struct{})
		r.userConns[userID] = set
	}
	set[conn] = struct{}{}
	r.connUser[conn] = userID
}

// Unregister removes the connection and drops the user's entry entirely
// once its set empties, bounding memory by active users. Unknown
// connections are ignored so every exit path can call it unconditionally.
func (r *Registry) Unregister(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.connUser[conn]
	if !ok {
		return
	}
	delete(r.connUser, conn)

	if set, ok := r.userConns[userID]; ok {
		delete(set, conn)
		if len(set) == 0 {
			delete(r.userConns, userID)
		}
	}
}

// ConnectionsFor returns a snapshot of the user's current connections.
// Delivery iterates the snapshot, never the live set, because a failed
// send unregisters mid-iteration.
func (r *Registry) ConnectionsFor(userID string) []Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.userConns[userID]
	out := make([]Conn, 0, len(set))
	for conn := range set {
		out = append(out, conn)
	}
	return out
}

// UserFor returns the user a connection was registered under.
func (r *Registry) UserFor(conn Conn) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.connUser[conn]
	return userID, ok
}

// ActiveUsers reports how many users currently hold at least one
// connection.
func (r *Registry) ActiveUsers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.userConns)
}
