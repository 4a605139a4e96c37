// Package presence tracks which users currently hold live gateway
// connections. The registry is process-local and rebuilt empty on restart;
// every user appears offline until they reconnect.
package presence

import (
	"sync"
	"time"

	"github.com/meethub/backend/internal/event"
)

// Conn is a live connection handle bound to a user identity. The gateway's
// client type implements it; the dispatcher only ever sees this interface.
type Conn interface {
	UserID() string
	Send(env *event.Envelope) error
}

// Binding records when a connection was registered
type Binding struct {
	ConnectedAt time.Time
}

// Registry maps a user ID to the set of active connection handles. A user may
// hold several bindings at once (multi-device).
type Registry struct {
	mu    sync.RWMutex
	conns map[string]map[Conn]Binding
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]map[Conn]Binding),
	}
}

// Register binds a connection to its user. Registering the same connection
// twice is a no-op.
func (r *Registry) Register(c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID := c.UserID()
	if r.conns[userID] == nil {
		r.conns[userID] = make(map[Conn]Binding)
	}
	if _, ok := r.conns[userID][c]; !ok {
		r.conns[userID][c] = Binding{ConnectedAt: time.Now()}
	}
}

// Unregister removes the binding for this connection; no-op if absent.
func (r *Registry) Unregister(c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID := c.UserID()
	if bindings, ok := r.conns[userID]; ok {
		delete(bindings, c)
		if len(bindings) == 0 {
			delete(r.conns, userID)
		}
	}
}

// Lookup returns every active connection for a user. An offline user yields an
// empty slice; absence is a valid state, never an error.
func (r *Registry) Lookup(userID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bindings, ok := r.conns[userID]
	if !ok {
		return nil
	}

	result := make([]Conn, 0, len(bindings))
	for c := range bindings {
		result = append(result, c)
	}
	return result
}

// IsOnline reports whether a user has any active connections
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[userID]) > 0
}

// ConnectionCount returns the number of connections for a user
func (r *Registry) ConnectionCount(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[userID])
}

// OnlineUsers returns the IDs of all users with at least one connection
func (r *Registry) OnlineUsers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]string, 0, len(r.conns))
	for userID := range r.conns {
		users = append(users, userID)
	}
	return users
}

// Len returns the total number of active connections
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, bindings := range r.conns {
		total += len(bindings)
	}
	return total
}
