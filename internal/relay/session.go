package relay

import (
	"log/slog"
	"sync"
)

// SessionRegistry is the bidirectional identity↔connection index.
// An identity resolves to at most one connection: the most recently
// registered one wins. Thread-safe via sync.RWMutex.
type SessionRegistry struct {
	mu         sync.RWMutex
	byIdentity map[string]string // identity -> connection id
	byConn     map[string]string // connection id -> identity
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		byIdentity: make(map[string]string),
		byConn:     make(map[string]string),
	}
}

// Register binds identity to connID, overwriting any prior binding for the
// identity. A previously bound connection is left open but becomes
// unroutable; it is NOT closed. Blank identities are ignored.
// Returns false if nothing was bound.
func (r *SessionRegistry) Register(identity, connID string) bool {
	if identity == "" || connID == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byIdentity[identity] = connID
	r.byConn[connID] = identity
	slog.Debug("session registered", "identity", identity, "conn", connID)
	return true
}

// Resolve returns the connection currently bound to identity.
func (r *SessionRegistry) Resolve(identity string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	connID, ok := r.byIdentity[identity]
	return connID, ok
}

// IdentityOf returns the identity the connection registered as.
func (r *SessionRegistry) IdentityOf(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	identity, ok := r.byConn[connID]
	return identity, ok
}

// Unregister removes the binding held by connID. The forward entry is only
// removed if it still points at this connection, so a later re-register on
// another connection is not undone by the earlier connection's disconnect.
// Returns the identity that was bound to connID, if any.
func (r *SessionRegistry) Unregister(connID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	identity, ok := r.byConn[connID]
	if !ok {
		return "", false
	}
	delete(r.byConn, connID)
	if r.byIdentity[identity] == connID {
		delete(r.byIdentity, identity)
	}
	slog.Debug("session unregistered", "identity", identity, "conn", connID)
	return identity, true
}

// Len returns the number of live identity bindings.
func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byIdentity)
}
