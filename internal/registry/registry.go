// Package registry implements the Connection Registry (C5): the in-process, authoritative mapping of user_id to the
// set of live sockets that user currently has open on this node. It is the only heavily-shared structure in the
// server (spec §5), so it favors a read-optimised strategy — a RWMutex guarding plain maps, with snapshot iteration
// for fan-out so a send loop never holds the lock.
package registry

import (
	"sync"

	"github.com/google/uuid"
)

// Socket is the subset of a gateway client the registry needs: an identity for eviction/removal and a way to force a
// close with a specific wire close code. Narrowed to an interface so the registry can be unit tested without a real
// WebSocket connection.
type Socket interface {
	ID() uuid.UUID
	CloseWithCode(code int, reason string)
}

// Registry tracks live sockets per user. The zero value is not usable; construct with New.
type Registry struct {
	mu      sync.RWMutex
	sockets map[uuid.UUID][]Socket // user_id -> sockets, oldest first
	maxConn int

	onEmpty func(userID uuid.UUID) // invoked (outside the lock) when a user's socket set becomes empty
}

// New creates a Registry enforcing maxConnectionsPerUser live sockets per user (spec §4.3 default 5). onEmpty, if
// non-nil, is called after unregister removes a user's last socket — wired to clear the C2 presence key.
func New(maxConnectionsPerUser int, onEmpty func(userID uuid.UUID)) *Registry {
	return &Registry{
		sockets: make(map[uuid.UUID][]Socket),
		maxConn: maxConnectionsPerUser,
		onEmpty: onEmpty,
	}
}

// Register admits a new socket for userID. If the user already holds maxConnectionsPerUser sockets, the oldest is
// evicted with close code 1013 (overloaded) before the new one is added (spec §4.3, end-to-end scenario 5).
func (r *Registry) Register(userID uuid.UUID, sock Socket) {
	var evicted Socket

	r.mu.Lock()
	existing := r.sockets[userID]
	if len(existing) >= r.maxConn {
		evicted = existing[0]
		existing = existing[1:]
	}
	r.sockets[userID] = append(existing, sock)
	r.mu.Unlock()

	if evicted != nil {
		evicted.CloseWithCode(PolicyViolationCode, "max connections per user exceeded")
	}
}

// Unregister removes sock from userID's socket set. If the set becomes empty, onEmpty is invoked once the lock is
// released.
func (r *Registry) Unregister(userID uuid.UUID, sock Socket) {
	becameEmpty := false

	r.mu.Lock()
	existing := r.sockets[userID]
	for i, s := range existing {
		if s == sock {
			existing = append(existing[:i], existing[i+1:]...)
			break
		}
	}
	if len(existing) == 0 {
		delete(r.sockets, userID)
		becameEmpty = true
	} else {
		r.sockets[userID] = existing
	}
	r.mu.Unlock()

	if becameEmpty && r.onEmpty != nil {
		r.onEmpty(userID)
	}
}

// SocketsFor returns a snapshot of userID's currently registered sockets, safe to range over while other goroutines
// concurrently register/unregister (spec §4.3).
func (r *Registry) SocketsFor(userID uuid.UUID) []Socket {
	r.mu.RLock()
	defer r.mu.RUnlock()

	existing := r.sockets[userID]
	if len(existing) == 0 {
		return nil
	}
	out := make([]Socket, len(existing))
	copy(out, existing)
	return out
}

// IsLocallyOnline is a cheap membership test: does userID have at least one live socket on this node.
func (r *Registry) IsLocallyOnline(userID uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sockets[userID]) > 0
}

// ManyLocallyOnline batch-tests a set of users, returning the subset with at least one live local socket. Used by
// the group-message handler before falling back to the cache-backed presence check for members not on this node.
func (r *Registry) ManyLocallyOnline(userIDs []uuid.UUID) map[uuid.UUID]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[uuid.UUID]bool, len(userIDs))
	for _, id := range userIDs {
		out[id] = len(r.sockets[id]) > 0
	}
	return out
}

// PolicyViolationCode is the WebSocket close code sent to an evicted socket (spec §6: 1013 overloaded).
const PolicyViolationCode = 1013
