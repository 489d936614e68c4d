// SPDX-License-Identifier: Apache-2.0

// Package registry implements C2: the map from TunnelId to the loopback (or
// public) socket address of the session's ephemeral TCP listener.
package registry

import (
	"sync"

	"github.com/sgrok-dev/sgrok/internal/tunnel"
)

// Registry routes public requests to agent sessions. Reads are frequent
// (every public request); writes are rare (one per session lifecycle
// event). Every operation is atomic under a single reader-writer lock.
type Registry struct {
	mu      sync.RWMutex
	entries map[tunnel.ID]string
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[tunnel.ID]string)}
}

// Insert places the mapping id -> addr. Callers are expected to have
// generated a fresh id if one already exists; Insert does not check for
// collisions itself (collision handling is the caller's responsibility, see
// the handshake's sub-identifier assignment rule).
func (r *Registry) Insert(id tunnel.ID, addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[id] = addr
}

// Remove deletes the mapping for id. It is idempotent.
func (r *Registry) Remove(id tunnel.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// Lookup returns the address registered for id, if any.
func (r *Registry) Lookup(id tunnel.ID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	addr, ok := r.entries[id]
	return addr, ok
}

// Has reports whether id is currently registered, used by the handshake's
// collision-avoidance fallback when assigning a TunnelId from a JWT subject.
func (r *Registry) Has(id tunnel.ID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[id]
	return ok
}

// Len returns the number of registered sessions, used by tests asserting
// registry coherence after a session drop.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
