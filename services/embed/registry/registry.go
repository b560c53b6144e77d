// Package registry implements the client tracking described in spec §4.7:
// register/deregister/touch, last-activity bookkeeping, and reaping of
// stale sessions. It is the sole source of truth the auto-shutdown
// controller (package shutdown) watches.
package registry

import (
	"sync"
	"time"
)

// ClientSession is one tracked client, per spec §3.
type ClientSession struct {
	ClientID     string
	ProjectKey   string
	PID          int
	RegisteredAt time.Time
	LastActivity time.Time
}

// Registry tracks connected clients. Safe for concurrent use; reads take a
// shared lock, writes an exclusive one, matching spec §5's "shared
// read-many/write-few" policy. LastActivity updates from Touch are allowed
// to race per spec §5 since they are monotonic and approximate timing is
// fine.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*ClientSession
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{clients: make(map[string]*ClientSession)}
}

// Register adds or refreshes a client. Re-registering an existing id
// preserves RegisteredAt (spec §4.7 invariant) but bumps LastActivity.
// Returns the total client count after registration.
func (r *Registry) Register(clientID, projectKey string, pid int) (total int) {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.clients[clientID]; ok {
		existing.ProjectKey = projectKey
		existing.PID = pid
		existing.LastActivity = now
	} else {
		r.clients[clientID] = &ClientSession{
			ClientID:     clientID,
			ProjectKey:   projectKey,
			PID:          pid,
			RegisteredAt: now,
			LastActivity: now,
		}
	}
	return len(r.clients)
}

// Deregister removes a client. wasRegistered reports whether it was present.
func (r *Registry) Deregister(clientID string) (wasRegistered bool, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.clients[clientID]
	delete(r.clients, clientID)
	return ok, len(r.clients)
}

// Touch bumps LastActivity for a known client id. No-op if the client isn't
// registered — handlers call Touch opportunistically from the x-client-id
// header without first checking registration.
func (r *Registry) Touch(clientID string) {
	now := time.Now()
	r.mu.RLock()
	c, ok := r.clients[clientID]
	r.mu.RUnlock()
	if !ok {
		return
	}
	// LastActivity is monotonic non-decreasing; a racing write here can
	// only ever move it forward in practice since callers pass time.Now().
	c.LastActivity = now
}

// List returns a snapshot of every currently-registered client.
func (r *Registry) List() []ClientSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ClientSession, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, *c)
	}
	return out
}

// Count returns the number of currently-registered clients.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// ReapStale removes every client whose LastActivity is older than
// threshold and returns the ids removed.
func (r *Registry) ReapStale(threshold time.Duration) []string {
	cutoff := time.Now().Add(-threshold)
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []string
	for id, c := range r.clients {
		if c.LastActivity.Before(cutoff) {
			removed = append(removed, id)
			delete(r.clients, id)
		}
	}
	return removed
}
