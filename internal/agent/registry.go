package agent

import (
	"errors"
	"sync"
	"time"

	"github.com/ashureev/tennis-onboard/internal/metrics"
)

// ErrSessionNotFound is returned when no live session matches the id and owner.
var ErrSessionNotFound = errors.New("agent: session not found")

// Registry holds the live controllers of the process, keyed by session id.
// A controller is visible only to the identity that created it.
type Registry struct {
	mu          sync.RWMutex
	controllers map[string]*Controller
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{controllers: make(map[string]*Controller)}
}

// Put registers c under its current session id. A different controller
// previously held under that id is released.
func (r *Registry) Put(c *Controller) string {
	id := c.SessionID()
	r.mu.Lock()
	prev, exists := r.controllers[id]
	if !exists {
		metrics.LiveSessions.Inc()
	}
	r.controllers[id] = c
	r.mu.Unlock()

	if exists && prev != c {
		prev.Release()
	}
	return id
}

// Get returns the controller for id owned by ownerID.
func (r *Registry) Get(ownerID, id string) (*Controller, error) {
	r.mu.RLock()
	c, ok := r.controllers[id]
	r.mu.RUnlock()
	if !ok || c.OwnerID() != ownerID {
		return nil, ErrSessionNotFound
	}
	return c, nil
}

// Remove drops and releases the controller for id owned by ownerID.
func (r *Registry) Remove(ownerID, id string) bool {
	r.mu.Lock()
	c, ok := r.controllers[id]
	if !ok || c.OwnerID() != ownerID {
		r.mu.Unlock()
		return false
	}
	delete(r.controllers, id)
	metrics.LiveSessions.Dec()
	r.mu.Unlock()

	c.Release()
	return true
}

// HeldByOther reports whether id is live under an identity other than ownerID.
func (r *Registry) HeldByOther(id, ownerID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.controllers[id]
	return ok && c.OwnerID() != ownerID
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.controllers)
}

// Idle returns the controllers inactive since before now-ttl.
func (r *Registry) Idle(ttl time.Duration, now time.Time) map[string]*Controller {
	cutoff := now.Add(-ttl)
	r.mu.RLock()
	defer r.mu.RUnlock()

	idle := make(map[string]*Controller)
	for id, c := range r.controllers {
		if c.LastActive().Before(cutoff) {
			idle[id] = c
		}
	}
	return idle
}

// evict removes and releases id only if it still maps to c.
func (r *Registry) evict(id string, c *Controller) bool {
	r.mu.Lock()
	if r.controllers[id] != c {
		r.mu.Unlock()
		return false
	}
	delete(r.controllers, id)
	metrics.LiveSessions.Dec()
	metrics.SessionsEvicted.Inc()
	r.mu.Unlock()

	c.Release()
	return true
}
