// Package registry tracks which live telephony channels belong to
// which calls. It is a non-owning lookup: orchestrators own their
// channels, the registry only correlates channel IDs arriving on the
// event stream back to call context.
package registry

import "sync"

// Role is the part a channel plays in its call.
type Role string

const (
	RoleAgent    Role = "agent"
	RoleCustomer Role = "customer"
	RoleAI       Role = "ai"
)

// Entry is the call context a channel maps to.
type Entry struct {
	CallID string
	Role   Role
}

// Registry is the process-wide channel map. It is safe for concurrent
// use; telephony events and timer-driven dial-outs interleave freely.
// State is not persisted: a restart loses in-flight tracking and those
// calls surface as orphans needing external reconciliation.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]Entry
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{channels: make(map[string]Entry)}
}

// Register maps a channel to its call and role.
func (r *Registry) Register(channelID, callID string, role Role) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[channelID] = Entry{CallID: callID, Role: role}
}

// Lookup resolves a channel to its call context. A miss is not an
// error: channels of other applications simply are not registered.
func (r *Registry) Lookup(channelID string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.channels[channelID]
	return e, ok
}

// Unregister removes a channel. Removing an unknown channel is a no-op,
// so cleanup paths can call it unconditionally.
func (r *Registry) Unregister(channelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.channels, channelID)
}

// Len returns the number of tracked channels.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}

// Snapshot returns a copy of the current channel map.
func (r *Registry) Snapshot() map[string]Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Entry, len(r.channels))
	for id, e := range r.channels {
		out[id] = e
	}
	return out
}
