package phase

import "sync"

// Registry is the process-wide map of in-flight trackers keyed by client id.
// Watcher goroutines look trackers up here; the owning request path is the
// only writer and removes the entry after its watchers have been joined.
type Registry struct {
	mu       sync.RWMutex
	trackers map[string]*Tracker
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{trackers: make(map[string]*Tracker)}
}

// Add registers the tracker under the given client id.
func (r *Registry) Add(clientID string, t *Tracker) {
	r.mu.Lock()
	r.trackers[clientID] = t
	r.mu.Unlock()
}

// Get returns the tracker for the client id, if still registered.
func (r *Registry) Get(clientID string) (*Tracker, bool) {
	r.mu.RLock()
	t, ok := r.trackers[clientID]
	r.mu.RUnlock()
	return t, ok
}

// Remove evicts the tracker for the client id.
func (r *Registry) Remove(clientID string) {
	r.mu.Lock()
	delete(r.trackers, clientID)
	r.mu.Unlock()
}

// Len reports how many requests are currently in flight.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.trackers)
}
