package deadletter

import "sync"

// Registry hands out named stores so wiring code and the operator
// inspection endpoint see the same sinks.
type Registry struct {
	capacity int

	mu     sync.Mutex
	stores map[string]*Store
}

func NewRegistry(capacity int) *Registry {
	return &Registry{capacity: capacity, stores: map[string]*Store{}}
}

// Store returns the named store, creating it on first use.
func (r *Registry) Store(name string) *Store {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.stores[name]
	if !ok {
		s = NewStore(name, r.capacity)
		r.stores[name] = s
	}
	return s
}

// Snapshot returns current entries per named store.
func (r *Registry) Snapshot() map[string][]Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string][]Entry, len(r.stores))
	for name, s := range r.stores {
		out[name] = s.List()
	}
	return out
}
