package lookup

import (
	"fmt"
	"sync"
)

// Registry holds at most one adapter per kind.
type Registry struct {
	mu       sync.RWMutex
	adapters map[Kind]Adapter
}

// NewRegistry creates a registry pre-populated with adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[Kind]Adapter)}
	for _, a := range adapters {
		_ = r.Register(a)
	}
	return r
}

// Register adds an adapter. Each kind can be registered once.
func (r *Registry) Register(a Adapter) error {
	if a == nil {
		return fmt.Errorf("adapter cannot be nil")
	}
	if !a.Kind().Valid() {
		return fmt.Errorf("unknown lookup kind %q", a.Kind())
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[a.Kind()]; exists {
		return fmt.Errorf("adapter for %s already registered", a.Kind())
	}
	r.adapters[a.Kind()] = a
	return nil
}

// Get returns the adapter for kind.
func (r *Registry) Get(kind Kind) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[kind]
	return a, ok
}

// Kinds returns the registered kinds in canonical order.
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Kind
	for _, k := range Kinds {
		if _, ok := r.adapters[k]; ok {
			out = append(out, k)
		}
	}
	return out
}
