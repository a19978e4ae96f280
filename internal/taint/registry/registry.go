// File: internal/taint/registry/registry.go
package registry

import "sync"

// Registry tracks the identities of tainted values together with their provenance
// labels. Keys are compared by identity (Go equality on K), never structurally.
//
// The registry is owned by a single monitored session. Mutation normally happens on
// the session's event loop goroutine, while reporters may read from elsewhere, so
// all access is serialized through an RWMutex.
type Registry[K comparable] struct {
	mu     sync.RWMutex
	labels map[K]string
	// order preserves registration order for AllLabels.
	order []K
}

// New creates an empty registry.
func New[K comparable]() *Registry[K] {
	return &Registry[K]{
		labels: make(map[K]string),
	}
}

// Register records key as tainted with the given label. Registering a key that is
// already present keeps its original label and position.
func (r *Registry[K]) Register(key K, label string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.labels[key]; ok {
		return
	}
	r.labels[key] = label
	r.order = append(r.order, key)
}

// IsTainted reports whether key is currently registered.
func (r *Registry[K]) IsTainted(key K) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.labels[key]
	return ok
}

// LabelOf returns the label of key. The boolean is false for unregistered keys.
func (r *Registry[K]) LabelOf(key K) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	label, ok := r.labels[key]
	return label, ok
}

// AllLabels returns every registered label in registration order with duplicates collapsed.
func (r *Registry[K]) AllLabels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{}, len(r.order))
	labels := make([]string, 0, len(r.order))
	for _, key := range r.order {
		label := r.labels[key]
		if _, dup := seen[label]; dup {
			continue
		}
		seen[label] = struct{}{}
		labels = append(labels, label)
	}
	return labels
}

// Len returns the number of registered keys.
func (r *Registry[K]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.labels)
}

// Clear forgets every registered key. The values themselves are not touched.
func (r *Registry[K]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.labels = make(map[K]string)
	r.order = nil
}
