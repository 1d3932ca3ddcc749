package adapter

import (
	"fmt"
	"sort"
	"sync"

	"fieldsync/internal/domain"
)

// StatusError is a delivery failure carrying the target's HTTP status, so
// the error message in the audit trail names the transport outcome.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("target returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("target returned status %d: %s", e.StatusCode, e.Body)
}

// Registry maps target-system keys to adapter implementations. New targets
// register an adapter here; the dispatcher resolves at dispatch time and
// never branches on target names.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]domain.Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]domain.Adapter)}
}

// Register binds an adapter to a target-system key. Last registration wins.
func (r *Registry) Register(targetSystem string, a domain.Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[targetSystem] = a
}

// Resolve returns the adapter for a target-system key.
func (r *Registry) Resolve(targetSystem string) (domain.Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[targetSystem]
	return a, ok
}

// Targets returns the registered target-system keys, sorted.
func (r *Registry) Targets() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.adapters))
	for k := range r.adapters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
