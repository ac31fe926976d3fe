package connector

import (
	"fmt"
	"sync"
)

// Registry maps connector keys to Connector implementations. It is built
// explicitly at startup and passed by reference; there is no global registry.
type Registry struct {
	mu         sync.RWMutex
	connectors map[string]Connector
}

// NewRegistry creates an empty connector registry.
func NewRegistry() *Registry {
	return &Registry{connectors: make(map[string]Connector)}
}

// Register binds a connector implementation to a key. Re-registering a key
// replaces the previous binding.
func (r *Registry) Register(key string, c Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectors[key] = c
}

// Resolve returns the connector bound to a key.
func (r *Registry) Resolve(key string) (Connector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connectors[key]
	if !ok {
		return nil, fmt.Errorf("no connector registered for key %q", key)
	}
	return c, nil
}

// Keys lists the registered connector keys.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.connectors))
	for k := range r.connectors {
		keys = append(keys, k)
	}
	return keys
}
