package executor

import (
	"sync"
)

// Registry maps entity types to specialized executors, falling back to the
// default executor for everything else. The map is built once at startup;
// Register after that point is only used by tests.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
	fallback  Executor
}

// NewRegistry creates a Registry around the default executor.
func NewRegistry(fallback *DefaultExecutor) *Registry {
	return &Registry{
		executors: make(map[string]Executor),
		fallback:  fallback,
	}
}

// Register binds a specialized executor to an entity type, replacing any
// previous binding.
func (r *Registry) Register(entityType string, exec Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[entityType] = exec
}

// Resolve returns the executor for an entity type.
func (r *Registry) Resolve(entityType string) Executor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if exec, ok := r.executors[entityType]; ok {
		return exec
	}
	return r.fallback
}
