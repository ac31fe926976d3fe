package inmemory

import (
	"context"

	model "accord/pkg/provision/core/domain/model"
	"accord/pkg/provision/core/domain/repository"
)

// SaveSystemEntity persists a new SystemEntity, enforcing the
// (entity type, uid, system) uniqueness constraint.
func (r *InMemoryRepository) SaveSystemEntity(ctx context.Context, entity *model.SystemEntity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.systemEntities[entity.ID]; exists {
		return repository.ErrDuplicateSystemEntity
	}
	for _, existing := range r.systemEntities {
		if existing.SystemID == entity.SystemID && existing.EntityType == entity.EntityType && existing.UID == entity.UID {
			return repository.ErrDuplicateSystemEntity
		}
	}
	r.systemEntities[entity.ID] = cloneSystemEntity(entity)
	return nil
}

// UpdateSystemEntity updates an existing SystemEntity. A uid change updates
// the row in place, preserving its identity.
func (r *InMemoryRepository) UpdateSystemEntity(ctx context.Context, entity *model.SystemEntity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.systemEntities[entity.ID]; !exists {
		return repository.ErrSystemEntityNotFound
	}
	for _, existing := range r.systemEntities {
		if existing.ID != entity.ID && existing.SystemID == entity.SystemID &&
			existing.EntityType == entity.EntityType && existing.UID == entity.UID {
			return repository.ErrDuplicateSystemEntity
		}
	}
	r.systemEntities[entity.ID] = cloneSystemEntity(entity)
	return nil
}

// DeleteSystemEntity removes a SystemEntity row.
func (r *InMemoryRepository) DeleteSystemEntity(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.systemEntities[id]; !exists {
		return repository.ErrSystemEntityNotFound
	}
	delete(r.systemEntities, id)
	return nil
}

// FindSystemEntityByID finds a SystemEntity by its ID.
func (r *InMemoryRepository) FindSystemEntityByID(ctx context.Context, id string) (*model.SystemEntity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entity, ok := r.systemEntities[id]
	if !ok {
		return nil, repository.ErrSystemEntityNotFound
	}
	return cloneSystemEntity(entity), nil
}

// FindSystemEntityByUID finds the SystemEntity holding a uid on a system.
func (r *InMemoryRepository) FindSystemEntityByUID(ctx context.Context, systemID, entityType, uid string) (*model.SystemEntity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, entity := range r.systemEntities {
		if entity.SystemID == systemID && entity.EntityType == entityType && entity.UID == uid {
			return cloneSystemEntity(entity), nil
		}
	}
	return nil, repository.ErrSystemEntityNotFound
}
