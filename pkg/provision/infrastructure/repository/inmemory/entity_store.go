package inmemory

import (
	"context"
	"errors"
	"reflect"
	"sync"

	model "accord/pkg/provision/core/domain/model"
	"accord/pkg/provision/support/util/exception"
)

// ErrEntityNotFound is returned when an IdM entity is not found.
var ErrEntityNotFound = errors.New("entity not found")

func init() {
	exception.RegisterErrorType("ErrEntityNotFound", ErrEntityNotFound)
}

// InMemoryEntityStore is an in-memory implementation of the EntityStore
// boundary, standing in for the IdM entity subsystem in tests and embedded
// deployments.
type InMemoryEntityStore struct {
	entities map[string]*model.Entity
	mu       sync.RWMutex
}

// NewInMemoryEntityStore creates an empty in-memory entity store.
func NewInMemoryEntityStore() *InMemoryEntityStore {
	return &InMemoryEntityStore{entities: make(map[string]*model.Entity)}
}

// FindEntityByID finds an IdM entity by its ID.
func (s *InMemoryEntityStore) FindEntityByID(ctx context.Context, id string) (*model.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entity, ok := s.entities[id]
	if !ok {
		return nil, ErrEntityNotFound
	}
	return cloneEntity(entity), nil
}

// FindEntityByProperty finds the entity whose named property equals the given
// value.
func (s *InMemoryEntityStore) FindEntityByProperty(ctx context.Context, entityType, property string, value interface{}) (*model.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, entity := range s.entities {
		if entity.Type != entityType {
			continue
		}
		if v, ok := entity.Property(property); ok && reflect.DeepEqual(v, value) {
			return cloneEntity(entity), nil
		}
	}
	return nil, ErrEntityNotFound
}

// SaveEntity persists a new entity.
func (s *InMemoryEntityStore) SaveEntity(ctx context.Context, entity *model.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entities[entity.ID]; exists {
		return exception.ErrConcurrencyViolation
	}
	s.entities[entity.ID] = cloneEntity(entity)
	return nil
}

// UpdateEntity updates an existing entity.
func (s *InMemoryEntityStore) UpdateEntity(ctx context.Context, entity *model.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entities[entity.ID]; !exists {
		return ErrEntityNotFound
	}
	s.entities[entity.ID] = cloneEntity(entity)
	return nil
}

func cloneEntity(e *model.Entity) *model.Entity {
	c := *e
	c.Properties = e.Properties.Clone()
	return &c
}
