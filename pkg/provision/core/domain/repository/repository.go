package repository

import (
	"context"

	model "accord/pkg/provision/core/domain/model"
)

// EntityStore is the narrow boundary to the IdM entity subsystem. Entity CRUD
// itself is a collaborator concern; the engine only correlates, reads and
// (for the create-entity sync action) inserts entities through it.
type EntityStore interface {
	// FindEntityByID finds an IdM entity by its ID.
	FindEntityByID(ctx context.Context, id string) (*model.Entity, error)

	// FindEntityByProperty finds the entity whose named property equals the
	// given value. Used for sync correlation.
	FindEntityByProperty(ctx context.Context, entityType, property string, value interface{}) (*model.Entity, error)

	// SaveEntity persists a new entity (sync "create entity" action).
	SaveEntity(ctx context.Context, entity *model.Entity) error

	// UpdateEntity updates an entity (sync "update entity" action).
	UpdateEntity(ctx context.Context, entity *model.Entity) error
}

// Repository is the aggregate persistence interface of the provisioning
// engine. It embeds the per-aggregate interfaces to separate concerns.
type Repository interface {
	Account
	SystemEntity
	Operation
	VirtualSystem
	SyncRun

	// Close releases resources (such as database connections) used by the
	// repository.
	Close() error
}
