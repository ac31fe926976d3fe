package repository

import (
	"context"
	"errors"

	model "accord/pkg/provision/core/domain/model"
	"accord/pkg/provision/support/util/exception"
)

// ErrSystemEntityNotFound is returned when a SystemEntity is not found.
var ErrSystemEntityNotFound = errors.New("system entity not found")

// ErrDuplicateSystemEntity is returned when saving would violate the
// (entity type, uid, system) uniqueness constraint.
var ErrDuplicateSystemEntity = errors.New("system entity already exists")

func init() {
	exception.RegisterErrorType("ErrSystemEntityNotFound", ErrSystemEntityNotFound)
	exception.RegisterErrorType("ErrDuplicateSystemEntity", ErrDuplicateSystemEntity)
}

// SystemEntity defines persistence operations for target-system placeholder
// rows.
type SystemEntity interface {
	// SaveSystemEntity persists a new SystemEntity, enforcing
	// (entity type, uid, system) uniqueness.
	SaveSystemEntity(ctx context.Context, entity *model.SystemEntity) error

	// UpdateSystemEntity updates an existing SystemEntity. A uid change
	// updates the row in place, preserving its identity.
	UpdateSystemEntity(ctx context.Context, entity *model.SystemEntity) error

	// DeleteSystemEntity removes a SystemEntity row.
	DeleteSystemEntity(ctx context.Context, id string) error

	// FindSystemEntityByID finds a SystemEntity by its ID.
	FindSystemEntityByID(ctx context.Context, id string) (*model.SystemEntity, error)

	// FindSystemEntityByUID finds the SystemEntity holding a uid on a system.
	FindSystemEntityByUID(ctx context.Context, systemID, entityType, uid string) (*model.SystemEntity, error)
}
