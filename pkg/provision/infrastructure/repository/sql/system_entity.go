package sql

import (
	"context"
	"errors"

	model "accord/pkg/provision/core/domain/model"
	"accord/pkg/provision/core/domain/repository"

	"gorm.io/gorm"
)

// SaveSystemEntity persists a new SystemEntity. The (entity type, uid,
// system) unique index enforces the duplication rule.
func (r *SQLRepository) SaveSystemEntity(ctx context.Context, entity *model.SystemEntity) error {
	err := r.db.WithContext(ctx).Create(fromDomainSystemEntity(entity)).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return repository.ErrDuplicateSystemEntity
	}
	return err
}

// UpdateSystemEntity updates an existing SystemEntity. A uid change updates
// the row in place, preserving its identity.
func (r *SQLRepository) UpdateSystemEntity(ctx context.Context, entity *model.SystemEntity) error {
	result := r.db.WithContext(ctx).
		Model(&SystemEntityEntity{}).
		Where("id = ?", entity.ID).
		Select("*").
		Updates(fromDomainSystemEntity(entity))
	if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
		return repository.ErrDuplicateSystemEntity
	}
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return repository.ErrSystemEntityNotFound
	}
	return nil
}

// DeleteSystemEntity removes a SystemEntity row.
func (r *SQLRepository) DeleteSystemEntity(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&SystemEntityEntity{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return repository.ErrSystemEntityNotFound
	}
	return nil
}

// FindSystemEntityByID finds a SystemEntity by its ID.
func (r *SQLRepository) FindSystemEntityByID(ctx context.Context, id string) (*model.SystemEntity, error) {
	var entity SystemEntityEntity
	err := r.db.WithContext(ctx).First(&entity, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repository.ErrSystemEntityNotFound
	}
	if err != nil {
		return nil, err
	}
	return toDomainSystemEntity(&entity), nil
}

// FindSystemEntityByUID finds the SystemEntity holding a uid on a system.
func (r *SQLRepository) FindSystemEntityByUID(ctx context.Context, systemID, entityType, uid string) (*model.SystemEntity, error) {
	var entity SystemEntityEntity
	err := r.db.WithContext(ctx).
		First(&entity, "system_id = ? AND entity_type = ? AND uid = ?", systemID, entityType, uid).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repository.ErrSystemEntityNotFound
	}
	if err != nil {
		return nil, err
	}
	return toDomainSystemEntity(&entity), nil
}
