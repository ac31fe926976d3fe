package sql

import (
	"context"
	"errors"

	model "accord/pkg/provision/core/domain/model"
	"accord/pkg/provision/core/domain/repository"
	"accord/pkg/provision/support/util/exception"

	"gorm.io/gorm"
)

// SaveSyncRun persists a new run record.
func (r *SQLRepository) SaveSyncRun(ctx context.Context, run *model.SyncRun) error {
	entity, err := fromDomainSyncRun(run)
	if err != nil {
		return err
	}
	err = r.db.WithContext(ctx).Create(entity).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return exception.ErrConcurrencyViolation
	}
	return err
}

// UpdateSyncRun updates the state of an existing run record.
func (r *SQLRepository) UpdateSyncRun(ctx context.Context, run *model.SyncRun) error {
	entity, err := fromDomainSyncRun(run)
	if err != nil {
		return err
	}
	result := r.db.WithContext(ctx).
		Model(&SyncRunEntity{}).
		Where("id = ?", run.ID).
		Select("*").
		Updates(entity)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return repository.ErrSyncRunNotFound
	}
	return nil
}

// FindLatestSyncRun finds the newest run of a configuration.
func (r *SQLRepository) FindLatestSyncRun(ctx context.Context, configName string) (*model.SyncRun, error) {
	var entity SyncRunEntity
	err := r.db.WithContext(ctx).
		Where("config_name = ?", configName).
		Order("start_time desc").
		First(&entity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repository.ErrSyncRunNotFound
	}
	if err != nil {
		return nil, err
	}
	return toDomainSyncRun(&entity)
}
