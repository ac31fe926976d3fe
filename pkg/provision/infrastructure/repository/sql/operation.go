package sql

import (
	"context"
	"errors"
	"time"

	model "accord/pkg/provision/core/domain/model"
	"accord/pkg/provision/core/domain/repository"
	"accord/pkg/provision/support/util/exception"

	"gorm.io/gorm"
)

// EnqueueOperation persists a new operation and creates or reuses the batch
// for its (system, system entity) pair, atomically.
func (r *SQLRepository) EnqueueOperation(ctx context.Context, op *model.ProvisioningOperation) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var batch BatchEntity
		err := tx.First(&batch, "system_id = ? AND system_entity_id = ?", op.SystemID, op.SystemEntityID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			batch = *fromDomainBatch(model.NewProvisioningBatch(op.SystemID, op.SystemEntityID))
			if err := tx.Create(&batch).Error; err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		op.BatchID = batch.ID
		if err := tx.Create(fromDomainOperation(op)).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return exception.ErrConcurrencyViolation
			}
			return err
		}
		return nil
	})
}

// UpdateOperation updates the state of an existing operation under its
// optimistic version.
func (r *SQLRepository) UpdateOperation(ctx context.Context, op *model.ProvisioningOperation) error {
	originalVersion := op.Version
	op.Version++

	result := r.db.WithContext(ctx).
		Model(&OperationEntity{}).
		Where("id = ? AND version = ?", op.ID, originalVersion).
		Select("*").
		Updates(fromDomainOperation(op))
	if result.Error != nil {
		op.Version = originalVersion
		return result.Error
	}
	if result.RowsAffected == 0 {
		op.Version = originalVersion
		var count int64
		if err := r.db.WithContext(ctx).Model(&OperationEntity{}).Where("id = ?", op.ID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return repository.ErrOperationNotFound
		}
		return exception.ErrConcurrencyViolation
	}
	return nil
}

// FindOperationByID finds an active operation by its ID.
func (r *SQLRepository) FindOperationByID(ctx context.Context, id string) (*model.ProvisioningOperation, error) {
	var entity OperationEntity
	err := r.db.WithContext(ctx).First(&entity, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repository.ErrOperationNotFound
	}
	if err != nil {
		return nil, err
	}
	return toDomainOperation(&entity), nil
}

// ListOperationsByBatch lists a batch's active operations in creation order.
func (r *SQLRepository) ListOperationsByBatch(ctx context.Context, batchID string) ([]*model.ProvisioningOperation, error) {
	var entities []OperationEntity
	err := r.db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("create_time asc, id asc").
		Find(&entities).Error
	if err != nil {
		return nil, err
	}
	return toDomainOperations(entities), nil
}

// ListOperationsByAccount lists an account's active operations in creation
// order.
func (r *SQLRepository) ListOperationsByAccount(ctx context.Context, accountID string) ([]*model.ProvisioningOperation, error) {
	var entities []OperationEntity
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("create_time asc, id asc").
		Find(&entities).Error
	if err != nil {
		return nil, err
	}
	return toDomainOperations(entities), nil
}

// ClaimNextRunnable atomically picks the oldest CREATED operation of an idle,
// non-delayed batch, marks the batch executing and the operation RUNNING, and
// returns it. Returns (nil, nil) when nothing is runnable at now.
//
// The global-oldest CREATED operation among idle batches is necessarily its
// own batch's head: an older CREATED sibling would have been picked instead,
// and a RUNNING sibling means the batch is not idle.
func (r *SQLRepository) ClaimNextRunnable(ctx context.Context, now time.Time) (*model.ProvisioningOperation, error) {
	var claimed *model.ProvisioningOperation

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		idleBatches := tx.Model(&BatchEntity{}).
			Select("id").
			Where("executing_operation_id = ? AND (next_attempt IS NULL OR next_attempt <= ?)", "", now)

		var entity OperationEntity
		err := tx.Where("state = ? AND batch_id IN (?)", string(model.StateCreated), idleBatches).
			Order("create_time asc, id asc").
			First(&entity).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		batchResult := tx.Model(&BatchEntity{}).
			Where("id = ? AND executing_operation_id = ?", entity.BatchID, "").
			Updates(map[string]interface{}{
				"executing_operation_id": entity.ID,
				"version":                gorm.Expr("version + 1"),
			})
		if batchResult.Error != nil {
			return batchResult.Error
		}
		if batchResult.RowsAffected == 0 {
			// Another claimer took the batch between the read and the update.
			return nil
		}

		opResult := tx.Model(&OperationEntity{}).
			Where("id = ? AND version = ?", entity.ID, entity.Version).
			Updates(map[string]interface{}{
				"state":   string(model.StateRunning),
				"result":  model.OperationResult{State: model.StateRunning},
				"version": gorm.Expr("version + 1"),
			})
		if opResult.Error != nil {
			return opResult.Error
		}
		if opResult.RowsAffected == 0 {
			return exception.ErrConcurrencyViolation
		}

		entity.State = string(model.StateRunning)
		entity.Result = model.OperationResult{State: model.StateRunning}
		entity.Version++
		claimed = toDomainOperation(&entity)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// ReleaseOperation atomically clears the batch's executing marker, applies
// the operation's new state, and sets the batch's NextAttempt for backoff
// scheduling.
func (r *SQLRepository) ReleaseOperation(ctx context.Context, op *model.ProvisioningOperation, nextAttempt time.Time) error {
	originalVersion := op.Version
	op.Version++

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var batch BatchEntity
		err := tx.First(&batch, "id = ?", op.BatchID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return repository.ErrBatchNotFound
		}
		if err != nil {
			return err
		}
		if batch.ExecutingOperationID != op.ID {
			return exception.ErrConcurrencyViolation
		}

		opResult := tx.Model(&OperationEntity{}).
			Where("id = ?", op.ID).
			Select("*").
			Updates(fromDomainOperation(op))
		if opResult.Error != nil {
			return opResult.Error
		}
		if opResult.RowsAffected == 0 {
			return repository.ErrOperationNotFound
		}

		updates := map[string]interface{}{
			"executing_operation_id": "",
			"next_attempt":           nil,
			"version":                gorm.Expr("version + 1"),
		}
		if !nextAttempt.IsZero() {
			updates["next_attempt"] = nextAttempt
		}
		return tx.Model(&BatchEntity{}).Where("id = ?", batch.ID).Updates(updates).Error
	})
	if err != nil {
		op.Version = originalVersion
	}
	return err
}

// RemoveOperation deletes a terminated operation from the active table.
func (r *SQLRepository) RemoveOperation(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&OperationEntity{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return repository.ErrOperationNotFound
	}
	return nil
}

// ArchiveOperation settles a claimed operation in one transaction: the
// batch's executing marker clears, the archive record is appended and the
// active row is removed. A crash can therefore never strand a terminal-state
// row in the active table.
func (r *SQLRepository) ArchiveOperation(ctx context.Context, op *model.ProvisioningOperation) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var batch BatchEntity
		err := tx.First(&batch, "id = ?", op.BatchID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return repository.ErrBatchNotFound
		}
		if err != nil {
			return err
		}
		if batch.ExecutingOperationID != op.ID {
			return exception.ErrConcurrencyViolation
		}

		if err := tx.Create(fromDomainArchive(model.NewProvisioningArchive(op))).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return exception.ErrConcurrencyViolation
			}
			return err
		}

		result := tx.Delete(&OperationEntity{}, "id = ?", op.ID)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return repository.ErrOperationNotFound
		}

		return tx.Model(&BatchEntity{}).Where("id = ?", batch.ID).Updates(map[string]interface{}{
			"executing_operation_id": "",
			"next_attempt":           nil,
			"version":                gorm.Expr("version + 1"),
		}).Error
	})
}

// CancelQueuedOperation archives op and deletes its row only while the row is
// still CREATED, in one transaction. Returns false without archiving when a
// worker claimed the operation between the caller's read and this call.
func (r *SQLRepository) CancelQueuedOperation(ctx context.Context, op *model.ProvisioningOperation) (bool, error) {
	canceled := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("id = ? AND state = ?", op.ID, string(model.StateCreated)).Delete(&OperationEntity{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}
		canceled = true
		return tx.Create(fromDomainArchive(model.NewProvisioningArchive(op))).Error
	})
	return canceled, err
}

// FindBatch finds the batch of a (system, system entity) pair.
func (r *SQLRepository) FindBatch(ctx context.Context, systemID, systemEntityID string) (*model.ProvisioningBatch, error) {
	var entity BatchEntity
	err := r.db.WithContext(ctx).First(&entity, "system_id = ? AND system_entity_id = ?", systemID, systemEntityID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repository.ErrBatchNotFound
	}
	if err != nil {
		return nil, err
	}
	return toDomainBatch(&entity), nil
}

// SaveArchive appends an immutable archive record.
func (r *SQLRepository) SaveArchive(ctx context.Context, archive *model.ProvisioningArchive) error {
	err := r.db.WithContext(ctx).Create(fromDomainArchive(archive)).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return exception.ErrConcurrencyViolation
	}
	return err
}

// FindArchiveByOperationID finds the archive record of an operation.
func (r *SQLRepository) FindArchiveByOperationID(ctx context.Context, operationID string) (*model.ProvisioningArchive, error) {
	var entity ArchiveEntity
	err := r.db.WithContext(ctx).First(&entity, "operation_id = ?", operationID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repository.ErrArchiveNotFound
	}
	if err != nil {
		return nil, err
	}
	return toDomainArchive(&entity), nil
}

// ListArchivesBySystem lists a system's archive records, newest first.
func (r *SQLRepository) ListArchivesBySystem(ctx context.Context, systemID string) ([]*model.ProvisioningArchive, error) {
	var entities []ArchiveEntity
	err := r.db.WithContext(ctx).
		Where("system_id = ?", systemID).
		Order("archived_at desc").
		Find(&entities).Error
	if err != nil {
		return nil, err
	}
	archives := make([]*model.ProvisioningArchive, len(entities))
	for i := range entities {
		archives[i] = toDomainArchive(&entities[i])
	}
	return archives, nil
}

func toDomainOperations(entities []OperationEntity) []*model.ProvisioningOperation {
	ops := make([]*model.ProvisioningOperation, len(entities))
	for i := range entities {
		ops[i] = toDomainOperation(&entities[i])
	}
	return ops
}
