package sql

import (
	"context"
	"errors"

	model "accord/pkg/provision/core/domain/model"
	"accord/pkg/provision/core/domain/repository"
	"accord/pkg/provision/support/util/exception"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SaveVsRequest persists a new virtual-system request.
func (r *SQLRepository) SaveVsRequest(ctx context.Context, request *model.VsRequest) error {
	err := r.db.WithContext(ctx).Create(fromDomainVsRequest(request)).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return exception.ErrConcurrencyViolation
	}
	return err
}

// UpdateVsRequest updates a request. Terminal requests are immutable.
func (r *SQLRepository) UpdateVsRequest(ctx context.Context, request *model.VsRequest) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current VsRequestEntity
		err := tx.First(&current, "id = ?", request.ID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return repository.ErrVsRequestNotFound
		}
		if err != nil {
			return err
		}
		if model.VsRequestState(current.State).IsTerminal() {
			return exception.NewProvisioningError("sql",
				"virtual system request "+request.ID+" is terminal and cannot be updated", exception.ErrConcurrencyViolation, false)
		}
		return tx.Model(&VsRequestEntity{}).
			Where("id = ?", request.ID).
			Select("*").
			Updates(fromDomainVsRequest(request)).Error
	})
}

// FindVsRequestByID finds a request by its ID.
func (r *SQLRepository) FindVsRequestByID(ctx context.Context, id string) (*model.VsRequest, error) {
	var entity VsRequestEntity
	err := r.db.WithContext(ctx).First(&entity, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repository.ErrVsRequestNotFound
	}
	if err != nil {
		return nil, err
	}
	return toDomainVsRequest(&entity), nil
}

// ListUnrealizedVsRequests lists a uid's IN_PROGRESS requests on a system in
// creation order.
func (r *SQLRepository) ListUnrealizedVsRequests(ctx context.Context, systemID, uid string) ([]*model.VsRequest, error) {
	var entities []VsRequestEntity
	err := r.db.WithContext(ctx).
		Where("system_id = ? AND uid = ? AND state = ?", systemID, uid, string(model.VsRequestInProgress)).
		Order("create_time asc, id asc").
		Find(&entities).Error
	if err != nil {
		return nil, err
	}
	requests := make([]*model.VsRequest, len(entities))
	for i := range entities {
		requests[i] = toDomainVsRequest(&entities[i])
	}
	return requests, nil
}

// UpsertVsAccount saves or replaces the last-confirmed state of a virtual
// account.
func (r *SQLRepository) UpsertVsAccount(ctx context.Context, account *model.VsAccount) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "uid"}, {Name: "system_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"attributes", "last_updated"}),
		}).
		Create(fromDomainVsAccount(account)).Error
}

// FindVsAccount finds the virtual account for a uid on a system.
func (r *SQLRepository) FindVsAccount(ctx context.Context, systemID, uid string) (*model.VsAccount, error) {
	var entity VsAccountEntity
	err := r.db.WithContext(ctx).First(&entity, "system_id = ? AND uid = ?", systemID, uid).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repository.ErrVsAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return toDomainVsAccount(&entity), nil
}

// DeleteVsAccount removes the virtual account for a uid on a system.
func (r *SQLRepository) DeleteVsAccount(ctx context.Context, systemID, uid string) error {
	result := r.db.WithContext(ctx).Delete(&VsAccountEntity{}, "system_id = ? AND uid = ?", systemID, uid)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return repository.ErrVsAccountNotFound
	}
	return nil
}
