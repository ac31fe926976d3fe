package sql

import (
	"context"
	"errors"

	model "accord/pkg/provision/core/domain/model"
	"accord/pkg/provision/core/domain/repository"

	"gorm.io/gorm"
)

// SaveAccount persists a new Account. The (uid, system) and system-entity
// unique indexes enforce the duplication rules.
func (r *SQLRepository) SaveAccount(ctx context.Context, account *model.Account) error {
	err := r.db.WithContext(ctx).Create(fromDomainAccount(account)).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return repository.ErrDuplicateAccount
	}
	return err
}

// UpdateAccount updates an existing Account.
func (r *SQLRepository) UpdateAccount(ctx context.Context, account *model.Account) error {
	result := r.db.WithContext(ctx).
		Model(&AccountEntity{}).
		Where("id = ?", account.ID).
		Select("*").
		Updates(fromDomainAccount(account))
	if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
		return repository.ErrDuplicateAccount
	}
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return repository.ErrAccountNotFound
	}
	return nil
}

// DeleteAccount removes an Account row.
func (r *SQLRepository) DeleteAccount(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&AccountEntity{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return repository.ErrAccountNotFound
	}
	return nil
}

// FindAccountByID finds an Account by its ID.
func (r *SQLRepository) FindAccountByID(ctx context.Context, id string) (*model.Account, error) {
	var entity AccountEntity
	err := r.db.WithContext(ctx).First(&entity, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repository.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return toDomainAccount(&entity), nil
}

// FindAccountByUID finds the Account holding a uid on a system.
func (r *SQLRepository) FindAccountByUID(ctx context.Context, systemID, uid string) (*model.Account, error) {
	var entity AccountEntity
	err := r.db.WithContext(ctx).First(&entity, "system_id = ? AND uid = ?", systemID, uid).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repository.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return toDomainAccount(&entity), nil
}

// FindAccountByEntity finds the entity's Account on a system.
func (r *SQLRepository) FindAccountByEntity(ctx context.Context, systemID, entityID string) (*model.Account, error) {
	var entity AccountEntity
	err := r.db.WithContext(ctx).First(&entity, "system_id = ? AND entity_id = ?", systemID, entityID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repository.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return toDomainAccount(&entity), nil
}

// ListAccountsBySystem lists all Accounts on a system.
func (r *SQLRepository) ListAccountsBySystem(ctx context.Context, systemID string) ([]*model.Account, error) {
	var entities []AccountEntity
	if err := r.db.WithContext(ctx).Where("system_id = ?", systemID).Find(&entities).Error; err != nil {
		return nil, err
	}
	accounts := make([]*model.Account, len(entities))
	for i := range entities {
		accounts[i] = toDomainAccount(&entities[i])
	}
	return accounts, nil
}
