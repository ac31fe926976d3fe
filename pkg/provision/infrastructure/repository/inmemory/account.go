package inmemory

import (
	"context"

	model "accord/pkg/provision/core/domain/model"
	"accord/pkg/provision/core/domain/repository"
)

// SaveAccount persists a new Account, enforcing the (uid, system) and
// system-entity uniqueness constraints.
func (r *InMemoryRepository) SaveAccount(ctx context.Context, account *model.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.accounts[account.ID]; exists {
		return repository.ErrDuplicateAccount
	}
	for _, existing := range r.accounts {
		if existing.SystemID == account.SystemID && existing.UID == account.UID {
			return repository.ErrDuplicateAccount
		}
		if account.SystemEntityID != "" && existing.SystemEntityID == account.SystemEntityID {
			return repository.ErrDuplicateAccount
		}
	}
	r.accounts[account.ID] = cloneAccount(account)
	return nil
}

// UpdateAccount updates an existing Account.
func (r *InMemoryRepository) UpdateAccount(ctx context.Context, account *model.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.accounts[account.ID]; !exists {
		return repository.ErrAccountNotFound
	}
	for _, existing := range r.accounts {
		if existing.ID != account.ID && existing.SystemID == account.SystemID && existing.UID == account.UID {
			return repository.ErrDuplicateAccount
		}
	}
	r.accounts[account.ID] = cloneAccount(account)
	return nil
}

// DeleteAccount removes an Account row.
func (r *InMemoryRepository) DeleteAccount(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.accounts[id]; !exists {
		return repository.ErrAccountNotFound
	}
	delete(r.accounts, id)
	return nil
}

// FindAccountByID finds an Account by its ID.
func (r *InMemoryRepository) FindAccountByID(ctx context.Context, id string) (*model.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	account, ok := r.accounts[id]
	if !ok {
		return nil, repository.ErrAccountNotFound
	}
	return cloneAccount(account), nil
}

// FindAccountByUID finds the Account holding a uid on a system.
func (r *InMemoryRepository) FindAccountByUID(ctx context.Context, systemID, uid string) (*model.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, account := range r.accounts {
		if account.SystemID == systemID && account.UID == uid {
			return cloneAccount(account), nil
		}
	}
	return nil, repository.ErrAccountNotFound
}

// FindAccountByEntity finds the entity's Account on a system.
func (r *InMemoryRepository) FindAccountByEntity(ctx context.Context, systemID, entityID string) (*model.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, account := range r.accounts {
		if account.SystemID == systemID && account.EntityID == entityID {
			return cloneAccount(account), nil
		}
	}
	return nil, repository.ErrAccountNotFound
}

// ListAccountsBySystem lists all Accounts on a system.
func (r *InMemoryRepository) ListAccountsBySystem(ctx context.Context, systemID string) ([]*model.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var accounts []*model.Account
	for _, account := range r.accounts {
		if account.SystemID == systemID {
			accounts = append(accounts, cloneAccount(account))
		}
	}
	return accounts, nil
}
