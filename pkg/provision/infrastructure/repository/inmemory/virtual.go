package inmemory

import (
	"context"
	"sort"

	model "accord/pkg/provision/core/domain/model"
	"accord/pkg/provision/core/domain/repository"
	"accord/pkg/provision/support/util/exception"
)

// SaveVsRequest persists a new virtual-system request.
func (r *InMemoryRepository) SaveVsRequest(ctx context.Context, request *model.VsRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.vsRequests[request.ID]; exists {
		return exception.ErrConcurrencyViolation
	}
	r.vsRequests[request.ID] = cloneVsRequest(request)
	return nil
}

// UpdateVsRequest updates a request. Terminal requests are immutable.
func (r *InMemoryRepository) UpdateVsRequest(ctx context.Context, request *model.VsRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, exists := r.vsRequests[request.ID]
	if !exists {
		return repository.ErrVsRequestNotFound
	}
	if current.State.IsTerminal() {
		return exception.NewProvisioningError("inmemory",
			"virtual system request "+request.ID+" is terminal and cannot be updated", exception.ErrConcurrencyViolation, false)
	}
	r.vsRequests[request.ID] = cloneVsRequest(request)
	return nil
}

// FindVsRequestByID finds a request by its ID.
func (r *InMemoryRepository) FindVsRequestByID(ctx context.Context, id string) (*model.VsRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	request, ok := r.vsRequests[id]
	if !ok {
		return nil, repository.ErrVsRequestNotFound
	}
	return cloneVsRequest(request), nil
}

// ListUnrealizedVsRequests lists a uid's IN_PROGRESS requests on a system in
// creation order.
func (r *InMemoryRepository) ListUnrealizedVsRequests(ctx context.Context, systemID, uid string) ([]*model.VsRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var requests []*model.VsRequest
	for _, request := range r.vsRequests {
		if request.SystemID == systemID && request.UID == uid && request.State == model.VsRequestInProgress {
			requests = append(requests, cloneVsRequest(request))
		}
	}
	sort.Slice(requests, func(i, j int) bool {
		if !requests[i].CreateTime.Equal(requests[j].CreateTime) {
			return requests[i].CreateTime.Before(requests[j].CreateTime)
		}
		return requests[i].ID < requests[j].ID
	})
	return requests, nil
}

// UpsertVsAccount saves or replaces the last-confirmed state of a virtual
// account.
func (r *InMemoryRepository) UpsertVsAccount(ctx context.Context, account *model.VsAccount) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.vsAccounts[vsAccountKey(account.SystemID, account.UID)] = cloneVsAccount(account)
	return nil
}

// FindVsAccount finds the virtual account for a uid on a system.
func (r *InMemoryRepository) FindVsAccount(ctx context.Context, systemID, uid string) (*model.VsAccount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	account, ok := r.vsAccounts[vsAccountKey(systemID, uid)]
	if !ok {
		return nil, repository.ErrVsAccountNotFound
	}
	return cloneVsAccount(account), nil
}

// DeleteVsAccount removes the virtual account for a uid on a system.
func (r *InMemoryRepository) DeleteVsAccount(ctx context.Context, systemID, uid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := vsAccountKey(systemID, uid)
	if _, exists := r.vsAccounts[key]; !exists {
		return repository.ErrVsAccountNotFound
	}
	delete(r.vsAccounts, key)
	return nil
}
