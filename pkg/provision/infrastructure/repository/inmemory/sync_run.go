package inmemory

import (
	"context"

	model "accord/pkg/provision/core/domain/model"
	"accord/pkg/provision/core/domain/repository"
	"accord/pkg/provision/support/util/exception"
)

// SaveSyncRun persists a new run record.
func (r *InMemoryRepository) SaveSyncRun(ctx context.Context, run *model.SyncRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.syncRuns[run.ID]; exists {
		return exception.ErrConcurrencyViolation
	}
	r.syncRuns[run.ID] = cloneSyncRun(run)
	return nil
}

// UpdateSyncRun updates the state of an existing run record.
func (r *InMemoryRepository) UpdateSyncRun(ctx context.Context, run *model.SyncRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.syncRuns[run.ID]; !exists {
		return repository.ErrSyncRunNotFound
	}
	r.syncRuns[run.ID] = cloneSyncRun(run)
	return nil
}

// FindLatestSyncRun finds the newest run of a configuration.
func (r *InMemoryRepository) FindLatestSyncRun(ctx context.Context, configName string) (*model.SyncRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *model.SyncRun
	for _, run := range r.syncRuns {
		if run.ConfigName != configName {
			continue
		}
		if latest == nil || run.StartTime.After(latest.StartTime) {
			latest = run
		}
	}
	if latest == nil {
		return nil, repository.ErrSyncRunNotFound
	}
	return cloneSyncRun(latest), nil
}
