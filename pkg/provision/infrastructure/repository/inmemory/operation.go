package inmemory

import (
	"context"
	"sort"
	"time"

	model "accord/pkg/provision/core/domain/model"
	"accord/pkg/provision/core/domain/repository"
	"accord/pkg/provision/support/util/exception"
)

// EnqueueOperation persists a new operation and creates or reuses the batch
// for its (system, system entity) pair, atomically.
func (r *InMemoryRepository) EnqueueOperation(ctx context.Context, op *model.ProvisioningOperation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.operations[op.ID]; exists {
		return exception.ErrConcurrencyViolation
	}

	batch := r.findBatchLocked(op.SystemID, op.SystemEntityID)
	if batch == nil {
		batch = model.NewProvisioningBatch(op.SystemID, op.SystemEntityID)
		r.batches[batch.ID] = batch
	}
	op.BatchID = batch.ID
	r.operations[op.ID] = cloneOperation(op)
	return nil
}

// UpdateOperation updates the state of an existing operation.
func (r *InMemoryRepository) UpdateOperation(ctx context.Context, op *model.ProvisioningOperation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, exists := r.operations[op.ID]
	if !exists {
		return repository.ErrOperationNotFound
	}
	if current.Version != op.Version {
		return exception.ErrConcurrencyViolation
	}
	op.Version++
	r.operations[op.ID] = cloneOperation(op)
	return nil
}

// FindOperationByID finds an active operation by its ID.
func (r *InMemoryRepository) FindOperationByID(ctx context.Context, id string) (*model.ProvisioningOperation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	op, ok := r.operations[id]
	if !ok {
		return nil, repository.ErrOperationNotFound
	}
	return cloneOperation(op), nil
}

// ListOperationsByBatch lists a batch's active operations in creation order.
func (r *InMemoryRepository) ListOperationsByBatch(ctx context.Context, batchID string) ([]*model.ProvisioningOperation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ops []*model.ProvisioningOperation
	for _, op := range r.operations {
		if op.BatchID == batchID {
			ops = append(ops, cloneOperation(op))
		}
	}
	sortOperations(ops)
	return ops, nil
}

// ListOperationsByAccount lists an account's active operations in creation
// order.
func (r *InMemoryRepository) ListOperationsByAccount(ctx context.Context, accountID string) ([]*model.ProvisioningOperation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ops []*model.ProvisioningOperation
	for _, op := range r.operations {
		if op.AccountID == accountID {
			ops = append(ops, cloneOperation(op))
		}
	}
	sortOperations(ops)
	return ops, nil
}

// ClaimNextRunnable atomically picks the oldest CREATED operation of an idle,
// non-delayed batch, marks the batch executing and the operation RUNNING, and
// returns it. Returns (nil, nil) when nothing is runnable at now.
func (r *InMemoryRepository) ClaimNextRunnable(ctx context.Context, now time.Time) (*model.ProvisioningOperation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var candidate *model.ProvisioningOperation
	for _, batch := range r.batches {
		if batch.ExecutingOperationID != "" {
			continue
		}
		if !batch.NextAttempt.IsZero() && batch.NextAttempt.After(now) {
			continue
		}
		head := r.batchHeadLocked(batch.ID)
		if head == nil {
			continue
		}
		if candidate == nil || olderThan(head, candidate) {
			candidate = head
		}
	}
	if candidate == nil {
		return nil, nil
	}

	candidate.Result.State = model.StateRunning
	candidate.Version++
	batch := r.batches[candidate.BatchID]
	batch.ExecutingOperationID = candidate.ID
	batch.Version++
	return cloneOperation(candidate), nil
}

// ReleaseOperation atomically clears the batch's executing marker, applies
// the operation's new state, and sets the batch's NextAttempt for backoff
// scheduling.
func (r *InMemoryRepository) ReleaseOperation(ctx context.Context, op *model.ProvisioningOperation, nextAttempt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.operations[op.ID]; !exists {
		return repository.ErrOperationNotFound
	}
	batch, exists := r.batches[op.BatchID]
	if !exists {
		return repository.ErrBatchNotFound
	}
	if batch.ExecutingOperationID != op.ID {
		return exception.ErrConcurrencyViolation
	}

	op.Version++
	r.operations[op.ID] = cloneOperation(op)
	batch.ExecutingOperationID = ""
	batch.NextAttempt = nextAttempt
	batch.Version++
	return nil
}

// RemoveOperation deletes a terminated operation from the active table.
func (r *InMemoryRepository) RemoveOperation(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.operations[id]; !exists {
		return repository.ErrOperationNotFound
	}
	delete(r.operations, id)
	return nil
}

// ArchiveOperation settles a claimed operation in one step: the batch's
// executing marker clears, the archive record is appended and the active row
// is removed.
func (r *InMemoryRepository) ArchiveOperation(ctx context.Context, op *model.ProvisioningOperation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.operations[op.ID]; !exists {
		return repository.ErrOperationNotFound
	}
	batch, exists := r.batches[op.BatchID]
	if !exists {
		return repository.ErrBatchNotFound
	}
	if batch.ExecutingOperationID != op.ID {
		return exception.ErrConcurrencyViolation
	}

	archive := model.NewProvisioningArchive(op)
	r.archives[archive.ID] = cloneArchive(archive)
	delete(r.operations, op.ID)
	batch.ExecutingOperationID = ""
	batch.NextAttempt = time.Time{}
	batch.Version++
	return nil
}

// CancelQueuedOperation archives op and removes its row only while the row is
// still CREATED. A row a worker claimed in the meantime is left alone.
func (r *InMemoryRepository) CancelQueuedOperation(ctx context.Context, op *model.ProvisioningOperation) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, exists := r.operations[op.ID]
	if !exists || current.Result.State != model.StateCreated {
		return false, nil
	}
	archive := model.NewProvisioningArchive(op)
	r.archives[archive.ID] = cloneArchive(archive)
	delete(r.operations, op.ID)
	return true, nil
}

// FindBatch finds the batch of a (system, system entity) pair.
func (r *InMemoryRepository) FindBatch(ctx context.Context, systemID, systemEntityID string) (*model.ProvisioningBatch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	batch := r.findBatchLocked(systemID, systemEntityID)
	if batch == nil {
		return nil, repository.ErrBatchNotFound
	}
	return cloneBatch(batch), nil
}

// SaveArchive appends an immutable archive record.
func (r *InMemoryRepository) SaveArchive(ctx context.Context, archive *model.ProvisioningArchive) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.archives[archive.ID]; exists {
		return exception.ErrConcurrencyViolation
	}
	r.archives[archive.ID] = cloneArchive(archive)
	return nil
}

// FindArchiveByOperationID finds the archive record of an operation.
func (r *InMemoryRepository) FindArchiveByOperationID(ctx context.Context, operationID string) (*model.ProvisioningArchive, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, archive := range r.archives {
		if archive.OperationID == operationID {
			return cloneArchive(archive), nil
		}
	}
	return nil, repository.ErrArchiveNotFound
}

// ListArchivesBySystem lists a system's archive records, newest first.
func (r *InMemoryRepository) ListArchivesBySystem(ctx context.Context, systemID string) ([]*model.ProvisioningArchive, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var archives []*model.ProvisioningArchive
	for _, archive := range r.archives {
		if archive.SystemID == systemID {
			archives = append(archives, cloneArchive(archive))
		}
	}
	sort.Slice(archives, func(i, j int) bool {
		return archives[i].ArchivedAt.After(archives[j].ArchivedAt)
	})
	return archives, nil
}

func (r *InMemoryRepository) findBatchLocked(systemID, systemEntityID string) *model.ProvisioningBatch {
	for _, batch := range r.batches {
		if batch.SystemID == systemID && batch.SystemEntityID == systemEntityID {
			return batch
		}
	}
	return nil
}

// batchHeadLocked returns the oldest CREATED operation of a batch, nil when
// the batch has none.
func (r *InMemoryRepository) batchHeadLocked(batchID string) *model.ProvisioningOperation {
	var head *model.ProvisioningOperation
	for _, op := range r.operations {
		if op.BatchID != batchID || op.Result.State != model.StateCreated {
			continue
		}
		if head == nil || olderThan(op, head) {
			head = op
		}
	}
	return head
}

// olderThan orders operations by creation time, ties broken by ID so the
// order is total.
func olderThan(a, b *model.ProvisioningOperation) bool {
	if !a.CreateTime.Equal(b.CreateTime) {
		return a.CreateTime.Before(b.CreateTime)
	}
	return a.ID < b.ID
}

func sortOperations(ops []*model.ProvisioningOperation) {
	sort.Slice(ops, func(i, j int) bool { return olderThan(ops[i], ops[j]) })
}
