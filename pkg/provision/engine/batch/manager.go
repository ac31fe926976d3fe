// Package batch owns the operation queue: one batch per (system, system
// entity) pair, strict FIFO within a batch, at most one executing operation
// per batch at any instant. Retry backoff lives on the batch so a failing
// account delays only itself.
package batch

import (
	"context"
	"fmt"
	"time"

	"accord/pkg/provision/core/config"
	"accord/pkg/provision/core/domain/model"
	"accord/pkg/provision/core/domain/repository"
	"accord/pkg/provision/core/metrics"
	"accord/pkg/provision/support/util/exception"
	"accord/pkg/provision/support/util/logger"
)

const moduleName = "batch"

// Handle identifies an enqueued operation to its caller.
type Handle struct {
	OperationID string
	BatchID     string
}

// Manager schedules provisioning operations through the repository's atomic
// claim/release primitives and archives them on termination.
type Manager struct {
	repo     repository.Repository
	backoff  *Backoff
	recorder metrics.MetricRecorder
	wake     chan struct{}
	now      func() time.Time
}

// NewManager creates a batch Manager using wall-clock time.
func NewManager(repo repository.Repository, cfg *config.ProvisioningConfig, recorder metrics.MetricRecorder) *Manager {
	return &Manager{
		repo:     repo,
		backoff:  NewBackoff(cfg.Retry),
		recorder: recorder,
		wake:     make(chan struct{}, 1),
		now:      time.Now,
	}
}

// WithClock overrides the manager's time source.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Wake is the notification channel the worker pool selects on. A send means
// "there may be runnable work now".
func (m *Manager) Wake() <-chan struct{} {
	return m.wake
}

// Enqueue persists an operation into its (system, system entity) batch and
// wakes the worker pool.
func (m *Manager) Enqueue(ctx context.Context, op *model.ProvisioningOperation) (Handle, error) {
	if err := m.repo.EnqueueOperation(ctx, op); err != nil {
		return Handle{}, exception.NewProvisioningError(moduleName, "failed to enqueue operation "+op.ID, err, false)
	}
	logger.Debugf("Enqueued %s operation %s for system %s, batch %s", op.Type, op.ID, op.SystemID, op.BatchID)
	m.ProcessCreated(ctx)
	return Handle{OperationID: op.ID, BatchID: op.BatchID}, nil
}

// NextRunnable claims the next runnable operation, or (nil, nil) when every
// batch is either executing, delayed, or empty.
func (m *Manager) NextRunnable(ctx context.Context) (*model.ProvisioningOperation, error) {
	return m.repo.ClaimNextRunnable(ctx, m.now())
}

// Complete settles a claimed operation after an execution attempt.
//
//   - execErr nil: the operation archives in its result state (EXECUTED, or
//     DELEGATED for virtual targets) and leaves the active table.
//   - retryable execErr with attempts left: the operation returns to CREATED
//     and its batch is delayed by the exponential backoff.
//   - non-retryable execErr or exhausted attempts: the operation archives as
//     EXCEPTION.
func (m *Manager) Complete(ctx context.Context, op *model.ProvisioningOperation, execErr error) error {
	op.CurrentAttempt++

	if execErr == nil {
		if op.Result.State != model.StateDelegated {
			op.Result = model.OperationResult{State: model.StateExecuted}
		}
		m.recorder.RecordOperationAttempt(ctx, op, op.Result.State, 0)
		return m.archive(ctx, op)
	}

	if exception.IsRetryable(execErr) && !op.AttemptsExhausted() {
		delay := m.backoff.Delay(op.CurrentAttempt)
		op.Result = model.OperationResult{State: model.StateCreated, ErrorInfo: execErr.Error()}
		if err := m.repo.ReleaseOperation(ctx, op, m.now().Add(delay)); err != nil {
			return err
		}
		m.recorder.RecordOperationRetry(ctx, op)
		logger.Warnf("Operation %s attempt %d/%d failed, retrying in %s: %v", op.ID, op.CurrentAttempt, op.MaxAttempts, delay, execErr)
		return nil
	}

	op.Result = model.OperationResult{State: model.StateException, ErrorInfo: execErr.Error()}
	m.recorder.RecordOperationAttempt(ctx, op, model.StateException, 0)
	logger.Errorf("Operation %s failed terminally after %d attempts: %v", op.ID, op.CurrentAttempt, execErr)
	return m.archive(ctx, op)
}

// Cancel archives every not-yet-started operation of an account as CANCELED.
// An executing operation is left to finish; its result stands. An operation a
// worker claims between the listing and the cancel is likewise left alone.
func (m *Manager) Cancel(ctx context.Context, accountID string) error {
	ops, err := m.repo.ListOperationsByAccount(ctx, accountID)
	if err != nil {
		return err
	}
	for _, op := range ops {
		if op.Result.State != model.StateCreated {
			continue
		}
		op.Result = model.OperationResult{State: model.StateCanceled, ErrorInfo: "canceled by operator"}
		canceled, err := m.repo.CancelQueuedOperation(ctx, op)
		if err != nil {
			return err
		}
		if !canceled {
			continue
		}
		logger.Infof("Operation %s for account %s canceled", op.ID, accountID)
	}
	return nil
}

// CancelOperation archives a single not-yet-started operation as CANCELED.
// An executing operation cannot be canceled; its result stands.
func (m *Manager) CancelOperation(ctx context.Context, operationID string) error {
	op, err := m.repo.FindOperationByID(ctx, operationID)
	if err != nil {
		return err
	}
	op.Result = model.OperationResult{State: model.StateCanceled, ErrorInfo: "canceled by operator"}
	canceled, err := m.repo.CancelQueuedOperation(ctx, op)
	if err != nil {
		return err
	}
	if !canceled {
		return exception.NewProvisioningError(moduleName,
			fmt.Sprintf("operation %s is no longer queued and cannot be canceled", operationID),
			exception.ErrConcurrencyViolation, false)
	}
	logger.Infof("Operation %s canceled", op.ID)
	return nil
}

// Recover re-enqueues an operation that archived as EXCEPTION, granting
// exactly one more execution cycle with the preserved resolved context.
func (m *Manager) Recover(ctx context.Context, operationID string) error {
	archive, err := m.repo.FindArchiveByOperationID(ctx, operationID)
	if err != nil {
		return err
	}
	if archive.Result.State != model.StateException {
		return exception.NewProvisioningError(moduleName,
			fmt.Sprintf("operation %s archived as %s, only EXCEPTION operations can be recovered", operationID, archive.Result.State), nil, false)
	}

	retry := model.NewProvisioningOperation(
		archive.Type,
		archive.SystemID,
		archive.EntityType,
		archive.EntityID,
		archive.SystemEntityID,
		archive.AccountID,
		archive.Context,
		1,
	)
	if _, err := m.Enqueue(ctx, retry); err != nil {
		return err
	}
	logger.Infof("Operation %s recovered as %s", operationID, retry.ID)
	return nil
}

// ProcessCreated nudges the worker pool without waiting for the next poll.
func (m *Manager) ProcessCreated(ctx context.Context) {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// archive settles the claimed operation in its terminal state through the
// repository's single-step primitive.
func (m *Manager) archive(ctx context.Context, op *model.ProvisioningOperation) error {
	if err := m.repo.ArchiveOperation(ctx, op); err != nil {
		return err
	}
	// Work may have queued behind the terminated operation.
	m.ProcessCreated(ctx)
	return nil
}
