package batch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"accord/pkg/provision/core/config"
	"accord/pkg/provision/core/domain/model"
	"accord/pkg/provision/core/domain/repository"
	"accord/pkg/provision/core/metrics"
	"accord/pkg/provision/infrastructure/repository/inmemory"
	"accord/pkg/provision/support/util/exception"
)

func testConfig() *config.ProvisioningConfig {
	return &config.ProvisioningConfig{
		Workers:     4,
		MaxAttempts: 3,
		Retry:       config.RetryConfig{InitialInterval: 1000, MaxInterval: 60000, Factor: 2.0},
	}
}

func newManager(repo repository.Repository) *Manager {
	return NewManager(repo, testConfig(), metrics.NoopRecorder{})
}

func queuedOp(systemEntityID string, opType model.OperationType) *model.ProvisioningOperation {
	return model.NewProvisioningOperation(
		opType, "crm", "identity", "e1", systemEntityID, "account-1",
		model.ProvisioningContext{UID: "jdoe", ObjectClass: "account", ConnectorKey: "mem"},
		testConfig().MaxAttempts,
	)
}

func TestCompleteSuccess_ArchivesExecuted(t *testing.T) {
	repo := inmemory.NewInMemoryRepository()
	mgr := newManager(repo)
	ctx := context.Background()

	op := queuedOp("se1", model.OperationCreate)
	_, err := mgr.Enqueue(ctx, op)
	require.NoError(t, err)

	claimed, err := mgr.NextRunnable(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	require.NoError(t, mgr.Complete(ctx, claimed, nil))

	archive, err := repo.FindArchiveByOperationID(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateExecuted, archive.Result.State)
	assert.Equal(t, 1, archive.Attempts)

	_, err = repo.FindOperationByID(ctx, op.ID)
	assert.ErrorIs(t, err, repository.ErrOperationNotFound)
}

func TestCompleteRetryableFailure_SchedulesBackoff(t *testing.T) {
	repo := inmemory.NewInMemoryRepository()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mgr := newManager(repo).WithClock(func() time.Time { return base })
	ctx := context.Background()

	op := queuedOp("se1", model.OperationUpdate)
	_, err := mgr.Enqueue(ctx, op)
	require.NoError(t, err)

	claimed, err := repo.ClaimNextRunnable(ctx, base)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	ioErr := exception.NewConnectorIOError("connector", "connection refused", nil)
	require.NoError(t, mgr.Complete(ctx, claimed, ioErr))

	// First retry waits the initial interval.
	batch, err := repo.FindBatch(ctx, "crm", "se1")
	require.NoError(t, err)
	assert.Equal(t, base.Add(time.Second), batch.NextAttempt.UTC())

	// Not runnable before the delay elapses, runnable after.
	delayed, err := repo.ClaimNextRunnable(ctx, base)
	require.NoError(t, err)
	assert.Nil(t, delayed)

	again, err := repo.ClaimNextRunnable(ctx, base.Add(2*time.Second))
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, op.ID, again.ID)
	assert.Equal(t, 1, again.CurrentAttempt)

	// Second failure doubles the delay.
	require.NoError(t, mgr.Complete(ctx, again, ioErr))
	batch, err = repo.FindBatch(ctx, "crm", "se1")
	require.NoError(t, err)
	assert.Equal(t, base.Add(2*time.Second), batch.NextAttempt.UTC())
}

func TestCompleteExhaustion_ArchivesException(t *testing.T) {
	repo := inmemory.NewInMemoryRepository()
	mgr := newManager(repo)
	ctx := context.Background()

	op := queuedOp("se1", model.OperationUpdate)
	_, err := mgr.Enqueue(ctx, op)
	require.NoError(t, err)

	ioErr := exception.NewConnectorIOError("connector", "connection refused", nil)
	for attempt := 0; attempt < testConfig().MaxAttempts; attempt++ {
		claimed, err := repo.ClaimNextRunnable(ctx, time.Now().Add(time.Hour))
		require.NoError(t, err)
		require.NotNil(t, claimed, "attempt %d should be claimable", attempt+1)
		require.NoError(t, mgr.Complete(ctx, claimed, ioErr))
	}

	archive, err := repo.FindArchiveByOperationID(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateException, archive.Result.State)
	assert.Equal(t, testConfig().MaxAttempts, archive.Attempts)
	assert.Contains(t, archive.Result.ErrorInfo, "connection refused")
}

func TestCompleteNonRetryableFailure_ArchivesImmediately(t *testing.T) {
	repo := inmemory.NewInMemoryRepository()
	mgr := newManager(repo)
	ctx := context.Background()

	op := queuedOp("se1", model.OperationCreate)
	_, err := mgr.Enqueue(ctx, op)
	require.NoError(t, err)

	claimed, err := mgr.NextRunnable(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	rejected := exception.NewConnectorRejectedError("connector", "schema violation", nil)
	require.NoError(t, mgr.Complete(ctx, claimed, rejected))

	archive, err := repo.FindArchiveByOperationID(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateException, archive.Result.State)
	assert.Equal(t, 1, archive.Attempts)
}

func TestCancel_LeavesExecutingOperationUntouched(t *testing.T) {
	repo := inmemory.NewInMemoryRepository()
	mgr := newManager(repo)
	ctx := context.Background()

	executing := queuedOp("se1", model.OperationUpdate)
	pending := queuedOp("se1", model.OperationDelete)
	pending.CreateTime = executing.CreateTime.Add(time.Millisecond)
	_, err := mgr.Enqueue(ctx, executing)
	require.NoError(t, err)
	_, err = mgr.Enqueue(ctx, pending)
	require.NoError(t, err)

	claimed, err := mgr.NextRunnable(ctx)
	require.NoError(t, err)
	require.Equal(t, executing.ID, claimed.ID)

	require.NoError(t, mgr.Cancel(ctx, "account-1"))

	// The pending operation archived as CANCELED.
	archive, err := repo.FindArchiveByOperationID(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateCanceled, archive.Result.State)

	// The executing one is still claimed and completes with its own result.
	require.NoError(t, mgr.Complete(ctx, claimed, nil))
	archive, err = repo.FindArchiveByOperationID(ctx, executing.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateExecuted, archive.Result.State)
}

// claimAfterListRepo claims the next runnable operation right after every
// account listing, interleaving a worker between the cancel's snapshot and
// its removal.
type claimAfterListRepo struct {
	repository.Repository
	claimed *model.ProvisioningOperation
}

func (r *claimAfterListRepo) ListOperationsByAccount(ctx context.Context, accountID string) ([]*model.ProvisioningOperation, error) {
	ops, err := r.Repository.ListOperationsByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if r.claimed == nil {
		claimed, err := r.Repository.ClaimNextRunnable(ctx, time.Now().Add(time.Hour))
		if err != nil {
			return nil, err
		}
		r.claimed = claimed
	}
	return ops, nil
}

func TestCancel_RaceWithClaimLeavesOperationRunning(t *testing.T) {
	inner := inmemory.NewInMemoryRepository()
	repo := &claimAfterListRepo{Repository: inner}
	mgr := newManager(repo)
	ctx := context.Background()

	op := queuedOp("se1", model.OperationUpdate)
	_, err := mgr.Enqueue(ctx, op)
	require.NoError(t, err)

	// The listing sees the operation as CREATED, but a worker claims it
	// before the cancel lands. The cancel must leave the claim intact.
	require.NoError(t, mgr.Cancel(ctx, "account-1"))
	require.NotNil(t, repo.claimed)

	running, err := inner.FindOperationByID(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateRunning, running.Result.State)
	_, err = inner.FindArchiveByOperationID(ctx, op.ID)
	assert.ErrorIs(t, err, repository.ErrArchiveNotFound)

	// The worker settles its claim, and the batch stays serviceable.
	require.NoError(t, mgr.Complete(ctx, repo.claimed, nil))
	archive, err := inner.FindArchiveByOperationID(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateExecuted, archive.Result.State)

	next := queuedOp("se1", model.OperationDelete)
	_, err = mgr.Enqueue(ctx, next)
	require.NoError(t, err)
	claimed, err := mgr.NextRunnable(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, next.ID, claimed.ID)
}

func TestCancelOperation_SingleQueuedOperation(t *testing.T) {
	repo := inmemory.NewInMemoryRepository()
	mgr := newManager(repo)
	ctx := context.Background()

	first := queuedOp("se1", model.OperationUpdate)
	second := queuedOp("se1", model.OperationDelete)
	second.CreateTime = first.CreateTime.Add(time.Millisecond)
	_, err := mgr.Enqueue(ctx, first)
	require.NoError(t, err)
	_, err = mgr.Enqueue(ctx, second)
	require.NoError(t, err)

	require.NoError(t, mgr.CancelOperation(ctx, second.ID))

	archive, err := repo.FindArchiveByOperationID(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateCanceled, archive.Result.State)

	// The other queued operation is untouched.
	claimed, err := mgr.NextRunnable(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, first.ID, claimed.ID)
}

func TestCancelOperation_ExecutingOperationIsRejected(t *testing.T) {
	repo := inmemory.NewInMemoryRepository()
	mgr := newManager(repo)
	ctx := context.Background()

	op := queuedOp("se1", model.OperationUpdate)
	_, err := mgr.Enqueue(ctx, op)
	require.NoError(t, err)

	claimed, err := mgr.NextRunnable(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	err = mgr.CancelOperation(ctx, op.ID)
	assert.ErrorIs(t, err, exception.ErrConcurrencyViolation)

	// Its own result still stands.
	require.NoError(t, mgr.Complete(ctx, claimed, nil))
	archive, err := repo.FindArchiveByOperationID(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateExecuted, archive.Result.State)
}

func TestRecover_GrantsOneMoreCycle(t *testing.T) {
	repo := inmemory.NewInMemoryRepository()
	mgr := newManager(repo)
	ctx := context.Background()

	op := queuedOp("se1", model.OperationUpdate)
	op.Context.Attributes = model.AttributeMap{"mail": "a@b"}
	_, err := mgr.Enqueue(ctx, op)
	require.NoError(t, err)

	claimed, err := mgr.NextRunnable(ctx)
	require.NoError(t, err)
	rejected := exception.NewConnectorRejectedError("connector", "schema violation", nil)
	require.NoError(t, mgr.Complete(ctx, claimed, rejected))

	require.NoError(t, mgr.Recover(ctx, op.ID))

	retry, err := mgr.NextRunnable(ctx)
	require.NoError(t, err)
	require.NotNil(t, retry)
	assert.NotEqual(t, op.ID, retry.ID)
	assert.Equal(t, 1, retry.MaxAttempts)
	// The preserved context re-runs as-is, attributes are not recomputed.
	assert.Equal(t, "a@b", retry.Context.Attributes["mail"])
}

func TestRecover_RejectsNonExceptionArchives(t *testing.T) {
	repo := inmemory.NewInMemoryRepository()
	mgr := newManager(repo)
	ctx := context.Background()

	op := queuedOp("se1", model.OperationUpdate)
	_, err := mgr.Enqueue(ctx, op)
	require.NoError(t, err)
	claimed, err := mgr.NextRunnable(ctx)
	require.NoError(t, err)
	require.NoError(t, mgr.Complete(ctx, claimed, nil))

	assert.Error(t, mgr.Recover(ctx, op.ID))
}

// TestSerializationInvariant hammers one batch from several goroutines and
// asserts that no two operations of the batch ever execute concurrently and
// that execution follows creation order.
func TestSerializationInvariant(t *testing.T) {
	repo := inmemory.NewInMemoryRepository()
	mgr := newManager(repo)
	ctx := context.Background()

	const opCount = 20
	base := time.Now()
	ids := make([]string, 0, opCount)
	for i := 0; i < opCount; i++ {
		op := queuedOp("se1", model.OperationUpdate)
		op.CreateTime = base.Add(time.Duration(i) * time.Millisecond)
		_, err := mgr.Enqueue(ctx, op)
		require.NoError(t, err)
		ids = append(ids, op.ID)
	}

	var mu sync.Mutex
	executing := 0
	maxExecuting := 0
	executed := make([]string, 0, opCount)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				claimed, err := mgr.NextRunnable(ctx)
				if err != nil || claimed == nil {
					mu.Lock()
					done := len(executed) >= opCount
					mu.Unlock()
					if done {
						return
					}
					time.Sleep(time.Millisecond)
					continue
				}

				mu.Lock()
				executing++
				if executing > maxExecuting {
					maxExecuting = executing
				}
				mu.Unlock()

				time.Sleep(time.Duration(claimed.CreateTime.UnixNano()%3) * time.Millisecond)

				mu.Lock()
				executing--
				executed = append(executed, claimed.ID)
				mu.Unlock()

				if err := mgr.Complete(ctx, claimed, nil); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxExecuting, "at most one operation of a batch may execute at once")
	assert.Equal(t, ids, executed, "operations must execute in creation order")
}

func TestBackoffDelayCapsAtMax(t *testing.T) {
	b := NewBackoff(config.RetryConfig{InitialInterval: 1000, MaxInterval: 8000, Factor: 2.0})

	assert.Equal(t, time.Second, b.Delay(1))
	assert.Equal(t, 2*time.Second, b.Delay(2))
	assert.Equal(t, 4*time.Second, b.Delay(3))
	assert.Equal(t, 8*time.Second, b.Delay(4))
	assert.Equal(t, 8*time.Second, b.Delay(10))
}
