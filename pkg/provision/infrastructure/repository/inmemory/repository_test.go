package inmemory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "accord/pkg/provision/core/domain/model"
	"accord/pkg/provision/core/domain/repository"
	"accord/pkg/provision/support/util/exception"
)

func newOperation(systemID, systemEntityID string) *model.ProvisioningOperation {
	return model.NewProvisioningOperation(
		model.OperationUpdate, systemID, "identity", "entity-1", systemEntityID, "account-1",
		model.ProvisioningContext{UID: "jdoe", ObjectClass: "account", ConnectorKey: "mem"}, 3,
	)
}

func TestSaveAccount_UIDUniquenessPerSystem(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	first := model.NewAccount("jdoe", "crm", "identity", "e1", "se1", "m1")
	require.NoError(t, repo.SaveAccount(ctx, first))

	dup := model.NewAccount("jdoe", "crm", "identity", "e2", "se2", "m1")
	assert.ErrorIs(t, repo.SaveAccount(ctx, dup), repository.ErrDuplicateAccount)

	// Same uid on another system is fine.
	other := model.NewAccount("jdoe", "hr", "identity", "e1", "se3", "m2")
	assert.NoError(t, repo.SaveAccount(ctx, other))
}

func TestClaimNextRunnable_SerializesBatch(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()
	now := time.Now()

	first := newOperation("crm", "se1")
	second := newOperation("crm", "se1")
	second.CreateTime = first.CreateTime.Add(time.Millisecond)
	require.NoError(t, repo.EnqueueOperation(ctx, first))
	require.NoError(t, repo.EnqueueOperation(ctx, second))
	assert.Equal(t, first.BatchID, second.BatchID)

	claimed, err := repo.ClaimNextRunnable(ctx, now)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, first.ID, claimed.ID)
	assert.Equal(t, model.StateRunning, claimed.Result.State)

	// The batch holds an executing operation, so nothing else is runnable.
	idle, err := repo.ClaimNextRunnable(ctx, now)
	require.NoError(t, err)
	assert.Nil(t, idle)

	claimed.Result = model.OperationResult{State: model.StateExecuted}
	require.NoError(t, repo.ReleaseOperation(ctx, claimed, time.Time{}))
	require.NoError(t, repo.RemoveOperation(ctx, claimed.ID))

	next, err := repo.ClaimNextRunnable(ctx, now)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, second.ID, next.ID)
}

func TestClaimNextRunnable_HonorsBackoffDelay(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()
	now := time.Now()

	op := newOperation("crm", "se1")
	require.NoError(t, repo.EnqueueOperation(ctx, op))

	claimed, err := repo.ClaimNextRunnable(ctx, now)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	// Release back to CREATED with a future NextAttempt, as a retry does.
	claimed.Result = model.OperationResult{State: model.StateCreated, ErrorInfo: "io timeout"}
	require.NoError(t, repo.ReleaseOperation(ctx, claimed, now.Add(time.Minute)))

	delayed, err := repo.ClaimNextRunnable(ctx, now)
	require.NoError(t, err)
	assert.Nil(t, delayed)

	ready, err := repo.ClaimNextRunnable(ctx, now.Add(2*time.Minute))
	require.NoError(t, err)
	require.NotNil(t, ready)
	assert.Equal(t, op.ID, ready.ID)
}

func TestReleaseOperation_RejectsForeignRelease(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	op := newOperation("crm", "se1")
	require.NoError(t, repo.EnqueueOperation(ctx, op))

	// Never claimed: the batch has no executing marker to release.
	err := repo.ReleaseOperation(ctx, op, time.Time{})
	assert.ErrorIs(t, err, exception.ErrConcurrencyViolation)
}

func TestUpdateVsRequest_TerminalIsImmutable(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	request := model.NewVsRequest("jdoe", "vs1", "virtual", "e1", model.OperationCreate, model.AttributeMap{"mail": "a@b"})
	require.NoError(t, repo.SaveVsRequest(ctx, request))

	resolved := time.Now()
	request.State = model.VsRequestRealized
	request.ResolvedAt = &resolved
	require.NoError(t, repo.UpdateVsRequest(ctx, request))

	request.Note = "late edit"
	err := repo.UpdateVsRequest(ctx, request)
	require.Error(t, err)
	assert.ErrorIs(t, err, exception.ErrConcurrencyViolation)
}

func TestStoredRecordsAreIsolatedFromCallers(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	op := newOperation("crm", "se1")
	op.Context.Attributes = model.AttributeMap{"mail": "a@b"}
	require.NoError(t, repo.EnqueueOperation(ctx, op))

	op.Context.Attributes["mail"] = "mutated"

	stored, err := repo.FindOperationByID(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, "a@b", stored.Context.Attributes["mail"])
}
