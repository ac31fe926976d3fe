package worker

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"accord/pkg/provision/connector"
	"accord/pkg/provision/core/config"
	"accord/pkg/provision/core/domain/model"
	"accord/pkg/provision/core/metrics"
	"accord/pkg/provision/engine/batch"
	"accord/pkg/provision/engine/compare"
	"accord/pkg/provision/engine/executor"
	"accord/pkg/provision/infrastructure/repository/inmemory"
	"accord/pkg/provision/support/util/exception"
)

type noopDelegator struct{}

func (noopDelegator) Delegate(ctx context.Context, op *model.ProvisioningOperation) (*model.VsRequest, error) {
	return model.NewVsRequest(op.Context.UID, op.SystemID, op.Context.ConnectorKey, op.EntityID, op.Type, nil), nil
}

// TestPoolDrainsQueueAcrossAccounts runs the full claim/execute/settle loop
// with random connector latency and verifies every operation lands in the
// archive as EXECUTED.
func TestPoolDrainsQueueAcrossAccounts(t *testing.T) {
	repo := inmemory.NewInMemoryRepository()
	conn := connector.NewMemoryConnector()
	conn.Latency = func() { time.Sleep(time.Duration(rand.Intn(2)) * time.Millisecond) }
	registry := connector.NewRegistry()
	registry.Register("mem", conn)

	cfg := &config.ProvisioningConfig{
		Workers:                 4,
		PollIntervalSeconds:     1,
		MaxAttempts:             3,
		ConnectorTimeoutSeconds: 5,
		Retry:                   config.RetryConfig{InitialInterval: 10, MaxInterval: 100, Factor: 2.0},
	}
	mgr := batch.NewManager(repo, cfg, metrics.NoopRecorder{})
	exec := executor.NewDefaultExecutor(repo, registry, compare.NewComparator(), noopDelegator{}, metrics.NoopTracer{}, cfg)
	execRegistry := executor.NewRegistry(exec)
	pool := NewPool(mgr, execRegistry, cfg)

	ctx := context.Background()
	const accounts = 5
	var opIDs []string
	for i := 0; i < accounts; i++ {
		uid := fmt.Sprintf("user%d", i)
		se := model.NewSystemEntity(uid, "identity", "crm")
		require.NoError(t, repo.SaveSystemEntity(ctx, se))

		op := model.NewProvisioningOperation(
			model.OperationCreate, "crm", "identity", fmt.Sprintf("e%d", i), se.ID, "",
			model.ProvisioningContext{
				Attributes:   model.AttributeMap{"mail": uid + "@example.com"},
				UID:          uid,
				ObjectClass:  "account",
				ConnectorKey: "mem",
			}, cfg.MaxAttempts,
		)
		_, err := mgr.Enqueue(ctx, op)
		require.NoError(t, err)
		opIDs = append(opIDs, op.ID)
	}

	pool.Start()
	defer pool.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for {
		archived := 0
		for _, id := range opIDs {
			if _, err := repo.FindArchiveByOperationID(ctx, id); err == nil {
				archived++
			}
		}
		if archived == len(opIDs) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("only %d/%d operations archived before deadline", archived, len(opIDs))
		}
		time.Sleep(5 * time.Millisecond)
	}

	for _, id := range opIDs {
		archive, err := repo.FindArchiveByOperationID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.StateExecuted, archive.Result.State)
	}

	accountsOnSystem, err := repo.ListAccountsBySystem(ctx, "crm")
	require.NoError(t, err)
	assert.Len(t, accountsOnSystem, accounts)
}

// TestPoolRetriesTransientFailures injects one connector outage and verifies
// the operation retries to success within its attempt budget.
func TestPoolRetriesTransientFailures(t *testing.T) {
	repo := inmemory.NewInMemoryRepository()
	conn := connector.NewMemoryConnector()
	registry := connector.NewRegistry()
	registry.Register("mem", conn)

	cfg := &config.ProvisioningConfig{
		Workers:                 2,
		PollIntervalSeconds:     1,
		MaxAttempts:             3,
		ConnectorTimeoutSeconds: 5,
		Retry:                   config.RetryConfig{InitialInterval: 5, MaxInterval: 20, Factor: 2.0},
	}
	mgr := batch.NewManager(repo, cfg, metrics.NoopRecorder{})
	exec := executor.NewDefaultExecutor(repo, registry, compare.NewComparator(), noopDelegator{}, metrics.NoopTracer{}, cfg)
	pool := NewPool(mgr, executor.NewRegistry(exec), cfg)

	ctx := context.Background()
	se := model.NewSystemEntity("jdoe", "identity", "crm")
	require.NoError(t, repo.SaveSystemEntity(ctx, se))

	conn.FailNext = exception.NewConnectorIOError("memory-connector", "simulated outage", nil)

	op := model.NewProvisioningOperation(
		model.OperationCreate, "crm", "identity", "e1", se.ID, "",
		model.ProvisioningContext{
			Attributes:   model.AttributeMap{"mail": "jdoe@example.com"},
			UID:          "jdoe",
			ObjectClass:  "account",
			ConnectorKey: "mem",
		}, cfg.MaxAttempts,
	)
	_, err := mgr.Enqueue(ctx, op)
	require.NoError(t, err)

	pool.Start()
	defer pool.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for {
		if archive, err := repo.FindArchiveByOperationID(ctx, op.ID); err == nil {
			assert.Equal(t, model.StateExecuted, archive.Result.State)
			assert.Equal(t, 2, archive.Attempts)
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("operation did not archive before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
