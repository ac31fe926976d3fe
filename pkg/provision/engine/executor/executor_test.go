package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"accord/pkg/provision/connector"
	"accord/pkg/provision/core/config"
	"accord/pkg/provision/core/domain/model"
	"accord/pkg/provision/core/domain/repository"
	"accord/pkg/provision/core/metrics"
	"accord/pkg/provision/engine/compare"
	"accord/pkg/provision/infrastructure/repository/inmemory"
)

// spyConnector counts mutating calls on top of the in-memory connector.
type spyConnector struct {
	*connector.MemoryConnector
	creates int
	updates int
	deletes int
}

func (s *spyConnector) Create(ctx context.Context, objectClass string, attrs model.AttributeMap) (string, error) {
	s.creates++
	return s.MemoryConnector.Create(ctx, objectClass, attrs)
}

func (s *spyConnector) Update(ctx context.Context, uid, objectClass string, attrs model.AttributeMap) (string, error) {
	s.updates++
	return s.MemoryConnector.Update(ctx, uid, objectClass, attrs)
}

func (s *spyConnector) Delete(ctx context.Context, uid, objectClass string) error {
	s.deletes++
	return s.MemoryConnector.Delete(ctx, uid, objectClass)
}

type stubDelegator struct {
	request *model.VsRequest
}

func (d *stubDelegator) Delegate(ctx context.Context, op *model.ProvisioningOperation) (*model.VsRequest, error) {
	d.request = model.NewVsRequest(op.Context.UID, op.SystemID, op.Context.ConnectorKey, op.EntityID, op.Type, op.Context.Attributes)
	return d.request, nil
}

type fixture struct {
	repo      *inmemory.InMemoryRepository
	conn      *spyConnector
	delegator *stubDelegator
	exec      *DefaultExecutor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := inmemory.NewInMemoryRepository()
	conn := &spyConnector{MemoryConnector: connector.NewMemoryConnector()}
	registry := connector.NewRegistry()
	registry.Register("mem", conn)
	delegator := &stubDelegator{}

	cfg := &config.ProvisioningConfig{ConnectorTimeoutSeconds: 5}
	exec := NewDefaultExecutor(repo, registry, compare.NewComparator(), delegator, metrics.NoopTracer{}, cfg)
	return &fixture{repo: repo, conn: conn, delegator: delegator, exec: exec}
}

func (f *fixture) seedSystemEntity(t *testing.T, uid string) *model.SystemEntity {
	t.Helper()
	entity := model.NewSystemEntity(uid, "identity", "crm")
	require.NoError(t, f.repo.SaveSystemEntity(context.Background(), entity))
	return entity
}

func operation(opType model.OperationType, systemEntityID, accountID string, attrs model.AttributeMap) *model.ProvisioningOperation {
	return model.NewProvisioningOperation(
		opType, "crm", "identity", "e1", systemEntityID, accountID,
		model.ProvisioningContext{
			Attributes:   attrs,
			UID:          "jdoe",
			ObjectClass:  "account",
			ConnectorKey: "mem",
		}, 3,
	)
}

func TestExecuteCreate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	se := f.seedSystemEntity(t, "jdoe")

	op := operation(model.OperationCreate, se.ID, "", model.AttributeMap{"mail": "jdoe@example.com"})
	require.NoError(t, f.exec.Execute(ctx, op))

	obj, err := f.conn.Read(ctx, "jdoe", "account")
	require.NoError(t, err)
	assert.Equal(t, "jdoe@example.com", obj.Attributes["mail"])

	stored, err := f.repo.FindSystemEntityByID(ctx, se.ID)
	require.NoError(t, err)
	assert.False(t, stored.Wish)

	account, err := f.repo.FindAccountByEntity(ctx, "crm", "e1")
	require.NoError(t, err)
	assert.Equal(t, "jdoe", account.UID)
	assert.Equal(t, account.ID, op.AccountID)
}

func TestExecuteCreate_DuplicateKeyAdoptsExistingObject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	se := f.seedSystemEntity(t, "jdoe")
	f.conn.Seed("account", "jdoe", model.AttributeMap{"mail": "stale@example.com"})

	op := operation(model.OperationCreate, se.ID, "", model.AttributeMap{"mail": "jdoe@example.com"})
	require.NoError(t, f.exec.Execute(ctx, op))

	// The existing object was adopted and converged, not recreated.
	assert.Equal(t, 1, f.conn.creates)
	assert.Equal(t, 1, f.conn.updates)
	obj, err := f.conn.Read(ctx, "jdoe", "account")
	require.NoError(t, err)
	assert.Equal(t, "jdoe@example.com", obj.Attributes["mail"])

	account, err := f.repo.FindAccountByEntity(ctx, "crm", "e1")
	require.NoError(t, err)
	assert.Equal(t, "jdoe", account.UID)
}

func TestExecuteCreate_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	se := f.seedSystemEntity(t, "jdoe")
	attrs := model.AttributeMap{"mail": "jdoe@example.com"}

	first := operation(model.OperationCreate, se.ID, "", attrs)
	require.NoError(t, f.exec.Execute(ctx, first))
	second := operation(model.OperationCreate, se.ID, "", attrs)
	require.NoError(t, f.exec.Execute(ctx, second))

	accounts, err := f.repo.ListAccountsBySystem(ctx, "crm")
	require.NoError(t, err)
	assert.Len(t, accounts, 1)
}

func TestExecuteUpdate_EmptyChangeSetSkipsConnectorWrite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	se := f.seedSystemEntity(t, "jdoe")
	se.Wish = false
	require.NoError(t, f.repo.UpdateSystemEntity(ctx, se))
	f.conn.Seed("account", "jdoe", model.AttributeMap{"mail": "jdoe@example.com"})

	account := model.NewAccount("jdoe", "crm", "identity", "e1", se.ID, "m1")
	require.NoError(t, f.repo.SaveAccount(ctx, account))

	op := operation(model.OperationUpdate, se.ID, account.ID, model.AttributeMap{"mail": "jdoe@example.com"})
	require.NoError(t, f.exec.Execute(ctx, op))

	assert.Equal(t, 0, f.conn.updates, "a converged object must not be written")
}

func TestExecuteUpdate_CaseInsensitiveDescriptorSkipsConnectorWrite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	se := f.seedSystemEntity(t, "jdoe")
	se.Wish = false
	require.NoError(t, f.repo.UpdateSystemEntity(ctx, se))
	f.conn.Seed("account", "jdoe", model.AttributeMap{"mail": "JDOE@EXAMPLE.COM"})

	account := model.NewAccount("jdoe", "crm", "identity", "e1", se.ID, "m1")
	require.NoError(t, f.repo.SaveAccount(ctx, account))

	op := operation(model.OperationUpdate, se.ID, account.ID, model.AttributeMap{"mail": "jdoe@example.com"})
	op.Context.Descriptors = model.DescriptorMap{
		"mail": {SchemaName: "mail", CaseInsensitive: true},
	}
	require.NoError(t, f.exec.Execute(ctx, op))

	// The values differ only by case, which the mapping says to ignore.
	assert.Equal(t, 0, f.conn.updates)
	obj, err := f.conn.Read(ctx, "jdoe", "account")
	require.NoError(t, err)
	assert.Equal(t, "JDOE@EXAMPLE.COM", obj.Attributes["mail"])
}

func TestExecuteUpdate_WritesOnlyChangedAttributes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	se := f.seedSystemEntity(t, "jdoe")
	f.conn.Seed("account", "jdoe", model.AttributeMap{"mail": "old@example.com", "title": "dev"})

	account := model.NewAccount("jdoe", "crm", "identity", "e1", se.ID, "m1")
	require.NoError(t, f.repo.SaveAccount(ctx, account))

	op := operation(model.OperationUpdate, se.ID, account.ID, model.AttributeMap{"mail": "new@example.com", "title": "dev"})
	require.NoError(t, f.exec.Execute(ctx, op))

	assert.Equal(t, 1, f.conn.updates)
	obj, err := f.conn.Read(ctx, "jdoe", "account")
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", obj.Attributes["mail"])
}

func TestExecuteDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	se := f.seedSystemEntity(t, "jdoe")
	f.conn.Seed("account", "jdoe", model.AttributeMap{"mail": "jdoe@example.com"})

	account := model.NewAccount("jdoe", "crm", "identity", "e1", se.ID, "m1")
	require.NoError(t, f.repo.SaveAccount(ctx, account))

	op := operation(model.OperationDelete, se.ID, account.ID, nil)
	require.NoError(t, f.exec.Execute(ctx, op))

	_, err := f.conn.Read(ctx, "jdoe", "account")
	assert.ErrorIs(t, err, connector.ErrObjectNotFound)
	_, err = f.repo.FindAccountByID(ctx, account.ID)
	assert.ErrorIs(t, err, repository.ErrAccountNotFound)
	_, err = f.repo.FindSystemEntityByID(ctx, se.ID)
	assert.ErrorIs(t, err, repository.ErrSystemEntityNotFound)
}

func TestExecuteDelete_ProtectedAccountIsRefused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	se := f.seedSystemEntity(t, "jdoe")
	f.conn.Seed("account", "jdoe", model.AttributeMap{})

	account := model.NewAccount("jdoe", "crm", "identity", "e1", se.ID, "m1")
	account.Protect(time.Now().Add(time.Hour))
	require.NoError(t, f.repo.SaveAccount(ctx, account))

	op := operation(model.OperationDelete, se.ID, account.ID, nil)
	assert.Error(t, f.exec.Execute(ctx, op))
	assert.Equal(t, 0, f.conn.deletes)

	// With protection cancellation the delete proceeds.
	op = operation(model.OperationDelete, se.ID, account.ID, nil)
	op.Context.CancelProtection = true
	require.NoError(t, f.exec.Execute(ctx, op))
	assert.Equal(t, 1, f.conn.deletes)
}

func TestExecuteDelete_MissingObjectIsSuccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	se := f.seedSystemEntity(t, "jdoe")

	account := model.NewAccount("jdoe", "crm", "identity", "e1", se.ID, "m1")
	require.NoError(t, f.repo.SaveAccount(ctx, account))

	op := operation(model.OperationDelete, se.ID, account.ID, nil)
	require.NoError(t, f.exec.Execute(ctx, op))

	_, err := f.repo.FindAccountByID(ctx, account.ID)
	assert.ErrorIs(t, err, repository.ErrAccountNotFound)
}

func TestExecute_VirtualTargetDelegates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	se := f.seedSystemEntity(t, "jdoe")

	op := operation(model.OperationUpdate, se.ID, "", model.AttributeMap{"mail": "jdoe@example.com"})
	op.Context.Virtual = true
	require.NoError(t, f.exec.Execute(ctx, op))

	assert.Equal(t, model.StateDelegated, op.Result.State)
	require.NotNil(t, f.delegator.request)
	assert.Equal(t, "jdoe", f.delegator.request.UID)
	assert.Equal(t, 0, f.conn.creates+f.conn.updates+f.conn.deletes)
}

func TestRegistry_FallsBackToDefault(t *testing.T) {
	f := newFixture(t)
	registry := NewRegistry(f.exec)

	assert.Same(t, Executor(f.exec), registry.Resolve("identity"))

	special := &stubExecutor{}
	registry.Register("role", special)
	assert.Same(t, Executor(special), registry.Resolve("role"))
	assert.Same(t, Executor(f.exec), registry.Resolve("identity"))
}

type stubExecutor struct{}

func (stubExecutor) Execute(ctx context.Context, op *model.ProvisioningOperation) error { return nil }
