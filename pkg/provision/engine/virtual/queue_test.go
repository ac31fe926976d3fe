package virtual

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"accord/pkg/provision/core/config"
	"accord/pkg/provision/core/domain/model"
	"accord/pkg/provision/core/domain/repository"
	"accord/pkg/provision/engine/compare"
	"accord/pkg/provision/infrastructure/repository/inmemory"
	"accord/pkg/provision/support/util/exception"
)

func newQueue(repo repository.Repository, cfg *config.VirtualConfig) *Queue {
	if cfg == nil {
		cfg = &config.VirtualConfig{}
	}
	return NewQueue(repo, compare.NewComparator(), cfg)
}

func delegated(t *testing.T, q *Queue, opType model.OperationType, uid string, attrs model.AttributeMap) *model.VsRequest {
	t.Helper()
	op := model.NewProvisioningOperation(
		opType, "vs1", "identity", "e1", "se1", "",
		model.ProvisioningContext{Attributes: attrs, UID: uid, ObjectClass: "account", ConnectorKey: "virtual", Virtual: true}, 3,
	)
	request, err := q.Delegate(context.Background(), op)
	require.NoError(t, err)
	return request
}

func elementKinds(diff model.ValueDiff) map[string]model.DiffKind {
	kinds := make(map[string]model.DiffKind, len(diff.Elements))
	for _, e := range diff.Elements {
		kinds[e.Value.(string)] = e.Kind
	}
	return kinds
}

func TestWish_DiffAgainstConfirmedState(t *testing.T) {
	repo := inmemory.NewInMemoryRepository()
	q := newQueue(repo, nil)
	ctx := context.Background()

	require.NoError(t, repo.UpsertVsAccount(ctx, &model.VsAccount{
		UID:        "jdoe",
		SystemID:   "vs1",
		Attributes: model.AttributeMap{"groups": []interface{}{"A", "B", "C"}},
	}))

	request := delegated(t, q, model.OperationUpdate, "jdoe", model.AttributeMap{"groups": []interface{}{"A", "C", "D"}})

	wish, err := q.Wish(ctx, request.ID)
	require.NoError(t, err)

	kinds := elementKinds(wish.Attributes["groups"])
	assert.Equal(t, model.DiffUnchanged, kinds["A"])
	assert.Equal(t, model.DiffRemoved, kinds["B"])
	assert.Equal(t, model.DiffUnchanged, kinds["C"])
	assert.Equal(t, model.DiffAdded, kinds["D"])
}

func TestWish_FrozenDescriptorsDriveComparison(t *testing.T) {
	repo := inmemory.NewInMemoryRepository()
	q := newQueue(repo, nil)
	ctx := context.Background()

	require.NoError(t, repo.UpsertVsAccount(ctx, &model.VsAccount{
		UID:        "jdoe",
		SystemID:   "vs1",
		Attributes: model.AttributeMap{"mail": "JDOE@EXAMPLE.COM"},
	}))

	op := model.NewProvisioningOperation(
		model.OperationUpdate, "vs1", "identity", "e1", "se1", "",
		model.ProvisioningContext{
			Attributes:   model.AttributeMap{"mail": "jdoe@example.com"},
			Descriptors:  model.DescriptorMap{"mail": {SchemaName: "mail", CaseInsensitive: true}},
			UID:          "jdoe",
			ObjectClass:  "account",
			ConnectorKey: "virtual",
			Virtual:      true,
		}, 3,
	)
	request, err := q.Delegate(ctx, op)
	require.NoError(t, err)

	// The descriptors travel with the request, so a case-only difference is
	// not a change the implementer has to act on.
	wish, err := q.Wish(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DiffUnchanged, wish.Attributes["mail"].Kind)
}

func TestWish_ComposesWithQueuedRequests(t *testing.T) {
	repo := inmemory.NewInMemoryRepository()
	q := newQueue(repo, nil)
	ctx := context.Background()

	require.NoError(t, repo.UpsertVsAccount(ctx, &model.VsAccount{
		UID:        "jdoe",
		SystemID:   "vs1",
		Attributes: model.AttributeMap{"title": "dev"},
	}))

	first := delegated(t, q, model.OperationUpdate, "jdoe", model.AttributeMap{"title": "lead"})
	second := delegated(t, q, model.OperationUpdate, "jdoe", model.AttributeMap{"title": "lead"})
	second.CreateTime = first.CreateTime.Add(time.Millisecond)
	require.NoError(t, repo.UpdateVsRequest(ctx, second))

	// The second request asks for nothing new: the first queued request
	// already carries the change.
	wish, err := q.Wish(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DiffUnchanged, wish.Attributes["title"].Kind)

	// The first request still sees the real change.
	wish, err = q.Wish(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DiffChanged, wish.Attributes["title"].Kind)
	assert.Equal(t, "dev", wish.Attributes["title"].Before)
	assert.Equal(t, "lead", wish.Attributes["title"].After)
}

func TestWish_DeleteRequestRemovesEverything(t *testing.T) {
	repo := inmemory.NewInMemoryRepository()
	q := newQueue(repo, nil)
	ctx := context.Background()

	require.NoError(t, repo.UpsertVsAccount(ctx, &model.VsAccount{
		UID:        "jdoe",
		SystemID:   "vs1",
		Attributes: model.AttributeMap{"mail": "a@b", "title": "dev"},
	}))

	request := delegated(t, q, model.OperationDelete, "jdoe", nil)
	wish, err := q.Wish(ctx, request.ID)
	require.NoError(t, err)

	assert.Equal(t, model.DiffRemoved, wish.Attributes["mail"].Kind)
	assert.Equal(t, model.DiffRemoved, wish.Attributes["title"].Kind)
}

func TestRealize_AdvancesVirtualAccount(t *testing.T) {
	repo := inmemory.NewInMemoryRepository()
	q := newQueue(repo, nil)
	ctx := context.Background()

	request := delegated(t, q, model.OperationCreate, "jdoe", model.AttributeMap{"mail": "a@b"})
	require.NoError(t, q.Realize(ctx, request.ID, Implementer{ID: "ops"}, "", "created manually"))

	account, err := repo.FindVsAccount(ctx, "vs1", "jdoe")
	require.NoError(t, err)
	assert.Equal(t, "a@b", account.Attributes["mail"])

	stored, err := repo.FindVsRequestByID(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, model.VsRequestRealized, stored.State)
	assert.Equal(t, "created manually", stored.Note)
	assert.NotNil(t, stored.ResolvedAt)

	// Realizing twice is rejected: terminal requests are immutable.
	assert.Error(t, q.Realize(ctx, request.ID, Implementer{ID: "ops"}, "", ""))
}

func TestRealize_UIDChangeRelinksSystemEntityInPlace(t *testing.T) {
	repo := inmemory.NewInMemoryRepository()
	q := newQueue(repo, nil)
	ctx := context.Background()

	se := model.NewSystemEntity("jdoe", "identity", "vs1")
	require.NoError(t, repo.SaveSystemEntity(ctx, se))
	account := model.NewAccount("jdoe", "vs1", "identity", "e1", se.ID, "m1")
	require.NoError(t, repo.SaveAccount(ctx, account))

	request := delegated(t, q, model.OperationCreate, "jdoe", model.AttributeMap{"mail": "a@b"})
	require.NoError(t, q.Realize(ctx, request.ID, Implementer{ID: "ops"}, "jdoe2", ""))

	// Same row, new uid; no second system entity appears.
	stored, err := repo.FindSystemEntityByID(ctx, se.ID)
	require.NoError(t, err)
	assert.Equal(t, "jdoe2", stored.UID)
	_, err = repo.FindSystemEntityByUID(ctx, "vs1", "identity", "jdoe")
	assert.ErrorIs(t, err, repository.ErrSystemEntityNotFound)

	relinked, err := repo.FindAccountByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, "jdoe2", relinked.UID)

	vsAccount, err := repo.FindVsAccount(ctx, "vs1", "jdoe2")
	require.NoError(t, err)
	assert.Equal(t, "a@b", vsAccount.Attributes["mail"])
}

func TestCancel_RequiresReason(t *testing.T) {
	repo := inmemory.NewInMemoryRepository()
	q := newQueue(repo, nil)
	ctx := context.Background()

	request := delegated(t, q, model.OperationCreate, "jdoe", nil)

	assert.Error(t, q.Cancel(ctx, request.ID, Implementer{ID: "ops"}, ""))

	require.NoError(t, q.Cancel(ctx, request.ID, Implementer{ID: "ops"}, "won't do"))
	stored, err := repo.FindVsRequestByID(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, model.VsRequestCanceled, stored.State)
	assert.Equal(t, "won't do", stored.Reason)
}

func TestImplementerAuthorization(t *testing.T) {
	repo := inmemory.NewInMemoryRepository()
	cfg := &config.VirtualConfig{Implementers: []string{"alice"}, ImplementerRoles: []string{"vs-admins"}}
	q := newQueue(repo, cfg)
	ctx := context.Background()

	request := delegated(t, q, model.OperationCreate, "jdoe", nil)

	err := q.Realize(ctx, request.ID, Implementer{ID: "mallory"}, "", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, exception.ErrAuthorization)

	// Identity match and role match both authorize.
	require.NoError(t, q.Realize(ctx, request.ID, Implementer{ID: "alice"}, "", ""))

	second := delegated(t, q, model.OperationUpdate, "jdoe", model.AttributeMap{"mail": "a@b"})
	require.NoError(t, q.Cancel(ctx, second.ID, Implementer{ID: "bob", Roles: []string{"vs-admins"}}, "duplicate"))
}
