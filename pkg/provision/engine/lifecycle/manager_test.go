package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "accord/pkg/provision/core/domain/model"
	"accord/pkg/provision/infrastructure/repository/inmemory"
	"accord/pkg/provision/script"
)

func eligibilityByFlag() *script.FuncHost {
	host := script.NewFuncHost()
	host.RegisterBool("canBeAccountCreated", func(ctx context.Context, entity *model.Entity, scriptCtx model.AttributeMap) (bool, error) {
		v, _ := entity.Property("eligible")
		flag, _ := v.(bool)
		return flag, nil
	})
	return host
}

func protectedMapping() *model.SystemMapping {
	return &model.SystemMapping{
		ID:                 "m1",
		SystemID:           "crm",
		EntityType:         "identity",
		EligibilityScript:  "canBeAccountCreated",
		ProtectionEnabled:  true,
		ProtectionInterval: 24 * time.Hour,
	}
}

func TestDecide_EligibleWithoutAccountCreates(t *testing.T) {
	repo := inmemory.NewInMemoryRepository()
	mgr := NewManager(repo, eligibilityByFlag(), AutoApprover{})

	entity := &model.Entity{ID: "e1", Type: "identity", Properties: model.AttributeMap{"eligible": true}}
	decision, err := mgr.Decide(context.Background(), entity, protectedMapping())
	require.NoError(t, err)
	assert.Equal(t, DecisionCreate, decision.Kind)
}

func TestDecide_EligibleWithAccountUpdates(t *testing.T) {
	repo := inmemory.NewInMemoryRepository()
	ctx := context.Background()
	account := model.NewAccount("jdoe", "crm", "identity", "e1", "se1", "m1")
	require.NoError(t, repo.SaveAccount(ctx, account))

	mgr := NewManager(repo, eligibilityByFlag(), AutoApprover{})
	entity := &model.Entity{ID: "e1", Type: "identity", Properties: model.AttributeMap{"eligible": true}}

	decision, err := mgr.Decide(ctx, entity, protectedMapping())
	require.NoError(t, err)
	assert.Equal(t, DecisionUpdate, decision.Kind)
	assert.Equal(t, account.ID, decision.Account.ID)
}

func TestDecide_DisqualifiedEntersProtection(t *testing.T) {
	repo := inmemory.NewInMemoryRepository()
	ctx := context.Background()
	account := model.NewAccount("jdoe", "crm", "identity", "e1", "se1", "m1")
	require.NoError(t, repo.SaveAccount(ctx, account))

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mgr := NewManager(repo, eligibilityByFlag(), AutoApprover{}).WithClock(func() time.Time { return base })
	entity := &model.Entity{ID: "e1", Type: "identity", Properties: model.AttributeMap{"eligible": false}}
	mapping := protectedMapping()

	decision, err := mgr.Decide(ctx, entity, mapping)
	require.NoError(t, err)
	assert.Equal(t, DecisionNone, decision.Kind)

	stored, err := repo.FindAccountByID(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, stored.InProtection)
	require.NotNil(t, stored.EndOfProtection)
	assert.Equal(t, base.Add(24*time.Hour), stored.EndOfProtection.UTC())

	// Inside the window the delete stays suppressed.
	decision, err = mgr.Decide(ctx, entity, mapping)
	require.NoError(t, err)
	assert.Equal(t, DecisionNone, decision.Kind)

	// After the window elapses the delete goes through.
	mgr.WithClock(func() time.Time { return base.Add(25 * time.Hour) })
	decision, err = mgr.Decide(ctx, entity, mapping)
	require.NoError(t, err)
	assert.Equal(t, DecisionDelete, decision.Kind)
	assert.True(t, decision.CancelProtection)
}

func TestDecide_RequalificationClearsProtection(t *testing.T) {
	repo := inmemory.NewInMemoryRepository()
	ctx := context.Background()
	account := model.NewAccount("jdoe", "crm", "identity", "e1", "se1", "m1")
	account.Protect(time.Now().Add(time.Hour))
	require.NoError(t, repo.SaveAccount(ctx, account))

	mgr := NewManager(repo, eligibilityByFlag(), AutoApprover{})
	entity := &model.Entity{ID: "e1", Type: "identity", Properties: model.AttributeMap{"eligible": true}}

	decision, err := mgr.Decide(ctx, entity, protectedMapping())
	require.NoError(t, err)
	// The protected account revives in place; no second create.
	assert.Equal(t, DecisionUpdate, decision.Kind)

	stored, err := repo.FindAccountByID(ctx, account.ID)
	require.NoError(t, err)
	assert.False(t, stored.InProtection)
	assert.Nil(t, stored.EndOfProtection)
}

func TestDecide_DisqualifiedWithoutProtectionDeletes(t *testing.T) {
	repo := inmemory.NewInMemoryRepository()
	ctx := context.Background()
	account := model.NewAccount("jdoe", "crm", "identity", "e1", "se1", "m1")
	require.NoError(t, repo.SaveAccount(ctx, account))

	mapping := protectedMapping()
	mapping.ProtectionEnabled = false
	mgr := NewManager(repo, eligibilityByFlag(), AutoApprover{})
	entity := &model.Entity{ID: "e1", Type: "identity", Properties: model.AttributeMap{"eligible": false}}

	decision, err := mgr.Decide(ctx, entity, mapping)
	require.NoError(t, err)
	assert.Equal(t, DecisionDelete, decision.Kind)
	assert.False(t, decision.CancelProtection)
}

func TestDecide_DisabledEntityIsNeverEligible(t *testing.T) {
	repo := inmemory.NewInMemoryRepository()
	mgr := NewManager(repo, eligibilityByFlag(), AutoApprover{})
	entity := &model.Entity{ID: "e1", Type: "identity", Disabled: true, Properties: model.AttributeMap{"eligible": true}}

	decision, err := mgr.Decide(context.Background(), entity, protectedMapping())
	require.NoError(t, err)
	assert.Equal(t, DecisionNone, decision.Kind)
}

type denyAll struct{}

func (denyAll) IsApproved(ctx context.Context, change Change) (bool, error) { return false, nil }

func TestDecide_UnapprovedCreateIsHeld(t *testing.T) {
	repo := inmemory.NewInMemoryRepository()
	mgr := NewManager(repo, eligibilityByFlag(), denyAll{})
	entity := &model.Entity{ID: "e1", Type: "identity", Properties: model.AttributeMap{"eligible": true}}

	decision, err := mgr.Decide(context.Background(), entity, protectedMapping())
	require.NoError(t, err)
	assert.Equal(t, DecisionNone, decision.Kind)
}

func TestForceUnprotect(t *testing.T) {
	repo := inmemory.NewInMemoryRepository()
	ctx := context.Background()
	account := model.NewAccount("jdoe", "crm", "identity", "e1", "se1", "m1")
	account.Protect(time.Now().Add(time.Hour))
	require.NoError(t, repo.SaveAccount(ctx, account))

	mgr := NewManager(repo, eligibilityByFlag(), AutoApprover{})
	require.NoError(t, mgr.ForceUnprotect(ctx, account.ID))

	stored, err := repo.FindAccountByID(ctx, account.ID)
	require.NoError(t, err)
	assert.False(t, stored.InProtection)
}
