// Package lifecycle decides what should happen to an entity's account on a
// target system: nothing, create, update, or delete, with the delete-protection
// window applied in between.
package lifecycle

import (
	"context"
	"errors"
	"time"

	model "accord/pkg/provision/core/domain/model"
	"accord/pkg/provision/core/domain/repository"
	"accord/pkg/provision/script"
	"accord/pkg/provision/support/util/exception"
	"accord/pkg/provision/support/util/logger"
)

const moduleName = "lifecycle"

// DecisionKind is the action the lifecycle manager settled on.
type DecisionKind string

const (
	DecisionNone   DecisionKind = "NONE"
	DecisionCreate DecisionKind = "CREATE"
	DecisionUpdate DecisionKind = "UPDATE"
	DecisionDelete DecisionKind = "DELETE"
)

// Decision is the outcome of one lifecycle evaluation.
type Decision struct {
	Kind DecisionKind
	// Account is the account the decision applies to; nil for CREATE.
	Account *model.Account
	// CancelProtection instructs the executor to drop the protection window
	// together with the delete.
	CancelProtection bool
	// Reason is a human-readable explanation, logged and archived.
	Reason string
}

// Change describes a pending lifecycle change submitted for approval.
type Change struct {
	Kind     DecisionKind
	EntityID string
	SystemID string
	// AccountUID is empty for CREATE decisions.
	AccountUID string
}

// Approver decides whether a lifecycle change may proceed. The default
// implementation approves everything; deployments plug in their own.
type Approver interface {
	IsApproved(ctx context.Context, change Change) (bool, error)
}

// AutoApprover approves every change.
type AutoApprover struct{}

// IsApproved implements Approver.
func (AutoApprover) IsApproved(ctx context.Context, change Change) (bool, error) {
	return true, nil
}

// Manager evaluates entity eligibility and the protection state machine.
type Manager struct {
	repo     repository.Repository
	host     script.Host
	approver Approver
	now      func() time.Time
}

// NewManager creates a lifecycle Manager using wall-clock time.
func NewManager(repo repository.Repository, host script.Host, approver Approver) *Manager {
	return &Manager{repo: repo, host: host, approver: approver, now: time.Now}
}

// WithClock overrides the manager's time source.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Decide evaluates the entity against the mapping and returns the action to
// take for its account on the mapping's system.
//
// Qualification rules:
//   - Eligible, no account: CREATE (a protected account re-qualifying instead
//     clears protection and returns NONE or UPDATE, never a second create).
//   - Eligible, account exists: UPDATE.
//   - Ineligible, protection enabled: account enters the protection window;
//     DELETE is suppressed until the window elapses.
//   - Ineligible, protection disabled or window elapsed: DELETE.
//
// A disabled entity is never eligible regardless of the script.
func (m *Manager) Decide(ctx context.Context, entity *model.Entity, mapping *model.SystemMapping) (*Decision, error) {
	account, err := m.repo.FindAccountByEntity(ctx, mapping.SystemID, entity.ID)
	if err != nil && !errors.Is(err, repository.ErrAccountNotFound) {
		return nil, err
	}

	eligible, err := m.eligible(ctx, entity, mapping)
	if err != nil {
		return nil, err
	}

	if eligible {
		return m.decideEligible(ctx, entity, mapping, account)
	}
	return m.decideIneligible(ctx, entity, mapping, account)
}

func (m *Manager) decideEligible(ctx context.Context, entity *model.Entity, mapping *model.SystemMapping, account *model.Account) (*Decision, error) {
	if account == nil {
		approved, err := m.approved(ctx, Change{Kind: DecisionCreate, EntityID: entity.ID, SystemID: mapping.SystemID})
		if err != nil {
			return nil, err
		}
		if !approved {
			return &Decision{Kind: DecisionNone, Reason: "account creation not approved"}, nil
		}
		return &Decision{Kind: DecisionCreate, Reason: "entity qualifies and holds no account"}, nil
	}

	// Re-qualification inside the protection window revives the account in
	// place; no new create happens.
	if account.InProtection {
		account.Unprotect()
		if err := m.repo.UpdateAccount(ctx, account); err != nil {
			return nil, err
		}
		logger.Infof("Account %s on system %s re-qualified, protection cleared", account.UID, account.SystemID)
	}
	return &Decision{Kind: DecisionUpdate, Account: account, Reason: "entity qualifies, account refreshed"}, nil
}

func (m *Manager) decideIneligible(ctx context.Context, entity *model.Entity, mapping *model.SystemMapping, account *model.Account) (*Decision, error) {
	if account == nil {
		return &Decision{Kind: DecisionNone, Reason: "entity does not qualify and holds no account"}, nil
	}

	now := m.now()

	if mapping.ProtectionEnabled {
		if !account.InProtection {
			account.Protect(now.Add(mapping.ProtectionInterval))
			if err := m.repo.UpdateAccount(ctx, account); err != nil {
				return nil, err
			}
			logger.Infof("Account %s on system %s entered protection until %s", account.UID, account.SystemID, account.EndOfProtection.Format(time.RFC3339))
			return &Decision{Kind: DecisionNone, Account: account, Reason: "account entered delete protection"}, nil
		}
		if !account.ProtectionExpired(now) {
			return &Decision{Kind: DecisionNone, Account: account, Reason: "account still inside delete protection"}, nil
		}
	}

	approved, err := m.approved(ctx, Change{Kind: DecisionDelete, EntityID: entity.ID, SystemID: mapping.SystemID, AccountUID: account.UID})
	if err != nil {
		return nil, err
	}
	if !approved {
		return &Decision{Kind: DecisionNone, Account: account, Reason: "account deletion not approved"}, nil
	}
	return &Decision{
		Kind:             DecisionDelete,
		Account:          account,
		CancelProtection: account.InProtection,
		Reason:           "entity no longer qualifies",
	}, nil
}

// ForceUnprotect clears an account's protection window ahead of time, making
// it eligible for deletion on the next evaluation.
func (m *Manager) ForceUnprotect(ctx context.Context, accountID string) error {
	account, err := m.repo.FindAccountByID(ctx, accountID)
	if err != nil {
		return err
	}
	if !account.InProtection {
		return nil
	}
	account.Unprotect()
	if err := m.repo.UpdateAccount(ctx, account); err != nil {
		return err
	}
	logger.Infof("Account %s on system %s force-unprotected", account.UID, account.SystemID)
	return nil
}

// eligible runs the mapping's eligibility script. A mapping without one
// treats every enabled entity as eligible.
func (m *Manager) eligible(ctx context.Context, entity *model.Entity, mapping *model.SystemMapping) (bool, error) {
	if entity.Disabled {
		return false, nil
	}
	if mapping.EligibilityScript == "" {
		return true, nil
	}
	ok, err := m.host.EvalBool(ctx, mapping.EligibilityScript, entity, nil)
	if err != nil {
		return false, exception.NewScriptError(moduleName, "eligibility evaluation failed for entity "+entity.ID, err)
	}
	return ok, nil
}

func (m *Manager) approved(ctx context.Context, change Change) (bool, error) {
	if m.approver == nil {
		return true, nil
	}
	return m.approver.IsApproved(ctx, change)
}
