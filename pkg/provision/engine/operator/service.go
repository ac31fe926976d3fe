// Package operator is the engine's front door: it turns lifecycle decisions
// into queued operations and exposes the administrative controls an operator
// uses on stuck work (cancel, recover, unprotect, virtual-request resolution).
package operator

import (
	"context"

	"accord/pkg/provision/core/config"
	"accord/pkg/provision/core/domain/model"
	"accord/pkg/provision/core/domain/repository"
	"accord/pkg/provision/engine/attribute"
	"accord/pkg/provision/engine/batch"
	"accord/pkg/provision/engine/lifecycle"
	"accord/pkg/provision/engine/virtual"
	"accord/pkg/provision/support/util/exception"
	"accord/pkg/provision/support/util/logger"
)

const moduleName = "operator"

// Service composes the lifecycle manager, attribute resolver, batch manager
// and virtual queue into one provisioning entry point.
type Service struct {
	repo      repository.Repository
	entities  repository.EntityStore
	mappings  []model.SystemMapping
	lifecycle *lifecycle.Manager
	resolver  *attribute.Resolver
	batches   *batch.Manager
	queue     *virtual.Queue
	provCfg   *config.ProvisioningConfig
}

// NewService creates the operator service.
func NewService(
	repo repository.Repository,
	entities repository.EntityStore,
	mappings []model.SystemMapping,
	lifecycleMgr *lifecycle.Manager,
	resolver *attribute.Resolver,
	batches *batch.Manager,
	queue *virtual.Queue,
	provCfg *config.ProvisioningConfig,
) *Service {
	return &Service{
		repo:      repo,
		entities:  entities,
		mappings:  mappings,
		lifecycle: lifecycleMgr,
		resolver:  resolver,
		batches:   batches,
		queue:     queue,
		provCfg:   provCfg,
	}
}

// ProvisionResult reports what one Provision call decided and queued.
type ProvisionResult struct {
	// Decision is the lifecycle outcome the call acted on.
	Decision *lifecycle.Decision
	// Enqueued reports whether an operation was queued.
	Enqueued bool
	// Handle identifies the queued operation, zero when nothing was queued.
	Handle batch.Handle
}

// Provision evaluates one entity against one mapping and queues the resulting
// change, if any. Attribute resolution happens here, once, and the resolved
// payload is frozen into the operation.
func (s *Service) Provision(
	ctx context.Context,
	entityID, mappingID string,
	overloads []model.RoleOverload,
	contexts map[string]model.AttributeMap,
) (*ProvisionResult, error) {
	entity, err := s.entities.FindEntityByID(ctx, entityID)
	if err != nil {
		return nil, err
	}
	mapping := s.mappingByID(mappingID)
	if mapping == nil {
		return nil, exception.NewConfigurationError(moduleName, "unknown mapping "+mappingID)
	}

	decision, err := s.lifecycle.Decide(ctx, entity, mapping)
	if err != nil {
		return nil, err
	}
	result := &ProvisionResult{Decision: decision}

	switch decision.Kind {
	case lifecycle.DecisionNone:
		logger.Debugf("Entity %s on mapping %s: no action (%s)", entityID, mappingID, decision.Reason)
		return result, nil

	case lifecycle.DecisionCreate:
		return s.enqueueCreate(ctx, entity, mapping, overloads, contexts, result)

	case lifecycle.DecisionUpdate:
		return s.enqueueUpdate(ctx, entity, mapping, overloads, contexts, result)

	case lifecycle.DecisionDelete:
		return s.enqueueDelete(ctx, mapping, result)
	}
	return nil, exception.NewConfigurationError(moduleName, "unknown lifecycle decision "+string(decision.Kind))
}

func (s *Service) enqueueCreate(
	ctx context.Context,
	entity *model.Entity,
	mapping *model.SystemMapping,
	overloads []model.RoleOverload,
	contexts map[string]model.AttributeMap,
	result *ProvisionResult,
) (*ProvisionResult, error) {
	resolution, err := s.resolver.Resolve(ctx, mapping, entity, overloads, contexts)
	if err != nil {
		return nil, err
	}

	se, err := s.wishedSystemEntity(ctx, mapping, resolution.UID)
	if err != nil {
		return nil, err
	}

	op := model.NewProvisioningOperation(
		model.OperationCreate, mapping.SystemID, mapping.EntityType, entity.ID, se.ID, "",
		s.provisioningContext(mapping, resolution.UID, resolution.Payload(), resolution.Descriptors()),
		s.provCfg.MaxAttempts,
	)
	handle, err := s.batches.Enqueue(ctx, op)
	if err != nil {
		return nil, err
	}
	result.Enqueued = true
	result.Handle = handle
	return result, nil
}

func (s *Service) enqueueUpdate(
	ctx context.Context,
	entity *model.Entity,
	mapping *model.SystemMapping,
	overloads []model.RoleOverload,
	contexts map[string]model.AttributeMap,
	result *ProvisionResult,
) (*ProvisionResult, error) {
	account := result.Decision.Account
	resolution, err := s.resolver.Resolve(ctx, mapping, entity, overloads, contexts)
	if err != nil {
		return nil, err
	}

	op := model.NewProvisioningOperation(
		model.OperationUpdate, mapping.SystemID, mapping.EntityType, entity.ID, account.SystemEntityID, account.ID,
		s.provisioningContext(mapping, account.UID, resolution.Payload(), resolution.Descriptors()),
		s.provCfg.MaxAttempts,
	)
	handle, err := s.batches.Enqueue(ctx, op)
	if err != nil {
		return nil, err
	}
	result.Enqueued = true
	result.Handle = handle
	return result, nil
}

func (s *Service) enqueueDelete(ctx context.Context, mapping *model.SystemMapping, result *ProvisionResult) (*ProvisionResult, error) {
	account := result.Decision.Account

	provCtx := s.provisioningContext(mapping, account.UID, nil, mapping.DescriptorIndex())
	provCtx.CancelProtection = result.Decision.CancelProtection

	op := model.NewProvisioningOperation(
		model.OperationDelete, mapping.SystemID, mapping.EntityType, account.EntityID, account.SystemEntityID, account.ID,
		provCtx,
		s.provCfg.MaxAttempts,
	)
	handle, err := s.batches.Enqueue(ctx, op)
	if err != nil {
		return nil, err
	}
	result.Enqueued = true
	result.Handle = handle
	return result, nil
}

// wishedSystemEntity finds or creates the target-side placeholder row a CREATE
// confirms later.
func (s *Service) wishedSystemEntity(ctx context.Context, mapping *model.SystemMapping, uid string) (*model.SystemEntity, error) {
	se, err := s.repo.FindSystemEntityByUID(ctx, mapping.SystemID, mapping.EntityType, uid)
	if err == nil {
		return se, nil
	}
	se = model.NewSystemEntity(uid, mapping.EntityType, mapping.SystemID)
	if err := s.repo.SaveSystemEntity(ctx, se); err != nil {
		return nil, err
	}
	return se, nil
}

func (s *Service) provisioningContext(mapping *model.SystemMapping, uid string, attrs model.AttributeMap, descs model.DescriptorMap) model.ProvisioningContext {
	return model.ProvisioningContext{
		Attributes:   attrs,
		Descriptors:  descs,
		UID:          uid,
		ObjectClass:  mapping.ObjectClass,
		ConnectorKey: mapping.ConnectorKey,
		Virtual:      mapping.Virtual,
	}
}

func (s *Service) mappingByID(id string) *model.SystemMapping {
	for i := range s.mappings {
		if s.mappings[i].ID == id {
			return &s.mappings[i]
		}
	}
	return nil
}

// CancelOperation discards one queued operation. An executing operation
// finishes on its own and keeps its result.
func (s *Service) CancelOperation(ctx context.Context, operationID string) error {
	return s.batches.CancelOperation(ctx, operationID)
}

// CancelAccount discards an account's queued operations. The currently
// executing one, if any, finishes on its own.
func (s *Service) CancelAccount(ctx context.Context, accountID string) error {
	return s.batches.Cancel(ctx, accountID)
}

// Recover grants an exception-archived operation one more execution cycle
// from its original frozen context.
func (s *Service) Recover(ctx context.Context, operationID string) error {
	return s.batches.Recover(ctx, operationID)
}

// ProcessCreated nudges the workers to drain queued operations.
func (s *Service) ProcessCreated(ctx context.Context) {
	s.batches.ProcessCreated(ctx)
}

// ForceUnprotect lifts an account's delete-protection window early.
func (s *Service) ForceUnprotect(ctx context.Context, accountID string) error {
	return s.lifecycle.ForceUnprotect(ctx, accountID)
}

// RealizeRequest marks a virtual-system request as carried out.
func (s *Service) RealizeRequest(ctx context.Context, requestID string, implementer virtual.Implementer, uid, note string) error {
	return s.queue.Realize(ctx, requestID, implementer, uid, note)
}

// CancelRequest rejects a virtual-system request with a mandatory reason.
func (s *Service) CancelRequest(ctx context.Context, requestID string, implementer virtual.Implementer, reason string) error {
	return s.queue.Cancel(ctx, requestID, implementer, reason)
}

// WishFor computes the effective desired state of one virtual-system request.
func (s *Service) WishFor(ctx context.Context, requestID string) (*model.Wish, error) {
	return s.queue.Wish(ctx, requestID)
}
