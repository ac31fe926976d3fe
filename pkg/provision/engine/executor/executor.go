// Package executor carries out one provisioning operation against its target
// system: resolve the connector, converge the remote object to the frozen
// context, and maintain the account and system-entity rows that mirror the
// result.
package executor

import (
	"context"
	"errors"
	"fmt"

	"accord/pkg/provision/connector"
	"accord/pkg/provision/core/config"
	"accord/pkg/provision/core/domain/model"
	"accord/pkg/provision/core/domain/repository"
	"accord/pkg/provision/core/metrics"
	"accord/pkg/provision/engine/compare"
	"accord/pkg/provision/support/util/exception"
	"accord/pkg/provision/support/util/logger"
)

const moduleName = "executor"

// uidAttributeKey carries the resolved uid inside the frozen attribute
// payload.
const uidAttributeKey = "__uid"

// Executor performs one claimed operation. Implementations mutate op.Result
// only for states the batch manager cannot infer from the error (DELEGATED).
type Executor interface {
	Execute(ctx context.Context, op *model.ProvisioningOperation) error
}

// Delegator queues a change on a virtual system instead of executing it.
// Implemented by the virtual request queue.
type Delegator interface {
	Delegate(ctx context.Context, op *model.ProvisioningOperation) (*model.VsRequest, error)
}

// DefaultExecutor is the connector-backed executor used for every entity type
// without a specialized one.
type DefaultExecutor struct {
	repo       repository.Repository
	connectors *connector.Registry
	comparator *compare.Comparator
	delegator  Delegator
	tracer     metrics.Tracer
	cfg        *config.ProvisioningConfig
}

// NewDefaultExecutor creates the connector-backed executor.
func NewDefaultExecutor(
	repo repository.Repository,
	connectors *connector.Registry,
	comparator *compare.Comparator,
	delegator Delegator,
	tracer metrics.Tracer,
	cfg *config.ProvisioningConfig,
) *DefaultExecutor {
	return &DefaultExecutor{
		repo:       repo,
		connectors: connectors,
		comparator: comparator,
		delegator:  delegator,
		tracer:     tracer,
		cfg:        cfg,
	}
}

// Execute implements Executor.
func (e *DefaultExecutor) Execute(ctx context.Context, op *model.ProvisioningOperation) (err error) {
	ctx, end := e.tracer.StartOperationSpan(ctx, op)
	defer func() { end(err) }()

	if op.Context.Virtual {
		request, derr := e.delegator.Delegate(ctx, op)
		if derr != nil {
			return derr
		}
		op.Result = model.OperationResult{State: model.StateDelegated, ErrorInfo: "delegated as request " + request.ID}
		logger.Infof("Operation %s delegated to virtual system %s as request %s", op.ID, op.SystemID, request.ID)
		return nil
	}

	conn, err := e.connectors.Resolve(op.Context.ConnectorKey)
	if err != nil {
		return exception.NewConfigurationError(moduleName, "no connector registered under key "+op.Context.ConnectorKey)
	}

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.ConnectorTimeout())
	defer cancel()

	switch op.Type {
	case model.OperationCreate:
		return e.executeCreate(callCtx, conn, op)
	case model.OperationUpdate:
		return e.executeUpdate(callCtx, conn, op)
	case model.OperationDelete:
		return e.executeDelete(callCtx, conn, op)
	default:
		return exception.NewConfigurationError(moduleName, fmt.Sprintf("unknown operation type %q", op.Type))
	}
}

func (e *DefaultExecutor) executeCreate(ctx context.Context, conn connector.Connector, op *model.ProvisioningOperation) error {
	uid, err := conn.Create(ctx, op.Context.ObjectClass, createPayload(op))
	if err != nil {
		if errors.Is(err, exception.ErrDuplicateKey) {
			return e.relink(ctx, conn, op)
		}
		return err
	}
	return e.confirm(ctx, op, uid)
}

func (e *DefaultExecutor) executeUpdate(ctx context.Context, conn connector.Connector, op *model.ProvisioningOperation) error {
	current, err := conn.Read(ctx, op.Context.UID, op.Context.ObjectClass)
	if err != nil {
		if errors.Is(err, connector.ErrObjectNotFound) {
			// The remote object vanished; converge by re-creating it.
			logger.Warnf("Object %s missing on system %s during update, re-creating", op.Context.UID, op.SystemID)
			return e.executeCreate(ctx, conn, op)
		}
		return err
	}

	changes := e.changedAttributes(op, payload(op), current.Attributes)
	if len(changes) == 0 {
		logger.Debugf("Operation %s is a no-op, object %s already converged", op.ID, op.Context.UID)
		return nil
	}

	uid, err := conn.Update(ctx, op.Context.UID, op.Context.ObjectClass, changes)
	if err != nil {
		return err
	}
	return e.confirm(ctx, op, uid)
}

func (e *DefaultExecutor) executeDelete(ctx context.Context, conn connector.Connector, op *model.ProvisioningOperation) error {
	if op.AccountID != "" {
		account, err := e.repo.FindAccountByID(ctx, op.AccountID)
		if err == nil && account.InProtection && !op.Context.CancelProtection {
			return exception.NewProvisioningError(moduleName,
				"account "+account.UID+" is delete-protected", nil, false)
		}
		if err != nil && !errors.Is(err, repository.ErrAccountNotFound) {
			return err
		}
	}

	if err := conn.Delete(ctx, op.Context.UID, op.Context.ObjectClass); err != nil {
		// A missing object means the delete already happened.
		if !errors.Is(err, connector.ErrObjectNotFound) {
			return err
		}
	}
	return e.unlink(ctx, op)
}

// relink handles a duplicate key during CREATE: when the conflicting object
// exists, the engine adopts it instead of fighting over the uid, then
// converges its attributes.
func (e *DefaultExecutor) relink(ctx context.Context, conn connector.Connector, op *model.ProvisioningOperation) error {
	existing, err := conn.Read(ctx, op.Context.UID, op.Context.ObjectClass)
	if err != nil {
		return exception.NewConnectorRejectedError(moduleName,
			"uid "+op.Context.UID+" is taken and the conflicting object could not be read", err)
	}
	logger.Infof("Adopting existing object %s on system %s for entity %s", existing.UID, op.SystemID, op.EntityID)

	if err := e.confirm(ctx, op, existing.UID); err != nil {
		return err
	}
	changes := e.changedAttributes(op, payload(op), existing.Attributes)
	if len(changes) == 0 {
		return nil
	}
	_, err = conn.Update(ctx, existing.UID, op.Context.ObjectClass, changes)
	return err
}

// confirm records a successful create/update: the system entity stops being a
// wish, a uid rename is applied in place, and the account row exists and
// carries the final uid.
func (e *DefaultExecutor) confirm(ctx context.Context, op *model.ProvisioningOperation, uid string) error {
	entity, err := e.repo.FindSystemEntityByID(ctx, op.SystemEntityID)
	if err != nil {
		return err
	}
	if entity.Wish || entity.UID != uid {
		entity.Wish = false
		entity.UID = uid
		if err := e.repo.UpdateSystemEntity(ctx, entity); err != nil {
			return err
		}
	}

	if op.AccountID != "" {
		account, err := e.repo.FindAccountByID(ctx, op.AccountID)
		if err != nil {
			return err
		}
		if account.UID != uid {
			account.UID = uid
			if err := e.repo.UpdateAccount(ctx, account); err != nil {
				return err
			}
		}
		return nil
	}

	if _, err := e.repo.FindAccountByEntity(ctx, op.SystemID, op.EntityID); err == nil {
		return nil
	} else if !errors.Is(err, repository.ErrAccountNotFound) {
		return err
	}
	account := model.NewAccount(uid, op.SystemID, op.EntityType, op.EntityID, op.SystemEntityID, "")
	if err := e.repo.SaveAccount(ctx, account); err != nil {
		return err
	}
	op.AccountID = account.ID
	return nil
}

// unlink removes the account and system-entity rows after a delete.
func (e *DefaultExecutor) unlink(ctx context.Context, op *model.ProvisioningOperation) error {
	if op.AccountID != "" {
		if err := e.repo.DeleteAccount(ctx, op.AccountID); err != nil && !errors.Is(err, repository.ErrAccountNotFound) {
			return err
		}
	}
	if op.SystemEntityID != "" {
		if err := e.repo.DeleteSystemEntity(ctx, op.SystemEntityID); err != nil && !errors.Is(err, repository.ErrSystemEntityNotFound) {
			return err
		}
	}
	return nil
}

// changedAttributes computes the minimal change set between the operation's
// frozen payload and the connector object's current attributes, comparing each
// attribute under its frozen descriptor.
func (e *DefaultExecutor) changedAttributes(op *model.ProvisioningOperation, desired, current model.AttributeMap) model.AttributeMap {
	changes := make(model.AttributeMap)
	for name, value := range desired {
		if !e.comparator.Equal(value, current[name], op.Context.Descriptors.For(name, value)) {
			changes[name] = value
		}
	}
	return changes
}

// payload strips the carrier uid key from the frozen attribute payload.
func payload(op *model.ProvisioningOperation) model.AttributeMap {
	out := op.Context.Attributes.Clone()
	delete(out, uidAttributeKey)
	return out
}

// createPayload keeps the carrier uid key; Create reads the requested uid
// from it.
func createPayload(op *model.ProvisioningOperation) model.AttributeMap {
	out := op.Context.Attributes.Clone()
	out[uidAttributeKey] = op.Context.UID
	return out
}

var _ Executor = (*DefaultExecutor)(nil)
