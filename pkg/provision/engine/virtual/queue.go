// Package virtual implements provisioning for systems without a live
// connector. Changes queue as requests; a human implementer applies each one
// on the real system and reports back, which is when the engine's view of the
// account advances.
package virtual

import (
	"context"
	"time"

	"accord/pkg/provision/core/config"
	"accord/pkg/provision/core/domain/model"
	"accord/pkg/provision/core/domain/repository"
	"accord/pkg/provision/engine/compare"
	"accord/pkg/provision/support/util/exception"
	"accord/pkg/provision/support/util/logger"
)

const moduleName = "virtual"

// uidAttributeKey is the carrier key of the resolved uid inside a frozen
// attribute payload.
const uidAttributeKey = "__uid"

// Implementer identifies who is realizing or canceling a request.
type Implementer struct {
	// ID is the implementer's identity.
	ID string
	// Roles lists the implementer's role memberships.
	Roles []string
}

// Queue manages the deferred-request lifecycle of virtual systems.
type Queue struct {
	repo       repository.Repository
	comparator *compare.Comparator
	cfg        *config.VirtualConfig
}

// NewQueue creates a virtual request queue.
func NewQueue(repo repository.Repository, comparator *compare.Comparator, cfg *config.VirtualConfig) *Queue {
	return &Queue{repo: repo, comparator: comparator, cfg: cfg}
}

// Delegate queues a provisioning operation as an in-progress request instead
// of executing it. Called by the executor for virtual targets.
func (q *Queue) Delegate(ctx context.Context, op *model.ProvisioningOperation) (*model.VsRequest, error) {
	attrs := op.Context.Attributes.Clone()
	delete(attrs, uidAttributeKey)
	request := model.NewVsRequest(op.Context.UID, op.SystemID, op.Context.ConnectorKey, op.EntityID, op.Type, attrs)
	request.Descriptors = op.Context.Descriptors.Clone()
	if err := q.repo.SaveVsRequest(ctx, request); err != nil {
		return nil, err
	}
	logger.Infof("Queued %s request %s for uid %s on virtual system %s", request.Type, request.ID, request.UID, request.SystemID)
	return request, nil
}

// Realize applies an in-progress request: the virtual account advances to the
// proposed state and the request archives as REALIZED. uid reports the actual
// key the implementer created; when it differs from the requested one, the
// system entity and the virtual account relink in place.
func (q *Queue) Realize(ctx context.Context, requestID string, implementer Implementer, uid, note string) error {
	if err := q.authorize(implementer); err != nil {
		return err
	}
	request, err := q.repo.FindVsRequestByID(ctx, requestID)
	if err != nil {
		return err
	}
	if request.State != model.VsRequestInProgress {
		return exception.NewProvisioningError(moduleName,
			"request "+requestID+" is "+request.State.String()+" and cannot be realized", nil, false)
	}
	if uid == "" {
		uid = request.UID
	}

	if uid != request.UID {
		if err := q.relinkSystemEntity(ctx, request, uid); err != nil {
			return err
		}
	}

	switch request.Type {
	case model.OperationDelete:
		if err := q.repo.DeleteVsAccount(ctx, request.SystemID, request.UID); err != nil {
			return err
		}
	default:
		account := &model.VsAccount{
			UID:         uid,
			SystemID:    request.SystemID,
			Attributes:  q.realizedState(ctx, request),
			LastUpdated: time.Now(),
		}
		if uid != request.UID {
			// Drop the state stored under the old key before relinking it.
			_ = q.repo.DeleteVsAccount(ctx, request.SystemID, request.UID)
		}
		if err := q.repo.UpsertVsAccount(ctx, account); err != nil {
			return err
		}
	}

	now := time.Now()
	request.State = model.VsRequestRealized
	request.Note = note
	request.ResolvedAt = &now
	if err := q.repo.UpdateVsRequest(ctx, request); err != nil {
		return err
	}
	logger.Infof("Request %s realized by %s, uid %s on system %s", request.ID, implementer.ID, uid, request.SystemID)
	return nil
}

// Cancel rejects an in-progress request with a mandatory reason.
func (q *Queue) Cancel(ctx context.Context, requestID string, implementer Implementer, reason string) error {
	if err := q.authorize(implementer); err != nil {
		return err
	}
	if reason == "" {
		return exception.NewProvisioningError(moduleName, "cancel requires a non-empty reason", nil, false)
	}
	request, err := q.repo.FindVsRequestByID(ctx, requestID)
	if err != nil {
		return err
	}
	if request.State != model.VsRequestInProgress {
		return exception.NewProvisioningError(moduleName,
			"request "+requestID+" is "+request.State.String()+" and cannot be canceled", nil, false)
	}

	now := time.Now()
	request.State = model.VsRequestCanceled
	request.Reason = reason
	request.ResolvedAt = &now
	if err := q.repo.UpdateVsRequest(ctx, request); err != nil {
		return err
	}
	logger.Infof("Request %s canceled by %s: %s", request.ID, implementer.ID, reason)
	return nil
}

// realizedState is the attribute state a realized request leaves behind: the
// full proposal for a CREATE, the confirmed state overlaid with the proposal
// for an UPDATE.
func (q *Queue) realizedState(ctx context.Context, request *model.VsRequest) model.AttributeMap {
	if request.Type == model.OperationCreate {
		return request.Attributes.Clone()
	}
	state := model.AttributeMap{}
	if account, err := q.repo.FindVsAccount(ctx, request.SystemID, request.UID); err == nil {
		state = account.Attributes.Clone()
	}
	for k, v := range request.Attributes {
		state[k] = v
	}
	return state
}

// relinkSystemEntity renames the system entity row behind the request's uid
// in place, preserving its identity and links. The row is located through the
// target entity's account.
func (q *Queue) relinkSystemEntity(ctx context.Context, request *model.VsRequest, uid string) error {
	account, err := q.repo.FindAccountByUID(ctx, request.SystemID, request.UID)
	if err != nil {
		account, err = q.repo.FindAccountByEntity(ctx, request.SystemID, request.TargetEntityID)
	}
	if err != nil {
		// Nothing linked yet (e.g. a CREATE realized under a different uid
		// before the account row exists); there is nothing to rename.
		return nil
	}

	if account.SystemEntityID != "" {
		entity, err := q.repo.FindSystemEntityByID(ctx, account.SystemEntityID)
		if err != nil {
			return err
		}
		entity.UID = uid
		entity.Wish = false
		if err := q.repo.UpdateSystemEntity(ctx, entity); err != nil {
			return err
		}
		logger.Infof("System entity %s relinked from uid %s to %s", entity.ID, request.UID, uid)
	}

	account.UID = uid
	return q.repo.UpdateAccount(ctx, account)
}

// authorize checks the implementer against the configured identities and
// roles. An empty configuration leaves realization open.
func (q *Queue) authorize(implementer Implementer) error {
	if len(q.cfg.Implementers) == 0 && len(q.cfg.ImplementerRoles) == 0 {
		return nil
	}
	for _, id := range q.cfg.Implementers {
		if id == implementer.ID {
			return nil
		}
	}
	for _, role := range q.cfg.ImplementerRoles {
		for _, held := range implementer.Roles {
			if role == held {
				return nil
			}
		}
	}
	return exception.NewProvisioningError(moduleName,
		implementer.ID+" is not an implementer of this virtual system", exception.ErrAuthorization, false)
}
