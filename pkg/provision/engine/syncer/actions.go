package syncer

import (
	"context"
	"errors"
	"fmt"

	"accord/pkg/provision/core/config"
	"accord/pkg/provision/core/domain/model"
	"accord/pkg/provision/core/domain/repository"
	"accord/pkg/provision/engine/attribute"
	"accord/pkg/provision/support/util/exception"
	"accord/pkg/provision/support/util/logger"

	"github.com/google/uuid"
)

// uidAttributeKey is the carrier key of the resolved uid inside an attribute
// payload.
const uidAttributeKey = "__uid"

// apply executes the configured action for one classified item.
func (r *Reconciler) apply(ctx context.Context, sc config.SyncConfig, mapping *model.SystemMapping, item *model.SyncItemContext, summary *model.SyncRunSummary) error {
	switch item.Action {
	case model.ActionIgnore, "":
		summary.Ignored++
		return nil

	case model.ActionWarn:
		logger.Warnf("Synchronization %s: %s for uid %s left unresolved", sc.Name, item.Situation, item.UID)
		summary.Ignored++
		return nil

	case model.ActionLink:
		return r.link(ctx, mapping, item)

	case model.ActionUnlink:
		if item.Account == nil {
			return nil
		}
		if err := r.repo.DeleteAccount(ctx, item.Account.ID); err != nil {
			return err
		}
		logger.Infof("Account %s on system %s unlinked", item.UID, mapping.SystemID)
		return nil

	case model.ActionCreateEntity:
		return r.createEntity(ctx, mapping, item)

	case model.ActionCreateAccount:
		if item.Account == nil {
			return exception.NewConfigurationError(moduleName, "CREATE_ACCOUNT requires an existing account link")
		}
		if err := r.enqueueChange(ctx, mapping, item.EntityID, item.Account, model.OperationCreate, nil); err != nil {
			return err
		}
		summary.Created++
		return nil

	case model.ActionUpdateAccount:
		if item.Account == nil {
			return exception.NewConfigurationError(moduleName, "UPDATE_ACCOUNT requires an existing account link")
		}
		enqueued, err := r.converge(ctx, mapping, item)
		if err != nil {
			return err
		}
		if enqueued {
			summary.Updated++
		}
		return nil

	case model.ActionUpdateEntity:
		changed, err := r.updateEntity(ctx, mapping, item)
		if err != nil {
			return err
		}
		if changed {
			summary.Updated++
		}
		return nil

	case model.ActionDeleteAccount:
		if item.Account == nil {
			return nil
		}
		if err := r.repo.DeleteAccount(ctx, item.Account.ID); err != nil && !errors.Is(err, repository.ErrAccountNotFound) {
			return err
		}
		if item.Account.SystemEntityID != "" {
			if err := r.repo.DeleteSystemEntity(ctx, item.Account.SystemEntityID); err != nil && !errors.Is(err, repository.ErrSystemEntityNotFound) {
				return err
			}
		}
		summary.Deleted++
		logger.Infof("Account %s on system %s deleted during synchronization", item.UID, mapping.SystemID)
		return nil
	}

	return exception.NewConfigurationError(moduleName, fmt.Sprintf("unknown sync action %q", item.Action))
}

// link adopts an existing connector object for a correlated entity: a
// confirmed system entity plus an account row, no outbound change.
func (r *Reconciler) link(ctx context.Context, mapping *model.SystemMapping, item *model.SyncItemContext) error {
	if item.EntityID == "" {
		return exception.NewConfigurationError(moduleName, "LINK requires a correlated entity")
	}

	se, err := r.repo.FindSystemEntityByUID(ctx, mapping.SystemID, mapping.EntityType, item.UID)
	if errors.Is(err, repository.ErrSystemEntityNotFound) {
		se = model.NewSystemEntity(item.UID, mapping.EntityType, mapping.SystemID)
		se.Wish = false
		if err := r.repo.SaveSystemEntity(ctx, se); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	account := model.NewAccount(item.UID, mapping.SystemID, mapping.EntityType, item.EntityID, se.ID, mapping.ID)
	if err := r.repo.SaveAccount(ctx, account); err != nil {
		return err
	}
	item.Account = account
	logger.Infof("Linked connector object %s on system %s to entity %s", item.UID, mapping.SystemID, item.EntityID)
	return nil
}

// createEntity materializes an IdM entity from a connector object and links
// it. The entity's properties come from reverse-applying the mapping's
// entity attributes.
func (r *Reconciler) createEntity(ctx context.Context, mapping *model.SystemMapping, item *model.SyncItemContext) error {
	entity := &model.Entity{
		ID:         uuid.New().String(),
		Type:       mapping.EntityType,
		Properties: reverseMap(mapping, item.ConnectorObject),
	}
	if err := r.entities.SaveEntity(ctx, entity); err != nil {
		return err
	}
	item.EntityID = entity.ID
	logger.Infof("Created entity %s from connector object %s on system %s", entity.ID, item.UID, mapping.SystemID)
	return r.link(ctx, mapping, item)
}

// updateEntity pulls connector-side values back onto the correlated entity.
// Returns whether anything actually changed.
func (r *Reconciler) updateEntity(ctx context.Context, mapping *model.SystemMapping, item *model.SyncItemContext) (bool, error) {
	if item.EntityID == "" {
		return false, exception.NewConfigurationError(moduleName, "UPDATE_ENTITY requires a correlated entity")
	}
	entity, err := r.entities.FindEntityByID(ctx, item.EntityID)
	if err != nil {
		return false, err
	}

	changed := false
	for property, value := range reverseMap(mapping, item.ConnectorObject) {
		current, _ := entity.Property(property)
		desc := model.AttributeDescriptor{SchemaName: property}
		if r.comparator.Equal(current, value, desc) {
			continue
		}
		if entity.Properties == nil {
			entity.Properties = model.AttributeMap{}
		}
		entity.Properties[property] = value
		changed = true
	}
	if !changed {
		return false, nil
	}
	return true, r.entities.UpdateEntity(ctx, entity)
}

// converge resolves the entity's desired state and enqueues an UPDATE only
// when the connector object actually drifted. Returns whether an operation
// was enqueued.
func (r *Reconciler) converge(ctx context.Context, mapping *model.SystemMapping, item *model.SyncItemContext) (bool, error) {
	entity, err := r.entities.FindEntityByID(ctx, item.EntityID)
	if err != nil {
		return false, err
	}
	resolution, err := r.resolver.Resolve(ctx, mapping, entity, nil, nil)
	if err != nil {
		return false, err
	}

	desired := resolution.Payload()
	delete(desired, uidAttributeKey)
	descs := resolution.Descriptors()
	drifted := false
	for name, value := range desired {
		if !r.comparator.Equal(value, item.ConnectorObject[name], descs.For(name, value)) {
			drifted = true
			break
		}
	}
	if !drifted {
		return false, nil
	}
	return true, r.enqueueChange(ctx, mapping, item.EntityID, item.Account, model.OperationUpdate, resolution)
}

// enqueueChange freezes the entity's resolved state into an operation and
// hands it to the batch manager. A nil resolution resolves fresh.
func (r *Reconciler) enqueueChange(ctx context.Context, mapping *model.SystemMapping, entityID string, account *model.Account, opType model.OperationType, resolution *attribute.Resolution) error {
	uid := account.UID
	if resolution == nil {
		entity, err := r.entities.FindEntityByID(ctx, entityID)
		if err != nil {
			return err
		}
		resolution, err = r.resolver.Resolve(ctx, mapping, entity, nil, nil)
		if err != nil {
			return err
		}
		uid = resolution.UID
	}

	op := model.NewProvisioningOperation(
		opType, mapping.SystemID, mapping.EntityType, entityID, account.SystemEntityID, account.ID,
		model.ProvisioningContext{
			Attributes:   resolution.Payload(),
			Descriptors:  resolution.Descriptors(),
			UID:          uid,
			ObjectClass:  mapping.ObjectClass,
			ConnectorKey: mapping.ConnectorKey,
			Virtual:      mapping.Virtual,
		},
		r.provCfg.MaxAttempts,
	)
	_, err := r.batches.Enqueue(ctx, op)
	return err
}

// reverseMap projects a connector object's attributes back onto IdM entity
// properties through the mapping's entity attributes.
func reverseMap(mapping *model.SystemMapping, object model.AttributeMap) model.AttributeMap {
	properties := model.AttributeMap{}
	for _, attr := range mapping.Attributes {
		if !attr.IsEntityAttribute || attr.IsUID {
			continue
		}
		if value, ok := object[attr.Descriptor.SchemaName]; ok {
			properties[attr.IdmProperty] = value
		}
	}
	return properties
}
