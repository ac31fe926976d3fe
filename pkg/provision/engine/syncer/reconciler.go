// Package syncer reconciles the engine's view of a target system with what
// the system actually holds. Reconciliation is pull-based: enumerate the
// connector, classify each pairing, apply the configured action, and record
// the run.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"accord/pkg/provision/connector"
	"accord/pkg/provision/core/config"
	"accord/pkg/provision/core/domain/model"
	"accord/pkg/provision/core/domain/repository"
	"accord/pkg/provision/core/metrics"
	"accord/pkg/provision/engine/attribute"
	"accord/pkg/provision/engine/batch"
	"accord/pkg/provision/engine/compare"
	"accord/pkg/provision/support/util/exception"
	"accord/pkg/provision/support/util/logger"
)

const moduleName = "syncer"

// Reconciler runs pull-based synchronizations.
type Reconciler struct {
	repo       repository.Repository
	entities   repository.EntityStore
	connectors *connector.Registry
	mappings   []model.SystemMapping
	batches    *batch.Manager
	resolver   *attribute.Resolver
	comparator *compare.Comparator
	recorder   metrics.MetricRecorder
	tracer     metrics.Tracer
	provCfg    *config.ProvisioningConfig

	mu      sync.Mutex
	running map[string]bool
}

// NewReconciler creates a Reconciler.
func NewReconciler(
	repo repository.Repository,
	entities repository.EntityStore,
	connectors *connector.Registry,
	mappings []model.SystemMapping,
	batches *batch.Manager,
	resolver *attribute.Resolver,
	comparator *compare.Comparator,
	recorder metrics.MetricRecorder,
	tracer metrics.Tracer,
	provCfg *config.ProvisioningConfig,
) *Reconciler {
	return &Reconciler{
		repo:       repo,
		entities:   entities,
		connectors: connectors,
		mappings:   mappings,
		batches:    batches,
		resolver:   resolver,
		comparator: comparator,
		recorder:   recorder,
		tracer:     tracer,
		provCfg:    provCfg,
		running:    make(map[string]bool),
	}
}

// Run executes one reconciliation pass for the configuration. A second
// concurrent run of the same configuration is rejected. Item failures are
// captured in the summary and never abort the pass; only enumeration failure
// or cancellation ends it early.
func (r *Reconciler) Run(ctx context.Context, sc config.SyncConfig) (*model.SyncRunSummary, error) {
	if !r.tryLock(sc.Name) {
		return nil, exception.NewProvisioningError(moduleName,
			"synchronization "+sc.Name+" is already running", exception.ErrConcurrencyViolation, false)
	}
	defer r.unlock(sc.Name)

	mapping := r.mappingByID(sc.MappingID)
	if mapping == nil {
		return nil, exception.NewConfigurationError(moduleName, "synchronization "+sc.Name+" references unknown mapping "+sc.MappingID)
	}
	conn, err := r.connectors.Resolve(mapping.ConnectorKey)
	if err != nil {
		return nil, exception.NewConfigurationError(moduleName, "no connector registered under key "+mapping.ConnectorKey)
	}

	run := model.NewSyncRun(sc.Name, mapping.SystemID)
	if err := r.repo.SaveSyncRun(ctx, run); err != nil {
		return nil, err
	}
	ctx, end := r.tracer.StartSyncRunSpan(ctx, run)
	started := time.Now()

	summary, runErr := r.reconcile(ctx, sc, mapping, conn)

	status := model.SyncRunCompleted
	switch {
	case errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded):
		status = model.SyncRunCanceled
	case runErr != nil:
		status = model.SyncRunFailed
	}
	run.Finish(status, *summary)
	if err := r.repo.UpdateSyncRun(ctx, run); err != nil {
		logger.Errorf("Failed to persist sync run %s: %v", run.ID, err)
	}
	r.recorder.RecordSyncRun(ctx, run, time.Since(started))
	end(runErr)

	logger.Infof("Synchronization %s finished %s: scanned=%d changes=%d errors=%d",
		sc.Name, status, summary.Scanned, summary.ChangeCount(), len(summary.Errors))
	return summary, runErr
}

func (r *Reconciler) reconcile(ctx context.Context, sc config.SyncConfig, mapping *model.SystemMapping, conn connector.Connector) (*model.SyncRunSummary, error) {
	summary := &model.SyncRunSummary{}

	var objects []connector.Object
	err := conn.Search(ctx, mapping.ObjectClass, sc.Filter, func(obj connector.Object) bool {
		objects = append(objects, obj)
		return ctx.Err() == nil
	})
	if err != nil {
		return summary, err
	}

	seen := make(map[string]bool, len(objects))
	for _, obj := range objects {
		// Cancellation is honored between items, never inside one.
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		summary.Scanned++
		seen[obj.UID] = true

		item := r.classify(ctx, mapping, obj)
		item.Action = actionFor(sc.Actions, item.Situation)
		r.recorder.RecordSyncSituation(ctx, sc.Name, item.Situation)
		countSituation(summary, item.Situation)

		if err := r.apply(ctx, sc, mapping, item, summary); err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("uid %s: %v", item.UID, err))
			logger.Warnf("Synchronization %s item %s failed: %v", sc.Name, item.UID, err)
		}
	}

	// Accounts the enumeration never produced are MISSING_ACCOUNT.
	accounts, err := r.repo.ListAccountsBySystem(ctx, mapping.SystemID)
	if err != nil {
		return summary, err
	}
	for _, account := range accounts {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		if seen[account.UID] {
			continue
		}
		item := &model.SyncItemContext{
			UID:       account.UID,
			EntityID:  account.EntityID,
			Account:   account,
			Situation: model.SituationMissingAccount,
			Action:    actionFor(sc.Actions, model.SituationMissingAccount),
		}
		r.recorder.RecordSyncSituation(ctx, sc.Name, item.Situation)
		countSituation(summary, item.Situation)

		if err := r.apply(ctx, sc, mapping, item, summary); err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("uid %s: %v", item.UID, err))
			logger.Warnf("Synchronization %s item %s failed: %v", sc.Name, item.UID, err)
		}
	}

	return summary, nil
}

// classify pairs one connector object with the engine's records.
func (r *Reconciler) classify(ctx context.Context, mapping *model.SystemMapping, obj connector.Object) *model.SyncItemContext {
	item := &model.SyncItemContext{ConnectorObject: obj.Attributes, UID: obj.UID}

	account, err := r.repo.FindAccountByUID(ctx, mapping.SystemID, obj.UID)
	if err == nil {
		item.Account = account
		item.EntityID = account.EntityID
		item.Situation = model.SituationLinked
		return item
	}

	entity, err := r.correlate(ctx, mapping, obj)
	if err == nil && entity != nil {
		item.EntityID = entity.ID
		item.Situation = model.SituationUnlinked
		return item
	}

	item.Situation = model.SituationMissingEntity
	return item
}

// correlate finds the IdM entity matching a connector object through the
// mapping's correlation attribute.
func (r *Reconciler) correlate(ctx context.Context, mapping *model.SystemMapping, obj connector.Object) (*model.Entity, error) {
	if mapping.CorrelationAttribute == "" {
		return nil, nil
	}
	value, ok := obj.Attributes[mapping.CorrelationAttribute]
	if !ok {
		return nil, nil
	}
	property := mapping.CorrelationAttribute
	for _, attr := range mapping.Attributes {
		if attr.Descriptor.SchemaName == mapping.CorrelationAttribute {
			property = attr.IdmProperty
			break
		}
	}
	entity, err := r.entities.FindEntityByProperty(ctx, mapping.EntityType, property, value)
	if err != nil {
		return nil, nil
	}
	return entity, nil
}

func (r *Reconciler) mappingByID(id string) *model.SystemMapping {
	for i := range r.mappings {
		if r.mappings[i].ID == id {
			return &r.mappings[i]
		}
	}
	return nil
}

func (r *Reconciler) tryLock(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running[name] {
		return false
	}
	r.running[name] = true
	return true
}

func (r *Reconciler) unlock(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.running, name)
}

func actionFor(actions config.SyncActionsConfig, situation model.SyncSituation) model.SyncAction {
	switch situation {
	case model.SituationLinked:
		return actions.Linked
	case model.SituationUnlinked:
		return actions.Unlinked
	case model.SituationMissingEntity:
		return actions.MissingEntity
	case model.SituationMissingAccount:
		return actions.MissingAccount
	}
	return model.ActionIgnore
}

func countSituation(summary *model.SyncRunSummary, situation model.SyncSituation) {
	switch situation {
	case model.SituationLinked:
		summary.Linked++
	case model.SituationUnlinked:
		summary.Unlinked++
	case model.SituationMissingEntity:
		summary.MissingEntity++
	case model.SituationMissingAccount:
		summary.MissingAccount++
	}
}
