// Package metrics defines the observability ports of the provisioning engine.
// Concrete recorders live in infrastructure/metrics.
package metrics

import (
	"context"
	"time"

	model "accord/pkg/provision/core/domain/model"
)

// MetricRecorder records engine metrics. Implementations must be safe for
// concurrent use by the worker pool.
type MetricRecorder interface {
	// RecordOperationAttempt records one provisioning attempt with its
	// outcome state and duration.
	RecordOperationAttempt(ctx context.Context, op *model.ProvisioningOperation, state model.OperationState, duration time.Duration)

	// RecordOperationRetry records a scheduled retry.
	RecordOperationRetry(ctx context.Context, op *model.ProvisioningOperation)

	// RecordQueueDepth records the number of active operations on a system.
	RecordQueueDepth(ctx context.Context, systemID string, depth int)

	// RecordSyncSituation records one classified pairing of a sync run.
	RecordSyncSituation(ctx context.Context, configName string, situation model.SyncSituation)

	// RecordSyncRun records a finished reconciliation run.
	RecordSyncRun(ctx context.Context, run *model.SyncRun, duration time.Duration)
}

// Tracer emits spans around provisioning attempts and sync runs.
type Tracer interface {
	// StartOperationSpan starts a span for one provisioning attempt. The
	// returned function ends the span.
	StartOperationSpan(ctx context.Context, op *model.ProvisioningOperation) (context.Context, func(err error))

	// StartSyncRunSpan starts a span for a reconciliation run.
	StartSyncRunSpan(ctx context.Context, run *model.SyncRun) (context.Context, func(err error))
}

// NoopRecorder is a MetricRecorder that discards everything. Used by tests
// and by deployments that disable metrics.
type NoopRecorder struct{}

func (NoopRecorder) RecordOperationAttempt(context.Context, *model.ProvisioningOperation, model.OperationState, time.Duration) {
}
func (NoopRecorder) RecordOperationRetry(context.Context, *model.ProvisioningOperation) {}
func (NoopRecorder) RecordQueueDepth(context.Context, string, int)                      {}
func (NoopRecorder) RecordSyncSituation(context.Context, string, model.SyncSituation)   {}
func (NoopRecorder) RecordSyncRun(context.Context, *model.SyncRun, time.Duration)       {}

// NoopTracer is a Tracer that emits nothing.
type NoopTracer struct{}

func (NoopTracer) StartOperationSpan(ctx context.Context, _ *model.ProvisioningOperation) (context.Context, func(err error)) {
	return ctx, func(error) {}
}

func (NoopTracer) StartSyncRunSpan(ctx context.Context, _ *model.SyncRun) (context.Context, func(err error)) {
	return ctx, func(error) {}
}

var (
	_ MetricRecorder = NoopRecorder{}
	_ Tracer         = NoopTracer{}
)
