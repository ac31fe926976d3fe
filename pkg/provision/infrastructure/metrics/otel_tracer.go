package metrics

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	model "accord/pkg/provision/core/domain/model"
	metrics "accord/pkg/provision/core/metrics"
)

const tracerName = "accord/provision"

// OpenTelemetryTracer is an implementation of metrics.Tracer using
// OpenTelemetry. Spans go to whatever tracer provider the process has
// installed globally; without one they are no-ops.
type OpenTelemetryTracer struct {
	tracer trace.Tracer
}

// NewOpenTelemetryTracer creates a new instance of OpenTelemetryTracer.
func NewOpenTelemetryTracer() metrics.Tracer {
	return &OpenTelemetryTracer{tracer: otel.Tracer(tracerName)}
}

// StartOperationSpan starts a span for one provisioning attempt.
func (t *OpenTelemetryTracer) StartOperationSpan(ctx context.Context, op *model.ProvisioningOperation) (context.Context, func(err error)) {
	ctx, span := t.tracer.Start(ctx, "provision.operation",
		trace.WithAttributes(
			attribute.String("operation.id", op.ID),
			attribute.String("operation.type", string(op.Type)),
			attribute.String("system.id", op.SystemID),
			attribute.Int("operation.attempt", op.CurrentAttempt+1),
		))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

// StartSyncRunSpan starts a span for a reconciliation run.
func (t *OpenTelemetryTracer) StartSyncRunSpan(ctx context.Context, run *model.SyncRun) (context.Context, func(err error)) {
	ctx, span := t.tracer.Start(ctx, "provision.sync_run",
		trace.WithAttributes(
			attribute.String("sync.config_name", run.ConfigName),
			attribute.String("sync.run_id", run.ID),
			attribute.String("system.id", run.SystemID),
		))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

var _ metrics.Tracer = (*OpenTelemetryTracer)(nil)
