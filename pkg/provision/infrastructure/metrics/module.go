// Package metrics provides the Prometheus and OpenTelemetry implementations
// of the engine's observability ports.
package metrics

import (
	"go.uber.org/fx"

	metrics "accord/pkg/provision/core/metrics"
)

// Module is an Fx module that provides PrometheusRecorder and
// OpenTelemetryTracer.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewPrometheusRecorder,
		fx.As(new(metrics.MetricRecorder)),
	)),
	fx.Provide(fx.Annotate(
		NewOpenTelemetryTracer,
		fx.As(new(metrics.Tracer)),
	)),
)
