package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	model "accord/pkg/provision/core/domain/model"
	metrics "accord/pkg/provision/core/metrics"
	logger "accord/pkg/provision/support/util/logger"
)

// PrometheusRecorder is a Prometheus implementation of the
// metrics.MetricRecorder interface.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	operationDurationSeconds *prometheus.HistogramVec
	operationRetryCounter    *prometheus.CounterVec
	queueDepthGauge          *prometheus.GaugeVec
	syncSituationCounter     *prometheus.CounterVec
	syncRunDurationSeconds   *prometheus.HistogramVec
}

// NewPrometheusRecorder creates a new instance of PrometheusRecorder.
func NewPrometheusRecorder() metrics.MetricRecorder {
	registry := prometheus.NewRegistry()

	// Register Go standard metrics and process/OS metrics.
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &PrometheusRecorder{
		registry: registry,
		operationDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "provision_operation_duration_seconds",
			Help:    "Duration of provisioning attempts.",
			Buckets: prometheus.DefBuckets,
		}, []string{"system_id", "type", "state"}),
		operationRetryCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "provision_operation_retry_total",
			Help: "Total number of scheduled provisioning retries.",
		}, []string{"system_id", "type"}),
		queueDepthGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "provision_queue_depth",
			Help: "Number of active provisioning operations per system.",
		}, []string{"system_id"}),
		syncSituationCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "provision_sync_situation_total",
			Help: "Total classified pairings by synchronization run configuration.",
		}, []string{"config_name", "situation"}),
		syncRunDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "provision_sync_run_duration_seconds",
			Help:    "Duration of synchronization runs.",
			Buckets: prometheus.DefBuckets,
		}, []string{"config_name", "status"}),
	}

	registry.MustRegister(r.operationDurationSeconds)
	registry.MustRegister(r.operationRetryCounter)
	registry.MustRegister(r.queueDepthGauge)
	registry.MustRegister(r.syncSituationCounter)
	registry.MustRegister(r.syncRunDurationSeconds)

	return r
}

// GetRegistry returns the Prometheus registry.
func (r *PrometheusRecorder) GetRegistry() *prometheus.Registry {
	return r.registry
}

// RecordOperationAttempt records one provisioning attempt.
func (r *PrometheusRecorder) RecordOperationAttempt(ctx context.Context, op *model.ProvisioningOperation, state model.OperationState, duration time.Duration) {
	r.operationDurationSeconds.WithLabelValues(op.SystemID, string(op.Type), string(state)).Observe(duration.Seconds())
	logger.Debugf("Metrics: operation '%s' attempt recorded. State: %s, Duration: %.3fs", op.ID, state, duration.Seconds())
}

// RecordOperationRetry records a scheduled retry.
func (r *PrometheusRecorder) RecordOperationRetry(ctx context.Context, op *model.ProvisioningOperation) {
	r.operationRetryCounter.WithLabelValues(op.SystemID, string(op.Type)).Inc()
}

// RecordQueueDepth records the number of active operations on a system.
func (r *PrometheusRecorder) RecordQueueDepth(ctx context.Context, systemID string, depth int) {
	r.queueDepthGauge.WithLabelValues(systemID).Set(float64(depth))
}

// RecordSyncSituation records one classified pairing of a sync run.
func (r *PrometheusRecorder) RecordSyncSituation(ctx context.Context, configName string, situation model.SyncSituation) {
	r.syncSituationCounter.WithLabelValues(configName, string(situation)).Inc()
}

// RecordSyncRun records a finished reconciliation run.
func (r *PrometheusRecorder) RecordSyncRun(ctx context.Context, run *model.SyncRun, duration time.Duration) {
	r.syncRunDurationSeconds.WithLabelValues(run.ConfigName, string(run.Status)).Observe(duration.Seconds())
	logger.Debugf("Metrics: sync run '%s' recorded. Status: %s, Duration: %.3fs", run.ID, run.Status, duration.Seconds())
}

var _ metrics.MetricRecorder = (*PrometheusRecorder)(nil)
