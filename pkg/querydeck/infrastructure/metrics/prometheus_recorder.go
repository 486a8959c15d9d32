// Package metrics implements the core metrics abstractions on Prometheus and OpenTelemetry.
package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/tigerroll/querydeck/pkg/querydeck/core/metrics"
	"github.com/tigerroll/querydeck/pkg/querydeck/support/util/logger"
)

// PrometheusRecorder is a Prometheus implementation of metrics.Recorder.
// It owns its registry so several recorders can coexist in one process.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	executionDuration *prometheus.HistogramVec
	executionCounter  *prometheus.CounterVec
	alertCounter      *prometheus.CounterVec
	notifyCounter     *prometheus.CounterVec
	poolEventCounter  *prometheus.CounterVec
	retentionDeleted  prometheus.Counter
	operationDuration *prometheus.HistogramVec
}

// NewPrometheusRecorder creates a recorder with Go runtime and process collectors registered.
func NewPrometheusRecorder() *PrometheusRecorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &PrometheusRecorder{
		registry: registry,
		executionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "querydeck_execution_duration_seconds",
			Help:    "Duration of scheduled query executions.",
			Buckets: prometheus.DefBuckets,
		}, []string{"status"}),
		executionCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "querydeck_executions_total",
			Help: "Total number of scheduled query executions by terminal status.",
		}, []string{"status"}),
		alertCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "querydeck_alerts_total",
			Help: "Total number of alert verdicts by condition type.",
		}, []string{"condition"}),
		notifyCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "querydeck_notifications_total",
			Help: "Total number of channel deliveries by channel and outcome.",
		}, []string{"channel", "success"}),
		poolEventCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "querydeck_pool_events_total",
			Help: "Total number of connection pool lifecycle events.",
		}, []string{"event"}),
		retentionDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "querydeck_retention_deleted_total",
			Help: "Total number of execution records removed by retention sweeps.",
		}),
		operationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "querydeck_operation_duration_seconds",
			Help:    "Duration of named engine operations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "status"}),
	}

	registry.MustRegister(r.executionDuration)
	registry.MustRegister(r.executionCounter)
	registry.MustRegister(r.alertCounter)
	registry.MustRegister(r.notifyCounter)
	registry.MustRegister(r.poolEventCounter)
	registry.MustRegister(r.retentionDeleted)
	registry.MustRegister(r.operationDuration)
	return r
}

// Registry returns the Prometheus registry served on /metrics.
func (r *PrometheusRecorder) Registry() *prometheus.Registry {
	return r.registry
}

// RecordExecution records a finished firing.
func (r *PrometheusRecorder) RecordExecution(_ context.Context, status string, duration time.Duration) {
	r.executionCounter.WithLabelValues(status).Inc()
	r.executionDuration.WithLabelValues(status).Observe(duration.Seconds())
	logger.Debugf("Metrics: execution finished with %s in %.3fs", status, duration.Seconds())
}

// RecordAlert records an alert verdict.
func (r *PrometheusRecorder) RecordAlert(_ context.Context, condition string) {
	r.alertCounter.WithLabelValues(condition).Inc()
}

// RecordNotification records one channel delivery attempt.
func (r *PrometheusRecorder) RecordNotification(_ context.Context, channel string, success bool) {
	r.notifyCounter.WithLabelValues(channel, strconv.FormatBool(success)).Inc()
}

// RecordPoolEvent records a pool lifecycle event.
func (r *PrometheusRecorder) RecordPoolEvent(_ context.Context, event string) {
	r.poolEventCounter.WithLabelValues(event).Inc()
}

// RecordRetentionDeleted adds count to the retention counter.
func (r *PrometheusRecorder) RecordRetentionDeleted(_ context.Context, count int) {
	if count > 0 {
		r.retentionDeleted.Add(float64(count))
	}
}

// RecordDuration records a named operation. Only the "status" tag becomes a label.
func (r *PrometheusRecorder) RecordDuration(_ context.Context, name string, duration time.Duration, tags map[string]string) {
	r.operationDuration.WithLabelValues(name, tags["status"]).Observe(duration.Seconds())
}

var _ metrics.Recorder = (*PrometheusRecorder)(nil)
