package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/tigerroll/querydeck/pkg/querydeck/core/metrics"
)

// OTelRecorder is an OpenTelemetry metrics implementation of metrics.Recorder.
type OTelRecorder struct {
	executions        metric.Int64Counter
	executionDuration metric.Float64Histogram
	alerts            metric.Int64Counter
	notifications     metric.Int64Counter
	poolEvents        metric.Int64Counter
	retentionDeleted  metric.Int64Counter
	operationDuration metric.Float64Histogram
}

// NewOTelRecorder creates the instruments on provider, or on the global provider when nil.
func NewOTelRecorder(provider metric.MeterProvider) (*OTelRecorder, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(instrumentationName)
	r := &OTelRecorder{}
	var err error
	if r.executions, err = meter.Int64Counter("querydeck.executions",
		metric.WithDescription("Scheduled query executions by terminal status.")); err != nil {
		return nil, instrumentError("querydeck.executions", err)
	}
	if r.executionDuration, err = meter.Float64Histogram("querydeck.execution.duration",
		metric.WithDescription("Duration of scheduled query executions."), metric.WithUnit("s")); err != nil {
		return nil, instrumentError("querydeck.execution.duration", err)
	}
	if r.alerts, err = meter.Int64Counter("querydeck.alerts",
		metric.WithDescription("Alert verdicts by condition type.")); err != nil {
		return nil, instrumentError("querydeck.alerts", err)
	}
	if r.notifications, err = meter.Int64Counter("querydeck.notifications",
		metric.WithDescription("Channel deliveries by channel and outcome.")); err != nil {
		return nil, instrumentError("querydeck.notifications", err)
	}
	if r.poolEvents, err = meter.Int64Counter("querydeck.pool.events",
		metric.WithDescription("Connection pool lifecycle events.")); err != nil {
		return nil, instrumentError("querydeck.pool.events", err)
	}
	if r.retentionDeleted, err = meter.Int64Counter("querydeck.retention.deleted",
		metric.WithDescription("Execution records removed by retention sweeps.")); err != nil {
		return nil, instrumentError("querydeck.retention.deleted", err)
	}
	if r.operationDuration, err = meter.Float64Histogram("querydeck.operation.duration",
		metric.WithDescription("Duration of named engine operations."), metric.WithUnit("s")); err != nil {
		return nil, instrumentError("querydeck.operation.duration", err)
	}
	return r, nil
}

func instrumentError(name string, err error) error {
	return fmt.Errorf("failed to create instrument %s: %w", name, err)
}

func (r *OTelRecorder) RecordExecution(ctx context.Context, status string, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	r.executions.Add(ctx, 1, attrs)
	r.executionDuration.Record(ctx, duration.Seconds(), attrs)
}

func (r *OTelRecorder) RecordAlert(ctx context.Context, condition string) {
	r.alerts.Add(ctx, 1, metric.WithAttributes(attribute.String("condition", condition)))
}

func (r *OTelRecorder) RecordNotification(ctx context.Context, channel string, success bool) {
	r.notifications.Add(ctx, 1, metric.WithAttributes(
		attribute.String("channel", channel),
		attribute.Bool("success", success),
	))
}

func (r *OTelRecorder) RecordPoolEvent(ctx context.Context, event string) {
	r.poolEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
}

func (r *OTelRecorder) RecordRetentionDeleted(ctx context.Context, count int) {
	if count > 0 {
		r.retentionDeleted.Add(ctx, int64(count))
	}
}

// RecordDuration records a named operation; every tag becomes an attribute.
func (r *OTelRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	attrs := make([]attribute.KeyValue, 0, len(tags)+1)
	attrs = append(attrs, attribute.String("operation", name))
	for k, v := range tags {
		attrs = append(attrs, attribute.String(k, v))
	}
	r.operationDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

var _ metrics.Recorder = (*OTelRecorder)(nil)
