package metrics

import (
	"context"

	"go.uber.org/fx"

	"github.com/tigerroll/querydeck/pkg/querydeck/core/config"
	"github.com/tigerroll/querydeck/pkg/querydeck/core/metrics"
)

// TelemetryParams defines the dependencies for NewTelemetryProvider.
type TelemetryParams struct {
	fx.In
	Lifecycle fx.Lifecycle
	Config    *config.Config
}

// NewTelemetryProvider sets up OpenTelemetry and flushes it when the application stops.
func NewTelemetryProvider(p TelemetryParams) (*Telemetry, error) {
	t, err := SetupTelemetry(context.Background(), p.Config.QueryDeck.Telemetry)
	if err != nil {
		return nil, err
	}
	p.Lifecycle.Append(fx.Hook{OnStop: t.Shutdown})
	return t, nil
}

// NewTracerProvider returns the tracer bound to the telemetry's trace provider.
func NewTracerProvider(t *Telemetry) metrics.Tracer {
	return NewOpenTelemetryTracer(t.TracerProvider)
}

// NewOTelRecorderProvider returns the OTel recorder bound to the telemetry's meter provider.
func NewOTelRecorderProvider(t *Telemetry) (*OTelRecorder, error) {
	return NewOTelRecorder(t.MeterProvider)
}

// NewRecorderProvider fans every measurement out to Prometheus and OpenTelemetry.
func NewRecorderProvider(prom *PrometheusRecorder, ot *OTelRecorder) metrics.Recorder {
	return metrics.MultiRecorder{prom, ot}
}

// Module provides the Prometheus recorder, the OpenTelemetry providers and the
// combined metrics.Recorder and metrics.Tracer.
var Module = fx.Options(
	fx.Provide(NewTelemetryProvider),
	fx.Provide(NewPrometheusRecorder),
	fx.Provide(NewOTelRecorderProvider),
	fx.Provide(NewRecorderProvider),
	fx.Provide(NewTracerProvider),
)
