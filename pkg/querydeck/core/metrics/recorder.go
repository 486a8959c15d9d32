package metrics

import (
	"context"
	"time"
)

// Recorder is an abstract interface for recording engine metrics.
// Implementations exist for Prometheus and OpenTelemetry.
type Recorder interface {
	// RecordExecution records a finished firing.
	//
	// ctx: The context for the operation.
	// status: The terminal status ("SUCCESS" or "ERROR").
	// duration: Time spent executing the query.
	RecordExecution(ctx context.Context, status string, duration time.Duration)

	// RecordAlert records an alert verdict of the given condition type.
	RecordAlert(ctx context.Context, condition string)

	// RecordNotification records one channel delivery attempt.
	RecordNotification(ctx context.Context, channel string, success bool)

	// RecordPoolEvent records a pool lifecycle event ("created", "reused", "rebuilt", "closed").
	RecordPoolEvent(ctx context.Context, event string)

	// RecordRetentionDeleted records the number of execution records removed by a sweep.
	RecordRetentionDeleted(ctx context.Context, count int)

	// RecordDuration records the duration of a named operation with optional tags.
	RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string)
}
