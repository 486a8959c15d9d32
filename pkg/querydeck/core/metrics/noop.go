package metrics

import (
	"context"
	"time"
)

// NoopRecorder discards all metrics.
type NoopRecorder struct{}

func (NoopRecorder) RecordExecution(context.Context, string, time.Duration)                  {}
func (NoopRecorder) RecordAlert(context.Context, string)                                     {}
func (NoopRecorder) RecordNotification(context.Context, string, bool)                        {}
func (NoopRecorder) RecordPoolEvent(context.Context, string)                                 {}
func (NoopRecorder) RecordRetentionDeleted(context.Context, int)                             {}
func (NoopRecorder) RecordDuration(context.Context, string, time.Duration, map[string]string) {}

// NoopTracer creates no spans.
type NoopTracer struct{}

func (NoopTracer) StartSpan(ctx context.Context, _ string, _ map[string]interface{}) (context.Context, func()) {
	return ctx, func() {}
}
func (NoopTracer) RecordError(context.Context, string, error)                   {}
func (NoopTracer) RecordEvent(context.Context, string, map[string]interface{}) {}

// MultiRecorder fans metrics out to several recorders.
type MultiRecorder []Recorder

func (m MultiRecorder) RecordExecution(ctx context.Context, status string, d time.Duration) {
	for _, r := range m {
		r.RecordExecution(ctx, status, d)
	}
}

func (m MultiRecorder) RecordAlert(ctx context.Context, condition string) {
	for _, r := range m {
		r.RecordAlert(ctx, condition)
	}
}

func (m MultiRecorder) RecordNotification(ctx context.Context, channel string, success bool) {
	for _, r := range m {
		r.RecordNotification(ctx, channel, success)
	}
}

func (m MultiRecorder) RecordPoolEvent(ctx context.Context, event string) {
	for _, r := range m {
		r.RecordPoolEvent(ctx, event)
	}
}

func (m MultiRecorder) RecordRetentionDeleted(ctx context.Context, count int) {
	for _, r := range m {
		r.RecordRetentionDeleted(ctx, count)
	}
}

func (m MultiRecorder) RecordDuration(ctx context.Context, name string, d time.Duration, tags map[string]string) {
	for _, r := range m {
		r.RecordDuration(ctx, name, d, tags)
	}
}
