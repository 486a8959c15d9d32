package metrics

import "context"

// Tracer is an abstract interface for distributed tracing.
type Tracer interface {
	// StartSpan starts a span named name and returns the derived context and a function ending it.
	StartSpan(ctx context.Context, name string, attributes map[string]interface{}) (context.Context, func())

	// RecordError records err on the current span.
	RecordError(ctx context.Context, module string, err error)

	// RecordEvent records an event on the current span.
	RecordEvent(ctx context.Context, name string, attributes map[string]interface{})
}
