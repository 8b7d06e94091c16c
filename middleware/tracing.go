package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/medscribe/conductor/task"
)

// tracerName is the instrumentation scope name for conductor tracing.
const tracerName = "github.com/medscribe/conductor"

// Tracing returns middleware that wraps task execution in an OpenTelemetry
// span. If no TracerProvider is configured globally, the default noop
// tracer is used and this middleware becomes a pass-through with zero
// overhead.
//
// Span attributes include: conductor.task.id, conductor.task.name,
// conductor.task.priority, conductor.task.attempt, conductor.instance.id.
// On error, the span status is set to codes.Error with the error message.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided tracer.
// This variant allows injecting a specific TracerProvider for testing or
// when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, t *task.Task, next Handler) error {
		ctx, span := tracer.Start(ctx, "conductor.task.execute",
			trace.WithAttributes(
				attribute.String("conductor.task.id", t.ID.String()),
				attribute.String("conductor.task.name", t.Name),
				attribute.String("conductor.task.priority", t.Priority.String()),
				attribute.Int("conductor.task.attempt", t.Attempts),
				attribute.String("conductor.instance.id", t.InstanceID.String()),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}
