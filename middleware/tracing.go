package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pulp/tasking/task"
)

const tracerName = "github.com/pulp/tasking"

// Tracing returns middleware that runs each task inside a
// "tasking.task.execute" span from the global TracerProvider.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer is Tracing with an explicit tracer.
//
// Every span carries the task id, name and worker, plus
// tasking.task.reserved. Reserved tasks also carry tasking.resource.id.
// The span ends with tasking.task.outcome set from Outcome; only
// OutcomeError marks the span as failed.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, t *task.Task, next Handler) error {
		attrs := []attribute.KeyValue{
			attribute.String("tasking.task.id", t.ID.String()),
			attribute.String("tasking.task.name", t.Name),
			attribute.String("tasking.worker.name", t.WorkerName),
			attribute.Bool("tasking.task.reserved", t.ResourceID != ""),
		}
		if t.ResourceID != "" {
			attrs = append(attrs, attribute.String("tasking.resource.id", t.ResourceID))
		}
		if t.User != "" {
			attrs = append(attrs, attribute.String("tasking.user", t.User))
		}

		ctx, span := tracer.Start(ctx, "tasking.task.execute",
			trace.WithAttributes(attrs...),
			trace.WithSpanKind(trace.SpanKindConsumer),
		)
		defer span.End()

		err := next(ctx)
		outcome := Outcome(ctx, err)
		span.SetAttributes(attribute.String("tasking.task.outcome", outcome))
		if outcome == OutcomeError {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		return err
	}
}
