package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for colloquy tracing.
const tracerName = "github.com/xraph/colloquy"

// Tracing returns middleware that wraps turn execution in an
// OpenTelemetry span. If no TracerProvider is configured globally, the
// default noop tracer is used and this middleware becomes a
// pass-through with zero overhead.
//
// Span attributes include: colloquy.session.id, colloquy.turn,
// colloquy.intervention, colloquy.owner, colloquy.tenant.
// On error, the span status is set to codes.Error with the message.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided
// tracer. This variant allows injecting a specific TracerProvider for
// testing or when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, t *TurnInfo, next Handler) (string, error) {
		ctx, span := tracer.Start(ctx, "colloquy.turn.execute",
			trace.WithAttributes(
				attribute.String("colloquy.session.id", t.SessionID),
				attribute.Int("colloquy.turn", t.Turn),
				attribute.Bool("colloquy.intervention", t.Intervention),
				attribute.String("colloquy.owner", t.Owner),
				attribute.String("colloquy.tenant", t.Tenant),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		reply, err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return reply, err
	}
}
