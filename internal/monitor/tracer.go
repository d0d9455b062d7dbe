package monitor

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "mucsmake"

// Tracer wraps OpenTelemetry tracing for the submission pipeline. With no
// provider installed the global one is a no-op.
type Tracer struct {
	tracer trace.Tracer
}

func NewTracer() *Tracer {
	return &Tracer{
		tracer: otel.Tracer(tracerName),
	}
}

// StartSpan creates a span named mucs.<name>.
func (t *Tracer) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, fmt.Sprintf("mucs.%s", name),
		trace.WithAttributes(attrs...),
	)
	return ctx, span
}

func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

var (
	AttrAttemptID  = attribute.Key("mucs.attempt.id")
	AttrAssignment = attribute.Key("mucs.assignment")
	AttrIdentity   = attribute.Key("mucs.identity")
	AttrRecipe     = attribute.Key("mucs.sandbox.recipe")
	AttrExitCode   = attribute.Key("mucs.sandbox.exit_code")
	AttrFindings   = attribute.Key("mucs.sandbox.findings")
	AttrValid      = attribute.Key("mucs.submission.valid")
)
