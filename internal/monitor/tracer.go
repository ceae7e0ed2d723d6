package monitor

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "prayukti-judge"

// Tracer wraps OpenTelemetry tracing for the judge.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a new Tracer using the global TracerProvider.
func NewTracer() *Tracer {
	return &Tracer{
		tracer: otel.Tracer(tracerName),
	}
}

// NewTracerWithProvider creates a Tracer from an explicit provider.
func NewTracerWithProvider(tp trace.TracerProvider) *Tracer {
	return &Tracer{
		tracer: tp.Tracer(tracerName),
	}
}

// StartSpan creates a new span named "judge.<name>" and returns the updated context.
func (t *Tracer) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "judge."+name, trace.WithAttributes(attrs...))
}

// SpanFromContext returns the current span from the context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Common attribute keys for judge tracing.
var (
	AttrExperimentID = attribute.Key("judge.experiment.id")
	AttrSubmissionID = attribute.Key("judge.submission.id")
	AttrUserID       = attribute.Key("judge.user.id")
	AttrUnit         = attribute.Key("judge.unit")
	AttrVerdict      = attribute.Key("judge.verdict")
	AttrScore        = attribute.Key("judge.score")
	AttrCaseCount    = attribute.Key("judge.test_cases")
)
