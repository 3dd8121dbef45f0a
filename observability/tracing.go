package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/castellanhq/herald"

// Tracer provides OpenTelemetry tracing for Herald.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a new Herald tracer.
func NewTracer() *Tracer {
	return &Tracer{
		tracer: otel.Tracer(tracerName),
	}
}

// StartDispatchSpan starts a new span covering one event dispatch
// (handler fan-out plus aggregation).
func (t *Tracer) StartDispatchSpan(ctx context.Context, eventID, eventType string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "herald.dispatch",
		trace.WithAttributes(
			attribute.String("herald.event_id", eventID),
			attribute.String("herald.event_type", eventType),
		),
	)
}

// EndDispatchSpan ends a dispatch span with the aggregated outcome.
func (t *Tracer) EndDispatchSpan(span trace.Span, handlers int, errMsg string) {
	span.SetAttributes(attribute.Int("herald.handlers", handlers))
	if errMsg != "" {
		span.SetAttributes(attribute.String("herald.error", errMsg))
	}
	span.End()
}

// StartDeliverySpan starts a new span for a webhook delivery attempt.
func (t *Tracer) StartDeliverySpan(ctx context.Context, eventID, endpointID, eventType string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "herald.delivery",
		trace.WithAttributes(
			attribute.String("herald.event_id", eventID),
			attribute.String("herald.endpoint_id", endpointID),
			attribute.String("herald.event_type", eventType),
		),
	)
}

// EndDeliverySpan ends a delivery span with result attributes.
func (t *Tracer) EndDeliverySpan(span trace.Span, statusCode, latencyMs int, err string) {
	span.SetAttributes(
		attribute.Int("http.status_code", statusCode),
		attribute.Int("herald.latency_ms", latencyMs),
	)
	if err != "" {
		span.SetAttributes(attribute.String("herald.error", err))
	}
	span.End()
}
