package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "ai-call-orchestrator-service"

// Tracer returns the process tracer. Without a configured provider the
// global no-op tracer is used.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// Span wraps one traced operation.
type Span struct {
	span trace.Span
}

// StartSpan starts a span for a collaborator call.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, *Span) {
	ctx, span := Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, &Span{span: span}
}

// CallAttrs are the attributes every call-scoped span carries.
func CallAttrs(callID, tenantID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("call.id", callID),
		attribute.String("tenant.id", tenantID),
	}
}

// End records err, if any, and ends the span.
func (s *Span) End(err error) {
	if s == nil {
		return
	}
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	}
	s.span.End()
}

// SetInt records an integer attribute such as a frame or token count.
func (s *Span) SetInt(key string, v int64) {
	if s == nil {
		return
	}
	s.span.SetAttributes(attribute.Int64(key, v))
}
