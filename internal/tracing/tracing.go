// Package tracing is a thin wrapper around the process-wide OpenTelemetry
// tracer. Components call StartSpan unconditionally; before SetTracer runs
// (or in tests) spans are no-ops.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

var tracer trace.Tracer

// SetTracer sets the tracer used by StartSpan. Called once at startup.
func SetTracer(t trace.Tracer) {
	tracer = t
}

// StartSpan starts a span with the given name. When no tracer is configured
// it returns the context unchanged with the current (possibly no-op) span.
func StartSpan(ctx context.Context, spanName string) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, spanName)
}

// GetTraceID returns the active trace id, or "" when none is recording.
func GetTraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return ""
	}
	return span.SpanContext().TraceID().String()
}
