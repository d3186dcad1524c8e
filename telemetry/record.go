package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Recording helpers are nil-safe: instruments exist only after
// InitOTEL, and library callers must work without it.

// RecordCreate counts a resource creation and updates the active gauge.
func RecordCreate(ctx context.Context, provider string, active int64) {
	attrs := metric.WithAttributes(attribute.String("provider", provider))
	if ResourcesCreated != nil {
		ResourcesCreated.Add(ctx, 1, attrs)
	}
	if ActiveResources != nil {
		ActiveResources.Record(ctx, active, attrs)
	}
}

// RecordDestroy counts a resource destruction with its lifetime.
func RecordDestroy(ctx context.Context, provider string, lifetime time.Duration, active int64) {
	attrs := metric.WithAttributes(attribute.String("provider", provider))
	if ResourcesDestroyed != nil {
		ResourcesDestroyed.Add(ctx, 1, attrs)
	}
	if ResourceLifetime != nil {
		ResourceLifetime.Record(ctx, lifetime.Seconds(), attrs)
	}
	if ActiveResources != nil {
		ActiveResources.Record(ctx, active, attrs)
	}
}

// RecordExecution counts an execution and its duration; failures are
// counted separately.
func RecordExecution(ctx context.Context, provider, language string, success bool, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("language", language),
	)
	if ExecutionsTotal != nil {
		ExecutionsTotal.Add(ctx, 1, attrs)
	}
	if ExecutionDuration != nil {
		ExecutionDuration.Record(ctx, duration.Seconds(), attrs)
	}
	if !success && ExecutionErrors != nil {
		ExecutionErrors.Add(ctx, 1, attrs)
	}
}
