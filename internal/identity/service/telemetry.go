package service

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "credential-control-plane/internal/identity/service"

var (
	tracer = otel.Tracer(scopeName)
	meter  = otel.Meter(scopeName)

	lifecycleOps, _ = meter.Int64Counter("auth.lifecycle.operations",
		metric.WithDescription("Credential lifecycle operations by operation and outcome."))
)

// finishOp closes the span opened for a lifecycle operation and counts it.
// Expected business denials (wrong password, revoked token) are ordinary
// outcomes, not span errors; only store-level failures mark the span.
func finishOp(ctx context.Context, span trace.Span, op string, err error) {
	outcome := "success"
	switch {
	case err == nil:
	case errors.Is(err, ErrStoreUnavailable):
		outcome = "store_unavailable"
		span.RecordError(err)
		span.SetStatus(codes.Error, "store unavailable")
	default:
		outcome = "denied"
	}
	lifecycleOps.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("outcome", outcome),
	))
	span.End()
}
