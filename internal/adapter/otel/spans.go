package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "circadian"

// StartActivitySpan starts a span covering one plan entry execution.
func StartActivitySpan(ctx context.Context, account, activityType string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "activity",
		trace.WithAttributes(
			attribute.String("account.id", account),
			attribute.String("activity.type", activityType),
		),
	)
}

// StartDecisionSpan starts a span covering one model decision.
func StartDecisionSpan(ctx context.Context, tier, kind string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "decision",
		trace.WithAttributes(
			attribute.String("decision.tier", tier),
			attribute.String("decision.kind", kind),
		),
	)
}
