package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "circadian"

// Metrics holds all circadian metric instruments.
type Metrics struct {
	ActivitiesPerformed metric.Int64Counter
	ActivitiesSkipped   metric.Int64Counter
	ActivitiesFailed    metric.Int64Counter
	QuotaRejections     metric.Int64Counter
	Decisions           metric.Int64Counter
	DecisionRetries     metric.Int64Counter
	DecisionLatency     metric.Float64Histogram
	TokensIn            metric.Int64Counter
	TokensOut           metric.Int64Counter
	Recoveries          metric.Int64Counter
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.ActivitiesPerformed, err = meter.Int64Counter("circadian.activities.performed",
		metric.WithDescription("Number of activities performed"))
	if err != nil {
		return nil, err
	}

	m.ActivitiesSkipped, err = meter.Int64Counter("circadian.activities.skipped",
		metric.WithDescription("Number of activities skipped before execution"))
	if err != nil {
		return nil, err
	}

	m.ActivitiesFailed, err = meter.Int64Counter("circadian.activities.failed",
		metric.WithDescription("Number of activities that failed during execution"))
	if err != nil {
		return nil, err
	}

	m.QuotaRejections, err = meter.Int64Counter("circadian.quota.rejections",
		metric.WithDescription("Number of activities denied by quota windows"))
	if err != nil {
		return nil, err
	}

	m.Decisions, err = meter.Int64Counter("circadian.decisions",
		metric.WithDescription("Number of model decisions requested"))
	if err != nil {
		return nil, err
	}

	m.DecisionRetries, err = meter.Int64Counter("circadian.decisions.retries",
		metric.WithDescription("Number of model call retries"))
	if err != nil {
		return nil, err
	}

	m.DecisionLatency, err = meter.Float64Histogram("circadian.decision.latency_seconds",
		metric.WithDescription("Model decision latency in seconds"))
	if err != nil {
		return nil, err
	}

	m.TokensIn, err = meter.Int64Counter("circadian.tokens.input",
		metric.WithDescription("Input tokens consumed by model calls"))
	if err != nil {
		return nil, err
	}

	m.TokensOut, err = meter.Int64Counter("circadian.tokens.output",
		metric.WithDescription("Output tokens produced by model calls"))
	if err != nil {
		return nil, err
	}

	m.Recoveries, err = meter.Int64Counter("circadian.recoveries",
		metric.WithDescription("Number of successful session recoveries"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
