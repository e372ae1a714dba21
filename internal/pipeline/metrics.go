package pipeline

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// Metrics holds the pipeline's OpenTelemetry instruments. Instrument
// creation failures are logged and the instrument left nil; recording
// nil-guards so a broken meter never blocks decisions.
type Metrics struct {
	meter  metric.Meter
	logger *zap.Logger

	decisionsTotal metric.Int64Counter
	stopgatesTotal metric.Int64Counter
	denialsTotal   metric.Int64Counter
	admittedTotal  metric.Int64Counter
	decisionDur    metric.Float64Histogram
}

// NewMetrics creates the pipeline instruments.
func NewMetrics(logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Metrics{
		meter:  otel.Meter(instrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

func (m *Metrics) init() {
	var err error

	m.decisionsTotal, err = m.meter.Int64Counter(
		"itud.pipeline.decisions_total",
		metric.WithDescription("Total decisions processed, labeled by override level and void status"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		m.logger.Warn("failed to create decisions counter", zap.Error(err))
	}

	m.stopgatesTotal, err = m.meter.Int64Counter(
		"itud.pipeline.stopgates_total",
		metric.WithDescription("Total stopgate hits across all decisions"),
		metric.WithUnit("{hit}"),
	)
	if err != nil {
		m.logger.Warn("failed to create stopgates counter", zap.Error(err))
	}

	m.denialsTotal, err = m.meter.Int64Counter(
		"itud.pipeline.denials_total",
		metric.WithDescription("Total memory admission denials"),
		metric.WithUnit("{denial}"),
	)
	if err != nil {
		m.logger.Warn("failed to create denials counter", zap.Error(err))
	}

	m.admittedTotal, err = m.meter.Int64Counter(
		"itud.pipeline.admitted_total",
		metric.WithDescription("Total memory items admitted, labeled by category"),
		metric.WithUnit("{item}"),
	)
	if err != nil {
		m.logger.Warn("failed to create admitted counter", zap.Error(err))
	}

	m.decisionDur, err = m.meter.Float64Histogram(
		"itud.pipeline.decision_duration_seconds",
		metric.WithDescription("End-to-end decision latency including commit"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0),
	)
	if err != nil {
		m.logger.Warn("failed to create decision duration histogram", zap.Error(err))
	}
}

// RecordDecision records one committed decision.
func (m *Metrics) RecordDecision(ctx context.Context, out *Outcome, dur time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("override", out.Override.String()),
		attribute.Bool("void", out.Void != nil),
	)

	if m.decisionsTotal != nil {
		m.decisionsTotal.Add(ctx, 1, attrs)
	}
	if m.decisionDur != nil {
		m.decisionDur.Record(ctx, dur.Seconds(), attrs)
	}
	if m.stopgatesTotal != nil && len(out.Stopgates) > 0 {
		m.stopgatesTotal.Add(ctx, int64(len(out.Stopgates)))
	}
	if m.denialsTotal != nil && len(out.Denied) > 0 {
		m.denialsTotal.Add(ctx, int64(len(out.Denied)))
	}
	if m.admittedTotal != nil {
		for _, adm := range out.Admitted {
			m.admittedTotal.Add(ctx, 1, metric.WithAttributes(
				attribute.String("category", string(adm.Category))))
		}
	}
}
