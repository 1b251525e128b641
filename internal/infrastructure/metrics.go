package infrastructure

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// RunMetrics holds the instruments recorded during an enhancement run
type RunMetrics struct {
	StageDuration    metric.Float64Histogram
	RecordsImputed   metric.Int64Counter
	RecordsBlended   metric.Int64Counter
	EpochsRun        metric.Int64Counter
	TargetsWithin10  metric.Float64Gauge
	CalibrationLoss  metric.Float64Gauge
}

// NewRunMetrics creates the run's metric instruments on a meter
func NewRunMetrics(meter metric.Meter) (*RunMetrics, error) {
	stageDuration, err := meter.Float64Histogram("run_stage_duration_seconds",
		metric.WithDescription("Wall time per pipeline stage"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("failed to create stage duration histogram: %w", err)
	}

	recordsImputed, err := meter.Int64Counter("records_imputed_total",
		metric.WithDescription("Records given imputed variable values"))
	if err != nil {
		return nil, fmt.Errorf("failed to create imputed counter: %w", err)
	}

	recordsBlended, err := meter.Int64Counter("records_blended_total",
		metric.WithDescription("Synthetic records created by blending"))
	if err != nil {
		return nil, fmt.Errorf("failed to create blended counter: %w", err)
	}

	epochsRun, err := meter.Int64Counter("calibration_epochs_total",
		metric.WithDescription("Optimization epochs run per geography level"))
	if err != nil {
		return nil, fmt.Errorf("failed to create epochs counter: %w", err)
	}

	targetsWithin10, err := meter.Float64Gauge("calibration_pct_within_10",
		metric.WithDescription("Share of training targets within ten percent"))
	if err != nil {
		return nil, fmt.Errorf("failed to create pct close gauge: %w", err)
	}

	calibrationLoss, err := meter.Float64Gauge("calibration_final_loss",
		metric.WithDescription("Mean training loss at the final weights"))
	if err != nil {
		return nil, fmt.Errorf("failed to create loss gauge: %w", err)
	}

	return &RunMetrics{
		StageDuration:    stageDuration,
		RecordsImputed:   recordsImputed,
		RecordsBlended:   recordsBlended,
		EpochsRun:        epochsRun,
		TargetsWithin10:  targetsWithin10,
		CalibrationLoss:  calibrationLoss,
	}, nil
}

// RecordStage records one stage's duration
func (m *RunMetrics) RecordStage(ctx context.Context, stage string, elapsed time.Duration) {
	m.StageDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordCalibration records one geography level's final fit quality
func (m *RunMetrics) RecordCalibration(ctx context.Context, level string, epochs int, loss, pctClose float64) {
	attrs := metric.WithAttributes(attribute.String("level", level))
	m.EpochsRun.Add(ctx, int64(epochs), attrs)
	m.CalibrationLoss.Record(ctx, loss, attrs)
	m.TargetsWithin10.Record(ctx, pctClose, attrs)
}
