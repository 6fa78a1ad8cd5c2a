package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// CatalogMetricsMeterName is the name used for the catalog metrics meter
	CatalogMetricsMeterName = "github.com/stacklok/toolhive-pattern-catalog/catalog"

	// PipelineMetricsMeterName is the name used for the pipeline metrics meter
	PipelineMetricsMeterName = "github.com/stacklok/toolhive-pattern-catalog/pipeline"
)

// CatalogMetrics holds the OpenTelemetry instruments for catalog metrics
type CatalogMetrics struct {
	statusChanges metric.Int64Counter
	packages      metric.Int64Counter
}

// NewCatalogMetrics creates a new CatalogMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewCatalogMetrics(provider metric.MeterProvider) (*CatalogMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(CatalogMetricsMeterName)

	statusChanges, err := meter.Int64Counter(
		"thv_pat_status_changes_total",
		metric.WithDescription("Number of pattern status transitions by target status"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, err
	}

	packages, err := meter.Int64Counter(
		"thv_pat_packages_recorded_total",
		metric.WithDescription("Number of packages recorded in the ledger"),
		metric.WithUnit("{package}"),
	)
	if err != nil {
		return nil, err
	}

	return &CatalogMetrics{
		statusChanges: statusChanges,
		packages:      packages,
	}, nil
}

// RecordStatusChange counts one status transition
func (m *CatalogMetrics) RecordStatusChange(ctx context.Context, from, to string) {
	if m == nil || m.statusChanges == nil {
		return
	}

	m.statusChanges.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// RecordPackages counts packages newly recorded for a pattern type
func (m *CatalogMetrics) RecordPackages(ctx context.Context, patternType string, count int) {
	if m == nil || m.packages == nil || count == 0 {
		return
	}

	m.packages.Add(ctx, int64(count), metric.WithAttributes(attribute.String("pattern_type", patternType)))
}

// PipelineMetrics holds the OpenTelemetry instruments for pipeline run metrics
type PipelineMetrics struct {
	runDuration metric.Float64Histogram
	signals     metric.Int64Counter
	activeRuns  metric.Int64UpDownCounter
}

// NewPipelineMetrics creates a new PipelineMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewPipelineMetrics(provider metric.MeterProvider) (*PipelineMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(PipelineMetricsMeterName)

	runDuration, err := meter.Float64Histogram(
		"thv_pat_pipeline_run_duration_seconds",
		metric.WithDescription("Duration of pipeline runs in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800, 3600),
	)
	if err != nil {
		return nil, err
	}

	signals, err := meter.Int64Counter(
		"thv_pat_pipeline_signals_total",
		metric.WithDescription("Number of pipeline signals received, by stage and outcome"),
		metric.WithUnit("{signal}"),
	)
	if err != nil {
		return nil, err
	}

	activeRuns, err := meter.Int64UpDownCounter(
		"thv_pat_pipeline_active_runs",
		metric.WithDescription("Number of pipeline runs waiting for a terminal signal"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	return &PipelineMetrics{
		runDuration: runDuration,
		signals:     signals,
		activeRuns:  activeRuns,
	}, nil
}

// RecordSignal counts a signal as applied or discarded
func (m *PipelineMetrics) RecordSignal(ctx context.Context, stage string, applied bool) {
	if m == nil || m.signals == nil {
		return
	}

	m.signals.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.Bool("applied", applied),
	))
}

// RunStarted increments the active run gauge
func (m *PipelineMetrics) RunStarted(ctx context.Context, kind string) {
	if m == nil || m.activeRuns == nil {
		return
	}
	m.activeRuns.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RunEnded decrements the active run gauge and records the run duration
func (m *PipelineMetrics) RunEnded(ctx context.Context, kind, phase string, duration time.Duration) {
	if m == nil || m.activeRuns == nil {
		return
	}

	m.activeRuns.Add(ctx, -1, metric.WithAttributes(attribute.String("kind", kind)))
	m.runDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("phase", phase),
	))
}
