// Package observe provides application-wide observability primitives for
// Glint: OpenTelemetry metrics, tracing, and trace-enriched structured
// logging.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still
// be scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Glint metrics.
const meterName = "github.com/glintlabs/glint"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// StageDuration tracks per-stage pipeline latency. Use with attribute:
	//   attribute.String("stage", ...)
	StageDuration metric.Float64Histogram

	// CycleDuration tracks end-to-end activation cycle latency.
	CycleDuration metric.Float64Histogram

	// FusedAlpha tracks the distribution of the fused blend weight.
	FusedAlpha metric.Float64Histogram

	// Responses counts dispatched captions. Use with attributes:
	//   attribute.String("session_id", ...), attribute.String("channel", ...)
	Responses metric.Int64Counter

	// BudgetBreaches counts stage budget breaches. Use with attribute:
	//   attribute.String("stage", ...)
	BudgetBreaches metric.Int64Counter

	// StaleInputs counts adapter timeouts where the last-known confidence
	// was substituted. Use with attribute:
	//   attribute.String("modality", ...)
	StaleInputs metric.Int64Counter

	// PipelineErrors counts non-fatal session errors by stage.
	PipelineErrors metric.Int64Counter

	// ActiveSessions tracks the number of live glasses sessions.
	ActiveSessions metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for the sub-100ms glasses pipeline.
var latencyBuckets = []float64{
	0.001, 0.002, 0.005, 0.01, 0.025, 0.05, 0.075, 0.095, 0.15, 0.25, 0.5, 1,
}

// alphaBuckets spans the unit interval for the fused weight distribution.
var alphaBuckets = []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.StageDuration, err = m.Float64Histogram("glint.stage.duration",
		metric.WithDescription("Latency of one pipeline stage execution, by stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CycleDuration, err = m.Float64Histogram("glint.cycle.duration",
		metric.WithDescription("End-to-end latency of one activation cycle."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.FusedAlpha, err = m.Float64Histogram("glint.fusion.alpha",
		metric.WithDescription("Distribution of the fused audio/vision blend weight."),
		metric.WithUnit("1"),
		metric.WithExplicitBucketBoundaries(alphaBuckets...),
	); err != nil {
		return nil, err
	}

	if met.Responses, err = m.Int64Counter("glint.responses",
		metric.WithDescription("Total dispatched captions by session and channel."),
	); err != nil {
		return nil, err
	}
	if met.BudgetBreaches, err = m.Int64Counter("glint.budget.breaches",
		metric.WithDescription("Total stage budget breaches by stage."),
	); err != nil {
		return nil, err
	}
	if met.StaleInputs, err = m.Int64Counter("glint.stale_inputs",
		metric.WithDescription("Total adapter timeouts served from the last-known confidence."),
	); err != nil {
		return nil, err
	}
	if met.PipelineErrors, err = m.Int64Counter("glint.pipeline.errors",
		metric.WithDescription("Total non-fatal pipeline errors by stage."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("glint.active_sessions",
		metric.WithDescription("Number of live glasses sessions."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it
// on first call using [otel.GetMeterProvider]. Subsequent calls return the
// same pointer. Panics if instrument creation fails (should not happen with
// the global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordStage records one stage execution with the standard attribute set.
func (m *Metrics) RecordStage(ctx context.Context, stage string, d time.Duration) {
	m.StageDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}

// RecordBreach records a stage budget breach.
func (m *Metrics) RecordBreach(ctx context.Context, stage string) {
	m.BudgetBreaches.Add(ctx, 1,
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}

// RecordStaleInput records an adapter timeout served from stale input.
func (m *Metrics) RecordStaleInput(ctx context.Context, modality string) {
	m.StaleInputs.Add(ctx, 1,
		metric.WithAttributes(attribute.String("modality", modality)),
	)
}

// RecordResponse records a dispatched caption.
func (m *Metrics) RecordResponse(ctx context.Context, sessionID, channel string) {
	m.Responses.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("session_id", sessionID),
			attribute.String("channel", channel),
		),
	)
}

// RecordPipelineError records a non-fatal pipeline error.
func (m *Metrics) RecordPipelineError(ctx context.Context, stage string) {
	m.PipelineErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}
