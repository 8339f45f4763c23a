package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricPhaseDuration      = "parstat.phase.duration.seconds"
	metricPhaseIssues        = "parstat.phase.issues.total"
	metricRowsLearned        = "parstat.rows.learned.total"
	metricBytesExchanged     = "parstat.exchange.bytes.total"
	metricCollectiveFailures = "parstat.collective.failures.total"

	attrEstimator = "estimator"
	attrPhase     = "phase"
	attrOp        = "op"
	attrStatus    = "status"

	statusOK    = "ok"
	statusError = "error"
)

// durationBucketBoundaries covers 1ms to 10 minutes.
var durationBucketBoundaries = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600}

// EngineMetrics holds the OTel instruments of the statistics engine and the
// distributed coordinator. Every method is safe on a nil receiver.
type EngineMetrics struct {
	phaseDuration      metric.Float64Histogram
	phaseIssues        metric.Int64Counter
	rowsLearned        metric.Int64Counter
	bytesExchanged     metric.Int64Counter
	collectiveFailures metric.Int64Counter
}

// NewEngineMetrics creates the instruments from mt.
func NewEngineMetrics(mt metric.Meter) (*EngineMetrics, error) {
	phaseDuration, err := mt.Float64Histogram(metricPhaseDuration,
		metric.WithDescription("Duration of one engine phase"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBucketBoundaries...),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricPhaseDuration, err)
	}

	phaseIssues, err := mt.Int64Counter(metricPhaseIssues,
		metric.WithDescription("Phases that reported skipped or degraded requests"),
		metric.WithUnit("{phase}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricPhaseIssues, err)
	}

	rows, err := mt.Int64Counter(metricRowsLearned,
		metric.WithDescription("Data rows consumed by Learn"),
		metric.WithUnit("{row}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricRowsLearned, err)
	}

	exchanged, err := mt.Int64Counter(metricBytesExchanged,
		metric.WithDescription("Packed model bytes sent or received by collectives"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricBytesExchanged, err)
	}

	failures, err := mt.Int64Counter(metricCollectiveFailures,
		metric.WithDescription("Failed collective operations"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricCollectiveFailures, err)
	}

	return &EngineMetrics{
		phaseDuration:      phaseDuration,
		phaseIssues:        phaseIssues,
		rowsLearned:        rows,
		bytesExchanged:     exchanged,
		collectiveFailures: failures,
	}, nil
}

// RecordPhase records one phase run; a non-nil err counts as an issue.
func (em *EngineMetrics) RecordPhase(ctx context.Context, estimator, phase string, d time.Duration, err error) {
	if em == nil {
		return
	}

	status := statusOK
	if err != nil {
		status = statusError
	}

	em.phaseDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String(attrEstimator, estimator),
		attribute.String(attrPhase, phase),
		attribute.String(attrStatus, status),
	))

	if err != nil {
		em.phaseIssues.Add(ctx, 1, metric.WithAttributes(
			attribute.String(attrEstimator, estimator),
			attribute.String(attrPhase, phase),
		))
	}
}

// AddRows counts rows consumed by Learn.
func (em *EngineMetrics) AddRows(ctx context.Context, estimator string, n int) {
	if em == nil {
		return
	}

	em.rowsLearned.Add(ctx, int64(n), metric.WithAttributes(attribute.String(attrEstimator, estimator)))
}

// AddExchangedBytes counts bytes moved by the collective op.
func (em *EngineMetrics) AddExchangedBytes(ctx context.Context, op string, n int) {
	if em == nil {
		return
	}

	em.bytesExchanged.Add(ctx, int64(n), metric.WithAttributes(attribute.String(attrOp, op)))
}

// AddCollectiveFailure counts one failed collective op.
func (em *EngineMetrics) AddCollectiveFailure(ctx context.Context, op string) {
	if em == nil {
		return
	}

	em.collectiveFailures.Add(ctx, 1, metric.WithAttributes(attribute.String(attrOp, op)))
}
