package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Sumatoshi-tech/trainkit/pkg/metrics"
)

const (
	metricEpochsTotal      = "trainkit.epochs.total"
	metricBatchesTotal     = "trainkit.batches.total"
	metricSamplesTotal     = "trainkit.samples.total"
	metricBatchLoss        = "trainkit.batch.loss"
	metricValue            = "trainkit.metric.value"
	metricSaveDuration     = "trainkit.checkpoint.save.duration.seconds"
	metricSaveErrorsTotal  = "trainkit.checkpoint.save.errors.total"
	metricResumeEpoch      = "trainkit.checkpoint.resume.epoch"
	metricRestoreWarnTotal = "trainkit.checkpoint.restore.warnings.total"

	attrOutcome = "outcome"
	attrMetric  = "metric"
	attrScope   = "scope"

	outcomeRun     = "run"
	outcomeSkipped = "skipped"
)

// saveBucketBoundaries covers 10ms to 10min artifact writes.
var saveBucketBoundaries = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600}

// lossBucketBoundaries spans typical cross-entropy magnitudes.
var lossBucketBoundaries = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 16}

// TrainingMetrics holds the OTel instruments of a training or evaluation run.
// A nil *TrainingMetrics records nothing.
type TrainingMetrics struct {
	epochs       metric.Int64Counter
	batches      metric.Int64Counter
	samples      metric.Int64Counter
	loss         metric.Float64Histogram
	values       metric.Float64Gauge
	saveDuration metric.Float64Histogram
	saveErrors   metric.Int64Counter
	resumeEpoch  metric.Int64Gauge
	restoreWarns metric.Int64Counter
}

// NewTrainingMetrics creates training metric instruments from the given meter.
func NewTrainingMetrics(mt metric.Meter) (*TrainingMetrics, error) {
	var (
		tm  TrainingMetrics
		err error
	)

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
		unit string
	}{
		{&tm.epochs, metricEpochsTotal, "Epochs run or skipped on resume", "{epoch}"},
		{&tm.batches, metricBatchesTotal, "Batches processed", "{batch}"},
		{&tm.samples, metricSamplesTotal, "Samples processed", "{sample}"},
		{&tm.saveErrors, metricSaveErrorsTotal, "Failed checkpoint saves", "{error}"},
		{&tm.restoreWarns, metricRestoreWarnTotal, "Warnings raised while restoring", "{warning}"},
	}

	for _, c := range counters {
		*c.dst, err = mt.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit(c.unit))
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", c.name, err)
		}
	}

	tm.loss, err = mt.Float64Histogram(metricBatchLoss,
		metric.WithDescription("Per-batch training loss"),
		metric.WithExplicitBucketBoundaries(lossBucketBoundaries...),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricBatchLoss, err)
	}

	tm.saveDuration, err = mt.Float64Histogram(metricSaveDuration,
		metric.WithDescription("Checkpoint save duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(saveBucketBoundaries...),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricSaveDuration, err)
	}

	tm.values, err = mt.Float64Gauge(metricValue,
		metric.WithDescription("Latest defined value of each evaluation metric"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricValue, err)
	}

	tm.resumeEpoch, err = mt.Int64Gauge(metricResumeEpoch,
		metric.WithDescription("Epoch restored at startup, -1 when starting fresh"),
		metric.WithUnit("{epoch}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricResumeEpoch, err)
	}

	return &tm, nil
}

// RecordBatch records one processed batch and its loss.
func (tm *TrainingMetrics) RecordBatch(ctx context.Context, samples int, loss float64) {
	if tm == nil {
		return
	}

	tm.batches.Add(ctx, 1)
	tm.samples.Add(ctx, int64(samples))
	tm.loss.Record(ctx, loss)
}

// RecordValues sets the gauge of every defined value under scope
// ("batch", "epoch" or "global").
func (tm *TrainingMetrics) RecordValues(ctx context.Context, scope string, values []metrics.Value) {
	if tm == nil {
		return
	}

	for _, v := range values {
		if !v.Defined {
			continue
		}

		tm.values.Record(ctx, v.Value, metric.WithAttributes(
			attribute.String(attrMetric, v.Name),
			attribute.String(attrScope, scope),
		))
	}
}

// RecordEpoch counts an epoch that ran, or was skipped because it was
// already completed.
func (tm *TrainingMetrics) RecordEpoch(ctx context.Context, skipped bool) {
	if tm == nil {
		return
	}

	outcome := outcomeRun
	if skipped {
		outcome = outcomeSkipped
	}

	tm.epochs.Add(ctx, 1, metric.WithAttributes(attribute.String(attrOutcome, outcome)))
}

// RecordSave records a checkpoint save attempt.
func (tm *TrainingMetrics) RecordSave(ctx context.Context, duration time.Duration, err error) {
	if tm == nil {
		return
	}

	tm.saveDuration.Record(ctx, duration.Seconds())

	if err != nil {
		tm.saveErrors.Add(ctx, 1)
	}
}

// RecordResume records the restored epoch and the warnings raised on the way.
func (tm *TrainingMetrics) RecordResume(ctx context.Context, epoch, warnings int) {
	if tm == nil {
		return
	}

	tm.resumeEpoch.Record(ctx, int64(epoch))

	if warnings > 0 {
		tm.restoreWarns.Add(ctx, int64(warnings))
	}
}
