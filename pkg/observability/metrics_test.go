package observability_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/Sumatoshi-tech/trainkit/pkg/metrics"
	"github.com/Sumatoshi-tech/trainkit/pkg/observability"
)

func setupTestMeter(t *testing.T) (*observability.TrainingMetrics, *sdkmetric.ManualReader) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	tm, err := observability.NewTrainingMetrics(mp.Meter("test"))
	require.NoError(t, err)

	return tm, reader
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for idx := range rm.ScopeMetrics {
		for midx := range rm.ScopeMetrics[idx].Metrics {
			if rm.ScopeMetrics[idx].Metrics[midx].Name == name {
				return &rm.ScopeMetrics[idx].Metrics[midx]
			}
		}
	}

	return nil
}

func sumOf(t *testing.T, m *metricdata.Metrics) int64 {
	t.Helper()
	require.NotNil(t, m)

	data, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "unexpected data type %T", m.Data)

	var total int64
	for _, dp := range data.DataPoints {
		total += dp.Value
	}

	return total
}

func TestTrainingMetrics_RecordBatch(t *testing.T) {
	t.Parallel()

	tm, reader := setupTestMeter(t)
	ctx := context.Background()

	tm.RecordBatch(ctx, 32, 0.5)
	tm.RecordBatch(ctx, 16, 0.25)

	rm := collectMetrics(t, reader)
	assert.Equal(t, int64(2), sumOf(t, findMetric(rm, "trainkit.batches.total")))
	assert.Equal(t, int64(48), sumOf(t, findMetric(rm, "trainkit.samples.total")))
	require.NotNil(t, findMetric(rm, "trainkit.batch.loss"))
}

func TestTrainingMetrics_RecordEpoch(t *testing.T) {
	t.Parallel()

	tm, reader := setupTestMeter(t)
	ctx := context.Background()

	tm.RecordEpoch(ctx, true)
	tm.RecordEpoch(ctx, true)
	tm.RecordEpoch(ctx, false)

	m := findMetric(collectMetrics(t, reader), "trainkit.epochs.total")
	assert.Equal(t, int64(3), sumOf(t, m))

	data, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	assert.Len(t, data.DataPoints, 2)
}

func TestTrainingMetrics_RecordValuesSkipsUndefined(t *testing.T) {
	t.Parallel()

	tm, reader := setupTestMeter(t)

	tm.RecordValues(context.Background(), "epoch", []metrics.Value{
		{Name: "acc_top1", Value: 0.8, Defined: true},
		{Name: "auc", Defined: false},
	})

	m := findMetric(collectMetrics(t, reader), "trainkit.metric.value")
	require.NotNil(t, m)

	data, ok := m.Data.(metricdata.Gauge[float64])
	require.True(t, ok)
	require.Len(t, data.DataPoints, 1)
	assert.InDelta(t, 0.8, data.DataPoints[0].Value, 1e-12)
}

func TestTrainingMetrics_SaveAndResume(t *testing.T) {
	t.Parallel()

	tm, reader := setupTestMeter(t)
	ctx := context.Background()

	tm.RecordSave(ctx, 120*time.Millisecond, nil)
	tm.RecordSave(ctx, time.Second, errors.New("disk full"))
	tm.RecordResume(ctx, 4, 1)

	rm := collectMetrics(t, reader)
	require.NotNil(t, findMetric(rm, "trainkit.checkpoint.save.duration.seconds"))
	assert.Equal(t, int64(1), sumOf(t, findMetric(rm, "trainkit.checkpoint.save.errors.total")))
	assert.Equal(t, int64(1), sumOf(t, findMetric(rm, "trainkit.checkpoint.restore.warnings.total")))

	gauge, ok := findMetric(rm, "trainkit.checkpoint.resume.epoch").Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, gauge.DataPoints, 1)
	assert.Equal(t, int64(4), gauge.DataPoints[0].Value)
}

func TestTrainingMetrics_NilIsNoop(t *testing.T) {
	t.Parallel()

	var tm *observability.TrainingMetrics

	assert.NotPanics(t, func() {
		ctx := context.Background()
		tm.RecordBatch(ctx, 1, 1)
		tm.RecordEpoch(ctx, false)
		tm.RecordValues(ctx, "batch", nil)
		tm.RecordSave(ctx, time.Second, nil)
		tm.RecordResume(ctx, -1, 0)
	})
}
