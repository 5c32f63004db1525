package observability_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/Sumatoshi-tech/trainkit/pkg/observability"
)

func TestPrometheusHandler_ServesMetrics(t *testing.T) {
	t.Parallel()

	handler, reader, err := observability.PrometheusHandler()
	require.NoError(t, err)

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	tm, err := observability.NewTrainingMetrics(mp.Meter("test"))
	require.NoError(t, err)
	tm.RecordEpoch(context.Background(), false)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	assert.Contains(t, rec.Body.String(), "trainkit_epochs_total")
}

func TestPrometheusHandler_IndependentRegistries(t *testing.T) {
	t.Parallel()

	_, _, err := observability.PrometheusHandler()
	require.NoError(t, err)

	_, _, err = observability.PrometheusHandler()
	require.NoError(t, err)
}

func TestServeMetrics_StopsOnCancel(t *testing.T) {
	t.Parallel()

	handler, _, err := observability.PrometheusHandler()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- observability.ServeMetrics(ctx, "127.0.0.1:0", handler, observability.DiscardLogger()) }()

	cancel()
	require.NoError(t, <-done)
}
