package observability_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/trainkit/pkg/config"
	"github.com/Sumatoshi-tech/trainkit/pkg/observability"
)

func TestInit_NoopWhenNoExport(t *testing.T) {
	t.Parallel()

	providers, err := observability.Init(observability.DefaultConfig())
	require.NoError(t, err)

	assert.NotNil(t, providers.Tracer)
	assert.NotNil(t, providers.Meter)
	assert.NotNil(t, providers.Logger)
	assert.Nil(t, providers.MetricsHandler)

	require.NoError(t, providers.Shutdown(context.Background()))
}

func TestInit_PrometheusExposesInstruments(t *testing.T) {
	t.Parallel()

	cfg := observability.DefaultConfig()
	cfg.Prometheus = true

	providers, err := observability.Init(cfg)
	require.NoError(t, err)

	t.Cleanup(func() { require.NoError(t, providers.Shutdown(context.Background())) })
	require.NotNil(t, providers.MetricsHandler)

	tm, err := observability.NewTrainingMetrics(providers.Meter)
	require.NoError(t, err)

	tm.RecordBatch(context.Background(), 32, 0.7)

	rec := httptest.NewRecorder()
	providers.MetricsHandler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "trainkit_batches_total")
}

func TestInit_LoggerCarriesProcessAttributes(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	cfg := observability.DefaultConfig()
	cfg.LogJSON = true
	cfg.LogOutput = &buf
	cfg.Rank = 3
	cfg.Environment = "test"
	cfg.LogLevel = slog.LevelWarn

	providers, err := observability.Init(cfg)
	require.NoError(t, err)

	t.Cleanup(func() { require.NoError(t, providers.Shutdown(context.Background())) })

	providers.Logger.Info("dropped")
	providers.Logger.Warn("kept")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))

	assert.Equal(t, "kept", record["msg"])
	assert.Equal(t, "trainkit", record["service"])
	assert.InDelta(t, 3, record["rank"], 0)
	assert.Equal(t, "test", record["env"])
}

func TestFromConfig(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		Cluster:   config.ClusterConfig{Rank: 1, WorldSize: 2},
		Logging:   config.LoggingConfig{Level: "debug", JSON: true},
		Telemetry: config.TelemetryConfig{Environment: "prod", Prometheus: true, OTLPEndpoint: "otel:4317"},
	}

	out := observability.FromConfig(cfg, "v1.0.0")

	assert.Equal(t, "trainkit", out.ServiceName)
	assert.Equal(t, "v1.0.0", out.ServiceVersion)
	assert.Equal(t, "prod", out.Environment)
	assert.Equal(t, 1, out.Rank)
	assert.Equal(t, slog.LevelDebug, out.LogLevel)
	assert.True(t, out.LogJSON)
	assert.True(t, out.Prometheus)
	assert.Equal(t, "otel:4317", out.OTLPEndpoint)
}
