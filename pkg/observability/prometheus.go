package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// metricsPath is the scrape path served by [ServeMetrics].
const metricsPath = "/metrics"

// readHeaderTimeout bounds slow scrapers.
const readHeaderTimeout = 5 * time.Second

// PrometheusHandler creates a Prometheus exporter on its own registry and
// returns the scrape handler together with the reader that must be attached
// to a MeterProvider for instruments to show up.
func PrometheusHandler() (http.Handler, sdkmetric.Reader, error) {
	registry := prometheus.NewRegistry()

	exporter, err := promexporter.New(
		promexporter.WithRegisterer(registry),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), exporter, nil
}

// ServeMetrics serves handler on addr under /metrics until ctx is done.
func ServeMetrics(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle(metricsPath, handler)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), readHeaderTimeout)
		defer cancel()

		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.InfoContext(ctx, "metrics: serving", "addr", listener.Addr().String(), "path", metricsPath)

	err = srv.Serve(listener)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve metrics: %w", err)
	}

	return nil
}
