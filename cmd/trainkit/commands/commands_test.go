package commands

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/Sumatoshi-tech/trainkit/pkg/observability"
)

// writeConfig writes body as a config file and returns its path.
func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "trainkit.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	return path
}

// execute runs args against a root command carrying sub and returns stdout.
func execute(t *testing.T, configPath string, sub func(*Options) *cobra.Command, args ...string) (string, error) {
	t.Helper()

	var opts Options

	root := &cobra.Command{Use: "trainkit", SilenceUsage: true, SilenceErrors: true}
	opts.RegisterFlags(root)
	root.AddCommand(sub(&opts))

	var out bytes.Buffer

	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(append([]string{"--config=" + configPath}, args...))

	err := root.ExecuteContext(context.Background())

	return out.String(), err
}

func noopObservabilityInit(_ observability.Config) (observability.Providers, error) {
	return observability.Providers{
		Tracer:   tracenoop.NewTracerProvider().Tracer("test"),
		Meter:    metricnoop.NewMeterProvider().Meter("test"),
		Logger:   observability.DiscardLogger(),
		Shutdown: func(context.Context) error { return nil },
	}, nil
}
