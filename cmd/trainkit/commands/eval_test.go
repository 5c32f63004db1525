package commands

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/trainkit/pkg/metrics"
	"github.com/Sumatoshi-tech/trainkit/pkg/report"
)

func writeCSV(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "scores.csv")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	return path
}

func runEval(t *testing.T, args ...string) (string, error) {
	t.Helper()

	return execute(t, writeConfig(t, "metrics:\n  num_thresholds: 100\n"), func(opts *Options) *cobra.Command {
		return newEvalCommandWithDeps(opts, noopObservabilityInit)
	}, append([]string{"eval"}, args...)...)
}

func valueOf(t *testing.T, values []metrics.Value, name string) metrics.Value {
	t.Helper()

	for _, v := range values {
		if v.Name == name {
			return v
		}
	}

	require.Failf(t, "value not found", "%s in %v", name, values)

	return metrics.Value{}
}

func TestEval_BinaryPerfect(t *testing.T) {
	t.Parallel()

	input := writeCSV(t, "label,score\n1,0.9\n0,0.1\n# comment\n1,0.8\n0,0.3\n")

	out, err := runEval(t, "--input", input, "--batch-size", "2", "--top-k", "1", "--per-batch", "--format", "json")
	require.NoError(t, err)

	var rep report.EvalReport
	require.NoError(t, json.Unmarshal([]byte(out), &rep))

	assert.Equal(t, 4, rep.Samples)
	require.Len(t, rep.Batches, 2)
	assert.Equal(t, []string{"acc_top1", "auc"}, []string{rep.Cumulative[0].Name, rep.Cumulative[1].Name})

	acc := valueOf(t, rep.Cumulative, "acc_top1")
	assert.True(t, acc.Defined)
	assert.InDelta(t, 1.0, acc.Value, 1e-9)

	auc := valueOf(t, rep.Cumulative, "auc")
	assert.True(t, auc.Defined)
	assert.InDelta(t, 1.0, auc.Value, 1e-9)
	assert.NotEmpty(t, rep.ROC)
}

func TestEval_TopK(t *testing.T) {
	t.Parallel()

	input := writeCSV(t, "0,0.7,0.2,0.1\n1,0.5,0.3,0.2\n2,0.6,0.3,0.1\n")

	out, err := runEval(t, "--input", input, "--top-k", "2", "--format", "json")
	require.NoError(t, err)

	var rep report.EvalReport
	require.NoError(t, json.Unmarshal([]byte(out), &rep))

	assert.Empty(t, rep.Batches)
	assert.InDelta(t, 1.0/3, valueOf(t, rep.Cumulative, "acc_top1").Value, 1e-9)
	assert.InDelta(t, 2.0/3, valueOf(t, rep.Cumulative, "acc_top2").Value, 1e-9)
}

func TestEval_SingleClassAUCUndefined(t *testing.T) {
	t.Parallel()

	input := writeCSV(t, "1,0.9\n1,0.2\n")

	out, err := runEval(t, "--input", input, "--top-k", "1")
	require.NoError(t, err)

	assert.Contains(t, out, "n/a")
}

func TestEval_SlideStepsFromConfig(t *testing.T) {
	t.Parallel()

	// The first batch ranks every sample backwards, the second perfectly.
	input := writeCSV(t, "1,0.1\n0,0.9\n1,0.9\n0,0.1\n")
	configPath := writeConfig(t, "metrics:\n  num_thresholds: 100\n  slide_steps: 1\n")

	evalAUC := func(args ...string) metrics.Value {
		t.Helper()

		out, err := execute(t, configPath, func(opts *Options) *cobra.Command {
			return newEvalCommandWithDeps(opts, noopObservabilityInit)
		}, append([]string{"eval", "--input", input, "--batch-size", "2", "--format", "json"}, args...)...)
		require.NoError(t, err)

		var rep report.EvalReport
		require.NoError(t, json.Unmarshal([]byte(out), &rep))

		return valueOf(t, rep.Cumulative, "auc")
	}

	windowed := evalAUC()
	assert.True(t, windowed.Defined)
	assert.InDelta(t, 1.0, windowed.Value, 1e-9)

	whole := evalAUC("--slide-steps", "0")
	assert.True(t, whole.Defined)
	assert.InDelta(t, 0.5, whole.Value, 1e-9)
}

func TestEval_Plot(t *testing.T) {
	t.Parallel()

	input := writeCSV(t, "1,0.9\n0,0.4\n1,0.6\n0,0.7\n")
	plot := filepath.Join(t.TempDir(), "roc.html")

	_, err := runEval(t, "--input", input, "--plot", plot)
	require.NoError(t, err)

	data, err := os.ReadFile(plot)
	require.NoError(t, err)
	assert.Contains(t, string(data), "ROC curve")
}

func TestEval_Errors(t *testing.T) {
	t.Parallel()

	_, err := runEval(t)
	require.ErrorIs(t, err, ErrMissingInput)

	input := writeCSV(t, "1,0.9\n")

	_, err = runEval(t, "--input", input, "--batch-size", "0")
	require.ErrorIs(t, err, ErrInvalidBatchSize)

	_, err = runEval(t, "--input", writeCSV(t, "1,0.9\n0,oops\n"))
	require.ErrorIs(t, err, ErrMalformedRow)

	_, err = runEval(t, "--input", writeCSV(t, "7,0.9,0.1\n"))
	require.ErrorIs(t, err, metrics.ErrLabelRange)

	_, err = runEval(t, "--input", filepath.Join(t.TempDir(), "absent.csv"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestReadBatches(t *testing.T) {
	t.Parallel()

	input := "label,score\n1,0.9\n0, 0.1\n1,0.8\n0,0.3\n1,0.5\n"

	var sizes []int

	for batch, err := range readBatches(strings.NewReader(input), 2) {
		require.NoError(t, err)

		sizes = append(sizes, batch.Len())
	}

	assert.Equal(t, []int{2, 2, 1}, sizes)
}

func TestReadBatches_Empty(t *testing.T) {
	t.Parallel()

	count := 0
	for range readBatches(strings.NewReader(""), 4) {
		count++
	}

	assert.Zero(t, count)
}

func TestParseRow(t *testing.T) {
	t.Parallel()

	label, scores, err := parseRow([]string{"2", "0.1", " 0.5", "0.4"})
	require.NoError(t, err)
	assert.Equal(t, 2, label)
	assert.Equal(t, []float64{0.1, 0.5, 0.4}, scores)

	_, _, err = parseRow([]string{"1"})
	require.ErrorIs(t, err, ErrMalformedRow)

	_, _, err = parseRow([]string{"x", "0.1"})
	require.ErrorIs(t, err, ErrMalformedRow)
}
