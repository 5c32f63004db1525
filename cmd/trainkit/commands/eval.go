package commands

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/trainkit/pkg/config"
	"github.com/Sumatoshi-tech/trainkit/pkg/metrics"
	"github.com/Sumatoshi-tech/trainkit/pkg/observability"
	"github.com/Sumatoshi-tech/trainkit/pkg/report"
	"github.com/Sumatoshi-tech/trainkit/pkg/trainer"
	"github.com/Sumatoshi-tech/trainkit/pkg/version"
)

// stdinPath selects standard input for --input.
const stdinPath = "-"

// defaultEvalBatchSize is the number of rows per metric update.
const defaultEvalBatchSize = 256

// Sentinel errors for eval input.
var (
	// ErrMissingInput indicates that --input was not given.
	ErrMissingInput = errors.New("--input is required")
	// ErrInvalidBatchSize indicates a non-positive --batch-size.
	ErrInvalidBatchSize = errors.New("--batch-size must be positive")
	// ErrMalformedRow indicates a CSV row that is not "label,score[,score...]".
	ErrMalformedRow = errors.New("malformed row")
)

type observabilityInit func(observability.Config) (observability.Providers, error)

// EvalCommand holds flags for the eval command.
type EvalCommand struct {
	opts *Options

	input         string
	format        string
	batchSize     int
	topK          int
	numThresholds int
	slideSteps    int
	perBatch      bool
	plotPath      string
	metricsAddr   string

	initObs observabilityInit
}

// NewEvalCommand creates the eval command.
func NewEvalCommand(opts *Options) *cobra.Command {
	return newEvalCommandWithDeps(opts, observability.Init)
}

func newEvalCommandWithDeps(opts *Options, initObs observabilityInit) *cobra.Command {
	ec := &EvalCommand{opts: opts, initObs: initObs}

	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Compute streaming accuracy and AUC over a CSV of predictions",
		Long: `Compute accuracy and AUC over predictions read in batches.

Each CSV row is "label,score[,score...]". A single score is the positive class
probability; several scores are per-class. A header row and lines starting
with '#' are skipped. Unset metric flags fall back to the config file.`,
		Args: cobra.NoArgs,
		RunE: ec.run,
	}

	cmd.Flags().StringVarP(&ec.input, "input", "i", "", "Predictions CSV, or - for stdin")
	cmd.Flags().StringVar(&ec.format, "format", report.FormatTable, "Output format: table, json, yaml")
	cmd.Flags().IntVar(&ec.batchSize, "batch-size", defaultEvalBatchSize, "Rows per metric update")
	cmd.Flags().IntVar(&ec.topK, "top-k", config.DefaultTrainingTopK, "Also report top-k accuracy when k > 1")
	cmd.Flags().IntVar(&ec.numThresholds, "num-thresholds", config.DefaultMetricsNumThresholds, "AUC histogram buckets")
	cmd.Flags().IntVar(&ec.slideSteps, "slide-steps", config.DefaultMetricsSlideSteps,
		"AUC window in batches, 0 = whole input (default metrics.slide_steps from config)")
	cmd.Flags().BoolVar(&ec.perBatch, "per-batch", false, "Include batch-local values in the report")
	cmd.Flags().StringVar(&ec.plotPath, "plot", "", "Write an interactive ROC chart (HTML) to this path")
	cmd.Flags().StringVar(&ec.metricsAddr, "metrics-addr", "",
		"Serve Prometheus metrics on this address and keep serving until interrupted")

	return cmd
}

func (ec *EvalCommand) run(cmd *cobra.Command, _ []string) error {
	if ec.input == "" {
		return ErrMissingInput
	}

	if ec.batchSize <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidBatchSize, ec.batchSize)
	}

	cfg, err := ec.opts.Load("")
	if err != nil {
		return err
	}

	ec.applyConfig(cmd, cfg)

	set, err := trainer.NewMetricSet(ec.topK, ec.numThresholds, ec.slideSteps)
	if err != nil {
		return err
	}

	obsCfg := observability.FromConfig(cfg, version.Version)
	obsCfg.Prometheus = ec.metricsAddr != ""
	obsCfg.LogOutput = cmd.ErrOrStderr()

	providers, err := ec.initObs(obsCfg)
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}

	ctx := cmd.Context()

	defer func() {
		shutdownErr := providers.Shutdown(ctx)
		if shutdownErr != nil {
			providers.Logger.Warn("observability shutdown failed", "error", shutdownErr)
		}
	}()

	instruments, err := observability.NewTrainingMetrics(providers.Meter)
	if err != nil {
		return err
	}

	serveErr := make(chan error, 1)

	if ec.metricsAddr != "" && providers.MetricsHandler != nil {
		go func() {
			serveErr <- observability.ServeMetrics(ctx, ec.metricsAddr, providers.MetricsHandler, providers.Logger)
		}()
	}

	source, closeFn, err := ec.open(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	rep := report.EvalReport{Source: ec.input}

	for batch, readErr := range readBatches(source, ec.batchSize) {
		if readErr != nil {
			return readErr
		}

		values, updateErr := set.Update(batch)
		if updateErr != nil {
			return fmt.Errorf("batch %d: %w", len(rep.Batches), updateErr)
		}

		rep.AddBatch(batch.Len(), values)
		instruments.RecordValues(ctx, "batch", values)
	}

	rep.Cumulative = set.Cumulative()
	instruments.RecordValues(ctx, "epoch", rep.Cumulative)

	if acc, ok := set.Get("auc"); ok {
		if auc, isAUC := acc.(*metrics.AUC); isAUC {
			rep.ROC = auc.ROCPoints()
		}
	}

	if ec.plotPath != "" {
		err = ec.writePlot(rep)
		if err != nil {
			return err
		}
	}

	out := rep
	if !ec.perBatch {
		out.Batches = nil
	}

	err = report.Write(cmd.OutOrStdout(), ec.format, out)
	if err != nil {
		return err
	}

	if ec.metricsAddr == "" {
		return nil
	}

	providers.Logger.InfoContext(ctx, "eval: done, serving metrics until interrupted", "addr", ec.metricsAddr)

	select {
	case err = <-serveErr:
		return err
	case <-ctx.Done():
		return nil
	}
}

// applyConfig fills flags the user did not set from the loaded config.
func (ec *EvalCommand) applyConfig(cmd *cobra.Command, cfg *config.Config) {
	if !cmd.Flags().Changed("top-k") {
		ec.topK = cfg.Training.TopK
	}

	if !cmd.Flags().Changed("num-thresholds") {
		ec.numThresholds = cfg.Metrics.NumThresholds
	}

	if !cmd.Flags().Changed("slide-steps") {
		ec.slideSteps = cfg.Metrics.SlideSteps
	}
}

func (ec *EvalCommand) open(cmd *cobra.Command) (io.Reader, func(), error) {
	if ec.input == stdinPath {
		return cmd.InOrStdin(), func() {}, nil
	}

	file, err := os.Open(ec.input)
	if err != nil {
		return nil, nil, fmt.Errorf("open input: %w", err)
	}

	return file, func() { file.Close() }, nil
}

func (ec *EvalCommand) writePlot(rep report.EvalReport) error {
	auc := metrics.Value{Name: "auc"}

	for _, v := range rep.Cumulative {
		if v.Name == auc.Name {
			auc = v
		}
	}

	file, err := os.Create(ec.plotPath)
	if err != nil {
		return fmt.Errorf("create plot: %w", err)
	}

	renderErr := report.RenderROC(file, rep.ROC, auc)
	closeErr := file.Close()

	return errors.Join(renderErr, closeErr)
}

// readBatches groups CSV rows into metric batches of up to size rows.
func readBatches(r io.Reader, size int) iter.Seq2[metrics.Batch, error] {
	return func(yield func(metrics.Batch, error) bool) {
		reader := csv.NewReader(r)
		reader.Comment = '#'
		reader.FieldsPerRecord = -1
		reader.TrimLeadingSpace = true

		var batch metrics.Batch

		first := true

		for {
			record, err := reader.Read()
			if errors.Is(err, io.EOF) {
				break
			}

			if err != nil {
				yield(metrics.Batch{}, fmt.Errorf("read input: %w", err))

				return
			}

			label, scores, err := parseRow(record)
			if err != nil {
				if first {
					first = false

					continue
				}

				line, _ := reader.FieldPos(0)
				yield(metrics.Batch{}, fmt.Errorf("line %d: %w", line, err))

				return
			}

			first = false
			batch.Labels = append(batch.Labels, label)
			batch.Scores = append(batch.Scores, scores)

			if batch.Len() == size {
				if !yield(batch, nil) {
					return
				}

				batch = metrics.Batch{}
			}
		}

		if batch.Len() > 0 {
			yield(batch, nil)
		}
	}
}

func parseRow(record []string) (int, []float64, error) {
	if len(record) < 2 {
		return 0, nil, fmt.Errorf("%w: want label and at least one score, got %d fields", ErrMalformedRow, len(record))
	}

	label, err := strconv.Atoi(strings.TrimSpace(record[0]))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: label %q", ErrMalformedRow, record[0])
	}

	scores := make([]float64, 0, len(record)-1)

	for _, field := range record[1:] {
		score, parseErr := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if parseErr != nil {
			return 0, nil, fmt.Errorf("%w: score %q", ErrMalformedRow, field)
		}

		scores = append(scores, score)
	}

	return label, scores, nil
}
