package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/trainkit/internal/demo"
	"github.com/Sumatoshi-tech/trainkit/pkg/observability"
	"github.com/Sumatoshi-tech/trainkit/pkg/trainer"
	"github.com/Sumatoshi-tech/trainkit/pkg/version"
)

// Demo model defaults.
const (
	defaultDemoDim        = 4
	defaultDemoBatchSize  = 64
	defaultDemoBatches    = 50
	defaultDemoLR         = 0.1
	defaultDemoSeparation = 1.0
	defaultDemoSeed       = 1
)

// ErrClearNotPrimary is returned when --clear is passed to a rank other than 0.
var ErrClearNotPrimary = errors.New("--clear is only allowed on rank 0")

// TrainCommand holds flags for the train command.
type TrainCommand struct {
	opts *Options

	dir         string
	epochs      int
	noResume    bool
	clear       bool
	metricsAddr string

	dim        int
	batchSize  int
	batches    int
	lr         float64
	separation float64
	seed       uint64

	initObs observabilityInit
}

// NewTrainCommand creates the train command.
func NewTrainCommand(opts *Options) *cobra.Command {
	return newTrainCommandWithDeps(opts, observability.Init)
}

func newTrainCommandWithDeps(opts *Options, initObs observabilityInit) *cobra.Command {
	tc := &TrainCommand{opts: opts, initObs: initObs}

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train the built-in logistic-regression demo with checkpoint resume",
		Long: `Train a logistic-regression model on synthetic two-class data.

Every completed epoch is saved to the checkpoint directory and appended to its
ledger. Rerunning the command skips epochs already completed there.`,
		Args: cobra.NoArgs,
		RunE: tc.run,
	}

	cmd.Flags().StringVarP(&tc.dir, "dir", "d", "", "Checkpoint directory (overrides config and CHECKPOINT_PATH)")
	cmd.Flags().IntVar(&tc.epochs, "epochs", 0, "Total epochs (0 = training.epochs from config)")
	cmd.Flags().BoolVar(&tc.noResume, "no-resume", false, "Ignore existing checkpoints")
	cmd.Flags().BoolVar(&tc.clear, "clear", false, "Delete the ledger and its artifacts before training (rank 0 only)")
	cmd.Flags().StringVar(&tc.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while training")

	cmd.Flags().IntVar(&tc.dim, "dim", defaultDemoDim, "Feature dimension")
	cmd.Flags().IntVar(&tc.batchSize, "batch-size", defaultDemoBatchSize, "Samples per batch")
	cmd.Flags().IntVar(&tc.batches, "batches", defaultDemoBatches, "Batches per epoch")
	cmd.Flags().Float64Var(&tc.lr, "lr", defaultDemoLR, "Learning rate")
	cmd.Flags().Float64Var(&tc.separation, "separation", defaultDemoSeparation, "Distance of each class centre from the origin")
	cmd.Flags().Uint64Var(&tc.seed, "seed", defaultDemoSeed, "Data seed")

	return cmd
}

func (tc *TrainCommand) run(cmd *cobra.Command, _ []string) error {
	cfg, err := tc.opts.Load(tc.dir)
	if err != nil {
		return err
	}

	if tc.epochs > 0 {
		cfg.Training.Epochs = tc.epochs
	}

	if tc.clear && !cfg.Cluster.IsPrimary() {
		return fmt.Errorf("%w: this process is rank %d", ErrClearNotPrimary, cfg.Cluster.Rank)
	}

	obsCfg := observability.FromConfig(cfg, version.Version)
	obsCfg.Prometheus = obsCfg.Prometheus || tc.metricsAddr != ""
	obsCfg.LogOutput = cmd.ErrOrStderr()

	providers, err := tc.initObs(obsCfg)
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}

	ctx := cmd.Context()
	logger := providers.Logger

	defer func() {
		shutdownErr := providers.Shutdown(ctx)
		if shutdownErr != nil {
			logger.Warn("observability shutdown failed", "error", shutdownErr)
		}
	}()

	if tc.metricsAddr != "" && providers.MetricsHandler != nil {
		go func() {
			serveErr := observability.ServeMetrics(ctx, tc.metricsAddr, providers.MetricsHandler, logger)
			if serveErr != nil {
				logger.ErrorContext(ctx, "metrics: server failed", "error", serveErr)
			}
		}()
	}

	mgr, err := newManager(cfg)
	if err != nil {
		return err
	}

	mgr.Logger = logger

	if tc.clear {
		err = mgr.Clear()
		if err != nil {
			return fmt.Errorf("clear checkpoints: %w", err)
		}
	}

	set, err := trainer.NewMetricSet(cfg.Training.TopK, cfg.Metrics.NumThresholds, cfg.Metrics.SlideSteps)
	if err != nil {
		return err
	}

	instruments, err := observability.NewTrainingMetrics(providers.Meter)
	if err != nil {
		return err
	}

	if cfg.Cluster.WorldSize > 1 {
		logger.WarnContext(ctx, "train: no cross-process reducer, global values cover this rank only",
			"world_size", cfg.Cluster.WorldSize)
	}

	model := demo.NewModel(tc.dim)

	runner := &trainer.Runner{
		Config: trainer.Config{
			Epochs:      cfg.Training.Epochs,
			LogInterval: cfg.Training.LogInterval,
			Resume:      cfg.Checkpoint.Resume && !tc.noResume,
		},
		Model:     model,
		Optimizer: demo.NewSGD(model, tc.lr),
		Loader: demo.Blobs{
			Dim:        tc.dim,
			BatchSize:  tc.batchSize,
			NumBatches: tc.batches,
			Separation: tc.separation,
			Seed:       tc.seed,
		},
		Cluster:     trainer.StaticCluster{RankID: cfg.Cluster.Rank, Size: cfg.Cluster.WorldSize},
		Metrics:     set,
		Checkpoints: mgr,
		Instruments: instruments,
		Tracer:      providers.Tracer,
		Logger:      logger,
	}

	res, err := runner.Run(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()

	_, err = fmt.Fprintf(out, "resumed from %d, skipped %d, completed %d epochs\n",
		res.ResumedFrom, len(res.Skipped), len(res.Completed))
	if err != nil {
		return err
	}

	for _, v := range res.Global {
		_, err = fmt.Fprintf(out, "%s: %s\n", v.Name, v)
		if err != nil {
			return err
		}
	}

	return nil
}
