package trainer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/trainkit/pkg/checkpoint"
	"github.com/Sumatoshi-tech/trainkit/pkg/ledger"
	"github.com/Sumatoshi-tech/trainkit/pkg/metrics"
	"github.com/Sumatoshi-tech/trainkit/pkg/observability"
)

const tracerName = "trainkit/trainer"

// Scopes of recorded metric values.
const (
	scopeEpoch  = "epoch"
	scopeGlobal = "global"
)

// Runner drives the epoch loop. Model, Loader and Metrics are required.
type Runner struct {
	Config Config

	Model     Model
	Optimizer Optimizer
	Loader    Loader
	Cluster   Cluster

	// Metrics accumulates over the whole run and is never reset between epochs.
	Metrics *metrics.Set

	// Checkpoints restores and saves artifacts. Nil disables both.
	Checkpoints *checkpoint.Manager

	// Reducer sums metric counters across ranks at the end of each epoch.
	// Nil means a single process.
	Reducer metrics.Reducer

	Instruments *observability.TrainingMetrics
	Tracer      trace.Tracer
	Logger      *slog.Logger
}

// Result summarizes a run.
type Result struct {
	// ResumedFrom is the restored epoch, or [ledger.NoCheckpoint].
	ResumedFrom int
	// Skipped lists epochs not executed because they were already completed.
	Skipped []int
	// Completed lists epochs executed by this run.
	Completed []int
	// Warnings collects non-fatal restore problems.
	Warnings []error
	// Global holds the cross-rank metric values after the last executed epoch.
	Global []metrics.Value
}

func (r *Runner) validate() error {
	switch {
	case r.Model == nil:
		return fmt.Errorf("%w: model is required", ErrInvalidRunner)
	case r.Loader == nil:
		return fmt.Errorf("%w: loader is required", ErrInvalidRunner)
	case r.Metrics == nil:
		return fmt.Errorf("%w: metric set is required", ErrInvalidRunner)
	case r.Config.Epochs < 0:
		return fmt.Errorf("%w: negative epoch count %d", ErrInvalidRunner, r.Config.Epochs)
	}

	return nil
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}

	return observability.DiscardLogger()
}

func (r *Runner) tracer() trace.Tracer {
	if r.Tracer != nil {
		return r.Tracer
	}

	return otel.Tracer(tracerName)
}

func (r *Runner) cluster() Cluster {
	if r.Cluster != nil {
		return r.Cluster
	}

	return SingleProcess
}

func (r *Runner) reducer() metrics.Reducer {
	if r.Reducer != nil {
		return r.Reducer
	}

	return metrics.LocalReducer{}
}

func (r *Runner) logInterval() int {
	if r.Config.LogInterval > 0 {
		return r.Config.LogInterval
	}

	return DefaultLogInterval
}

// Run restores, then executes every epoch after the resume point. It returns
// early on a collaborator error, a failed save, or context cancellation; the
// unfinished epoch is then not recorded and runs again on restart.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	err := r.validate()
	if err != nil {
		return Result{}, err
	}

	resumed, warnings := r.restore(ctx)
	res := Result{ResumedFrom: resumed, Warnings: warnings}

	logger := r.logger()

	for epoch := range r.Config.Epochs {
		if epoch <= res.ResumedFrom {
			logger.InfoContext(ctx, "train: epoch pass", "epoch", epoch)
			r.Instruments.RecordEpoch(ctx, true)

			res.Skipped = append(res.Skipped, epoch)

			continue
		}

		global, epochErr := r.runEpoch(ctx, epoch)
		if epochErr != nil {
			return res, fmt.Errorf("epoch %d: %w", epoch, epochErr)
		}

		res.Completed = append(res.Completed, epoch)
		res.Global = global
	}

	return res, nil
}

// restore returns the resume point and applies the artifact to the
// collaborators. A state that cannot be applied counts as a load failure.
func (r *Runner) restore(ctx context.Context) (int, []error) {
	if r.Checkpoints == nil || !r.Config.Resume {
		return ledger.NoCheckpoint, nil
	}

	resume := r.Checkpoints.Restore(ctx)
	warnings := resume.Warnings
	epoch := resume.Epoch

	if resume.Artifact != nil {
		err := r.apply(resume.Artifact)
		if err != nil {
			warn := fmt.Errorf("%w: %w", checkpoint.ErrArtifactLoad, err)
			r.logger().WarnContext(ctx, "checkpoint: resume failed, starting fresh", "error", warn)
			warnings = append(warnings, warn)
			epoch = ledger.NoCheckpoint
		}
	}

	r.Instruments.RecordResume(ctx, epoch, len(warnings))

	return epoch, warnings
}

// apply loads the artifact into the model and optimizer. When the optimizer
// rejects its state the model is put back to the state it had before, so a
// fresh start never runs on half-restored weights.
func (r *Runner) apply(artifact *checkpoint.Artifact) error {
	fresh, err := r.Model.StateDict()
	if err != nil {
		return fmt.Errorf("snapshot model state: %w", err)
	}

	err = r.Model.SetStateDict(artifact.Model)
	if err != nil {
		return fmt.Errorf("set model state: %w", err)
	}

	if r.Optimizer == nil || artifact.Optimizer == nil {
		return nil
	}

	err = r.Optimizer.SetStateDict(artifact.Optimizer)
	if err == nil {
		return nil
	}

	rollbackErr := r.Model.SetStateDict(fresh)
	if rollbackErr != nil {
		return fmt.Errorf("set optimizer state: %w (model rollback: %w)", err, rollbackErr)
	}

	return fmt.Errorf("set optimizer state: %w", err)
}

func (r *Runner) runEpoch(ctx context.Context, epoch int) ([]metrics.Value, error) {
	cluster := r.cluster()

	ctx = observability.ContextWithEpoch(ctx, epoch)

	ctx, span := r.tracer().Start(ctx, "trainkit.epoch", trace.WithAttributes(
		attribute.Int("epoch", epoch),
		attribute.Int("rank", cluster.Rank()),
	))
	defer span.End()

	start := time.Now()
	logger := r.logger()
	loss := metrics.NewLossTracker(metrics.DefaultLossSmoothing)
	samples := 0

	r.Model.Train()

	batchID := 0

	for batch, err := range r.Loader.Batches(ctx, epoch) {
		if err != nil {
			return nil, r.fail(span, fmt.Errorf("load batch %d: %w", batchID, err))
		}

		ctxErr := ctx.Err()
		if ctxErr != nil {
			return nil, r.fail(span, ctxErr)
		}

		values, batchLoss, stepErr := r.step(ctx, batch, loss)
		if stepErr != nil {
			return nil, r.fail(span, fmt.Errorf("batch %d: %w", batchID, stepErr))
		}

		samples += len(batch.Labels)

		if batchID%r.logInterval() == 0 {
			args := []any{"epoch", epoch, "batch", batchID, "loss", fmt.Sprintf("%.5f", batchLoss)}
			for _, v := range values {
				args = append(args, v.Name, v.String())
			}

			logger.InfoContext(ctx, "train: progress", args...)
		}

		batchID++
	}

	// Checked again so a cancellation during the last batch is not recorded as a completed epoch.
	ctxErr := ctx.Err()
	if ctxErr != nil {
		return nil, r.fail(span, ctxErr)
	}

	local := r.Metrics.Cumulative()
	r.Instruments.RecordValues(ctx, scopeEpoch, local)

	global, err := r.Metrics.Global(ctx, r.reducer())
	if err != nil {
		return nil, r.fail(span, err)
	}

	r.Instruments.RecordValues(ctx, scopeGlobal, global)
	r.Instruments.RecordEpoch(ctx, false)

	meanLoss, _ := loss.Mean()
	summary := checkpoint.EpochSummary{
		Batches:  batchID,
		Samples:  samples,
		MeanLoss: meanLoss,
		Duration: time.Since(start),
		Values:   global,
	}

	args := []any{"epoch", epoch, "batches", batchID, "mean_loss", fmt.Sprintf("%.5f", meanLoss)}
	for _, v := range global {
		args = append(args, v.Name, v.String())
	}

	logger.InfoContext(ctx, "train: epoch done", args...)

	if cluster.Rank() == 0 && r.Checkpoints != nil {
		err = r.save(ctx, epoch, summary)
		if err != nil {
			return nil, r.fail(span, err)
		}
	}

	return global, nil
}

// step runs forward, metric update, backward, optimizer step and gradient
// reset for one batch, and returns the batch-local metric values and loss.
func (r *Runner) step(
	ctx context.Context, batch Batch, loss *metrics.LossTracker,
) ([]metrics.Value, float64, error) {
	out, err := r.Model.Forward(ctx, batch)
	if err != nil {
		return nil, 0, fmt.Errorf("forward: %w", err)
	}

	values, err := r.Metrics.Update(metrics.Batch{Scores: out.Scores, Labels: batch.Labels})
	if err != nil {
		return nil, 0, fmt.Errorf("metrics: %w", err)
	}

	err = r.Model.Backward(ctx, out.Loss)
	if err != nil {
		return nil, 0, fmt.Errorf("backward: %w", err)
	}

	if r.Optimizer != nil {
		err = r.Optimizer.Step(ctx)
		if err != nil {
			return nil, 0, fmt.Errorf("optimizer step: %w", err)
		}
	}

	r.Model.ClearGradients()

	loss.Update(out.Loss)
	r.Instruments.RecordBatch(ctx, len(batch.Labels), out.Loss)

	return values, out.Loss, nil
}

func (r *Runner) save(ctx context.Context, epoch int, summary checkpoint.EpochSummary) error {
	start := time.Now()

	err := r.buildAndSave(ctx, epoch, summary)
	r.Instruments.RecordSave(ctx, time.Since(start), err)

	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}

	r.logger().InfoContext(ctx, "train: epoch saved", "epoch", epoch)

	return nil
}

func (r *Runner) buildAndSave(ctx context.Context, epoch int, summary checkpoint.EpochSummary) error {
	model, err := r.Model.StateDict()
	if err != nil {
		return fmt.Errorf("model state: %w", err)
	}

	artifact := checkpoint.NewArtifact(epoch, model)
	artifact.Metrics = r.Metrics.Snapshot()
	artifact.Summary = summary

	if r.Optimizer != nil {
		artifact.Optimizer, err = r.Optimizer.StateDict()
		if err != nil {
			return fmt.Errorf("optimizer state: %w", err)
		}
	}

	return r.Checkpoints.Save(ctx, artifact)
}

func (r *Runner) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	return err
}
