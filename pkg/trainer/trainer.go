// Package trainer runs a resumable epoch loop over external model, optimizer
// and data collaborators.
//
// The loop restores the last completed epoch from a checkpoint manager, skips
// every epoch up to it, and for each remaining epoch feeds batches through the
// model while accumulating accuracy and AUC. The primary rank saves an
// artifact after each epoch.
package trainer

import (
	"context"
	"errors"
	"iter"

	"github.com/Sumatoshi-tech/trainkit/pkg/checkpoint"
	"github.com/Sumatoshi-tech/trainkit/pkg/metrics"
)

// ErrInvalidRunner is returned when a runner is missing a collaborator or
// has an unusable configuration.
var ErrInvalidRunner = errors.New("invalid runner")

// Batch is one batch from the loader. Inputs is passed to the model untouched.
type Batch struct {
	Inputs any
	Labels []int
}

// Output is the model's result for one batch.
type Output struct {
	// Loss is the mean batch loss.
	Loss float64
	// Scores holds one row of class scores per sample.
	Scores [][]float64
}

// Model is the network being trained.
type Model interface {
	checkpoint.Stateful

	// Train switches the model to training mode.
	Train()

	// Forward runs the batch and returns the loss and scores.
	Forward(ctx context.Context, batch Batch) (Output, error)

	// Backward propagates the loss of the last Forward.
	Backward(ctx context.Context, loss float64) error

	// ClearGradients zeroes accumulated gradients.
	ClearGradients()
}

// Optimizer applies gradients to the model.
type Optimizer interface {
	checkpoint.Stateful

	Step(ctx context.Context) error
}

// Loader yields the batches of one epoch.
type Loader interface {
	Batches(ctx context.Context, epoch int) iter.Seq2[Batch, error]
}

// Cluster identifies this process among its peers.
type Cluster interface {
	Rank() int
	WorldSize() int
}

// StaticCluster is a Cluster with fixed values.
type StaticCluster struct {
	RankID int
	Size   int
}

// Rank implements Cluster.
func (c StaticCluster) Rank() int { return c.RankID }

// WorldSize implements Cluster.
func (c StaticCluster) WorldSize() int { return max(c.Size, 1) }

// SingleProcess is the cluster of a non-distributed run.
var SingleProcess Cluster = StaticCluster{Size: 1}

// Config controls the loop.
type Config struct {
	// Epochs is the total number of epochs, including already completed ones.
	Epochs int

	// LogInterval logs progress every LogInterval batches, starting with the first.
	LogInterval int

	// Resume enables restoring from the checkpoint manager.
	Resume bool
}

// DefaultLogInterval is the progress interval used when none is set.
const DefaultLogInterval = 10

// NewMetricSet builds the accumulators reported by the loop: top-1 accuracy,
// top-k accuracy when k > 1, and AUC.
func NewMetricSet(topK, numThresholds, slideSteps int) (*metrics.Set, error) {
	set := metrics.NewSet(metrics.NewAccuracy(1))

	if topK > 1 {
		set.Register(metrics.NewAccuracy(topK))
	}

	auc, err := metrics.NewAUC(numThresholds, slideSteps)
	if err != nil {
		return nil, err
	}

	set.Register(auc)

	return set, nil
}
