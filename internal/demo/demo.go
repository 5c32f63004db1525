// Package demo provides a logistic-regression model, an SGD optimizer and a
// synthetic two-class loader for exercising the training loop end to end.
package demo

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"math"
	"math/rand/v2"

	"github.com/Sumatoshi-tech/trainkit/pkg/checkpoint"
	"github.com/Sumatoshi-tech/trainkit/pkg/trainer"
)

// ErrBadState is returned when a state dict does not fit the model.
var ErrBadState = errors.New("state does not fit model")

// ErrNoForward is returned by Backward without a preceding Forward.
var ErrNoForward = errors.New("backward without forward")

// State dict keys.
const (
	keyWeight = "weight"
	keyBias   = "bias"
	keyLR     = "lr"
)

// probEpsilon keeps log() finite.
const probEpsilon = 1e-12

// Model is a logistic regression over dense features. It scores each sample
// with two columns: the negative and positive class probability.
type Model struct {
	weight []float64
	bias   float64

	gradW []float64
	gradB float64

	// cache of the last forward pass.
	inputs [][]float64
	labels []int
	probs  []float64
}

// NewModel creates a zero-initialized model for dim features.
func NewModel(dim int) *Model {
	return &Model{
		weight: make([]float64, dim),
		gradW:  make([]float64, dim),
	}
}

// Train implements trainer.Model. The model has no eval-only behaviour.
func (m *Model) Train() {}

// Forward computes class probabilities and the mean binary cross-entropy.
func (m *Model) Forward(_ context.Context, batch trainer.Batch) (trainer.Output, error) {
	inputs, ok := batch.Inputs.([][]float64)
	if !ok {
		return trainer.Output{}, fmt.Errorf("inputs: want [][]float64, got %T", batch.Inputs)
	}

	if len(inputs) != len(batch.Labels) {
		return trainer.Output{}, fmt.Errorf("%d inputs, %d labels", len(inputs), len(batch.Labels))
	}

	probs := make([]float64, len(inputs))
	scores := make([][]float64, len(inputs))

	var loss float64

	for idx, x := range inputs {
		if len(x) != len(m.weight) {
			return trainer.Output{}, fmt.Errorf("sample %d: %d features, model has %d", idx, len(x), len(m.weight))
		}

		p := sigmoid(dot(m.weight, x) + m.bias)
		probs[idx] = p
		scores[idx] = []float64{1 - p, p}

		if batch.Labels[idx] == 1 {
			loss -= math.Log(p + probEpsilon)
		} else {
			loss -= math.Log(1 - p + probEpsilon)
		}
	}

	m.inputs, m.labels, m.probs = inputs, batch.Labels, probs

	return trainer.Output{Loss: loss / float64(max(len(inputs), 1)), Scores: scores}, nil
}

// Backward accumulates the cross-entropy gradient of the last forward pass.
func (m *Model) Backward(_ context.Context, _ float64) error {
	if m.probs == nil {
		return ErrNoForward
	}

	scale := 1 / float64(len(m.probs))

	for idx, x := range m.inputs {
		diff := (m.probs[idx] - float64(m.labels[idx])) * scale

		for j, v := range x {
			m.gradW[j] += diff * v
		}

		m.gradB += diff
	}

	m.inputs, m.labels, m.probs = nil, nil, nil

	return nil
}

// ClearGradients zeroes accumulated gradients.
func (m *Model) ClearGradients() {
	clear(m.gradW)
	m.gradB = 0
}

// StateDict implements checkpoint.Stateful.
func (m *Model) StateDict() (checkpoint.StateDict, error) {
	return checkpoint.StateDict{
		keyWeight: {Shape: []int{len(m.weight)}, Data: toFloat32(m.weight)},
		keyBias:   {Shape: []int{1}, Data: []float32{float32(m.bias)}},
	}, nil
}

// SetStateDict implements checkpoint.Stateful.
func (m *Model) SetStateDict(state checkpoint.StateDict) error {
	weight, ok := state[keyWeight]
	if !ok || len(weight.Data) != len(m.weight) {
		return fmt.Errorf("%w: weight", ErrBadState)
	}

	bias, ok := state[keyBias]
	if !ok || len(bias.Data) != 1 {
		return fmt.Errorf("%w: bias", ErrBadState)
	}

	for idx, v := range weight.Data {
		m.weight[idx] = float64(v)
	}

	m.bias = float64(bias.Data[0])

	return nil
}

// SGD is plain stochastic gradient descent over a Model.
type SGD struct {
	model *Model
	lr    float64
}

// NewSGD creates an optimizer with learning rate lr.
func NewSGD(model *Model, lr float64) *SGD {
	return &SGD{model: model, lr: lr}
}

// Step applies the accumulated gradients.
func (o *SGD) Step(context.Context) error {
	for idx, g := range o.model.gradW {
		o.model.weight[idx] -= o.lr * g
	}

	o.model.bias -= o.lr * o.model.gradB

	return nil
}

// StateDict implements checkpoint.Stateful.
func (o *SGD) StateDict() (checkpoint.StateDict, error) {
	return checkpoint.StateDict{keyLR: {Shape: []int{1}, Data: []float32{float32(o.lr)}}}, nil
}

// SetStateDict implements checkpoint.Stateful.
func (o *SGD) SetStateDict(state checkpoint.StateDict) error {
	lr, ok := state[keyLR]
	if !ok || len(lr.Data) != 1 {
		return fmt.Errorf("%w: lr", ErrBadState)
	}

	o.lr = float64(lr.Data[0])

	return nil
}

// Blobs yields two Gaussian clusters centred at -Separation and +Separation
// on every axis. Each epoch is reproducible from Seed.
type Blobs struct {
	Dim        int
	BatchSize  int
	NumBatches int
	Separation float64
	Seed       uint64
}

// Batches implements trainer.Loader.
func (b Blobs) Batches(ctx context.Context, epoch int) iter.Seq2[trainer.Batch, error] {
	return func(yield func(trainer.Batch, error) bool) {
		rng := rand.New(rand.NewPCG(b.Seed, uint64(epoch))) //nolint:gosec // synthetic data

		for range b.NumBatches {
			if ctx.Err() != nil {
				return
			}

			inputs := make([][]float64, b.BatchSize)
			labels := make([]int, b.BatchSize)

			for idx := range inputs {
				label := rng.IntN(2)
				centre := -b.Separation
				if label == 1 {
					centre = b.Separation
				}

				x := make([]float64, b.Dim)
				for j := range x {
					x[j] = centre + rng.NormFloat64()
				}

				inputs[idx], labels[idx] = x, label
			}

			if !yield(trainer.Batch{Inputs: inputs, Labels: labels}, nil) {
				return
			}
		}
	}
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

func dot(a, b []float64) float64 {
	var s float64

	for idx := range a {
		s += a[idx] * b[idx]
	}

	return s
}

func toFloat32(values []float64) []float32 {
	out := make([]float32, len(values))

	for idx, v := range values {
		out[idx] = float32(v)
	}

	return out
}
