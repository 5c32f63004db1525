package demo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/trainkit/pkg/checkpoint"
	"github.com/Sumatoshi-tech/trainkit/pkg/trainer"
)

func TestModel_LearnsSeparableBlobs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	model := NewModel(2)
	opt := NewSGD(model, 0.5)
	loader := Blobs{Dim: 2, BatchSize: 32, NumBatches: 20, Separation: 2, Seed: 7}

	var first, last float64

	for epoch := range 3 {
		for batch, err := range loader.Batches(ctx, epoch) {
			require.NoError(t, err)

			out, err := model.Forward(ctx, batch)
			require.NoError(t, err)

			if first == 0 {
				first = out.Loss
			}

			last = out.Loss

			require.NoError(t, model.Backward(ctx, out.Loss))
			require.NoError(t, opt.Step(ctx))
			model.ClearGradients()
		}
	}

	assert.InDelta(t, 0.6931, first, 1e-3)
	assert.Less(t, last, 0.3)
}

func TestModel_ForwardScores(t *testing.T) {
	t.Parallel()

	model := NewModel(1)
	out, err := model.Forward(context.Background(), trainer.Batch{
		Inputs: [][]float64{{1}, {-1}},
		Labels: []int{1, 0},
	})
	require.NoError(t, err)

	require.Len(t, out.Scores, 2)
	assert.InDelta(t, 0.5, out.Scores[0][0], 1e-9)
	assert.InDelta(t, 0.5, out.Scores[0][1], 1e-9)
}

func TestModel_ForwardRejectsBadInputs(t *testing.T) {
	t.Parallel()

	model := NewModel(2)
	ctx := context.Background()

	_, err := model.Forward(ctx, trainer.Batch{Inputs: "nope", Labels: []int{0}})
	require.Error(t, err)

	_, err = model.Forward(ctx, trainer.Batch{Inputs: [][]float64{{1, 2}}, Labels: []int{0, 1}})
	require.Error(t, err)

	_, err = model.Forward(ctx, trainer.Batch{Inputs: [][]float64{{1}}, Labels: []int{0}})
	require.Error(t, err)
}

func TestModel_BackwardWithoutForward(t *testing.T) {
	t.Parallel()

	require.ErrorIs(t, NewModel(1).Backward(context.Background(), 0), ErrNoForward)
}

func TestModel_StateDictRoundTrip(t *testing.T) {
	t.Parallel()

	src := NewModel(3)
	src.weight = []float64{0.5, -1, 2}
	src.bias = 0.25

	state, err := src.StateDict()
	require.NoError(t, err)

	dst := NewModel(3)
	require.NoError(t, dst.SetStateDict(state))

	assert.InDeltaSlice(t, src.weight, dst.weight, 1e-6)
	assert.InDelta(t, src.bias, dst.bias, 1e-6)
}

func TestModel_SetStateDictRejectsWrongShape(t *testing.T) {
	t.Parallel()

	state, err := NewModel(2).StateDict()
	require.NoError(t, err)

	require.ErrorIs(t, NewModel(3).SetStateDict(state), ErrBadState)
	require.ErrorIs(t, NewModel(2).SetStateDict(checkpoint.StateDict{}), ErrBadState)
}

func TestSGD_StateDict(t *testing.T) {
	t.Parallel()

	model := NewModel(1)
	state, err := NewSGD(model, 0.125).StateDict()
	require.NoError(t, err)

	opt := NewSGD(model, 1)
	require.NoError(t, opt.SetStateDict(state))
	assert.InDelta(t, 0.125, opt.lr, 1e-9)

	require.ErrorIs(t, opt.SetStateDict(checkpoint.StateDict{}), ErrBadState)
}

func TestBlobs_Reproducible(t *testing.T) {
	t.Parallel()

	loader := Blobs{Dim: 2, BatchSize: 4, NumBatches: 3, Separation: 1, Seed: 1}
	ctx := context.Background()

	collect := func(epoch int) []trainer.Batch {
		var out []trainer.Batch

		for batch, err := range loader.Batches(ctx, epoch) {
			require.NoError(t, err)

			out = append(out, batch)
		}

		return out
	}

	a, b := collect(2), collect(2)
	require.Len(t, a, 3)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, collect(3))
}

func TestBlobs_StopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	loader := Blobs{Dim: 1, BatchSize: 1, NumBatches: 5, Seed: 1}

	count := 0
	for range loader.Batches(ctx, 0) {
		count++
	}

	assert.Zero(t, count)
}
