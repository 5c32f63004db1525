package trainer_test

import (
	"context"
	"errors"
	"iter"
	"sync"

	"github.com/Sumatoshi-tech/trainkit/pkg/checkpoint"
	"github.com/Sumatoshi-tech/trainkit/pkg/trainer"
)

// fakeModel scores every sample with the row stored in Inputs and counts the
// optimizer steps it has seen as its only weight.
type fakeModel struct {
	mu       sync.Mutex
	steps    float32
	forwards int
	restored checkpoint.StateDict
	failSet  bool
}

func (m *fakeModel) Train() {}

func (m *fakeModel) Forward(_ context.Context, batch trainer.Batch) (trainer.Output, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.forwards++

	scores, _ := batch.Inputs.([][]float64)

	return trainer.Output{Loss: 0.5, Scores: scores}, nil
}

func (m *fakeModel) Backward(context.Context, float64) error { return nil }

func (m *fakeModel) ClearGradients() {}

func (m *fakeModel) StateDict() (checkpoint.StateDict, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return checkpoint.StateDict{"steps": {Shape: []int{1}, Data: []float32{m.steps}}}, nil
}

func (m *fakeModel) SetStateDict(state checkpoint.StateDict) error {
	if m.failSet {
		return errors.New("shape mismatch")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.restored = state
	m.steps = state["steps"].Data[0]

	return nil
}

func (m *fakeModel) forwardCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.forwards
}

type fakeOptimizer struct {
	model   *fakeModel
	lr      float32
	failSet bool
}

func (o *fakeOptimizer) Step(context.Context) error {
	o.model.mu.Lock()
	o.model.steps++
	o.model.mu.Unlock()

	return nil
}

func (o *fakeOptimizer) StateDict() (checkpoint.StateDict, error) {
	return checkpoint.StateDict{"lr": {Shape: []int{1}, Data: []float32{o.lr}}}, nil
}

func (o *fakeOptimizer) SetStateDict(state checkpoint.StateDict) error {
	if o.failSet {
		return errors.New("unknown parameter group")
	}

	o.lr = state["lr"].Data[0]

	return nil
}

// fakeLoader yields batchesPerEpoch identical batches and records which
// epochs were requested.
type fakeLoader struct {
	mu              sync.Mutex
	batchesPerEpoch int
	scores          [][]float64
	labels          []int
	epochs          []int
	onBatch         func(epoch, batch int)
	err             error
}

func (l *fakeLoader) Batches(_ context.Context, epoch int) iter.Seq2[trainer.Batch, error] {
	l.mu.Lock()
	l.epochs = append(l.epochs, epoch)
	l.mu.Unlock()

	return func(yield func(trainer.Batch, error) bool) {
		if l.err != nil {
			yield(trainer.Batch{}, l.err)

			return
		}

		for idx := range l.batchesPerEpoch {
			if l.onBatch != nil {
				l.onBatch(epoch, idx)
			}

			if !yield(trainer.Batch{Inputs: l.scores, Labels: l.labels}, nil) {
				return
			}
		}
	}
}

func (l *fakeLoader) requested() []int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]int(nil), l.epochs...)
}

// perfectLoader yields two-class batches the model always gets right.
func perfectLoader(batches int) *fakeLoader {
	return &fakeLoader{
		batchesPerEpoch: batches,
		scores:          [][]float64{{0.9, 0.1}, {0.2, 0.8}, {0.7, 0.3}, {0.1, 0.9}},
		labels:          []int{0, 1, 0, 1},
	}
}

// wrongLoader yields two-class batches the model always gets wrong.
func wrongLoader(batches int) *fakeLoader {
	return &fakeLoader{
		batchesPerEpoch: batches,
		scores:          [][]float64{{0.9, 0.1}, {0.2, 0.8}, {0.7, 0.3}, {0.1, 0.9}},
		labels:          []int{1, 0, 1, 0},
	}
}
