package metrics

import (
	"fmt"
	"math"
)

// Counter names of the accuracy state.
const (
	CounterTotal   = "total"
	CounterCorrect = "correct"
)

// Accuracy is the running top-k accuracy: correct / total.
type Accuracy struct {
	k       int
	total   float64
	correct float64
}

// NewAccuracy creates a top-k accuracy accumulator. k below 1 is treated as 1.
func NewAccuracy(k int) *Accuracy {
	return &Accuracy{k: max(k, 1)}
}

// Name returns "acc_top<k>".
func (a *Accuracy) Name() string {
	return fmt.Sprintf("acc_top%d", a.k)
}

// K returns the accepted rank of the true class.
func (a *Accuracy) K() int {
	return a.k
}

// Check validates the batch and every label against the score rows.
func (a *Accuracy) Check(batch Batch) error {
	err := batch.validate()
	if err != nil {
		return err
	}

	for idx, label := range batch.Labels {
		_, hitErr := a.hit(batch.Scores[idx], label)
		if hitErr != nil {
			return fmt.Errorf("sample %d: %w", idx, hitErr)
		}
	}

	return nil
}

// Update adds len(batch) to total and the number of hits to correct.
func (a *Accuracy) Update(batch Batch) (float64, error) {
	err := a.Check(batch)
	if err != nil {
		return math.NaN(), err
	}

	var hits float64

	for idx, label := range batch.Labels {
		hit, hitErr := a.hit(batch.Scores[idx], label)
		if hitErr != nil {
			return math.NaN(), fmt.Errorf("sample %d: %w", idx, hitErr)
		}

		if hit {
			hits++
		}
	}

	size := float64(batch.Len())
	a.total += size
	a.correct += hits

	return hits / size, nil
}

// hit reports whether label ranks within the top k of scores. Ties count in
// favour of the label. A single score is the positive-class probability.
func (a *Accuracy) hit(scores []float64, label int) (bool, error) {
	if len(scores) == 1 {
		if label != 0 && label != 1 {
			return false, fmt.Errorf("%w: binary label %d", ErrLabelRange, label)
		}

		predicted := 0
		if scores[0] >= binaryThreshold {
			predicted = 1
		}

		return predicted == label, nil
	}

	if label < 0 || label >= len(scores) {
		return false, fmt.Errorf("%w: label %d with %d classes", ErrLabelRange, label, len(scores))
	}

	target := scores[label]
	above := 0

	for _, score := range scores {
		if score > target {
			above++
		}
	}

	return above < a.k, nil
}

// Cumulative returns correct / total, undefined before any observation.
func (a *Accuracy) Cumulative() (float64, bool) {
	return accuracyOf(a.correct, a.total)
}

// State returns the total and correct counters.
func (a *Accuracy) State() State {
	return State{
		CounterTotal:   {a.total},
		CounterCorrect: {a.correct},
	}
}

// Derive implements Accumulator.
func (a *Accuracy) Derive(state State) (float64, bool) {
	return AccuracyFromState(state)
}

// Reset zeroes the counters.
func (a *Accuracy) Reset() {
	a.total = 0
	a.correct = 0
}

// AccuracyFromState derives accuracy from total and correct counters.
func AccuracyFromState(state State) (float64, bool) {
	return accuracyOf(state.Scalar(CounterCorrect), state.Scalar(CounterTotal))
}

func accuracyOf(correct, total float64) (float64, bool) {
	if total <= 0 {
		return 0, false
	}

	return correct / total, true
}
