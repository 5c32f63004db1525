// Package metrics provides streaming metric accumulators for training loops.
//
// Each accumulator:
//   - Consumes one [Batch] per Update and returns the batch-local value
//   - Keeps running counters that only grow within a run
//   - Derives its cumulative value purely from a [State] snapshot of those counters
//
// Counter snapshots can be summed across ranks with a [Reducer] and fed back
// to Derive, so a global value needs no access to other ranks' accumulators.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// Sentinel errors for batch validation.
var (
	ErrEmptyBatch    = errors.New("empty batch")
	ErrShapeMismatch = errors.New("scores and labels differ in length")
	ErrLabelRange    = errors.New("label out of range")
	ErrInvalidScore  = errors.New("score is NaN")
)

// binaryThreshold separates the classes of a single-score prediction.
const binaryThreshold = 0.5

// Batch is one batch of predictions and labels.
type Batch struct {
	// Scores holds one row per sample. A single-column row is the probability
	// of the positive class; wider rows are per-class scores.
	Scores [][]float64
	// Labels holds the true class index per sample.
	Labels []int
}

// Len returns the number of samples in the batch.
func (b Batch) Len() int {
	return len(b.Labels)
}

func (b Batch) validate() error {
	if len(b.Scores) != len(b.Labels) {
		return fmt.Errorf("%w: %d scores, %d labels", ErrShapeMismatch, len(b.Scores), len(b.Labels))
	}

	if len(b.Labels) == 0 {
		return ErrEmptyBatch
	}

	for idx, row := range b.Scores {
		if len(row) == 0 {
			return fmt.Errorf("%w: sample %d has no scores", ErrShapeMismatch, idx)
		}

		for _, score := range row {
			if math.IsNaN(score) {
				return fmt.Errorf("%w: sample %d", ErrInvalidScore, idx)
			}
		}
	}

	return nil
}

// positiveScore returns the probability of the positive class for sample idx.
func (b Batch) positiveScore(idx int) float64 {
	row := b.Scores[idx]

	return row[len(row)-1]
}

// Accumulator is a streaming metric fed once per batch.
type Accumulator interface {
	// Name returns the machine-readable identifier (snake_case, unique).
	Name() string

	// Check reports whether Update would accept the batch, without touching the counters.
	Check(batch Batch) error

	// Update folds the batch into the running counters and returns the batch-local value,
	// NaN when that value is undefined. Invalid batches leave the counters untouched.
	Update(batch Batch) (float64, error)

	// Cumulative derives the running value from the current counters.
	// The boolean is false when the value is undefined.
	Cumulative() (float64, bool)

	// State returns a copy of the running counters.
	State() State

	// Derive computes the metric from counters, possibly summed across ranks.
	Derive(state State) (float64, bool)

	// Reset zeroes the counters for an explicit run restart.
	Reset()
}

// Value is a reported metric value.
type Value struct {
	Name    string  `json:"name"    yaml:"name"`
	Value   float64 `json:"value"   yaml:"value"`
	Defined bool    `json:"defined" yaml:"defined"`
}

// String renders the value, or "n/a" when it is undefined.
func (v Value) String() string {
	if !v.Defined {
		return "n/a"
	}

	return fmt.Sprintf("%.5f", v.Value)
}

// Set holds a collection of accumulators updated together.
type Set struct {
	order []string
	accs  map[string]Accumulator
}

// NewSet creates a set from the given accumulators, keeping their order.
func NewSet(accs ...Accumulator) *Set {
	set := &Set{accs: make(map[string]Accumulator, len(accs))}

	for _, acc := range accs {
		set.Register(acc)
	}

	return set
}

// Register adds an accumulator, replacing any with the same name.
func (s *Set) Register(acc Accumulator) {
	if _, ok := s.accs[acc.Name()]; !ok {
		s.order = append(s.order, acc.Name())
	}

	s.accs[acc.Name()] = acc
}

// Get retrieves an accumulator by name.
func (s *Set) Get(name string) (Accumulator, bool) {
	acc, ok := s.accs[name]

	return acc, ok
}

// Names returns the registered names in registration order.
func (s *Set) Names() []string {
	return append([]string(nil), s.order...)
}

// Update feeds the batch to every accumulator and returns the batch-local values.
// Every accumulator checks the batch before any of them advances, so either
// all accumulators advance or none do.
func (s *Set) Update(batch Batch) ([]Value, error) {
	err := batch.validate()
	if err != nil {
		return nil, err
	}

	for _, name := range s.order {
		checkErr := s.accs[name].Check(batch)
		if checkErr != nil {
			return nil, fmt.Errorf("update %s: %w", name, checkErr)
		}
	}

	values := make([]Value, 0, len(s.order))

	for _, name := range s.order {
		v, updateErr := s.accs[name].Update(batch)
		if updateErr != nil {
			return values, fmt.Errorf("update %s: %w", name, updateErr)
		}

		if math.IsNaN(v) {
			values = append(values, Value{Name: name})

			continue
		}

		values = append(values, Value{Name: name, Value: v, Defined: true})
	}

	return values, nil
}

// Cumulative returns the running value of every accumulator.
func (s *Set) Cumulative() []Value {
	values := make([]Value, 0, len(s.order))

	for _, name := range s.order {
		v, ok := s.accs[name].Cumulative()
		values = append(values, Value{Name: name, Value: v, Defined: ok})
	}

	return values
}

// Snapshot returns the counters of every accumulator keyed by name.
func (s *Set) Snapshot() map[string]State {
	out := make(map[string]State, len(s.order))

	for _, name := range s.order {
		out[name] = s.accs[name].State()
	}

	return out
}

// Global sums the counters of every accumulator across ranks in a single
// collective call and derives the global values.
func (s *Set) Global(ctx context.Context, reducer Reducer) ([]Value, error) {
	flat := make(State)

	for _, name := range s.order {
		for key, vec := range s.accs[name].State() {
			flat[name+stateKeySep+key] = vec
		}
	}

	reduced, err := reducer.AllReduceSum(ctx, flat)
	if err != nil {
		return nil, fmt.Errorf("reduce metric state: %w", err)
	}

	values := make([]Value, 0, len(s.order))

	for _, name := range s.order {
		v, ok := s.accs[name].Derive(reduced.Prefixed(name))
		values = append(values, Value{Name: name, Value: v, Defined: ok})
	}

	return values, nil
}

// Reset zeroes every accumulator.
func (s *Set) Reset() {
	for _, acc := range s.accs {
		acc.Reset()
	}
}
