package metrics

import (
	"errors"
	"fmt"
	"math"
	"slices"
)

// Default AUC parameters.
const (
	DefaultNumThresholds = 1 << 12
	DefaultSlideSteps    = 20
)

// Counter names of the AUC state.
const (
	CounterStatPos     = "stat_pos"
	CounterStatNeg     = "stat_neg"
	CounterObservedPos = "observed_pos"
	CounterObservedNeg = "observed_neg"
)

// ErrInvalidThresholds is returned for a non-positive bucket count.
var ErrInvalidThresholds = errors.New("num thresholds must be positive")

// ErrInvalidSlideSteps is returned for a negative window.
var ErrInvalidSlideSteps = errors.New("slide steps must not be negative")

// AUC approximates the area under the ROC curve from bucketed score histograms.
//
// Scores in [0, 1] fall into numThresholds+1 buckets (score*numThresholds,
// truncated), tallied separately for positive and negative labels. With
// slideSteps > 0 only the last slideSteps updates stay in the histogram: each
// update's deltas sit in a ring and are subtracted when evicted. With
// slideSteps == 0 the histogram covers the whole run.
type AUC struct {
	numThresholds int
	slideSteps    int

	statPos []float64
	statNeg []float64

	ring   []aucStep
	next   int
	filled int

	observedPos float64
	observedNeg float64
}

// binDelta is one bucket's contribution from a single update.
type binDelta struct {
	bin int
	pos float64
	neg float64
}

type aucStep []binDelta

// NewAUC creates an AUC accumulator.
func NewAUC(numThresholds, slideSteps int) (*AUC, error) {
	if numThresholds <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidThresholds, numThresholds)
	}

	if slideSteps < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSlideSteps, slideSteps)
	}

	return &AUC{
		numThresholds: numThresholds,
		slideSteps:    slideSteps,
		statPos:       make([]float64, numThresholds+1),
		statNeg:       make([]float64, numThresholds+1),
		ring:          make([]aucStep, slideSteps),
	}, nil
}

// Name returns "auc".
func (a *AUC) Name() string {
	return "auc"
}

// NumThresholds returns the bucket resolution.
func (a *AUC) NumThresholds() int {
	return a.numThresholds
}

// SlideSteps returns the window length in updates, 0 for unbounded.
func (a *AUC) SlideSteps() int {
	return a.slideSteps
}

// Check validates the batch. Any label is accepted.
func (a *AUC) Check(batch Batch) error {
	return batch.validate()
}

// Update buckets the batch, slides the window, and returns the AUC of this
// batch alone (NaN when the batch holds a single class).
// Label 0 is negative; any other label is positive.
func (a *AUC) Update(batch Batch) (float64, error) {
	err := a.Check(batch)
	if err != nil {
		return math.NaN(), err
	}

	step := a.bucket(batch)

	if a.slideSteps > 0 {
		if a.filled == a.slideSteps {
			a.apply(a.ring[a.next], -1)
		} else {
			a.filled++
		}

		a.ring[a.next] = step
		a.next = (a.next + 1) % a.slideSteps
	}

	a.apply(step, 1)

	batchAUC, ok := stepAUC(step)
	if !ok {
		return math.NaN(), nil
	}

	return batchAUC, nil
}

func (a *AUC) bucket(batch Batch) aucStep {
	byBin := make(map[int]*binDelta)

	for idx, label := range batch.Labels {
		bin := a.binOf(batch.positiveScore(idx))

		delta, ok := byBin[bin]
		if !ok {
			delta = &binDelta{bin: bin}
			byBin[bin] = delta
		}

		if label != 0 {
			delta.pos++
			a.observedPos++
		} else {
			delta.neg++
			a.observedNeg++
		}
	}

	step := make(aucStep, 0, len(byBin))
	for _, delta := range byBin {
		step = append(step, *delta)
	}

	// Descending bins: the order the trapezoid sweep walks thresholds.
	slices.SortFunc(step, func(x, y binDelta) int { return y.bin - x.bin })

	return step
}

func (a *AUC) binOf(score float64) int {
	score = min(max(score, 0), 1)

	return int(score * float64(a.numThresholds))
}

func (a *AUC) apply(step aucStep, sign float64) {
	for _, delta := range step {
		a.statPos[delta.bin] += sign * delta.pos
		a.statNeg[delta.bin] += sign * delta.neg
	}
}

// Cumulative returns the AUC over the current window. It is undefined until
// the window holds both a positive and a negative observation.
func (a *AUC) Cumulative() (float64, bool) {
	return aucOf(a.statPos, a.statNeg)
}

// State returns the windowed histograms and the lifetime class counts.
func (a *AUC) State() State {
	return State{
		CounterStatPos:     slices.Clone(a.statPos),
		CounterStatNeg:     slices.Clone(a.statNeg),
		CounterObservedPos: {a.observedPos},
		CounterObservedNeg: {a.observedNeg},
	}
}

// Derive implements Accumulator.
func (a *AUC) Derive(state State) (float64, bool) {
	return AUCFromState(state)
}

// Reset empties the histograms and the window.
func (a *AUC) Reset() {
	clear(a.statPos)
	clear(a.statNeg)
	clear(a.ring)

	a.next = 0
	a.filled = 0
	a.observedPos = 0
	a.observedNeg = 0
}

// ROCPoint is one point of the ROC curve at a bucket threshold.
type ROCPoint struct {
	Threshold float64 `json:"threshold" yaml:"threshold"`
	FPR       float64 `json:"fpr"       yaml:"fpr"`
	TPR       float64 `json:"tpr"       yaml:"tpr"`
}

// ROCPoints returns the ROC curve of the current window from the highest
// threshold to the lowest, starting at (0, 0). It is empty while the AUC is undefined.
func (a *AUC) ROCPoints() []ROCPoint {
	totPos, totNeg := sum(a.statPos), sum(a.statNeg)
	if totPos == 0 || totNeg == 0 {
		return nil
	}

	points := []ROCPoint{{Threshold: 1}}

	var cumPos, cumNeg float64

	for idx := a.numThresholds; idx >= 0; idx-- {
		if a.statPos[idx] == 0 && a.statNeg[idx] == 0 {
			continue
		}

		cumPos += a.statPos[idx]
		cumNeg += a.statNeg[idx]

		points = append(points, ROCPoint{
			Threshold: float64(idx) / float64(a.numThresholds),
			FPR:       cumNeg / totNeg,
			TPR:       cumPos / totPos,
		})
	}

	return points
}

// AUCFromState derives the AUC from stat_pos and stat_neg histograms.
func AUCFromState(state State) (float64, bool) {
	return aucOf(state[CounterStatPos], state[CounterStatNeg])
}

// aucOf sweeps dense histograms from the highest bucket to the lowest,
// accumulating trapezoids over cumulative (negative, positive) counts.
func aucOf(statPos, statNeg []float64) (float64, bool) {
	if len(statPos) != len(statNeg) {
		return 0, false
	}

	var area, totPos, totNeg float64

	for idx := len(statPos) - 1; idx >= 0; idx-- {
		prevPos, prevNeg := totPos, totNeg
		totPos += statPos[idx]
		totNeg += statNeg[idx]
		area += trapezoid(totNeg, prevNeg, totPos, prevPos)
	}

	return normalizeArea(area, totPos, totNeg)
}

// stepAUC is aucOf over one update's sparse, descending deltas.
func stepAUC(step aucStep) (float64, bool) {
	var area, totPos, totNeg float64

	for _, delta := range step {
		prevPos, prevNeg := totPos, totNeg
		totPos += delta.pos
		totNeg += delta.neg
		area += trapezoid(totNeg, prevNeg, totPos, prevPos)
	}

	return normalizeArea(area, totPos, totNeg)
}

func trapezoid(x1, x2, y1, y2 float64) float64 {
	return math.Abs(x1-x2) * (y1 + y2) / 2
}

func normalizeArea(area, totPos, totNeg float64) (float64, bool) {
	if totPos <= 0 || totNeg <= 0 {
		return 0, false
	}

	return area / totPos / totNeg, true
}

func sum(values []float64) float64 {
	var total float64

	for _, v := range values {
		total += v
	}

	return total
}
