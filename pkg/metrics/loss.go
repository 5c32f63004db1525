package metrics

// DefaultLossSmoothing is the EMA factor used for progress lines.
const DefaultLossSmoothing = 0.1

// LossTracker follows batch losses with an exponential moving average and a plain mean.
type LossTracker struct {
	alpha       float64
	smoothed    float64
	sum         float64
	count       int
	initialized bool
}

// NewLossTracker creates a tracker with smoothing factor alpha in (0, 1].
// Out-of-range factors fall back to [DefaultLossSmoothing].
func NewLossTracker(alpha float64) *LossTracker {
	if alpha <= 0 || alpha > 1 {
		alpha = DefaultLossSmoothing
	}

	return &LossTracker{alpha: alpha}
}

// Update feeds a batch loss and returns the smoothed loss.
// The first call initializes the average to the observation.
func (l *LossTracker) Update(loss float64) float64 {
	l.sum += loss
	l.count++

	if !l.initialized {
		l.smoothed = loss
		l.initialized = true

		return l.smoothed
	}

	l.smoothed = l.alpha*loss + (1-l.alpha)*l.smoothed

	return l.smoothed
}

// Smoothed returns the moving average (0 before any Update).
func (l *LossTracker) Smoothed() float64 {
	return l.smoothed
}

// Mean returns the arithmetic mean of all losses, undefined before any Update.
func (l *LossTracker) Mean() (float64, bool) {
	if l.count == 0 {
		return 0, false
	}

	return l.sum / float64(l.count), true
}

// Count returns the number of observed losses.
func (l *LossTracker) Count() int {
	return l.count
}

// Reset forgets every observation.
func (l *LossTracker) Reset() {
	*l = LossTracker{alpha: l.alpha}
}
