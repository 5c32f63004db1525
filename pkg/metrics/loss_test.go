package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLossTracker_FirstUpdateInitializes(t *testing.T) {
	t.Parallel()

	tracker := NewLossTracker(0.5)

	_, ok := tracker.Mean()
	assert.False(t, ok)
	assert.InDelta(t, 2.0, tracker.Update(2.0), 1e-12)
	assert.InDelta(t, 3.0, tracker.Update(4.0), 1e-12)
	assert.InDelta(t, 3.0, tracker.Smoothed(), 1e-12)

	mean, ok := tracker.Mean()
	require.True(t, ok)
	assert.InDelta(t, 3.0, mean, 1e-12)
	assert.Equal(t, 2, tracker.Count())
}

func TestLossTracker_InvalidAlphaFallsBack(t *testing.T) {
	t.Parallel()

	tracker := NewLossTracker(0)
	tracker.Update(1)
	tracker.Update(0)

	assert.InDelta(t, 1-DefaultLossSmoothing, tracker.Smoothed(), 1e-12)
}

func TestLossTracker_Reset(t *testing.T) {
	t.Parallel()

	tracker := NewLossTracker(0.5)
	tracker.Update(3)
	tracker.Reset()

	assert.Zero(t, tracker.Count())
	assert.InDelta(t, 5.0, tracker.Update(5), 1e-12)
}
