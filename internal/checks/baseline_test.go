package checks

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBaseline_NotReadyUntilMinSamples(t *testing.T) {
	b := NewBaseline(10)
	assert.False(t, b.Ready())

	b.Add(100)
	b.Add(110)
	assert.False(t, b.Ready())

	b.Add(105)
	assert.True(t, b.Ready())
}

func TestBaseline_MeanAndStdDev(t *testing.T) {
	b := NewBaseline(10)
	for _, v := range []float64{2, 4, 4, 4, 5, 5, 7, 9} {
		b.Add(v)
	}

	assert.InDelta(t, 5.0, b.Mean(), 0.0001)
	assert.InDelta(t, 2.0, b.StdDev(), 0.0001)
	assert.Equal(t, 8, b.Count())
}

func TestBaseline_ZScore(t *testing.T) {
	b := NewBaseline(10)
	for _, v := range []float64{2, 4, 4, 4, 5, 5, 7, 9} {
		b.Add(v)
	}

	assert.InDelta(t, 2.5, b.ZScore(10), 0.0001)
	assert.InDelta(t, -1.5, b.ZScore(2), 0.0001)
	assert.InDelta(t, 0.0, b.ZScore(5), 0.0001)
}

func TestBaseline_ZeroVarianceDeviationIsExtreme(t *testing.T) {
	b := NewBaseline(5)
	b.Add(100)
	b.Add(100)
	b.Add(100)

	assert.Equal(t, 0.0, b.ZScore(100))
	assert.True(t, math.IsInf(b.ZScore(150), 1))
	assert.True(t, math.IsInf(b.ZScore(50), -1))
}

func TestBaseline_EvictsOldestWhenFull(t *testing.T) {
	b := NewBaseline(3)
	b.Add(1)
	b.Add(2)
	b.Add(3)
	assert.Equal(t, 3, b.Count())
	assert.InDelta(t, 2.0, b.Mean(), 0.0001)

	// 1 falls out of the window
	b.Add(10)
	assert.Equal(t, 3, b.Count())
	assert.InDelta(t, 5.0, b.Mean(), 0.0001)
}

func TestBaseline_MinimumCapacity(t *testing.T) {
	b := NewBaseline(1)
	b.Add(1)
	b.Add(2)
	b.Add(3)
	assert.True(t, b.Ready())
	assert.Equal(t, minBaselineSamples, b.Count())
}
