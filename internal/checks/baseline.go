package checks

import (
	"math"
	"sync"
)

// minBaselineSamples is how many observations a baseline needs before
// z-scores are meaningful
const minBaselineSamples = 3

// Baseline keeps a rolling window of volume samples and scores new
// observations against their mean and standard deviation. Safe for
// concurrent use.
type Baseline struct {
	mu       sync.Mutex
	samples  []float64
	capacity int
	next     int
	filled   bool
}

// NewBaseline creates a baseline holding up to capacity samples
func NewBaseline(capacity int) *Baseline {
	if capacity < minBaselineSamples {
		capacity = minBaselineSamples
	}
	return &Baseline{
		samples:  make([]float64, capacity),
		capacity: capacity,
	}
}

// Add records one observation, evicting the oldest when full
func (b *Baseline) Add(sample float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.samples[b.next] = sample
	b.next = (b.next + 1) % b.capacity
	if b.next == 0 {
		b.filled = true
	}
}

// Count returns the number of recorded samples
func (b *Baseline) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.countLocked()
}

func (b *Baseline) countLocked() int {
	if b.filled {
		return b.capacity
	}
	return b.next
}

// Ready reports whether enough samples exist to score against
func (b *Baseline) Ready() bool {
	return b.Count() >= minBaselineSamples
}

// Mean returns the average of the recorded samples
func (b *Baseline) Mean() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.meanLocked()
}

func (b *Baseline) meanLocked() float64 {
	n := b.countLocked()
	if n == 0 {
		return 0
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += b.samples[i]
	}
	return sum / float64(n)
}

// StdDev returns the population standard deviation of the samples
func (b *Baseline) StdDev() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stdDevLocked()
}

func (b *Baseline) stdDevLocked() float64 {
	n := b.countLocked()
	if n == 0 {
		return 0
	}
	mean := b.meanLocked()
	sumSq := 0.0
	for i := 0; i < n; i++ {
		d := b.samples[i] - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(n))
}

// ZScore scores an observation against the baseline. A zero standard
// deviation means every sample was identical; any deviation from the mean
// is then reported as an extreme score so it still trips the threshold.
func (b *Baseline) ZScore(observation float64) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	stddev := b.stdDevLocked()
	mean := b.meanLocked()
	if stddev == 0 {
		if observation == mean {
			return 0
		}
		return math.Inf(sign(observation - mean))
	}
	return (observation - mean) / stddev
}

func sign(x float64) int {
	if x < 0 {
		return -1
	}
	return 1
}
