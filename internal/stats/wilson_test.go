package stats_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gkobilansky/abgoat/internal/stats"
)

func TestWilsonInterval(t *testing.T) {
	tests := []struct {
		name               string
		successes, trials  int
		lowerMin, lowerMax float64
		upperMin, upperMax float64
	}{
		{"half", 50, 100, 0.39, 0.41, 0.59, 0.61},
		{"low rate", 5, 100, 0.01, 0.03, 0.09, 0.13},
		{"high rate", 95, 100, 0.87, 0.91, 0.97, 0.99},
		{"no successes", 0, 100, 0, 1e-9, 0.01, 0.05},
		{"all successes", 100, 100, 0.95, 0.99, 0.99, 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lower, upper := stats.WilsonInterval(tt.successes, tt.trials, 0.95)
			assert.GreaterOrEqual(t, lower, tt.lowerMin)
			assert.LessOrEqual(t, lower, tt.lowerMax)
			assert.GreaterOrEqual(t, upper, tt.upperMin)
			assert.LessOrEqual(t, upper, tt.upperMax)
		})
	}
}

func TestWilsonInterval_ZeroTrials(t *testing.T) {
	lower, upper := stats.WilsonInterval(0, 0, 0.95)
	assert.Equal(t, 0.0, lower)
	assert.Equal(t, 0.0, upper)
}

func TestWilsonInterval_NarrowsWithSample(t *testing.T) {
	l1, u1 := stats.WilsonInterval(5, 10, 0.95)
	l2, u2 := stats.WilsonInterval(500, 1000, 0.95)
	assert.Greater(t, u1-l1, 0.3)
	assert.Less(t, u2-l2, u1-l1)
}

func TestZScore(t *testing.T) {
	assert.InDelta(t, 1.645, stats.ZScore(0.90), 0.001)
	assert.InDelta(t, 1.960, stats.ZScore(0.95), 0.001)
	assert.InDelta(t, 2.576, stats.ZScore(0.99), 0.001)
}
