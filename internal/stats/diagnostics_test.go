package stats_test

import (
	"encoding/json"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gkobilansky/abgoat/internal/stats"
)

func TestSRMCheck(t *testing.T) {
	balanced, err := stats.SRMCheck([]int{5000, 5000}, nil, stats.DefaultSRMThreshold)
	require.NoError(t, err)
	assert.False(t, balanced.IsSRM)
	assert.Equal(t, 0.0, balanced.ChiSquare)
	assert.Equal(t, 1.0, balanced.PValue)
	assert.Equal(t, []int{5000, 5000}, balanced.ExpectedCounts)

	skewed, err := stats.SRMCheck([]int{5500, 4500}, nil, stats.DefaultSRMThreshold)
	require.NoError(t, err)
	assert.True(t, skewed.IsSRM)
	assert.InDelta(t, 100.0, skewed.ChiSquare, 1e-9)
	assert.Less(t, skewed.PValue, 1e-10)
	assert.Equal(t, []int{5500, 4500}, skewed.ObservedCounts)
}

func TestSRMCheck_CustomRatios(t *testing.T) {
	r, err := stats.SRMCheck([]int{7000, 3000}, []float64{0.7, 0.3}, stats.DefaultSRMThreshold)
	require.NoError(t, err)
	assert.False(t, r.IsSRM)
	assert.InDelta(t, 0.0, r.ChiSquare, 1e-9)

	r, err = stats.SRMCheck([]int{3400, 3300, 3300}, nil, 0.01)
	require.NoError(t, err)
	assert.False(t, r.IsSRM)
	assert.Equal(t, 0.01, r.Threshold)
	assert.Len(t, r.ExpectedCounts, 3)
}

func TestSRMCheck_InvalidInput(t *testing.T) {
	cases := map[string]func() error{
		"single variant": func() error { _, err := stats.SRMCheck([]int{10}, nil, 0.001); return err },
		"negative count": func() error { _, err := stats.SRMCheck([]int{10, -1}, nil, 0.001); return err },
		"all zero":       func() error { _, err := stats.SRMCheck([]int{0, 0}, nil, 0.001); return err },
		"ratio mismatch": func() error { _, err := stats.SRMCheck([]int{1, 2}, []float64{1}, 0.001); return err },
		"zero ratio":     func() error { _, err := stats.SRMCheck([]int{1, 2}, []float64{1, 0}, 0.001); return err },
		"bad threshold":  func() error { _, err := stats.SRMCheck([]int{1, 2}, nil, 0); return err },
	}
	for name, fn := range cases {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, fn(), stats.ErrInvalidInput)
		})
	}
}

func dailyRows(start time.Time, days int, value func(day int, variant string) float64) []stats.DailyMetric {
	var rows []stats.DailyMetric
	for d := 0; d < days; d++ {
		for _, v := range []string{"control", "treatment"} {
			rows = append(rows, stats.DailyMetric{Date: start.AddDate(0, 0, d), Variant: v, Value: value(d, v)})
		}
	}
	return rows
}

var noveltyStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestNoveltyDetection_DecayingTreatment(t *testing.T) {
	rng := rand.New(rand.NewPCG(11, 12))
	rows := dailyRows(noveltyStart, 21, func(day int, variant string) float64 {
		base := 0.10 + 0.002*rng.NormFloat64()
		if variant == "treatment" && day <= 7 {
			base += 0.05
		}
		return base
	})

	r, err := stats.NoveltyDetection(rows, 7)
	require.NoError(t, err)
	assert.True(t, r.Detected)
	assert.Equal(t, 7, r.WindowDays)

	treat := r.Variants["treatment"]
	assert.True(t, treat.Significant)
	assert.Greater(t, treat.EarlyMean, treat.LateMean)
	assert.Greater(t, treat.TStatistic, 0.0)
}

func TestNoveltyDetection_ConstantRate(t *testing.T) {
	rows := dailyRows(noveltyStart, 14, func(int, string) float64 { return 0.1 })

	r, err := stats.NoveltyDetection(rows, 7)
	require.NoError(t, err)
	assert.False(t, r.Detected)
	assert.Equal(t, 1.0, r.Variants["control"].PValue)
}

func TestNoveltyDetection_ConstantShift(t *testing.T) {
	rows := dailyRows(noveltyStart, 14, func(day int, _ string) float64 {
		if day <= 7 {
			return 0.2
		}
		return 0.1
	})

	r, err := stats.NoveltyDetection(rows, 7)
	require.NoError(t, err)
	assert.True(t, r.Detected)
	v := r.Variants["treatment"]
	assert.Equal(t, 0.0, v.PValue)
	assert.True(t, math.IsInf(v.TStatistic, 1))

	data, err := json.Marshal(v)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"t_statistic":null`)
}

func TestNoveltyDetection_NotEnoughData(t *testing.T) {
	r, err := stats.NoveltyDetection(nil, 7)
	require.NoError(t, err)
	assert.False(t, r.Detected)
	assert.NotEmpty(t, r.Reason)

	// Everything lands in the early window
	rows := dailyRows(noveltyStart, 5, func(int, string) float64 { return 1 })
	r, err = stats.NoveltyDetection(rows, 7)
	require.NoError(t, err)
	assert.False(t, r.Detected)
	assert.Contains(t, r.Reason, "Insufficient")

	_, err = stats.NoveltyDetection(rows, -1)
	assert.ErrorIs(t, err, stats.ErrInvalidInput)
}

func cupedData(n int, correlated bool) (y, x []float64, variant []string) {
	rng := rand.New(rand.NewPCG(21, 22))
	y = make([]float64, n)
	x = make([]float64, n)
	variant = make([]string, n)
	for i := range y {
		x[i] = 50 + 10*rng.NormFloat64()
		if correlated {
			y[i] = 2*x[i] + rng.NormFloat64()
		} else {
			y[i] = 100 + 10*rng.NormFloat64()
		}
		variant[i] = "control"
		if i%2 == 1 {
			variant[i] = "treatment"
			y[i] += 1
		}
	}
	return y, x, variant
}

func TestCUPED_CorrelatedCovariate(t *testing.T) {
	y, x, variant := cupedData(2000, true)

	r, err := stats.CUPED(y, x, variant, "control", "treatment")
	require.NoError(t, err)
	assert.Greater(t, r.VarianceReduction, 0.9)
	assert.InDelta(t, 2.0, r.Theta, 0.05)
	assert.Less(t, r.AdjustedVariance, r.OriginalVariance)
	assert.InDelta(t, 1.0, r.AdjustedEffect, 0.2)
	assert.InDelta(t, r.AdjustedTreatmentMean-r.AdjustedControlMean, r.AdjustedEffect, 1e-12)
}

func TestCUPED_IndependentCovariate(t *testing.T) {
	y, x, variant := cupedData(2000, false)

	r, err := stats.CUPED(y, x, variant, "control", "treatment")
	require.NoError(t, err)
	assert.InDelta(t, 0.0, r.VarianceReduction, 0.02)
}

func TestCUPED_ConstantCovariate(t *testing.T) {
	r, err := stats.CUPED([]float64{1, 2, 3, 4}, []float64{5, 5, 5, 5}, []string{"a", "b", "a", "b"}, "a", "b")
	require.NoError(t, err)
	assert.Equal(t, 0.0, r.Theta)
	assert.InDelta(t, 0.0, r.VarianceReduction, 1e-12)
	assert.InDelta(t, 1.0, r.AdjustedEffect, 1e-12)
}

func TestCUPED_InvalidInput(t *testing.T) {
	_, err := stats.CUPED([]float64{1, 2}, []float64{1}, []string{"a", "b"}, "a", "b")
	assert.ErrorIs(t, err, stats.ErrInvalidInput)

	_, err = stats.CUPED([]float64{1, 2}, []float64{1, 2}, []string{"a", "a"}, "a", "b")
	assert.ErrorIs(t, err, stats.ErrInvalidInput)
}
