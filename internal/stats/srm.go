package stats

import (
	"fmt"
	"math"
)

// DefaultSRMThreshold is the p-value below which a mismatch is flagged. It is
// stricter than usual significance levels to keep false alarms rare.
const DefaultSRMThreshold = 0.001

// SRMCheck tests observed allocation counts against the expected ratios with
// a chi-square goodness-of-fit test. A nil expectedRatios means an equal split.
func SRMCheck(observed []int, expectedRatios []float64, threshold float64) (*SRMResult, error) {
	if len(observed) < 2 {
		return nil, fmt.Errorf("%w: srm check needs at least 2 variants, got %d", ErrInvalidInput, len(observed))
	}
	if err := checkProbability("threshold", threshold); err != nil {
		return nil, err
	}

	total := 0
	for i, n := range observed {
		if n < 0 {
			return nil, fmt.Errorf("%w: variant %d has negative count %d", ErrInvalidInput, i, n)
		}
		total += n
	}
	if total == 0 {
		return nil, fmt.Errorf("%w: srm check needs at least one observation", ErrInvalidInput)
	}

	if expectedRatios == nil {
		expectedRatios = make([]float64, len(observed))
		for i := range expectedRatios {
			expectedRatios[i] = 1 / float64(len(observed))
		}
	}
	if len(expectedRatios) != len(observed) {
		return nil, fmt.Errorf("%w: got %d expected ratios for %d variants", ErrInvalidInput, len(expectedRatios), len(observed))
	}

	chi2 := 0.0
	expectedCounts := make([]int, len(observed))
	for i, n := range observed {
		if expectedRatios[i] <= 0 {
			return nil, fmt.Errorf("%w: expected ratio %d must be positive, got %v", ErrInvalidInput, i, expectedRatios[i])
		}
		expected := expectedRatios[i] * float64(total)
		dev := float64(n) - expected
		chi2 += dev * dev / expected
		expectedCounts[i] = int(expected)
	}
	pValue := chiSquareSurvival(chi2, float64(len(observed)-1))

	counts := make([]int, len(observed))
	copy(counts, observed)

	return &SRMResult{
		ChiSquare:      chi2,
		PValue:         math.Min(math.Max(pValue, 0), 1),
		IsSRM:          pValue < threshold,
		ExpectedCounts: expectedCounts,
		ObservedCounts: counts,
		Threshold:      threshold,
	}, nil
}
