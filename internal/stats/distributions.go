package stats

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// normalCDF is the standard normal cumulative distribution function.
func normalCDF(x float64) float64 {
	return distuv.UnitNormal.CDF(x)
}

func normalPDF(x float64) float64 {
	return distuv.UnitNormal.Prob(x)
}

// normalQuantile is the inverse of normalCDF.
func normalQuantile(p float64) float64 {
	return distuv.UnitNormal.Quantile(p)
}

func studentsT(df float64) distuv.StudentsT {
	return distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
}

// chiSquareSurvival returns P(X > x) for X ~ chi-square(df).
func chiSquareSurvival(x, df float64) float64 {
	if x <= 0 {
		return 1
	}
	return distuv.ChiSquared{K: df}.Survival(x)
}

// normalPValue converts a z statistic into a p-value for the alternative.
func normalPValue(z float64, alt Alternative) float64 {
	switch alt {
	case Greater:
		return 1 - normalCDF(z)
	case Less:
		return normalCDF(z)
	default:
		return 2 * (1 - normalCDF(math.Abs(z)))
	}
}

// criticalZ returns the z critical value for alpha under the alternative.
func criticalZ(alpha float64, alt Alternative) float64 {
	if alt == TwoSided {
		return normalQuantile(1 - alpha/2)
	}
	return normalQuantile(1 - alpha)
}

func checkAlternative(alt Alternative) (Alternative, error) {
	switch alt {
	case "":
		return TwoSided, nil
	case TwoSided, Greater, Less:
		return alt, nil
	}
	return "", fmt.Errorf("%w: alternative must be one of %q, %q, %q, got %q", ErrInvalidInput, TwoSided, Greater, Less, alt)
}

func checkProbability(name string, p float64) error {
	if math.IsNaN(p) || p <= 0 || p >= 1 {
		return fmt.Errorf("%w: %s must be in (0, 1), got %v", ErrInvalidInput, name, p)
	}
	return nil
}

func checkCounts(name string, conversions, total int) error {
	if total <= 0 {
		return fmt.Errorf("%w: %s total must be positive, got %d", ErrInvalidInput, name, total)
	}
	if conversions < 0 || conversions > total {
		return fmt.Errorf("%w: %s conversions must be in [0, %d], got %d", ErrInvalidInput, name, total, conversions)
	}
	return nil
}

// percentile returns the q-th percentile (0-100) of x.
func percentile(x []float64, q float64) float64 {
	if len(x) == 0 {
		return math.NaN()
	}
	sorted := make([]float64, len(x))
	copy(sorted, x)
	sort.Float64s(sorted)
	return stat.Quantile(q/100, stat.LinInterp, sorted, nil)
}

// meanVariance returns the mean and the unbiased (n-1) variance of x.
func meanVariance(x []float64) (mean, variance float64) {
	if len(x) < 2 {
		return stat.Mean(x, nil), 0
	}
	return stat.MeanVariance(x, nil)
}
