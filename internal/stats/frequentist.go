package stats

import (
	"fmt"
	"math"
)

// TwoProportionZTest compares conversion rates with a pooled-variance z-test.
// The confidence interval is a Wald interval on the unpooled difference and
// the effect size is Cohen's h.
func TwoProportionZTest(controlConv, controlN, treatConv, treatN int, alpha float64, alt Alternative) (*FrequentistResult, error) {
	if err := checkCounts("control", controlConv, controlN); err != nil {
		return nil, err
	}
	if err := checkCounts("treatment", treatConv, treatN); err != nil {
		return nil, err
	}
	if err := checkProbability("alpha", alpha); err != nil {
		return nil, err
	}
	alt, err := checkAlternative(alt)
	if err != nil {
		return nil, err
	}

	nC, nT := float64(controlN), float64(treatN)
	pC := float64(controlConv) / nC
	pT := float64(treatConv) / nT
	pPool := float64(controlConv+treatConv) / (nC + nT)

	se := math.Sqrt(pPool * (1 - pPool) * (1/nC + 1/nT))
	z := 0.0
	if se > 0 {
		z = (pT - pC) / se
	}
	pValue := normalPValue(z, alt)

	diff := pT - pC
	seDiff := math.Sqrt(pC*(1-pC)/nC + pT*(1-pT)/nT)
	zCrit := normalQuantile(1 - alpha/2)

	relative := 0.0
	if pC > 0 {
		relative = diff / pC
	}

	return &FrequentistResult{
		TestName:        "Two-Proportion Z-Test",
		Statistic:       z,
		PValue:          pValue,
		Significant:     pValue < alpha,
		ConfidenceLevel: 1 - alpha,
		ControlMean:     pC,
		TreatmentMean:   pT,
		AbsoluteEffect:  diff,
		RelativeEffect:  relative,
		CILower:         diff - zCrit*seDiff,
		CIUpper:         diff + zCrit*seDiff,
		EffectSize:      2 * (math.Asin(math.Sqrt(pT)) - math.Asin(math.Sqrt(pC))),
	}, nil
}

// WelchTTest compares means without assuming equal variances.
func WelchTTest(control, treatment []float64, alpha float64, alt Alternative) (*FrequentistResult, error) {
	if len(control) < 2 || len(treatment) < 2 {
		return nil, fmt.Errorf("%w: welch t-test needs at least 2 values per group, got %d and %d", ErrInvalidInput, len(control), len(treatment))
	}
	if err := checkProbability("alpha", alpha); err != nil {
		return nil, err
	}
	alt, err := checkAlternative(alt)
	if err != nil {
		return nil, err
	}

	t, df, meanC, meanT, se := welch(control, treatment)

	dist := studentsT(df)
	var pValue float64
	switch alt {
	case Greater:
		pValue = dist.Survival(t)
	case Less:
		pValue = dist.CDF(t)
	default:
		pValue = 2 * dist.Survival(math.Abs(t))
	}

	tCrit := dist.Quantile(1 - alpha/2)
	diff := meanT - meanC

	relative := 0.0
	if meanC != 0 {
		relative = diff / meanC
	}

	return &FrequentistResult{
		TestName:        "Welch's T-Test",
		Statistic:       t,
		PValue:          pValue,
		Significant:     pValue < alpha,
		ConfidenceLevel: 1 - alpha,
		ControlMean:     meanC,
		TreatmentMean:   meanT,
		AbsoluteEffect:  diff,
		RelativeEffect:  relative,
		CILower:         diff - tCrit*se,
		CIUpper:         diff + tCrit*se,
		EffectSize:      CohensD(control, treatment),
	}, nil
}

// welch returns the Welch t statistic (treatment minus control), the
// Welch-Satterthwaite degrees of freedom, both means and the standard error.
func welch(control, treatment []float64) (t, df, meanC, meanT, se float64) {
	nC, nT := float64(len(control)), float64(len(treatment))
	meanC, varC := meanVariance(control)
	meanT, varT := meanVariance(treatment)

	vc, vt := varC/nC, varT/nT
	se = math.Sqrt(vc + vt)
	if se > 0 {
		t = (meanT - meanC) / se
	}

	df = 1
	if denom := vc*vc/(nC-1) + vt*vt/(nT-1); denom > 0 {
		df = (vc + vt) * (vc + vt) / denom
	}
	return t, df, meanC, meanT, se
}

// ChiSquareTest runs a contingency-table chi-square test. Rows are variants
// and columns are outcome categories. 2x2 tables use Yates' continuity
// correction. ControlMean and TreatmentMean are the first-column proportions
// of the first two rows, not a general summary of wider tables.
func ChiSquareTest(observed [][]int, alpha float64) (*FrequentistResult, error) {
	if len(observed) < 2 || len(observed[0]) < 2 {
		return nil, fmt.Errorf("%w: contingency table must be at least 2x2", ErrInvalidInput)
	}
	if err := checkProbability("alpha", alpha); err != nil {
		return nil, err
	}

	rows, cols := len(observed), len(observed[0])
	rowTotals := make([]float64, rows)
	colTotals := make([]float64, cols)
	total := 0.0
	for i, row := range observed {
		if len(row) != cols {
			return nil, fmt.Errorf("%w: row %d has %d columns, want %d", ErrInvalidInput, i, len(row), cols)
		}
		for j, v := range row {
			if v < 0 {
				return nil, fmt.Errorf("%w: negative count at [%d][%d]", ErrInvalidInput, i, j)
			}
			rowTotals[i] += float64(v)
			colTotals[j] += float64(v)
			total += float64(v)
		}
	}
	for i, rt := range rowTotals {
		if rt == 0 {
			return nil, fmt.Errorf("%w: row %d is empty", ErrInvalidInput, i)
		}
	}
	for j, ct := range colTotals {
		if ct == 0 {
			return nil, fmt.Errorf("%w: column %d is empty", ErrInvalidInput, j)
		}
	}

	df := float64((rows - 1) * (cols - 1))
	yates := df == 1

	chi2 := 0.0
	for i, row := range observed {
		for j, v := range row {
			expected := rowTotals[i] * colTotals[j] / total
			dev := math.Abs(float64(v) - expected)
			if yates {
				dev = math.Max(dev-0.5, 0)
			}
			chi2 += dev * dev / expected
		}
	}
	pValue := chiSquareSurvival(chi2, df)

	return &FrequentistResult{
		TestName:        "Chi-Square Test",
		Statistic:       chi2,
		PValue:          pValue,
		Significant:     pValue < alpha,
		ConfidenceLevel: 1 - alpha,
		ControlMean:     float64(observed[0][0]) / rowTotals[0],
		TreatmentMean:   float64(observed[1][0]) / rowTotals[1],
		EffectSize:      math.Sqrt(chi2 / total),
	}, nil
}

// CohensD is the difference in means (treatment minus control) over the
// pooled standard deviation. It is 0 when the pooled deviation is 0.
func CohensD(control, treatment []float64) float64 {
	nC, nT := float64(len(control)), float64(len(treatment))
	if nC+nT <= 2 {
		return 0
	}
	meanC, varC := meanVariance(control)
	meanT, varT := meanVariance(treatment)
	pooled := math.Sqrt(((nC-1)*varC + (nT-1)*varT) / (nC + nT - 2))
	if pooled == 0 {
		return 0
	}
	return (meanT - meanC) / pooled
}
