package stats

import (
	"fmt"

	"gonum.org/v1/gonum/stat"
)

// CUPED adjusts the post-period metric y with the pre-period covariate x:
// y' = y - theta·(x - mean(x)) with theta = Cov(y,x)/Var(x). A constant
// covariate gives theta 0, i.e. no adjustment.
func CUPED(y, x []float64, variant []string, controlLabel, treatmentLabel string) (*CUPEDResult, error) {
	if len(y) != len(x) || len(y) != len(variant) {
		return nil, fmt.Errorf("%w: cuped inputs have mismatched lengths %d, %d, %d", ErrInvalidInput, len(y), len(x), len(variant))
	}
	if len(y) < 2 {
		return nil, fmt.Errorf("%w: cuped needs at least 2 observations, got %d", ErrInvalidInput, len(y))
	}

	meanX, varX := meanVariance(x)
	theta := 0.0
	if varX > 0 {
		theta = stat.Covariance(y, x, nil) / varX
	}

	adjusted := make([]float64, len(y))
	var control, treatment []float64
	for i := range y {
		adjusted[i] = y[i] - theta*(x[i]-meanX)
		switch variant[i] {
		case controlLabel:
			control = append(control, adjusted[i])
		case treatmentLabel:
			treatment = append(treatment, adjusted[i])
		}
	}
	if len(control) == 0 || len(treatment) == 0 {
		return nil, fmt.Errorf("%w: cuped needs observations labelled %q and %q", ErrInvalidInput, controlLabel, treatmentLabel)
	}

	_, varY := meanVariance(y)
	_, varAdj := meanVariance(adjusted)
	reduction := 0.0
	if varY > 0 {
		reduction = 1 - varAdj/varY
	}

	controlMean := stat.Mean(control, nil)
	treatmentMean := stat.Mean(treatment, nil)

	return &CUPEDResult{
		Theta:                 theta,
		OriginalVariance:      varY,
		AdjustedVariance:      varAdj,
		VarianceReduction:     reduction,
		AdjustedControlMean:   controlMean,
		AdjustedTreatmentMean: treatmentMean,
		AdjustedEffect:        treatmentMean - controlMean,
	}, nil
}
