package stats

import (
	"fmt"
	"math"
)

// SampleSizeProportion returns the per-variant sample size needed to detect
// an absolute lift of mde over baseline with the given alpha and power.
func SampleSizeProportion(baseline, mde, alpha, power float64, alt Alternative) (*PowerResult, error) {
	if err := checkProbability("baseline rate", baseline); err != nil {
		return nil, err
	}
	p2 := baseline + mde
	if mde == 0 || p2 <= 0 || p2 >= 1 {
		return nil, fmt.Errorf("%w: baseline+mde must be in (0, 1) with mde != 0, got %v", ErrInvalidInput, p2)
	}
	zAlpha, zBeta, err := powerQuantiles(alpha, power, alt)
	if err != nil {
		return nil, err
	}

	p1 := baseline
	num := zAlpha*math.Sqrt(2*p1*(1-p1)) + zBeta*math.Sqrt(p1*(1-p1)+p2*(1-p2))
	n := int(math.Ceil(math.Pow(num/(p2-p1), 2)))

	return &PowerResult{
		RequiredSampleSize:       2 * n,
		RequiredSamplePerVariant: n,
		Power:                    power,
		Alpha:                    alpha,
		MDE:                      mde,
		BaselineRate:             baseline,
	}, nil
}

// SampleSizeMean returns the per-variant sample size for a difference in
// means of mdeAbsolute given the baseline standard deviation.
func SampleSizeMean(baselineMean, baselineStd, mdeAbsolute, alpha, power float64, alt Alternative) (*PowerResult, error) {
	if baselineStd <= 0 {
		return nil, fmt.Errorf("%w: baseline std must be positive, got %v", ErrInvalidInput, baselineStd)
	}
	if mdeAbsolute == 0 {
		return nil, fmt.Errorf("%w: minimum detectable effect must not be zero", ErrInvalidInput)
	}
	zAlpha, zBeta, err := powerQuantiles(alpha, power, alt)
	if err != nil {
		return nil, err
	}

	n := int(math.Ceil(2 * math.Pow((zAlpha+zBeta)*baselineStd/mdeAbsolute, 2)))

	return &PowerResult{
		RequiredSampleSize:       2 * n,
		RequiredSamplePerVariant: n,
		Power:                    power,
		Alpha:                    alpha,
		MDE:                      mdeAbsolute,
		BaselineRate:             baselineMean,
	}, nil
}

func powerQuantiles(alpha, power float64, alt Alternative) (zAlpha, zBeta float64, err error) {
	if err := checkProbability("alpha", alpha); err != nil {
		return 0, 0, err
	}
	if err := checkProbability("power", power); err != nil {
		return 0, 0, err
	}
	alt, err = checkAlternative(alt)
	if err != nil {
		return 0, 0, err
	}
	return criticalZ(alpha, alt), normalQuantile(power), nil
}

// AdjustForCUPED scales a plan by (1 - varianceReduction), the variance left
// after covariate adjustment.
func AdjustForCUPED(original *PowerResult, varianceReduction float64) (*PowerResult, error) {
	if original == nil {
		return nil, fmt.Errorf("%w: nil power result", ErrInvalidInput)
	}
	if varianceReduction < 0 || varianceReduction >= 1 {
		return nil, fmt.Errorf("%w: variance reduction must be in [0, 1), got %v", ErrInvalidInput, varianceReduction)
	}

	perVariant := int(math.Ceil(float64(original.RequiredSamplePerVariant) * (1 - varianceReduction)))
	total := 2 * perVariant
	vr := varianceReduction

	return &PowerResult{
		RequiredSampleSize:       total,
		RequiredSamplePerVariant: perVariant,
		EstimatedDays:            original.EstimatedDays,
		Power:                    original.Power,
		Alpha:                    original.Alpha,
		MDE:                      original.MDE,
		BaselineRate:             original.BaselineRate,
		CUPEDAdjustedSize:        &total,
		VarianceReduction:        &vr,
	}, nil
}

// EstimateDuration returns the days needed to collect sampleSize units when
// allocationRatio of dailyTraffic enters the experiment. Ratios above 1 are
// capped at 1; no effective traffic gives +Inf.
func EstimateDuration(sampleSize, dailyTraffic int, allocationRatio float64) float64 {
	effective := float64(dailyTraffic) * math.Min(allocationRatio, 1)
	if effective <= 0 {
		return math.Inf(1)
	}
	return float64(sampleSize) / effective
}

// WithDuration returns a copy of r with EstimatedDays set from the total
// sample size. An unbounded duration leaves EstimatedDays nil.
func WithDuration(r *PowerResult, dailyTraffic int, allocationRatio float64) *PowerResult {
	out := *r
	out.EstimatedDays = nil
	if days := EstimateDuration(r.RequiredSampleSize, dailyTraffic, allocationRatio); !math.IsInf(days, 0) {
		out.EstimatedDays = &days
	}
	return &out
}
