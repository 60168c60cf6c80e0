package stats

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// ropeThreshold is the posterior mass needed for a ROPE accept or reject.
const ropeThreshold = 0.95

// BetaBinomialOptions configures BetaBinomial.
type BetaBinomialOptions struct {
	PriorAlpha       float64
	PriorBeta        float64
	Samples          int
	CredibleInterval float64
	ROPELower        float64
	ROPEUpper        float64
	Seed             uint64
	Sampler          PosteriorSampler // nil uses ConjugateSampler
}

// DefaultBetaBinomialOptions returns a uniform Beta(1,1) prior with a ROPE of ±0.5pp.
func DefaultBetaBinomialOptions() BetaBinomialOptions {
	return BetaBinomialOptions{
		PriorAlpha:       1,
		PriorBeta:        1,
		Samples:          100_000,
		CredibleInterval: 0.95,
		ROPELower:        -0.005,
		ROPEUpper:        0.005,
		Seed:             DefaultSeed,
	}
}

// NormalNormalOptions configures NormalNormal.
type NormalNormalOptions struct {
	PriorMu          float64
	PriorSigma       float64
	Samples          int
	CredibleInterval float64
	ROPELower        float64
	ROPEUpper        float64
	Seed             uint64
	Sampler          PosteriorSampler // nil uses ConjugateSampler
}

// DefaultNormalNormalOptions returns a weak N(0, 100²) prior with a ROPE of ±1.
func DefaultNormalNormalOptions() NormalNormalOptions {
	return NormalNormalOptions{
		PriorMu:          0,
		PriorSigma:       100,
		Samples:          100_000,
		CredibleInterval: 0.95,
		ROPELower:        -1,
		ROPEUpper:        1,
		Seed:             DefaultSeed,
	}
}

func checkPosteriorOptions(samples int, credible, ropeLower, ropeUpper float64) error {
	if samples <= 0 {
		return fmt.Errorf("%w: samples must be positive, got %d", ErrInvalidInput, samples)
	}
	if err := checkProbability("credible interval", credible); err != nil {
		return err
	}
	if ropeLower > ropeUpper {
		return fmt.Errorf("%w: rope lower %v exceeds rope upper %v", ErrInvalidInput, ropeLower, ropeUpper)
	}
	return nil
}

// BetaBinomial analyses conversion counts with conjugate Beta posteriors.
// Lift and the HDI are relative ((t-c)/c); the ROPE applies to the absolute
// difference in rates. PosteriorSamples holds the relative lift draws.
func BetaBinomial(controlConv, controlN, treatConv, treatN int, opts BetaBinomialOptions) (*BayesianResult, error) {
	if err := checkCounts("control", controlConv, controlN); err != nil {
		return nil, err
	}
	if err := checkCounts("treatment", treatConv, treatN); err != nil {
		return nil, err
	}
	if opts.PriorAlpha <= 0 || opts.PriorBeta <= 0 {
		return nil, fmt.Errorf("%w: beta prior parameters must be positive", ErrInvalidInput)
	}
	if err := checkPosteriorOptions(opts.Samples, opts.CredibleInterval, opts.ROPELower, opts.ROPEUpper); err != nil {
		return nil, err
	}

	control := Posterior{
		Family: FamilyBeta,
		Alpha:  opts.PriorAlpha + float64(controlConv),
		Beta:   opts.PriorBeta + float64(controlN-controlConv),
	}
	treatment := Posterior{
		Family: FamilyBeta,
		Alpha:  opts.PriorAlpha + float64(treatConv),
		Beta:   opts.PriorBeta + float64(treatN-treatConv),
	}

	c, t := drawArms(opts.Sampler, control, treatment, opts.Samples, opts.Seed)

	lift := make([]float64, len(c))
	for i := range c {
		lift[i] = (t[i] - c[i]) / c[i]
	}

	res := summarizePosterior(c, t, opts.ROPELower, opts.ROPEUpper)
	res.ExpectedLift = stat.Mean(lift, nil)
	res.HDILower, res.HDIUpper = credibleBounds(lift, opts.CredibleInterval)
	res.PosteriorSamples = lift
	return res, nil
}

// NormalNormal analyses continuous metrics with a Normal prior on each arm's
// mean, treating the sample variance as known. Lift is normalised by |c| and
// the HDI is on the absolute difference.
func NormalNormal(control, treatment []float64, opts NormalNormalOptions) (*BayesianResult, error) {
	if len(control) < 2 || len(treatment) < 2 {
		return nil, fmt.Errorf("%w: normal-normal model needs at least 2 values per group, got %d and %d", ErrInvalidInput, len(control), len(treatment))
	}
	if opts.PriorSigma <= 0 {
		return nil, fmt.Errorf("%w: prior sigma must be positive, got %v", ErrInvalidInput, opts.PriorSigma)
	}
	if err := checkPosteriorOptions(opts.Samples, opts.CredibleInterval, opts.ROPELower, opts.ROPEUpper); err != nil {
		return nil, err
	}

	postC, err := normalPosterior("control", control, opts.PriorMu, opts.PriorSigma)
	if err != nil {
		return nil, err
	}
	postT, err := normalPosterior("treatment", treatment, opts.PriorMu, opts.PriorSigma)
	if err != nil {
		return nil, err
	}

	c, t := drawArms(opts.Sampler, postC, postT, opts.Samples, opts.Seed)

	diff := make([]float64, len(c))
	lift := make([]float64, 0, len(c))
	for i := range c {
		diff[i] = t[i] - c[i]
		if l := diff[i] / math.Abs(c[i]); !math.IsInf(l, 0) && !math.IsNaN(l) {
			lift = append(lift, l)
		}
	}

	res := summarizePosterior(c, t, opts.ROPELower, opts.ROPEUpper)
	if len(lift) > 0 {
		res.ExpectedLift = stat.Mean(lift, nil)
	}
	res.HDILower, res.HDIUpper = credibleBounds(diff, opts.CredibleInterval)
	return res, nil
}

func normalPosterior(arm string, values []float64, priorMu, priorSigma float64) (Posterior, error) {
	mean, variance := meanVariance(values)
	if variance <= 0 {
		return Posterior{}, fmt.Errorf("%w: %s values have zero variance", ErrInvalidInput, arm)
	}
	n := float64(len(values))
	priorPrec := 1 / (priorSigma * priorSigma)
	postPrec := priorPrec + n/variance
	postVar := 1 / postPrec
	return Posterior{
		Family:         FamilyNormal,
		Mu:             postVar * (priorPrec*priorMu + n*mean/variance),
		Sigma:          math.Sqrt(postVar),
		PriorMu:        priorMu,
		PriorSigma:     priorSigma,
		N:              len(values),
		SampleMean:     mean,
		SampleVariance: variance,
	}, nil
}

// drawArms samples control then treatment from a single generator seeded
// for this call.
func drawArms(sampler PosteriorSampler, control, treatment Posterior, n int, seed uint64) (c, t []float64) {
	if sampler == nil {
		sampler = ConjugateSampler{}
	}
	src := NewSource(seed)
	c = sampler.Sample(control, n, src)
	t = sampler.Sample(treatment, n, src)
	return c, t
}

// summarizePosterior fills the metrics shared by every model: probability of
// improvement, expected losses, risk ratio and the ROPE decision.
func summarizePosterior(c, t []float64, ropeLower, ropeUpper float64) *BayesianResult {
	n := float64(len(c))
	var better, lossT, lossC, in, below, above float64
	for i := range c {
		d := t[i] - c[i]
		if d > 0 {
			better++
			lossC += d
		} else {
			lossT -= d
		}
		switch {
		case d < ropeLower:
			below++
		case d > ropeUpper:
			above++
		default:
			in++
		}
	}
	lossT /= n
	lossC /= n

	riskRatio := math.Inf(1)
	if lossC > 0 {
		riskRatio = lossT / lossC
	}

	res := &BayesianResult{
		ProbTreatmentBetter:   better / n,
		ExpectedLossControl:   lossC,
		ExpectedLossTreatment: lossT,
		RiskRatio:             riskRatio,
		ROPEProbIn:            in / n,
		ROPEProbBelow:         below / n,
		ROPEProbAbove:         above / n,
	}
	switch {
	case res.ROPEProbAbove > ropeThreshold:
		res.ROPEDecision = ROPEReject
	case res.ROPEProbIn > ropeThreshold:
		res.ROPEDecision = ROPEAccept
	default:
		res.ROPEDecision = ROPEUndecided
	}
	return res
}

// credibleBounds returns the equal-tailed interval holding mass credible.
func credibleBounds(x []float64, credible float64) (lower, upper float64) {
	tail := (1 - credible) / 2
	return percentile(x, tail*100), percentile(x, (1-tail)*100)
}
