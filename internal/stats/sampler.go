package stats

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
	"gonum.org/v1/gonum/stat/sampleuv"
)

// DefaultSeed seeds the Monte Carlo draws when a caller does not pick one.
const DefaultSeed uint64 = 42

// Family names the posterior distribution of one arm.
type Family string

const (
	FamilyBeta   Family = "beta"
	FamilyNormal Family = "normal"
)

// Posterior holds the sufficient statistics of one arm's posterior. For the
// beta family Alpha and Beta are the posterior shape parameters; for the
// normal family Mu and Sigma are the posterior mean and standard deviation.
// The likelihood summary (N, SampleMean, SampleVariance) and the prior are
// kept so simulation-based samplers can rebuild the target density.
type Posterior struct {
	Family Family

	Alpha float64
	Beta  float64

	Mu    float64
	Sigma float64

	PriorMu        float64
	PriorSigma     float64
	N              int
	SampleMean     float64
	SampleVariance float64
}

// PosteriorSampler draws n samples from a posterior using src as the only
// source of randomness.
type PosteriorSampler interface {
	Sample(post Posterior, n int, src rand.Source) []float64
}

// NewSource returns the deterministic generator used for a single analysis.
func NewSource(seed uint64) rand.Source {
	return rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
}

// ConjugateSampler draws directly from the closed-form posterior.
type ConjugateSampler struct{}

func (ConjugateSampler) Sample(post Posterior, n int, src rand.Source) []float64 {
	out := make([]float64, n)
	switch post.Family {
	case FamilyBeta:
		d := distuv.Beta{Alpha: post.Alpha, Beta: post.Beta, Src: src}
		for i := range out {
			out[i] = d.Rand()
		}
	default:
		if post.Sigma == 0 {
			for i := range out {
				out[i] = post.Mu
			}
			return out
		}
		d := distuv.Normal{Mu: post.Mu, Sigma: post.Sigma, Src: src}
		for i := range out {
			out[i] = d.Rand()
		}
	}
	return out
}

// MetropolisSampler is a random-walk Metropolis-Hastings chain over the
// posterior density. It reaches the same distribution as ConjugateSampler but
// only needs the log density, so it stands in for models without a closed
// form.
type MetropolisSampler struct {
	Burnin    int     // discarded leading draws; 1000 when zero
	Thin      int     // keep every Thin-th draw; 1 when zero
	StepScale float64 // proposal sd as a multiple of the posterior sd; 2.4 when zero
}

func (m MetropolisSampler) Sample(post Posterior, n int, src rand.Source) []float64 {
	burnin, thin, scale := m.Burnin, m.Thin, m.StepScale
	if burnin <= 0 {
		burnin = 1000
	}
	if thin <= 0 {
		thin = 1
	}
	if scale <= 0 {
		scale = 2.4
	}

	out := make([]float64, n)
	target, start, sd := targetDensity(post)
	if sd == 0 || math.IsNaN(sd) {
		for i := range out {
			out[i] = start
		}
		return out
	}

	mh := sampleuv.MetropolisHastings{
		Initial:  start,
		Target:   target,
		Proposal: randomWalk{sigma: scale * sd, src: src},
		Src:      src,
		BurnIn:   burnin,
		Rate:     thin,
	}
	mh.Sample(out)
	return out
}

// randomWalk is a symmetric normal proposal centred on the current state.
type randomWalk struct {
	sigma float64
	src   rand.Source
}

func (w randomWalk) ConditionalLogProb(x, y float64) float64 {
	return distuv.Normal{Mu: y, Sigma: w.sigma}.LogProb(x)
}

func (w randomWalk) ConditionalRand(y float64) float64 {
	return distuv.Normal{Mu: y, Sigma: w.sigma, Src: w.src}.Rand()
}

// logDensity adapts an unnormalised log density to distuv.LogProber.
type logDensity func(float64) float64

func (f logDensity) LogProb(x float64) float64 { return f(x) }

// targetDensity returns the log posterior, a starting point and a scale for
// proposals. The normal target is rebuilt from the prior and the likelihood
// summary rather than the closed-form posterior.
func targetDensity(post Posterior) (target distuv.LogProber, start, sd float64) {
	if post.Family == FamilyBeta {
		a, b := post.Alpha, post.Beta
		start = a / (a + b)
		sd = math.Sqrt(a * b / ((a + b) * (a + b) * (a + b + 1)))
		return distuv.Beta{Alpha: a, Beta: b}, start, sd
	}

	priorPrec := 1 / (post.PriorSigma * post.PriorSigma)
	likPrec := 0.0
	if post.SampleVariance > 0 {
		likPrec = float64(post.N) / post.SampleVariance
	}
	target = logDensity(func(mu float64) float64 {
		dp := mu - post.PriorMu
		dl := mu - post.SampleMean
		return -0.5 * (priorPrec*dp*dp + likPrec*dl*dl)
	})
	return target, post.SampleMean, 1 / math.Sqrt(priorPrec+likPrec)
}
