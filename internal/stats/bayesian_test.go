package stats_test

import (
	"encoding/json"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	gstat "gonum.org/v1/gonum/stat"

	"github.com/gkobilansky/abgoat/internal/stats"
)

func fastBetaOptions() stats.BetaBinomialOptions {
	opts := stats.DefaultBetaBinomialOptions()
	opts.Samples = 20_000
	return opts
}

func TestBetaBinomial_TreatmentBetter(t *testing.T) {
	r, err := stats.BetaBinomial(500, 10000, 600, 10000, fastBetaOptions())
	require.NoError(t, err)

	assert.Greater(t, r.ProbTreatmentBetter, 0.95)
	assert.InDelta(t, 0.2, r.ExpectedLift, 0.03)
	assert.Less(t, r.HDILower, r.ExpectedLift)
	assert.Greater(t, r.HDIUpper, r.ExpectedLift)
	assert.Less(t, r.ExpectedLossTreatment, r.ExpectedLossControl)
	assert.Less(t, r.RiskRatio, 1.0)
	assert.Len(t, r.PosteriorSamples, 20_000)
	assert.InDelta(t, 1.0, r.ROPEProbIn+r.ROPEProbBelow+r.ROPEProbAbove, 1e-9)
}

func TestBetaBinomial_EqualArms(t *testing.T) {
	r, err := stats.BetaBinomial(500, 10000, 500, 10000, fastBetaOptions())
	require.NoError(t, err)

	assert.Greater(t, r.ProbTreatmentBetter, 0.4)
	assert.Less(t, r.ProbTreatmentBetter, 0.6)
	assert.Less(t, math.Abs(r.ExpectedLift), 0.05)
	assert.Less(t, r.HDILower, 0.0)
	assert.Greater(t, r.HDIUpper, 0.0)
}

func TestBetaBinomial_ROPEDecisions(t *testing.T) {
	reject, err := stats.BetaBinomial(500, 10000, 1000, 10000, fastBetaOptions())
	require.NoError(t, err)
	assert.Equal(t, stats.ROPEReject, reject.ROPEDecision)

	accept, err := stats.BetaBinomial(50_000, 1_000_000, 50_000, 1_000_000, fastBetaOptions())
	require.NoError(t, err)
	assert.Equal(t, stats.ROPEAccept, accept.ROPEDecision)

	undecided, err := stats.BetaBinomial(10, 100, 12, 100, fastBetaOptions())
	require.NoError(t, err)
	assert.Equal(t, stats.ROPEUndecided, undecided.ROPEDecision)
}

func TestBetaBinomial_SameSeedSameResult(t *testing.T) {
	a, err := stats.BetaBinomial(120, 1000, 140, 1000, fastBetaOptions())
	require.NoError(t, err)
	b, err := stats.BetaBinomial(120, 1000, 140, 1000, fastBetaOptions())
	require.NoError(t, err)
	assert.Equal(t, a, b)

	opts := fastBetaOptions()
	opts.Seed = 7
	c, err := stats.BetaBinomial(120, 1000, 140, 1000, opts)
	require.NoError(t, err)
	assert.NotEqual(t, a.PosteriorSamples, c.PosteriorSamples)
	assert.InDelta(t, a.ProbTreatmentBetter, c.ProbTreatmentBetter, 0.02)
}

func TestBetaBinomial_InfiniteRiskRatioEncodesAsNull(t *testing.T) {
	r, err := stats.BetaBinomial(900, 1000, 100, 1000, fastBetaOptions())
	require.NoError(t, err)
	require.True(t, math.IsInf(r.RiskRatio, 1))
	assert.Equal(t, 0.0, r.ExpectedLossControl)

	data, err := json.Marshal(r)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Contains(t, decoded, "risk_ratio")
	assert.Nil(t, decoded["risk_ratio"])
	assert.Equal(t, "undecided", decoded["rope_decision"])
	assert.InDelta(t, 0.0, decoded["prob_treatment_better"], 1e-12)
}

func TestBayesianResult_FiniteRiskRatioEncoded(t *testing.T) {
	data, err := json.Marshal(stats.BayesianResult{RiskRatio: 0.25, ROPEDecision: stats.ROPEUndecided})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"risk_ratio":0.25`)
}

func TestBayesianResult_DecodeRestoresInfiniteRiskRatio(t *testing.T) {
	in := stats.BayesianResult{ProbTreatmentBetter: 0.01, RiskRatio: math.Inf(1), ROPEDecision: stats.ROPEUndecided}
	data, err := json.Marshal(in)
	require.NoError(t, err)

	var out stats.BayesianResult
	require.NoError(t, json.Unmarshal(data, &out))
	assert.True(t, math.IsInf(out.RiskRatio, 1))
	assert.Equal(t, 0.01, out.ProbTreatmentBetter)
	assert.Equal(t, stats.ROPEUndecided, out.ROPEDecision)

	require.NoError(t, json.Unmarshal([]byte(`{"risk_ratio":0.5}`), &out))
	assert.Equal(t, 0.5, out.RiskRatio)
}

func TestBetaBinomial_InvalidInput(t *testing.T) {
	opts := fastBetaOptions()

	_, err := stats.BetaBinomial(11, 10, 1, 10, opts)
	assert.ErrorIs(t, err, stats.ErrInvalidInput)

	bad := opts
	bad.PriorAlpha = 0
	_, err = stats.BetaBinomial(1, 10, 1, 10, bad)
	assert.ErrorIs(t, err, stats.ErrInvalidInput)

	bad = opts
	bad.ROPELower, bad.ROPEUpper = 0.01, -0.01
	_, err = stats.BetaBinomial(1, 10, 1, 10, bad)
	assert.ErrorIs(t, err, stats.ErrInvalidInput)

	bad = opts
	bad.Samples = 0
	_, err = stats.BetaBinomial(1, 10, 1, 10, bad)
	assert.ErrorIs(t, err, stats.ErrInvalidInput)
}

func normalSample(seed uint64, n int, mu, sigma float64) []float64 {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	out := make([]float64, n)
	for i := range out {
		out[i] = mu + sigma*rng.NormFloat64()
	}
	return out
}

func TestNormalNormal_DetectsShift(t *testing.T) {
	control := normalSample(1, 200, 10, 2)
	treatment := normalSample(2, 200, 12, 2)

	opts := stats.DefaultNormalNormalOptions()
	opts.Samples = 20_000
	r, err := stats.NormalNormal(control, treatment, opts)
	require.NoError(t, err)

	assert.Greater(t, r.ProbTreatmentBetter, 0.99)
	assert.Less(t, r.HDILower, 2.0+0.6)
	assert.Greater(t, r.HDIUpper, 2.0-0.6)
	assert.Greater(t, r.HDILower, 0.0)
	assert.InDelta(t, 0.2, r.ExpectedLift, 0.06)
	assert.Empty(t, r.PosteriorSamples)
}

func TestNormalNormal_InvalidInput(t *testing.T) {
	opts := stats.DefaultNormalNormalOptions()

	_, err := stats.NormalNormal([]float64{1}, []float64{1, 2}, opts)
	assert.ErrorIs(t, err, stats.ErrInvalidInput)

	_, err = stats.NormalNormal([]float64{5, 5, 5}, []float64{1, 2, 3}, opts)
	assert.ErrorIs(t, err, stats.ErrInvalidInput)

	opts.PriorSigma = 0
	_, err = stats.NormalNormal([]float64{1, 2}, []float64{1, 2}, opts)
	assert.ErrorIs(t, err, stats.ErrInvalidInput)
}

func TestMetropolisSampler_MatchesConjugateBeta(t *testing.T) {
	post := stats.Posterior{Family: stats.FamilyBeta, Alpha: 51, Beta: 951}

	exact := stats.ConjugateSampler{}.Sample(post, 20_000, stats.NewSource(3))
	mcmc := stats.MetropolisSampler{}.Sample(post, 20_000, stats.NewSource(3))
	require.Len(t, mcmc, 20_000)

	exactMean, exactSD := gstat.MeanStdDev(exact, nil)
	mcmcMean, mcmcSD := gstat.MeanStdDev(mcmc, nil)
	assert.InDelta(t, exactMean, mcmcMean, 0.002)
	assert.InDelta(t, exactSD, mcmcSD, 0.2*exactSD)
}

func TestMetropolisSampler_MatchesConjugateNormal(t *testing.T) {
	values := normalSample(5, 100, 20, 4)
	mean, variance := gstat.MeanVariance(values, nil)

	priorPrec := 1.0 / (100 * 100)
	postPrec := priorPrec + 100/variance
	post := stats.Posterior{
		Family:         stats.FamilyNormal,
		Mu:             (100 * mean / variance) / postPrec,
		Sigma:          math.Sqrt(1 / postPrec),
		PriorMu:        0,
		PriorSigma:     100,
		N:              100,
		SampleMean:     mean,
		SampleVariance: variance,
	}

	mcmc := stats.MetropolisSampler{Burnin: 500, Thin: 2}.Sample(post, 10_000, stats.NewSource(9))
	mcmcMean, mcmcSD := gstat.MeanStdDev(mcmc, nil)
	assert.InDelta(t, post.Mu, mcmcMean, 0.1*post.Sigma+0.05)
	assert.InDelta(t, post.Sigma, mcmcSD, 0.2*post.Sigma)
}

func TestBetaBinomial_WithMetropolisSampler(t *testing.T) {
	opts := fastBetaOptions()
	opts.Sampler = stats.MetropolisSampler{}

	r, err := stats.BetaBinomial(500, 10000, 600, 10000, opts)
	require.NoError(t, err)
	assert.Greater(t, r.ProbTreatmentBetter, 0.95)
}

func TestBetaBinomial_ConcurrentCallsMatchSequential(t *testing.T) {
	opts := fastBetaOptions()
	want, err := stats.BetaBinomial(120, 1000, 150, 1000, opts)
	require.NoError(t, err)

	got := make([]*stats.BayesianResult, 8)
	var g errgroup.Group
	for i := range got {
		g.Go(func() error {
			r, err := stats.BetaBinomial(120, 1000, 150, 1000, opts)
			got[i] = r
			return err
		})
	}
	require.NoError(t, g.Wait())
	for _, r := range got {
		assert.Equal(t, want, r)
	}
}

func TestNormalNormal_ConcurrentCallsMatchSequential(t *testing.T) {
	control := normalSample(11, 200, 50, 10)
	treatment := normalSample(12, 200, 53, 10)
	opts := stats.DefaultNormalNormalOptions()
	opts.Samples = 5000
	opts.Sampler = stats.MetropolisSampler{}

	want, err := stats.NormalNormal(control, treatment, opts)
	require.NoError(t, err)

	got := make([]*stats.BayesianResult, 8)
	var g errgroup.Group
	for i := range got {
		g.Go(func() error {
			r, err := stats.NormalNormal(control, treatment, opts)
			got[i] = r
			return err
		})
	}
	require.NoError(t, g.Wait())
	for _, r := range got {
		assert.Equal(t, want, r)
	}
}

func TestMetropolisSampler_SameSeedSameChain(t *testing.T) {
	post := stats.Posterior{Family: stats.FamilyBeta, Alpha: 3, Beta: 40}
	a := stats.MetropolisSampler{}.Sample(post, 2000, stats.NewSource(5))
	b := stats.MetropolisSampler{}.Sample(post, 2000, stats.NewSource(5))
	assert.Equal(t, a, b)
	for _, p := range a {
		assert.True(t, p > 0 && p < 1)
	}
}
