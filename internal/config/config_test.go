package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gkobilansky/abgoat/internal/config"
	"github.com/gkobilansky/abgoat/internal/stats"
	"github.com/gkobilansky/abgoat/internal/store"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "abgoat.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	c := config.Default()

	assert.Equal(t, 0.05, c.Defaults.SignificanceLevel)
	assert.Equal(t, 0.8, c.Defaults.Power)
	assert.Equal(t, "two-sided", c.Frequentist.TestType)
	assert.Equal(t, "benjamini-hochberg", c.Frequentist.CorrectionMethod)
	assert.Equal(t, 1.0, c.Bayesian.PriorAlpha)
	assert.Equal(t, "conjugate", c.Bayesian.Sampler)
	assert.Equal(t, -0.005, c.Bayesian.ROPELower)
	assert.Equal(t, 10000, c.Bayesian.NSamples)
	assert.Equal(t, uint64(42), c.Bayesian.Seed)
	assert.Equal(t, "obrien-fleming", c.Sequential.SpendingFunction)
	assert.Equal(t, 5, c.Sequential.MaxLooks)
	assert.Equal(t, 0.001, c.Diagnostics.SRMThreshold)
	assert.True(t, c.Diagnostics.CUPEDEnabled)
	assert.Equal(t, "bonferroni", c.SegmentAnalysis.CorrectionMethod)
	assert.Equal(t, 8080, c.Server.Port)
	assert.Equal(t, "info", c.Log.Level)
	assert.NoError(t, c.Validate())
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	c, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, config.Default(), c)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writeConfig(t, `
defaults:
  significance_level: 0.01
bayesian:
  rope_lower: 0
  rope_upper: 0.01
  seed: 7
sequential:
  spending_function: pocock
diagnostics:
  cuped_enabled: false
`)

	c, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.01, c.Alpha())
	assert.Equal(t, 0.0, c.Bayesian.ROPELower)
	assert.Equal(t, uint64(7), c.Bayesian.Seed)
	assert.False(t, c.Diagnostics.CUPEDEnabled)
	assert.Equal(t, stats.Pocock, c.SpendingFunction())
	// Untouched fields keep defaults
	assert.Equal(t, 0.8, c.Defaults.Power)
	assert.Equal(t, 5, c.Sequential.MaxLooks)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv(config.EnvDBPath, "/tmp/other.db")
	t.Setenv(config.EnvPort, "9090")
	t.Setenv(config.EnvLogLevel, "debug")

	c, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/other.db", c.DBPath)
	assert.Equal(t, 9090, c.Server.Port)
	assert.Equal(t, "debug", c.Log.Level)

	t.Setenv(config.EnvPort, "eighty")
	_, err = config.Load("")
	assert.Error(t, err)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("ABG_PORT=7070\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv(config.EnvPort) })

	c, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, 7070, c.Server.Port)
}

func TestLoad_ValidationErrors(t *testing.T) {
	t.Chdir(t.TempDir())
	tests := map[string]string{
		"unknown spending function": "sequential:\n  spending_function: haybittle\n",
		"unknown correction":        "frequentist:\n  correction_method: sidak\n",
		"unknown test type":         "frequentist:\n  test_type: sideways\n",
		"alpha out of range":        "defaults:\n  significance_level: 1.5\n",
		"rope order":                "bayesian:\n  rope_lower: 0.1\n  rope_upper: -0.1\n",
		"too few samples":           "bayesian:\n  n_samples: 10\n",
		"bad log level":             "log:\n  level: loud\n",
		"bad port":                  "server:\n  port: 70000\n",
		"all traffic to treatment":  "defaults:\n  allocation_ratio: 1\n",
		"unknown sampler":           "bayesian:\n  sampler: gibbs\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := config.Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestEngineOptions(t *testing.T) {
	c := config.Default()
	c.Bayesian.PriorAlpha = 2
	c.Bayesian.NSamples = 5000

	bb := c.BetaBinomialOptions()
	assert.Equal(t, 2.0, bb.PriorAlpha)
	assert.Equal(t, 5000, bb.Samples)
	assert.Equal(t, -0.005, bb.ROPELower)
	assert.Equal(t, uint64(42), bb.Seed)
	assert.Nil(t, bb.Sampler)

	nn := c.NormalNormalOptions()
	assert.Equal(t, 100.0, nn.PriorSigma)
	assert.Equal(t, -1.0, nn.ROPELower)
	assert.Equal(t, 1.0, nn.ROPEUpper)

	assert.Equal(t, stats.TwoSided, c.Alternative())
	assert.Equal(t, stats.OBrienFleming, c.SpendingFunction())
	assert.Nil(t, nn.Sampler)
}

func TestEngineOptions_MetropolisSampler(t *testing.T) {
	t.Chdir(t.TempDir())
	c, err := config.Load(writeConfig(t, "bayesian:\n  sampler: metropolis\n"))
	require.NoError(t, err)

	assert.Equal(t, stats.MetropolisSampler{}, c.BetaBinomialOptions().Sampler)
	assert.Equal(t, stats.MetropolisSampler{}, c.NormalNormalOptions().Sampler)
}

func TestExpectedRatios(t *testing.T) {
	c := config.Default()
	c.Defaults.AllocationRatio = 0.25

	weighted := &store.Experiment{Variants: []string{"a", "b"}, Weights: []float64{3, 1}}
	assert.Equal(t, []float64{0.75, 0.25}, c.ExpectedRatios(weighted))

	twoArm := &store.Experiment{Variants: []string{"control", "treatment"}}
	assert.Equal(t, []float64{0.75, 0.25}, c.ExpectedRatios(twoArm))

	threeArm := &store.Experiment{Variants: []string{"a", "b", "c"}}
	assert.Nil(t, c.ExpectedRatios(threeArm))
}
