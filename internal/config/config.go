package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/gkobilansky/abgoat/internal/stats"
	"github.com/gkobilansky/abgoat/internal/store"
)

// Environment overrides, applied after the YAML file.
const (
	EnvDBPath   = "ABG_DB_PATH"
	EnvPort     = "ABG_PORT"
	EnvLogLevel = "ABG_LOG_LEVEL"
)

type Config struct {
	DBPath          string          `yaml:"db_path" default:"abgoat.db" validate:"required"`
	Defaults        Defaults        `yaml:"defaults"`
	Frequentist     Frequentist     `yaml:"frequentist"`
	Bayesian        Bayesian        `yaml:"bayesian"`
	Sequential      Sequential      `yaml:"sequential"`
	Diagnostics     Diagnostics     `yaml:"diagnostics"`
	SegmentAnalysis SegmentAnalysis `yaml:"segment_analysis"`
	Server          Server          `yaml:"server"`
	Log             Log             `yaml:"log"`
}

type Defaults struct {
	SignificanceLevel   float64 `yaml:"significance_level" default:"0.05" validate:"gt=0,lt=1"`
	Power               float64 `yaml:"power" default:"0.8" validate:"gt=0,lt=1"`
	MinDetectableEffect float64 `yaml:"min_detectable_effect" default:"0.02" validate:"gt=0,lt=1"`
	AllocationRatio     float64 `yaml:"allocation_ratio" default:"0.5" validate:"gt=0,lt=1"`
}

type Frequentist struct {
	TestType         string `yaml:"test_type" default:"two-sided" validate:"oneof=two-sided greater less"`
	CorrectionMethod string `yaml:"correction_method" default:"benjamini-hochberg" validate:"correction"`
}

type Bayesian struct {
	PriorAlpha       float64 `yaml:"prior_alpha" default:"1" validate:"gt=0"`
	PriorBeta        float64 `yaml:"prior_beta" default:"1" validate:"gt=0"`
	PriorMu          float64 `yaml:"prior_mu"`
	PriorSigma       float64 `yaml:"prior_sigma" default:"100" validate:"gt=0"`
	ROPELower        float64 `yaml:"rope_lower" default:"-0.005"`
	ROPEUpper        float64 `yaml:"rope_upper" default:"0.005"`
	NormalROPELower  float64 `yaml:"normal_rope_lower" default:"-1"`
	NormalROPEUpper  float64 `yaml:"normal_rope_upper" default:"1"`
	NSamples         int     `yaml:"n_samples" default:"10000" validate:"min=100,max=10000000"`
	CredibleInterval float64 `yaml:"credible_interval" default:"0.95" validate:"gt=0,lt=1"`
	Seed             uint64  `yaml:"seed" default:"42"`
	Sampler          string  `yaml:"sampler" default:"conjugate" validate:"oneof=conjugate metropolis"`
}

type Sequential struct {
	SpendingFunction  string  `yaml:"spending_function" default:"obrien-fleming" validate:"oneof=obrien-fleming pocock pocock-exact"`
	MaxLooks          int     `yaml:"max_looks" default:"5" validate:"min=1,max=50"`
	MinSampleFraction float64 `yaml:"min_sample_fraction" default:"0.2" validate:"gt=0,lte=1"`
}

type Diagnostics struct {
	SRMThreshold      float64 `yaml:"srm_threshold" default:"0.001" validate:"gt=0,lt=1"`
	NoveltyWindowDays int     `yaml:"novelty_window_days" default:"7" validate:"min=1"`
	CUPEDEnabled      bool    `yaml:"cuped_enabled" default:"true"`
}

type SegmentAnalysis struct {
	CorrectionMethod string `yaml:"correction_method" default:"bonferroni" validate:"correction"`
}

type Server struct {
	Port int `yaml:"port" default:"8080" validate:"min=1,max=65535"`
}

type Log struct {
	Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" default:"json" validate:"oneof=json console"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("correction", func(fl validator.FieldLevel) bool {
		_, err := stats.ApplyCorrection(nil, fl.Field().String(), 0.05)
		return err == nil
	})
	v.RegisterStructValidation(func(sl validator.StructLevel) {
		b := sl.Current().Interface().(Bayesian)
		if b.ROPELower > b.ROPEUpper {
			sl.ReportError(b.ROPELower, "ROPELower", "rope_lower", "ropeorder", "")
		}
		if b.NormalROPELower > b.NormalROPEUpper {
			sl.ReportError(b.NormalROPELower, "NormalROPELower", "normal_rope_lower", "ropeorder", "")
		}
	}, Bayesian{})
	return v
}

// Default returns the built-in configuration.
func Default() *Config {
	var c Config
	if err := defaults.Set(&c); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return &c
}

// Load reads the YAML file at path over the defaults, loads an optional .env
// from the working directory, applies environment overrides and validates
// the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	c := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := c.applyEnv(); err != nil {
		return nil, err
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvDBPath); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvPort, err)
		}
		c.Server.Port = port
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	return nil
}

// Validate checks ranges and closed value sets.
func (c *Config) Validate() error {
	return validate.Struct(c)
}

// Alpha is the default significance level.
func (c *Config) Alpha() float64 {
	return c.Defaults.SignificanceLevel
}

func (c *Config) Alternative() stats.Alternative {
	return stats.Alternative(c.Frequentist.TestType)
}

// ExpectedRatios returns the planned split used for SRM checks: the
// experiment's own weights, else allocation_ratio as the treatment share of
// a two-arm experiment, else nil for an equal split.
func (c *Config) ExpectedRatios(exp *store.Experiment) []float64 {
	if ratios := exp.ExpectedRatios(); ratios != nil {
		return ratios
	}
	if len(exp.Variants) == 2 {
		share := c.Defaults.AllocationRatio
		return []float64{1 - share, share}
	}
	return nil
}

func (c *Config) SpendingFunction() stats.SpendingFunction {
	return stats.ParseSpendingFunction(c.Sequential.SpendingFunction)
}

// PosteriorSampler returns the configured sampler; nil means conjugate draws.
func (c *Config) PosteriorSampler() stats.PosteriorSampler {
	if c.Bayesian.Sampler == "metropolis" {
		return stats.MetropolisSampler{}
	}
	return nil
}

func (c *Config) BetaBinomialOptions() stats.BetaBinomialOptions {
	b := c.Bayesian
	return stats.BetaBinomialOptions{
		PriorAlpha:       b.PriorAlpha,
		PriorBeta:        b.PriorBeta,
		Samples:          b.NSamples,
		CredibleInterval: b.CredibleInterval,
		ROPELower:        b.ROPELower,
		ROPEUpper:        b.ROPEUpper,
		Seed:             b.Seed,
		Sampler:          c.PosteriorSampler(),
	}
}

func (c *Config) NormalNormalOptions() stats.NormalNormalOptions {
	b := c.Bayesian
	return stats.NormalNormalOptions{
		PriorMu:          b.PriorMu,
		PriorSigma:       b.PriorSigma,
		Samples:          b.NSamples,
		CredibleInterval: b.CredibleInterval,
		ROPELower:        b.NormalROPELower,
		ROPEUpper:        b.NormalROPEUpper,
		Seed:             b.Seed,
		Sampler:          c.PosteriorSampler(),
	}
}
