package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/gkobilansky/abgoat/internal/config"
	"github.com/gkobilansky/abgoat/internal/metrics"
	"github.com/gkobilansky/abgoat/internal/stats"
	"github.com/gkobilansky/abgoat/internal/store"
)

// Analysis kinds recorded in metrics. Only reports are persisted.
const (
	KindReport     = "report"
	KindSequential = "sequential"
)

// Report gathers every analysis of one experiment. Sections are nil when the
// data needed for them is missing; Warnings says why.
type Report struct {
	ID          string                   `json:"id"`
	Experiment  string                   `json:"experiment"`
	GeneratedAt time.Time                `json:"generated_at"`
	Control     string                   `json:"control"`
	Treatment   string                   `json:"treatment"`
	Summary     *stats.Summary           `json:"summary"`
	ZTest       *stats.FrequentistResult `json:"z_test,omitempty"`
	ChiSquare   *stats.FrequentistResult `json:"chi_square,omitempty"`
	Bayesian    *stats.BayesianResult    `json:"bayesian,omitempty"`
	SRM         *stats.SRMResult         `json:"srm,omitempty"`
	Sequential  *stats.SequentialResult  `json:"sequential,omitempty"`
	Segments    []stats.SegmentResult    `json:"segments,omitempty"`
	Metric      *MetricReport            `json:"metric,omitempty"`
	Warnings    []string                 `json:"warnings,omitempty"`
}

// MetricReport holds the continuous-metric analyses built from observations.
type MetricReport struct {
	Observations int                      `json:"observations"`
	Welch        *stats.FrequentistResult `json:"welch,omitempty"`
	NormalNormal *stats.BayesianResult    `json:"normal_normal,omitempty"`
	CUPED        *stats.CUPEDResult       `json:"cuped,omitempty"`
	Novelty      *stats.NoveltyResult     `json:"novelty,omitempty"`
}

type Runner struct {
	store   store.Store
	cfg     *config.Config
	logger  zerolog.Logger
	metrics *metrics.Recorder
}

func NewRunner(s store.Store, cfg *config.Config, logger zerolog.Logger, rec *metrics.Recorder) *Runner {
	return &Runner{store: s, cfg: cfg, logger: logger, metrics: rec}
}

// Option adjusts a single Run.
type Option func(*runOptions)

type runOptions struct {
	look     int
	maxLooks int
	persist  bool
}

// WithLook adds an interim sequential look to the report. A maxLooks of 0
// uses the configured number of looks.
func WithLook(look, maxLooks int) Option {
	return func(o *runOptions) {
		o.look = look
		o.maxLooks = maxLooks
	}
}

// WithoutPersist skips saving the report.
func WithoutPersist() Option {
	return func(o *runOptions) { o.persist = false }
}

type dataset struct {
	exp          *store.Experiment
	variants     []store.VariantStats
	segments     []store.SegmentStats
	observations []store.Observation
}

func (r *Runner) load(ctx context.Context, name string) (*dataset, error) {
	exp, err := r.store.GetExperiment(ctx, name)
	if err != nil {
		return nil, err
	}
	d := &dataset{exp: exp}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		d.variants, err = r.store.GetVariantStats(gctx, name)
		return err
	})
	g.Go(func() error {
		var err error
		d.segments, err = r.store.GetSegmentStats(gctx, name)
		return err
	})
	g.Go(func() error {
		var err error
		d.observations, err = r.store.GetObservations(gctx, name)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load %q: %w", name, err)
	}
	return d, nil
}

// Run analyses the experiment and saves the report.
func (r *Runner) Run(ctx context.Context, name string, opts ...Option) (_ *Report, err error) {
	o := runOptions{persist: true}
	for _, opt := range opts {
		opt(&o)
	}

	start := time.Now()
	defer func() { r.metrics.RecordAnalysis(KindReport, err, time.Since(start)) }()

	d, err := r.load(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(d.exp.Variants) < 2 {
		return nil, fmt.Errorf("%w: experiment %q has fewer than 2 variants", stats.ErrInvalidInput, name)
	}

	summary, err := stats.Summarize(d.exp, d.variants, r.cfg.Alpha())
	if err != nil {
		return nil, err
	}

	rep := &Report{
		ID:          uuid.NewString(),
		Experiment:  name,
		GeneratedAt: time.Now().UTC(),
		Control:     d.exp.Variants[0],
		Treatment:   d.exp.Variants[summary.Challenger],
		Summary:     summary,
	}
	control, treatment := summary.Variants[0], summary.Variants[summary.Challenger]

	var mu sync.Mutex
	warn := func(section string, err error) error {
		if !errors.Is(err, stats.ErrInvalidInput) {
			return fmt.Errorf("%s: %w", section, err)
		}
		mu.Lock()
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("%s skipped: %v", section, err))
		mu.Unlock()
		return nil
	}

	var g errgroup.Group
	g.Go(func() error {
		z, err := stats.TwoProportionZTest(control.Conversions, control.Views, treatment.Conversions, treatment.Views, r.cfg.Alpha(), r.cfg.Alternative())
		if err != nil {
			return warn("z-test", err)
		}
		rep.ZTest = z
		return nil
	})
	g.Go(func() error {
		table := make([][]int, len(summary.Variants))
		for i, v := range summary.Variants {
			table[i] = []int{v.Conversions, v.Views - v.Conversions}
		}
		chi, err := stats.ChiSquareTest(table, r.cfg.Alpha())
		if err != nil {
			return warn("chi-square", err)
		}
		rep.ChiSquare = chi
		return nil
	})
	g.Go(func() error {
		b, err := stats.BetaBinomial(control.Conversions, control.Views, treatment.Conversions, treatment.Views, r.cfg.BetaBinomialOptions())
		if err != nil {
			return warn("bayesian", err)
		}
		b.PosteriorSamples = nil
		rep.Bayesian = b
		return nil
	})
	g.Go(func() error {
		observed := make([]int, len(summary.Variants))
		for i, v := range summary.Variants {
			observed[i] = v.Views
		}
		srm, err := stats.SRMCheck(observed, r.cfg.ExpectedRatios(d.exp), r.cfg.Diagnostics.SRMThreshold)
		if err != nil {
			return warn("srm", err)
		}
		rep.SRM = srm
		return nil
	})
	g.Go(func() error {
		segs, err := stats.AnalyzeSegments(segmentRows(d), rep.Control, rep.Treatment, r.cfg.SegmentAnalysis.CorrectionMethod, r.cfg.Alpha())
		if err != nil {
			return warn("segments", err)
		}
		rep.Segments = segs
		return nil
	})
	if len(d.observations) > 0 {
		g.Go(func() error {
			m, err := r.metricReport(d, summary.Challenger, warn)
			if err != nil {
				return err
			}
			rep.Metric = m
			return nil
		})
	}
	if o.look > 0 {
		g.Go(func() error {
			seq, err := r.interimLook(control, treatment, o.look, o.maxLooks)
			if err != nil {
				return warn("sequential", err)
			}
			rep.Sequential = seq
			if frac := float64(seq.CurrentLook) / float64(seq.MaxLooks); frac < r.cfg.Sequential.MinSampleFraction {
				mu.Lock()
				rep.Warnings = append(rep.Warnings, fmt.Sprintf("sequential look %d of %d is below the minimum information fraction %g", seq.CurrentLook, seq.MaxLooks, r.cfg.Sequential.MinSampleFraction))
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if o.persist {
		payload, err := json.Marshal(rep)
		if err != nil {
			return nil, fmt.Errorf("encode report: %w", err)
		}
		if err := r.store.SaveAnalysis(ctx, store.Analysis{ID: rep.ID, Experiment: name, Kind: KindReport, Payload: payload, CreatedAt: rep.GeneratedAt}); err != nil {
			return nil, err
		}
	}

	r.logger.Info().
		Str("experiment", name).
		Str("report_id", rep.ID).
		Int("warnings", len(rep.Warnings)).
		Dur("elapsed", time.Since(start)).
		Msg("analysis finished")
	return rep, nil
}

// segmentRows drops events recorded without a segment.
func segmentRows(d *dataset) []stats.SegmentAggregate {
	var rows []stats.SegmentAggregate
	for _, s := range d.segments {
		if s.Segment == "" || s.Variant < 0 || s.Variant >= len(d.exp.Variants) {
			continue
		}
		rows = append(rows, stats.SegmentAggregate{
			Segment:     s.Segment,
			Variant:     d.exp.Variants[s.Variant],
			Users:       s.Views,
			Conversions: s.Conversions,
		})
	}
	return rows
}

func (r *Runner) metricReport(d *dataset, challenger int, warn func(string, error) error) (*MetricReport, error) {
	m := &MetricReport{Observations: len(d.observations)}

	var control, treatment []float64
	var y, x []float64
	var labels []string
	covariates := true
	daily := make([]stats.DailyMetric, 0, len(d.observations))
	for _, o := range d.observations {
		if o.Variant < 0 || o.Variant >= len(d.exp.Variants) {
			continue
		}
		name := d.exp.Variants[o.Variant]
		daily = append(daily, stats.DailyMetric{Date: o.Date, Variant: name, Value: o.Value})

		if o.Variant != 0 && o.Variant != challenger {
			continue
		}
		if o.Variant == 0 {
			control = append(control, o.Value)
		} else {
			treatment = append(treatment, o.Value)
		}
		if o.Covariate == nil {
			covariates = false
			continue
		}
		y = append(y, o.Value)
		x = append(x, *o.Covariate)
		labels = append(labels, name)
	}

	var err error
	if m.Welch, err = stats.WelchTTest(control, treatment, r.cfg.Alpha(), r.cfg.Alternative()); err != nil {
		if err := warn("welch", err); err != nil {
			return nil, err
		}
	}
	if m.NormalNormal, err = stats.NormalNormal(control, treatment, r.cfg.NormalNormalOptions()); err != nil {
		if err := warn("normal-normal", err); err != nil {
			return nil, err
		}
	}
	if r.cfg.Diagnostics.CUPEDEnabled {
		if !covariates {
			_ = warn("cuped", fmt.Errorf("%w: some observations have no covariate", stats.ErrInvalidInput))
		} else if m.CUPED, err = stats.CUPED(y, x, labels, d.exp.Variants[0], d.exp.Variants[challenger]); err != nil {
			if err := warn("cuped", err); err != nil {
				return nil, err
			}
		}
	}
	if m.Novelty, err = stats.NoveltyDetection(daily, r.cfg.Diagnostics.NoveltyWindowDays); err != nil {
		if err := warn("novelty", err); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Sequential runs one interim look on the conversion z statistic of control
// against the best challenger. Nothing is saved.
func (r *Runner) Sequential(ctx context.Context, name string, look, maxLooks int) (_ *stats.SequentialResult, err error) {
	start := time.Now()
	defer func() { r.metrics.RecordAnalysis(KindSequential, err, time.Since(start)) }()

	exp, err := r.store.GetExperiment(ctx, name)
	if err != nil {
		return nil, err
	}
	variants, err := r.store.GetVariantStats(ctx, name)
	if err != nil {
		return nil, err
	}
	summary, err := stats.Summarize(exp, variants, r.cfg.Alpha())
	if err != nil {
		return nil, err
	}
	if len(summary.Variants) < 2 {
		return nil, fmt.Errorf("%w: experiment %q has fewer than 2 variants", stats.ErrInvalidInput, name)
	}
	return r.interimLook(summary.Variants[0], summary.Variants[summary.Challenger], look, maxLooks)
}

// interimLook tests the two-sided z statistic of treatment against control
// at the given look. A maxLooks of 0 uses the configured number of looks.
func (r *Runner) interimLook(control, treatment stats.VariantSummary, look, maxLooks int) (*stats.SequentialResult, error) {
	if maxLooks == 0 {
		maxLooks = r.cfg.Sequential.MaxLooks
	}
	z, err := stats.TwoProportionZTest(control.Conversions, control.Views, treatment.Conversions, treatment.Views, r.cfg.Alpha(), stats.TwoSided)
	if err != nil {
		return nil, err
	}
	return stats.InterimAnalysis(z.Statistic, look, maxLooks, r.cfg.Alpha(), r.cfg.SpendingFunction())
}

// History returns previously saved reports since the given time.
func (r *Runner) History(ctx context.Context, name string, since time.Time) ([]store.Analysis, error) {
	if _, err := r.store.GetExperiment(ctx, name); err != nil {
		return nil, err
	}
	return r.store.ListAnalyses(ctx, name, since)
}

// PlanRequest describes a sample size question. With BaselineStd set,
// Baseline is a metric mean and MDE an absolute difference in means;
// otherwise Baseline is a conversion rate and MDE an absolute rate change.
type PlanRequest struct {
	Baseline          float64 `json:"baseline"`
	BaselineStd       float64 `json:"baseline_std"`
	MDE               float64 `json:"mde"`
	Alpha             float64 `json:"alpha"`
	Power             float64 `json:"power"`
	DailyTraffic      int     `json:"daily_traffic"`
	Allocation        float64 `json:"allocation"`
	VarianceReduction float64 `json:"variance_reduction"`
}

// Plan sizes an experiment. Zero fields take configured defaults.
func (r *Runner) Plan(req PlanRequest) (*stats.PowerResult, error) {
	if req.MDE == 0 {
		req.MDE = r.cfg.Defaults.MinDetectableEffect
	}
	if req.Alpha == 0 {
		req.Alpha = r.cfg.Alpha()
	}
	if req.Power == 0 {
		req.Power = r.cfg.Defaults.Power
	}
	if req.Allocation == 0 {
		req.Allocation = 1
	}

	var plan *stats.PowerResult
	var err error
	if req.BaselineStd > 0 {
		plan, err = stats.SampleSizeMean(req.Baseline, req.BaselineStd, req.MDE, req.Alpha, req.Power, r.cfg.Alternative())
	} else {
		plan, err = stats.SampleSizeProportion(req.Baseline, req.MDE, req.Alpha, req.Power, r.cfg.Alternative())
	}
	if err != nil {
		return nil, err
	}
	if req.VarianceReduction > 0 {
		if plan, err = stats.AdjustForCUPED(plan, req.VarianceReduction); err != nil {
			return nil, err
		}
	}
	if req.DailyTraffic > 0 {
		plan = stats.WithDuration(plan, req.DailyTraffic, req.Allocation)
	}
	return plan, nil
}

// Correct adjusts a family of p-values. An empty method or a zero alpha takes
// the configured default.
func (r *Runner) Correct(pValues []float64, method string, alpha float64) ([]stats.CorrectionRecord, error) {
	if method == "" {
		method = r.cfg.Frequentist.CorrectionMethod
	}
	if alpha == 0 {
		alpha = r.cfg.Alpha()
	}
	start := time.Now()
	records, err := stats.ApplyCorrection(pValues, method, alpha)
	r.metrics.RecordAnalysis("correction", err, time.Since(start))
	return records, err
}

