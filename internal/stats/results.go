package stats

import (
	"encoding/json"
	"errors"
	"math"
)

var (
	// ErrInvalidInput marks inputs that violate a precondition (negative
	// counts, conversions above totals, empty samples, bad probabilities).
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnknownMethod is returned when a correction method name is not recognised.
	ErrUnknownMethod = errors.New("unknown method")
)

// Alternative is the alternative hypothesis of a test.
type Alternative string

const (
	TwoSided Alternative = "two-sided"
	Greater  Alternative = "greater"
	Less     Alternative = "less"
)

// ROPEDecision is the outcome of a Region Of Practical Equivalence check.
type ROPEDecision string

const (
	ROPEAccept    ROPEDecision = "accept"
	ROPEReject    ROPEDecision = "reject"
	ROPEUndecided ROPEDecision = "undecided"
)

// SequentialDecision is the outcome of an interim look.
type SequentialDecision string

const (
	DecisionContinue   SequentialDecision = "continue"
	DecisionStopReject SequentialDecision = "stop_reject"
	DecisionStopAccept SequentialDecision = "stop_accept"
)

// FrequentistResult describes the outcome of a classical hypothesis test.
type FrequentistResult struct {
	TestName        string  `json:"test_name"`
	Statistic       float64 `json:"statistic"`
	PValue          float64 `json:"p_value"`
	Significant     bool    `json:"significant"`
	ConfidenceLevel float64 `json:"confidence_level"`
	ControlMean     float64 `json:"control_mean"`
	TreatmentMean   float64 `json:"treatment_mean"`
	AbsoluteEffect  float64 `json:"absolute_effect"`
	RelativeEffect  float64 `json:"relative_effect"`
	CILower         float64 `json:"ci_lower"`
	CIUpper         float64 `json:"ci_upper"`
	EffectSize      float64 `json:"effect_size"`
}

// BayesianResult describes posterior-derived decision metrics.
type BayesianResult struct {
	ProbTreatmentBetter   float64      `json:"prob_treatment_better"`
	ExpectedLift          float64      `json:"expected_lift"`
	HDILower              float64      `json:"hdi_lower"`
	HDIUpper              float64      `json:"hdi_upper"`
	ExpectedLossControl   float64      `json:"expected_loss_control"`
	ExpectedLossTreatment float64      `json:"expected_loss_treatment"`
	RiskRatio             float64      `json:"risk_ratio"` // +Inf when the control loss is zero
	ROPEDecision          ROPEDecision `json:"rope_decision"`
	ROPEProbIn            float64      `json:"rope_prob_in"`
	ROPEProbBelow         float64      `json:"rope_prob_below"`
	ROPEProbAbove         float64      `json:"rope_prob_above"`
	PosteriorSamples      []float64    `json:"posterior_samples,omitempty"`
}

// MarshalJSON encodes an infinite risk ratio as null, which JSON cannot represent.
func (r BayesianResult) MarshalJSON() ([]byte, error) {
	type plain BayesianResult
	out := struct {
		plain
		RiskRatio *float64 `json:"risk_ratio"`
	}{plain: plain(r)}
	if !math.IsInf(r.RiskRatio, 0) && !math.IsNaN(r.RiskRatio) {
		rr := r.RiskRatio
		out.RiskRatio = &rr
	}
	return json.Marshal(out)
}

// UnmarshalJSON reverses MarshalJSON: a null risk ratio decodes as +Inf.
func (r *BayesianResult) UnmarshalJSON(data []byte) error {
	type plain BayesianResult
	in := struct {
		*plain
		RiskRatio json.RawMessage `json:"risk_ratio"`
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	switch string(in.RiskRatio) {
	case "":
		r.RiskRatio = 0
	case "null":
		r.RiskRatio = math.Inf(1)
	default:
		return json.Unmarshal(in.RiskRatio, &r.RiskRatio)
	}
	return nil
}

// SequentialResult describes one interim look of a group-sequential design.
type SequentialResult struct {
	CurrentLook      int                `json:"current_look"`
	MaxLooks         int                `json:"max_looks"`
	SpendingFunction SpendingFunction   `json:"spending_function"`
	AlphaSpent       float64            `json:"alpha_spent"`
	CumulativeAlpha  float64            `json:"cumulative_alpha"`
	BoundaryValue    float64            `json:"boundary_value"`
	ZStatistic       float64            `json:"z_statistic"`
	Decision         SequentialDecision `json:"decision"`
	Boundaries       []float64          `json:"boundaries"`
}

// PowerResult describes a sample size plan.
type PowerResult struct {
	RequiredSampleSize       int      `json:"required_sample_size"`
	RequiredSamplePerVariant int      `json:"required_sample_per_variant"`
	EstimatedDays            *float64 `json:"estimated_days,omitempty"`
	Power                    float64  `json:"power"`
	Alpha                    float64  `json:"alpha"`
	MDE                      float64  `json:"mde"`
	BaselineRate             float64  `json:"baseline_rate"`
	CUPEDAdjustedSize        *int     `json:"cuped_adjusted_size,omitempty"`
	VarianceReduction        *float64 `json:"variance_reduction,omitempty"`
}

// SRMResult describes a Sample Ratio Mismatch check.
type SRMResult struct {
	ChiSquare      float64 `json:"chi_square"`
	PValue         float64 `json:"p_value"`
	IsSRM          bool    `json:"is_srm"`
	ExpectedCounts []int   `json:"expected_counts"`
	ObservedCounts []int   `json:"observed_counts"`
	Threshold      float64 `json:"threshold"`
}

// CUPEDResult describes a covariate variance-reduction adjustment.
type CUPEDResult struct {
	Theta                 float64 `json:"theta"`
	OriginalVariance      float64 `json:"original_variance"`
	AdjustedVariance      float64 `json:"adjusted_variance"`
	VarianceReduction     float64 `json:"variance_reduction"`
	AdjustedControlMean   float64 `json:"adjusted_control_mean"`
	AdjustedTreatmentMean float64 `json:"adjusted_treatment_mean"`
	AdjustedEffect        float64 `json:"adjusted_effect"`
}

// CorrectionRecord is one p-value after multiple-comparison correction.
type CorrectionRecord struct {
	OriginalP   float64 `json:"original_p"`
	CorrectedP  float64 `json:"corrected_p"`
	Significant bool    `json:"significant"`
}

// NoveltyVariant holds the early/late comparison for one variant.
type NoveltyVariant struct {
	EarlyMean   float64 `json:"early_mean"`
	LateMean    float64 `json:"late_mean"`
	TStatistic  float64 `json:"t_statistic"`
	PValue      float64 `json:"p_value"`
	Significant bool    `json:"significant"`
}

// NoveltyResult describes a novelty/primacy check.
type NoveltyResult struct {
	Detected   bool                      `json:"detected"`
	Reason     string                    `json:"reason,omitempty"`
	WindowDays int                       `json:"window_days"`
	Variants   map[string]NoveltyVariant `json:"variants,omitempty"`
}

// SegmentResult is a per-segment z-test with its corrected p-value.
type SegmentResult struct {
	Segment                    string            `json:"segment"`
	Result                     FrequentistResult `json:"result"`
	CorrectedPValue            float64           `json:"corrected_p_value"`
	SignificantAfterCorrection bool              `json:"significant_after_correction"`
}
