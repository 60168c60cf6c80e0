package stats

import (
	"github.com/gkobilansky/abgoat/internal/store"
)

// VariantSummary holds one variant's observed rate and Wilson interval.
type VariantSummary struct {
	Index          int     `json:"index"`
	Name           string  `json:"name"`
	Views          int     `json:"views"`
	Conversions    int     `json:"conversions"`
	ConversionRate float64 `json:"conversion_rate"`
	CILower        float64 `json:"ci_lower"`
	CIUpper        float64 `json:"ci_upper"`
}

// Summary is the per-variant overview shown by the results command.
type Summary struct {
	Variants       []VariantSummary `json:"variants"`
	LeadingVariant int              `json:"leading_variant"`
	// Challenger is the variant compared against control: the leader, or the
	// best non-control variant when control leads.
	Challenger int                `json:"challenger"`
	Comparison *FrequentistResult `json:"comparison,omitempty"`
	Confident  bool               `json:"confident"`
}

// Summarize computes rates and intervals for every variant of exp and tests
// the best challenger against control (variant 0). Comparison is nil when
// either arm has no views.
func Summarize(exp *store.Experiment, variantStats []store.VariantStats, alpha float64) (*Summary, error) {
	byIndex := make(map[int]store.VariantStats, len(variantStats))
	for _, vs := range variantStats {
		byIndex[vs.Variant] = vs
	}

	confidence := 1 - alpha
	summary := &Summary{Variants: make([]VariantSummary, len(exp.Variants))}
	for i, name := range exp.Variants {
		vs := byIndex[i]
		v := VariantSummary{Index: i, Name: name, Views: vs.Views, Conversions: vs.Conversions}
		if vs.Views > 0 {
			v.ConversionRate = float64(vs.Conversions) / float64(vs.Views)
			v.CILower, v.CIUpper = WilsonInterval(vs.Conversions, vs.Views, confidence)
		}
		summary.Variants[i] = v
	}
	if len(summary.Variants) < 2 {
		return summary, nil
	}

	for i, v := range summary.Variants {
		if v.ConversionRate > summary.Variants[summary.LeadingVariant].ConversionRate {
			summary.LeadingVariant = i
		}
	}
	summary.Challenger = summary.LeadingVariant
	if summary.Challenger == 0 {
		summary.Challenger = 1
		for i := 2; i < len(summary.Variants); i++ {
			if summary.Variants[i].ConversionRate > summary.Variants[summary.Challenger].ConversionRate {
				summary.Challenger = i
			}
		}
	}

	control, challenger := summary.Variants[0], summary.Variants[summary.Challenger]
	if control.Views == 0 || challenger.Views == 0 {
		return summary, nil
	}
	r, err := TwoProportionZTest(control.Conversions, control.Views, challenger.Conversions, challenger.Views, alpha, TwoSided)
	if err != nil {
		return nil, err
	}
	summary.Comparison = r
	summary.Confident = r.Significant
	return summary, nil
}
