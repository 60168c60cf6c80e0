package stats

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	descriptive "github.com/montanaflynn/stats"
)

// noveltyAlpha is the per-variant significance level of the early/late test.
const noveltyAlpha = 0.05

// DailyMetric is one variant's metric value on one day.
type DailyMetric struct {
	Date    time.Time
	Variant string
	Value   float64
}

// NoveltyDetection compares each variant's early window (the first
// windowDays after the first date, inclusive) against the rest of the run
// with a Welch test. A novelty or primacy effect is reported when any
// variant differs at the 5% level. Missing early or late data yields an
// undetected result with a Reason rather than an error.
func NoveltyDetection(rows []DailyMetric, windowDays int) (*NoveltyResult, error) {
	if windowDays < 0 {
		return nil, fmt.Errorf("%w: window days must not be negative, got %d", ErrInvalidInput, windowDays)
	}
	if len(rows) == 0 {
		return &NoveltyResult{WindowDays: windowDays, Reason: "No data for early/late comparison"}, nil
	}

	start := rows[0].Date
	for _, r := range rows[1:] {
		if r.Date.Before(start) {
			start = r.Date
		}
	}
	cutoff := start.AddDate(0, 0, windowDays)

	early := make(map[string][]float64)
	late := make(map[string][]float64)
	var variants []string
	seen := make(map[string]bool)
	for _, r := range rows {
		if !seen[r.Variant] {
			seen[r.Variant] = true
			variants = append(variants, r.Variant)
		}
		if r.Date.After(cutoff) {
			late[r.Variant] = append(late[r.Variant], r.Value)
		} else {
			early[r.Variant] = append(early[r.Variant], r.Value)
		}
	}

	if len(early) == 0 || len(late) == 0 {
		return &NoveltyResult{WindowDays: windowDays, Reason: "Insufficient data for early/late comparison"}, nil
	}

	res := &NoveltyResult{WindowDays: windowDays, Variants: make(map[string]NoveltyVariant)}
	for _, v := range variants {
		e, l := early[v], late[v]
		if len(e) < 2 || len(l) < 2 {
			continue
		}
		nv := compareWindows(e, l)
		res.Variants[v] = nv
		res.Detected = res.Detected || nv.Significant
	}
	if len(res.Variants) == 0 {
		res.Reason = "No variant has at least 2 observations in both windows"
	}
	return res, nil
}

// compareWindows runs a two-sided Welch test of early against late. Zero
// spread in both windows gives an infinite statistic when the means differ.
func compareWindows(early, late []float64) NoveltyVariant {
	earlyMean, _ := descriptive.Mean(early)
	lateMean, _ := descriptive.Mean(late)

	t, df, _, _, se := welch(late, early)
	var p float64
	switch {
	case se > 0:
		p = 2 * studentsT(df).Survival(math.Abs(t))
	case earlyMean != lateMean:
		t = math.Copysign(math.Inf(1), earlyMean-lateMean)
		p = 0
	default:
		p = 1
	}

	return NoveltyVariant{
		EarlyMean:   earlyMean,
		LateMean:    lateMean,
		TStatistic:  t,
		PValue:      p,
		Significant: p < noveltyAlpha,
	}
}

// MarshalJSON encodes an infinite t statistic as null.
func (v NoveltyVariant) MarshalJSON() ([]byte, error) {
	type plain NoveltyVariant
	out := struct {
		plain
		TStatistic *float64 `json:"t_statistic"`
	}{plain: plain(v)}
	if !math.IsInf(v.TStatistic, 0) && !math.IsNaN(v.TStatistic) {
		t := v.TStatistic
		out.TStatistic = &t
	}
	return json.Marshal(out)
}
