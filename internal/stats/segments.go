package stats

// SegmentAggregate is one variant's counts inside one segment.
type SegmentAggregate struct {
	Segment     string
	Variant     string
	Users       int
	Conversions int
}

// AnalyzeSegments runs a two-sided z-test in every segment that has both the
// control and the treatment arm, then corrects the segment p-values as one
// family with method. Results follow the order segments first appear in rows.
func AnalyzeSegments(rows []SegmentAggregate, controlLabel, treatmentLabel, method string, alpha float64) ([]SegmentResult, error) {
	type arms struct {
		control, treatment *SegmentAggregate
	}
	bySegment := make(map[string]*arms)
	var order []string
	for i := range rows {
		r := &rows[i]
		a, ok := bySegment[r.Segment]
		if !ok {
			a = &arms{}
			bySegment[r.Segment] = a
			order = append(order, r.Segment)
		}
		switch r.Variant {
		case controlLabel:
			a.control = r
		case treatmentLabel:
			a.treatment = r
		}
	}

	var results []SegmentResult
	var pValues []float64
	for _, seg := range order {
		a := bySegment[seg]
		if a.control == nil || a.treatment == nil {
			continue
		}
		r, err := TwoProportionZTest(a.control.Conversions, a.control.Users, a.treatment.Conversions, a.treatment.Users, alpha, TwoSided)
		if err != nil {
			return nil, err
		}
		results = append(results, SegmentResult{Segment: seg, Result: *r})
		pValues = append(pValues, r.PValue)
	}
	if len(results) == 0 {
		return nil, nil
	}

	corrected, err := ApplyCorrection(pValues, method, alpha)
	if err != nil {
		return nil, err
	}
	for i := range results {
		results[i].CorrectedPValue = corrected[i].CorrectedP
		results[i].SignificantAfterCorrection = corrected[i].Significant
	}
	return results, nil
}
