package stats

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// CorrectionMethod names a multiple-comparison correction.
type CorrectionMethod string

const (
	MethodBonferroni        CorrectionMethod = "bonferroni"
	MethodHolm              CorrectionMethod = "holm"
	MethodHolmBonferroni    CorrectionMethod = "holm-bonferroni"
	MethodBenjaminiHochberg CorrectionMethod = "benjamini-hochberg"
	MethodBH                CorrectionMethod = "bh"
	MethodFDR               CorrectionMethod = "fdr"
)

type correctionFunc func(pValues []float64, alpha float64) []CorrectionRecord

var correctionMethods = map[CorrectionMethod]correctionFunc{
	MethodBonferroni:        Bonferroni,
	MethodHolmBonferroni:    HolmBonferroni,
	MethodHolm:              HolmBonferroni,
	MethodBenjaminiHochberg: BenjaminiHochberg,
	MethodBH:                BenjaminiHochberg,
	MethodFDR:               BenjaminiHochberg,
}

// CorrectionMethods lists the accepted method names in a stable order.
func CorrectionMethods() []string {
	names := make([]string, 0, len(correctionMethods))
	for name := range correctionMethods {
		names = append(names, string(name))
	}
	sort.Strings(names)
	return names
}

// ApplyCorrection corrects pValues with the named method (case-insensitive).
func ApplyCorrection(pValues []float64, method string, alpha float64) ([]CorrectionRecord, error) {
	fn, ok := correctionMethods[CorrectionMethod(strings.ToLower(method))]
	if !ok {
		return nil, fmt.Errorf("%w: correction method %q, available: %s", ErrUnknownMethod, method, strings.Join(CorrectionMethods(), ", "))
	}
	for i, p := range pValues {
		if math.IsNaN(p) || p < 0 || p > 1 {
			return nil, fmt.Errorf("%w: p-value %d is %v, want [0, 1]", ErrInvalidInput, i, p)
		}
	}
	return fn(pValues, alpha), nil
}

// Bonferroni multiplies every p-value by the number of tests.
func Bonferroni(pValues []float64, alpha float64) []CorrectionRecord {
	n := float64(len(pValues))
	out := make([]CorrectionRecord, len(pValues))
	for i, p := range pValues {
		corrected := math.Min(p*n, 1)
		out[i] = CorrectionRecord{OriginalP: p, CorrectedP: corrected, Significant: corrected < alpha}
	}
	return out
}

// HolmBonferroni is the step-down procedure: the i-th smallest p-value is
// multiplied by (n-i) and the sequence is made non-decreasing.
func HolmBonferroni(pValues []float64, alpha float64) []CorrectionRecord {
	n := len(pValues)
	order := ascendingOrder(pValues)

	corrected := make([]float64, n)
	for rank, idx := range order {
		corrected[rank] = pValues[idx] * float64(n-rank)
		if rank > 0 && corrected[rank-1] > corrected[rank] {
			corrected[rank] = corrected[rank-1]
		}
	}
	return remap(pValues, order, corrected, alpha)
}

// BenjaminiHochberg controls the false discovery rate: the i-th smallest
// p-value is scaled by n/i and the sequence is made non-increasing from the top.
func BenjaminiHochberg(pValues []float64, alpha float64) []CorrectionRecord {
	n := len(pValues)
	order := ascendingOrder(pValues)

	corrected := make([]float64, n)
	for rank, idx := range order {
		corrected[rank] = pValues[idx] * (float64(n) / float64(rank+1))
	}
	for rank := n - 2; rank >= 0; rank-- {
		if corrected[rank+1] < corrected[rank] {
			corrected[rank] = corrected[rank+1]
		}
	}
	return remap(pValues, order, corrected, alpha)
}

// ascendingOrder returns indices of pValues sorted by value; ties keep input order.
func ascendingOrder(pValues []float64) []int {
	order := make([]int, len(pValues))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return pValues[order[a]] < pValues[order[b]]
	})
	return order
}

func remap(pValues []float64, order []int, corrected []float64, alpha float64) []CorrectionRecord {
	out := make([]CorrectionRecord, len(pValues))
	for rank, idx := range order {
		c := math.Min(corrected[rank], 1)
		out[idx] = CorrectionRecord{OriginalP: pValues[idx], CorrectedP: c, Significant: c < alpha}
	}
	return out
}
