package stats

import (
	"fmt"
	"math"
)

// SpendingFunction names an alpha-spending family for group-sequential tests.
type SpendingFunction string

const (
	OBrienFleming SpendingFunction = "obrien-fleming"
	// Pocock uses a Bonferroni-style constant boundary z_{1-alpha/(2K)}.
	// It is conservative relative to the true Pocock constant.
	Pocock SpendingFunction = "pocock"
	// PocockExact uses the true constant Pocock boundary for equally spaced
	// looks, found by numerical integration.
	PocockExact SpendingFunction = "pocock-exact"
)

// ParseSpendingFunction maps a name to a spending function. Only the exact
// keys "obrien-fleming" and "pocock-exact" select those families; every other
// name, including typos, falls back to Pocock. Validate names upstream when
// the fallback is not wanted.
func ParseSpendingFunction(name string) SpendingFunction {
	switch SpendingFunction(name) {
	case OBrienFleming:
		return OBrienFleming
	case PocockExact:
		return PocockExact
	default:
		return Pocock
	}
}

// OBrienFlemingBoundary returns z_{1-alpha/2}/sqrt(k/n) for look k of n.
func OBrienFlemingBoundary(alpha float64, nLooks, look int) float64 {
	t := float64(look) / float64(nLooks)
	if t <= 0 {
		return math.Inf(1)
	}
	return normalQuantile(1-alpha/2) / math.Sqrt(t)
}

// PocockBoundary returns the approximate constant Pocock boundary. The look
// argument is accepted for symmetry with OBrienFlemingBoundary.
func PocockBoundary(alpha float64, nLooks, look int) float64 {
	return normalQuantile(1 - alpha/float64(nLooks)/2)
}

// OBrienFlemingSpending is the cumulative alpha spent by information fraction t.
func OBrienFlemingSpending(alpha, t float64) float64 {
	if t <= 0 {
		return 0
	}
	z := normalQuantile(1 - alpha/2)
	return 2 * (1 - normalCDF(z/math.Sqrt(t)))
}

// PocockSpending is the Lan-DeMets Pocock-type spending function alpha·ln(1+(e-1)t).
func PocockSpending(alpha, t float64) float64 {
	if t <= 0 {
		return 0
	}
	return alpha * math.Log(1+(math.E-1)*t)
}

// Boundaries returns the critical |z| for each of the nLooks planned looks.
func Boundaries(fn SpendingFunction, alpha float64, nLooks int) []float64 {
	out := make([]float64, nLooks)
	switch fn {
	case OBrienFleming:
		for k := range out {
			out[k] = OBrienFlemingBoundary(alpha, nLooks, k+1)
		}
	case PocockExact:
		c := PocockExactBoundary(alpha, nLooks)
		for k := range out {
			out[k] = c
		}
	default:
		for k := range out {
			out[k] = PocockBoundary(alpha, nLooks, k+1)
		}
	}
	return out
}

// InterimAnalysis checks z against the boundary at currentLook. The test
// stops for efficacy when |z| reaches the boundary; at the final look it
// falls back to the fixed-sample two-sided critical value.
func InterimAnalysis(z float64, currentLook, maxLooks int, alpha float64, fn SpendingFunction) (*SequentialResult, error) {
	if maxLooks < 1 {
		return nil, fmt.Errorf("%w: max looks must be at least 1, got %d", ErrInvalidInput, maxLooks)
	}
	if currentLook < 1 || currentLook > maxLooks {
		return nil, fmt.Errorf("%w: current look must be in [1, %d], got %d", ErrInvalidInput, maxLooks, currentLook)
	}
	if err := checkProbability("alpha", alpha); err != nil {
		return nil, err
	}

	family := ParseSpendingFunction(string(fn))
	boundaries := Boundaries(family, alpha, maxLooks)
	boundary := boundaries[currentLook-1]

	t := float64(currentLook) / float64(maxLooks)
	spent := PocockSpending(alpha, t)
	if family == OBrienFleming {
		spent = OBrienFlemingSpending(alpha, t)
	}

	decision := DecisionContinue
	switch {
	case math.Abs(z) >= boundary:
		decision = DecisionStopReject
	case currentLook == maxLooks:
		decision = DecisionStopAccept
		if math.Abs(z) >= normalQuantile(1-alpha/2) {
			decision = DecisionStopReject
		}
	}

	return &SequentialResult{
		CurrentLook:      currentLook,
		MaxLooks:         maxLooks,
		SpendingFunction: fn,
		AlphaSpent:       spent,
		CumulativeAlpha:  spent,
		BoundaryValue:    boundary,
		ZStatistic:       z,
		Decision:         decision,
		Boundaries:       boundaries,
	}, nil
}

// pocockGrid is the number of Simpson nodes per look; it must be odd.
const pocockGrid = 201

// PocockExactBoundary returns the constant c such that a two-sided test
// rejecting when |Z_k| >= c at any of nLooks equally spaced looks has overall
// type I error alpha.
func PocockExactBoundary(alpha float64, nLooks int) float64 {
	if nLooks <= 1 {
		return normalQuantile(1 - alpha/2)
	}
	lo := normalQuantile(1 - alpha/2)
	hi := normalQuantile(1 - alpha/float64(nLooks)/2)
	for i := 0; i < 100 && hi-lo > 1e-7; i++ {
		mid := (lo + hi) / 2
		if crossingProbability(mid, nLooks) > alpha {
			lo = mid
		} else {
			hi = mid
		}
	}
	return (lo + hi) / 2
}

// crossingProbability returns P(|Z_k| >= c for some k <= nLooks) under the
// null. The partial sum S_k = sqrt(k)·Z_k has independent N(0,1) increments,
// so the sub-density of S_k on the continuation region is propagated look by
// look with Simpson's rule.
func crossingProbability(c float64, nLooks int) float64 {
	nodes, weights, dens := simpsonNodes(c)
	for i, s := range nodes {
		dens[i] = normalPDF(s)
	}

	for k := 2; k < nLooks; k++ {
		b := c * math.Sqrt(float64(k))
		next, nextW, nextDens := simpsonNodes(b)
		for i, s := range next {
			sum := 0.0
			for j, u := range nodes {
				sum += weights[j] * dens[j] * normalPDF(s-u)
			}
			nextDens[i] = sum
		}
		nodes, weights, dens = next, nextW, nextDens
	}

	b := c * math.Sqrt(float64(nLooks))
	cont := 0.0
	for j, u := range nodes {
		cont += weights[j] * dens[j] * (normalCDF(b-u) - normalCDF(-b-u))
	}
	return 1 - cont
}

func simpsonNodes(b float64) (nodes, weights, dens []float64) {
	nodes = make([]float64, pocockGrid)
	weights = make([]float64, pocockGrid)
	dens = make([]float64, pocockGrid)
	h := 2 * b / float64(pocockGrid-1)
	for i := range nodes {
		nodes[i] = -b + float64(i)*h
		switch {
		case i == 0 || i == pocockGrid-1:
			weights[i] = h / 3
		case i%2 == 1:
			weights[i] = 4 * h / 3
		default:
			weights[i] = 2 * h / 3
		}
	}
	return nodes, weights, dens
}
