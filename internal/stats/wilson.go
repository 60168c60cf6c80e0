package stats

import "math"

// WilsonInterval returns the Wilson score interval for successes out of
// trials at the given two-sided confidence. Bounds are clamped to [0, 1];
// zero trials give (0, 0).
func WilsonInterval(successes, trials int, confidence float64) (lower, upper float64) {
	if trials == 0 {
		return 0, 0
	}

	n := float64(trials)
	phat := float64(successes) / n
	z := ZScore(confidence)
	z2 := z * z

	scale := 1 + z2/n
	mid := (phat + z2/(2*n)) / scale
	half := z / scale * math.Sqrt(phat*(1-phat)/n+z2/(4*n*n))

	return math.Max(mid-half, 0), math.Min(mid+half, 1)
}

// ZScore returns the two-sided critical z for a confidence level,
// e.g. 0.95 -> 1.96.
func ZScore(confidence float64) float64 {
	return normalQuantile((1 + confidence) / 2)
}
