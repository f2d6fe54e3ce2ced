package routing

import "math"

// wilsonZ is the z-score for a 95% confidence interval.
const wilsonZ = 1.96

// Interval is a closed confidence interval over a proportion, both bounds
// clamped to [0, 1].
type Interval struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// Width returns the interval width.
func (iv Interval) Width() float64 {
	return iv.Upper - iv.Lower
}

// WilsonInterval computes the Wilson score interval for an observed
// proportion p over n samples at 95% confidence. With no samples the
// interval is the uninformative [0, 1].
func WilsonInterval(p float64, n int) Interval {
	if n <= 0 {
		return Interval{Lower: 0, Upper: 1}
	}

	nf := float64(n)
	z2 := wilsonZ * wilsonZ

	denom := 1 + z2/nf
	center := (p + z2/(2*nf)) / denom
	margin := wilsonZ * math.Sqrt(p*(1-p)/nf+z2/(4*nf*nf)) / denom

	return Interval{
		Lower: clamp01(center - margin),
		Upper: clamp01(center + margin),
	}
}

// clamp01 clamps v to [0, 1].
func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}

// Clamp01 clamps v to [0, 1]. Exported for score derivations that share
// the same bound.
func Clamp01(v float64) float64 {
	return clamp01(v)
}
