package calibration

// Shape-preserving piecewise cubic Hermite interpolation (Fritsch–Carlson).
// Monotone data in, monotone interpolant out: no overshoot between knots,
// which matters when the knots are probabilities.

import "math"

type pchip struct {
	xs, ys, ms []float64 // knots and endpoint derivatives
}

func newPCHIP(xs, ys []float64) pchip {
	n := len(xs)
	ms := make([]float64, n)
	if n < 2 {
		return pchip{xs: xs, ys: ys, ms: ms}
	}

	// Secant slopes per interval.
	d := make([]float64, n-1)
	for i := 0; i < n-1; i++ {
		d[i] = (ys[i+1] - ys[i]) / (xs[i+1] - xs[i])
	}

	ms[0] = d[0]
	ms[n-1] = d[n-2]
	for i := 1; i < n-1; i++ {
		if d[i-1]*d[i] <= 0 {
			ms[i] = 0 // local extremum: flat tangent preserves monotonicity
			continue
		}
		// Weighted harmonic mean of the neighboring secants.
		w1 := 2*(xs[i+1]-xs[i]) + (xs[i] - xs[i-1])
		w2 := (xs[i+1] - xs[i]) + 2*(xs[i]-xs[i-1])
		ms[i] = (w1 + w2) / (w1/d[i-1] + w2/d[i])
	}

	// Clamp endpoint tangents per Fritsch–Carlson so no interval overshoots.
	for i := 0; i < n-1; i++ {
		if d[i] == 0 {
			ms[i] = 0
			ms[i+1] = 0
			continue
		}
		a := ms[i] / d[i]
		b := ms[i+1] / d[i]
		if s := a*a + b*b; s > 9 {
			tau := 3 / math.Sqrt(s)
			ms[i] = tau * a * d[i]
			ms[i+1] = tau * b * d[i]
		}
	}

	return pchip{xs: xs, ys: ys, ms: ms}
}

// eval interpolates at x, clamping to the end values outside the knots.
func (p pchip) eval(x float64) float64 {
	n := len(p.xs)
	if n == 0 {
		return 0
	}
	if x <= p.xs[0] {
		return p.ys[0]
	}
	if x >= p.xs[n-1] {
		return p.ys[n-1]
	}

	// Binary search for the interval with xs[i] <= x < xs[i+1].
	lo, hi := 0, n-1
	for hi-lo > 1 {
		mid := (lo + hi) / 2
		if p.xs[mid] <= x {
			lo = mid
		} else {
			hi = mid
		}
	}

	h := p.xs[lo+1] - p.xs[lo]
	t := (x - p.xs[lo]) / h
	t2 := t * t
	t3 := t2 * t

	h00 := 2*t3 - 3*t2 + 1
	h10 := t3 - 2*t2 + t
	h01 := -2*t3 + 3*t2
	h11 := t3 - t2

	return h00*p.ys[lo] + h10*h*p.ms[lo] + h01*p.ys[lo+1] + h11*h*p.ms[lo+1]
}
