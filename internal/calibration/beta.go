package calibration

// Beta posterior quantiles via the regularized incomplete beta function
// (continued fraction, Lentz's method) inverted by bisection.

import "math"

const (
	betaEps     = 1e-12
	betaMaxIter = 200
)

// betaQuantile returns x such that I_x(a, b) = q, the q-quantile of a
// Beta(a, b) distribution.
func betaQuantile(a, b, q float64) float64 {
	if q <= 0 {
		return 0
	}
	if q >= 1 {
		return 1
	}

	lo, hi := 0.0, 1.0
	for i := 0; i < 100; i++ {
		mid := (lo + hi) / 2
		if regIncBeta(a, b, mid) < q {
			lo = mid
		} else {
			hi = mid
		}
	}
	return (lo + hi) / 2
}

// regIncBeta computes the regularized incomplete beta function I_x(a, b).
func regIncBeta(a, b, x float64) float64 {
	if x <= 0 {
		return 0
	}
	if x >= 1 {
		return 1
	}

	lnBeta, _ := math.Lgamma(a + b)
	lnA, _ := math.Lgamma(a)
	lnB, _ := math.Lgamma(b)
	front := math.Exp(lnBeta - lnA - lnB + a*math.Log(x) + b*math.Log(1-x))

	// Use the symmetry relation for faster convergence.
	if x < (a+1)/(a+b+2) {
		return front * betaCF(a, b, x) / a
	}
	return 1 - front*betaCF(b, a, 1-x)/b
}

// betaCF evaluates the continued fraction for the incomplete beta function
// by the modified Lentz method.
func betaCF(a, b, x float64) float64 {
	qab := a + b
	qap := a + 1
	qam := a - 1

	c := 1.0
	d := 1 - qab*x/qap
	if math.Abs(d) < betaEps {
		d = betaEps
	}
	d = 1 / d
	h := d

	for m := 1; m <= betaMaxIter; m++ {
		fm := float64(m)
		m2 := 2 * fm

		// Even step.
		num := fm * (b - fm) * x / ((qam + m2) * (a + m2))
		d = 1 + num*d
		if math.Abs(d) < betaEps {
			d = betaEps
		}
		c = 1 + num/c
		if math.Abs(c) < betaEps {
			c = betaEps
		}
		d = 1 / d
		h *= d * c

		// Odd step.
		num = -(a + fm) * (qab + fm) * x / ((a + m2) * (qap + m2))
		d = 1 + num*d
		if math.Abs(d) < betaEps {
			d = betaEps
		}
		c = 1 + num/c
		if math.Abs(c) < betaEps {
			c = betaEps
		}
		d = 1 / d
		del := d * c
		h *= del

		if math.Abs(del-1) < betaEps {
			break
		}
	}
	return h
}
