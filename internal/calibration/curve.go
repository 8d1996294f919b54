package calibration

// Pre-fit win-rate calibration curve for NBA moneyline prices.
//
// The artifact holds per-bucket (price, wins, n) counts. At load we fit a
// monotone non-decreasing point estimator (pool adjacent violators over the
// empirical rates), a one-sided Bayesian lower bound per bucket from a
// Beta(wins+1, n−wins+1) posterior, and interpolate both with a
// shape-preserving cubic (PCHIP). After load the curve is a pure function.

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sync"
)

// Artifact is the serialized calibration table.
type Artifact struct {
	PriceLo float64  `json:"price_lo"`
	PriceHi float64  `json:"price_hi"`
	Buckets []Bucket `json:"buckets"`
}

// Bucket is one aggregated price band of historical outcomes.
type Bucket struct {
	Price float64 `json:"price"` // bucket center
	Wins  float64 `json:"wins"`
	N     float64 `json:"n"`
}

// Estimate is the curve's answer for one price.
type Estimate struct {
	Point float64 // isotonic point estimate
	Lower float64 // one-sided lower bound at the configured confidence
	Band  string  // high | medium | low, by sample size
	ESS   float64 // effective sample size of the nearest bucket
}

// HasEdge reports whether the estimate carries any usable signal.
func (e Estimate) HasEdge() bool { return e.Lower > 0 }

// Curve is the fitted, memoized calibration curve.
type Curve struct {
	lo, hi float64
	point  pchip
	lower  pchip
	knots  []Bucket
}

const (
	bandHighN   = 100
	bandMediumN = 40
)

// Load reads an artifact file and fits the curve. An empty path loads the
// built-in NBA moneyline artifact.
func Load(path string, confidence float64) (*Curve, error) {
	art := defaultArtifact
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("calibration.Load: read %q: %w", path, err)
		}
		if err := json.Unmarshal(data, &art); err != nil {
			return nil, fmt.Errorf("calibration.Load: parse %q: %w", path, err)
		}
	}
	return Fit(art, confidence)
}

// Fit builds a Curve from an artifact.
func Fit(art Artifact, confidence float64) (*Curve, error) {
	if len(art.Buckets) < 2 {
		return nil, fmt.Errorf("calibration.Fit: need at least 2 buckets, got %d", len(art.Buckets))
	}
	if confidence <= 0 || confidence >= 1 {
		return nil, fmt.Errorf("calibration.Fit: confidence %v out of (0,1)", confidence)
	}

	n := len(art.Buckets)
	xs := make([]float64, n)
	rates := make([]float64, n)
	weights := make([]float64, n)
	lowers := make([]float64, n)
	for i, b := range art.Buckets {
		if b.N <= 0 || b.Wins < 0 || b.Wins > b.N {
			return nil, fmt.Errorf("calibration.Fit: bad bucket at price %.2f (wins=%v n=%v)", b.Price, b.Wins, b.N)
		}
		if i > 0 && b.Price <= art.Buckets[i-1].Price {
			return nil, fmt.Errorf("calibration.Fit: buckets not strictly increasing at %.2f", b.Price)
		}
		xs[i] = b.Price
		rates[i] = b.Wins / b.N
		weights[i] = b.N
		// One-sided lower bound: the (1−confidence) quantile of the
		// posterior. Beta(wins+1, losses+1) is the uniform-prior posterior.
		lowers[i] = betaQuantile(b.Wins+1, b.N-b.Wins+1, 1-confidence)
	}

	points := pava(rates, weights)
	lowers = pava(lowers, weights) // keep the lower envelope monotone too

	// The lower bound may not exceed the point estimate.
	for i := range lowers {
		if lowers[i] > points[i] {
			lowers[i] = points[i]
		}
	}

	return &Curve{
		lo:    art.PriceLo,
		hi:    art.PriceHi,
		point: newPCHIP(xs, points),
		lower: newPCHIP(xs, lowers),
		knots: art.Buckets,
	}, nil
}

// Estimate evaluates the curve. Prices outside the fitted domain return a
// zero estimate: no edge, no trade.
func (c *Curve) Estimate(price float64) Estimate {
	if price < c.lo || price > c.hi {
		return Estimate{}
	}
	point := clamp01(c.point.eval(price))
	lower := clamp01(c.lower.eval(price))
	if lower > point {
		lower = point
	}

	nearest := c.nearestBucket(price)
	return Estimate{
		Point: point,
		Lower: lower,
		Band:  bandLabel(nearest.N),
		ESS:   nearest.N,
	}
}

// Domain returns the fitted [lo, hi] price range.
func (c *Curve) Domain() (lo, hi float64) { return c.lo, c.hi }

func (c *Curve) nearestBucket(price float64) Bucket {
	best := c.knots[0]
	bestDist := math.Abs(price - best.Price)
	for _, b := range c.knots[1:] {
		if d := math.Abs(price - b.Price); d < bestDist {
			best, bestDist = b, d
		}
	}
	return best
}

func bandLabel(n float64) string {
	switch {
	case n >= bandHighN:
		return "high"
	case n >= bandMediumN:
		return "medium"
	default:
		return "low"
	}
}

// pava is the pool-adjacent-violators algorithm: the weighted isotonic
// (non-decreasing) regression of ys.
func pava(ys, ws []float64) []float64 {
	type block struct {
		sum, weight float64
		count       int
	}
	var blocks []block
	for i := range ys {
		blocks = append(blocks, block{sum: ys[i] * ws[i], weight: ws[i], count: 1})
		for len(blocks) > 1 {
			last := len(blocks) - 1
			if blocks[last-1].sum/blocks[last-1].weight <= blocks[last].sum/blocks[last].weight {
				break
			}
			blocks[last-1].sum += blocks[last].sum
			blocks[last-1].weight += blocks[last].weight
			blocks[last-1].count += blocks[last].count
			blocks = blocks[:last]
		}
	}
	out := make([]float64, 0, len(ys))
	for _, b := range blocks {
		mean := b.sum / b.weight
		for i := 0; i < b.count; i++ {
			out = append(out, mean)
		}
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

var (
	defaultOnce  sync.Once
	defaultCurve *Curve
	defaultErr   error
)

// Default returns the process-wide curve built from the embedded artifact
// at 0.90 confidence, fitted once.
func Default() (*Curve, error) {
	defaultOnce.Do(func() {
		defaultCurve, defaultErr = Fit(defaultArtifact, 0.90)
	})
	return defaultCurve, defaultErr
}

// defaultArtifact aggregates historical NBA moneyline outcomes bucketed by
// closing price. Favorites are slightly underpriced through the middle of
// the range, the edge the whole strategy is built on.
var defaultArtifact = Artifact{
	PriceLo: 0.15,
	PriceHi: 0.99,
	Buckets: []Bucket{
		{Price: 0.15, Wins: 23, N: 128},
		{Price: 0.20, Wins: 39, N: 164},
		{Price: 0.25, Wins: 58, N: 201},
		{Price: 0.30, Wins: 83, N: 244},
		{Price: 0.35, Wins: 112, N: 283},
		{Price: 0.40, Wins: 141, N: 312},
		{Price: 0.45, Wins: 163, N: 330},
		{Price: 0.50, Wins: 178, N: 341},
		{Price: 0.55, Wins: 199, N: 336},
		{Price: 0.60, Wins: 209, N: 321},
		{Price: 0.65, Wins: 212, N: 301},
		{Price: 0.70, Wins: 207, N: 274},
		{Price: 0.75, Wins: 192, N: 241},
		{Price: 0.80, Wins: 172, N: 204},
		{Price: 0.85, Wins: 148, N: 166},
		{Price: 0.90, Wins: 120, N: 129},
		{Price: 0.95, Wins: 82, N: 86},
		{Price: 0.99, Wins: 41, N: 42},
	},
}
