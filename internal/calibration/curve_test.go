package calibration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCurve_OutsideDomainHasNoEdge(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	for _, price := range []float64{0.01, 0.10, 0.1499, 0.991, 1.0} {
		est := c.Estimate(price)
		assert.Zero(t, est.Point, "price %v", price)
		assert.Zero(t, est.Lower, "price %v", price)
		assert.False(t, est.HasEdge())
	}

	// The boundaries themselves are inside the domain.
	assert.True(t, c.Estimate(0.15).Point > 0)
	assert.True(t, c.Estimate(0.99).Point > 0)
}

func TestCurve_PointIsMonotone(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	prev := -1.0
	for price := 0.15; price <= 0.99; price += 0.005 {
		est := c.Estimate(price)
		assert.GreaterOrEqual(t, est.Point+1e-9, prev, "point estimate regressed at %v", price)
		prev = est.Point
	}
}

func TestCurve_LowerBoundBelowPoint(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	for price := 0.15; price <= 0.99; price += 0.01 {
		est := c.Estimate(price)
		assert.LessOrEqual(t, est.Lower, est.Point+1e-9, "at %v", price)
		assert.GreaterOrEqual(t, est.Lower, 0.0)
	}
}

func TestCurve_HigherConfidenceTightensLowerBound(t *testing.T) {
	loose, err := Fit(defaultArtifact, 0.80)
	require.NoError(t, err)
	tight, err := Fit(defaultArtifact, 0.99)
	require.NoError(t, err)

	for _, price := range []float64{0.30, 0.50, 0.70} {
		assert.Less(t, tight.Estimate(price).Lower, loose.Estimate(price).Lower,
			"99%% confidence must give a lower bound below 80%% at %v", price)
	}
}

func TestCurve_BandLabels(t *testing.T) {
	c, err := Fit(Artifact{
		PriceLo: 0.2,
		PriceHi: 0.8,
		Buckets: []Bucket{
			{Price: 0.2, Wins: 5, N: 20},    // low
			{Price: 0.5, Wins: 30, N: 60},   // medium
			{Price: 0.8, Wins: 110, N: 130}, // high
		},
	}, 0.90)
	require.NoError(t, err)

	assert.Equal(t, "low", c.Estimate(0.2).Band)
	assert.Equal(t, "medium", c.Estimate(0.5).Band)
	assert.Equal(t, "high", c.Estimate(0.8).Band)
}

func TestFit_RejectsBadArtifacts(t *testing.T) {
	_, err := Fit(Artifact{Buckets: []Bucket{{Price: 0.5, Wins: 1, N: 2}}}, 0.9)
	assert.Error(t, err, "single bucket")

	_, err = Fit(Artifact{Buckets: []Bucket{
		{Price: 0.5, Wins: 1, N: 2},
		{Price: 0.4, Wins: 1, N: 2},
	}}, 0.9)
	assert.Error(t, err, "non-increasing prices")

	_, err = Fit(Artifact{Buckets: []Bucket{
		{Price: 0.4, Wins: 3, N: 2},
		{Price: 0.5, Wins: 1, N: 2},
	}}, 0.9)
	assert.Error(t, err, "wins > n")
}

func TestPAVA_PoolsViolators(t *testing.T) {
	// The dip at index 1 gets pooled with its neighbor.
	out := pava([]float64{0.3, 0.2, 0.5}, []float64{1, 1, 1})
	assert.InDelta(t, 0.25, out[0], 1e-9)
	assert.InDelta(t, 0.25, out[1], 1e-9)
	assert.InDelta(t, 0.5, out[2], 1e-9)
}

func TestBetaQuantile_KnownValues(t *testing.T) {
	// Beta(1,1) is uniform: quantile q is q itself.
	assert.InDelta(t, 0.10, betaQuantile(1, 1, 0.10), 1e-6)
	assert.InDelta(t, 0.75, betaQuantile(1, 1, 0.75), 1e-6)

	// Symmetric Beta(50,50): median is 0.5 and the 10% quantile sits below.
	assert.InDelta(t, 0.5, betaQuantile(50, 50, 0.5), 1e-4)
	q10 := betaQuantile(50, 50, 0.10)
	assert.Less(t, q10, 0.5)
	assert.Greater(t, q10, 0.40)

	// More data shrinks the posterior: lower bound approaches the rate.
	small := betaQuantile(8, 4, 0.10)   // 7/10 wins
	large := betaQuantile(701, 301, 0.10) // 700/1000 wins
	assert.Less(t, small, large)
	assert.InDelta(t, 0.7, large, 0.03)
}
