package sizing

import (
	"testing"

	"github.com/alejandrodnm/courtbot/internal/calibration"
	"github.com/alejandrodnm/courtbot/internal/domain"
	"github.com/stretchr/testify/assert"
)

func params() Params {
	return Params{
		FractionalKelly:  0.25,
		MaxPositionUSD:   100,
		CapitalRiskPct:   0.25,
		LiquidityFillPct: 0.25,
		MaxSpreadPct:     0.10,
		MinOrderUSD:      1,
	}
}

func deepBook(ask float64) LiquiditySnapshot {
	return LiquiditySnapshot{
		BestBid:       ask - 0.01,
		BestAsk:       ask,
		Spread:        0.01,
		SpreadPct:     0.01 / ask,
		AskDepth5cUSD: 500,
	}
}

func TestComputeSize_KellyThenAbsoluteCap(t *testing.T) {
	// lb=0.70 at ask 0.40: f = 0.30/0.60 = 0.5, m = 0.70/0.75 ≈ 0.933,
	// raw = 1000 · 0.25 · 0.5 · 0.933 ≈ 116.7 → capped at max_position 100.
	est := calibration.Estimate{Point: 0.75, Lower: 0.70}
	res := ComputeSize(1000, 0.40, est, deepBook(0.40), 1.0, params())

	assert.False(t, res.Skip)
	assert.InDelta(t, 0.5, res.KellyFraction, 1e-9)
	assert.InDelta(t, 0.70/0.75, res.ConfidenceMult, 1e-9)
	assert.InDelta(t, 100, res.SizeUSD, 0.01)
	assert.Equal(t, "max_position", res.Binding)
	assert.InDelta(t, 250, res.Shares, 1)
}

func TestComputeSize_NoEdgeAtLowerBound(t *testing.T) {
	// Point estimate above the ask but the lower bound is not: skip.
	est := calibration.Estimate{Point: 0.45, Lower: 0.38}
	res := ComputeSize(1000, 0.40, est, deepBook(0.40), 1.0, params())

	assert.True(t, res.Skip)
	assert.Equal(t, "no_edge", res.Reason)
	assert.Negative(t, res.EVPerDollar)
}

func TestComputeSize_ZeroEstimateOutsideDomain(t *testing.T) {
	res := ComputeSize(1000, 0.40, calibration.Estimate{}, deepBook(0.40), 1.0, params())
	assert.True(t, res.Skip)
	assert.Equal(t, "no_edge", res.Reason)
}

func TestComputeSize_AskAtOne(t *testing.T) {
	est := calibration.Estimate{Point: 0.99, Lower: 0.98}
	res := ComputeSize(1000, 1.0, est, deepBook(0.99), 1.0, params())
	assert.True(t, res.Skip)
	assert.Equal(t, "price_out_of_range", res.Reason)
}

func TestComputeSize_EmptyBook(t *testing.T) {
	est := calibration.Estimate{Point: 0.75, Lower: 0.70}
	liq := deepBook(0.40)
	liq.AskDepth5cUSD = 0
	res := ComputeSize(1000, 0.40, est, liq, 1.0, params())
	assert.True(t, res.Skip)
	assert.Equal(t, "no_liquidity", res.Reason)
}

func TestComputeSize_SpreadGuard(t *testing.T) {
	est := calibration.Estimate{Point: 0.75, Lower: 0.70}
	liq := LiquiditySnapshot{
		BestBid: 0.30, BestAsk: 0.40,
		Spread: 0.10, SpreadPct: 0.25,
		AskDepth5cUSD: 500,
	}
	res := ComputeSize(1000, 0.40, est, liq, 1.0, params())
	assert.True(t, res.Skip)
	assert.Equal(t, "spread_too_wide", res.Reason)
}

func TestComputeSize_WideButPassingSpreadHalvesDepth(t *testing.T) {
	est := calibration.Estimate{Point: 0.75, Lower: 0.70}
	liq := LiquiditySnapshot{
		BestBid: 0.365, BestAsk: 0.40,
		Spread: 0.035, SpreadPct: 0.0875, // above 75% of the 10% guard
		AskDepth5cUSD: 500,
	}
	res := ComputeSize(1000, 0.40, est, liq, 1.0, params())
	assert.False(t, res.Skip)
	assert.True(t, res.Wait)
	// depth cap halves: 500 · 0.25 / 2 = 62.5 < the 100 absolute cap.
	assert.InDelta(t, 62.5, res.SizeUSD, 0.01)
	assert.Equal(t, "liquidity", res.Binding)
}

func TestComputeSize_RiskMultiplierScales(t *testing.T) {
	est := calibration.Estimate{Point: 0.75, Lower: 0.70}

	full := ComputeSize(1000, 0.40, est, deepBook(0.40), 1.0, params())
	half := ComputeSize(1000, 0.40, est, deepBook(0.40), 0.5, params())
	blocked := ComputeSize(1000, 0.40, est, deepBook(0.40), 0, params())

	assert.InDelta(t, 100, full.SizeUSD, 0.01)  // 116.7 capped
	assert.InDelta(t, 58.33, half.SizeUSD, 0.01) // no cap binds
	assert.True(t, blocked.Skip)
	assert.Equal(t, "risk_blocked", blocked.Reason)
}

func TestTargetOrderSize_Rebalance(t *testing.T) {
	// B=100, C=40, S=100, p=0.30, 3 entries left, cap_mult 2:
	// V=30, gap=70, remaining=60, cap=(60/3)·2=40 → order=40.
	order, outcome := TargetOrderSize(100, 40, 100, 0.30, 3, 2.0, 1)
	assert.Equal(t, DCAOrder, outcome)
	assert.InDelta(t, 40, order, 1e-9)
}

func TestTargetOrderSize_TargetReached(t *testing.T) {
	// Holding already worth the budget at mark: gap ≈ 0.
	order, outcome := TargetOrderSize(100, 80, 250, 0.40, 2, 2.0, 1)
	assert.Zero(t, order)
	assert.Equal(t, DCATargetReached, outcome)
}

func TestTargetOrderSize_BudgetExhausted(t *testing.T) {
	// Price collapsed: a large gap remains but the budget is spent.
	order, outcome := TargetOrderSize(100, 99.5, 240, 0.20, 1, 2.0, 1)
	assert.Zero(t, order)
	assert.Equal(t, DCABudgetExhausted, outcome)
}

func TestSnapshot_FromOrderBook(t *testing.T) {
	ob := domain.OrderBook{
		Bids: []domain.BookEntry{{Price: 0.39, Size: 100}},
		Asks: []domain.BookEntry{
			{Price: 0.40, Size: 500},  // $200 within 5c
			{Price: 0.44, Size: 250},  // $110 within 5c
			{Price: 0.50, Size: 1000}, // outside the window
		},
	}
	liq := Snapshot(ob)
	assert.InDelta(t, 0.40, liq.BestAsk, 1e-9)
	assert.InDelta(t, 0.01, liq.Spread, 1e-9)
	assert.InDelta(t, 310, liq.AskDepth5cUSD, 1e-9)
	assert.Equal(t, "thin", liq.Score())
}
