package strategy

import (
	"testing"
	"time"

	"github.com/alejandrodnm/courtbot/internal/domain"
	"github.com/stretchr/testify/assert"
)

func mergeParams() MergeParams {
	return MergeParams{
		Enabled:        true,
		MinProfitUSD:   0.10,
		MinSharesFloor: 10,
		GasUSD:         0.05,
		Wallet:         domain.WalletEOA,
	}
}

func TestEvaluate_ProfitablePair(t *testing.T) {
	// 100 shares each side at 0.42 + 0.55 = 0.97 combined.
	// margin = max(0.10/100, 0.05/100) = 0.001; 1 − 0.97 − 0.001 > 0.
	d := Evaluate(0.42, 0.55, 100, 100, mergeParams())

	assert.True(t, d.OK)
	assert.InDelta(t, 100, d.Shares, 1e-9)
	assert.InDelta(t, 0.97, d.CombinedVWAP, 1e-9)
	assert.InDelta(t, 0.001, d.MinMargin, 1e-9)
	assert.InDelta(t, 0.03, d.RecoveryPerShare, 1e-9)
	assert.InDelta(t, 3.00, d.RecoveryUSD, 1e-9)
	assert.InDelta(t, 2.95, d.NetProfitUSD, 1e-9)
}

func TestEvaluate_UnprofitableCombined(t *testing.T) {
	d := Evaluate(0.48, 0.54, 100, 100, mergeParams())
	assert.False(t, d.OK)
	assert.Equal(t, "unprofitable", d.Reason)
	assert.InDelta(t, 1.02, d.CombinedVWAP, 1e-9)
}

func TestEvaluate_MarginEatsThinEdge(t *testing.T) {
	// Combined 0.995 leaves 0.005/share, but 5 shares floored at 10 gives
	// margin 0.10/10 = 0.01 > 0.005.
	d := Evaluate(0.45, 0.545, 5, 5, mergeParams())
	assert.False(t, d.OK)
	assert.Equal(t, "unprofitable", d.Reason)
}

func TestEvaluate_PartialFillsMatchMinimum(t *testing.T) {
	d := Evaluate(0.42, 0.55, 120, 75, mergeParams())
	assert.True(t, d.OK)
	assert.InDelta(t, 75, d.Shares, 1e-9, "only complete pairs redeem")
}

func TestEvaluate_Gates(t *testing.T) {
	p := mergeParams()
	p.Enabled = false
	assert.Equal(t, "merge_disabled", Evaluate(0.42, 0.55, 100, 100, p).Reason)

	p = mergeParams()
	p.Wallet = domain.WalletKind("multisig")
	assert.Equal(t, "unsupported_wallet", Evaluate(0.42, 0.55, 100, 100, p).Reason)

	assert.Equal(t, "no_matched_shares", Evaluate(0.42, 0.55, 100, 0, mergeParams()).Reason)
}

func TestMaxHedgePrice(t *testing.T) {
	// Directional at 0.42 with a 0.001 margin leaves 0.579 for the hedge.
	assert.InDelta(t, 0.579, MaxHedgePrice(0.42, 0.001), 1e-9)
	// An expensive directional can push the ceiling below zero.
	assert.Negative(t, MaxHedgePrice(0.995, 0.01))
}

func dcaParams() DCAParams {
	return DCAParams{
		MaxEntries:     5,
		MinInterval:    30 * time.Minute,
		Cutoff:         30 * time.Minute,
		MaxPriceSpread: 0.15,
		MinPriceDipPct: 0.05,
		DeferRisePct:   0.10,
	}
}

func TestShouldAddEntry_MaxReached(t *testing.T) {
	now := time.Now()
	d := ShouldAddEntry(now, now.Add(-2*time.Hour), now.Add(-time.Hour), now.Add(3*time.Hour),
		5, 0.40, 0.40, 0.40, dcaParams())
	assert.True(t, d.Done)
	assert.Equal(t, "max_reached", d.Reason)
}

func TestShouldAddEntry_WindowClosed(t *testing.T) {
	now := time.Now()
	// 20 minutes to tipoff is inside the 30-minute cutoff.
	d := ShouldAddEntry(now, now.Add(-2*time.Hour), now.Add(-time.Hour), now.Add(20*time.Minute),
		2, 0.40, 0.40, 0.40, dcaParams())
	assert.True(t, d.Done)
	assert.Equal(t, "window_closed", d.Reason)
}

func TestShouldAddEntry_DriftGuard(t *testing.T) {
	now := time.Now()
	d := ShouldAddEntry(now, now.Add(-2*time.Hour), now.Add(-time.Hour), now.Add(3*time.Hour),
		2, 0.60, 0.40, 0.42, dcaParams())
	assert.True(t, d.Done)
	assert.Equal(t, "price_spread_exceeded", d.Reason)
}

func TestShouldAddEntry_FavorablePriceBeatsSchedule(t *testing.T) {
	now := time.Now()
	// Price 10% under group vwap, last entry 45 minutes ago.
	d := ShouldAddEntry(now, now.Add(-time.Hour), now.Add(-45*time.Minute), now.Add(6*time.Hour),
		2, 0.36, 0.40, 0.40, dcaParams())
	assert.True(t, d.Add)
	assert.Equal(t, "favorable_price", d.Reason)
}

func TestShouldAddEntry_FavorableButTooSoon(t *testing.T) {
	now := time.Now()
	d := ShouldAddEntry(now, now.Add(-time.Hour), now.Add(-10*time.Minute), now.Add(6*time.Hour),
		2, 0.36, 0.40, 0.40, dcaParams())
	assert.False(t, d.Add)
	assert.Equal(t, "too_soon", d.Reason)
}

func TestShouldAddEntry_UnfavorableDefers(t *testing.T) {
	now := time.Now()
	// +12% over the first entry but inside the 15% drift guard.
	d := ShouldAddEntry(now, now.Add(-3*time.Hour), now.Add(-2*time.Hour), now.Add(2*time.Hour),
		2, 0.448, 0.40, 0.41, dcaParams())
	assert.False(t, d.Add)
	assert.Equal(t, "deferred", d.Reason)
}

func TestShouldAddEntry_ScheduledSlice(t *testing.T) {
	now := time.Now()
	first := now.Add(-4 * time.Hour)
	tipoff := now.Add(30 * time.Minute + 4*time.Hour) // window end 4h out, span 8h
	// entry 2 due at first + 2/4 of the span = now: due.
	d := ShouldAddEntry(now, first, now.Add(-time.Hour), tipoff,
		2, 0.40, 0.40, 0.40, dcaParams())
	assert.True(t, d.Add)
	assert.Equal(t, "scheduled", d.Reason)

	// entry 3 due at first + 3/4 of the span = +2h: not yet.
	d = ShouldAddEntry(now, first, now.Add(-time.Hour), tipoff,
		3, 0.40, 0.40, 0.40, dcaParams())
	assert.False(t, d.Add)
	assert.Equal(t, "slice_not_due", d.Reason)
}
