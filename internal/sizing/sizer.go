package sizing

// Position sizing: fractional Kelly at the calibration lower bound, scaled
// by a continuous confidence multiplier, constrained by capital, absolute
// and liquidity caps. The uncertainty-scaled sizing replaced the legacy
// hard sweet-spot cutoff.

import (
	"math"

	"github.com/alejandrodnm/courtbot/internal/calibration"
)

// Params are the sizing tunables, copied from config per call so the sizer
// stays a pure function.
type Params struct {
	FractionalKelly  float64
	MaxPositionUSD   float64
	CapitalRiskPct   float64
	LiquidityFillPct float64
	MaxSpreadPct     float64
	MinOrderUSD      float64
}

// Result is a sized order plus the diagnostic record of how it got there.
type Result struct {
	SizeUSD        float64
	Shares         float64
	Skip           bool
	Reason         string // set when Skip
	Binding        string // which cap bound the size: kelly | capital | max_position | liquidity
	EVPerDollar    float64
	KellyFraction  float64
	ConfidenceMult float64
	Wait           bool // wide spread: sized at reduced depth, prefer waiting
}

// ComputeSize runs the full sizing pipeline for an initial entry.
// riskMult is the risk engine's sizing multiplier (0 blocks the trade).
func ComputeSize(bankroll, ask float64, est calibration.Estimate, liq LiquiditySnapshot, riskMult float64, p Params) Result {
	if ask <= 0 || ask >= 1 {
		return Result{Skip: true, Reason: "price_out_of_range"}
	}
	if riskMult <= 0 {
		return Result{Skip: true, Reason: "risk_blocked"}
	}

	// Expected value per dollar at the lower-bound win rate. No positive
	// EV at the conservative estimate means no trade.
	ev := est.Lower/ask - 1
	if ev <= 0 {
		return Result{Skip: true, Reason: "no_edge", EVPerDollar: ev}
	}

	// Kelly fraction for a binary payout, evaluated at the lower bound:
	// f = (p(1−a) − (1−p)a) / (1−a) = (p − a) / (1 − a).
	f := (est.Lower - ask) / (1 - ask)
	f = math.Max(0, math.Min(1, f))
	if f == 0 {
		return Result{Skip: true, Reason: "no_edge", EVPerDollar: ev}
	}

	// Continuous confidence scale: a wide posterior (lower far from point)
	// halves the size at most.
	mult := 1.0
	if est.Point > 0 {
		mult = clamp(est.Lower/est.Point, 0.5, 1.0)
	}

	if liq.SpreadPct > p.MaxSpreadPct {
		return Result{Skip: true, Reason: "spread_too_wide", EVPerDollar: ev, KellyFraction: f, ConfidenceMult: mult}
	}
	if liq.AskDepth5cUSD <= 0 {
		return Result{Skip: true, Reason: "no_liquidity", EVPerDollar: ev, KellyFraction: f, ConfidenceMult: mult}
	}

	size := bankroll * p.FractionalKelly * f * mult * riskMult
	binding := "kelly"

	if cap := bankroll * p.CapitalRiskPct; size > cap {
		size = cap
		binding = "capital"
	}
	if size > p.MaxPositionUSD {
		size = p.MaxPositionUSD
		binding = "max_position"
	}

	// Near the spread guard the top of book is unreliable; only take half
	// of the visible depth and flag the order as one to be patient with.
	wait := false
	depthCap := liq.AskDepth5cUSD * p.LiquidityFillPct
	if liq.SpreadPct > 0.75*p.MaxSpreadPct {
		depthCap /= 2
		wait = true
	}
	if size > depthCap {
		size = depthCap
		binding = "liquidity"
	}

	if size < p.MinOrderUSD {
		return Result{Skip: true, Reason: "below_min_order", EVPerDollar: ev, KellyFraction: f, ConfidenceMult: mult}
	}

	return Result{
		SizeUSD:        round2(size),
		Shares:         size / ask,
		Binding:        binding,
		EVPerDollar:    ev,
		KellyFraction:  f,
		ConfidenceMult: mult,
		Wait:           wait,
	}
}

// DCAOutcome reports why a target-holding computation stopped.
type DCAOutcome string

const (
	DCAOrder           DCAOutcome = "order"
	DCATargetReached   DCAOutcome = "target_reached"
	DCABudgetExhausted DCAOutcome = "budget_exhausted"
)

// TargetOrderSize computes a follow-on DCA entry that rebalances the group
// toward holding its full budget at mark-to-market:
//
//	gap    = budget − shares·price  (how far the holding is below target)
//	remain = budget − cost          (what is left to spend)
//	cap    = remain/entries_left · capMult (no single entry takes it all)
//
// The order is the minimum of the three. Below minOrder the group is done:
// target_reached when the gap closed, budget_exhausted when the money ran out.
func TargetOrderSize(budget, totalCost, totalShares, price float64, entriesLeft int, capMult, minOrder float64) (float64, DCAOutcome) {
	value := totalShares * price
	gap := math.Max(0, budget-value)
	remaining := budget - totalCost

	k := math.Max(1, float64(entriesLeft))
	cap := (remaining / k) * capMult
	order := math.Min(gap, math.Min(remaining, cap))
	if order >= minOrder {
		return round2(order), DCAOrder
	}

	if gap < minOrder {
		return 0, DCATargetReached
	}
	return 0, DCABudgetExhausted
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
