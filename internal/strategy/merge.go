package strategy

// Merge economics: pure predicates and arithmetic deciding when matched
// opposing share pairs should be redeemed back to collateral. One pair of
// opposing shares always redeems for exactly $1; the profit is
// 1 − combined_vwap per pair, minus gas.

import (
	"math"

	"github.com/alejandrodnm/courtbot/internal/domain"
)

// MergeParams are the gating tunables.
type MergeParams struct {
	Enabled        bool
	MinProfitUSD   float64
	MinSharesFloor float64
	GasUSD         float64
	Wallet         domain.WalletKind
}

// Decision is the outcome of evaluating a pair for merging.
type Decision struct {
	OK               bool
	Reason           string // set when !OK
	Shares           float64
	CombinedVWAP     float64
	MinMargin        float64
	RecoveryPerShare float64
	RecoveryUSD      float64
	NetProfitUSD     float64
}

// MergeableShares is the matched amount: only complete opposing pairs can
// be redeemed.
func MergeableShares(dirFilled, hedgeFilled float64) float64 {
	return math.Min(math.Max(0, dirFilled), math.Max(0, hedgeFilled))
}

// CombinedVWAP is the total cost of one opposing pair. Below 1, merging
// the pair is structurally profitable.
func CombinedVWAP(dirVWAP, hedgeVWAP float64) float64 {
	return dirVWAP + hedgeVWAP
}

// MinMargin is the per-share profit floor: the larger of the configured
// minimum profit and the estimated gas, spread over the shares. Small
// positions are floored so gas never silently eats the recovery.
func MinMargin(minProfitUSD, gasUSD, shares, floor float64) float64 {
	denom := math.Max(shares, floor)
	if denom <= 0 {
		return math.Inf(1)
	}
	return math.Max(minProfitUSD/denom, gasUSD/denom)
}

// Evaluate runs the full merge gate for a filled pair.
func Evaluate(dirVWAP, hedgeVWAP, dirFilled, hedgeFilled float64, p MergeParams) Decision {
	if !p.Enabled {
		return Decision{Reason: "merge_disabled"}
	}
	if !p.Wallet.SupportsMerge() {
		return Decision{Reason: "unsupported_wallet"}
	}

	shares := MergeableShares(dirFilled, hedgeFilled)
	if shares <= 0 {
		return Decision{Reason: "no_matched_shares"}
	}

	combined := CombinedVWAP(dirVWAP, hedgeVWAP)
	if combined <= 0 || combined > 2 {
		return Decision{Reason: "bad_vwap", CombinedVWAP: combined}
	}

	margin := MinMargin(p.MinProfitUSD, p.GasUSD, shares, p.MinSharesFloor)
	perShare := 1 - combined
	if perShare-margin <= 0 {
		return Decision{
			Reason:       "unprofitable",
			Shares:       shares,
			CombinedVWAP: combined,
			MinMargin:    margin,
		}
	}

	recovery := shares * perShare
	return Decision{
		OK:               true,
		Shares:           shares,
		CombinedVWAP:     combined,
		MinMargin:        margin,
		RecoveryPerShare: perShare,
		RecoveryUSD:      recovery,
		NetProfitUSD:     recovery - p.GasUSD,
	}
}

// MaxHedgePrice is the highest hedge entry price that keeps the pair
// mergeable at the margin floor, given the directional leg's cost.
func MaxHedgePrice(dirVWAP, minMargin float64) float64 {
	return 1 - dirVWAP - minMargin
}
