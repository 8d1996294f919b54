package sizing

import "github.com/alejandrodnm/courtbot/internal/domain"

// depthWindow is the band above best ask that counts as fillable depth.
const depthWindow = 0.05

// LiquiditySnapshot is the order-book view the sizer consumes.
type LiquiditySnapshot struct {
	BestBid       float64
	BestAsk       float64
	Spread        float64
	SpreadPct     float64
	AskDepth5cUSD float64
}

// Snapshot extracts the sizer's liquidity inputs from a raw book.
func Snapshot(ob domain.OrderBook) LiquiditySnapshot {
	return LiquiditySnapshot{
		BestBid:       ob.BestBid(),
		BestAsk:       ob.BestAsk(),
		Spread:        ob.Spread(),
		SpreadPct:     ob.SpreadPct(),
		AskDepth5cUSD: ob.AskDepthUSD(depthWindow),
	}
}

// Score buckets the snapshot into a coarse quality label for logging.
func (l LiquiditySnapshot) Score() string {
	switch {
	case l.AskDepth5cUSD >= 2000 && l.SpreadPct <= 0.03:
		return "deep"
	case l.AskDepth5cUSD >= 500:
		return "ok"
	case l.AskDepth5cUSD > 0:
		return "thin"
	default:
		return "empty"
	}
}
