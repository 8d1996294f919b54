package domain

import "time"

// OrderStatus is the lifecycle of a placed limit order.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderPlaced    OrderStatus = "placed"
	OrderPartial   OrderStatus = "partially_filled"
	OrderFilled    OrderStatus = "filled"
	OrderCancelled OrderStatus = "cancelled"
	OrderExpired   OrderStatus = "expired"
	OrderPaper     OrderStatus = "paper" // simulated fill, no real order
)

// orderRank orders statuses so that transitions never regress.
// paper is terminal from the start; cancelled/expired are terminal.
var orderRank = map[OrderStatus]int{
	OrderPending:   0,
	OrderPlaced:    1,
	OrderPartial:   2,
	OrderFilled:    3,
	OrderCancelled: 3,
	OrderExpired:   3,
	OrderPaper:     3,
}

// CanAdvance reports whether an order status change is monotone.
// Same-rank sideways moves (partial → cancelled) are allowed; any move
// that would lower the rank is not.
func (s OrderStatus) CanAdvance(to OrderStatus) bool {
	if s == OrderFilled || s == OrderCancelled || s == OrderExpired || s == OrderPaper {
		return false
	}
	return orderRank[to] >= orderRank[s]
}

// HasInventory reports whether the status represents real (or simulated) fills.
func (s OrderStatus) HasInventory() bool {
	return s == OrderFilled || s == OrderPartial || s == OrderPaper
}

// SignalRole mirrors JobSide at the signal level.
type SignalRole string

const (
	RoleDirectional SignalRole = "directional"
	RoleHedge       SignalRole = "hedge"
)

// Signal is one placed order intent. A DCA group produces one signal per
// entry, all sharing dca_group_id; the pair's hedge shares bothside_group_id.
type Signal struct {
	ID              int64
	JobID           int64
	EventSlug       string
	Team            string
	TokenID         string
	ConditionID     string
	Side            string // always "BUY"
	LimitPrice      float64
	SizeUSD         float64 // requested, not filled
	Shares          float64 // filled shares
	VWAP            float64 // cost-weighted mean within the dca group, to date
	OrderID         string
	OrderStatus     OrderStatus
	OrderPlacedAt   time.Time
	NegRisk         bool // market lives on the neg-risk exchange; orders sign against it
	OriginalPrice   float64
	ReplaceCount    int
	FeeRateBps      float64
	FeeUSD          float64
	SharesMerged    float64
	MergeRecoveryUSD float64
	Role            SignalRole
	DCAGroupID      string
	DCASequence     int
	BothsideGroupID string
	CalibrationPoint float64
	CalibrationLower float64
	CalibrationBand  string
	EdgePct          float64
	InSweetSpot      bool // diagnostic only, sizing no longer uses it
	CreatedAt        time.Time
}

// Cost returns the realized cost basis of the signal's fills.
func (s Signal) Cost() float64 { return s.Shares * s.VWAP }

// RemainingShares returns fills not yet consumed by a merge.
func (s Signal) RemainingShares() float64 {
	r := s.Shares - s.SharesMerged
	if r < 0 {
		return 0
	}
	return r
}

// Fill is a (price, shares) execution used by the VWAP helper.
type Fill struct {
	Price  float64
	Shares float64
}

// VWAP computes the cost-weighted mean price of a fill sequence.
// Returns 0 for an empty or zero-share sequence.
func VWAP(fills []Fill) float64 {
	var cost, shares float64
	for _, f := range fills {
		cost += f.Price * f.Shares
		shares += f.Shares
	}
	if shares == 0 {
		return 0
	}
	return cost / shares
}

// OrderEventType labels entries of the append-only order event log.
type OrderEventType string

const (
	EventPlaced    OrderEventType = "placed"
	EventFilled    OrderEventType = "filled"
	EventPartial   OrderEventType = "partially_filled"
	EventCancelled OrderEventType = "cancelled"
	EventReplaced  OrderEventType = "replaced"
	EventExpired   OrderEventType = "expired"
)

// OrderEvent is one lifecycle transition of a signal's order. Never mutated.
type OrderEvent struct {
	ID        int64
	SignalID  int64
	Type      OrderEventType
	OldPrice  float64
	NewPrice  float64
	Detail    string
	CreatedAt time.Time
}

// Result is the settled outcome of one signal.
type Result struct {
	ID              int64
	SignalID        int64
	EventSlug       string
	Won             bool
	PnLUSD          float64
	SettlementPrice float64
	ScoreHome       int
	ScoreAway       int
	Note            string // "overtime", "market_fallback", ...
	SettledAt       time.Time
}
