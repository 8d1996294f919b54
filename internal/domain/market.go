package domain

import (
	"errors"
	"time"
)

// ErrMarketNotFound reports that the venue does not list the event (yet).
// Dispatch treats it as retryable; the job stays pending.
var ErrMarketNotFound = errors.New("market not found")

// Outcome is one side of a binary market.
type Outcome struct {
	TokenID string
	Name    string // team tricode or market outcome label
}

// MarketEvent is a discovered prediction-market event for one game.
type MarketEvent struct {
	EventSlug   string
	ConditionID string
	TipoffUTC   time.Time
	Outcomes    []Outcome
	NegRisk     bool
	Active      bool
	Closed      bool
}

// Moneyline is the tradeable view of a game market: both outcome tokens
// with their current quotes, resolved from the event slug.
type Moneyline struct {
	EventSlug   string
	ConditionID string
	NegRisk     bool
	Active      bool
	Home        OutcomeQuote
	Away        OutcomeQuote
}

// OutcomeQuote is one outcome token plus its top-of-book quote.
type OutcomeQuote struct {
	TokenID string
	Team    string
	BestBid float64
	BestAsk float64
	Mid     float64
}

// ByTeam returns the quote for the given tricode.
func (m Moneyline) ByTeam(team string) (OutcomeQuote, bool) {
	if m.Home.Team == team {
		return m.Home, true
	}
	if m.Away.Team == team {
		return m.Away, true
	}
	return OutcomeQuote{}, false
}

// Opposite returns the other side's quote.
func (m Moneyline) Opposite(team string) OutcomeQuote {
	if m.Home.Team == team {
		return m.Away
	}
	return m.Home
}

// PriceQuote is the top-of-book for a single token.
type PriceQuote struct {
	BestBid float64
	BestAsk float64
	Mid     float64
}

// OrderState is the market's view of one of our orders.
type OrderState struct {
	Status       string // LIVE | MATCHED | CANCELED | EXPIRED (CLOB vocabulary)
	FilledShares float64
	AvgPrice     float64
	FeeRateBps   float64
	FeeUSD       float64
}

// Filled reports whether the order matched completely.
func (o OrderState) Filled() bool { return o.Status == "MATCHED" }

// Live reports whether the order is still resting in the book.
func (o OrderState) Live() bool { return o.Status == "LIVE" }

// Cancelled reports a terminal unfilled state.
func (o OrderState) Cancelled() bool {
	return o.Status == "CANCELED" || o.Status == "EXPIRED"
}

// PlaceOrderRequest is sent to the CLOB order executor.
type PlaceOrderRequest struct {
	TokenID     string
	ConditionID string
	Price       float64
	SizeUSD     float64
	Side        string // "BUY" (maker bid)
	NegRisk     bool
}

// PlacedOrder is the response from the CLOB after placing an order.
type PlacedOrder struct {
	OrderID     string
	Status      string
	TakenAmount float64 // immediately filled (taker portion)
	MadeAmount  float64 // resting in book (maker portion)
}
