package ports

import (
	"context"

	"github.com/alejandrodnm/courtbot/internal/domain"
)

// MarketClient is the full capability set against the prediction market.
// Paper mode uses only the read half; live mode uses everything.
type MarketClient interface {
	// GetMoneyline resolves an event slug to its market with both outcome
	// tokens and their top-of-book quotes.
	GetMoneyline(ctx context.Context, eventSlug string) (domain.Moneyline, error)

	// GetPrice returns the top-of-book for a single token.
	GetPrice(ctx context.Context, tokenID string) (domain.PriceQuote, error)

	// GetOrderBook returns aggregated levels, enough to compute ask depth
	// within 5 cents of best.
	GetOrderBook(ctx context.Context, tokenID string) (domain.OrderBook, error)

	// PlaceLimitBuy places a maker bid below the ask. Returns the order id.
	PlaceLimitBuy(ctx context.Context, req domain.PlaceOrderRequest) (domain.PlacedOrder, error)

	// CancelOrder cancels a resting order. A false return with nil error
	// means the order was already gone.
	CancelOrder(ctx context.Context, orderID string) (bool, error)

	// GetOrder returns the fill state of one of our orders.
	GetOrder(ctx context.Context, orderID string) (domain.OrderState, error)

	// CancelAndReplace atomically (best effort) cancels and re-places at a
	// new price. Returns the new order id.
	CancelAndReplace(ctx context.Context, orderID string, req domain.PlaceOrderRequest) (domain.PlacedOrder, error)

	// GetBalanceUSD returns the spendable collateral balance.
	GetBalanceUSD(ctx context.Context) (float64, error)
}
