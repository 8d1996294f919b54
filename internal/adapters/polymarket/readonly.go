package polymarket

import (
	"context"
	"errors"

	"github.com/alejandrodnm/courtbot/internal/domain"
)

// ErrReadOnly se devuelve cuando un modo sin firma intenta operar.
var ErrReadOnly = errors.New("polymarket: read-only client cannot trade")

// ReadOnly implementa ports.MarketClient sobre los endpoints públicos.
// Paper y dry-run solo leen; cualquier escritura es un bug del caller.
type ReadOnly struct {
	*Client
}

func NewReadOnly(clobBase, gammaBase string) *ReadOnly {
	return &ReadOnly{Client: NewClient(clobBase, gammaBase)}
}

func (r *ReadOnly) PlaceLimitBuy(context.Context, domain.PlaceOrderRequest) (domain.PlacedOrder, error) {
	return domain.PlacedOrder{}, ErrReadOnly
}

func (r *ReadOnly) CancelOrder(context.Context, string) (bool, error) {
	return false, ErrReadOnly
}

func (r *ReadOnly) GetOrder(context.Context, string) (domain.OrderState, error) {
	return domain.OrderState{}, ErrReadOnly
}

func (r *ReadOnly) CancelAndReplace(context.Context, string, domain.PlaceOrderRequest) (domain.PlacedOrder, error) {
	return domain.PlacedOrder{}, ErrReadOnly
}

func (r *ReadOnly) GetBalanceUSD(context.Context) (float64, error) {
	return 0, ErrReadOnly
}
