package polymarket

// clob.go — lecturas del CLOB API (books y quotes).
//
// Usamos el endpoint batch POST /books incluso para un solo token: mismo
// formato de respuesta y un solo camino de mapeo.

import (
	"context"
	"fmt"

	"github.com/alejandrodnm/courtbot/internal/domain"
)

const booksPath = "/books"

// GetOrderBook devuelve el libro agregado de un token, con niveles
// ordenados (bids mayor a menor, asks menor a mayor).
func (c *Client) GetOrderBook(ctx context.Context, tokenID string) (domain.OrderBook, error) {
	books, err := c.fetchBooksBatch(ctx, []string{tokenID})
	if err != nil {
		return domain.OrderBook{}, fmt.Errorf("clob.GetOrderBook: %w", err)
	}
	ob, ok := books[tokenID]
	if !ok {
		return domain.OrderBook{TokenID: tokenID}, nil
	}
	return ob, nil
}

// GetPrice devuelve el top-of-book de un token.
func (c *Client) GetPrice(ctx context.Context, tokenID string) (domain.PriceQuote, error) {
	ob, err := c.GetOrderBook(ctx, tokenID)
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("clob.GetPrice: %w", err)
	}
	return domain.PriceQuote{
		BestBid: ob.BestBid(),
		BestAsk: ob.BestAsk(),
		Mid:     ob.Midpoint(),
	}, nil
}

// fetchBooksBatch hace un POST /books para un batch de token_ids.
func (c *Client) fetchBooksBatch(ctx context.Context, tokenIDs []string) (map[string]domain.OrderBook, error) {
	body := make([]orderBookRequest, len(tokenIDs))
	for i, id := range tokenIDs {
		body[i] = orderBookRequest{TokenID: id}
	}

	var resp []orderBookResponse
	url := c.clobBase + booksPath
	if err := c.post(ctx, c.booksLimiter, url, body, &resp); err != nil {
		return nil, fmt.Errorf("POST /books: %w", err)
	}

	return mapOrderBooks(resp), nil
}
