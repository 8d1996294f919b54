package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alejandrodnm/courtbot/internal/domain"
)

const gammaMarketsPath = "/markets"

// ErrMarketNotFound se devuelve cuando Gamma no conoce el slug. El caller
// decide si reintenta en el próximo tick o marca el juego como no listado.
var ErrMarketNotFound = domain.ErrMarketNotFound

// GetMoneyline resuelve un event slug al mercado moneyline completo: ambos
// outcome tokens con sus quotes top-of-book.
func (c *Client) GetMoneyline(ctx context.Context, eventSlug string) (domain.Moneyline, error) {
	gm, err := c.fetchMarketBySlug(ctx, eventSlug)
	if err != nil {
		return domain.Moneyline{}, fmt.Errorf("gamma.GetMoneyline: %s: %w", eventSlug, err)
	}

	ml, err := mapMoneyline(eventSlug, gm)
	if err != nil {
		return domain.Moneyline{}, fmt.Errorf("gamma.GetMoneyline: %s: %w", eventSlug, err)
	}

	// Un batch de dos tokens para los quotes de ambos lados.
	books, err := c.fetchBooksBatch(ctx, []string{ml.Home.TokenID, ml.Away.TokenID})
	if err != nil {
		return domain.Moneyline{}, fmt.Errorf("gamma.GetMoneyline: books: %w", err)
	}
	applyQuote(&ml.Home, books)
	applyQuote(&ml.Away, books)

	slog.Debug("moneyline resolved",
		"slug", eventSlug,
		"condition_id", gm.ConditionID,
		"home_ask", ml.Home.BestAsk,
		"away_ask", ml.Away.BestAsk,
	)
	return ml, nil
}

// fetchMarketBySlug busca el mercado en Gamma por su slug exacto.
func (c *Client) fetchMarketBySlug(ctx context.Context, slug string) (gammaMarket, error) {
	url := fmt.Sprintf("%s%s?slug=%s", c.gammaBase, gammaMarketsPath, slug)

	var resp gammaMarketsResponse
	if err := c.get(ctx, c.gammaLimiter, url, &resp); err != nil {
		return gammaMarket{}, err
	}
	if len(resp) == 0 {
		return gammaMarket{}, ErrMarketNotFound
	}
	return resp[0], nil
}

// mapMoneyline convierte el DTO de Gamma a domain.Moneyline, emparejando
// los outcome labels con los tricodes del slug.
func mapMoneyline(eventSlug string, gm gammaMarket) (domain.Moneyline, error) {
	away, home, _, err := domain.ParseEventSlug(eventSlug)
	if err != nil {
		return domain.Moneyline{}, err
	}
	away, home = strings.ToUpper(away), strings.ToUpper(home)

	var tokenIDs, outcomes []string
	if err := json.Unmarshal([]byte(gm.ClobTokenIDs), &tokenIDs); err != nil {
		return domain.Moneyline{}, fmt.Errorf("parse clobTokenIds: %w", err)
	}
	if err := json.Unmarshal([]byte(gm.Outcomes), &outcomes); err != nil {
		return domain.Moneyline{}, fmt.Errorf("parse outcomes: %w", err)
	}
	if len(tokenIDs) != 2 || len(outcomes) != 2 {
		return domain.Moneyline{}, fmt.Errorf("expected binary market, got %d outcomes", len(outcomes))
	}

	ml := domain.Moneyline{
		EventSlug:   eventSlug,
		ConditionID: gm.ConditionID,
		NegRisk:     gm.NegRisk,
		Active:      gm.Active && !gm.Closed,
	}
	for i, label := range outcomes {
		code, ok := domain.TricodeForOutcome(label)
		if !ok {
			return domain.Moneyline{}, fmt.Errorf("unknown outcome %q", label)
		}
		q := domain.OutcomeQuote{TokenID: tokenIDs[i], Team: code}
		switch code {
		case home:
			ml.Home = q
		case away:
			ml.Away = q
		default:
			return domain.Moneyline{}, fmt.Errorf("outcome %q does not match slug teams %s/%s", label, away, home)
		}
	}
	if ml.Home.TokenID == "" || ml.Away.TokenID == "" {
		return domain.Moneyline{}, fmt.Errorf("incomplete outcome pair for %s", eventSlug)
	}
	return ml, nil
}

// applyQuote rellena el top-of-book de un OutcomeQuote desde el batch de
// books.
func applyQuote(q *domain.OutcomeQuote, books map[string]domain.OrderBook) {
	ob, ok := books[q.TokenID]
	if !ok {
		return
	}
	q.BestBid = ob.BestBid()
	q.BestAsk = ob.BestAsk()
	q.Mid = ob.Midpoint()
}
