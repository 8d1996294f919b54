package settlement

// Liquidación post-partido: cada señal con inventario se reconcilia contra
// el resultado final con una única fórmula,
//
//	pnl = remaining·settle + merge_recovery − cost − fee
//
// que cubre igual entradas sueltas, grupos DCA, pares bothside y posiciones
// parcialmente fundidas. El marcador oficial manda; el mercado solo se usa
// como fallback cuando el scoreboard no da un final.

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alejandrodnm/courtbot/internal/domain"
	"github.com/alejandrodnm/courtbot/internal/ports"
)

// resolveThreshold is the bid a resolved market's winning side must show
// before the venue fallback is trusted.
const resolveThreshold = 0.95

// Summary aggregates one settlement pass.
type Summary struct {
	Settled int
	Wins    int
	Losses  int
	Skipped int // signals whose game has no usable resolution yet
	PnLUSD  float64
}

// Settler reconciles unsettled signals against final scores.
type Settler struct {
	store    ports.Store
	games    ports.GameProvider
	market   ports.MarketClient
	notifier ports.Notifier
	log      *slog.Logger
	now      func() time.Time
}

func New(store ports.Store, games ports.GameProvider, market ports.MarketClient, notifier ports.Notifier, log *slog.Logger) *Settler {
	return &Settler{
		store:    store,
		games:    games,
		market:   market,
		notifier: notifier,
		log:      log.With("component", "settlement"),
		now:      time.Now,
	}
}

// resolution is a settled game: who won and how.
type resolution struct {
	winner    string
	scoreHome int
	scoreAway int
	note      string // "overtime", "market_fallback", ""
}

// Run settles everything settleable in one pass. Unresolved games are
// skipped and retried on the next pass; only a broken store aborts.
func (s *Settler) Run(ctx context.Context) (Summary, error) {
	var sum Summary

	sigs, err := s.store.GetUnsettledSignals(ctx)
	if err != nil {
		return sum, fmt.Errorf("settlement.Run: load unsettled: %w", err)
	}
	if len(sigs) == 0 {
		return sum, nil
	}

	// Señales agrupadas por juego; una resolución por slug.
	bySlug := map[string][]domain.Signal{}
	var slugs []string
	for _, sig := range sigs {
		if _, seen := bySlug[sig.EventSlug]; !seen {
			slugs = append(slugs, sig.EventSlug)
		}
		bySlug[sig.EventSlug] = append(bySlug[sig.EventSlug], sig)
	}

	for _, slug := range slugs {
		res, ok := s.resolve(ctx, slug)
		if !ok {
			sum.Skipped += len(bySlug[slug])
			continue
		}
		for _, sig := range bySlug[slug] {
			if err := s.settleSignal(ctx, sig, res, &sum); err != nil {
				s.log.Error("settle signal failed", "signal", sig.ID, "slug", slug, "err", err)
			}
		}
	}

	if err := s.store.IntegrityCheck(ctx); err != nil {
		s.log.Warn("integrity check failed after settlement", "err", err)
	}

	if sum.Settled > 0 {
		s.log.Info("settlement pass complete",
			"settled", sum.Settled, "wins", sum.Wins, "losses", sum.Losses,
			"skipped", sum.Skipped, "pnl_usd", sum.PnLUSD)
		_ = s.notifier.Notify(ctx, fmt.Sprintf("settled %d signals: %+.2f USD (%dW-%dL)",
			sum.Settled, sum.PnLUSD, sum.Wins, sum.Losses))
	}
	return sum, nil
}

// settleSignal aplica la fórmula de PnL y persiste el resultado. El insert
// es idempotente por signal_id; re-liquidar no duplica.
func (s *Settler) settleSignal(ctx context.Context, sig domain.Signal, res resolution, sum *Summary) error {
	won := sig.Team == res.winner
	price := 0.0
	if won {
		price = 1.0
	}

	pnl := sig.RemainingShares()*price + sig.MergeRecoveryUSD - sig.Cost() - sig.FeeUSD

	if err := s.store.InsertResult(ctx, domain.Result{
		SignalID:        sig.ID,
		EventSlug:       sig.EventSlug,
		Won:             won,
		PnLUSD:          pnl,
		SettlementPrice: price,
		ScoreHome:       res.scoreHome,
		ScoreAway:       res.scoreAway,
		Note:            res.note,
	}); err != nil {
		return err
	}

	sum.Settled++
	sum.PnLUSD += pnl
	if won {
		sum.Wins++
	} else {
		sum.Losses++
	}
	s.log.Info("signal settled",
		"signal", sig.ID, "slug", sig.EventSlug, "team", sig.Team,
		"won", won, "pnl_usd", pnl, "note", res.note)
	return nil
}

// resolve determines the game's winner. The official scoreboard is the
// source of truth; a resolved market is accepted only when the scoreboard
// has nothing for the game.
func (s *Settler) resolve(ctx context.Context, slug string) (resolution, bool) {
	away, home, date, err := domain.ParseEventSlug(slug)
	if err != nil {
		s.log.Warn("unparseable event slug, cannot settle", "slug", slug, "err", err)
		return resolution{}, false
	}

	games, err := s.games.GamesForDate(ctx, date)
	if err != nil {
		s.log.Warn("scoreboard unavailable, trying market fallback", "slug", slug, "err", err)
		return s.resolveFromMarket(ctx, slug, home, away)
	}

	for _, g := range games {
		if !strings.EqualFold(g.AwayTeam, away) || !strings.EqualFold(g.HomeTeam, home) {
			continue
		}
		if g.IsPostponed() {
			s.log.Warn("game postponed, settlement deferred", "slug", slug)
			return resolution{}, false
		}
		if !g.IsFinal() {
			return resolution{}, false
		}
		res := resolution{scoreHome: g.HomeScore, scoreAway: g.AwayScore}
		if g.HomeScore > g.AwayScore {
			res.winner = g.HomeTeam
		} else {
			res.winner = g.AwayTeam
		}
		if g.WentToOvertime() {
			res.note = "overtime"
		}
		return res, true
	}

	return s.resolveFromMarket(ctx, slug, home, away)
}

// resolveFromMarket acepta el veredicto del venue cuando el mercado cerró y
// un lado cotiza como resuelto.
func (s *Settler) resolveFromMarket(ctx context.Context, slug, home, away string) (resolution, bool) {
	ml, err := s.market.GetMoneyline(ctx, slug)
	if err != nil {
		return resolution{}, false
	}
	if ml.Active {
		return resolution{}, false
	}

	var winner string
	switch {
	case ml.Home.BestBid >= resolveThreshold:
		winner = strings.ToUpper(home)
	case ml.Away.BestBid >= resolveThreshold:
		winner = strings.ToUpper(away)
	default:
		return resolution{}, false
	}

	s.log.Info("settling from resolved market", "slug", slug, "winner", winner)
	return resolution{winner: winner, note: "market_fallback"}, true
}
