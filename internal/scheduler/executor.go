package scheduler

// Ejecutores de jobs: la pierna direccional (calibración → sizing → orden
// limit por debajo del mercado) y la pierna hedge (techo de precio dinámico
// que mantiene el par fundible).

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/alejandrodnm/courtbot/internal/calibration"
	"github.com/alejandrodnm/courtbot/internal/domain"
	"github.com/alejandrodnm/courtbot/internal/sizing"
	"github.com/alejandrodnm/courtbot/internal/strategy"
)

// priceFloor / priceCeil son los límites de precio que acepta el CLOB.
const (
	priceFloor = 0.01
	priceCeil  = 0.99
)

// execResult es el veredicto de un ejecutor sobre su job.
type execResult struct {
	status  domain.JobStatus
	reason  string // set para skipped/pending
	team    string
	limit   float64
	sizeUSD float64
}

func held(reason string) execResult    { return execResult{status: domain.JobPending, reason: reason} }
func skipped(reason string) execResult { return execResult{status: domain.JobSkipped, reason: reason} }

// executeDirectional corre el pipeline completo de una entrada inicial.
func (s *Scheduler) executeDirectional(ctx context.Context, job domain.TradeJob, bankroll, riskMult float64) (execResult, error) {
	if res, ok := s.preflight(ctx, job.EventSlug, bankroll); !ok {
		return res, nil
	}

	ml, err := s.market.GetMoneyline(ctx, job.EventSlug)
	if errors.Is(err, domain.ErrMarketNotFound) {
		return held("market_not_listed"), nil
	}
	if err != nil {
		return execResult{}, fmt.Errorf("moneyline: %w", err)
	}
	if !ml.Active {
		return skipped("market_inactive"), nil
	}

	quote, est, ev, ok := s.pickSide(ml)
	if !ok {
		return skipped("no_edge"), nil
	}

	book, err := s.market.GetOrderBook(ctx, quote.TokenID)
	if err != nil {
		return execResult{}, fmt.Errorf("order book: %w", err)
	}
	liq := sizing.Snapshot(book)
	res := sizing.ComputeSize(bankroll, quote.BestAsk, est, liq, riskMult, s.sizingParams())
	if res.Skip {
		return skipped(res.Reason), nil
	}

	if s.mode == ModeDryRun {
		s.log.Info("dry-run: would place directional",
			"slug", job.EventSlug, "team", quote.Team,
			"size_usd", res.SizeUSD, "edge", ev, "binding", res.Binding)
		return held("dry_run"), nil
	}

	limit := makerLimit(quote)
	dcaGroup := uuid.NewString()
	bothsideGroup := ""
	if s.cfg.Bothside.Enabled {
		bothsideGroup = uuid.NewString()
	}

	// El tamaño completo es el presupuesto del grupo; la primera entrada
	// sólo compra su rebanada y el resto se acumula por DCA.
	budget := res.SizeUSD
	sliceUSD := budget
	status := domain.JobExecuted
	if s.cfg.DCA.MaxEntries > 1 {
		sliceUSD = math.Round(budget/float64(s.cfg.DCA.MaxEntries)*100) / 100
		if sliceUSD < s.cfg.Trading.MinOrderUSD {
			sliceUSD = s.cfg.Trading.MinOrderUSD
		}
		if sliceUSD >= budget {
			// Presupuesto demasiado pequeño para trocear.
			sliceUSD = budget
		} else {
			status = domain.JobDCAActive
		}
	}

	sig := domain.Signal{
		JobID:            job.ID,
		EventSlug:        job.EventSlug,
		Team:             quote.Team,
		TokenID:          quote.TokenID,
		ConditionID:      ml.ConditionID,
		Side:             "BUY",
		LimitPrice:       limit,
		SizeUSD:          sliceUSD,
		Role:             domain.RoleDirectional,
		DCAGroupID:       dcaGroup,
		DCASequence:      1,
		BothsideGroupID:  bothsideGroup,
		NegRisk:          ml.NegRisk,
		CalibrationPoint: est.Point,
		CalibrationLower: est.Lower,
		CalibrationBand:  est.Band,
		EdgePct:          ev,
	}
	if err := s.submitOrder(ctx, &sig); err != nil {
		return execResult{}, err
	}
	if err := s.store.SetJobDCAGroup(ctx, job.ID, dcaGroup, budget); err != nil {
		s.log.Error("directional: dca group not recorded", "job", job.ID, "err", err)
	}

	if s.cfg.Bothside.Enabled {
		s.scheduleHedge(ctx, job, bothsideGroup)
	}

	return execResult{status: status, team: quote.Team, limit: limit, sizeUSD: sliceUSD}, nil
}

// preflight aplica los guardas previos a cualquier orden nueva.
func (s *Scheduler) preflight(ctx context.Context, slug string, bankroll float64) (execResult, bool) {
	if bankroll < s.cfg.Trading.MinBalanceUSD {
		return held("insufficient_balance"), false
	}

	count, exposure, err := s.store.GetDailyOrderStats(ctx, s.now())
	if err != nil {
		s.log.Warn("preflight: daily stats failed", "err", err)
		return held("preflight_unavailable"), false
	}
	openDCA, err := s.store.GetOpenDCABudgets(ctx)
	if err != nil {
		s.log.Warn("preflight: dca budgets failed", "err", err)
		return held("preflight_unavailable"), false
	}
	total, game, err := s.store.GetOpenExposure(ctx, slug)
	if err != nil {
		s.log.Warn("preflight: open exposure failed", "err", err)
		return held("preflight_unavailable"), false
	}

	if count >= s.cfg.Trading.MaxDailyOrders {
		return held("daily_order_cap"), false
	}
	if exposure+openDCA >= s.cfg.Trading.MaxDailyExposure {
		return held("daily_exposure_cap"), false
	}
	if total+openDCA >= s.cfg.Trading.MaxTotalExposure {
		return held("total_exposure_cap"), false
	}
	if game >= s.cfg.Trading.MaxGameExposure {
		return held("game_exposure_cap"), false
	}
	return execResult{}, true
}

// pickSide evalúa ambos outcomes contra la curva de calibración y elige el
// de mayor edge positivo en el lower bound.
func (s *Scheduler) pickSide(ml domain.Moneyline) (domain.OutcomeQuote, calibration.Estimate, float64, bool) {
	best := domain.OutcomeQuote{}
	var bestEst calibration.Estimate
	bestEV := 0.0

	for _, q := range []domain.OutcomeQuote{ml.Home, ml.Away} {
		if q.BestAsk <= priceFloor || q.BestAsk >= priceCeil {
			continue
		}
		est := s.curve.Estimate(q.BestAsk)
		edge := est.Lower/q.BestAsk - 1
		if edge > bestEV {
			best, bestEst, bestEV = q, est, edge
		}
	}
	return best, bestEst, bestEV, bestEV > 0
}

// executeHedge coloca la pierna opuesta de un par, con el techo de precio
// que mantiene el merge rentable dado el coste de la pierna direccional.
func (s *Scheduler) executeHedge(ctx context.Context, job domain.TradeJob, bankroll, riskMult float64) (execResult, error) {
	if job.BothsideGroupID == "" {
		return skipped("unpaired_hedge"), nil
	}
	if res, ok := s.preflight(ctx, job.EventSlug, bankroll); !ok {
		return res, nil
	}

	sigs, err := s.store.GetSignalsByBothsideGroup(ctx, job.BothsideGroupID)
	if err != nil {
		return execResult{}, fmt.Errorf("bothside group: %w", err)
	}
	dirVWAP, dirShares, dirTeam := legPosition(sigs, domain.RoleDirectional)
	if dirShares <= 0 {
		// La direccional aún descansa en el book; reintentar más tarde.
		return held("directional_unfilled"), nil
	}

	ml, err := s.market.GetMoneyline(ctx, job.EventSlug)
	if errors.Is(err, domain.ErrMarketNotFound) {
		return held("market_not_listed"), nil
	}
	if err != nil {
		return execResult{}, fmt.Errorf("moneyline: %w", err)
	}
	if !ml.Active {
		return skipped("market_inactive"), nil
	}

	hq := ml.Opposite(dirTeam)
	if hq.BestAsk <= priceFloor || hq.BestAsk >= priceCeil {
		return held("no_hedge_quote"), nil
	}

	gas := s.mergeGasUSD(ctx, ml.NegRisk)
	margin := strategy.MinMargin(s.cfg.Bothside.MinProfitUSD, gas, dirShares, s.cfg.Bothside.MinSharesFloor)
	ceiling := strategy.MaxHedgePrice(dirVWAP, margin)

	limit := makerLimit(hq)
	if limit > ceiling {
		if s.mode != ModeLive {
			return skipped("hedge_above_ceiling"), nil
		}
		// Esperar a que el precio baje; la ventana acota la espera.
		return held("hedge_above_ceiling"), nil
	}

	sizeUSD := math.Round(dirShares*limit*100) / 100
	if sizeUSD < s.cfg.Trading.MinOrderUSD {
		return skipped("below_min_order"), nil
	}

	if s.mode == ModeDryRun {
		s.log.Info("dry-run: would place hedge",
			"slug", job.EventSlug, "team", hq.Team, "limit", limit, "ceiling", ceiling)
		return held("dry_run"), nil
	}

	est := s.curve.Estimate(hq.BestAsk)
	sig := domain.Signal{
		JobID:            job.ID,
		EventSlug:        job.EventSlug,
		Team:             hq.Team,
		TokenID:          hq.TokenID,
		ConditionID:      ml.ConditionID,
		Side:             "BUY",
		LimitPrice:       limit,
		SizeUSD:          sizeUSD,
		Role:             domain.RoleHedge,
		DCASequence:      1,
		BothsideGroupID:  job.BothsideGroupID,
		NegRisk:          ml.NegRisk,
		CalibrationPoint: est.Point,
		CalibrationLower: est.Lower,
		CalibrationBand:  est.Band,
	}
	if err := s.submitOrder(ctx, &sig); err != nil {
		return execResult{}, err
	}
	return execResult{status: domain.JobExecuted, team: hq.Team, limit: limit, sizeUSD: sizeUSD}, nil
}

// scheduleHedge crea (si no existe) el job de la pierna opuesta, retrasado
// para dar tiempo a que la direccional cruce.
func (s *Scheduler) scheduleHedge(ctx context.Context, dir domain.TradeJob, bothsideGroup string) {
	hedge := domain.TradeJob{
		GameDate:        dir.GameDate,
		EventSlug:       dir.EventSlug,
		HomeTeam:        dir.HomeTeam,
		AwayTeam:        dir.AwayTeam,
		GameTimeUTC:     dir.GameTimeUTC,
		ExecuteAfter:    s.now().Add(s.cfg.HedgeDelay()),
		ExecuteBefore:   dir.ExecuteBefore,
		Side:            domain.SideHedge,
		BothsideGroupID: bothsideGroup,
	}
	if _, err := s.store.UpsertTradeJob(ctx, hedge); err != nil {
		s.log.Error("hedge job not created", "slug", dir.EventSlug, "err", err)
		return
	}
	stored, err := s.store.GetJobBySlugSide(ctx, dir.EventSlug, domain.SideHedge)
	if err != nil {
		s.log.Error("hedge job lookup failed", "slug", dir.EventSlug, "err", err)
		return
	}
	if err := s.store.SetJobPairing(ctx, dir.ID, stored.ID); err != nil {
		s.log.Error("job pairing failed", "dir", dir.ID, "hedge", stored.ID, "err", err)
	}
}

// submitOrder coloca la orden según el modo y persiste la señal con su
// evento de lifecycle. En paper el fill es inmediato al precio límite.
func (s *Scheduler) submitOrder(ctx context.Context, sig *domain.Signal) error {
	sig.OriginalPrice = sig.LimitPrice

	if s.mode == ModePaper {
		sig.OrderStatus = domain.OrderPaper
		sig.Shares = math.Round(sig.SizeUSD/sig.LimitPrice*100) / 100
		sig.VWAP = sig.LimitPrice
	} else {
		placed, err := s.market.PlaceLimitBuy(ctx, domain.PlaceOrderRequest{
			TokenID:     sig.TokenID,
			ConditionID: sig.ConditionID,
			Price:       sig.LimitPrice,
			SizeUSD:     sig.SizeUSD,
			Side:        "BUY",
			NegRisk:     sig.NegRisk,
		})
		if err != nil {
			return fmt.Errorf("place order: %w", err)
		}
		sig.OrderID = placed.OrderID
		sig.OrderStatus = domain.OrderPlaced
		sig.OrderPlacedAt = s.now()
	}

	id, err := s.store.InsertSignal(ctx, *sig)
	if err != nil {
		return fmt.Errorf("insert signal: %w", err)
	}
	sig.ID = id

	_ = s.store.AppendOrderEvent(ctx, domain.OrderEvent{
		SignalID: id,
		Type:     domain.EventPlaced,
		NewPrice: sig.LimitPrice,
		Detail:   fmt.Sprintf("$%.2f %s", sig.SizeUSD, sig.Role),
	})
	return nil
}

// legPosition agrega los fills de una pierna: VWAP ponderado, acciones sin
// fundir y el equipo de la pierna.
func legPosition(sigs []domain.Signal, role domain.SignalRole) (vwap, shares float64, team string) {
	var fills []domain.Fill
	for _, s := range sigs {
		if s.Role != role || !s.OrderStatus.HasInventory() {
			continue
		}
		team = s.Team
		if r := s.RemainingShares(); r > 0 {
			fills = append(fills, domain.Fill{Price: s.VWAP, Shares: r})
			shares += r
		}
	}
	return domain.VWAP(fills), shares, team
}

// makerLimit es la cotización pasiva estándar: un tick por debajo del ask,
// primera en la cola cuando el book se mueve.
func makerLimit(q domain.OutcomeQuote) float64 {
	return math.Max(priceFloor, math.Min(priceCeil, q.BestAsk-0.01))
}

// mergeGasUSD estima el coste de gas de un merge, con el fallback de config
// cuando no hay executor o la estimación falla.
func (s *Scheduler) mergeGasUSD(ctx context.Context, negRisk bool) float64 {
	if s.merger == nil || negRisk {
		return s.cfg.Bothside.FallbackGasUSD
	}
	gas, err := s.merger.EstimateGasCostUSD(ctx)
	if err != nil || gas <= 0 {
		s.log.Debug("gas estimate unavailable, using fallback", "err", err)
		return s.cfg.Bothside.FallbackGasUSD
	}
	return gas
}

func (s *Scheduler) sizingParams() sizing.Params {
	return sizing.Params{
		FractionalKelly:  s.cfg.Trading.FractionalKelly,
		MaxPositionUSD:   s.cfg.Trading.MaxPositionUSD,
		CapitalRiskPct:   s.cfg.Trading.CapitalRiskPct,
		LiquidityFillPct: s.cfg.Trading.LiquidityFillPct,
		MaxSpreadPct:     s.cfg.Trading.MaxSpreadPct,
		MinOrderUSD:      s.cfg.Trading.MinOrderUSD,
	}
}

func (s *Scheduler) dcaParams() strategy.DCAParams {
	return strategy.DCAParams{
		MaxEntries:     s.cfg.DCA.MaxEntries,
		MinInterval:    s.cfg.DCAMinInterval(),
		Cutoff:         s.cfg.DCACutoff(),
		MaxPriceSpread: s.cfg.DCA.MaxPriceSpread,
		MinPriceDipPct: s.cfg.DCA.MinPriceDipPct,
		DeferRisePct:   s.cfg.DCA.DeferRisePct,
	}
}

// walletKind devuelve la clase de wallet activa; sin executor no hay merge.
func (s *Scheduler) walletKind() domain.WalletKind {
	if s.merger != nil {
		return s.merger.Kind()
	}
	if s.mode != ModeLive {
		// Paper simula un EOA para que la economía del merge se ejercite.
		return domain.WalletEOA
	}
	return domain.WalletKind("none")
}
