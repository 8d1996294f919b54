package scheduler

// Pasada DCA: los grupos dca_active se rebalancean hacia el presupuesto
// fijado en la entrada inicial, con entradas TWAP, trigger de precio
// favorable y deferral del caro.

import (
	"context"
	"math"

	"github.com/alejandrodnm/courtbot/internal/domain"
	"github.com/alejandrodnm/courtbot/internal/risk"
	"github.com/alejandrodnm/courtbot/internal/sizing"
	"github.com/alejandrodnm/courtbot/internal/strategy"
)

// runDCA procesa los grupos activos dentro del presupuesto de órdenes del
// tick. YELLOW bloquea entradas nuevas; ORANGE solo continúa si la config
// lo permite.
func (s *Scheduler) runDCA(ctx context.Context, a risk.Assessment, sum *TickSummary) {
	if !a.Level.AllowsDCA(s.cfg.Risk.OrangeDCAContinues) {
		return
	}

	jobs, err := s.store.GetDCAActiveJobs(ctx, s.now())
	if err != nil {
		s.log.Warn("dca: list active failed", "err", err)
		return
	}

	for _, job := range jobs {
		if sum.Placed+sum.DCAOrders >= s.cfg.Schedule.MaxOrdersPerTick {
			break
		}
		added, done := s.runDCAGroup(ctx, job)
		if added {
			sum.DCAOrders++
		}
		if done {
			if err := s.store.UpdateJobStatus(ctx, job.ID, domain.JobExecuted); err != nil {
				s.log.Error("dca: complete transition failed", "job", job.ID, "err", err)
			}
		}
	}
}

// runDCAGroup decide y ejecuta (como mucho) una entrada de un grupo.
// Devuelve (entrada añadida, grupo terminado).
func (s *Scheduler) runDCAGroup(ctx context.Context, job domain.TradeJob) (bool, bool) {
	sigs, err := s.store.GetSignalsByDCAGroup(ctx, job.DCAGroupID)
	if err != nil {
		s.log.Warn("dca: load group failed", "job", job.ID, "err", err)
		return false, false
	}
	if len(sigs) == 0 {
		return false, true // grupo vacío: nada que acumular
	}

	first := sigs[0]
	last := sigs[len(sigs)-1]

	quote, err := s.market.GetPrice(ctx, first.TokenID)
	if err != nil {
		s.log.Warn("dca: price unavailable", "slug", job.EventSlug, "err", err)
		return false, false
	}
	cur := quote.BestAsk
	if cur <= priceFloor || cur >= priceCeil {
		return false, false
	}

	var totalCost, totalShares float64
	var fills []domain.Fill
	for _, sg := range sigs {
		if !sg.OrderStatus.HasInventory() {
			continue
		}
		totalCost += sg.Cost()
		totalShares += sg.Shares
		fills = append(fills, domain.Fill{Price: sg.VWAP, Shares: sg.Shares})
	}
	groupVWAP := domain.VWAP(fills)

	dec := strategy.ShouldAddEntry(
		s.now(), first.CreatedAt, last.CreatedAt, job.GameTimeUTC,
		len(sigs), cur, first.OriginalPrice, groupVWAP, s.dcaParams(),
	)
	if dec.Done {
		s.log.Info("dca: group complete", "slug", job.EventSlug, "reason", dec.Reason, "entries", len(sigs))
		return false, true
	}
	if !dec.Add {
		return false, false
	}

	// El presupuesto quedó fijado al dimensionar la entrada inicial; las
	// fluctuaciones de precio o bankroll posteriores no lo mueven.
	budget := job.DCABudgetUSD
	if budget <= 0 {
		s.log.Warn("dca: group without budget", "job", job.ID, "slug", job.EventSlug)
		return false, true
	}

	est := s.curve.Estimate(cur)
	entriesLeft := s.cfg.DCA.MaxEntries - len(sigs)
	orderUSD, outcome := sizing.TargetOrderSize(
		budget, totalCost, totalShares, cur,
		entriesLeft, s.cfg.DCA.CapMult, s.cfg.Trading.MinOrderUSD,
	)
	if outcome != sizing.DCAOrder {
		s.log.Info("dca: group complete", "slug", job.EventSlug, "reason", string(outcome))
		return false, true
	}

	seq := len(sigs) + 1
	if s.mode == ModeDryRun {
		s.log.Info("dry-run: would place dca entry",
			"slug", job.EventSlug, "seq", seq, "size_usd", orderUSD, "reason", dec.Reason)
		return false, false
	}

	limit := makerLimit(domain.OutcomeQuote{BestBid: quote.BestBid, BestAsk: quote.BestAsk})
	sig := domain.Signal{
		JobID:            job.ID,
		EventSlug:        job.EventSlug,
		Team:             first.Team,
		TokenID:          first.TokenID,
		ConditionID:      first.ConditionID,
		Side:             "BUY",
		LimitPrice:       limit,
		SizeUSD:          orderUSD,
		Role:             domain.RoleDirectional,
		DCAGroupID:       job.DCAGroupID,
		DCASequence:      seq,
		BothsideGroupID:  first.BothsideGroupID,
		NegRisk:          first.NegRisk,
		CalibrationPoint: est.Point,
		CalibrationLower: est.Lower,
		CalibrationBand:  est.Band,
		EdgePct:          est.Lower/cur - 1,
	}
	if err := s.submitOrder(ctx, &sig); err != nil {
		s.log.Warn("dca: entry failed", "slug", job.EventSlug, "seq", seq, "err", err)
		return false, false
	}

	s.log.Info("dca: entry placed",
		"slug", job.EventSlug, "seq", seq, "trigger", dec.Reason,
		"limit", limit, "size_usd", orderUSD,
		"group_vwap", math.Round(groupVWAP*1000)/1000)
	return true, false
}
