package scheduler

// Pasada de merge: pares (direccional, hedge) ejecutados se funden de
// vuelta a colateral cuando el VWAP combinado deja margen tras el gas. El
// crédito se reparte entre las señales de cada pierna de forma que la suma
// de recovery sea exactamente el colateral redimido.

import (
	"context"
	"errors"
	"fmt"

	"github.com/alejandrodnm/courtbot/internal/adapters/storage"
	"github.com/alejandrodnm/courtbot/internal/domain"
	"github.com/alejandrodnm/courtbot/internal/strategy"
)

// runMerges evalúa y ejecuta los pares candidatos.
func (s *Scheduler) runMerges(ctx context.Context, sum *TickSummary) {
	if !s.cfg.Bothside.MergeEnabled {
		return
	}

	pairs, err := s.store.GetMergeCandidates(ctx)
	if err != nil {
		s.log.Warn("merge: list candidates failed", "err", err)
		return
	}

	for _, pair := range pairs {
		ok, err := s.runMergePair(ctx, pair[0], pair[1])
		if err != nil {
			s.log.Warn("merge: pair failed", "slug", pair[0].EventSlug, "err", err)
			continue
		}
		if ok {
			sum.Merges++
		}
	}
}

// runMergePair corre el gate económico y, si pasa, el merge real o
// simulado de un par. Devuelve true si fundió.
func (s *Scheduler) runMergePair(ctx context.Context, dir, hedge domain.TradeJob) (bool, error) {
	group := dir.BothsideGroupID
	if group == "" {
		group = hedge.BothsideGroupID
	}
	if group == "" {
		return false, nil
	}

	// Idempotencia: un op previo no fallido significa que este par ya se
	// decidió; el merge_status del job quedó colgado de un crash.
	if op, err := s.store.GetMergeOperation(ctx, group); err == nil && op.Status != domain.MergeOpFailed {
		s.log.Warn("merge: stale candidate with existing op", "group", group, "op_status", op.Status)
		return false, s.markPair(ctx, dir, hedge, mergeStatusForOp(op.Status))
	} else if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return false, fmt.Errorf("lookup op: %w", err)
	}

	sigs, err := s.store.GetSignalsByBothsideGroup(ctx, group)
	if err != nil {
		return false, fmt.Errorf("load group: %w", err)
	}
	dirVWAP, dirShares, _ := legPosition(sigs, domain.RoleDirectional)
	hedgeVWAP, hedgeShares, _ := legPosition(sigs, domain.RoleHedge)

	negRisk, conditionID := s.pairMarketInfo(ctx, dir.EventSlug, sigs)
	gas := s.mergeGasUSD(ctx, negRisk)

	dec := strategy.Evaluate(dirVWAP, hedgeVWAP, dirShares, hedgeShares, strategy.MergeParams{
		Enabled:        true,
		MinProfitUSD:   s.cfg.Bothside.MinProfitUSD,
		MinSharesFloor: s.cfg.Bothside.MinSharesFloor,
		GasUSD:         gas,
		Wallet:         s.walletKind(),
	})
	if !dec.OK {
		s.log.Info("merge: pair skipped", "slug", dir.EventSlug, "reason", dec.Reason,
			"combined_vwap", dec.CombinedVWAP)
		return false, s.markPair(ctx, dir, hedge, domain.MergeSkipped)
	}

	op := domain.MergeOperation{
		BothsideGroupID: group,
		EventSlug:       dir.EventSlug,
		ConditionID:     conditionID,
		SharesMerged:    dec.Shares,
		CombinedVWAP:    dec.CombinedVWAP,
		RecoveryUSD:     dec.RecoveryUSD,
		GasCostUSD:      gas,
		NetProfitUSD:    dec.NetProfitUSD,
		Status:          domain.MergeOpPending,
	}
	opID, err := s.store.InsertMergeOperation(ctx, op)
	if err != nil {
		return false, fmt.Errorf("record op: %w", err)
	}
	op.ID = opID

	if s.mode != ModeLive {
		op.Status = domain.MergeOpSimulated
		op.GasCostUSD = 0
		op.NetProfitUSD = dec.RecoveryUSD
		if err := s.store.UpdateMergeOperation(ctx, op); err != nil {
			return false, fmt.Errorf("finish op: %w", err)
		}
		if err := s.creditMerge(ctx, sigs, dec); err != nil {
			return false, err
		}
		s.log.Info("merge: simulated",
			"slug", dir.EventSlug, "shares", dec.Shares,
			"combined_vwap", dec.CombinedVWAP, "recovery_usd", dec.RecoveryUSD)
		return true, s.markPair(ctx, dir, hedge, domain.MergeSimulated)
	}

	receipt, err := s.merger.MergePositions(ctx, conditionID, dec.Shares, negRisk)
	if err != nil {
		op.Status = domain.MergeOpFailed
		op.Error = err.Error()
		op.TxHash = receipt.TxHash
		op.RetryCount++
		if uerr := s.store.UpdateMergeOperation(ctx, op); uerr != nil {
			s.log.Error("merge: failed op not recorded", "op", op.ID, "err", uerr)
		}
		_ = s.markPair(ctx, dir, hedge, domain.MergeFailed)
		return false, fmt.Errorf("merge positions: %w", err)
	}

	op.Status = domain.MergeOpExecuted
	op.TxHash = receipt.TxHash
	op.GasCostUSD = receipt.GasCostUSD
	op.NetProfitUSD = dec.RecoveryUSD - receipt.GasCostUSD
	if err := s.store.UpdateMergeOperation(ctx, op); err != nil {
		return false, fmt.Errorf("finish op: %w", err)
	}
	if err := s.creditMerge(ctx, sigs, dec); err != nil {
		return false, err
	}

	s.log.Info("merge: executed",
		"slug", dir.EventSlug, "tx", receipt.TxHash,
		"shares", dec.Shares, "recovery_usd", dec.RecoveryUSD,
		"gas_usd", receipt.GasCostUSD)
	_ = s.notifier.Notify(ctx, fmt.Sprintf("merge %s: %.1f pairs, +$%.2f net",
		dir.EventSlug, dec.Shares, op.NetProfitUSD))
	return true, s.markPair(ctx, dir, hedge, domain.MergeExecuted)
}

// creditMerge reparte acciones fundidas y colateral recuperado entre las
// señales. Por pierna: recovery = shares·vwap_pierna + mitad del beneficio,
// de modo que la suma de ambas piernas es shares·$1 exacto.
func (s *Scheduler) creditMerge(ctx context.Context, sigs []domain.Signal, dec strategy.Decision) error {
	for _, role := range []domain.SignalRole{domain.RoleDirectional, domain.RoleHedge} {
		legVWAP, legShares, _ := legPosition(sigs, role)
		if legShares <= 0 {
			continue
		}
		legRecovery := dec.Shares*legVWAP + dec.RecoveryUSD/2

		for _, sg := range sigs {
			if sg.Role != role || !sg.OrderStatus.HasInventory() {
				continue
			}
			frac := sg.RemainingShares() / legShares
			if frac <= 0 {
				continue
			}
			if err := s.store.AddMergeCredit(ctx, sg.ID, dec.Shares*frac, legRecovery*frac); err != nil {
				return fmt.Errorf("credit signal %d: %w", sg.ID, err)
			}
		}
	}
	return nil
}

// markPair fija el merge_status de ambas piernas.
func (s *Scheduler) markPair(ctx context.Context, dir, hedge domain.TradeJob, st domain.MergeStatus) error {
	if err := s.store.SetJobMergeStatus(ctx, dir.ID, st); err != nil {
		return fmt.Errorf("mark dir leg: %w", err)
	}
	if err := s.store.SetJobMergeStatus(ctx, hedge.ID, st); err != nil {
		return fmt.Errorf("mark hedge leg: %w", err)
	}
	return nil
}

// pairMarketInfo resuelve negRisk y conditionID del par, prefiriendo las
// señales persistidas y cayendo al venue solo para el flag negRisk.
func (s *Scheduler) pairMarketInfo(ctx context.Context, slug string, sigs []domain.Signal) (bool, string) {
	conditionID := ""
	for _, sg := range sigs {
		if sg.ConditionID != "" {
			conditionID = sg.ConditionID
			break
		}
	}
	ml, err := s.market.GetMoneyline(ctx, slug)
	if err != nil {
		return false, conditionID
	}
	if conditionID == "" {
		conditionID = ml.ConditionID
	}
	return ml.NegRisk, conditionID
}

func mergeStatusForOp(st domain.MergeOpStatus) domain.MergeStatus {
	switch st {
	case domain.MergeOpExecuted:
		return domain.MergeExecuted
	case domain.MergeOpSimulated:
		return domain.MergeSimulated
	default:
		return domain.MergeSkipped
	}
}
