package ordermgr

// El gestor de órdenes recorre las órdenes abiertas en batches, sincroniza
// sus fills y re-cotiza las que llevan demasiado tiempo sin cruzar:
// cancel-and-replace a best_ask − 0.01 hasta agotar los replaces o llegar
// al tipoff, y entonces cancela y expira.

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/alejandrodnm/courtbot/config"
	"github.com/alejandrodnm/courtbot/internal/domain"
	"github.com/alejandrodnm/courtbot/internal/ports"
	"github.com/alejandrodnm/courtbot/internal/strategy"
)

// priceFloor is the lowest limit the CLOB accepts.
const priceFloor = 0.01

// Summary cuenta lo que pasó en una pasada del gestor.
type Summary struct {
	Checked   int
	Filled    int
	Partial   int
	Replaced  int
	Cancelled int
	Expired   int
	Errors    int
}

// Manager reconciles resting orders against the CLOB.
type Manager struct {
	store    ports.Store
	market   ports.MarketClient
	orders   config.OrdersConfig
	bothside config.BothsideConfig
	log      *slog.Logger

	now   func() time.Time
	sleep func(time.Duration)
}

// NewManager crea el gestor de órdenes.
func NewManager(store ports.Store, market ports.MarketClient, orders config.OrdersConfig, bothside config.BothsideConfig, log *slog.Logger) *Manager {
	return &Manager{
		store:    store,
		market:   market,
		orders:   orders,
		bothside: bothside,
		log:      log,
		now:      time.Now,
		sleep:    time.Sleep,
	}
}

// Tick procesa un batch de órdenes abiertas. Los errores por-orden se
// registran y se cuentan; la pasada sigue con la siguiente orden.
func (m *Manager) Tick(ctx context.Context) (Summary, error) {
	var sum Summary

	signals, err := m.store.GetOpenOrderSignals(ctx, m.orders.CheckBatchSize)
	if err != nil {
		return sum, fmt.Errorf("ordermgr.Tick: %w", err)
	}

	for i, sig := range signals {
		if i > 0 {
			m.sleep(time.Duration(m.orders.PaceMillis) * time.Millisecond)
		}
		sum.Checked++
		if err := m.reconcile(ctx, sig, &sum); err != nil {
			sum.Errors++
			m.log.Warn("ordermgr: reconcile failed",
				"signal", sig.ID, "order", sig.OrderID, "err", err)
		}
		if ctx.Err() != nil {
			break
		}
	}
	return sum, nil
}

// reconcile sincroniza una orden con el CLOB y decide fill / replace / expire.
func (m *Manager) reconcile(ctx context.Context, sig domain.Signal, sum *Summary) error {
	state, err := m.market.GetOrder(ctx, sig.OrderID)
	if err != nil {
		return fmt.Errorf("get order: %w", err)
	}

	switch {
	case state.Filled():
		return m.markFilled(ctx, sig, state, sum)
	case state.Cancelled():
		return m.markCancelled(ctx, sig, state, sum)
	}

	// Sigue viva. Registrar fills parciales nuevos antes de decidir nada.
	if state.FilledShares > sig.Shares+1e-9 {
		if err := m.store.UpdateOrderStatus(ctx, sig.ID, domain.OrderPartial,
			state.FilledShares, state.AvgPrice, state.FeeUSD); err != nil {
			return err
		}
		_ = m.store.AppendOrderEvent(ctx, domain.OrderEvent{
			SignalID: sig.ID,
			Type:     domain.EventPartial,
			NewPrice: sig.LimitPrice,
			Detail:   fmt.Sprintf("%.1f shares", state.FilledShares),
		})
		sig.Shares = state.FilledShares
		sum.Partial++
	}

	age := m.now().Sub(sig.OrderPlacedAt)
	if age < time.Duration(m.orders.TTLMin)*time.Minute {
		return nil
	}
	return m.requoteOrExpire(ctx, sig, state, sum)
}

func (m *Manager) markFilled(ctx context.Context, sig domain.Signal, state domain.OrderState, sum *Summary) error {
	if err := m.store.UpdateOrderStatus(ctx, sig.ID, domain.OrderFilled,
		state.FilledShares, state.AvgPrice, state.FeeUSD); err != nil {
		return err
	}
	_ = m.store.AppendOrderEvent(ctx, domain.OrderEvent{
		SignalID: sig.ID,
		Type:     domain.EventFilled,
		NewPrice: state.AvgPrice,
		Detail:   fmt.Sprintf("%.1f shares", state.FilledShares),
	})
	sum.Filled++
	m.log.Info("ordermgr: order filled",
		"signal", sig.ID, "event", sig.EventSlug, "team", sig.Team,
		"shares", state.FilledShares, "vwap", state.AvgPrice)
	return nil
}

// markCancelled handles orders that died CLOB-side (expiry, self-trade
// protection, operator cancel). Partial fills stay on the signal.
func (m *Manager) markCancelled(ctx context.Context, sig domain.Signal, state domain.OrderState, sum *Summary) error {
	shares, vwap := sig.Shares, sig.VWAP
	if state.FilledShares > shares {
		shares, vwap = state.FilledShares, state.AvgPrice
	}
	if err := m.store.UpdateOrderStatus(ctx, sig.ID, domain.OrderCancelled,
		shares, vwap, state.FeeUSD); err != nil {
		return err
	}
	_ = m.store.AppendOrderEvent(ctx, domain.OrderEvent{
		SignalID: sig.ID,
		Type:     domain.EventCancelled,
		OldPrice: sig.LimitPrice,
		Detail:   "cancelled on clob",
	})
	sum.Cancelled++
	return nil
}

// requoteOrExpire maneja una orden que superó el TTL sin cruzar.
func (m *Manager) requoteOrExpire(ctx context.Context, sig domain.Signal, state domain.OrderState, sum *Summary) error {
	job, err := m.store.GetJob(ctx, sig.JobID)
	if err != nil {
		return fmt.Errorf("get job: %w", err)
	}

	if sig.ReplaceCount >= m.orders.MaxReplaces || !m.now().Before(job.GameTimeUTC) {
		return m.expire(ctx, sig, state, "replace budget exhausted", sum)
	}

	quote, err := m.market.GetPrice(ctx, sig.TokenID)
	if err != nil {
		return fmt.Errorf("get price: %w", err)
	}
	newLimit := math.Max(quote.BestAsk-0.01, priceFloor)

	if math.Abs(newLimit-sig.LimitPrice) < m.orders.MinPriceMove {
		return nil // el mercado no se ha movido, la orden sigue bien puesta
	}

	// Un hedge solo puede subir de precio mientras el par siga mergeable.
	if sig.Role == domain.RoleHedge {
		ok, err := m.hedgeCeilingAllows(ctx, sig, newLimit)
		if err != nil {
			return err
		}
		if !ok {
			return m.expire(ctx, sig, state, "hedge ceiling exceeded", sum)
		}
	}

	placed, err := m.market.CancelAndReplace(ctx, sig.OrderID, domain.PlaceOrderRequest{
		TokenID:     sig.TokenID,
		ConditionID: sig.ConditionID,
		Price:       newLimit,
		SizeUSD:     sig.SizeUSD,
		Side:        "BUY",
		NegRisk:     sig.NegRisk,
	})
	if err != nil {
		return fmt.Errorf("cancel and replace: %w", err)
	}
	if placed.OrderID == "" {
		// La cancelación no encontró la orden: probablemente cruzó entre
		// el GetOrder y el cancel. La próxima pasada recoge el fill.
		return nil
	}

	if err := m.store.UpdateOrderOnReplace(ctx, sig.ID, placed.OrderID, newLimit); err != nil {
		return err
	}
	_ = m.store.AppendOrderEvent(ctx, domain.OrderEvent{
		SignalID: sig.ID,
		Type:     domain.EventReplaced,
		OldPrice: sig.LimitPrice,
		NewPrice: newLimit,
	})
	sum.Replaced++
	m.log.Info("ordermgr: order replaced",
		"signal", sig.ID, "event", sig.EventSlug,
		"old_price", sig.LimitPrice, "new_price", newLimit,
		"replace", sig.ReplaceCount+1)
	return nil
}

// expire cancela la orden en el CLOB y marca la señal como expirada,
// conservando los fills parciales que ya tenga.
func (m *Manager) expire(ctx context.Context, sig domain.Signal, state domain.OrderState, reason string, sum *Summary) error {
	if _, err := m.market.CancelOrder(ctx, sig.OrderID); err != nil {
		return fmt.Errorf("cancel: %w", err)
	}

	shares, vwap := sig.Shares, sig.VWAP
	if state.FilledShares > shares {
		shares, vwap = state.FilledShares, state.AvgPrice
	}
	if err := m.store.UpdateOrderStatus(ctx, sig.ID, domain.OrderExpired,
		shares, vwap, state.FeeUSD); err != nil {
		return err
	}
	_ = m.store.AppendOrderEvent(ctx, domain.OrderEvent{
		SignalID: sig.ID,
		Type:     domain.EventExpired,
		OldPrice: sig.LimitPrice,
		Detail:   reason,
	})
	sum.Expired++
	m.log.Info("ordermgr: order expired",
		"signal", sig.ID, "event", sig.EventSlug, "reason", reason,
		"partial_shares", shares)
	return nil
}

// hedgeCeilingAllows re-runs the merge gate with the proposed hedge price:
// dir_vwap + new_limit must stay under 1 minus the margin floor.
func (m *Manager) hedgeCeilingAllows(ctx context.Context, sig domain.Signal, newLimit float64) (bool, error) {
	if sig.BothsideGroupID == "" {
		return true, nil
	}
	group, err := m.store.GetSignalsByBothsideGroup(ctx, sig.BothsideGroupID)
	if err != nil {
		return false, fmt.Errorf("bothside group: %w", err)
	}

	var fills []domain.Fill
	for _, s := range group {
		if s.Role == domain.RoleDirectional && s.OrderStatus.HasInventory() {
			fills = append(fills, domain.Fill{Price: s.VWAP, Shares: s.Shares})
		}
	}
	if len(fills) == 0 {
		return true, nil // sin pierna direccional llena no hay techo que aplicar
	}

	var dirShares float64
	for _, f := range fills {
		dirShares += f.Shares
	}
	dirVWAP := domain.VWAP(fills)
	margin := strategy.MinMargin(m.bothside.MinProfitUSD, m.bothside.FallbackGasUSD,
		dirShares, m.bothside.MinSharesFloor)

	return newLimit <= strategy.MaxHedgePrice(dirVWAP, margin)+1e-9, nil
}
