package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/alejandrodnm/courtbot/internal/domain"
)

const signalColumns = `id, job_id, event_slug, team, token_id,
	COALESCE(condition_id, ''), side, poly_price, kelly_size, shares, vwap,
	COALESCE(order_id, ''), order_status, COALESCE(order_placed_at, ''), neg_risk,
	order_original_price, order_replace_count, fee_rate_bps, fee_usd,
	shares_merged, merge_recovery_usd, signal_role,
	COALESCE(dca_group_id, ''), dca_sequence, COALESCE(bothside_group_id, ''),
	calibration_point, calibration_lower, COALESCE(calibration_band, ''),
	edge_pct, in_sweet_spot, created_at`

func scanSignal(row interface{ Scan(...any) error }) (domain.Signal, error) {
	var sig domain.Signal
	var placedAt, created string
	var sweet, negRisk int
	err := row.Scan(
		&sig.ID, &sig.JobID, &sig.EventSlug, &sig.Team, &sig.TokenID,
		&sig.ConditionID, &sig.Side, &sig.LimitPrice, &sig.SizeUSD, &sig.Shares, &sig.VWAP,
		&sig.OrderID, &sig.OrderStatus, &placedAt, &negRisk,
		&sig.OriginalPrice, &sig.ReplaceCount, &sig.FeeRateBps, &sig.FeeUSD,
		&sig.SharesMerged, &sig.MergeRecoveryUSD, &sig.Role,
		&sig.DCAGroupID, &sig.DCASequence, &sig.BothsideGroupID,
		&sig.CalibrationPoint, &sig.CalibrationLower, &sig.CalibrationBand,
		&sig.EdgePct, &sweet, &created,
	)
	if err != nil {
		return domain.Signal{}, err
	}
	sig.OrderPlacedAt = parseTS(placedAt)
	sig.CreatedAt = parseTS(created)
	sig.InSweetSpot = sweet == 1
	sig.NegRisk = negRisk == 1
	return sig, nil
}

// InsertSignal persists a new order intent. The UNIQUE(job_id, dca_sequence)
// constraint is the duplicate-placement guard; callers must treat a
// constraint violation as "someone else already placed this entry".
func (s *SQLiteStore) InsertSignal(ctx context.Context, sig domain.Signal) (int64, error) {
	sweet := 0
	if sig.InSweetSpot {
		sweet = 1
	}
	negRisk := 0
	if sig.NegRisk {
		negRisk = 1
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO signals
			(job_id, event_slug, team, token_id, condition_id, side,
			 poly_price, kelly_size, shares, vwap, order_id, order_status,
			 order_placed_at, neg_risk, order_original_price, order_replace_count,
			 fee_rate_bps, fee_usd, shares_merged, merge_recovery_usd,
			 signal_role, dca_group_id, dca_sequence, bothside_group_id,
			 calibration_point, calibration_lower, calibration_band,
			 edge_pct, in_sweet_spot, created_at)
		VALUES (?, ?, ?, ?, NULLIF(?, ''), ?, ?, ?, ?, ?, NULLIF(?, ''), ?,
			NULLIF(?, ''), ?, ?, ?, ?, ?, ?, ?, ?, NULLIF(?, ''), ?, NULLIF(?, ''),
			?, ?, NULLIF(?, ''), ?, ?, ?)
	`,
		sig.JobID, sig.EventSlug, sig.Team, sig.TokenID, sig.ConditionID, sig.Side,
		sig.LimitPrice, sig.SizeUSD, sig.Shares, sig.VWAP, sig.OrderID, sig.OrderStatus,
		ts(sig.OrderPlacedAt), negRisk, sig.OriginalPrice, sig.ReplaceCount,
		sig.FeeRateBps, sig.FeeUSD, sig.SharesMerged, sig.MergeRecoveryUSD,
		sig.Role, sig.DCAGroupID, sig.DCASequence, sig.BothsideGroupID,
		sig.CalibrationPoint, sig.CalibrationLower, sig.CalibrationBand,
		sig.EdgePct, sweet, ts(time.Now()),
	)
	if err != nil {
		return 0, fmt.Errorf("storage.InsertSignal: %s seq %d: %w", sig.EventSlug, sig.DCASequence, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("storage.InsertSignal: last id: %w", err)
	}
	return id, nil
}

// GetSignal devuelve una señal por id.
func (s *SQLiteStore) GetSignal(ctx context.Context, id int64) (domain.Signal, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+signalColumns+` FROM signals WHERE id = ?`, id)
	sig, err := scanSignal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Signal{}, ErrNotFound
	}
	if err != nil {
		return domain.Signal{}, fmt.Errorf("storage.GetSignal: %d: %w", id, err)
	}
	return sig, nil
}

// GetSignalsByDCAGroup returns a group's entries ordered by sequence.
func (s *SQLiteStore) GetSignalsByDCAGroup(ctx context.Context, dcaGroupID string) ([]domain.Signal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+signalColumns+` FROM signals WHERE dca_group_id = ? ORDER BY dca_sequence ASC`,
		dcaGroupID)
	if err != nil {
		return nil, fmt.Errorf("storage.GetSignalsByDCAGroup: %w", err)
	}
	return collectSignals(rows)
}

// GetSignalsByBothsideGroup returns both legs' signals of a pair.
func (s *SQLiteStore) GetSignalsByBothsideGroup(ctx context.Context, groupID string) ([]domain.Signal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+signalColumns+` FROM signals WHERE bothside_group_id = ? ORDER BY signal_role, dca_sequence`,
		groupID)
	if err != nil {
		return nil, fmt.Errorf("storage.GetSignalsByBothsideGroup: %w", err)
	}
	return collectSignals(rows)
}

// HasSignalForSlugRole reports whether the slug already has a signal in the
// given role. Used by crash recovery to decide executing → executed.
func (s *SQLiteStore) HasSignalForSlugRole(ctx context.Context, slug string, role domain.SignalRole) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM signals WHERE event_slug = ? AND signal_role = ?`,
		slug, role).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("storage.HasSignalForSlugRole: %s/%s: %w", slug, role, err)
	}
	return n > 0, nil
}

// GetOpenOrderSignals returns placed/partially_filled signals for the order
// manager, oldest placement first, bounded by limit.
func (s *SQLiteStore) GetOpenOrderSignals(ctx context.Context, limit int) ([]domain.Signal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+signalColumns+` FROM signals
		WHERE order_status IN ('placed', 'partially_filled')
		ORDER BY order_placed_at ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage.GetOpenOrderSignals: %w", err)
	}
	return collectSignals(rows)
}

// UpdateOrderStatus advances the signal's order status and records fills.
// Regressions are rejected to keep the status monotone.
func (s *SQLiteStore) UpdateOrderStatus(ctx context.Context, id int64, status domain.OrderStatus, shares, vwap, feeUSD float64) error {
	cur, err := s.GetSignal(ctx, id)
	if err != nil {
		return fmt.Errorf("storage.UpdateOrderStatus: %w", err)
	}
	if !cur.OrderStatus.CanAdvance(status) {
		return fmt.Errorf("storage.UpdateOrderStatus: signal %d: %s → %s regresses", id, cur.OrderStatus, status)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE signals SET order_status = ?, shares = ?, vwap = ?, fee_usd = ?
		WHERE id = ?
	`, status, shares, vwap, feeUSD, id)
	if err != nil {
		return fmt.Errorf("storage.UpdateOrderStatus: %d → %s: %w", id, status, err)
	}
	return nil
}

// UpdateOrderOnReplace swaps in the new order id and price after a
// cancel-and-replace, bumping the replace counter.
func (s *SQLiteStore) UpdateOrderOnReplace(ctx context.Context, id int64, newOrderID string, newPrice float64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE signals SET order_id = ?, poly_price = ?,
			order_placed_at = ?, order_replace_count = order_replace_count + 1
		WHERE id = ?
	`, newOrderID, newPrice, ts(time.Now()), id)
	if err != nil {
		return fmt.Errorf("storage.UpdateOrderOnReplace: %d: %w", id, err)
	}
	return nil
}

// AddMergeCredit accumulates merged shares and recovered collateral on a
// signal, making its settlement PnL self-contained.
func (s *SQLiteStore) AddMergeCredit(ctx context.Context, id int64, shares, recoveryUSD float64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE signals SET
			shares_merged = shares_merged + ?,
			merge_recovery_usd = merge_recovery_usd + ?
		WHERE id = ? AND shares_merged + ? <= shares + 1e-9
	`, shares, recoveryUSD, id, shares)
	if err != nil {
		return fmt.Errorf("storage.AddMergeCredit: %d: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("storage.AddMergeCredit: signal %d: credit %0.4f shares exceeds fills", id, shares)
	}
	return nil
}

// GetUnsettledSignals returns signals holding shares with no result row
// yet. Cancelled/expired orders count too when they kept partial fills.
func (s *SQLiteStore) GetUnsettledSignals(ctx context.Context) ([]domain.Signal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+signalColumns+` FROM signals s
		WHERE (s.order_status IN ('filled', 'partially_filled', 'paper')
		       OR (s.order_status IN ('cancelled', 'expired') AND s.shares > 0))
		  AND NOT EXISTS (SELECT 1 FROM results r WHERE r.signal_id = s.id)
		ORDER BY s.event_slug, s.id
	`)
	if err != nil {
		return nil, fmt.Errorf("storage.GetUnsettledSignals: %w", err)
	}
	return collectSignals(rows)
}

// GetDailyOrderStats returns how many orders were created on `day` (ET is
// the caller's concern; day is taken as a UTC date window) and their
// requested USD exposure. Preflight input.
func (s *SQLiteStore) GetDailyOrderStats(ctx context.Context, day time.Time) (int, float64, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)
	var count int
	var exposure sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), SUM(kelly_size) FROM signals
		WHERE created_at >= ? AND created_at < ?
		  AND order_status NOT IN ('cancelled', 'expired')
	`, ts(start), ts(end)).Scan(&count, &exposure)
	if err != nil {
		return 0, 0, fmt.Errorf("storage.GetDailyOrderStats: %w", err)
	}
	return count, exposure.Float64, nil
}

// GetOpenDCABudgets returns the unfilled remainder (persisted budget −
// cost so far) across all dca_active groups. Counted as committed
// exposure by preflight.
func (s *SQLiteStore) GetOpenDCABudgets(ctx context.Context) (float64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT j.dca_budget_usd, SUM(s.shares * s.vwap) AS cost
		FROM trade_jobs j
		LEFT JOIN signals s ON s.dca_group_id = j.dca_group_id
		WHERE j.status = 'dca_active' AND j.dca_group_id IS NOT NULL
		GROUP BY j.id
	`)
	if err != nil {
		return 0, fmt.Errorf("storage.GetOpenDCABudgets: %w", err)
	}
	defer rows.Close()

	var total float64
	for rows.Next() {
		var budget float64
		var cost sql.NullFloat64
		if err := rows.Scan(&budget, &cost); err != nil {
			return 0, fmt.Errorf("storage.GetOpenDCABudgets: scan: %w", err)
		}
		if rem := budget - cost.Float64; rem > 0 {
			total += rem
		}
	}
	return total, rows.Err()
}

// GetOpenExposure returns the requested USD exposure of unsettled,
// non-dead signals: across the whole book and for one event. Preflight
// checks both against the total and per-game caps.
func (s *SQLiteStore) GetOpenExposure(ctx context.Context, slug string) (total, game float64, err error) {
	var t, g sql.NullFloat64
	err = s.db.QueryRowContext(ctx, `
		SELECT SUM(kelly_size),
		       SUM(CASE WHEN event_slug = ? THEN kelly_size ELSE 0 END)
		FROM signals s
		WHERE order_status NOT IN ('cancelled', 'expired')
		  AND NOT EXISTS (SELECT 1 FROM results r WHERE r.signal_id = s.id)
	`, slug).Scan(&t, &g)
	if err != nil {
		return 0, 0, fmt.Errorf("storage.GetOpenExposure: %s: %w", slug, err)
	}
	return t.Float64, g.Float64, nil
}

// AppendOrderEvent añade una transición al log append-only.
func (s *SQLiteStore) AppendOrderEvent(ctx context.Context, ev domain.OrderEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO order_events (signal_id, event_type, old_price, new_price, detail, created_at)
		VALUES (?, ?, ?, ?, NULLIF(?, ''), ?)
	`, ev.SignalID, ev.Type, ev.OldPrice, ev.NewPrice, ev.Detail, ts(time.Now()))
	if err != nil {
		return fmt.Errorf("storage.AppendOrderEvent: signal %d %s: %w", ev.SignalID, ev.Type, err)
	}
	return nil
}

// GetOrderEvents devuelve el log de una señal en orden cronológico.
func (s *SQLiteStore) GetOrderEvents(ctx context.Context, signalID int64) ([]domain.OrderEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, signal_id, event_type, old_price, new_price, COALESCE(detail, ''), created_at
		FROM order_events WHERE signal_id = ? ORDER BY id ASC
	`, signalID)
	if err != nil {
		return nil, fmt.Errorf("storage.GetOrderEvents: %w", err)
	}
	defer rows.Close()

	var evs []domain.OrderEvent
	for rows.Next() {
		var ev domain.OrderEvent
		var created string
		if err := rows.Scan(&ev.ID, &ev.SignalID, &ev.Type, &ev.OldPrice, &ev.NewPrice, &ev.Detail, &created); err != nil {
			return nil, fmt.Errorf("storage.GetOrderEvents: scan: %w", err)
		}
		ev.CreatedAt = parseTS(created)
		evs = append(evs, ev)
	}
	return evs, rows.Err()
}

func collectSignals(rows *sql.Rows) ([]domain.Signal, error) {
	defer rows.Close()
	var sigs []domain.Signal
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan signal: %w", err)
		}
		sigs = append(sigs, sig)
	}
	return sigs, rows.Err()
}
