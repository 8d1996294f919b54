package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/alejandrodnm/courtbot/internal/domain"
)

// SaveRiskSnapshot appends the end-of-tick risk state.
func (s *SQLiteStore) SaveRiskSnapshot(ctx context.Context, snap domain.RiskSnapshot) error {
	degraded := 0
	if snap.Degraded {
		degraded = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO risk_snapshots
			(created_at, level, sizing_multiplier, bankroll, daily_pnl, weekly_pnl,
			 consec_losses, max_drawdown_pct, drift_z_max, degraded, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULLIF(?, ''))
	`,
		ts(time.Now()), snap.Level, snap.SizingMultiplier, snap.Bankroll, snap.DailyPnL, snap.WeeklyPnL,
		snap.ConsecLosses, snap.MaxDrawdownPct, snap.DriftZMax, degraded, snap.Reason,
	)
	if err != nil {
		return fmt.Errorf("storage.SaveRiskSnapshot: %w", err)
	}
	return nil
}

// LatestRiskSnapshot returns the most recent snapshot; ok=false when the
// table is empty (first run).
func (s *SQLiteStore) LatestRiskSnapshot(ctx context.Context) (domain.RiskSnapshot, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, created_at, level, sizing_multiplier, bankroll, daily_pnl, weekly_pnl,
		       consec_losses, max_drawdown_pct, drift_z_max, degraded, COALESCE(reason, '')
		FROM risk_snapshots ORDER BY id DESC LIMIT 1
	`)
	var snap domain.RiskSnapshot
	var created string
	var degraded int
	err := row.Scan(&snap.ID, &created, &snap.Level, &snap.SizingMultiplier, &snap.Bankroll,
		&snap.DailyPnL, &snap.WeeklyPnL, &snap.ConsecLosses, &snap.MaxDrawdownPct,
		&snap.DriftZMax, &degraded, &snap.Reason)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RiskSnapshot{}, false, nil
	}
	if err != nil {
		return domain.RiskSnapshot{}, false, fmt.Errorf("storage.LatestRiskSnapshot: %w", err)
	}
	snap.CreatedAt = parseTS(created)
	snap.Degraded = degraded == 1
	return snap, true, nil
}

// InsertBreakerEvent records a circuit-breaker level transition.
func (s *SQLiteStore) InsertBreakerEvent(ctx context.Context, ev domain.BreakerEvent) error {
	acked := 0
	if ev.Acked {
		acked = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO breaker_events (from_level, to_level, reason, acked, created_at)
		VALUES (?, ?, NULLIF(?, ''), ?, ?)
	`, ev.FromLevel, ev.ToLevel, ev.Reason, acked, ts(time.Now()))
	if err != nil {
		return fmt.Errorf("storage.InsertBreakerEvent: %s → %s: %w", ev.FromLevel, ev.ToLevel, err)
	}
	return nil
}

// LastBreakerTransition returns the most recent transition INTO the given
// level. Hysteresis dwell times are measured from its created_at.
func (s *SQLiteStore) LastBreakerTransition(ctx context.Context, into domain.RiskLevel) (domain.BreakerEvent, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, from_level, to_level, COALESCE(reason, ''), acked, created_at
		FROM breaker_events WHERE to_level = ? ORDER BY id DESC LIMIT 1
	`, into)
	var ev domain.BreakerEvent
	var acked int
	var created string
	err := row.Scan(&ev.ID, &ev.FromLevel, &ev.ToLevel, &ev.Reason, &acked, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.BreakerEvent{}, false, nil
	}
	if err != nil {
		return domain.BreakerEvent{}, false, fmt.Errorf("storage.LastBreakerTransition: %w", err)
	}
	ev.Acked = acked == 1
	ev.CreatedAt = parseTS(created)
	return ev, true, nil
}

// AckBreaker marks a RED transition as manually acknowledged.
func (s *SQLiteStore) AckBreaker(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE breaker_events SET acked = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("storage.AckBreaker: %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("storage.AckBreaker: event %d not found", id)
	}
	return nil
}
