package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/alejandrodnm/courtbot/internal/domain"
)

// InsertResult stores a settled outcome. The UNIQUE(signal_id) constraint
// makes settlement idempotent across ticks.
func (s *SQLiteStore) InsertResult(ctx context.Context, res domain.Result) error {
	won := 0
	if res.Won {
		won = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO results
			(signal_id, event_slug, won, pnl_usd, settlement_price,
			 score_home, score_away, note, settled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, NULLIF(?, ''), ?)
		ON CONFLICT(signal_id) DO NOTHING
	`,
		res.SignalID, res.EventSlug, won, res.PnLUSD, res.SettlementPrice,
		res.ScoreHome, res.ScoreAway, res.Note, ts(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("storage.InsertResult: signal %d: %w", res.SignalID, err)
	}
	return nil
}

// HasResult reports whether the signal is already settled.
func (s *SQLiteStore) HasResult(ctx context.Context, signalID int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM results WHERE signal_id = ?`, signalID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("storage.HasResult: %d: %w", signalID, err)
	}
	return n > 0, nil
}

// GetResultsSince returns results settled at or after `since`, oldest first.
func (s *SQLiteStore) GetResultsSince(ctx context.Context, since time.Time) ([]domain.Result, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, signal_id, event_slug, won, pnl_usd, settlement_price,
		       score_home, score_away, COALESCE(note, ''), settled_at
		FROM results WHERE settled_at >= ? ORDER BY settled_at ASC
	`, ts(since))
	if err != nil {
		return nil, fmt.Errorf("storage.GetResultsSince: %w", err)
	}
	return collectResults(rows)
}

// GetRecentResults returns the n most recent results, newest first.
func (s *SQLiteStore) GetRecentResults(ctx context.Context, n int) ([]domain.Result, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, signal_id, event_slug, won, pnl_usd, settlement_price,
		       score_home, score_away, COALESCE(note, ''), settled_at
		FROM results ORDER BY settled_at DESC, id DESC LIMIT ?
	`, n)
	if err != nil {
		return nil, fmt.Errorf("storage.GetRecentResults: %w", err)
	}
	return collectResults(rows)
}

// GetDailyPnLs returns realized PnL per calendar day (UTC) for the last
// `days` days, oldest first. Days without settlements are omitted.
func (s *SQLiteStore) GetDailyPnLs(ctx context.Context, days int) ([]float64, error) {
	since := time.Now().UTC().AddDate(0, 0, -days)
	rows, err := s.db.QueryContext(ctx, `
		SELECT substr(settled_at, 1, 10) AS day, SUM(pnl_usd)
		FROM results WHERE settled_at >= ?
		GROUP BY day ORDER BY day ASC
	`, ts(since))
	if err != nil {
		return nil, fmt.Errorf("storage.GetDailyPnLs: %w", err)
	}
	defer rows.Close()

	var pnls []float64
	for rows.Next() {
		var day string
		var pnl float64
		if err := rows.Scan(&day, &pnl); err != nil {
			return nil, fmt.Errorf("storage.GetDailyPnLs: scan: %w", err)
		}
		pnls = append(pnls, pnl)
	}
	return pnls, rows.Err()
}

// GetCalibrationSamples joins recent results with the calibration estimate
// recorded on the signal at placement. Drift-detector input, newest first.
func (s *SQLiteStore) GetCalibrationSamples(ctx context.Context, limit int) ([]domain.CalibrationSample, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sg.poly_price, sg.calibration_point, r.won
		FROM results r
		JOIN signals sg ON sg.id = r.signal_id
		WHERE sg.calibration_point > 0
		ORDER BY r.id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage.GetCalibrationSamples: %w", err)
	}
	defer rows.Close()

	var samples []domain.CalibrationSample
	for rows.Next() {
		var cs domain.CalibrationSample
		var won int
		if err := rows.Scan(&cs.Price, &cs.Expected, &won); err != nil {
			return nil, fmt.Errorf("storage.GetCalibrationSamples: scan: %w", err)
		}
		cs.Won = won == 1
		samples = append(samples, cs)
	}
	return samples, rows.Err()
}

func collectResults(rows *sql.Rows) ([]domain.Result, error) {
	defer rows.Close()
	var out []domain.Result
	for rows.Next() {
		var r domain.Result
		var won int
		var settled string
		if err := rows.Scan(&r.ID, &r.SignalID, &r.EventSlug, &won, &r.PnLUSD,
			&r.SettlementPrice, &r.ScoreHome, &r.ScoreAway, &r.Note, &settled); err != nil {
			return nil, fmt.Errorf("storage: scan result: %w", err)
		}
		r.Won = won == 1
		r.SettledAt = parseTS(settled)
		out = append(out, r)
	}
	return out, rows.Err()
}
