package storage

// sqlite.go — single-file store for all trading state.
//
// One writer (SetMaxOpenConns(1)), WAL journaling so the long settlement
// pass can coexist with short scheduler ticks. Terminal rows are never
// deleted; the job and signal tables are the audit trail.

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
-- One row per (event_slug, job_side). Created by discovery, mutated only
-- by the dispatcher.
CREATE TABLE IF NOT EXISTS trade_jobs (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    game_date         TEXT    NOT NULL,
    event_slug        TEXT    NOT NULL,
    home_team         TEXT    NOT NULL,
    away_team         TEXT    NOT NULL,
    game_time_utc     TEXT    NOT NULL,
    execute_after     TEXT    NOT NULL,
    execute_before    TEXT    NOT NULL,
    job_side          TEXT    NOT NULL DEFAULT 'directional',
    status            TEXT    NOT NULL DEFAULT 'pending',
    retry_count       INTEGER NOT NULL DEFAULT 0,
    merge_status      TEXT    NOT NULL DEFAULT 'none',
    dca_group_id      TEXT,
    dca_budget_usd    REAL    NOT NULL DEFAULT 0,
    bothside_group_id TEXT,
    paired_job_id     INTEGER,
    created_at        TEXT    NOT NULL,
    updated_at        TEXT    NOT NULL,
    UNIQUE(event_slug, job_side)
);

-- One row per placed order intent.
CREATE TABLE IF NOT EXISTS signals (
    id                   INTEGER PRIMARY KEY AUTOINCREMENT,
    job_id               INTEGER NOT NULL,
    event_slug           TEXT    NOT NULL,
    team                 TEXT    NOT NULL,
    token_id             TEXT    NOT NULL,
    condition_id         TEXT,
    side                 TEXT    NOT NULL DEFAULT 'BUY',
    poly_price           REAL    NOT NULL,
    kelly_size           REAL    NOT NULL,
    shares               REAL    NOT NULL DEFAULT 0,
    vwap                 REAL    NOT NULL DEFAULT 0,
    order_id             TEXT,
    order_status         TEXT    NOT NULL DEFAULT 'pending',
    order_placed_at      TEXT,
    neg_risk             INTEGER NOT NULL DEFAULT 0,
    order_original_price REAL    NOT NULL DEFAULT 0,
    order_replace_count  INTEGER NOT NULL DEFAULT 0,
    fee_rate_bps         REAL    NOT NULL DEFAULT 0,
    fee_usd              REAL    NOT NULL DEFAULT 0,
    shares_merged        REAL    NOT NULL DEFAULT 0,
    merge_recovery_usd   REAL    NOT NULL DEFAULT 0,
    signal_role          TEXT    NOT NULL DEFAULT 'directional',
    dca_group_id         TEXT,
    dca_sequence         INTEGER NOT NULL DEFAULT 1,
    bothside_group_id    TEXT,
    calibration_point    REAL    NOT NULL DEFAULT 0,
    calibration_lower    REAL    NOT NULL DEFAULT 0,
    calibration_band     TEXT,
    edge_pct             REAL    NOT NULL DEFAULT 0,
    in_sweet_spot        INTEGER NOT NULL DEFAULT 0,
    created_at           TEXT    NOT NULL,
    UNIQUE(job_id, dca_sequence)
);

-- Append-only lifecycle log. Never mutated.
CREATE TABLE IF NOT EXISTS order_events (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    signal_id  INTEGER NOT NULL,
    event_type TEXT    NOT NULL,
    old_price  REAL    NOT NULL DEFAULT 0,
    new_price  REAL    NOT NULL DEFAULT 0,
    detail     TEXT,
    created_at TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS merge_operations (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    bothside_group_id TEXT    NOT NULL,
    event_slug        TEXT    NOT NULL,
    condition_id      TEXT,
    shares_merged     REAL    NOT NULL DEFAULT 0,
    combined_vwap     REAL    NOT NULL DEFAULT 0,
    recovery_usd      REAL    NOT NULL DEFAULT 0,
    gas_cost_usd      REAL    NOT NULL DEFAULT 0,
    net_profit_usd    REAL    NOT NULL DEFAULT 0,
    tx_hash           TEXT,
    status            TEXT    NOT NULL DEFAULT 'pending',
    error             TEXT,
    retry_count       INTEGER NOT NULL DEFAULT 0,
    created_at        TEXT    NOT NULL,
    updated_at        TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS results (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    signal_id        INTEGER NOT NULL UNIQUE,
    event_slug       TEXT    NOT NULL,
    won              INTEGER NOT NULL,
    pnl_usd          REAL    NOT NULL,
    settlement_price REAL    NOT NULL,
    score_home       INTEGER NOT NULL DEFAULT 0,
    score_away       INTEGER NOT NULL DEFAULT 0,
    note             TEXT,
    settled_at       TEXT    NOT NULL
);

-- The most recent snapshot is the authoritative risk state between ticks.
CREATE TABLE IF NOT EXISTS risk_snapshots (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    created_at        TEXT NOT NULL,
    level             TEXT NOT NULL,
    sizing_multiplier REAL NOT NULL,
    bankroll          REAL NOT NULL DEFAULT 0,
    daily_pnl         REAL NOT NULL DEFAULT 0,
    weekly_pnl        REAL NOT NULL DEFAULT 0,
    consec_losses     INTEGER NOT NULL DEFAULT 0,
    max_drawdown_pct  REAL NOT NULL DEFAULT 0,
    drift_z_max       REAL NOT NULL DEFAULT 0,
    degraded          INTEGER NOT NULL DEFAULT 0,
    reason            TEXT
);

CREATE TABLE IF NOT EXISTS breaker_events (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    from_level TEXT NOT NULL,
    to_level   TEXT NOT NULL,
    reason     TEXT,
    acked      INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_status    ON trade_jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_date      ON trade_jobs(game_date);
CREATE INDEX IF NOT EXISTS idx_signals_job    ON signals(job_id);
CREATE INDEX IF NOT EXISTS idx_signals_status ON signals(order_status);
CREATE INDEX IF NOT EXISTS idx_signals_dca    ON signals(dca_group_id);
CREATE INDEX IF NOT EXISTS idx_signals_both   ON signals(bothside_group_id);
CREATE INDEX IF NOT EXISTS idx_events_signal  ON order_events(signal_id);
CREATE INDEX IF NOT EXISTS idx_merges_group   ON merge_operations(bothside_group_id);
CREATE INDEX IF NOT EXISTS idx_results_slug   ON results(event_slug);
CREATE INDEX IF NOT EXISTS idx_snapshots_at   ON risk_snapshots(created_at DESC);
`

// SQLiteStore implements ports.Store on a single SQLite file (pure Go,
// sin CGo).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore abre (o crea) la base de datos en la ruta dada,
// activa WAL y aplica el schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStore: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		`PRAGMA journal_mode=WAL`,
		`PRAGMA busy_timeout=5000`,
		`PRAGMA foreign_keys=ON`,
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("storage.NewSQLiteStore: %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStore: apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// IntegrityCheck runs PRAGMA integrity_check (tier-3 health, once a day
// during the settlement pass).
func (s *SQLiteStore) IntegrityCheck(ctx context.Context) error {
	var result string
	if err := s.db.QueryRowContext(ctx, `PRAGMA integrity_check`).Scan(&result); err != nil {
		return fmt.Errorf("storage.IntegrityCheck: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("storage.IntegrityCheck: %s", result)
	}
	return nil
}

// Close cierra la conexión a la base de datos.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- time helpers ---

// ts serializa un instante como RFC3339 UTC; cadena vacía para zero time.
func ts(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTS es el inverso de ts. Tolerante con valores vacíos o NULL.
func parseTS(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
