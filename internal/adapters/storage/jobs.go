package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/alejandrodnm/courtbot/internal/domain"
)

// ErrNotFound is returned when a row lookup finds nothing.
var ErrNotFound = errors.New("storage: not found")

const jobColumns = `id, game_date, event_slug, home_team, away_team,
	game_time_utc, execute_after, execute_before, job_side, status,
	retry_count, merge_status,
	COALESCE(dca_group_id, ''), dca_budget_usd, COALESCE(bothside_group_id, ''),
	COALESCE(paired_job_id, 0), created_at, updated_at`

func scanJob(row interface{ Scan(...any) error }) (domain.TradeJob, error) {
	var j domain.TradeJob
	var gameTime, after, before, created, updated string
	err := row.Scan(
		&j.ID, &j.GameDate, &j.EventSlug, &j.HomeTeam, &j.AwayTeam,
		&gameTime, &after, &before, &j.Side, &j.Status,
		&j.RetryCount, &j.MergeStatus,
		&j.DCAGroupID, &j.DCABudgetUSD, &j.BothsideGroupID,
		&j.PairedJobID, &created, &updated,
	)
	if err != nil {
		return domain.TradeJob{}, err
	}
	j.GameTimeUTC = parseTS(gameTime)
	j.ExecuteAfter = parseTS(after)
	j.ExecuteBefore = parseTS(before)
	j.CreatedAt = parseTS(created)
	j.UpdatedAt = parseTS(updated)
	return j, nil
}

// UpsertTradeJob inserts a job if (event_slug, job_side) is new. Existing
// rows only get their game time and window refreshed, never their status —
// discovery must not resurrect terminal jobs.
func (s *SQLiteStore) UpsertTradeJob(ctx context.Context, job domain.TradeJob) (bool, error) {
	now := ts(time.Now())

	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM trade_jobs WHERE event_slug = ? AND job_side = ?`,
		job.EventSlug, job.Side).Scan(&exists)
	switch {
	case err == nil:
		_, err = s.db.ExecContext(ctx, `
			UPDATE trade_jobs SET game_time_utc = ?, execute_after = ?,
				execute_before = ?, updated_at = ?
			WHERE event_slug = ? AND job_side = ?
		`, ts(job.GameTimeUTC), ts(job.ExecuteAfter), ts(job.ExecuteBefore), now,
			job.EventSlug, job.Side)
		if err != nil {
			return false, fmt.Errorf("storage.UpsertTradeJob: refresh %s/%s: %w", job.EventSlug, job.Side, err)
		}
		return false, nil
	case errors.Is(err, sql.ErrNoRows):
		// fallthrough to insert; the UNIQUE constraint still backstops a
		// concurrent writer.
	default:
		return false, fmt.Errorf("storage.UpsertTradeJob: probe %s/%s: %w", job.EventSlug, job.Side, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO trade_jobs
			(game_date, event_slug, home_team, away_team, game_time_utc,
			 execute_after, execute_before, job_side, status, merge_status,
			 dca_group_id, bothside_group_id, paired_job_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, 0), ?, ?)
		ON CONFLICT(event_slug, job_side) DO NOTHING
		`,
		job.GameDate, job.EventSlug, job.HomeTeam, job.AwayTeam, ts(job.GameTimeUTC),
		ts(job.ExecuteAfter), ts(job.ExecuteBefore), job.Side, statusOrPending(job.Status), mergeOrNone(job.MergeStatus),
		job.DCAGroupID, job.BothsideGroupID, job.PairedJobID, now, now,
	)
	if err != nil {
		return false, fmt.Errorf("storage.UpsertTradeJob: %s/%s: %w", job.EventSlug, job.Side, err)
	}
	return true, nil
}

func statusOrPending(st domain.JobStatus) domain.JobStatus {
	if st == "" {
		return domain.JobPending
	}
	return st
}

func mergeOrNone(st domain.MergeStatus) domain.MergeStatus {
	if st == "" {
		return domain.MergeNone
	}
	return st
}

// GetJob devuelve un job por id.
func (s *SQLiteStore) GetJob(ctx context.Context, id int64) (domain.TradeJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM trade_jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.TradeJob{}, ErrNotFound
	}
	if err != nil {
		return domain.TradeJob{}, fmt.Errorf("storage.GetJob: %d: %w", id, err)
	}
	return j, nil
}

// GetJobBySlugSide devuelve el job de un (event_slug, side).
func (s *SQLiteStore) GetJobBySlugSide(ctx context.Context, slug string, side domain.JobSide) (domain.TradeJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM trade_jobs WHERE event_slug = ? AND job_side = ?`, slug, side)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.TradeJob{}, ErrNotFound
	}
	if err != nil {
		return domain.TradeJob{}, fmt.Errorf("storage.GetJobBySlugSide: %s/%s: %w", slug, side, err)
	}
	return j, nil
}

// GetEligibleJobs returns pending (and retryable failed) jobs whose window
// is open at `now`, ordered by (tipoff ASC, slug ASC) for deterministic
// dispatch.
func (s *SQLiteStore) GetEligibleJobs(ctx context.Context, now time.Time) ([]domain.TradeJob, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM trade_jobs
		WHERE status IN ('pending', 'failed')
		  AND execute_after <= ? AND execute_before > ?
		ORDER BY game_time_utc ASC, event_slug ASC
	`, ts(now), ts(now))
	if err != nil {
		return nil, fmt.Errorf("storage.GetEligibleJobs: %w", err)
	}
	return collectJobs(rows)
}

// GetExecutingJobs returns jobs stuck in 'executing' (crash recovery).
func (s *SQLiteStore) GetExecutingJobs(ctx context.Context) ([]domain.TradeJob, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM trade_jobs WHERE status = 'executing' ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("storage.GetExecutingJobs: %w", err)
	}
	return collectJobs(rows)
}

// GetDCAActiveJobs returns dca_active jobs still inside their window.
func (s *SQLiteStore) GetDCAActiveJobs(ctx context.Context, now time.Time) ([]domain.TradeJob, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM trade_jobs
		WHERE status = 'dca_active' AND execute_before > ?
		ORDER BY game_time_utc ASC, event_slug ASC
	`, ts(now))
	if err != nil {
		return nil, fmt.Errorf("storage.GetDCAActiveJobs: %w", err)
	}
	return collectJobs(rows)
}

// GetMergeCandidates returns paired (directional, hedge) jobs where both
// legs are executed and neither has started a merge.
func (s *SQLiteStore) GetMergeCandidates(ctx context.Context) ([][2]domain.TradeJob, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM trade_jobs d
		WHERE d.job_side = 'directional'
		  AND d.status IN ('executed', 'dca_active')
		  AND d.merge_status = 'none'
		  AND d.paired_job_id IS NOT NULL
		ORDER BY d.game_time_utc ASC, d.event_slug ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("storage.GetMergeCandidates: %w", err)
	}
	dirs, err := collectJobs(rows)
	if err != nil {
		return nil, err
	}

	var pairs [][2]domain.TradeJob
	for _, d := range dirs {
		h, err := s.GetJob(ctx, d.PairedJobID)
		if err != nil {
			continue
		}
		if h.Status != domain.JobExecuted || h.MergeStatus != domain.MergeNone {
			continue
		}
		if d.Status != domain.JobExecuted {
			continue
		}
		pairs = append(pairs, [2]domain.TradeJob{d, h})
	}
	return pairs, nil
}

// ClaimJob performs the atomic pending → executing CAS. Returns false when
// another tick already claimed the row.
func (s *SQLiteStore) ClaimJob(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE trade_jobs SET status = 'executing', updated_at = ?
		WHERE id = ? AND status IN ('pending', 'failed')
	`, ts(time.Now()), id)
	if err != nil {
		return false, fmt.Errorf("storage.ClaimJob: %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("storage.ClaimJob: rows affected: %w", err)
	}
	return n == 1, nil
}

// UpdateJobStatus sets the job status. Transition legality is the
// dispatcher's responsibility; the store only records it.
func (s *SQLiteStore) UpdateJobStatus(ctx context.Context, id int64, status domain.JobStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE trade_jobs SET status = ?, updated_at = ? WHERE id = ?`,
		status, ts(time.Now()), id)
	if err != nil {
		return fmt.Errorf("storage.UpdateJobStatus: %d → %s: %w", id, status, err)
	}
	return nil
}

// IncrementJobRetry suma 1 al retry_count.
func (s *SQLiteStore) IncrementJobRetry(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE trade_jobs SET retry_count = retry_count + 1, updated_at = ? WHERE id = ?`,
		ts(time.Now()), id)
	if err != nil {
		return fmt.Errorf("storage.IncrementJobRetry: %d: %w", id, err)
	}
	return nil
}

// SetJobPairing links the two legs of a bothside pair (arena style: each
// row carries the other's integer id).
func (s *SQLiteStore) SetJobPairing(ctx context.Context, id, pairedID int64) error {
	now := ts(time.Now())
	_, err := s.db.ExecContext(ctx,
		`UPDATE trade_jobs SET paired_job_id = ?, updated_at = ? WHERE id = ?`,
		pairedID, now, id)
	if err != nil {
		return fmt.Errorf("storage.SetJobPairing: %d↔%d: %w", id, pairedID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE trade_jobs SET paired_job_id = ?, updated_at = ? WHERE id = ?`,
		id, now, pairedID)
	if err != nil {
		return fmt.Errorf("storage.SetJobPairing: %d↔%d: %w", pairedID, id, err)
	}
	return nil
}

// SetJobDCAGroup records the uuid linking the job's DCA entries and the
// budget sized at the initial entry. The budget is fixed for the life of
// the group; follow-on entries rebalance toward it.
func (s *SQLiteStore) SetJobDCAGroup(ctx context.Context, id int64, dcaGroupID string, budgetUSD float64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE trade_jobs SET dca_group_id = ?, dca_budget_usd = ?, updated_at = ? WHERE id = ?`,
		dcaGroupID, budgetUSD, ts(time.Now()), id)
	if err != nil {
		return fmt.Errorf("storage.SetJobDCAGroup: %d: %w", id, err)
	}
	return nil
}

// SetJobMergeStatus actualiza el estado de merge del leg.
func (s *SQLiteStore) SetJobMergeStatus(ctx context.Context, id int64, status domain.MergeStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE trade_jobs SET merge_status = ?, updated_at = ? WHERE id = ?`,
		status, ts(time.Now()), id)
	if err != nil {
		return fmt.Errorf("storage.SetJobMergeStatus: %d → %s: %w", id, status, err)
	}
	return nil
}

// ExpireStaleJobs marks pending/failed jobs past their window as expired
// and completes dca_active groups whose window closed. Returns the number
// of rows touched.
func (s *SQLiteStore) ExpireStaleJobs(ctx context.Context, now time.Time) (int, error) {
	nowStr := ts(now)
	res, err := s.db.ExecContext(ctx, `
		UPDATE trade_jobs SET status = 'expired', updated_at = ?
		WHERE status IN ('pending', 'failed') AND execute_before <= ?
	`, nowStr, nowStr)
	if err != nil {
		return 0, fmt.Errorf("storage.ExpireStaleJobs: expire: %w", err)
	}
	expired, _ := res.RowsAffected()

	// DCA past its window is complete, not expired — the group already
	// holds inventory.
	res, err = s.db.ExecContext(ctx, `
		UPDATE trade_jobs SET status = 'executed', updated_at = ?
		WHERE status = 'dca_active' AND execute_before <= ?
	`, nowStr, nowStr)
	if err != nil {
		return int(expired), fmt.Errorf("storage.ExpireStaleJobs: complete dca: %w", err)
	}
	completed, _ := res.RowsAffected()

	return int(expired + completed), nil
}

// GetJobSummary devuelve el histograma de estados para una fecha.
func (s *SQLiteStore) GetJobSummary(ctx context.Context, gameDate string) (domain.JobSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM trade_jobs WHERE game_date = ? GROUP BY status`, gameDate)
	if err != nil {
		return domain.JobSummary{}, fmt.Errorf("storage.GetJobSummary: %w", err)
	}
	defer rows.Close()

	var sum domain.JobSummary
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return domain.JobSummary{}, fmt.Errorf("storage.GetJobSummary: scan: %w", err)
		}
		switch domain.JobStatus(status) {
		case domain.JobPending:
			sum.Pending = n
		case domain.JobExecuting:
			sum.Executing = n
		case domain.JobDCAActive:
			sum.DCAActive = n
		case domain.JobExecuted:
			sum.Executed = n
		case domain.JobFailed:
			sum.Failed = n
		case domain.JobSkipped:
			sum.Skipped = n
		case domain.JobExpired:
			sum.Expired = n
		}
	}
	return sum, rows.Err()
}

func collectJobs(rows *sql.Rows) ([]domain.TradeJob, error) {
	defer rows.Close()
	var jobs []domain.TradeJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}
