package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/alejandrodnm/courtbot/internal/domain"
)

const mergeColumns = `id, bothside_group_id, event_slug, COALESCE(condition_id, ''),
	shares_merged, combined_vwap, recovery_usd, gas_cost_usd, net_profit_usd,
	COALESCE(tx_hash, ''), status, COALESCE(error, ''), retry_count,
	created_at, updated_at`

func scanMergeOp(row interface{ Scan(...any) error }) (domain.MergeOperation, error) {
	var op domain.MergeOperation
	var created, updated string
	err := row.Scan(
		&op.ID, &op.BothsideGroupID, &op.EventSlug, &op.ConditionID,
		&op.SharesMerged, &op.CombinedVWAP, &op.RecoveryUSD, &op.GasCostUSD, &op.NetProfitUSD,
		&op.TxHash, &op.Status, &op.Error, &op.RetryCount,
		&created, &updated,
	)
	if err != nil {
		return domain.MergeOperation{}, err
	}
	op.CreatedAt = parseTS(created)
	op.UpdatedAt = parseTS(updated)
	return op, nil
}

// InsertMergeOperation records a merge attempt in 'pending' (or the status
// given) before any chain interaction, so a crash mid-merge is visible.
func (s *SQLiteStore) InsertMergeOperation(ctx context.Context, op domain.MergeOperation) (int64, error) {
	now := ts(time.Now())
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO merge_operations
			(bothside_group_id, event_slug, condition_id, shares_merged,
			 combined_vwap, recovery_usd, gas_cost_usd, net_profit_usd,
			 tx_hash, status, error, retry_count, created_at, updated_at)
		VALUES (?, ?, NULLIF(?, ''), ?, ?, ?, ?, ?, NULLIF(?, ''), ?, NULLIF(?, ''), ?, ?, ?)
	`,
		op.BothsideGroupID, op.EventSlug, op.ConditionID, op.SharesMerged,
		op.CombinedVWAP, op.RecoveryUSD, op.GasCostUSD, op.NetProfitUSD,
		op.TxHash, op.Status, op.Error, op.RetryCount, now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("storage.InsertMergeOperation: %s: %w", op.EventSlug, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("storage.InsertMergeOperation: last id: %w", err)
	}
	return id, nil
}

// UpdateMergeOperation persists the outcome of a merge attempt.
func (s *SQLiteStore) UpdateMergeOperation(ctx context.Context, op domain.MergeOperation) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE merge_operations SET
			shares_merged = ?, combined_vwap = ?, recovery_usd = ?,
			gas_cost_usd = ?, net_profit_usd = ?, tx_hash = NULLIF(?, ''),
			status = ?, error = NULLIF(?, ''), retry_count = ?, updated_at = ?
		WHERE id = ?
	`,
		op.SharesMerged, op.CombinedVWAP, op.RecoveryUSD,
		op.GasCostUSD, op.NetProfitUSD, op.TxHash,
		op.Status, op.Error, op.RetryCount, ts(time.Now()),
		op.ID,
	)
	if err != nil {
		return fmt.Errorf("storage.UpdateMergeOperation: %d: %w", op.ID, err)
	}
	return nil
}

// GetMergeOperation returns the most recent merge op for a bothside group.
func (s *SQLiteStore) GetMergeOperation(ctx context.Context, bothsideGroupID string) (domain.MergeOperation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+mergeColumns+` FROM merge_operations
		WHERE bothside_group_id = ? ORDER BY id DESC LIMIT 1
	`, bothsideGroupID)
	op, err := scanMergeOp(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.MergeOperation{}, ErrNotFound
	}
	if err != nil {
		return domain.MergeOperation{}, fmt.Errorf("storage.GetMergeOperation: %s: %w", bothsideGroupID, err)
	}
	return op, nil
}
