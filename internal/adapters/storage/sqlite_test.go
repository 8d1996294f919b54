package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/alejandrodnm/courtbot/internal/adapters/storage"
	"github.com/alejandrodnm/courtbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	db, err := storage.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func makeJob(slug string, side domain.JobSide, tipoff time.Time) domain.TradeJob {
	return domain.TradeJob{
		GameDate:      "2026-01-15",
		EventSlug:     slug,
		HomeTeam:      "BOS",
		AwayTeam:      "LAL",
		GameTimeUTC:   tipoff,
		ExecuteAfter:  tipoff.Add(-8 * time.Hour),
		ExecuteBefore: tipoff,
		Side:          side,
	}
}

func TestUpsertTradeJob_InsertThenRefresh(t *testing.T) {
	db := openStore(t)
	ctx := context.Background()
	tipoff := time.Now().UTC().Add(4 * time.Hour).Truncate(time.Second)

	inserted, err := db.UpsertTradeJob(ctx, makeJob("nba-lal-bos-2026-01-15", domain.SideDirectional, tipoff))
	require.NoError(t, err)
	assert.True(t, inserted)

	// Second discovery of the same game refreshes the window, not the status.
	job, err := db.GetJobBySlugSide(ctx, "nba-lal-bos-2026-01-15", domain.SideDirectional)
	require.NoError(t, err)
	require.NoError(t, db.UpdateJobStatus(ctx, job.ID, domain.JobExecuted))

	inserted, err = db.UpsertTradeJob(ctx, makeJob("nba-lal-bos-2026-01-15", domain.SideDirectional, tipoff.Add(time.Hour)))
	require.NoError(t, err)
	assert.False(t, inserted)

	job, err = db.GetJobBySlugSide(ctx, "nba-lal-bos-2026-01-15", domain.SideDirectional)
	require.NoError(t, err)
	assert.Equal(t, domain.JobExecuted, job.Status)
	assert.Equal(t, tipoff.Add(time.Hour), job.GameTimeUTC)
}

func TestClaimJob_SecondClaimLoses(t *testing.T) {
	db := openStore(t)
	ctx := context.Background()
	tipoff := time.Now().UTC().Add(2 * time.Hour)

	_, err := db.UpsertTradeJob(ctx, makeJob("nba-lal-bos-2026-01-15", domain.SideDirectional, tipoff))
	require.NoError(t, err)
	job, err := db.GetJobBySlugSide(ctx, "nba-lal-bos-2026-01-15", domain.SideDirectional)
	require.NoError(t, err)

	// Two ticks race for the same pending job; the CAS lets exactly one win.
	won, err := db.ClaimJob(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = db.ClaimJob(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, won)
}

func TestExpireStaleJobs(t *testing.T) {
	db := openStore(t)
	ctx := context.Background()
	past := time.Now().UTC().Add(-1 * time.Hour)

	_, err := db.UpsertTradeJob(ctx, makeJob("nba-lal-bos-2026-01-15", domain.SideDirectional, past))
	require.NoError(t, err)
	_, err = db.UpsertTradeJob(ctx, makeJob("nba-gsw-mia-2026-01-15", domain.SideDirectional, past))
	require.NoError(t, err)

	dcaJob, err := db.GetJobBySlugSide(ctx, "nba-gsw-mia-2026-01-15", domain.SideDirectional)
	require.NoError(t, err)
	require.NoError(t, db.UpdateJobStatus(ctx, dcaJob.ID, domain.JobDCAActive))

	n, err := db.ExpireStaleJobs(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Pending past its window expires; an active DCA group completes.
	job, err := db.GetJobBySlugSide(ctx, "nba-lal-bos-2026-01-15", domain.SideDirectional)
	require.NoError(t, err)
	assert.Equal(t, domain.JobExpired, job.Status)

	job, err = db.GetJobBySlugSide(ctx, "nba-gsw-mia-2026-01-15", domain.SideDirectional)
	require.NoError(t, err)
	assert.Equal(t, domain.JobExecuted, job.Status)
}

func TestInsertSignal_DuplicateSequenceRejected(t *testing.T) {
	db := openStore(t)
	ctx := context.Background()

	sig := domain.Signal{
		JobID:      1,
		EventSlug:  "nba-lal-bos-2026-01-15",
		Team:       "LAL",
		TokenID:    "0xtoken",
		Side:       "BUY",
		LimitPrice: 0.39,
		SizeUSD:    100,
		OrderStatus: domain.OrderPlaced,
		Role:       domain.RoleDirectional,
		DCAGroupID: "group-1",
		DCASequence: 1,
	}
	_, err := db.InsertSignal(ctx, sig)
	require.NoError(t, err)

	_, err = db.InsertSignal(ctx, sig)
	assert.Error(t, err, "UNIQUE(job_id, dca_sequence) must reject the duplicate")
}

func TestUpdateOrderStatus_NeverRegresses(t *testing.T) {
	db := openStore(t)
	ctx := context.Background()

	id, err := db.InsertSignal(ctx, domain.Signal{
		JobID: 1, EventSlug: "nba-lal-bos-2026-01-15", Team: "LAL",
		TokenID: "0xtoken", Side: "BUY", LimitPrice: 0.39, SizeUSD: 100,
		OrderStatus: domain.OrderPlaced, Role: domain.RoleDirectional, DCASequence: 1,
	})
	require.NoError(t, err)

	require.NoError(t, db.UpdateOrderStatus(ctx, id, domain.OrderFilled, 256.41, 0.39, 0))

	err = db.UpdateOrderStatus(ctx, id, domain.OrderPlaced, 0, 0, 0)
	assert.Error(t, err, "filled → placed must be rejected")

	sig, err := db.GetSignal(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderFilled, sig.OrderStatus)
	assert.InDelta(t, 256.41, sig.Shares, 0.001)
}

func TestAddMergeCredit_CappedByFills(t *testing.T) {
	db := openStore(t)
	ctx := context.Background()

	id, err := db.InsertSignal(ctx, domain.Signal{
		JobID: 1, EventSlug: "nba-lal-bos-2026-01-15", Team: "LAL",
		TokenID: "0xtoken", Side: "BUY", LimitPrice: 0.42, SizeUSD: 42,
		OrderStatus: domain.OrderPlaced, Role: domain.RoleDirectional, DCASequence: 1,
	})
	require.NoError(t, err)
	require.NoError(t, db.UpdateOrderStatus(ctx, id, domain.OrderFilled, 100, 0.42, 0))

	require.NoError(t, db.AddMergeCredit(ctx, id, 60, 1.80))
	require.NoError(t, db.AddMergeCredit(ctx, id, 40, 1.20))

	// A third credit would push shares_merged past the fills.
	err = db.AddMergeCredit(ctx, id, 1, 0.03)
	assert.Error(t, err)

	sig, err := db.GetSignal(ctx, id)
	require.NoError(t, err)
	assert.InDelta(t, 100, sig.SharesMerged, 1e-9)
	assert.InDelta(t, 3.0, sig.MergeRecoveryUSD, 1e-9)
}

func TestInsertResult_Idempotent(t *testing.T) {
	db := openStore(t)
	ctx := context.Background()

	res := domain.Result{
		SignalID: 7, EventSlug: "nba-lal-bos-2026-01-15",
		Won: true, PnLUSD: 156.41, SettlementPrice: 1.0,
		ScoreHome: 110, ScoreAway: 104,
	}
	require.NoError(t, db.InsertResult(ctx, res))
	require.NoError(t, db.InsertResult(ctx, res)) // second settle pass is a no-op

	ok, err := db.HasResult(ctx, 7)
	require.NoError(t, err)
	assert.True(t, ok)

	results, err := db.GetRecentResults(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestRiskSnapshot_RoundTrip(t *testing.T) {
	db := openStore(t)
	ctx := context.Background()

	_, ok, err := db.LatestRiskSnapshot(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "empty table means no snapshot yet")

	require.NoError(t, db.SaveRiskSnapshot(ctx, domain.RiskSnapshot{
		Level: domain.RiskYellow, SizingMultiplier: 0.5,
		DailyPnL: -20, ConsecLosses: 5, Reason: "consecutive losses",
	}))
	require.NoError(t, db.SaveRiskSnapshot(ctx, domain.RiskSnapshot{
		Level: domain.RiskOrange, SizingMultiplier: 0, DailyPnL: -35,
		Reason: "daily loss limit",
	}))

	snap, ok, err := db.LatestRiskSnapshot(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.RiskOrange, snap.Level)
	assert.InDelta(t, -35, snap.DailyPnL, 1e-9)
}

func TestBreakerEvents_LastTransition(t *testing.T) {
	db := openStore(t)
	ctx := context.Background()

	require.NoError(t, db.InsertBreakerEvent(ctx, domain.BreakerEvent{
		FromLevel: domain.RiskGreen, ToLevel: domain.RiskYellow, Reason: "consec losses",
	}))
	require.NoError(t, db.InsertBreakerEvent(ctx, domain.BreakerEvent{
		FromLevel: domain.RiskYellow, ToLevel: domain.RiskOrange, Reason: "daily loss",
	}))

	ev, ok, err := db.LastBreakerTransition(ctx, domain.RiskOrange)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.RiskYellow, ev.FromLevel)
	assert.False(t, ev.Acked)

	require.NoError(t, db.AckBreaker(ctx, ev.ID))
	ev, ok, err = db.LastBreakerTransition(ctx, domain.RiskOrange)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, ev.Acked)
}

func TestGetEligibleJobs_OrderedByTipoff(t *testing.T) {
	db := openStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := db.UpsertTradeJob(ctx, makeJob("nba-gsw-mia-2026-01-15", domain.SideDirectional, now.Add(3*time.Hour)))
	require.NoError(t, err)
	_, err = db.UpsertTradeJob(ctx, makeJob("nba-lal-bos-2026-01-15", domain.SideDirectional, now.Add(1*time.Hour)))
	require.NoError(t, err)
	_, err = db.UpsertTradeJob(ctx, makeJob("nba-den-phx-2026-01-16", domain.SideDirectional, now.Add(30*time.Hour)))
	require.NoError(t, err) // outside window: execute_after in the future

	jobs, err := db.GetEligibleJobs(ctx, now)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "nba-lal-bos-2026-01-15", jobs[0].EventSlug)
	assert.Equal(t, "nba-gsw-mia-2026-01-15", jobs[1].EventSlug)
}

func TestSetJobDCAGroup_BudgetRemainder(t *testing.T) {
	db := openStore(t)
	ctx := context.Background()
	tipoff := time.Now().UTC().Add(2 * time.Hour)

	_, err := db.UpsertTradeJob(ctx, makeJob("nba-lal-bos-2026-01-15", domain.SideDirectional, tipoff))
	require.NoError(t, err)
	job, err := db.GetJobBySlugSide(ctx, "nba-lal-bos-2026-01-15", domain.SideDirectional)
	require.NoError(t, err)

	require.NoError(t, db.SetJobDCAGroup(ctx, job.ID, "group-1", 20))
	require.NoError(t, db.UpdateJobStatus(ctx, job.ID, domain.JobExecuting))
	require.NoError(t, db.UpdateJobStatus(ctx, job.ID, domain.JobDCAActive))

	job, err = db.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "group-1", job.DCAGroupID)
	assert.InDelta(t, 20.0, job.DCABudgetUSD, 1e-9)

	// $4.72 of the budget is already spent; the rest counts as committed.
	_, err = db.InsertSignal(ctx, domain.Signal{
		JobID: job.ID, EventSlug: job.EventSlug, Team: "BOS",
		TokenID: "0xtoken", Side: "BUY", LimitPrice: 0.59, SizeUSD: 5,
		Shares: 8, VWAP: 0.59, OrderStatus: domain.OrderPaper,
		Role: domain.RoleDirectional, DCAGroupID: "group-1", DCASequence: 1,
	})
	require.NoError(t, err)

	open, err := db.GetOpenDCABudgets(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 20.0-8*0.59, open, 1e-9)
}

func TestGetOpenExposure(t *testing.T) {
	db := openStore(t)
	ctx := context.Background()

	seed := func(jobID int64, slug string, seq int, size float64, status domain.OrderStatus) int64 {
		id, err := db.InsertSignal(ctx, domain.Signal{
			JobID: jobID, EventSlug: slug, Team: "LAL", TokenID: "0xtoken",
			Side: "BUY", LimitPrice: 0.50, SizeUSD: size, Shares: size / 0.50,
			VWAP: 0.50, OrderStatus: status, Role: domain.RoleDirectional,
			DCASequence: seq,
		})
		require.NoError(t, err)
		return id
	}

	seed(1, "nba-lal-bos-2026-01-15", 1, 50, domain.OrderPaper)
	seed(1, "nba-lal-bos-2026-01-15", 2, 30, domain.OrderCancelled) // dead order
	seed(2, "nba-gsw-mia-2026-01-15", 1, 40, domain.OrderFilled)
	settled := seed(2, "nba-gsw-mia-2026-01-15", 2, 25, domain.OrderFilled)
	require.NoError(t, db.InsertResult(ctx, domain.Result{
		SignalID: settled, EventSlug: "nba-gsw-mia-2026-01-15", Won: true, PnLUSD: 25,
	}))

	total, game, err := db.GetOpenExposure(ctx, "nba-lal-bos-2026-01-15")
	require.NoError(t, err)
	assert.InDelta(t, 90.0, total, 1e-9, "settled and cancelled orders are not exposure")
	assert.InDelta(t, 50.0, game, 1e-9)
}

func TestSignalNegRiskRoundTrip(t *testing.T) {
	db := openStore(t)
	ctx := context.Background()

	id, err := db.InsertSignal(ctx, domain.Signal{
		JobID: 1, EventSlug: "nba-lal-bos-2026-01-15", Team: "LAL",
		TokenID: "0xtoken", Side: "BUY", LimitPrice: 0.39, SizeUSD: 10,
		OrderStatus: domain.OrderPlaced, Role: domain.RoleDirectional,
		DCASequence: 1, NegRisk: true,
	})
	require.NoError(t, err)

	sig, err := db.GetSignal(ctx, id)
	require.NoError(t, err)
	assert.True(t, sig.NegRisk, "neg-risk flag must survive persistence for replaces and follow-ons")
}

func TestIntegrityCheck(t *testing.T) {
	db := openStore(t)
	assert.NoError(t, db.IntegrityCheck(context.Background()))
}
