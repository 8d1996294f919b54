package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/courtbot/internal/domain"
)

// Store persists all trading state. Backed by a single SQLite file in WAL
// mode; see the storage adapter for the schema.
type Store interface {
	// Jobs
	UpsertTradeJob(ctx context.Context, job domain.TradeJob) (inserted bool, err error)
	GetJob(ctx context.Context, id int64) (domain.TradeJob, error)
	GetJobBySlugSide(ctx context.Context, slug string, side domain.JobSide) (domain.TradeJob, error)
	GetEligibleJobs(ctx context.Context, now time.Time) ([]domain.TradeJob, error)
	GetExecutingJobs(ctx context.Context) ([]domain.TradeJob, error)
	GetDCAActiveJobs(ctx context.Context, now time.Time) ([]domain.TradeJob, error)
	GetMergeCandidates(ctx context.Context) ([][2]domain.TradeJob, error)
	ClaimJob(ctx context.Context, id int64) (bool, error)
	UpdateJobStatus(ctx context.Context, id int64, status domain.JobStatus) error
	IncrementJobRetry(ctx context.Context, id int64) error
	SetJobPairing(ctx context.Context, id, pairedID int64) error
	SetJobDCAGroup(ctx context.Context, id int64, dcaGroupID string, budgetUSD float64) error
	SetJobMergeStatus(ctx context.Context, id int64, status domain.MergeStatus) error
	ExpireStaleJobs(ctx context.Context, now time.Time) (int, error)
	GetJobSummary(ctx context.Context, gameDate string) (domain.JobSummary, error)

	// Signals
	InsertSignal(ctx context.Context, sig domain.Signal) (int64, error)
	GetSignal(ctx context.Context, id int64) (domain.Signal, error)
	GetSignalsByDCAGroup(ctx context.Context, dcaGroupID string) ([]domain.Signal, error)
	GetSignalsByBothsideGroup(ctx context.Context, groupID string) ([]domain.Signal, error)
	HasSignalForSlugRole(ctx context.Context, slug string, role domain.SignalRole) (bool, error)
	GetOpenOrderSignals(ctx context.Context, limit int) ([]domain.Signal, error)
	UpdateOrderStatus(ctx context.Context, id int64, status domain.OrderStatus, shares, vwap, feeUSD float64) error
	UpdateOrderOnReplace(ctx context.Context, id int64, newOrderID string, newPrice float64) error
	AddMergeCredit(ctx context.Context, id int64, shares, recoveryUSD float64) error
	GetUnsettledSignals(ctx context.Context) ([]domain.Signal, error)
	GetDailyOrderStats(ctx context.Context, day time.Time) (count int, exposureUSD float64, err error)
	GetOpenDCABudgets(ctx context.Context) (unfilledUSD float64, err error)
	GetOpenExposure(ctx context.Context, slug string) (totalUSD, gameUSD float64, err error)

	// Order events
	AppendOrderEvent(ctx context.Context, ev domain.OrderEvent) error
	GetOrderEvents(ctx context.Context, signalID int64) ([]domain.OrderEvent, error)

	// Merge operations
	InsertMergeOperation(ctx context.Context, op domain.MergeOperation) (int64, error)
	UpdateMergeOperation(ctx context.Context, op domain.MergeOperation) error
	GetMergeOperation(ctx context.Context, bothsideGroupID string) (domain.MergeOperation, error)

	// Results
	InsertResult(ctx context.Context, res domain.Result) error
	HasResult(ctx context.Context, signalID int64) (bool, error)
	GetResultsSince(ctx context.Context, since time.Time) ([]domain.Result, error)
	GetRecentResults(ctx context.Context, n int) ([]domain.Result, error)
	GetDailyPnLs(ctx context.Context, days int) ([]float64, error)
	GetCalibrationSamples(ctx context.Context, limit int) ([]domain.CalibrationSample, error)

	// Risk
	SaveRiskSnapshot(ctx context.Context, snap domain.RiskSnapshot) error
	LatestRiskSnapshot(ctx context.Context) (domain.RiskSnapshot, bool, error)
	InsertBreakerEvent(ctx context.Context, ev domain.BreakerEvent) error
	LastBreakerTransition(ctx context.Context, into domain.RiskLevel) (domain.BreakerEvent, bool, error)
	AckBreaker(ctx context.Context, id int64) error

	// Health
	IntegrityCheck(ctx context.Context) error

	Close() error
}
