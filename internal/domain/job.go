package domain

import "time"

// JobSide distinguishes the two legs of a bothside position.
type JobSide string

const (
	SideDirectional JobSide = "directional"
	SideHedge       JobSide = "hedge"
)

// JobStatus is the trade job state machine.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobExecuting JobStatus = "executing"
	JobDCAActive JobStatus = "dca_active"
	JobExecuted  JobStatus = "executed"
	JobFailed    JobStatus = "failed"
	JobSkipped   JobStatus = "skipped"
	JobExpired   JobStatus = "expired"
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions,
// other than failed → expired when the execution window closes.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobExecuted, JobSkipped, JobExpired, JobCancelled:
		return true
	}
	return false
}

// allowedTransitions encodes the job state machine. The pending → executing
// claim additionally requires a row-level CAS in the store.
var allowedTransitions = map[JobStatus][]JobStatus{
	JobPending:   {JobExecuting, JobExpired},
	JobExecuting: {JobExecuted, JobDCAActive, JobFailed, JobSkipped, JobPending},
	JobDCAActive: {JobExecuted},
	JobFailed:    {JobExecuting, JobExpired},
}

// CanTransition reports whether from → to is a legal job transition.
// executing → pending is crash recovery only.
func CanTransition(from, to JobStatus) bool {
	for _, t := range allowedTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// MergeStatus tracks the redeem lifecycle of an executed leg.
type MergeStatus string

const (
	MergeNone      MergeStatus = "none"
	MergeEligible  MergeStatus = "eligible"
	MergeSimulated MergeStatus = "simulated"
	MergeExecuted  MergeStatus = "executed"
	MergeFailed    MergeStatus = "failed"
	MergeSkipped   MergeStatus = "skipped"
)

// TradeJob is one leg of a per-game trade: one row per (event_slug, side).
// Terminal rows are never deleted; they are the audit trail.
type TradeJob struct {
	ID             int64
	GameDate       string // YYYY-MM-DD, US Eastern
	EventSlug      string
	HomeTeam       string
	AwayTeam       string
	GameTimeUTC    time.Time
	ExecuteAfter   time.Time
	ExecuteBefore  time.Time
	Side           JobSide
	Status         JobStatus
	RetryCount     int
	MergeStatus    MergeStatus
	DCAGroupID     string  // uuid linking the initial entry and its DCA follow-ons
	DCABudgetUSD   float64 // total pre-sized budget the DCA group rebalances toward
	BothsideGroupID string // uuid shared by the directional and its hedge
	PairedJobID    int64  // the other leg's row id, 0 if unpaired
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// InWindow reports whether the execution window is open at t.
func (j TradeJob) InWindow(t time.Time) bool {
	return !t.Before(j.ExecuteAfter) && t.Before(j.ExecuteBefore)
}

// JobSummary is the per-date status histogram used in tick summaries.
type JobSummary struct {
	Pending   int
	Executing int
	DCAActive int
	Executed  int
	Failed    int
	Skipped   int
	Expired   int
}
