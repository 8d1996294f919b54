package domain

import "time"

// MergeOpStatus is the lifecycle of one redeem call.
type MergeOpStatus string

const (
	MergeOpPending   MergeOpStatus = "pending"
	MergeOpSimulated MergeOpStatus = "simulated"
	MergeOpExecuted  MergeOpStatus = "executed"
	MergeOpFailed    MergeOpStatus = "failed"
)

// MergeOperation records one on-chain (or simulated) merge of opposing
// share pairs back to collateral.
type MergeOperation struct {
	ID              int64
	BothsideGroupID string
	EventSlug       string
	ConditionID     string
	SharesMerged    float64
	CombinedVWAP    float64
	RecoveryUSD     float64
	GasCostUSD      float64
	NetProfitUSD    float64
	TxHash          string
	Status          MergeOpStatus
	Error           string
	RetryCount      int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// WalletKind selects how the merge transaction is executed.
type WalletKind string

const (
	WalletEOA   WalletKind = "eoa"   // externally-owned account, direct call
	WalletProxy WalletKind = "proxy" // 1-of-1 proxy contract, sign-and-forward
)

// SupportsMerge reports whether the wallet class can execute a CTF merge.
// Multi-signature proxies are not supported.
func (w WalletKind) SupportsMerge() bool {
	return w == WalletEOA || w == WalletProxy
}

// MergeReceipt is the adapter's answer to a merge request.
type MergeReceipt struct {
	TxHash     string
	GasCostUSD float64
}
