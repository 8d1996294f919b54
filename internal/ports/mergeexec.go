package ports

import (
	"context"

	"github.com/alejandrodnm/courtbot/internal/domain"
)

// MergeExecutor redeems matched opposing share pairs back to collateral.
// Implementations exist for an EOA signer and a 1-of-1 proxy wallet.
type MergeExecutor interface {
	// Kind identifies the wallet class backing this executor.
	Kind() domain.WalletKind

	// MergePositions burns amount shares of each outcome of conditionID and
	// recovers amount USD of collateral, minus gas.
	MergePositions(ctx context.Context, conditionID string, amountShares float64, negRisk bool) (domain.MergeReceipt, error)

	// EstimateGasCostUSD estimates the cost of one merge call.
	EstimateGasCostUSD(ctx context.Context) (float64, error)
}
