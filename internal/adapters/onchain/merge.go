package onchain

// merge.go — On-chain CTF merge executor for an EOA wallet.
//
// The CTF (Conditional Token Framework) mergePositions() function converts
// matched outcome-token pairs back into USDC.e collateral:
//   100 HOME shares + 100 AWAY shares → $100 USDC.e

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alejandrodnm/courtbot/internal/domain"
)

// Contract ABIs
var (
	ctfABI     abi.ABI
	erc1155ABI abi.ABI
	erc20ABI   abi.ABI
)

func init() {
	var err error

	ctfABI, err = abi.JSON(strings.NewReader(`[
		{
			"name": "mergePositions",
			"type": "function",
			"inputs": [
				{"name": "collateralToken", "type": "address"},
				{"name": "parentCollectionId", "type": "bytes32"},
				{"name": "conditionId", "type": "bytes32"},
				{"name": "partition", "type": "uint256[]"},
				{"name": "amount", "type": "uint256"}
			],
			"outputs": []
		}
	]`))
	if err != nil {
		panic("ctf abi parse: " + err.Error())
	}

	erc1155ABI, err = abi.JSON(strings.NewReader(`[
		{
			"name": "setApprovalForAll",
			"type": "function",
			"inputs": [
				{"name": "operator", "type": "address"},
				{"name": "approved", "type": "bool"}
			],
			"outputs": []
		},
		{
			"name": "isApprovedForAll",
			"type": "function",
			"inputs": [
				{"name": "account", "type": "address"},
				{"name": "operator", "type": "address"}
			],
			"outputs": [{"name": "", "type": "bool"}]
		}
	]`))
	if err != nil {
		panic("erc1155 abi parse: " + err.Error())
	}

	erc20ABI, err = abi.JSON(strings.NewReader(`[
		{
			"name": "approve",
			"type": "function",
			"inputs": [
				{"name": "spender", "type": "address"},
				{"name": "amount", "type": "uint256"}
			],
			"outputs": [{"name": "", "type": "bool"}]
		},
		{
			"name": "allowance",
			"type": "function",
			"inputs": [
				{"name": "owner", "type": "address"},
				{"name": "spender", "type": "address"}
			],
			"outputs": [{"name": "", "type": "uint256"}]
		}
	]`))
	if err != nil {
		panic("erc20 abi parse: " + err.Error())
	}
}

// mergeCallData packs the CTF mergePositions calldata shared by both
// executors.
func mergeCallData(conditionID string, shares float64) ([]byte, error) {
	condBytes, err := hexToBytes32(conditionID)
	if err != nil {
		return nil, fmt.Errorf("invalid conditionID: %w", err)
	}
	partition := []*big.Int{big.NewInt(1), big.NewInt(2)}
	return ctfABI.Pack("mergePositions",
		common.HexToAddress(usdcEAddress),
		[32]byte{},
		condBytes,
		partition,
		sharesToWei(shares),
	)
}

// MergeClient implements ports.MergeExecutor for an EOA that holds the
// outcome tokens directly.
type MergeClient struct {
	*chain
}

// NewMergeClient creates an EOA merge executor connected to the given
// Polygon RPC. privateKeyHex is without 0x prefix.
func NewMergeClient(rpcURL, privateKeyHex string) (*MergeClient, error) {
	ch, err := dialChain(rpcURL, privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}
	return &MergeClient{chain: ch}, nil
}

// Kind identifies the wallet class backing this executor.
func (mc *MergeClient) Kind() domain.WalletKind { return domain.WalletEOA }

// EstimateGasCostUSD returns the estimated gas cost in USD for one merge.
func (mc *MergeClient) EstimateGasCostUSD(ctx context.Context) (float64, error) {
	return mc.estimateGasCostUSD(ctx, mergeGasLimit)
}

// MergePositions executes an on-chain merge for the given condition.
// amountShares is in share units (10.0 = 10 share pairs → $10 USDC.e).
// NegRisk markets are refused — they require the NegRisk adapter with a
// market-specific parentCollectionId.
func (mc *MergeClient) MergePositions(ctx context.Context, conditionID string, amountShares float64, negRisk bool) (domain.MergeReceipt, error) {
	if negRisk {
		return domain.MergeReceipt{}, fmt.Errorf("merge: neg-risk markets not supported")
	}
	if amountShares <= 0 {
		return domain.MergeReceipt{}, fmt.Errorf("merge: non-positive amount %.4f", amountShares)
	}

	callData, err := mergeCallData(conditionID, amountShares)
	if err != nil {
		return domain.MergeReceipt{}, fmt.Errorf("merge: pack: %w", err)
	}

	ctfAddr := common.HexToAddress(ctfAddress)

	gasPrice, err := mc.getGasPrice(ctx)
	if err != nil {
		return domain.MergeReceipt{}, fmt.Errorf("merge: gas price: %w", err)
	}
	gasEstimate, err := mc.client.EstimateGas(ctx, ethereum.CallMsg{
		From:     mc.address,
		To:       &ctfAddr,
		GasPrice: gasPrice,
		Data:     callData,
	})
	if err != nil {
		gasEstimate = mergeGasLimit
		slog.Warn("merge: gas estimate failed, using default", "err", err, "limit", mergeGasLimit)
	}
	gasEstimate = gasEstimate * 12 / 10 // 20% buffer

	receipt, txHash, gasCostUSD, err := mc.sendTx(ctx, ctfAddr, gasEstimate, callData, 60*time.Second)
	if err != nil {
		return domain.MergeReceipt{TxHash: txHash}, fmt.Errorf("merge: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return domain.MergeReceipt{TxHash: txHash}, fmt.Errorf("merge: tx reverted: %s", txHash)
	}

	slog.Info("merge: confirmed",
		"condition", conditionID[:min(12, len(conditionID))]+"...",
		"tx", txHash,
		"shares", amountShares,
		"gas_usd", fmt.Sprintf("$%.4f", gasCostUSD),
	)
	return domain.MergeReceipt{TxHash: txHash, GasCostUSD: gasCostUSD}, nil
}

// EnsureApprovals checks and sets both:
//   - ERC1155 setApprovalForAll on the three exchange contracts (for token transfers)
//   - ERC20 USDC.e approve for both exchange contracts (for BUY collateral)
func (mc *MergeClient) EnsureApprovals(ctx context.Context) error {
	operators := []string{normalExchange, negRiskExchange, negRiskAdapter}

	for _, op := range operators {
		approved, err := mc.isApprovedForAll(ctx, common.HexToAddress(op))
		if err != nil {
			return fmt.Errorf("check ERC1155 approval for %s: %w", op, err)
		}
		if approved {
			slog.Debug("merge: ERC1155 approval already set", "operator", op)
			continue
		}

		slog.Info("merge: setting ERC1155 approval", "operator", op)
		if err := mc.setApprovalForAll(ctx, common.HexToAddress(op)); err != nil {
			return fmt.Errorf("set ERC1155 approval for %s: %w", op, err)
		}
	}

	exchanges := []string{normalExchange, negRiskExchange}
	maxUint256 := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	minAllowance := new(big.Int).Mul(big.NewInt(1_000_000), big.NewInt(1_000_000)) // 1M USDC.e

	for _, ex := range exchanges {
		allowance, err := mc.erc20Allowance(ctx, common.HexToAddress(usdcEAddress), common.HexToAddress(ex))
		if err != nil {
			return fmt.Errorf("check USDC.e allowance for %s: %w", ex, err)
		}
		if allowance.Cmp(minAllowance) >= 0 {
			slog.Debug("merge: USDC.e allowance sufficient", "exchange", ex)
			continue
		}

		slog.Info("merge: setting USDC.e approval", "exchange", ex)
		if err := mc.erc20Approve(ctx, common.HexToAddress(usdcEAddress), common.HexToAddress(ex), maxUint256); err != nil {
			return fmt.Errorf("set USDC.e approval for %s: %w", ex, err)
		}
	}

	return nil
}

// isApprovedForAll checks ERC1155 approval for an operator on the CTF contract.
func (mc *MergeClient) isApprovedForAll(ctx context.Context, operator common.Address) (bool, error) {
	callData, err := erc1155ABI.Pack("isApprovedForAll", mc.address, operator)
	if err != nil {
		return false, err
	}

	ctfAddr := common.HexToAddress(ctfAddress)
	result, err := mc.client.CallContract(ctx, ethereum.CallMsg{
		To:   &ctfAddr,
		Data: callData,
	}, nil)
	if err != nil {
		return false, err
	}

	vals, err := erc1155ABI.Unpack("isApprovedForAll", result)
	if err != nil || len(vals) == 0 {
		return false, err
	}
	return vals[0].(bool), nil
}

// setApprovalForAll sends a setApprovalForAll transaction on the CTF contract.
func (mc *MergeClient) setApprovalForAll(ctx context.Context, operator common.Address) error {
	callData, err := erc1155ABI.Pack("setApprovalForAll", operator, true)
	if err != nil {
		return err
	}

	receipt, _, _, err := mc.sendTx(ctx, common.HexToAddress(ctfAddress), approvalGasLimit, callData, 30*time.Second)
	if err != nil {
		return err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("setApprovalForAll tx reverted")
	}
	return nil
}

// erc20Allowance queries the current ERC20 allowance.
func (mc *MergeClient) erc20Allowance(ctx context.Context, token, spender common.Address) (*big.Int, error) {
	callData, err := erc20ABI.Pack("allowance", mc.address, spender)
	if err != nil {
		return nil, err
	}

	result, err := mc.client.CallContract(ctx, ethereum.CallMsg{
		To:   &token,
		Data: callData,
	}, nil)
	if err != nil {
		return nil, err
	}

	vals, err := erc20ABI.Unpack("allowance", result)
	if err != nil || len(vals) == 0 {
		return big.NewInt(0), err
	}
	return vals[0].(*big.Int), nil
}

// erc20Approve sends an ERC20 approve transaction.
func (mc *MergeClient) erc20Approve(ctx context.Context, token, spender common.Address, amount *big.Int) error {
	callData, err := erc20ABI.Pack("approve", spender, amount)
	if err != nil {
		return err
	}

	receipt, _, _, err := mc.sendTx(ctx, token, approvalGasLimit, callData, 30*time.Second)
	if err != nil {
		return err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("ERC20 approve tx reverted")
	}
	return nil
}
