package onchain

// safe.go — merge executor for a 1-of-1 Gnosis Safe proxy wallet.
//
// The Safe holds the outcome tokens; the owner EOA signs the Safe's
// EIP-712 transaction hash and submits execTransaction, paying gas itself.
// safeTxGas=0 makes an inner failure revert the whole call (GS013) and
// preserves the Safe nonce.

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
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/alejandrodnm/courtbot/internal/domain"
)

var safeABI abi.ABI

func init() {
	var err error
	safeABI, err = abi.JSON(strings.NewReader(`[
		{
			"name": "nonce", "type": "function", "stateMutability": "view",
			"inputs": [], "outputs": [{"name": "", "type": "uint256"}]
		},
		{
			"name": "getThreshold", "type": "function", "stateMutability": "view",
			"inputs": [], "outputs": [{"name": "", "type": "uint256"}]
		},
		{
			"name": "getOwners", "type": "function", "stateMutability": "view",
			"inputs": [], "outputs": [{"name": "", "type": "address[]"}]
		},
		{
			"name": "VERSION", "type": "function", "stateMutability": "view",
			"inputs": [], "outputs": [{"name": "", "type": "string"}]
		},
		{
			"name": "getTransactionHash", "type": "function", "stateMutability": "view",
			"inputs": [
				{"name": "to", "type": "address"},
				{"name": "value", "type": "uint256"},
				{"name": "data", "type": "bytes"},
				{"name": "operation", "type": "uint8"},
				{"name": "safeTxGas", "type": "uint256"},
				{"name": "baseGas", "type": "uint256"},
				{"name": "gasPrice", "type": "uint256"},
				{"name": "gasToken", "type": "address"},
				{"name": "refundReceiver", "type": "address"},
				{"name": "_nonce", "type": "uint256"}
			],
			"outputs": [{"name": "", "type": "bytes32"}]
		},
		{
			"name": "execTransaction", "type": "function", "stateMutability": "payable",
			"inputs": [
				{"name": "to", "type": "address"},
				{"name": "value", "type": "uint256"},
				{"name": "data", "type": "bytes"},
				{"name": "operation", "type": "uint8"},
				{"name": "safeTxGas", "type": "uint256"},
				{"name": "baseGas", "type": "uint256"},
				{"name": "gasPrice", "type": "uint256"},
				{"name": "gasToken", "type": "address"},
				{"name": "refundReceiver", "type": "address"},
				{"name": "signatures", "type": "bytes"}
			],
			"outputs": [{"name": "success", "type": "bool"}]
		}
	]`))
	if err != nil {
		panic("safe abi parse: " + err.Error())
	}
}

// SafeMergeClient implements ports.MergeExecutor through a 1-of-1 Safe.
type SafeMergeClient struct {
	*chain
	safeAddr common.Address
}

// NewSafeMergeClient creates a proxy merge executor. ValidateSafe should
// be called once on startup before the first merge.
func NewSafeMergeClient(rpcURL, privateKeyHex, safeAddress string) (*SafeMergeClient, error) {
	if !common.IsHexAddress(safeAddress) {
		return nil, fmt.Errorf("safe: invalid address %q", safeAddress)
	}
	ch, err := dialChain(rpcURL, privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("safe: %w", err)
	}
	return &SafeMergeClient{chain: ch, safeAddr: common.HexToAddress(safeAddress)}, nil
}

// Kind identifies the wallet class backing this executor.
func (sc *SafeMergeClient) Kind() domain.WalletKind { return domain.WalletProxy }

// EstimateGasCostUSD returns the estimated gas cost in USD for one merge
// routed through execTransaction.
func (sc *SafeMergeClient) EstimateGasCostUSD(ctx context.Context) (float64, error) {
	return sc.estimateGasCostUSD(ctx, safeExecGasLimit)
}

// ValidateSafe checks that the proxy is a supported 1-of-1 Safe owned by
// our signing EOA.
func (sc *SafeMergeClient) ValidateSafe(ctx context.Context) error {
	var version string
	if err := sc.callSafe(ctx, "VERSION", &version); err != nil {
		return fmt.Errorf("safe: version check: %w", err)
	}
	if !strings.HasPrefix(version, "1.3.") && !strings.HasPrefix(version, "1.4.") {
		return fmt.Errorf("safe: unsupported version %s", version)
	}

	var threshold *big.Int
	if err := sc.callSafe(ctx, "getThreshold", &threshold); err != nil {
		return fmt.Errorf("safe: threshold check: %w", err)
	}
	if threshold.Cmp(big.NewInt(1)) != 0 {
		return fmt.Errorf("safe: multisig not supported (threshold %s)", threshold)
	}

	var owners []common.Address
	if err := sc.callSafe(ctx, "getOwners", &owners); err != nil {
		return fmt.Errorf("safe: owners check: %w", err)
	}
	for _, o := range owners {
		if o == sc.address {
			return nil
		}
	}
	return fmt.Errorf("safe: signer %s is not an owner", sc.address.Hex())
}

// MergePositions routes a CTF merge through the Safe.
func (sc *SafeMergeClient) MergePositions(ctx context.Context, conditionID string, amountShares float64, negRisk bool) (domain.MergeReceipt, error) {
	if negRisk {
		return domain.MergeReceipt{}, fmt.Errorf("safe merge: neg-risk markets not supported")
	}
	if amountShares <= 0 {
		return domain.MergeReceipt{}, fmt.Errorf("safe merge: non-positive amount %.4f", amountShares)
	}

	innerData, err := mergeCallData(conditionID, amountShares)
	if err != nil {
		return domain.MergeReceipt{}, fmt.Errorf("safe merge: pack: %w", err)
	}

	execData, err := sc.buildExecTransaction(ctx, common.HexToAddress(ctfAddress), innerData)
	if err != nil {
		return domain.MergeReceipt{}, fmt.Errorf("safe merge: %w", err)
	}

	receipt, txHash, gasCostUSD, err := sc.sendTx(ctx, sc.safeAddr, safeExecGasLimit, execData, 120*time.Second)
	if err != nil {
		return domain.MergeReceipt{TxHash: txHash}, fmt.Errorf("safe merge: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return domain.MergeReceipt{TxHash: txHash}, fmt.Errorf("safe merge: tx reverted: %s", txHash)
	}

	slog.Info("safe merge: confirmed",
		"safe", sc.safeAddr.Hex(),
		"tx", txHash,
		"shares", amountShares,
		"gas_usd", fmt.Sprintf("$%.4f", gasCostUSD),
	)
	return domain.MergeReceipt{TxHash: txHash, GasCostUSD: gasCostUSD}, nil
}

// buildExecTransaction computes the Safe tx hash for the inner call, signs
// it with the owner key and packs the execTransaction calldata.
func (sc *SafeMergeClient) buildExecTransaction(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	var safeNonce *big.Int
	if err := sc.callSafe(ctx, "nonce", &safeNonce); err != nil {
		return nil, fmt.Errorf("safe nonce: %w", err)
	}

	zero := common.Address{}
	hashCall, err := safeABI.Pack("getTransactionHash",
		to, big.NewInt(0), data, uint8(0),
		big.NewInt(0), big.NewInt(0), big.NewInt(0),
		zero, zero, safeNonce,
	)
	if err != nil {
		return nil, fmt.Errorf("pack getTransactionHash: %w", err)
	}

	result, err := sc.client.CallContract(ctx, ethereum.CallMsg{To: &sc.safeAddr, Data: hashCall}, nil)
	if err != nil {
		return nil, fmt.Errorf("getTransactionHash: %w", err)
	}
	vals, err := safeABI.Unpack("getTransactionHash", result)
	if err != nil || len(vals) == 0 {
		return nil, fmt.Errorf("unpack getTransactionHash: %w", err)
	}
	txHash := vals[0].([32]byte)

	// Raw ECDSA over the EIP-712 hash; v stays 27/28 for the Safe's
	// verification path.
	sig, err := crypto.Sign(txHash[:], sc.privateKey)
	if err != nil {
		return nil, fmt.Errorf("sign safe tx: %w", err)
	}
	sig[64] += 27

	return safeABI.Pack("execTransaction",
		to, big.NewInt(0), data, uint8(0),
		big.NewInt(0), big.NewInt(0), big.NewInt(0),
		zero, zero, sig,
	)
}

// callSafe executes a view function on the Safe and unpacks the single
// return value into out (a pointer).
func (sc *SafeMergeClient) callSafe(ctx context.Context, method string, out any) error {
	callData, err := safeABI.Pack(method)
	if err != nil {
		return err
	}
	result, err := sc.client.CallContract(ctx, ethereum.CallMsg{To: &sc.safeAddr, Data: callData}, nil)
	if err != nil {
		return err
	}
	return safeABI.UnpackIntoInterface(out, method, result)
}
