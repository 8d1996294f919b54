package onchain

// client.go — shared Polygon RPC plumbing for the merge executors: gas
// price caching, POL/USD pricing for cost estimates, receipt polling and
// EIP-155 transaction signing.

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

const (
	polygonChainID = int64(137)

	// USDC.e collateral on Polygon
	usdcEAddress = "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"

	// CTF contract — holds conditional tokens (ERC1155)
	ctfAddress = "0x4D97DCd97eC945f40cF65F87097ACe5EA0476045"

	// Exchange contracts that need ERC1155 setApprovalForAll
	normalExchange  = "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E"
	negRiskExchange = "0xC5d563A36AE78145C45a50134d48A1215220f80a"
	negRiskAdapter  = "0xd91E80cF2E7be2e162c6513ceD06f1dD0dA35296"

	// Gas limits (conservative upper bounds)
	mergeGasLimit    = uint64(200_000)
	approvalGasLimit = uint64(80_000)
	safeExecGasLimit = uint64(400_000)

	// POL price fallback (USD) — used when no oracle available
	polPriceFallbackUSD = 0.12

	gasPriceUpdateInterval = 5 * time.Minute
)

// chain bundles the RPC connection, the signing key and the price caches
// shared by both executors.
type chain struct {
	client     *ethclient.Client
	privateKey *ecdsa.PrivateKey
	address    common.Address // owner EOA
	httpClient *http.Client

	mu             sync.RWMutex
	cachedGasWei   *big.Int
	gasUpdatedAt   time.Time
	cachedPOLPrice float64
	polPriceAt     time.Time
}

func dialChain(rpcURL, privateKeyHex string) (*chain, error) {
	privKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("onchain: invalid private key: %w", err)
	}

	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("onchain: dial rpc %s: %w", rpcURL, err)
	}

	return &chain{
		client:     client,
		privateKey: privKey,
		address:    crypto.PubkeyToAddress(privKey.PublicKey),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// estimateGasCostUSD prices a transaction of gasLimit at the current gas
// price and POL/USD rate.
func (c *chain) estimateGasCostUSD(ctx context.Context, gasLimit uint64) (float64, error) {
	gasPrice, err := c.getGasPrice(ctx)
	if err != nil {
		return c.polPriceUSD() * float64(gasLimit) * 100e-9, nil
	}

	gasCostPOL := new(big.Float).SetInt(new(big.Int).Mul(gasPrice, big.NewInt(int64(gasLimit))))
	gasCostPOL.Quo(gasCostPOL, new(big.Float).SetFloat64(1e18))

	gasCostPOLf, _ := gasCostPOL.Float64()
	return gasCostPOLf * c.polPriceUSD(), nil
}

// polPriceUSD returns the cached POL price, refreshing from CoinGecko if stale.
func (c *chain) polPriceUSD() float64 {
	c.mu.RLock()
	price := c.cachedPOLPrice
	updatedAt := c.polPriceAt
	c.mu.RUnlock()

	if price > 0 && time.Since(updatedAt) < 15*time.Minute {
		return price
	}

	fetched, err := c.fetchPOLPrice()
	if err != nil {
		slog.Warn("onchain: failed to fetch POL price, using fallback", "err", err)
		if price > 0 {
			return price
		}
		return polPriceFallbackUSD
	}

	c.mu.Lock()
	c.cachedPOLPrice = fetched
	c.polPriceAt = time.Now()
	c.mu.Unlock()

	return fetched
}

// fetchPOLPrice queries CoinGecko for the current POL/USD price.
func (c *chain) fetchPOLPrice() (float64, error) {
	const url = "https://api.coingecko.com/api/v3/simple/price?ids=polygon-ecosystem-token&vs_currencies=usd"

	resp, err := c.httpClient.Get(url)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("coingecko status %d: %s", resp.StatusCode, body)
	}

	var data map[string]map[string]float64
	if err := json.Unmarshal(body, &data); err != nil {
		return 0, err
	}

	price, ok := data["polygon-ecosystem-token"]["usd"]
	if !ok || price <= 0 {
		return 0, fmt.Errorf("POL price not found in response")
	}
	return price, nil
}

// getGasPrice returns the current gas price with a 10% inclusion buffer,
// cached to avoid excessive RPC calls.
func (c *chain) getGasPrice(ctx context.Context) (*big.Int, error) {
	c.mu.RLock()
	cached := c.cachedGasWei
	updatedAt := c.gasUpdatedAt
	c.mu.RUnlock()

	if cached != nil && time.Since(updatedAt) < gasPriceUpdateInterval {
		return cached, nil
	}

	price, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		if cached != nil {
			return cached, nil
		}
		return big.NewInt(30_000_000_000), nil // 30 gwei fallback
	}

	buffered := new(big.Int).Mul(price, big.NewInt(11))
	buffered.Div(buffered, big.NewInt(10))

	c.mu.Lock()
	c.cachedGasWei = buffered
	c.gasUpdatedAt = time.Now()
	c.mu.Unlock()

	return buffered, nil
}

// sendTx signs and submits a legacy transaction to `to`, then waits for
// the receipt. Returns the receipt, the tx hash and the gas cost in USD.
func (c *chain) sendTx(ctx context.Context, to common.Address, gasLimit uint64, callData []byte, waitTimeout time.Duration) (*types.Receipt, string, float64, error) {
	nonce, err := c.client.PendingNonceAt(ctx, c.address)
	if err != nil {
		return nil, "", 0, fmt.Errorf("nonce: %w", err)
	}

	gasPrice, err := c.getGasPrice(ctx)
	if err != nil {
		return nil, "", 0, fmt.Errorf("gas price: %w", err)
	}

	tx := types.NewTransaction(nonce, to, big.NewInt(0), gasLimit, gasPrice, callData)
	signed, err := types.SignTx(tx, types.NewEIP155Signer(big.NewInt(polygonChainID)), c.privateKey)
	if err != nil {
		return nil, "", 0, fmt.Errorf("sign tx: %w", err)
	}

	if err := c.client.SendTransaction(ctx, signed); err != nil {
		return nil, "", 0, fmt.Errorf("send tx: %w", err)
	}
	txHash := signed.Hash().Hex()

	receiptCtx, cancel := context.WithTimeout(ctx, waitTimeout)
	defer cancel()

	receipt, err := c.waitForReceipt(receiptCtx, signed.Hash())
	if err != nil {
		return nil, txHash, 0, fmt.Errorf("wait receipt %s: %w", txHash, err)
	}

	gasCost := new(big.Float).SetUint64(receipt.GasUsed)
	gasCost.Mul(gasCost, new(big.Float).SetInt(gasPrice))
	gasCost.Quo(gasCost, new(big.Float).SetFloat64(1e18))
	gasCostPOL, _ := gasCost.Float64()

	return receipt, txHash, gasCostPOL * c.polPriceUSD(), nil
}

// waitForReceipt polls for a transaction receipt until confirmed or timeout.
func (c *chain) waitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			receipt, err := c.client.TransactionReceipt(ctx, txHash)
			if err != nil {
				continue // not yet mined
			}
			return receipt, nil
		}
	}
}

// hexToBytes32 converts a 0x-prefixed hex string to [32]byte.
func hexToBytes32(s string) ([32]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	if len(s) != 64 {
		return [32]byte{}, fmt.Errorf("expected 64 hex chars, got %d", len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return [32]byte{}, err
	}
	var arr [32]byte
	copy(arr[:], b)
	return arr, nil
}

// sharesToWei converts a share amount to the 6-decimal on-chain unit.
func sharesToWei(shares float64) *big.Int {
	return new(big.Int).SetInt64(int64(shares * 1_000_000))
}
