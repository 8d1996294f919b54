package polymarket

// trading.go — Real order execution via Polymarket CLOB API.
//
// Implements the write half of ports.MarketClient using AuthClient for
// L1/L2 auth. All orders are GTC (good-till-cancelled) limit bids below
// the ask; the order manager owns their later lifecycle.

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alejandrodnm/courtbot/internal/domain"
)

// clobOrderRequest is the JSON body sent to POST /order.
type clobOrderRequest struct {
	Order     clobOrderBody `json:"order"`
	Owner     string        `json:"owner"`
	OrderType string        `json:"orderType"`
}

type clobOrderBody struct {
	Salt          json.Number `json:"salt"`
	Maker         string      `json:"maker"`
	Signer        string      `json:"signer"`
	Taker         string      `json:"taker"`
	TokenID       string      `json:"tokenId"`
	MakerAmount   string      `json:"makerAmount"`
	TakerAmount   string      `json:"takerAmount"`
	Expiration    string      `json:"expiration"`
	Nonce         string      `json:"nonce"`
	FeeRateBps    string      `json:"feeRateBps"`
	Side          string      `json:"side"`
	SignatureType int         `json:"signatureType"`
	Signature     string      `json:"signature"`
}

type clobOrderResponse struct {
	ErrorMsg     string `json:"errorMsg"`
	OrderID      string `json:"orderID"`
	TakingAmount string `json:"takingAmount"`
	MakingAmount string `json:"makingAmount"`
	Status       string `json:"status"`
	Success      bool   `json:"success"`
}

// clobOrder is the CLOB's view of a single order (GET /order/{id}).
type clobOrder struct {
	ID           string `json:"id"`
	AssetID      string `json:"asset_id"`
	Market       string `json:"market"`
	Side         string `json:"side"`
	OriginalSize string `json:"original_size"`
	SizeMatched  string `json:"size_matched"`
	Price        string `json:"price"`
	FeeRateBps   string `json:"fee_rate_bps"`
	Status       string `json:"status"`
	CreatedAt    string `json:"created_at"`
}

type clobCancelResponse struct {
	Canceled    []string          `json:"canceled"`
	NotCanceled map[string]string `json:"not_canceled"`
}

const (
	usdcEAddress = "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"
	ctfAddress   = "0x4D97DCd97eC945f40cF65F87097ACe5EA0476045"
)

var (
	balanceOfABI     abi.ABI
	balanceOfERC1155 abi.ABI
)

func init() {
	var err error
	balanceOfABI, err = abi.JSON(strings.NewReader(`[{
		"name":"balanceOf","type":"function",
		"inputs":[{"name":"account","type":"address"}],
		"outputs":[{"name":"","type":"uint256"}]
	}]`))
	if err != nil {
		panic("balanceOf abi: " + err.Error())
	}
	balanceOfERC1155, err = abi.JSON(strings.NewReader(`[{
		"name":"balanceOf","type":"function",
		"inputs":[{"name":"account","type":"address"},{"name":"id","type":"uint256"}],
		"outputs":[{"name":"","type":"uint256"}]
	}]`))
	if err != nil {
		panic("balanceOf erc1155 abi: " + err.Error())
	}
}

// TradingClient implements ports.MarketClient: reads via the embedded
// AuthClient/Client, writes via the authenticated CLOB endpoints.
type TradingClient struct {
	*AuthClient
	rpcClient *ethclient.Client
}

// NewTradingClient creates a TradingClient. rpcURL is used for on-chain
// balance checks.
func NewTradingClient(auth *AuthClient, rpcURL string) (*TradingClient, error) {
	rpc, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("trading: dial rpc: %w", err)
	}
	return &TradingClient{AuthClient: auth, rpcClient: rpc}, nil
}

// PlaceLimitBuy signs and submits a BUY maker limit order to the CLOB.
func (tc *TradingClient) PlaceLimitBuy(ctx context.Context, req domain.PlaceOrderRequest) (domain.PlacedOrder, error) {
	if err := tc.EnsureCreds(ctx); err != nil {
		return domain.PlacedOrder{}, fmt.Errorf("place order: creds: %w", err)
	}

	signed, err := tc.buildSignedOrder(req.TokenID, req.Price, req.SizeUSD, req.NegRisk)
	if err != nil {
		return domain.PlacedOrder{}, fmt.Errorf("place order: sign: %w", err)
	}

	body := clobOrderRequest{
		Order: clobOrderBody{
			Salt:          json.Number(signed.Order.Salt.String()),
			Maker:         signed.Order.Maker.Hex(),
			Signer:        signed.Order.Signer.Hex(),
			Taker:         signed.Order.Taker.Hex(),
			TokenID:       req.TokenID,
			MakerAmount:   signed.Order.MakerAmount.String(),
			TakerAmount:   signed.Order.TakerAmount.String(),
			Expiration:    signed.Order.Expiration.String(),
			Nonce:         signed.Order.Nonce.String(),
			FeeRateBps:    signed.Order.FeeRateBps.String(),
			Side:          "BUY",
			SignatureType: int(signed.Order.SignatureType.Int64()),
			Signature:     "0x" + hex.EncodeToString(signed.Signature),
		},
		Owner:     tc.creds.APIKey,
		OrderType: "GTC",
	}

	var resp clobOrderResponse
	if err := tc.doL2(ctx, http.MethodPost, "/order", body, &resp); err != nil {
		return domain.PlacedOrder{}, fmt.Errorf("place order: post: %w", err)
	}

	if !resp.Success || resp.ErrorMsg != "" {
		return domain.PlacedOrder{}, fmt.Errorf("place order: clob error: %s", resp.ErrorMsg)
	}

	return domain.PlacedOrder{
		OrderID:     resp.OrderID,
		Status:      resp.Status,
		TakenAmount: parseUSDC(resp.TakingAmount),
		MadeAmount:  parseUSDC(resp.MakingAmount),
	}, nil
}

// CancelOrder cancels a resting order. Returns false with nil error when
// the CLOB reports the order already gone (filled or previously canceled).
func (tc *TradingClient) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	if err := tc.EnsureCreds(ctx); err != nil {
		return false, fmt.Errorf("cancel order: creds: %w", err)
	}

	var resp clobCancelResponse
	err := tc.doL2(ctx, http.MethodDelete, "/order/"+orderID, nil, &resp)
	if err != nil {
		if strings.Contains(err.Error(), "not found") || strings.Contains(err.Error(), "already") {
			return false, nil
		}
		return false, fmt.Errorf("cancel order %s: %w", orderID, err)
	}

	for _, id := range resp.Canceled {
		if id == orderID {
			return true, nil
		}
	}
	if _, stuck := resp.NotCanceled[orderID]; stuck {
		return false, nil
	}
	// Some deployments answer 200 with an empty body.
	return true, nil
}

// GetOrder returns the fill state of one of our orders.
func (tc *TradingClient) GetOrder(ctx context.Context, orderID string) (domain.OrderState, error) {
	if err := tc.EnsureCreds(ctx); err != nil {
		return domain.OrderState{}, fmt.Errorf("get order: creds: %w", err)
	}

	var o clobOrder
	if err := tc.doL2(ctx, http.MethodGet, "/data/order/"+orderID, nil, &o); err != nil {
		return domain.OrderState{}, fmt.Errorf("get order %s: %w", orderID, err)
	}
	return mapOrderState(o), nil
}

// CancelAndReplace cancels the old order and places a replacement at the
// new price. Best effort: when the cancel reports the order already gone,
// no replacement is placed and the zero PlacedOrder is returned so the
// caller re-checks the fill state.
func (tc *TradingClient) CancelAndReplace(ctx context.Context, orderID string, req domain.PlaceOrderRequest) (domain.PlacedOrder, error) {
	cancelled, err := tc.CancelOrder(ctx, orderID)
	if err != nil {
		return domain.PlacedOrder{}, fmt.Errorf("replace: cancel: %w", err)
	}
	if !cancelled {
		return domain.PlacedOrder{}, nil
	}
	placed, err := tc.PlaceLimitBuy(ctx, req)
	if err != nil {
		return domain.PlacedOrder{}, fmt.Errorf("replace: place: %w", err)
	}
	return placed, nil
}

// GetBalanceUSD returns the on-chain USDC.e balance of the funder address.
func (tc *TradingClient) GetBalanceUSD(ctx context.Context) (float64, error) {
	callData, err := balanceOfABI.Pack("balanceOf", tc.funder)
	if err != nil {
		return 0, fmt.Errorf("get balance: pack: %w", err)
	}

	token := common.HexToAddress(usdcEAddress)
	result, err := tc.rpcClient.CallContract(ctx, ethereum.CallMsg{
		To:   &token,
		Data: callData,
	}, nil)
	if err != nil {
		return 0, fmt.Errorf("get balance: rpc call: %w", err)
	}

	vals, err := balanceOfABI.Unpack("balanceOf", result)
	if err != nil || len(vals) == 0 {
		return 0, fmt.Errorf("get balance: unpack: %w", err)
	}

	raw := vals[0].(*big.Int)
	bal, _ := new(big.Float).Quo(new(big.Float).SetInt(raw), new(big.Float).SetFloat64(1e6)).Float64()
	return bal, nil
}

// IsNegRisk queries the CLOB to determine if a token uses the NegRisk
// adapter contract.
func (tc *TradingClient) IsNegRisk(ctx context.Context, tokenID string) (bool, error) {
	url := fmt.Sprintf("%s/neg-risk?token_id=%s", tc.clobBase, tokenID)

	var resp clobNegRiskResponse
	if err := tc.get(ctx, tc.clobLimiter, url, &resp); err != nil {
		return false, fmt.Errorf("neg-risk check: %w", err)
	}
	return resp.NegRisk, nil
}

// TokenBalance returns the on-chain ERC-1155 balance of an outcome token
// held by the funder. Returns shares — e.g. 13.51 means 13.51 shares.
func (tc *TradingClient) TokenBalance(ctx context.Context, tokenID string) (float64, error) {
	tid := new(big.Int)
	if _, ok := tid.SetString(tokenID, 10); !ok {
		tidBytes, err := hex.DecodeString(strings.TrimPrefix(tokenID, "0x"))
		if err != nil {
			return 0, fmt.Errorf("token balance: invalid token ID: %s", tokenID)
		}
		tid.SetBytes(tidBytes)
	}

	callData, err := balanceOfERC1155.Pack("balanceOf", tc.funder, tid)
	if err != nil {
		return 0, fmt.Errorf("token balance: pack: %w", err)
	}

	ctf := common.HexToAddress(ctfAddress)
	result, err := tc.rpcClient.CallContract(ctx, ethereum.CallMsg{
		To:   &ctf,
		Data: callData,
	}, nil)
	if err != nil {
		return 0, fmt.Errorf("token balance: call: %w", err)
	}

	vals, err := balanceOfERC1155.Unpack("balanceOf", result)
	if err != nil || len(vals) == 0 {
		return 0, fmt.Errorf("token balance: unpack: %w", err)
	}

	raw := vals[0].(*big.Int)
	shares := new(big.Float).SetInt(raw)
	shares.Quo(shares, big.NewFloat(1e6))
	f, _ := shares.Float64()
	return f, nil
}

// mapOrderState converts a CLOB order to the domain view. Sizes come back
// in plain share units; fills happen at the limit price for maker orders.
func mapOrderState(o clobOrder) domain.OrderState {
	price := domain.ParsePrice(o.Price)
	filled := domain.ParsePrice(o.SizeMatched)
	feeBps := domain.ParsePrice(o.FeeRateBps)

	status := strings.ToUpper(o.Status)
	switch {
	case strings.Contains(status, "MATCHED"):
		status = "MATCHED"
	case strings.Contains(status, "CANCEL") || strings.Contains(status, "INVALID"):
		status = "CANCELED"
	case strings.Contains(status, "EXPIRED"):
		status = "EXPIRED"
	default:
		status = "LIVE"
	}

	return domain.OrderState{
		Status:       status,
		FilledShares: filled,
		AvgPrice:     price,
		FeeRateBps:   feeBps,
		FeeUSD:       filled * price * feeBps / 10_000,
	}
}

// parseUSDC converts a micro-USDC string (e.g., "1000000") to USDC float.
func parseUSDC(s string) float64 {
	if s == "" {
		return 0
	}
	n := new(big.Int)
	n.SetString(s, 10)
	f, _ := new(big.Float).SetInt(n).Float64()
	return f / 1_000_000
}
