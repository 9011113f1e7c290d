package quote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/altgrid/sweeper/internal/registry"
)

// ═══════════════════════════════════════════════════════════════════════════════
// AGGREGATOR CLIENT - Firm quotes and swap calldata
// ═══════════════════════════════════════════════════════════════════════════════
//
// Talks to a ParaSwap-compatible aggregator:
//   GET  /prices            → priceRoute with USD legs and gas estimate
//   POST /transactions/{id} → swap calldata for a priceRoute
//
// External payloads are decoded into explicit validated result types at
// this boundary; nothing downstream touches raw JSON.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Quote is a validated firm quote for a single swap.
type Quote struct {
	SrcUSD     decimal.Decimal
	DestUSD    decimal.Decimal
	GasCostUSD decimal.Decimal
	DestAmount *big.Int
	Spender    common.Address // token transfer proxy for allowance
	PriceRoute json.RawMessage
}

// BuildRequest asks the aggregator for swap calldata. SlippageBps and
// DestAmount are mutually exclusive risk controls; the settlement engine
// rejects requests carrying both.
type BuildRequest struct {
	ChainID      int64
	SrcToken     registry.Token
	DestToken    registry.Token
	Amount       *big.Int
	UserAddress  common.Address
	PriceRoute   json.RawMessage
	SlippageBps  int64
	DestAmount   *big.Int
	IgnoreChecks bool
}

// BuildResult is validated, ready-to-sign transaction material.
type BuildResult struct {
	To       common.Address
	Data     []byte
	Value    *big.Int
	Gas      uint64
	GasPrice *big.Int
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates an aggregator client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// priceResponse mirrors the aggregator's /prices payload.
type priceResponse struct {
	PriceRoute struct {
		SrcUSD             string          `json:"srcUSD"`
		DestUSD            string          `json:"destUSD"`
		GasCostUSD         string          `json:"gasCostUSD"`
		DestAmount         string          `json:"destAmount"`
		TokenTransferProxy string          `json:"tokenTransferProxy"`
		Raw                json.RawMessage `json:"-"`
	} `json:"priceRoute"`
	Error string `json:"error"`
}

// GetQuote requests a sell-side quote for amount of src into dest.
func (c *Client) GetQuote(ctx context.Context, src, dest registry.Token, amount *big.Int, chainID int64) (*Quote, error) {
	q := url.Values{}
	q.Set("srcToken", src.Address.Hex())
	q.Set("destToken", dest.Address.Hex())
	q.Set("srcDecimals", strconv.FormatInt(int64(src.Decimals), 10))
	q.Set("destDecimals", strconv.FormatInt(int64(dest.Decimals), 10))
	q.Set("amount", amount.String())
	q.Set("side", "SELL")
	q.Set("network", strconv.FormatInt(chainID, 10))

	body, err := c.get(ctx, "/prices?"+q.Encode())
	if err != nil {
		return nil, err
	}

	// Keep the raw priceRoute: the build endpoint wants it echoed back.
	var envelope struct {
		PriceRoute json.RawMessage `json:"priceRoute"`
		Error      string          `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("parse quote response: %w", err)
	}
	if envelope.Error != "" {
		return nil, fmt.Errorf("aggregator error: %s", envelope.Error)
	}
	if len(envelope.PriceRoute) == 0 {
		return nil, fmt.Errorf("quote response missing priceRoute")
	}

	var pr priceResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		return nil, fmt.Errorf("parse price route: %w", err)
	}

	srcUSD, err := decimal.NewFromString(pr.PriceRoute.SrcUSD)
	if err != nil {
		return nil, fmt.Errorf("invalid srcUSD %q: %w", pr.PriceRoute.SrcUSD, err)
	}
	destUSD, err := decimal.NewFromString(pr.PriceRoute.DestUSD)
	if err != nil {
		return nil, fmt.Errorf("invalid destUSD %q: %w", pr.PriceRoute.DestUSD, err)
	}
	gasUSD, err := decimal.NewFromString(pr.PriceRoute.GasCostUSD)
	if err != nil {
		return nil, fmt.Errorf("invalid gasCostUSD %q: %w", pr.PriceRoute.GasCostUSD, err)
	}
	destAmount, ok := new(big.Int).SetString(pr.PriceRoute.DestAmount, 10)
	if !ok {
		return nil, fmt.Errorf("invalid destAmount %q", pr.PriceRoute.DestAmount)
	}

	return &Quote{
		SrcUSD:     srcUSD,
		DestUSD:    destUSD,
		GasCostUSD: gasUSD,
		DestAmount: destAmount,
		Spender:    common.HexToAddress(pr.PriceRoute.TokenTransferProxy),
		PriceRoute: envelope.PriceRoute,
	}, nil
}

// Build requests swap calldata for a previously obtained price route.
func (c *Client) Build(ctx context.Context, req BuildRequest) (*BuildResult, error) {
	payload := map[string]interface{}{
		"srcToken":     req.SrcToken.Address.Hex(),
		"destToken":    req.DestToken.Address.Hex(),
		"srcDecimals":  req.SrcToken.Decimals,
		"destDecimals": req.DestToken.Decimals,
		"srcAmount":    req.Amount.String(),
		"priceRoute":   req.PriceRoute,
		"userAddress":  req.UserAddress.Hex(),
	}
	if req.DestAmount != nil {
		payload["destAmount"] = req.DestAmount.String()
	} else {
		payload["slippage"] = req.SlippageBps
	}

	path := fmt.Sprintf("/transactions/%d", req.ChainID)
	if req.IgnoreChecks {
		path += "?ignoreChecks=true"
	}

	body, err := c.post(ctx, path, payload)
	if err != nil {
		return nil, err
	}

	var result struct {
		To       string `json:"to"`
		Data     string `json:"data"`
		Value    string `json:"value"`
		Gas      uint64 `json:"gas"`
		GasPrice string `json:"gasPrice"`
		Error    string `json:"error"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parse build response: %w", err)
	}
	if result.Error != "" {
		return nil, fmt.Errorf("build error: %s", result.Error)
	}
	if result.To == "" || result.Data == "" {
		return nil, fmt.Errorf("build response missing transaction fields")
	}

	data, err := hexutil.Decode(result.Data)
	if err != nil {
		return nil, fmt.Errorf("invalid calldata: %w", err)
	}
	value := big.NewInt(0)
	if result.Value != "" {
		if _, ok := value.SetString(result.Value, 10); !ok {
			return nil, fmt.Errorf("invalid tx value %q", result.Value)
		}
	}
	var gasPrice *big.Int
	if result.GasPrice != "" {
		gasPrice, _ = new(big.Int).SetString(result.GasPrice, 10)
	}

	return &BuildResult{
		To:       common.HexToAddress(result.To),
		Data:     data,
		Value:    value,
		Gas:      result.Gas,
		GasPrice: gasPrice,
	}, nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// HTTP HELPERS
// ═══════════════════════════════════════════════════════════════════════════════

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	return c.doRequest(req)
}

func (c *Client) post(ctx context.Context, path string, body interface{}) ([]byte, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.doRequest(req)
}

func (c *Client) doRequest(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		log.Debug().Int("status", resp.StatusCode).Str("path", req.URL.Path).Msg("Aggregator request failed")
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncate(string(body), 200))
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
