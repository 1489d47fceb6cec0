// Package relay talks to the order relay that hosts the WETH-DAI book: it
// reads ask snapshots and places market orders for the liquidity matcher.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/fulcrumbot/internal/crypto"
	"github.com/alanyoungcy/fulcrumbot/internal/domain"
)

// rateLimitKey is shared by every worker posting orders to the relay.
const rateLimitKey = "relay:orders"

// Client is the REST client for the order relay.
type Client struct {
	baseURL    string
	httpClient *http.Client
	auth       *crypto.HMACAuth
	taker      common.Address
	limiter    domain.RateLimiter
}

// NewClient creates a relay client. auth and limiter may be nil.
func NewClient(baseURL string, auth *crypto.HMACAuth, taker common.Address, limiter domain.RateLimiter, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		auth:       auth,
		taker:      taker,
		limiter:    limiter,
	}
}

type askJSON struct {
	RemainingBaseTokenAmount decimal.Decimal `json:"remainingBaseTokenAmount"`
}

type orderbookJSON struct {
	Pair string    `json:"pair"`
	Asks []askJSON `json:"asks"`
}

// FetchAsks returns the ask side of pair, best first.
func (c *Client) FetchAsks(ctx context.Context, pair string) ([]domain.AskEntry, error) {
	path := "/orderbook/" + url.PathEscape(pair) + "?side=asks"
	respBody, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("relay: fetch asks %s: %w", pair, err)
	}
	var ob orderbookJSON
	if err := json.Unmarshal(respBody, &ob); err != nil {
		return nil, fmt.Errorf("relay: decode asks %s: %w", pair, err)
	}
	asks := make([]domain.AskEntry, len(ob.Asks))
	for i, a := range ob.Asks {
		asks[i] = domain.AskEntry{RemainingBaseTokenAmount: a.RemainingBaseTokenAmount}
	}
	return asks, nil
}

type marketOrderResult struct {
	Success bool   `json:"success"`
	OrderID string `json:"orderId"`
	Message string `json:"message"`
}

// SubmitMarketOrder places a market order for amount of the base token.
func (c *Client) SubmitMarketOrder(ctx context.Context, pair string, side domain.OrderSide, amount decimal.Decimal) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, rateLimitKey); err != nil {
			return fmt.Errorf("relay: market order: %w", err)
		}
	}
	body := map[string]any{
		"pair":   pair,
		"side":   string(side),
		"amount": amount.String(),
		"taker":  c.taker.Hex(),
	}
	respBody, err := c.do(ctx, http.MethodPost, "/orders/market", body)
	if err != nil {
		return fmt.Errorf("relay: market order %s %s: %w", side, pair, err)
	}
	var res marketOrderResult
	if err := json.Unmarshal(respBody, &res); err != nil {
		return fmt.Errorf("relay: decode market order result: %w", err)
	}
	if !res.Success {
		return fmt.Errorf("relay: market order rejected: %s", res.Message)
	}
	return nil
}

// do builds, signs (HMAC), sends and reads one request.
func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var bodyReader io.Reader
	var bodyStr string
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(jsonBody)
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.auth != nil {
		for k, v := range c.auth.Headers(method, path, bodyStr) {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
