package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/arbfund/poolpilot/internal/config"
	"github.com/arbfund/poolpilot/internal/models"
)

// Client talks to the exchange gateway service over HTTP. The gateway owns
// venue-specific wire protocols and request signing; this client only maps
// its JSON API onto the pipeline's collaborator interfaces.
type Client struct {
	httpClient *http.Client
	baseURL    string
	exchanges  []string
	pairs      []string
	logger     *logrus.Logger
}

var _ MarketDataSource = (*Client)(nil)
var _ OrderExecutor = (*Client)(nil)
var _ PoolStateSource = (*Client)(nil)

// NewClient creates a gateway client from configuration.
func NewClient(cfg *config.Config, logger *logrus.Logger) *Client {
	timeout := time.Duration(cfg.Gateway.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimSuffix(cfg.Gateway.ServiceURL, "/"),
		exchanges:  cfg.Trading.Exchanges,
		pairs:      cfg.Trading.Pairs,
		logger:     logger,
	}
}

type tickerPayload struct {
	Exchange string          `json:"exchange"`
	Pair     string          `json:"pair"`
	Price    decimal.Decimal `json:"price"`
	Volume   decimal.Decimal `json:"volume"`
	Bid      decimal.Decimal `json:"bid"`
	Ask      decimal.Decimal `json:"ask"`
}

type tickersResponse struct {
	Tickers []tickerPayload `json:"tickers"`
}

type marketDetailsResponse struct {
	Exchange  string           `json:"exchange"`
	Pair      string           `json:"pair"`
	Price     decimal.Decimal  `json:"price"`
	OrderBook models.OrderBook `json:"order_book"`
}

type orderResponse struct {
	Success       bool            `json:"success"`
	ExecutedPrice decimal.Decimal `json:"executed_price"`
	FilledAmount  decimal.Decimal `json:"filled_amount"`
	Error         string          `json:"error"`
}

type poolStateResponse struct {
	TotalValue       decimal.Decimal `json:"total_value"`
	ParticipantCount int             `json:"participant_count"`
	TotalAssets      decimal.Decimal `json:"total_assets"`
	TotalShares      decimal.Decimal `json:"total_shares"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// FetchMarketSnapshot pulls tickers for every configured exchange and pair.
func (c *Client) FetchMarketSnapshot(ctx context.Context) (*models.MarketSnapshot, error) {
	req := map[string]any{"exchanges": c.exchanges, "pairs": c.pairs}
	var resp tickersResponse
	if err := c.call(ctx, http.MethodPost, "/api/tickers", req, &resp); err != nil {
		return nil, fmt.Errorf("fetch market snapshot: %w", err)
	}

	snapshot := &models.MarketSnapshot{
		Exchanges: make(map[string]map[string]models.Ticker),
		FetchedAt: time.Now(),
	}
	for _, t := range resp.Tickers {
		if t.Price.Sign() <= 0 {
			continue
		}
		ex := strings.ToLower(t.Exchange)
		if snapshot.Exchanges[ex] == nil {
			snapshot.Exchanges[ex] = make(map[string]models.Ticker)
		}
		snapshot.Exchanges[ex][t.Pair] = models.Ticker{
			Price:  t.Price,
			Volume: t.Volume,
			Bid:    t.Bid,
			Ask:    t.Ask,
		}
	}
	return snapshot, nil
}

// FetchMarketDetails pulls the current price and order book for one market.
func (c *Client) FetchMarketDetails(ctx context.Context, exchange, pair string) (*models.MarketDetails, error) {
	path := fmt.Sprintf("/api/markets/%s/%s", url.PathEscape(exchange), url.PathEscape(strings.ReplaceAll(pair, "/", "-")))
	var resp marketDetailsResponse
	if err := c.call(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetch market details %s %s: %w", exchange, pair, err)
	}
	return &models.MarketDetails{
		Exchange:  exchange,
		Pair:      pair,
		Price:     resp.Price,
		OrderBook: resp.OrderBook,
	}, nil
}

// ExecuteOrder submits one order leg to the gateway.
func (c *Client) ExecuteOrder(ctx context.Context, req models.OrderRequest) (*models.OrderResult, error) {
	payload := map[string]any{
		"exchange":        req.Exchange,
		"pair":            req.Pair,
		"side":            string(req.Side),
		"amount":          req.Amount,
		"price":           req.Price,
		"max_slippage":    req.MaxSlippage,
		"timeout_seconds": int(req.Timeout.Seconds()),
	}
	var resp orderResponse
	if err := c.call(ctx, http.MethodPost, "/api/orders", payload, &resp); err != nil {
		return nil, fmt.Errorf("execute %s order on %s: %w", req.Side, req.Exchange, err)
	}
	return &models.OrderResult{
		Success:       resp.Success,
		ExecutedPrice: resp.ExecutedPrice,
		FilledAmount:  resp.FilledAmount,
		Error:         resp.Error,
	}, nil
}

// FetchPoolState pulls the fund state from the orchestrator endpoint.
func (c *Client) FetchPoolState(ctx context.Context) (*models.PoolData, error) {
	var resp poolStateResponse
	if err := c.call(ctx, http.MethodGet, "/api/pool", nil, &resp); err != nil {
		return nil, fmt.Errorf("fetch pool state: %w", err)
	}
	return &models.PoolData{
		TotalValue:       resp.TotalValue,
		ParticipantCount: resp.ParticipantCount,
		TotalAssets:      resp.TotalAssets,
		TotalShares:      resp.TotalShares,
	}, nil
}

func (c *Client) call(ctx context.Context, method, path string, body, result any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request failed: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.WithError(cerr).Warn("Failed to close gateway response body")
		}
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		var errResp errorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			return fmt.Errorf("gateway error (%d): %s", resp.StatusCode, errResp.Error)
		}
		return fmt.Errorf("gateway error (%d): %s", resp.StatusCode, string(respBody))
	}
	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}
