// Package vest implements the connector for the Vest perpetuals DEX. Orders
// are authorized with a secp256k1 signature over the hashed order tuple;
// read-only account endpoints use an API key header.
package vest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/carrydesk/carrybot/internal/crypto"
	"github.com/carrydesk/carrybot/internal/domain"
)

// VenueName is the registry name of this adapter.
const VenueName = "vest"

// fundingCycleHours is fixed: Vest pays funding hourly.
const fundingCycleHours = 1

// Client implements domain.Connector against the Vest REST API.
type Client struct {
	baseURL    string
	apiKey     string
	signer     *crypto.Signer
	httpClient *http.Client
	logger     *slog.Logger

	nonce atomic.Int64
}

// NewClient creates a Vest connector. signer must not be nil; every order
// submission is signed with it.
func NewClient(baseURL, apiKey string, signer *crypto.Signer, logger *slog.Logger) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		signer:  signer,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger.With("venue", VenueName),
	}
	c.nonce.Store(time.Now().UnixMilli())
	return c
}

func (c *Client) Name() string                  { return VenueName }
func (c *Client) MarketType() domain.MarketType { return domain.MarketTypePerp }

// GetPrice returns the current mark price for an instrument.
func (c *Client) GetPrice(ctx context.Context, instrument string) (float64, error) {
	t, err := c.ticker(ctx, instrument)
	if err != nil {
		return 0, err
	}
	price, err := strconv.ParseFloat(t.MarkPrice, 64)
	if err != nil {
		return 0, fmt.Errorf("vest: parse mark price %q: %w", t.MarkPrice, err)
	}
	return price, nil
}

// SetLeverage configures isolated leverage for an instrument on the account.
func (c *Client) SetLeverage(ctx context.Context, instrument string, leverage float64) error {
	body := map[string]any{
		"symbol":   instrument,
		"leverage": leverage,
	}
	if _, err := c.do(ctx, http.MethodPost, "/account/leverage", body); err != nil {
		return fmt.Errorf("vest: set leverage %s: %w", instrument, err)
	}
	return nil
}

// OpenPosition submits a signed market order. req.Price is the reference
// price used to derive the slippage-bounded limit.
func (c *Client) OpenPosition(ctx context.Context, req domain.OrderRequest) (domain.PlacedOrder, error) {
	return c.submitOrder(ctx, req, false)
}

// ClosePosition submits a signed reduce-only order. The caller passes the
// closing direction (opposite of the open leg's side).
func (c *Client) ClosePosition(ctx context.Context, req domain.OrderRequest) (domain.PlacedOrder, error) {
	return c.submitOrder(ctx, req, true)
}

func (c *Client) submitOrder(ctx context.Context, req domain.OrderRequest, reduceOnly bool) (domain.PlacedOrder, error) {
	isBuy := req.Side == domain.PositionSideLong
	limit := limitPrice(req.Price, req.Slippage, isBuy)

	payload := crypto.OrderPayload{
		Time:       time.Now().UnixMilli(),
		Nonce:      c.nonce.Add(1),
		OrderType:  "MARKET",
		Symbol:     req.Instrument,
		IsBuy:      isBuy,
		Size:       formatDecimal(req.Size),
		LimitPrice: formatDecimal(limit),
		ReduceOnly: reduceOnly,
	}

	sig, err := c.signer.SignOrder(payload)
	if err != nil {
		return domain.PlacedOrder{}, fmt.Errorf("vest: %w: %v", domain.ErrSigningFailed, err)
	}

	wire := orderWire{
		Order: orderBodyWire{
			Time:       payload.Time,
			Nonce:      payload.Nonce,
			OrderType:  payload.OrderType,
			Symbol:     payload.Symbol,
			IsBuy:      payload.IsBuy,
			Size:       payload.Size,
			LimitPrice: payload.LimitPrice,
			ReduceOnly: payload.ReduceOnly,
		},
		Signature: sig,
	}

	body, err := c.do(ctx, http.MethodPost, "/orders", wire)
	if err != nil {
		return domain.PlacedOrder{}, fmt.Errorf("vest: submit order %s: %w", req.Instrument, err)
	}

	var resp orderResponseWire
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.PlacedOrder{}, fmt.Errorf("vest: decode order response: %w", err)
	}
	if resp.Status == "REJECTED" {
		return domain.PlacedOrder{}, fmt.Errorf("vest: order rejected for %s", req.Instrument)
	}

	fill, _ := strconv.ParseFloat(resp.AvgFillPrice, 64)
	if fill == 0 {
		fill = req.Price
	}
	size, _ := strconv.ParseFloat(resp.Size, 64)
	if size == 0 {
		size = req.Size
	}

	c.logger.Debug("order accepted",
		"order_id", resp.ID,
		"instrument", req.Instrument,
		"side", req.Side,
		"reduce_only", reduceOnly)

	return domain.PlacedOrder{
		ID:     resp.ID,
		Price:  fill,
		Size:   size,
		Placed: time.UnixMilli(resp.CreatedAt),
	}, nil
}

// CancelOrder cancels a resting order by ID.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	path := "/orders/" + url.PathEscape(orderID)
	if _, err := c.do(ctx, http.MethodDelete, path, nil); err != nil {
		return fmt.Errorf("vest: cancel order %s: %w", orderID, err)
	}
	return nil
}

// ListOpenOrders returns resting orders, optionally filtered by instrument.
func (c *Client) ListOpenOrders(ctx context.Context, instrument string) ([]domain.OpenOrder, error) {
	path := "/orders"
	if instrument != "" {
		path += "?symbol=" + url.QueryEscape(instrument)
	}
	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("vest: list open orders: %w", err)
	}

	var wire []openOrderWire
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("vest: decode open orders: %w", err)
	}

	orders := make([]domain.OpenOrder, 0, len(wire))
	for _, o := range wire {
		size, _ := strconv.ParseFloat(o.Size, 64)
		price, _ := strconv.ParseFloat(o.LimitPrice, 64)
		side := domain.PositionSideShort
		if o.IsBuy {
			side = domain.PositionSideLong
		}
		orders = append(orders, domain.OpenOrder{
			ID:         o.ID,
			Instrument: o.Symbol,
			Side:       side,
			Size:       size,
			Price:      price,
			CreatedAt:  time.UnixMilli(o.CreatedAt),
		})
	}
	return orders, nil
}

// ListOpenPositions returns the account's open positions.
func (c *Client) ListOpenPositions(ctx context.Context) ([]domain.VenuePosition, error) {
	body, err := c.do(ctx, http.MethodGet, "/account", nil)
	if err != nil {
		return nil, fmt.Errorf("vest: list positions: %w", err)
	}

	var acct accountWire
	if err := json.Unmarshal(body, &acct); err != nil {
		return nil, fmt.Errorf("vest: decode account: %w", err)
	}

	positions := make([]domain.VenuePosition, 0, len(acct.Positions))
	for _, p := range acct.Positions {
		size, _ := strconv.ParseFloat(p.Size, 64)
		if size == 0 {
			continue
		}
		entry, _ := strconv.ParseFloat(p.EntryPrice, 64)
		mark, _ := strconv.ParseFloat(p.MarkPrice, 64)
		upnl, _ := strconv.ParseFloat(p.UnrealizedPnL, 64)
		lev, _ := strconv.ParseFloat(p.Leverage, 64)
		side := domain.PositionSideShort
		if p.IsLong {
			side = domain.PositionSideLong
		}
		positions = append(positions, domain.VenuePosition{
			Instrument:    p.Symbol,
			Side:          side,
			Size:          size,
			EntryPrice:    entry,
			MarkPrice:     mark,
			UnrealizedPnL: upnl,
			Leverage:      lev,
		})
	}
	return positions, nil
}

// FundingRates returns the latest hourly funding snapshot for the requested
// instruments, or for all listed instruments when the slice is empty.
func (c *Client) FundingRates(ctx context.Context, instruments []string) ([]domain.FundingRate, error) {
	path := "/ticker/latest"
	if len(instruments) > 0 {
		path += "?symbols=" + url.QueryEscape(strings.Join(instruments, ","))
	}
	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("vest: fetch tickers: %w", err)
	}

	var resp tickerResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("vest: decode tickers: %w", err)
	}

	now := time.Now().UTC()
	rates := make([]domain.FundingRate, 0, len(resp.Tickers))
	for _, t := range resp.Tickers {
		rate, err := strconv.ParseFloat(t.OneHrFundingRate, 64)
		if err != nil {
			c.logger.Warn("skipping ticker with bad funding rate",
				"instrument", t.Symbol, "raw", t.OneHrFundingRate)
			continue
		}
		mark, _ := strconv.ParseFloat(t.MarkPrice, 64)
		index, _ := strconv.ParseFloat(t.IndexPrice, 64)
		rates = append(rates, domain.FundingRate{
			Venue:       VenueName,
			Instrument:  t.Symbol,
			Rate:        rate,
			CycleHours:  fundingCycleHours,
			MarkPrice:   mark,
			IndexPrice:  index,
			NextFunding: time.UnixMilli(t.NextFundingTime),
			ObservedAt:  now,
		})
	}
	return rates, nil
}

func (c *Client) ticker(ctx context.Context, instrument string) (tickerWire, error) {
	body, err := c.do(ctx, http.MethodGet, "/ticker/latest?symbols="+url.QueryEscape(instrument), nil)
	if err != nil {
		return tickerWire{}, fmt.Errorf("vest: fetch ticker %s: %w", instrument, err)
	}
	var resp tickerResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return tickerWire{}, fmt.Errorf("vest: decode ticker: %w", err)
	}
	if len(resp.Tickers) == 0 {
		return tickerWire{}, fmt.Errorf("vest: ticker %s: %w", instrument, domain.ErrNotFound)
	}
	return resp.Tickers[0], nil
}

func (c *Client) do(ctx context.Context, method, path string, reqBody any) ([]byte, error) {
	var bodyReader io.Reader
	if reqBody != nil {
		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-KEY", c.apiKey)
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

	if err := checkStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

func checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var apiErr errorWire
	_ = json.Unmarshal(body, &apiErr)

	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%s (%s): %w", apiErr.Message, apiErr.Code, domain.ErrNotFound)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%s (%s): %w", apiErr.Message, apiErr.Code, domain.ErrUnauthorized)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%s (%s): %w", apiErr.Message, apiErr.Code, domain.ErrRateLimited)
	default:
		return fmt.Errorf("HTTP %d: %s (%s)", statusCode, apiErr.Message, apiErr.Code)
	}
}

// limitPrice bounds a market order: buys cap at price*(1+slippage), sells
// floor at price*(1-slippage).
func limitPrice(price, slippage float64, isBuy bool) float64 {
	if isBuy {
		return price * (1 + slippage)
	}
	return price * (1 - slippage)
}

func formatDecimal(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}
