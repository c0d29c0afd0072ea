// Package bitmara implements the connector for the Bitmara exchange, an
// unmargined venue: positions are fully collateralized and SetLeverage is
// rejected. Requests are authenticated with HMAC-SHA256 headers.
package bitmara

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/carrydesk/carrybot/internal/crypto"
	"github.com/carrydesk/carrybot/internal/domain"
)

// VenueName is the registry name of this adapter.
const VenueName = "bitmara"

// fundingCycleHours matches Bitmara's 8-hour funding schedule.
const fundingCycleHours = 8

// Client implements domain.Connector against the Bitmara REST API.
type Client struct {
	baseURL    string
	auth       *crypto.HMACAuth
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a Bitmara connector.
func NewClient(baseURL string, auth *crypto.HMACAuth, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		auth:    auth,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger.With("venue", VenueName),
	}
}

func (c *Client) Name() string                  { return VenueName }
func (c *Client) MarketType() domain.MarketType { return domain.MarketTypeSpot }

// GetPrice returns the current mark price for an instrument.
func (c *Client) GetPrice(ctx context.Context, instrument string) (float64, error) {
	t, err := c.ticker(ctx, instrument)
	if err != nil {
		return 0, err
	}
	return t.MarkPrice, nil
}

// SetLeverage always fails: Bitmara positions are fully collateralized.
func (c *Client) SetLeverage(ctx context.Context, instrument string, leverage float64) error {
	return fmt.Errorf("bitmara: set leverage %s: %w", instrument, domain.ErrLeverageNotSupported)
}

// OpenPosition submits a market order. Short legs are rejected before any
// request is made: without margin there is nothing to borrow against.
func (c *Client) OpenPosition(ctx context.Context, req domain.OrderRequest) (domain.PlacedOrder, error) {
	if req.Side == domain.PositionSideShort {
		return domain.PlacedOrder{}, fmt.Errorf("bitmara: open %s: %w", req.Instrument, domain.ErrShortOnSpotVenue)
	}
	return c.submitOrder(ctx, req, "buy", false)
}

// ClosePosition submits a reduce-only market order in the direction the
// caller passes (opposite of the open leg).
func (c *Client) ClosePosition(ctx context.Context, req domain.OrderRequest) (domain.PlacedOrder, error) {
	side := "sell"
	if req.Side == domain.PositionSideLong {
		side = "buy"
	}
	return c.submitOrder(ctx, req, side, true)
}

func (c *Client) submitOrder(ctx context.Context, req domain.OrderRequest, side string, reduceOnly bool) (domain.PlacedOrder, error) {
	limit := req.Price * (1 + req.Slippage)
	if side == "sell" {
		limit = req.Price * (1 - req.Slippage)
	}

	wire := orderRequestWire{
		Symbol:     req.Instrument,
		Side:       side,
		Type:       "market",
		Quantity:   req.Size,
		LimitPrice: limit,
		ReduceOnly: reduceOnly,
	}

	body, err := c.do(ctx, http.MethodPost, "/v1/orders", wire)
	if err != nil {
		return domain.PlacedOrder{}, fmt.Errorf("bitmara: submit order %s: %w", req.Instrument, err)
	}

	var resp orderResponseWire
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.PlacedOrder{}, fmt.Errorf("bitmara: decode order response: %w", err)
	}
	if resp.Status == "rejected" {
		return domain.PlacedOrder{}, fmt.Errorf("bitmara: order rejected for %s", req.Instrument)
	}

	price := resp.FillPrice
	if price == 0 {
		price = req.Price
	}
	size := resp.FillQty
	if size == 0 {
		size = req.Size
	}

	c.logger.Debug("order accepted",
		"order_id", resp.OrderID,
		"instrument", req.Instrument,
		"side", side,
		"reduce_only", reduceOnly)

	return domain.PlacedOrder{
		ID:     resp.OrderID,
		Price:  price,
		Size:   size,
		Placed: time.Unix(resp.CreatedAt, 0),
	}, nil
}

// CancelOrder cancels a resting order by ID.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	path := "/v1/orders/" + url.PathEscape(orderID)
	if _, err := c.do(ctx, http.MethodDelete, path, nil); err != nil {
		return fmt.Errorf("bitmara: cancel order %s: %w", orderID, err)
	}
	return nil
}

// ListOpenOrders returns resting orders, optionally filtered by instrument.
func (c *Client) ListOpenOrders(ctx context.Context, instrument string) ([]domain.OpenOrder, error) {
	path := "/v1/orders/open"
	if instrument != "" {
		path += "?symbol=" + url.QueryEscape(instrument)
	}
	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("bitmara: list open orders: %w", err)
	}

	var wire []openOrderWire
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("bitmara: decode open orders: %w", err)
	}

	orders := make([]domain.OpenOrder, 0, len(wire))
	for _, o := range wire {
		side := domain.PositionSideLong
		if o.Side == "sell" {
			side = domain.PositionSideShort
		}
		orders = append(orders, domain.OpenOrder{
			ID:         o.OrderID,
			Instrument: o.Symbol,
			Side:       side,
			Size:       o.Quantity,
			Price:      o.Price,
			CreatedAt:  time.Unix(o.CreatedAt, 0),
		})
	}
	return orders, nil
}

// ListOpenPositions returns open holdings. Leverage is always 1.
func (c *Client) ListOpenPositions(ctx context.Context) ([]domain.VenuePosition, error) {
	body, err := c.do(ctx, http.MethodGet, "/v1/positions", nil)
	if err != nil {
		return nil, fmt.Errorf("bitmara: list positions: %w", err)
	}

	var wire []positionWire
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("bitmara: decode positions: %w", err)
	}

	positions := make([]domain.VenuePosition, 0, len(wire))
	for _, p := range wire {
		if p.Quantity == 0 {
			continue
		}
		side := domain.PositionSideLong
		if p.Side == "short" {
			side = domain.PositionSideShort
		}
		positions = append(positions, domain.VenuePosition{
			Instrument:    p.Symbol,
			Side:          side,
			Size:          p.Quantity,
			EntryPrice:    p.EntryPrice,
			MarkPrice:     p.MarkPrice,
			UnrealizedPnL: p.UnrealizedPnL,
			Leverage:      1,
		})
	}
	return positions, nil
}

// FundingRates returns the latest snapshot for the requested instruments, or
// for all listed instruments when the slice is empty.
func (c *Client) FundingRates(ctx context.Context, instruments []string) ([]domain.FundingRate, error) {
	body, err := c.do(ctx, http.MethodGet, "/v1/tickers", nil)
	if err != nil {
		return nil, fmt.Errorf("bitmara: fetch tickers: %w", err)
	}

	var wire []tickerWire
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("bitmara: decode tickers: %w", err)
	}

	want := map[string]bool{}
	for _, inst := range instruments {
		want[inst] = true
	}

	now := time.Now().UTC()
	rates := make([]domain.FundingRate, 0, len(wire))
	for _, t := range wire {
		if len(want) > 0 && !want[t.Symbol] {
			continue
		}
		rates = append(rates, domain.FundingRate{
			Venue:       VenueName,
			Instrument:  t.Symbol,
			Rate:        t.FundingRate,
			CycleHours:  fundingCycleHours,
			MarkPrice:   t.MarkPrice,
			IndexPrice:  t.IndexPrice,
			NextFunding: time.Unix(t.NextFunding, 0),
			ObservedAt:  now,
		})
	}
	return rates, nil
}

func (c *Client) ticker(ctx context.Context, instrument string) (tickerWire, error) {
	path := "/v1/tickers/" + url.PathEscape(instrument)
	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return tickerWire{}, fmt.Errorf("bitmara: fetch ticker %s: %w", instrument, err)
	}
	var t tickerWire
	if err := json.Unmarshal(body, &t); err != nil {
		return tickerWire{}, fmt.Errorf("bitmara: decode ticker: %w", err)
	}
	return t, nil
}

func (c *Client) do(ctx context.Context, method, path string, reqBody any) ([]byte, error) {
	var payload []byte
	if reqBody != nil {
		var err error
		payload, err = json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range c.auth.Headers(method, path, string(payload)) {
		req.Header.Set(k, v)
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
		return fmt.Errorf("%s (code %d): %w", apiErr.Message, apiErr.Code, domain.ErrNotFound)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%s (code %d): %w", apiErr.Message, apiErr.Code, domain.ErrUnauthorized)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%s (code %d): %w", apiErr.Message, apiErr.Code, domain.ErrRateLimited)
	default:
		return fmt.Errorf("HTTP %d: %s (code %d)", statusCode, apiErr.Message, apiErr.Code)
	}
}
