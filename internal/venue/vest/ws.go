package vest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/carrydesk/carrybot/internal/domain"
)

const (
	wsReadTimeout  = 60 * time.Second
	wsPingInterval = 25 * time.Second
	reconnectBase  = time.Second
	reconnectMax   = 30 * time.Second
)

// FundingStream maintains a websocket subscription to the Vest tickers
// channel and emits funding-rate snapshots as they arrive. The stream
// reconnects with exponential backoff until its context is cancelled.
type FundingStream struct {
	url         string
	instruments []string
	logger      *slog.Logger
}

// NewFundingStream creates a stream for the given instruments. An empty
// instrument list subscribes to all tickers.
func NewFundingStream(wsURL string, instruments []string, logger *slog.Logger) *FundingStream {
	return &FundingStream{
		url:         wsURL,
		instruments: instruments,
		logger:      logger.With("venue", VenueName, "component", "funding_stream"),
	}
}

// Run connects and emits snapshots on out until ctx is cancelled. The out
// channel is closed on return.
func (s *FundingStream) Run(ctx context.Context, out chan<- domain.FundingRate) error {
	defer close(out)

	backoff := reconnectBase
	for {
		err := s.readLoop(ctx, out)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		s.logger.Warn("stream disconnected, reconnecting",
			"error", err, "backoff", backoff.String())

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, reconnectMax)
	}
}

func (s *FundingStream) readLoop(ctx context.Context, out chan<- domain.FundingRate) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("vest: dial %s: %w", s.url, err)
	}
	defer conn.Close()

	params := s.instruments
	if len(params) == 0 {
		params = []string{"tickers"}
	} else {
		channels := make([]string, len(params))
		for i, inst := range params {
			channels[i] = "tickers." + inst
		}
		params = channels
	}
	sub := wsSubscribe{Method: "SUBSCRIBE", Params: params, ID: 1}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("vest: subscribe: %w", err)
	}
	s.logger.Info("subscribed", "channels", len(params))

	// Ping loop keeps the connection alive; stops when ctx ends or the
	// read side fails and closes the connection.
	pingDone := make(chan struct{})
	defer close(pingDone)
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				conn.Close()
				return
			case <-pingDone:
				return
			case <-ticker.C:
				deadline := time.Now().Add(5 * time.Second)
				if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					return
				}
			}
		}
	}()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(wsReadTimeout)); err != nil {
			return fmt.Errorf("vest: set read deadline: %w", err)
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("vest: read: %w (%v)", domain.ErrWSDisconnect, err)
		}

		var env wsEnvelope
		if err := json.Unmarshal(msg, &env); err != nil {
			s.logger.Warn("dropping unparseable frame", "error", err)
			continue
		}
		if env.Channel == "" || env.Data == nil {
			continue
		}

		var tickers []tickerWire
		if err := json.Unmarshal(env.Data, &tickers); err != nil {
			// Single-ticker channels deliver an object, not an array.
			var one tickerWire
			if err := json.Unmarshal(env.Data, &one); err != nil {
				continue
			}
			tickers = []tickerWire{one}
		}

		now := time.Now().UTC()
		for _, t := range tickers {
			rate, err := strconv.ParseFloat(t.OneHrFundingRate, 64)
			if err != nil {
				continue
			}
			mark, _ := strconv.ParseFloat(t.MarkPrice, 64)
			index, _ := strconv.ParseFloat(t.IndexPrice, 64)

			snapshot := domain.FundingRate{
				Venue:       VenueName,
				Instrument:  t.Symbol,
				Rate:        rate,
				CycleHours:  fundingCycleHours,
				MarkPrice:   mark,
				IndexPrice:  index,
				NextFunding: time.UnixMilli(t.NextFundingTime),
				ObservedAt:  now,
			}

			select {
			case out <- snapshot:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
