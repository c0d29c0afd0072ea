package vest

import "encoding/json"

// tickerWire is one entry from GET /ticker/latest.
type tickerWire struct {
	Symbol          string `json:"symbol"`
	MarkPrice       string `json:"markPrice"`
	IndexPrice      string `json:"indexPrice"`
	OneHrFundingRate string `json:"oneHrFundingRate"`
	NextFundingTime int64  `json:"nextFundingTime"` // unix ms
}

type tickerResponse struct {
	Tickers []tickerWire `json:"tickers"`
}

// orderWire is the body of POST /orders. Signature covers the hashed tuple
// of (time, nonce, orderType, symbol, isBuy, size, limitPrice, reduceOnly).
type orderWire struct {
	Order     orderBodyWire `json:"order"`
	Signature string        `json:"signature"`
}

type orderBodyWire struct {
	Time       int64  `json:"time"`
	Nonce      int64  `json:"nonce"`
	OrderType  string `json:"orderType"`
	Symbol     string `json:"symbol"`
	IsBuy      bool   `json:"isBuy"`
	Size       string `json:"size"`
	LimitPrice string `json:"limitPrice"`
	ReduceOnly bool   `json:"reduceOnly"`
}

type orderResponseWire struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Symbol string `json:"symbol"`
	Size   string `json:"size"`
	AvgFillPrice string `json:"avgFillPrice"`
	CreatedAt    int64  `json:"createdAt"` // unix ms
}

type openOrderWire struct {
	ID         string `json:"id"`
	Symbol     string `json:"symbol"`
	IsBuy      bool   `json:"isBuy"`
	Size       string `json:"size"`
	LimitPrice string `json:"limitPrice"`
	CreatedAt  int64  `json:"createdAt"`
}

type positionWire struct {
	Symbol        string `json:"symbol"`
	IsLong        bool   `json:"isLong"`
	Size          string `json:"size"`
	EntryPrice    string `json:"entryPrice"`
	MarkPrice     string `json:"markPrice"`
	UnrealizedPnL string `json:"unrealizedPnl"`
	Leverage      string `json:"leverage"`
}

type accountWire struct {
	Positions []positionWire `json:"positions"`
}

type errorWire struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// wsEnvelope frames every message on the market-data stream.
type wsEnvelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

type wsSubscribe struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int      `json:"id"`
}
