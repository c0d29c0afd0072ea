package bitmara

type tickerWire struct {
	Symbol      string  `json:"symbol"`
	MarkPrice   float64 `json:"mark_price"`
	IndexPrice  float64 `json:"index_price"`
	FundingRate float64 `json:"funding_rate"`
	NextFunding int64   `json:"next_funding_at"` // unix seconds
}

type orderRequestWire struct {
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"` // "buy" or "sell"
	Type       string  `json:"type"` // always "market"
	Quantity   float64 `json:"quantity"`
	LimitPrice float64 `json:"limit_price,omitempty"`
	ReduceOnly bool    `json:"reduce_only,omitempty"`
}

type orderResponseWire struct {
	OrderID   string  `json:"order_id"`
	Status    string  `json:"status"`
	FillPrice float64 `json:"fill_price"`
	FillQty   float64 `json:"fill_qty"`
	CreatedAt int64   `json:"created_at"` // unix seconds
}

type openOrderWire struct {
	OrderID   string  `json:"order_id"`
	Symbol    string  `json:"symbol"`
	Side      string  `json:"side"`
	Quantity  float64 `json:"quantity"`
	Price     float64 `json:"price"`
	CreatedAt int64   `json:"created_at"`
}

type positionWire struct {
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	Quantity      float64 `json:"quantity"`
	EntryPrice    float64 `json:"entry_price"`
	MarkPrice     float64 `json:"mark_price"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}

type errorWire struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
