package ticker

import "time"

// OHLC carries the day's open/high/low/close for one instrument.
type OHLC struct {
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

// DepthItem is a single level of the order book.
type DepthItem struct {
	Price    float64 `json:"price"`
	Quantity uint32  `json:"quantity"`
	Orders   uint32  `json:"orders"`
}

// Depth is the five-level bid/ask book sent in full mode.
type Depth struct {
	Buy  [5]DepthItem `json:"buy"`
	Sell [5]DepthItem `json:"sell"`
}

// Tick is one decoded market snapshot. Which fields are populated depends
// on the mode the payload was produced in: ltp carries only the token and
// last price, quote adds OHLC/volume/quantities, full adds timestamps,
// open interest and depth.
type Tick struct {
	Mode            Mode   `json:"mode"`
	InstrumentToken uint32 `json:"instrument_token"`
	IsTradable      bool   `json:"is_tradable"`
	IsIndex         bool   `json:"is_index"`

	// Timestamp is the exchange timestamp; zero outside full mode.
	Timestamp     time.Time `json:"exchange_timestamp"`
	LastTradeTime time.Time `json:"last_trade_time"`

	LastPrice          float64 `json:"last_price"`
	LastTradedQuantity uint32  `json:"last_traded_quantity"`
	TotalBuyQuantity   uint32  `json:"total_buy_quantity"`
	TotalSellQuantity  uint32  `json:"total_sell_quantity"`
	VolumeTraded       uint32  `json:"volume_traded"`
	AverageTradePrice  float64 `json:"average_traded_price"`

	OI        uint32  `json:"oi"`
	OIDayHigh uint32  `json:"oi_day_high"`
	OIDayLow  uint32  `json:"oi_day_low"`
	NetChange float64 `json:"net_change"`

	OHLC  OHLC  `json:"ohlc"`
	Depth Depth `json:"depth"`
}
