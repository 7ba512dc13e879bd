package models

import "time"

// MarketTick is the flattened row shape stored in ClickHouse. It carries
// the subset of tick fields worth querying; depth levels stay in the feed.
type MarketTick struct {
	Timestamp         time.Time `ch:"timestamp"`
	InstrumentToken   uint32    `ch:"instrument_token"`
	Mode              string    `ch:"mode"`
	LastPrice         float64   `ch:"last_price"`
	LastQuantity      uint32    `ch:"last_quantity"`
	AveragePrice      float64   `ch:"average_price"`
	Volume            uint32    `ch:"volume"`
	TotalBuyQuantity  uint32    `ch:"total_buy_quantity"`
	TotalSellQuantity uint32    `ch:"total_sell_quantity"`
	OpenPrice         float64   `ch:"open_price"`
	HighPrice         float64   `ch:"high_price"`
	LowPrice          float64   `ch:"low_price"`
	ClosePrice        float64   `ch:"close_price"`
	OI                uint32    `ch:"oi"`
}
