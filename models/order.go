package models

import (
	"encoding/json"
	"time"
)

// Time wraps time.Time to parse the broker's "2006-01-02 15:04:05"
// timestamps, which are not RFC 3339. Empty strings decode to the zero
// time.
type Time struct {
	time.Time
}

const brokerTimeLayout = "2006-01-02 15:04:05"

func (t *Time) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := time.Parse(brokerTimeLayout, s)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

func (t Time) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return json.Marshal("")
	}
	return json.Marshal(t.Format(brokerTimeLayout))
}

// Order is the postback payload pushed over the ticker's text channel
// whenever an order changes state.
type Order struct {
	AccountID string `json:"account_id"`
	PlacedBy  string `json:"placed_by"`

	OrderID          string `json:"order_id"`
	ExchangeOrderID  string `json:"exchange_order_id"`
	ParentOrderID    string `json:"parent_order_id"`
	Status           string `json:"status"`
	StatusMessage    string `json:"status_message"`
	StatusMessageRaw string `json:"status_message_raw"`

	OrderTimestamp          Time `json:"order_timestamp"`
	ExchangeUpdateTimestamp Time `json:"exchange_update_timestamp"`
	ExchangeTimestamp       Time `json:"exchange_timestamp"`

	Variety  string                     `json:"variety"`
	Modified bool                       `json:"modified"`
	Meta     map[string]json.RawMessage `json:"meta"`

	Exchange        string `json:"exchange"`
	TradingSymbol   string `json:"tradingsymbol"`
	InstrumentToken uint32 `json:"instrument_token"`

	OrderType       string  `json:"order_type"`
	TransactionType string  `json:"transaction_type"`
	Validity        string  `json:"validity"`
	Product         string  `json:"product"`
	Quantity        float64 `json:"quantity"`
	Price           float64 `json:"price"`
	TriggerPrice    float64 `json:"trigger_price"`

	AveragePrice      float64 `json:"average_price"`
	FilledQuantity    float64 `json:"filled_quantity"`
	PendingQuantity   float64 `json:"pending_quantity"`
	CancelledQuantity float64 `json:"cancelled_quantity"`

	Tag string `json:"tag"`
}
