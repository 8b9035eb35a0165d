package model

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// -----------------------------------------------------------------------------
// Market Data
// -----------------------------------------------------------------------------

// Tick is one depth market data snapshot for an instrument.
type Tick struct {
	Instrument string `json:"instrument"` // Instrument id (e.g., "rb2510")
	Exchange   string `json:"exchange"`   // Exchange id (e.g., "SHFE")
	TradingDay string `json:"trading_day"`
	Source     string `json:"source"` // "md" (gateway push) or "http" (level-1 quote service)

	LastPrice     decimal.Decimal `json:"last_price"`
	PreSettlement decimal.Decimal `json:"pre_settlement"`
	OpenPrice     decimal.Decimal `json:"open_price"`
	HighPrice     decimal.Decimal `json:"high_price"`
	LowPrice      decimal.Decimal `json:"low_price"`
	BidPrice      decimal.Decimal `json:"bid_price"`
	AskPrice      decimal.Decimal `json:"ask_price"`

	BidVolume    int64           `json:"bid_volume"`
	AskVolume    int64           `json:"ask_volume"`
	Volume       int64           `json:"volume"`
	OpenInterest int64           `json:"open_interest"`
	Turnover     decimal.Decimal `json:"turnover"`

	ExchangeTS int64 `json:"exchange_ts"` // Exchange update time (µs since epoch)
	ReceivedAt int64 `json:"received_at"` // Local receive time (µs since epoch)
}

// Spread returns AskPrice - BidPrice.
func (t Tick) Spread() decimal.Decimal {
	return t.AskPrice.Sub(t.BidPrice)
}

// -----------------------------------------------------------------------------
// Orders
// -----------------------------------------------------------------------------

// Direction is the side of an order.
type Direction string

const (
	Buy  Direction = "buy"
	Sell Direction = "sell"
)

// ParseDirection parses "buy"/"sell" (case-insensitive).
func ParseDirection(s string) (Direction, error) {
	switch Direction(strings.ToLower(s)) {
	case Buy:
		return Buy, nil
	case Sell:
		return Sell, nil
	}
	return "", fmt.Errorf("unknown direction %q", s)
}

// Offset is the open/close flag of a futures order.
type Offset string

const (
	Open       Offset = "open"
	Close      Offset = "close"
	CloseToday Offset = "close_today"
)

// OrderRequest describes a limit order to submit.
type OrderRequest struct {
	Contract  string          `json:"contract"` // Instrument id
	Direction Direction       `json:"direction"`
	Offset    Offset          `json:"offset"`
	Price     decimal.Decimal `json:"price"`
	Volume    int64           `json:"volume"`
}

// Validate checks the request before it reaches the gateway.
func (r OrderRequest) Validate() error {
	if r.Contract == "" {
		return fmt.Errorf("contract is required")
	}
	if r.Direction != Buy && r.Direction != Sell {
		return fmt.Errorf("invalid direction %q", r.Direction)
	}
	switch r.Offset {
	case "", Open, Close, CloseToday:
	default:
		return fmt.Errorf("invalid offset %q", r.Offset)
	}
	if r.Volume <= 0 {
		return fmt.Errorf("volume must be positive, got %d", r.Volume)
	}
	if r.Price.Sign() <= 0 {
		return fmt.Errorf("price must be positive, got %s", r.Price)
	}
	return nil
}

// Fill is one execution report against an order.
type Fill struct {
	OrderRef   string          `json:"order_ref"`
	Contract   string          `json:"contract"`
	TradeID    string          `json:"trade_id"`
	Direction  Direction       `json:"direction"`
	Price      decimal.Decimal `json:"price"`
	Volume     int64           `json:"volume"`
	ExchangeTS int64           `json:"exchange_ts"`
}

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	StatusUnknown    OrderStatus = ""
	StatusSubmitted  OrderStatus = "submitted"
	StatusPartFilled OrderStatus = "part_filled"
	StatusFilled     OrderStatus = "filled"
	StatusCanceled   OrderStatus = "canceled"
	StatusRejected   OrderStatus = "rejected"
)

// IsTerminal reports whether no further fills can arrive.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusRejected:
		return true
	}
	return false
}

// OrderUpdate is an order status report from the gateway.
type OrderUpdate struct {
	OrderRef string      `json:"order_ref"`
	Contract string      `json:"contract"`
	Status   OrderStatus `json:"status"`
	Message  string      `json:"message,omitempty"`
}
