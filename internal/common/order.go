// Package common holds the wire-independent types shared by every
// component of the matching pipeline: orders, sides, statuses, trades.
package common

import "fmt"

type Side uint8

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "Buy"
	}
	return "Sell"
}

type OrderType uint8

const (
	Limit OrderType = iota
	Market
)

func (t OrderType) String() string {
	if t == Limit {
		return "Limit"
	}
	return "Market"
}

type OrderStatus uint8

const (
	StatusNew OrderStatus = iota
	StatusPartiallyFilled
	StatusFilled
	StatusCancelled
)

func (s OrderStatus) String() string {
	switch s {
	case StatusNew:
		return "New"
	case StatusPartiallyFilled:
		return "PartiallyFilled"
	case StatusFilled:
		return "Filled"
	case StatusCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Order is the admitted representation of an inbound request. Price is in
// integer minor units (0 for market orders); Quantity/Filled are lot units.
//
// Invariant: Status == StatusFilled iff Filled == Quantity. Cancelled
// orders keep whatever Filled they had at the moment of cancellation.
type Order struct {
	OrderID    string
	ClientID   string
	Symbol     string
	Side       Side
	Type       OrderType
	Price      int64
	Quantity   uint64
	Filled     uint64
	Status     OrderStatus
	ArrivalSeq uint64
}

// Residual is the quantity still available to match or rest.
func (o *Order) Residual() uint64 {
	return o.Quantity - o.Filled
}

func (o *Order) String() string {
	return fmt.Sprintf(
		"Order{id=%s client=%s symbol=%s side=%s type=%s price=%d qty=%d filled=%d status=%s seq=%d}",
		o.OrderID, o.ClientID, o.Symbol, o.Side, o.Type, o.Price, o.Quantity, o.Filled, o.Status, o.ArrivalSeq,
	)
}

// ApplyFill updates filled quantity and derives the resulting status. It is
// the single place that enforces the Filled/Status invariant.
func (o *Order) ApplyFill(qty uint64) {
	o.Filled += qty
	if o.Filled >= o.Quantity {
		o.Status = StatusFilled
	} else if o.Filled > 0 {
		o.Status = StatusPartiallyFilled
	}
}

// Cancel marks the order terminally cancelled, preserving Filled.
func (o *Order) Cancel() { o.Status = StatusCancelled }

// BaseAsset / QuoteAsset split a "BASE-QUOTE" symbol, e.g. "BTC-KRW".
func BaseAsset(symbol string) string  { return splitSymbol(symbol, 0) }
func QuoteAsset(symbol string) string { return splitSymbol(symbol, 1) }

func splitSymbol(symbol string, idx int) string {
	for i := 0; i < len(symbol); i++ {
		if symbol[i] == '-' {
			if idx == 0 {
				return symbol[:i]
			}
			return symbol[i+1:]
		}
	}
	return symbol
}
