// Package mdp implements the market data processor: tumbling window
// candlestick aggregation and 24h rolling statistics, fed from the
// tape's mdp consumer queue. Queries are plain Go methods rather than
// an HTTP surface. Execution reports carry ts as nanoseconds since
// epoch, so every bucket width here is in nanoseconds too.
package mdp

import "time"

// Interval is a supported candlestick bucket width.
type Interval string

const (
	Interval1m  Interval = "1m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval1h  Interval = "1h"
	Interval4h  Interval = "4h"
	Interval1d  Interval = "1d"
)

// intervalNanos maps each supported Interval to its tumbling window width
// in nanoseconds.
var intervalNanos = map[Interval]int64{
	Interval1m:  int64(time.Minute),
	Interval5m:  int64(5 * time.Minute),
	Interval15m: int64(15 * time.Minute),
	Interval1h:  int64(time.Hour),
	Interval4h:  int64(4 * time.Hour),
	Interval1d:  int64(24 * time.Hour),
}

func bucketStart(ts int64, interval Interval) int64 {
	width := intervalNanos[interval]
	return (ts / width) * width
}

// Candlestick is one tumbling-window OHLCV bucket for a symbol.
type Candlestick struct {
	Symbol     string
	Interval   Interval
	OpenTime   int64
	CloseTime  int64
	Open       int64
	High       int64
	Low        int64
	Close      int64
	Volume     uint64
	TradeCount uint64
}

func newCandlestick(symbol string, interval Interval, openTime int64, price int64, qty uint64) *Candlestick {
	return &Candlestick{
		Symbol:     symbol,
		Interval:   interval,
		OpenTime:   openTime,
		CloseTime:  openTime + intervalNanos[interval] - 1,
		Open:       price,
		High:       price,
		Low:        price,
		Close:      price,
		Volume:     qty,
		TradeCount: 1,
	}
}

func (c *Candlestick) fold(price int64, qty uint64) {
	if price > c.High {
		c.High = price
	}
	if price < c.Low {
		c.Low = price
	}
	c.Close = price
	c.Volume += qty
	c.TradeCount++
}

// Stats24h tracks a rolling 24h window via per-minute subtotals rather
// than recomputing over the full execution history on every update.
// PriceChange24h is the percent move from the window's opening price.
// Spread is AskPrice - BidPrice, 0 when either side is missing.
type Stats24h struct {
	Symbol         string
	OpenPrice24h   int64
	HighPrice24h   int64
	LowPrice24h    int64
	LastPrice      int64
	Volume24h      uint64
	PriceChange24h float64
	BidPrice       int64
	AskPrice       int64
	Spread         int64
}

// minuteBucket is one minute's worth of trading activity, the unit the 24h
// rolling window evicts by.
type minuteBucket struct {
	minute int64
	open   int64
	high   int64
	low    int64
	close  int64
	volume uint64
}
