package mdp

import (
	"testing"
	"time"

	"fenrir/internal/tape"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsumer_FoldsFillsIntoOneMinuteCandle(t *testing.T) {
	c := NewConsumer()

	c.Apply(tape.ExecutionReport{ExecID: "e1", Symbol: "BTC-KRW", Price: 10, Quantity: 1, TransactTime: 0})
	c.Apply(tape.ExecutionReport{ExecID: "e2", Symbol: "BTC-KRW", Price: 11, Quantity: 1, TransactTime: int64(30 * time.Second)})
	c.Apply(tape.ExecutionReport{ExecID: "e3", Symbol: "BTC-KRW", Price: 9, Quantity: 1, TransactTime: int64(90 * time.Second)})

	cs, ok := c.Candlestick("BTC-KRW", Interval1m, 0)
	require.True(t, ok)
	assert.Equal(t, int64(10), cs.Open)
	assert.Equal(t, int64(11), cs.High)
	assert.Equal(t, int64(10), cs.Low)
	assert.Equal(t, int64(11), cs.Close)
	assert.Equal(t, uint64(2), cs.Volume)
	assert.Equal(t, uint64(2), cs.TradeCount)

	cs2, ok := c.Candlestick("BTC-KRW", Interval1m, int64(90*time.Second))
	require.True(t, ok)
	assert.Equal(t, int64(9), cs2.Open)
	assert.Equal(t, uint64(1), cs2.Volume)
}

func TestConsumer_ReplayIsIdempotentByExecID(t *testing.T) {
	c := NewConsumer()
	report := tape.ExecutionReport{ExecID: "e1", Symbol: "BTC-KRW", Price: 10, Quantity: 5, TransactTime: 0}

	c.Apply(report)
	c.Apply(report)
	c.Apply(report)

	cs, ok := c.Candlestick("BTC-KRW", Interval1m, 0)
	require.True(t, ok)
	assert.Equal(t, uint64(5), cs.Volume)
	assert.Equal(t, uint64(1), cs.TradeCount)
}

func TestConsumer_RollingStatsTrack24hWindow(t *testing.T) {
	c := NewConsumer()
	c.Apply(tape.ExecutionReport{ExecID: "e1", Symbol: "BTC-KRW", Price: 100, Quantity: 1, TransactTime: 0})
	c.Apply(tape.ExecutionReport{ExecID: "e2", Symbol: "BTC-KRW", Price: 120, Quantity: 2, TransactTime: int64(time.Minute)})
	c.Apply(tape.ExecutionReport{ExecID: "e3", Symbol: "BTC-KRW", Price: 90, Quantity: 1, TransactTime: dayNanos + 1})

	stats, ok := c.Statistics("BTC-KRW")
	require.True(t, ok)
	assert.Equal(t, int64(90), stats.LastPrice)
	// the ts=0 minute falls just outside the 24h window relative to the
	// newest event at dayNanos+1; the ts=1m minute is still inside it.
	assert.Equal(t, uint64(3), stats.Volume24h)
}

func TestConsumer_StatisticsPercentChangeAndTopOfBook(t *testing.T) {
	c := NewConsumer().WithBookView(func(symbol string) (int64, int64, bool) {
		return 109, 111, true
	})

	c.Apply(tape.ExecutionReport{ExecID: "e1", Symbol: "BTC-KRW", Price: 100, Quantity: 1, TransactTime: 0})
	c.Apply(tape.ExecutionReport{ExecID: "e2", Symbol: "BTC-KRW", Price: 110, Quantity: 1, TransactTime: int64(time.Minute)})

	stats, ok := c.Statistics("BTC-KRW")
	require.True(t, ok)
	assert.InDelta(t, 10.0, stats.PriceChange24h, 1e-9)
	assert.Equal(t, int64(109), stats.BidPrice)
	assert.Equal(t, int64(111), stats.AskPrice)
	assert.Equal(t, int64(2), stats.Spread)
}

func TestConsumer_BatchQueries(t *testing.T) {
	c := NewConsumer()
	c.Apply(tape.ExecutionReport{ExecID: "e1", Symbol: "BTC-KRW", Price: 100, Quantity: 1, TransactTime: 0})
	c.Apply(tape.ExecutionReport{ExecID: "e2", Symbol: "ETH-KRW", Price: 5, Quantity: 1, TransactTime: 0})
	c.Apply(tape.ExecutionReport{ExecID: "e3", Symbol: "BTC-KRW", Price: 101, Quantity: 1, TransactTime: int64(2 * time.Minute)})

	assert.ElementsMatch(t, []string{"BTC-KRW", "ETH-KRW"}, c.Symbols())
	assert.Len(t, c.Candlesticks("BTC-KRW", Interval1m), 2)
	assert.Len(t, c.Candlesticks("BTC-KRW", Interval1d), 1)
}

func TestConsumer_SeparateSymbolsDoNotMix(t *testing.T) {
	c := NewConsumer()
	c.Apply(tape.ExecutionReport{ExecID: "e1", Symbol: "BTC-KRW", Price: 100, Quantity: 1, TransactTime: 0})
	c.Apply(tape.ExecutionReport{ExecID: "e2", Symbol: "ETH-KRW", Price: 5, Quantity: 1, TransactTime: 0})

	btc, _ := c.Candlestick("BTC-KRW", Interval1m, 0)
	eth, _ := c.Candlestick("ETH-KRW", Interval1m, 0)
	assert.Equal(t, int64(100), btc.Close)
	assert.Equal(t, int64(5), eth.Close)
}
