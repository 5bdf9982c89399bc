package engine

import (
	"testing"

	"fenrir/internal/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func limitOrder(id string, side common.Side, price int64, qty uint64) *common.Order {
	return &common.Order{OrderID: id, Symbol: "BTC-KRW", Side: side, Type: common.Limit, Price: price, Quantity: qty, Status: common.StatusNew}
}

func marketOrder(id string, side common.Side, qty uint64) *common.Order {
	return &common.Order{OrderID: id, Symbol: "BTC-KRW", Side: side, Type: common.Market, Quantity: qty, Status: common.StatusNew}
}

func TestOrderBook_RestAndBestPrices(t *testing.T) {
	ob := NewOrderBook("BTC-KRW")

	_, err := ob.RestLimit(limitOrder("b1", common.Buy, 100, 5))
	require.NoError(t, err)
	_, err = ob.RestLimit(limitOrder("b2", common.Buy, 102, 5))
	require.NoError(t, err)
	_, err = ob.RestLimit(limitOrder("a1", common.Sell, 110, 5))
	require.NoError(t, err)

	price, vol, ok := ob.BestBid()
	require.True(t, ok)
	assert.Equal(t, int64(102), price)
	assert.Equal(t, uint64(5), vol)

	price, vol, ok = ob.BestAsk()
	require.True(t, ok)
	assert.Equal(t, int64(110), price)
	assert.Equal(t, uint64(5), vol)

	assert.False(t, ob.Crossed())
}

func TestOrderBook_DuplicateOrderRejected(t *testing.T) {
	ob := NewOrderBook("BTC-KRW")
	_, err := ob.RestLimit(limitOrder("b1", common.Buy, 100, 5))
	require.NoError(t, err)

	_, err = ob.RestLimit(limitOrder("b1", common.Buy, 100, 5))
	assert.ErrorIs(t, err, common.ErrDuplicateOrder)
}

func TestOrderBook_CancelUnknownOrder(t *testing.T) {
	ob := NewOrderBook("BTC-KRW")
	_, err := ob.Cancel("missing")
	assert.ErrorIs(t, err, common.ErrUnknownOrder)
}

func TestOrderBook_CancelRemovesEmptyLevel(t *testing.T) {
	ob := NewOrderBook("BTC-KRW")
	_, err := ob.RestLimit(limitOrder("b1", common.Buy, 100, 5))
	require.NoError(t, err)

	out, err := ob.Cancel("b1")
	require.NoError(t, err)
	assert.Equal(t, uint64(5), out.Residual)

	_, _, ok := ob.BestBid()
	assert.False(t, ok)
	assert.False(t, ob.Contains("b1"))
}

func TestOrderBook_MatchFullTakerFill(t *testing.T) {
	ob := NewOrderBook("BTC-KRW")
	maker := limitOrder("m1", common.Sell, 100, 10)
	_, err := ob.RestLimit(maker)
	require.NoError(t, err)

	taker := limitOrder("t1", common.Buy, 100, 4)
	fills := ob.Match(taker)

	require.Len(t, fills, 1)
	assert.Equal(t, uint64(4), fills[0].Qty)
	assert.Equal(t, int64(100), fills[0].Price)
	assert.Equal(t, uint64(0), taker.Residual())
	assert.Equal(t, common.StatusFilled, taker.Status)
	assert.Equal(t, uint64(6), maker.Residual())
	assert.Equal(t, common.StatusPartiallyFilled, maker.Status)

	// maker still rests with reduced residual
	_, vol, ok := ob.BestAsk()
	require.True(t, ok)
	assert.Equal(t, uint64(6), vol)
}

func TestOrderBook_MatchDepletesMakerLevel(t *testing.T) {
	ob := NewOrderBook("BTC-KRW")
	maker := limitOrder("m1", common.Sell, 100, 5)
	_, err := ob.RestLimit(maker)
	require.NoError(t, err)

	taker := limitOrder("t1", common.Buy, 100, 5)
	fills := ob.Match(taker)

	require.Len(t, fills, 1)
	assert.Equal(t, common.StatusFilled, maker.Status)
	assert.False(t, ob.Contains("m1"))
	_, _, ok := ob.BestAsk()
	assert.False(t, ok)
}

func TestOrderBook_MatchSweepsMultipleMakersPriceTimePriority(t *testing.T) {
	ob := NewOrderBook("BTC-KRW")
	m1 := limitOrder("m1", common.Sell, 100, 3)
	m2 := limitOrder("m2", common.Sell, 100, 3)
	m3 := limitOrder("m3", common.Sell, 101, 10)
	_, _ = ob.RestLimit(m1)
	_, _ = ob.RestLimit(m2)
	_, _ = ob.RestLimit(m3)

	taker := limitOrder("t1", common.Buy, 101, 7)
	fills := ob.Match(taker)

	require.Len(t, fills, 3)
	assert.Equal(t, "m1", fills[0].Maker.OrderID)
	assert.Equal(t, uint64(3), fills[0].Qty)
	assert.Equal(t, "m2", fills[1].Maker.OrderID)
	assert.Equal(t, uint64(3), fills[1].Qty)
	assert.Equal(t, "m3", fills[2].Maker.OrderID)
	assert.Equal(t, uint64(1), fills[2].Qty)
	assert.Equal(t, uint64(0), taker.Residual())
}

func TestOrderBook_MarketOrderNeverLeaksZeroPrice(t *testing.T) {
	ob := NewOrderBook("BTC-KRW")
	maker := limitOrder("m1", common.Sell, 105, 5)
	_, _ = ob.RestLimit(maker)

	taker := marketOrder("t1", common.Buy, 5)
	fills := ob.Match(taker)

	require.Len(t, fills, 1)
	assert.Equal(t, int64(105), fills[0].Price)
}

func TestOrderBook_MatchStopsWhenNoLiquidity(t *testing.T) {
	ob := NewOrderBook("BTC-KRW")
	taker := marketOrder("t1", common.Buy, 5)
	fills := ob.Match(taker)
	assert.Empty(t, fills)
	assert.Equal(t, uint64(5), taker.Residual())
}

func TestOrderBook_SnapshotOrdersBestFirst(t *testing.T) {
	ob := NewOrderBook("BTC-KRW")
	_, _ = ob.RestLimit(limitOrder("b1", common.Buy, 100, 5))
	_, _ = ob.RestLimit(limitOrder("b2", common.Buy, 102, 5))
	_, _ = ob.RestLimit(limitOrder("a1", common.Sell, 110, 5))
	_, _ = ob.RestLimit(limitOrder("a2", common.Sell, 108, 5))

	snap := ob.Snapshot(10)
	require.Len(t, snap.Bids, 2)
	require.Len(t, snap.Asks, 2)
	assert.Equal(t, int64(102), snap.Bids[0].Price)
	assert.Equal(t, int64(100), snap.Bids[1].Price)
	assert.Equal(t, int64(108), snap.Asks[0].Price)
	assert.Equal(t, int64(110), snap.Asks[1].Price)
}
