// Package engine implements the per-symbol order book and the matching
// engine that routes inbound orders against it.
//
// Price levels are kept in two price-ordered btree.BTreeG trees — bids
// descending, asks ascending — each level an arena-backed queue of
// resting orders (internal/book).
package engine

import (
	"fmt"

	"fenrir/internal/book"
	"fenrir/internal/common"

	"github.com/tidwall/btree"
)

// Fill is one match produced while sweeping the opposite side of the book.
type Fill struct {
	Maker *common.Order
	Taker *common.Order
	Price int64
	Qty   uint64
}

// InsertOutcome reports what happened to a limit order admitted into the
// book: it may rest (possibly after partial fills) or be fully consumed.
type InsertOutcome struct {
	OrderID  string
	Fills    []Fill
	Resting  bool
	Residual uint64
}

// CancelOutcome reports the order and residual quantity pulled off the book.
type CancelOutcome struct {
	OrderID  string
	Order    *common.Order
	Residual uint64
}

type indexEntry struct {
	side   common.Side
	price  int64
	level  *book.PriceLevel
	handle book.Handle
	order  *common.Order
}

// OrderBook holds the bid/ask ladders for a single symbol plus the O(1)
// cancel index. It is NOT safe for concurrent use; callers must serialize
// access (see the per-symbol worker goroutine in engine.go).
type OrderBook struct {
	Symbol string

	bids *btree.BTreeG[*book.PriceLevel]
	asks *btree.BTreeG[*book.PriceLevel]

	index map[string]*indexEntry

	bestBid *book.PriceLevel
	bestAsk *book.PriceLevel
}

// NewOrderBook creates an empty order book for symbol.
func NewOrderBook(symbol string) *OrderBook {
	return &OrderBook{
		Symbol: symbol,
		bids: btree.NewBTreeG(func(a, b *book.PriceLevel) bool {
			return a.Price > b.Price // descending: best bid first
		}),
		asks: btree.NewBTreeG(func(a, b *book.PriceLevel) bool {
			return a.Price < b.Price // ascending: best ask first
		}),
		index: make(map[string]*indexEntry),
	}
}

func (b *OrderBook) ladder(side common.Side) *btree.BTreeG[*book.PriceLevel] {
	if side == common.Buy {
		return b.bids
	}
	return b.asks
}

func (b *OrderBook) opposite(side common.Side) *btree.BTreeG[*book.PriceLevel] {
	if side == common.Buy {
		return b.asks
	}
	return b.bids
}

// BestBid returns the best bid price and its aggregate resting volume.
func (b *OrderBook) BestBid() (price int64, volume uint64, ok bool) {
	lvl, ok := b.bids.Min()
	if !ok {
		return 0, 0, false
	}
	return lvl.Price, lvl.TotalResidual(), true
}

// BestAsk returns the best ask price and its aggregate resting volume.
func (b *OrderBook) BestAsk() (price int64, volume uint64, ok bool) {
	lvl, ok := b.asks.Min()
	if !ok {
		return 0, 0, false
	}
	return lvl.Price, lvl.TotalResidual(), true
}

// crosses reports whether a taker on the given side at the given price
// would cross the best of the opposite ladder. Market orders always
// cross while any opposite-side liquidity exists.
func (b *OrderBook) crosses(side common.Side, typ common.OrderType, price int64) bool {
	opp := b.opposite(side)
	best, ok := opp.Min()
	if !ok {
		return false
	}
	if typ == common.Market {
		return true
	}
	if side == common.Buy {
		return price >= best.Price
	}
	return price <= best.Price
}

// Match sweeps the opposite side of the book against taker, consuming
// resting makers in strict price-time priority, at the maker's resting
// price. It mutates taker/maker Filled/Status in place and returns one
// Fill per maker touched. The taker is never rested here.
func (b *OrderBook) Match(taker *common.Order) []Fill {
	var fills []Fill

	for taker.Residual() > 0 && b.crosses(taker.Side, taker.Type, taker.Price) {
		opp := b.opposite(taker.Side)
		lvl, ok := opp.Min()
		if !ok {
			break
		}

		for taker.Residual() > 0 {
			maker, h, ok := lvl.PeekFront()
			if !ok {
				break
			}

			qty := min(taker.Residual(), maker.Residual())
			taker.ApplyFill(qty)
			maker.ApplyFill(qty)
			lvl.ReduceResidual(qty)

			fills = append(fills, Fill{Maker: maker, Taker: taker, Price: lvl.Price, Qty: qty})

			if maker.Residual() == 0 {
				lvl.Cancel(h)
				delete(b.index, maker.OrderID)
			}

			if lvl.Empty() {
				break
			}
		}

		if lvl.Empty() {
			opp.Delete(lvl)
		}
	}

	return fills
}

// RestLimit inserts a limit order with remaining residual onto its own
// side of the book at the tail of its price level (time priority via
// ArrivalSeq). Rejects duplicate order ids.
func (b *OrderBook) RestLimit(order *common.Order) (InsertOutcome, error) {
	if _, exists := b.index[order.OrderID]; exists {
		return InsertOutcome{}, fmt.Errorf("%w: %s", common.ErrDuplicateOrder, order.OrderID)
	}

	ladder := b.ladder(order.Side)
	probe := &book.PriceLevel{Price: order.Price}
	lvl, ok := ladder.Get(probe)
	if !ok {
		lvl = book.NewPriceLevel(order.Price)
		ladder.Set(lvl)
	}

	h := lvl.PushBack(order)
	b.index[order.OrderID] = &indexEntry{side: order.Side, price: order.Price, level: lvl, handle: h, order: order}

	return InsertOutcome{OrderID: order.OrderID, Resting: true, Residual: order.Residual()}, nil
}

// Cancel removes a resting order by id in O(1) via the index.
func (b *OrderBook) Cancel(orderID string) (CancelOutcome, error) {
	entry, ok := b.index[orderID]
	if !ok {
		return CancelOutcome{}, fmt.Errorf("%w: %s", common.ErrUnknownOrder, orderID)
	}
	if entry.order.Status == common.StatusFilled || entry.order.Status == common.StatusCancelled {
		return CancelOutcome{}, fmt.Errorf("%w: %s", common.ErrNotCancellable, orderID)
	}

	residual := entry.order.Residual()
	order := entry.order
	entry.level.Cancel(entry.handle)
	delete(b.index, orderID)
	entry.order.Cancel()

	if entry.level.Empty() {
		b.ladder(entry.side).Delete(entry.level)
	}

	return CancelOutcome{OrderID: orderID, Order: order, Residual: residual}, nil
}

// Contains reports whether orderID is currently resting.
func (b *OrderBook) Contains(orderID string) bool {
	_, ok := b.index[orderID]
	return ok
}

// PriceLevelView is an aggregated (price, volume) pair for snapshots.
type PriceLevelView struct {
	Price  int64
	Volume uint64
}

// Snapshot returns the top-depth aggregated levels on each side, best
// first.
type OrderBookSnapshot struct {
	Symbol string
	Bids   []PriceLevelView
	Asks   []PriceLevelView
}

func (b *OrderBook) Snapshot(depth int) OrderBookSnapshot {
	snap := OrderBookSnapshot{Symbol: b.Symbol}
	b.bids.Scan(func(lvl *book.PriceLevel) bool {
		if len(snap.Bids) >= depth {
			return false
		}
		snap.Bids = append(snap.Bids, PriceLevelView{Price: lvl.Price, Volume: lvl.TotalResidual()})
		return true
	})
	b.asks.Scan(func(lvl *book.PriceLevel) bool {
		if len(snap.Asks) >= depth {
			return false
		}
		snap.Asks = append(snap.Asks, PriceLevelView{Price: lvl.Price, Volume: lvl.TotalResidual()})
		return true
	})
	return snap
}

// QuoteCost returns the quote-asset cost of sweeping up to qty units off
// the ask side at current resting prices, without mutating the book.
// It is the admission-time budget for a market buy: only the achievable
// portion of qty is priced, since the rest will never be filled and
// never needs to be reserved.
func (b *OrderBook) QuoteCost(qty uint64) uint64 {
	var cost uint64
	remaining := qty
	b.asks.Scan(func(lvl *book.PriceLevel) bool {
		if remaining == 0 {
			return false
		}
		take := min(remaining, lvl.TotalResidual())
		cost += uint64(lvl.Price) * take
		remaining -= take
		return true
	})
	return cost
}

// Crossed reports whether the book invariant (best_bid < best_ask) is
// violated.
func (b *OrderBook) Crossed() bool {
	bid, _, bidOk := b.BestBid()
	ask, _, askOk := b.BestAsk()
	if !bidOk || !askOk {
		return false
	}
	return bid >= ask
}
