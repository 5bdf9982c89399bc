// Package engine also implements the matching engine proper: admission,
// the price-time-priority matching algorithm, and execution report
// emission onto the tape. Each symbol's book is owned by exactly one
// goroutine, supervised by a gopkg.in/tomb.v2 tomb.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fenrir/internal/balance"
	"fenrir/internal/common"
	"fenrir/internal/metrics"
	"fenrir/internal/tape"

	"github.com/rs/zerolog/log"
	"gopkg.in/tomb.v2"
)

// request is one admitted command routed to a symbol's worker goroutine.
type request struct {
	order     *common.Order
	cancelID  string
	snapshot  bool
	depth     int
	reply     chan response
}

type response struct {
	outcome  SubmitResult
	snapshot OrderBookSnapshot
	err      error
}

// SubmitResult is returned to the caller of Engine.Submit once a symbol's
// worker has fully processed an order (matched and, if residual remains,
// rested).
type SubmitResult struct {
	Order *common.Order
	Fills []Fill
}

// symbolWorker owns one OrderBook and drains its inbox sequentially,
// guaranteeing the single-writer invariant without a mutex around the book.
// arrivalSeq and lastTS are only touched from the worker goroutine, so
// neither needs an atomic.
type symbolWorker struct {
	symbol string
	book   *OrderBook
	inbox  chan request

	arrivalSeq uint64
	lastTS     int64
}

// nextTS returns a nanosecond timestamp strictly greater than the one
// handed out before it for this symbol, so execution reports from the
// same symbol never carry an out-of-order or duplicate ts even when
// time.Now() doesn't advance between two back-to-back fills.
func (w *symbolWorker) nextTS() int64 {
	now := time.Now().UnixNano()
	if now <= w.lastTS {
		now = w.lastTS + 1
	}
	w.lastTS = now
	return now
}

// Engine routes inbound orders to per-symbol workers, applies balance
// reservations, and publishes fills onto the tape.
type Engine struct {
	t tomb.Tomb

	mu      sync.RWMutex
	workers map[string]*symbolWorker

	balances *balance.Cache
	tape     *tape.Tape
	metrics  *metrics.Registry
	orders   OrderSink
}

// OrderSink receives order state transitions for durable recording. The
// engine calls it from inside the symbol worker after each submission or
// cancellation settles, so implementations must not block.
type OrderSink interface {
	RecordOrder(o *common.Order)
}

// New creates an Engine. The balance cache and tape are shared across every
// symbol worker the Engine spawns.
func New(balances *balance.Cache, tp *tape.Tape) *Engine {
	return &Engine{
		workers:  make(map[string]*symbolWorker),
		balances: balances,
		tape:     tp,
	}
}

// WithMetrics attaches a metrics registry; counters are incremented as
// orders are submitted, cancelled, and matched. Safe to leave unset.
func (e *Engine) WithMetrics(m *metrics.Registry) *Engine {
	e.metrics = m
	return e
}

// WithOrderSink attaches a sink for order state transitions. Safe to leave
// unset.
func (e *Engine) WithOrderSink(s OrderSink) *Engine {
	e.orders = s
	return e
}

func (e *Engine) recordOrder(o *common.Order) {
	if e.orders != nil {
		e.orders.RecordOrder(o)
	}
}

// EnsureSymbol spawns a worker goroutine for symbol if one doesn't already
// exist. Safe to call concurrently and repeatedly.
func (e *Engine) EnsureSymbol(symbol string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.workers[symbol]; ok {
		return
	}
	w := &symbolWorker{symbol: symbol, book: NewOrderBook(symbol), inbox: make(chan request, 256)}
	e.workers[symbol] = w
	e.t.Go(func() error { return e.runWorker(w) })
}

func (e *Engine) worker(symbol string) (*symbolWorker, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	w, ok := e.workers[symbol]
	return w, ok
}

func (e *Engine) runWorker(w *symbolWorker) error {
	log.Info().Str("symbol", w.symbol).Msg("symbol worker starting")
	for {
		select {
		case <-e.t.Dying():
			log.Info().Str("symbol", w.symbol).Msg("symbol worker stopping")
			return nil
		case req := <-w.inbox:
			switch {
			case req.snapshot:
				req.reply <- response{snapshot: w.book.Snapshot(req.depth)}
			case req.cancelID != "":
				out, err := w.book.Cancel(req.cancelID)
				if err == nil {
					e.release(out.Order, out.Residual)
					e.recordOrder(out.Order)
				}
				req.reply <- response{outcome: SubmitResult{}, err: err}
			default:
				result, err := e.process(w, req.order)
				req.reply <- response{outcome: result, err: err}
			}
		}
	}
}

// reservation returns the asset and amount admission must subtract from
// the order's client before it may touch the book: quote at price×quantity
// for a limit buy, the achievable cost of sweeping the current ask side
// for a market buy, and the full base quantity for any sell regardless of
// order type. Settlement of the fills themselves is out of scope here;
// this reservation is the balance cache's only job.
func reservation(b *OrderBook, order *common.Order) (asset string, amount uint64) {
	if order.Side == common.Sell {
		return common.BaseAsset(order.Symbol), order.Quantity
	}
	quote := common.QuoteAsset(order.Symbol)
	if order.Type == common.Limit {
		return quote, uint64(order.Price) * order.Quantity
	}
	return quote, b.QuoteCost(order.Quantity)
}

// release returns a resting order's unfilled reservation to its client on
// cancellation: base units 1-for-1 for a sell, or residual×price of quote
// for a buy (limit orders only, since market orders never rest).
func (e *Engine) release(order *common.Order, residual uint64) {
	if residual == 0 {
		return
	}
	if order.Side == common.Sell {
		e.balances.Add(order.ClientID, common.BaseAsset(order.Symbol), residual)
		return
	}
	e.balances.Add(order.ClientID, common.QuoteAsset(order.Symbol), residual*uint64(order.Price))
}

// process reserves balance, runs matching, and publishes one execution
// report per fill onto the tape. It always returns; a rejection surfaces
// as a zero-Fills SubmitResult and a non-nil error, with nothing yet
// mutated in the book.
func (e *Engine) process(w *symbolWorker, order *common.Order) (SubmitResult, error) {
	if w.book.Contains(order.OrderID) {
		return SubmitResult{Order: order}, fmt.Errorf("%w: %s", common.ErrDuplicateOrder, order.OrderID)
	}

	w.arrivalSeq++
	order.ArrivalSeq = w.arrivalSeq

	asset, amount := reservation(w.book, order)
	if amount > 0 {
		if _, ok := e.balances.Subtract(order.ClientID, asset, amount); !ok {
			order.Cancel()
			return SubmitResult{Order: order}, common.ErrInsufficientBalance
		}
	}

	fills := w.book.Match(order)

	var reports []tape.ExecutionReport
	for i, f := range fills {
		reports = append(reports, tape.ExecutionReport{
			ExecID:       fmt.Sprintf("%s_%d", order.OrderID, i),
			TakerOrderID: f.Taker.OrderID,
			MakerOrderID: f.Maker.OrderID,
			Symbol:       w.symbol,
			Side:         f.Taker.Side.String(),
			Price:        f.Price,
			Quantity:     f.Qty,
			TakerFee:     0, // no fee schedule configured
			MakerFee:     0,
			TransactTime: w.nextTS(),
		})
	}

	for _, r := range reports {
		e.tape.Publish(r)
	}
	if e.metrics != nil && len(fills) > 0 {
		e.metrics.Fills.Add(float64(len(fills)))
	}
	for _, f := range fills {
		e.recordOrder(f.Maker)
	}

	if order.Type == common.Limit && order.Residual() > 0 {
		if _, err := w.book.RestLimit(order); err != nil {
			log.Error().Err(err).Str("order_id", order.OrderID).Msg("failed to rest residual order")
		}
	} else if order.Type == common.Market && order.Residual() > 0 {
		// market orders never rest; unfilled residual is simply dropped. A
		// market sell reserved the full quantity up front (unlike a market
		// buy, whose reservation only ever covered the achievable cost) so
		// its unmatched remainder must be released back.
		residual := order.Residual()
		order.Cancel()
		if order.Side == common.Sell {
			e.balances.Add(order.ClientID, common.BaseAsset(order.Symbol), residual)
		}
	}

	e.recordOrder(order)
	return SubmitResult{Order: order, Fills: fills}, nil
}

// Submit admits order into its symbol's book, blocking until the symbol
// worker has processed it. The symbol's worker is started through
// EnsureSymbol if it does not exist yet.
func (e *Engine) Submit(ctx context.Context, order *common.Order) (SubmitResult, error) {
	if order.OrderID == "" || order.Symbol == "" || order.Quantity == 0 {
		return SubmitResult{}, common.ErrInvalidInput
	}
	if order.Type == common.Limit && order.Price <= 0 {
		return SubmitResult{}, common.ErrInvalidInput
	}

	e.EnsureSymbol(order.Symbol)
	w, _ := e.worker(order.Symbol)

	reply := make(chan response, 1)
	select {
	case w.inbox <- request{order: order, reply: reply}:
	case <-ctx.Done():
		return SubmitResult{}, ctx.Err()
	case <-e.t.Dying():
		return SubmitResult{}, common.ErrEngineBusy
	}

	select {
	case resp := <-reply:
		if resp.err == nil && e.metrics != nil {
			e.metrics.OrdersSubmitted.Inc()
		}
		return resp.outcome, resp.err
	case <-ctx.Done():
		return SubmitResult{}, ctx.Err()
	}
}

// Cancel pulls a resting order off its symbol's book.
func (e *Engine) Cancel(ctx context.Context, symbol, orderID string) error {
	w, ok := e.worker(symbol)
	if !ok {
		return common.ErrUnknownSymbol
	}

	reply := make(chan response, 1)
	select {
	case w.inbox <- request{cancelID: orderID, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.t.Dying():
		return common.ErrEngineBusy
	}

	select {
	case resp := <-reply:
		if resp.err == nil && e.metrics != nil {
			e.metrics.OrdersCancelled.Inc()
		}
		return resp.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns the current top-of-book for symbol, if it exists. The
// request is routed through the symbol's worker goroutine so snapshot reads
// never race with in-flight matching.
func (e *Engine) Snapshot(ctx context.Context, symbol string, depth int) (OrderBookSnapshot, bool) {
	w, ok := e.worker(symbol)
	if !ok {
		return OrderBookSnapshot{}, false
	}

	reply := make(chan response, 1)
	select {
	case w.inbox <- request{snapshot: true, depth: depth, reply: reply}:
	case <-ctx.Done():
		return OrderBookSnapshot{}, false
	case <-e.t.Dying():
		return OrderBookSnapshot{}, false
	}

	select {
	case resp := <-reply:
		return resp.snapshot, true
	case <-ctx.Done():
		return OrderBookSnapshot{}, false
	}
}

// BestPrices returns the current best bid and ask for symbol, routed
// through the symbol's worker so the read never races with matching. A
// missing side reports as 0.
func (e *Engine) BestPrices(ctx context.Context, symbol string) (bid, ask int64, ok bool) {
	snap, ok := e.Snapshot(ctx, symbol, 1)
	if !ok {
		return 0, 0, false
	}
	if len(snap.Bids) > 0 {
		bid = snap.Bids[0].Price
	}
	if len(snap.Asks) > 0 {
		ask = snap.Asks[0].Price
	}
	return bid, ask, true
}

// Shutdown signals every symbol worker to stop and waits for them to exit.
// A worker stops as soon as it sees the signal; requests still queued in
// its inbox are not processed. If no worker was ever started there is
// nothing to wait for and Shutdown returns immediately.
func (e *Engine) Shutdown() error {
	e.mu.Lock()
	started := len(e.workers) > 0
	e.t.Kill(nil)
	e.mu.Unlock()
	if !started {
		return nil
	}
	return e.t.Wait()
}
