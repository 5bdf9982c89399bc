package mdp

import (
	"container/list"
	"context"
	"strconv"
	"sync"
	"time"

	"fenrir/internal/tape"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
	"gopkg.in/tomb.v2"
)

// seenCapacity bounds the recently-seen exec_id set. It only needs to
// cover exec_ids that could plausibly be redelivered by an upstream
// replay (a restart of the tape's own queues), not the full history of
// the exchange, so a fixed-size LRU evicts the oldest entries instead of
// growing without bound.
const seenCapacity = 100_000

// Consumer folds execution reports into per-symbol, per-interval
// candlesticks and a rolling 24h statistics window. Replay is idempotent:
// each exec_id is applied at most once, so re-delivering the same report
// (e.g. after a restart replaying a durable queue) never double-counts
// volume.
type Consumer struct {
	t tomb.Tomb

	seen *lru.Cache[string, struct{}]

	// mu guards the projections below: the fold loop writes them while
	// snapshot queries read them from other goroutines.
	mu      sync.RWMutex
	candles map[string]*Candlestick // key: symbol|interval|openTime
	stats   map[string]*Stats24h    // key: symbol
	minutes map[string]*list.List   // key: symbol, value: *list.List of *minuteBucket, oldest first

	book BookView
}

// BookView reads the current best bid/ask for a symbol, used to complete
// the 24h statistics snapshot with top-of-book prices and spread.
type BookView func(symbol string) (bid, ask int64, ok bool)

// NewConsumer creates an empty Consumer.
func NewConsumer() *Consumer {
	seen, err := lru.New[string, struct{}](seenCapacity)
	if err != nil {
		panic(err) // only fails for a non-positive capacity
	}
	return &Consumer{
		seen:    seen,
		candles: make(map[string]*Candlestick),
		stats:   make(map[string]*Stats24h),
		minutes: make(map[string]*list.List),
	}
}

// WithBookView attaches a top-of-book reader. Safe to leave unset; the
// statistics then report zero bid/ask/spread.
func (c *Consumer) WithBookView(view BookView) *Consumer {
	c.book = view
	return c
}

var trackedIntervals = []Interval{Interval1m, Interval5m, Interval15m, Interval1h, Interval4h, Interval1d}

func candleKey(symbol string, interval Interval, openTime int64) string {
	return symbol + "|" + string(interval) + "|" + strconv.FormatInt(openTime, 10)
}

// Apply folds one execution report into every tracked interval's
// candlestick and the symbol's 24h rolling statistics. Reports sharing an
// exec_id already applied are skipped.
func (c *Consumer) Apply(r tape.ExecutionReport) {
	if _, dup := c.seen.Get(r.ExecID); dup {
		return
	}
	c.seen.Add(r.ExecID, struct{}{})

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, interval := range trackedIntervals {
		open := bucketStart(r.TransactTime, interval)
		key := candleKey(r.Symbol, interval, open)
		cs, ok := c.candles[key]
		if !ok {
			cs = newCandlestick(r.Symbol, interval, open, r.Price, r.Quantity)
			c.candles[key] = cs
			continue
		}
		cs.fold(r.Price, r.Quantity)
	}

	c.foldStats(r)
}

// Candlestick returns a copy of the candlestick for symbol/interval
// covering openTime, if one has been folded.
func (c *Consumer) Candlestick(symbol string, interval Interval, openTime int64) (Candlestick, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cs, ok := c.candles[candleKey(symbol, interval, bucketStart(openTime, interval))]
	if !ok {
		return Candlestick{}, false
	}
	return *cs, true
}

// Candlesticks returns every folded bucket for symbol/interval, unordered.
func (c *Consumer) Candlesticks(symbol string, interval Interval) []Candlestick {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Candlestick
	for _, cs := range c.candles {
		if cs.Symbol == symbol && cs.Interval == interval {
			out = append(out, *cs)
		}
	}
	return out
}

// Statistics returns the rolling 24h statistics for symbol, completed with
// the current top-of-book bid/ask and spread when a BookView is attached.
func (c *Consumer) Statistics(symbol string) (Stats24h, bool) {
	c.mu.RLock()
	s, ok := c.stats[symbol]
	if !ok {
		c.mu.RUnlock()
		return Stats24h{}, false
	}
	out := *s
	c.mu.RUnlock()

	if c.book != nil {
		if bid, ask, ok := c.book(symbol); ok {
			out.BidPrice = bid
			out.AskPrice = ask
			if bid > 0 && ask > 0 {
				out.Spread = ask - bid
			}
		}
	}
	return out, true
}

// Symbols lists every symbol with folded statistics, for batch queries.
func (c *Consumer) Symbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.stats))
	for sym := range c.stats {
		out = append(out, sym)
	}
	return out
}

const dayNanos = int64(24 * time.Hour)

func (c *Consumer) foldStats(r tape.ExecutionReport) {
	ml := c.minutes[r.Symbol]
	if ml == nil {
		ml = list.New()
		c.minutes[r.Symbol] = ml
	}

	minute := bucketStart(r.TransactTime, Interval1m)
	var bucket *minuteBucket
	if back := ml.Back(); back != nil {
		if mb := back.Value.(*minuteBucket); mb.minute == minute {
			bucket = mb
		}
	}
	if bucket == nil {
		bucket = &minuteBucket{minute: minute, open: r.Price, high: r.Price, low: r.Price, close: r.Price}
		ml.PushBack(bucket)
	}
	if r.Price > bucket.high {
		bucket.high = r.Price
	}
	if r.Price < bucket.low {
		bucket.low = r.Price
	}
	bucket.close = r.Price
	bucket.volume += r.Quantity

	cutoff := r.TransactTime - dayNanos
	for front := ml.Front(); front != nil; front = ml.Front() {
		mb := front.Value.(*minuteBucket)
		if mb.minute >= cutoff {
			break
		}
		ml.Remove(front)
	}

	stats, ok := c.stats[r.Symbol]
	if !ok {
		stats = &Stats24h{Symbol: r.Symbol}
		c.stats[r.Symbol] = stats
	}

	var vol uint64
	front := ml.Front().Value.(*minuteBucket)
	open := front.open
	high := front.high
	low := front.low
	var last int64
	for e := ml.Front(); e != nil; e = e.Next() {
		mb := e.Value.(*minuteBucket)
		if mb.high > high {
			high = mb.high
		}
		if mb.low < low {
			low = mb.low
		}
		vol += mb.volume
		last = mb.close
	}

	stats.OpenPrice24h = open
	stats.HighPrice24h = high
	stats.LowPrice24h = low
	stats.LastPrice = last
	stats.Volume24h = vol
	if open != 0 {
		stats.PriceChange24h = float64(last-open) / float64(open) * 100
	}
}

// Run drains reports and applies them until the tomb is killed.
func (c *Consumer) Run(ctx context.Context, reports <-chan tape.ExecutionReport) error {
	log.Info().Msg("mdp consumer starting")
	for {
		select {
		case <-c.t.Dying():
			return nil
		case <-ctx.Done():
			return nil
		case r := <-reports:
			c.Apply(r)
		}
	}
}

// Go starts Run supervised by the consumer's tomb.
func (c *Consumer) Go(ctx context.Context, reports <-chan tape.ExecutionReport) {
	c.t.Go(func() error { return c.Run(ctx, reports) })
}

// Shutdown stops the run loop.
func (c *Consumer) Shutdown() error {
	c.t.Kill(nil)
	return c.t.Wait()
}
