// Package balance implements a lock-free balance cache: a concurrent map
// of per-(user,asset) integer balances supporting atomic
// get/set/add/subtract/compare-and-swap without a mutex guarding the
// whole table. Built on puzpuzpuz/xsync/v3's MapOf, a sharded, lock-free
// concurrent map, with an atomic.Uint64 per entry so concurrent
// add/subtract never take a table-wide lock.
package balance

import (
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
)

// Cache holds balances keyed by "<user>:<asset>".
type Cache struct {
	entries *xsync.MapOf[string, *atomic.Uint64]

	reads  atomic.Uint64
	writes atomic.Uint64
}

// New creates an empty balance cache.
func New() *Cache {
	return &Cache{entries: xsync.NewMapOf[string, *atomic.Uint64]()}
}

func key(user, asset string) string { return user + ":" + asset }

func (c *Cache) slot(user, asset string) *atomic.Uint64 {
	v, _ := c.entries.LoadOrCompute(key(user, asset), func() *atomic.Uint64 {
		return &atomic.Uint64{}
	})
	return v
}

// Get returns the current balance, 0 if the user/asset pair was never set.
func (c *Cache) Get(user, asset string) uint64 {
	c.reads.Add(1)
	v, ok := c.entries.Load(key(user, asset))
	if !ok {
		return 0
	}
	return v.Load()
}

// Set overwrites the balance unconditionally.
func (c *Cache) Set(user, asset string, value uint64) {
	c.writes.Add(1)
	c.slot(user, asset).Store(value)
}

// Add credits delta to the balance and returns the new value.
func (c *Cache) Add(user, asset string, delta uint64) uint64 {
	c.writes.Add(1)
	return c.slot(user, asset).Add(delta)
}

// Subtract debits delta from the balance only if the current balance is at
// least delta, CAS-looping until it commits or insufficient funds is
// observed. Returns the new balance and whether the debit applied.
func (c *Cache) Subtract(user, asset string, delta uint64) (uint64, bool) {
	c.writes.Add(1)
	slot := c.slot(user, asset)
	for {
		cur := slot.Load()
		if cur < delta {
			return cur, false
		}
		next := cur - delta
		if slot.CompareAndSwap(cur, next) {
			return next, true
		}
	}
}

// CompareAndSwap applies the update only if the current value equals old.
func (c *Cache) CompareAndSwap(user, asset string, old, new uint64) bool {
	c.writes.Add(1)
	return c.slot(user, asset).CompareAndSwap(old, new)
}

// Metrics is a snapshot of cache access counters.
type Metrics struct {
	Reads  uint64
	Writes uint64
}

func (c *Cache) Metrics() Metrics {
	return Metrics{Reads: c.reads.Load(), Writes: c.writes.Load()}
}

// Size returns the number of distinct (user, asset) entries currently
// tracked.
func (c *Cache) Size() int {
	return c.entries.Size()
}

// Range calls fn for every (user, asset) entry until fn returns false.
// The iteration is weakly consistent: entries mutated concurrently may or
// may not be observed at their newest value.
func (c *Cache) Range(fn func(user, asset string, balance uint64) bool) {
	c.entries.Range(func(k string, v *atomic.Uint64) bool {
		user, asset := splitKey(k)
		return fn(user, asset, v.Load())
	})
}

func splitKey(k string) (user, asset string) {
	for i := 0; i < len(k); i++ {
		if k[i] == ':' {
			return k[:i], k[i+1:]
		}
	}
	return k, ""
}
