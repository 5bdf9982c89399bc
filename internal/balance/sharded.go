package balance

import "hash/fnv"

// ShardedCache partitions balances across N independent Cache shards keyed
// by a hash of the user id, the same NUMA-friendly partitioning idea as the
// original NUMAOptimizedCache: under heavy concurrent load, spreading
// entries across shards reduces contention on any one map's internal
// striping versus a single shared instance.
type ShardedCache struct {
	shards []*Cache
}

// NewSharded creates a ShardedCache with the given number of shards. n is
// clamped to at least 1.
func NewSharded(n int) *ShardedCache {
	if n < 1 {
		n = 1
	}
	shards := make([]*Cache, n)
	for i := range shards {
		shards[i] = New()
	}
	return &ShardedCache{shards: shards}
}

func (s *ShardedCache) shardFor(user string) *Cache {
	h := fnv.New32a()
	_, _ = h.Write([]byte(user))
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}

func (s *ShardedCache) Get(user, asset string) uint64 {
	return s.shardFor(user).Get(user, asset)
}

func (s *ShardedCache) Set(user, asset string, value uint64) {
	s.shardFor(user).Set(user, asset, value)
}

func (s *ShardedCache) Add(user, asset string, delta uint64) uint64 {
	return s.shardFor(user).Add(user, asset, delta)
}

func (s *ShardedCache) Subtract(user, asset string, delta uint64) (uint64, bool) {
	return s.shardFor(user).Subtract(user, asset, delta)
}

func (s *ShardedCache) CompareAndSwap(user, asset string, old, new uint64) bool {
	return s.shardFor(user).CompareAndSwap(user, asset, old, new)
}

// Metrics aggregates access counters across every shard.
func (s *ShardedCache) Metrics() Metrics {
	var total Metrics
	for _, shard := range s.shards {
		m := shard.Metrics()
		total.Reads += m.Reads
		total.Writes += m.Writes
	}
	return total
}
