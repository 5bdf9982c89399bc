package publisher

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// RedisBroker publishes to the TopicBus target via Redis Streams (XADD).
type RedisBroker struct {
	client *redis.Client
}

// NewRedisBroker creates a RedisBroker against the given address.
func NewRedisBroker(addr string) *RedisBroker {
	return &RedisBroker{client: redis.NewClient(&redis.Options{Addr: addr})}
}

func (r *RedisBroker) Publish(ctx context.Context, topic, routingKey string, payload []byte) error {
	return r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: topic,
		Values: map[string]any{"routing_key": routingKey, "payload": payload},
	}).Err()
}

// Close releases the underlying connection pool.
func (r *RedisBroker) Close() error { return r.client.Close() }
