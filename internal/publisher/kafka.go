package publisher

import (
	"context"

	"github.com/segmentio/kafka-go"
)

// KafkaBroker publishes to the StreamLog target via segmentio/kafka-go.
type KafkaBroker struct {
	writer *kafka.Writer
}

// NewKafkaBroker creates a KafkaBroker against the given brokers.
func NewKafkaBroker(brokers []string) *KafkaBroker {
	return &KafkaBroker{writer: &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Balancer: &kafka.LeastBytes{},
	}}
}

func (k *KafkaBroker) Publish(ctx context.Context, topic, routingKey string, payload []byte) error {
	return k.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(routingKey),
		Value: payload,
	})
}

// Close flushes and closes the underlying writer.
func (k *KafkaBroker) Close() error { return k.writer.Close() }
