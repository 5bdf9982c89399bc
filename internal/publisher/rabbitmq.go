package publisher

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitBroker publishes to the ExchangeBus target via RabbitMQ.
type RabbitBroker struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

// NewRabbitBroker dials url and declares a topic exchange.
func NewRabbitBroker(url, exchange string) (*RabbitBroker, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &RabbitBroker{conn: conn, channel: ch, exchange: exchange}, nil
}

func (r *RabbitBroker) Publish(ctx context.Context, topic, routingKey string, payload []byte) error {
	return r.channel.PublishWithContext(ctx, r.exchange, routingKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        payload,
	})
}

// Close tears down the channel and connection.
func (r *RabbitBroker) Close() error {
	_ = r.channel.Close()
	return r.conn.Close()
}
