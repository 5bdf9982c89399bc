package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"fenrir/internal/common"
	"fenrir/internal/metrics"
	"fenrir/internal/tape"

	"github.com/rs/zerolog/log"
	"gopkg.in/tomb.v2"
)

// Target names one of the three broker surfaces execution reports can be
// published to.
type Target int

const (
	StreamLog   Target = iota // Kafka
	TopicBus                  // Redis Streams
	ExchangeBus               // RabbitMQ
)

func (t Target) String() string {
	switch t {
	case StreamLog:
		return "stream_log"
	case TopicBus:
		return "topic_bus"
	default:
		return "exchange_bus"
	}
}

func (t Target) mqType() MQType {
	switch t {
	case StreamLog:
		return MQKafka
	case TopicBus:
		return MQRedis
	default:
		return MQRabbitMQ
	}
}

// Broker is the minimal surface every adapter (Kafka/Redis/RabbitMQ)
// implements.
type Broker interface {
	Publish(ctx context.Context, topic, routingKey string, payload []byte) error
}

const (
	recoverBatchSize        = 100
	recoveryInterval        = 5 * time.Second
	shutdownRecoverDeadline = 3 * time.Second
)

// Publisher drains the tape's publisher queue and fans execution reports
// out to their broker targets, falling back to the local backup queue
// when a broker publish fails. Backed-up messages are re-published once
// the broker comes back: a recovery pass drains a batch, removes each
// message on success, and re-enqueues with a bumped retry count on
// failure until the retry budget runs out.
type Publisher struct {
	t tomb.Tomb

	brokers map[Target]Broker
	topics  map[Target]string
	backup  *LocalBackupQueue
	metrics *metrics.Registry

	down map[Target]bool // touched only from the run goroutine and Shutdown
}

// New creates a Publisher. brokers may omit any Target; a target with no
// broker is not published to, and nothing is written to the backup queue
// for it.
func New(brokers map[Target]Broker, topics map[Target]string, backup *LocalBackupQueue) *Publisher {
	return &Publisher{
		brokers: brokers,
		topics:  topics,
		backup:  backup,
		down:    make(map[Target]bool),
	}
}

// WithMetrics attaches a metrics registry; broker publish failures are
// counted per target as they happen. Safe to leave unset.
func (p *Publisher) WithMetrics(reg *metrics.Registry) *Publisher {
	p.metrics = reg
	return p
}

// PublishReport serializes an execution report and sends it to every
// configured target.
func (p *Publisher) PublishReport(ctx context.Context, r tape.ExecutionReport) {
	payload, err := json.Marshal(r)
	if err != nil {
		log.Error().Err(err).Str("exec_id", r.ExecID).Msg("failed to marshal execution report")
		return
	}

	for target, broker := range p.brokers {
		topic := p.topics[target]
		if err := broker.Publish(ctx, topic, r.Symbol, payload); err != nil {
			err = fmt.Errorf("%w: %v", common.ErrBrokerUnavailable, err)
			log.Warn().Err(err).Str("exec_id", r.ExecID).Stringer("target", target).Msg("broker publish failed, backing up")
			p.down[target] = true
			if p.metrics != nil {
				p.metrics.BrokerFailures.WithLabelValues(target.String()).Inc()
			}
			msg := NewBuilder(fmt.Sprintf("%s-%s", r.ExecID, target), target.mqType(), topic, json.RawMessage(payload)).
				WithRoutingKey(r.Symbol).
				Build()
			if bErr := p.backup.Push(msg); bErr != nil {
				log.Error().Err(bErr).Str("exec_id", r.ExecID).Msg("failed to spill undelivered message to backup queue")
			}
			continue
		}
		if p.down[target] {
			log.Info().Stringer("target", target).Msg("broker back up, recovering backed-up messages")
			p.down[target] = false
			p.recoverTarget(ctx, target)
		}
	}
}

// recoverTarget drains one batch of backed-up messages for target and
// re-publishes them. A message that fails again goes back into the queue
// with its retry count bumped; once the count reaches max_retries the
// queue stops handing it out.
func (p *Publisher) recoverTarget(ctx context.Context, target Target) {
	broker, ok := p.brokers[target]
	if !ok {
		return
	}

	msgs, err := p.backup.Recover(target.mqType(), recoverBatchSize)
	if err != nil {
		log.Error().Err(err).Stringer("target", target).Msg("backup queue recovery failed")
		return
	}

	for i, m := range msgs {
		if err := broker.Publish(ctx, m.Topic, m.RoutingKey, m.Data); err != nil {
			p.down[target] = true
			m.RetryCount++
			for _, rest := range append([]BackupMessage{m}, msgs[i+1:]...) {
				if bErr := p.backup.Push(rest); bErr != nil {
					log.Error().Err(bErr).Str("id", rest.ID).Msg("failed to re-enqueue backup message")
				}
			}
			return
		}
		// success: Recover already pulled the message out of the queue.
	}
	if len(msgs) > 0 {
		log.Info().Int("count", len(msgs)).Stringer("target", target).Msg("re-published backed-up messages")
	}
}

// Run drains reports and publishes each until the tomb is killed,
// periodically retrying backed-up messages against their brokers.
func (p *Publisher) Run(ctx context.Context, reports <-chan tape.ExecutionReport) error {
	log.Info().Msg("publisher starting")
	ticker := time.NewTicker(recoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.t.Dying():
			return nil
		case <-ctx.Done():
			return nil
		case r := <-reports:
			p.PublishReport(ctx, r)
		case <-ticker.C:
			if p.backup.Size() > 0 {
				for target := range p.brokers {
					p.recoverTarget(ctx, target)
				}
			}
		}
	}
}

// Go starts Run supervised by the publisher's tomb.
func (p *Publisher) Go(ctx context.Context, reports <-chan tape.ExecutionReport) {
	p.t.Go(func() error { return p.Run(ctx, reports) })
}

// Shutdown stops the run loop, gives backed-up messages one bounded
// recovery pass, then persists whatever is left to disk.
func (p *Publisher) Shutdown() error {
	p.t.Kill(nil)
	err := p.t.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownRecoverDeadline)
	defer cancel()
	if p.backup.Size() > 0 {
		for target := range p.brokers {
			p.recoverTarget(ctx, target)
		}
	}
	if mErr := p.backup.MirrorToDisk(); mErr != nil {
		log.Error().Err(mErr).Msg("failed to persist backup queue on shutdown")
	}
	return err
}
