package publisher

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"fenrir/internal/tape"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBroker fails while down is set and records successful publishes.
type fakeBroker struct {
	down      bool
	published [][]byte
}

func (f *fakeBroker) Publish(_ context.Context, _, _ string, payload []byte) error {
	if f.down {
		return errors.New("broker unavailable")
	}
	f.published = append(f.published, payload)
	return nil
}

func newTestPublisher(t *testing.T, broker Broker) (*Publisher, *LocalBackupQueue) {
	t.Helper()
	backup := NewLocalBackupQueue(filepath.Join(t.TempDir(), "queue"), 100, 0)
	pub := New(
		map[Target]Broker{StreamLog: broker},
		map[Target]string{StreamLog: "executions"},
		backup,
	)
	return pub, backup
}

func TestPublisher_DeliversToBroker(t *testing.T) {
	broker := &fakeBroker{}
	pub, backup := newTestPublisher(t, broker)

	pub.PublishReport(context.Background(), tape.ExecutionReport{ExecID: "e1", Symbol: "BTC-KRW", Price: 100, Quantity: 1})

	require.Len(t, broker.published, 1)
	assert.Equal(t, 0, backup.Size())
}

func TestPublisher_BrokerFailureLandsInBackupQueue(t *testing.T) {
	broker := &fakeBroker{down: true}
	pub, backup := newTestPublisher(t, broker)

	pub.PublishReport(context.Background(), tape.ExecutionReport{ExecID: "e1", Symbol: "BTC-KRW", Price: 100, Quantity: 1})

	assert.Empty(t, broker.published)
	require.Equal(t, 1, backup.Size())
	stats := backup.GetStats()
	assert.Equal(t, 1, stats.PendingMessages)
}

func TestPublisher_RecoversBackedUpMessagesWhenBrokerReturns(t *testing.T) {
	broker := &fakeBroker{down: true}
	pub, backup := newTestPublisher(t, broker)
	ctx := context.Background()

	pub.PublishReport(ctx, tape.ExecutionReport{ExecID: "e1", Symbol: "BTC-KRW", Price: 100, Quantity: 1})
	require.Equal(t, 1, backup.Size())

	// the next successful live publish flips health up and drains the queue.
	broker.down = false
	pub.PublishReport(ctx, tape.ExecutionReport{ExecID: "e2", Symbol: "BTC-KRW", Price: 101, Quantity: 1})

	assert.Len(t, broker.published, 2)
	assert.Equal(t, 0, backup.Size())
}

func TestPublisher_FailedRecoveryBumpsRetryCount(t *testing.T) {
	broker := &fakeBroker{down: true}
	pub, backup := newTestPublisher(t, broker)
	ctx := context.Background()

	pub.PublishReport(ctx, tape.ExecutionReport{ExecID: "e1", Symbol: "BTC-KRW", Price: 100, Quantity: 1})
	require.Equal(t, 1, backup.Size())

	pub.recoverTarget(ctx, StreamLog)

	require.Equal(t, 1, backup.Size())
	msgs, err := backup.Recover(MQKafka, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, 1, msgs[0].RetryCount)
}
