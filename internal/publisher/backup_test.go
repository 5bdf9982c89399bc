package publisher

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T, memoryCap int) *LocalBackupQueue {
	t.Helper()
	return NewLocalBackupQueue(filepath.Join(t.TempDir(), "queue"), memoryCap, 0)
}

func TestBuilder_DefaultsMaxRetriesAndPriority(t *testing.T) {
	msg := NewBuilder("m1", MQKafka, "executions", json.RawMessage(`{}`)).Build()
	assert.Equal(t, 3, msg.MaxRetries)
	assert.Equal(t, 5, msg.Priority)
	assert.NotZero(t, msg.CreatedAt)
	assert.False(t, msg.Failed())
}

func TestBackupMessage_FailedAfterMaxRetries(t *testing.T) {
	msg := NewBuilder("m1", MQKafka, "executions", json.RawMessage(`{}`)).WithMaxRetries(2).Build()
	msg.RetryCount = 2
	assert.True(t, msg.Failed())
}

func TestLocalBackupQueue_PushAndRecover(t *testing.T) {
	q := newTestQueue(t, 10)

	require.NoError(t, q.Push(NewBuilder("m1", MQKafka, "executions", json.RawMessage(`{"a":1}`)).Build()))
	require.NoError(t, q.Push(NewBuilder("m2", MQRedis, "executions", json.RawMessage(`{"a":2}`)).Build()))

	recovered, err := q.Recover(MQKafka, 10)
	require.NoError(t, err)
	require.Len(t, recovered, 1)
	assert.Equal(t, "m1", recovered[0].ID)
}

func TestLocalBackupQueue_SpillsToDiskOverCapacity(t *testing.T) {
	q := newTestQueue(t, 1)

	require.NoError(t, q.Push(NewBuilder("m1", MQKafka, "t", json.RawMessage(`{}`)).Build()))
	require.NoError(t, q.Push(NewBuilder("m2", MQKafka, "t", json.RawMessage(`{}`)).Build()))
	require.NoError(t, q.Push(NewBuilder("m3", MQKafka, "t", json.RawMessage(`{}`)).Build()))

	assert.Equal(t, 1, q.Size())

	recovered, err := q.Recover(MQKafka, 10)
	require.NoError(t, err)
	ids := []string{}
	for _, m := range recovered {
		ids = append(ids, m.ID)
	}
	assert.Contains(t, ids, "m1")
	assert.Contains(t, ids, "m2")
}

func TestLocalBackupQueue_FailedMessagesAreNotRecovered(t *testing.T) {
	q := newTestQueue(t, 10)

	exhausted := NewBuilder("dead", MQKafka, "t", json.RawMessage(`{}`)).WithMaxRetries(1).Build()
	exhausted.RetryCount = 1
	require.NoError(t, q.Push(exhausted))
	require.NoError(t, q.Push(NewBuilder("live", MQKafka, "t", json.RawMessage(`{}`)).Build()))

	recovered, err := q.Recover(MQKafka, 10)
	require.NoError(t, err)
	require.Len(t, recovered, 1)
	assert.Equal(t, "live", recovered[0].ID)

	// the exhausted message stays queued for operator inspection.
	stats := q.GetStats()
	assert.Equal(t, 1, stats.TotalMessages)
	assert.Equal(t, 1, stats.FailedMessages)
	assert.Equal(t, 0, stats.PendingMessages)
}

func TestLocalBackupQueue_RemoveByID(t *testing.T) {
	q := newTestQueue(t, 10)
	require.NoError(t, q.Push(NewBuilder("m1", MQKafka, "t", json.RawMessage(`{}`)).Build()))
	require.NoError(t, q.Push(NewBuilder("m2", MQKafka, "t", json.RawMessage(`{}`)).Build()))

	assert.True(t, q.Remove("m1"))
	assert.False(t, q.Remove("m1"))
	assert.Equal(t, 1, q.Size())
}

func TestLocalBackupQueue_IncrementRetryCount(t *testing.T) {
	q := newTestQueue(t, 10)
	require.NoError(t, q.Push(NewBuilder("m1", MQKafka, "t", json.RawMessage(`{}`)).WithMaxRetries(1).Build()))

	q.IncrementRetryCount("m1")
	stats := q.GetStats()
	assert.Equal(t, 1, stats.TotalMessages)
	assert.Equal(t, 1, stats.FailedMessages)
}

func TestLocalBackupQueue_MirrorToDiskSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue")
	q := NewLocalBackupQueue(path, 10, 0)
	require.NoError(t, q.Push(NewBuilder("m1", MQRabbitMQ, "t", json.RawMessage(`{}`)).Build()))
	require.NoError(t, q.MirrorToDisk())
	assert.NotZero(t, q.GetStats().LastBackupTime)

	fresh := NewLocalBackupQueue(path, 10, 0)
	recovered, err := fresh.Recover(MQRabbitMQ, 10)
	require.NoError(t, err)
	require.Len(t, recovered, 1)
	assert.Equal(t, "m1", recovered[0].ID)
}
