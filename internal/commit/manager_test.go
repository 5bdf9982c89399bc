package commit

import (
	"context"
	"testing"

	"fenrir/internal/common"
	"fenrir/internal/tape"

	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestManager_FlushCommitsPendingRecords(t *testing.T) {
	repo := newTestRepo(t)
	m := NewManager(repo)

	m.Enqueue(tape.ExecutionReport{ExecID: "e1", TakerOrderID: "t1", MakerOrderID: "m1", Symbol: "BTC-KRW", Side: "Buy", Price: 100, Quantity: 5})
	m.Enqueue(tape.ExecutionReport{ExecID: "e2", TakerOrderID: "t1", MakerOrderID: "m1", Symbol: "BTC-KRW", Side: "Buy", Price: 100, Quantity: 3})

	require.NoError(t, m.Flush(context.Background()))

	stats := m.GetStats()
	require.Equal(t, uint64(2), stats.TotalCommits)
	require.Equal(t, 0, stats.QueueSize)
}

func TestManager_UpsertIsIdempotentByExecID(t *testing.T) {
	repo := newTestRepo(t)
	m := NewManager(repo)

	m.Enqueue(tape.ExecutionReport{ExecID: "e1", TakerOrderID: "t1", MakerOrderID: "m1", Symbol: "BTC-KRW", Side: "Buy", Price: 100, Quantity: 5})
	require.NoError(t, m.Flush(context.Background()))

	m.Enqueue(tape.ExecutionReport{ExecID: "e1", TakerOrderID: "t1", MakerOrderID: "m1", Symbol: "BTC-KRW", Side: "Buy", Price: 100, Quantity: 5})
	require.NoError(t, m.Flush(context.Background()))

	stats := m.GetStats()
	require.Equal(t, uint64(2), stats.TotalCommits)

	var count int
	require.NoError(t, repo.db.Get(&count, `SELECT COUNT(*) FROM executions WHERE exec_id = ?`, "e1"))
	require.Equal(t, 1, count)
}

func TestManager_RecordOrderUpsertsLatestState(t *testing.T) {
	repo := newTestRepo(t)
	m := NewManager(repo)

	order := &common.Order{OrderID: "o1", ClientID: "alice", Symbol: "BTC-KRW", Side: common.Buy, Type: common.Limit, Price: 100, Quantity: 10}
	m.RecordOrder(order)
	order.ApplyFill(10)
	m.RecordOrder(order)

	require.NoError(t, m.Flush(context.Background()))

	var rec OrderRecord
	require.NoError(t, repo.db.Get(&rec, `SELECT order_id, client_id, symbol, side, order_type, price, quantity, filled_quantity, status, created_at, updated_at FROM orders WHERE order_id = ?`, "o1"))
	require.Equal(t, uint64(10), rec.FilledQuantity)
	require.Equal(t, "Filled", rec.Status)

	var count int
	require.NoError(t, repo.db.Get(&count, `SELECT COUNT(*) FROM orders`))
	require.Equal(t, 1, count)
}

func TestManager_BatchSizeSplitsLargeQueues(t *testing.T) {
	repo := newTestRepo(t)
	m := WithConfig(repo, 2, 10)

	for i := 0; i < 5; i++ {
		m.Enqueue(tape.ExecutionReport{ExecID: "e" + string(rune('a'+i)), TakerOrderID: "t1", MakerOrderID: "m1", Symbol: "BTC-KRW", Side: "Buy", Price: 100, Quantity: 1})
	}

	require.NoError(t, m.Flush(context.Background()))
	stats := m.GetStats()
	require.Equal(t, uint64(5), stats.TotalCommits)
	require.GreaterOrEqual(t, stats.TotalBatches, uint64(3))
}
