package tape

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTape_DeliversToAllThreeConsumers(t *testing.T) {
	tp := New(4)
	tp.Publish(ExecutionReport{ExecID: "e1", Symbol: "BTC-KRW", Price: 100, Quantity: 1})

	require.Len(t, tp.Commit(), 1)
	require.Len(t, tp.MDP(), 1)
	require.Len(t, tp.Publisher(), 1)

	r := <-tp.Commit()
	assert.Equal(t, "e1", r.ExecID)
}

func TestTape_SlowConsumerDropsWithoutBlocking(t *testing.T) {
	tp := New(1)
	tp.Publish(ExecutionReport{ExecID: "e1"})
	tp.Publish(ExecutionReport{ExecID: "e2"})

	// the second publish must have returned immediately, shedding one report
	// per saturated queue.
	drops := tp.DropCounts()
	assert.Equal(t, uint64(1), drops.Commit)
	assert.Equal(t, uint64(1), drops.MDP)
	assert.Equal(t, uint64(1), drops.Publisher)

	r := <-tp.MDP()
	assert.Equal(t, "e1", r.ExecID)
}
