package commit

import (
	"context"
	"sync"
	"time"

	"fenrir/internal/common"
	"fenrir/internal/metrics"
	"fenrir/internal/tape"

	"github.com/rs/zerolog/log"
	"gopkg.in/tomb.v2"
)

// Default batching parameters.
const (
	DefaultBatchSize       = 100
	DefaultBatchIntervalMS = 10
)

// Stats is a snapshot of the manager's commit counters.
type Stats struct {
	TotalCommits  uint64
	TotalBatches  uint64
	FailedCommits uint64
	QueueSize     int
}

// Manager batches execution reports off the tape's commit queue and
// upserts them into the execution store. A batch that fails to commit is
// requeued at the front of the queue rather than dropped, so a transient
// storage error never silently loses executions a client was told filled.
type Manager struct {
	t    tomb.Tomb
	repo *Repository

	batchSize     int
	batchInterval time.Duration

	mu            sync.Mutex
	pending       []ExecutionRecord
	pendingOrders []OrderRecord

	totalCommits  uint64
	totalBatches  uint64
	failedCommits uint64

	metrics *metrics.Registry
}

// WithMetrics attaches a metrics registry; commit batch outcomes are
// counted as they happen. Safe to leave unset.
func (m *Manager) WithMetrics(reg *metrics.Registry) *Manager {
	m.metrics = reg
	return m
}

// NewManager creates a Manager with the default batching parameters.
func NewManager(repo *Repository) *Manager {
	return WithConfig(repo, DefaultBatchSize, DefaultBatchIntervalMS)
}

// WithConfig creates a Manager with explicit batch size and interval.
func WithConfig(repo *Repository, batchSize int, batchIntervalMS int) *Manager {
	return &Manager{
		repo:          repo,
		batchSize:     batchSize,
		batchInterval: time.Duration(batchIntervalMS) * time.Millisecond,
	}
}

// Enqueue adds a single execution report to the pending batch.
func (m *Manager) Enqueue(r tape.ExecutionReport) {
	m.mu.Lock()
	m.pending = append(m.pending, toRecord(r))
	m.mu.Unlock()
}

// RecordOrder queues the order's current state for durable upsert on the
// next commit tick. Implements the engine's order sink.
func (m *Manager) RecordOrder(o *common.Order) {
	now := time.Now().UnixMilli()
	rec := OrderRecord{
		OrderID:        o.OrderID,
		ClientID:       o.ClientID,
		Symbol:         o.Symbol,
		Side:           o.Side.String(),
		OrderType:      o.Type.String(),
		Price:          o.Price,
		Quantity:       o.Quantity,
		FilledQuantity: o.Filled,
		Status:         o.Status.String(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	m.mu.Lock()
	m.pendingOrders = append(m.pendingOrders, rec)
	m.mu.Unlock()
}

func toRecord(r tape.ExecutionReport) ExecutionRecord {
	return ExecutionRecord{
		ExecID:          r.ExecID,
		TakerOrderID:    r.TakerOrderID,
		MakerOrderID:    r.MakerOrderID,
		Symbol:          r.Symbol,
		Side:            r.Side,
		Price:           r.Price,
		Quantity:        r.Quantity,
		TakerFee:        r.TakerFee,
		MakerFee:        r.MakerFee,
		TransactionTime: r.TransactTime,
	}
}

// Run drains reports channel and commits them in batches until ctx or the
// tomb is killed. Intended to be started as a tomb.Tomb.Go goroutine.
func (m *Manager) Run(ctx context.Context, reports <-chan tape.ExecutionReport) error {
	ticker := time.NewTicker(m.batchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.t.Dying():
			return m.Flush(context.Background())
		case <-ctx.Done():
			return m.Flush(context.Background())
		case r := <-reports:
			m.Enqueue(r)
		case <-ticker.C:
			m.commitReady(ctx)
		}
	}
}

// Go starts Run supervised by the manager's own tomb.
func (m *Manager) Go(ctx context.Context, reports <-chan tape.ExecutionReport) {
	m.t.Go(func() error { return m.Run(ctx, reports) })
}

// Shutdown stops the run loop and flushes any remaining pending records.
func (m *Manager) Shutdown() error {
	m.t.Kill(nil)
	return m.t.Wait()
}

func (m *Manager) commitReady(ctx context.Context) {
	m.commitExecutions(ctx)
	m.commitOrders(ctx)
}

func (m *Manager) commitExecutions(ctx context.Context) {
	m.mu.Lock()
	if len(m.pending) == 0 {
		m.mu.Unlock()
		return
	}
	n := m.batchSize
	if n > len(m.pending) {
		n = len(m.pending)
	}
	batch := append([]ExecutionRecord(nil), m.pending[:n]...)
	m.pending = m.pending[n:]
	m.mu.Unlock()

	if err := m.repo.UpsertExecutions(ctx, batch); err != nil {
		log.Error().Err(err).Int("batch_size", len(batch)).Msg("commit batch failed, requeueing")
		m.mu.Lock()
		m.pending = append(batch, m.pending...)
		m.failedCommits++
		m.mu.Unlock()
		if m.metrics != nil {
			m.metrics.CommitFailures.Inc()
		}
		return
	}

	m.mu.Lock()
	m.totalCommits += uint64(len(batch))
	m.totalBatches++
	m.mu.Unlock()
	if m.metrics != nil {
		m.metrics.CommitBatches.Inc()
	}
}

func (m *Manager) commitOrders(ctx context.Context) {
	m.mu.Lock()
	if len(m.pendingOrders) == 0 {
		m.mu.Unlock()
		return
	}
	n := m.batchSize
	if n > len(m.pendingOrders) {
		n = len(m.pendingOrders)
	}
	batch := append([]OrderRecord(nil), m.pendingOrders[:n]...)
	m.pendingOrders = m.pendingOrders[n:]
	m.mu.Unlock()

	if err := m.repo.UpsertOrders(ctx, batch); err != nil {
		log.Error().Err(err).Int("batch_size", len(batch)).Msg("order batch failed, requeueing")
		m.mu.Lock()
		m.pendingOrders = append(batch, m.pendingOrders...)
		m.failedCommits++
		m.mu.Unlock()
		if m.metrics != nil {
			m.metrics.CommitFailures.Inc()
		}
	}
}

// Flush commits whatever remains in the pending queues synchronously,
// retrying while progress is made, then gives up and logs the loss. Call
// this as a final best-effort drain on shutdown.
func (m *Manager) Flush(ctx context.Context) error {
	for {
		m.mu.Lock()
		remaining := len(m.pending) + len(m.pendingOrders)
		m.mu.Unlock()
		if remaining == 0 {
			return nil
		}
		m.commitReady(ctx)
		m.mu.Lock()
		stillRemaining := len(m.pending) + len(m.pendingOrders)
		m.mu.Unlock()
		if stillRemaining == remaining {
			log.Error().Int("remaining", remaining).Msg("commit flush could not make progress, giving up")
			return nil
		}
	}
}

// GetStats returns a snapshot of commit counters.
func (m *Manager) GetStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		TotalCommits:  m.totalCommits,
		TotalBatches:  m.totalBatches,
		FailedCommits: m.failedCommits,
		QueueSize:     len(m.pending) + len(m.pendingOrders),
	}
}
