// Package tape implements the execution tape: the single producer,
// multi-consumer fan-out that turns engine fills into ExecutionReports
// and delivers them to the commit, market-data, and publisher consumers.
package tape

import (
	"sync/atomic"

	"fenrir/internal/metrics"

	"github.com/rs/zerolog/log"
)

// ExecutionReport is one fill: a single taker order matching against a
// single resting maker produces exactly one report, carrying both
// parties' order ids and fees.
type ExecutionReport struct {
	ExecID       string
	TakerOrderID string
	MakerOrderID string
	Symbol       string
	Side         string
	Price        int64
	Quantity     uint64
	TakerFee     int64
	MakerFee     int64
	TransactTime int64
}

// Tape fans out execution reports to independent consumer queues. Sends are
// non-blocking: a slow consumer drops reports from its own queue rather
// than stalling the matching path, and increments its own drop counter.
// Publish is called concurrently from every symbol's worker goroutine, so
// the drop counters are atomic.
type Tape struct {
	commit    chan ExecutionReport
	mdp       chan ExecutionReport
	publisher chan ExecutionReport

	commitDrops    atomic.Uint64
	mdpDrops       atomic.Uint64
	publisherDrops atomic.Uint64

	metrics *metrics.Registry
}

// New creates a Tape with the given per-consumer queue depth.
func New(queueDepth int) *Tape {
	return &Tape{
		commit:    make(chan ExecutionReport, queueDepth),
		mdp:       make(chan ExecutionReport, queueDepth),
		publisher: make(chan ExecutionReport, queueDepth),
	}
}

// WithMetrics attaches a metrics registry; dropped reports are counted per
// consumer as they happen. Safe to leave unset.
func (t *Tape) WithMetrics(m *metrics.Registry) *Tape {
	t.metrics = m
	return t
}

// Commit returns the consumer channel for the async commit manager.
func (t *Tape) Commit() <-chan ExecutionReport { return t.commit }

// MDP returns the consumer channel for the market data processor.
func (t *Tape) MDP() <-chan ExecutionReport { return t.mdp }

// Publisher returns the consumer channel for the broker publisher.
func (t *Tape) Publisher() <-chan ExecutionReport { return t.publisher }

// Publish delivers report to every consumer queue without blocking.
func (t *Tape) Publish(report ExecutionReport) {
	select {
	case t.commit <- report:
	default:
		t.commitDrops.Add(1)
		log.Warn().Str("exec_id", report.ExecID).Msg("commit queue full, dropping report")
		if t.metrics != nil {
			t.metrics.TapeDrops.WithLabelValues("commit").Inc()
		}
	}
	select {
	case t.mdp <- report:
	default:
		t.mdpDrops.Add(1)
		log.Warn().Str("exec_id", report.ExecID).Msg("mdp queue full, dropping report")
		if t.metrics != nil {
			t.metrics.TapeDrops.WithLabelValues("mdp").Inc()
		}
	}
	select {
	case t.publisher <- report:
	default:
		t.publisherDrops.Add(1)
		log.Warn().Str("exec_id", report.ExecID).Msg("publisher queue full, dropping report")
		if t.metrics != nil {
			t.metrics.TapeDrops.WithLabelValues("publisher").Inc()
		}
	}
}

// DropCounts reports how many reports each consumer has missed.
type DropCounts struct {
	Commit    uint64
	MDP       uint64
	Publisher uint64
}

func (t *Tape) DropCounts() DropCounts {
	return DropCounts{
		Commit:    t.commitDrops.Load(),
		MDP:       t.mdpDrops.Load(),
		Publisher: t.publisherDrops.Load(),
	}
}
