// Package metrics registers the process's prometheus collectors: a
// handful of counters and gauges created once at startup and served
// over /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles the counters/gauges the matching pipeline updates.
type Registry struct {
	OrdersSubmitted  prometheus.Counter
	OrdersCancelled  prometheus.Counter
	Fills            prometheus.Counter
	CommitBatches    prometheus.Counter
	CommitFailures   prometheus.Counter
	BrokerFailures   *prometheus.CounterVec
	TapeDrops        *prometheus.CounterVec
	BalanceCacheSize prometheus.Gauge
}

// NewRegistry creates and registers every collector against reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		OrdersSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fenrir_orders_submitted_total",
			Help: "Total number of orders submitted to the engine.",
		}),
		OrdersCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fenrir_orders_cancelled_total",
			Help: "Total number of orders cancelled.",
		}),
		Fills: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fenrir_fills_total",
			Help: "Total number of matches produced by the engine.",
		}),
		CommitBatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fenrir_commit_batches_total",
			Help: "Total number of execution batches committed to storage.",
		}),
		CommitFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fenrir_commit_failures_total",
			Help: "Total number of commit batches that failed and were requeued.",
		}),
		BrokerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fenrir_broker_publish_failures_total",
			Help: "Total number of broker publish failures by target.",
		}, []string{"target"}),
		TapeDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fenrir_tape_drops_total",
			Help: "Total number of execution reports dropped by a saturated consumer queue.",
		}, []string{"consumer"}),
		BalanceCacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fenrir_balance_cache_entries",
			Help: "Number of (user, asset) entries currently tracked by the balance cache.",
		}),
	}

	reg.MustRegister(
		r.OrdersSubmitted, r.OrdersCancelled, r.Fills,
		r.CommitBatches, r.CommitFailures, r.BrokerFailures,
		r.TapeDrops, r.BalanceCacheSize,
	)
	return r
}
