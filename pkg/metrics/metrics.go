// Package metrics defines the Prometheus collectors of the ingestion
// pipeline. Collectors are built per instance and registered on the
// registerer passed in, so tests can use private registries. All methods are
// safe on a nil receiver.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tradeingest"

// QueueMetrics tracks the ingest queue.
type QueueMetrics struct {
	Processed prometheus.Counter
	Failed    prometheus.Counter
	Dropped   prometheus.Counter
	Size      prometheus.Gauge
}

// NewQueueMetrics creates and registers the queue collectors.
func NewQueueMetrics(reg prometheus.Registerer) *QueueMetrics {
	m := &QueueMetrics{
		Processed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_trades_processed_total",
			Help:      "Trades taken off the queue and accepted",
		}),
		Failed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_trades_failed_total",
			Help:      "Trades taken off the queue whose acceptance failed",
		}),
		Dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_trades_dropped_total",
			Help:      "Trades rejected because the queue was full or stopped",
		}),
		Size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_size",
			Help:      "Current number of trades waiting in the queue",
		}),
	}
	register(reg, m.Processed, m.Failed, m.Dropped, m.Size)
	return m
}

func (m *QueueMetrics) IncProcessed() {
	if m != nil {
		m.Processed.Inc()
	}
}

func (m *QueueMetrics) IncFailed() {
	if m != nil {
		m.Failed.Inc()
	}
}

func (m *QueueMetrics) IncDropped() {
	if m != nil {
		m.Dropped.Inc()
	}
}

func (m *QueueMetrics) SetSize(n int) {
	if m != nil {
		m.Size.Set(float64(n))
	}
}

// AcceptanceMetrics tracks the acceptance engine.
type AcceptanceMetrics struct {
	Accepted prometheus.Counter
	Rejected *prometheus.CounterVec
	Latency  prometheus.Histogram
	Expired  prometheus.Counter
}

func NewAcceptanceMetrics(reg prometheus.Registerer) *AcceptanceMetrics {
	m := &AcceptanceMetrics{
		Accepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_accepted_total",
			Help:      "Trades committed to the primary store",
		}),
		Rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_rejected_total",
			Help:      "Trades rejected by reason",
		}, []string{"reason"}),
		Latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "accept_latency_seconds",
			Help:      "Latency of trade acceptance including the primary commit",
			Buckets:   prometheus.DefBuckets,
		}),
		Expired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_expired_total",
			Help:      "Trades flagged expired by the expiry sweep",
		}),
	}
	register(reg, m.Accepted, m.Rejected, m.Latency, m.Expired)
	return m
}

func (m *AcceptanceMetrics) IncAccepted() {
	if m != nil {
		m.Accepted.Inc()
	}
}

func (m *AcceptanceMetrics) IncRejected(reason string) {
	if m != nil {
		m.Rejected.WithLabelValues(reason).Inc()
	}
}

func (m *AcceptanceMetrics) ObserveLatency(d time.Duration) {
	if m != nil {
		m.Latency.Observe(d.Seconds())
	}
}

func (m *AcceptanceMetrics) AddExpired(n int) {
	if m != nil && n > 0 {
		m.Expired.Add(float64(n))
	}
}

// ReplicationMetrics tracks the replication worker.
type ReplicationMetrics struct {
	Attempts         *prometheus.CounterVec
	Failures         prometheus.Counter
	FailureLogErrors prometheus.Counter
	InFlight         prometheus.Gauge
}

func NewReplicationMetrics(reg prometheus.Registerer) *ReplicationMetrics {
	m := &ReplicationMetrics{
		Attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replication_attempts_total",
			Help:      "Replica write attempts by outcome",
		}, []string{"outcome"}),
		Failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replication_failures_total",
			Help:      "Writes that exhausted every replication attempt",
		}),
		FailureLogErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failure_log_errors_total",
			Help:      "Replication failures that could not be recorded",
		}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "replication_inflight",
			Help:      "Replication tasks currently running",
		}),
	}
	register(reg, m.Attempts, m.Failures, m.FailureLogErrors, m.InFlight)
	return m
}

func (m *ReplicationMetrics) IncAttempt(outcome string) {
	if m != nil {
		m.Attempts.WithLabelValues(outcome).Inc()
	}
}

func (m *ReplicationMetrics) IncFailure() {
	if m != nil {
		m.Failures.Inc()
	}
}

func (m *ReplicationMetrics) IncFailureLogError() {
	if m != nil {
		m.FailureLogErrors.Inc()
	}
}

func (m *ReplicationMetrics) TaskStarted() {
	if m != nil {
		m.InFlight.Inc()
	}
}

func (m *ReplicationMetrics) TaskFinished() {
	if m != nil {
		m.InFlight.Dec()
	}
}

// DBPoolMetrics exposes sql.DB pool statistics.
type DBPoolMetrics struct {
	OpenConns  *prometheus.GaugeVec
	IdleConns  *prometheus.GaugeVec
	InUseConns *prometheus.GaugeVec
}

func NewDBPoolMetrics(reg prometheus.Registerer) *DBPoolMetrics {
	m := &DBPoolMetrics{
		OpenConns: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_open_connections",
			Help:      "Number of open connections in the DB pool",
		}, []string{"db"}),
		IdleConns: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_idle_connections",
			Help:      "Number of idle connections in the DB pool",
		}, []string{"db"}),
		InUseConns: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_in_use_connections",
			Help:      "Number of in-use connections in the DB pool",
		}, []string{"db"}),
	}
	register(reg, m.OpenConns, m.IdleConns, m.InUseConns)
	return m
}

func (m *DBPoolMetrics) Set(db string, open, idle, inUse int) {
	if m == nil {
		return
	}
	m.OpenConns.WithLabelValues(db).Set(float64(open))
	m.IdleConns.WithLabelValues(db).Set(float64(idle))
	m.InUseConns.WithLabelValues(db).Set(float64(inUse))
}

// register adds collectors to reg. A collector already registered under the
// same descriptor is tolerated so a process can build components twice.
func register(reg prometheus.Registerer, cs ...prometheus.Collector) {
	if reg == nil {
		return
	}
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			panic(err)
		}
	}
}
