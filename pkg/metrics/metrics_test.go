package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestQueueMetrics_RegisterAndCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewQueueMetrics(reg)

	m.IncProcessed()
	m.IncDropped()
	m.IncDropped()
	m.SetSize(7)

	assert.Equal(t, 1.0, counterValue(t, m.Processed))
	assert.Equal(t, 2.0, counterValue(t, m.Dropped))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "tradeingest_queue_size")
	assert.Contains(t, names, "tradeingest_queue_trades_dropped_total")
}

func TestNilMetricsAreNoops(t *testing.T) {
	var q *QueueMetrics
	var a *AcceptanceMetrics
	var r *ReplicationMetrics
	var p *DBPoolMetrics

	assert.NotPanics(t, func() {
		q.IncProcessed()
		q.IncFailed()
		q.IncDropped()
		q.SetSize(1)
		a.IncAccepted()
		a.IncRejected("stale_version")
		a.ObserveLatency(time.Millisecond)
		a.AddExpired(2)
		r.IncAttempt("success")
		r.IncFailure()
		r.IncFailureLogError()
		r.TaskStarted()
		r.TaskFinished()
		p.Set("sqlite", 1, 1, 0)
	})
}

func TestRegisterTwiceOnSameRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewReplicationMetrics(reg)
	assert.NotPanics(t, func() { NewReplicationMetrics(reg) })
}

func TestNilRegistererSkipsRegistration(t *testing.T) {
	m := NewAcceptanceMetrics(nil)
	m.IncRejected("invalid_maturity_date")
	var out dto.Metric
	require.NoError(t, m.Rejected.WithLabelValues("invalid_maturity_date").Write(&out))
	assert.Equal(t, 1.0, out.GetCounter().GetValue())
}
