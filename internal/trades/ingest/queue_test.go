package ingest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Aidin1998/tradeingest/internal/trades"
	"github.com/Aidin1998/tradeingest/pkg/metrics"
	"github.com/Aidin1998/tradeingest/pkg/models"
)

// stubAccepter records accepted trade ids in order. Trades whose id is in
// fail return an error; those in panics panic.
type stubAccepter struct {
	mu     sync.Mutex
	seen   []string
	fail   map[string]bool
	panics map[string]bool
	block  chan struct{}
}

func (a *stubAccepter) Accept(ctx context.Context, t *models.Trade) (*models.Trade, error) {
	if a.block != nil {
		select {
		case <-a.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if a.panics[t.TradeID] {
		panic("boom")
	}
	a.mu.Lock()
	a.seen = append(a.seen, t.TradeID)
	a.mu.Unlock()
	if a.fail[t.TradeID] {
		return nil, errors.New("rejected")
	}
	return t, nil
}

func (a *stubAccepter) ids() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.seen...)
}

func testConfig(capacity int) Config {
	return Config{Capacity: capacity, PollInterval: 10 * time.Millisecond, ShutdownTimeout: time.Second}
}

func value(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()
	var m dto.Metric
	switch v := c.(type) {
	case prometheus.Gauge:
		require.NoError(t, v.Write(&m))
		return m.GetGauge().GetValue()
	case prometheus.Counter:
		require.NoError(t, v.Write(&m))
		return m.GetCounter().GetValue()
	}
	t.Fatalf("unsupported collector %T", c)
	return 0
}

func trade(id string) *models.Trade {
	return &models.Trade{TradeID: id, Version: 1}
}

func TestQueue_DropsWhenFull(t *testing.T) {
	m := metrics.NewQueueMetrics(prometheus.NewRegistry())
	q := NewQueue(&stubAccepter{}, testConfig(3), m, zaptest.NewLogger(t))

	for i := 0; i < 3; i++ {
		assert.True(t, q.Send(trade("T")))
	}
	assert.False(t, q.Send(trade("overflow")))
	assert.Equal(t, 3, q.Size())
	assert.Equal(t, 1.0, value(t, m.Dropped))
	assert.Equal(t, 3.0, value(t, m.Size))
	assert.Equal(t, uint64(1), q.Stats().Dropped)
}

func TestQueue_DropsWhenFullUnderConcurrentSends(t *testing.T) {
	const capacity, extra = 16, 24
	m := metrics.NewQueueMetrics(prometheus.NewRegistry())
	q := NewQueue(&stubAccepter{}, testConfig(capacity), m, zaptest.NewLogger(t))

	var accepted atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < capacity+extra; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if q.Send(trade("T")) {
				accepted.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(capacity), accepted.Load())
	assert.Equal(t, capacity, q.Size())
	assert.Equal(t, float64(extra), value(t, m.Dropped))
	assert.Equal(t, uint64(extra), q.Stats().Dropped)
}

func TestQueue_RejectsNil(t *testing.T) {
	q := NewQueue(&stubAccepter{}, testConfig(1), nil, zaptest.NewLogger(t))
	assert.False(t, q.Send(nil))
	assert.Zero(t, q.Size())
	assert.Equal(t, uint64(1), q.Stats().Dropped)
}

func TestQueue_ConsumesInOrder(t *testing.T) {
	acc := &stubAccepter{}
	m := metrics.NewQueueMetrics(prometheus.NewRegistry())
	q := NewQueue(acc, testConfig(10), m, zaptest.NewLogger(t))

	for _, id := range []string{"A", "B", "C", "D"} {
		require.True(t, q.Send(trade(id)))
	}
	q.Start()
	defer q.Stop()

	require.Eventually(t, func() bool { return len(acc.ids()) == 4 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"A", "B", "C", "D"}, acc.ids())
	assert.Equal(t, 4.0, value(t, m.Processed))
	require.Eventually(t, func() bool { return value(t, m.Size) == 0 }, time.Second, 5*time.Millisecond)
}

func TestQueue_FailuresAndPanicsDoNotStopConsumer(t *testing.T) {
	acc := &stubAccepter{
		fail:   map[string]bool{"bad": true},
		panics: map[string]bool{"explode": true},
	}
	m := metrics.NewQueueMetrics(prometheus.NewRegistry())
	q := NewQueue(acc, testConfig(10), m, zaptest.NewLogger(t))
	q.Start()
	defer q.Stop()

	q.Send(trade("bad"))
	q.Send(trade("explode"))
	q.Send(trade("good"))

	require.Eventually(t, func() bool { return q.Stats().Processed == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(2), q.Stats().Failed)
	assert.Equal(t, 2.0, value(t, m.Failed))
	assert.Equal(t, []string{"bad", "good"}, acc.ids())
}

type acceptFunc func(ctx context.Context, t *models.Trade) (*models.Trade, error)

func (f acceptFunc) Accept(ctx context.Context, t *models.Trade) (*models.Trade, error) {
	return f(ctx, t)
}

func TestQueue_RejectionsLogAtWarnAndStoreErrorsAtError(t *testing.T) {
	acc := acceptFunc(func(_ context.Context, tr *models.Trade) (*models.Trade, error) {
		if tr.TradeID == "stale" {
			return nil, trades.StaleVersionError(tr.TradeID, 1, 2)
		}
		return nil, trades.NewPrimaryStoreError("save", errors.New("db down"))
	})
	core, logs := observer.New(zapcore.InfoLevel)
	q := NewQueue(acc, testConfig(10), nil, zap.New(core))
	q.Start()
	defer q.Stop()

	q.Send(trade("stale"))
	q.Send(trade("broken"))
	require.Eventually(t, func() bool {
		return logs.FilterLevelExact(zapcore.WarnLevel).Len()+logs.FilterLevelExact(zapcore.ErrorLevel).Len() == 2
	}, time.Second, 5*time.Millisecond)

	rejected := logs.FilterMessage("Queued trade rejected").All()
	require.Len(t, rejected, 1)
	assert.Equal(t, zapcore.WarnLevel, rejected[0].Level)
	failed := logs.FilterMessage("Failed to accept queued trade").All()
	require.Len(t, failed, 1)
	assert.Equal(t, zapcore.ErrorLevel, failed[0].Level)
}

func TestQueue_StartIsIdempotent(t *testing.T) {
	acc := &stubAccepter{}
	q := NewQueue(acc, testConfig(100), nil, zaptest.NewLogger(t))
	q.Start()
	q.Start()
	defer q.Stop()

	for i := 0; i < 50; i++ {
		require.True(t, q.Send(trade("T")))
	}
	require.Eventually(t, func() bool { return q.Stats().Processed == 50 }, time.Second, 5*time.Millisecond)
}

func TestQueue_StopInterruptsBlockedConsumer(t *testing.T) {
	acc := &stubAccepter{block: make(chan struct{})}
	q := NewQueue(acc, testConfig(5), nil, zaptest.NewLogger(t))
	q.Start()
	require.True(t, q.Send(trade("A")))
	require.True(t, q.Send(trade("B")))

	stopped := make(chan struct{})
	go func() {
		q.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}

	assert.False(t, q.Send(trade("late")))
	q.Stop()
	q.Start()
	assert.Empty(t, acc.ids())
}

func TestQueue_StopWithoutStart(t *testing.T) {
	q := NewQueue(&stubAccepter{}, testConfig(1), nil, zaptest.NewLogger(t))
	q.Stop()
	assert.False(t, q.Send(trade("A")))
}

func TestQueue_Defaults(t *testing.T) {
	q := NewQueue(&stubAccepter{}, Config{}, nil, zaptest.NewLogger(t))
	assert.Equal(t, 1000, q.Capacity())
	assert.Equal(t, 500*time.Millisecond, q.cfg.PollInterval)
	assert.Equal(t, 5*time.Second, q.cfg.ShutdownTimeout)
}

func TestQueue_ConcurrentProducers(t *testing.T) {
	acc := &stubAccepter{}
	q := NewQueue(acc, testConfig(1000), nil, zaptest.NewLogger(t))
	q.Start()
	defer q.Stop()

	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				q.Send(trade("T"))
			}
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool { return q.Stats().Processed == 200 }, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, q.Stats().Dropped)
}
