// Package ingest buffers incoming trades in a bounded queue drained by a
// single background consumer.
package ingest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Aidin1998/tradeingest/internal/trades"
	"github.com/Aidin1998/tradeingest/pkg/metrics"
	"github.com/Aidin1998/tradeingest/pkg/models"
)

// Accepter consumes trades taken off the queue.
type Accepter interface {
	Accept(ctx context.Context, trade *models.Trade) (*models.Trade, error)
}

// Config sizes the queue and its consumer.
type Config struct {
	Capacity        int
	PollInterval    time.Duration
	ShutdownTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Capacity:        1000,
		PollInterval:    500 * time.Millisecond,
		ShutdownTimeout: 5 * time.Second,
	}
}

// Stats is a snapshot of queue counters.
type Stats struct {
	Processed uint64 `json:"processed"`
	Failed    uint64 `json:"failed"`
	Dropped   uint64 `json:"dropped"`
	Size      int    `json:"size"`
	Capacity  int    `json:"capacity"`
}

// Queue is a bounded FIFO of trades. Send never blocks.
type Queue struct {
	ch       chan *models.Trade
	accepter Accepter
	cfg      Config
	metrics  *metrics.QueueMetrics
	logger   *zap.Logger

	processed atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64

	mu      sync.Mutex
	started bool
	stopped atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewQueue(accepter Accepter, cfg Config, m *metrics.QueueMetrics, logger *zap.Logger) *Queue {
	def := DefaultConfig()
	if cfg.Capacity <= 0 {
		cfg.Capacity = def.Capacity
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	return &Queue{
		ch:       make(chan *models.Trade, cfg.Capacity),
		accepter: accepter,
		cfg:      cfg,
		metrics:  m,
		logger:   logger.Named("ingest"),
	}
}

// Send enqueues trade without blocking. It returns false when the queue is
// full, stopped, or trade is nil.
func (q *Queue) Send(trade *models.Trade) bool {
	if trade == nil {
		q.drop("nil trade", nil)
		return false
	}
	if q.stopped.Load() {
		q.drop("queue stopped", trade)
		return false
	}
	select {
	case q.ch <- trade:
		q.metrics.SetSize(len(q.ch))
		return true
	default:
		q.drop("queue full", trade)
		return false
	}
}

func (q *Queue) drop(reason string, trade *models.Trade) {
	q.dropped.Add(1)
	q.metrics.IncDropped()
	fields := []zap.Field{zap.String("reason", reason), zap.Int("capacity", q.cfg.Capacity)}
	if trade != nil {
		fields = append(fields, zap.String("trade_id", trade.TradeID), zap.Int("version", trade.Version))
	}
	q.logger.Warn("Trade dropped", fields...)
}

// Size returns the number of trades waiting.
func (q *Queue) Size() int {
	n := len(q.ch)
	q.metrics.SetSize(n)
	return n
}

// Capacity returns the configured bound.
func (q *Queue) Capacity() int { return q.cfg.Capacity }

func (q *Queue) Stats() Stats {
	return Stats{
		Processed: q.processed.Load(),
		Failed:    q.failed.Load(),
		Dropped:   q.dropped.Load(),
		Size:      len(q.ch),
		Capacity:  q.cfg.Capacity,
	}
}

// Start launches the consumer. Calling it again, or after Stop, does nothing.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.stopped.Load() {
		return
	}
	q.started = true

	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	q.done = make(chan struct{})
	go q.run(ctx)
	q.logger.Info("Ingest queue started",
		zap.Int("capacity", q.cfg.Capacity),
		zap.Duration("poll_interval", q.cfg.PollInterval))
}

// Stop cancels the consumer and waits up to the shutdown timeout for it to
// exit. Trades still queued are abandoned. Idempotent.
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.stopped.CompareAndSwap(false, true) {
		return
	}
	if !q.started {
		return
	}
	q.cancel()

	select {
	case <-q.done:
	case <-time.After(q.cfg.ShutdownTimeout):
		q.logger.Warn("Ingest consumer did not stop in time", zap.Duration("timeout", q.cfg.ShutdownTimeout))
	}
	if n := len(q.ch); n > 0 {
		q.logger.Warn("Ingest queue stopped with pending trades", zap.Int("pending", n))
	}
	q.logger.Info("Ingest queue stopped", zap.Any("stats", q.Stats()))
}

func (q *Queue) run(ctx context.Context) {
	defer close(q.done)
	ticker := time.NewTicker(q.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case trade := <-q.ch:
			q.process(ctx, trade)
		case <-ticker.C:
			q.metrics.SetSize(len(q.ch))
		}
	}
}

func (q *Queue) process(ctx context.Context, trade *models.Trade) {
	defer func() {
		if r := recover(); r != nil {
			q.failed.Add(1)
			q.metrics.IncFailed()
			q.logger.Error("Panic while accepting queued trade",
				zap.String("trade_id", trade.TradeID),
				zap.Int("version", trade.Version),
				zap.String("panic", fmt.Sprint(r)))
		}
	}()

	if _, err := q.accepter.Accept(ctx, trade); err != nil {
		q.failed.Add(1)
		q.metrics.IncFailed()
		fields := []zap.Field{
			zap.String("trade_id", trade.TradeID),
			zap.Int("version", trade.Version),
			zap.Error(err),
		}
		if trades.IsBusinessError(err) {
			q.logger.Warn("Queued trade rejected", fields...)
		} else {
			q.logger.Error("Failed to accept queued trade", fields...)
		}
		return
	}
	q.processed.Add(1)
	q.metrics.IncProcessed()
}
