// Package replication mirrors committed trades to the replica store in the
// background, retrying a bounded number of times and recording exhausted
// writes in the failure log.
package replication

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Aidin1998/tradeingest/internal/trades"
	"github.com/Aidin1998/tradeingest/internal/trades/repository"
	"github.com/Aidin1998/tradeingest/pkg/metrics"
	"github.com/Aidin1998/tradeingest/pkg/models"
)

// ErrStopped is recorded as the failure reason for trades handed to a
// stopped worker.
var ErrStopped = errors.New("replication worker stopped")

// Config controls retry behaviour.
type Config struct {
	MaxAttempts    int
	Backoff        time.Duration
	AttemptTimeout time.Duration
}

// DefaultConfig returns three attempts with 500ms between them.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		Backoff:        500 * time.Millisecond,
		AttemptTimeout: 5 * time.Second,
	}
}

// Worker runs one goroutine per replicated write.
type Worker struct {
	replica  repository.ReplicaStore
	failures repository.FailureLog
	cfg      Config
	clock    trades.Clock
	metrics  *metrics.ReplicationMetrics
	logger   *zap.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	stopped bool
}

// Option customizes a Worker.
type Option func(*Worker)

func WithMetrics(m *metrics.ReplicationMetrics) Option {
	return func(w *Worker) { w.metrics = m }
}

func WithClock(c trades.Clock) Option {
	return func(w *Worker) { w.clock = c }
}

func NewWorker(replica repository.ReplicaStore, failures repository.FailureLog, cfg Config, logger *zap.Logger, opts ...Option) *Worker {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.Backoff < 0 {
		cfg.Backoff = 0
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = def.AttemptTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		replica:  replica,
		failures: failures,
		cfg:      cfg,
		logger:   logger.Named("replication"),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Replicate schedules trade for replication and returns immediately. The
// trade is copied so the caller may keep using its record. After Stop the
// trade is not attempted; it goes straight to the failure log.
func (w *Worker) Replicate(trade *models.Trade) {
	if trade == nil {
		return
	}
	t := trade.Clone()

	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		w.logger.Warn("Replication requested after stop",
			zap.String("trade_id", t.TradeID),
			zap.Int("version", t.Version))
		w.metrics.IncFailure()
		w.recordFailure(t, ErrStopped)
		return
	}
	w.wg.Add(1)
	w.mu.Unlock()

	w.metrics.TaskStarted()
	go func() {
		defer w.wg.Done()
		defer w.metrics.TaskFinished()
		w.replicate(w.ctx, t)
	}()
}

func (w *Worker) replicate(ctx context.Context, trade *models.Trade) {
	var lastErr error
	for attempt := 1; attempt <= w.cfg.MaxAttempts; attempt++ {
		err := w.attempt(ctx, trade)
		if err == nil {
			w.metrics.IncAttempt("success")
			if attempt > 1 {
				w.logger.Info("Replicated trade after retry",
					zap.String("trade_id", trade.TradeID),
					zap.Int("version", trade.Version),
					zap.Int("attempt", attempt))
			}
			return
		}
		lastErr = err
		w.metrics.IncAttempt("error")
		w.logger.Warn("Replica write failed",
			zap.String("trade_id", trade.TradeID),
			zap.Int("version", trade.Version),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", w.cfg.MaxAttempts),
			zap.Error(err))

		if attempt == w.cfg.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			w.logger.Info("Replication aborted during shutdown",
				zap.String("trade_id", trade.TradeID),
				zap.Int("version", trade.Version))
			return
		case <-time.After(w.cfg.Backoff):
		}
	}

	w.metrics.IncFailure()
	w.recordFailure(trade, lastErr)
}

func (w *Worker) attempt(ctx context.Context, trade *models.Trade) (err error) {
	// the current call finishes even when the worker is stopping
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.AttemptTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("replica panicked")
			w.logger.Error("Replica panicked", zap.Any("panic", r), zap.String("trade_id", trade.TradeID))
		}
	}()
	return w.replica.Save(actx, trade)
}

func (w *Worker) recordFailure(trade *models.Trade, cause error) {
	reason := "unknown error"
	if cause != nil {
		reason = cause.Error()
	}
	w.logger.Error("Replication exhausted all attempts",
		zap.String("trade_id", trade.TradeID),
		zap.Int("version", trade.Version),
		zap.Error(cause))

	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.AttemptTimeout)
	defer cancel()
	if err := w.failures.Append(ctx, trade.TradeID, trade.Version, w.clock.Now(), reason); err != nil {
		w.metrics.IncFailureLogError()
		w.logger.Error("Failed to record replication failure",
			zap.String("trade_id", trade.TradeID),
			zap.Int("version", trade.Version),
			zap.Error(err))
	}
}

// Wait blocks until every scheduled replication has finished.
func (w *Worker) Wait() {
	w.wg.Wait()
}

// Stop cancels pending retries and waits up to timeout for in-flight tasks.
// It reports whether every task finished in time.
func (w *Worker) Stop(timeout time.Duration) bool {
	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()
	w.cancel()
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		w.logger.Warn("Replication tasks still running after shutdown timeout", zap.Duration("timeout", timeout))
		return false
	}
}
