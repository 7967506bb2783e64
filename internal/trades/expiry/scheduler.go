// Package expiry runs the periodic sweep that flags matured trades.
package expiry

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Aidin1998/tradeingest/internal/trades"
)

// Expirer flags trades maturing before asOf.
type Expirer interface {
	MarkExpired(ctx context.Context, asOf time.Time) (int, error)
}

type Config struct {
	Interval   time.Duration
	RunOnStart bool
}

// Scheduler calls Expirer.MarkExpired with the current date every interval.
type Scheduler struct {
	expirer Expirer
	cfg     Config
	clock   trades.Clock
	logger  *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewScheduler(expirer Expirer, cfg Config, clock trades.Clock, logger *zap.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}
	return &Scheduler{
		expirer: expirer,
		cfg:     cfg,
		clock:   clock,
		logger:  logger.Named("expiry"),
	}
}

// Start launches the sweep loop. It runs until ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx)
	s.logger.Info("Expiry scheduler started", zap.Duration("interval", s.cfg.Interval))
}

// Stop cancels the loop and waits for a running sweep to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)
	if s.cfg.RunOnStart {
		s.RunOnce(ctx)
	}
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep as of today.
func (s *Scheduler) RunOnce(ctx context.Context) {
	today := s.clock.Today()
	n, err := s.expirer.MarkExpired(ctx, today)
	if err != nil {
		s.logger.Error("Expiry sweep failed", zap.Time("as_of", today), zap.Error(err))
		return
	}
	s.logger.Info("Expiry sweep completed", zap.Time("as_of", today), zap.Int("expired", n))
}
