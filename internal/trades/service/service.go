// Package service wires the ingest queue, acceptance engine and replication
// worker into the single entry point used by the API and the process main.
package service

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/Aidin1998/tradeingest/internal/trades"
	"github.com/Aidin1998/tradeingest/internal/trades/acceptance"
	"github.com/Aidin1998/tradeingest/internal/trades/ingest"
	"github.com/Aidin1998/tradeingest/internal/trades/replication"
	"github.com/Aidin1998/tradeingest/internal/trades/repository"
	"github.com/Aidin1998/tradeingest/pkg/metrics"
	"github.com/Aidin1998/tradeingest/pkg/models"
)

// Config collects the tunables of the pipeline.
type Config struct {
	Queue                      ingest.Config
	Replication                replication.Config
	ReplicationShutdownTimeout time.Duration
	ReplicaOpTimeout           time.Duration
}

func DefaultConfig() Config {
	return Config{
		Queue:                      ingest.DefaultConfig(),
		Replication:                replication.DefaultConfig(),
		ReplicationShutdownTimeout: 10 * time.Second,
		ReplicaOpTimeout:           5 * time.Second,
	}
}

// Deps are the stores and shared infrastructure the service runs on.
type Deps struct {
	Store      repository.VersionStore
	Replica    repository.ReplicaStore
	Failures   repository.FailureLog
	Registerer prometheus.Registerer
	Clock      trades.Clock
	Logger     *zap.Logger
}

// Service is the trade ingestion facade.
type Service struct {
	engine   *acceptance.Engine
	queue    *ingest.Queue
	worker   *replication.Worker
	failures repository.FailureLog
	cfg      Config
	logger   *zap.Logger
}

func New(deps Deps, cfg Config) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ReplicationShutdownTimeout <= 0 {
		cfg.ReplicationShutdownTimeout = DefaultConfig().ReplicationShutdownTimeout
	}
	if cfg.ReplicaOpTimeout <= 0 {
		cfg.ReplicaOpTimeout = DefaultConfig().ReplicaOpTimeout
	}

	worker := replication.NewWorker(deps.Replica, deps.Failures, cfg.Replication, logger,
		replication.WithMetrics(metrics.NewReplicationMetrics(deps.Registerer)),
		replication.WithClock(deps.Clock))
	engine := acceptance.NewEngine(deps.Store, deps.Replica, worker, logger,
		acceptance.WithClock(deps.Clock),
		acceptance.WithMetrics(metrics.NewAcceptanceMetrics(deps.Registerer)),
		acceptance.WithReplicaTimeout(cfg.ReplicaOpTimeout))
	queue := ingest.NewQueue(engine, cfg.Queue, metrics.NewQueueMetrics(deps.Registerer), logger)

	return &Service{
		engine:   engine,
		queue:    queue,
		worker:   worker,
		failures: deps.Failures,
		cfg:      cfg,
		logger:   logger.Named("service"),
	}
}

// Start launches the queue consumer.
func (s *Service) Start() {
	s.queue.Start()
}

// Stop drains the pipeline: the queue consumer first, then in-flight
// replications. Stop the callers (the HTTP server) before calling it;
// trades accepted synchronously afterwards are committed but only logged as
// replication failures.
func (s *Service) Stop() {
	s.queue.Stop()
	if !s.worker.Stop(s.cfg.ReplicationShutdownTimeout) {
		s.logger.Warn("Shutdown left replication tasks running")
	}
	s.logger.Info("Trade service stopped")
}

// Enqueue hands trade to the background pipeline. False means it was dropped.
func (s *Service) Enqueue(trade *models.Trade) bool {
	return s.queue.Send(trade)
}

func (s *Service) QueueDepth() int {
	return s.queue.Size()
}

func (s *Service) QueueStats() ingest.Stats {
	return s.queue.Stats()
}

// AcceptSynchronously runs the acceptance protocol on the caller's goroutine.
func (s *Service) AcceptSynchronously(ctx context.Context, trade *models.Trade) (*models.Trade, error) {
	return s.engine.Accept(ctx, trade)
}

func (s *Service) ListByTradeID(ctx context.Context, tradeID string) ([]models.Trade, error) {
	return s.engine.ListByTradeID(ctx, tradeID)
}

func (s *Service) ListPage(ctx context.Context, page, size int) ([]models.Trade, error) {
	return s.engine.ListPage(ctx, page, size)
}

func (s *Service) DeleteByTradeID(ctx context.Context, tradeID string) (int, error) {
	return s.engine.DeleteByTradeID(ctx, tradeID)
}

func (s *Service) MarkExpired(ctx context.Context, asOf time.Time) (int, error) {
	return s.engine.MarkExpired(ctx, asOf)
}

// ReplicationFailures returns the most recent exhausted replications.
func (s *Service) ReplicationFailures(ctx context.Context, limit int) ([]models.ReplicationFailure, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.failures.List(ctx, limit)
}

// WaitForReplication blocks until in-flight replications finish.
func (s *Service) WaitForReplication() {
	s.worker.Wait()
}
