package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Aidin1998/tradeingest/api"
	"github.com/Aidin1998/tradeingest/internal/database"
	"github.com/Aidin1998/tradeingest/internal/infrastructure/config"
	"github.com/Aidin1998/tradeingest/internal/trades/expiry"
	"github.com/Aidin1998/tradeingest/internal/trades/ingest"
	"github.com/Aidin1998/tradeingest/internal/trades/replica"
	"github.com/Aidin1998/tradeingest/internal/trades/replication"
	"github.com/Aidin1998/tradeingest/internal/trades/repository"
	"github.com/Aidin1998/tradeingest/internal/trades/service"
	"github.com/Aidin1998/tradeingest/pkg/logger"
	"github.com/Aidin1998/tradeingest/pkg/metrics"
	"github.com/Aidin1998/tradeingest/pkg/otel"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	bootLogger, err := logger.NewLogger("info", "json")
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	var paths []string
	if p := os.Getenv("TRADEINGEST_CONFIG"); p != "" {
		paths = append(paths, p)
	}
	cfg, err := config.LoadConfig(bootLogger, paths...)
	if err != nil {
		bootLogger.Fatal("Failed to load configuration", zap.Error(err))
	}

	zapLogger, err := logger.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		bootLogger.Fatal("Failed to create logger", zap.Error(err))
	}
	defer zapLogger.Sync()

	if err := run(cfg, zapLogger); err != nil {
		zapLogger.Fatal("Trade ingestion service failed", zap.Error(err))
	}
}

func run(cfg *config.Config, zapLogger *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serviceName := cfg.Tracing.ServiceName
	if serviceName == "" {
		serviceName = "tradeingest"
	}
	shutdownOtel, err := otel.Setup(ctx, otel.Config{
		ServiceName: serviceName,
		Tracing:     cfg.Tracing.Enabled,
	})
	if err != nil {
		return fmt.Errorf("otel setup: %w", err)
	}
	defer func() {
		if err := shutdownOtel(context.Background()); err != nil {
			zapLogger.Warn("OpenTelemetry shutdown failed", zap.Error(err))
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var closers []func() error
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				zapLogger.Warn("Failed to close resource", zap.Error(err))
			}
		}
	}()

	store, failures, db, err := openPrimary(cfg.Database, zapLogger)
	if err != nil {
		return err
	}
	if db != nil {
		closers = append(closers, func() error { return database.Close(db) })
		if cfg.Database.PoolStatsPeriod > 0 {
			go database.ReportPoolStats(ctx, db, cfg.Database.Driver, cfg.Database.PoolStatsPeriod,
				metrics.NewDBPoolMetrics(registry), zapLogger)
		}
	}

	replicaStore, replicaClosers, err := openReplicas(cfg, zapLogger)
	closers = append(closers, replicaClosers...)
	if err != nil {
		return err
	}

	svc := service.New(service.Deps{
		Store:      store,
		Replica:    replicaStore,
		Failures:   failures,
		Registerer: registry,
		Logger:     zapLogger,
	}, service.Config{
		Queue: ingest.Config{
			Capacity:        cfg.Queue.Capacity,
			PollInterval:    cfg.Queue.PollInterval,
			ShutdownTimeout: cfg.Queue.ShutdownTimeout,
		},
		Replication: replication.Config{
			MaxAttempts:    cfg.Replication.MaxAttempts,
			Backoff:        cfg.Replication.Backoff,
			AttemptTimeout: cfg.Replication.AttemptTimeout,
		},
		ReplicationShutdownTimeout: cfg.Replication.ShutdownTimeout,
		ReplicaOpTimeout:           cfg.Replica.OperationTimeout,
	})
	svc.Start()

	var scheduler *expiry.Scheduler
	if cfg.Expiry.Enabled {
		scheduler = expiry.NewScheduler(svc, expiry.Config{
			Interval:   cfg.Expiry.Interval,
			RunOnStart: cfg.Expiry.RunOnStart,
		}, nil, zapLogger)
		scheduler.Start(ctx)
	}

	srv := api.NewServer(zapLogger, svc, api.Options{
		ServiceName: serviceName,
		CORSOrigins: cfg.Server.CORSOrigins,
		Gatherer:    registry,
	})
	httpServer := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      srv.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		zapLogger.Info("Starting API server", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-quit:
		zapLogger.Info("Shutting down", zap.String("signal", sig.String()))
	case err, ok := <-serverErr:
		if ok {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("HTTP server shutdown failed", zap.Error(err))
	}
	if scheduler != nil {
		scheduler.Stop()
	}
	svc.Stop()
	cancel()

	zapLogger.Info("Trade ingestion service exited")
	return runErr
}

// openPrimary returns the version store and failure log for the configured
// driver. db is nil for the in-memory driver.
func openPrimary(cfg config.DatabaseConfig, zapLogger *zap.Logger) (repository.VersionStore, repository.FailureLog, *gorm.DB, error) {
	var (
		db  *gorm.DB
		err error
	)
	switch cfg.Driver {
	case "memory":
		zapLogger.Warn("Using in-memory primary store, data will not survive a restart")
		return repository.NewMemoryVersionStore(), repository.NewMemoryFailureLog(), nil, nil
	case "postgres":
		db, err = database.NewPostgresDB(cfg.DSN, cfg.MaxOpenConns, cfg.MaxIdleConns, int(cfg.ConnMaxLifetime/time.Second))
	case "sqlite":
		db, err = database.NewSQLiteDB(cfg.DSN)
	default:
		return nil, nil, nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect %s: %w", cfg.Driver, err)
	}
	if err := database.Migrate(db); err != nil {
		_ = database.Close(db)
		return nil, nil, nil, fmt.Errorf("migrate: %w", err)
	}
	zapLogger.Info("Primary store ready", zap.String("driver", cfg.Driver))
	return repository.NewGormVersionStore(db, zapLogger), repository.NewGormFailureLog(db), db, nil
}

// openReplicas builds the secondary store from the configured drivers. The
// returned closers must be run even when err is non-nil.
func openReplicas(cfg *config.Config, zapLogger *zap.Logger) (repository.ReplicaStore, []func() error, error) {
	var (
		stores  []replica.Named
		closers []func() error
	)
	for _, driver := range cfg.Replica.Drivers {
		switch driver {
		case replica.DriverRedis:
			client, err := database.NewRedisClient(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
			if err != nil {
				return nil, closers, fmt.Errorf("redis replica: %w", err)
			}
			closers = append(closers, client.Close)
			stores = append(stores, replica.Named{Name: driver, Store: replica.NewRedisStore(client, cfg.Redis.KeyPrefix)})
		case replica.DriverBadger:
			bdb, err := database.NewBadgerDB(cfg.Badger.Path)
			if err != nil {
				return nil, closers, fmt.Errorf("badger replica: %w", err)
			}
			closers = append(closers, bdb.Close)
			stores = append(stores, replica.Named{Name: driver, Store: replica.NewBadgerStore(bdb)})
		case replica.DriverKafka:
			ks := replica.NewKafkaStore(replica.KafkaConfig{
				Brokers:      cfg.Kafka.Brokers,
				Topic:        cfg.Kafka.Topic,
				WriteTimeout: cfg.Kafka.WriteTimeout,
				RequiredAcks: cfg.Kafka.RequiredAcks,
			})
			closers = append(closers, ks.Close)
			stores = append(stores, replica.Named{Name: driver, Store: ks})
		case replica.DriverNone:
		}
	}
	if len(stores) == 0 {
		zapLogger.Warn("Replication disabled, no replica drivers configured")
		return replica.Nop{}, closers, nil
	}
	zapLogger.Info("Replica stores ready", zap.Int("count", len(stores)))
	return replica.NewFanout(zapLogger, stores...), closers, nil
}
