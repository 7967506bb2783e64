package database

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Aidin1998/tradeingest/pkg/metrics"
)

// ReportPoolStats publishes the pool statistics of db under the given label
// every interval until ctx is done.
func ReportPoolStats(ctx context.Context, db *gorm.DB, name string, interval time.Duration, m *metrics.DBPoolMetrics, logger *zap.Logger) {
	sqlDB, err := db.DB()
	if err != nil {
		logger.Warn("DB pool stats unavailable", zap.Error(err))
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		stats := sqlDB.Stats()
		m.Set(name, stats.OpenConnections, stats.Idle, stats.InUse)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
