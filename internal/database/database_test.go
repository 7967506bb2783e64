package database

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Aidin1998/tradeingest/pkg/metrics"
	"github.com/Aidin1998/tradeingest/pkg/models"
)

func TestSQLiteMigrate(t *testing.T) {
	db, err := NewSQLiteDB(":memory:")
	require.NoError(t, err)
	defer Close(db)

	require.NoError(t, Migrate(db))
	assert.True(t, db.Migrator().HasTable(&models.Trade{}))
	assert.True(t, db.Migrator().HasTable(&models.ReplicationFailure{}))
	assert.True(t, db.Migrator().HasIndex(&models.Trade{}, "idx_trade_version"))
}

func TestBadgerInMemory(t *testing.T) {
	db, err := NewBadgerDB("")
	require.NoError(t, err)
	require.NoError(t, db.Close())
}

func TestBadgerOnDisk(t *testing.T) {
	db, err := NewBadgerDB(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, db.Close())
}

func TestReportPoolStats(t *testing.T) {
	db, err := NewSQLiteDB(":memory:")
	require.NoError(t, err)
	defer Close(db)

	m := metrics.NewDBPoolMetrics(prometheus.NewRegistry())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		ReportPoolStats(ctx, db, "sqlite", 10*time.Millisecond, m, zaptest.NewLogger(t))
		close(done)
	}()

	require.Eventually(t, func() bool {
		var out dto.Metric
		if err := m.OpenConns.WithLabelValues("sqlite").Write(&out); err != nil {
			return false
		}
		return out.GetGauge() != nil
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reporter did not stop")
	}
}
