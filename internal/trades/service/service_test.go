package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Aidin1998/tradeingest/internal/database"
	"github.com/Aidin1998/tradeingest/internal/trades"
	"github.com/Aidin1998/tradeingest/internal/trades/ingest"
	"github.com/Aidin1998/tradeingest/internal/trades/replica"
	"github.com/Aidin1998/tradeingest/internal/trades/replication"
	"github.com/Aidin1998/tradeingest/internal/trades/repository"
	"github.com/Aidin1998/tradeingest/pkg/models"
)

var today = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func clock() time.Time { return today.Add(9 * time.Hour) }

type toggleReplica struct {
	mu   sync.Mutex
	down bool
	keys []string
}

func (r *toggleReplica) Save(_ context.Context, t *models.Trade) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.down {
		return errors.New("replica unavailable")
	}
	r.keys = append(r.keys, t.Key())
	return nil
}

func (r *toggleReplica) DeleteAll(context.Context, []models.Trade) error { return nil }

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.Queue = ingest.Config{Capacity: 10, PollInterval: 5 * time.Millisecond, ShutdownTimeout: time.Second}
	cfg.Replication = replication.Config{MaxAttempts: 3, Backoff: time.Millisecond, AttemptTimeout: time.Second}
	cfg.ReplicationShutdownTimeout = time.Second
	return cfg
}

func newService(t *testing.T, rep repository.ReplicaStore) (*Service, repository.FailureLog) {
	t.Helper()
	db, err := database.NewSQLiteDB(":memory:")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { _ = database.Close(db) })

	failures := repository.NewGormFailureLog(db)
	svc := New(Deps{
		Store:      repository.NewGormVersionStore(db, zaptest.NewLogger(t)),
		Replica:    rep,
		Failures:   failures,
		Registerer: prometheus.NewRegistry(),
		Clock:      clock,
		Logger:     zaptest.NewLogger(t),
	}, fastConfig())
	return svc, failures
}

func maturing(id string, version, days int) *models.Trade {
	m := today.AddDate(0, 0, days)
	return &models.Trade{TradeID: id, Version: version, CounterPartyID: "CP-1", BookID: "B1", MaturityDate: &m}
}

func TestService_EnqueueFlowsThroughPipeline(t *testing.T) {
	rep := &toggleReplica{}
	svc, _ := newService(t, rep)
	svc.Start()

	require.True(t, svc.Enqueue(maturing("T1", 1, 5)))
	require.True(t, svc.Enqueue(maturing("T1", 2, 5)))
	require.True(t, svc.Enqueue(maturing("T1", 1, 5)))

	ctx := context.Background()
	require.Eventually(t, func() bool {
		s := svc.QueueStats()
		return s.Processed+s.Failed == 3
	}, 2*time.Second, 5*time.Millisecond)

	stats := svc.QueueStats()
	assert.Equal(t, uint64(2), stats.Processed)
	assert.Equal(t, uint64(1), stats.Failed)
	assert.Zero(t, svc.QueueDepth())

	all, err := svc.ListByTradeID(ctx, "T1")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	svc.Stop()
	rep.mu.Lock()
	defer rep.mu.Unlock()
	assert.ElementsMatch(t, []string{"T1:1", "T1:2"}, rep.keys)
}

func TestService_DroppedWhenFull(t *testing.T) {
	svc, _ := newService(t, replica.Nop{})
	for i := 0; i < 10; i++ {
		require.True(t, svc.Enqueue(maturing("T", i, 1)))
	}
	assert.False(t, svc.Enqueue(maturing("T", 10, 1)))
	assert.Equal(t, 10, svc.QueueDepth())
	assert.Equal(t, uint64(1), svc.QueueStats().Dropped)
}

func TestService_AcceptSynchronouslyAndFailures(t *testing.T) {
	rep := &toggleReplica{down: true}
	svc, _ := newService(t, rep)
	ctx := context.Background()

	saved, err := svc.AcceptSynchronously(ctx, maturing("T9", 1, 1))
	require.NoError(t, err)
	assert.False(t, saved.Expired)
	svc.WaitForReplication()

	failures, err := svc.ReplicationFailures(ctx, 0)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, "T9", failures[0].TradeID)
	assert.Equal(t, "replica unavailable", failures[0].Reason)

	_, err = svc.AcceptSynchronously(ctx, maturing("T9", 1, -1))
	assert.ErrorIs(t, err, trades.ErrInvalidMaturityDate)
}

func TestService_DeleteListExpire(t *testing.T) {
	svc, _ := newService(t, replica.Nop{})
	ctx := context.Background()

	for _, id := range []string{"A", "B"} {
		_, err := svc.AcceptSynchronously(ctx, maturing(id, 1, 0))
		require.NoError(t, err)
	}

	page, err := svc.ListPage(ctx, 0, 0)
	require.NoError(t, err)
	assert.Len(t, page, 2)

	n, err := svc.MarkExpired(ctx, today.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	deleted, err := svc.DeleteByTradeID(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	page, err = svc.ListPage(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.True(t, page[0].Expired)
	svc.Stop()
}
