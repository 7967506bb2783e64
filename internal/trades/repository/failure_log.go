package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/Aidin1998/tradeingest/pkg/models"
)

// GormFailureLog persists replication failures in the primary database.
type GormFailureLog struct {
	db *gorm.DB
}

func NewGormFailureLog(db *gorm.DB) *GormFailureLog {
	return &GormFailureLog{db: db}
}

func (l *GormFailureLog) Append(ctx context.Context, tradeID string, version int, ts time.Time, reason string) error {
	rec := &models.ReplicationFailure{
		TradeID:          tradeID,
		Version:          version,
		FailureTimestamp: ts.UTC(),
		Reason:           TruncateReason(reason),
	}
	if err := l.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("failed to record replication failure: %w", err)
	}
	return nil
}

func (l *GormFailureLog) List(ctx context.Context, limit int) ([]models.ReplicationFailure, error) {
	var out []models.ReplicationFailure
	q := l.db.WithContext(ctx).Order("failure_timestamp desc, id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list replication failures: %w", err)
	}
	return out, nil
}

// MemoryFailureLog keeps failures in process memory. Used with the memory
// primary store and in tests.
type MemoryFailureLog struct {
	mu      sync.Mutex
	nextID  uint64
	entries []models.ReplicationFailure
}

func NewMemoryFailureLog() *MemoryFailureLog {
	return &MemoryFailureLog{}
}

func (l *MemoryFailureLog) Append(_ context.Context, tradeID string, version int, ts time.Time, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	l.entries = append(l.entries, models.ReplicationFailure{
		ID:               l.nextID,
		TradeID:          tradeID,
		Version:          version,
		FailureTimestamp: ts.UTC(),
		Reason:           TruncateReason(reason),
	})
	return nil
}

func (l *MemoryFailureLog) List(_ context.Context, limit int) ([]models.ReplicationFailure, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.entries)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]models.ReplicationFailure, 0, n)
	for i := len(l.entries) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, l.entries[i])
	}
	return out, nil
}
