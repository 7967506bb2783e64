// Package repository defines the storage ports of the trade pipeline and the
// primary store and failure log implementations behind them.
package repository

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/Aidin1998/tradeingest/pkg/models"
)

// ErrDuplicateKey is returned when a save would create a second record for
// an existing (TradeID, Version).
var ErrDuplicateKey = errors.New("duplicate trade version")

// VersionStore is the authoritative store of versioned trades.
type VersionStore interface {
	// FindLatestVersion returns the highest version stored for tradeID, or
	// (nil, nil) when none exists.
	FindLatestVersion(ctx context.Context, tradeID string) (*models.Trade, error)
	// FindAllVersions returns every version of tradeID ascending by version.
	FindAllVersions(ctx context.Context, tradeID string) ([]models.Trade, error)
	// Save inserts the trade, or replaces it in place when ID is set.
	Save(ctx context.Context, trade *models.Trade) (*models.Trade, error)
	DeleteAll(ctx context.Context, trades []models.Trade) error
	// FindExpiredBefore returns non-expired trades maturing strictly before date.
	FindExpiredBefore(ctx context.Context, date time.Time) ([]models.Trade, error)
	// BulkMarkExpiredBefore flags the same set as expired and returns the count.
	BulkMarkExpiredBefore(ctx context.Context, date time.Time) (int, error)
	// Page returns trades ordered by (TradeID, Version).
	Page(ctx context.Context, pageNumber, pageSize int) ([]models.Trade, error)
}

// ReplicaStore is the secondary, eventually consistent copy of trades.
type ReplicaStore interface {
	Save(ctx context.Context, trade *models.Trade) error
	DeleteAll(ctx context.Context, trades []models.Trade) error
}

// FailureLog records replication attempts that were exhausted.
type FailureLog interface {
	Append(ctx context.Context, tradeID string, version int, ts time.Time, reason string) error
	// List returns the most recent failures first.
	List(ctx context.Context, limit int) ([]models.ReplicationFailure, error)
}

// PageOffset returns the number of records before page. ok is false when
// the page lies beyond any addressable offset and must be empty.
func PageOffset(pageNumber, pageSize int) (offset int, ok bool) {
	if pageNumber <= 0 || pageSize <= 0 {
		return 0, true
	}
	if pageNumber > math.MaxInt/pageSize {
		return 0, false
	}
	return pageNumber * pageSize, true
}

// TruncateReason clips reason to models.MaxFailureReasonLength characters.
func TruncateReason(reason string) string {
	if len(reason) <= models.MaxFailureReasonLength {
		return reason
	}
	r := []rune(reason)
	if len(r) <= models.MaxFailureReasonLength {
		return reason
	}
	return string(r[:models.MaxFailureReasonLength])
}
