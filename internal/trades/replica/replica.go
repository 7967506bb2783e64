// Package replica implements the secondary trade stores that accepted writes
// are mirrored to: Redis, an embedded Badger database and a Kafka change feed.
package replica

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/Aidin1998/tradeingest/internal/trades/repository"
	"github.com/Aidin1998/tradeingest/pkg/models"
)

// Driver names accepted in configuration.
const (
	DriverRedis  = "redis"
	DriverBadger = "badger"
	DriverKafka  = "kafka"
	DriverNone   = "none"
)

func encode(trade *models.Trade) ([]byte, error) {
	b, err := json.Marshal(trade)
	if err != nil {
		return nil, fmt.Errorf("encode trade %s: %w", trade.Key(), err)
	}
	return b, nil
}

func decode(b []byte) (*models.Trade, error) {
	var t models.Trade
	if err := json.Unmarshal(b, &t); err != nil {
		return nil, fmt.Errorf("decode trade: %w", err)
	}
	return &t, nil
}

func versionString(v int) string { return strconv.Itoa(v) }

// Nop discards every write. Used when replication is disabled.
type Nop struct{}

func (Nop) Save(context.Context, *models.Trade) error        { return nil }
func (Nop) DeleteAll(context.Context, []models.Trade) error { return nil }

// Named pairs a store with the driver name used in logs.
type Named struct {
	Name  string
	Store repository.ReplicaStore
}

// Fanout writes to several replicas. A write succeeds only when every
// replica accepted it; the error joins every failure.
type Fanout struct {
	stores []Named
	logger *zap.Logger
}

func NewFanout(logger *zap.Logger, stores ...Named) *Fanout {
	return &Fanout{stores: stores, logger: logger}
}

func (f *Fanout) Save(ctx context.Context, trade *models.Trade) error {
	var errs []error
	for _, s := range f.stores {
		if err := s.Store.Save(ctx, trade); err != nil {
			f.logger.Debug("Replica save failed",
				zap.String("replica", s.Name),
				zap.String("trade_id", trade.TradeID),
				zap.Int("version", trade.Version),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
		}
	}
	return errors.Join(errs...)
}

func (f *Fanout) DeleteAll(ctx context.Context, trades []models.Trade) error {
	var errs []error
	for _, s := range f.stores {
		if err := s.Store.DeleteAll(ctx, trades); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of replicas behind the fanout.
func (f *Fanout) Len() int { return len(f.stores) }
