// Package acceptance applies the versioning and validity rules to incoming
// trades, commits them to the primary store and hands them to replication.
package acceptance

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/Aidin1998/tradeingest/internal/trades"
	"github.com/Aidin1998/tradeingest/internal/trades/repository"
	"github.com/Aidin1998/tradeingest/pkg/metrics"
	"github.com/Aidin1998/tradeingest/pkg/models"
)

var tracer = otel.Tracer("github.com/Aidin1998/tradeingest/internal/trades/acceptance")

// Paging bounds for ListPage.
const (
	DefaultPageSize = 20
	MaxPageSize     = 1000
)

// Replicator receives committed trades. Replicate must not block.
type Replicator interface {
	Replicate(trade *models.Trade)
}

// Engine is the single writer of the primary store.
type Engine struct {
	store          repository.VersionStore
	replica        repository.ReplicaStore
	replicator     Replicator
	clock          trades.Clock
	metrics        *metrics.AcceptanceMetrics
	replicaTimeout time.Duration
	logger         *zap.Logger

	locks    keyLock
	expiryMu sync.Mutex
}

// Option customizes an Engine.
type Option func(*Engine)

func WithClock(c trades.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

func WithMetrics(m *metrics.AcceptanceMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithReplicaTimeout bounds the direct replica calls made by DeleteByTradeID
// and MarkExpired.
func WithReplicaTimeout(d time.Duration) Option {
	return func(e *Engine) { e.replicaTimeout = d }
}

func NewEngine(store repository.VersionStore, replica repository.ReplicaStore, replicator Replicator, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:          store,
		replica:        replica,
		replicator:     replicator,
		replicaTimeout: 5 * time.Second,
		logger:         logger.Named("acceptance"),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Accept validates incoming, resolves its version against the stored
// history and commits it. The committed record is returned and scheduled
// for replication.
func (e *Engine) Accept(ctx context.Context, incoming *models.Trade) (*models.Trade, error) {
	start := time.Now()
	defer func() { e.metrics.ObserveLatency(time.Since(start)) }()

	ctx, span := tracer.Start(ctx, "acceptance.Accept")
	defer span.End()
	if incoming != nil {
		span.SetAttributes(
			attribute.String("trade.id", incoming.TradeID),
			attribute.Int("trade.version", incoming.Version))
	}

	saved, err := e.accept(ctx, incoming)
	if err != nil {
		reason := rejectReason(err)
		e.metrics.IncRejected(reason)
		span.SetStatus(codes.Error, reason)
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int64("trade.storage_id", int64(saved.ID)))
	e.metrics.IncAccepted()
	e.replicator.Replicate(saved)
	return saved.Clone(), nil
}

func (e *Engine) accept(ctx context.Context, incoming *models.Trade) (*models.Trade, error) {
	if incoming == nil {
		return nil, fmt.Errorf("%w: trade is required", trades.ErrInvalidTrade)
	}
	if strings.TrimSpace(incoming.TradeID) == "" {
		return nil, fmt.Errorf("%w: tradeId is required", trades.ErrInvalidTrade)
	}
	if incoming.Version < 0 {
		return nil, fmt.Errorf("%w: version must not be negative", trades.ErrInvalidTrade)
	}

	today := e.clock.Today()
	if incoming.MaturityDate == nil || trades.IsBefore(*incoming.MaturityDate, today) {
		return nil, fmt.Errorf("%w: trade %s maturity %s, today %s", trades.ErrInvalidMaturityDate,
			incoming.TradeID, trades.FormatDate(incoming.MaturityDate), today.Format(trades.DateLayout))
	}

	record := incoming.Clone()
	record.MaturityDate = trades.DatePtr(*record.MaturityDate)
	if record.CreatedDate == nil {
		record.CreatedDate = &today
	} else {
		record.CreatedDate = trades.DatePtr(*record.CreatedDate)
	}
	record.Expired = false

	unlock := e.locks.Lock(record.TradeID)
	defer unlock()

	existing, err := e.store.FindLatestVersion(ctx, record.TradeID)
	if err != nil {
		return nil, trades.NewPrimaryStoreError("find latest version", err)
	}
	record.ID = 0
	if existing != nil {
		switch {
		case record.Version < existing.Version:
			return nil, trades.StaleVersionError(record.TradeID, record.Version, existing.Version)
		case record.Version == existing.Version:
			record.ID = existing.ID
		}
	}

	saved, err := e.store.Save(ctx, record)
	if err != nil {
		return nil, trades.NewPrimaryStoreError("save", err)
	}

	e.logger.Debug("Trade accepted",
		zap.Uint64("id", saved.ID),
		zap.String("trade_id", saved.TradeID),
		zap.Int("version", saved.Version),
		zap.Bool("replaced", existing != nil && existing.Version == saved.Version))
	return saved, nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, trades.ErrInvalidTrade):
		return "invalid_trade"
	case errors.Is(err, trades.ErrInvalidMaturityDate):
		return "invalid_maturity_date"
	case errors.Is(err, trades.ErrStaleVersion):
		return "stale_version"
	default:
		return "primary_store"
	}
}

// ListByTradeID returns every stored version of tradeID ascending by version.
func (e *Engine) ListByTradeID(ctx context.Context, tradeID string) ([]models.Trade, error) {
	out, err := e.store.FindAllVersions(ctx, tradeID)
	if err != nil {
		return nil, trades.NewPrimaryStoreError("find all versions", err)
	}
	return out, nil
}

// NormalizePage clamps paging arguments to the supported range. Pages past
// the last addressable offset are pulled back to it and come back empty.
func NormalizePage(page, size int) (int, int) {
	if page < 0 {
		page = 0
	}
	if size <= 0 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	// keep page*size representable
	if page > math.MaxInt/size {
		page = math.MaxInt / size
	}
	return page, size
}

// ListPage returns one page of trades ordered by (TradeID, Version).
func (e *Engine) ListPage(ctx context.Context, page, size int) ([]models.Trade, error) {
	page, size = NormalizePage(page, size)
	out, err := e.store.Page(ctx, page, size)
	if err != nil {
		return nil, trades.NewPrimaryStoreError("page", err)
	}
	return out, nil
}

// DeleteByTradeID removes every version of tradeID from the primary store and
// then, best effort, from the replica. It returns the number removed.
func (e *Engine) DeleteByTradeID(ctx context.Context, tradeID string) (int, error) {
	unlock := e.locks.Lock(tradeID)
	defer unlock()

	all, err := e.store.FindAllVersions(ctx, tradeID)
	if err != nil {
		return 0, trades.NewPrimaryStoreError("find all versions", err)
	}
	if len(all) == 0 {
		return 0, nil
	}
	if err := e.store.DeleteAll(ctx, all); err != nil {
		return 0, trades.NewPrimaryStoreError("delete", err)
	}

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.replicaTimeout)
	defer cancel()
	if err := e.replica.DeleteAll(rctx, all); err != nil {
		e.logger.Warn("Failed to delete trades from replica",
			zap.String("trade_id", tradeID),
			zap.Int("count", len(all)),
			zap.Error(err))
	}

	e.logger.Info("Deleted trade versions", zap.String("trade_id", tradeID), zap.Int("count", len(all)))
	return len(all), nil
}

// MarkExpired flags every non-expired trade maturing strictly before asOf
// and mirrors each flagged record to the replica. Concurrent sweeps are
// serialized, and no trade can be accepted or deleted between reading the
// candidates and flipping them, so the candidates are exactly the flipped
// records.
func (e *Engine) MarkExpired(ctx context.Context, asOf time.Time) (int, error) {
	e.expiryMu.Lock()
	defer e.expiryMu.Unlock()

	ctx, span := tracer.Start(ctx, "acceptance.MarkExpired")
	defer span.End()

	date := trades.DateOf(asOf)
	candidates, n, err := e.flipExpired(ctx, date)
	if err != nil {
		return 0, err
	}
	e.metrics.AddExpired(n)
	span.SetAttributes(attribute.Int("trades.expired", n))

	mirrored := 0
	for i := range candidates {
		t := &candidates[i]
		t.Expired = true
		if e.mirrorLocked(ctx, t) {
			mirrored++
		}
	}

	e.logger.Info("Expiry sweep finished",
		zap.String("as_of", date.Format(trades.DateLayout)),
		zap.Int("expired", n),
		zap.Int("mirrored", mirrored))
	return n, nil
}

func (e *Engine) flipExpired(ctx context.Context, date time.Time) ([]models.Trade, int, error) {
	unlock := e.locks.LockAll()
	defer unlock()

	candidates, err := e.store.FindExpiredBefore(ctx, date)
	if err != nil {
		return nil, 0, trades.NewPrimaryStoreError("find expired", err)
	}
	n, err := e.store.BulkMarkExpiredBefore(ctx, date)
	if err != nil {
		return nil, 0, trades.NewPrimaryStoreError("mark expired", err)
	}
	if n != len(candidates) {
		e.logger.Warn("Expired count differs from candidates",
			zap.Int("candidates", len(candidates)),
			zap.Int("expired", n))
	}
	return candidates, n, nil
}

// mirrorLocked writes t to the replica while holding its trade's lock, so a
// later accept of the same trade commits only after the mirror is written.
func (e *Engine) mirrorLocked(ctx context.Context, t *models.Trade) bool {
	unlock := e.locks.Lock(t.TradeID)
	defer unlock()
	return e.mirror(ctx, t)
}

func (e *Engine) mirror(ctx context.Context, t *models.Trade) bool {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.replicaTimeout)
	defer cancel()
	if err := e.replica.Save(rctx, t); err != nil {
		e.logger.Warn("Failed to mirror expired trade",
			zap.String("trade_id", t.TradeID),
			zap.Int("version", t.Version),
			zap.Error(err))
		return false
	}
	return true
}
