package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Aidin1998/tradeingest/pkg/models"
)

// GormVersionStore implements VersionStore on top of GORM.
type GormVersionStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormVersionStore creates a new GORM-backed version store
func NewGormVersionStore(db *gorm.DB, logger *zap.Logger) *GormVersionStore {
	return &GormVersionStore{
		db:     db,
		logger: logger,
	}
}

func (r *GormVersionStore) FindLatestVersion(ctx context.Context, tradeID string) (*models.Trade, error) {
	var trade models.Trade
	err := r.db.WithContext(ctx).
		Where("trade_id = ?", tradeID).
		Order("version desc").
		Take(&trade).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find latest version: %w", err)
	}
	return &trade, nil
}

func (r *GormVersionStore) FindAllVersions(ctx context.Context, tradeID string) ([]models.Trade, error) {
	var trades []models.Trade
	err := r.db.WithContext(ctx).
		Where("trade_id = ?", tradeID).
		Order("version asc").
		Find(&trades).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find trade versions: %w", err)
	}
	return trades, nil
}

// Save creates the trade when ID is zero and updates the row in place otherwise.
func (r *GormVersionStore) Save(ctx context.Context, trade *models.Trade) (*models.Trade, error) {
	saved := trade.Clone()
	db := r.db.WithContext(ctx)

	var err error
	if saved.ID == 0 {
		err = db.Create(saved).Error
	} else {
		err = db.Save(saved).Error
	}
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			err = fmt.Errorf("%w: %v", ErrDuplicateKey, err)
		}
		r.logger.Error("Failed to save trade",
			zap.Error(err),
			zap.String("trade_id", trade.TradeID),
			zap.Int("version", trade.Version))
		return nil, fmt.Errorf("failed to save trade: %w", err)
	}

	r.logger.Debug("Trade saved",
		zap.Uint64("id", saved.ID),
		zap.String("trade_id", saved.TradeID),
		zap.Int("version", saved.Version))
	return saved, nil
}

func (r *GormVersionStore) DeleteAll(ctx context.Context, trades []models.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	ids := make([]uint64, 0, len(trades))
	for _, t := range trades {
		ids = append(ids, t.ID)
	}
	if err := r.db.WithContext(ctx).Delete(&models.Trade{}, ids).Error; err != nil {
		return fmt.Errorf("failed to delete trades: %w", err)
	}
	return nil
}

func (r *GormVersionStore) FindExpiredBefore(ctx context.Context, date time.Time) ([]models.Trade, error) {
	var trades []models.Trade
	err := r.db.WithContext(ctx).
		Where("expired = ? AND maturity_date < ?", false, date).
		Order("trade_id asc, version asc").
		Find(&trades).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find expired trades: %w", err)
	}
	return trades, nil
}

func (r *GormVersionStore) BulkMarkExpiredBefore(ctx context.Context, date time.Time) (int, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Trade{}).
		Where("expired = ? AND maturity_date < ?", false, date).
		Update("expired", true)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to mark trades expired: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

func (r *GormVersionStore) Page(ctx context.Context, pageNumber, pageSize int) ([]models.Trade, error) {
	offset, ok := PageOffset(pageNumber, pageSize)
	if !ok {
		return []models.Trade{}, nil
	}
	var trades []models.Trade
	err := r.db.WithContext(ctx).
		Order("trade_id asc, version asc").
		Offset(offset).
		Limit(pageSize).
		Find(&trades).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list trades: %w", err)
	}
	return trades, nil
}
