package repository

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/tidwall/btree"

	"github.com/Aidin1998/tradeingest/pkg/models"
)

// MemoryVersionStore is an ordered in-process VersionStore. Records are kept
// in a B-tree keyed by (TradeID, Version) so per-trade scans and paging
// follow the same order as the SQL store.
type MemoryVersionStore struct {
	mu     sync.RWMutex
	tree   *btree.BTreeG[*models.Trade]
	nextID uint64
	now    func() time.Time
}

func byTradeVersion(a, b *models.Trade) bool {
	if a.TradeID != b.TradeID {
		return a.TradeID < b.TradeID
	}
	return a.Version < b.Version
}

// NewMemoryVersionStore creates an empty store.
func NewMemoryVersionStore() *MemoryVersionStore {
	return &MemoryVersionStore{
		tree: btree.NewBTreeGOptions(byTradeVersion, btree.Options{Degree: 32, NoLocks: true}),
		now:  time.Now,
	}
}

func (s *MemoryVersionStore) FindLatestVersion(_ context.Context, tradeID string) (*models.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *models.Trade
	pivot := &models.Trade{TradeID: tradeID, Version: math.MaxInt}
	s.tree.Descend(pivot, func(t *models.Trade) bool {
		if t.TradeID == tradeID {
			latest = t.Clone()
		}
		return false
	})
	return latest, nil
}

func (s *MemoryVersionStore) FindAllVersions(_ context.Context, tradeID string) ([]models.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Trade
	pivot := &models.Trade{TradeID: tradeID, Version: math.MinInt}
	s.tree.Ascend(pivot, func(t *models.Trade) bool {
		if t.TradeID != tradeID {
			return false
		}
		out = append(out, *t.Clone())
		return true
	})
	return out, nil
}

func (s *MemoryVersionStore) Save(_ context.Context, trade *models.Trade) (*models.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	saved := trade.Clone()
	if existing, ok := s.tree.Get(saved); ok && existing.ID != saved.ID {
		return nil, ErrDuplicateKey
	}
	if saved.ID == 0 {
		s.nextID++
		saved.ID = s.nextID
	} else if saved.ID > s.nextID {
		s.nextID = saved.ID
	}
	saved.UpdatedAt = s.now().UTC()
	s.tree.Set(saved)
	return saved.Clone(), nil
}

func (s *MemoryVersionStore) DeleteAll(_ context.Context, trades []models.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range trades {
		s.tree.Delete(&trades[i])
	}
	return nil
}

func (s *MemoryVersionStore) FindExpiredBefore(_ context.Context, date time.Time) ([]models.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Trade
	s.tree.Scan(func(t *models.Trade) bool {
		if expiresBefore(t, date) {
			out = append(out, *t.Clone())
		}
		return true
	})
	return out, nil
}

func (s *MemoryVersionStore) BulkMarkExpiredBefore(_ context.Context, date time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	now := s.now().UTC()
	s.tree.Scan(func(t *models.Trade) bool {
		if expiresBefore(t, date) {
			t.Expired = true
			t.UpdatedAt = now
			n++
		}
		return true
	})
	return n, nil
}

func (s *MemoryVersionStore) Page(_ context.Context, pageNumber, pageSize int) ([]models.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	skip, ok := PageOffset(pageNumber, pageSize)
	if !ok || pageSize <= 0 {
		return []models.Trade{}, nil
	}
	out := make([]models.Trade, 0, pageSize)
	s.tree.Scan(func(t *models.Trade) bool {
		if skip > 0 {
			skip--
			return true
		}
		if len(out) >= pageSize {
			return false
		}
		out = append(out, *t.Clone())
		return true
	})
	return out, nil
}

// Len returns the number of stored records.
func (s *MemoryVersionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree.Len()
}

func expiresBefore(t *models.Trade, date time.Time) bool {
	return !t.Expired && t.MaturityDate != nil && t.MaturityDate.Before(date)
}
