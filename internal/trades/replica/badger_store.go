package replica

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v3"

	"github.com/Aidin1998/tradeingest/pkg/models"
)

// BadgerStore mirrors trades into an embedded Badger database. Keys sort by
// trade then version: trade/<tradeId>/<version, zero padded>.
type BadgerStore struct {
	db *badger.DB
}

func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

func badgerKey(tradeID string, version int) []byte {
	return []byte(fmt.Sprintf("trade/%s/%010d", tradeID, version))
}

func badgerPrefix(tradeID string) []byte {
	return []byte(fmt.Sprintf("trade/%s/", tradeID))
}

func (s *BadgerStore) Save(ctx context.Context, trade *models.Trade) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	val, err := encode(trade)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(trade.TradeID, trade.Version), val)
	})
}

func (s *BadgerStore) DeleteAll(ctx context.Context, trades []models.Trade) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		for _, t := range trades {
			if err := txn.Delete(badgerKey(t.TradeID, t.Version)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Load returns the replicated copy of a trade version, or nil when absent.
func (s *BadgerStore) Load(_ context.Context, tradeID string, version int) (*models.Trade, error) {
	var out *models.Trade
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(tradeID, version))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			t, err := decode(v)
			out = t
			return err
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	return out, err
}

// LoadAll returns every replicated version of tradeID in ascending order.
func (s *BadgerStore) LoadAll(_ context.Context, tradeID string) ([]models.Trade, error) {
	var out []models.Trade
	prefix := badgerPrefix(tradeID)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(v []byte) error {
				t, err := decode(v)
				if err != nil {
					return err
				}
				out = append(out, *t)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}
