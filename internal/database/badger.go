package database

import (
	"fmt"

	"github.com/dgraph-io/badger/v3"
)

// NewBadgerDB opens an embedded Badger store at path. An empty path opens an
// in-memory instance.
func NewBadgerDB(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger db: %w", err)
	}
	return db, nil
}
