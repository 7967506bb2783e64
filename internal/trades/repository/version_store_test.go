package repository

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Aidin1998/tradeingest/internal/database"
	"github.com/Aidin1998/tradeingest/pkg/models"
)

func date(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func newSQLiteStore(t *testing.T) *GormVersionStore {
	t.Helper()
	db, err := database.NewSQLiteDB(":memory:")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { _ = database.Close(db) })
	return NewGormVersionStore(db, zaptest.NewLogger(t))
}

// storesUnderTest runs fn against every VersionStore implementation.
func storesUnderTest(t *testing.T, fn func(t *testing.T, s VersionStore)) {
	t.Run("gorm", func(t *testing.T) { fn(t, newSQLiteStore(t)) })
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryVersionStore()) })
}

func trade(id string, version int, maturity *time.Time) *models.Trade {
	return &models.Trade{
		TradeID:        id,
		Version:        version,
		CounterPartyID: "CP-1",
		BookID:         "B1",
		MaturityDate:   maturity,
		CreatedDate:    date(2024, 1, 1),
	}
}

func TestVersionStore_SaveAndFindLatest(t *testing.T) {
	storesUnderTest(t, func(t *testing.T, s VersionStore) {
		ctx := context.Background()

		latest, err := s.FindLatestVersion(ctx, "T1")
		require.NoError(t, err)
		assert.Nil(t, latest)

		v1, err := s.Save(ctx, trade("T1", 1, date(2030, 5, 20)))
		require.NoError(t, err)
		assert.NotZero(t, v1.ID)

		_, err = s.Save(ctx, trade("T1", 3, date(2030, 5, 20)))
		require.NoError(t, err)
		_, err = s.Save(ctx, trade("T1", 2, date(2030, 5, 20)))
		require.NoError(t, err)
		_, err = s.Save(ctx, trade("T2", 9, date(2030, 5, 20)))
		require.NoError(t, err)

		latest, err = s.FindLatestVersion(ctx, "T1")
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.Equal(t, 3, latest.Version)

		all, err := s.FindAllVersions(ctx, "T1")
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, []int{1, 2, 3}, []int{all[0].Version, all[1].Version, all[2].Version})
	})
}

func TestVersionStore_SaveReplacesInPlace(t *testing.T) {
	storesUnderTest(t, func(t *testing.T, s VersionStore) {
		ctx := context.Background()

		first, err := s.Save(ctx, trade("T1", 1, date(2030, 5, 20)))
		require.NoError(t, err)

		replacement := trade("T1", 1, date(2031, 1, 1))
		replacement.ID = first.ID
		replacement.CounterPartyID = "CP-2"
		saved, err := s.Save(ctx, replacement)
		require.NoError(t, err)
		assert.Equal(t, first.ID, saved.ID)

		all, err := s.FindAllVersions(ctx, "T1")
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, "CP-2", all[0].CounterPartyID)
		assert.True(t, all[0].MaturityDate.Equal(*date(2031, 1, 1)))
	})
}

func TestVersionStore_DuplicateVersionRejected(t *testing.T) {
	storesUnderTest(t, func(t *testing.T, s VersionStore) {
		ctx := context.Background()
		_, err := s.Save(ctx, trade("T1", 1, date(2030, 5, 20)))
		require.NoError(t, err)

		_, err = s.Save(ctx, trade("T1", 1, date(2030, 5, 20)))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrDuplicateKey)
	})
}

func TestVersionStore_DeleteAll(t *testing.T) {
	storesUnderTest(t, func(t *testing.T, s VersionStore) {
		ctx := context.Background()
		for v := 1; v <= 3; v++ {
			_, err := s.Save(ctx, trade("T1", v, date(2030, 5, 20)))
			require.NoError(t, err)
		}
		_, err := s.Save(ctx, trade("T2", 1, date(2030, 5, 20)))
		require.NoError(t, err)

		all, err := s.FindAllVersions(ctx, "T1")
		require.NoError(t, err)
		require.NoError(t, s.DeleteAll(ctx, all))
		require.NoError(t, s.DeleteAll(ctx, nil))

		left, err := s.FindAllVersions(ctx, "T1")
		require.NoError(t, err)
		assert.Empty(t, left)

		other, err := s.FindAllVersions(ctx, "T2")
		require.NoError(t, err)
		assert.Len(t, other, 1)
	})
}

func TestVersionStore_Expiry(t *testing.T) {
	storesUnderTest(t, func(t *testing.T, s VersionStore) {
		ctx := context.Background()
		asOf := *date(2024, 6, 1)

		_, err := s.Save(ctx, trade("OLD", 1, date(2024, 5, 31)))
		require.NoError(t, err)
		_, err = s.Save(ctx, trade("EDGE", 1, date(2024, 6, 1)))
		require.NoError(t, err)
		_, err = s.Save(ctx, trade("NEW", 1, date(2024, 7, 1)))
		require.NoError(t, err)

		candidates, err := s.FindExpiredBefore(ctx, asOf)
		require.NoError(t, err)
		require.Len(t, candidates, 1)
		assert.Equal(t, "OLD", candidates[0].TradeID)

		n, err := s.BulkMarkExpiredBefore(ctx, asOf)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		n, err = s.BulkMarkExpiredBefore(ctx, asOf)
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		old, err := s.FindLatestVersion(ctx, "OLD")
		require.NoError(t, err)
		assert.True(t, old.Expired)

		edge, err := s.FindLatestVersion(ctx, "EDGE")
		require.NoError(t, err)
		assert.False(t, edge.Expired)
	})
}

func TestVersionStore_Page(t *testing.T) {
	storesUnderTest(t, func(t *testing.T, s VersionStore) {
		ctx := context.Background()
		for _, id := range []string{"C", "A", "B"} {
			for v := 2; v >= 1; v-- {
				_, err := s.Save(ctx, trade(id, v, date(2030, 1, 1)))
				require.NoError(t, err)
			}
		}

		page, err := s.Page(ctx, 0, 4)
		require.NoError(t, err)
		require.Len(t, page, 4)
		assert.Equal(t, "A", page[0].TradeID)
		assert.Equal(t, 1, page[0].Version)
		assert.Equal(t, "A", page[1].TradeID)
		assert.Equal(t, 2, page[1].Version)
		assert.Equal(t, "B", page[2].TradeID)

		rest, err := s.Page(ctx, 1, 4)
		require.NoError(t, err)
		require.Len(t, rest, 2)
		assert.Equal(t, "C", rest[1].TradeID)
		assert.Equal(t, 2, rest[1].Version)

		empty, err := s.Page(ctx, 5, 4)
		require.NoError(t, err)
		assert.Empty(t, empty)

		beyond, err := s.Page(ctx, math.MaxInt/4+1, 4)
		require.NoError(t, err)
		assert.Empty(t, beyond)

		last, err := s.Page(ctx, math.MaxInt/4, 4)
		require.NoError(t, err)
		assert.Empty(t, last)
	})
}

func TestPageOffset(t *testing.T) {
	tests := []struct {
		page, size int
		want       int
		ok         bool
	}{
		{0, 20, 0, true},
		{-1, 20, 0, true},
		{3, 20, 60, true},
		{math.MaxInt / 20, 20, (math.MaxInt / 20) * 20, true},
		{math.MaxInt/20 + 1, 20, 0, false},
		{math.MaxInt, 2, 0, false},
	}
	for _, tt := range tests {
		got, ok := PageOffset(tt.page, tt.size)
		assert.Equal(t, tt.ok, ok, "page=%d size=%d", tt.page, tt.size)
		assert.Equal(t, tt.want, got, "page=%d size=%d", tt.page, tt.size)
	}
}

func TestMemoryVersionStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryVersionStore()
	ctx := context.Background()

	saved, err := s.Save(ctx, trade("T1", 1, date(2030, 1, 1)))
	require.NoError(t, err)
	saved.CounterPartyID = "mutated"
	*saved.MaturityDate = time.Time{}

	latest, err := s.FindLatestVersion(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, "CP-1", latest.CounterPartyID)
	assert.True(t, latest.MaturityDate.Equal(*date(2030, 1, 1)))
	assert.Equal(t, 1, s.Len())
}
