package replica

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/Aidin1998/tradeingest/pkg/models"
)

// RedisStore keeps one JSON document per (TradeID, Version) plus a set of
// known versions per trade:
//
//	<prefix>trade:<tradeId>:<version>   -> JSON
//	<prefix>trade:<tradeId>:versions    -> SET of versions
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) tradeKey(tradeID string, version int) string {
	return fmt.Sprintf("%strade:%s:%d", s.prefix, tradeID, version)
}

func (s *RedisStore) versionsKey(tradeID string) string {
	return fmt.Sprintf("%strade:%s:versions", s.prefix, tradeID)
}

func (s *RedisStore) Save(ctx context.Context, trade *models.Trade) error {
	val, err := encode(trade)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.tradeKey(trade.TradeID, trade.Version), val, 0)
		pipe.SAdd(ctx, s.versionsKey(trade.TradeID), versionString(trade.Version))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save %s: %w", trade.Key(), err)
	}
	return nil
}

func (s *RedisStore) DeleteAll(ctx context.Context, trades []models.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, t := range trades {
			pipe.Del(ctx, s.tradeKey(t.TradeID, t.Version))
			pipe.SRem(ctx, s.versionsKey(t.TradeID), versionString(t.Version))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

// Load returns the replicated copy of a trade version, or nil when absent.
func (s *RedisStore) Load(ctx context.Context, tradeID string, version int) (*models.Trade, error) {
	b, err := s.client.Get(ctx, s.tradeKey(tradeID, version)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis load: %w", err)
	}
	return decode(b)
}

// Versions returns the replicated versions of tradeID in ascending order.
func (s *RedisStore) Versions(ctx context.Context, tradeID string) ([]int, error) {
	members, err := s.client.SMembers(ctx, s.versionsKey(tradeID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis versions: %w", err)
	}
	out := make([]int, 0, len(members))
	for _, m := range members {
		v, err := strconv.Atoi(m)
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	sort.Ints(out)
	return out, nil
}
