package replica

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Aidin1998/tradeingest/pkg/models"
)

// KafkaConfig configures the change feed writer.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
	RequiredAcks int
	MaxAttempts  int
}

// messageWriter is the subset of *kafka.Writer the store needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaStore publishes trade versions to a compacted topic keyed by
// tradeId:version. Deletions are tombstones (nil value).
type KafkaStore struct {
	writer messageWriter
	topic  string
}

// NewKafkaStore builds a synchronous writer for cfg.
func NewKafkaStore(cfg KafkaConfig) *KafkaStore {
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.RequiredAcks == 0 {
		cfg.RequiredAcks = int(kafka.RequireAll)
	}
	if cfg.MaxAttempts == 0 {
		// retries belong to the replication worker
		cfg.MaxAttempts = 1
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    1,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
		MaxAttempts:  cfg.MaxAttempts,
		Async:        false,
	}
	return &KafkaStore{writer: w, topic: cfg.Topic}
}

func newKafkaStoreWithWriter(w messageWriter, topic string) *KafkaStore {
	return &KafkaStore{writer: w, topic: topic}
}

func (s *KafkaStore) Save(ctx context.Context, trade *models.Trade) error {
	val, err := encode(trade)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(trade.Key()),
		Value: val,
		Headers: []kafka.Header{
			{Key: "op", Value: []byte("upsert")},
			{Key: "trade_id", Value: []byte(trade.TradeID)},
		},
		Time: time.Now().UTC(),
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka publish %s to %s: %w", trade.Key(), s.topic, err)
	}
	return nil
}

func (s *KafkaStore) DeleteAll(ctx context.Context, trades []models.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(trades))
	now := time.Now().UTC()
	for i := range trades {
		msgs = append(msgs, kafka.Message{
			Key: []byte(trades[i].Key()),
			Headers: []kafka.Header{
				{Key: "op", Value: []byte("delete")},
				{Key: "trade_id", Value: []byte(trades[i].TradeID)},
			},
			Time: now,
		})
	}
	if err := s.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafka tombstones to %s: %w", s.topic, err)
	}
	return nil
}

func (s *KafkaStore) Close() error {
	return s.writer.Close()
}
