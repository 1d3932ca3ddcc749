package deadletter

import (
	"context"
	"encoding/json"
	"fmt"

	"fieldsync/internal/config"
	"fieldsync/internal/models"

	"github.com/redis/go-redis/v9"
)

const defaultQueueKey = "fieldsync:deadletter"

// NewRedisClient создает новый клиент Redis на основе конфигурации
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	options := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}

	return redis.NewClient(options)
}

// RedisSink pushes permanently failed records onto a redis list so external
// tooling (alerting, replay jobs) can consume them without polling the store.
type RedisSink struct {
	client   *redis.Client
	queueKey string
}

func NewRedisSink(client *redis.Client, queueKey string) *RedisSink {
	if queueKey == "" {
		queueKey = defaultQueueKey
	}
	return &RedisSink{client: client, queueKey: queueKey}
}

func (s *RedisSink) Push(ctx context.Context, record *models.SyncRecord) error {
	if s.client == nil {
		return fmt.Errorf("redis client is nil")
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}

	if err := s.client.LPush(ctx, s.queueKey, data).Err(); err != nil {
		return fmt.Errorf("failed to push dead letter: %w", err)
	}
	return nil
}

// Pop removes and returns the oldest dead letter, or nil when empty.
func (s *RedisSink) Pop(ctx context.Context) (*models.SyncRecord, error) {
	if s.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}

	val, err := s.client.RPop(ctx, s.queueKey).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pop dead letter: %w", err)
	}

	var record models.SyncRecord
	if err := json.Unmarshal([]byte(val), &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dead letter: %w", err)
	}
	return &record, nil
}

// Len returns the number of queued dead letters.
func (s *RedisSink) Len(ctx context.Context) (int64, error) {
	if s.client == nil {
		return 0, fmt.Errorf("redis client is nil")
	}
	return s.client.LLen(ctx, s.queueKey).Result()
}
