// Package store provides session.Store backends.
package store

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sweetpotato0/shard/errors"
	"github.com/sweetpotato0/shard/session"
)

// DefaultRedisPrefix namespaces every key the store writes.
const DefaultRedisPrefix = "shard:generation:"

// RedisStore persists generation records in Redis. Records are JSON values;
// a sorted set scored by creation time indexes them.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// NewRedisStore connects a store using config.
func NewRedisStore(config *RedisConfig) *RedisStore {
	if config == nil {
		config = &RedisConfig{
			Addr: "localhost:6379",
			TTL:  24 * time.Hour,
		}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})
	return NewRedisStoreWithClient(client, config.Prefix, config.TTL)
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

// Save writes record and indexes it.
func (s *RedisStore) Save(ctx context.Context, record *session.Record) error {
	if record == nil || record.Key == "" {
		return fmt.Errorf("%w: record must have a key", errors.ErrInvalidInput)
	}

	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.recordKey(record.Key), raw, s.ttl)
	pipe.ZAdd(ctx, s.indexKey(), redis.Z{
		Score:  float64(record.CreatedAt.UnixNano()),
		Member: record.Key,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save record: %w", err)
	}
	return nil
}

// Load reads the record stored under key.
func (s *RedisStore) Load(ctx context.Context, key string) (*session.Record, error) {
	raw, err := s.client.Get(ctx, s.recordKey(key)).Bytes()
	if err != nil {
		if stderrors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("record %s: %w", key, errors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load record: %w", err)
	}

	var record session.Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	return &record, nil
}

// Delete removes a record and its index entry.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, s.recordKey(key))
	pipe.ZRem(ctx, s.indexKey(), key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	if del.Val() == 0 {
		return fmt.Errorf("record %s: %w", key, errors.ErrNotFound)
	}
	return nil
}

// List returns record keys oldest first. Index entries whose record has
// expired are dropped.
func (s *RedisStore) List(ctx context.Context) ([]string, error) {
	keys, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}

	live := keys[:0]
	for _, key := range keys {
		ok, err := s.exists(ctx, key)
		if err != nil {
			return nil, err
		}
		if !ok {
			s.client.ZRem(ctx, s.indexKey(), key)
			continue
		}
		live = append(live, key)
	}
	return live, nil
}

func (s *RedisStore) Count(ctx context.Context) (int, error) {
	keys, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

func (s *RedisStore) exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.recordKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check record existence: %w", err)
	}
	return n > 0, nil
}

// Close closes the underlying Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if the Redis connection is alive.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) recordKey(key string) string {
	return s.prefix + key
}

func (s *RedisStore) indexKey() string {
	return s.prefix + "index"
}
