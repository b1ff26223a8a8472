package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/sma-student-records/pkg/errors"
)

const scanBatch = 500

// CacheRepository stores JSON cache payloads in Redis behind a circuit breaker.
type CacheRepository struct {
	client  *redis.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
	logger  *zap.Logger
}

// NewCacheRepository constructs a cache repository. A nil breaker calls Redis directly.
func NewCacheRepository(client *redis.Client, breaker *gobreaker.CircuitBreaker[[]byte], logger *zap.Logger) *CacheRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheRepository{client: client, breaker: breaker, logger: logger}
}

// IsCacheMiss reports whether err is a plain miss. Used by the breaker so misses do not count as failures.
func IsCacheMiss(err error) bool {
	return err == nil || errors.Is(err, appErrors.ErrCacheMiss)
}

func (r *CacheRepository) execute(fn func() ([]byte, error)) ([]byte, error) {
	if r.breaker == nil {
		return fn()
	}
	return r.breaker.Execute(fn)
}

// Get retrieves and unmarshals the cached value into the provided destination.
func (r *CacheRepository) Get(ctx context.Context, key string, dest interface{}) error {
	if r.client == nil {
		return appErrors.ErrCacheMiss
	}

	raw, err := r.execute(func() ([]byte, error) {
		raw, err := r.client.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil, appErrors.ErrCacheMiss
			}
			return nil, fmt.Errorf("redis get %s: %w", key, err)
		}
		return raw, nil
	})
	if err != nil {
		return err
	}

	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("unmarshal cache value for %s: %w", key, err)
	}
	return nil
}

// Set marshals the provided value and stores it with the given TTL.
func (r *CacheRepository) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if r.client == nil {
		return nil
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value for %s: %w", key, err)
	}

	_, err = r.execute(func() ([]byte, error) {
		if err := r.client.Set(ctx, key, payload, ttl).Err(); err != nil {
			return nil, fmt.Errorf("redis set %s: %w", key, err)
		}
		return nil, nil
	})
	return err
}

// Delete removes a single key.
func (r *CacheRepository) Delete(ctx context.Context, key string) error {
	if r.client == nil {
		return nil
	}
	_, err := r.execute(func() ([]byte, error) {
		if err := r.client.Del(ctx, key).Err(); err != nil {
			return nil, fmt.Errorf("redis delete %s: %w", key, err)
		}
		return nil, nil
	})
	return err
}

// DeleteByPattern removes every key matching the glob. Keys are collected first and then
// removed with a single DEL so a concurrent reader sees either all or none of them.
func (r *CacheRepository) DeleteByPattern(ctx context.Context, pattern string) error {
	if r.client == nil {
		return nil
	}

	_, err := r.execute(func() ([]byte, error) {
		var keys []string
		iter := r.client.Scan(ctx, 0, pattern, scanBatch).Iterator()
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		if err := iter.Err(); err != nil {
			return nil, fmt.Errorf("redis scan pattern %s: %w", pattern, err)
		}
		if len(keys) == 0 {
			return nil, nil
		}
		if err := r.client.Del(ctx, keys...).Err(); err != nil {
			return nil, fmt.Errorf("redis delete pattern %s: %w", pattern, err)
		}
		r.logger.Debug("cache pattern invalidated", zap.String("pattern", pattern), zap.Int("keys", len(keys)))
		return nil, nil
	})
	return err
}

// Generation reads the counter at key. An absent counter is seeded from the clock so a counter lost
// to eviction never comes back with a value that was handed out before.
func (r *CacheRepository) Generation(ctx context.Context, key string) (int64, error) {
	return r.counter(key, func() (int64, error) {
		value, err := r.client.Get(ctx, key).Int64()
		if !errors.Is(err, redis.Nil) {
			return value, err
		}
		if err := r.client.SetNX(ctx, key, time.Now().UnixNano(), 0).Err(); err != nil {
			return 0, err
		}
		return r.client.Get(ctx, key).Int64()
	})
}

// Incr advances the counter at key, seeding it first when absent.
func (r *CacheRepository) Incr(ctx context.Context, key string) (int64, error) {
	return r.counter(key, func() (int64, error) {
		if err := r.client.SetNX(ctx, key, time.Now().UnixNano(), 0).Err(); err != nil {
			return 0, err
		}
		return r.client.Incr(ctx, key).Result()
	})
}

func (r *CacheRepository) counter(key string, op func() (int64, error)) (int64, error) {
	if r.client == nil {
		return 0, fmt.Errorf("redis counter %s: no client", key)
	}
	raw, err := r.execute(func() ([]byte, error) {
		value, err := op()
		if err != nil {
			return nil, fmt.Errorf("redis counter %s: %w", key, err)
		}
		return strconv.AppendInt(nil, value, 10), nil
	})
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(string(raw), 10, 64)
}

// Close releases the underlying Redis connection if present.
func (r *CacheRepository) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}
