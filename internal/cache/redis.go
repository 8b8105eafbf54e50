package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pipewatch/pipewatch/pkg/config"
	"github.com/pipewatch/pipewatch/pkg/errors"
)

// RedisClient wraps the Redis connection used for cached monitoring state
type RedisClient struct {
	client *redis.Client
}

// NewRedisClient creates a Redis client and verifies connectivity
func NewRedisClient(cfg *config.RedisConfig) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.NewConnectionError("redis", err.Error())
	}

	return &RedisClient{client: client}, nil
}

// NewRedisClientFromAddr creates a client against a known address, used in tests
func NewRedisClientFromAddr(addr string) *RedisClient {
	return &RedisClient{client: redis.NewClient(&redis.Options{Addr: addr})}
}

// SetJSON stores a JSON-encoded value with a TTL
func (r *RedisClient) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errors.NewInternalError(fmt.Sprintf("failed to marshal cache value: %v", err))
	}

	if err := r.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return errors.NewConnectionError("redis", err.Error())
	}
	return nil
}

// GetJSON loads a JSON-encoded value. Returns a not-found error on miss.
func (r *RedisClient) GetJSON(ctx context.Context, key string, target interface{}) error {
	data, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return errors.NewNotFoundError("cache key " + key)
	}
	if err != nil {
		return errors.NewConnectionError("redis", err.Error())
	}

	if err := json.Unmarshal(data, target); err != nil {
		return errors.NewInternalError(fmt.Sprintf("failed to unmarshal cache value: %v", err))
	}
	return nil
}

// Delete removes a key
func (r *RedisClient) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return errors.NewConnectionError("redis", err.Error())
	}
	return nil
}

// Ping verifies connectivity
func (r *RedisClient) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return errors.NewConnectionError("redis", err.Error())
	}
	return nil
}

// Close releases the connection pool
func (r *RedisClient) Close() error {
	return r.client.Close()
}
