// Package redis wraps go-redis with the handful of verbs the cache and
// coordination layers use. Read misses map redis.Nil to zero values so
// callers can branch on "absent" without importing the driver.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rendercove/prerender/internal/common/configtypes"
)

// connectTimeout bounds the reachability probe in NewClient.
const connectTimeout = 5 * time.Second

type Client struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewClient connects to Redis and verifies the server is reachable.
// Dial/read/write timeouts and pool sizing stay on the go-redis defaults.
func NewClient(cfg *configtypes.RedisConfig, logger *zap.Logger) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	logger.Debug("Redis connected",
		zap.String("addr", cfg.Addr),
		zap.Int("db", cfg.DB))

	return &Client{rdb: rdb, logger: logger}, nil
}

// Get returns the string value for key, or "" when the key is absent.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	val, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis GET %s: %w", key, err)
	}
	return val, nil
}

// GetBytes returns the raw value for keys holding binary payloads, or nil
// when the key is absent.
func (c *Client) GetBytes(ctx context.Context, key string) ([]byte, error) {
	val, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis GET %s: %w", key, err)
	}
	return val, nil
}

// Set writes a value with a TTL.
func (c *Client) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis SET %s: %w", key, err)
	}
	return nil
}

// SetNX writes a value with a TTL only when the key does not exist yet,
// and reports whether this call was the writer.
func (c *Client) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis SETNX %s: %w", key, err)
	}
	return ok, nil
}

// Del removes the given keys. Zero keys or absent keys are not errors.
func (c *Client) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis DEL: %w", err)
	}
	return nil
}

// HSetWithExpire writes hash fields and their TTL inside one MULTI/EXEC
// block so the hash can never be left behind without an expiry.
func (c *Client) HSetWithExpire(ctx context.Context, key string, ttl time.Duration, values ...interface{}) error {
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, values...)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis HSET+EXPIRE %s: %w", key, err)
	}
	return nil
}

// HGetAll returns all hash fields for key. An absent key yields an empty
// map, same as an empty hash.
func (c *Client) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	fields, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis HGETALL %s: %w", key, err)
	}
	return fields, nil
}

// Close releases the connection pool.
func (c *Client) Close() error {
	if err := c.rdb.Close(); err != nil {
		c.logger.Warn("Error closing Redis client", zap.Error(err))
		return err
	}
	return nil
}
