package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// compareAndDeleteScript deletes the key only when it still holds the
// expected value, so a lease holder never releases someone else's lease.
const compareAndDeleteScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// RedisCache implements Cache on a Redis instance.
type RedisCache struct {
	client redis.UniversalClient
}

// NewRedisCache connects to Redis using the connection map form used across
// the code base ("addr", "password", "db").
func NewRedisCache(ctx context.Context, connection map[string]string) (*RedisCache, error) {
	addr := connection["addr"]
	if addr == "" {
		addr = "localhost:6379"
	}

	password := connection["password"]
	db := 0

	if dbStr := connection["db"]; dbStr != "" {
		parsed, err := strconv.Atoi(dbStr)
		if err != nil {
			return nil, fmt.Errorf("invalid db value: %w", err)
		}

		db = parsed
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	value, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrKeyNotFound
		}

		return "", fmt.Errorf("failed to get key %s: %w", key, err)
	}

	return value, nil
}

func (c *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	err := c.client.Set(ctx, key, value, ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}

	return nil
}

func (c *RedisCache) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to setnx key %s: %w", key, err)
	}

	return ok, nil
}

func (c *RedisCache) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	deleted, err := c.client.Eval(ctx, compareAndDeleteScript, []string{key}, value).Int()
	if err != nil {
		return false, fmt.Errorf("failed to compare-and-delete key %s: %w", key, err)
	}

	return deleted == 1, nil
}

func (c *RedisCache) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := c.client.Expire(ctx, key, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to expire key %s: %w", key, err)
	}

	return ok, nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
