// Package cache provides per-user counters backed by Redis, with an
// in-memory fallback for deployments that run without one.
package cache

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Counter tracks integer counters keyed by string.
type Counter interface {
	Incr(ctx context.Context, key string) (int64, error)
	Decr(ctx context.Context, key string) (int64, error)
	Get(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

// ---------------------------------------------------------------------------
// Redis implementation
// ---------------------------------------------------------------------------

type redisCounter struct {
	client *redis.Client
	prefix string
}

// NewRedisCounter connects to Redis at redisURL and returns a Counter that
// stores values under prefix.
func NewRedisCounter(ctx context.Context, redisURL, prefix string) (Counter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &redisCounter{client: client, prefix: prefix}, nil
}

func (c *redisCounter) key(k string) string {
	return c.prefix + ":" + k
}

func (c *redisCounter) Incr(ctx context.Context, key string) (int64, error) {
	return c.client.Incr(ctx, c.key(key)).Result()
}

func (c *redisCounter) Decr(ctx context.Context, key string) (int64, error) {
	n, err := c.client.Decr(ctx, c.key(key)).Result()
	if err != nil {
		return 0, err
	}
	if n < 0 {
		// Counters never go negative; clamp and repair the stored value.
		c.client.Set(ctx, c.key(key), 0, 0)
		return 0, nil
	}
	return n, nil
}

func (c *redisCounter) Get(ctx context.Context, key string) (int64, error) {
	n, err := c.client.Get(ctx, c.key(key)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}

func (c *redisCounter) Reset(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.key(key)).Err()
}

// ---------------------------------------------------------------------------
// In-memory implementation
// ---------------------------------------------------------------------------

type memoryCounter struct {
	mu     sync.Mutex
	counts map[string]int64
}

// NewMemoryCounter returns a process-local Counter. Used when REDIS_URL is
// unset; counts reset on restart.
func NewMemoryCounter() Counter {
	return &memoryCounter{counts: make(map[string]int64)}
}

func (c *memoryCounter) Incr(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[key]++
	return c.counts[key], nil
}

func (c *memoryCounter) Decr(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts[key] > 0 {
		c.counts[key]--
	}
	return c.counts[key], nil
}

func (c *memoryCounter) Get(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[key], nil
}

func (c *memoryCounter) Reset(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.counts, key)
	return nil
}
