package services

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
)

// PriceCache holds the single latest price of the tracked instrument.
// Values never expire; Set overwrites in place.
type PriceCache interface {
	Set(ctx context.Context, value string) error
	// Get returns found == false when nothing was ever written.
	Get(ctx context.Context) (value string, found bool, err error)
}

// Compile-time checks
var (
	_ PriceCache = (*RedisPriceCache)(nil)
	_ PriceCache = (*MemoryPriceCache)(nil)
)

// RedisPriceCache stores the price under one Redis key
type RedisPriceCache struct {
	client *redis.Client
	key    string
}

func NewRedisPriceCache(client *redis.Client, key string) *RedisPriceCache {
	return &RedisPriceCache{client: client, key: key}
}

func (c *RedisPriceCache) Set(ctx context.Context, value string) error {
	// 0 expiration: the key lives until overwritten
	if err := c.client.Set(ctx, c.key, value, 0).Err(); err != nil {
		return fmt.Errorf("set %s: %w", c.key, err)
	}
	return nil
}

func (c *RedisPriceCache) Get(ctx context.Context) (string, bool, error) {
	val, err := c.client.Get(ctx, c.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", c.key, err)
	}
	return val, true, nil
}

// MemoryPriceCache keeps the price in process memory
type MemoryPriceCache struct {
	value atomic.Pointer[string]
}

func NewMemoryPriceCache() *MemoryPriceCache {
	return &MemoryPriceCache{}
}

func (c *MemoryPriceCache) Set(_ context.Context, value string) error {
	c.value.Store(&value)
	return nil
}

func (c *MemoryPriceCache) Get(_ context.Context) (string, bool, error) {
	p := c.value.Load()
	if p == nil {
		return "", false, nil
	}
	return *p, true, nil
}
