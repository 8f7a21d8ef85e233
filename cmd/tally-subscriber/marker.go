package main

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

type ProcessMarker interface {
	// Acquire returns true when the caller may process msgID.
	Acquire(ctx context.Context, msgID string) (bool, error)
	// Release gives msgID back so that a redelivery is processed again.
	Release(ctx context.Context, msgID string) error
}

var _ ProcessMarker = (*LocalMarker)(nil)

type LocalMarker struct {
	cache *cache.Cache
}

func NewLocalMarker(ttl time.Duration) *LocalMarker {
	return &LocalMarker{cache: cache.New(ttl, ttl)}
}

func (c *LocalMarker) Acquire(ctx context.Context, msgID string) (bool, error) {
	err := c.cache.Add(msgID, struct{}{}, cache.DefaultExpiration)
	return err == nil, nil
}

func (c *LocalMarker) Release(ctx context.Context, msgID string) error {
	c.cache.Delete(msgID)
	return nil
}

var _ ProcessMarker = (*RedisMarker)(nil)

type RedisMarker struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func (c *RedisMarker) Acquire(ctx context.Context, msgID string) (bool, error) {
	return c.client.SetNX(ctx, c.prefix+msgID, "v", c.ttl).Result()
}

func (c *RedisMarker) Release(ctx context.Context, msgID string) error {
	return c.client.Del(ctx, c.prefix+msgID).Err()
}
