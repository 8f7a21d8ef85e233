package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tckz/tally-counter/internal/tally"
)

var _ Counter = (*RedisCounter)(nil)

// RedisCounter keeps one INCRBY key per weekday under key.
type RedisCounter struct {
	key    string
	client redis.UniversalClient
}

func (c *RedisCounter) dayKey(day time.Weekday) string {
	return fmt.Sprintf("%s:%d", c.key, day)
}

func (c *RedisCounter) Get(ctx context.Context) (tally.Record, error) {
	keys := make([]string, tally.NumWeekdays)
	for i := range keys {
		keys[i] = c.dayKey(time.Weekday(i))
	}
	vals, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return tally.Record{}, fmt.Errorf("client.MGet: %w", err)
	}

	var rec tally.Record
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		if _, err := fmt.Sscan(s, &rec.Weekdays[i]); err != nil {
			return tally.Record{}, fmt.Errorf("fmt.Sscan: key=%s, %w", keys[i], err)
		}
	}
	rec.Total = rec.Sum()
	return rec, nil
}

func (c *RedisCounter) Up(ctx context.Context, day time.Weekday) (int64, error) {
	if day < time.Sunday || day > time.Saturday {
		return 0, tally.ErrInvalidWeekday
	}
	var total *redis.IntCmd
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.IncrBy(ctx, c.dayKey(day), 1)
		total = pipe.IncrBy(ctx, c.key+":total", 1)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("client.TxPipelined: %w", err)
	}
	return total.Val(), nil
}
