package main

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/tckz/tally-counter/internal/tally"
)

// Counter tallies received increment events per weekday.
type Counter interface {
	Up(ctx context.Context, day time.Weekday) (int64, error)
	Get(ctx context.Context) (tally.Record, error)
}

var _ Counter = (*LocalCounter)(nil)

type LocalCounter struct {
	total    atomic.Int64
	weekdays [tally.NumWeekdays]atomic.Int64
}

func (c *LocalCounter) Get(ctx context.Context) (tally.Record, error) {
	var rec tally.Record
	for i := range c.weekdays {
		rec.Weekdays[i] = c.weekdays[i].Load()
	}
	rec.Total = rec.Sum()
	return rec, nil
}

func (c *LocalCounter) Up(ctx context.Context, day time.Weekday) (int64, error) {
	if day < time.Sunday || day > time.Saturday {
		return 0, tally.ErrInvalidWeekday
	}
	c.weekdays[day].Add(1)
	return c.total.Add(1), nil
}
