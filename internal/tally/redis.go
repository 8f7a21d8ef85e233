package tally

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var _ Store = (*RedisStore)(nil)

const (
	maxRedisResetRetries = 20
	redisResetBackoff    = 5 * time.Millisecond
)

// redisFields are the hash fields: "total" and one per weekday, "0".."6".
var redisFields = func() []string {
	f := []string{"total"}
	for i := 0; i < NumWeekdays; i++ {
		f = append(f, strconv.Itoa(i))
	}
	return f
}()

// RedisStore keeps the record in a Redis hash. An increment is two HINCRBYs
// in one MULTI/EXEC, so several server instances may share one key without
// conflicting. Only a corrupt hash takes the WATCH path that rewrites it.
type RedisStore struct {
	client redis.UniversalClient
	key    string
	logger *zap.SugaredLogger
}

func NewRedisStore(client redis.UniversalClient, key string, opts ...Option) *RedisStore {
	o := newStoreOptions(opts)
	return &RedisStore{
		client: client,
		key:    key,
		logger: o.logger.With(zap.String("store", "redis"), zap.String("key", key)),
	}
}

func (s *RedisStore) Load(ctx context.Context) (Record, error) {
	vals, err := s.client.HMGet(ctx, s.key, redisFields...).Result()
	if err != nil {
		return Record{}, fmt.Errorf("HMGet: %w", err)
	}
	rec, err := decodeHash(vals)
	if err != nil {
		s.logger.Warnf("%v, using zero record", err)
		return Record{}, nil
	}
	return rec, nil
}

func (s *RedisStore) Increment(ctx context.Context, day time.Weekday) (Record, error) {
	if err := checkWeekday(day); err != nil {
		return Record{}, err
	}

	rec, err := s.incr(ctx, day)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, errCorrupt) {
		return Record{}, err
	}
	s.logger.Warnf("%v, resetting to zero record", err)
	return s.reset(ctx, day)
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// incr bumps total and the day field and reads the hash back in the same
// transaction, so the returned record is exactly the state after this
// increment.
func (s *RedisStore) incr(ctx context.Context, day time.Weekday) (Record, error) {
	var incTotal, incDay *redis.IntCmd
	var get *redis.SliceCmd
	_, txErr := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incTotal = pipe.HIncrBy(ctx, s.key, redisFields[0], 1)
		incDay = pipe.HIncrBy(ctx, s.key, redisFields[day+1], 1)
		get = pipe.HMGet(ctx, s.key, redisFields...)
		return nil
	})

	vals, err := get.Result()
	if err != nil {
		if txErr != nil {
			return Record{}, fmt.Errorf("TxPipelined: %w", txErr)
		}
		return Record{}, fmt.Errorf("HMGet: %w", err)
	}
	// A non-integer field makes HINCRBY fail inside EXEC while HMGET still
	// answers; the hash is then corrupt rather than unreachable.
	if err := incTotal.Err(); err != nil {
		return Record{}, fmt.Errorf("%w: HIncrBy total: %w", errCorrupt, err)
	}
	if err := incDay.Err(); err != nil {
		return Record{}, fmt.Errorf("%w: HIncrBy %d: %w", errCorrupt, day, err)
	}
	return decodeHash(vals)
}

// reset replaces a corrupt hash with the zero record advanced by day. If
// another instance repaired it first, the repaired record is advanced instead.
func (s *RedisStore) reset(ctx context.Context, day time.Weekday) (Record, error) {
	var next Record
	txf := func(tx *redis.Tx) error {
		vals, err := tx.HMGet(ctx, s.key, redisFields...).Result()
		if err != nil {
			return fmt.Errorf("HMGet: %w", err)
		}
		cur, err := decodeHash(vals)
		if err != nil {
			cur = Record{}
		}
		next, err = cur.Inc(day)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, s.key)
			pipe.HSet(ctx, s.key, hashValues(next)...)
			return nil
		})
		return err
	}

	for i := 0; i < maxRedisResetRetries; i++ {
		err := s.client.Watch(ctx, txf, s.key)
		if err == nil {
			return next, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return Record{}, fmt.Errorf("Watch: %w", err)
		}

		wait := redisResetBackoff*time.Duration(i+1) + time.Duration(rand.Int63n(int64(redisResetBackoff)))
		s.logger.Debugf("watch conflict, retry=%d, wait=%s", i, wait)
		select {
		case <-ctx.Done():
			return Record{}, ctx.Err()
		case <-time.After(wait):
		}
	}
	return Record{}, fmt.Errorf("reset: gave up after %d conflicting transactions", maxRedisResetRetries)
}

// decodeHash turns an HMGET reply into a Record. Absent fields count as zero,
// so an absent hash is the zero record.
func decodeHash(vals []interface{}) (Record, error) {
	var rec Record
	for i, v := range vals {
		if v == nil {
			continue
		}
		str, ok := v.(string)
		if !ok {
			return Record{}, fmt.Errorf("%w: field %s has type %T", errCorrupt, redisFields[i], v)
		}
		n, err := strconv.ParseInt(str, 10, 64)
		if err != nil {
			return Record{}, fmt.Errorf("%w: field %s: %w", errCorrupt, redisFields[i], err)
		}
		if i == 0 {
			rec.Total = n
		} else {
			rec.Weekdays[i-1] = n
		}
	}
	if err := rec.Validate(); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func hashValues(r Record) []interface{} {
	v := make([]interface{}, 0, 2*len(redisFields))
	v = append(v, redisFields[0], r.Total)
	for i, n := range r.Weekdays {
		v = append(v, redisFields[i+1], n)
	}
	return v
}
