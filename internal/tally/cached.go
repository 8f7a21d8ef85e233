package tally

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

var _ Store = (*CachedStore)(nil)

const cacheKey = "record"

// CachedStore answers Load from memory for up to ttl and refreshes the cached
// value with the result of every Increment.
//
// Cache misses and increments share mu, so a miss can never put back a record
// older than one an increment has already cached. Only use it when this
// process is the sole writer of the underlying store.
type CachedStore struct {
	Store
	cache *cache.Cache
	mu    sync.Mutex
}

func NewCachedStore(s Store, ttl time.Duration) *CachedStore {
	return &CachedStore{
		Store: s,
		cache: cache.New(ttl, 2*ttl),
	}
}

func (s *CachedStore) Load(ctx context.Context) (Record, error) {
	if v, ok := s.cache.Get(cacheKey); ok {
		return v.(Record), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := s.cache.Get(cacheKey); ok {
		return v.(Record), nil
	}
	rec, err := s.Store.Load(ctx)
	if err != nil {
		return Record{}, err
	}
	s.cache.SetDefault(cacheKey, rec)
	return rec, nil
}

func (s *CachedStore) Increment(ctx context.Context, day time.Weekday) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.Store.Increment(ctx, day)
	if err != nil {
		// The underlying state is unknown now; read it again next time.
		s.cache.Delete(cacheKey)
		return Record{}, err
	}
	s.cache.SetDefault(cacheKey, rec)
	return rec, nil
}
