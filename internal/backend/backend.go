// Package backend builds the tally.Store selected by configuration.
package backend

import (
	"context"
	"fmt"
	"os"
	"time"

	"cloud.google.com/go/datastore"
	"cloud.google.com/go/pubsub"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tckz/tally-counter/internal/config"
	"github.com/tckz/tally-counter/internal/events"
	"github.com/tckz/tally-counter/internal/tally"
)

// Open returns the configured store, wrapped with the read cache and the
// event publisher when those are enabled.
func Open(ctx context.Context, c *config.Config, logger *zap.SugaredLogger) (tally.Store, error) {
	s, err := OpenBase(ctx, c, logger)
	if err != nil {
		return nil, err
	}

	if c.CacheTTL > 0 {
		s = tally.NewCachedStore(s, c.CacheTTL)
		logger.Infof("read cache enabled, ttl=%s", c.CacheTTL)
	}

	if c.PubsubTopic != "" {
		cl, err := pubsub.NewClient(ctx, c.ProjectID)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("pubsub.NewClient: %w", err)
		}
		s = tally.NewNotifyingStore(s, events.NewPublisher(cl, c.PubsubTopic, logger), tally.WithLogger(logger))
		logger.Infof("publishing increments to topic=%s", c.PubsubTopic)
	}
	return s, nil
}

// OpenBase returns the bare backend without decorators.
func OpenBase(ctx context.Context, c *config.Config, logger *zap.SugaredLogger) (tally.Store, error) {
	opt := tally.WithLogger(logger)

	switch c.Backend {
	case config.BackendFile:
		return tally.NewFileStore(c.DataPath, opt)
	case config.BackendMemory:
		return tally.NewMemoryStore(), nil
	case config.BackendSQLite:
		return tally.OpenSQLStore(c.SQLitePath, opt)
	case config.BackendRedis:
		cl := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:        []string{c.RedisAddr},
			DialTimeout:  time.Second * 2,
			ReadTimeout:  time.Second * 2,
			WriteTimeout: time.Second * 2,
			PoolSize:     200,
			PoolTimeout:  time.Second * 5,
		})
		if err := cl.Ping(ctx).Err(); err != nil {
			cl.Close()
			return nil, fmt.Errorf("redis.Ping: addr=%s, %w", c.RedisAddr, err)
		}
		return tally.NewRedisStore(cl, c.RedisKey, opt), nil
	case config.BackendDatastore:
		cl, err := datastore.NewClient(ctx, c.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("datastore.NewClient: %w", err)
		}
		return tally.NewDatastoreStore(cl, c.DatastoreNS, c.DatastoreKind, c.DatastoreName, opt), nil
	case config.BackendS3:
		cl, err := tally.NewS3Client(ctx, tally.S3ClientConfig{
			Region:          c.S3Region,
			Endpoint:        c.S3Endpoint,
			AccessKeyID:     c.S3AccessKey,
			SecretAccessKey: c.S3SecretKey,
		})
		if err != nil {
			return nil, err
		}
		return tally.NewS3Store(cl, c.S3Bucket, c.S3Key, opt), nil
	default:
		return nil, fmt.Errorf("unknown backend: %s", c.Backend)
	}
}

// OpenExisting is OpenBase for readers. The file and sqlite backends must
// already be on disk, so nothing gets created.
func OpenExisting(ctx context.Context, c *config.Config, logger *zap.SugaredLogger) (tally.Store, error) {
	var path string
	switch c.Backend {
	case config.BackendFile:
		path = c.DataPath
	case config.BackendSQLite:
		path = c.SQLitePath
	}
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("os.Stat: %w", err)
		}
	}
	return OpenBase(ctx, c, logger)
}
