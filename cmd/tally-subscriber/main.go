package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tckz/tally-counter/internal/events"
	"github.com/tckz/tally-counter/internal/log"
	"github.com/tckz/tally-counter/internal/tally"
)

var (
	myName  = filepath.Base(os.Args[0])
	logger  *zap.SugaredLogger
	version string
)

var (
	optWorkers      = flag.Int("workers", 4, "Number of workers")
	optLogLevel     = flag.String("log-level", "info", "info|warn|error")
	optSubscription = flag.String("subscription", "", "subscription name")
	optRedis        = flag.String("redis", "", "addr:port of redis")
	optCounterKey   = flag.String("counter-key", "tally-subscriber", "key prefix of redis counters")
	optDedupTTL     = flag.Duration("dedup-ttl", time.Minute, "how long a processed message ID is remembered")
)

func newHandler(counter Counter, marker ProcessMarker, logger *zap.SugaredLogger) func(ctx context.Context, msg *pubsub.Message) {
	nack := func(ctx context.Context, msg *pubsub.Message) {
		// The receive context may be ending; the marker must still be freed.
		if err := marker.Release(context.WithoutCancel(ctx), msg.ID); err != nil {
			logger.Errorf("Release: msgID=%s, %v", msg.ID, err)
		}
		msg.Nack()
	}

	return func(ctx context.Context, msg *pubsub.Message) {
		if got, err := marker.Acquire(ctx, msg.ID); err != nil {
			logger.Errorf("Acquire: %v", err)
			msg.Nack()
			return
		} else if !got {
			logger.Infof("msgID=%s already marked to be processed by other", msg.ID)
			msg.Ack()
			return
		}

		ev, err := events.Decode(msg)
		if err != nil {
			logger.Warnf("msgID=%s dropped: %v", msg.ID, err)
			msg.Ack()
			return
		}

		n, err := counter.Up(ctx, time.Weekday(ev.Weekday))
		if errors.Is(err, tally.ErrInvalidWeekday) {
			logger.Warnf("msgID=%s dropped: %v", msg.ID, err)
			msg.Ack()
			return
		} else if err != nil {
			logger.Errorf("Up: eventID=%s, %v", ev.ID, err)
			nack(ctx, msg)
			return
		}
		if n%1000 == 0 {
			logger.Infof("received=%d, server total=%d", n, ev.Total)
		}
		msg.Ack()
	}
}

func main() {
	godotenv.Load()

	flag.Parse()

	logger = log.Must(log.NewLogger(log.WithLogLevel(*optLogLevel))).Sugar().With(zap.String("app", myName))
	logger.Infof("ver=%s, args=%s", version, os.Args)
	defer logger.Infof("done")

	if *optSubscription == "" {
		logger.Fatalf("*** --subscription must be specified.")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pjID := os.Getenv("PROJECT_ID")

	cl, err := pubsub.NewClient(ctx, pjID)
	if err != nil {
		logger.Fatalf("*** pubsub.NewClient: %v", err)
	}
	defer cl.Close()

	var counter Counter
	var marker ProcessMarker
	if *optRedis == "" {
		counter = &LocalCounter{}
		marker = NewLocalMarker(*optDedupTTL)
	} else {
		rcl := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:        []string{*optRedis},
			DialTimeout:  time.Second * 2,
			ReadTimeout:  time.Second * 2,
			WriteTimeout: time.Second * 2,
			PoolSize:     200,
			PoolTimeout:  time.Second * 5,
		})
		defer rcl.Close()
		counter = &RedisCounter{key: *optCounterKey, client: rcl}
		marker = &RedisMarker{client: rcl, prefix: *optCounterKey + ":processed:", ttl: *optDedupTTL}
	}

	handle := newHandler(counter, marker, logger)
	eg, ctx := errgroup.WithContext(ctx)
	for i := 0; i < *optWorkers; i++ {
		eg.Go(func() error {
			subs := cl.Subscription(*optSubscription)
			return subs.Receive(ctx, handle)
		})
	}

	logger.Infof("Waiting goroutines exit")
	if err := eg.Wait(); err != nil {
		logger.Errorf("Wait: %v", err)
	}

	{
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		rec, err := counter.Get(ctx)
		if err != nil {
			logger.Errorf("Get: %v", err)
			return
		}
		logger.Infow("counted", "total", rec.Total, "weekdays", rec.Weekdays)
	}
}
