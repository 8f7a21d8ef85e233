package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"cloud.google.com/go/pubsub"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tckz/tally-counter/internal/events"
	"github.com/tckz/tally-counter/internal/log"
)

var (
	myName  = filepath.Base(os.Args[0])
	logger  *zap.SugaredLogger
	version string
)

var (
	optWorkers      = flag.Int("workers", 2, "Number of workers")
	optLogLevel     = flag.String("log-level", "info", "info|warn|error")
	optSubscription = flag.String("subscription", "", "subscription name")
	optOutPrefix    = flag.String("out-prefix", "out/events-", "path/to/prefix")
)

func init() {
	godotenv.Load()

	flag.Parse()

	logger = log.Must(log.NewLogger(log.WithLogLevel(*optLogLevel))).Sugar().With(zap.String("app", myName))
}

type dumpLine struct {
	MessageID string            `json:"message_id"`
	Event     *events.Event     `json:"event,omitempty"`
	Raw       string            `json:"raw,omitempty"`
	Attr      map[string]string `json:"attr"`
}

func main() {
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

	eg, ctx := errgroup.WithContext(ctx)
	for i := 0; i < *optWorkers; i++ {
		index := i
		eg.Go(func() error {
			fn := *optOutPrefix + fmt.Sprintf("%03d.jsonl", index)
			if err := os.MkdirAll(filepath.Dir(fn), 0o755); err != nil {
				return fmt.Errorf("os.MkdirAll: %w", err)
			}
			fp, err := os.Create(fn)
			if err != nil {
				return fmt.Errorf("os.Create: %w", err)
			}
			defer fp.Close()
			logger.Infof("out=%s", fn)

			// Receive calls the callback from several goroutines.
			var mu sync.Mutex
			enc := json.NewEncoder(fp)
			subs := cl.Subscription(*optSubscription)
			return subs.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
				line := dumpLine{MessageID: msg.ID, Attr: msg.Attributes}
				if ev, err := events.Decode(msg); err != nil {
					line.Raw = string(msg.Data)
				} else {
					line.Event = &ev
				}

				mu.Lock()
				err := enc.Encode(line)
				mu.Unlock()
				if err != nil {
					logger.Errorf("Encode: %v", err)
					msg.Nack()
					return
				}
				msg.Ack()
			})
		})
	}

	logger.Infof("Waiting goroutines exit")
	if err := eg.Wait(); err != nil {
		logger.Errorf("Wait: %v", err)
	}
}
