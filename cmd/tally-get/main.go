package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/tckz/tally-counter/internal/backend"
	"github.com/tckz/tally-counter/internal/config"
	"github.com/tckz/tally-counter/internal/log"
	"github.com/tckz/tally-counter/internal/tally"
)

var (
	myName  = filepath.Base(os.Args[0])
	logger  *zap.SugaredLogger
	version string
)

func main() {
	godotenv.Load()

	fs := flag.NewFlagSet(myName, flag.ContinueOnError)
	optJSON := fs.Bool("json", false, "print the record as stored instead of a table")
	cfg, err := config.Parse(fs, os.Args[1:], os.Getenv)
	if errors.Is(err, flag.ErrHelp) {
		return
	} else if err != nil {
		fmt.Fprintf(os.Stderr, "*** %v\n", err)
		os.Exit(2)
	}

	logger = log.Must(log.NewLogger(cfg.LogOptions()...)).Sugar().With(zap.String("app", myName))
	logger.Infof("ver=%s, args=%s", version, os.Args)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := backend.OpenExisting(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("*** backend.OpenExisting: backend=%s, %v", cfg.Backend, err)
	}
	defer store.Close()

	rec, err := store.Load(ctx)
	if err != nil {
		logger.Errorf("Load: %v", err)
		return
	}

	if *optJSON {
		b, err := tally.Marshal(rec)
		if err != nil {
			logger.Errorf("tally.Marshal: %v", err)
			return
		}
		os.Stdout.Write(b)
		return
	}

	fmt.Fprintf(os.Stdout, "%-9s %s\n", "total", humanize.Comma(rec.Total))
	for i, n := range rec.Weekdays {
		fmt.Fprintf(os.Stdout, "%-9s %s\n", time.Weekday(i), humanize.Comma(n))
	}
}
