package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	_ "time/tzdata"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tckz/tally-counter/internal/backend"
	"github.com/tckz/tally-counter/internal/config"
	"github.com/tckz/tally-counter/internal/log"
	"github.com/tckz/tally-counter/internal/server"
)

var (
	myName  = filepath.Base(os.Args[0])
	logger  *zap.SugaredLogger
	version string
)

func main() {
	cfg, err := config.Load(myName, os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	} else if err != nil {
		fmt.Fprintf(os.Stderr, "*** %v\n", err)
		os.Exit(2)
	}

	logger = log.Must(log.NewLogger(cfg.LogOptions()...)).Sugar().With(zap.String("app", myName))
	logger.Infof("ver=%s, args=%s", version, os.Args)
	defer logger.Infof("done")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := backend.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("*** backend.Open: backend=%s, %v", cfg.Backend, err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Errorf("store.Close: %v", err)
		}
	}()

	var page http.Handler
	if cfg.StaticDir != "" {
		page = server.NewPage(os.DirFS(cfg.StaticDir))
		logger.Infof("serving page from %s", cfg.StaticDir)
	}
	h := server.NewHandler(store,
		server.WithLocation(cfg.Location()),
		server.WithLogger(logger),
		server.WithPage(page),
	)
	srv := server.New(cfg.Addr, server.Routes(h, logger))

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		logger.Infof("listening on %s, backend=%s, tz=%s", cfg.Addr, cfg.Backend, cfg.Location())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("srv.ListenAndServe: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		logger.Infof("shutting down")

		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			return fmt.Errorf("srv.Shutdown: %w", err)
		}
		return nil
	})

	if err := eg.Wait(); err != nil {
		logger.Errorf("Wait: %v", err)
	}
}
