package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	appcfg "github.com/park285/chess-arena-server/internal/config"
	"github.com/park285/chess-arena-server/internal/arena"
	"github.com/park285/chess-arena-server/internal/livefeed"
	"github.com/park285/chess-arena-server/internal/matchmaking"
	"github.com/park285/chess-arena-server/internal/msgcat"
	"github.com/park285/chess-arena-server/internal/obslog"
	"github.com/park285/chess-arena-server/internal/store"
	"github.com/park285/chess-arena-server/internal/transport"
	"go.uber.org/zap"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer obslog.Sync()

	msgs, err := msgcat.New(cfg.MsgOverrideDir)
	if err != nil {
		log.Fatalf("message catalog error: %v", err)
	}

	repo, err := store.NewRepository(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("repository init error: %v", err)
	}

	feed, err := livefeed.NewStore(cfg.RedisURL)
	if err != nil {
		log.Fatalf("live feed init error: %v", err)
	}

	orch := arena.New(arena.Config{
		DefaultRating: cfg.DefaultRating,
		GraceSeconds:  cfg.GraceSeconds,
		TickInterval:  time.Duration(cfg.TickMillis) * time.Millisecond,
		Matchmaking: matchmaking.Config{
			InitialWindow: cfg.MMInitialWindow,
			WidenStep:     cfg.MMWidenStep,
			MaxWindow:     cfg.MMMaxWindow,
			WidenEvery:    time.Duration(cfg.MMWidenEverySec) * time.Second,
			Timeout:       time.Duration(cfg.MMTimeoutSec) * time.Second,
		},
	}, repo, feed, msgs)

	wsSrv := transport.NewServer(orch, cfg.AllowedOrigins)
	feedSrv := livefeed.NewServer(feed)

	errCh := make(chan error, 2)
	go func() { errCh <- wsSrv.ListenAndServe(cfg.ListenAddr) }()
	go func() { errCh <- feedSrv.ListenAndServe(cfg.FeedListenAddr) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		obslog.L().Info("shutdown_signal", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			obslog.L().Error("server_error", zap.Error(err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := wsSrv.Shutdown(ctx); err != nil {
		obslog.L().Warn("ws_shutdown", zap.Error(err))
	}
	if err := feedSrv.Shutdown(); err != nil {
		obslog.L().Warn("feed_shutdown", zap.Error(err))
	}
	orch.Close()
	_ = feed.Close()
	_ = repo.Close()
}
