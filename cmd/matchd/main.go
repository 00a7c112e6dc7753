package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	appcfg "github.com/park285/netplay-matchmaker/internal/config"
	"github.com/park285/netplay-matchmaker/internal/events"
	"github.com/park285/netplay-matchmaker/internal/lobby"
	"github.com/park285/netplay-matchmaker/internal/msgcat"
	"github.com/park285/netplay-matchmaker/internal/obslog"
	"github.com/park285/netplay-matchmaker/internal/ratingstore"
	"github.com/park285/netplay-matchmaker/internal/ruleset"
	"github.com/park285/netplay-matchmaker/internal/wsserver"
	"go.uber.org/zap"
)

func main() {
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	logger := obslog.L()
	defer func() { _ = logger.Sync() }()

	cfg, err := appcfg.Load()
	if err != nil {
		logger.Fatal("config_error", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	store, err := ratingstore.Open(openCtx, cfg)
	cancel()
	if err != nil {
		logger.Fatal("rating_store_init_error", zap.String("backend", cfg.RatingStore), zap.Error(err))
	}
	defer func() { _ = store.Close() }()

	var pub events.Publisher = events.Nop{}
	if cfg.NatsURL != "" {
		n, err := events.NewNATS(cfg.NatsURL, cfg.NatsSubject)
		if err != nil {
			logger.Fatal("nats_init_error", zap.Error(err))
		}
		pub = n
	}
	defer func() { _ = pub.Close() }()

	rules, err := ruleset.Load(cfg.RulesetFile)
	if err != nil {
		logger.Fatal("ruleset_error", zap.String("file", cfg.RulesetFile), zap.Error(err))
	}
	catalog, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		logger.Fatal("messages_error", zap.String("dir", cfg.MessagesDir), zap.Error(err))
	}

	lb := lobby.New(lobby.Options{
		Rules:   rules,
		Store:   store,
		Events:  pub,
		Catalog: catalog,
		Logger:  logger,
	})

	sweeper, err := lobby.NewSweeper(lb, cfg.MatchIdleTimeout, cfg.IdleSweepInterval)
	if err != nil {
		logger.Fatal("sweeper_init_error", zap.Error(err))
	}
	sweeper.Start()

	srv := wsserver.New(lb, wsserver.Options{
		Addr:           cfg.ListenAddr,
		AllowedOrigins: cfg.AllowedOrigins,
		SendBuffer:     cfg.SendBuffer,
		Logger:         logger,
	})

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.ListenAndServe() }()
	logger.Info("matchd_started",
		zap.String("addr", cfg.ListenAddr),
		zap.String("ruleset", rules.Name),
		zap.String("rating_store", cfg.RatingStore),
		zap.Duration("idle_timeout", cfg.MatchIdleTimeout),
	)

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			logger.Error("server_error", zap.Error(err))
		}
	}

	logger.Info("matchd_stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	// listener first, so no match can form after the lobby has drained
	if err := srv.StopAccepting(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("server_shutdown_error", zap.Error(err))
	}
	if err := sweeper.Stop(); err != nil {
		logger.Warn("sweeper_stop_error", zap.Error(err))
	}
	// refuses new searches, tears down live matches, waits for rating writes
	lb.Shutdown()
	if err := srv.CloseConnections(shutdownCtx); err != nil {
		logger.Warn("server_close_error", zap.Error(err))
	}
	logger.Info("matchd_stopped")
}
