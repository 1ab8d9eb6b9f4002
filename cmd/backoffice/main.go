// Package main is the entry point for the cardhaus back-office admin server.
// Runs on port 8081 and exposes admin-only endpoints protected by RBAC.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cardhaus/auction/internal/backoffice"
	"github.com/cardhaus/auction/internal/cache"
	"github.com/cardhaus/auction/internal/config"
	"github.com/cardhaus/auction/internal/repository"
	"github.com/cardhaus/auction/internal/service"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
)

func main() {
	// ── Logger ────────────────────────────────────────────────────────────────
	cfg := config.MustLoad()

	var logHandler slog.Handler
	if cfg.IsProd() {
		logHandler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		logHandler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	logger.Info("starting cardhaus backoffice server",
		"env", cfg.Server.Env, "port", cfg.Server.BackofficePort)

	// ── Database ──────────────────────────────────────────────────────────────
	db, err := sqlx.Connect("postgres", cfg.DB.DSN)
	if err != nil {
		logger.Error("database connection failed", "err", err)
		os.Exit(1)
	}
	db.SetMaxOpenConns(cfg.DB.MaxOpenConns)
	db.SetMaxIdleConns(cfg.DB.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.DB.ConnMaxLifetime)

	if err = db.Ping(); err != nil {
		logger.Error("database ping failed", "err", err)
		os.Exit(1)
	}
	logger.Info("database connected")

	// ── Redis ─────────────────────────────────────────────────────────────────
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	store := cache.NewStore(rdb)
	queues := cache.NewQueues(rdb, cfg.Consumer.ScanCount)
	deadlines := cache.NewDeadlines(rdb)

	// ── Event publisher ───────────────────────────────────────────────────────
	// Admin cancel/finalize publishes settlement events just like the server.
	var publisher service.EventPublisher
	if cfg.NATS.Enabled {
		np, perr := service.NewNatsPublisher(cfg.NATS.URL, logger)
		if perr != nil {
			logger.Error("nats connection failed", "err", perr)
			os.Exit(1)
		}
		defer np.Close()
		publisher = np
	} else {
		publisher = service.NoopPublisher{}
	}

	// ── Repositories ──────────────────────────────────────────────────────────
	auctionRepo := repository.NewAuctionRepository(db)
	bidRepo := repository.NewBidRepository(db)

	// ── Services ──────────────────────────────────────────────────────────────
	applySvc := service.NewBidApplyService(db, auctionRepo, bidRepo, store, deadlines, cfg, logger, publisher)
	finalizeSvc := service.NewFinalizeService(db, auctionRepo, bidRepo, store, deadlines, cfg, logger, publisher)
	commandSvc := service.NewAuctionCommandService(db, auctionRepo, bidRepo, store, deadlines, cfg, logger, publisher)
	querySvc := service.NewAuctionQueryService(auctionRepo, bidRepo, store, logger)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Router ────────────────────────────────────────────────────────────────
	router := backoffice.SetupBackofficeRouter(backoffice.BackofficeDeps{
		CommandSvc:  commandSvc,
		QuerySvc:    querySvc,
		ApplySvc:    applySvc,
		FinalizeSvc: finalizeSvc,
		BidRepo:     bidRepo,
		Queues:      queues,
		Deadlines:   deadlines,
		Store:       store,
		Hub:         nil, // backoffice does not directly serve WS
		Cfg:         cfg,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.BackofficePort,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// ── Start ─────────────────────────────────────────────────────────────────
	go func() {
		logger.Info("backoffice http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("backoffice server error", "err", err)
			stop()
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err = srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("backoffice shutdown error", "err", err)
	}

	db.Close()
	_ = rdb.Close()
	logger.Info("backoffice server stopped cleanly")
}
