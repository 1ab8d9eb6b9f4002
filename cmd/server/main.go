// Package main is the entry point for the cardhaus auction API server.
// It wires together the cache gate, queue consumer, finalizer, and HTTP
// surface, and starts the server alongside the WebSocket hub and background
// scheduler.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/cardhaus/auction/internal/api"
	"github.com/cardhaus/auction/internal/cache"
	"github.com/cardhaus/auction/internal/config"
	"github.com/cardhaus/auction/internal/repository"
	"github.com/cardhaus/auction/internal/scheduler"
	"github.com/cardhaus/auction/internal/service"
	"github.com/cardhaus/auction/internal/ws"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver
	"github.com/redis/go-redis/v9"
)

func main() {
	// ── 1. Logger ─────────────────────────────────────────────────────────────
	cfg := config.MustLoad()

	var logHandler slog.Handler
	if cfg.IsProd() {
		logHandler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		logHandler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	logger.Info("starting cardhaus auction server", "env", cfg.Server.Env, "port", cfg.Server.Port)

	// ── 2. Database ───────────────────────────────────────────────────────────
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

	// ── 3. Migrations ─────────────────────────────────────────────────────────
	if err = runMigrations(db, "migrations"); err != nil {
		logger.Error("migrations failed", "err", err)
		os.Exit(1)
	}
	logger.Info("migrations applied")

	// ── 4. Redis ──────────────────────────────────────────────────────────────
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	store := cache.NewStore(rdb)

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err = store.Ping(pingCtx); err != nil {
		pingCancel()
		logger.Error("redis ping failed", "err", err)
		os.Exit(1)
	}
	pingCancel()
	logger.Info("redis connected", "addr", cfg.Redis.Addr)

	queues := cache.NewQueues(rdb, cfg.Consumer.ScanCount)
	deadlines := cache.NewDeadlines(rdb)

	// ── 5. Event publisher ────────────────────────────────────────────────────
	var publisher service.EventPublisher
	if cfg.NATS.Enabled {
		np, perr := service.NewNatsPublisher(cfg.NATS.URL, logger)
		if perr != nil {
			logger.Error("nats connection failed", "err", perr)
			os.Exit(1)
		}
		defer np.Close()
		publisher = np
		logger.Info("nats connected", "url", cfg.NATS.URL)
	} else {
		publisher = service.NoopPublisher{}
		logger.Info("nats disabled, settlement events dropped")
	}

	// ── 6. Repositories ───────────────────────────────────────────────────────
	auctionRepo := repository.NewAuctionRepository(db)
	bidRepo := repository.NewBidRepository(db)

	// ── 7. Services ───────────────────────────────────────────────────────────
	queueSvc := service.NewBidQueueService(store, auctionRepo, cfg, logger)
	applySvc := service.NewBidApplyService(db, auctionRepo, bidRepo, store, deadlines, cfg, logger, publisher)
	directSvc := service.NewBidDirectService(db, auctionRepo, bidRepo, store, deadlines, cfg, logger, publisher)
	finalizeSvc := service.NewFinalizeService(db, auctionRepo, bidRepo, store, deadlines, cfg, logger, publisher)
	commandSvc := service.NewAuctionCommandService(db, auctionRepo, bidRepo, store, deadlines, cfg, logger, publisher)
	querySvc := service.NewAuctionQueryService(auctionRepo, bidRepo, store, logger)

	consumer := service.NewBidConsumer(queues, applySvc, cfg, logger)

	// ── 8. WebSocket Hub ──────────────────────────────────────────────────────
	jwtSecret := []byte(cfg.Auth.JWTSecret)
	var allowedOrigins []string
	if ori := os.Getenv("WS_ALLOWED_ORIGINS"); ori != "" {
		for _, o := range strings.Split(ori, ",") {
			allowedOrigins = append(allowedOrigins, strings.TrimSpace(o))
		}
	}
	hub := ws.NewHub(jwtSecret, allowedOrigins)

	// Wire WS broadcaster into every service with post-commit effects
	applySvc.SetBroadcaster(hub)
	directSvc.SetBroadcaster(hub)
	finalizeSvc.SetBroadcaster(hub)
	commandSvc.SetBroadcaster(hub)

	// ── 9. Root context + signal handling ─────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── 10. Start WS Hub ──────────────────────────────────────────────────────
	go hub.Run()
	logger.Info("websocket hub started")

	// ── 11. Scheduler ─────────────────────────────────────────────────────────
	sched := scheduler.NewScheduler(consumer, finalizeSvc, auctionRepo, store, deadlines, cfg, logger)
	sched.Start(ctx)

	// ── 12. HTTP Router ───────────────────────────────────────────────────────
	router := api.SetupRouter(api.RouterDeps{
		BidQueueSvc:  queueSvc,
		BidDirectSvc: directSvc,
		CommandSvc:   commandSvc,
		QuerySvc:     querySvc,
		Hub:          hub,
		Cfg:          cfg,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// ── 13. Start server ──────────────────────────────────────────────────────
	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
			stop() // trigger graceful shutdown
		}
	}()

	// ── 14. Graceful shutdown ─────────────────────────────────────────────────
	<-ctx.Done()
	logger.Info("shutdown signal received, draining connections…")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err = srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "err", err)
	}

	db.Close()
	_ = rdb.Close()
	logger.Info("server stopped cleanly")
}

// runMigrations reads all *.sql files from dir, sorted by name, and executes
// them sequentially.  Idempotent: SQL files should use IF NOT EXISTS / ON CONFLICT.
func runMigrations(db *sqlx.DB, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("runMigrations: read dir %q: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("runMigrations: read %q: %w", f, err)
		}
		if _, err = db.Exec(string(data)); err != nil {
			return fmt.Errorf("runMigrations: exec %q: %w", f, err)
		}
		slog.Info("migration applied", "file", filepath.Base(f))
	}
	return nil
}
