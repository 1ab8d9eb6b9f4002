// Package scheduler manages the background goroutines that run the auction
// engine:
//  1. consumerLoop  – drains per-auction bid queues on a short interval.
//  2. deadlineLoop  – finalizes auctions whose end time has passed.
//  3. reconcileLoop – repairs the deadline index from the DB periodically.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/cardhaus/auction/internal/cache"
	"github.com/cardhaus/auction/internal/config"
	"github.com/cardhaus/auction/internal/domain"
	"github.com/cardhaus/auction/internal/repository"
	"github.com/cardhaus/auction/internal/service"
)

// Scheduler wires together the services and runs the engine's background
// loops. Call Start(ctx) once from main(); cancel the context to shut it
// down gracefully.
type Scheduler struct {
	consumer    *service.BidConsumer
	finalizeSvc *service.FinalizeService
	auctionRepo *repository.AuctionRepository
	store       *cache.Store
	deadlines   *cache.Deadlines
	cfg         *config.Config
	logger      *slog.Logger
}

// NewScheduler creates a Scheduler.
func NewScheduler(
	consumer *service.BidConsumer,
	finalizeSvc *service.FinalizeService,
	auctionRepo *repository.AuctionRepository,
	store *cache.Store,
	deadlines *cache.Deadlines,
	cfg *config.Config,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		consumer:    consumer,
		finalizeSvc: finalizeSvc,
		auctionRepo: auctionRepo,
		store:       store,
		deadlines:   deadlines,
		cfg:         cfg,
		logger:      logger,
	}
}

// Start warms the cache and deadline index from the DB, then launches the
// background goroutines. It returns once the warmers finish; all loops run
// until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.warmCaches(ctx)

	go s.consumerLoop(ctx)
	go s.deadlineLoop(ctx)
	go s.reconcileLoop(ctx)
	s.logger.Info("scheduler started")
}

// ──────────────────────────────────────────────────────────────────────────────
// Startup warmers
// ──────────────────────────────────────────────────────────────────────────────

// warmCaches loads every open auction's snapshot and (via the reconciler)
// its deadline index entry. Run before the loops so the first ticks see a
// populated cache.
func (s *Scheduler) warmCaches(ctx context.Context) {
	open, err := s.auctionRepo.FindAllOpen(ctx)
	if err != nil {
		s.logger.Error("cache warm: load open auctions failed", "err", err)
	} else {
		warmed := 0
		for _, a := range open {
			if err := s.store.EnsureLoaded(ctx, domain.SnapshotOf(a)); err != nil {
				s.logger.Warn("cache warm: snapshot load failed", "auction_id", a.ID, "err", err)
				continue
			}
			warmed++
		}
		s.logger.Info("cache warmed", "open_auctions", len(open), "warmed", warmed)
	}

	if err := s.finalizeSvc.ReconcileDeadlines(ctx, time.Now().UTC()); err != nil {
		s.logger.Error("cache warm: deadline reconcile failed", "err", err)
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// consumerLoop
// ──────────────────────────────────────────────────────────────────────────────

// consumerLoop runs one full queue sweep per tick. A sweep drains every
// auction's retry backlog (bounded) and main queue (to empty), so a single
// long queue cannot starve its tick neighbours for more than one sweep.
func (s *Scheduler) consumerLoop(ctx context.Context) {
	defer s.recoverAndLog("consumerLoop")

	ticker := time.NewTicker(s.cfg.Consumer.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("consumerLoop: shutting down")
			return
		case <-ticker.C:
			s.consumer.Tick(ctx)
		}
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// deadlineLoop
// ──────────────────────────────────────────────────────────────────────────────

// deadlineLoop checks the deadline index every tick and finalizes due
// auctions in batches.
func (s *Scheduler) deadlineLoop(ctx context.Context) {
	defer s.recoverAndLog("deadlineLoop")

	ticker := time.NewTicker(s.cfg.Deadline.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("deadlineLoop: shutting down")
			return
		case <-ticker.C:
			if n := s.finalizeSvc.FinalizeDue(ctx, time.Now().UTC()); n > 0 {
				s.logger.Info("deadline sweep closed auctions", "count", n)
			}
		}
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// reconcileLoop
// ──────────────────────────────────────────────────────────────────────────────

// reconcileLoop periodically rebuilds deadline index entries from the DB so
// a lost entry delays finalization by at most one reconcile interval.
func (s *Scheduler) reconcileLoop(ctx context.Context) {
	defer s.recoverAndLog("reconcileLoop")

	ticker := time.NewTicker(s.cfg.Deadline.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("reconcileLoop: shutting down")
			return
		case <-ticker.C:
			if err := s.finalizeSvc.ReconcileDeadlines(ctx, time.Now().UTC()); err != nil {
				s.logger.Error("reconcileLoop: reconcile failed", "err", err)
			}
		}
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Panic recovery
// ──────────────────────────────────────────────────────────────────────────────

// recoverAndLog is deferred inside each goroutine to catch unexpected panics,
// log them, and allow the process to continue running.
func (s *Scheduler) recoverAndLog(loop string) {
	if r := recover(); r != nil {
		s.logger.Error("PANIC recovered in scheduler loop",
			"loop", loop, "panic", r)
	}
}
